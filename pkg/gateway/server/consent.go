// SPDX-FileCopyrightText: Copyright 2025 Relaygate Authors
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"net/http"

	"github.com/relaygate/relaygate/pkg/gateway/consent"
	"github.com/relaygate/relaygate/pkg/gateway/statecodec"
	"github.com/relaygate/relaygate/pkg/logger"
	"github.com/relaygate/relaygate/pkg/oauth"
)

// ConsentFormHandler handles GET /consent requests.
// The pending authorization request arrives as an encrypted blob in the
// request parameter and is echoed back through the form unchanged.
func (h *Handler) ConsentFormHandler(w http.ResponseWriter, r *http.Request) {
	blob := r.URL.Query().Get("request")
	authReq, ok := h.decodePendingRequest(w, r, blob)
	if !ok {
		return
	}

	clientName := authReq.ClientID
	if client, err := h.registry.Describe(r.Context(), authReq.ClientID); err == nil && client.ClientName != "" {
		clientName = client.ClientName
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	err := consent.RenderForm(w, &consent.FormData{
		ClientName: clientName,
		Scopes:     consent.SplitScopes(authReq.Scope),
		Request:    blob,
	})
	if err != nil {
		logger.Errorw("failed to render consent form",
			logger.RequestFields(r.Context(), "error", err)...)
	}
}

// ConsentDecisionHandler handles POST /consent requests.
// Approval records the decision and continues the flow upstream; denial
// records the decision and returns access_denied to the client.
func (h *Handler) ConsentDecisionHandler(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeErrorPage(w, http.StatusBadRequest, "The consent form could not be read.")
		return
	}

	authReq, ok := h.decodePendingRequest(w, r, r.PostForm.Get("request"))
	if !ok {
		return
	}

	// The decision must come from the browser the request was issued to.
	cookie, err := r.Cookie(principalCookieName)
	if err != nil || cookie.Value != authReq.Principal {
		writeErrorPage(w, http.StatusBadRequest, "The consent request does not belong to this browser.")
		return
	}

	approved := r.PostForm.Get("decision") == "approve"
	requested := consent.SplitScopes(authReq.Scope)
	granted := requested
	if !approved {
		granted = nil
	}

	if _, err := h.consent.Record(r.Context(), authReq.Principal, authReq.ClientID, requested, granted, approved); err != nil {
		logger.Errorw("failed to record consent decision",
			logger.RequestFields(r.Context(), "error", err)...)
		redirectWithError(w, r, authReq.RedirectURI, oauth.ErrorCodeServerError, "", authReq.State)
		return
	}

	if !approved {
		redirectWithError(w, r, authReq.RedirectURI, oauth.ErrorCodeAccessDenied,
			"the user denied the authorization request", authReq.State)
		return
	}

	h.redirectUpstream(w, r, authReq)
}

// decodePendingRequest decodes a consent-hop blob, rendering a generic error
// page on any failure. The false return means a response was already written.
func (h *Handler) decodePendingRequest(w http.ResponseWriter, r *http.Request, blob string) (*statecodec.AuthorizationRequest, bool) {
	if blob == "" {
		writeErrorPage(w, http.StatusBadRequest, "Missing consent request.")
		return nil, false
	}
	authReq, err := h.codec.Decode(blob)
	if err != nil {
		logger.Warnw("rejected consent request blob",
			logger.RequestFields(r.Context(), "error", err)...)
		writeErrorPage(w, http.StatusBadRequest, "The consent request is invalid or has expired.")
		return nil, false
	}
	return authReq, true
}
