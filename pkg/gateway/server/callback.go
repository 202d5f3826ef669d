// SPDX-FileCopyrightText: Copyright 2025 Relaygate Authors
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"errors"
	"net/http"
	"net/url"
	"time"

	"github.com/relaygate/relaygate/pkg/gateway"
	"github.com/relaygate/relaygate/pkg/gateway/storage"
	"github.com/relaygate/relaygate/pkg/logger"
	"github.com/relaygate/relaygate/pkg/oauth"
)

// CallbackHandler handles GET /oauth-callback requests from the upstream
// provider. The state parameter is the gateway's own encrypted blob; once it
// decodes, the embedded client redirect URI is trustworthy and errors can be
// relayed there. A state that does not decode gets a generic error page
// revealing nothing.
func (h *Handler) CallbackHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	query := r.URL.Query()

	authReq, err := h.codec.Decode(query.Get("state"))
	if err != nil {
		logger.Warnw("rejected upstream callback state",
			logger.RequestFields(ctx, "error", err)...)
		writeErrorPage(w, http.StatusBadRequest, "The authorization response is invalid or has expired.")
		return
	}

	// Upstream denial or failure is relayed to the client verbatim.
	if upstreamErr := query.Get("error"); upstreamErr != "" {
		logger.Infow("upstream provider returned error",
			logger.RequestFields(ctx,
				"error", upstreamErr,
				"client_id", authReq.ClientID,
			)...)
		redirectWithError(w, r, authReq.RedirectURI, upstreamErr,
			query.Get("error_description"), authReq.State)
		return
	}

	upstreamCode := query.Get("code")
	if upstreamCode == "" {
		redirectWithError(w, r, authReq.RedirectURI, oauth.ErrorCodeServerError,
			"upstream provider returned no authorization code", authReq.State)
		return
	}

	code, err := randomToken()
	if err != nil {
		logger.Errorw("failed to mint authorization code",
			logger.RequestFields(ctx, "error", err)...)
		redirectWithError(w, r, authReq.RedirectURI, oauth.ErrorCodeServerError, "", authReq.State)
		return
	}

	now := h.now()
	pending := &storage.PendingCode{
		Code:          code,
		ClientID:      authReq.ClientID,
		RedirectURI:   authReq.RedirectURI,
		CodeChallenge: authReq.CodeChallenge,
		CreatedAt:     now,
		ExpiresAt:     now.Add(h.cfg.CodeLifetime()),
	}

	if h.cfg.Mode() == gateway.ExchangeModeEager {
		tokens, err := h.provider.ExchangeCode(ctx, upstreamCode, authReq.UpstreamVerifier)
		if err != nil {
			h.relayExchangeError(w, r, authReq.RedirectURI, authReq.State, err)
			return
		}
		pending.Tokens = tokens
		if tokens.ExpiresIn > 0 {
			pending.TokensExpireAt = now.Add(time.Duration(tokens.ExpiresIn) * time.Second)
		}
	} else {
		pending.UpstreamCode = upstreamCode
		pending.UpstreamVerifier = authReq.UpstreamVerifier
	}

	if err := h.store.PutPendingCode(ctx, pending); err != nil {
		logger.Errorw("failed to store pending code",
			logger.RequestFields(ctx, "error", err)...)
		redirectWithError(w, r, authReq.RedirectURI, oauth.ErrorCodeServerError, "", authReq.State)
		return
	}

	target, err := url.Parse(authReq.RedirectURI)
	if err != nil {
		writeErrorPage(w, http.StatusBadRequest, "The request could not be completed.")
		return
	}
	params := target.Query()
	params.Set("code", code)
	if authReq.State != "" {
		params.Set("state", authReq.State)
	}
	target.RawQuery = params.Encode()

	logger.Debugw("minted authorization code",
		logger.RequestFields(ctx, "client_id", authReq.ClientID)...)
	http.Redirect(w, r, target.String(), http.StatusFound)
}

// relayExchangeError maps an upstream exchange failure onto the client
// redirect: OAuth errors pass through, everything else collapses to
// server_error.
func (h *Handler) relayExchangeError(w http.ResponseWriter, r *http.Request, redirectURI, state string, err error) {
	logger.Errorw("upstream code exchange failed",
		logger.RequestFields(r.Context(), "error", err)...)

	var oauthErr *oauth.Error
	if errors.As(err, &oauthErr) {
		redirectWithError(w, r, redirectURI, oauthErr.Code, oauthErr.Description, state)
		return
	}
	redirectWithError(w, r, redirectURI, oauth.ErrorCodeServerError,
		"upstream token exchange failed", state)
}
