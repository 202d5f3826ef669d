// SPDX-FileCopyrightText: Copyright 2025 Relaygate Authors
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/relaygate/relaygate/pkg/gateway/consent"
	"github.com/relaygate/relaygate/pkg/gateway/statecodec"
	"github.com/relaygate/relaygate/pkg/gateway/storage"
	"github.com/relaygate/relaygate/pkg/gateway/upstream"
	"github.com/relaygate/relaygate/pkg/logger"
	"github.com/relaygate/relaygate/pkg/oauth"
)

// principalCookieName identifies the browser principal consent decisions are
// keyed by. There is no login at the gateway; the cookie is the identity.
const principalCookieName = "relaygate_principal"

// AuthorizeHandler handles GET /authorize requests.
// It validates the client's request, routes first-time clients through the
// consent form, and redirects approved requests to the upstream provider
// with an encrypted state blob carrying the request across the round trip.
func (h *Handler) AuthorizeHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	query := r.URL.Query()

	clientID := query.Get("client_id")
	redirectURI := query.Get("redirect_uri")

	// Until the redirect URI is proven to belong to the client, errors must
	// render in place. Redirecting to an unvalidated URI is an open redirect.
	client, err := h.registry.Describe(ctx, clientID)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			logger.Errorw("client lookup failed",
				logger.RequestFields(ctx, "error", err, "client_id", clientID)...)
		}
		writeErrorPage(w, http.StatusBadRequest, "Unknown client.")
		return
	}
	if err := oauth.MatchRedirectURI(redirectURI, client.RedirectURIs); err != nil {
		writeErrorPage(w, http.StatusBadRequest, "Invalid redirect URI.")
		return
	}

	clientState := query.Get("state")

	if query.Get("response_type") != oauth.ResponseTypeCode {
		redirectWithError(w, r, redirectURI, oauth.ErrorCodeUnsupportedResponseType,
			"only the authorization code response type is supported", clientState)
		return
	}

	codeChallenge := query.Get("code_challenge")
	if codeChallenge == "" {
		redirectWithError(w, r, redirectURI, oauth.ErrorCodeInvalidRequest,
			"code_challenge is required", clientState)
		return
	}
	if method := query.Get("code_challenge_method"); method != oauth.PKCEMethodS256 {
		redirectWithError(w, r, redirectURI, oauth.ErrorCodeInvalidRequest,
			"code_challenge_method must be S256", clientState)
		return
	}

	principal, err := h.ensurePrincipal(w, r)
	if err != nil {
		logger.Errorw("failed to establish consent principal",
			logger.RequestFields(ctx, "error", err)...)
		redirectWithError(w, r, redirectURI, oauth.ErrorCodeServerError, "", clientState)
		return
	}

	authReq := &statecodec.AuthorizationRequest{
		ResponseType:        oauth.ResponseTypeCode,
		ClientID:            clientID,
		RedirectURI:         redirectURI,
		Scope:               query.Get("scope"),
		State:               clientState,
		CodeChallenge:       codeChallenge,
		CodeChallengeMethod: oauth.PKCEMethodS256,
		Resource:            query.Get("resource"),
		Principal:           principal,
	}

	requestedScopes := consent.SplitScopes(authReq.Scope)
	if !h.consent.HasValidConsent(ctx, principal, clientID, requestedScopes) {
		h.redirectToConsent(w, r, authReq)
		return
	}

	h.redirectUpstream(w, r, authReq)
}

// redirectToConsent sends the browser to the consent form, carrying the full
// request in an encrypted blob so no server-side session is needed.
func (h *Handler) redirectToConsent(w http.ResponseWriter, r *http.Request, authReq *statecodec.AuthorizationRequest) {
	blob, err := h.codec.Encode(authReq)
	if err != nil {
		logger.Errorw("failed to encode consent request",
			logger.RequestFields(r.Context(), "error", err)...)
		redirectWithError(w, r, authReq.RedirectURI, oauth.ErrorCodeServerError, "", authReq.State)
		return
	}

	target := url.URL{
		Path:     "/consent",
		RawQuery: url.Values{"request": {blob}}.Encode(),
	}
	http.Redirect(w, r, target.String(), http.StatusFound)
}

// redirectUpstream generates the gateway's PKCE verifier for the upstream
// leg, seals the request into the state parameter, and redirects the browser
// to the upstream authorization endpoint.
func (h *Handler) redirectUpstream(w http.ResponseWriter, r *http.Request, authReq *statecodec.AuthorizationRequest) {
	verifier := upstream.NewVerifier()
	authReq.UpstreamVerifier = verifier

	state, err := h.codec.Encode(authReq)
	if err != nil {
		logger.Errorw("failed to encode upstream state",
			logger.RequestFields(r.Context(), "error", err)...)
		redirectWithError(w, r, authReq.RedirectURI, oauth.ErrorCodeServerError, "", authReq.State)
		return
	}

	logger.Debugw("redirecting to upstream provider",
		logger.RequestFields(r.Context(),
			"client_id", authReq.ClientID,
			"scope", authReq.Scope,
		)...)
	http.Redirect(w, r, h.provider.AuthorizationURL(state, verifier), http.StatusFound)
}

// ensurePrincipal returns the browser's consent principal, minting and
// setting the cookie on first contact.
func (h *Handler) ensurePrincipal(w http.ResponseWriter, r *http.Request) (string, error) {
	if cookie, err := r.Cookie(principalCookieName); err == nil && cookie.Value != "" {
		return cookie.Value, nil
	}

	principal, err := randomToken()
	if err != nil {
		return "", err
	}

	http.SetCookie(w, &http.Cookie{
		Name:     principalCookieName,
		Value:    principal,
		Path:     "/",
		MaxAge:   int(h.cfg.ConsentLifetime().Seconds()),
		HttpOnly: true,
		Secure:   strings.HasPrefix(h.cfg.BaseURL, "https://"),
		SameSite: http.SameSiteLaxMode,
	})
	return principal, nil
}
