// SPDX-FileCopyrightText: Copyright 2025 Relaygate Authors
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/oauth2"

	"github.com/relaygate/relaygate/pkg/gateway"
	"github.com/relaygate/relaygate/pkg/gateway/consent"
	"github.com/relaygate/relaygate/pkg/gateway/storage"
	"github.com/relaygate/relaygate/pkg/logger"
	"github.com/relaygate/relaygate/pkg/oauth"
)

// TokenHandler handles POST /token requests for the authorization_code and
// refresh_token grants. Tokens are relayed from the upstream provider; the
// gateway never mints its own.
func (h *Handler) TokenHandler(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeOAuthError(w, r, http.StatusBadRequest,
			oauth.NewError(oauth.ErrorCodeInvalidRequest, "malformed form body"))
		return
	}

	switch r.PostForm.Get("grant_type") {
	case oauth.GrantTypeAuthorizationCode:
		h.handleCodeGrant(w, r.PostForm, r)
	case oauth.GrantTypeRefreshToken:
		h.handleRefreshGrant(w, r.PostForm, r)
	case "":
		writeOAuthError(w, r, http.StatusBadRequest,
			oauth.NewError(oauth.ErrorCodeInvalidRequest, "grant_type is required"))
	default:
		writeOAuthError(w, r, http.StatusBadRequest,
			oauth.NewError(oauth.ErrorCodeUnsupportedGrantType,
				"only authorization_code and refresh_token are supported"))
	}
}

func (h *Handler) handleCodeGrant(w http.ResponseWriter, form url.Values, r *http.Request) {
	ctx := r.Context()

	code := form.Get("code")
	verifier := form.Get("code_verifier")
	if code == "" || verifier == "" {
		writeOAuthError(w, r, http.StatusBadRequest,
			oauth.NewError(oauth.ErrorCodeInvalidRequest, "code and code_verifier are required"))
		return
	}

	// Single use: consumption invalidates the code before any further check,
	// so a failed request burns the code rather than leaving it retryable.
	pending, err := h.store.ConsumePendingCode(ctx, code, h.now())
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			logger.Errorw("failed to consume authorization code",
				logger.RequestFields(ctx, "error", err)...)
			writeOAuthError(w, r, http.StatusServiceUnavailable,
				oauth.NewError(oauth.ErrorCodeTemporarilyUnavailable, "storage unavailable"))
			return
		}
		writeOAuthError(w, r, http.StatusBadRequest,
			oauth.NewError(oauth.ErrorCodeInvalidGrant,
				"authorization code is invalid, expired, or already used"))
		return
	}

	if form.Get("client_id") != pending.ClientID {
		writeOAuthError(w, r, http.StatusBadRequest,
			oauth.NewError(oauth.ErrorCodeInvalidGrant, "code was issued to a different client"))
		return
	}
	if form.Get("redirect_uri") != pending.RedirectURI {
		writeOAuthError(w, r, http.StatusBadRequest,
			oauth.NewError(oauth.ErrorCodeInvalidGrant, "redirect_uri does not match the authorization request"))
		return
	}

	challenge := oauth2.S256ChallengeFromVerifier(verifier)
	if subtle.ConstantTimeCompare([]byte(challenge), []byte(pending.CodeChallenge)) != 1 {
		writeOAuthError(w, r, http.StatusBadRequest,
			oauth.NewError(oauth.ErrorCodeInvalidGrant, "code_verifier does not match the challenge"))
		return
	}

	tokens := pending.Tokens
	if h.cfg.Mode() == gateway.ExchangeModeLazy {
		tokens, err = h.provider.ExchangeCode(ctx, pending.UpstreamCode, pending.UpstreamVerifier)
		if err != nil {
			h.writeUpstreamError(w, r, err)
			return
		}
	} else {
		tokens = h.remainingLifetime(tokens, pending.TokensExpireAt)
	}
	if tokens == nil {
		logger.Errorw("pending code carried no tokens",
			logger.RequestFields(ctx, "client_id", pending.ClientID)...)
		writeOAuthError(w, r, http.StatusInternalServerError,
			oauth.NewError(oauth.ErrorCodeServerError, "no tokens available for this code"))
		return
	}

	logger.Infow("completed token exchange",
		logger.RequestFields(ctx, "client_id", pending.ClientID)...)
	writeTokens(w, r, tokens)
}

// remainingLifetime adjusts expires_in for tokens obtained at callback time,
// so the client sees the lifetime left now rather than the lifetime reported
// during the exchange.
func (h *Handler) remainingLifetime(tokens *storage.UpstreamTokens, expireAt time.Time) *storage.UpstreamTokens {
	if tokens == nil || tokens.ExpiresIn <= 0 || expireAt.IsZero() {
		return tokens
	}
	cp := *tokens
	cp.ExpiresIn = int64(expireAt.Sub(h.now()) / time.Second)
	if cp.ExpiresIn < 0 {
		cp.ExpiresIn = 0
	}
	return &cp
}

func (h *Handler) handleRefreshGrant(w http.ResponseWriter, form url.Values, r *http.Request) {
	refreshToken := form.Get("refresh_token")
	if refreshToken == "" {
		writeOAuthError(w, r, http.StatusBadRequest,
			oauth.NewError(oauth.ErrorCodeInvalidRequest, "refresh_token is required"))
		return
	}

	tokens, err := h.provider.RefreshTokens(r.Context(), refreshToken,
		consent.SplitScopes(form.Get("scope")))
	if err != nil {
		h.writeUpstreamError(w, r, err)
		return
	}

	writeTokens(w, r, tokens)
}

// writeUpstreamError maps upstream exchange failures onto the token
// endpoint's responses: OAuth errors relay with 400, transport failures
// surface as temporarily_unavailable.
func (*Handler) writeUpstreamError(w http.ResponseWriter, r *http.Request, err error) {
	logger.Errorw("upstream token request failed",
		logger.RequestFields(r.Context(), "error", err)...)

	var oauthErr *oauth.Error
	if errors.As(err, &oauthErr) {
		status := http.StatusBadRequest
		if oauthErr.Code == oauth.ErrorCodeTemporarilyUnavailable {
			status = http.StatusServiceUnavailable
		}
		writeOAuthError(w, r, status, oauthErr)
		return
	}

	writeOAuthError(w, r, http.StatusServiceUnavailable,
		oauth.NewError(oauth.ErrorCodeTemporarilyUnavailable, "upstream provider is unreachable"))
}

// writeTokens writes a successful token response per RFC 6749 Section 5.1.
func writeTokens(w http.ResponseWriter, r *http.Request, tokens *storage.UpstreamTokens) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Pragma", "no-cache")
	if err := json.NewEncoder(w).Encode(tokens); err != nil {
		logger.Errorw("failed to encode token response",
			logger.RequestFields(r.Context(), "error", err)...)
	}
}
