// SPDX-FileCopyrightText: Copyright 2025 Relaygate Authors
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"encoding/json"
	"net/http"

	"github.com/relaygate/relaygate/pkg/logger"
	"github.com/relaygate/relaygate/pkg/oauth"
)

// DiscoveryHandler handles GET /.well-known/oauth-authorization-server
// requests per RFC 8414. All endpoint URLs point at the gateway itself; the
// upstream provider is not visible in the document.
func (h *Handler) DiscoveryHandler(w http.ResponseWriter, r *http.Request) {
	issuer := h.cfg.Issuer()
	metadata := oauth.AuthorizationServerMetadata{
		Issuer:                issuer,
		AuthorizationEndpoint: issuer + "/authorize",
		TokenEndpoint:         issuer + "/token",
		RegistrationEndpoint:  issuer + "/register",
		ResponseTypesSupported: []string{
			oauth.ResponseTypeCode,
		},
		GrantTypesSupported: []string{
			oauth.GrantTypeAuthorizationCode,
			oauth.GrantTypeRefreshToken,
		},
		CodeChallengeMethodsSupported: []string{
			oauth.PKCEMethodS256,
		},
		TokenEndpointAuthMethodsSupported: []string{
			oauth.TokenEndpointAuthMethodNone,
		},
		ScopesSupported: h.cfg.UpstreamScopes,
	}

	setCORSHeaders(w, r)
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "public, max-age=3600")
	if err := json.NewEncoder(w).Encode(metadata); err != nil {
		logger.Errorw("failed to encode discovery metadata",
			logger.RequestFields(r.Context(), "error", err)...)
	}
}

// PreflightHandler answers CORS preflight requests on the endpoints that
// browser-based clients call directly.
func (h *Handler) PreflightHandler(w http.ResponseWriter, r *http.Request) {
	setCORSHeaders(w, r)
	w.WriteHeader(http.StatusNoContent)
}

// setCORSHeaders allows cross-origin access to discovery and registration.
// Both endpoints are public, so the origin is echoed back.
func setCORSHeaders(w http.ResponseWriter, r *http.Request) {
	origin := r.Header.Get("Origin")
	if origin == "" {
		origin = "*"
	}
	w.Header().Set("Access-Control-Allow-Origin", origin)
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
	w.Header().Set("Access-Control-Max-Age", "86400") // 24 hours
}
