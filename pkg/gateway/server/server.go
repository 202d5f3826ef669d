// SPDX-FileCopyrightText: Copyright 2025 Relaygate Authors
// SPDX-License-Identifier: Apache-2.0

// Package server wires the gateway's HTTP surface: client registration,
// authorization, consent, the upstream callback, token exchange, and
// discovery metadata.
package server

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/relaygate/relaygate/pkg/gateway"
	"github.com/relaygate/relaygate/pkg/gateway/consent"
	"github.com/relaygate/relaygate/pkg/gateway/registry"
	"github.com/relaygate/relaygate/pkg/gateway/statecodec"
	"github.com/relaygate/relaygate/pkg/gateway/storage"
	"github.com/relaygate/relaygate/pkg/gateway/upstream"
	"github.com/relaygate/relaygate/pkg/oauth"
)

// requestTimeout bounds every request handled by the router, including the
// upstream exchange performed inside the token endpoint.
const requestTimeout = 30 * time.Second

// Handler holds the gateway's endpoint implementations and their shared
// dependencies.
type Handler struct {
	cfg      *gateway.Config
	codec    *statecodec.Codec
	store    storage.Storage
	registry *registry.Service
	consent  *consent.Service
	provider upstream.Provider
	now      func() time.Time
}

// HandlerOption configures a Handler.
type HandlerOption func(*Handler)

// WithClock overrides the clock. Tests only.
func WithClock(now func() time.Time) HandlerOption {
	return func(h *Handler) {
		h.now = now
	}
}

// New creates the gateway handler set. The config must already be validated.
func New(cfg *gateway.Config, store storage.Storage, provider upstream.Provider, opts ...HandlerOption) (*Handler, error) {
	codec, err := statecodec.New(cfg.StateKey, statecodec.WithTTL(cfg.StateLifetime()))
	if err != nil {
		return nil, fmt.Errorf("failed to create state codec: %w", err)
	}

	h := &Handler{
		cfg:      cfg,
		codec:    codec,
		store:    store,
		registry: registry.NewService(store),
		consent:  consent.NewService(store, cfg.ConsentLifetime()),
		provider: provider,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h, nil
}

// Routes builds the gateway's router.
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(requestTimeout))

	r.Post("/register", h.RegisterHandler)
	r.Options("/register", h.PreflightHandler)

	r.Get("/authorize", h.AuthorizeHandler)
	r.Get("/consent", h.ConsentFormHandler)
	r.Post("/consent", h.ConsentDecisionHandler)
	r.Get("/oauth-callback", h.CallbackHandler)
	r.Post("/token", h.TokenHandler)

	r.Get(oauth.WellKnownOAuthServerPath, h.DiscoveryHandler)
	r.Options(oauth.WellKnownOAuthServerPath, h.PreflightHandler)

	return r
}

// randomToken returns a 256-bit URL-safe random string, used for
// authorization codes and consent principals.
func randomToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate random token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
