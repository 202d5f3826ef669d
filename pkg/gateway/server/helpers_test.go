// SPDX-FileCopyrightText: Copyright 2025 Relaygate Authors
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/relaygate/relaygate/pkg/gateway"
	"github.com/relaygate/relaygate/pkg/gateway/storage"
)

const (
	testClientRedirectURI = "https://client.example.com/callback"
	testUpstreamAuthURL   = "https://idp.example.com/tenant/authorize"
)

// fakeProvider is a scripted upstream.Provider for handler tests.
type fakeProvider struct {
	mu sync.Mutex

	tokens      *storage.UpstreamTokens
	exchangeErr error
	refreshErr  error

	exchangeCalls        int
	lastExchangeCode     string
	lastExchangeVerifier string
	lastRefreshToken     string
	lastRefreshScopes    []string
}

func (f *fakeProvider) AuthorizationURL(state, _ string) string {
	return testUpstreamAuthURL + "?" + url.Values{"state": {state}}.Encode()
}

func (f *fakeProvider) ExchangeCode(_ context.Context, code, verifier string) (*storage.UpstreamTokens, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.exchangeCalls++
	f.lastExchangeCode = code
	f.lastExchangeVerifier = verifier
	if f.exchangeErr != nil {
		return nil, f.exchangeErr
	}
	return f.tokens, nil
}

func (f *fakeProvider) RefreshTokens(_ context.Context, refreshToken string, scopes []string) (*storage.UpstreamTokens, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastRefreshToken = refreshToken
	f.lastRefreshScopes = scopes
	if f.refreshErr != nil {
		return nil, f.refreshErr
	}
	return f.tokens, nil
}

type testEnv struct {
	handler  *Handler
	router   http.Handler
	store    storage.Storage
	provider *fakeProvider
	cfg      *gateway.Config
}

func newTestEnv(t *testing.T, mode gateway.ExchangeMode, opts ...HandlerOption) *testEnv {
	t.Helper()

	cfg := &gateway.Config{
		BaseURL:          "https://gateway.example.com",
		StateKey:         bytes.Repeat([]byte{0x42}, gateway.StateKeyLength),
		ExchangeMode:     mode,
		UpstreamIssuer:   "https://idp.example.com/tenant",
		UpstreamClientID: "enterprise-app-id",
		UpstreamScopes:   []string{"openid", "offline_access"},
	}
	require.NoError(t, cfg.Validate())

	store := storage.NewMemoryStorage()
	provider := &fakeProvider{
		tokens: &storage.UpstreamTokens{
			AccessToken:  "upstream-access",
			RefreshToken: "upstream-refresh",
			IDToken:      "upstream-id",
			TokenType:    "Bearer",
			ExpiresIn:    3600,
			Scope:        "openid offline_access",
		},
	}

	handler, err := New(cfg, store, provider, opts...)
	require.NoError(t, err)

	return &testEnv{
		handler:  handler,
		router:   handler.Routes(),
		store:    store,
		provider: provider,
		cfg:      cfg,
	}
}

// registerTestClient seeds a client registration directly in storage.
func (e *testEnv) registerTestClient(t *testing.T) *storage.ClientRegistration {
	t.Helper()
	client := &storage.ClientRegistration{
		ClientID:                "client-under-test",
		ClientName:              "Test Application",
		RedirectURIs:            []string{testClientRedirectURI},
		TokenEndpointAuthMethod: "none",
		CreatedAt:               time.Now(),
	}
	require.NoError(t, e.store.CreateClient(context.Background(), client))
	return client
}

// get issues a GET through the router and returns the recorder.
func (e *testEnv) get(target string, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, target, nil)
	for _, c := range cookies {
		req.AddCookie(c)
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

// postForm issues a form POST through the router.
func (e *testEnv) postForm(target string, form url.Values, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, target, bytes.NewBufferString(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	for _, c := range cookies {
		req.AddCookie(c)
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

// locationURL parses the redirect target of a response.
func locationURL(t *testing.T, rec *httptest.ResponseRecorder) *url.URL {
	t.Helper()
	require.Equal(t, http.StatusFound, rec.Code, "expected a redirect, body: %s", rec.Body.String())
	loc, err := url.Parse(rec.Header().Get("Location"))
	require.NoError(t, err)
	return loc
}

// principalCookie extracts the consent principal cookie set by a response.
func principalCookie(t *testing.T, rec *httptest.ResponseRecorder) *http.Cookie {
	t.Helper()
	for _, c := range rec.Result().Cookies() {
		if c.Name == principalCookieName {
			return c
		}
	}
	t.Fatal("no principal cookie was set")
	return nil
}
