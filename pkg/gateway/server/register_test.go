// SPDX-FileCopyrightText: Copyright 2025 Relaygate Authors
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaygate/relaygate/pkg/gateway"
	"github.com/relaygate/relaygate/pkg/gateway/registry"
)

func postJSON(t *testing.T, router http.Handler, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, target, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestRegisterClient(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, gateway.ExchangeModeLazy)

	rec := postJSON(t, env.router, "/register", `{
		"client_name": "My App",
		"redirect_uris": ["https://app.example.com/callback", "http://127.0.0.1:8123/cb"]
	}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var resp registry.DCRResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.ClientID)
	assert.Equal(t, "My App", resp.ClientName)
	assert.Equal(t, []string{"https://app.example.com/callback", "http://127.0.0.1:8123/cb"}, resp.RedirectURIs)
	assert.Equal(t, "none", resp.TokenEndpointAuthMethod)

	// The registration must be resolvable afterwards.
	client, err := env.handler.registry.Describe(context.Background(), resp.ClientID)
	require.NoError(t, err)
	assert.Equal(t, "My App", client.ClientName)
}

func TestRegisterClientRejectsInvalidMetadata(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, gateway.ExchangeModeLazy)

	tests := []struct {
		name string
		body string
		code string
	}{
		{
			name: "missing redirect uris",
			body: `{"client_name": "App"}`,
			code: registry.DCRErrorInvalidRedirectURI,
		},
		{
			name: "plain http non-loopback redirect",
			body: `{"redirect_uris": ["http://app.example.com/cb"]}`,
			code: registry.DCRErrorInvalidRedirectURI,
		},
		{
			name: "redirect uri with fragment",
			body: `{"redirect_uris": ["https://app.example.com/cb#frag"]}`,
			code: registry.DCRErrorInvalidRedirectURI,
		},
		{
			name: "confidential auth method",
			body: `{"redirect_uris": ["https://app.example.com/cb"], "token_endpoint_auth_method": "client_secret_basic"}`,
			code: registry.DCRErrorInvalidClientMetadata,
		},
		{
			name: "malformed JSON",
			body: `{"redirect_uris": [`,
			code: registry.DCRErrorInvalidClientMetadata,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			rec := postJSON(t, env.router, "/register", tt.body)
			require.Equal(t, http.StatusBadRequest, rec.Code)

			var dcrErr registry.DCRError
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &dcrErr))
			assert.Equal(t, tt.code, dcrErr.Error)
		})
	}
}

func TestRegisterClientRejectsNonJSONContentType(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, gateway.ExchangeModeLazy)

	req := httptest.NewRequest(http.MethodPost, "/register",
		bytes.NewBufferString(`redirect_uris=https://app.example.com/cb`))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRegisterPreflight(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, gateway.ExchangeModeLazy)

	req := httptest.NewRequest(http.MethodOptions, "/register", nil)
	req.Header.Set("Origin", "https://spa.example.com")
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "https://spa.example.com", rec.Header().Get("Access-Control-Allow-Origin"))
}
