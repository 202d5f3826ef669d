// SPDX-FileCopyrightText: Copyright 2025 Relaygate Authors
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/relaygate/relaygate/pkg/gateway"
	"github.com/relaygate/relaygate/pkg/gateway/storage"
	"github.com/relaygate/relaygate/pkg/oauth"
)

const testCodeVerifier = "client-verifier-value-0123456789abcdef"

// seedPendingCode stores a lazy-mode pending code bound to the test client.
func seedPendingCode(t *testing.T, env *testEnv, code string) *storage.PendingCode {
	t.Helper()
	now := time.Now()
	pending := &storage.PendingCode{
		Code:             code,
		ClientID:         "client-under-test",
		RedirectURI:      testClientRedirectURI,
		CodeChallenge:    oauth2.S256ChallengeFromVerifier(testCodeVerifier),
		UpstreamCode:     "upstream-code-abc",
		UpstreamVerifier: "upstream-verifier-value",
		CreatedAt:        now,
		ExpiresAt:        now.Add(5 * time.Minute),
	}
	require.NoError(t, env.store.PutPendingCode(context.Background(), pending))
	return pending
}

func codeGrantForm(code string) url.Values {
	return url.Values{
		"grant_type":    {"authorization_code"},
		"code":          {code},
		"code_verifier": {testCodeVerifier},
		"client_id":     {"client-under-test"},
		"redirect_uri":  {testClientRedirectURI},
	}
}

func decodeOAuthError(t *testing.T, body []byte) *oauth.Error {
	t.Helper()
	var oauthErr oauth.Error
	require.NoError(t, json.Unmarshal(body, &oauthErr))
	return &oauthErr
}

func TestTokenCodeGrantLazyMode(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, gateway.ExchangeModeLazy)
	seedPendingCode(t, env, "code-1")

	rec := env.postForm("/token", codeGrantForm("code-1"))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))

	var tokens storage.UpstreamTokens
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &tokens))
	assert.Equal(t, "upstream-access", tokens.AccessToken)
	assert.Equal(t, "upstream-refresh", tokens.RefreshToken)
	assert.Equal(t, "Bearer", tokens.TokenType)

	// The upstream exchange happened now, with the gateway's own verifier.
	assert.Equal(t, 1, env.provider.exchangeCalls)
	assert.Equal(t, "upstream-code-abc", env.provider.lastExchangeCode)
	assert.Equal(t, "upstream-verifier-value", env.provider.lastExchangeVerifier)
}

func TestTokenCodeGrantEagerMode(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, gateway.ExchangeModeEager)

	now := time.Now()
	require.NoError(t, env.store.PutPendingCode(context.Background(), &storage.PendingCode{
		Code:          "code-1",
		ClientID:      "client-under-test",
		RedirectURI:   testClientRedirectURI,
		CodeChallenge: oauth2.S256ChallengeFromVerifier(testCodeVerifier),
		Tokens: &storage.UpstreamTokens{
			AccessToken: "stored-access",
			TokenType:   "Bearer",
		},
		CreatedAt: now,
		ExpiresAt: now.Add(5 * time.Minute),
	}))

	rec := env.postForm("/token", codeGrantForm("code-1"))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var tokens storage.UpstreamTokens
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &tokens))
	assert.Equal(t, "stored-access", tokens.AccessToken)
	assert.Zero(t, env.provider.exchangeCalls, "eager mode relays stored tokens")
}

func TestTokenEagerModeAdjustsExpiresIn(t *testing.T) {
	t.Parallel()

	clock := time.Now()
	env := newTestEnv(t, gateway.ExchangeModeEager,
		WithClock(func() time.Time { return clock }))

	require.NoError(t, env.store.PutPendingCode(context.Background(), &storage.PendingCode{
		Code:          "code-1",
		ClientID:      "client-under-test",
		RedirectURI:   testClientRedirectURI,
		CodeChallenge: oauth2.S256ChallengeFromVerifier(testCodeVerifier),
		Tokens: &storage.UpstreamTokens{
			AccessToken: "stored-access",
			TokenType:   "Bearer",
			ExpiresIn:   3600,
		},
		TokensExpireAt: clock.Add(3600 * time.Second),
		CreatedAt:      clock,
		ExpiresAt:      clock.Add(5 * time.Minute),
	}))

	// The client redeems the code two minutes after the upstream exchange.
	clock = clock.Add(2 * time.Minute)

	rec := env.postForm("/token", codeGrantForm("code-1"))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var tokens storage.UpstreamTokens
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &tokens))
	assert.Equal(t, int64(3480), tokens.ExpiresIn,
		"expires_in must reflect the lifetime remaining at delivery")
}

func TestTokenCodeIsSingleUse(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, gateway.ExchangeModeLazy)
	seedPendingCode(t, env, "code-1")

	first := env.postForm("/token", codeGrantForm("code-1"))
	require.Equal(t, http.StatusOK, first.Code)

	second := env.postForm("/token", codeGrantForm("code-1"))
	require.Equal(t, http.StatusBadRequest, second.Code)
	assert.Equal(t, "invalid_grant", decodeOAuthError(t, second.Body.Bytes()).Code)
}

func TestTokenCodeGrantRejections(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		mutate  func(url.Values)
		errCode string
		status  int
	}{
		{
			name:    "unknown code",
			mutate:  func(f url.Values) { f.Set("code", "never-issued") },
			errCode: "invalid_grant",
			status:  http.StatusBadRequest,
		},
		{
			name:    "missing verifier",
			mutate:  func(f url.Values) { f.Del("code_verifier") },
			errCode: "invalid_request",
			status:  http.StatusBadRequest,
		},
		{
			name:    "wrong verifier",
			mutate:  func(f url.Values) { f.Set("code_verifier", "a-completely-different-verifier-string") },
			errCode: "invalid_grant",
			status:  http.StatusBadRequest,
		},
		{
			name:    "wrong client",
			mutate:  func(f url.Values) { f.Set("client_id", "some-other-client") },
			errCode: "invalid_grant",
			status:  http.StatusBadRequest,
		},
		{
			name:    "wrong redirect uri",
			mutate:  func(f url.Values) { f.Set("redirect_uri", "https://client.example.com/other") },
			errCode: "invalid_grant",
			status:  http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			env := newTestEnv(t, gateway.ExchangeModeLazy)
			seedPendingCode(t, env, "code-1")

			form := codeGrantForm("code-1")
			tt.mutate(form)

			rec := env.postForm("/token", form)
			assert.Equal(t, tt.status, rec.Code)
			assert.Equal(t, tt.errCode, decodeOAuthError(t, rec.Body.Bytes()).Code)
			assert.Zero(t, env.provider.exchangeCalls, "no upstream exchange on a rejected request")
		})
	}
}

func TestTokenFailedRequestBurnsCode(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, gateway.ExchangeModeLazy)
	seedPendingCode(t, env, "code-1")

	// First attempt has the wrong verifier and fails.
	form := codeGrantForm("code-1")
	form.Set("code_verifier", "a-completely-different-verifier-string")
	rec := env.postForm("/token", form)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	// The code was consumed by the failed attempt; a correct retry fails too.
	rec = env.postForm("/token", codeGrantForm("code-1"))
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_grant", decodeOAuthError(t, rec.Body.Bytes()).Code)
}

func TestTokenExpiredCodeRejected(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, gateway.ExchangeModeLazy)

	now := time.Now()
	require.NoError(t, env.store.PutPendingCode(context.Background(), &storage.PendingCode{
		Code:          "expired-code",
		ClientID:      "client-under-test",
		RedirectURI:   testClientRedirectURI,
		CodeChallenge: oauth2.S256ChallengeFromVerifier(testCodeVerifier),
		UpstreamCode:  "upstream-code-abc",
		CreatedAt:     now.Add(-10 * time.Minute),
		ExpiresAt:     now.Add(-5 * time.Minute),
	}))

	rec := env.postForm("/token", codeGrantForm("expired-code"))
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_grant", decodeOAuthError(t, rec.Body.Bytes()).Code)
}

func TestTokenUpstreamErrorRelayed(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, gateway.ExchangeModeLazy)
	env.provider.exchangeErr = oauth.NewError(oauth.ErrorCodeInvalidGrant, "upstream code expired")
	seedPendingCode(t, env, "code-1")

	rec := env.postForm("/token", codeGrantForm("code-1"))
	require.Equal(t, http.StatusBadRequest, rec.Code)
	oauthErr := decodeOAuthError(t, rec.Body.Bytes())
	assert.Equal(t, "invalid_grant", oauthErr.Code)
	assert.Equal(t, "upstream code expired", oauthErr.Description)
}

func TestTokenUpstreamOutageIsTemporarilyUnavailable(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, gateway.ExchangeModeLazy)
	env.provider.exchangeErr = errors.New("dial tcp: connection refused")
	seedPendingCode(t, env, "code-1")

	rec := env.postForm("/token", codeGrantForm("code-1"))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "temporarily_unavailable", decodeOAuthError(t, rec.Body.Bytes()).Code)
}

func TestTokenRefreshGrant(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, gateway.ExchangeModeLazy)

	rec := env.postForm("/token", url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {"upstream-refresh"},
		"scope":         {"openid profile"},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var tokens storage.UpstreamTokens
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &tokens))
	assert.Equal(t, "upstream-access", tokens.AccessToken)

	assert.Equal(t, "upstream-refresh", env.provider.lastRefreshToken)
	assert.Equal(t, []string{"openid", "profile"}, env.provider.lastRefreshScopes)
}

func TestTokenRefreshGrantMissingToken(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, gateway.ExchangeModeLazy)

	rec := env.postForm("/token", url.Values{"grant_type": {"refresh_token"}})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_request", decodeOAuthError(t, rec.Body.Bytes()).Code)
}

func TestTokenUnsupportedGrantType(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, gateway.ExchangeModeLazy)

	rec := env.postForm("/token", url.Values{"grant_type": {"password"}})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "unsupported_grant_type", decodeOAuthError(t, rec.Body.Bytes()).Code)

	rec = env.postForm("/token", url.Values{})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_request", decodeOAuthError(t, rec.Body.Bytes()).Code)
}
