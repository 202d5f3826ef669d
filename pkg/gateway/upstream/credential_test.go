// SPDX-FileCopyrightText: Copyright 2025 Relaygate Authors
// SPDX-License-Identifier: Apache-2.0

package upstream

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/lestrrat-go/jwx/v3/jwa"
	"github.com/lestrrat-go/jwx/v3/jwt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func signedAssertion(t *testing.T, exp time.Time) string {
	t.Helper()
	tok, err := jwt.NewBuilder().
		Issuer("https://identity.platform.test").
		Expiration(exp).
		Build()
	require.NoError(t, err)

	signed, err := jwt.Sign(tok, jwt.WithKey(jwa.HS256(), []byte("test-signing-key-for-assertions!")))
	require.NoError(t, err)
	return string(signed)
}

func TestFederatedCredentialFetch(t *testing.T) {
	t.Parallel()
	assertion := signedAssertion(t, time.Now().Add(time.Hour))

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "true", r.Header.Get("Metadata"))
		assert.Equal(t, "managed-identity-id", r.URL.Query().Get("client_id"))
		assert.Equal(t, "api://upstream", r.URL.Query().Get("resource"))
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"access_token": %q}`, assertion)
	}))
	defer server.Close()

	cred, err := NewFederatedCredential(server.URL, "managed-identity-id", "api://upstream")
	require.NoError(t, err)

	got, err := cred.ClientAssertion(context.Background())
	require.NoError(t, err)
	assert.Equal(t, assertion, got)
}

func TestFederatedCredentialCachesUntilExpiry(t *testing.T) {
	t.Parallel()

	base := time.Now()
	now := base
	var calls atomic.Int64

	assertion := signedAssertion(t, base.Add(10*time.Minute))
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"access_token": %q}`, assertion)
	}))
	defer server.Close()

	cred, err := NewFederatedCredential(server.URL, "mi", "aud",
		WithCredentialClock(func() time.Time { return now }))
	require.NoError(t, err)

	ctx := context.Background()
	first, err := cred.ClientAssertion(ctx)
	require.NoError(t, err)
	second, err := cred.ClientAssertion(ctx)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, int64(1), calls.Load(), "valid cached assertion must be reused")

	// Within the refresh skew of expiry the cache is discarded.
	now = now.Add(9 * time.Minute)
	_, err = cred.ClientAssertion(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), calls.Load())
}

func TestFederatedCredentialErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{
			name: "non-200 status",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				http.Error(w, "forbidden", http.StatusForbidden)
			},
		},
		{
			name: "malformed body",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				fmt.Fprint(w, "not json")
			},
		},
		{
			name: "missing assertion",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				fmt.Fprint(w, `{}`)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			server := httptest.NewServer(tt.handler)
			defer server.Close()

			cred, err := NewFederatedCredential(server.URL, "mi", "aud")
			require.NoError(t, err)

			_, err = cred.ClientAssertion(context.Background())
			assert.Error(t, err)
		})
	}
}

func TestNewFederatedCredentialRejectsBadEndpoint(t *testing.T) {
	t.Parallel()

	_, err := NewFederatedCredential("", "mi", "aud")
	assert.Error(t, err)

	_, err = NewFederatedCredential("http://identity.internal/token", "mi", "aud")
	assert.Error(t, err, "plain HTTP is only allowed for loopback hosts")
}

func TestStaticAssertion(t *testing.T) {
	t.Parallel()

	got, err := StaticAssertion("fixed").ClientAssertion(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "fixed", got)

	_, err = StaticAssertion("").ClientAssertion(context.Background())
	assert.Error(t, err)
}
