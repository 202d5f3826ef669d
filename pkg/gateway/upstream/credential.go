// SPDX-FileCopyrightText: Copyright 2025 Relaygate Authors
// SPDX-License-Identifier: Apache-2.0

package upstream

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/lestrrat-go/jwx/v3/jwt"

	"github.com/relaygate/relaygate/pkg/logger"
	"github.com/relaygate/relaygate/pkg/networking"
)

// Authenticator supplies the client assertion the gateway presents to the
// upstream token endpoint in place of a client secret.
type Authenticator interface {
	// ClientAssertion returns a currently valid JWT bearer assertion.
	ClientAssertion(ctx context.Context) (string, error)
}

// assertionExpirySkew is how long before an assertion's exp claim the cached
// copy is discarded.
const assertionExpirySkew = 2 * time.Minute

// defaultAssertionLifetime is assumed when the platform returns an assertion
// whose expiry cannot be read.
const defaultAssertionLifetime = 5 * time.Minute

// FederatedCredential fetches short-lived JWT assertions from the hosting
// platform's workload identity endpoint and caches them until shortly before
// expiry. Safe for concurrent use.
type FederatedCredential struct {
	endpoint string
	clientID string
	audience string
	client   networking.HTTPClient
	now      func() time.Time

	mu        sync.Mutex
	assertion string
	expiresAt time.Time
}

var _ Authenticator = (*FederatedCredential)(nil)

// FederatedCredentialOption configures a FederatedCredential.
type FederatedCredentialOption func(*FederatedCredential)

// WithCredentialHTTPClient overrides the HTTP client used to reach the
// identity endpoint.
func WithCredentialHTTPClient(client networking.HTTPClient) FederatedCredentialOption {
	return func(f *FederatedCredential) {
		f.client = client
	}
}

// WithCredentialClock overrides the clock. Tests only.
func WithCredentialClock(now func() time.Time) FederatedCredentialOption {
	return func(f *FederatedCredential) {
		f.now = now
	}
}

// NewFederatedCredential creates an Authenticator backed by the platform
// identity endpoint. The endpoint is called with the managed identity's
// client id and the upstream token endpoint's expected audience.
func NewFederatedCredential(endpoint, clientID, audience string, opts ...FederatedCredentialOption) (*FederatedCredential, error) {
	if endpoint == "" {
		return nil, fmt.Errorf("identity endpoint is required")
	}
	if err := networking.ValidateEndpointURL(endpoint); err != nil {
		return nil, fmt.Errorf("invalid identity endpoint: %w", err)
	}

	client, err := networking.NewHttpClientBuilder().Build()
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP client: %w", err)
	}

	f := &FederatedCredential{
		endpoint: endpoint,
		clientID: clientID,
		audience: audience,
		client:   client,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f, nil
}

// ClientAssertion returns the cached assertion or fetches a new one when the
// cache is empty or about to expire.
func (f *FederatedCredential) ClientAssertion(ctx context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.assertion != "" && f.now().Before(f.expiresAt.Add(-assertionExpirySkew)) {
		return f.assertion, nil
	}

	assertion, err := f.fetch(ctx)
	if err != nil {
		return "", err
	}

	f.assertion = assertion
	f.expiresAt = f.assertionExpiry(assertion)
	logger.Debugw("fetched federated credential assertion", "expires_at", f.expiresAt)
	return assertion, nil
}

func (f *FederatedCredential) fetch(ctx context.Context) (string, error) {
	reqURL, err := url.Parse(f.endpoint)
	if err != nil {
		return "", fmt.Errorf("invalid identity endpoint: %w", err)
	}
	query := reqURL.Query()
	query.Set("client_id", f.clientID)
	query.Set("resource", f.audience)
	reqURL.RawQuery = query.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL.String(), nil)
	if err != nil {
		return "", fmt.Errorf("failed to create identity request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Metadata", "true")

	resp, err := f.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("identity endpoint request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("failed to read identity response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("identity endpoint returned status %d", resp.StatusCode)
	}

	var payload struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return "", fmt.Errorf("failed to parse identity response: %w", err)
	}
	if payload.AccessToken == "" {
		return "", fmt.Errorf("identity endpoint returned no assertion")
	}
	return payload.AccessToken, nil
}

// assertionExpiry reads the exp claim without verifying the signature. The
// assertion is opaque to the gateway; expiry only drives cache invalidation,
// verification is the upstream provider's job.
func (f *FederatedCredential) assertionExpiry(assertion string) time.Time {
	tok, err := jwt.ParseInsecure([]byte(assertion))
	if err != nil {
		logger.Debugw("assertion expiry not readable, using default lifetime", "error", err)
		return f.now().Add(defaultAssertionLifetime)
	}
	exp, ok := tok.Expiration()
	if !ok || exp.IsZero() {
		return f.now().Add(defaultAssertionLifetime)
	}
	return exp
}

// StaticAssertion is an Authenticator that always returns a fixed assertion.
// Useful for local development and tests.
type StaticAssertion string

var _ Authenticator = StaticAssertion("")

// ClientAssertion implements Authenticator.
func (s StaticAssertion) ClientAssertion(_ context.Context) (string, error) {
	if s == "" {
		return "", fmt.Errorf("static assertion is empty")
	}
	return string(s), nil
}
