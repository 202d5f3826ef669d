// SPDX-FileCopyrightText: Copyright 2025 Relaygate Authors
// SPDX-License-Identifier: Apache-2.0

// Package storage provides the shared mutable state of the gateway: client
// registrations, pending authorization codes, and consent decisions, with
// in-memory and Redis backends.
package storage

import (
	"context"
	"errors"
	"time"
)

// Sentinel errors returned by all storage backends.
var (
	// ErrNotFound is returned when a requested record does not exist, has
	// expired, or has already been consumed.
	ErrNotFound = errors.New("record not found")

	// ErrAlreadyExists is returned when creating a record whose key is taken.
	ErrAlreadyExists = errors.New("record already exists")
)

// ClientRegistration is a dynamically registered OAuth client. Records are
// immutable after creation and keyed uniquely by ClientID. Public clients
// hold no secret.
type ClientRegistration struct {
	// ClientID is the cryptographically random, non-guessable identifier.
	ClientID string `json:"client_id"`

	// ClientName is the human-readable name shown on the consent form.
	ClientName string `json:"client_name,omitempty"`

	// RedirectURIs is the registered set; authorize requests must match one
	// of these exactly.
	RedirectURIs []string `json:"redirect_uris"`

	// TokenEndpointAuthMethod is always "none" for public clients.
	TokenEndpointAuthMethod string `json:"token_endpoint_auth_method"`

	// CreatedAt is when the registration was issued.
	CreatedAt time.Time `json:"created_at"`
}

// UpstreamTokens holds tokens obtained from the upstream provider, stored
// only between callback and token exchange in eager mode. They are relayed,
// never persisted past consumption.
type UpstreamTokens struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
	IDToken      string `json:"id_token,omitempty"`
	TokenType    string `json:"token_type,omitempty"`
	// ExpiresIn is the upstream-reported access token lifetime in seconds.
	ExpiresIn int64 `json:"expires_in,omitempty"`
	Scope     string `json:"scope,omitempty"`
}

// PendingCode is the mapping from a freshly minted client-facing
// authorization code to the upstream exchange material. A pending code is
// single-use: consumption is an atomic check-and-invalidate.
type PendingCode struct {
	// Code is the client-facing authorization code (the key).
	Code string `json:"code"`

	// ClientID binds the code to the registered client that started the flow.
	ClientID string `json:"client_id"`

	// RedirectURI is the client redirect URI the code was issued against.
	RedirectURI string `json:"redirect_uri"`

	// CodeChallenge is the client's PKCE challenge the verifier must match.
	CodeChallenge string `json:"code_challenge"`

	// UpstreamCode is the upstream authorization code, held until the token
	// endpoint exchanges it (lazy mode).
	UpstreamCode string `json:"upstream_code,omitempty"`

	// UpstreamVerifier is the gateway's PKCE verifier for the upstream leg.
	UpstreamVerifier string `json:"upstream_verifier,omitempty"`

	// Tokens are the already-exchanged upstream tokens (eager mode).
	Tokens *UpstreamTokens `json:"tokens,omitempty"`

	// TokensExpireAt is the absolute expiry of Tokens' access token, so
	// expires_in can be recomputed when the tokens are finally delivered.
	TokensExpireAt time.Time `json:"tokens_expire_at,omitzero"`

	// CreatedAt is when the code was minted.
	CreatedAt time.Time `json:"created_at"`

	// ExpiresAt is when the code stops being exchangeable.
	ExpiresAt time.Time `json:"expires_at"`
}

// ConsentDecision records a user's approval or denial of a client's requested
// scopes. Keyed by (Principal, ClientID).
type ConsentDecision struct {
	// Principal identifies the browser principal the decision belongs to.
	Principal string `json:"principal"`

	// ClientID is the client the decision covers.
	ClientID string `json:"client_id"`

	// GrantedScopes are the scopes the user approved. Never wider than the
	// scopes that were requested.
	GrantedScopes []string `json:"granted_scopes"`

	// Approved is true for an approval, false for a denial.
	Approved bool `json:"approved"`

	// CreatedAt is when the decision was recorded.
	CreatedAt time.Time `json:"created_at"`

	// ExpiresAt is when the decision stops being honored.
	ExpiresAt time.Time `json:"expires_at"`
}

// Covers reports whether the decision is an approval that grants every one of
// the requested scopes and is still valid at the given time.
func (d *ConsentDecision) Covers(requested []string, now time.Time) bool {
	if d == nil || !d.Approved || now.After(d.ExpiresAt) {
		return false
	}
	granted := make(map[string]bool, len(d.GrantedScopes))
	for _, s := range d.GrantedScopes {
		granted[s] = true
	}
	for _, s := range requested {
		if !granted[s] {
			return false
		}
	}
	return true
}

// Storage is the backing store shared by the gateway's handlers. All methods
// provide at least read-after-write consistency per key; ConsumePendingCode
// is an atomic check-and-invalidate so that exactly one of any number of
// racing token requests succeeds for a given code.
type Storage interface {
	// CreateClient persists a new client registration.
	// Returns ErrAlreadyExists if the client id is taken.
	CreateClient(ctx context.Context, client *ClientRegistration) error

	// GetClient looks up a client registration by id.
	// Returns ErrNotFound for unknown clients.
	GetClient(ctx context.Context, clientID string) (*ClientRegistration, error)

	// PutPendingCode stores a freshly minted authorization code mapping.
	PutPendingCode(ctx context.Context, pending *PendingCode) error

	// ConsumePendingCode atomically retrieves and invalidates a pending code.
	// Returns ErrNotFound if the code is unknown, expired, or already consumed.
	ConsumePendingCode(ctx context.Context, code string, now time.Time) (*PendingCode, error)

	// PutConsent records a consent decision, replacing any previous decision
	// for the same (principal, client) pair.
	PutConsent(ctx context.Context, decision *ConsentDecision) error

	// GetConsent retrieves the consent decision for a (principal, client)
	// pair. Returns ErrNotFound if absent or expired.
	GetConsent(ctx context.Context, principal, clientID string) (*ConsentDecision, error)

	// Cleanup removes expired records and returns how many were deleted.
	// Backends with native TTL support may treat this as a no-op.
	Cleanup(ctx context.Context, now time.Time) (int, error)
}
