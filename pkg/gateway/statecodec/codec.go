// SPDX-FileCopyrightText: Copyright 2025 Relaygate Authors
// SPDX-License-Identifier: Apache-2.0

// Package statecodec encrypts and decrypts the opaque state blob that carries
// an authorization request across the upstream redirect round trip.
//
// The codec is a pure encode/decode unit with no hidden state: given the same
// deployment key, any gateway process can decode blobs produced by any other,
// which is what makes the redirect hop session-less.
package statecodec

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Decode failure modes. Callers must treat all three identically in
// user-facing output; the distinction exists for logging and tests only.
var (
	// ErrStateTampered indicates the ciphertext failed authentication.
	ErrStateTampered = errors.New("state blob failed authentication")

	// ErrStateMalformed indicates the blob could not be parsed at all.
	ErrStateMalformed = errors.New("state blob is malformed")

	// ErrStateExpired indicates the embedded timestamp exceeded the TTL.
	ErrStateExpired = errors.New("state blob has expired")
)

// AuthorizationRequest is the transient authorization request carried through
// the redirect round trip. It is never persisted server-side; it exists only
// inside encrypted state blobs.
type AuthorizationRequest struct {
	// ResponseType is the OAuth response type, always "code".
	ResponseType string `json:"response_type"`

	// ClientID identifies the dynamically registered client.
	ClientID string `json:"client_id"`

	// RedirectURI is the client's own redirect target. It never leaves the
	// gateway: the upstream provider only ever sees the gateway's callback.
	RedirectURI string `json:"redirect_uri"`

	// Scope is the space-separated scope string the client requested.
	Scope string `json:"scope,omitempty"`

	// State is the client's original state parameter, returned verbatim.
	State string `json:"state,omitempty"`

	// CodeChallenge is the client's PKCE challenge (S256).
	CodeChallenge string `json:"code_challenge"`

	// CodeChallengeMethod is the PKCE method, always "S256".
	CodeChallengeMethod string `json:"code_challenge_method"`

	// Resource is the RFC 8707 resource indicator, relayed upstream.
	Resource string `json:"resource,omitempty"`

	// UpstreamVerifier is the gateway's own PKCE verifier for the upstream
	// leg. It travels only inside the encrypted blob.
	UpstreamVerifier string `json:"upstream_verifier,omitempty"`

	// Principal is the consent principal the request was authorized under.
	Principal string `json:"principal,omitempty"`
}

// envelope wraps the request with its issue time for TTL enforcement.
type envelope struct {
	IssuedAt int64                `json:"iat"`
	Request  AuthorizationRequest `json:"req"`
}

// Codec seals authorization requests into URL-safe ciphertext and back.
// Safe for concurrent use.
type Codec struct {
	aead cipher.AEAD
	ttl  time.Duration
	now  func() time.Time
}

// Option configures a Codec.
type Option func(*Codec)

// WithTTL overrides the default state lifetime.
func WithTTL(ttl time.Duration) Option {
	return func(c *Codec) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

// WithClock overrides the codec's time source. Intended for tests.
func WithClock(now func() time.Time) Option {
	return func(c *Codec) {
		c.now = now
	}
}

// DefaultTTL is the default lifetime of an encoded state blob.
const DefaultTTL = 10 * time.Minute

// New creates a Codec from a 32-byte AES-256 key. The key must be stable for
// the deployment's lifetime so decode works across process restarts; a fresh
// random nonce is generated per message.
func New(key []byte, opts ...Option) (*Codec, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("invalid state key: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize AEAD: %w", err)
	}

	c := &Codec{
		aead: aead,
		ttl:  DefaultTTL,
		now:  time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Encode serializes and encrypts the request into a base64url string suitable
// for a query parameter.
func (c *Codec) Encode(req *AuthorizationRequest) (string, error) {
	if req == nil {
		return "", errors.New("request is required")
	}

	plaintext, err := json.Marshal(envelope{
		IssuedAt: c.now().Unix(),
		Request:  *req,
	})
	if err != nil {
		return "", fmt.Errorf("failed to serialize state: %w", err)
	}

	nonce := make([]byte, c.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	sealed := c.aead.Seal(nonce, nonce, plaintext, nil)
	return base64.RawURLEncoding.EncodeToString(sealed), nil
}

// Decode decrypts and deserializes a state blob. Tampered or truncated input
// fails with ErrStateTampered or ErrStateMalformed; blobs older than the TTL
// fail with ErrStateExpired. Corrupted data is never returned.
func (c *Codec) Decode(encoded string) (*AuthorizationRequest, error) {
	raw, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return nil, ErrStateMalformed
	}

	nonceSize := c.aead.NonceSize()
	if len(raw) < nonceSize+c.aead.Overhead() {
		return nil, ErrStateMalformed
	}

	plaintext, err := c.aead.Open(nil, raw[:nonceSize], raw[nonceSize:], nil)
	if err != nil {
		return nil, ErrStateTampered
	}

	var env envelope
	if err := json.Unmarshal(plaintext, &env); err != nil {
		return nil, ErrStateMalformed
	}

	issued := time.Unix(env.IssuedAt, 0)
	if c.now().After(issued.Add(c.ttl)) {
		return nil, ErrStateExpired
	}

	return &env.Request, nil
}
