// SPDX-FileCopyrightText: Copyright 2025 Relaygate Authors
// SPDX-License-Identifier: Apache-2.0

// Package gateway holds the top-level configuration for the relaygate
// authorization-server proxy. All values are resolved once at startup and
// treated as read-only afterwards.
package gateway

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/relaygate/relaygate/pkg/networking"
)

// StateKeyLength is the required length of the state encryption key in bytes.
// 32 bytes (256 bits) for AES-256-GCM.
const StateKeyLength = 32

// Default lifetimes for the gateway's transient artifacts.
const (
	// DefaultStateTTL bounds how long an encrypted state blob stays valid
	// across the upstream redirect round trip.
	DefaultStateTTL = 10 * time.Minute

	// DefaultCodeTTL bounds how long a client-facing authorization code can
	// be exchanged at the token endpoint.
	DefaultCodeTTL = 5 * time.Minute

	// DefaultConsentTTL bounds how long a recorded consent decision lets a
	// client skip the consent form.
	DefaultConsentTTL = 30 * 24 * time.Hour
)

// ExchangeMode selects when the gateway exchanges the upstream authorization
// code for tokens.
type ExchangeMode string

const (
	// ExchangeModeLazy defers the upstream code exchange until the client
	// calls the token endpoint. This is the default: no upstream tokens are
	// held for clients that never complete the flow.
	ExchangeModeLazy ExchangeMode = "lazy"

	// ExchangeModeEager exchanges the upstream code at the callback, so the
	// token endpoint only relays already-obtained tokens.
	ExchangeModeEager ExchangeMode = "eager"
)

// Config is the pure configuration for the gateway.
// All values must be fully resolved (no file paths, no env vars).
type Config struct {
	// BaseURL is the public base URL of the gateway, used as the issuer in
	// discovery metadata and to derive the upstream callback URI.
	BaseURL string

	// StateKey is the symmetric key for the state codec. Must be exactly
	// 32 bytes, cryptographically random, and stable for the deployment's
	// lifetime so state blobs survive process restarts.
	StateKey []byte

	// StateTTL is how long an encrypted state blob is accepted after issue.
	// If zero, defaults to 10 minutes.
	StateTTL time.Duration

	// CodeTTL is how long a client-facing authorization code is valid.
	// If zero, defaults to 5 minutes.
	CodeTTL time.Duration

	// ConsentTTL is how long a recorded consent decision remains valid.
	// If zero, defaults to 30 days.
	ConsentTTL time.Duration

	// ExchangeMode selects eager or lazy upstream token exchange.
	// If empty, defaults to lazy.
	ExchangeMode ExchangeMode

	// UpstreamIssuer is the upstream OIDC issuer URL (tenant-specific).
	// Endpoints are discovered from {issuer}/.well-known/openid-configuration.
	UpstreamIssuer string

	// UpstreamClientID is the enterprise application (client) identifier that
	// the gateway presents to the upstream provider.
	UpstreamClientID string

	// UpstreamScopes are the scopes the gateway requests upstream.
	UpstreamScopes []string

	// IdentityEndpoint is the platform workload-identity endpoint from which
	// the gateway fetches federated credential assertions. Empty when a
	// static assertion source is injected instead.
	IdentityEndpoint string

	// IdentityClientID is the client id of the managed identity bound to the
	// federated credential.
	IdentityClientID string

	// IdentityAudience is the audience of the requested assertion.
	IdentityAudience string
}

// CallbackURL returns the gateway's own redirect target registered at the
// upstream provider.
func (c *Config) CallbackURL() string {
	return strings.TrimSuffix(c.BaseURL, "/") + "/oauth-callback"
}

// Issuer returns the issuer identifier published in discovery metadata.
func (c *Config) Issuer() string {
	return strings.TrimSuffix(c.BaseURL, "/")
}

// StateLifetime returns the configured state TTL with the default applied.
func (c *Config) StateLifetime() time.Duration {
	if c.StateTTL > 0 {
		return c.StateTTL
	}
	return DefaultStateTTL
}

// CodeLifetime returns the configured code TTL with the default applied.
func (c *Config) CodeLifetime() time.Duration {
	if c.CodeTTL > 0 {
		return c.CodeTTL
	}
	return DefaultCodeTTL
}

// ConsentLifetime returns the configured consent TTL with the default applied.
func (c *Config) ConsentLifetime() time.Duration {
	if c.ConsentTTL > 0 {
		return c.ConsentTTL
	}
	return DefaultConsentTTL
}

// Mode returns the configured exchange mode with the default applied.
func (c *Config) Mode() ExchangeMode {
	if c.ExchangeMode != "" {
		return c.ExchangeMode
	}
	return ExchangeModeLazy
}

// Validate checks that the Config is valid.
func (c *Config) Validate() error {
	if c.BaseURL == "" {
		return fmt.Errorf("base URL is required")
	}
	parsed, err := url.Parse(c.BaseURL)
	if err != nil || !parsed.IsAbs() || parsed.Host == "" {
		return fmt.Errorf("base URL %q must be an absolute URL", c.BaseURL)
	}

	if len(c.StateKey) != StateKeyLength {
		return fmt.Errorf("state key must be exactly %d bytes, got %d", StateKeyLength, len(c.StateKey))
	}

	switch c.ExchangeMode {
	case "", ExchangeModeLazy, ExchangeModeEager:
	default:
		return fmt.Errorf("exchange mode must be %q or %q, got %q",
			ExchangeModeLazy, ExchangeModeEager, c.ExchangeMode)
	}

	if c.UpstreamIssuer == "" {
		return fmt.Errorf("upstream issuer is required")
	}
	if err := networking.ValidateEndpointURL(c.UpstreamIssuer); err != nil {
		return fmt.Errorf("invalid upstream issuer: %w", err)
	}

	if c.UpstreamClientID == "" {
		return fmt.Errorf("upstream client id is required")
	}

	return nil
}
