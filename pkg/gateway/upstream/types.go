// SPDX-FileCopyrightText: Copyright 2025 Relaygate Authors
// SPDX-License-Identifier: Apache-2.0

// Package upstream talks to the enterprise identity provider on the
// gateway's behalf: it discovers endpoints, builds authorization URLs, and
// performs code and refresh-token exchanges using a federated workload
// credential instead of a client secret.
package upstream

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/oauth2"

	"github.com/relaygate/relaygate/pkg/gateway/storage"
	"github.com/relaygate/relaygate/pkg/oauth"
)

// Provider abstracts the upstream identity provider. Implemented by
// OIDCProvider in production and by fakes in handler tests.
type Provider interface {
	// AuthorizationURL builds the upstream authorization redirect for a
	// gateway-generated state and PKCE verifier.
	AuthorizationURL(state, verifier string) string

	// ExchangeCode swaps an upstream authorization code and its PKCE
	// verifier for tokens.
	ExchangeCode(ctx context.Context, code, verifier string) (*storage.UpstreamTokens, error)

	// RefreshTokens obtains a fresh token set from an upstream refresh token.
	RefreshTokens(ctx context.Context, refreshToken string, scopes []string) (*storage.UpstreamTokens, error)
}

// tokenResponse is the upstream token endpoint response body (RFC 6749
// Section 5.1). Used for the manual refresh grant, where extra form
// parameters rule out the oauth2 package's token source.
type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
	RefreshToken string `json:"refresh_token,omitempty"`
	IDToken      string `json:"id_token,omitempty"`
	Scope        string `json:"scope,omitempty"`
}

func (r *tokenResponse) toTokens() *storage.UpstreamTokens {
	return &storage.UpstreamTokens{
		AccessToken:  r.AccessToken,
		RefreshToken: r.RefreshToken,
		IDToken:      r.IDToken,
		TokenType:    r.TokenType,
		ExpiresIn:    r.ExpiresIn,
		Scope:        r.Scope,
	}
}

func tokensFromOAuth2(tok *oauth2.Token, now time.Time) *storage.UpstreamTokens {
	out := &storage.UpstreamTokens{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		TokenType:    tok.TokenType,
	}
	if !tok.Expiry.IsZero() {
		out.ExpiresIn = int64(tok.Expiry.Sub(now).Round(time.Second) / time.Second)
	}
	if idToken, ok := tok.Extra("id_token").(string); ok {
		out.IDToken = idToken
	}
	if scope, ok := tok.Extra("scope").(string); ok {
		out.Scope = scope
	}
	return out
}

// mapExchangeError translates upstream token endpoint failures into the
// gateway's OAuth error taxonomy so handlers can relay them verbatim.
func mapExchangeError(err error) error {
	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) && retrieveErr.ErrorCode != "" {
		return &oauth.Error{
			Code:        retrieveErr.ErrorCode,
			Description: retrieveErr.ErrorDescription,
		}
	}
	return fmt.Errorf("upstream token request failed: %w", err)
}
