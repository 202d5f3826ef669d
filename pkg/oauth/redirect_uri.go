// SPDX-FileCopyrightText: Copyright 2025 Relaygate Authors
// SPDX-License-Identifier: Apache-2.0

package oauth

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"slices"
)

// ErrRedirectURINotRegistered is returned when a redirect URI does not exactly
// match any URI in the client's registered set.
var ErrRedirectURINotRegistered = errors.New("redirect_uri is not registered for this client")

// ValidateRedirectURI validates a redirect URI per RFC 8252:
//   - HTTPS is allowed for any address (web-based redirects)
//   - HTTP is only allowed for loopback addresses (127.0.0.1, [::1], localhost)
//
// The URI must be absolute and must not carry a fragment (RFC 6749 Section 3.1.2).
func ValidateRedirectURI(uri string) error {
	parsed, err := url.Parse(uri)
	if err != nil {
		return fmt.Errorf("redirect URI is malformed: %w", err)
	}

	if !parsed.IsAbs() || parsed.Host == "" {
		return errors.New("redirect URI must be absolute")
	}

	if parsed.Fragment != "" {
		return errors.New("redirect URI must not contain a fragment")
	}

	switch parsed.Scheme {
	case "https":
		return nil
	case "http":
		if isLoopback(parsed.Hostname()) {
			return nil
		}
		return errors.New("http redirect URIs are only allowed for loopback addresses")
	default:
		return fmt.Errorf("unsupported redirect URI scheme %q", parsed.Scheme)
	}
}

// MatchRedirectURI checks the supplied redirect URI against the registered set
// using exact string comparison. Prefix or normalization matching is
// deliberately not performed; anything short of byte equality opens the
// gateway to open-redirect attacks.
func MatchRedirectURI(uri string, registered []string) error {
	if !slices.Contains(registered, uri) {
		return ErrRedirectURINotRegistered
	}
	return nil
}

func isLoopback(host string) bool {
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
