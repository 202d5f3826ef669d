// SPDX-FileCopyrightText: Copyright 2025 Relaygate Authors
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"encoding/json"
	"fmt"
	"html"
	"net/http"
	"net/url"

	"github.com/relaygate/relaygate/pkg/logger"
	"github.com/relaygate/relaygate/pkg/oauth"
)

// writeOAuthError writes a JSON OAuth error response per RFC 6749
// Section 5.2.
func writeOAuthError(w http.ResponseWriter, r *http.Request, status int, oauthErr *oauth.Error) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(oauthErr); err != nil {
		logger.Errorw("failed to encode error response",
			logger.RequestFields(r.Context(), "error", err)...)
	}
}

// redirectWithError sends the browser back to an already-validated client
// redirect URI with OAuth error parameters per RFC 6749 Section 4.1.2.1.
func redirectWithError(w http.ResponseWriter, r *http.Request, redirectURI, code, description, state string) {
	target, err := url.Parse(redirectURI)
	if err != nil {
		writeErrorPage(w, http.StatusBadRequest, "The request could not be completed.")
		return
	}

	query := target.Query()
	query.Set("error", code)
	if description != "" {
		query.Set("error_description", description)
	}
	if state != "" {
		query.Set("state", state)
	}
	target.RawQuery = query.Encode()

	http.Redirect(w, r, target.String(), http.StatusFound)
}

// writeErrorPage renders a terse HTML error for flows where no trustworthy
// redirect target exists. It deliberately reveals nothing about the cause:
// tampered, expired, and malformed state all look the same here.
func writeErrorPage(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	fmt.Fprintf(w, `<!DOCTYPE html>
<html>
<head><title>Authorization Error</title></head>
<body>
  <h1>Authorization Error</h1>
  <p>%s</p>
</body>
</html>
`, html.EscapeString(message))
}
