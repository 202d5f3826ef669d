// SPDX-FileCopyrightText: Copyright 2025 Relaygate Authors
// SPDX-License-Identifier: Apache-2.0

package oauth

// OAuth 2.0 error codes from RFC 6749 Section 5.2 and Section 4.1.2.1.
const (
	// ErrorCodeInvalidRequest indicates a malformed or incomplete request.
	ErrorCodeInvalidRequest = "invalid_request"

	// ErrorCodeInvalidClient indicates client authentication failed or the client is unknown.
	ErrorCodeInvalidClient = "invalid_client"

	// ErrorCodeInvalidGrant indicates the authorization code or refresh token is
	// invalid, expired, revoked, already used, or bound to another client.
	ErrorCodeInvalidGrant = "invalid_grant"

	// ErrorCodeUnsupportedGrantType indicates the grant type is not supported.
	ErrorCodeUnsupportedGrantType = "unsupported_grant_type"

	// ErrorCodeUnsupportedResponseType indicates the response type is not supported.
	ErrorCodeUnsupportedResponseType = "unsupported_response_type"

	// ErrorCodeAccessDenied indicates the resource owner denied the request.
	ErrorCodeAccessDenied = "access_denied"

	// ErrorCodeServerError indicates an unexpected server-side failure.
	ErrorCodeServerError = "server_error"

	// ErrorCodeTemporarilyUnavailable indicates the server cannot currently
	// handle the request, typically because an upstream dependency is down.
	ErrorCodeTemporarilyUnavailable = "temporarily_unavailable"
)

// Error represents an OAuth 2.0 error response per RFC 6749 Section 5.2.
type Error struct {
	// Code is a single ASCII error code from the defined set.
	Code string `json:"error"`

	// Description is a human-readable text providing additional information.
	Description string `json:"error_description,omitempty"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Description == "" {
		return e.Code
	}
	return e.Code + ": " + e.Description
}

// NewError constructs an OAuth error with the given code and description.
func NewError(code, description string) *Error {
	return &Error{Code: code, Description: description}
}
