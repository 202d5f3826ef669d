// SPDX-FileCopyrightText: Copyright 2025 Relaygate Authors
// SPDX-License-Identifier: Apache-2.0

// Package oauth provides shared RFC-defined types, constants, and validation
// utilities for OAuth 2.0 and OpenID Connect. It serves as the shared
// foundation for the gateway's server surface and its upstream client,
// including redirect URI validation per RFC 6749 and RFC 8252.
package oauth
