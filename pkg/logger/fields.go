// SPDX-FileCopyrightText: Copyright 2025 Relaygate Authors
// SPDX-License-Identifier: Apache-2.0

package logger

import (
	"context"

	"github.com/go-chi/chi/v5/middleware"
)

// RequestFields appends the router's request id to structured log fields so
// every log line emitted on a request path can be correlated with the request
// that produced it. Contexts without a request id pass through unchanged.
func RequestFields(ctx context.Context, keysAndValues ...any) []any {
	if reqID := middleware.GetReqID(ctx); reqID != "" {
		keysAndValues = append(keysAndValues, "request_id", reqID)
	}
	return keysAndValues
}
