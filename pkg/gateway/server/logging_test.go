// SPDX-FileCopyrightText: Copyright 2025 Relaygate Authors
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaygate/relaygate/pkg/gateway"
	"github.com/relaygate/relaygate/pkg/logger"
)

// syncBuffer is a log sink safe for writes from handler goroutines.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// Not parallel: the test swaps the process-level logger.
func TestHandlerLogsCarryRequestID(t *testing.T) {
	var sink syncBuffer
	prev := logger.Get()
	logger.Set(slog.New(slog.NewJSONHandler(&sink, nil)))
	t.Cleanup(func() { logger.Set(prev) })

	env := newTestEnv(t, gateway.ExchangeModeLazy)
	rec := env.get("/oauth-callback?state=not-a-valid-blob")
	require.Equal(t, http.StatusBadRequest, rec.Code)

	var found bool
	for _, line := range strings.Split(strings.TrimSpace(sink.String()), "\n") {
		var entry map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &entry))
		if entry["msg"] != "rejected upstream callback state" {
			continue
		}
		found = true
		id, _ := entry["request_id"].(string)
		assert.NotEmpty(t, id, "every handler log line carries the request id")
	}
	require.True(t, found, "expected a state rejection log line")
}
