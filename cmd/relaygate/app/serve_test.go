// SPDX-FileCopyrightText: Copyright 2025 Relaygate Authors
// SPDX-License-Identifier: Apache-2.0

package app

import (
	"encoding/hex"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaygate/relaygate/pkg/gateway"
	"github.com/relaygate/relaygate/pkg/gateway/storage"
	"github.com/relaygate/relaygate/pkg/gateway/upstream"
)

// Viper state is global, so these tests cannot run in parallel.

func setValidConfig(t *testing.T) {
	t.Helper()
	viper.Reset()
	t.Cleanup(viper.Reset)

	viper.Set("base-url", "https://gateway.example.com")
	viper.Set("state-key", hex.EncodeToString(make([]byte, gateway.StateKeyLength)))
	viper.Set("upstream-issuer", "https://idp.example.com/tenant")
	viper.Set("upstream-client-id", "enterprise-app-id")
}

func TestBuildConfig(t *testing.T) {
	setValidConfig(t)
	viper.Set("exchange-mode", "eager")
	viper.Set("upstream-scopes", []string{"openid", "offline_access"})

	cfg, err := buildConfig()
	require.NoError(t, err)
	assert.Equal(t, "https://gateway.example.com", cfg.BaseURL)
	assert.Len(t, cfg.StateKey, gateway.StateKeyLength)
	assert.Equal(t, gateway.ExchangeModeEager, cfg.Mode())
	assert.Equal(t, []string{"openid", "offline_access"}, cfg.UpstreamScopes)
}

func TestBuildConfigRejectsBadStateKey(t *testing.T) {
	setValidConfig(t)

	viper.Set("state-key", "not-hex")
	_, err := buildConfig()
	assert.Error(t, err)

	// Right encoding, wrong length.
	viper.Set("state-key", "deadbeef")
	_, err = buildConfig()
	assert.Error(t, err)
}

func TestBuildConfigRequiresUpstream(t *testing.T) {
	setValidConfig(t)
	viper.Set("upstream-issuer", "")

	_, err := buildConfig()
	assert.Error(t, err)
}

func TestBuildStorage(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	viper.Set("storage", "memory")
	store, err := buildStorage()
	require.NoError(t, err)
	assert.IsType(t, &storage.MemoryStorage{}, store)

	viper.Set("storage", "redis")
	_, err = buildStorage()
	assert.Error(t, err, "redis backend requires an address")

	viper.Set("storage", "cassandra")
	_, err = buildStorage()
	assert.Error(t, err)
}

func TestBuildAuthenticator(t *testing.T) {
	setValidConfig(t)

	cfg, err := buildConfig()
	require.NoError(t, err)

	// Neither identity endpoint nor static assertion configured.
	_, err = buildAuthenticator(cfg)
	assert.Error(t, err)

	viper.Set("static-assertion", "fixed-assertion")
	auth, err := buildAuthenticator(cfg)
	require.NoError(t, err)
	assert.IsType(t, upstream.StaticAssertion(""), auth)
}
