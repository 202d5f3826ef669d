// SPDX-FileCopyrightText: Copyright 2025 Relaygate Authors
// SPDX-License-Identifier: Apache-2.0

package app

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"github.com/relaygate/relaygate/pkg/gateway"
	"github.com/relaygate/relaygate/pkg/gateway/server"
	"github.com/relaygate/relaygate/pkg/gateway/storage"
	"github.com/relaygate/relaygate/pkg/gateway/upstream"
	"github.com/relaygate/relaygate/pkg/logger"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the authorization gateway",
	Long: `Start the gateway's HTTP server: dynamic client registration,
authorization with consent, the upstream callback, token exchange, and
RFC 8414 discovery metadata.`,
	RunE: runServe,
}

const (
	defaultGracefulTimeout = 30 * time.Second
	serverReadTimeout      = 10 * time.Second
	serverWriteTimeout     = 35 * time.Second // must exceed the router's request timeout
	serverIdleTimeout      = 60 * time.Second

	cleanupInterval = time.Minute
)

func init() {
	flags := serveCmd.Flags()
	flags.String("address", ":8080", "Address to listen on")
	flags.String("base-url", "", "Public base URL of the gateway (required)")
	flags.String("state-key", "", "Hex-encoded 32-byte state encryption key (required)")
	flags.Duration("state-ttl", gateway.DefaultStateTTL, "Lifetime of encrypted state blobs")
	flags.Duration("code-ttl", gateway.DefaultCodeTTL, "Lifetime of authorization codes")
	flags.Duration("consent-ttl", gateway.DefaultConsentTTL, "Lifetime of consent decisions")
	flags.String("exchange-mode", string(gateway.ExchangeModeLazy), "Upstream exchange timing: lazy or eager")
	flags.String("upstream-issuer", "", "Upstream OIDC issuer URL (required)")
	flags.String("upstream-client-id", "", "Client id of the enterprise application (required)")
	flags.StringSlice("upstream-scopes", []string{"openid", "profile", "email", "offline_access"},
		"Scopes requested from the upstream provider")
	flags.String("identity-endpoint", "", "Platform workload-identity endpoint for federated credentials")
	flags.String("identity-client-id", "", "Client id of the managed identity")
	flags.String("identity-audience", "", "Audience of the requested assertion")
	flags.String("static-assertion", "", "Fixed client assertion instead of the identity endpoint (development only)")
	flags.String("storage", "memory", "Storage backend: memory or redis")
	flags.String("redis-addr", "", "Redis host:port (required for redis storage)")
	flags.String("redis-username", "", "Redis ACL username")
	flags.String("redis-password", "", "Redis password")
	flags.Int("redis-db", 0, "Redis logical database")
	flags.String("redis-key-prefix", storage.DefaultKeyPrefix, "Prefix for all Redis keys")

	flags.VisitAll(func(flag *pflag.Flag) {
		if err := viper.BindPFlag(flag.Name, flag); err != nil {
			logger.Fatalf("Failed to bind %s flag: %v", flag.Name, err)
		}
	})
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := buildConfig()
	if err != nil {
		return err
	}

	store, err := buildStorage()
	if err != nil {
		return err
	}

	auth, err := buildAuthenticator(cfg)
	if err != nil {
		return err
	}

	providerOpts := []upstream.OIDCProviderOption{}
	if cfg.Mode() == gateway.ExchangeModeEager {
		// Eager mode holds tokens at rest; verify them before storing.
		providerOpts = append(providerOpts, upstream.WithIDTokenVerification())
	}
	provider, err := upstream.Discover(ctx, cfg, auth, providerOpts...)
	if err != nil {
		return err
	}

	handler, err := server.New(cfg, store, provider)
	if err != nil {
		return err
	}

	address := viper.GetString("address")
	httpServer := &http.Server{
		Addr:         address,
		Handler:      handler.Routes(),
		ReadTimeout:  serverReadTimeout,
		WriteTimeout: serverWriteTimeout,
		IdleTimeout:  serverIdleTimeout,
	}

	group, ctx := errgroup.WithContext(ctx)

	group.Go(func() error {
		logger.Infof("Gateway listening on %s", address)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	})

	group.Go(func() error {
		runCleanupLoop(ctx, store)
		return nil
	})

	group.Go(func() error {
		<-ctx.Done()
		logger.Info("Shutting down gateway...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), defaultGracefulTimeout)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	if err := group.Wait(); err != nil {
		logger.Errorf("Gateway shutdown with error: %v", err)
		return err
	}

	logger.Info("Gateway shutdown complete")
	return nil
}

// runCleanupLoop periodically purges expired codes and consent decisions.
// Backends with native TTLs make this a cheap no-op.
func runCleanupLoop(ctx context.Context, store storage.Storage) {
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			removed, err := store.Cleanup(ctx, now)
			if err != nil {
				logger.Warnw("storage cleanup failed", "error", err)
				continue
			}
			if removed > 0 {
				logger.Debugw("purged expired records", "count", removed)
			}
		}
	}
}

func buildConfig() (*gateway.Config, error) {
	stateKey, err := hex.DecodeString(viper.GetString("state-key"))
	if err != nil {
		return nil, fmt.Errorf("state-key must be hex encoded: %w", err)
	}

	cfg := &gateway.Config{
		BaseURL:          viper.GetString("base-url"),
		StateKey:         stateKey,
		StateTTL:         viper.GetDuration("state-ttl"),
		CodeTTL:          viper.GetDuration("code-ttl"),
		ConsentTTL:       viper.GetDuration("consent-ttl"),
		ExchangeMode:     gateway.ExchangeMode(viper.GetString("exchange-mode")),
		UpstreamIssuer:   viper.GetString("upstream-issuer"),
		UpstreamClientID: viper.GetString("upstream-client-id"),
		UpstreamScopes:   viper.GetStringSlice("upstream-scopes"),
		IdentityEndpoint: viper.GetString("identity-endpoint"),
		IdentityClientID: viper.GetString("identity-client-id"),
		IdentityAudience: viper.GetString("identity-audience"),
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func buildStorage() (storage.Storage, error) {
	switch backend := viper.GetString("storage"); backend {
	case "memory":
		return storage.NewMemoryStorage(), nil
	case "redis":
		return storage.NewRedisStorage(&storage.RedisConfig{
			Addr:      viper.GetString("redis-addr"),
			Username:  viper.GetString("redis-username"),
			Password:  viper.GetString("redis-password"),
			DB:        viper.GetInt("redis-db"),
			KeyPrefix: viper.GetString("redis-key-prefix"),
		})
	default:
		return nil, fmt.Errorf("unknown storage backend %q", backend)
	}
}

func buildAuthenticator(cfg *gateway.Config) (upstream.Authenticator, error) {
	if assertion := viper.GetString("static-assertion"); assertion != "" {
		logger.Warn("Using a static client assertion; not suitable for production")
		return upstream.StaticAssertion(assertion), nil
	}
	if cfg.IdentityEndpoint == "" {
		return nil, fmt.Errorf("either identity-endpoint or static-assertion is required")
	}
	return upstream.NewFederatedCredential(
		cfg.IdentityEndpoint,
		cfg.IdentityClientID,
		cfg.IdentityAudience,
	)
}
