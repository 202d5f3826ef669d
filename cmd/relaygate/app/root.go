// SPDX-FileCopyrightText: Copyright 2025 Relaygate Authors
// SPDX-License-Identifier: Apache-2.0

// Package app provides the command-line interface for the relaygate gateway.
package app

import (
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/relaygate/relaygate/pkg/logger"
)

var rootCmd = &cobra.Command{
	Use:               "relaygate",
	DisableAutoGenTag: true,
	Short:             "OAuth authorization gateway in front of an enterprise identity provider",
	Long: `relaygate is an OAuth 2.0 authorization server that fronts a single
enterprise identity provider. Clients register dynamically, authorize with
PKCE, and receive upstream tokens relayed through the gateway; the enterprise
credential never reaches any client.`,
}

// NewRootCmd creates the root command for the relaygate CLI.
func NewRootCmd() *cobra.Command {
	rootCmd.PersistentFlags().Bool("debug", false, "Enable debug logging")
	if err := viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug")); err != nil {
		logger.Fatalf("Failed to bind debug flag: %v", err)
	}

	// Every flag is also settable as RELAYGATE_<FLAG> in the environment.
	viper.SetEnvPrefix("RELAYGATE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	rootCmd.AddCommand(serveCmd)

	return rootCmd
}
