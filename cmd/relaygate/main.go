// SPDX-FileCopyrightText: Copyright 2025 Relaygate Authors
// SPDX-License-Identifier: Apache-2.0

// Package main is the entry point for the relaygate authorization gateway.
package main

import (
	"os"

	"github.com/relaygate/relaygate/cmd/relaygate/app"
	"github.com/relaygate/relaygate/pkg/logger"
)

func main() {
	// Initialize the logger
	logger.Initialize()

	if err := app.NewRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
