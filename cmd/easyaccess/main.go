// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package main is the entry point for the easyaccess CLI.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/awnumar/memguard"

	"github.com/stacklok/easyaccess/cmd/easyaccess/app"
	"github.com/stacklok/easyaccess/pkg/logger"
)

func main() {
	// Initialize the logger
	logger.Initialize()
	slog.SetDefault(logger.Get())

	os.Exit(run())
}

func run() int {
	// Wipe sealed key material on every exit path.
	defer memguard.Purge()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := app.NewRootCmd().ExecuteContext(ctx); err != nil {
		logger.Errorf("Error executing command: %v", err)
		return 1
	}
	return 0
}
