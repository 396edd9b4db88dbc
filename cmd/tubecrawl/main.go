// Package main is the entrypoint of Tubecrawl.
package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"tubecrawl/internal/cfg"
	"tubecrawl/internal/fetch"
	"tubecrawl/internal/utils/logging"
)

// Exit codes: 0 success, 1 failure, 2 no usable network.
const (
	exitOK        = 0
	exitFailure   = 1
	exitNoNetwork = 2
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := cfg.InitCommands(ctx); err != nil {
		logging.E("Error: %v", err)
		os.Exit(exitFailure)
	}

	if err := cfg.Execute(); err != nil {
		logging.E("Error: %v", err)
		if errors.Is(err, fetch.ErrNoNetwork) {
			os.Exit(exitNoNetwork)
		}
		os.Exit(exitFailure)
	}
	os.Exit(exitOK)
}
