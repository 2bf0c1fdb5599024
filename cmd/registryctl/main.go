// Package main runs the registry command-line client.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/louisbranch/vehicle-registry/internal/cmd/registryctl"
	"github.com/louisbranch/vehicle-registry/internal/platform/config"
)

func main() {
	cfg, err := registryctl.LoadConfig()
	if err != nil {
		config.Exitf("parse config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := registryctl.Run(ctx, cfg, os.Args[1:], os.Stdout); err != nil {
		stop()
		config.Exitf("registryctl: %v", err)
	}
}
