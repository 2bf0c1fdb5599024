// Package cmd holds the shared startup path for registry commands: env
// defaults, flag overrides and telemetry lifecycle.
package cmd

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"strings"

	"github.com/louisbranch/vehicle-registry/internal/platform/config"
	"github.com/louisbranch/vehicle-registry/internal/platform/otel"
	"github.com/louisbranch/vehicle-registry/internal/platform/timeouts"
)

// Service names double as the OTel service.name resource attribute.
const (
	ServiceRegistry = "registry"
	ServiceMCP      = "mcp"
	ServiceCLI      = "registryctl"
)

// ParseConfig loads environment defaults into cfg.
func ParseConfig[T any](cfg *T) error {
	return ParseConfigFrom(cfg, nil)
}

// ParseConfigFrom loads defaults from environ into cfg; a nil map reads the
// process environment.
func ParseConfigFrom[T any](cfg *T, environ map[string]string) error {
	if cfg == nil {
		return errors.New("config target is required")
	}
	if environ == nil {
		return config.ParseEnv(cfg)
	}
	return config.ParseEnvFrom(cfg, environ)
}

// ParseArgs applies flag overrides on top of env defaults.
func ParseArgs(fs *flag.FlagSet, args []string) error {
	if fs == nil {
		return errors.New("flag parser is required")
	}
	if args == nil {
		args = []string{}
	}
	return fs.Parse(args)
}

// TelemetrySetup starts tracing for a service and returns its flush function.
type TelemetrySetup func(ctx context.Context, service string) (func(context.Context) error, error)

// RunWithTelemetry runs fn with tracing configured from VEHICLE_REGISTRY_OTEL_*
// and flushes spans within timeouts.Shutdown after fn returns.
func RunWithTelemetry(ctx context.Context, service string, fn func(context.Context) error) error {
	return runWithTelemetry(ctx, service, otel.Setup, fn)
}

func runWithTelemetry(ctx context.Context, service string, setup TelemetrySetup, fn func(context.Context) error) error {
	service = strings.TrimSpace(service)
	if service == "" {
		return fmt.Errorf("service name is required")
	}
	if fn == nil {
		return fmt.Errorf("run function is required")
	}
	shutdown, err := setup(ctx, service)
	if err != nil {
		return fmt.Errorf("set up %s telemetry: %w", service, err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), timeouts.Shutdown)
		defer cancel()
		if err := shutdown(flushCtx); err != nil {
			log.Printf("%s otel shutdown: %v", service, err)
		}
	}()
	return fn(ctx)
}
