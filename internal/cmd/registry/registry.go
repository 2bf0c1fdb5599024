// Package registry parses registry service flags and launches the service.
package registry

import (
	"context"
	"errors"
	"flag"
	"strings"

	entrypoint "github.com/louisbranch/vehicle-registry/internal/platform/cmd"
	server "github.com/louisbranch/vehicle-registry/internal/services/registry/app"
)

// Config holds registry command configuration.
type Config struct {
	Port  int    `env:"VEHICLE_REGISTRY_PORT" envDefault:"8090"`
	Admin string `env:"VEHICLE_REGISTRY_ADMIN_ADDRESS"`
}

// ParseConfig parses environment and flags into Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := entrypoint.ParseConfig(&cfg); err != nil {
		return Config{}, err
	}
	fs.IntVar(&cfg.Port, "port", cfg.Port, "The registry gRPC server port")
	fs.StringVar(&cfg.Admin, "admin", cfg.Admin, "The address allowed to register vehicles")
	if err := entrypoint.ParseArgs(fs, args); err != nil {
		return Config{}, err
	}
	cfg.Admin = strings.TrimSpace(cfg.Admin)
	if cfg.Admin == "" {
		return Config{}, errors.New("VEHICLE_REGISTRY_ADMIN_ADDRESS or -admin is required")
	}
	return cfg, nil
}

// Run starts the registry gRPC API service.
func Run(ctx context.Context, cfg Config) error {
	return entrypoint.RunWithTelemetry(ctx, entrypoint.ServiceRegistry, func(context.Context) error {
		return server.Run(ctx, cfg.Port, cfg.Admin)
	})
}
