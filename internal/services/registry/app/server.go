// Package server wires the registry runtime and gRPC lifecycle.
package server

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"os"
	"path/filepath"
	"strings"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	grpc_health_v1 "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/louisbranch/vehicle-registry/internal/platform/config"
	"github.com/louisbranch/vehicle-registry/internal/services/registry/api/grpc/auth"
	"github.com/louisbranch/vehicle-registry/internal/services/registry/api/grpc/interceptors"
	grpcmeta "github.com/louisbranch/vehicle-registry/internal/services/registry/api/grpc/metadata"
	registryapi "github.com/louisbranch/vehicle-registry/internal/services/registry/api/grpc/registry"
	"github.com/louisbranch/vehicle-registry/internal/services/registry/service"
	"github.com/louisbranch/vehicle-registry/internal/services/registry/storage"
	registrybbolt "github.com/louisbranch/vehicle-registry/internal/services/registry/storage/bbolt"
	"github.com/louisbranch/vehicle-registry/internal/services/registry/storage/memory"
	registrysqlite "github.com/louisbranch/vehicle-registry/internal/services/registry/storage/sqlite"
)

// Store backends selectable with VEHICLE_REGISTRY_STORE.
const (
	StoreMemory = "memory"
	StoreSQLite = "sqlite"
	StoreBBolt  = "bbolt"
)

type serverEnv struct {
	Store  string `env:"VEHICLE_REGISTRY_STORE" envDefault:"sqlite"`
	DBPath string `env:"VEHICLE_REGISTRY_DB_PATH"`
}

func loadServerEnv() (serverEnv, error) {
	var cfg serverEnv
	if err := config.ParseEnv(&cfg); err != nil {
		return serverEnv{}, err
	}
	cfg.Store = strings.ToLower(strings.TrimSpace(cfg.Store))
	if strings.TrimSpace(cfg.DBPath) == "" {
		switch cfg.Store {
		case StoreBBolt:
			cfg.DBPath = filepath.Join("data", "registry.bolt")
		default:
			cfg.DBPath = filepath.Join("data", "registry.db")
		}
	}
	return cfg, nil
}

// Server hosts the registry gRPC API and storage lifecycle.
type Server struct {
	listener   net.Listener
	grpcServer *grpc.Server
	health     *health.Server
	store      storage.VehicleStore
}

// New creates a configured registry server listening on the provided port.
func New(port int, admin string) (*Server, error) {
	return NewWithAddr(fmt.Sprintf(":%d", port), admin)
}

// NewWithAddr creates a configured registry server for the provided address.
// admin is the address allowed to register vehicles.
func NewWithAddr(addr, admin string) (*Server, error) {
	env, err := loadServerEnv()
	if err != nil {
		return nil, err
	}
	tokenConfig, err := auth.LoadConfigFromEnv(nil)
	if err != nil {
		return nil, fmt.Errorf("load caller token config: %w", err)
	}
	verifier, err := auth.NewVerifier(tokenConfig)
	if err != nil {
		return nil, fmt.Errorf("build caller token verifier: %w", err)
	}

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", addr, err)
	}
	store, err := openStore(env.Store, env.DBPath)
	if err != nil {
		_ = listener.Close()
		return nil, err
	}
	registry, err := service.New(store, admin)
	if err != nil {
		_ = listener.Close()
		_ = store.Close()
		return nil, fmt.Errorf("build registry service: %w", err)
	}

	grpcServer := grpc.NewServer(
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
		grpc.ChainUnaryInterceptor(
			grpcmeta.UnaryServerInterceptor(nil),
			auth.UnaryServerInterceptor(verifier, registryapi.RequiresCaller),
			interceptors.AuditInterceptor(log.Printf, registryapi.IsReadMethod),
		),
	)
	healthServer := health.NewServer()
	registryapi.RegisterVehicleRegistryServer(grpcServer, registryapi.NewServer(registry))
	grpc_health_v1.RegisterHealthServer(grpcServer, healthServer)
	healthServer.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)
	healthServer.SetServingStatus(registryapi.ServiceName, grpc_health_v1.HealthCheckResponse_SERVING)

	log.Printf("registry admin %s, %s store at %s", registry.Admin(), env.Store, storeLocation(env))
	return &Server{
		listener:   listener,
		grpcServer: grpcServer,
		health:     healthServer,
		store:      store,
	}, nil
}

// Addr returns the listener address for the server.
func (s *Server) Addr() string {
	if s == nil || s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Run creates and serves a registry server until context cancellation.
func Run(ctx context.Context, port int, admin string) error {
	server, err := New(port, admin)
	if err != nil {
		return err
	}
	return server.Serve(ctx)
}

// Serve starts the gRPC server until context cancellation.
func (s *Server) Serve(ctx context.Context) error {
	if s == nil {
		return errors.New("server is nil")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	defer s.Close()

	log.Printf("registry server listening at %v", s.listener.Addr())
	serveErr := make(chan error, 1)
	go func() {
		serveErr <- s.grpcServer.Serve(s.listener)
	}()

	select {
	case <-ctx.Done():
		if s.health != nil {
			s.health.Shutdown()
		}
		s.grpcServer.GracefulStop()
		err := <-serveErr
		if err == nil || errors.Is(err, grpc.ErrServerStopped) {
			return nil
		}
		return fmt.Errorf("serve gRPC: %w", err)
	case err := <-serveErr:
		if err == nil || errors.Is(err, grpc.ErrServerStopped) {
			return nil
		}
		return fmt.Errorf("serve gRPC: %w", err)
	}
}

// Close releases registry server resources.
func (s *Server) Close() {
	if s == nil {
		return
	}
	if s.health != nil {
		s.health.Shutdown()
	}
	if s.grpcServer != nil {
		s.grpcServer.Stop()
	}
	if s.listener != nil {
		_ = s.listener.Close()
	}
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			log.Printf("close registry store: %v", err)
		}
		s.store = nil
	}
}

func openStore(kind, path string) (storage.VehicleStore, error) {
	switch kind {
	case StoreMemory:
		return memory.New(), nil
	case StoreSQLite, StoreBBolt:
	default:
		return nil, fmt.Errorf("unknown store %q: want %s, %s or %s", kind, StoreMemory, StoreSQLite, StoreBBolt)
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create storage dir: %w", err)
		}
	}
	if kind == StoreBBolt {
		store, err := registrybbolt.Open(path)
		if err != nil {
			return nil, fmt.Errorf("open registry bbolt store: %w", err)
		}
		return store, nil
	}
	store, err := registrysqlite.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open registry sqlite store: %w", err)
	}
	return store, nil
}

func storeLocation(env serverEnv) string {
	if env.Store == StoreMemory {
		return "process memory"
	}
	return env.DBPath
}
