package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"google.golang.org/grpc"
	grpc_health_v1 "google.golang.org/grpc/health/grpc_health_v1"

	platformgrpc "github.com/louisbranch/vehicle-registry/internal/platform/grpc"
	"github.com/louisbranch/vehicle-registry/internal/platform/timeouts"
	"github.com/louisbranch/vehicle-registry/internal/services/mcp/domain"
	registryapi "github.com/louisbranch/vehicle-registry/internal/services/registry/api/grpc/registry"
)

const (
	// serverName identifies this MCP server to clients.
	serverName = "Vehicle Registry MCP"
	// serverVersion identifies the MCP server version.
	serverVersion = "0.1.0"
	// defaultHTTPAddr keeps the HTTP transport on loopback unless configured.
	defaultHTTPAddr = "localhost:8091"
	// healthInterval is how often monitorHealth probes the registry.
	healthInterval = 30 * time.Second
)

// TransportKind identifies the MCP transport implementation.
type TransportKind string

const (
	// TransportStdio uses standard input/output for MCP.
	TransportStdio TransportKind = "stdio"
	// TransportHTTP runs MCP over streamable HTTP.
	TransportHTTP TransportKind = "http"
)

// Config configures the MCP server.
type Config struct {
	GRPCAddr  string
	Transport TransportKind
	// HTTPAddr is the listen address for the HTTP transport.
	HTTPAddr string
	// AllowedHosts extends the loopback hosts accepted in Host and Origin headers.
	AllowedHosts []string
}

// Server hosts the MCP server.
type Server struct {
	mcpServer *mcp.Server
	conn      *grpc.ClientConn
}

// New creates an MCP server bound to the registry at grpcAddr.
func New(ctx context.Context, grpcAddr string) (*Server, error) {
	conn, err := dialRegistryGRPC(ctx, grpcAddress(grpcAddr))
	if err != nil {
		return nil, err
	}
	return newServer(conn), nil
}

// newServer registers the registry tools against conn.
func newServer(conn *grpc.ClientConn) *Server {
	mcpServer := mcp.NewServer(&mcp.Implementation{Name: serverName, Version: serverVersion}, nil)
	domain.RegisterTools(mcpServer, registryapi.NewClient(conn))
	return &Server{mcpServer: mcpServer, conn: conn}
}

// Run is the service entrypoint for MCP and blocks until context cancellation.
func Run(ctx context.Context, cfg Config) error {
	if cfg.Transport == "" {
		cfg.Transport = TransportStdio
	}

	switch cfg.Transport {
	case TransportStdio:
		return runWithTransport(ctx, cfg.GRPCAddr, &mcp.StdioTransport{})
	case TransportHTTP:
		return runWithHTTPTransport(ctx, cfg)
	default:
		return fmt.Errorf("transport %q is not supported", cfg.Transport)
	}
}

// runWithTransport creates a server and serves it over the provided transport.
func runWithTransport(ctx context.Context, grpcAddr string, transport mcp.Transport) error {
	server, err := New(ctx, grpcAddr)
	if err != nil {
		return err
	}
	return server.serveWithTransport(ctx, transport)
}

// runWithHTTPTransport creates a server and serves it over streamable HTTP.
func runWithHTTPTransport(ctx context.Context, cfg Config) error {
	httpAddr := strings.TrimSpace(cfg.HTTPAddr)
	if httpAddr == "" {
		httpAddr = defaultHTTPAddr
	}

	server, err := New(ctx, cfg.GRPCAddr)
	if err != nil {
		return err
	}
	defer server.Close()

	healthCtx, healthCancel := context.WithCancel(ctx)
	defer healthCancel()
	go server.monitorHealth(healthCtx)

	listener, err := listenTCP("tcp", httpAddr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", httpAddr, err)
	}
	log.Printf("MCP HTTP server listening at %v", listener.Addr())

	transport := newHTTPTransport(server.mcpServer, cfg.AllowedHosts)
	return serveHTTP(ctx, listener, transport.Handler())
}

// Serve starts the MCP server on stdio and blocks until it stops or the context ends.
func (s *Server) Serve(ctx context.Context) error {
	return s.serveWithTransport(ctx, &mcp.StdioTransport{})
}

// Close releases the gRPC connection held by the server.
func (s *Server) Close() error {
	if s == nil || s.conn == nil {
		return nil
	}
	if err := s.conn.Close(); err != nil {
		return err
	}
	s.conn = nil
	return nil
}

// serveWithTransport runs the MCP server on transport and closes the gRPC
// connection on every exit path.
func (s *Server) serveWithTransport(ctx context.Context, transport mcp.Transport) error {
	if s == nil || s.mcpServer == nil {
		return fmt.Errorf("MCP server is not configured")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	err := s.mcpServer.Run(ctx, transport)
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		err = nil
	}
	closeErr := s.Close()
	if closeErr != nil {
		if err == nil {
			return fmt.Errorf("close gRPC connection: %w", closeErr)
		}
		return fmt.Errorf("serve MCP: %v; close gRPC connection: %w", err, closeErr)
	}
	if err != nil {
		return fmt.Errorf("serve MCP: %w", err)
	}
	return nil
}

// monitorHealth periodically checks registry health. Failures are logged and
// the HTTP server keeps running; individual tool calls report their own errors.
func (s *Server) monitorHealth(ctx context.Context) {
	ticker := time.NewTicker(healthInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.checkHealth(ctx)
		}
	}
}

func (s *Server) checkHealth(ctx context.Context) {
	if s.conn == nil {
		log.Printf("gRPC connection is nil, health check skipped")
		return
	}

	healthClient := grpc_health_v1.NewHealthClient(s.conn)
	callCtx, cancel := context.WithTimeout(ctx, timeouts.GRPCRequest)
	response, err := healthClient.Check(callCtx, &grpc_health_v1.HealthCheckRequest{Service: ""})
	cancel()

	if err != nil {
		log.Printf("gRPC health check failed: %v", err)
	} else if response.GetStatus() != grpc_health_v1.HealthCheckResponse_SERVING {
		log.Printf("gRPC health check status: %s", response.GetStatus().String())
	}
}

func dialRegistryGRPC(ctx context.Context, addr string) (*grpc.ClientConn, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	logf := func(format string, args ...any) {
		log.Printf("registry %s", fmt.Sprintf(format, args...))
	}
	conn, err := platformgrpc.DialWithHealth(
		ctx,
		nil,
		addr,
		timeouts.GRPCDial,
		logf,
		platformgrpc.DefaultClientDialOptions()...,
	)
	if err != nil {
		var dialErr *platformgrpc.DialError
		if errors.As(err, &dialErr) {
			if dialErr.Stage == platformgrpc.DialStageConnect {
				return nil, fmt.Errorf("connect to registry at %s: %w", addr, dialErr.Err)
			}
			return nil, fmt.Errorf("registry at %s is not healthy: %w", addr, dialErr.Err)
		}
		return nil, err
	}
	return conn, nil
}

// grpcAddress resolves the gRPC address from the explicit value or env when empty.
func grpcAddress(fallback string) string {
	if strings.TrimSpace(fallback) != "" {
		return fallback
	}
	if value := strings.TrimSpace(os.Getenv("VEHICLE_REGISTRY_ADDR")); value != "" {
		return value
	}
	return fallback
}
