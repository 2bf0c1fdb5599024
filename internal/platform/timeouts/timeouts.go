// Package timeouts defines timeout constants shared by the registry binaries.
package timeouts

import "time"

// GRPCDial caps the wait for a gRPC peer to become healthy.
const GRPCDial = 2 * time.Second

// GRPCRequest caps a single outbound gRPC request issued by the CLI or the
// MCP bridge.
const GRPCRequest = 5 * time.Second

// ReadHeader limits how long an HTTP server waits for request headers.
const ReadHeader = 5 * time.Second

// Shutdown bounds graceful shutdown of HTTP and gRPC servers.
const Shutdown = 5 * time.Second

// StoreOpen bounds how long a file-backed store waits for its lock.
const StoreOpen = time.Second
