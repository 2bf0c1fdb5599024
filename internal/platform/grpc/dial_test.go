package grpc

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	gogrpc "google.golang.org/grpc"
	grpc_health_v1 "google.golang.org/grpc/health/grpc_health_v1"
)

func TestDialWithHealthServing(t *testing.T) {
	addr, _, stop := startHealthServer(t, grpc_health_v1.HealthCheckResponse_SERVING)
	defer stop()

	var mu sync.Mutex
	var logs []string
	logf := func(format string, args ...any) {
		mu.Lock()
		defer mu.Unlock()
		logs = append(logs, fmt.Sprintf(format, args...))
	}

	conn, err := DialWithHealth(context.Background(), nil, addr, time.Second, logf, DefaultClientDialOptions()...)
	if err != nil {
		t.Fatalf("dial with health: %v", err)
	}
	if err := conn.Close(); err != nil {
		t.Fatalf("close conn: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(logs) == 0 || !strings.Contains(logs[len(logs)-1], "SERVING") {
		t.Fatalf("logs = %v, want a SERVING entry", logs)
	}
}

func TestDialWithHealthFailures(t *testing.T) {
	addr, _, stop := startHealthServer(t, grpc_health_v1.HealthCheckResponse_NOT_SERVING)
	defer stop()

	refused := ConnectorFunc(func(string, ...gogrpc.DialOption) (*gogrpc.ClientConn, error) {
		return nil, errors.New("dial failure")
	})

	tests := []struct {
		name      string
		connector Connector
		timeout   time.Duration
		wantStage DialStage
	}{
		{name: "connector error", connector: refused, timeout: time.Second, wantStage: DialStageConnect},
		{name: "never serving", timeout: 150 * time.Millisecond, wantStage: DialStageHealth},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			start := time.Now()
			conn, err := DialWithHealth(context.Background(), tt.connector, addr, tt.timeout, nil, DefaultClientDialOptions()...)
			if conn != nil {
				_ = conn.Close()
				t.Fatal("expected nil connection on error")
			}
			var dialErr *DialError
			if !errors.As(err, &dialErr) {
				t.Fatalf("err = %v, want *DialError", err)
			}
			if dialErr.Stage != tt.wantStage {
				t.Fatalf("stage = %q, want %q", dialErr.Stage, tt.wantStage)
			}
			if elapsed := time.Since(start); elapsed > tt.timeout+time.Second {
				t.Fatalf("dial took %v, want it bounded by %v", elapsed, tt.timeout)
			}
		})
	}
}

func TestDialWithHealthHonorsCallerContext(t *testing.T) {
	addr, _, stop := startHealthServer(t, grpc_health_v1.HealthCheckResponse_NOT_SERVING)
	defer stop()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := DialWithHealth(ctx, nil, addr, time.Minute, nil, DefaultClientDialOptions()...)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}

func TestDialErrorMessages(t *testing.T) {
	withAddr := &DialError{Addr: "localhost:8090", Stage: DialStageHealth, Err: errors.New("boom")}
	if got := withAddr.Error(); !strings.Contains(got, "gRPC health error for localhost:8090: boom") {
		t.Fatalf("Error() = %q", got)
	}
	if !errors.Is(withAddr, withAddr.Err) {
		t.Fatal("expected DialError to unwrap to its cause")
	}

	var nilErr *DialError
	if nilErr.Error() == "" || nilErr.Unwrap() != nil {
		t.Fatal("nil DialError should describe itself and unwrap to nil")
	}
}
