package cmd

import (
	"context"
	"errors"
	"flag"
	"strings"
	"testing"
)

type testConfig struct {
	Address string `env:"CMD_TEST_ADDRESS" envDefault:"127.0.0.1:8080"`
	Mode    string `env:"CMD_TEST_MODE" envDefault:"server"`
}

func TestParseConfigReadsEnvAndFlags(t *testing.T) {
	t.Setenv("CMD_TEST_ADDRESS", "env:9000")
	t.Setenv("CMD_TEST_MODE", "env-mode")

	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	cfgRef := testConfig{}
	if err := ParseConfig(&cfgRef); err != nil {
		t.Fatalf("load config defaults: %v", err)
	}
	fs.StringVar(&cfgRef.Address, "address", cfgRef.Address, "address")
	fs.StringVar(&cfgRef.Mode, "mode", cfgRef.Mode, "mode")

	if err := ParseArgs(fs, []string{"-address", "flag:9001"}); err != nil {
		t.Fatalf("parse flags: %v", err)
	}
	if cfgRef.Address != "flag:9001" {
		t.Fatalf("expected flag value for address, got %q", cfgRef.Address)
	}
	if cfgRef.Mode != "env-mode" {
		t.Fatalf("expected env default mode, got %q", cfgRef.Mode)
	}
}

func TestParseConfigFromUsesMap(t *testing.T) {
	cfgRef := testConfig{}
	if err := ParseConfigFrom(&cfgRef, map[string]string{"CMD_TEST_MODE": "mapped"}); err != nil {
		t.Fatalf("parse config from: %v", err)
	}
	if cfgRef.Mode != "mapped" {
		t.Fatalf("mode = %q, want mapped", cfgRef.Mode)
	}
	if cfgRef.Address != "127.0.0.1:8080" {
		t.Fatalf("address = %q, want default", cfgRef.Address)
	}
}

func TestParseConfigRejectsNilTarget(t *testing.T) {
	var cfg *testConfig
	if err := ParseConfig(cfg); err == nil {
		t.Fatal("expected nil target to be rejected")
	}
}

func TestParseArgsRejectsNilParser(t *testing.T) {
	if err := ParseArgs(nil, []string{}); err == nil {
		t.Fatal("expected parse args to reject nil parser")
	}
}

func TestRunWithTelemetryValidatesInputs(t *testing.T) {
	if err := RunWithTelemetry(context.Background(), " ", func(context.Context) error { return nil }); err == nil {
		t.Fatal("expected empty service name to be rejected")
	}
	if err := RunWithTelemetry(context.Background(), ServiceRegistry, nil); err == nil {
		t.Fatal("expected nil run function to be rejected")
	}
}

func TestRunWithTelemetryFlushesAfterRun(t *testing.T) {
	var calls []string
	setup := func(_ context.Context, service string) (func(context.Context) error, error) {
		calls = append(calls, "setup "+service)
		return func(ctx context.Context) error {
			if _, ok := ctx.Deadline(); !ok {
				t.Error("expected flush context to carry a deadline")
			}
			calls = append(calls, "flush")
			return errors.New("flush failed")
		}, nil
	}
	err := runWithTelemetry(context.Background(), " mcp ", setup, func(context.Context) error {
		calls = append(calls, "run")
		return nil
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if got := strings.Join(calls, ","); got != "setup mcp,run,flush" {
		t.Fatalf("calls = %q", got)
	}
}

func TestRunWithTelemetrySetupError(t *testing.T) {
	ran := false
	setup := func(context.Context, string) (func(context.Context) error, error) {
		return nil, errors.New("bad exporter")
	}
	err := runWithTelemetry(context.Background(), ServiceCLI, setup, func(context.Context) error {
		ran = true
		return nil
	})
	if err == nil || !strings.Contains(err.Error(), "registryctl telemetry") {
		t.Fatalf("err = %v, want telemetry setup error", err)
	}
	if ran {
		t.Fatal("run function should not execute when telemetry setup fails")
	}
}

func TestRunWithTelemetryReturnsRunError(t *testing.T) {
	t.Setenv("VEHICLE_REGISTRY_OTEL_ENDPOINT", "")
	want := errors.New("boom")
	err := RunWithTelemetry(context.Background(), ServiceRegistry, func(context.Context) error { return want })
	if !errors.Is(err, want) {
		t.Fatalf("err = %v, want %v", err, want)
	}
}
