package mcp

import (
	"context"
	"flag"
	"strings"
	"testing"
)

func TestParseConfigDefaults(t *testing.T) {
	fs := flag.NewFlagSet("mcp", flag.ContinueOnError)
	cfg, err := ParseConfig(fs, nil)
	if err != nil {
		t.Fatalf("parse config: %v", err)
	}
	if cfg.Addr != "localhost:8090" {
		t.Fatalf("expected default addr, got %q", cfg.Addr)
	}
	if cfg.HTTPAddr != "localhost:8091" {
		t.Fatalf("expected default http addr, got %q", cfg.HTTPAddr)
	}
	if cfg.Transport != "stdio" {
		t.Fatalf("expected default transport stdio, got %q", cfg.Transport)
	}
}

func TestParseConfigOverrides(t *testing.T) {
	t.Setenv("VEHICLE_REGISTRY_ADDR", "env-registry:8090")
	t.Setenv("VEHICLE_REGISTRY_MCP_HTTP_ADDR", "env-http:8091")
	t.Setenv("VEHICLE_REGISTRY_MCP_ALLOWED_HOSTS", "mcp.internal,tools.internal")
	fs := flag.NewFlagSet("mcp", flag.ContinueOnError)
	args := []string{"-addr", "flag-registry:8090", "-transport", " HTTP "}
	cfg, err := ParseConfig(fs, args)
	if err != nil {
		t.Fatalf("parse config: %v", err)
	}
	if cfg.Addr != "flag-registry:8090" {
		t.Fatalf("expected flag addr, got %q", cfg.Addr)
	}
	if cfg.HTTPAddr != "env-http:8091" {
		t.Fatalf("expected env http addr, got %q", cfg.HTTPAddr)
	}
	if cfg.Transport != "http" {
		t.Fatalf("expected transport http, got %q", cfg.Transport)
	}
	if strings.Join(cfg.AllowedHosts, ",") != "mcp.internal,tools.internal" {
		t.Fatalf("expected allowed hosts from env, got %v", cfg.AllowedHosts)
	}
}

func TestRunRejectsUnknownTransport(t *testing.T) {
	t.Setenv("VEHICLE_REGISTRY_OTEL_ENABLED", "false")
	err := Run(context.Background(), Config{Addr: "localhost:0", Transport: "carrier-pigeon"})
	if err == nil || !strings.Contains(err.Error(), "not supported") {
		t.Fatalf("Run() error = %v, want unsupported transport", err)
	}
}
