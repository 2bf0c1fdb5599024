package config

import (
	"strings"
	"testing"
)

type envTestConfig struct {
	Port  int    `env:"VEHICLE_REGISTRY_TEST_PORT" envDefault:"123"`
	Admin string `env:"VEHICLE_REGISTRY_TEST_ADMIN"`
}

func TestParseEnvDefaults(t *testing.T) {
	var cfg envTestConfig

	if err := ParseEnv(&cfg); err != nil {
		t.Fatalf("parse env: %v", err)
	}
	if cfg.Port != 123 {
		t.Fatalf("expected default port 123, got %d", cfg.Port)
	}
}

func TestParseEnvError(t *testing.T) {
	var cfg envTestConfig
	t.Setenv("VEHICLE_REGISTRY_TEST_PORT", "not-an-int")

	err := ParseEnv(&cfg)
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "parse env:") {
		t.Fatalf("expected parse env prefix, got %v", err)
	}
}

func TestParseEnvFromUsesProvidedMap(t *testing.T) {
	t.Setenv("VEHICLE_REGISTRY_TEST_PORT", "999")

	var cfg envTestConfig
	err := ParseEnvFrom(&cfg, map[string]string{
		"VEHICLE_REGISTRY_TEST_ADMIN": "0xabc",
	})
	if err != nil {
		t.Fatalf("parse env from: %v", err)
	}
	if cfg.Port != 123 {
		t.Fatalf("port = %d, want default 123 (process env must be ignored)", cfg.Port)
	}
	if cfg.Admin != "0xabc" {
		t.Fatalf("admin = %q, want 0xabc", cfg.Admin)
	}
}

func TestParseEnvFromNilFallsBackToProcessEnv(t *testing.T) {
	t.Setenv("VEHICLE_REGISTRY_TEST_PORT", "4242")

	var cfg envTestConfig
	if err := ParseEnvFrom(&cfg, nil); err != nil {
		t.Fatalf("parse env from: %v", err)
	}
	if cfg.Port != 4242 {
		t.Fatalf("port = %d, want 4242", cfg.Port)
	}
}
