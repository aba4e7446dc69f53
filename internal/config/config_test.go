package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.APIPort != "8080" || cfg.CacheBackend != "memory" {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.RRFK != 60 || cfg.GateStrong != 0.75 {
		t.Fatalf("unexpected retrieval defaults: %+v", cfg)
	}
}

func TestLoadEnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	file := "api_port: \"9000\"\ncache_backend: redis\nrrf_k: 30\n"
	if err := os.WriteFile(path, []byte(file), 0o600); err != nil {
		t.Fatalf("write config file: %v", err)
	}
	t.Setenv("CONFIG_FILE", path)
	t.Setenv("RRF_K", "10")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.APIPort != "9000" {
		t.Fatalf("file value must apply, got %q", cfg.APIPort)
	}
	if cfg.CacheBackend != "redis" {
		t.Fatalf("file value must apply, got %q", cfg.CacheBackend)
	}
	if cfg.RRFK != 10 {
		t.Fatalf("env must win over file, got %d", cfg.RRFK)
	}
}

func TestLoadRejectsInvalidCacheBackend(t *testing.T) {
	t.Setenv("CACHE_BACKEND", "memcached")

	if _, err := Load(); err == nil {
		t.Fatalf("expected validation error")
	}
}

func TestLoadRejectsInvertedGateThresholds(t *testing.T) {
	t.Setenv("GATE_STRONG", "0.2")
	t.Setenv("GATE_MODERATE", "0.5")

	if _, err := Load(); err == nil {
		t.Fatalf("expected validation error")
	}
}

func TestMustEnvListSplitsAndTrims(t *testing.T) {
	t.Setenv("ALLOWED_VISIBILITY", " internal , public ,")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(cfg.AllowedVisibility) != 2 || cfg.AllowedVisibility[0] != "internal" || cfg.AllowedVisibility[1] != "public" {
		t.Fatalf("unexpected visibility list: %v", cfg.AllowedVisibility)
	}
}
