package main

import (
	"os"
	"path/filepath"
	"testing"

	"chatd/internal/config"
)

func TestResolveConfigFlagOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "chatd.toml")
	data := "addr = \"0.0.0.0:9999\"\nmodels_dir = \"/srv/models\"\nlog_level = \"debug\"\n"
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := resolveConfig(&serveOptions{
		configPath: path,
		addr:       "127.0.0.1:8090",
	})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if cfg.Addr != "127.0.0.1:8090" {
		t.Fatalf("flag should win: %s", cfg.Addr)
	}
	if cfg.ModelsDir != "/srv/models" {
		t.Fatalf("models dir: %s", cfg.ModelsDir)
	}
	if cfg.LogLevel != "debug" {
		t.Fatalf("log level: %s", cfg.LogLevel)
	}
	if cfg.Limits.GlobalTokenCeiling != config.DefaultGlobalTokenCeiling {
		t.Fatalf("limits not normalized: %+v", cfg.Limits)
	}
}

func TestResolveConfigDefaults(t *testing.T) {
	cfg, err := resolveConfig(&serveOptions{})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if cfg.Addr != config.DefaultAddr {
		t.Fatalf("addr: %s", cfg.Addr)
	}
	if cfg.ModelsDir != "~/models/chatd" {
		t.Fatalf("models dir: %s", cfg.ModelsDir)
	}
}

func TestResolveConfigMissingFile(t *testing.T) {
	if _, err := resolveConfig(&serveOptions{configPath: "/nope/chatd.toml"}); err == nil {
		t.Fatal("expected error for missing config file")
	}
}
