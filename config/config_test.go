package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, "general:\n  log_level: info\n"))
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Engine.RunCeiling != 3*time.Minute {
		t.Fatalf("run_ceiling = %s, want 3m", cfg.Engine.RunCeiling)
	}
	if cfg.Engine.InvocationTimeout != 20*time.Second {
		t.Fatalf("invocation_timeout = %s, want 20s", cfg.Engine.InvocationTimeout)
	}
	if cfg.Engine.MaxRetries != 2 {
		t.Fatalf("max_retries = %d, want 2", cfg.Engine.MaxRetries)
	}
	if cfg.Engine.RelevanceThreshold != 0.4 {
		t.Fatalf("relevance_threshold = %f, want 0.4", cfg.Engine.RelevanceThreshold)
	}
	if cfg.Stream.BufferCapacity != 256 {
		t.Fatalf("buffer_capacity = %d, want 256", cfg.Stream.BufferCapacity)
	}
	if cfg.LLM.Model != "gpt-4o-mini" {
		t.Fatalf("model = %q", cfg.LLM.Model)
	}
	if cfg.Fetch.EnableCrawler {
		t.Fatalf("crawler should default off")
	}
}

func TestLoadConfigOverrides(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, strings.Join([]string{
		"engine:",
		"  run_ceiling: 90s",
		"  max_retries: 5",
		"search:",
		"  brave_api_key: abc",
		"storage:",
		"  postgres:",
		"    host: db.internal",
		"    dbname: cogcore",
	}, "\n")))
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Engine.RunCeiling != 90*time.Second {
		t.Fatalf("run_ceiling = %s, want 90s", cfg.Engine.RunCeiling)
	}
	if cfg.Engine.MaxRetries != 5 {
		t.Fatalf("max_retries = %d, want 5", cfg.Engine.MaxRetries)
	}
	if cfg.Search.BraveAPIKey != "abc" {
		t.Fatalf("brave key = %q", cfg.Search.BraveAPIKey)
	}
	dsn, err := cfg.Storage.Postgres.DSN()
	if err != nil {
		t.Fatalf("DSN: %v", err)
	}
	if dsn != "postgres://:@db.internal:5432/cogcore?sslmode=disable" {
		t.Fatalf("dsn = %q", dsn)
	}
}

func TestLoadConfigRejectsInvalidValues(t *testing.T) {
	if _, err := LoadConfig(writeConfig(t, "engine:\n  run_ceiling: 0s\n")); err == nil {
		t.Fatalf("expected error for zero run_ceiling")
	}
	if _, err := LoadConfig(writeConfig(t, "stream:\n  buffer_capacity: 0\n")); err == nil {
		t.Fatalf("expected error for zero buffer capacity")
	}
}

func TestDSNPrefersURL(t *testing.T) {
	p := PostgresConfig{URL: "postgres://u:p@host/db", Host: "ignored", DBName: "ignored"}
	dsn, err := p.DSN()
	if err != nil || dsn != "postgres://u:p@host/db" {
		t.Fatalf("dsn = %q, err = %v", dsn, err)
	}
}

func TestDSNRequiresHostAndDB(t *testing.T) {
	if _, err := (PostgresConfig{Host: "h"}).DSN(); err == nil {
		t.Fatalf("expected error without dbname")
	}
}
