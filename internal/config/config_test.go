package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
llm:
  default_provider: openai
  providers:
    openai:
      api_key: test-key
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != 8080 {
		t.Errorf("Server.Port = %d", cfg.Server.Port)
	}
	if cfg.Database.Backend != "memory" {
		t.Errorf("Database.Backend = %q", cfg.Database.Backend)
	}
	if cfg.Cache.TTL != time.Hour {
		t.Errorf("Cache.TTL = %v", cfg.Cache.TTL)
	}
	if cfg.Orchestrator.MaxRounds != 5 {
		t.Errorf("Orchestrator.MaxRounds = %d", cfg.Orchestrator.MaxRounds)
	}
	if cfg.Autonomy.Threshold != 0.85 {
		t.Errorf("Autonomy.Threshold = %v", cfg.Autonomy.Threshold)
	}
	if cfg.RateLimit.Requests != 20 || cfg.RateLimit.Window != 60*time.Second {
		t.Errorf("RateLimit = %d/%v", cfg.RateLimit.Requests, cfg.RateLimit.Window)
	}
	if cfg.Logging.Format != "json" {
		t.Errorf("Logging.Format = %q", cfg.Logging.Format)
	}
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 9999
database:
  backend: postgres
  dsn: postgres://localhost/assistant
cache:
  backend: sqlite
  path: /tmp/cache.db
orchestrator:
  max_rounds: 3
  model: gpt-4o-mini
llm:
  default_provider: anthropic
  providers:
    anthropic:
      api_key: test-key
rate_limit:
  enabled: true
  requests: 5
  window: 10s
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Port != 9999 {
		t.Errorf("Server.Port = %d", cfg.Server.Port)
	}
	if cfg.Database.Backend != "postgres" {
		t.Errorf("Database.Backend = %q", cfg.Database.Backend)
	}
	if cfg.Orchestrator.MaxRounds != 3 || cfg.Orchestrator.Model != "gpt-4o-mini" {
		t.Errorf("Orchestrator = %+v", cfg.Orchestrator)
	}
	if !cfg.RateLimit.Enabled || cfg.RateLimit.Requests != 5 || cfg.RateLimit.Window != 10*time.Second {
		t.Errorf("RateLimit = %+v", cfg.RateLimit)
	}
}

func TestLoadExpandsEnvironment(t *testing.T) {
	t.Setenv("TEST_LLM_KEY", "secret-from-env")
	path := writeConfig(t, `
llm:
  default_provider: openai
  providers:
    openai:
      api_key: ${TEST_LLM_KEY}
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.LLM.Providers["openai"].APIKey != "secret-from-env" {
		t.Errorf("APIKey = %q", cfg.LLM.Providers["openai"].APIKey)
	}
}

func TestLoadValidation(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"postgres without dsn", "database:\n  backend: postgres\n"},
		{"unknown database backend", "database:\n  backend: cassandra\n"},
		{"sqlite cache without path", "cache:\n  backend: sqlite\n"},
		{"unknown cache backend", "cache:\n  backend: redis\n"},
		{"unconfigured default provider", "llm:\n  default_provider: mistral\n  providers:\n    openai:\n      api_key: k\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeConfig(t, tt.body)
			if _, err := Load(path); err == nil {
				t.Error("Load() should reject invalid config")
			}
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load("/nonexistent/config.yaml"); err == nil {
		t.Error("Load() should fail on a missing file")
	}
}

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Errorf("Default() config invalid: %v", err)
	}
}
