package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Addr != ":8080" {
		t.Errorf("addr = %q, want :8080", cfg.Server.Addr)
	}
	if cfg.Playbook.MaxStrategies != 5 {
		t.Errorf("max_strategies = %d, want 5", cfg.Playbook.MaxStrategies)
	}
	if cfg.Playbook.AppliedBy != "ace-orchestrator" {
		t.Errorf("applied_by = %q, want ace-orchestrator", cfg.Playbook.AppliedBy)
	}
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	content := `
[server]
addr = ":9090"

[database]
path = "/tmp/test-playbook.db"

[auth]
jwt_secret = "sekrit"
token_expiry_min = 30

[[auth.clients]]
id = "curator-svc"
secret_hash = "$2a$10$abcdefghijklmnopqrstuv"

[llm]
generator_model = "anthropic/claude-sonnet-4-5-20250929"

[playbook]
max_strategies = 12
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("writing config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Addr != ":9090" {
		t.Errorf("addr = %q, want :9090", cfg.Server.Addr)
	}
	if cfg.Auth.JWTSecret != "sekrit" {
		t.Errorf("jwt_secret = %q", cfg.Auth.JWTSecret)
	}
	if cfg.Auth.TokenExpiryMin != 30 {
		t.Errorf("token_expiry_min = %d, want 30", cfg.Auth.TokenExpiryMin)
	}
	if len(cfg.Auth.Clients) != 1 || cfg.Auth.Clients[0].ID != "curator-svc" {
		t.Errorf("clients = %+v", cfg.Auth.Clients)
	}
	if cfg.LLM.GeneratorModel != "anthropic/claude-sonnet-4-5-20250929" {
		t.Errorf("generator_model = %q", cfg.LLM.GeneratorModel)
	}
	if cfg.Playbook.MaxStrategies != 12 {
		t.Errorf("max_strategies = %d, want 12", cfg.Playbook.MaxStrategies)
	}
	// Untouched sections keep defaults.
	if cfg.Playbook.AppliedBy != "ace-orchestrator" {
		t.Errorf("applied_by = %q, want default", cfg.Playbook.AppliedBy)
	}
}

func TestLoadRejectsBadTOML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte("[server\naddr = "), 0o644); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Error("Load accepted malformed TOML")
	}
}
