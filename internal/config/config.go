package config

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

type Config struct {
	Server   ServerConfig   `toml:"server"`
	Database DatabaseConfig `toml:"database"`
	Auth     AuthConfig     `toml:"auth"`
	LLM      LLMConfig      `toml:"llm"`
	Playbook PlaybookConfig `toml:"playbook"`
}

type ServerConfig struct {
	Addr string `toml:"addr"`
}

type DatabaseConfig struct {
	Path string `toml:"path"`
}

type AuthConfig struct {
	JWTSecret      string         `toml:"jwt_secret"`
	TokenExpiryMin int            `toml:"token_expiry_min"`
	Clients        []ClientConfig `toml:"clients"`
}

// ClientConfig is one service client allowed to request API tokens.
// SecretHash is a bcrypt hash; generate one with `aceplaybook hash-secret`.
type ClientConfig struct {
	ID         string `toml:"id"`
	SecretHash string `toml:"secret_hash"`
}

type LLMConfig struct {
	AnthropicAPIKey string `toml:"anthropic_api_key"`
	OpenAIAPIKey    string `toml:"openai_api_key"`
	OpenAIBaseURL   string `toml:"openai_base_url"`
	GeneratorModel  string `toml:"generator_model"`
	ReflectorModel  string `toml:"reflector_model"`
}

type PlaybookConfig struct {
	// MaxStrategies caps how many bullets the orchestrator puts into one
	// context block.
	MaxStrategies int    `toml:"max_strategies"`
	AppliedBy     string `toml:"applied_by"`
}

func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Addr: ":8080",
		},
		Database: DatabaseConfig{
			Path: "data/playbook.db",
		},
		Auth: AuthConfig{
			JWTSecret:      "change-me-in-production",
			TokenExpiryMin: 1440, // 24h
		},
		Playbook: PlaybookConfig{
			MaxStrategies: 5,
			AppliedBy:     "ace-orchestrator",
		},
	}
}

func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("reading config: %w", err)
	}
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	return cfg, nil
}
