// Package config loads the JSON configuration file.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"time"

	"github.com/nidhogg/tutor/internal/provider"
)

// Config is the top-level configuration structure.
type Config struct {
	Server    ServerConfig     `json:"server"`
	Providers []ProviderConfig `json:"providers"`
	Roles     RolesConfig      `json:"roles"`
	Runtime   RuntimeConfig    `json:"runtime"`
	Database  DatabaseConfig   `json:"database"`
	SkillsDir string           `json:"skills_dir"`
}

type ServerConfig struct {
	Port     int    `json:"port"`
	LogLevel string `json:"log_level"`
}

type ProviderConfig struct {
	ID        string            `json:"id"`
	Type      string            `json:"type"`
	Name      string            `json:"name"`
	Endpoint  string            `json:"endpoint"`
	APIKey    string            `json:"api_key"`
	Models    []string          `json:"models,omitempty"`
	Extra     map[string]string `json:"extra,omitempty"`
	Timeout   Duration          `json:"timeout,omitempty"`
	RateLimit float64           `json:"rate_limit,omitempty"`
	Burst     int               `json:"burst,omitempty"`
	Retry     RetryConfig       `json:"retry"`
}

type RetryConfig struct {
	Attempts     uint     `json:"attempts"`
	InitialDelay Duration `json:"initial_delay"`
	MaxDelay     Duration `json:"max_delay"`
}

// Provider converts p to the provider package's configuration.
func (p ProviderConfig) Provider() provider.ProviderConfig {
	return provider.ProviderConfig{
		ID:        p.ID,
		Type:      p.Type,
		Name:      p.Name,
		Endpoint:  p.Endpoint,
		APIKey:    p.APIKey,
		Models:    p.Models,
		Extra:     p.Extra,
		Timeout:   p.Timeout.Duration,
		RateLimit: p.RateLimit,
		Burst:     p.Burst,
		Retry: provider.RetryConfig{
			Attempts:     p.Retry.Attempts,
			InitialDelay: p.Retry.InitialDelay.Duration,
			MaxDelay:     p.Retry.MaxDelay.Duration,
		},
	}
}

// RolesConfig binds the student and teacher roles to providers.
type RolesConfig struct {
	Student RoleConfig `json:"student"`
	Teacher RoleConfig `json:"teacher"`
}

type RoleConfig struct {
	Provider    string   `json:"provider"`
	Fallbacks   []string `json:"fallbacks,omitempty"`
	Model       string   `json:"model"`
	Temperature float64  `json:"temperature"`
	MaxTokens   int      `json:"max_tokens"`
}

type RuntimeConfig struct {
	// Concurrency bounds the rows of one batch in flight.
	Concurrency int `json:"concurrency"`
	// BatchConcurrency bounds the batches of one Apply in flight.
	BatchConcurrency int `json:"batch_concurrency"`
	BatchSize        int `json:"batch_size"`
}

type DatabaseConfig struct {
	Postgres PostgresConfig `json:"postgres"`
	Redis    RedisConfig    `json:"redis"`
}

type PostgresConfig struct {
	DSN           string `json:"dsn"`
	MigrationsDir string `json:"migrations_dir"`
}

type RedisConfig struct {
	URL      string   `json:"url"`
	CacheTTL Duration `json:"cache_ttl"`
}

// Duration is a time.Duration written as "30s" or as nanoseconds.
type Duration struct {
	time.Duration
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	switch vv := v.(type) {
	case float64:
		d.Duration = time.Duration(vv)
	case string:
		if vv == "" {
			d.Duration = 0
			return nil
		}
		parsed, err := time.ParseDuration(vv)
		if err != nil {
			return fmt.Errorf("parse duration %q: %w", vv, err)
		}
		d.Duration = parsed
	case nil:
		d.Duration = 0
	default:
		return fmt.Errorf("invalid duration %v", v)
	}
	return nil
}

// envVarRe matches ${VAR} and ${VAR:default} patterns.
var envVarRe = regexp.MustCompile(`\$\{(\w+)(?::([^}]*))?\}`)

// Load reads a JSON config file and substitutes environment variable references.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	return Parse(data)
}

// Parse substitutes environment variable references in data, decodes it and
// fills in defaults.
func Parse(data []byte) (*Config, error) {
	// Substitute ${VAR} and ${VAR:default} with environment values.
	resolved := envVarRe.ReplaceAllStringFunc(string(data), func(match string) string {
		parts := envVarRe.FindStringSubmatch(match)
		name := parts[1]
		defaultVal := parts[2]
		if v := os.Getenv(name); v != "" {
			return v
		}
		return defaultVal
	})

	var cfg Config
	if err := json.Unmarshal([]byte(resolved), &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.applyDefaults()
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.LogLevel == "" {
		c.Server.LogLevel = "info"
	}
	if c.SkillsDir == "" {
		c.SkillsDir = "skills"
	}
	if c.Database.Postgres.MigrationsDir == "" {
		c.Database.Postgres.MigrationsDir = "migrations"
	}
	if c.Runtime.Concurrency <= 0 {
		c.Runtime.Concurrency = 4
	}
	if c.Runtime.BatchConcurrency <= 0 {
		c.Runtime.BatchConcurrency = 1
	}
	if c.Runtime.BatchSize <= 0 {
		c.Runtime.BatchSize = 32
	}
}
