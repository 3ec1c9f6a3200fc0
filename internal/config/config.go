// Package config loads the YAML configuration file and applies documented
// defaults. Unknown keys are ignored; unset keys inherit defaults.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/egehanasal/apidouble/internal/chaos"
	"github.com/egehanasal/apidouble/internal/engine"
	"github.com/egehanasal/apidouble/internal/matcher"
)

// Config is the full file shape.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Target   TargetConfig   `yaml:"target"`
	Storage  StorageConfig  `yaml:"storage"`
	CORS     CORSConfig     `yaml:"cors"`
	Chaos    ChaosConfig    `yaml:"chaos"`
	Matching MatchingConfig `yaml:"matching"`
}

type ServerConfig struct {
	Port int    `yaml:"port"`
	Mode string `yaml:"mode"`
}

type TargetConfig struct {
	URL string `yaml:"url"`
	// Timeout bounds the upstream round-trip, in seconds.
	Timeout int `yaml:"timeout"`
}

type StorageConfig struct {
	// Type is one of "lowdb" (JSON file journal), "sqlite", "redis".
	Type string `yaml:"type"`
	Path string `yaml:"path"`
	Addr string `yaml:"addr"`
	DB   int    `yaml:"db"`
}

type CORSConfig struct {
	Enabled *bool    `yaml:"enabled"`
	Origins []string `yaml:"origins"`
}

type ChaosConfig struct {
	Enabled   bool                `yaml:"enabled"`
	Latency   chaos.LatencyConfig `yaml:"latency"`
	ErrorRate float64             `yaml:"errorRate"`
}

type MatchingConfig struct {
	Strategy          string   `yaml:"strategy"`
	IgnoreHeaders     []string `yaml:"ignoreHeaders"`
	IgnoreQueryParams []string `yaml:"ignoreQueryParams"`
}

// Default returns the documented defaults.
func Default() Config {
	enabled := true
	return Config{
		Server:  ServerConfig{Port: 3001, Mode: string(engine.ModeMock)},
		Target:  TargetConfig{Timeout: 30},
		Storage: StorageConfig{Type: "lowdb", Path: "./mocks/db.json"},
		CORS:    CORSConfig{Enabled: &enabled, Origins: []string{"*"}},
		Matching: MatchingConfig{
			Strategy: string(matcher.StrategySmart),
		},
	}
}

// Load reads path (when non-empty) over the defaults and validates the
// result. A missing explicit file is an error; an empty path just yields
// defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate checks cross-field constraints.
func (c Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	mode, err := engine.ParseMode(c.Server.Mode)
	if err != nil {
		return fmt.Errorf("server.mode: %w", err)
	}
	if mode.RequiresUpstream() && c.Target.URL == "" {
		return fmt.Errorf("server.mode %q requires target.url", mode)
	}
	switch c.Storage.Type {
	case "", "lowdb", "file", "sqlite", "redis":
	default:
		return fmt.Errorf("storage.type %q unknown (must be lowdb, sqlite or redis)", c.Storage.Type)
	}
	if _, err := matcher.ParseStrategy(c.Matching.Strategy); err != nil {
		return fmt.Errorf("matching.strategy: %w", err)
	}
	if c.Chaos.Enabled {
		if err := c.Chaos.Latency.Validate(); err != nil {
			return fmt.Errorf("chaos.latency: %w", err)
		}
		if c.Chaos.ErrorRate < 0 || c.Chaos.ErrorRate > 100 {
			return fmt.Errorf("chaos.errorRate %v out of range", c.Chaos.ErrorRate)
		}
	}
	return nil
}

// UpstreamTimeout converts target.timeout to a duration.
func (c Config) UpstreamTimeout() time.Duration {
	return time.Duration(c.Target.Timeout) * time.Second
}

// CORSEnabled resolves the tri-state flag (unset means enabled).
func (c Config) CORSEnabled() bool {
	return c.CORS.Enabled == nil || *c.CORS.Enabled
}
