package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration to support YAML unmarshalling.
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses human readable duration strings.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value == nil {
		return nil
	}
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("duration must be string")
	}
	raw := value.Value
	if raw == "" {
		d.Duration = 0
		return nil
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", raw, err)
	}
	d.Duration = parsed
	return nil
}

// Config captures runtime configuration for queued.
type Config struct {
	ListenAddress string          `yaml:"listen"`
	NodeConfig    string          `yaml:"node_config"`
	NonceDB       string          `yaml:"nonce_db"`
	Auth          AuthConfig      `yaml:"auth"`
	RateLimits    RateLimits      `yaml:"rate_limits"`
	Telemetry     TelemetryConfig `yaml:"telemetry"`
	Log           LogConfig       `yaml:"log"`
	Server        ServerConfig    `yaml:"server"`
}

// AuthConfig enables HMAC bearer tokens carrying queue:read / queue:write scopes.
type AuthConfig struct {
	Enabled    bool     `yaml:"enabled"`
	HMACSecret string   `yaml:"hmac_secret"`
	Issuer     string   `yaml:"issuer"`
	Audience   string   `yaml:"audience"`
	ClockSkew  Duration `yaml:"clock_skew"`
}

// RateLimit bounds requests per client.
type RateLimit struct {
	RequestsPerMinute float64 `yaml:"requests_per_minute"`
	Burst             int     `yaml:"burst"`
}

// RateLimits groups read and write limits.
type RateLimits struct {
	Read  RateLimit `yaml:"read"`
	Write RateLimit `yaml:"write"`
}

// TelemetryConfig wires OTLP exporters.
type TelemetryConfig struct {
	Endpoint string `yaml:"endpoint"`
	Insecure bool   `yaml:"insecure"`
	Metrics  bool   `yaml:"metrics"`
	Traces   bool   `yaml:"traces"`
}

// LogConfig selects the log level and an optional rotating file. Empty values
// fall back to the node configuration.
type LogConfig struct {
	Level string `yaml:"level"`
	File  string `yaml:"file"`
}

// ServerConfig tunes the HTTP server.
type ServerConfig struct {
	ReadHeaderTimeout Duration `yaml:"read_header_timeout"`
	ShutdownTimeout   Duration `yaml:"shutdown_timeout"`
	EventBuffer       int      `yaml:"event_buffer"`
}

// Load reads configuration from the supplied path.
func Load(path string) (Config, error) {
	cfg := Config{}
	file, err := os.Open(path)
	if err != nil {
		return cfg, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()
	dec := yaml.NewDecoder(file)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return cfg, fmt.Errorf("decode config: %w", err)
	}
	applyDefaults(&cfg)
	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.ListenAddress == "" {
		cfg.ListenAddress = ":7080"
	}
	if cfg.NodeConfig == "" {
		cfg.NodeConfig = "config.toml"
	}
	if cfg.NonceDB == "" {
		cfg.NonceDB = "./queued-nonces"
	}
	if cfg.Auth.ClockSkew.Duration == 0 {
		cfg.Auth.ClockSkew.Duration = 2 * time.Minute
	}
	if cfg.RateLimits.Read.RequestsPerMinute == 0 {
		cfg.RateLimits.Read.RequestsPerMinute = 600
	}
	if cfg.RateLimits.Read.Burst == 0 {
		cfg.RateLimits.Read.Burst = 60
	}
	if cfg.RateLimits.Write.RequestsPerMinute == 0 {
		cfg.RateLimits.Write.RequestsPerMinute = 120
	}
	if cfg.RateLimits.Write.Burst == 0 {
		cfg.RateLimits.Write.Burst = 20
	}
	if cfg.Server.ReadHeaderTimeout.Duration == 0 {
		cfg.Server.ReadHeaderTimeout.Duration = 5 * time.Second
	}
	if cfg.Server.ShutdownTimeout.Duration == 0 {
		cfg.Server.ShutdownTimeout.Duration = 5 * time.Second
	}
	if cfg.Server.EventBuffer <= 0 {
		cfg.Server.EventBuffer = 64
	}
}

func validate(cfg Config) error {
	if cfg.Auth.Enabled && strings.TrimSpace(cfg.Auth.HMACSecret) == "" {
		return fmt.Errorf("auth.hmac_secret must be set when auth is enabled")
	}
	if cfg.RateLimits.Read.RequestsPerMinute < 0 || cfg.RateLimits.Write.RequestsPerMinute < 0 {
		return fmt.Errorf("rate limits must not be negative")
	}
	if (cfg.Telemetry.Metrics || cfg.Telemetry.Traces) && strings.TrimSpace(cfg.Telemetry.Endpoint) == "" {
		return fmt.Errorf("telemetry.endpoint must be set when exporters are enabled")
	}
	return nil
}
