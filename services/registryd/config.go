package registryd

import (
	"errors"
	"fmt"
	"io"
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

// RateLimitConfig bounds write traffic per client.
type RateLimitConfig struct {
	RequestsPerMinute float64 `yaml:"requests_per_minute"`
	Burst             int     `yaml:"burst"`
}

// Config captures the runtime configuration for registryd.
type Config struct {
	ListenAddress string          `yaml:"listen"`
	AuditPath     string          `yaml:"audit_log"`
	SweepInterval Duration        `yaml:"sweep_interval"`
	LogRequests   bool            `yaml:"log_requests"`
	WriteLimit    RateLimitConfig `yaml:"write_limit"`
}

// LoadConfig reads configuration from the supplied path. An empty path yields
// defaults so the service boots without a file; REGISTRY_LISTEN and
// REGISTRY_AUDIT_LOG override either source.
func LoadConfig(path string) (Config, error) {
	cfg := Config{}
	if strings.TrimSpace(path) != "" {
		file, err := os.Open(path)
		if err != nil {
			return cfg, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()
		dec := yaml.NewDecoder(file)
		if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
			return cfg, fmt.Errorf("decode config: %w", err)
		}
	}
	applyEnvOverrides(&cfg)
	applyDefaults(&cfg)
	if err := validateConfig(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := strings.TrimSpace(os.Getenv("REGISTRY_LISTEN")); v != "" {
		cfg.ListenAddress = v
	}
	if v := strings.TrimSpace(os.Getenv("REGISTRY_AUDIT_LOG")); v != "" {
		cfg.AuditPath = v
	}
}

func applyDefaults(cfg *Config) {
	if cfg.ListenAddress == "" {
		cfg.ListenAddress = ":8090"
	}
	if cfg.SweepInterval.Duration == 0 {
		cfg.SweepInterval.Duration = 5 * time.Second
	}
	if cfg.WriteLimit.RequestsPerMinute == 0 {
		cfg.WriteLimit.RequestsPerMinute = 120
	}
	if cfg.WriteLimit.Burst == 0 {
		cfg.WriteLimit.Burst = 20
	}
}

func validateConfig(cfg Config) error {
	if !strings.Contains(cfg.ListenAddress, ":") {
		return fmt.Errorf("listen must be a host:port address")
	}
	if cfg.SweepInterval.Duration < time.Second {
		return fmt.Errorf("sweep_interval must be at least 1s")
	}
	if cfg.WriteLimit.RequestsPerMinute < 0 {
		return fmt.Errorf("write_limit.requests_per_minute must not be negative")
	}
	return nil
}
