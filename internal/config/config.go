// Package config loads the server configuration from a YAML file, with
// environment variables taking precedence so containerized deployments can
// override individual settings without editing the file.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration so YAML values like "30s" parse.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}

	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}

	*d = Duration(parsed)
	return nil
}

func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

type WorkerConfig struct {
	Kind         string   `yaml:"kind"`
	Capabilities []string `yaml:"capabilities"`
}

type HealthConfig struct {
	HealthyRatio     float64  `yaml:"healthy_ratio"`
	DegradedRatio    float64  `yaml:"degraded_ratio"`
	HeartbeatTimeout Duration `yaml:"heartbeat_timeout"`
}

type AlertsConfig struct {
	SendgridAPIKey string `yaml:"sendgrid_api_key"`
	FromName       string `yaml:"from_name"`
	FromAddress    string `yaml:"from_address"`
	ToAddress      string `yaml:"to_address"`
}

type Config struct {
	Port        string         `yaml:"port"`
	LogLevel    string         `yaml:"log_level"`
	RedisAddr   string         `yaml:"redis_addr"`
	PostgresDSN string         `yaml:"postgres_dsn"`
	Health      HealthConfig   `yaml:"health"`
	Alerts      AlertsConfig   `yaml:"alerts"`
	Workers     []WorkerConfig `yaml:"workers"`
}

func Default() *Config {
	return &Config{
		Port:      "8080",
		LogLevel:  "info",
		RedisAddr: "localhost:6379",
		Health: HealthConfig{
			HealthyRatio:     0.8,
			DegradedRatio:    0.5,
			HeartbeatTimeout: Duration(30 * time.Second),
		},
		Workers: []WorkerConfig{
			{Kind: "frontend", Capabilities: []string{"react", "typescript"}},
			{Kind: "backend", Capabilities: []string{"express", "api"}},
			{Kind: "ai-services", Capabilities: []string{"inference", "embeddings"}},
			{Kind: "database", Capabilities: []string{"postgres", "migrations"}},
			{Kind: "integration", Capabilities: []string{"webhooks", "sync"}},
		},
	}
}

// Load reads the YAML file at path into the defaults, then applies
// environment overrides. A missing file is not an error: the defaults plus
// environment are a complete configuration.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err == nil {
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parsing config file: %w", err)
			}
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("PORT"); v != "" {
		c.Port = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		c.RedisAddr = v
	}
	if v := os.Getenv("POSTGRES_DSN"); v != "" {
		c.PostgresDSN = v
	}
	if v := os.Getenv("SENDGRID_API_KEY"); v != "" {
		c.Alerts.SendgridAPIKey = v
	}
}

func (c *Config) Validate() error {
	if c.Port == "" {
		return errors.New("port must not be empty")
	}
	if c.RedisAddr == "" {
		return errors.New("redis_addr must not be empty")
	}
	if len(c.Workers) == 0 {
		return errors.New("at least one worker kind must be configured")
	}
	for _, w := range c.Workers {
		if w.Kind == "" {
			return errors.New("worker kind must not be empty")
		}
	}
	if c.Health.HealthyRatio < c.Health.DegradedRatio {
		return errors.New("health.healthy_ratio must be >= health.degraded_ratio")
	}
	if c.Health.HealthyRatio > 1 || c.Health.DegradedRatio < 0 {
		return errors.New("health ratios must be within [0,1]")
	}
	return nil
}
