// Package config loads the pacer configuration file and watches it for
// changes.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	gperrors "github.com/vnykmshr/gopace/pkg/common/errors"
	"github.com/vnykmshr/gopace/pkg/common/validation"
)

const module = "config"

// Config is the pacer configuration.
type Config struct {
	FPS           float64         `yaml:"fps"`
	ThrottleDelay time.Duration   `yaml:"throttle_delay"`
	WindowSize    int             `yaml:"window_size"`
	Metrics       MetricsConfig   `yaml:"metrics"`
	Redis         RedisConfig     `yaml:"redis"`
	Schedule      []ScheduleEntry `yaml:"schedule"`
	Log           LogConfig       `yaml:"log"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// RedisConfig controls the Redis statistics sink. An empty Addr disables it.
type RedisConfig struct {
	Addr        string        `yaml:"addr"`
	Key         string        `yaml:"key"`
	TTL         time.Duration `yaml:"ttl"`
	MinInterval time.Duration `yaml:"min_interval"`
}

// ScheduleEntry is a cron-driven change of the target rate.
type ScheduleEntry struct {
	ID   string  `yaml:"id"`
	Cron string  `yaml:"cron"`
	FPS  float64 `yaml:"fps"`
}

// LogConfig selects the log level and output format.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // console or json
}

// Default returns the configuration used when no file is given. Fields
// missing from a file keep these values.
func Default() *Config {
	return &Config{
		FPS:           30,
		ThrottleDelay: time.Millisecond,
		WindowSize:    10,
		Metrics: MetricsConfig{
			Addr: ":9108",
		},
		Redis: RedisConfig{
			Key:         "gopace:stats",
			TTL:         time.Minute,
			MinInterval: 250 * time.Millisecond,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// Load reads and validates the file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML on top of Default and validates the result. Unknown
// keys are rejected.
func Parse(data []byte) (*Config, error) {
	cfg := Default()

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("yaml unmarshal: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks every field.
func (c *Config) Validate() error {
	if err := validation.ValidatePositiveFloat(module, "fps", c.FPS); err != nil {
		return err
	}
	if err := validation.ValidateNonNegativeDuration(module, "throttle_delay", c.ThrottleDelay); err != nil {
		return err
	}
	if err := validation.ValidateNonNegative(module, "window_size", float64(c.WindowSize)); err != nil {
		return err
	}

	if c.Metrics.Enabled {
		if err := validation.ValidateNotEmpty(module, "metrics.addr", c.Metrics.Addr); err != nil {
			return err
		}
	}

	if c.Redis.Addr != "" {
		if err := validation.ValidateNotEmpty(module, "redis.key", c.Redis.Key); err != nil {
			return err
		}
	}
	if err := validation.ValidateNonNegativeDuration(module, "redis.ttl", c.Redis.TTL); err != nil {
		return err
	}
	if err := validation.ValidateNonNegativeDuration(module, "redis.min_interval", c.Redis.MinInterval); err != nil {
		return err
	}

	seen := make(map[string]bool, len(c.Schedule))
	for i, e := range c.Schedule {
		field := fmt.Sprintf("schedule[%d]", i)
		if err := validation.ValidateNotEmpty(module, field+".id", e.ID); err != nil {
			return err
		}
		if seen[e.ID] {
			return gperrors.NewValidationError(module, field+".id", e.ID, "duplicate id")
		}
		seen[e.ID] = true
		if err := validation.ValidateNotEmpty(module, field+".cron", e.Cron); err != nil {
			return err
		}
		if err := validation.ValidatePositiveFloat(module, field+".fps", e.FPS); err != nil {
			return err
		}
	}

	if _, err := zerolog.ParseLevel(c.Log.Level); err != nil {
		return gperrors.NewValidationError(module, "log.level", c.Log.Level, "unknown level").
			WithHint("use trace, debug, info, warn or error")
	}
	switch c.Log.Format {
	case "console", "json":
	default:
		return gperrors.NewValidationError(module, "log.format", c.Log.Format, "unknown format").
			WithHint("use console or json")
	}
	return nil
}
