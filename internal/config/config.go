// Package config loads the YAML configuration of the byteevents command.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the whole configuration file.
type Config struct {
	Log     LogConfig     `yaml:"log"`
	Server  ServerConfig  `yaml:"server"`
	Session SessionConfig `yaml:"session"`
	Bench   BenchConfig   `yaml:"bench"`
}

// LogConfig controls the process logger.
type LogConfig struct {
	// Level is one of debug, info, warn or error.
	Level string `yaml:"level"`
	// Format is text or json.
	Format string `yaml:"format"`
}

// ServerConfig controls the serve command.
type ServerConfig struct {
	Addr string `yaml:"addr"`
}

// SessionConfig selects the timestamps every session waits for.
type SessionConfig struct {
	TxTimestamps       bool          `yaml:"tx_timestamps"`
	AckTimestamps      bool          `yaml:"ack_timestamps"`
	SoftwareTimestamps bool          `yaml:"software_timestamps"`
	TimestampTimeout   time.Duration `yaml:"timestamp_timeout"`
}

// BenchConfig is the default load of the bench command.
type BenchConfig struct {
	Requests    int           `yaml:"requests"`
	Concurrency int           `yaml:"concurrency"`
	Rate        float64       `yaml:"rate"`
	Events      int           `yaml:"events"`
	Size        int           `yaml:"size"`
	Interval    time.Duration `yaml:"interval"`
	Pings       int           `yaml:"pings"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Log: LogConfig{Level: "info", Format: "text"},
		Server: ServerConfig{
			Addr: "127.0.0.1:8080",
		},
		Session: SessionConfig{
			TxTimestamps:       true,
			AckTimestamps:      false,
			SoftwareTimestamps: true,
			TimestampTimeout:   500 * time.Millisecond,
		},
		Bench: BenchConfig{
			Requests:    100,
			Concurrency: 10,
			Events:      20,
			Size:        256,
			Pings:       100,
		},
	}
}

// Load reads the file at path over the defaults. An empty path returns the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config file %s: %w", path, err)
	}
	return cfg, nil
}

// Validate reports every invalid value at once.
func (c *Config) Validate() error {
	var errs []error

	if _, err := ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, err)
	}
	if c.Log.Format != "text" && c.Log.Format != "json" {
		errs = append(errs, fmt.Errorf("log.format must be text or json, got %q", c.Log.Format))
	}
	if c.Server.Addr == "" {
		errs = append(errs, errors.New("server.addr is required"))
	}
	if c.Session.TimestampTimeout <= 0 {
		errs = append(errs, errors.New("session.timestamp_timeout must be positive"))
	}
	if c.Bench.Requests < 0 || c.Bench.Pings < 0 {
		errs = append(errs, errors.New("bench.requests and bench.pings must not be negative"))
	}
	if c.Bench.Concurrency <= 0 {
		errs = append(errs, errors.New("bench.concurrency must be greater than 0"))
	}
	if c.Bench.Rate < 0 {
		errs = append(errs, errors.New("bench.rate must not be negative"))
	}
	if c.Bench.Events <= 0 || c.Bench.Size <= 0 {
		errs = append(errs, errors.New("bench.events and bench.size must be greater than 0"))
	}
	if c.Bench.Interval < 0 {
		errs = append(errs, errors.New("bench.interval must not be negative"))
	}
	return errors.Join(errs...)
}

// ParseLevel converts a level name into a slog.Level.
func ParseLevel(level string) (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(strings.ToUpper(level))); err != nil {
		return 0, fmt.Errorf("log.level must be debug, info, warn or error, got %q", level)
	}
	return l, nil
}
