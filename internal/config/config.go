package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/caarlos0/env/v10"

	"github.com/livinlefevreloca/stationsync/internal/db"
	"github.com/livinlefevreloca/stationsync/internal/extract"
	"github.com/livinlefevreloca/stationsync/internal/lock"
	"github.com/livinlefevreloca/stationsync/internal/scheduler"
	"github.com/livinlefevreloca/stationsync/internal/settlement"
	"github.com/livinlefevreloca/stationsync/internal/store/mongo"
)

// EnvPrefix is prepended to every environment override
const EnvPrefix = "STATIONSYNC_"

// Config represents the application configuration
type Config struct {
	Database   db.Config               `toml:"database"`
	Mongo      mongo.Config            `toml:"mongo"`
	Partitions []mongo.PartitionConfig `toml:"partitions"`
	Settlement settlement.Config       `toml:"settlement"`
	Scheduler  scheduler.Config        `toml:"scheduler"`
	Extract    extract.Config          `toml:"extract"`
	Lock       lock.Config             `toml:"lock"`
	Logging    LoggingConfig           `toml:"logging"`
}

// LoggingConfig holds logging settings
type LoggingConfig struct {
	Level  string `toml:"level" env:"LEVEL"`
	Format string `toml:"format" env:"FORMAT"`
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Database:   db.DefaultConfig(),
		Mongo:      mongo.DefaultConfig(),
		Partitions: mongo.DefaultPartitions(),
		Settlement: settlement.DefaultConfig(),
		Scheduler:  scheduler.DefaultConfig(),
		Extract:    extract.DefaultConfig(),
		Lock:       lock.DefaultConfig(),
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// LoadFromFile loads configuration from a TOML file over the defaults
func LoadFromFile(path string) (*Config, error) {
	config := DefaultConfig()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, fmt.Errorf("config file does not exist: %s", path)
	}

	// A [[partitions]] table in the file replaces the default list
	config.Partitions = nil
	if _, err := toml.DecodeFile(path, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	if len(config.Partitions) == 0 {
		config.Partitions = mongo.DefaultPartitions()
	}

	return config, nil
}

// LoadConfig loads configuration with the following precedence:
// 1. Default values
// 2. Config file (if specified)
// 3. Environment variables prefixed with STATIONSYNC_
// 4. Command-line flags (handled by caller)
func LoadConfig(configPath string) (*Config, error) {
	config := DefaultConfig()

	if configPath != "" {
		fileConfig, err := LoadFromFile(configPath)
		if err != nil {
			return nil, err
		}
		config = fileConfig
	}

	if err := ApplyEnv(config); err != nil {
		return nil, err
	}

	return config, nil
}

// ApplyEnv overrides secrets and endpoints from the environment
func ApplyEnv(config *Config) error {
	sections := []struct {
		prefix string
		target any
	}{
		{"DATABASE_", &config.Database},
		{"MONGO_", &config.Mongo},
		{"SETTLEMENT_", &config.Settlement},
		{"LOCK_", &config.Lock},
		{"LOG_", &config.Logging},
	}

	for _, s := range sections {
		if err := env.ParseWithOptions(s.target, env.Options{Prefix: EnvPrefix + s.prefix}); err != nil {
			return fmt.Errorf("failed to read %s%s* environment: %w", EnvPrefix, s.prefix, err)
		}
	}
	return nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if err := c.Database.Validate(); err != nil {
		return fmt.Errorf("database: %w", err)
	}
	if err := c.Mongo.Validate(); err != nil {
		return fmt.Errorf("mongo: %w", err)
	}

	if len(c.Partitions) == 0 {
		return fmt.Errorf("at least one partition must be configured")
	}
	seen := make(map[string]bool, len(c.Partitions))
	for _, p := range c.Partitions {
		if p.Name == "" {
			return fmt.Errorf("partition name must not be empty")
		}
		if seen[p.Name] {
			return fmt.Errorf("partition %q configured twice", p.Name)
		}
		seen[p.Name] = true
	}

	if err := c.Settlement.Validate(); err != nil {
		return fmt.Errorf("settlement: %w", err)
	}
	if err := c.Scheduler.Validate(); err != nil {
		return fmt.Errorf("scheduler: %w", err)
	}
	if err := c.Extract.Validate(); err != nil {
		return fmt.Errorf("extract: %w", err)
	}
	if err := c.Lock.Validate(); err != nil {
		return fmt.Errorf("lock: %w", err)
	}

	if _, err := c.Logging.SlogLevel(); err != nil {
		return err
	}
	if c.Logging.Format != "text" && c.Logging.Format != "json" {
		return fmt.Errorf("invalid log format: %s (must be text or json)", c.Logging.Format)
	}

	return nil
}

// SlogLevel maps the configured level name to a slog.Level
func (l LoggingConfig) SlogLevel() (slog.Level, error) {
	switch strings.ToLower(l.Level) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", l.Level)
	}
}
