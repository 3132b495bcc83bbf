// ABOUTME: Configuration loading and parsing for daybreak
// ABOUTME: Supports YAML files with environment variable expansion and duration parsing

package config

import (
	"encoding/hex"
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete daybreak configuration
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Auth     AuthConfig     `yaml:"auth"`
	Chat     ChatConfig     `yaml:"chat"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// ServerConfig holds server address configuration
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path string `yaml:"path"`
	// SealingKey is a hex-encoded 32-byte key used to encrypt provider
	// credentials at rest. Leave empty to store them unencrypted.
	SealingKey string `yaml:"sealing_key"`
}

// AuthConfig holds authentication configuration
type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret"`
}

// ChatConfig holds generation and history tuning. UpstreamTimeout bounds
// whole one-shot calls and the idle gap between chunks of a stream.
type ChatConfig struct {
	HistoryLimit    int           `yaml:"history_limit"`
	UpstreamTimeout time.Duration `yaml:"-"`

	// Raw string value for YAML unmarshaling
	UpstreamTimeoutRaw string `yaml:"upstream_timeout"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables in the raw YAML content
	expandedData := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// applyDefaults fills unset optional fields
func (c *Config) applyDefaults() {
	if c.Server.HTTPAddr == "" {
		c.Server.HTTPAddr = ":8080"
	}
	if c.Chat.HistoryLimit <= 0 {
		c.Chat.HistoryLimit = 50
	}
	if c.Chat.UpstreamTimeout <= 0 {
		c.Chat.UpstreamTimeout = 30 * time.Second
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}

	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret is required")
	}

	if c.Database.SealingKey != "" {
		key, err := hex.DecodeString(c.Database.SealingKey)
		if err != nil {
			return fmt.Errorf("database.sealing_key must be hex encoded: %w", err)
		}
		if len(key) != 32 {
			return fmt.Errorf("database.sealing_key must decode to 32 bytes, got %d", len(key))
		}
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be one of debug, info, warn, error")
	}

	return nil
}

// SealingKeyBytes returns the decoded sealing key, or nil when unset.
// Validate must have succeeded first.
func (c *Config) SealingKeyBytes() []byte {
	if c.Database.SealingKey == "" {
		return nil
	}
	key, err := hex.DecodeString(c.Database.SealingKey)
	if err != nil {
		return nil
	}
	return key
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	var err error

	if cfg.Chat.UpstreamTimeoutRaw != "" {
		cfg.Chat.UpstreamTimeout, err = time.ParseDuration(cfg.Chat.UpstreamTimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing upstream_timeout %q: %w", cfg.Chat.UpstreamTimeoutRaw, err)
		}
	}

	return nil
}
