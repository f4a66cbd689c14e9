// Package config loads application settings from an optional YAML file with
// environment variable overrides, and sets up logging.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/raphaelgruber/gatechat/internal/models"
)

// Config holds all configuration values.
type Config struct {
	// DataDir holds both databases and the default log file.
	DataDir string

	// Logging
	LogFile  string
	LogLevel slog.Level

	// Gateway requests
	RequestTimeout time.Duration

	// Defaults for new conversations
	DefaultProvider models.Provider
	DefaultModel    string
}

// fileConfig mirrors Config for the YAML file, with string-typed fields
// where Config uses richer types.
type fileConfig struct {
	DataDir         string `yaml:"data_dir"`
	LogFile         string `yaml:"log_file"`
	LogLevel        string `yaml:"log_level"`
	RequestTimeout  string `yaml:"request_timeout"`
	DefaultProvider string `yaml:"default_provider"`
	DefaultModel    string `yaml:"default_model"`
}

// Load builds the configuration in three layers: built-in defaults, then the
// YAML config file (when present), then GATECHAT_* environment variables.
// The config file location itself comes from GATECHAT_CONFIG, defaulting to
// <data dir>/config.yaml. A missing file is fine; an unreadable one is not.
func Load() (Config, error) {
	cfg := defaults()

	path := os.Getenv("GATECHAT_CONFIG")
	if path == "" {
		path = filepath.Join(cfg.DataDir, "config.yaml")
	}
	if err := applyFile(&cfg, path); err != nil {
		return Config{}, err
	}
	if err := applyEnv(&cfg); err != nil {
		return Config{}, err
	}

	if cfg.DefaultModel == "" {
		cfg.DefaultModel = cfg.DefaultProvider.DefaultModel()
	}
	if cfg.LogFile == "" {
		cfg.LogFile = filepath.Join(cfg.DataDir, "gatechat.log")
	}
	return cfg, nil
}

func defaults() Config {
	dataDir := filepath.Join(".", ".gatechat")
	if home, err := os.UserHomeDir(); err == nil {
		dataDir = filepath.Join(home, ".gatechat")
	}
	return Config{
		DataDir:         dataDir,
		LogLevel:        slog.LevelInfo,
		RequestTimeout:  30 * time.Second,
		DefaultProvider: models.ProviderOpenAI,
	}
}

func applyFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("reading config file %s: %w", path, err)
	}

	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("parsing config file %s: %w", path, err)
	}

	if fc.DataDir != "" {
		cfg.DataDir = fc.DataDir
	}
	if fc.LogFile != "" {
		cfg.LogFile = fc.LogFile
	}
	if fc.LogLevel != "" {
		cfg.LogLevel = parseLogLevel(fc.LogLevel)
	}
	if fc.RequestTimeout != "" {
		d, err := time.ParseDuration(fc.RequestTimeout)
		if err != nil {
			return fmt.Errorf("config file %s: request_timeout: %w", path, err)
		}
		cfg.RequestTimeout = d
	}
	if fc.DefaultProvider != "" {
		p, err := models.ParseProvider(fc.DefaultProvider)
		if err != nil {
			return fmt.Errorf("config file %s: default_provider: %w", path, err)
		}
		cfg.DefaultProvider = p
	}
	if fc.DefaultModel != "" {
		cfg.DefaultModel = fc.DefaultModel
	}
	return nil
}

func applyEnv(cfg *Config) error {
	cfg.DataDir = getEnv("GATECHAT_DATA_DIR", cfg.DataDir)
	cfg.LogFile = getEnv("GATECHAT_LOG_FILE", cfg.LogFile)
	cfg.DefaultModel = getEnv("GATECHAT_DEFAULT_MODEL", cfg.DefaultModel)

	if v := os.Getenv("GATECHAT_LOG_LEVEL"); v != "" {
		cfg.LogLevel = parseLogLevel(v)
	}
	if v := os.Getenv("GATECHAT_REQUEST_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("GATECHAT_REQUEST_TIMEOUT: %w", err)
		}
		cfg.RequestTimeout = d
	}
	if v := os.Getenv("GATECHAT_DEFAULT_PROVIDER"); v != "" {
		p, err := models.ParseProvider(v)
		if err != nil {
			return fmt.Errorf("GATECHAT_DEFAULT_PROVIDER: %w", err)
		}
		cfg.DefaultProvider = p
	}
	return nil
}

// ServersDBPath is the server registry database location.
func (c Config) ServersDBPath() string {
	return filepath.Join(c.DataDir, "servers.db")
}

// ChatDBPath is the conversation database location.
func (c Config) ChatDBPath() string {
	return filepath.Join(c.DataDir, "chat.db")
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToUpper(s) {
	case "DEBUG":
		return slog.LevelDebug
	case "INFO":
		return slog.LevelInfo
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
