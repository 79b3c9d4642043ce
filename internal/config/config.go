// Package config loads gemi-memory settings from an optional YAML file and
// GEMI_MEMORY_* environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// ProjectDir is the per-user directory holding the database and config.
const ProjectDir = ".gemi-memory"

// EnvPrefix prefixes every environment override: llm.model is read from
// GEMI_MEMORY_LLM_MODEL.
const EnvPrefix = "GEMI_MEMORY"

// Config is the full application configuration.
type Config struct {
	DBPath      string `mapstructure:"db_path"`
	MemoryLimit int    `mapstructure:"memory_limit"`
	LogLevel    string `mapstructure:"log_level"`

	LLM        LLM        `mapstructure:"llm"`
	Extraction Extraction `mapstructure:"extraction"`
	Retrieval  Retrieval  `mapstructure:"retrieval"`
	Daemon     Daemon     `mapstructure:"daemon"`

	// File is the config file that was read, if any.
	File string `mapstructure:"-"`
}

// LLM selects the language model used for extraction.
type LLM struct {
	Provider   string        `mapstructure:"provider"`
	Model      string        `mapstructure:"model"`
	BaseURL    string        `mapstructure:"base_url"`
	APIKey     string        `mapstructure:"api_key"`
	Timeout    time.Duration `mapstructure:"timeout"`
	MaxRetries int           `mapstructure:"max_retries"`
}

// Extraction tunes the extraction pipeline.
type Extraction struct {
	MaxPerEntry   int `mapstructure:"max_per_entry"`
	Parallelism   int `mapstructure:"parallelism"`
	RatePerMinute int `mapstructure:"rate_per_minute"`
	QueueSize     int `mapstructure:"queue_size"`
}

// Retrieval tunes context selection.
type Retrieval struct {
	DefaultK      int           `mapstructure:"default_k"`
	RecencyWindow time.Duration `mapstructure:"recency_window"`
	RecencyBonus  float64       `mapstructure:"recency_bonus"`
}

// Daemon tunes the background service.
type Daemon struct {
	Interval    time.Duration `mapstructure:"interval"`
	MetricsAddr string        `mapstructure:"metrics_addr"`
}

func setDefaults(v *viper.Viper, home string) {
	v.SetDefault("db_path", filepath.Join(home, ProjectDir, "memory.db"))
	v.SetDefault("memory_limit", 50)
	v.SetDefault("log_level", "info")

	v.SetDefault("llm.provider", "ollama")
	v.SetDefault("llm.model", "gemma3n:latest")
	v.SetDefault("llm.base_url", "")
	v.SetDefault("llm.api_key", "")
	v.SetDefault("llm.timeout", "60s")
	v.SetDefault("llm.max_retries", 2)

	v.SetDefault("extraction.max_per_entry", 5)
	v.SetDefault("extraction.parallelism", 2)
	v.SetDefault("extraction.rate_per_minute", 30)
	v.SetDefault("extraction.queue_size", 64)

	v.SetDefault("retrieval.default_k", 10)
	v.SetDefault("retrieval.recency_window", "168h")
	v.SetDefault("retrieval.recency_bonus", 1.0)

	v.SetDefault("daemon.interval", "5m")
	v.SetDefault("daemon.metrics_addr", "127.0.0.1:9464")
}

// Load reads configuration. An explicit cfgFile must exist; otherwise
// ~/.gemi-memory/config.yml is read when present.
func Load(cfgFile string) (*Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("find home directory: %w", err)
	}

	v := viper.New()
	setDefaults(v, home)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", cfgFile, err)
		}
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yml")
		v.AddConfigPath(filepath.Join(home, ProjectDir))
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.File = v.ConfigFileUsed()
	cfg.LLM.Provider = strings.ToLower(strings.TrimSpace(cfg.LLM.Provider))

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	switch {
	case c.DBPath == "":
		return errors.New("config: db_path is empty")
	case c.MemoryLimit < 1:
		return fmt.Errorf("config: memory_limit must be positive, got %d", c.MemoryLimit)
	case c.Extraction.MaxPerEntry < 1:
		return fmt.Errorf("config: extraction.max_per_entry must be positive, got %d", c.Extraction.MaxPerEntry)
	case c.Extraction.Parallelism < 1:
		return fmt.Errorf("config: extraction.parallelism must be positive, got %d", c.Extraction.Parallelism)
	case c.Extraction.RatePerMinute < 0:
		return fmt.Errorf("config: extraction.rate_per_minute must not be negative, got %d", c.Extraction.RatePerMinute)
	case c.Retrieval.DefaultK < 0:
		return fmt.Errorf("config: retrieval.default_k must not be negative, got %d", c.Retrieval.DefaultK)
	case c.Retrieval.RecencyWindow <= 0:
		return fmt.Errorf("config: retrieval.recency_window must be positive, got %s", c.Retrieval.RecencyWindow)
	case c.Daemon.Interval <= 0:
		return fmt.Errorf("config: daemon.interval must be positive, got %s", c.Daemon.Interval)
	}
	switch c.LLM.Provider {
	case "ollama", "openai", "none":
	default:
		return fmt.Errorf("config: unknown llm.provider %q (valid: ollama, openai, none)", c.LLM.Provider)
	}
	return nil
}
