package config

import (
	"fmt"
	"os"
	"time"

	"runbox/pkg/utils/logger"

	"gopkg.in/yaml.v3"
)

const (
	DefaultBaseURL  = "https://runner.example.dev"
	DefaultLanguage = "python"
	DefaultTimeout  = 10 * time.Second
)

// Config holds CLI configuration.
type Config struct {
	BaseURL  string        `yaml:"baseURL"`
	Language string        `yaml:"language"`
	Timeout  time.Duration `yaml:"timeout"`
	Args     []string      `yaml:"args"`
	CFlags   []string      `yaml:"cflags"`
	Logger   logger.Config `yaml:"logger"`
}

// Default returns the configuration used when no config file exists.
func Default() Config {
	cfg := Config{}
	applyDefaults(&cfg)
	return cfg
}

// Load reads and validates a YAML config file.
func Load(path string) (Config, error) {
	cfg := Config{}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config file failed: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config file failed: %w", err)
	}
	applyDefaults(&cfg)
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Language == "" {
		cfg.Language = DefaultLanguage
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}
	// Keep the terminal clean unless asked for more.
	if cfg.Logger.Level == "" {
		cfg.Logger.Level = "warn"
	}
}
