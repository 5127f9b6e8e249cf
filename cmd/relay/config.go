package main

import (
	"fmt"
	"os"
	"time"

	"runbox/internal/relay/middleware"
	"runbox/internal/remote"
	"runbox/pkg/utils/logger"

	"gopkg.in/yaml.v3"
)

const (
	defaultHTTPAddr        = "0.0.0.0:8086"
	defaultReadTimeout     = 5 * time.Second
	defaultWriteTimeout    = 30 * time.Second
	defaultIdleTimeout     = 60 * time.Second
	defaultShutdownTimeout = 10 * time.Second
)

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Addr         string        `yaml:"addr"`
	ReadTimeout  time.Duration `yaml:"readTimeout"`
	WriteTimeout time.Duration `yaml:"writeTimeout"`
	IdleTimeout  time.Duration `yaml:"idleTimeout"`
}

// UpstreamConfig holds execution service client settings.
type UpstreamConfig struct {
	BaseURL     string        `yaml:"baseURL"`
	Timeout     time.Duration `yaml:"timeout"`
	EndpointTTL time.Duration `yaml:"endpointTTL"`
}

// AuthConfig holds token verification settings. An empty secret
// disables authentication.
type AuthConfig struct {
	Secret string `yaml:"secret"`
	Issuer string `yaml:"issuer"`
}

// RedisConfig holds shared endpoint cache settings. Optional.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// DatabaseConfig holds execution history settings. Optional.
type DatabaseConfig struct {
	DSN string `yaml:"dsn"`
}

// CORSConfig holds browser client settings. Optional.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowedOrigins"`
}

// LimitsConfig bounds concurrent upstream executions.
type LimitsConfig struct {
	MaxConcurrent int           `yaml:"maxConcurrent"`
	AdmissionWait time.Duration `yaml:"admissionWait"`
}

// AppConfig holds relay config.
type AppConfig struct {
	Server   ServerConfig   `yaml:"server"`
	Logger   logger.Config  `yaml:"logger"`
	Upstream UpstreamConfig `yaml:"upstream"`
	Auth     AuthConfig     `yaml:"auth"`
	Redis    RedisConfig    `yaml:"redis"`
	Database DatabaseConfig `yaml:"database"`
	CORS     CORSConfig     `yaml:"cors"`
	Limits   LimitsConfig   `yaml:"limits"`
}

func loadYAML(path string, out interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file failed: %w", err)
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("parse config file failed: %w", err)
	}
	return nil
}

func loadAppConfig(path string) (*AppConfig, error) {
	var cfg AppConfig
	if err := loadYAML(path, &cfg); err != nil {
		return nil, err
	}
	if cfg.Upstream.BaseURL == "" {
		return nil, fmt.Errorf("upstream baseURL is required")
	}
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = defaultHTTPAddr
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = defaultReadTimeout
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = defaultWriteTimeout
	}
	if cfg.Server.IdleTimeout == 0 {
		cfg.Server.IdleTimeout = defaultIdleTimeout
	}
	if cfg.Upstream.Timeout == 0 {
		cfg.Upstream.Timeout = remote.DefaultTimeout
	}
	if cfg.Server.WriteTimeout <= cfg.Upstream.Timeout {
		return nil, fmt.Errorf("server writeTimeout must exceed upstream timeout")
	}
	return &cfg, nil
}

func (a AuthConfig) toMiddlewareConfig() middleware.AuthConfig {
	return middleware.AuthConfig{
		Secret: a.Secret,
		Issuer: a.Issuer,
	}
}
