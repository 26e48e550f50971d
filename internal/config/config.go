// Package config loads the agent configuration from defaults, an optional
// config file, RUNAGENT_* environment variables and command line flags, in
// increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const EnvPrefix = "RUNAGENT"

type Config struct {
	Listen ListenConfig `mapstructure:"listen"`
	Limits LimitsConfig `mapstructure:"limits"`
	Jobs   JobsConfig   `mapstructure:"jobs"`
	Sync   SyncConfig   `mapstructure:"sync"`
	API    APIConfig    `mapstructure:"api"`
	Server ServerConfig `mapstructure:"server"`
	Log    LogConfig    `mapstructure:"log"`
}

type ListenConfig struct {
	Host   string `mapstructure:"host"`
	Port   int    `mapstructure:"port"`
	Socket string `mapstructure:"socket"` // Unix socket path, replaces host and port
}

type LimitsConfig struct {
	MaxBodyBytes int64 `mapstructure:"max_body_bytes"`
}

type JobsConfig struct {
	MaxConcurrent int64 `mapstructure:"max_concurrent"` // 0 = unbounded
}

type SyncConfig struct {
	ExecutableMode  string `mapstructure:"executable_mode"` // octal, quote it in YAML
	HashConcurrency int    `mapstructure:"hash_concurrency"`
}

type APIConfig struct {
	ValidateRequests bool     `mapstructure:"validate_requests"`
	CORSOrigins      []string `mapstructure:"cors_origins"`
}

type ServerConfig struct {
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

// NewViper returns a viper instance with every key defaulted and the
// environment bound, ready for flags to be attached.
func NewViper() *viper.Viper {
	v := viper.New()

	v.SetDefault("listen.host", "127.0.0.1")
	v.SetDefault("listen.port", 0)
	v.SetDefault("listen.socket", "")
	v.SetDefault("limits.max_body_bytes", int64(1<<30))
	v.SetDefault("jobs.max_concurrent", 0)
	v.SetDefault("sync.executable_mode", "0777")
	v.SetDefault("sync.hash_concurrency", 8)
	v.SetDefault("api.validate_requests", true)
	v.SetDefault("api.cors_origins", []string{})
	v.SetDefault("server.shutdown_timeout", 10*time.Second)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size_mb", 100)
	v.SetDefault("log.max_backups", 3)
	v.SetDefault("log.max_age_days", 28)
	v.SetDefault("log.compress", false)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads file (when set) into v, then decodes and validates the result.
func Load(v *viper.Viper, file string) (*Config, error) {
	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", file, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	var errs []error

	if c.Listen.Socket == "" {
		if c.Listen.Port < 1 || c.Listen.Port > 65535 {
			errs = append(errs, fmt.Errorf("listen.port must be between 1 and 65535, got %d", c.Listen.Port))
		}
		if c.Listen.Host == "" {
			errs = append(errs, errors.New("listen.host must not be empty"))
		}
	}
	if c.Limits.MaxBodyBytes <= 0 {
		errs = append(errs, fmt.Errorf("limits.max_body_bytes must be positive, got %d", c.Limits.MaxBodyBytes))
	}
	if c.Jobs.MaxConcurrent < 0 {
		errs = append(errs, fmt.Errorf("jobs.max_concurrent must not be negative, got %d", c.Jobs.MaxConcurrent))
	}
	if c.Sync.HashConcurrency <= 0 {
		errs = append(errs, fmt.Errorf("sync.hash_concurrency must be positive, got %d", c.Sync.HashConcurrency))
	}
	if _, err := c.ExecutableMode(); err != nil {
		errs = append(errs, err)
	}
	if c.Server.ShutdownTimeout <= 0 {
		errs = append(errs, fmt.Errorf("server.shutdown_timeout must be positive, got %s", c.Server.ShutdownTimeout))
	}
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("log.level must be one of debug, info, warn, error, got %q", c.Log.Level))
	}
	switch strings.ToLower(c.Log.Format) {
	case "json", "text":
	default:
		errs = append(errs, fmt.Errorf("log.format must be json or text, got %q", c.Log.Format))
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid configuration: %w", errors.Join(errs...))
	}
	return nil
}

// ExecutableMode parses sync.executable_mode as an octal permission set.
func (c *Config) ExecutableMode() (os.FileMode, error) {
	mode, err := strconv.ParseUint(c.Sync.ExecutableMode, 8, 32)
	if err != nil || mode == 0 || mode > 0o777 {
		return 0, fmt.Errorf("sync.executable_mode must be an octal permission between 1 and 0777, got %q", c.Sync.ExecutableMode)
	}
	return os.FileMode(mode), nil
}

// Addr is the host:port the server binds, or unix:<path> in socket mode.
func (c *Config) Addr() string {
	if c.Listen.Socket != "" {
		return "unix:" + c.Listen.Socket
	}
	return net.JoinHostPort(c.Listen.Host, strconv.Itoa(c.Listen.Port))
}
