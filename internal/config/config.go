// Package config loads escrowd configuration from a YAML file and
// ESCROW_* environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Storage drivers.
const (
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
)

// EnvPrefix prefixes every environment override, e.g. ESCROW_SERVER_ADDR.
const EnvPrefix = "ESCROW"

// Config holds all configuration for escrowd
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Storage StorageConfig `mapstructure:"storage"`
	Events  EventsConfig  `mapstructure:"events"`
	Notify  NotifyConfig  `mapstructure:"notify"`
	Escrow  EscrowConfig  `mapstructure:"escrow"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Addr            string        `mapstructure:"addr"`
	CORSOrigins     []string      `mapstructure:"cors_origins"`
	EnableFaucet    bool          `mapstructure:"enable_faucet"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// StorageConfig selects where swaps and ledger accounts live
type StorageConfig struct {
	Driver      string `mapstructure:"driver"`
	PostgresDSN string `mapstructure:"postgres_dsn"`
}

// EventsConfig holds the optional event sinks. Empty values disable a sink.
type EventsConfig struct {
	ClickHouseDSN string `mapstructure:"clickhouse_dsn"`
	RedisURL      string `mapstructure:"redis_url"`
	RedisStream   string `mapstructure:"redis_stream"`
}

// NotifyConfig holds outbox dispatcher configuration
type NotifyConfig struct {
	PollInterval time.Duration `mapstructure:"poll_interval"`
	BatchSize    int           `mapstructure:"batch_size"`
	MaxElapsed   time.Duration `mapstructure:"max_elapsed"`
}

// EscrowConfig holds registry limits
type EscrowConfig struct {
	MaxBasketSize int `mapstructure:"max_basket_size"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// LoadConfig loads configuration from file and environment variables.
// A missing config file is not an error when configPath is empty.
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("escrowd")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("$HOME/.escrowd")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configPath != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := validateConfig(cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("server.enable_faucet", false)
	v.SetDefault("server.shutdown_timeout", "15s")

	v.SetDefault("storage.driver", DriverMemory)
	v.SetDefault("storage.postgres_dsn", "")

	v.SetDefault("events.clickhouse_dsn", "")
	v.SetDefault("events.redis_url", "")
	v.SetDefault("events.redis_stream", "escrow:swap-events")

	v.SetDefault("notify.poll_interval", "1s")
	v.SetDefault("notify.batch_size", 100)
	v.SetDefault("notify.max_elapsed", "30s")

	v.SetDefault("escrow.max_basket_size", 32)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

// validateConfig validates the loaded configuration
func validateConfig(cfg *Config) error {
	if cfg.Server.Addr == "" {
		return fmt.Errorf("server.addr is required")
	}

	switch cfg.Storage.Driver {
	case DriverMemory:
	case DriverPostgres:
		if cfg.Storage.PostgresDSN == "" {
			return fmt.Errorf("storage.postgres_dsn is required for driver %q", DriverPostgres)
		}
	default:
		return fmt.Errorf("storage.driver must be %q or %q, got %q", DriverMemory, DriverPostgres, cfg.Storage.Driver)
	}

	if cfg.Notify.PollInterval <= 0 {
		return fmt.Errorf("notify.poll_interval must be positive")
	}
	if cfg.Notify.BatchSize <= 0 {
		return fmt.Errorf("notify.batch_size must be positive")
	}
	if cfg.Notify.MaxElapsed <= 0 {
		return fmt.Errorf("notify.max_elapsed must be positive")
	}
	if cfg.Escrow.MaxBasketSize <= 0 {
		return fmt.Errorf("escrow.max_basket_size must be positive")
	}

	switch cfg.Logging.Format {
	case "json", "console":
	default:
		return fmt.Errorf("logging.format must be json or console, got %q", cfg.Logging.Format)
	}
	return nil
}
