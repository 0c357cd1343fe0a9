// Package config loads service configuration from YAML with environment
// overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v2"
)

// Config is the full service configuration.
type Config struct {
	Environment string         `yaml:"environment"`
	Server      ServerConfig   `yaml:"server"`
	Auth        AuthConfig     `yaml:"auth"`
	Storage     StorageConfig  `yaml:"storage"`
	Redis       RedisConfig    `yaml:"redis"`
	Throttle    ThrottleConfig `yaml:"throttle"`
	Log         LogConfig      `yaml:"log"`
	Tracing     TracingConfig  `yaml:"tracing"`
}

// ServerConfig holds listener settings.
type ServerConfig struct {
	HTTPAddr        string        `yaml:"http_addr"`
	GRPCAddr        string        `yaml:"grpc_addr"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	MaxBodyBytes    int64         `yaml:"max_body_bytes"`
}

// AuthConfig holds token and password settings. Secret has no default.
type AuthConfig struct {
	Issuer          string        `yaml:"issuer"`
	Secret          string        `yaml:"secret"`
	SessionLifetime time.Duration `yaml:"session_lifetime"`
	BcryptCost      int           `yaml:"bcrypt_cost"`
}

// StorageConfig selects the persistence backend.
//
// The memory driver starts empty and nothing in the service seeds it, so
// every login fails until a test harness populates the store. It is only
// accepted in the dev and test environments.
type StorageConfig struct {
	Driver          string        `yaml:"driver"` // postgres or memory
	DSN             string        `yaml:"dsn"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time"`
}

// RedisConfig enables the shared login throttle when URL is set. Any
// server from Redis 2.6.12 on works.
type RedisConfig struct {
	URL          string        `yaml:"url"`
	PoolSize     int           `yaml:"pool_size"`
	DialTimeout  time.Duration `yaml:"dial_timeout"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// ThrottleConfig bounds login attempts per client, tenant and username.
type ThrottleConfig struct {
	Enabled   bool          `yaml:"enabled"`
	PerSecond float64       `yaml:"per_second"`
	Burst     int           `yaml:"burst"`
	Window    time.Duration `yaml:"window"`
}

// LogConfig configures the zap logger.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// TracingConfig configures OTLP export. An empty endpoint disables it.
type TracingConfig struct {
	Endpoint    string  `yaml:"endpoint"`
	Insecure    bool    `yaml:"insecure"`
	SampleRatio float64 `yaml:"sample_ratio"`
}

// Default returns the configuration used before file and environment are applied.
func Default() Config {
	return Config{
		Environment: "dev",
		Server: ServerConfig{
			HTTPAddr:        ":8080",
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    15 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			MaxBodyBytes:    1 << 20,
		},
		Auth: AuthConfig{
			Issuer:          "chatarra",
			SessionLifetime: time.Hour,
			BcryptCost:      11,
		},
		Storage: StorageConfig{
			Driver:          "postgres",
			MaxOpenConns:    50,
			MaxIdleConns:    25,
			ConnMaxLifetime: 15 * time.Minute,
			ConnMaxIdleTime: 5 * time.Minute,
		},
		Redis: RedisConfig{
			PoolSize:     10,
			DialTimeout:  2 * time.Second,
			ReadTimeout:  500 * time.Millisecond,
			WriteTimeout: 500 * time.Millisecond,
		},
		Throttle: ThrottleConfig{
			Enabled:   true,
			PerSecond: 0.2,
			Burst:     5,
			Window:    time.Minute,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Tracing: TracingConfig{
			SampleRatio: 1,
		},
	}
}

// Load applies defaults, then the YAML file at path (if any), then
// environment overrides, and validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}
	if err := applyEnv(&cfg, os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type lookupFunc func(string) (string, bool)

func applyEnv(cfg *Config, lookup lookupFunc) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok {
			*dst = strings.TrimSpace(v)
		}
	}
	var errs []error
	dur := func(key string, dst *time.Duration) {
		if v, ok := lookup(key); ok {
			d, err := time.ParseDuration(strings.TrimSpace(v))
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = d
		}
	}
	num := func(key string, dst *int) {
		if v, ok := lookup(key); ok {
			n, err := strconv.Atoi(strings.TrimSpace(v))
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = n
		}
	}

	str("CHATARRA_ENV", &cfg.Environment)
	str("CHATARRA_HTTP_ADDR", &cfg.Server.HTTPAddr)
	str("CHATARRA_GRPC_ADDR", &cfg.Server.GRPCAddr)
	str("CHATARRA_AUTH_ISSUER", &cfg.Auth.Issuer)
	if v, ok := lookup("CHATARRA_AUTH_SECRET"); ok {
		cfg.Auth.Secret = v
	}
	dur("CHATARRA_SESSION_LIFETIME", &cfg.Auth.SessionLifetime)
	num("CHATARRA_BCRYPT_COST", &cfg.Auth.BcryptCost)
	str("CHATARRA_STORAGE_DRIVER", &cfg.Storage.Driver)
	str("CHATARRA_PG_DSN", &cfg.Storage.DSN)
	str("CHATARRA_REDIS_URL", &cfg.Redis.URL)
	str("CHATARRA_LOG_LEVEL", &cfg.Log.Level)
	str("CHATARRA_LOG_FORMAT", &cfg.Log.Format)
	str("OTEL_EXPORTER_OTLP_ENDPOINT", &cfg.Tracing.Endpoint)
	return errors.Join(errs...)
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []error
	if len(c.Auth.Secret) < 32 {
		errs = append(errs, errors.New("auth.secret must be set and at least 32 bytes"))
	}
	if c.Auth.SessionLifetime <= 0 {
		errs = append(errs, errors.New("auth.session_lifetime must be positive"))
	}
	if c.Auth.BcryptCost < 4 || c.Auth.BcryptCost > 31 {
		errs = append(errs, errors.New("auth.bcrypt_cost must be between 4 and 31"))
	}
	switch c.Storage.Driver {
	case "postgres":
		if c.Storage.DSN == "" {
			errs = append(errs, errors.New("storage.dsn is required for the postgres driver"))
		}
	case "memory":
		if c.Environment != "dev" && c.Environment != "test" {
			errs = append(errs, fmt.Errorf("storage.driver memory is limited to dev and test, not %q", c.Environment))
		}
	default:
		errs = append(errs, fmt.Errorf("storage.driver %q is not supported", c.Storage.Driver))
	}
	if c.Server.HTTPAddr == "" {
		errs = append(errs, errors.New("server.http_addr is required"))
	}
	if c.Throttle.Enabled && (c.Throttle.Burst <= 0 || c.Throttle.PerSecond <= 0) {
		errs = append(errs, errors.New("throttle.burst and throttle.per_second must be positive"))
	}
	return errors.Join(errs...)
}
