// Package config loads the server configuration from the environment and an
// optional .env / config.env file. Environment variables win over the file.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	App       AppConfig
	HTTP      HTTPConfig
	DB        DBConfig
	Lock      LockConfig
	Reconcile ReconcileConfig
}

type AppConfig struct {
	Env      string // development, production
	LogLevel string
}

type HTTPConfig struct {
	Port        int
	CORSOrigins []string
}

func (c HTTPConfig) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}

type DBConfig struct {
	Driver string // sqlite, postgres, memory
	Path   string // sqlite file
	URL    string // postgres connection string
}

type LockConfig struct {
	Backend   string // local, redis
	Timeout   time.Duration
	RedisAddr string
	RedisTTL  time.Duration
}

type ReconcileConfig struct {
	Interval time.Duration // 0 disables the scheduler
}

// Load reads ./.env, ./config.env or ./config/config.env if present, then
// the environment.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigType("env")

	v.SetConfigName(".env")
	v.AddConfigPath(".")
	if err := readOptional(v); err != nil {
		return nil, err
	}
	v.SetConfigName("config")
	v.AddConfigPath("./config")
	if err := readOptional(v); err != nil {
		return nil, err
	}
	return build(v)
}

// LoadFile reads the given env-format file, then the environment.
func LoadFile(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("env")
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	return build(v)
}

func readOptional(v *viper.Viper) error {
	err := v.MergeInConfig()
	var notFound viper.ConfigFileNotFoundError
	if err == nil || errors.As(err, &notFound) {
		return nil
	}
	return fmt.Errorf("read config: %w", err)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("APP_ENV", "development")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("HTTP_PORT", 8080)
	v.SetDefault("CORS_ORIGINS", "*")
	v.SetDefault("DB_DRIVER", "sqlite")
	v.SetDefault("DB_PATH", "./data/ledger.db")
	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("LOCK_BACKEND", "local")
	v.SetDefault("LOCK_TIMEOUT", "5s")
	v.SetDefault("REDIS_ADDR", "localhost:6379")
	v.SetDefault("REDIS_LOCK_TTL", "30s")
	v.SetDefault("RECONCILE_INTERVAL", "1h")
}

func build(v *viper.Viper) (*Config, error) {
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	setDefaults(v)

	cfg := &Config{
		App: AppConfig{
			Env:      v.GetString("APP_ENV"),
			LogLevel: v.GetString("LOG_LEVEL"),
		},
		HTTP: HTTPConfig{
			Port:        v.GetInt("HTTP_PORT"),
			CORSOrigins: splitList(v.GetString("CORS_ORIGINS")),
		},
		DB: DBConfig{
			Driver: strings.ToLower(v.GetString("DB_DRIVER")),
			Path:   v.GetString("DB_PATH"),
			URL:    v.GetString("DATABASE_URL"),
		},
		Lock: LockConfig{
			Backend:   strings.ToLower(v.GetString("LOCK_BACKEND")),
			Timeout:   v.GetDuration("LOCK_TIMEOUT"),
			RedisAddr: v.GetString("REDIS_ADDR"),
			RedisTTL:  v.GetDuration("REDIS_LOCK_TTL"),
		},
		Reconcile: ReconcileConfig{
			Interval: v.GetDuration("RECONCILE_INTERVAL"),
		},
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the combinations the server cannot start with.
func (c *Config) Validate() error {
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("HTTP_PORT %d out of range", c.HTTP.Port)
	}
	switch c.DB.Driver {
	case "memory":
	case "sqlite":
		if c.DB.Path == "" {
			return errors.New("DB_PATH is required for the sqlite driver")
		}
	case "postgres":
		if c.DB.URL == "" {
			return errors.New("DATABASE_URL is required for the postgres driver")
		}
	default:
		return fmt.Errorf("unknown DB_DRIVER %q (sqlite, postgres, memory)", c.DB.Driver)
	}
	switch c.Lock.Backend {
	case "local":
	case "redis":
		if c.Lock.RedisAddr == "" {
			return errors.New("REDIS_ADDR is required for the redis lock backend")
		}
	default:
		return fmt.Errorf("unknown LOCK_BACKEND %q (local, redis)", c.Lock.Backend)
	}
	if c.Lock.Timeout <= 0 {
		return errors.New("LOCK_TIMEOUT must be positive")
	}
	if c.Reconcile.Interval < 0 {
		return errors.New("RECONCILE_INTERVAL must not be negative")
	}
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
