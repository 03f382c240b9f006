// Package config loads the application configuration from config.yml and the environment.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/passbi/timetable_core/internal/cache"
	"github.com/passbi/timetable_core/internal/db"
	"gopkg.in/yaml.v3"
)

const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
	StoreSQLite   = "sqlite"
)

// Config is the application configuration
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Store     StoreConfig     `yaml:"store"`
	Database  db.Config       `yaml:"database"`
	Redis     cache.Config    `yaml:"redis"`
	Storage   StorageConfig   `yaml:"storage"`
	RateLimit RateLimitConfig `yaml:"ratelimit"`
}

type ServerConfig struct {
	Port          string `yaml:"port" validate:"required,numeric"`
	BodyLimitMB   int    `yaml:"body_limit_mb" validate:"gt=0"`
	AllowedOrigin string `yaml:"allowed_origin"`
}

type StoreConfig struct {
	Driver     string `yaml:"driver" validate:"required,oneof=memory postgres sqlite"`
	SQLitePath string `yaml:"sqlite_path" validate:"required_if=Driver sqlite"`
}

type StorageConfig struct {
	Root string `yaml:"root" validate:"required"`
}

// RateLimitConfig limits requests per client IP; zero disables a limit
type RateLimitConfig struct {
	PerSecond int `yaml:"per_second" validate:"gte=0"`
	PerDay    int `yaml:"per_day" validate:"gte=0"`
}

// Default returns the configuration used when nothing is set
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:          "8080",
			BodyLimitMB:   50,
			AllowedOrigin: "*",
		},
		Store: StoreConfig{
			Driver:     StoreMemory,
			SQLitePath: "timetable.db",
		},
		Database: *db.LoadConfigFromEnv(),
		Redis:    *cache.LoadConfigFromEnv(),
		Storage:  StorageConfig{Root: "uploads"},
		RateLimit: RateLimitConfig{
			PerSecond: 10,
			PerDay:    10000,
		},
	}
}

// Load reads the YAML file named by CONFIG_FILE (default config.yml) when it
// exists, applies environment overrides and validates the result
func Load() (*Config, error) {
	return LoadFile(getEnv("CONFIG_FILE", "config.yml"))
}

// LoadFile is Load with an explicit path. A missing file is not an error.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", path, err)
		}
	case errors.Is(err, fs.ErrNotExist):
	default:
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks every section
func (c *Config) Validate() error {
	v := validator.New()
	sections := []interface{}{c.Server, c.Store, c.Storage, c.RateLimit, c.Redis}
	if c.Store.Driver == StorePostgres {
		sections = append(sections, c.Database)
	}
	for _, s := range sections {
		if err := v.Struct(s); err != nil {
			return fmt.Errorf("invalid configuration: %w", err)
		}
	}
	return nil
}

func (c *Config) applyEnv() {
	c.Server.Port = getEnv("PORT", c.Server.Port)
	c.Server.AllowedOrigin = getEnv("ALLOWED_ORIGIN", c.Server.AllowedOrigin)
	c.Store.Driver = getEnv("STORE_DRIVER", c.Store.Driver)
	c.Store.SQLitePath = getEnv("SQLITE_PATH", c.Store.SQLitePath)
	c.Storage.Root = getEnv("UPLOAD_ROOT", c.Storage.Root)

	if n, err := strconv.Atoi(getEnv("RATE_LIMIT_PER_SECOND", "")); err == nil {
		c.RateLimit.PerSecond = n
	}
	if n, err := strconv.Atoi(getEnv("RATE_LIMIT_PER_DAY", "")); err == nil {
		c.RateLimit.PerDay = n
	}

	c.Database.ApplyEnv()
	c.Redis.ApplyEnv()
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
