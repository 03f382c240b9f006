package cache

import (
	"context"
	"crypto/sha256"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/passbi/timetable_core/internal/models"
	"github.com/redis/go-redis/v9"
)

// departuresPrefix namespaces every cached query result
const departuresPrefix = "departures:"

// Config holds Redis configuration
type Config struct {
	Enabled    bool   `yaml:"enabled"`
	Host       string `yaml:"host" validate:"required_if=Enabled true"`
	Port       int    `yaml:"port" validate:"omitempty,min=1,max=65535"`
	Password   string `yaml:"password"`
	DB         int    `yaml:"db" validate:"min=0"`
	TLSEnabled bool   `yaml:"tls_enabled"`
}

// LoadConfigFromEnv loads Redis configuration from environment variables
func LoadConfigFromEnv() *Config {
	c := &Config{Host: "localhost", Port: 6379}
	c.ApplyEnv()
	return c
}

// ApplyEnv overrides fields with the REDIS_* variables that are set
func (c *Config) ApplyEnv() {
	if v := os.Getenv("REDIS_ENABLED"); v != "" {
		c.Enabled = v == "true"
	}
	c.Host = getEnv("REDIS_HOST", c.Host)
	if port, err := strconv.Atoi(getEnv("REDIS_PORT", "")); err == nil {
		c.Port = port
	}
	c.Password = getEnv("REDIS_PASSWORD", c.Password)
	if db, err := strconv.Atoi(getEnv("REDIS_DB", "")); err == nil {
		c.DB = db
	}
	if v := os.Getenv("REDIS_TLS_ENABLED"); v != "" {
		c.TLSEnabled = v == "true"
	}
}

// Addr returns host:port
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Client wraps a Redis connection used for query caching and import locking
type Client struct {
	rdb *redis.Client
}

// Connect opens a Redis client and checks it answers
func Connect(ctx context.Context, config *Config) (*Client, error) {
	opts := &redis.Options{
		Addr:         config.Addr(),
		Password:     config.Password,
		DB:           config.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
		MinIdleConns: 2,
	}

	// Managed Redis offerings (e.g. Upstash) require TLS
	if config.TLSEnabled {
		opts.TLSConfig = &tls.Config{
			MinVersion: tls.VersionTLS12,
		}
	}

	rdb := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := rdb.Ping(pingCtx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &Client{rdb: rdb}, nil
}

// Redis exposes the underlying client
func (c *Client) Redis() *redis.Client {
	return c.rdb
}

// Close closes the Redis client
func (c *Client) Close() error {
	return c.rdb.Close()
}

// DeparturesKey generates the cache key of a departures/arrivals query
func DeparturesKey(mode models.TimeMode, stopName string, date models.Date, ref string) string {
	// Stop names are free text and matched exactly, case included
	hash := sha256.Sum256([]byte(stopName))
	return fmt.Sprintf("%s%s:%x:%s:%s", departuresPrefix, mode, hash[:8], date, ref)
}

// GetJSON decodes the value stored at key into dest.
// Returns false on a cache miss.
func (c *Client) GetJSON(ctx context.Context, key string, dest interface{}) (bool, error) {
	data, err := c.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	if err := json.Unmarshal(data, dest); err != nil {
		return false, fmt.Errorf("failed to unmarshal cached value: %w", err)
	}
	return true, nil
}

// SetJSON stores value at key as JSON
func (c *Client) SetJSON(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal value: %w", err)
	}
	return c.rdb.Set(ctx, key, data, ttl).Err()
}

// GetStopTimes retrieves a cached query result
func (c *Client) GetStopTimes(ctx context.Context, key string) ([]models.StopTime, bool, error) {
	var stopTimes []models.StopTime
	ok, err := c.GetJSON(ctx, key, &stopTimes)
	if err != nil || !ok {
		return nil, false, err
	}
	if stopTimes == nil {
		stopTimes = []models.StopTime{}
	}
	return stopTimes, true, nil
}

// SetStopTimes caches a query result
func (c *Client) SetStopTimes(ctx context.Context, key string, stopTimes []models.StopTime, ttl time.Duration) error {
	return c.SetJSON(ctx, key, stopTimes, ttl)
}

// InvalidateDepartures drops every cached query result
func (c *Client) InvalidateDepartures(ctx context.Context) error {
	var cursor uint64
	for {
		keys, next, err := c.rdb.Scan(ctx, cursor, departuresPrefix+"*", 500).Result()
		if err != nil {
			return fmt.Errorf("failed to scan cached departures: %w", err)
		}
		if len(keys) > 0 {
			if err := c.rdb.Del(ctx, keys...).Err(); err != nil {
				return fmt.Errorf("failed to delete cached departures: %w", err)
			}
		}
		cursor = next
		if cursor == 0 {
			return nil
		}
	}
}

// AcquireLock attempts to acquire a distributed lock
// Returns true if lock was acquired, false if already locked
func (c *Client) AcquireLock(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	// Try to set the lock key with NX (only if not exists)
	ok, err := c.rdb.SetNX(ctx, key, "1", ttl).Result()
	if err != nil {
		return false, err
	}

	return ok, nil
}

// ReleaseLock releases a distributed lock
func (c *Client) ReleaseLock(ctx context.Context, key string) error {
	return c.rdb.Del(ctx, key).Err()
}

// HealthCheck performs a health check on the Redis connection
func (c *Client) HealthCheck(ctx context.Context) error {
	if err := c.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("Redis ping failed: %w", err)
	}
	return nil
}

// Stats returns Redis connection pool stats
func (c *Client) Stats() map[string]interface{} {
	poolStats := c.rdb.PoolStats()

	return map[string]interface{}{
		"hits":        poolStats.Hits,
		"misses":      poolStats.Misses,
		"timeouts":    poolStats.Timeouts,
		"total_conns": poolStats.TotalConns,
		"idle_conns":  poolStats.IdleConns,
		"stale_conns": poolStats.StaleConns,
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
