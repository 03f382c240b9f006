package db

import (
	"context"
	_ "embed"
	"fmt"
	"log"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed schema_postgres.sql
var postgresSchema string

var (
	pool     *pgxpool.Pool
	poolOnce sync.Once
	poolErr  error
)

// Config holds database configuration
type Config struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port" validate:"gt=0,lt=65536"`
	Database string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"sslmode" validate:"omitempty,oneof=disable allow prefer require verify-ca verify-full"`
	MinConns int32  `yaml:"min_conns" validate:"gte=0"`
	MaxConns int32  `yaml:"max_conns" validate:"gtefield=MinConns"`
}

// LoadConfigFromEnv loads database configuration from environment variables
func LoadConfigFromEnv() *Config {
	cfg := &Config{
		Host:     "localhost",
		Port:     5432,
		Database: "timetable",
		User:     "postgres",
		SSLMode:  "disable",
		MinConns: 2,
		MaxConns: 10,
	}
	cfg.ApplyEnv()
	return cfg
}

// ApplyEnv overrides fields that have a DB_* environment variable set
func (c *Config) ApplyEnv() {
	port, _ := strconv.Atoi(getEnv("DB_PORT", strconv.Itoa(c.Port)))
	minConns, _ := strconv.Atoi(getEnv("DB_MIN_CONNS", strconv.Itoa(int(c.MinConns))))
	maxConns, _ := strconv.Atoi(getEnv("DB_MAX_CONNS", strconv.Itoa(int(c.MaxConns))))

	c.Host = getEnv("DB_HOST", c.Host)
	c.Port = port
	c.Database = getEnv("DB_NAME", c.Database)
	c.User = getEnv("DB_USER", c.User)
	c.Password = getEnv("DB_PASSWORD", c.Password)
	c.SSLMode = getEnv("DB_SSLMODE", c.SSLMode)
	c.MinConns = int32(minConns)
	c.MaxConns = int32(maxConns)
}

// ConnString renders the config as a libpq keyword/value string
func (c *Config) ConnString() string {
	return fmt.Sprintf(
		"host=%s port=%d dbname=%s user=%s password=%s sslmode=%s",
		c.Host,
		c.Port,
		c.Database,
		c.User,
		c.Password,
		c.SSLMode,
	)
}

// InitPoolWithConfig initializes the global connection pool (singleton pattern).
// Close releases it.
func InitPoolWithConfig(config *Config) (*pgxpool.Pool, error) {
	poolOnce.Do(func() {
		pool, poolErr = initPool(config)
	})
	return pool, poolErr
}

// initPool creates and initializes a new pgxpool.Pool
func initPool(config *Config) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(config.ConnString())
	if err != nil {
		return nil, fmt.Errorf("unable to parse connection string: %w", err)
	}

	poolConfig.MinConns = config.MinConns
	poolConfig.MaxConns = config.MaxConns
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute
	poolConfig.HealthCheckPeriod = time.Minute

	// Transaction-mode poolers reject named prepared statements
	if config.Port == 6543 {
		poolConfig.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	return pool, nil
}

// EnsureSchema creates the schedule tables if they don't exist
func EnsureSchema(ctx context.Context, p *pgxpool.Pool) error {
	if _, err := p.Exec(ctx, postgresSchema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	log.Println("Database schema ensured")
	return nil
}

// Close closes the database connection pool
func Close() {
	if pool != nil {
		pool.Close()
	}
}

// HealthCheck performs a health check on the database connection
func HealthCheck(ctx context.Context, p *pgxpool.Pool) error {
	if p == nil {
		return fmt.Errorf("database connection not initialized")
	}

	if err := p.Ping(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}

	var n int
	if err := p.QueryRow(ctx, "SELECT COUNT(*) FROM route").Scan(&n); err != nil {
		return fmt.Errorf("schedule schema not available: %w", err)
	}

	return nil
}

// getEnv retrieves an environment variable with a fallback default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
