package db

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Config holds database configuration
type Config struct {
	Host       string
	Port       int
	Database   string
	User       string
	Password   string
	SSLMode    string
	MinConns   int32
	MaxConns   int32
	ConnectMax time.Duration
}

// LoadConfigFromEnv loads database configuration from environment variables
func LoadConfigFromEnv() *Config {
	port, _ := strconv.Atoi(getEnv("DB_PORT", "5432"))
	minConns, _ := strconv.Atoi(getEnv("DB_MIN_CONNS", "1"))
	maxConns, _ := strconv.Atoi(getEnv("DB_MAX_CONNS", "5"))
	connectMax, err := time.ParseDuration(getEnv("DB_CONNECT_TIMEOUT", "30s"))
	if err != nil {
		connectMax = 30 * time.Second
	}

	return &Config{
		Host:       getEnv("DB_HOST", "localhost"),
		Port:       port,
		Database:   getEnv("DB_NAME", "busrace"),
		User:       getEnv("DB_USER", "postgres"),
		Password:   getEnv("DB_PASSWORD", ""),
		SSLMode:    getEnv("DB_SSLMODE", "disable"),
		MinConns:   int32(minConns),
		MaxConns:   int32(maxConns),
		ConnectMax: connectMax,
	}
}

// ConnString renders the config as a libpq key/value string
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

// PoolConfig builds the pgxpool settings without connecting
func PoolConfig(config *Config) (*pgxpool.Config, error) {
	poolConfig, err := pgxpool.ParseConfig(config.ConnString())
	if err != nil {
		return nil, fmt.Errorf("unable to parse connection string: %w", err)
	}

	poolConfig.MinConns = config.MinConns
	poolConfig.MaxConns = config.MaxConns
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute
	poolConfig.HealthCheckPeriod = time.Minute

	// Disable prepared statements for transaction-mode poolers
	if config.Port == 6543 {
		poolConfig.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol
	}
	return poolConfig, nil
}

// NewPool creates a pool and waits, with exponential backoff, until the
// database answers a ping or config.ConnectMax elapses
func NewPool(ctx context.Context, config *Config) (*pgxpool.Pool, error) {
	poolConfig, err := PoolConfig(config)
	if err != nil {
		return nil, err
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxElapsedTime = config.ConnectMax

	err = backoff.Retry(func() error {
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		return pool.Ping(pingCtx)
	}, backoff.WithContext(b, ctx))
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	return pool, nil
}

// HealthCheck verifies the pool can reach the stop table
func HealthCheck(ctx context.Context, pool *pgxpool.Pool) error {
	if err := pool.Ping(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}

	var n int
	if err := pool.QueryRow(ctx, "SELECT count(*) FROM stop").Scan(&n); err != nil {
		return fmt.Errorf("stop table not available: %w", err)
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
