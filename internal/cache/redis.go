package cache

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/passbi/busrace/internal/models"
	"github.com/redis/go-redis/v9"
)

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Host       string
	Port       int
	Password   string
	DB         int
	TLS        bool
	ConnectMax time.Duration
}

// LoadRedisConfigFromEnv loads Redis configuration from environment variables
func LoadRedisConfigFromEnv() *RedisConfig {
	port, _ := strconv.Atoi(getEnv("REDIS_PORT", "6379"))
	db, _ := strconv.Atoi(getEnv("REDIS_DB", "0"))
	connectMax, err := time.ParseDuration(getEnv("REDIS_CONNECT_TIMEOUT", "30s"))
	if err != nil {
		connectMax = 30 * time.Second
	}

	return &RedisConfig{
		Host:       getEnv("REDIS_HOST", "localhost"),
		Port:       port,
		Password:   getEnv("REDIS_PASSWORD", ""),
		DB:         db,
		TLS:        getEnv("REDIS_TLS_ENABLED", "false") == "true",
		ConnectMax: connectMax,
	}
}

// NewRedisClient connects to Redis, retrying the initial ping with
// exponential backoff for up to cfg.ConnectMax
func NewRedisClient(ctx context.Context, cfg *RedisConfig) (*redis.Client, error) {
	opts := &redis.Options{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
		MinIdleConns: 2,
	}

	// Enable TLS if configured (required for Upstash)
	if cfg.TLS {
		opts.TLSConfig = &tls.Config{
			MinVersion: tls.VersionTLS12,
		}
	}

	client := redis.NewClient(opts)

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxElapsedTime = cfg.ConnectMax

	err := backoff.Retry(func() error {
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		return client.Ping(pingCtx).Err()
	}, backoff.WithContext(b, ctx))
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return client, nil
}

// RedisStore mirrors operator snapshots as JSON blobs with a TTL
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisStore creates a snapshot mirror; ttl <= 0 keeps keys forever
func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, ttl: ttl}
}

// SnapshotKey generates the cache key for an operator's snapshot
func SnapshotKey(operator string) string {
	return fmt.Sprintf("snapshot:%s", operator)
}

// Save stores the snapshot
func (s *RedisStore) Save(ctx context.Context, snap models.Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}
	return s.client.Set(ctx, SnapshotKey(snap.Operator), data, s.ttl).Err()
}

// Load retrieves a snapshot; a miss returns nil, nil
func (s *RedisStore) Load(ctx context.Context, operator string) (*models.Snapshot, error) {
	data, err := s.client.Get(ctx, SnapshotKey(operator)).Bytes()
	if err == redis.Nil {
		return nil, nil // cache miss
	}
	if err != nil {
		return nil, err
	}

	var snap models.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("failed to unmarshal cached snapshot: %w", err)
	}
	return &snap, nil
}

// HealthCheck performs a health check on the Redis connection
func (s *RedisStore) HealthCheck(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("Redis ping failed: %w", err)
	}
	return nil
}

// Close closes the Redis client
func (s *RedisStore) Close() error {
	return s.client.Close()
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
