package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// ErrMissingClientName is returned on every request path when the upstream
// client identification is not configured
var ErrMissingClientName = errors.New("ENTUR_CLIENT_NAME is not configured.")

// Config is the full service configuration
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Upstream UpstreamConfig `yaml:"upstream"`
	Stops    StopsConfig    `yaml:"stops"`
	Cache    CacheConfig    `yaml:"cache"`
	Stream   StreamConfig   `yaml:"stream"`
	Logging  LoggingConfig  `yaml:"logging"`
	Redis    RedisConfig    `yaml:"redis"`
	NATS     NATSConfig     `yaml:"nats"`
	Metrics  MetricsConfig  `yaml:"metrics"`
}

type ServerConfig struct {
	Port string `yaml:"port" validate:"required,numeric"`
}

// UpstreamConfig describes the vehicle-monitoring endpoint
type UpstreamConfig struct {
	Endpoint   string        `yaml:"endpoint" validate:"required,url"`
	ClientName string        `yaml:"clientName"`
	MaxSize    int           `yaml:"maxSize" validate:"gt=0"`
	Timeout    time.Duration `yaml:"timeout" validate:"gt=0"`
}

type StopsConfig struct {
	Source string `yaml:"source" validate:"oneof=file postgres"`
	File   string `yaml:"file" validate:"required_if=Source file"`
}

// CacheConfig holds the operator cache and global rate limit settings
type CacheConfig struct {
	RefreshInterval time.Duration `yaml:"refreshInterval" validate:"gt=0"`
	RateLimitWindow time.Duration `yaml:"rateLimitWindow" validate:"gt=0"`
	RateLimitMax    int           `yaml:"rateLimitMax" validate:"gt=0"`
	NearbyRadiusM   float64       `yaml:"nearbyRadiusMeters" validate:"gt=0"`
	SnapshotTTL     time.Duration `yaml:"snapshotTTL" validate:"gte=0"`
}

type StreamConfig struct {
	Interval  time.Duration `yaml:"interval" validate:"gt=0"`
	Heartbeat time.Duration `yaml:"heartbeat" validate:"gt=0"`
}

type LoggingConfig struct {
	Level    string `yaml:"level" validate:"omitempty,oneof=debug info warn warning error fatal"`
	FilePath string `yaml:"file"`
}

type RedisConfig struct {
	Enabled bool `yaml:"enabled"`
}

type NATSConfig struct {
	URL           string `yaml:"url" validate:"omitempty,url"`
	SubjectPrefix string `yaml:"subjectPrefix" validate:"required"`
}

type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
}

// Defaults returns the configuration used when nothing overrides it
func Defaults() *Config {
	return &Config{
		Server: ServerConfig{Port: "8080"},
		Upstream: UpstreamConfig{
			Endpoint: "https://api.entur.io/realtime/v1/rest/vm",
			MaxSize:  1500,
			Timeout:  20 * time.Second,
		},
		Stops: StopsConfig{Source: "file", File: "data/stops.csv"},
		Cache: CacheConfig{
			RefreshInterval: 15 * time.Second,
			RateLimitWindow: 60 * time.Second,
			RateLimitMax:    4,
			NearbyRadiusM:   1000,
			SnapshotTTL:     2 * time.Minute,
		},
		Stream:  StreamConfig{Interval: 15 * time.Second, Heartbeat: 2 * time.Second},
		Logging: LoggingConfig{Level: "info"},
		NATS:    NATSConfig{SubjectPrefix: "busrace"},
		Metrics: MetricsConfig{Enabled: true},
	}
}

// Load reads .env (if present), an optional YAML file named by CONFIG_FILE,
// then environment variables, and validates the result
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := Defaults()

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	if err := applyEnv(cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the struct tags on every section
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// ClientName returns the upstream credential or ErrMissingClientName
func (c *Config) ClientName() (string, error) {
	name := strings.TrimSpace(c.Upstream.ClientName)
	if name == "" {
		return "", ErrMissingClientName
	}
	return name, nil
}

func applyEnv(cfg *Config) error {
	cfg.Server.Port = getEnv("API_PORT", cfg.Server.Port)
	cfg.Upstream.Endpoint = getEnv("ENTUR_VM_ENDPOINT", cfg.Upstream.Endpoint)
	cfg.Upstream.ClientName = getEnv("ENTUR_CLIENT_NAME", cfg.Upstream.ClientName)
	cfg.Stops.Source = getEnv("STOPS_SOURCE", cfg.Stops.Source)
	cfg.Stops.File = getEnv("STOPS_FILE", cfg.Stops.File)
	cfg.Logging.Level = getEnv("LOG_LEVEL", cfg.Logging.Level)
	cfg.Logging.FilePath = getEnv("LOG_FILE", cfg.Logging.FilePath)
	cfg.NATS.URL = getEnv("NATS_URL", cfg.NATS.URL)
	cfg.NATS.SubjectPrefix = getEnv("NATS_SUBJECT_PREFIX", cfg.NATS.SubjectPrefix)

	var err error
	if cfg.Upstream.MaxSize, err = getIntEnv("ENTUR_MAX_SIZE", cfg.Upstream.MaxSize); err != nil {
		return err
	}
	if cfg.Cache.RateLimitMax, err = getIntEnv("RATE_LIMIT_MAX", cfg.Cache.RateLimitMax); err != nil {
		return err
	}
	if cfg.Upstream.Timeout, err = getDurationEnv("UPSTREAM_TIMEOUT", cfg.Upstream.Timeout); err != nil {
		return err
	}
	if cfg.Cache.RefreshInterval, err = getDurationEnv("REFRESH_INTERVAL", cfg.Cache.RefreshInterval); err != nil {
		return err
	}
	if cfg.Cache.RateLimitWindow, err = getDurationEnv("RATE_LIMIT_WINDOW", cfg.Cache.RateLimitWindow); err != nil {
		return err
	}
	if cfg.Cache.SnapshotTTL, err = getDurationEnv("SNAPSHOT_TTL", cfg.Cache.SnapshotTTL); err != nil {
		return err
	}
	if cfg.Stream.Interval, err = getDurationEnv("STREAM_INTERVAL", cfg.Stream.Interval); err != nil {
		return err
	}
	if cfg.Stream.Heartbeat, err = getDurationEnv("STREAM_HEARTBEAT", cfg.Stream.Heartbeat); err != nil {
		return err
	}
	if v := os.Getenv("NEARBY_RADIUS_M"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("invalid NEARBY_RADIUS_M: %q", v)
		}
		cfg.Cache.NearbyRadiusM = f
	}
	cfg.Redis.Enabled = getBoolEnv("REDIS_ENABLED", cfg.Redis.Enabled)
	cfg.Metrics.Enabled = getBoolEnv("METRICS_ENABLED", cfg.Metrics.Enabled)
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %q", key, v)
	}
	return n, nil
}

func getDurationEnv(key string, defaultValue time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultValue, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %q", key, v)
	}
	return d, nil
}

func getBoolEnv(key string, defaultValue bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return defaultValue
	}
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "t", "yes", "y", "on":
		return true
	default:
		return false
	}
}
