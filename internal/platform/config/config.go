// Package config assembles runtime configuration from the environment so
// main stays lean. Every knob has a development default; production
// deployments override via environment variables.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config is the full runtime configuration of the engine.
type Config struct {
	HTTPAddr      string
	JWTSigningKey string

	// PostgresURL enables the durable store and event log; empty falls back
	// to the in-memory implementations.
	PostgresURL string

	Redis RedisConfig

	// KafkaBrokers enables the Kafka status sink; empty disables it.
	KafkaBrokers []string
	KafkaTopic   string

	AdministratorURL string
	DataAPIURL       string

	// DataNeedsPath points at the YAML catalog of data need definitions.
	DataNeedsPath string

	RetryInterval   time.Duration
	TimeoutInterval time.Duration
	// TimeoutMaxAge is how long a transmitted request may wait for an
	// administrator answer before it is timed out.
	TimeoutMaxAge   time.Duration
	PollingInterval time.Duration
}

// RedisConfig configures the Redis connection used for outbound streams.
type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// FromEnv builds the configuration from environment variables.
func FromEnv() Config {
	return Config{
		HTTPAddr:         envOr("GRIDWARD_ADDR", ":8080"),
		JWTSigningKey:    envOr("JWT_SIGNING_KEY", "dev-secret-key-change-in-production"),
		PostgresURL:      os.Getenv("POSTGRES_URL"),
		Redis:            redisFromEnv(),
		KafkaBrokers:     splitNonEmpty(os.Getenv("KAFKA_BROKERS")),
		KafkaTopic:       envOr("KAFKA_STATUS_TOPIC", "permission-status"),
		AdministratorURL: envOr("ADMINISTRATOR_URL", "http://localhost:9090"),
		DataAPIURL:       envOr("DATA_API_URL", "http://localhost:9091"),
		DataNeedsPath:    envOr("DATA_NEEDS_PATH", "dataneeds.yaml"),
		RetryInterval:    envDuration("RETRY_INTERVAL", 5*time.Minute),
		TimeoutInterval:  envDuration("TIMEOUT_INTERVAL", 10*time.Minute),
		TimeoutMaxAge:    envDuration("TIMEOUT_MAX_AGE", 48*time.Hour),
		PollingInterval:  envDuration("POLLING_INTERVAL", time.Hour),
	}
}

func redisFromEnv() RedisConfig {
	return RedisConfig{
		URL:          os.Getenv("REDIS_URL"),
		PoolSize:     envInt("REDIS_POOL_SIZE", 10),
		MinIdleConns: envInt("REDIS_MIN_IDLE_CONNS", 2),
		DialTimeout:  envDuration("REDIS_DIAL_TIMEOUT", 5*time.Second),
		ReadTimeout:  envDuration("REDIS_READ_TIMEOUT", 3*time.Second),
		WriteTimeout: envDuration("REDIS_WRITE_TIMEOUT", 3*time.Second),
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func envDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}

func splitNonEmpty(v string) []string {
	if v == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
