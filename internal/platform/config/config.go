package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config captures everything the composition root needs to wire the PHI
// protection layer. Built once from the environment so main stays lean.
type Config struct {
	Addr          string
	JWTSigningKey string

	Postgres PostgresConfig
	Redis    RedisConfig
	Kafka    KafkaConfig

	AuditQueueCapacity int
}

// PostgresConfig holds the audit store connection settings.
type PostgresConfig struct {
	DSN string
}

// RedisConfig holds shared counter/cache store settings.
type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// KafkaConfig holds SIEM fan-out settings. Empty brokers disable fan-out.
type KafkaConfig struct {
	Brokers []string
	Topic   string
}

// FromEnv builds a Config from environment variables.
func FromEnv() Config {
	cfg := Config{
		Addr:          envOr("PHIGUARD_ADDR", ":8090"),
		JWTSigningKey: os.Getenv("PHIGUARD_JWT_SIGNING_KEY"),
		Postgres: PostgresConfig{
			DSN: os.Getenv("PHIGUARD_POSTGRES_DSN"),
		},
		Redis: RedisConfig{
			URL:          os.Getenv("PHIGUARD_REDIS_URL"),
			PoolSize:     envIntOr("PHIGUARD_REDIS_POOL_SIZE", 10),
			MinIdleConns: envIntOr("PHIGUARD_REDIS_MIN_IDLE", 2),
			DialTimeout:  5 * time.Second,
			ReadTimeout:  3 * time.Second,
			WriteTimeout: 3 * time.Second,
		},
		AuditQueueCapacity: envIntOr("PHIGUARD_AUDIT_QUEUE_CAPACITY", 1024),
	}
	if brokers := os.Getenv("PHIGUARD_KAFKA_BROKERS"); brokers != "" {
		cfg.Kafka.Brokers = strings.Split(brokers, ",")
		cfg.Kafka.Topic = envOr("PHIGUARD_KAFKA_TOPIC", "phiguard.security.events")
	}
	return cfg
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envIntOr(key string, fallback int) int {
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
