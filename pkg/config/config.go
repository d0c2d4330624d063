package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds settings shared by every binary in the repository.
type Config struct {
	Env      string
	LogLevel string

	APIAddr     string
	GatewayAddr string

	// Store selects the persistence backend: "scylla" or "memory".
	Store          string
	ScyllaHosts    []string
	ScyllaKeyspace string

	RedisAddr string

	KafkaBrokers []string
	KafkaTopic   string
	KafkaGroup   string

	JWTSecret string
	TokenTTL  time.Duration
	NodeID    int64

	SendQueueSize  int
	OverflowPolicy string
	PublishRetries int
}

// Load reads configuration from the environment, loading a .env file first
// when one is present.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Env:            getEnv("ENV", "development"),
		LogLevel:       getEnv("LOG_LEVEL", "info"),
		APIAddr:        getEnv("API_ADDR", ":8081"),
		GatewayAddr:    getEnv("GATEWAY_ADDR", ":8080"),
		Store:          getEnv("STORE", "scylla"),
		ScyllaHosts:    getList("SCYLLA_HOSTS", "localhost:9042"),
		ScyllaKeyspace: getEnv("SCYLLA_KEYSPACE", "chat"),
		RedisAddr:      os.Getenv("REDIS_ADDR"),
		KafkaBrokers:   getList("KAFKA_BROKERS", ""),
		KafkaTopic:     getEnv("KAFKA_TOPIC", "chat-events"),
		KafkaGroup:     getEnv("KAFKA_GROUP", "messaging-service-group"),
		JWTSecret:      os.Getenv("JWT_SECRET"),
		OverflowPolicy: getEnv("OVERFLOW_POLICY", "drop-oldest"),
	}

	var err error
	if cfg.TokenTTL, err = time.ParseDuration(getEnv("TOKEN_TTL", "24h")); err != nil {
		return nil, fmt.Errorf("TOKEN_TTL: %w", err)
	}
	if cfg.NodeID, err = strconv.ParseInt(getEnv("NODE_ID", "1"), 10, 64); err != nil {
		return nil, fmt.Errorf("NODE_ID: %w", err)
	}
	if cfg.SendQueueSize, err = strconv.Atoi(getEnv("SEND_QUEUE_SIZE", "256")); err != nil {
		return nil, fmt.Errorf("SEND_QUEUE_SIZE: %w", err)
	}
	if cfg.PublishRetries, err = strconv.Atoi(getEnv("PUBLISH_RETRIES", "3")); err != nil {
		return nil, fmt.Errorf("PUBLISH_RETRIES: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.Store {
	case "scylla", "memory":
	default:
		return fmt.Errorf("STORE must be scylla or memory, got %q", c.Store)
	}
	switch c.OverflowPolicy {
	case "drop-oldest", "disconnect":
	default:
		return fmt.Errorf("OVERFLOW_POLICY must be drop-oldest or disconnect, got %q", c.OverflowPolicy)
	}
	if c.SendQueueSize <= 0 {
		return fmt.Errorf("SEND_QUEUE_SIZE must be positive")
	}

	if c.IsDevelopment() {
		if c.JWTSecret == "" {
			c.JWTSecret = "dev-secret"
		}
		return nil
	}
	if c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required in %s", c.Env)
	}
	if c.Store == "scylla" && len(c.ScyllaHosts) == 0 {
		return fmt.Errorf("SCYLLA_HOSTS is required in %s", c.Env)
	}
	return nil
}

func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// KafkaEnabled reports whether events travel through Kafka instead of an
// in-process hub.
func (c *Config) KafkaEnabled() bool {
	return len(c.KafkaBrokers) > 0
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getList(key, defaultValue string) []string {
	var out []string
	for _, entry := range strings.Split(getEnv(key, defaultValue), ",") {
		if entry = strings.TrimSpace(entry); entry != "" {
			out = append(out, entry)
		}
	}
	return out
}
