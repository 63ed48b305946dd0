package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Server captures process-level configuration read once at startup so main
// stays lean.
type Server struct {
	Addr          string
	JWTSigningKey string
	PostgresDSN   string
	Redis         Redis
	Kafka         Kafka
	Trainer       Trainer
}

// Redis configures the risk-assessment cache. An empty Addr disables it.
type Redis struct {
	Addr         string
	PoolSize     int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// Kafka configures the audit-trail export relay. Empty Brokers disables it.
type Kafka struct {
	Brokers []string
	Topic   string
}

// Trainer configures the background model-training job.
type Trainer struct {
	QueueSize int
	Epochs    int
}

// FromEnv builds a Server config from environment variables.
func FromEnv() Server {
	cfg := Server{
		Addr:          envOr("VERITAS_ADDR", ":8080"),
		JWTSigningKey: envOr("VERITAS_JWT_SIGNING_KEY", "dev-secret-key-change-in-production"),
		PostgresDSN:   os.Getenv("VERITAS_POSTGRES_DSN"),
		Redis: Redis{
			Addr:         os.Getenv("VERITAS_REDIS_ADDR"),
			PoolSize:     envInt("VERITAS_REDIS_POOL_SIZE", 10),
			DialTimeout:  5 * time.Second,
			ReadTimeout:  3 * time.Second,
			WriteTimeout: 3 * time.Second,
		},
		Kafka: Kafka{
			Topic: envOr("VERITAS_KAFKA_AUDIT_TOPIC", "veritas.audit-trail"),
		},
		Trainer: Trainer{
			QueueSize: envInt("VERITAS_TRAINER_QUEUE_SIZE", 8),
			Epochs:    envInt("VERITAS_TRAINER_EPOCHS", 500),
		},
	}
	if brokers := os.Getenv("VERITAS_KAFKA_BROKERS"); brokers != "" {
		cfg.Kafka.Brokers = strings.Split(brokers, ",")
	}
	return cfg
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
