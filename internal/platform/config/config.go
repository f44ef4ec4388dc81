package config

import (
	"os"
	"strconv"
	"time"
)

// Config aggregates all runtime configuration. FromEnv keeps main lean: every
// knob is an environment variable with a development-safe default.
type Config struct {
	Server   ServerConfig
	LogLevel string

	Postgres PostgresConfig
	Redis    RedisConfig
	Kafka    KafkaConfig

	Sweep      SweepConfig
	Submission SubmissionConfig
	Lifecycle  LifecycleConfig

	NotifierTimeout time.Duration
}

// ServerConfig bounds the HTTP listener. The write side is governed by the
// router's per-request timeout, so only read and idle limits live here.
type ServerConfig struct {
	Addr              string
	ReadHeaderTimeout time.Duration
	ReadTimeout       time.Duration
	IdleTimeout       time.Duration
}

// PostgresConfig holds connection settings for the case store. An empty URL
// selects the in-memory store.
type PostgresConfig struct {
	URL string
}

// RedisConfig holds connection settings for the sweep lock. An empty URL
// disables distributed locking (single-instance deployments).
type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// KafkaConfig holds broker settings for the case-event publisher. Empty
// brokers disable publishing (events stay in the outbox).
type KafkaConfig struct {
	Brokers []string
	Topic   string
}

// SweepConfig bounds the periodic sweep.
type SweepConfig struct {
	Interval    time.Duration
	Concurrency int
	BatchSize   int
}

// SubmissionConfig parameterizes the CDMS retry/backoff policy.
type SubmissionConfig struct {
	Endpoint      string
	Timeout       time.Duration
	MaxAttempts   int
	BackoffBase   time.Duration
	BackoffFactor float64
	BackoffCap    time.Duration
	BackoffJitter float64
}

// LifecycleConfig parameterizes case expiry and idle handling.
type LifecycleConfig struct {
	CaseTTL         time.Duration
	ActivityTimeout time.Duration
	IdleTimeout     time.Duration
	TimeoutGrace    time.Duration
	WarningFraction float64
}

// FromEnv builds a Config from environment variables so main stays lean.
func FromEnv() Config {
	return Config{
		Server: ServerConfig{
			Addr:              envStr("KYC_ADDR", ":8080"),
			ReadHeaderTimeout: envDuration("KYC_HTTP_READ_HEADER_TIMEOUT", 5*time.Second),
			ReadTimeout:       envDuration("KYC_HTTP_READ_TIMEOUT", 15*time.Second),
			IdleTimeout:       envDuration("KYC_HTTP_IDLE_TIMEOUT", time.Minute),
		},
		LogLevel: envStr("KYC_LOG_LEVEL", "info"),
		Postgres: PostgresConfig{
			URL: os.Getenv("KYC_POSTGRES_URL"),
		},
		Redis: RedisConfig{
			URL:          os.Getenv("KYC_REDIS_URL"),
			PoolSize:     envInt("KYC_REDIS_POOL_SIZE", 10),
			MinIdleConns: envInt("KYC_REDIS_MIN_IDLE", 2),
			DialTimeout:  envDuration("KYC_REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:  envDuration("KYC_REDIS_READ_TIMEOUT", 3*time.Second),
			WriteTimeout: envDuration("KYC_REDIS_WRITE_TIMEOUT", 3*time.Second),
		},
		Kafka: KafkaConfig{
			Brokers: splitNonEmpty(os.Getenv("KYC_KAFKA_BROKERS")),
			Topic:   envStr("KYC_KAFKA_TOPIC", "kyc.case-events"),
		},
		Sweep: SweepConfig{
			Interval:    envDuration("KYC_SWEEP_INTERVAL", time.Minute),
			Concurrency: envInt("KYC_SWEEP_CONCURRENCY", 8),
			BatchSize:   envInt("KYC_SWEEP_BATCH_SIZE", 100),
		},
		Submission: SubmissionConfig{
			Endpoint:      envStr("KYC_CDMS_ENDPOINT", "http://localhost:9090/cdms/v1/customers"),
			Timeout:       envDuration("KYC_CDMS_TIMEOUT", 10*time.Second),
			MaxAttempts:   envInt("KYC_CDMS_MAX_ATTEMPTS", 3),
			BackoffBase:   envDuration("KYC_CDMS_BACKOFF_BASE", 5*time.Minute),
			BackoffFactor: envFloat("KYC_CDMS_BACKOFF_FACTOR", 3),
			BackoffCap:    envDuration("KYC_CDMS_BACKOFF_CAP", 2*time.Hour),
			BackoffJitter: envFloat("KYC_CDMS_BACKOFF_JITTER", 0.2),
		},
		Lifecycle: LifecycleConfig{
			CaseTTL:         envDuration("KYC_CASE_TTL", 7*24*time.Hour),
			ActivityTimeout: envDuration("KYC_ACTIVITY_TIMEOUT", 24*time.Hour),
			IdleTimeout:     envDuration("KYC_IDLE_TIMEOUT", 3*24*time.Hour),
			TimeoutGrace:    envDuration("KYC_TIMEOUT_GRACE", 24*time.Hour),
			WarningFraction: envFloat("KYC_WARNING_FRACTION", 0.8),
		},
		NotifierTimeout: envDuration("KYC_NOTIFIER_TIMEOUT", 5*time.Second),
	}
}

func envStr(key, fallback string) string {
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

func envFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return f
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

func splitNonEmpty(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	start := 0
	for i := 0; i <= len(s); i++ {
		if i == len(s) || s[i] == ',' {
			if part := s[start:i]; part != "" {
				out = append(out, part)
			}
			start = i + 1
		}
	}
	return out
}
