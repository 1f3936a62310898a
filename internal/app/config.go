package app

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// StorageDriver выбирает реализацию хранилища.
type StorageDriver string

const (
	StorageDriverMemory   StorageDriver = "memory"
	StorageDriverPostgres StorageDriver = "postgres"
)

// Config описывает настройки запуска приложения.
type Config struct {
	HTTPAddr    string
	MetricsAddr string

	StorageDriver       StorageDriver
	PostgresDSN         string
	PostgresAutoMigrate bool

	KafkaBrokers string

	CronSecret          string
	StripeWebhookSecret string

	RevalidateURL    string
	RevalidateSecret string

	ReservationTTL     time.Duration
	RateLimitPerMinute int

	OutboxPollInterval time.Duration
	OutboxBatchSize    int
	OutboxMaxAttempts  int
	OutboxRetryDelay   time.Duration

	SweepInterval  time.Duration
	SweepBatchSize int

	MonitorInterval time.Duration

	IdempotencyCleanupInterval  time.Duration
	IdempotencyCleanupBatchSize int
}

// DefaultConfig возвращает настройки по умолчанию: in-memory хранилище,
// без Kafka и без revalidation.
func DefaultConfig() Config {
	return Config{
		HTTPAddr:                    ":8080",
		MetricsAddr:                 ":9090",
		StorageDriver:               StorageDriverMemory,
		PostgresAutoMigrate:         true,
		ReservationTTL:              30 * time.Minute,
		RateLimitPerMinute:          5,
		OutboxPollInterval:          time.Second,
		OutboxBatchSize:             100,
		OutboxMaxAttempts:           3,
		OutboxRetryDelay:            50 * time.Millisecond,
		SweepInterval:               15 * time.Minute,
		SweepBatchSize:              100,
		MonitorInterval:             30 * time.Minute,
		IdempotencyCleanupInterval:  time.Hour,
		IdempotencyCleanupBatchSize: 500,
	}
}

// LoadConfigFromEnv читает настройки из окружения поверх значений
// по умолчанию. Непустой STOCK_POSTGRES_DSN переключает хранилище
// на PostgreSQL.
func LoadConfigFromEnv() Config {
	cfg := DefaultConfig()

	if v := strings.TrimSpace(os.Getenv("STOCK_HTTP_ADDR")); v != "" {
		cfg.HTTPAddr = v
	}
	if v := strings.TrimSpace(os.Getenv("STOCK_METRICS_ADDR")); v != "" {
		cfg.MetricsAddr = v
	}
	if v := strings.TrimSpace(os.Getenv("STOCK_POSTGRES_DSN")); v != "" {
		cfg.PostgresDSN = v
		cfg.StorageDriver = StorageDriverPostgres
	}
	if v := strings.TrimSpace(os.Getenv("STOCK_POSTGRES_AUTO_MIGRATE")); v != "" {
		if parsed, err := strconv.ParseBool(v); err == nil {
			cfg.PostgresAutoMigrate = parsed
		}
	}

	cfg.KafkaBrokers = strings.TrimSpace(os.Getenv("KAFKA_BROKERS"))
	cfg.CronSecret = strings.TrimSpace(os.Getenv("STOCK_CRON_SECRET"))
	cfg.StripeWebhookSecret = strings.TrimSpace(os.Getenv("STRIPE_WEBHOOK_SECRET"))
	cfg.RevalidateURL = strings.TrimSpace(os.Getenv("STOCK_REVALIDATE_URL"))
	cfg.RevalidateSecret = strings.TrimSpace(os.Getenv("STOCK_REVALIDATE_SECRET"))

	if v := strings.TrimSpace(os.Getenv("STOCK_RESERVATION_TTL_MINUTES")); v != "" {
		if minutes, err := strconv.Atoi(v); err == nil && minutes > 0 {
			cfg.ReservationTTL = time.Duration(minutes) * time.Minute
		}
	}
	if v := strings.TrimSpace(os.Getenv("STOCK_RATE_LIMIT_PER_MINUTE")); v != "" {
		if limit, err := strconv.Atoi(v); err == nil && limit > 0 {
			cfg.RateLimitPerMinute = limit
		}
	}

	return cfg
}
