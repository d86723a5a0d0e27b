// Package config loads the fulfillment service configuration from the
// environment.
package config

import (
	"fmt"
	"net/url"
	"time"

	"github.com/earlyexpress/order-fulfillment/pkg/config"
	"github.com/earlyexpress/order-fulfillment/pkg/database"
)

// Config holds all configuration for the fulfillment service.
type Config struct {
	Environment string `env:"ENVIRONMENT" envDefault:"development"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`

	// HTTP server
	HTTPPort int `env:"FULFILLMENT_HTTP_PORT" envDefault:"8011"`

	// PostgreSQL
	PostgresHost string `env:"POSTGRES_HOST" envDefault:"localhost"`
	PostgresPort int    `env:"POSTGRES_PORT" envDefault:"5432"`
	PostgresUser string `env:"POSTGRES_USER" envDefault:"fulfillment"`
	PostgresPass string `env:"POSTGRES_PASSWORD" envDefault:"fulfillment_secret"`
	PostgresDB   string `env:"FULFILLMENT_DB_NAME" envDefault:"fulfillment"`
	PostgresSSL  string `env:"POSTGRES_SSL_MODE" envDefault:"disable"`

	// Database pool
	DBMaxConns            int32 `env:"DB_MAX_CONNS" envDefault:"25"`
	DBMinConns            int32 `env:"DB_MIN_CONNS" envDefault:"5"`
	DBMaxConnLifetimeMins int   `env:"DB_MAX_CONN_LIFETIME_MINUTES" envDefault:"60"`
	DBMaxConnIdleTimeMins int   `env:"DB_MAX_CONN_IDLE_TIME_MINUTES" envDefault:"30"`

	// Redis, backing the consumer idempotency guard
	RedisHost     string `env:"REDIS_HOST" envDefault:"localhost"`
	RedisPort     int    `env:"REDIS_PORT" envDefault:"6379"`
	RedisPassword string `env:"REDIS_PASSWORD" envDefault:""`
	RedisDB       int    `env:"REDIS_DB" envDefault:"0"`

	// Kafka
	KafkaBrokers []string `env:"KAFKA_BROKERS" envDefault:"localhost:9092" envSeparator:","`

	// Idempotency
	IdempotencyTTLHours int `env:"IDEMPOTENCY_TTL_HOURS" envDefault:"24"`

	// Collaborator service URLs
	InventoryServiceURL   string `env:"INVENTORY_SERVICE_URL" envDefault:"http://localhost:8007"`
	PaymentServiceURL     string `env:"PAYMENT_SERVICE_URL" envDefault:"http://localhost:8005"`
	RoutingServiceURL     string `env:"ROUTING_SERVICE_URL" envDefault:"http://localhost:8012"`
	ScheduleServiceURL    string `env:"SCHEDULE_SERVICE_URL" envDefault:"http://localhost:8013"`
	HubDeliveryServiceURL string `env:"HUB_DELIVERY_SERVICE_URL" envDefault:"http://localhost:8014"`
	LastMileServiceURL    string `env:"LAST_MILE_SERVICE_URL" envDefault:"http://localhost:8015"`

	// Circuit breaker settings for collaborator calls
	CBMaxRequests  uint32  `env:"CB_MAX_REQUESTS" envDefault:"1"`
	CBInterval     int     `env:"CB_INTERVAL_SECONDS" envDefault:"60"`
	CBTimeout      int     `env:"CB_TIMEOUT_SECONDS" envDefault:"30"`
	CBFailureRatio float64 `env:"CB_FAILURE_RATIO" envDefault:"0.5"`
	CBMinRequests  uint32  `env:"CB_MIN_REQUESTS" envDefault:"5"`

	// Saga step execution
	SagaStepTimeoutSecs int `env:"SAGA_STEP_TIMEOUT_SECONDS" envDefault:"10"`
	SagaMaxRetries      int `env:"SAGA_MAX_RETRIES" envDefault:"3"`
	SagaRetryBackoffMs  int `env:"SAGA_RETRY_BACKOFF_MS" envDefault:"200"`

	// Recovery scanner
	ScannerIntervalSecs     int `env:"SCANNER_INTERVAL_SECONDS" envDefault:"60"`
	ScannerStuckMinutes     int `env:"SCANNER_STUCK_THRESHOLD_MINUTES" envDefault:"10"`
	ScannerArchiveAfterDays int `env:"SCANNER_ARCHIVE_AFTER_DAYS" envDefault:"30"`
	ScannerBatchLimit       int `env:"SCANNER_BATCH_LIMIT" envDefault:"100"`

	// OpenTelemetry
	OTELEnabled    bool    `env:"OTEL_ENABLED" envDefault:"false"`
	OTELEndpoint   string  `env:"OTEL_EXPORTER_OTLP_ENDPOINT" envDefault:"localhost:4318"`
	OTELSampleRate float64 `env:"OTEL_SAMPLE_RATE" envDefault:"1.0"`
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := config.Load(cfg); err != nil {
		return nil, fmt.Errorf("load fulfillment config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// validate checks configuration invariants.
func (c *Config) validate() error {
	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		return fmt.Errorf("invalid HTTP port: %d", c.HTTPPort)
	}
	if c.PostgresHost == "" {
		return fmt.Errorf("POSTGRES_HOST is required")
	}
	if c.PostgresUser == "" {
		return fmt.Errorf("POSTGRES_USER is required")
	}
	if len(c.KafkaBrokers) == 0 {
		return fmt.Errorf("KAFKA_BROKERS is required")
	}
	if c.SagaMaxRetries < 0 {
		return fmt.Errorf("SAGA_MAX_RETRIES must not be negative, got %d", c.SagaMaxRetries)
	}
	if c.OTELSampleRate < 0 || c.OTELSampleRate > 1.0 {
		return fmt.Errorf("OTEL_SAMPLE_RATE must be between 0.0 and 1.0, got %f", c.OTELSampleRate)
	}
	for name, rawURL := range map[string]string{
		"INVENTORY_SERVICE_URL":    c.InventoryServiceURL,
		"PAYMENT_SERVICE_URL":      c.PaymentServiceURL,
		"ROUTING_SERVICE_URL":      c.RoutingServiceURL,
		"SCHEDULE_SERVICE_URL":     c.ScheduleServiceURL,
		"HUB_DELIVERY_SERVICE_URL": c.HubDeliveryServiceURL,
		"LAST_MILE_SERVICE_URL":    c.LastMileServiceURL,
	} {
		if rawURL == "" {
			return fmt.Errorf("%s is required", name)
		}
		if _, err := url.ParseRequestURI(rawURL); err != nil {
			return fmt.Errorf("invalid %s %q: %w", name, rawURL, err)
		}
	}
	return nil
}

// Postgres returns the pool configuration for the database package.
func (c *Config) Postgres() database.PostgresConfig {
	return database.PostgresConfig{
		Host:            c.PostgresHost,
		Port:            c.PostgresPort,
		User:            c.PostgresUser,
		Password:        c.PostgresPass,
		DBName:          c.PostgresDB,
		SSLMode:         c.PostgresSSL,
		MaxConns:        c.DBMaxConns,
		MinConns:        c.DBMinConns,
		MaxConnLifetime: time.Duration(c.DBMaxConnLifetimeMins) * time.Minute,
		MaxConnIdleTime: time.Duration(c.DBMaxConnIdleTimeMins) * time.Minute,
	}
}

// Redis returns the Redis configuration for the database package.
func (c *Config) Redis() database.RedisConfig {
	return database.RedisConfig{
		Host:     c.RedisHost,
		Port:     c.RedisPort,
		Password: c.RedisPassword,
		DB:       c.RedisDB,
	}
}
