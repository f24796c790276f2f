package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the application.
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Payment   PaymentConfig
	Booking   BookingConfig
	RateLimit RateLimitConfig
	CORS      CORSConfig
}

// ServerConfig holds server-related configuration.
type ServerConfig struct {
	Port        string
	Environment string // development, staging, production
	LogLevel    string // debug, info, warn, error
}

// DatabaseConfig holds database-related configuration. An empty URL selects
// the in-memory store.
type DatabaseConfig struct {
	URL                string
	MaxConnections     int
	MaxIdleConnections int
	ConnMaxLifetime    time.Duration
}

// PaymentConfig holds checkout provider configuration.
type PaymentConfig struct {
	Environment   string // "sandbox" or "production"
	MerchantKey   string
	MerchantToken string // SECRET - never expose to client
	WebhookSecret string
	SuccessURL    string
	CancelURL     string
}

// BookingConfig holds booking-flow configuration.
type BookingConfig struct {
	IntentTTL     time.Duration
	SweepInterval time.Duration
	Currency      string
}

// RateLimitConfig holds rate limiting configuration.
type RateLimitConfig struct {
	Requests      int
	WindowSeconds int
}

// CORSConfig holds CORS-related configuration.
type CORSConfig struct {
	AllowedOrigins []string
}

// Load loads configuration from environment variables. A .env file is
// honored when present.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Server: ServerConfig{
			Port:        getEnv("PORT", "8080"),
			Environment: getEnv("ENVIRONMENT", "development"),
			LogLevel:    getEnv("LOG_LEVEL", "info"),
		},
		Database: DatabaseConfig{
			URL:                getEnv("DATABASE_URL", ""),
			MaxConnections:     getEnvInt("DB_MAX_CONNECTIONS", 25),
			MaxIdleConnections: getEnvInt("DB_MAX_IDLE_CONNECTIONS", 5),
			ConnMaxLifetime:    getEnvDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
		},
		Payment: PaymentConfig{
			Environment:   getEnv("PAYMENT_ENVIRONMENT", "sandbox"),
			MerchantKey:   getEnv("PAYMENT_MERCHANT_KEY", ""),
			MerchantToken: getEnv("PAYMENT_MERCHANT_TOKEN", ""),
			WebhookSecret: getEnv("PAYMENT_WEBHOOK_SECRET", ""),
			SuccessURL:    getEnv("PAYMENT_SUCCESS_URL", "http://localhost:8080/payment/success"),
			CancelURL:     getEnv("PAYMENT_CANCEL_URL", "http://localhost:8080/payment/cancel"),
		},
		Booking: BookingConfig{
			IntentTTL:     getEnvDuration("BOOKING_INTENT_TTL", 30*time.Minute),
			SweepInterval: getEnvDuration("BOOKING_SWEEP_INTERVAL", time.Minute),
			Currency:      getEnv("BOOKING_CURRENCY", "MXN"),
		},
		RateLimit: RateLimitConfig{
			Requests:      getEnvInt("RATE_LIMIT_REQUESTS", 60),
			WindowSeconds: getEnvInt("RATE_LIMIT_WINDOW_SECONDS", 60),
		},
		CORS: CORSConfig{
			AllowedOrigins: []string{getEnv("CORS_ALLOWED_ORIGIN", "*")},
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Server.Environment == "production" {
		if c.Payment.MerchantKey == "" || c.Payment.MerchantToken == "" {
			return fmt.Errorf("payment merchant credentials are required in production")
		}
		if c.Payment.WebhookSecret == "" {
			return fmt.Errorf("payment webhook secret is required in production")
		}
	}
	if c.Booking.IntentTTL <= 0 {
		return fmt.Errorf("booking intent TTL must be positive")
	}
	return nil
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return fallback
}
