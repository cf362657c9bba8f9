package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration.
type Config struct {
	AppName     string
	AppVersion  string
	Environment string

	OTLPEndpoint string

	Plan PlanConfig

	Gateway GatewayConfig

	Redis RedisConfig

	DBType            string
	DBHost            string
	DBPort            string
	DBName            string
	DBUser            string
	DBPassword        string
	DBSSLMode         string
	DBMaxIdleConn     int
	DBMaxOpenConn     int
	DBConnMaxLifetime int
	DBConnMaxIdleTime int
}

// PlanConfig is the single subscription plan offered at checkout.
// Price is configuration, not code: historical deployments disagreed
// on the amount, so the canonical value always comes from the env.
type PlanConfig struct {
	Amount       float64
	Currency     string
	Duration     time.Duration
	Slug         string
	CheckoutBack string
}

type GatewayConfig struct {
	BaseURL        string
	AccessToken    string
	WebhookSecret  string
	RequestTimeout time.Duration
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	cfg := Config{
		AppName:      getenv("APP_SERVICE", "alinhada"),
		AppVersion:   getenv("APP_VERSION", "0.1.0"),
		Environment:  getenv("ENVIRONMENT", "development"),
		OTLPEndpoint: getenv("OTLP_ENDPOINT", "localhost:4317"),
		Plan: PlanConfig{
			Amount:       getenvFloat("PLAN_AMOUNT", 19.90),
			Currency:     getenv("PLAN_CURRENCY", "BRL"),
			Duration:     time.Duration(getenvInt("PLAN_DURATION_DAYS", 30)) * 24 * time.Hour,
			Slug:         getenv("PLAN_SLUG", "plano-mensal"),
			CheckoutBack: strings.TrimSpace(getenv("PLAN_CHECKOUT_BACK_URL", "")),
		},
		Gateway: GatewayConfig{
			BaseURL:        getenv("GATEWAY_BASE_URL", "https://api.mercadopago.com"),
			AccessToken:    strings.TrimSpace(getenv("GATEWAY_ACCESS_TOKEN", "")),
			WebhookSecret:  strings.TrimSpace(getenv("GATEWAY_WEBHOOK_SECRET", "")),
			RequestTimeout: time.Duration(getenvInt("GATEWAY_TIMEOUT_SECONDS", 10)) * time.Second,
		},
		Redis: RedisConfig{
			Addr:     strings.TrimSpace(getenv("REDIS_ADDR", "")),
			Password: getenv("REDIS_PASSWORD", ""),
			DB:       getenvInt("REDIS_DB", 0),
		},
		DBType:     getenv("DATABASE_TYPE", "postgres"),
		DBHost:     getenv("DATABASE_HOST", "localhost"),
		DBPort:     getenv("DATABASE_PORT", "5432"),
		DBName:     getenv("DATABASE_NAME", "alinhada"),
		DBUser:     getenv("DATABASE_USER", "postgres"),
		DBPassword: getenv("DATABASE_PASSWORD", "postgres"),
		DBSSLMode:  getenv("DATABASE_SSLMODE", "disable"),
	}

	return cfg
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return def
	}
	return parsed
}

func getenvFloat(key string, def float64) float64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return def
	}
	return parsed
}
