package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"
)

// Config holds application configuration loaded from the environment.
type Config struct {
	AppEnv             string
	Port               string
	DatabaseURL        string
	RedisURL           string
	CORSAllowedOrigins []string

	GatewayBaseURL     string
	GatewayMerchantID  string
	GatewaySaltKey     string
	GatewaySaltIndex   string
	GatewayCallbackURL string
	GatewayRedirectURL string

	InitiateMaxAttempts int
	StatusMaxAttempts   int
	RetryBaseBackoff    time.Duration
	GatewayTimeout      time.Duration

	CODOrderCap           int64
	FreeDeliveryThreshold int64
	MinOrderForFreeShip   int64
	MaxShipForFreeShip    int64
	CODCharge             int64
	PrepaidDiscountBps    int64

	IdempotencyTTL   time.Duration
	WebhookReplayTTL time.Duration

	TracingEnabled  bool
	TracingEndpoint string
	TracingRatio    float64
	MetricsBuckets  string
	PprofToken      string
}

// Load reads configuration from environment variables and optional .env files.
func Load() (*Config, error) {
	_ = godotenv.Load()

	k := koanf.New(".")
	if err := k.Load(env.Provider("", ".", func(s string) string { return s }), nil); err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}

	cfg := &Config{
		AppEnv:             valueOrDefault(k.String("APP_ENV"), "development"),
		Port:               valueOrDefault(k.String("PORT"), "8080"),
		DatabaseURL:        k.String("DATABASE_URL"),
		RedisURL:           k.String("REDIS_URL"),
		CORSAllowedOrigins: splitAndTrim(k.String("CORS_ALLOWED_ORIGINS")),

		GatewayBaseURL:     k.String("PAYMENT_GATEWAY_BASE_URL"),
		GatewayMerchantID:  k.String("PAYMENT_GATEWAY_MERCHANT_ID"),
		GatewaySaltKey:     k.String("PAYMENT_GATEWAY_SALT_KEY"),
		GatewaySaltIndex:   valueOrDefault(k.String("PAYMENT_GATEWAY_SALT_INDEX"), "1"),
		GatewayCallbackURL: k.String("PAYMENT_GATEWAY_CALLBACK_URL"),
		GatewayRedirectURL: k.String("PAYMENT_GATEWAY_REDIRECT_URL"),

		InitiateMaxAttempts: parseInt(k.String("PAYMENT_INITIATE_MAX_ATTEMPTS"), 3),
		StatusMaxAttempts:   parseInt(k.String("PAYMENT_STATUS_MAX_ATTEMPTS"), 3),
		RetryBaseBackoff:    parseDuration(k.String("PAYMENT_RETRY_BASE_BACKOFF"), "1s"),
		GatewayTimeout:      parseDuration(k.String("PAYMENT_GATEWAY_TIMEOUT"), "10s"),

		CODOrderCap:           parsePaise(k.String("PRICING_COD_ORDER_CAP"), 1300_00),
		FreeDeliveryThreshold: parsePaise(k.String("PRICING_FREE_DELIVERY_THRESHOLD"), 600_00),
		MinOrderForFreeShip:   parsePaise(k.String("PRICING_MIN_ORDER_FREE_SHIP"), 400_00),
		MaxShipForFreeShip:    parsePaise(k.String("PRICING_MAX_SHIP_FREE_SHIP"), 45_00),
		CODCharge:             parsePaise(k.String("PRICING_COD_CHARGE"), 35_00),
		PrepaidDiscountBps:    parsePaise(k.String("PRICING_PREPAID_DISCOUNT_BPS"), 500),

		IdempotencyTTL:   parseDuration(k.String("IDEMPOTENCY_TTL"), "24h"),
		WebhookReplayTTL: parseDuration(k.String("WEBHOOK_REPLAY_TTL"), "48h"),

		TracingEnabled:  parseBool(k.String("TRACING_ENABLED")),
		TracingEndpoint: k.String("TRACING_ENDPOINT"),
		TracingRatio:    parseFloat(k.String("TRACING_SAMPLING_RATIO"), 1),
		MetricsBuckets:  k.String("METRICS_BUCKETS_MS"),
		PprofToken:      k.String("PPROF_TOKEN"),
	}

	if cfg.DatabaseURL == "" {
		return nil, errors.New("DATABASE_URL is required")
	}
	if cfg.RedisURL == "" {
		return nil, errors.New("REDIS_URL is required")
	}
	if cfg.AppEnv != "development" && cfg.AppEnv != "test" {
		if cfg.GatewayMerchantID == "" || cfg.GatewaySaltKey == "" {
			return nil, errors.New("payment gateway credentials are required outside development")
		}
	}

	return cfg, nil
}

// HTTPAddr returns the address the HTTP server should bind to.
func (c *Config) HTTPAddr() string {
	port := strings.TrimSpace(c.Port)
	if port == "" {
		port = "8080"
	}
	if strings.HasPrefix(port, ":") {
		return port
	}
	return ":" + port
}

func splitAndTrim(value string) []string {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}

func valueOrDefault(value, fallback string) string {
	if strings.TrimSpace(value) != "" {
		return value
	}
	return fallback
}

func parseDuration(value, fallback string) time.Duration {
	base := strings.TrimSpace(value)
	if base == "" {
		base = fallback
	}
	d, err := time.ParseDuration(base)
	if err != nil {
		d, _ = time.ParseDuration(fallback)
	}
	return d
}

func parseInt(value string, fallback int) int {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return fallback
	}
	n, err := strconv.Atoi(trimmed)
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}

// parsePaise reads an int64 amount in minor units (paise) or basis points.
func parsePaise(value string, fallback int64) int64 {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return fallback
	}
	n, err := strconv.ParseInt(trimmed, 10, 64)
	if err != nil || n < 0 {
		return fallback
	}
	return n
}

func parseFloat(value string, fallback float64) float64 {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(trimmed, 64)
	if err != nil || f <= 0 {
		return fallback
	}
	return f
}

func parseBool(value string) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}
