package config

import (
	"os"
	"strconv"
	"time"
)

// Config captures everything the server needs from the environment. main
// loads a .env file first (dev convenience), then FromEnv reads the result.
type Config struct {
	Addr        string
	MetricsAddr string
	LogLevel    string

	// DatabaseURL empty means in-memory stores (dev/test only).
	DatabaseURL string
	// RedisURL empty means the in-memory rate limiter.
	RedisURL string

	// JWTSigningKey verifies bearer tokens minted by the portal's login
	// service. Shared-secret HS256.
	JWTSigningKey string
	// AdminToken guards the manual-review endpoints.
	AdminToken string

	UploadDir string

	SMSGatewayURL string
	SMSAPIKey     string
	SMSSender     string

	// OCRServiceURL empty disables extraction; every upload goes to
	// manual review.
	OCRServiceURL string
	OCRTimeout    time.Duration

	RateLimit       int
	RateLimitWindow time.Duration
}

// FromEnv builds a Config from environment variables so main stays lean.
func FromEnv() Config {
	return Config{
		Addr:        envOr("SELFCARE_ADDR", ":8080"),
		MetricsAddr: envOr("SELFCARE_METRICS_ADDR", ":9090"),
		LogLevel:    envOr("SELFCARE_LOG_LEVEL", "info"),

		DatabaseURL: os.Getenv("DATABASE_URL"),
		RedisURL:    os.Getenv("REDIS_URL"),

		JWTSigningKey: envOr("JWT_SIGNING_KEY", "dev-secret-key-change-in-production"),
		AdminToken:    os.Getenv("ADMIN_TOKEN"),

		UploadDir: envOr("UPLOAD_DIR", "uploads"),

		SMSGatewayURL: os.Getenv("SMS_GATEWAY_URL"),
		SMSAPIKey:     os.Getenv("SMS_API_KEY"),
		SMSSender:     envOr("SMS_SENDER", "Termonet"),

		OCRServiceURL: os.Getenv("OCR_SERVICE_URL"),
		OCRTimeout:    envDurationOr("OCR_TIMEOUT", 30*time.Second),

		RateLimit:       envIntOr("RATE_LIMIT", 30),
		RateLimitWindow: envDurationOr("RATE_LIMIT_WINDOW", time.Minute),
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envIntOr(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envDurationOr(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
