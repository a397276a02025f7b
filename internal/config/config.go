package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"
)

// Gateway base URLs per environment.
const (
	PaynowSandboxBaseURL    = "https://api.sandbox.paynow.pl"
	PaynowProductionBaseURL = "https://api.paynow.pl"
)

// Config holds application configuration loaded from the environment.
type Config struct {
	AppEnv string
	Port   string

	DatabaseURL string
	RedisURL    string

	PaynowAPIKey       string
	PaynowSignatureKey string
	PaynowEnvironment  string
	PaynowBaseURL      string

	FrontendBaseURL      string
	BackendPublicBaseURL string

	CommerceBaseURL        string
	CommercePublishableKey string

	CORSAllowedOrigins []string

	GatewayTimeout  time.Duration
	CommerceTimeout time.Duration

	DefaultCurrency string

	CorrelationTTL   time.Duration
	IdempotencyTTL   time.Duration
	WebhookReplayTTL time.Duration

	InitiateRateWindow time.Duration
	InitiateRateMax    int
}

// Load reads configuration from environment variables and optional .env files.
func Load() (*Config, error) {
	_ = godotenv.Load()

	k := koanf.New(".")
	if err := k.Load(env.Provider("", ".", func(s string) string { return s }), nil); err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}

	cfg := &Config{
		AppEnv:                 valueOrDefault(k.String("APP_ENV"), "development"),
		Port:                   valueOrDefault(k.String("PORT"), "8080"),
		DatabaseURL:            k.String("DATABASE_URL"),
		RedisURL:               k.String("REDIS_URL"),
		PaynowAPIKey:           strings.TrimSpace(k.String("PAYNOW_API_KEY")),
		PaynowSignatureKey:     strings.TrimSpace(k.String("PAYNOW_SIGNATURE_KEY")),
		PaynowEnvironment:      valueOrDefault(strings.ToLower(strings.TrimSpace(k.String("PAYNOW_ENVIRONMENT"))), "sandbox"),
		FrontendBaseURL:        strings.TrimRight(strings.TrimSpace(k.String("FRONTEND_BASE_URL")), "/"),
		BackendPublicBaseURL:   strings.TrimRight(strings.TrimSpace(k.String("BACKEND_PUBLIC_BASE_URL")), "/"),
		CommerceBaseURL:        strings.TrimRight(strings.TrimSpace(k.String("COMMERCE_BASE_URL")), "/"),
		CommercePublishableKey: strings.TrimSpace(k.String("COMMERCE_PUBLISHABLE_KEY")),
		CORSAllowedOrigins:     splitAndTrim(k.String("CORS_ALLOWED_ORIGINS")),
		GatewayTimeout:         parseDuration(k.String("PAYNOW_TIMEOUT"), "10s"),
		CommerceTimeout:        parseDuration(k.String("COMMERCE_TIMEOUT"), "10s"),
		DefaultCurrency:        valueOrDefault(strings.ToUpper(strings.TrimSpace(k.String("PAYMENT_CURRENCY"))), "PLN"),
		CorrelationTTL:         parseDuration(k.String("PAYMENT_CORRELATION_TTL"), "1h"),
		IdempotencyTTL:         parseDuration(k.String("IDEMPOTENCY_TTL"), "24h"),
		WebhookReplayTTL:       parseDuration(k.String("WEBHOOK_REPLAY_TTL"), "24h"),
		InitiateRateWindow:     parseDuration(k.String("PAYMENT_RATE_WINDOW"), "1m"),
		InitiateRateMax:        k.Int("PAYMENT_RATE_MAX"),
	}

	switch cfg.PaynowEnvironment {
	case "production":
		cfg.PaynowBaseURL = PaynowProductionBaseURL
	case "sandbox":
		cfg.PaynowBaseURL = PaynowSandboxBaseURL
	default:
		return nil, fmt.Errorf("PAYNOW_ENVIRONMENT must be sandbox or production, got %q", cfg.PaynowEnvironment)
	}
	if override := strings.TrimSpace(k.String("PAYNOW_BASE_URL")); override != "" {
		cfg.PaynowBaseURL = strings.TrimRight(override, "/")
	}
	if cfg.InitiateRateMax <= 0 {
		cfg.InitiateRateMax = 30
	}

	if cfg.DatabaseURL == "" {
		return nil, errors.New("DATABASE_URL is required")
	}
	if cfg.RedisURL == "" {
		return nil, errors.New("REDIS_URL is required")
	}
	if cfg.PaynowAPIKey == "" {
		return nil, errors.New("PAYNOW_API_KEY is required")
	}
	if cfg.PaynowSignatureKey == "" {
		return nil, errors.New("PAYNOW_SIGNATURE_KEY is required")
	}
	if cfg.CommerceBaseURL == "" {
		return nil, errors.New("COMMERCE_BASE_URL is required")
	}
	for _, base := range []string{cfg.FrontendBaseURL, cfg.BackendPublicBaseURL, cfg.CommerceBaseURL} {
		if base == "" {
			continue
		}
		if _, err := url.ParseRequestURI(base); err != nil {
			return nil, fmt.Errorf("invalid base url %q: %w", base, err)
		}
	}

	return cfg, nil
}

// Production reports whether the service runs against the live gateway.
func (c *Config) Production() bool {
	return c.PaynowEnvironment == "production"
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

// LoadForTests allows tests to override environment variables without touching the real environment.
func LoadForTests(env map[string]string) (*Config, error) {
	original := make(map[string]string, len(env))
	for key := range env {
		original[key] = os.Getenv(key)
		if err := setEnvVar(key, env[key]); err != nil {
			return nil, err
		}
	}
	cfg, err := Load()
	restoreErr := restoreEnv(original)
	if err != nil {
		return nil, err
	}
	return cfg, restoreErr
}

func setEnvVar(key, value string) error {
	if value == "" {
		return os.Unsetenv(key)
	}
	return os.Setenv(key, value)
}

func restoreEnv(values map[string]string) error {
	var errs []string
	for key, value := range values {
		if err := setEnvVar(key, value); err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", key, err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("restore env: %s", strings.Join(errs, "; "))
	}
	return nil
}
