package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/jamesl1500/taskispace.com-sub003/internal/domain"
	"github.com/joho/godotenv"
)

// Payment providers.
const (
	ProviderStripe = "stripe"
	ProviderMock   = "mock"
)

// Config holds all application configuration loaded from environment variables.
type Config struct {
	Port        int
	JWTSecret   string
	DatabaseURL string
	CORSOrigins []string
	AppURL      string

	LogLevel  string
	LogFormat string

	PaymentProvider     string
	StripeSecretKey     string
	StripeWebhookSecret string
	WebhookSecret       string

	PlansFile string
	Prices    domain.PriceIDs

	RateLimitRPS   float64
	RateLimitBurst int

	EventRetention  time.Duration
	MonitorInterval time.Duration
}

// Load reads configuration from environment variables with sensible defaults.
// A .env file in the working directory is read first when present; variables
// already set in the environment win.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to read .env: %w", err)
	}

	port, err := strconv.Atoi(getEnv("PORT", "4001"))
	if err != nil {
		return nil, fmt.Errorf("invalid PORT: %w", err)
	}

	jwtSecret := getEnv("JWT_SECRET", "")
	if jwtSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}

	origins := strings.Split(getEnv("CORS_ORIGINS", "http://localhost:3000"), ",")
	for i := range origins {
		origins[i] = strings.TrimSpace(origins[i])
	}

	cfg := &Config{
		Port:                port,
		JWTSecret:           jwtSecret,
		DatabaseURL:         getEnv("DATABASE_URL", ""),
		CORSOrigins:         origins,
		AppURL:              strings.TrimRight(getEnv("APP_URL", "http://localhost:3000"), "/"),
		LogLevel:            getEnv("LOG_LEVEL", "info"),
		LogFormat:           getEnv("LOG_FORMAT", "json"),
		PaymentProvider:     strings.ToLower(getEnv("PAYMENT_PROVIDER", ProviderMock)),
		StripeSecretKey:     getEnv("STRIPE_SECRET_KEY", ""),
		StripeWebhookSecret: getEnv("STRIPE_WEBHOOK_SECRET", ""),
		WebhookSecret:       getEnv("WEBHOOK_SECRET", ""),
		PlansFile:           getEnv("PLANS_FILE", ""),
		Prices: domain.PriceIDs{
			ProMonthly:  getEnv("STRIPE_PRICE_PRO_MONTHLY", ""),
			ProYearly:   getEnv("STRIPE_PRICE_PRO_YEARLY", ""),
			TeamMonthly: getEnv("STRIPE_PRICE_TEAM_MONTHLY", ""),
			TeamYearly:  getEnv("STRIPE_PRICE_TEAM_YEARLY", ""),
		},
	}

	if cfg.RateLimitRPS, err = strconv.ParseFloat(getEnv("RATE_LIMIT_RPS", "20"), 64); err != nil {
		return nil, fmt.Errorf("invalid RATE_LIMIT_RPS: %w", err)
	}
	if cfg.RateLimitBurst, err = strconv.Atoi(getEnv("RATE_LIMIT_BURST", "40")); err != nil {
		return nil, fmt.Errorf("invalid RATE_LIMIT_BURST: %w", err)
	}
	if cfg.EventRetention, err = time.ParseDuration(getEnv("EVENT_RETENTION", "2160h")); err != nil {
		return nil, fmt.Errorf("invalid EVENT_RETENTION: %w", err)
	}
	if cfg.MonitorInterval, err = time.ParseDuration(getEnv("MONITOR_INTERVAL", "1h")); err != nil {
		return nil, fmt.Errorf("invalid MONITOR_INTERVAL: %w", err)
	}
	if cfg.MonitorInterval <= 0 {
		return nil, fmt.Errorf("MONITOR_INTERVAL must be positive")
	}

	switch cfg.PaymentProvider {
	case ProviderStripe:
		if cfg.StripeSecretKey == "" || cfg.StripeWebhookSecret == "" {
			return nil, fmt.Errorf("STRIPE_SECRET_KEY and STRIPE_WEBHOOK_SECRET are required for the stripe provider")
		}
	case ProviderMock:
		if cfg.WebhookSecret == "" {
			return nil, fmt.Errorf("WEBHOOK_SECRET is required for the mock provider")
		}
	default:
		return nil, fmt.Errorf("unknown PAYMENT_PROVIDER %q", cfg.PaymentProvider)
	}

	return cfg, nil
}

// Catalog builds the plan catalog from PLANS_FILE, or from the built-in plans
// priced with the STRIPE_PRICE_* variables.
func (c *Config) Catalog() (*domain.Catalog, error) {
	if c.PlansFile != "" {
		return domain.LoadCatalogFile(c.PlansFile)
	}
	return domain.NewCatalog(domain.DefaultPlans(c.Prices), domain.FreePlanID)
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
