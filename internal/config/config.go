// Package config loads process configuration from the environment, secrets
// from *_FILE paths, and the business policy from an optional YAML file.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/imrishuroy/go-storefront-checkout/internal/money"
)

// Tables names every DynamoDB table the service uses.
type Tables struct {
	Products     string
	Carts        string
	Orders       string
	InventoryLog string
	Idempotency  string
	Counters     string
	Users        string
}

// Config is the process configuration.
type Config struct {
	Region           string
	EndpointOverride string
	MaxSDKAttempts   int
	Tables           Tables

	RunLocal   bool
	ListenAddr string
	JWTSecret  string

	// EventsBackend is "sqs", "amqp" or "none".
	EventsBackend string
	QueueURL      string
	RabbitMQURL   string
	OrderExchange string

	// MetricsBackend is "prometheus" or "cloudwatch".
	MetricsBackend   string
	MetricsNamespace string

	Policy Policy
}

// Policy holds the business thresholds. They are deployment policy and
// default to the values the storefront has always used.
type Policy struct {
	Currency              string
	TaxEnabled            bool
	TaxRate               decimal.Decimal
	FlatShipping          money.Amount
	FreeShippingThreshold money.Amount
	PriceDriftTolerance   decimal.Decimal
	MaxCartLines          int
	GuestCartTTL          time.Duration
	RetryAttempts         int
	RetryBaseDelay        time.Duration
	RetryMaxDelay         time.Duration
}

// DefaultPolicy returns the built-in policy.
func DefaultPolicy() Policy {
	return Policy{
		Currency:              "USD",
		TaxEnabled:            true,
		TaxRate:               decimal.RequireFromString("0.08"),
		FlatShipping:          599,
		FreeShippingThreshold: 5000,
		PriceDriftTolerance:   decimal.RequireFromString("0.10"),
		MaxCartLines:          40,
		GuestCartTTL:          30 * 24 * time.Hour,
		RetryAttempts:         3,
		RetryBaseDelay:        50 * time.Millisecond,
		RetryMaxDelay:         time.Second,
	}
}

// policyFile is the YAML shape of the policy file. Rates are strings so
// they never pass through a float.
type policyFile struct {
	Currency              *string        `yaml:"currency"`
	TaxEnabled            *bool          `yaml:"tax_enabled"`
	TaxRate               *string        `yaml:"tax_rate"`
	FlatShipping          *int64         `yaml:"flat_shipping"`
	FreeShippingThreshold *int64         `yaml:"free_shipping_threshold"`
	PriceDriftTolerance   *string        `yaml:"price_drift_tolerance"`
	MaxCartLines          *int           `yaml:"max_cart_lines"`
	GuestCartTTL          *time.Duration `yaml:"guest_cart_ttl"`
	Retry                 struct {
		Attempts  *int           `yaml:"attempts"`
		BaseDelay *time.Duration `yaml:"base_delay"`
		MaxDelay  *time.Duration `yaml:"max_delay"`
	} `yaml:"retry"`
}

// Load reads the configuration from the environment.
func Load() (*Config, error) {
	cfg := &Config{
		Region:           getEnv("AWS_REGION", "us-east-1"),
		EndpointOverride: getEnv("AWS_ENDPOINT_URL", ""),
		MaxSDKAttempts:   getEnvInt("AWS_MAX_ATTEMPTS", 3),
		Tables: Tables{
			Products:     getEnv("PRODUCTS_TABLE", "products"),
			Carts:        getEnv("CARTS_TABLE", "carts"),
			Orders:       getEnv("ORDERS_TABLE", "orders"),
			InventoryLog: getEnv("INVENTORY_LOG_TABLE", "inventory_log"),
			Idempotency:  getEnv("IDEMPOTENCY_TABLE", "idempotency"),
			Counters:     getEnv("COUNTERS_TABLE", "counters"),
			Users:        getEnv("USERS_TABLE", "users"),
		},
		RunLocal:         os.Getenv("RUN_LOCAL") == "true",
		ListenAddr:       getEnv("LISTEN_ADDR", ":8080"),
		JWTSecret:        getEnvFromFile("JWT_SECRET_FILE", "JWT_SECRET", ""),
		EventsBackend:    getEnv("EVENTS_BACKEND", "sqs"),
		QueueURL:         getEnv("ORDERS_QUEUE_URL", ""),
		RabbitMQURL:      getEnvFromFile("RABBITMQ_URL_FILE", "RABBITMQ_URL", ""),
		OrderExchange:    getEnv("ORDER_EXCHANGE", "orders_exchange"),
		MetricsBackend:   getEnv("METRICS_BACKEND", "prometheus"),
		MetricsNamespace: getEnv("METRICS_NAMESPACE", "Storefront/Checkout"),
		Policy:           DefaultPolicy(),
	}

	if path := os.Getenv("POLICY_FILE"); path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read policy file: %w", err)
		}
		if err := cfg.Policy.merge(raw); err != nil {
			return nil, err
		}
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (p *Policy) merge(raw []byte) error {
	var f policyFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return fmt.Errorf("parse policy file: %w", err)
	}
	if f.Currency != nil {
		p.Currency = *f.Currency
	}
	if f.TaxEnabled != nil {
		p.TaxEnabled = *f.TaxEnabled
	}
	if f.TaxRate != nil {
		r, err := money.ParseRate(*f.TaxRate)
		if err != nil {
			return fmt.Errorf("policy tax_rate: %w", err)
		}
		p.TaxRate = r
	}
	if f.FlatShipping != nil {
		p.FlatShipping = money.Amount(*f.FlatShipping)
	}
	if f.FreeShippingThreshold != nil {
		p.FreeShippingThreshold = money.Amount(*f.FreeShippingThreshold)
	}
	if f.PriceDriftTolerance != nil {
		r, err := money.ParseRate(*f.PriceDriftTolerance)
		if err != nil {
			return fmt.Errorf("policy price_drift_tolerance: %w", err)
		}
		p.PriceDriftTolerance = r
	}
	if f.MaxCartLines != nil {
		p.MaxCartLines = *f.MaxCartLines
	}
	if f.GuestCartTTL != nil {
		p.GuestCartTTL = *f.GuestCartTTL
	}
	if f.Retry.Attempts != nil {
		p.RetryAttempts = *f.Retry.Attempts
	}
	if f.Retry.BaseDelay != nil {
		p.RetryBaseDelay = *f.Retry.BaseDelay
	}
	if f.Retry.MaxDelay != nil {
		p.RetryMaxDelay = *f.Retry.MaxDelay
	}
	return nil
}

// maxCartLines keeps a checkout transaction under DynamoDB's 100-action
// limit: two actions per line plus guard, order, cart and user.
const maxCartLines = 48

func (c *Config) validate() error {
	switch c.EventsBackend {
	case "sqs", "amqp", "none":
	default:
		return fmt.Errorf("EVENTS_BACKEND %q: want sqs, amqp or none", c.EventsBackend)
	}
	switch c.MetricsBackend {
	case "prometheus", "cloudwatch":
	default:
		return fmt.Errorf("METRICS_BACKEND %q: want prometheus or cloudwatch", c.MetricsBackend)
	}
	if c.EventsBackend == "amqp" && c.RabbitMQURL == "" {
		return fmt.Errorf("RABBITMQ_URL is required for the amqp events backend")
	}
	if c.Policy.MaxCartLines < 1 || c.Policy.MaxCartLines > maxCartLines {
		return fmt.Errorf("policy max_cart_lines must be between 1 and %d", maxCartLines)
	}
	if c.Policy.RetryAttempts < 1 {
		return fmt.Errorf("policy retry.attempts must be at least 1")
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if v, err := strconv.Atoi(os.Getenv(key)); err == nil {
		return v
	}
	return defaultValue
}

func getEnvFromFile(fileKey, envKey, defaultValue string) string {
	if filePath := os.Getenv(fileKey); filePath != "" {
		if content, err := os.ReadFile(filePath); err == nil {
			return strings.TrimSpace(string(content))
		}
	}
	return getEnv(envKey, defaultValue)
}
