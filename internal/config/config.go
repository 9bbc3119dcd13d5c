package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// Config holds all application configuration
type Config struct {
	// Server settings
	ServerPort string

	// Database configuration
	DatabaseURL string
	DBMaxConns  int
	DBMinConns  int

	// Redis configuration
	RedisURL string

	// Mercado Pago credentials
	MercadoPagoAccessToken string
	MercadoPagoPublicKey   string
	MercadoPagoAPIURL      string

	// PayPal credentials
	PayPalClientID     string
	PayPalClientSecret string
	PayPalAPIURL       string
	PayPalCurrency     string

	// Security settings
	InternalSecret string
	WebhookSecret  string
	GatewayIPs     []string

	// Request limits
	MaxRequestSize int64

	// Payment rules
	MinAmount       decimal.Decimal
	RowLocksEnabled bool

	// Notification delivery
	NotificationURL string

	// Worker settings
	WorkerConcurrency int
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{
		// Server
		ServerPort: getEnv("PAY_SERVER_PORT", "8080"),

		// Database
		DatabaseURL: getEnv("PAY_DATABASE_URL", ""),
		DBMaxConns:  getEnvInt("PAY_DB_MAX_CONNS", 25),
		DBMinConns:  getEnvInt("PAY_DB_MIN_CONNS", 5),

		// Redis
		RedisURL: getEnv("PAY_REDIS_URL", ""),

		// Mercado Pago
		MercadoPagoAccessToken: getEnv("MERCADO_PAGO_ACCESS_TOKEN", ""),
		MercadoPagoPublicKey:   getEnv("MERCADO_PAGO_PUBLIC_KEY", ""),
		MercadoPagoAPIURL:      getEnv("MERCADO_PAGO_API_URL", "https://api.mercadopago.com"),

		// PayPal
		PayPalClientID:     getEnv("PAYPAL_CLIENT_ID", ""),
		PayPalClientSecret: getEnv("PAYPAL_CLIENT_SECRET", ""),
		PayPalAPIURL:       getEnv("PAYPAL_API_URL", "https://api-m.sandbox.paypal.com"),
		PayPalCurrency:     getEnv("PAYPAL_CURRENCY", "BRL"),

		// Security
		InternalSecret: getEnv("PAY_INTERNAL_SECRET", ""),
		WebhookSecret:  getEnv("PAY_WEBHOOK_SECRET", ""),
		MaxRequestSize: getEnvInt64("PAY_MAX_REQUEST_SIZE", 1<<20), // 1MB

		// Payment rules
		MinAmount:       getEnvDecimal("PAY_MIN_AMOUNT", decimal.RequireFromString("0.50")),
		RowLocksEnabled: getEnvBool("PAY_ROW_LOCKS_ENABLED", true),

		// Notification delivery
		NotificationURL: getEnv("PAY_NOTIFICATION_URL", ""),

		// Worker
		WorkerConcurrency: getEnvInt("PAY_WORKER_CONCURRENCY", 10),
	}

	// Parse gateway IP allowlist
	ipList := getEnv("PAY_GATEWAY_IPS", "")
	if ipList != "" {
		cfg.GatewayIPs = strings.Split(ipList, ",")
		for i := range cfg.GatewayIPs {
			cfg.GatewayIPs[i] = strings.TrimSpace(cfg.GatewayIPs[i])
		}
	}

	// Validation
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate ensures all required configuration is present
func (c *Config) Validate() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("PAY_DATABASE_URL is required")
	}
	if c.RedisURL == "" {
		return fmt.Errorf("PAY_REDIS_URL is required")
	}
	if c.InternalSecret == "" {
		return fmt.Errorf("PAY_INTERNAL_SECRET is required")
	}
	if c.MercadoPagoAccessToken == "" {
		return fmt.Errorf("MERCADO_PAGO_ACCESS_TOKEN is required")
	}
	if c.PayPalClientID == "" {
		return fmt.Errorf("PAYPAL_CLIENT_ID is required")
	}
	if c.PayPalClientSecret == "" {
		return fmt.Errorf("PAYPAL_CLIENT_SECRET is required")
	}
	if c.NotificationURL == "" {
		return fmt.Errorf("PAY_NOTIFICATION_URL is required (receipt delivery endpoint)")
	}
	if c.MinAmount.LessThanOrEqual(decimal.Zero) {
		return fmt.Errorf("PAY_MIN_AMOUNT must be positive")
	}

	return nil
}

// LogSafeConfig logs configuration without secrets
func (c *Config) LogSafeConfig() {
	fmt.Printf("Configuration loaded:\n")
	fmt.Printf("  Server Port: %s\n", c.ServerPort)
	fmt.Printf("  Database URL: %s\n", maskConnectionString(c.DatabaseURL))
	fmt.Printf("  Redis URL: %s\n", maskConnectionString(c.RedisURL))
	fmt.Printf("  DB Pool: %d min, %d max\n", c.DBMinConns, c.DBMaxConns)
	fmt.Printf("  Worker Concurrency: %d\n", c.WorkerConcurrency)
	fmt.Printf("  Mercado Pago API: %s\n", c.MercadoPagoAPIURL)
	fmt.Printf("  PayPal API: %s (%s)\n", c.PayPalAPIURL, c.PayPalCurrency)
	fmt.Printf("  Gateway IP Allowlist: %v\n", c.GatewayIPs)
	fmt.Printf("  Max Request Size: %d bytes\n", c.MaxRequestSize)
	fmt.Printf("  Min Amount: %s\n", c.MinAmount.StringFixed(2))
	fmt.Printf("  Row Locks Enabled: %v\n", c.RowLocksEnabled)
	fmt.Printf("  Notification URL: %s\n", c.NotificationURL)
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvDecimal(key string, defaultValue decimal.Decimal) decimal.Decimal {
	if value := os.Getenv(key); value != "" {
		if decVal, err := decimal.NewFromString(value); err == nil {
			return decVal
		}
	}
	return defaultValue
}

func maskConnectionString(connStr string) string {
	if strings.Contains(connStr, "@") {
		parts := strings.Split(connStr, "@")
		if len(parts) == 2 {
			return "***@" + parts[1]
		}
	}
	return "***"
}
