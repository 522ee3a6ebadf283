package config

import (
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Session  SessionConfig
	Resend   ResendConfig
	Payment  PaymentConfig
	Stripe   StripeConfig
	Paystack PaystackConfig
	R2       R2Config
	Redis    RedisConfig
	RabbitMQ RabbitMQConfig
	Cart     CartConfig
	Admin    AdminConfig
}

type ServerConfig struct {
	Port           string
	Host           string
	Env            string
	AllowedOrigins []string
}

type DatabaseConfig struct {
	URL      string // Full database URL
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
}

type SessionConfig struct {
	Secret string
	Name   string
}

type ResendConfig struct {
	APIKey    string
	FromEmail string
	FromName  string
}

// PaymentConfig selects the gateway used to open new transactions.
type PaymentConfig struct {
	Provider string // "stripe", "paystack" or "mock"
	Currency string
	Timeout  time.Duration
}

type StripeConfig struct {
	SecretKey     string
	WebhookSecret string
}

type PaystackConfig struct {
	SecretKey   string
	PublicKey   string
	Environment string
	CallbackURL string
}

type R2Config struct {
	AccountID       string
	AccessKeyID     string
	SecretAccessKey string
	BucketName      string
	PublicURL       string
	Region          string
	Endpoint        string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	StockTTL time.Duration
}

type RabbitMQConfig struct {
	URL      string
	Exchange string
}

// CartConfig holds the business settings of cart assembly and expiry.
type CartConfig struct {
	PendingCreationTimeout time.Duration
	PendingTimeout         time.Duration
	JanitorInterval        time.Duration
	PartnerDomains         []string
	EventName              string
	TicketArchiveDir       string
	// CreateLimit caps cart creations per owner within CreateWindow
	CreateLimit  int
	CreateWindow time.Duration
}

type AdminConfig struct {
	APIKey string
}

func Load() (*Config, error) {
	// Load .env files if they exist (try .env.local first, then .env)
	_ = godotenv.Load(".env.local")
	_ = godotenv.Load(".env")

	config := &Config{
		Server: ServerConfig{
			Port: getEnv("PORT", "8080"),
			Host: getEnv("HOST", "localhost"),
			Env:  getEnv("ENV", "development"),

			AllowedOrigins: getEnvAsList("CORS_ALLOWED_ORIGINS"),
		},
		Database: parseDatabaseConfig(),
		Session: SessionConfig{
			Secret: getEnv("SESSION_SECRET", "your-secret-key-change-in-production"),
			Name:   getEnv("SESSION_NAME", "session"),
		},
		Resend: ResendConfig{
			APIKey:    getEnv("RESEND_API_KEY", ""),
			FromEmail: getEnv("RESEND_FROM_EMAIL", "billetterie@lan.example.org"),
			FromName:  getEnv("RESEND_FROM_NAME", "LAN Registration"),
		},
		Payment: PaymentConfig{
			Provider: getEnv("PAYMENT_PROVIDER", "mock"),
			Currency: strings.ToLower(getEnv("PAYMENT_CURRENCY", "eur")),
			Timeout:  getEnvAsDuration("PAYMENT_TIMEOUT", 10*time.Second),
		},
		Stripe: StripeConfig{
			SecretKey:     getEnv("STRIPE_SECRET_KEY", ""),
			WebhookSecret: getEnv("STRIPE_WEBHOOK_SECRET", ""),
		},
		Paystack: PaystackConfig{
			SecretKey:   getEnv("PAYSTACK_SECRET_KEY", ""),
			PublicKey:   getEnv("PAYSTACK_PUBLIC_KEY", ""),
			Environment: getEnv("PAYSTACK_ENVIRONMENT", "test"),
			CallbackURL: getEnv("PAYSTACK_CALLBACK_URL", "http://localhost:8080/carts/callback"),
		},
		R2: R2Config{
			AccountID:       getEnv("R2_ACCOUNT_ID", ""),
			AccessKeyID:     getEnv("R2_ACCESS_KEY_ID", ""),
			SecretAccessKey: getEnv("R2_SECRET_ACCESS_KEY", ""),
			BucketName:      getEnv("R2_BUCKET_NAME", "lan-tickets"),
			PublicURL:       getEnv("R2_PUBLIC_URL", ""),
			Region:          getEnv("R2_REGION", "auto"),
			Endpoint:        getEnv("R2_ENDPOINT", ""),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", ""),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
			StockTTL: getEnvAsDuration("REDIS_STOCK_TTL", 30*time.Second),
		},
		RabbitMQ: RabbitMQConfig{
			URL:      getEnv("RABBITMQ_URL", ""),
			Exchange: getEnv("RABBITMQ_EXCHANGE", "carts"),
		},
		Cart: CartConfig{
			PendingCreationTimeout: getEnvAsDuration("CART_PENDING_CREATION_TIMEOUT", 5*time.Minute),
			PendingTimeout:         getEnvAsDuration("CART_PENDING_TIMEOUT", 24*time.Hour),
			JanitorInterval:        getEnvAsDuration("CART_JANITOR_INTERVAL", time.Minute),
			PartnerDomains:         getEnvAsList("PARTNER_DOMAINS"),
			EventName:              getEnv("EVENT_NAME", "LAN Party"),
			TicketArchiveDir:       getEnv("TICKET_ARCHIVE_DIR", "./tickets"),
			CreateLimit:            getEnvAsInt("CART_CREATE_LIMIT", 10),
			CreateWindow:           getEnvAsDuration("CART_CREATE_WINDOW", time.Minute),
		},
		Admin: AdminConfig{
			APIKey: getEnv("ADMIN_API_KEY", ""),
		},
	}

	return config, nil
}

func parseDatabaseConfig() DatabaseConfig {
	// Check if DATABASE_URL is provided
	databaseURL := getEnv("DATABASE_URL", "")
	if databaseURL != "" {
		return parseDatabaseURL(databaseURL)
	}

	return DatabaseConfig{
		Host:     getEnv("DB_HOST", "localhost"),
		Port:     getEnvAsInt("DB_PORT", 5432),
		User:     getEnv("DB_USER", "postgres"),
		Password: getEnv("DB_PASSWORD", ""),
		DBName:   getEnv("DB_NAME", "lan_registration"),
		SSLMode:  getEnv("DB_SSLMODE", "disable"),
	}
}

func parseDatabaseURL(databaseURL string) DatabaseConfig {
	config := DatabaseConfig{
		URL: databaseURL,
	}

	u, err := url.Parse(databaseURL)
	if err != nil {
		// If parsing fails, return the URL as-is
		return config
	}

	config.Host = u.Hostname()
	if u.Port() != "" {
		config.Port, _ = strconv.Atoi(u.Port())
	} else {
		config.Port = 5432
	}

	if u.User != nil {
		config.User = u.User.Username()
		config.Password, _ = u.User.Password()
	}

	config.DBName = strings.TrimPrefix(u.Path, "/")

	config.SSLMode = u.Query().Get("sslmode")
	if config.SSLMode == "" {
		config.SSLMode = "disable"
	}

	return config
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

// getEnvAsList splits a comma separated variable, dropping blanks.
func getEnvAsList(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if part = strings.TrimSpace(strings.ToLower(part)); part != "" {
			out = append(out, part)
		}
	}
	return out
}
