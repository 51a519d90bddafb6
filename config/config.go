package config

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// SecretSource resolves a JSON secret into key/value pairs.
type SecretSource interface {
	GetSecretMap(ctx context.Context, name string) (map[string]string, error)
}

// CredentialsSecret holds database and Stripe credentials when AWS_USE_SECRETS=true.
const CredentialsSecret = "storefront/CREDENTIALS"

type Config struct {
	Port   string
	AppEnv string

	DBDriver         string
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresHost     string
	PostgresPort     string
	PostgresSSLMode  string
	PostgresTimeZone string
	MySQLDSN         string

	JWTSecret   string
	JWTLifetime time.Duration

	StripeSecretKey    string
	StripeWebhookKey   string
	StripeCurrency     string
	StripeTimeout      time.Duration
	CheckoutSuccessURL string
	CheckoutCancelURL  string
	FrontendURL        string
	AllowedOrigins     []string

	RedisURL         string
	KafkaBrokers     []string
	OrderEventsTopic string

	AWSRegion          string
	AWSEndpoint        string
	AWSUseSecrets      bool
	OrderSNSTopicARN   string
	ProductImageBucket string
	CloudWatchEnabled  bool
	CloudWatchLogGroup string

	RateLimitPerMinute int
	PersistTimeout     time.Duration
}

// LoadConfig reads .env (if present) and the process environment.
func LoadConfig() (*Config, error) {
	_ = godotenv.Load()

	frontend := getEnv("FRONTEND_URL", "http://localhost:5173")
	cfg := &Config{
		Port:   getEnv("PORT", "3000"),
		AppEnv: getEnv("APP_ENV", "development"),

		DBDriver:         strings.ToLower(getEnv("DB_DRIVER", "postgres")),
		PostgresUser:     os.Getenv("POSTGRES_USER"),
		PostgresPassword: os.Getenv("POSTGRES_PASSWORD"),
		PostgresDB:       os.Getenv("POSTGRES_DB"),
		PostgresHost:     os.Getenv("POSTGRES_HOST"),
		PostgresPort:     getEnv("POSTGRES_PORT", "5432"),
		PostgresSSLMode:  getEnv("POSTGRES_SSLMODE", "disable"),
		PostgresTimeZone: getEnv("POSTGRES_TIMEZONE", "Europe/Stockholm"),
		MySQLDSN:         os.Getenv("MYSQL_DSN"),

		JWTSecret:   os.Getenv("JWT_SECRET"),
		JWTLifetime: getDuration("JWT_LIFETIME", 2*time.Hour),

		StripeSecretKey:    os.Getenv("STRIPE_API_KEY"),
		StripeWebhookKey:   os.Getenv("STRIPE_WEBHOOK_SECRET"),
		StripeCurrency:     strings.ToLower(getEnv("STRIPE_CURRENCY", "sek")),
		StripeTimeout:      getDuration("STRIPE_TIMEOUT", 15*time.Second),
		CheckoutSuccessURL: getEnv("CHECKOUT_SUCCESS_URL", frontend+"/checkout/success?session_id={CHECKOUT_SESSION_ID}"),
		CheckoutCancelURL:  getEnv("CHECKOUT_CANCEL_URL", frontend+"/checkout/cancel"),
		FrontendURL:        frontend,
		AllowedOrigins:     splitList(getEnv("ALLOWED_ORIGINS", frontend)),

		RedisURL:         os.Getenv("REDIS_URL"),
		KafkaBrokers:     splitList(os.Getenv("KAFKA_BROKERS")),
		OrderEventsTopic: getEnv("ORDER_EVENTS_TOPIC", "order.events"),

		AWSRegion:          getEnv("AWS_REGION", "eu-north-1"),
		AWSEndpoint:        os.Getenv("AWS_ENDPOINT"),
		AWSUseSecrets:      os.Getenv("AWS_USE_SECRETS") == "true",
		OrderSNSTopicARN:   os.Getenv("ORDER_SNS_TOPIC_ARN"),
		ProductImageBucket: os.Getenv("PRODUCT_IMAGE_BUCKET"),
		CloudWatchEnabled:  os.Getenv("CLOUDWATCH_ENABLED") == "true",
		CloudWatchLogGroup: os.Getenv("CLOUDWATCH_LOG_GROUP"),

		RateLimitPerMinute: getInt("RATE_LIMIT_PER_MINUTE", 100),
		PersistTimeout:     getDuration("ORDER_PERSIST_TIMEOUT", 10*time.Second),
	}
	return cfg, nil
}

// ApplySecrets overlays database and Stripe credentials from the credentials secret.
func (c *Config) ApplySecrets(ctx context.Context, src SecretSource) error {
	m, err := src.GetSecretMap(ctx, CredentialsSecret)
	if err != nil {
		return err
	}
	overlay := map[string]*string{
		"POSTGRES_USER":         &c.PostgresUser,
		"POSTGRES_PASSWORD":     &c.PostgresPassword,
		"POSTGRES_DB":           &c.PostgresDB,
		"POSTGRES_HOST":         &c.PostgresHost,
		"POSTGRES_PORT":         &c.PostgresPort,
		"MYSQL_DSN":             &c.MySQLDSN,
		"JWT_SECRET":            &c.JWTSecret,
		"STRIPE_API_KEY":        &c.StripeSecretKey,
		"STRIPE_WEBHOOK_SECRET": &c.StripeWebhookKey,
	}
	for key, field := range overlay {
		if v, ok := m[key]; ok && v != "" {
			*field = v
		}
	}
	return nil
}

// ValidateDatabase checks the settings needed to open a connection.
func (c *Config) ValidateDatabase() error {
	switch c.DBDriver {
	case "postgres":
		if c.PostgresUser == "" || c.PostgresPassword == "" || c.PostgresDB == "" || c.PostgresHost == "" {
			return fmt.Errorf("database config incomplete")
		}
	case "mysql":
		if c.MySQLDSN == "" {
			return fmt.Errorf("MYSQL_DSN is required when DB_DRIVER=mysql")
		}
	default:
		return fmt.Errorf("unsupported DB_DRIVER %q", c.DBDriver)
	}
	return nil
}

// Validate checks everything the HTTP server needs.
func (c *Config) Validate() error {
	if err := c.ValidateDatabase(); err != nil {
		return err
	}
	if c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}
	if c.StripeSecretKey == "" || c.StripeWebhookKey == "" {
		return fmt.Errorf("STRIPE_API_KEY and STRIPE_WEBHOOK_SECRET are required")
	}
	if c.StripeTimeout <= 0 {
		return fmt.Errorf("STRIPE_TIMEOUT must be positive")
	}
	return nil
}

func (c *Config) IsProduction() bool {
	return c.AppEnv == "production"
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) time.Duration {
	if d, err := time.ParseDuration(os.Getenv(key)); err == nil {
		return d
	}
	return fallback
}

func getInt(key string, fallback int) int {
	if n, err := strconv.Atoi(os.Getenv(key)); err == nil && n > 0 {
		return n
	}
	return fallback
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(part), "/")); p != "" {
			out = append(out, p)
		}
	}
	return out
}
