package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	StoreMongo  = "mongo"
	StoreMemory = "memory"
)

type Config struct {
	HTTPPort           string
	LogLevel           string
	RequestTimeout     time.Duration
	ShutdownTimeout    time.Duration
	MaxRequestBodySize int64

	StoreBackend  string
	MongoURI      string
	MongoDatabase string
	RedisAddr     string

	KafkaBrokers []string
	KafkaTopic   string
	KafkaGroupID string

	Ledger LedgerConfig

	JWTSecret string

	StripeSecretKey     string
	StripeWebhookSecret string
	Currency            string
	PublicBaseURL       string

	Checkout CheckoutConfig
}

type LedgerConfig struct {
	Host              string
	Port              int
	User              string
	Password          string
	DBName            string
	MigrationsDirPath string
}

func (l LedgerConfig) Enabled() bool {
	return l.Host != ""
}

type CheckoutConfig struct {
	Timeout       time.Duration
	MaxAttempts   int
	BaseBackoff   time.Duration
	TaxPrice      float64
	ShippingPrice float64
}

// Load reads an optional .env file and then the process environment.
func Load() *Config {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Printf("failed to load .env: %v", err)
	}

	return &Config{
		HTTPPort:           getEnv("HTTP_PORT", "8080"),
		LogLevel:           getEnv("LOG_LEVEL", "info"),
		RequestTimeout:     getDuration("REQUEST_TIMEOUT", 30*time.Second),
		ShutdownTimeout:    getDuration("SHUTDOWN_TIMEOUT", 10*time.Second),
		MaxRequestBodySize: 1 << 20, // 1MB

		StoreBackend:  getEnv("STORE_BACKEND", StoreMongo),
		MongoURI:      getEnv("MONGO_URI", "mongodb://localhost:27017/?replicaSet=rs0"),
		MongoDatabase: getEnv("MONGO_DATABASE", "shop"),
		RedisAddr:     getEnv("REDIS_ADDR", ""),

		KafkaBrokers: splitList(getEnv("KAFKA_BROKERS", "")),
		KafkaTopic:   getEnv("KAFKA_TOPIC", "order-events"),
		KafkaGroupID: getEnv("KAFKA_GROUP_ID", "sales-ledger"),

		Ledger: LedgerConfig{
			Host:              getEnv("LEDGER_DB_HOST", ""),
			Port:              getInt("LEDGER_DB_PORT", 5432),
			User:              getEnv("LEDGER_DB_USER", "postgres"),
			Password:          getEnv("LEDGER_DB_PASSWORD", "postgres"),
			DBName:            getEnv("LEDGER_DB_NAME", "ledger"),
			MigrationsDirPath: getEnv("LEDGER_MIGRATIONS_DIR", "internal/ledger/migrations"),
		},

		JWTSecret: getEnv("JWT_SECRET", ""),

		StripeSecretKey:     getEnv("STRIPE_SECRET_KEY", ""),
		StripeWebhookSecret: getEnv("STRIPE_WEBHOOK_SECRET", ""),
		Currency:            strings.ToLower(getEnv("CURRENCY", "usd")),
		PublicBaseURL:       strings.TrimRight(getEnv("PUBLIC_BASE_URL", "http://localhost:8080"), "/"),

		Checkout: CheckoutConfig{
			Timeout:       getDuration("CHECKOUT_TIMEOUT", 10*time.Second),
			MaxAttempts:   getInt("CHECKOUT_MAX_ATTEMPTS", 3),
			BaseBackoff:   getDuration("CHECKOUT_BASE_BACKOFF", 50*time.Millisecond),
			TaxPrice:      getFloat("TAX_PRICE", 0),
			ShippingPrice: getFloat("SHIPPING_PRICE", 0),
		},
	}
}

func (c *Config) Validate() error {
	if c.JWTSecret == "" {
		return errors.New("JWT_SECRET is required")
	}
	if c.StoreBackend != StoreMongo && c.StoreBackend != StoreMemory {
		return fmt.Errorf("unknown STORE_BACKEND %q", c.StoreBackend)
	}
	if c.Checkout.MaxAttempts < 1 {
		return errors.New("CHECKOUT_MAX_ATTEMPTS must be at least 1")
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getInt(key string, defaultValue int) int {
	v, err := strconv.Atoi(getEnv(key, ""))
	if err != nil {
		return defaultValue
	}
	return v
}

func getFloat(key string, defaultValue float64) float64 {
	v, err := strconv.ParseFloat(getEnv(key, ""), 64)
	if err != nil {
		return defaultValue
	}
	return v
}

func getDuration(key string, defaultValue time.Duration) time.Duration {
	v, err := time.ParseDuration(getEnv(key, ""))
	if err != nil {
		return defaultValue
	}
	return v
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
