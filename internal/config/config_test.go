package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("JWT_SECRET", "secret")

	cfg := Load()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "8080", cfg.HTTPPort)
	assert.Equal(t, StoreMongo, cfg.StoreBackend)
	assert.Equal(t, "order-events", cfg.KafkaTopic)
	assert.Empty(t, cfg.KafkaBrokers)
	assert.False(t, cfg.Ledger.Enabled())
	assert.Equal(t, 3, cfg.Checkout.MaxAttempts)
	assert.Equal(t, 10*time.Second, cfg.Checkout.Timeout)
	assert.Equal(t, "usd", cfg.Currency)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("JWT_SECRET", "secret")
	t.Setenv("STORE_BACKEND", "memory")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092,")
	t.Setenv("LEDGER_DB_HOST", "pg")
	t.Setenv("LEDGER_DB_PORT", "6543")
	t.Setenv("CHECKOUT_TIMEOUT", "3s")
	t.Setenv("CHECKOUT_MAX_ATTEMPTS", "5")
	t.Setenv("SHIPPING_PRICE", "12.5")
	t.Setenv("CURRENCY", "EGP")
	t.Setenv("PUBLIC_BASE_URL", "https://shop.example.com/")

	cfg := Load()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, StoreMemory, cfg.StoreBackend)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.KafkaBrokers)
	assert.True(t, cfg.Ledger.Enabled())
	assert.Equal(t, 6543, cfg.Ledger.Port)
	assert.Equal(t, 3*time.Second, cfg.Checkout.Timeout)
	assert.Equal(t, 5, cfg.Checkout.MaxAttempts)
	assert.Equal(t, 12.5, cfg.Checkout.ShippingPrice)
	assert.Equal(t, "egp", cfg.Currency)
	assert.Equal(t, "https://shop.example.com", cfg.PublicBaseURL)
}

func TestLoad_BadValuesFallBack(t *testing.T) {
	t.Setenv("CHECKOUT_TIMEOUT", "soon")
	t.Setenv("LEDGER_DB_PORT", "x")

	cfg := Load()
	assert.Equal(t, 10*time.Second, cfg.Checkout.Timeout)
	assert.Equal(t, 5432, cfg.Ledger.Port)
}

func TestValidate(t *testing.T) {
	cfg := &Config{StoreBackend: StoreMongo, Checkout: CheckoutConfig{MaxAttempts: 1}}
	assert.Error(t, cfg.Validate(), "missing secret")

	cfg.JWTSecret = "s"
	assert.NoError(t, cfg.Validate())

	cfg.StoreBackend = "sqlite"
	assert.Error(t, cfg.Validate())

	cfg.StoreBackend = StoreMemory
	cfg.Checkout.MaxAttempts = 0
	assert.Error(t, cfg.Validate())
}
