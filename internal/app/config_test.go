package app

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- Helpers ---

func validConfig() Config {
	return Config{
		Addr:     defaultAddr,
		Store:    StoreConfig{Driver: "memory"},
		Notify:   NotifyConfig{Driver: "log"},
		Auth:     AuthConfig{JWTSecret: "secret"},
		Order:    OrderConfig{Prefix: "RAC"},
		Checkout: CheckoutConfig{Location: "UTC"},
		Pricing: PricingConfig{
			FreeDeliveryThreshold: "5000",
			DeliveryRate:          "0.10",
			InsuranceRate:         "0.15",
			TaxRate:               "0.12",
		},
	}
}

// --- Tests ---

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(c *Config)
		errMsg string
	}{
		{name: "valid", modify: func(*Config) {}},
		{
			name:   "postgres without url",
			modify: func(c *Config) { c.Store.Driver = "postgres" },
			errMsg: "database URL is required",
		},
		{
			name: "postgres with url",
			modify: func(c *Config) {
				c.Store.Driver = "postgres"
				c.Store.DatabaseURL = "postgres://localhost/rental"
			},
		},
		{
			name:   "mongo without uri",
			modify: func(c *Config) { c.Store.Driver = "mongo" },
			errMsg: "mongo URI is required",
		},
		{
			name:   "unknown store",
			modify: func(c *Config) { c.Store.Driver = "sqlite" },
			errMsg: `unknown store driver "sqlite"`,
		},
		{
			name:   "kafka without brokers",
			modify: func(c *Config) { c.Notify.Driver = "kafka"; c.Notify.Brokers = " " },
			errMsg: "kafka brokers are required",
		},
		{
			name:   "amqp without url",
			modify: func(c *Config) { c.Notify.Driver = "amqp" },
			errMsg: "AMQP URL is required",
		},
		{
			name:   "unknown notifier",
			modify: func(c *Config) { c.Notify.Driver = "email" },
			errMsg: `unknown notify driver "email"`,
		},
		{
			name:   "missing jwt secret",
			modify: func(c *Config) { c.Auth.JWTSecret = "" },
			errMsg: "JWT secret is required",
		},
		{
			name:   "empty prefix",
			modify: func(c *Config) { c.Order.Prefix = "" },
			errMsg: "order prefix",
		},
		{
			name:   "bad rate",
			modify: func(c *Config) { c.Pricing.TaxRate = "twelve" },
			errMsg: "pricing tax rate",
		},
		{
			name:   "negative rate",
			modify: func(c *Config) { c.Pricing.DeliveryRate = "-0.1" },
			errMsg: "must not be negative",
		},
		{
			name:   "bad location",
			modify: func(c *Config) { c.Checkout.Location = "Mars/Olympus" },
			errMsg: "checkout location",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.modify(&cfg)
			err := cfg.Validate()
			if tt.errMsg == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestPricingRates(t *testing.T) {
	cfg := validConfig()
	rates, err := cfg.Pricing.Rates()
	require.NoError(t, err)
	assert.True(t, rates.FreeDeliveryThreshold.Equal(decimal.NewFromInt(5000)))
	assert.True(t, rates.TaxRate.Equal(decimal.RequireFromString("0.12")))
}

func TestApplyPlatformDefaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://platform/db")
	t.Setenv("PORT", "9000")

	cfg := validConfig()
	cfg.applyPlatformDefaults()
	assert.Equal(t, "postgres://platform/db", cfg.Store.DatabaseURL)
	assert.Equal(t, "0.0.0.0:9000", cfg.Addr)

	cfg = validConfig()
	cfg.Addr = "127.0.0.1:7000"
	cfg.Store.DatabaseURL = "postgres://explicit/db"
	cfg.applyPlatformDefaults()
	assert.Equal(t, "postgres://explicit/db", cfg.Store.DatabaseURL)
	assert.Equal(t, "127.0.0.1:7000", cfg.Addr)
}
