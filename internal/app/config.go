package app

import (
	"os"
	"strings"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigyaml"
	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/rental-checkout/internal/domain/pricing"
)

const defaultAddr = "0.0.0.0:8080"

// Config holds the complete application configuration, loadable from
// environment variables (CHECKOUT_ prefix), flags, or YAML config files.
type Config struct {
	Addr     string `default:"0.0.0.0:8080" usage:"API server listen address"`
	Store    StoreConfig
	Cart     CartConfig
	Notify   NotifyConfig
	PayPal   PayPalConfig
	Auth     AuthConfig
	Order    OrderConfig
	Pricing  PricingConfig
	Checkout CheckoutConfig
	Session  SessionConfig

	RateLimit RateLimitConfig
	CORS      CORSConfig
	Graceful  GracefulConfig
}

// StoreConfig selects where orders and the order counter live.
type StoreConfig struct {
	Driver        string        `default:"postgres" usage:"Order store: postgres, mongo or memory"`
	DatabaseURL   string        `usage:"PostgreSQL connection URL (CHECKOUT_STORE_DATABASE_URL or DATABASE_URL)" flag:"database-url"`
	LockTimeout   time.Duration `default:"2s" usage:"Counter row lock timeout"`
	MongoURI      string        `usage:"MongoDB connection URI" flag:"mongo-uri"`
	MongoDatabase string        `default:"rental" usage:"MongoDB database name"`
}

// CartConfig locates the cart store. An empty address disables clearing
// the cart after checkout.
type CartConfig struct {
	RedisAddr string `usage:"Redis address of the cart store" flag:"redis-addr"`
	KeyPrefix string `default:"cart:" usage:"Cart key prefix"`
}

// NotifyConfig selects where finalized orders are announced.
type NotifyConfig struct {
	Driver  string `default:"log" usage:"Order notifier: kafka, amqp or log"`
	Brokers string `usage:"Comma separated Kafka brokers"`
	Topic   string `default:"orders.finalized" usage:"Kafka topic"`
	AMQPURL string `usage:"AMQP broker URL" flag:"amqp-url"`
	Queue   string `default:"orders.finalized" usage:"AMQP queue"`
}

// PayPalConfig configures the payment provider.
type PayPalConfig struct {
	BaseURL          string        `default:"https://api-m.sandbox.paypal.com" usage:"PayPal API base URL"`
	ClientID         string        `usage:"PayPal client id" flag:"paypal-client-id"`
	ClientSecret     string        `usage:"PayPal client secret"`
	Currency         string        `default:"PHP" usage:"Charge currency"`
	Timeout          time.Duration `default:"15s" usage:"PayPal request timeout"`
	BreakerThreshold uint32        `default:"5" usage:"Consecutive failures that open the circuit"`
	BreakerTimeout   time.Duration `default:"30s" usage:"Time the circuit stays open"`
}

// AuthConfig configures bearer token verification.
type AuthConfig struct {
	JWTSecret string `usage:"HS256 secret of identity tokens" flag:"jwt-secret"`
	Issuer    string `usage:"Expected token issuer; empty accepts any"`
}

// OrderConfig configures order identifiers.
type OrderConfig struct {
	Prefix       string        `default:"RAC" usage:"Order id prefix"`
	CounterName  string        `default:"orders" usage:"Name of the order counter"`
	MaxRetries   int           `default:"3" usage:"Counter attempts on contention"`
	RetryBackoff time.Duration `default:"50ms" usage:"Base delay between counter attempts"`
}

// PricingConfig holds the fee and tax rates as decimal strings.
type PricingConfig struct {
	FreeDeliveryThreshold string `default:"5000" usage:"Subtotal from which delivery is free"`
	DeliveryRate          string `default:"0.10" usage:"Delivery fee rate below the threshold"`
	InsuranceRate         string `default:"0.15" usage:"Insurance rate"`
	TaxRate               string `default:"0.12" usage:"Tax rate"`
}

// CheckoutConfig configures order finalization.
type CheckoutConfig struct {
	Location           string        `default:"UTC" usage:"Storefront time zone used for date validation"`
	AfterCommitTimeout time.Duration `default:"5s" usage:"Timeout of cart clearing and notification after an order is saved"`
}

// SessionConfig configures in-progress checkouts.
type SessionConfig struct {
	IdleTimeout   time.Duration `default:"2h" usage:"Idle time after which a checkout is discarded"`
	SweepInterval time.Duration `default:"5m" usage:"Interval of expired checkout cleanup"`
}

// RateLimitConfig controls the per-user sliding window rate limiter.
type RateLimitConfig struct {
	Max    int           `default:"120" usage:"Max requests per window"`
	Window time.Duration `default:"1m"  usage:"Rate limit window duration"`
}

// CORSConfig controls Cross-Origin Resource Sharing headers.
type CORSConfig struct {
	Origins          []string `default:"*" usage:"Allowed CORS origins"`
	AllowCredentials bool     `default:"false" usage:"Allow credentials (cookies, auth headers)" flag:"cors-credentials"`
}

// GracefulConfig controls graceful shutdown timing.
type GracefulConfig struct {
	ReadinessDelay  time.Duration `default:"3s"  usage:"Delay after readiness=false before shutdown" flag:"readiness-delay"`
	ShutdownTimeout time.Duration `default:"15s" usage:"Maximum shutdown duration" flag:"shutdown-timeout"`
}

// LoadConfig loads configuration from environment variables and YAML
// config files, applies platform defaults and validates the result.
func LoadConfig() (*Config, error) {
	var cfg Config
	loader := aconfig.LoaderFor(&cfg, aconfig.Config{
		EnvPrefix: "CHECKOUT",
		Files:     []string{"config.yaml", "/etc/checkout/config.yaml"},
		FileDecoders: map[string]aconfig.FileDecoder{
			".yaml": aconfigyaml.New(),
		},
	})
	if err := loader.Load(); err != nil {
		return nil, errors.Wrap(err, "load config")
	}
	cfg.applyPlatformDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyPlatformDefaults maps platform-provided DATABASE_URL and PORT onto
// the CHECKOUT_ configuration.
func (c *Config) applyPlatformDefaults() {
	if c.Store.DatabaseURL == "" {
		if v := os.Getenv("DATABASE_URL"); v != "" {
			c.Store.DatabaseURL = v
		}
	}
	if port := os.Getenv("PORT"); port != "" && c.Addr == defaultAddr {
		c.Addr = "0.0.0.0:" + port
	}
}

// Validate checks that every selected driver has what it needs.
func (c *Config) Validate() error {
	switch c.Store.Driver {
	case "postgres":
		if c.Store.DatabaseURL == "" {
			return errors.New("database URL is required: set CHECKOUT_STORE_DATABASE_URL or DATABASE_URL")
		}
	case "mongo":
		if c.Store.MongoURI == "" {
			return errors.New("mongo URI is required for the mongo store")
		}
	case "memory":
	default:
		return errors.Errorf("unknown store driver %q", c.Store.Driver)
	}

	switch c.Notify.Driver {
	case "kafka":
		if strings.TrimSpace(c.Notify.Brokers) == "" {
			return errors.New("kafka brokers are required for the kafka notifier")
		}
	case "amqp":
		if c.Notify.AMQPURL == "" {
			return errors.New("AMQP URL is required for the amqp notifier")
		}
	case "log":
	default:
		return errors.Errorf("unknown notify driver %q", c.Notify.Driver)
	}

	if c.Auth.JWTSecret == "" {
		return errors.New("JWT secret is required: set CHECKOUT_AUTH_JWT_SECRET")
	}
	if c.Order.Prefix == "" {
		return errors.New("order prefix must not be empty")
	}
	if _, err := c.Pricing.Rates(); err != nil {
		return err
	}
	if _, err := time.LoadLocation(c.Checkout.Location); err != nil {
		return errors.Wrapf(err, "checkout location %q", c.Checkout.Location)
	}
	return nil
}

// Rates parses the configured pricing rates.
func (p PricingConfig) Rates() (pricing.Rates, error) {
	var r pricing.Rates
	fields := []struct {
		name string
		raw  string
		dst  *decimal.Decimal
	}{
		{"free delivery threshold", p.FreeDeliveryThreshold, &r.FreeDeliveryThreshold},
		{"delivery rate", p.DeliveryRate, &r.DeliveryRate},
		{"insurance rate", p.InsuranceRate, &r.InsuranceRate},
		{"tax rate", p.TaxRate, &r.TaxRate},
	}
	for _, f := range fields {
		v, err := decimal.NewFromString(f.raw)
		if err != nil {
			return pricing.Rates{}, errors.Wrapf(err, "pricing %s %q", f.name, f.raw)
		}
		if v.IsNegative() {
			return pricing.Rates{}, errors.Errorf("pricing %s must not be negative", f.name)
		}
		*f.dst = v
	}
	return r, nil
}
