package app

import (
	"os"
	"slices"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigyaml"
	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/shopnow/internal/domain/checkout"
)

// Store drivers.
const (
	DriverMemory   = "memory"
	DriverRedis    = "redis"
	DriverPostgres = "postgres"
)

const defaultAddr = "0.0.0.0:8080"

// Config holds the complete application configuration, loadable from
// environment variables (SHOPNOW_ prefix), flags, or YAML config files.
type Config struct {
	Addr      string `default:"0.0.0.0:8080" usage:"HTTP listen address"`
	WebDir    string `default:"web" usage:"Directory of the built browser app; empty disables it" flag:"web-dir"`
	Store     StoreConfig
	Catalog   CatalogConfig
	OIDC      OIDCConfig
	Checkout  CheckoutConfig
	Shopper   ShopperConfig
	RateLimit RateLimitConfig
	CORS      CORSConfig
	Graceful  GracefulConfig
}

// StoreConfig selects where cart snapshots and sessions are kept.
type StoreConfig struct {
	Driver      string        `default:"memory" usage:"Store driver: memory, redis or postgres"`
	DatabaseURL string        `usage:"PostgreSQL connection URL (SHOPNOW_STORE_DATABASE_URL or DATABASE_URL)" flag:"database-url"`
	RedisURL    string        `usage:"Redis URL (SHOPNOW_STORE_REDIS_URL or REDIS_URL)" flag:"redis-url"`
	SnapshotTTL time.Duration `default:"720h" usage:"Lifetime of an untouched cart snapshot in redis" flag:"snapshot-ttl"`
	SweepEvery  time.Duration `default:"10m" usage:"Interval of the expired session sweep in postgres" flag:"session-sweep"`
}

// CatalogConfig configures the upstream catalog service.
type CatalogConfig struct {
	BaseURL     string        `default:"https://api.escuelajs.co/api/v1/" usage:"Catalog API base URL" flag:"catalog-url"`
	Timeout     time.Duration `default:"10s" usage:"Catalog request timeout" flag:"catalog-timeout"`
	MaxFailures int           `default:"5" usage:"Consecutive failures that open the circuit breaker"`
	OpenTimeout time.Duration `default:"30s" usage:"How long the circuit breaker stays open"`
}

// OIDCConfig configures sign-in. Sign-in is disabled without a client id.
type OIDCConfig struct {
	IssuerURL    string        `default:"https://accounts.google.com" usage:"OIDC issuer URL"`
	ClientID     string        `usage:"OAuth client id" flag:"oidc-client-id"`
	ClientSecret string        `usage:"OAuth client secret" flag:"oidc-client-secret"`
	RedirectURL  string        `default:"http://localhost:8080/auth/callback" usage:"OAuth redirect URL" flag:"oidc-redirect-url"`
	SessionTTL   time.Duration `default:"0s" usage:"Session lifetime; zero uses the ID token expiry" flag:"session-ttl"`
}

// CheckoutConfig holds the checkout rates as decimal strings.
type CheckoutConfig struct {
	Shipping string `default:"10" usage:"Flat shipping fee"`
	TaxRate  string `default:"0.08" usage:"Tax rate applied to the subtotal" flag:"tax-rate"`
}

// Rates parses the checkout rates.
func (c CheckoutConfig) Rates() (checkout.Rates, error) {
	shipping, err := decimal.NewFromString(c.Shipping)
	if err != nil {
		return checkout.Rates{}, errors.Wrap(err, "shipping")
	}
	tax, err := decimal.NewFromString(c.TaxRate)
	if err != nil {
		return checkout.Rates{}, errors.Wrap(err, "tax rate")
	}
	if shipping.IsNegative() || tax.IsNegative() {
		return checkout.Rates{}, errors.New("checkout rates must not be negative")
	}
	return checkout.Rates{Shipping: shipping, TaxRate: tax}, nil
}

// ShopperConfig controls shopper workspaces.
type ShopperConfig struct {
	IdleTTL       time.Duration `default:"30m" usage:"Idle time before a workspace is dropped from memory" flag:"idle-ttl"`
	MaxWorkspaces int           `default:"100000" usage:"Workspaces in memory above which liveness fails" flag:"max-workspaces"`
	SettleWindow  time.Duration `default:"2s" usage:"How long the checkout guard waits for the session" flag:"settle-window"`
	CookieSecure  bool          `default:"false" usage:"Mark cookies Secure" flag:"cookie-secure"`
	CookieMaxAge  time.Duration `default:"8760h" usage:"Shopper cookie lifetime" flag:"cookie-max-age"`
}

// RateLimitConfig controls the per-client sliding window rate limiter.
type RateLimitConfig struct {
	Max    int           `default:"300" usage:"Max requests per window"`
	Window time.Duration `default:"1m"  usage:"Rate limit window duration"`
}

// CORSConfig controls Cross-Origin Resource Sharing headers.
type CORSConfig struct {
	Origins          []string `default:"*" usage:"Allowed CORS origins"`
	AllowCredentials bool     `default:"false" usage:"Allow the shopper cookie on cross-origin requests from listed origins" flag:"cors-credentials"`
}

// GracefulConfig controls graceful shutdown timing.
type GracefulConfig struct {
	ReadinessDelay  time.Duration `default:"3s"  usage:"Delay after readiness=false before shutdown" flag:"readiness-delay"`
	ShutdownTimeout time.Duration `default:"15s" usage:"Maximum shutdown duration" flag:"shutdown-timeout"`
}

// LoadConfig loads configuration from environment variables, flags and YAML
// config files, then applies platform defaults and validates it.
func LoadConfig() (*Config, error) {
	return loadConfig(aconfig.Config{
		EnvPrefix: "SHOPNOW",
		Files:     []string{"config.yaml", "/etc/shopnow/config.yaml"},
		FileDecoders: map[string]aconfig.FileDecoder{
			".yaml": aconfigyaml.New(),
		},
	})
}

func loadConfig(ac aconfig.Config) (*Config, error) {
	var cfg Config
	if err := aconfig.LoaderFor(&cfg, ac).Load(); err != nil {
		return nil, errors.Wrap(err, "load config")
	}
	cfg.applyPlatformDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyPlatformDefaults maps platform-provided environment variables such as
// DATABASE_URL, REDIS_URL and PORT onto the SHOPNOW_-prefixed configuration.
func (c *Config) applyPlatformDefaults() {
	if c.Store.DatabaseURL == "" {
		c.Store.DatabaseURL = os.Getenv("DATABASE_URL")
	}
	if c.Store.RedisURL == "" {
		c.Store.RedisURL = os.Getenv("REDIS_URL")
	}
	if port := os.Getenv("PORT"); port != "" && c.Addr == defaultAddr {
		c.Addr = "0.0.0.0:" + port
	}
}

func (c *Config) validate() error {
	switch c.Store.Driver {
	case DriverMemory:
	case DriverRedis:
		if c.Store.RedisURL == "" {
			return errors.New("redis URL is required: set SHOPNOW_STORE_REDIS_URL or REDIS_URL")
		}
	case DriverPostgres:
		if c.Store.DatabaseURL == "" {
			return errors.New("database URL is required: set SHOPNOW_STORE_DATABASE_URL or DATABASE_URL")
		}
	default:
		return errors.Errorf("unknown store driver %q", c.Store.Driver)
	}
	if _, err := c.Checkout.Rates(); err != nil {
		return errors.Wrap(err, "checkout")
	}
	if c.Catalog.MaxFailures < 1 {
		return errors.New("catalog max failures must be positive")
	}
	if c.CORS.AllowCredentials && slices.Contains(c.CORS.Origins, "*") {
		return errors.New("cors credentials require explicit origins, not *")
	}
	if c.RateLimit.Max < 1 {
		return errors.New("rate limit max must be positive")
	}
	return nil
}
