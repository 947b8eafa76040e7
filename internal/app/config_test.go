package app

import (
	"testing"

	"github.com/cristalhq/aconfig"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func load(t *testing.T) (*Config, error) {
	t.Helper()
	return loadConfig(aconfig.Config{
		EnvPrefix: "SHOPNOW",
		SkipFlags: true,
		SkipFiles: true,
	})
}

func TestLoadConfig_Defaults(t *testing.T) {
	t.Setenv("PORT", "")
	t.Setenv("DATABASE_URL", "")
	t.Setenv("REDIS_URL", "")

	cfg, err := load(t)
	require.NoError(t, err)

	assert.Equal(t, defaultAddr, cfg.Addr)
	assert.Equal(t, DriverMemory, cfg.Store.Driver)
	assert.Equal(t, "https://api.escuelajs.co/api/v1/", cfg.Catalog.BaseURL)
	assert.Equal(t, []string{"*"}, cfg.CORS.Origins)
	assert.False(t, cfg.CORS.AllowCredentials)

	rates, err := cfg.Checkout.Rates()
	require.NoError(t, err)
	assert.True(t, rates.Shipping.Equal(decimal.NewFromInt(10)))
	assert.True(t, rates.TaxRate.Equal(decimal.RequireFromString("0.08")))
}

func TestLoadConfig_PlatformDefaults(t *testing.T) {
	t.Setenv("PORT", "9000")
	t.Setenv("DATABASE_URL", "postgres://localhost/shop")
	t.Setenv("SHOPNOW_STORE_DRIVER", DriverPostgres)

	cfg, err := load(t)
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0:9000", cfg.Addr)
	assert.Equal(t, "postgres://localhost/shop", cfg.Store.DatabaseURL)
}

func TestLoadConfig_Validation(t *testing.T) {
	t.Setenv("PORT", "")
	t.Setenv("DATABASE_URL", "")
	t.Setenv("REDIS_URL", "")

	tests := []struct {
		name string
		env  map[string]string
	}{
		{name: "redis without url", env: map[string]string{"SHOPNOW_STORE_DRIVER": DriverRedis}},
		{name: "postgres without url", env: map[string]string{"SHOPNOW_STORE_DRIVER": DriverPostgres}},
		{name: "unknown driver", env: map[string]string{"SHOPNOW_STORE_DRIVER": "sqlite"}},
		{name: "bad tax rate", env: map[string]string{"SHOPNOW_CHECKOUT_TAX_RATE": "eight"}},
		{name: "negative shipping", env: map[string]string{"SHOPNOW_CHECKOUT_SHIPPING": "-1"}},
		{name: "credentials with any origin", env: map[string]string{"SHOPNOW_CORS_ALLOW_CREDENTIALS": "true"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := load(t)
			assert.Error(t, err)
		})
	}
}

func TestLoadConfig_CredentialsWithListedOrigins(t *testing.T) {
	t.Setenv("PORT", "")
	t.Setenv("DATABASE_URL", "")
	t.Setenv("REDIS_URL", "")
	t.Setenv("SHOPNOW_CORS_ORIGINS", "https://shop.example")
	t.Setenv("SHOPNOW_CORS_ALLOW_CREDENTIALS", "true")

	cfg, err := load(t)
	require.NoError(t, err)
	assert.Equal(t, []string{"https://shop.example"}, cfg.CORS.Origins)
	assert.True(t, cfg.CORS.AllowCredentials)
}
