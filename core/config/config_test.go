package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_Defaults(t *testing.T) {
	t.Setenv("APP_BASIC_AUTH", "admin:secret, ops:pw")
	t.Setenv("EVOLUTION_API_KEY", "evo-key")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "3000", cfg.App.Port)
	assert.Equal(t, []string{"admin:secret", "ops:pw"}, cfg.App.BasicAuth)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, "evo-key", cfg.Evolution.APIKey)
	assert.Equal(t, "http://localhost:3000/webhook/evolution", cfg.Webhook.PublicURL)
	assert.Equal(t, 24*time.Hour, cfg.Webhook.SecretGracePeriod)
	assert.Equal(t, 5*time.Second, cfg.Reconciler.PollInterval)
	assert.Equal(t, 3*time.Second, cfg.Reconciler.QRFallbackTimeout)
	assert.Equal(t, 20*time.Second, cfg.Reconciler.QRFallbackInterval)
	assert.Same(t, cfg, Global)
}

func TestLoadConfig_Overrides(t *testing.T) {
	t.Setenv("EVOLUTION_BASE_URL", "http://evo:8080/")
	t.Setenv("WEBHOOK_PUBLIC_URL", "https://crm.example.com/hooks/evo")
	t.Setenv("RECONCILER_POLL_INTERVAL", "2s")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, "http://evo:8080", cfg.Evolution.BaseURL)
	assert.Equal(t, "https://crm.example.com/hooks/evo", cfg.Webhook.PublicURL)
	assert.Equal(t, 2*time.Second, cfg.Reconciler.PollInterval)
}

func TestLoadConfig_RejectsUnknownDriver(t *testing.T) {
	t.Setenv("DB_DRIVER", "mysql")
	_, err := LoadConfig()
	assert.ErrorContains(t, err, "unsupported database driver")
}

func TestSplitList(t *testing.T) {
	assert.Nil(t, splitList("  "))
	assert.Equal(t, []string{"a", "b"}, splitList("a, ,b"))
}

func TestValidate_DefaultSecretKey(t *testing.T) {
	t.Setenv("APP_ENV", "production")
	_, err := LoadConfig()
	assert.ErrorContains(t, err, "APP_SECRET_KEY")

	t.Setenv("APP_SECRET_KEY", "a-real-key-nobody-else-knows")
	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.True(t, cfg.IsProduction())

	t.Setenv("APP_ENV", "development")
	t.Setenv("APP_SECRET_KEY", DefaultSecretKey)
	_, err = LoadConfig()
	assert.NoError(t, err)
}
