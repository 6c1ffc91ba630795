package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/language"
)

func TestLoadWithDefaults(t *testing.T) {
	cfg, err := Load(context.Background(), WithEnvMap(nil), WithoutSystemEnv(), WithEnvFile(""))
	require.NoError(t, err)

	assert.Empty(t, cfg.Client.PageURL)
	assert.Equal(t, defaultActionTimeout, cfg.Client.Timeout)
	assert.Equal(t, "lenient", cfg.Cart.Validation)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, ":8080", cfg.Dev.Addr)
	assert.Equal(t, language.MustParse("en-US"), cfg.Dev.Locale)
	assert.Equal(t, "USD", cfg.Dev.Currency)
}

func TestLoadWithOverrides(t *testing.T) {
	env := map[string]string{
		"FERN_PAGE_URL":        "https://shop.example.com/cart",
		"FERN_NONCE":           "abc123",
		"FERN_ACTION_TIMEOUT":  "5s",
		"FERN_CART_VALIDATION": "STRICT",
		"FERN_LOG_LEVEL":       "debug",
		"FERN_DEV_ADDR":        "127.0.0.1:9000",
		"FERN_DEV_LOCALE":      "fr-FR",
	}
	cfg, err := Load(context.Background(), WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""))
	require.NoError(t, err)

	assert.Equal(t, "https://shop.example.com/cart", cfg.Client.PageURL)
	assert.Equal(t, "abc123", cfg.Client.Nonce)
	assert.Equal(t, 5*time.Second, cfg.Client.Timeout)
	assert.Equal(t, "strict", cfg.Cart.Validation)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "127.0.0.1:9000", cfg.Dev.Addr)
	assert.Equal(t, "EUR", cfg.Dev.Currency, "currency follows the locale region")
}

func TestLoadPrecedence(t *testing.T) {
	dir := t.TempDir()
	yamlPath := filepath.Join(dir, "fern.yaml")
	require.NoError(t, os.WriteFile(yamlPath, []byte(`
client:
  page_url: https://yaml.example.com/
  nonce: from-yaml
  timeout: 10s
log:
  level: warn
dev:
  currency: jpy
`), 0o600))

	envPath := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(envPath, []byte("FERN_NONCE=from-dotenv\nFERN_CONFIG_FILE="+yamlPath+"\n"), 0o600))

	cfg, err := Load(context.Background(),
		WithEnvMap(map[string]string{"FERN_ACTION_TIMEOUT": "2s"}),
		WithoutSystemEnv(),
		WithEnvFile(envPath),
	)
	require.NoError(t, err)

	assert.Equal(t, "https://yaml.example.com/", cfg.Client.PageURL)
	assert.Equal(t, "from-dotenv", cfg.Client.Nonce)
	assert.Equal(t, 2*time.Second, cfg.Client.Timeout)
	assert.Equal(t, "warn", cfg.Log.Level)
	assert.Equal(t, "JPY", cfg.Dev.Currency)
}

func TestLoadMissingFiles(t *testing.T) {
	dir := t.TempDir()

	_, err := Load(context.Background(), WithoutSystemEnv(), WithEnvFile(filepath.Join(dir, "absent.env")))
	require.NoError(t, err, "a missing .env file is not an error")

	_, err = Load(context.Background(), WithoutSystemEnv(), WithEnvFile(""), WithConfigFile(filepath.Join(dir, "absent.yaml")))
	require.Error(t, err, "an explicitly named YAML file must exist")
}

func TestLoadValidationErrors(t *testing.T) {
	env := map[string]string{
		"FERN_PAGE_URL":        "/relative/only",
		"FERN_ACTION_TIMEOUT":  "soon",
		"FERN_CART_VALIDATION": "sometimes",
		"FERN_LOG_LEVEL":       "loud",
		"FERN_DEV_LOCALE":      "not a locale!",
		"FERN_DEV_CURRENCY":    "XX",
	}
	_, err := Load(context.Background(), WithEnvMap(env), WithoutSystemEnv(), WithEnvFile(""))
	require.Error(t, err)

	var verr *ValidationError
	require.True(t, errors.As(err, &verr))
	assert.ElementsMatch(t, []string{
		"Client.Timeout",
		"Client.PageURL",
		"Cart.Validation",
		"Log.Level",
		"Dev.Locale",
		"Dev.Currency",
	}, verr.Fields())
	assert.Contains(t, err.Error(), "Cart.Validation")
}

func TestLoadHonoursCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Load(ctx, WithoutSystemEnv(), WithEnvFile(""))
	assert.ErrorIs(t, err, context.Canceled)
}
