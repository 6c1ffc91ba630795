package config

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap/zapcore"
	"golang.org/x/text/currency"
	"golang.org/x/text/language"
	"gopkg.in/yaml.v3"
)

const (
	defaultEnvFile        = ".env"
	defaultActionTimeout  = 30 * time.Second
	defaultValidationMode = "lenient"
	defaultLogLevel       = "info"
	defaultDevAddr        = ":8080"
	defaultDevLocale      = "en-US"

	configFileKey = "FERN_CONFIG_FILE"
)

// Config captures runtime configuration organised by concern.
type Config struct {
	Client ClientConfig
	Cart   CartConfig
	Log    LogConfig
	Dev    DevServerConfig
}

// ClientConfig locates the page whose actions are called.
type ClientConfig struct {
	PageURL string
	Nonce   string
	Timeout time.Duration
}

// CartConfig controls how cart payloads are validated.
type CartConfig struct {
	Validation string
}

// LogConfig selects the log level.
type LogConfig struct {
	Level string
}

// DevServerConfig configures the local action server.
type DevServerConfig struct {
	Addr     string
	Locale   language.Tag
	Currency string
}

// ValidationError is returned when configuration values are invalid.
type ValidationError struct {
	fields []string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("config validation failed: invalid fields [%s]", strings.Join(e.fields, ", "))
}

// Fields returns a copy of the invalid field list.
func (e *ValidationError) Fields() []string {
	out := make([]string, len(e.fields))
	copy(out, e.fields)
	return out
}

// Option customises Load behaviour.
type Option func(*loaderOptions)

type loaderOptions struct {
	envFile      string
	configFile   string
	envMap       map[string]string
	useSystemEnv bool
}

// WithEnvFile overrides the .env file path. An empty path disables it.
func WithEnvFile(path string) Option {
	return func(o *loaderOptions) {
		o.envFile = path
	}
}

// WithConfigFile sets the YAML file read below every environment source.
// It takes precedence over FERN_CONFIG_FILE.
func WithConfigFile(path string) Option {
	return func(o *loaderOptions) {
		o.configFile = path
	}
}

// WithEnvMap injects explicit values that win over every other source.
func WithEnvMap(values map[string]string) Option {
	return func(o *loaderOptions) {
		o.envMap = values
	}
}

// WithoutSystemEnv disables reading the process environment.
func WithoutSystemEnv() Option {
	return func(o *loaderOptions) {
		o.useSystemEnv = false
	}
}

// fileConfig is the YAML layout. Keys map onto the FERN_* variables.
type fileConfig struct {
	Client struct {
		PageURL string `yaml:"page_url"`
		Nonce   string `yaml:"nonce"`
		Timeout string `yaml:"timeout"`
	} `yaml:"client"`
	Cart struct {
		Validation string `yaml:"validation"`
	} `yaml:"cart"`
	Log struct {
		Level string `yaml:"level"`
	} `yaml:"log"`
	Dev struct {
		Addr     string `yaml:"addr"`
		Locale   string `yaml:"locale"`
		Currency string `yaml:"currency"`
	} `yaml:"dev"`
}

func (f fileConfig) values() map[string]string {
	all := map[string]string{
		"FERN_PAGE_URL":        f.Client.PageURL,
		"FERN_NONCE":           f.Client.Nonce,
		"FERN_ACTION_TIMEOUT":  f.Client.Timeout,
		"FERN_CART_VALIDATION": f.Cart.Validation,
		"FERN_LOG_LEVEL":       f.Log.Level,
		"FERN_DEV_ADDR":        f.Dev.Addr,
		"FERN_DEV_LOCALE":      f.Dev.Locale,
		"FERN_DEV_CURRENCY":    f.Dev.Currency,
	}
	out := make(map[string]string, len(all))
	for k, v := range all {
		if v != "" {
			out[k] = v
		}
	}
	return out
}

// Load assembles configuration from, in increasing precedence, a YAML file,
// a .env file, the process environment and an explicit env map.
func Load(ctx context.Context, opts ...Option) (Config, error) {
	options := loaderOptions{
		envFile:      defaultEnvFile,
		useSystemEnv: true,
	}
	for _, opt := range opts {
		opt(&options)
	}
	if err := ctx.Err(); err != nil {
		return Config{}, err
	}

	dotEnvValues, err := loadDotEnv(options.envFile)
	if err != nil {
		return Config{}, err
	}

	envLookup := func(key string) (string, bool) {
		if value, ok := options.envMap[key]; ok {
			return value, true
		}
		if options.useSystemEnv {
			if value, ok := os.LookupEnv(key); ok {
				return value, true
			}
		}
		if value, ok := dotEnvValues[key]; ok {
			return value, true
		}
		return "", false
	}

	path := options.configFile
	if path == "" {
		path = stringWithDefault(envLookup, configFileKey, "")
	}
	fileValues, err := loadYAML(path)
	if err != nil {
		return Config{}, err
	}

	lookup := func(key string) (string, bool) {
		if value, ok := envLookup(key); ok {
			return value, true
		}
		value, ok := fileValues[key]
		return value, ok
	}

	var invalid []string
	cfg := Config{
		Client: ClientConfig{
			PageURL: strings.TrimSpace(stringWithDefault(lookup, "FERN_PAGE_URL", "")),
			Nonce:   stringWithDefault(lookup, "FERN_NONCE", ""),
		},
		Cart: CartConfig{
			Validation: strings.ToLower(stringWithDefault(lookup, "FERN_CART_VALIDATION", defaultValidationMode)),
		},
		Log: LogConfig{
			Level: strings.ToLower(stringWithDefault(lookup, "FERN_LOG_LEVEL", defaultLogLevel)),
		},
		Dev: DevServerConfig{
			Addr:     stringWithDefault(lookup, "FERN_DEV_ADDR", defaultDevAddr),
			Currency: strings.ToUpper(stringWithDefault(lookup, "FERN_DEV_CURRENCY", "")),
		},
	}

	timeout, err := durationWithDefault(lookup, "FERN_ACTION_TIMEOUT", defaultActionTimeout)
	if err != nil || timeout <= 0 {
		invalid = append(invalid, "Client.Timeout")
	}
	cfg.Client.Timeout = timeout

	if cfg.Client.PageURL != "" {
		u, err := url.Parse(cfg.Client.PageURL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			invalid = append(invalid, "Client.PageURL")
		}
	}

	switch cfg.Cart.Validation {
	case "lenient", "strict":
	default:
		invalid = append(invalid, "Cart.Validation")
	}

	if _, err := zapcore.ParseLevel(cfg.Log.Level); err != nil {
		invalid = append(invalid, "Log.Level")
	}

	tag, err := language.Parse(stringWithDefault(lookup, "FERN_DEV_LOCALE", defaultDevLocale))
	if err != nil {
		invalid = append(invalid, "Dev.Locale")
	}
	cfg.Dev.Locale = tag

	if cfg.Dev.Currency == "" {
		if unit, conf := currency.FromTag(tag); conf != language.No {
			cfg.Dev.Currency = unit.String()
		}
	} else if _, err := currency.ParseISO(cfg.Dev.Currency); err != nil {
		invalid = append(invalid, "Dev.Currency")
	}

	if len(invalid) > 0 {
		return Config{}, &ValidationError{fields: invalid}
	}
	return cfg, nil
}

func loadDotEnv(path string) (map[string]string, error) {
	if path == "" {
		return nil, nil
	}
	values, err := godotenv.Read(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("config: unable to read %s: %w", path, err)
	}
	return values, nil
}

func loadYAML(path string) (map[string]string, error) {
	if path == "" {
		return nil, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: unable to read %s: %w", path, err)
	}
	var fc fileConfig
	if err := yaml.Unmarshal(raw, &fc); err != nil {
		return nil, fmt.Errorf("config: failed parsing %s: %w", path, err)
	}
	return fc.values(), nil
}

func stringWithDefault(lookup func(string) (string, bool), key, fallback string) string {
	if value, ok := lookup(key); ok && value != "" {
		return value
	}
	return fallback
}

func durationWithDefault(lookup func(string) (string, bool), key string, fallback time.Duration) (time.Duration, error) {
	value, ok := lookup(key)
	if !ok || value == "" {
		return fallback, nil
	}
	return time.ParseDuration(value)
}
