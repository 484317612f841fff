// Package config handles loading and validation of service configuration.
// Supports both development (env vars) and production (Secret Manager) modes.
package config

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"github.com/joho/godotenv"
	"golang.org/x/text/currency"

	"cartsync/internal/ledger"
)

const (
	defaultPort           = "8080"
	defaultEnvironment    = "development"
	defaultLogLevel       = "info"
	defaultCurrency       = "PEN"
	defaultSecretID       = "cartsync"
	defaultRequestTimeout = 30 * time.Second
)

// Config holds all service configuration.
// Environment determines whether remote credentials load from env vars
// (development) or Secret Manager (production).
type Config struct {
	// Server settings
	Port        string
	Environment string // "development" or "production"
	LogLevel    string // "debug", "info", "warn", "error"

	// GCP settings (required in production)
	GCPProject string
	SecretID   string

	// Cart behaviour
	Currency            currency.Unit
	UnknownStockCeiling int

	// Cart service connection
	RequestTimeout time.Duration
	ChromeTLS      bool
	Remote         RemoteConfig
}

// RemoteConfig locates the cart service.
// In production, this is loaded from Secret Manager as JSON.
type RemoteConfig struct {
	APIURL   string `json:"api_url"`
	APIToken string `json:"api_token,omitempty"` // starts a session at boot when set
}

// Load reads configuration from file, environment, or Secret Manager.
// Priority: CONFIG_FILE (if set) → ENV vars / Secret Manager.
// ENV_FILE, when set, is loaded into the environment first without
// overriding variables that are already set.
func Load(ctx context.Context) (*Config, error) {
	if envFile := os.Getenv("ENV_FILE"); envFile != "" {
		if err := godotenv.Load(envFile); err != nil {
			return nil, fmt.Errorf("loading ENV_FILE: %w", err)
		}
	}

	if configPath := os.Getenv("CONFIG_FILE"); configPath != "" {
		return loadFromFile(configPath)
	}

	cfg := &Config{
		Port:        envOrDefault("PORT", defaultPort),
		Environment: envOrDefault("ENVIRONMENT", defaultEnvironment),
		LogLevel:    envOrDefault("LOG_LEVEL", defaultLogLevel),
		GCPProject:  os.Getenv("GCP_PROJECT"),
		SecretID:    envOrDefault("CART_SECRET_ID", defaultSecretID),
	}

	if err := cfg.parseTunables(
		envOrDefault("CURRENCY", defaultCurrency),
		os.Getenv("UNKNOWN_STOCK_CEILING"),
		os.Getenv("REQUEST_TIMEOUT"),
		os.Getenv("CHROME_TLS"),
	); err != nil {
		return nil, err
	}

	var err error
	if cfg.Environment == "production" {
		if cfg.GCPProject == "" {
			return nil, fmt.Errorf("GCP_PROJECT required in production environment")
		}
		err = cfg.loadFromSecretManager(ctx)
	} else {
		cfg.loadFromEnv()
	}
	if err != nil {
		return nil, fmt.Errorf("loading cart service config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// loadFromFile reads all configuration from a JSON file.
// Used for local development to avoid multiple ENV vars.
func loadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var fileConfig struct {
		Port                string       `json:"port"`
		Environment         string       `json:"environment"`
		LogLevel            string       `json:"log_level"`
		Currency            string       `json:"currency"`
		UnknownStockCeiling int          `json:"unknown_stock_ceiling"`
		RequestTimeout      string       `json:"request_timeout"`
		ChromeTLS           bool         `json:"chrome_tls"`
		Remote              RemoteConfig `json:"remote"`
	}

	if err := json.Unmarshal(data, &fileConfig); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg := &Config{
		Port:        withDefault(fileConfig.Port, defaultPort),
		Environment: withDefault(fileConfig.Environment, defaultEnvironment),
		LogLevel:    withDefault(fileConfig.LogLevel, defaultLogLevel),
		Remote:      fileConfig.Remote,
	}

	if err := cfg.parseTunables(
		withDefault(fileConfig.Currency, defaultCurrency),
		"",
		fileConfig.RequestTimeout,
		strconv.FormatBool(fileConfig.ChromeTLS),
	); err != nil {
		return nil, err
	}
	if fileConfig.UnknownStockCeiling > 0 {
		cfg.UnknownStockCeiling = fileConfig.UnknownStockCeiling
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// parseTunables fills the typed settings from their string forms.
// Empty strings select defaults.
func (c *Config) parseTunables(code, ceiling, timeout, chromeTLS string) error {
	unit, err := currency.ParseISO(code)
	if err != nil {
		return fmt.Errorf("invalid CURRENCY %q: %w", code, err)
	}
	c.Currency = unit

	c.UnknownStockCeiling = ledger.DefaultFallback
	if ceiling != "" {
		n, err := strconv.Atoi(ceiling)
		if err != nil || n <= 0 {
			return fmt.Errorf("invalid UNKNOWN_STOCK_CEILING %q: must be a positive integer", ceiling)
		}
		c.UnknownStockCeiling = n
	}

	c.RequestTimeout = defaultRequestTimeout
	if timeout != "" {
		d, err := time.ParseDuration(timeout)
		if err != nil || d <= 0 {
			return fmt.Errorf("invalid REQUEST_TIMEOUT %q: must be a positive duration", timeout)
		}
		c.RequestTimeout = d
	}

	if chromeTLS != "" {
		b, err := strconv.ParseBool(chromeTLS)
		if err != nil {
			return fmt.Errorf("invalid CHROME_TLS %q: %w", chromeTLS, err)
		}
		c.ChromeTLS = b
	}

	return nil
}

// withDefault returns val if non-empty, otherwise defaultVal.
func withDefault(val, defaultVal string) string {
	if val != "" {
		return val
	}
	return defaultVal
}

// loadFromSecretManager fetches the cart service credentials from GCP Secret Manager.
// Secret name format: projects/{project}/secrets/{secret_id}/versions/latest
func (c *Config) loadFromSecretManager(ctx context.Context) error {
	client, err := secretmanager.NewClient(ctx)
	if err != nil {
		return fmt.Errorf("creating secret manager client: %w", err)
	}
	defer client.Close()

	secretName := fmt.Sprintf("projects/%s/secrets/%s/versions/latest",
		c.GCPProject, c.SecretID)

	result, err := client.AccessSecretVersion(ctx, &secretmanagerpb.AccessSecretVersionRequest{
		Name: secretName,
	})
	if err != nil {
		return fmt.Errorf("accessing secret %s: %w", secretName, err)
	}

	if err := json.Unmarshal(result.Payload.Data, &c.Remote); err != nil {
		return fmt.Errorf("parsing secret JSON: %w", err)
	}

	return nil
}

// loadFromEnv reads the cart service settings from environment variables.
func (c *Config) loadFromEnv() {
	c.Remote = RemoteConfig{
		APIURL:   os.Getenv("CART_API_URL"),
		APIToken: os.Getenv("CART_API_TOKEN"),
	}
}

// validate checks that all required configuration fields are present.
func (c *Config) validate() error {
	if c.Remote.APIURL == "" {
		return fmt.Errorf("api_url is required (CART_API_URL)")
	}

	u, err := url.Parse(c.Remote.APIURL)
	if err != nil {
		return fmt.Errorf("invalid api_url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("invalid api_url: scheme must be http or https")
	}
	if u.Host == "" {
		return fmt.Errorf("invalid api_url: missing host")
	}

	if _, err := strconv.Atoi(c.Port); err != nil {
		return fmt.Errorf("invalid port %q", c.Port)
	}

	return nil
}

// APIBaseURL returns the cart service URL without a trailing slash.
func (c *Config) APIBaseURL() string {
	return strings.TrimSuffix(c.Remote.APIURL, "/")
}

// IsProduction reports whether the service runs in production mode.
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// envOrDefault returns the environment variable value or the default if not set.
func envOrDefault(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}
