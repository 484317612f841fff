package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

var configEnvVars = []string{
	"ENV_FILE", "CONFIG_FILE", "ENVIRONMENT", "PORT", "LOG_LEVEL",
	"GCP_PROJECT", "CART_SECRET_ID", "CART_API_URL", "CART_API_TOKEN",
	"CURRENCY", "UNKNOWN_STOCK_CEILING", "REQUEST_TIMEOUT", "CHROME_TLS",
}

// isolateEnv unsets every variable Load reads and restores them after the test.
func isolateEnv(t *testing.T) {
	t.Helper()
	for _, k := range configEnvVars {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}
}

func TestLoadFromEnv(t *testing.T) {
	isolateEnv(t)
	os.Setenv("ENVIRONMENT", "development")
	os.Setenv("CART_API_URL", "https://api.shop.example.com/api/")
	os.Setenv("CART_API_TOKEN", "tok")
	os.Setenv("PORT", "9090")
	os.Setenv("LOG_LEVEL", "debug")
	os.Setenv("CURRENCY", "usd")
	os.Setenv("UNKNOWN_STOCK_CEILING", "50")
	os.Setenv("REQUEST_TIMEOUT", "5s")
	os.Setenv("CHROME_TLS", "true")

	cfg, err := Load(context.Background())
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.Port != "9090" {
		t.Errorf("Port = %s, want 9090", cfg.Port)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %s, want debug", cfg.LogLevel)
	}
	if cfg.Currency.String() != "USD" {
		t.Errorf("Currency = %s, want USD", cfg.Currency)
	}
	if cfg.UnknownStockCeiling != 50 {
		t.Errorf("UnknownStockCeiling = %d, want 50", cfg.UnknownStockCeiling)
	}
	if cfg.RequestTimeout != 5*time.Second {
		t.Errorf("RequestTimeout = %v, want 5s", cfg.RequestTimeout)
	}
	if !cfg.ChromeTLS {
		t.Error("ChromeTLS = false, want true")
	}
	if cfg.Remote.APIToken != "tok" {
		t.Errorf("APIToken = %s, want tok", cfg.Remote.APIToken)
	}
	if cfg.APIBaseURL() != "https://api.shop.example.com/api" {
		t.Errorf("APIBaseURL() = %s", cfg.APIBaseURL())
	}
}

func TestLoadDefaults(t *testing.T) {
	isolateEnv(t)
	os.Setenv("CART_API_URL", "http://localhost:8081")

	cfg, err := Load(context.Background())
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.Port != "8080" {
		t.Errorf("Port = %s, want 8080", cfg.Port)
	}
	if cfg.Environment != "development" {
		t.Errorf("Environment = %s, want development", cfg.Environment)
	}
	if cfg.Currency.String() != "PEN" {
		t.Errorf("Currency = %s, want PEN", cfg.Currency)
	}
	if cfg.UnknownStockCeiling != 999 {
		t.Errorf("UnknownStockCeiling = %d, want 999", cfg.UnknownStockCeiling)
	}
	if cfg.RequestTimeout != 30*time.Second {
		t.Errorf("RequestTimeout = %v, want 30s", cfg.RequestTimeout)
	}
	if cfg.ChromeTLS {
		t.Error("ChromeTLS should default to false")
	}
	if cfg.IsProduction() {
		t.Error("IsProduction() = true, want false")
	}
}

func TestLoadInvalid(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		wantErr string
	}{
		{
			name:    "missing api url",
			env:     map[string]string{},
			wantErr: "api_url is required",
		},
		{
			name:    "relative api url",
			env:     map[string]string{"CART_API_URL": "/api"},
			wantErr: "scheme must be http or https",
		},
		{
			name:    "bad currency",
			env:     map[string]string{"CART_API_URL": "http://x", "CURRENCY": "XYZW"},
			wantErr: "invalid CURRENCY",
		},
		{
			name:    "bad ceiling",
			env:     map[string]string{"CART_API_URL": "http://x", "UNKNOWN_STOCK_CEILING": "-1"},
			wantErr: "invalid UNKNOWN_STOCK_CEILING",
		},
		{
			name:    "bad timeout",
			env:     map[string]string{"CART_API_URL": "http://x", "REQUEST_TIMEOUT": "soon"},
			wantErr: "invalid REQUEST_TIMEOUT",
		},
		{
			name:    "bad chrome flag",
			env:     map[string]string{"CART_API_URL": "http://x", "CHROME_TLS": "maybe"},
			wantErr: "invalid CHROME_TLS",
		},
		{
			name:    "production without project",
			env:     map[string]string{"CART_API_URL": "http://x", "ENVIRONMENT": "production"},
			wantErr: "GCP_PROJECT required",
		},
		{
			name:    "bad port",
			env:     map[string]string{"CART_API_URL": "http://x", "PORT": "http"},
			wantErr: "invalid port",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			isolateEnv(t)
			for k, v := range tt.env {
				os.Setenv(k, v)
			}

			_, err := Load(context.Background())
			if err == nil {
				t.Fatal("Load() should fail")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoadEnvFile(t *testing.T) {
	isolateEnv(t)

	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	content := "CART_API_URL=https://cart.example.com\nPORT=7070\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	os.Setenv("ENV_FILE", path)
	os.Setenv("PORT", "6060") // already set: the file must not override it

	cfg, err := Load(context.Background())
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Remote.APIURL != "https://cart.example.com" {
		t.Errorf("APIURL = %s, want value from .env", cfg.Remote.APIURL)
	}
	if cfg.Port != "6060" {
		t.Errorf("Port = %s, want 6060 from the environment", cfg.Port)
	}
}

func TestLoadEnvFileMissing(t *testing.T) {
	isolateEnv(t)
	os.Setenv("ENV_FILE", filepath.Join(t.TempDir(), "nope.env"))

	if _, err := Load(context.Background()); err == nil {
		t.Error("Load() should fail for a missing ENV_FILE")
	}
}

func TestLoadFromFile(t *testing.T) {
	isolateEnv(t)

	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	content := `{
		"port": "9191",
		"log_level": "warn",
		"currency": "EUR",
		"unknown_stock_ceiling": 25,
		"request_timeout": "2s",
		"chrome_tls": true,
		"remote": {"api_url": "https://cart.example.com", "api_token": "abc"}
	}`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	os.Setenv("CONFIG_FILE", path)

	cfg, err := Load(context.Background())
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.Port != "9191" {
		t.Errorf("Port = %s, want 9191", cfg.Port)
	}
	if cfg.Environment != "development" {
		t.Errorf("Environment = %s, want development default", cfg.Environment)
	}
	if cfg.Currency.String() != "EUR" {
		t.Errorf("Currency = %s, want EUR", cfg.Currency)
	}
	if cfg.UnknownStockCeiling != 25 {
		t.Errorf("UnknownStockCeiling = %d, want 25", cfg.UnknownStockCeiling)
	}
	if cfg.RequestTimeout != 2*time.Second {
		t.Errorf("RequestTimeout = %v, want 2s", cfg.RequestTimeout)
	}
	if !cfg.ChromeTLS {
		t.Error("ChromeTLS = false, want true")
	}
	if cfg.Remote.APIToken != "abc" {
		t.Errorf("APIToken = %s, want abc", cfg.Remote.APIToken)
	}
}

func TestLoadFromFileErrors(t *testing.T) {
	dir := t.TempDir()

	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{name: "invalid json", content: `{`, wantErr: "parsing config file"},
		{name: "missing remote", content: `{"port": "8080"}`, wantErr: "api_url is required"},
		{name: "bad timeout", content: `{"request_timeout": "x", "remote": {"api_url": "http://x"}}`, wantErr: "invalid REQUEST_TIMEOUT"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(dir, strings.ReplaceAll(tt.name, " ", "_")+".json")
			if err := os.WriteFile(path, []byte(tt.content), 0o600); err != nil {
				t.Fatal(err)
			}

			_, err := loadFromFile(path)
			if err == nil {
				t.Fatal("loadFromFile() should fail")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}

	if _, err := loadFromFile(filepath.Join(dir, "missing.json")); err == nil {
		t.Error("loadFromFile() should fail for a missing file")
	}
}

func TestEnvOrDefault(t *testing.T) {
	t.Setenv("CARTSYNC_TEST_VAR", "set")
	if got := envOrDefault("CARTSYNC_TEST_VAR", "default"); got != "set" {
		t.Errorf("envOrDefault() = %s, want set", got)
	}
	if got := envOrDefault("CARTSYNC_TEST_UNSET", "default"); got != "default" {
		t.Errorf("envOrDefault() = %s, want default", got)
	}
}

func TestWithDefault(t *testing.T) {
	if got := withDefault("", "x"); got != "x" {
		t.Errorf("withDefault(\"\", x) = %s", got)
	}
	if got := withDefault("y", "x"); got != "y" {
		t.Errorf("withDefault(y, x) = %s", got)
	}
}
