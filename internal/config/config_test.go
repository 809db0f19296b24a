// ABOUTME: Tests for configuration loading and parsing
// ABOUTME: Covers YAML loading, env var expansion, and duration parsing

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(configPath, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return configPath
}

func TestLoad_ValidConfig(t *testing.T) {
	configPath := writeConfig(t, `
api:
  base_url: "https://assist.example.com/api"
  domain_id: "hr"
  request_timeout: "30s"
  max_retries: 3

auth:
  token: "static-token"

user:
  id: "user-42"

database:
  path: "./test.db"

cache:
  ttl: "5m"
  max_entries: 128

stream:
  word_delay: "40ms"
  short_limit: 50

prompts:
  path: "./prompts.toml"

logging:
  level: "debug"
  format: "json"
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	// Verify API config with duration parsing
	if cfg.API.BaseURL != "https://assist.example.com/api" {
		t.Errorf("API.BaseURL = %q, want %q", cfg.API.BaseURL, "https://assist.example.com/api")
	}
	if cfg.API.DomainID != "hr" {
		t.Errorf("API.DomainID = %q, want %q", cfg.API.DomainID, "hr")
	}
	if cfg.API.RequestTimeout != 30*time.Second {
		t.Errorf("API.RequestTimeout = %v, want %v", cfg.API.RequestTimeout, 30*time.Second)
	}
	if cfg.API.MaxRetries != 3 {
		t.Errorf("API.MaxRetries = %d, want 3", cfg.API.MaxRetries)
	}

	// Verify auth and user config
	if cfg.Auth.Token != "static-token" {
		t.Errorf("Auth.Token = %q, want %q", cfg.Auth.Token, "static-token")
	}
	if cfg.User.ID != "user-42" {
		t.Errorf("User.ID = %q, want %q", cfg.User.ID, "user-42")
	}

	// Verify database config
	if cfg.Database.Path != "./test.db" {
		t.Errorf("Database.Path = %q, want %q", cfg.Database.Path, "./test.db")
	}

	// Verify cache config
	if cfg.Cache.TTL != 5*time.Minute {
		t.Errorf("Cache.TTL = %v, want %v", cfg.Cache.TTL, 5*time.Minute)
	}
	if cfg.Cache.MaxEntries != 128 {
		t.Errorf("Cache.MaxEntries = %d, want 128", cfg.Cache.MaxEntries)
	}

	// Verify stream config
	if cfg.Stream.WordDelay != 40*time.Millisecond {
		t.Errorf("Stream.WordDelay = %v, want %v", cfg.Stream.WordDelay, 40*time.Millisecond)
	}
	if cfg.Stream.ShortLimit != 50 {
		t.Errorf("Stream.ShortLimit = %d, want 50", cfg.Stream.ShortLimit)
	}

	// Verify prompts config
	if cfg.Prompts.Path != "./prompts.toml" {
		t.Errorf("Prompts.Path = %q, want %q", cfg.Prompts.Path, "./prompts.toml")
	}

	// Verify logging config
	if cfg.Logging.Level != "debug" {
		t.Errorf("Logging.Level = %q, want %q", cfg.Logging.Level, "debug")
	}
	if cfg.Logging.Format != "json" {
		t.Errorf("Logging.Format = %q, want %q", cfg.Logging.Format, "json")
	}
}

func TestLoad_EnvVarExpansion(t *testing.T) {
	t.Setenv("TEST_PULSE_TOKEN", "token-from-env")
	t.Setenv("TEST_PULSE_USER", "user-from-env")

	configPath := writeConfig(t, `
api:
  base_url: "https://assist.example.com/api"
  domain_id: "hr"

auth:
  token: "${TEST_PULSE_TOKEN}"

user:
  id: "${TEST_PULSE_USER}"

database:
  path: "./test.db"
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Auth.Token != "token-from-env" {
		t.Errorf("Auth.Token = %q, want %q", cfg.Auth.Token, "token-from-env")
	}
	if cfg.User.ID != "user-from-env" {
		t.Errorf("User.ID = %q, want %q", cfg.User.ID, "user-from-env")
	}
}

func TestLoad_EnvVarExpansion_UnsetVar(t *testing.T) {
	// Ensure the env var is NOT set
	os.Unsetenv("UNSET_VAR_FOR_TEST")

	configPath := writeConfig(t, `
api:
  base_url: "https://assist.example.com/api"
  domain_id: "hr"

auth:
  token: "literal-token"
  token_endpoint: "${UNSET_VAR_FOR_TEST}"

user:
  id: "user-42"

database:
  path: "./test.db"
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	// Unset env vars should expand to empty string
	if cfg.Auth.TokenEndpoint != "" {
		t.Errorf("Auth.TokenEndpoint = %q, want empty string for unset env var", cfg.Auth.TokenEndpoint)
	}
}

func TestLoad_DurationParsing(t *testing.T) {
	configPath := writeConfig(t, `
api:
  base_url: "https://assist.example.com/api"
  domain_id: "hr"
  request_timeout: "1m30s"

auth:
  token: "t"

user:
  id: "user-42"

database:
  path: "./test.db"

cache:
  ttl: "2h"

stream:
  word_delay: "50ms"
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	expectedTimeout := 1*time.Minute + 30*time.Second
	if cfg.API.RequestTimeout != expectedTimeout {
		t.Errorf("API.RequestTimeout = %v, want %v", cfg.API.RequestTimeout, expectedTimeout)
	}
	if cfg.Cache.TTL != 2*time.Hour {
		t.Errorf("Cache.TTL = %v, want %v", cfg.Cache.TTL, 2*time.Hour)
	}
	if cfg.Stream.WordDelay != 50*time.Millisecond {
		t.Errorf("Stream.WordDelay = %v, want %v", cfg.Stream.WordDelay, 50*time.Millisecond)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	if err == nil {
		t.Error("Load() expected error for missing file, got nil")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	configPath := writeConfig(t, `
api:
  base_url: "https://assist.example.com/api"
  domain_id "missing colon"
`)

	if _, err := Load(configPath); err == nil {
		t.Error("Load() expected error for invalid YAML, got nil")
	}
}

func TestLoad_InvalidDuration(t *testing.T) {
	configPath := writeConfig(t, `
api:
  base_url: "https://assist.example.com/api"
  domain_id: "hr"
  request_timeout: "invalid-duration"

auth:
  token: "t"

user:
  id: "user-42"

database:
  path: "./test.db"
`)

	if _, err := Load(configPath); err == nil {
		t.Error("Load() expected error for invalid duration, got nil")
	}
}

func TestLoad_MissingRequiredFields(t *testing.T) {
	tests := []struct {
		name          string
		configContent string
		wantErrSubstr string
	}{
		{
			name: "missing base_url",
			configContent: `
api:
  base_url: ""
  domain_id: "hr"
auth:
  token: "t"
user:
  id: "user-42"
database:
  path: "./test.db"
`,
			wantErrSubstr: "api.base_url is required",
		},
		{
			name: "missing domain_id",
			configContent: `
api:
  base_url: "https://assist.example.com/api"
  domain_id: ""
auth:
  token: "t"
user:
  id: "user-42"
database:
  path: "./test.db"
`,
			wantErrSubstr: "api.domain_id is required",
		},
		{
			name: "missing user id",
			configContent: `
api:
  base_url: "https://assist.example.com/api"
  domain_id: "hr"
auth:
  token: "t"
user:
  id: ""
database:
  path: "./test.db"
`,
			wantErrSubstr: "user.id is required",
		},
		{
			name: "missing database path",
			configContent: `
api:
  base_url: "https://assist.example.com/api"
  domain_id: "hr"
auth:
  token: "t"
user:
  id: "user-42"
database:
  path: ""
`,
			wantErrSubstr: "database.path is required",
		},
		{
			name: "missing auth entirely",
			configContent: `
api:
  base_url: "https://assist.example.com/api"
  domain_id: "hr"
user:
  id: "user-42"
database:
  path: "./test.db"
`,
			wantErrSubstr: "auth.token or auth.token_endpoint is required",
		},
		{
			name: "token endpoint without client id",
			configContent: `
api:
  base_url: "https://assist.example.com/api"
  domain_id: "hr"
auth:
  token_endpoint: "https://auth.example.com/token"
user:
  id: "user-42"
database:
  path: "./test.db"
`,
			wantErrSubstr: "auth.client_id is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			configPath := writeConfig(t, tt.configContent)

			_, err := Load(configPath)
			if err == nil {
				t.Errorf("Load() expected error containing %q, got nil", tt.wantErrSubstr)
				return
			}

			if !strings.Contains(err.Error(), tt.wantErrSubstr) {
				t.Errorf("Load() error = %q, want error containing %q", err.Error(), tt.wantErrSubstr)
			}
		})
	}
}

func TestExpandEnvVars(t *testing.T) {
	t.Setenv("FOO", "bar")
	t.Setenv("BAZ", "qux")

	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "single env var",
			input:    "${FOO}",
			expected: "bar",
		},
		{
			name:     "env var with surrounding text",
			input:    "prefix-${FOO}-suffix",
			expected: "prefix-bar-suffix",
		},
		{
			name:     "multiple env vars",
			input:    "${FOO}/${BAZ}",
			expected: "bar/qux",
		},
		{
			name:     "no env vars",
			input:    "no-vars-here",
			expected: "no-vars-here",
		},
		{
			name:     "unset env var",
			input:    "${UNSET_VAR}",
			expected: "",
		},
		{
			name:     "empty string",
			input:    "",
			expected: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := expandEnvVars(tt.input)
			if result != tt.expected {
				t.Errorf("expandEnvVars(%q) = %q, want %q", tt.input, result, tt.expected)
			}
		})
	}
}
