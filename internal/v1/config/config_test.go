package config

import (
	"os"
	"strings"
	"testing"
)

// setupTestEnv sets up environment variables for testing
func setupTestEnv(t *testing.T) func() {
	keys := []string{
		"ARENA_PREFIX", "PORT", "REDIS_ADDR", "REDIS_PASSWORD",
		"NODE_NAME", "FORCE_HOST", "MAX_CLIENTS", "GO_ENV", "LOG_LEVEL",
		"STEP_TIMEOUT_BREAK_MS", "SEARCH_TIMEOUT_MS", "SEARCH_JITTER_MS",
		"NODE_JWT_SECRET",
	}
	orig := make(map[string]string, len(keys))
	for _, k := range keys {
		orig[k] = os.Getenv(k)
		os.Unsetenv(k)
	}

	return func() {
		for k, v := range orig {
			if v != "" {
				os.Setenv(k, v)
			} else {
				os.Unsetenv(k)
			}
		}
	}
}

func TestValidateEnv_ValidConfiguration(t *testing.T) {
	cleanup := setupTestEnv(t)
	defer cleanup()

	os.Setenv("ARENA_PREFIX", "zenoh/arena")
	os.Setenv("PORT", "8080")
	os.Setenv("REDIS_ADDR", "localhost:6379")

	cfg, err := ValidateEnv()
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	if cfg.ArenaPrefix != "zenoh/arena" {
		t.Errorf("Expected ARENA_PREFIX to be set correctly, got '%s'", cfg.ArenaPrefix)
	}
	if cfg.Port != "8080" {
		t.Errorf("Expected PORT to be '8080', got '%s'", cfg.Port)
	}
	if cfg.RedisAddr != "localhost:6379" {
		t.Errorf("Expected REDIS_ADDR to be 'localhost:6379', got '%s'", cfg.RedisAddr)
	}
	if cfg.GoEnv != "production" {
		t.Errorf("Expected GO_ENV to default to 'production', got '%s'", cfg.GoEnv)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("Expected LOG_LEVEL to default to 'info', got '%s'", cfg.LogLevel)
	}
}

func TestValidateEnv_MissingArenaPrefix(t *testing.T) {
	cleanup := setupTestEnv(t)
	defer cleanup()

	os.Setenv("PORT", "8080")
	os.Setenv("REDIS_ADDR", "localhost:6379")

	_, err := ValidateEnv()
	if err == nil {
		t.Fatal("Expected error for missing ARENA_PREFIX, got nil")
	}
	if !strings.Contains(err.Error(), "ARENA_PREFIX is required") {
		t.Errorf("Expected error message about ARENA_PREFIX, got: %v", err)
	}
}

func TestValidateEnv_WildcardArenaPrefix(t *testing.T) {
	cleanup := setupTestEnv(t)
	defer cleanup()

	os.Setenv("ARENA_PREFIX", "zenoh/*")
	os.Setenv("PORT", "8080")
	os.Setenv("REDIS_ADDR", "localhost:6379")

	_, err := ValidateEnv()
	if err == nil {
		t.Fatal("Expected error for wildcard ARENA_PREFIX, got nil")
	}
	if !strings.Contains(err.Error(), "wildcard characters") {
		t.Errorf("Expected error message about wildcard characters, got: %v", err)
	}
}

func TestValidateEnv_MissingPort(t *testing.T) {
	cleanup := setupTestEnv(t)
	defer cleanup()

	os.Setenv("ARENA_PREFIX", "zenoh/arena")
	os.Setenv("REDIS_ADDR", "localhost:6379")

	_, err := ValidateEnv()
	if err == nil {
		t.Fatal("Expected error for missing PORT, got nil")
	}
	if !strings.Contains(err.Error(), "PORT is required") {
		t.Errorf("Expected error message about PORT, got: %v", err)
	}
}

func TestValidateEnv_InvalidPort(t *testing.T) {
	cleanup := setupTestEnv(t)
	defer cleanup()

	os.Setenv("ARENA_PREFIX", "zenoh/arena")
	os.Setenv("PORT", "99999")
	os.Setenv("REDIS_ADDR", "localhost:6379")

	_, err := ValidateEnv()
	if err == nil {
		t.Fatal("Expected error for invalid PORT, got nil")
	}
	if !strings.Contains(err.Error(), "PORT must be a valid port number") {
		t.Errorf("Expected error message about invalid PORT, got: %v", err)
	}
}

func TestValidateEnv_InvalidRedisAddr(t *testing.T) {
	cleanup := setupTestEnv(t)
	defer cleanup()

	os.Setenv("ARENA_PREFIX", "zenoh/arena")
	os.Setenv("PORT", "8080")
	os.Setenv("REDIS_ADDR", "invalid-format")

	_, err := ValidateEnv()
	if err == nil {
		t.Fatal("Expected error for invalid REDIS_ADDR, got nil")
	}
	if !strings.Contains(err.Error(), "REDIS_ADDR must be in format 'host:port'") {
		t.Errorf("Expected error message about REDIS_ADDR format, got: %v", err)
	}
}

func TestValidateEnv_InvalidMaxClients(t *testing.T) {
	cleanup := setupTestEnv(t)
	defer cleanup()

	os.Setenv("ARENA_PREFIX", "zenoh/arena")
	os.Setenv("PORT", "8080")
	os.Setenv("REDIS_ADDR", "localhost:6379")
	os.Setenv("MAX_CLIENTS", "-1")

	_, err := ValidateEnv()
	if err == nil {
		t.Fatal("Expected error for invalid MAX_CLIENTS, got nil")
	}
	if !strings.Contains(err.Error(), "MAX_CLIENTS must be a non-negative integer") {
		t.Errorf("Expected error message about MAX_CLIENTS, got: %v", err)
	}
}

func TestValidateEnv_OptionalDefaults(t *testing.T) {
	cleanup := setupTestEnv(t)
	defer cleanup()

	os.Setenv("ARENA_PREFIX", "zenoh/arena")
	os.Setenv("PORT", "8080")
	os.Setenv("REDIS_ADDR", "localhost:6379")

	cfg, err := ValidateEnv()
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	if cfg.GoEnv != "production" {
		t.Errorf("Expected GO_ENV to default to 'production', got '%s'", cfg.GoEnv)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("Expected LOG_LEVEL to default to 'info', got '%s'", cfg.LogLevel)
	}
	if cfg.StepTimeoutBreak.Milliseconds() != 100 {
		t.Errorf("Expected STEP_TIMEOUT_BREAK_MS to default to 100ms, got %v", cfg.StepTimeoutBreak)
	}
	if cfg.SearchTimeout.Milliseconds() != 3000 {
		t.Errorf("Expected SEARCH_TIMEOUT_MS to default to 3000ms, got %v", cfg.SearchTimeout)
	}
	if cfg.RateLimitDiscovery != "100-M" {
		t.Errorf("Expected RATE_LIMIT_DISCOVERY to default to '100-M', got '%s'", cfg.RateLimitDiscovery)
	}
}

func TestValidateEnv_TimingOverrides(t *testing.T) {
	cleanup := setupTestEnv(t)
	defer cleanup()

	os.Setenv("ARENA_PREFIX", "zenoh/arena")
	os.Setenv("PORT", "8080")
	os.Setenv("REDIS_ADDR", "localhost:6379")
	os.Setenv("SEARCH_TIMEOUT_MS", "5000")
	os.Setenv("SEARCH_JITTER_MS", "250")
	os.Setenv("FORCE_HOST", "true")

	cfg, err := ValidateEnv()
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if cfg.SearchTimeout.Milliseconds() != 5000 {
		t.Errorf("Expected SEARCH_TIMEOUT_MS override to apply, got %v", cfg.SearchTimeout)
	}
	if cfg.SearchJitter.Milliseconds() != 250 {
		t.Errorf("Expected SEARCH_JITTER_MS override to apply, got %v", cfg.SearchJitter)
	}
	if !cfg.ForceHost {
		t.Errorf("Expected FORCE_HOST=true to be parsed")
	}
}

func TestRedactSecret(t *testing.T) {
	tests := []struct {
		name     string
		secret   string
		expected string
	}{
		{"Long secret", "this-is-a-very-long-secret-key", "this-is-***"},
		{"Short secret", "short", "***"},
		{"Exactly 8 chars", "12345678", "***"},
		{"9 chars", "123456789", "12345678***"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := redactSecret(tt.secret)
			if result != tt.expected {
				t.Errorf("Expected '%s', got '%s'", tt.expected, result)
			}
		})
	}
}

func TestIsValidHostPort(t *testing.T) {
	tests := []struct {
		name     string
		addr     string
		expected bool
	}{
		{"Valid localhost", "localhost:8080", true},
		{"Valid IP", "127.0.0.1:3000", true},
		{"Valid hostname", "example.com:443", true},
		{"Missing port", "localhost", false},
		{"Missing host", ":8080", false},
		{"Invalid port", "localhost:99999", false},
		{"Non-numeric port", "localhost:abc", false},
		{"Multiple colons", "localhost:8080:9090", false},
		{"Empty string", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := isValidHostPort(tt.addr)
			if result != tt.expected {
				t.Errorf("isValidHostPort('%s') = %v, expected %v", tt.addr, result, tt.expected)
			}
		})
	}
}
