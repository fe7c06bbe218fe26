package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds validated environment configuration for one arena node
// process.
type Config struct {
	// Required variables
	ArenaPrefix string
	RedisAddr   string
	Port        string

	// Optional variables with defaults
	NodeName      string
	ForceHost     bool
	MaxClients    int
	GoEnv         string
	LogLevel      string
	RedisPassword string

	StepTimeoutBreak time.Duration
	SearchTimeout    time.Duration
	SearchJitter     time.Duration

	// Node-to-node attestation
	NodeJWTSecret string

	// Rate limits (Defaults: M = Minute, H = Hour)
	RateLimitDiscovery string
	RateLimitConnect   string

	// Optional: OTLP gRPC collector address. Tracing stays disabled
	// when empty.
	OTLPEndpoint string
}

// ValidateEnv validates all required environment variables and returns
// a Config object. Returns an error if any required variable is
// missing or invalid.
func ValidateEnv() (*Config, error) {
	cfg := &Config{}
	var errors []string

	// Required: ARENA_PREFIX (wildcard-free key-expression prefix)
	cfg.ArenaPrefix = os.Getenv("ARENA_PREFIX")
	if cfg.ArenaPrefix == "" {
		errors = append(errors, "ARENA_PREFIX is required")
	} else if strings.ContainsAny(cfg.ArenaPrefix, "*$?#@") {
		errors = append(errors, fmt.Sprintf("ARENA_PREFIX must not contain wildcard characters (got '%s')", cfg.ArenaPrefix))
	}

	// Required: PORT (health/admin HTTP server)
	cfg.Port = os.Getenv("PORT")
	if cfg.Port == "" {
		errors = append(errors, "PORT is required")
	} else {
		port, err := strconv.Atoi(cfg.Port)
		if err != nil || port < 1 || port > 65535 {
			errors = append(errors, fmt.Sprintf("PORT must be a valid port number between 1 and 65535 (got '%s')", cfg.Port))
		}
	}

	// Required: REDIS_ADDR
	cfg.RedisAddr = os.Getenv("REDIS_ADDR")
	if cfg.RedisAddr == "" {
		errors = append(errors, "REDIS_ADDR is required")
	} else if !isValidHostPort(cfg.RedisAddr) {
		errors = append(errors, fmt.Sprintf("REDIS_ADDR must be in format 'host:port' (got '%s')", cfg.RedisAddr))
	}
	cfg.RedisPassword = os.Getenv("REDIS_PASSWORD")

	// Optional: NODE_NAME (empty means namegen generates one at build time)
	cfg.NodeName = os.Getenv("NODE_NAME")

	// Optional: FORCE_HOST
	cfg.ForceHost = os.Getenv("FORCE_HOST") == "true"

	// Optional: MAX_CLIENTS (validated and logged only; not passed to the
	// node, whose capacity comes from the engine's MaxClients)
	if raw := os.Getenv("MAX_CLIENTS"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			errors = append(errors, fmt.Sprintf("MAX_CLIENTS must be a non-negative integer (got '%s')", raw))
		} else {
			cfg.MaxClients = n
		}
	}

	cfg.StepTimeoutBreak = durationOrDefault("STEP_TIMEOUT_BREAK_MS", 100*time.Millisecond)
	cfg.SearchTimeout = durationOrDefault("SEARCH_TIMEOUT_MS", 3000*time.Millisecond)
	cfg.SearchJitter = durationOrDefault("SEARCH_JITTER_MS", 0)

	// Optional: NODE_JWT_SECRET (required only if node-to-node
	// attestation is enabled; validated by the auth package, not here)
	cfg.NodeJWTSecret = os.Getenv("NODE_JWT_SECRET")

	// Optional: GO_ENV (defaults to "production")
	cfg.GoEnv = os.Getenv("GO_ENV")
	if cfg.GoEnv == "" {
		cfg.GoEnv = "production"
	}

	// Optional: LOG_LEVEL (defaults to "info")
	cfg.LogLevel = os.Getenv("LOG_LEVEL")
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}

	cfg.RateLimitDiscovery = getEnvOrDefault("RATE_LIMIT_DISCOVERY", "100-M")
	cfg.RateLimitConnect = getEnvOrDefault("RATE_LIMIT_CONNECT", "20-M")

	cfg.OTLPEndpoint = os.Getenv("OTLP_ENDPOINT")

	if len(errors) > 0 {
		return nil, fmt.Errorf("environment validation failed:\n  - %s", strings.Join(errors, "\n  - "))
	}

	logValidatedConfig(cfg)
	return cfg, nil
}

func durationOrDefault(key string, def time.Duration) time.Duration {
	raw := os.Getenv(key)
	if raw == "" {
		return def
	}
	ms, err := strconv.Atoi(raw)
	if err != nil || ms < 0 {
		return def
	}
	return time.Duration(ms) * time.Millisecond
}

// isValidHostPort checks if a string is in the format "host:port"
func isValidHostPort(addr string) bool {
	parts := strings.Split(addr, ":")
	if len(parts) != 2 {
		return false
	}

	port, err := strconv.Atoi(parts[1])
	if err != nil || port < 1 || port > 65535 {
		return false
	}

	if parts[0] == "" {
		return false
	}

	return true
}

// logValidatedConfig logs the validated configuration with secrets
// redacted.
func logValidatedConfig(cfg *Config) {
	slog.Info("environment configuration validated",
		"arena_prefix", cfg.ArenaPrefix,
		"port", cfg.Port,
		"redis_addr", cfg.RedisAddr,
		"node_name", cfg.NodeName,
		"force_host", cfg.ForceHost,
		"max_clients", cfg.MaxClients,
		"go_env", cfg.GoEnv,
		"log_level", cfg.LogLevel,
		"node_jwt_secret", redactSecret(cfg.NodeJWTSecret),
		"otlp_endpoint", cfg.OTLPEndpoint,
	)
}

// getEnvOrDefault returns the value of the environment variable or a
// default value if not set.
func getEnvOrDefault(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

// redactSecret redacts a secret by showing only the first 8 characters.
func redactSecret(secret string) string {
	if len(secret) <= 8 {
		return "***"
	}
	return secret[:8] + "***"
}
