// Package config loads and validates the relay's environment configuration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config holds the validated runtime configuration for the relay server.
type Config struct {
	Port     string
	RelayPath string
	DefaultRoom string
	Capacity int

	AllowedOrigins []string

	ProtocolViolationThreshold int

	GoEnv    string
	LogLevel string
}

// Load reads a .env file if present, then overlays process environment
// variables, applying the same defaults the relay has always shipped with.
func Load() (*Config, error) {
	// A missing .env is normal in production; only report genuine parse errors.
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	cfg := &Config{
		Port:        getEnvOrDefault("PORT", "8080"),
		RelayPath:   getEnvOrDefault("RELAY_PATH", "/yjs"),
		DefaultRoom: getEnvOrDefault("DEFAULT_ROOM", "bytetogether"),
		GoEnv:       getEnvOrDefault("GO_ENV", "production"),
		LogLevel:    getEnvOrDefault("LOG_LEVEL", "info"),
	}

	capacity, err := strconv.Atoi(getEnvOrDefault("ROOM_CAPACITY", "5"))
	if err != nil || capacity < 1 {
		return nil, fmt.Errorf("ROOM_CAPACITY must be a positive integer, got %q", os.Getenv("ROOM_CAPACITY"))
	}
	cfg.Capacity = capacity

	threshold, err := strconv.Atoi(getEnvOrDefault("PROTOCOL_VIOLATION_THRESHOLD", "5"))
	if err != nil || threshold < 1 {
		return nil, fmt.Errorf("PROTOCOL_VIOLATION_THRESHOLD must be a positive integer, got %q", os.Getenv("PROTOCOL_VIOLATION_THRESHOLD"))
	}
	cfg.ProtocolViolationThreshold = threshold

	cfg.AllowedOrigins = parseOrigins(os.Getenv("ALLOWED_ORIGINS"))

	return cfg, nil
}

// GetServerAddr returns the address to bind the HTTP listener to.
func (c *Config) GetServerAddr() string {
	if strings.HasPrefix(c.Port, ":") {
		return c.Port
	}
	return ":" + c.Port
}

// IsDevelopment reports whether the relay is running outside production.
func (c *Config) IsDevelopment() bool {
	return c.GoEnv != "production"
}

// OriginAllowed reports whether origin is present in the configured
// allow-list. An empty allow-list rejects every present Origin header;
// callers are responsible for permitting a missing Origin header.
func (c *Config) OriginAllowed(origin string) bool {
	for _, allowed := range c.AllowedOrigins {
		if allowed == origin {
			return true
		}
	}
	return false
}

func parseOrigins(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	origins := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			origins = append(origins, p)
		}
	}
	return origins
}

func getEnvOrDefault(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}
