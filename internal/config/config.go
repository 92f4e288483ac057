// Package config provides environment configuration for the chat client.
package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for the application.
type Config struct {
	// MongoDB settings
	MongoURI      string
	MongoDatabase string

	// Offline runs against the in-process store instead of MongoDB.
	Offline bool

	// JWT settings. JWTKeys holds kid:secret pairs for rotation.
	JWTSecret     string
	JWTKeys       map[string]string
	JWTActiveKid  string
	JWTExpiration time.Duration
	ResetTokenTTL time.Duration

	// Rate limiting for sign-in and credential reset
	RateLimitRPM   int
	RateLimitBurst int

	// Change feed reconnect backoff ceiling
	FeedRetryMax time.Duration

	// Logging
	LogLevel string

	// Metrics endpoint; empty disables it
	MetricsAddr string

	// Account used by the terminal client
	Email    string
	Password string
	Name     string
}

// Load reads configuration from environment variables.
func Load() *Config {
	return &Config{
		MongoURI:      getEnv("MONGODB_URI", ""),
		MongoDatabase: getEnv("MONGODB_DATABASE", "chat_db"),
		Offline:       getBoolEnv("CHAT_OFFLINE", false),

		JWTSecret:     getEnv("JWT_SECRET", ""),
		JWTKeys:       parseKeys(getEnv("JWT_KEYS", "")),
		JWTActiveKid:  getEnv("JWT_ACTIVE_KID", ""),
		JWTExpiration: getDurationEnv("JWT_EXPIRATION", 24*time.Hour),
		ResetTokenTTL: getDurationEnv("RESET_TOKEN_TTL", 15*time.Minute),

		RateLimitRPM:   getIntEnv("RATE_LIMIT_RPM", 10),
		RateLimitBurst: getIntEnv("RATE_LIMIT_BURST", 3),

		FeedRetryMax: getDurationEnv("FEED_RETRY_MAX", 30*time.Second),

		LogLevel:    getEnv("LOG_LEVEL", "info"),
		MetricsAddr: getEnv("METRICS_ADDR", ""),

		Email:    getEnv("CHAT_EMAIL", ""),
		Password: getEnv("CHAT_PASSWORD", ""),
		Name:     getEnv("CHAT_NAME", ""),
	}
}

// Validate reports missing required settings.
func (c *Config) Validate() error {
	var errs []error
	if !c.Offline && c.MongoURI == "" {
		errs = append(errs, errors.New("MONGODB_URI must be set (or CHAT_OFFLINE=true)"))
	}
	if c.JWTSecret == "" && len(c.JWTKeys) == 0 {
		errs = append(errs, errors.New("either JWT_SECRET or JWT_KEYS must be set"))
	}
	if len(c.JWTKeys) > 0 {
		if _, ok := c.JWTKeys[c.JWTActiveKid]; !ok {
			errs = append(errs, errors.New("JWT_ACTIVE_KID must name one of JWT_KEYS"))
		}
	}
	if c.Email == "" || c.Password == "" {
		errs = append(errs, errors.New("CHAT_EMAIL and CHAT_PASSWORD must be set"))
	}
	return errors.Join(errs...)
}

// parseKeys parses "kid:secret,kid2:secret2". Malformed entries are skipped.
func parseKeys(s string) map[string]string {
	keys := map[string]string{}
	for _, p := range strings.Split(s, ",") {
		if p == "" {
			continue
		}
		parts := strings.SplitN(p, ":", 2)
		if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
			continue
		}
		keys[parts[0]] = parts[1]
	}
	return keys
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
