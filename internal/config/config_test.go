package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("MONGODB_DATABASE", "")
	t.Setenv("JWT_EXPIRATION", "")
	t.Setenv("RATE_LIMIT_RPM", "")

	cfg := Load()
	if cfg.MongoDatabase != "chat_db" {
		t.Fatalf("MongoDatabase = %q, want chat_db", cfg.MongoDatabase)
	}
	if cfg.JWTExpiration != 24*time.Hour {
		t.Fatalf("JWTExpiration = %v, want 24h", cfg.JWTExpiration)
	}
	if cfg.RateLimitRPM != 10 {
		t.Fatalf("RateLimitRPM = %d, want 10", cfg.RateLimitRPM)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("CHAT_OFFLINE", "true")
	t.Setenv("FEED_RETRY_MAX", "5s")
	t.Setenv("JWT_KEYS", "k1:one,bad,k2:two")
	t.Setenv("JWT_ACTIVE_KID", "k2")

	cfg := Load()
	if !cfg.Offline {
		t.Fatalf("expected Offline")
	}
	if cfg.FeedRetryMax != 5*time.Second {
		t.Fatalf("FeedRetryMax = %v", cfg.FeedRetryMax)
	}
	if len(cfg.JWTKeys) != 2 || cfg.JWTKeys["k2"] != "two" {
		t.Fatalf("JWTKeys = %v", cfg.JWTKeys)
	}
}

func TestValidate(t *testing.T) {
	cfg := &Config{Offline: true, JWTSecret: "s", Email: "a@b.c", Password: "secret"}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}

	cfg = &Config{JWTKeys: map[string]string{"k1": "x"}, JWTActiveKid: "k9"}
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected errors for missing URI, bad kid and missing account")
	}
}
