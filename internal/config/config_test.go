package config

import (
	"testing"
	"time"
)

func TestValidate_ReportsMissingRequired(t *testing.T) {
	c := Config{}
	if err := c.Validate(); err == nil {
		t.Fatalf("expected validation error")
	}
}

func validBase() Config {
	return Config{
		App:   AppConfig{Env: "local", Port: 8080},
		DB:    DBConfig{Host: "localhost", Port: 5432, User: "postgres", Password: "x", Name: "counsel", SSLMode: ""},
		Redis: RedisConfig{Host: "localhost", Port: 6379},
		Auth:  AuthConfig{JWTSecret: "secret"},
	}
}

func TestValidate_ProductionRequiresSSLMode(t *testing.T) {
	c := validBase()
	c.App.Env = "production"
	c.Auth.JWTIssuer = "counsel"
	c.Auth.JWTAudience = "counsel-api"
	if err := c.Validate(); err == nil {
		t.Fatalf("expected error for production without DB_SSLMODE")
	}
}

func TestValidate_LocalDefaultsSSLMode(t *testing.T) {
	c := validBase()
	if err := c.Validate(); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if c.DB.SSLMode != "disable" {
		t.Fatalf("expected sslmode disable default, got %q", c.DB.SSLMode)
	}
}

func TestValidate_CallDefaults(t *testing.T) {
	c := validBase()
	if err := c.Validate(); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if c.Call.RingTimeout != 30*time.Second {
		t.Fatalf("expected 30s ring timeout, got %v", c.Call.RingTimeout)
	}
	if c.Call.ReconnectAttempts != 3 || c.Call.ReconnectDelay != 2*time.Second {
		t.Fatalf("expected default reconnect window, got %d x %v", c.Call.ReconnectAttempts, c.Call.ReconnectDelay)
	}
	if c.Auth.ConnectionTokenTTL != 12*time.Hour {
		t.Fatalf("expected 12h connection token TTL, got %v", c.Auth.ConnectionTokenTTL)
	}
}

func TestValidate_HeartbeatTimeoutMustExceedInterval(t *testing.T) {
	c := validBase()
	c.Call.HeartbeatInterval = 30 * time.Second
	c.Call.HeartbeatTimeout = 10 * time.Second
	if err := c.Validate(); err == nil {
		t.Fatalf("expected error for heartbeat timeout <= interval")
	}
}
