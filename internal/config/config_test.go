package config

import (
	"os"
	"testing"
	"time"
)

var envKeys = []string{
	"APP_PORT", "APP_ENV", "DATABASE_DRIVER", "DATABASE_DSN", "DOCSTORE_DRIVER", "JWT_SECRET",
	"ACCESS_TOKEN_TTL_MINUTES", "REFRESH_TOKEN_TTL_DAYS", "REDIS_URL", "SWEEP_INTERVAL",
	"SWEEP_TOKEN", "DEFAULT_ROOM_TTL_MINUTES", "DEFAULT_AVATAR_URL", "PUBLIC_BASE_URL",
}

func clearEnv() {
	for _, k := range envKeys {
		os.Unsetenv(k)
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv()

	cfg := Load()

	if cfg.Port != "8080" {
		t.Errorf("Load() Port = %v, want 8080", cfg.Port)
	}
	if cfg.Env != "dev" {
		t.Errorf("Load() Env = %v, want dev", cfg.Env)
	}
	if cfg.DatabaseDriver != "postgres" {
		t.Errorf("Load() DatabaseDriver = %v, want postgres", cfg.DatabaseDriver)
	}
	if cfg.DocstoreDriver != "gorm" {
		t.Errorf("Load() DocstoreDriver = %v, want gorm", cfg.DocstoreDriver)
	}
	if cfg.AccessTokenTTLMinutes != 15 {
		t.Errorf("Load() AccessTokenTTLMinutes = %v, want 15", cfg.AccessTokenTTLMinutes)
	}
	if cfg.RefreshTokenTTLDays != 7 {
		t.Errorf("Load() RefreshTokenTTLDays = %v, want 7", cfg.RefreshTokenTTLDays)
	}
	if cfg.SweepInterval != 24*time.Hour {
		t.Errorf("Load() SweepInterval = %v, want 24h", cfg.SweepInterval)
	}
	if cfg.DefaultRoomTTLMinutes != 30 {
		t.Errorf("Load() DefaultRoomTTLMinutes = %v, want 30", cfg.DefaultRoomTTLMinutes)
	}
	if cfg.RedisURL != "" {
		t.Errorf("Load() RedisURL = %v, want empty", cfg.RedisURL)
	}
}

func TestLoad_FromEnv(t *testing.T) {
	clearEnv()
	os.Setenv("APP_PORT", "9090")
	os.Setenv("DATABASE_DRIVER", "sqlite")
	os.Setenv("DATABASE_DSN", "file:tempchat.db")
	os.Setenv("JWT_SECRET", "my-secret")
	os.Setenv("APP_ENV", "prod")
	os.Setenv("ACCESS_TOKEN_TTL_MINUTES", "30")
	os.Setenv("REFRESH_TOKEN_TTL_DAYS", "14")
	os.Setenv("REDIS_URL", "redis://localhost:6379/0")
	os.Setenv("SWEEP_INTERVAL", "1h")
	os.Setenv("SWEEP_TOKEN", "sweep")
	defer clearEnv()

	cfg := Load()

	if cfg.Port != "9090" {
		t.Errorf("Load() Port = %v, want 9090", cfg.Port)
	}
	if cfg.DatabaseDriver != "sqlite" || cfg.DatabaseDSN != "file:tempchat.db" {
		t.Errorf("Load() database = %v %v, want sqlite file:tempchat.db", cfg.DatabaseDriver, cfg.DatabaseDSN)
	}
	if cfg.JWTSecret != "my-secret" {
		t.Errorf("Load() JWTSecret = %v, want my-secret", cfg.JWTSecret)
	}
	if cfg.Env != "prod" {
		t.Errorf("Load() Env = %v, want prod", cfg.Env)
	}
	if cfg.AccessTokenTTLMinutes != 30 {
		t.Errorf("Load() AccessTokenTTLMinutes = %v, want 30", cfg.AccessTokenTTLMinutes)
	}
	if cfg.RefreshTokenTTLDays != 14 {
		t.Errorf("Load() RefreshTokenTTLDays = %v, want 14", cfg.RefreshTokenTTLDays)
	}
	if cfg.RedisURL != "redis://localhost:6379/0" {
		t.Errorf("Load() RedisURL = %v", cfg.RedisURL)
	}
	if cfg.SweepInterval != time.Hour {
		t.Errorf("Load() SweepInterval = %v, want 1h", cfg.SweepInterval)
	}
	if cfg.SweepToken != "sweep" {
		t.Errorf("Load() SweepToken = %v, want sweep", cfg.SweepToken)
	}
}

func TestLoad_InvalidValues(t *testing.T) {
	clearEnv()
	os.Setenv("ACCESS_TOKEN_TTL_MINUTES", "invalid")
	os.Setenv("REFRESH_TOKEN_TTL_DAYS", "-5")
	os.Setenv("SWEEP_INTERVAL", "daily")
	os.Setenv("DEFAULT_ROOM_TTL_MINUTES", "0")
	defer clearEnv()

	cfg := Load()

	// Should fall back to defaults
	if cfg.AccessTokenTTLMinutes != 15 {
		t.Errorf("Load() AccessTokenTTLMinutes = %v, want 15 (default)", cfg.AccessTokenTTLMinutes)
	}
	if cfg.RefreshTokenTTLDays != 7 {
		t.Errorf("Load() RefreshTokenTTLDays = %v, want 7 (default)", cfg.RefreshTokenTTLDays)
	}
	if cfg.SweepInterval != 24*time.Hour {
		t.Errorf("Load() SweepInterval = %v, want 24h (default)", cfg.SweepInterval)
	}
	if cfg.DefaultRoomTTLMinutes != 30 {
		t.Errorf("Load() DefaultRoomTTLMinutes = %v, want 30 (default)", cfg.DefaultRoomTTLMinutes)
	}
}

func TestLoad_SweepDisabled(t *testing.T) {
	clearEnv()
	os.Setenv("SWEEP_INTERVAL", "0")
	defer clearEnv()

	if cfg := Load(); cfg.SweepInterval != 0 {
		t.Errorf("Load() SweepInterval = %v, want 0 (disabled)", cfg.SweepInterval)
	}
}

func TestValidate(t *testing.T) {
	base := Config{
		Port:           "8080",
		DatabaseDriver: "postgres",
		DatabaseDSN:    "postgres://localhost/test",
		DocstoreDriver: "gorm",
		JWTSecret:      "production-secret-key",
		Env:            "prod",
	}
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"valid prod config", func(*Config) {}, false},
		{"valid dev config with default secret", func(c *Config) { c.Env = "dev"; c.JWTSecret = defaultJWTSecret }, false},
		{"sqlite driver", func(c *Config) { c.DatabaseDriver = "sqlite" }, false},
		{"memory docstore", func(c *Config) { c.DocstoreDriver = "memory" }, false},
		{"empty port", func(c *Config) { c.Port = "" }, true},
		{"empty dsn", func(c *Config) { c.DatabaseDSN = "" }, true},
		{"unknown database driver", func(c *Config) { c.DatabaseDriver = "mysql" }, true},
		{"unknown docstore driver", func(c *Config) { c.DocstoreDriver = "firestore" }, true},
		{"default secret in prod", func(c *Config) { c.JWTSecret = defaultJWTSecret }, true},
		{"default secret in test env", func(c *Config) { c.Env = "test"; c.JWTSecret = defaultJWTSecret }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base
			tt.mutate(&cfg)
			err := Validate(cfg)
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
