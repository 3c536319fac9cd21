package config

import (
	"os"
	"testing"
)

var envKeys = []string{
	"APP_PORT", "APP_ENV", "DATABASE_DRIVER", "DATABASE_DSN", "INVITE_SECRET",
	"SESSION_TTL_HOURS", "INVITE_TTL_MINUTES", "REDIS_ADDR", "REDIS_CHANNEL",
	"WS_SEND_BUFFER", "WS_FRAMES_PER_SECOND", "CORS_ORIGINS",
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range envKeys {
		os.Unsetenv(k)
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)

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
	if cfg.SessionTTLHours != 168 {
		t.Errorf("Load() SessionTTLHours = %v, want 168", cfg.SessionTTLHours)
	}
	if cfg.InviteTTLMinutes != 60 {
		t.Errorf("Load() InviteTTLMinutes = %v, want 60", cfg.InviteTTLMinutes)
	}
	if cfg.RedisAddr != "" {
		t.Errorf("Load() RedisAddr = %q, want empty", cfg.RedisAddr)
	}
	if cfg.WSSendBuffer != 256 || cfg.WSFramesPerSecond != 20 {
		t.Errorf("Load() ws limits = %d/%d, want 256/20", cfg.WSSendBuffer, cfg.WSFramesPerSecond)
	}
	if len(cfg.CORSOrigins) != 0 {
		t.Errorf("Load() CORSOrigins = %v, want empty", cfg.CORSOrigins)
	}
}

func TestLoad_FromEnv(t *testing.T) {
	clearEnv(t)
	os.Setenv("APP_PORT", "9090")
	os.Setenv("APP_ENV", "prod")
	os.Setenv("DATABASE_DRIVER", "SQLite")
	os.Setenv("DATABASE_DSN", "/tmp/messenger.db")
	os.Setenv("INVITE_SECRET", "my-secret")
	os.Setenv("SESSION_TTL_HOURS", "24")
	os.Setenv("REDIS_ADDR", "redis:6379")
	os.Setenv("CORS_ORIGINS", "https://a.example, https://b.example ,")
	defer clearEnv(t)

	cfg := Load()

	if cfg.Port != "9090" {
		t.Errorf("Load() Port = %v, want 9090", cfg.Port)
	}
	if cfg.DatabaseDriver != "sqlite" {
		t.Errorf("Load() DatabaseDriver = %v, want sqlite", cfg.DatabaseDriver)
	}
	if cfg.DatabaseDSN != "/tmp/messenger.db" {
		t.Errorf("Load() DatabaseDSN = %v", cfg.DatabaseDSN)
	}
	if cfg.InviteSecret != "my-secret" {
		t.Errorf("Load() InviteSecret = %v, want my-secret", cfg.InviteSecret)
	}
	if cfg.SessionTTLHours != 24 {
		t.Errorf("Load() SessionTTLHours = %v, want 24", cfg.SessionTTLHours)
	}
	if cfg.RedisAddr != "redis:6379" {
		t.Errorf("Load() RedisAddr = %v", cfg.RedisAddr)
	}
	if len(cfg.CORSOrigins) != 2 || cfg.CORSOrigins[1] != "https://b.example" {
		t.Errorf("Load() CORSOrigins = %v", cfg.CORSOrigins)
	}
}

func TestLoad_InvalidNumbers(t *testing.T) {
	clearEnv(t)
	os.Setenv("SESSION_TTL_HOURS", "invalid")
	os.Setenv("WS_SEND_BUFFER", "-5")
	defer clearEnv(t)

	cfg := Load()

	// Should fall back to defaults
	if cfg.SessionTTLHours != 168 {
		t.Errorf("Load() SessionTTLHours = %v, want 168 (default)", cfg.SessionTTLHours)
	}
	if cfg.WSSendBuffer != 256 {
		t.Errorf("Load() WSSendBuffer = %v, want 256 (default)", cfg.WSSendBuffer)
	}
}

func TestValidate(t *testing.T) {
	valid := Config{Port: "8080", DatabaseDriver: "postgres", DatabaseDSN: "postgres://localhost/test", InviteSecret: defaultInviteSecret, Env: "dev"}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"valid dev config", func(*Config) {}, false},
		{"valid prod config", func(c *Config) { c.Env = "prod"; c.InviteSecret = "production-secret" }, false},
		{"valid sqlite config", func(c *Config) { c.DatabaseDriver = "sqlite"; c.DatabaseDSN = "chat.db" }, false},
		{"empty port", func(c *Config) { c.Port = "" }, true},
		{"empty dsn", func(c *Config) { c.DatabaseDSN = "" }, true},
		{"unknown driver", func(c *Config) { c.DatabaseDriver = "mysql" }, true},
		{"default secret in prod", func(c *Config) { c.Env = "prod" }, true},
		{"empty secret in test env", func(c *Config) { c.Env = "test"; c.InviteSecret = "" }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid
			tt.mutate(&cfg)
			err := Validate(cfg)
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
