package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
)

const defaultInviteSecret = "dev-secret-change-me"

type Config struct {
	Port              string
	Env               string
	DatabaseDriver    string
	DatabaseDSN       string
	InviteSecret      string
	SessionTTLHours   int
	InviteTTLMinutes  int
	RedisAddr         string
	RedisChannel      string
	WSSendBuffer      int
	WSFramesPerSecond int
	CORSOrigins       []string
}

func getenv(key, def string) string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return v
}

// getenvInt 读取正整数配置，非法值回退到默认值。
func getenvInt(key string, def int) int {
	v, err := strconv.Atoi(getenv(key, strconv.Itoa(def)))
	if err != nil || v <= 0 {
		return def
	}
	return v
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func Load() Config {
	return Config{
		Port:              getenv("APP_PORT", "8080"),
		Env:               getenv("APP_ENV", "dev"),
		DatabaseDriver:    strings.ToLower(getenv("DATABASE_DRIVER", "postgres")),
		DatabaseDSN:       getenv("DATABASE_DSN", "host=localhost user=postgres password=postgres dbname=messenger port=5432 sslmode=disable TimeZone=UTC"),
		InviteSecret:      getenv("INVITE_SECRET", defaultInviteSecret),
		SessionTTLHours:   getenvInt("SESSION_TTL_HOURS", 168),
		InviteTTLMinutes:  getenvInt("INVITE_TTL_MINUTES", 60),
		RedisAddr:         getenv("REDIS_ADDR", ""),
		RedisChannel:      getenv("REDIS_CHANNEL", "chat-fanout"),
		WSSendBuffer:      getenvInt("WS_SEND_BUFFER", 256),
		WSFramesPerSecond: getenvInt("WS_FRAMES_PER_SECOND", 20),
		CORSOrigins:       splitList(getenv("CORS_ORIGINS", "")),
	}
}

// Validate 在启动前检查配置，非 dev 环境禁止使用默认密钥。
func Validate(cfg Config) error {
	if cfg.Port == "" {
		return errors.New("config: APP_PORT is empty")
	}
	if cfg.DatabaseDSN == "" {
		return errors.New("config: DATABASE_DSN is empty")
	}
	switch cfg.DatabaseDriver {
	case "postgres", "sqlite":
	default:
		return errors.New("config: DATABASE_DRIVER must be postgres or sqlite")
	}
	if cfg.Env != "dev" && (cfg.InviteSecret == "" || cfg.InviteSecret == defaultInviteSecret) {
		return errors.New("config: INVITE_SECRET must be set outside dev")
	}
	return nil
}
