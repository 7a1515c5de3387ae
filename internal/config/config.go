package config

import (
	"errors"
	"os"
	"strconv"
	"time"
)

const defaultJWTSecret = "dev-secret-change-me"

type Config struct {
	Port                  string
	Env                   string
	DatabaseDriver        string
	DatabaseDSN           string
	DocstoreDriver        string
	JWTSecret             string
	AccessTokenTTLMinutes int
	RefreshTokenTTLDays   int
	RedisURL              string
	SweepInterval         time.Duration
	SweepToken            string
	DefaultRoomTTLMinutes int
	DefaultAvatarURL      string
	PublicBaseURL         string
}

func getenv(key, def string) string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return v
}

// getenvInt 解析正整数，非法或非正值时回退到默认值。
func getenvInt(key string, def int) int {
	n, err := strconv.Atoi(os.Getenv(key))
	if err != nil || n <= 0 {
		return def
	}
	return n
}

// getenvDuration 解析 time.ParseDuration 格式，"0" 表示关闭。
func getenvDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d < 0 {
		return def
	}
	return d
}

func Load() Config {
	return Config{
		Port:                  getenv("APP_PORT", "8080"),
		Env:                   getenv("APP_ENV", "dev"),
		DatabaseDriver:        getenv("DATABASE_DRIVER", "postgres"),
		DatabaseDSN:           getenv("DATABASE_DSN", "host=localhost user=postgres password=postgres dbname=tempchat port=5432 sslmode=disable TimeZone=UTC"),
		DocstoreDriver:        getenv("DOCSTORE_DRIVER", "gorm"),
		JWTSecret:             getenv("JWT_SECRET", defaultJWTSecret),
		AccessTokenTTLMinutes: getenvInt("ACCESS_TOKEN_TTL_MINUTES", 15),
		RefreshTokenTTLDays:   getenvInt("REFRESH_TOKEN_TTL_DAYS", 7),
		RedisURL:              os.Getenv("REDIS_URL"),
		SweepInterval:         getenvDuration("SWEEP_INTERVAL", 24*time.Hour),
		SweepToken:            os.Getenv("SWEEP_TOKEN"),
		DefaultRoomTTLMinutes: getenvInt("DEFAULT_ROOM_TTL_MINUTES", 30),
		DefaultAvatarURL:      getenv("DEFAULT_AVATAR_URL", "https://randomuser.me/api/portraits/lego/5.jpg"),
		PublicBaseURL:         getenv("PUBLIC_BASE_URL", "http://localhost:8080"),
	}
}

// Validate 在启动前检查配置，非 dev 环境禁止使用默认 JWT 密钥。
func Validate(cfg Config) error {
	if cfg.Port == "" {
		return errors.New("APP_PORT is required")
	}
	if cfg.DatabaseDSN == "" {
		return errors.New("DATABASE_DSN is required")
	}
	switch cfg.DatabaseDriver {
	case "", "postgres", "sqlite":
	default:
		return errors.New("DATABASE_DRIVER must be postgres or sqlite")
	}
	switch cfg.DocstoreDriver {
	case "", "gorm", "memory":
	default:
		return errors.New("DOCSTORE_DRIVER must be gorm or memory")
	}
	if cfg.Env != "dev" && cfg.JWTSecret == defaultJWTSecret {
		return errors.New("JWT_SECRET must be set outside dev")
	}
	return nil
}
