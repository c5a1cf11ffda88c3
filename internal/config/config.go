package config

import (
	"errors"
	"os"
	"strconv"
)

type Config struct {
	Port            string
	DatabaseDSN     string
	Env             string
	SessionTTLHours int
	SlidingExpiry   bool
}

func getenv(key, def string) string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return v
}

func Load() Config {
	port := getenv("APP_PORT", "8080")
	dsn := getenv("DATABASE_DSN", "host=localhost user=postgres password=postgres dbname=messenger port=5432 sslmode=disable TimeZone=UTC")
	env := getenv("APP_ENV", "dev")
	ttl := 24
	if v, err := strconv.Atoi(getenv("SESSION_TTL_HOURS", "24")); err == nil && v > 0 {
		ttl = v
	}
	sliding, _ := strconv.ParseBool(getenv("SESSION_SLIDING_EXPIRY", "false"))
	return Config{
		Port:            port,
		DatabaseDSN:     dsn,
		Env:             env,
		SessionTTLHours: ttl,
		SlidingExpiry:   sliding,
	}
}

// Validate 检查配置在启动前是否可用。
func Validate(cfg Config) error {
	if cfg.Port == "" {
		return errors.New("port is required")
	}
	if cfg.DatabaseDSN == "" {
		return errors.New("database dsn is required")
	}
	if cfg.SessionTTLHours <= 0 {
		return errors.New("session ttl must be positive")
	}
	return nil
}
