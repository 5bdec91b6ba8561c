// Package config loads process configuration from .env, the environment and
// an optional configs/config.yaml.
package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	BotToken string
	AdminIDs []int64

	DatabaseURL string
	ServerPort  string

	JWTSecret         string
	AdminPasswordHash string

	SessionBackend string
	SessionTTL     time.Duration
	RedisAddr      string

	AntiSpamDelay     time.Duration
	NotifyConcurrency int
	Workers           int
	BroadcastRate     float64

	LogLevel string
	DevLog   bool
}

// Load reads .env (if present) and then resolves every key through viper, so
// real environment variables win over both files.
func Load() (Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.AddConfigPath("./configs")
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AutomaticEnv()

	v.SetDefault("SERVER_PORT", "8080")
	v.SetDefault("SESSION_BACKEND", "memory")
	v.SetDefault("SESSION_TTL", "30m")
	v.SetDefault("REDIS_ADDR", "localhost:6379")
	v.SetDefault("ANTI_SPAM_DELAY", "2s")
	v.SetDefault("NOTIFY_CONCURRENCY", 4)
	v.SetDefault("WORKERS", 8)
	v.SetDefault("BROADCAST_RATE", 25)
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", "5432")
	v.SetDefault("DB_SSLMODE", "disable")

	var notFound viper.ConfigFileNotFoundError
	if err := v.ReadInConfig(); err != nil && !errors.As(err, &notFound) {
		return Config{}, fmt.Errorf("read config: %w", err)
	}

	return fromViper(v)
}

func fromViper(v *viper.Viper) (Config, error) {
	admins, err := ParseAdminIDs(v.GetString("ADMIN_IDS"))
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		BotToken:          v.GetString("BOT_TOKEN"),
		AdminIDs:          admins,
		DatabaseURL:       v.GetString("DATABASE_URL"),
		ServerPort:        v.GetString("SERVER_PORT"),
		JWTSecret:         v.GetString("JWT_SECRET"),
		AdminPasswordHash: v.GetString("ADMIN_PASSWORD_HASH"),
		SessionBackend:    strings.ToLower(v.GetString("SESSION_BACKEND")),
		SessionTTL:        v.GetDuration("SESSION_TTL"),
		RedisAddr:         v.GetString("REDIS_ADDR"),
		AntiSpamDelay:     v.GetDuration("ANTI_SPAM_DELAY"),
		NotifyConcurrency: v.GetInt("NOTIFY_CONCURRENCY"),
		Workers:           v.GetInt("WORKERS"),
		BroadcastRate:     v.GetFloat64("BROADCAST_RATE"),
		LogLevel:          v.GetString("LOG_LEVEL"),
		DevLog:            v.GetBool("LOG_DEVELOPMENT"),
	}
	if cfg.DatabaseURL == "" {
		cfg.DatabaseURL = fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
			v.GetString("DB_HOST"), v.GetString("DB_PORT"), v.GetString("DB_USER"),
			v.GetString("DB_PASSWORD"), v.GetString("DB_NAME"), v.GetString("DB_SSLMODE"))
	}
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.NotifyConcurrency < 1 {
		cfg.NotifyConcurrency = 1
	}
	if cfg.SessionBackend != "memory" && cfg.SessionBackend != "redis" {
		return Config{}, fmt.Errorf("unknown SESSION_BACKEND %q", cfg.SessionBackend)
	}
	return cfg, nil
}

// ParseAdminIDs parses a comma separated list of operator ids.
func ParseAdminIDs(raw string) ([]int64, error) {
	var ids []int64
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid admin id %q: %w", part, err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// IsAdmin reports whether id is one of the configured operators.
func (c Config) IsAdmin(id int64) bool {
	for _, a := range c.AdminIDs {
		if a == id {
			return true
		}
	}
	return false
}
