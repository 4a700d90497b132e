// config/config.go
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"
)

const (
	StorageMemory   = "memory"
	StoragePostgres = "postgres"
	StorageRedis    = "redis"
)

type Config struct {
	Port         string
	PassportsDir string

	StorageDriver string
	DatabaseURL   string
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	AdminPassword     string
	AdminPasswordHash string
	AdminJWTSecret    string
	AdminTokenTTL     time.Duration

	AllowedOrigins []string

	UnlockDelay          time.Duration
	NotificationCooldown time.Duration
	SessionIdleTTL       time.Duration
	JanitorInterval      time.Duration
	ReloadInterval       time.Duration
	StreamInterval       time.Duration

	ScanRateLimit  int
	ScanRateWindow time.Duration

	LogLevel  string
	LogFormat string

	CloudflareAccountID string
	R2AccessKeyID       string
	R2AccessKeySecret   string
	R2BucketName        string
	CDNBaseURL          string
}

// Load reads .env (if present) and the environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Println("⚠️  No .env file found, reading environment variables directly")
	}

	cfg := &Config{
		Port:         getEnv("PORT", "5200"),
		PassportsDir: getEnv("PASSPORTS_DIR", "./passports"),

		StorageDriver: strings.ToLower(getEnv("STORAGE_DRIVER", StorageMemory)),
		DatabaseURL:   os.Getenv("DATABASE_URL"),
		RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),

		AdminPassword:     os.Getenv("ADMIN_PASSWORD"),
		AdminPasswordHash: os.Getenv("ADMIN_PASSWORD_HASH"),
		AdminJWTSecret:    os.Getenv("ADMIN_JWT_SECRET"),

		AllowedOrigins: splitList(getEnv("ALLOWED_ORIGINS", "http://localhost:3000")),

		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "text"),

		CloudflareAccountID: os.Getenv("CLOUDFLARE_ACCOUNT_ID"),
		R2AccessKeyID:       os.Getenv("R2_ACCESS_KEY_ID"),
		R2AccessKeySecret:   os.Getenv("R2_ACCESS_KEY_SECRET"),
		R2BucketName:        os.Getenv("R2_BUCKET_NAME"),
		CDNBaseURL:          os.Getenv("CDN_BASE_URL"),
	}

	var err error
	if cfg.RedisDB, err = getInt("REDIS_DB", 0); err != nil {
		return nil, err
	}
	if cfg.ScanRateLimit, err = getInt("SCAN_RATE_LIMIT", 10); err != nil {
		return nil, err
	}
	durations := []struct {
		key  string
		def  time.Duration
		dest *time.Duration
	}{
		{"ADMIN_TOKEN_TTL", 12 * time.Hour, &cfg.AdminTokenTTL},
		{"UNLOCK_DELAY", 600 * time.Millisecond, &cfg.UnlockDelay},
		{"NOTIFICATION_COOLDOWN", time.Second, &cfg.NotificationCooldown},
		{"SESSION_IDLE_TTL", 30 * time.Minute, &cfg.SessionIdleTTL},
		{"JANITOR_INTERVAL", time.Minute, &cfg.JanitorInterval},
		{"RELOAD_INTERVAL", 5 * time.Second, &cfg.ReloadInterval},
		{"STREAM_INTERVAL", 250 * time.Millisecond, &cfg.StreamInterval},
		{"SCAN_RATE_WINDOW", time.Minute, &cfg.ScanRateWindow},
	}
	for _, d := range durations {
		if *d.dest, err = getDuration(d.key, d.def); err != nil {
			return nil, err
		}
	}

	return cfg, cfg.validate()
}

func (c *Config) validate() error {
	switch c.StorageDriver {
	case StorageMemory, StorageRedis:
	case StoragePostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL environment variable not set (STORAGE_DRIVER=%s)", c.StorageDriver)
		}
	default:
		return fmt.Errorf("unknown STORAGE_DRIVER %q", c.StorageDriver)
	}
	if (c.AdminPassword != "" || c.AdminPasswordHash != "") && c.AdminJWTSecret == "" {
		return fmt.Errorf("ADMIN_JWT_SECRET environment variable not set")
	}
	return nil
}

func getEnv(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func getInt(key string, def int) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}

func getDuration(key string, def time.Duration) (time.Duration, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}

// splitList splits a comma-separated value, trimming spaces from each entry.
func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
