// Package config loads service settings from .env and the environment.
package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"progression-system/utils"

	"github.com/joho/godotenv"
)

const (
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

type Config struct {
	Port           string
	DatabaseURL    string
	StoreDriver    string
	LogSQL         bool
	ServiceToken   string
	AllowedOrigins []string
	SyncServiceURL string
	AuthServiceURL string

	StreakLocation *time.Location
	TxMaxRetries   int

	LevelBaseXP         int64
	LevelGrowth         float64
	XPVideoComplete     int64
	XPStreak            int64
	XPPerBadge          int64
	CompletionThreshold float64

	BadgeRepairInterval time.Duration
	SnapshotHour        uint

	R2 utils.R2Config
}

// Load reads .env when present and returns the parsed configuration.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Println("⚠️  No .env file found, reading environment variables directly")
	}
	return FromEnv()
}

// FromEnv parses the process environment without touching .env.
func FromEnv() (*Config, error) {
	cfg := &Config{
		Port:           getEnv("PORT", "5200"),
		DatabaseURL:    os.Getenv("DATABASE_URL"),
		StoreDriver:    strings.ToLower(getEnv("STORE_DRIVER", DriverPostgres)),
		ServiceToken:   os.Getenv("PROGRESSION_SERVICE_TOKEN"),
		AllowedOrigins: splitList(getEnv("ALLOWED_ORIGINS", "http://localhost:3000")),
		SyncServiceURL: os.Getenv("SYNC_SERVICE_URL"),
		AuthServiceURL: os.Getenv("AUTH_SERVICE_URL"),
		R2: utils.R2Config{
			AccountID:       os.Getenv("CLOUDFLARE_ACCOUNT_ID"),
			AccessKeyID:     os.Getenv("R2_ACCESS_KEY_ID"),
			AccessKeySecret: os.Getenv("R2_ACCESS_KEY_SECRET"),
			Bucket:          os.Getenv("R2_BUCKET_NAME"),
			CDNBaseURL:      os.Getenv("CDN_BASE_URL"),
		},
	}

	var err error
	if cfg.LogSQL, err = getBool("LOG_SQL", false); err != nil {
		return nil, err
	}
	if cfg.TxMaxRetries, err = getInt("TX_MAX_RETRIES", 5); err != nil {
		return nil, err
	}
	if cfg.LevelBaseXP, err = getInt64("LEVEL_BASE_XP", 100); err != nil {
		return nil, err
	}
	if cfg.LevelGrowth, err = getFloat("LEVEL_GROWTH", 1.5); err != nil {
		return nil, err
	}
	if cfg.XPVideoComplete, err = getInt64("XP_VIDEO_COMPLETE", 50); err != nil {
		return nil, err
	}
	if cfg.XPStreak, err = getInt64("XP_STREAK", 10); err != nil {
		return nil, err
	}
	if cfg.XPPerBadge, err = getInt64("XP_PER_BADGE", 25); err != nil {
		return nil, err
	}
	if cfg.CompletionThreshold, err = getFloat("COMPLETION_THRESHOLD", 95); err != nil {
		return nil, err
	}
	if cfg.BadgeRepairInterval, err = getDuration("BADGE_REPAIR_INTERVAL", 5*time.Minute); err != nil {
		return nil, err
	}

	hour, err := getInt("SNAPSHOT_HOUR", 3)
	if err != nil {
		return nil, err
	}
	if hour < 0 || hour > 23 {
		return nil, fmt.Errorf("SNAPSHOT_HOUR must be within [0,23], got %d", hour)
	}
	cfg.SnapshotHour = uint(hour)

	tz := getEnv("STREAK_TIMEZONE", "UTC")
	if cfg.StreakLocation, err = time.LoadLocation(tz); err != nil {
		return nil, fmt.Errorf("invalid STREAK_TIMEZONE %q: %w", tz, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the settings a running server cannot do without.
func (c *Config) Validate() error {
	switch c.StoreDriver {
	case DriverPostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL environment variable not set")
		}
	case DriverMemory:
	default:
		return fmt.Errorf("unknown STORE_DRIVER %q", c.StoreDriver)
	}
	if c.ServiceToken == "" {
		return fmt.Errorf("PROGRESSION_SERVICE_TOKEN environment variable not set")
	}
	if c.CompletionThreshold <= 0 || c.CompletionThreshold > 100 {
		return fmt.Errorf("COMPLETION_THRESHOLD must be within (0,100], got %v", c.CompletionThreshold)
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v)
	}
	return fallback
}

func getInt(key string, fallback int) (int, error) {
	raw := getEnv(key, "")
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return v, nil
}

func getInt64(key string, fallback int64) (int64, error) {
	raw := getEnv(key, "")
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return v, nil
}

func getFloat(key string, fallback float64) (float64, error) {
	raw := getEnv(key, "")
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return v, nil
}

func getBool(key string, fallback bool) (bool, error) {
	raw := getEnv(key, "")
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return v, nil
}

func getDuration(key string, fallback time.Duration) (time.Duration, error) {
	raw := getEnv(key, "")
	if raw == "" {
		return fallback, nil
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return v, nil
}

// splitList splits a comma-separated list and drops blanks.
func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
