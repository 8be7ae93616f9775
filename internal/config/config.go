package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Port     int
	LogLevel string
	Env      string

	// Database
	DBHost     string
	DBPort     int
	DBUser     string
	DBPassword string
	DBName     string
	DBSSLMode  string

	// Redis config
	RedisHost     string
	RedisPort     int
	RedisPassword string
	RedisDB       int

	// Telegram bot
	BotToken   string
	AllowedIDs []int64 // telegram user ids permitted to talk to the bot

	// Scheduling
	DigestHour      int // local hour at which daily digests fire
	DigestMinute    int
	DefaultTimezone string // IANA name assigned to new users

	// Outbound send pacing (messages per second towards Telegram)
	SendRatePerSec float64
}

// Load reads configuration from environment variables with sensible defaults.
// Values that would make the process misbehave silently (digest time, default
// timezone, whitelist, bot token) are validated here so startup fails instead.
func Load() (*Config, error) {
	cfg := &Config{
		Port:     8080,
		LogLevel: "info",
		Env:      "development",

		// Local postgres defaults
		DBHost:     "localhost",
		DBPort:     5432,
		DBUser:     "lalithlochan",
		DBPassword: "",
		DBName:     "taskdeck",
		DBSSLMode:  "disable",

		// Redis defaults
		RedisHost:     "localhost",
		RedisPort:     6379,
		RedisPassword: "",
		RedisDB:       0,

		DigestHour:      9,
		DigestMinute:    0,
		DefaultTimezone: "UTC",
		SendRatePerSec:  25,
	}

	if port := os.Getenv("PORT"); port != "" {
		p, err := strconv.Atoi(port)
		if err != nil {
			return nil, fmt.Errorf("invalid PORT: %w", err)
		}
		cfg.Port = p
	}

	if level := os.Getenv("LOG_LEVEL"); level != "" {
		cfg.LogLevel = level
	}

	if env := os.Getenv("ENV"); env != "" {
		cfg.Env = env
	}

	// Database config
	if host := os.Getenv("DB_HOST"); host != "" {
		cfg.DBHost = host
	}

	if port := os.Getenv("DB_PORT"); port != "" {
		p, err := strconv.Atoi(port)
		if err != nil {
			return nil, fmt.Errorf("invalid DB_PORT: %w", err)
		}
		cfg.DBPort = p
	}

	if user := os.Getenv("DB_USER"); user != "" {
		cfg.DBUser = user
	}

	if password := os.Getenv("DB_PASSWORD"); password != "" {
		cfg.DBPassword = password
	}

	if dbname := os.Getenv("DB_NAME"); dbname != "" {
		cfg.DBName = dbname
	}

	if sslmode := os.Getenv("DB_SSLMODE"); sslmode != "" {
		cfg.DBSSLMode = sslmode
	}

	// Redis config
	if host := os.Getenv("REDIS_HOST"); host != "" {
		cfg.RedisHost = host
	}

	if port := os.Getenv("REDIS_PORT"); port != "" {
		p, err := strconv.Atoi(port)
		if err != nil {
			return nil, fmt.Errorf("invalid REDIS_PORT: %w", err)
		}
		cfg.RedisPort = p
	}

	if password := os.Getenv("REDIS_PASSWORD"); password != "" {
		cfg.RedisPassword = password
	}

	if db := os.Getenv("REDIS_DB"); db != "" {
		d, err := strconv.Atoi(db)
		if err != nil {
			return nil, fmt.Errorf("invalid REDIS_DB: %w", err)
		}
		cfg.RedisDB = d
	}

	// Telegram config
	cfg.BotToken = os.Getenv("BOT_TOKEN")
	if cfg.BotToken == "" {
		return nil, fmt.Errorf("BOT_TOKEN is required")
	}

	ids, err := parseAllowedIDs(os.Getenv("ALLOWED_TELEGRAM_IDS"))
	if err != nil {
		return nil, err
	}
	cfg.AllowedIDs = ids

	// Scheduling config
	if digest := os.Getenv("DIGEST_TIME"); digest != "" {
		h, m, err := parseDigestTime(digest)
		if err != nil {
			return nil, err
		}
		cfg.DigestHour = h
		cfg.DigestMinute = m
	}

	if tz := os.Getenv("TZ_DEFAULT"); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			return nil, fmt.Errorf("invalid TZ_DEFAULT %q: %w", tz, err)
		}
		cfg.DefaultTimezone = tz
	}

	if rate := os.Getenv("SEND_RATE_PER_SEC"); rate != "" {
		r, err := strconv.ParseFloat(rate, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid SEND_RATE_PER_SEC: %w", err)
		}
		if r <= 0 {
			return nil, fmt.Errorf("SEND_RATE_PER_SEC must be positive, got %v", r)
		}
		cfg.SendRatePerSec = r
	}

	return cfg, nil
}

// parseAllowedIDs splits a comma-separated list of telegram user ids.
// The whitelist is the bot's only access control, so an empty or malformed
// list is a startup error rather than a bot that ignores everyone.
func parseAllowedIDs(raw string) ([]int64, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, fmt.Errorf("ALLOWED_TELEGRAM_IDS is required")
	}

	parts := strings.Split(raw, ",")
	ids := make([]int64, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid ALLOWED_TELEGRAM_IDS entry %q: %w", part, err)
		}
		ids = append(ids, id)
	}
	if len(ids) == 0 {
		return nil, fmt.Errorf("ALLOWED_TELEGRAM_IDS is required")
	}
	return ids, nil
}

// parseDigestTime parses "HH:MM" and rejects out-of-range values outright;
// clamping here would move digests to a time nobody configured.
func parseDigestTime(raw string) (hour, minute int, err error) {
	parts := strings.Split(raw, ":")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("invalid DIGEST_TIME %q: want HH:MM", raw)
	}

	hour, err = strconv.Atoi(parts[0])
	if err != nil {
		return 0, 0, fmt.Errorf("invalid DIGEST_TIME hour: %w", err)
	}
	minute, err = strconv.Atoi(parts[1])
	if err != nil {
		return 0, 0, fmt.Errorf("invalid DIGEST_TIME minute: %w", err)
	}

	if hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return 0, 0, fmt.Errorf("DIGEST_TIME %q out of range", raw)
	}
	return hour, minute, nil
}
