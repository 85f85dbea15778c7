package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"

	"linkbot/internal/registry"
)

// LoadDotenv loads a .env file into the process environment if one exists.
// Missing files are not an error; variables already set win.
func LoadDotenv(path string) error {
	if strings.TrimSpace(path) == "" {
		path = ".env"
	}
	if _, err := os.Stat(path); err != nil {
		return nil
	}
	return godotenv.Load(path)
}

// ApplyEnv overlays environment variables onto cfg. Env always wins over
// file values for the four core settings.
func ApplyEnv(cfg *Config) error {
	if v := os.Getenv("TELEGRAM_BOT_TOKEN"); v != "" {
		cfg.Telegram.Token = v
	}
	if v := os.Getenv("DEFAULT_LINK"); v != "" {
		cfg.Broadcast.DefaultLink = v
	}
	if v := os.Getenv("ADMIN_IDS"); v != "" {
		ids, err := parseAdminIDs(v)
		if err != nil {
			return fmt.Errorf("ADMIN_IDS: %w", err)
		}
		cfg.Telegram.AdminIDs = ids
	}
	if v := os.Getenv("MESSAGE_INTERVAL"); v != "" {
		h, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("MESSAGE_INTERVAL: invalid hours %q: %w", v, err)
		}
		cfg.Broadcast.IntervalHours = h
	}
	return nil
}

func parseAdminIDs(s string) ([]int64, error) {
	parts := strings.Split(s, ",")
	ids := make([]int64, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		id, err := strconv.ParseInt(p, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid id %q: %w", p, err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// Validate rejects configurations the process cannot run with.
func Validate(cfg *Config) error {
	if strings.TrimSpace(cfg.Telegram.Token) == "" {
		return errors.New("telegram token is required (TELEGRAM_BOT_TOKEN)")
	}
	if !registry.ValidLink(cfg.Broadcast.DefaultLink) {
		return errors.New("default link is required and must start with http:// or https:// (DEFAULT_LINK)")
	}
	if cfg.Broadcast.IntervalHours < 1 {
		return errors.New("broadcast interval must be at least 1 hour (MESSAGE_INTERVAL)")
	}
	if _, err := ParseDuration("telegram.poll_timeout", cfg.Telegram.PollTimeout, 0); err != nil {
		return err
	}
	return nil
}
