package config

import "time"

// Config is the full process configuration.
//
// Sources, in increasing precedence:
//  1. built-in defaults
//  2. optional YAML/JSON config file (-config flag)
//  3. environment variables (TELEGRAM_BOT_TOKEN, ADMIN_IDS, DEFAULT_LINK,
//     MESSAGE_INTERVAL), optionally loaded from a .env file
type Config struct {
	Telegram  TelegramConfig  `json:"telegram"`
	Logging   LoggingConfig   `json:"logging"`
	Broadcast BroadcastConfig `json:"broadcast"`
	Storage   StorageConfig   `json:"storage,omitempty"`
	Digest    DigestConfig    `json:"digest,omitempty"`
}

type TelegramConfig struct {
	Token    string  `json:"token"`
	AdminIDs []int64 `json:"admin_ids"`
	// PollTimeout is a Go duration string (e.g. "10s", "2m").
	PollTimeout string `json:"poll_timeout,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type BroadcastConfig struct {
	DefaultLink string `json:"default_link"`
	// IntervalHours is the initial posting cadence. The /interval command
	// changes the live value; this only seeds it at startup.
	IntervalHours int `json:"interval_hours"`
	RatePerSec    int `json:"rate_per_sec,omitempty"`
}

// StorageConfig controls the optional audit store.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./linkbot.db" }
type StorageConfig struct {
	Driver string `json:"driver,omitempty"`
	Path   string `json:"path,omitempty"`
}

// DigestConfig controls the optional admin stats digest. Cron is a standard
// 5-field cron spec; empty disables the digest.
type DigestConfig struct {
	Cron string `json:"cron,omitempty"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Logging: LoggingConfig{
			Level:   "INFO",
			Console: true,
		},
		Broadcast: BroadcastConfig{
			IntervalHours: 24,
			RatePerSec:    10,
		},
	}
}

// Interval returns the configured cadence as a duration.
func (c *Config) Interval() time.Duration {
	h := c.Broadcast.IntervalHours
	if h <= 0 {
		h = 24
	}
	return time.Duration(h) * time.Hour
}
