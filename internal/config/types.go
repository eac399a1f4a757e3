package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Environment variables read on top of the config file.
const (
	EnvToken    = "TELEGRAM_BOT_TOKEN"
	EnvStaffIDs = "NEWSBOT_STAFF_IDS"
)

var ErrMissingToken = errors.New("config: telegram token is required (set " + EnvToken + ")")

type Config struct {
	Telegram TelegramConfig `json:"telegram"`
	Logging  LoggingConfig  `json:"logging"`
	Registry RegistryConfig `json:"registry"`
	Delivery DeliveryConfig `json:"delivery"`
	Dispatch DispatchConfig `json:"dispatch"`
	Ops      OpsConfig      `json:"ops,omitempty"`

	// StaffIDs seeds the staff set. It is filled from NEWSBOT_STAFF_IDS and is
	// never read from the file.
	StaffIDs []int64 `json:"-"`
}

type TelegramConfig struct {
	Token string `json:"token"`
	// PollTimeout is a Go duration string (e.g. "10s", "2m").
	PollTimeout string `json:"poll_timeout"`
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

// RegistryConfig controls where destinations and staff are persisted.
//
// Example:
//
//	"registry": { "driver": "sqlite", "path": "./newsbot.db", "flush_interval": "1s" }
type RegistryConfig struct {
	Driver        string `json:"driver"`
	Path          string `json:"path"`
	FlushInterval string `json:"flush_interval,omitempty"`
	BusyTimeout   string `json:"busy_timeout,omitempty"` // sqlite only
}

// DeliveryConfig tunes the broadcast delivery engine.
//
// rate_per_sec: 0 uses the default, negative disables pacing.
// max_migrations: 0 uses the default, negative removes the bound.
type DeliveryConfig struct {
	RatePerSec    int `json:"rate_per_sec,omitempty"`
	MaxMigrations int `json:"max_migrations,omitempty"`
}

type DispatchConfig struct {
	Workers   int `json:"workers,omitempty"`
	QueueSize int `json:"queue_size,omitempty"`
}

// OpsConfig controls the optional metrics/pprof HTTP server.
//
// Prefer binding to localhost. A non-loopback address requires a token.
type OpsConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr,omitempty"`  // default: "127.0.0.1:9090"
	Token   string `json:"token,omitempty"` // optional bearer token (do not log)
}

// applyEnv overlays environment variables on cfg.
func applyEnv(cfg *Config, getenv func(string) string) error {
	if getenv == nil {
		getenv = os.Getenv
	}
	if tok := strings.TrimSpace(getenv(EnvToken)); tok != "" {
		cfg.Telegram.Token = tok
	}
	ids, err := ParseIDList(getenv(EnvStaffIDs))
	if err != nil {
		return fmt.Errorf("%s: %w", EnvStaffIDs, err)
	}
	cfg.StaffIDs = ids
	return nil
}

// ParseIDList parses a comma separated list of int64 ids. Blank items are skipped.
func ParseIDList(raw string) ([]int64, error) {
	var out []int64
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid id %q", part)
		}
		out = append(out, id)
	}
	return out, nil
}

// Validate checks values that can't be fixed by defaults.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}
	if strings.TrimSpace(c.Telegram.Token) == "" {
		return ErrMissingToken
	}
	for key, raw := range map[string]string{
		"telegram.poll_timeout":   c.Telegram.PollTimeout,
		"registry.flush_interval": c.Registry.FlushInterval,
		"registry.busy_timeout":   c.Registry.BusyTimeout,
	} {
		if _, err := ParseDurationField(key, raw); err != nil {
			return err
		}
	}
	switch strings.ToLower(strings.TrimSpace(c.Logging.Level)) {
	case "", "trace", "debug", "info", "warn", "warning", "error":
	default:
		return fieldErr("logging.level", fmt.Errorf("unknown level %q", c.Logging.Level))
	}
	if c.Dispatch.Workers < 0 {
		return fieldErr("dispatch.workers", ErrNegative)
	}
	if c.Dispatch.QueueSize < 0 {
		return fieldErr("dispatch.queue_size", ErrNegative)
	}
	return nil
}

// PollTimeout returns telegram.poll_timeout, defaulting to 10s.
func (c *Config) PollTimeout() time.Duration {
	d, _ := ParseDurationOrDefault("telegram.poll_timeout", c.Telegram.PollTimeout, 10*time.Second)
	return d
}

// FlushInterval returns registry.flush_interval (0 means the store default).
func (c *Config) FlushInterval() time.Duration {
	d, _ := ParseDurationField("registry.flush_interval", c.Registry.FlushInterval)
	return d
}
