package app

import (
	"fmt"
	"strings"
	"time"

	"newsbot/internal/broadcast"
	"newsbot/internal/config"
	"newsbot/internal/observability/ops"
	"newsbot/internal/storage"
	logx "newsbot/pkg/logx"
)

// DefaultRegistryPath is used by the file driver when registry.path is empty.
const DefaultRegistryPath = "./settings.json"

func mapStorageConfig(cfg *config.Config) (storage.Config, error) {
	rc := cfg.Registry
	driver := strings.ToLower(strings.TrimSpace(rc.Driver))
	path := strings.TrimSpace(rc.Path)

	switch driver {
	case "", "file", "json":
		if path == "" {
			path = DefaultRegistryPath
		}
		return storage.Config{Driver: "file", Path: path}, nil
	case "sqlite", "sqlite3":
		if path == "" {
			return storage.Config{}, fmt.Errorf("registry.path is required when registry.driver=sqlite")
		}
		busy, err := config.ParseDurationOrDefault("registry.busy_timeout", rc.BusyTimeout, time.Second)
		if err != nil {
			return storage.Config{}, err
		}
		return storage.Config{Driver: "sqlite", Path: path, BusyTimeout: busy}, nil
	case "memory":
		return storage.Config{Driver: "memory"}, nil
	default:
		return storage.Config{}, fmt.Errorf("unknown registry.driver: %s", rc.Driver)
	}
}

func mapEngineConfig(cfg *config.Config) broadcast.EngineConfig {
	return broadcast.EngineConfig{
		RatePerSec:    float64(cfg.Delivery.RatePerSec),
		MaxMigrations: cfg.Delivery.MaxMigrations,
	}
}

func mapLogConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}

func mapOpsConfig(cfg *config.Config) ops.Config {
	return ops.Config{
		Enabled: cfg.Ops.Enabled,
		Addr:    cfg.Ops.Addr,
		Token:   cfg.Ops.Token,
	}
}

// restartOnly reports changed sections that are only read at startup.
func restartOnly(prev, next *config.Config) []string {
	var out []string
	if prev.Telegram != next.Telegram {
		out = append(out, "telegram")
	}
	if prev.Registry != next.Registry {
		out = append(out, "registry")
	}
	if prev.Dispatch != next.Dispatch {
		out = append(out, "dispatch")
	}
	return out
}
