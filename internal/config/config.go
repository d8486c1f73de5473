package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	DefaultStationsURL  = "https://www.ncei.noaa.gov/pub/data/ghcn/daily/ghcnd-stations.txt"
	DefaultInventoryURL = "https://www.ncei.noaa.gov/pub/data/ghcn/daily/ghcnd-inventory.txt"
	DefaultDailyBaseURL = "https://www.ncei.noaa.gov/pub/data/ghcn/daily/all"
)

type Config struct {
	AppEnv   string
	LogLevel slog.Level
	HTTPAddr string

	Driver          string
	DSN             string
	Path            string
	DatabaseURL     string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	LogSQL          bool

	CacheBackend        string
	RedisURL            string
	CacheOpTimeout      time.Duration
	StationsCacheTTL    time.Duration
	TemperatureCacheTTL time.Duration

	StationsURL     string
	InventoryURL    string
	DailyBaseURL    string
	UpstreamTimeout time.Duration
	MaxAttempts     int
	InitialBackoff  time.Duration
	MaxBackoff      time.Duration

	ImportOnStart   bool
	RefreshInterval time.Duration
}

func LoadFromEnv() (Config, error) {
	appEnv := env("APP_ENV", "dev")
	switch appEnv {
	case "dev", "prod":
	default:
		return Config{}, fmt.Errorf("invalid APP_ENV %q (allowed: dev, prod)", appEnv)
	}

	level, err := parseLogLevel(env("LOG_LEVEL", "info"))
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		AppEnv:   appEnv,
		LogLevel: level,
		HTTPAddr: env("HTTP_ADDR", ":8080"),

		Driver:      env("DB_DRIVER", "sqlite3"),
		DSN:         env("DB_DSN", ""),
		Path:        env("SQLITE_PATH", "data/climate.db"),
		DatabaseURL: env("DATABASE_URL", ""),

		CacheBackend: env("CACHE_BACKEND", "memory"),
		RedisURL:     env("REDIS_URL", "redis://localhost:6379/0"),

		StationsURL:  env("GHCN_STATIONS_URL", DefaultStationsURL),
		InventoryURL: env("GHCN_INVENTORY_URL", DefaultInventoryURL),
		DailyBaseURL: env("GHCN_DAILY_BASE_URL", DefaultDailyBaseURL),
	}

	switch cfg.Driver {
	case "sqlite3":
	case "postgres":
		if cfg.DatabaseURL == "" {
			return Config{}, fmt.Errorf("DATABASE_URL is required when DB_DRIVER=postgres")
		}
	default:
		return Config{}, fmt.Errorf("invalid DB_DRIVER %q (allowed: sqlite3, postgres)", cfg.Driver)
	}

	switch cfg.CacheBackend {
	case "redis", "memory", "none":
	default:
		return Config{}, fmt.Errorf("invalid CACHE_BACKEND %q (allowed: redis, memory, none)", cfg.CacheBackend)
	}

	ints := []struct {
		key string
		def string
		dst *int
	}{
		{"DB_MAX_OPEN_CONNS", "1", &cfg.MaxOpenConns},
		{"DB_MAX_IDLE_CONNS", "1", &cfg.MaxIdleConns},
		{"UPSTREAM_MAX_ATTEMPTS", "3", &cfg.MaxAttempts},
	}
	for _, f := range ints {
		s := env(f.key, f.def)
		v, err := strconv.Atoi(s)
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s %q: %w", f.key, s, err)
		}
		*f.dst = v
	}
	if cfg.MaxAttempts < 1 {
		return Config{}, fmt.Errorf("invalid UPSTREAM_MAX_ATTEMPTS %d: must be at least 1", cfg.MaxAttempts)
	}

	durations := []struct {
		key string
		def string
		dst *time.Duration
	}{
		{"DB_CONN_MAX_LIFETIME", "0s", &cfg.ConnMaxLifetime},
		{"CACHE_OP_TIMEOUT", "250ms", &cfg.CacheOpTimeout},
		{"CACHE_STATIONS_TTL", "10m", &cfg.StationsCacheTTL},
		{"CACHE_TEMPERATURES_TTL", "1h", &cfg.TemperatureCacheTTL},
		{"UPSTREAM_TIMEOUT", "120s", &cfg.UpstreamTimeout},
		{"UPSTREAM_BACKOFF_INITIAL", "500ms", &cfg.InitialBackoff},
		{"UPSTREAM_BACKOFF_MAX", "5s", &cfg.MaxBackoff},
		{"DIRECTORY_REFRESH_INTERVAL", "0s", &cfg.RefreshInterval},
	}
	for _, f := range durations {
		s := env(f.key, f.def)
		v, err := time.ParseDuration(s)
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s %q: %w", f.key, s, err)
		}
		if v < 0 {
			return Config{}, fmt.Errorf("invalid %s %q: must not be negative", f.key, s)
		}
		*f.dst = v
	}

	bools := []struct {
		key string
		def string
		dst *bool
	}{
		{"DB_LOG_SQL", "false", &cfg.LogSQL},
		{"DIRECTORY_IMPORT_ON_START", "true", &cfg.ImportOnStart},
	}
	for _, f := range bools {
		s := env(f.key, f.def)
		v, err := strconv.ParseBool(s)
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s %q: %w", f.key, s, err)
		}
		*f.dst = v
	}

	return cfg, nil
}

// env returns the trimmed value of key, or def when unset or blank.
func env(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}

func parseLogLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("invalid LOG_LEVEL %q (allowed: debug, info, warn, error)", s)
	}
}
