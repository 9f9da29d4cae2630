package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	goredis "github.com/redis/go-redis/v9"

	"github.com/partsbay/sessiond/internal/adapter/outbound/memory"
	"github.com/partsbay/sessiond/internal/adapter/outbound/redis"
	"github.com/partsbay/sessiond/internal/adapter/outbound/sqlite"
	"github.com/partsbay/sessiond/internal/config"
	"github.com/partsbay/sessiond/internal/domain/session"
)

// buildStore constructs the configured session store backend. The
// returned closer releases backend resources; callers must invoke it
// on shutdown.
func buildStore(cfg *config.Config, logger *slog.Logger) (session.Store, func() error, error) {
	switch cfg.Store.Backend {
	case "memory":
		return memory.NewSessionStore(), func() error { return nil }, nil

	case "redis":
		client := goredis.NewClient(&goredis.Options{
			Addr:     cfg.Store.Redis.Addr,
			Password: cfg.Store.Redis.Password,
			DB:       cfg.Store.Redis.DB,
		})
		store := redis.NewSessionStore(client, logger)
		return store, client.Close, nil

	case "sqlite":
		path := cfg.Store.SQLite.Path
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0o700); err != nil {
				return nil, nil, fmt.Errorf("create sqlite directory: %w", err)
			}
		}
		store, err := sqlite.NewSessionStore(path, logger,
			sqlite.WithPollInterval(cfg.SQLitePollDuration()))
		if err != nil {
			return nil, nil, err
		}
		return store, store.Close, nil

	default:
		return nil, nil, fmt.Errorf("unknown store backend: %q", cfg.Store.Backend)
	}
}

// parseLogLevel converts a string log level to slog.Level.
// Returns slog.LevelInfo for unrecognized values.
func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// newLogger builds the process logger. Output goes to stderr so stdout
// stays clean for command output.
func newLogger(cfg *config.Config) *slog.Logger {
	logLevel := parseLogLevel(cfg.Server.LogLevel)
	if cfg.DevMode {
		logLevel = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel,
	}))
}
