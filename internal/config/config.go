// Package config loads the server configuration from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config is the server configuration.
type Config struct {
	// HTTPAddr is the listen address for both surfaces.
	HTTPAddr string

	// MongoURI selects the durable store. Empty means in-memory stores,
	// for development and tests.
	MongoURI      string
	MongoDatabase string

	// RedisAddr enables the cross-node relay. Empty keeps the relay local
	// to the process.
	RedisAddr     string
	RedisPassword string

	LogLevel string

	// HistoryWindow caps the retained in-memory operation log.
	HistoryWindow int64

	// HubQueueSize bounds each hub's inbound queue.
	HubQueueSize int

	// SessionQueueSize bounds each session's outbound queue.
	SessionQueueSize int

	// HubIdleGrace is how long an empty hub lingers before termination.
	HubIdleGrace time.Duration

	// SessionIdleTimeout is how long a silent session survives the sweeper.
	SessionIdleTimeout time.Duration

	// SubmitTimeout is the per-request deadline on the hub queue.
	SubmitTimeout time.Duration

	// CompactionInterval schedules durable log compaction.
	CompactionInterval time.Duration
}

// Load reads .env (when present) and the environment.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		HTTPAddr:           getEnv("HTTP_ADDR", ":8080"),
		MongoURI:           getEnv("MONGO_URI", ""),
		MongoDatabase:      getEnv("MONGO_DATABASE", "collabtext"),
		RedisAddr:          getEnv("REDIS_ADDR", ""),
		RedisPassword:      getEnv("REDIS_PASSWORD", ""),
		LogLevel:           getEnv("LOG_LEVEL", "info"),
		HistoryWindow:      1000,
		HubQueueSize:       1024,
		SessionQueueSize:   64,
		HubIdleGrace:       30 * time.Second,
		SessionIdleTimeout: 30 * time.Minute,
		SubmitTimeout:      5 * time.Second,
		CompactionInterval: 10 * time.Minute,
	}

	var err error
	if cfg.HistoryWindow, err = getInt64("HISTORY_WINDOW", cfg.HistoryWindow); err != nil {
		return nil, err
	}
	if cfg.HubQueueSize, err = getInt("HUB_QUEUE_SIZE", cfg.HubQueueSize); err != nil {
		return nil, err
	}
	if cfg.SessionQueueSize, err = getInt("SESSION_QUEUE_SIZE", cfg.SessionQueueSize); err != nil {
		return nil, err
	}
	if cfg.HubIdleGrace, err = getDuration("HUB_IDLE_GRACE", cfg.HubIdleGrace); err != nil {
		return nil, err
	}
	if cfg.SessionIdleTimeout, err = getDuration("SESSION_IDLE_TIMEOUT", cfg.SessionIdleTimeout); err != nil {
		return nil, err
	}
	if cfg.SubmitTimeout, err = getDuration("SUBMIT_TIMEOUT", cfg.SubmitTimeout); err != nil {
		return nil, err
	}
	if cfg.CompactionInterval, err = getDuration("COMPACTION_INTERVAL", cfg.CompactionInterval); err != nil {
		return nil, err
	}
	return cfg, nil
}

// NewLogger builds a zap logger at the configured level.
func (c *Config) NewLogger() (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(c.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("invalid LOG_LEVEL %q: %w", c.LogLevel, err)
	}
	zc := zap.NewProductionConfig()
	zc.Level = zap.NewAtomicLevelAt(level)
	return zc.Build()
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, v, err)
	}
	return n, nil
}

func getInt64(key string, fallback int64) (int64, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, v, err)
	}
	return n, nil
}

func getDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, v, err)
	}
	return d, nil
}
