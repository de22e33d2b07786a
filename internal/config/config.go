package config

import (
	"os"
	"time"
)

// Config holds all server configuration, loaded from environment variables.
type Config struct {
	// Server
	Addr string

	// Persistence
	DBPath           string
	SnapshotInterval time.Duration

	// Session registry
	SweepInterval time.Duration
	CleanupGrace  time.Duration

	// Auth
	RedisAddr string
	// DevTokens maps fixed tokens to identities for local development,
	// bypassing the session store. Format:
	// "token:userId:name[,token:userId:name...]".
	DevTokens string
}

func Load() *Config {
	return &Config{
		Addr:             getEnv("MOSAIC_ADDR", ":8080"),
		DBPath:           getEnv("MOSAIC_DB_PATH", "./data/mosaic.db"),
		SnapshotInterval: getEnvDuration("MOSAIC_SNAPSHOT_INTERVAL", 5*time.Minute),
		SweepInterval:    getEnvDuration("MOSAIC_SWEEP_INTERVAL", time.Minute),
		CleanupGrace:     getEnvDuration("MOSAIC_CLEANUP_GRACE", time.Minute),
		RedisAddr:        getEnv("MOSAIC_REDIS_ADDR", "localhost:6379"),
		DevTokens:        getEnv("MOSAIC_DEV_TOKENS", ""),
	}
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return d
}
