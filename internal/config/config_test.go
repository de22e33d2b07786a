package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()

	if cfg.Addr != ":8080" {
		t.Errorf("Expected :8080, got %s", cfg.Addr)
	}
	if cfg.SnapshotInterval != 5*time.Minute {
		t.Errorf("Expected 5m snapshot interval, got %v", cfg.SnapshotInterval)
	}
	if cfg.CleanupGrace != time.Minute {
		t.Errorf("Expected 1m cleanup grace, got %v", cfg.CleanupGrace)
	}
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("MOSAIC_ADDR", ":9999")
	t.Setenv("MOSAIC_SNAPSHOT_INTERVAL", "30s")
	t.Setenv("MOSAIC_SWEEP_INTERVAL", "garbage")

	cfg := Load()

	if cfg.Addr != ":9999" {
		t.Errorf("Expected :9999, got %s", cfg.Addr)
	}
	if cfg.SnapshotInterval != 30*time.Second {
		t.Errorf("Expected 30s, got %v", cfg.SnapshotInterval)
	}
	// Unparseable durations fall back to the default.
	if cfg.SweepInterval != time.Minute {
		t.Errorf("Expected 1m fallback, got %v", cfg.SweepInterval)
	}
}
