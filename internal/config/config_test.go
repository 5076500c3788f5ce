package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()
	if cfg.Addr != ":8000" {
		t.Errorf("Addr = %q, want :8000", cfg.Addr)
	}
	if cfg.BroadcastInterval != time.Second {
		t.Errorf("BroadcastInterval = %v, want 1s", cfg.BroadcastInterval)
	}
	if cfg.StepCount != 5 {
		t.Errorf("StepCount = %d, want 5", cfg.StepCount)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("TASKBRIDGE_ADDR", ":9999")
	t.Setenv("TASKBRIDGE_LOG_LEVEL", "debug")
	t.Setenv("TASKBRIDGE_STEP_DELAY", "50ms")

	cfg := Load()
	if cfg.Addr != ":9999" {
		t.Errorf("Addr = %q, want :9999", cfg.Addr)
	}
	if cfg.LogLevel != slog.LevelDebug {
		t.Errorf("LogLevel = %v, want debug", cfg.LogLevel)
	}
	if cfg.StepDelay != 50*time.Millisecond {
		t.Errorf("StepDelay = %v, want 50ms", cfg.StepDelay)
	}
}

func TestLoadFileOverlay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "taskbridge.yaml")
	content := "addr: \":7777\"\nlog_level: warn\nbroadcast_interval: 250ms\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg := Load()
	if err := LoadFile(path, &cfg); err != nil {
		t.Fatal(err)
	}
	if cfg.Addr != ":7777" {
		t.Errorf("Addr = %q, want :7777", cfg.Addr)
	}
	if cfg.LogLevel != slog.LevelWarn {
		t.Errorf("LogLevel = %v, want warn", cfg.LogLevel)
	}
	if cfg.BroadcastInterval != 250*time.Millisecond {
		t.Errorf("BroadcastInterval = %v, want 250ms", cfg.BroadcastInterval)
	}
	// Fields absent from the file keep their loaded values.
	if cfg.DBPath != "taskbridge.db" {
		t.Errorf("DBPath = %q, want taskbridge.db", cfg.DBPath)
	}
}

func TestLoadFileMissing(t *testing.T) {
	cfg := Load()
	if err := LoadFile(filepath.Join(t.TempDir(), "nope.yaml"), &cfg); err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"DEBUG", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"Warn", slog.LevelWarn},
		{"WARNING", slog.LevelWarn},
		{"error", slog.LevelError},
		{"bogus", slog.LevelInfo},
	}
	for _, tt := range tests {
		if got := parseLogLevel(tt.in); got != tt.want {
			t.Errorf("parseLogLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
