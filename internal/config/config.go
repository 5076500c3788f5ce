// Package config loads TaskBridge configuration from the environment and an
// optional YAML file.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all server configuration values.
type Config struct {
	Addr       string
	DBPath     string
	StagingDir string
	ResultsDir string

	// Logging
	LogFile  string
	LogLevel slog.Level

	// Broadcaster tick cadence.
	BroadcastInterval time.Duration

	// Simulated processing shape.
	StepCount int
	StepDelay time.Duration
}

// Load reads configuration from environment variables with defaults matching
// the reference deployment.
func Load() Config {
	return Config{
		Addr:              getEnv("TASKBRIDGE_ADDR", ":8000"),
		DBPath:            getEnv("TASKBRIDGE_DB_PATH", "taskbridge.db"),
		StagingDir:        getEnv("TASKBRIDGE_STAGING_DIR", "uploads"),
		ResultsDir:        getEnv("TASKBRIDGE_RESULTS_DIR", "results"),
		LogFile:           getEnv("TASKBRIDGE_LOG_FILE", ""),
		LogLevel:          parseLogLevel(getEnv("TASKBRIDGE_LOG_LEVEL", "INFO")),
		BroadcastInterval: getDuration("TASKBRIDGE_BROADCAST_INTERVAL", time.Second),
		StepCount:         5,
		StepDelay:         getDuration("TASKBRIDGE_STEP_DELAY", 2*time.Second),
	}
}

// fileConfig mirrors Config with YAML-friendly field types. Durations are
// strings in time.ParseDuration format.
type fileConfig struct {
	Addr              string `yaml:"addr"`
	DBPath            string `yaml:"db_path"`
	StagingDir        string `yaml:"staging_dir"`
	ResultsDir        string `yaml:"results_dir"`
	LogFile           string `yaml:"log_file"`
	LogLevel          string `yaml:"log_level"`
	BroadcastInterval string `yaml:"broadcast_interval"`
	StepCount         int    `yaml:"step_count"`
	StepDelay         string `yaml:"step_delay"`
}

// LoadFile overlays values from a YAML file onto cfg. Fields absent from the
// file keep their current values.
func LoadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("parse config file: %w", err)
	}

	if fc.Addr != "" {
		cfg.Addr = fc.Addr
	}
	if fc.DBPath != "" {
		cfg.DBPath = fc.DBPath
	}
	if fc.StagingDir != "" {
		cfg.StagingDir = fc.StagingDir
	}
	if fc.ResultsDir != "" {
		cfg.ResultsDir = fc.ResultsDir
	}
	if fc.LogFile != "" {
		cfg.LogFile = fc.LogFile
	}
	if fc.LogLevel != "" {
		cfg.LogLevel = parseLogLevel(fc.LogLevel)
	}
	if fc.BroadcastInterval != "" {
		d, err := time.ParseDuration(fc.BroadcastInterval)
		if err != nil {
			return fmt.Errorf("parse broadcast_interval: %w", err)
		}
		cfg.BroadcastInterval = d
	}
	if fc.StepCount > 0 {
		cfg.StepCount = fc.StepCount
	}
	if fc.StepDelay != "" {
		d, err := time.ParseDuration(fc.StepDelay)
		if err != nil {
			return fmt.Errorf("parse step_delay: %w", err)
		}
		cfg.StepDelay = d
	}
	return nil
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return defaultVal
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToUpper(s) {
	case "DEBUG":
		return slog.LevelDebug
	case "INFO":
		return slog.LevelInfo
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
