package config

import (
	"os"
	"strconv"
	"time"
)

// LoadFromEnv loads configuration from environment variables
// Environment variables override default and file values
func LoadFromEnv(cfg *Config) {
	if csvPath := os.Getenv("REMTRACK_CSV_PATH"); csvPath != "" {
		cfg.Log.CSVPath = csvPath
	}

	if retention := os.Getenv("REMTRACK_RETENTION_DAYS"); retention != "" {
		if days, err := strconv.Atoi(retention); err == nil && days >= 0 {
			cfg.Log.Retention = time.Duration(days) * 24 * time.Hour
		}
	}

	if dbPath := os.Getenv("REMTRACK_DB_PATH"); dbPath != "" {
		cfg.Database.Path = dbPath
	}

	if scanInterval := os.Getenv("REMTRACK_SCAN_INTERVAL"); scanInterval != "" {
		if seconds, err := strconv.Atoi(scanInterval); err == nil && seconds > 0 {
			cfg.Monitor.ScanInterval = time.Duration(seconds) * time.Second
		}
	}

	if idleThreshold := os.Getenv("REMTRACK_IDLE_THRESHOLD"); idleThreshold != "" {
		if minutes, err := strconv.Atoi(idleThreshold); err == nil && minutes > 0 {
			cfg.Monitor.IdleThreshold = time.Duration(minutes) * time.Minute
		}
	}

	if disableIdle := os.Getenv("REMTRACK_DISABLE_IDLE"); disableIdle != "" {
		if val, err := strconv.ParseBool(disableIdle); err == nil {
			cfg.Monitor.IdleEnabled = !val
		}
	}

	if pidFile := os.Getenv("REMTRACK_PID_FILE"); pidFile != "" {
		cfg.Daemon.PIDFile = pidFile
	}

	if logFile := os.Getenv("REMTRACK_LOG_FILE"); logFile != "" {
		cfg.Daemon.LogFile = logFile
	}

	if profileDir := os.Getenv("REMTRACK_PROFILE_DIR"); profileDir != "" {
		cfg.Profiles.Dir = profileDir
	}
}

// New creates a new Config with default values and loads from environment
func New() *Config {
	cfg := Default()
	LoadFromEnv(cfg)
	return cfg
}
