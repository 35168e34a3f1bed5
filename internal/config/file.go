package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// fileConfig mirrors the YAML config file layout. Every field is
// optional; unset fields keep their current values.
type fileConfig struct {
	CSVPath       string `yaml:"csv_path"`
	RetentionDays *int   `yaml:"retention_days"`
	DatabasePath  string `yaml:"database_path"`

	ScanIntervalSeconds  *int  `yaml:"scan_interval_seconds"`
	IdleThresholdMinutes *int  `yaml:"idle_threshold_minutes"`
	IdleEnabled          *bool `yaml:"idle_enabled"`

	PIDFile    string `yaml:"pid_file"`
	LogFile    string `yaml:"log_file"`
	ProfileDir string `yaml:"profile_dir"`
}

// LoadFile overlays settings from a YAML config file onto cfg.
func LoadFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	if fc.CSVPath != "" {
		cfg.Log.CSVPath = fc.CSVPath
	}
	if fc.RetentionDays != nil && *fc.RetentionDays >= 0 {
		cfg.Log.Retention = time.Duration(*fc.RetentionDays) * 24 * time.Hour
	}
	if fc.DatabasePath != "" {
		cfg.Database.Path = fc.DatabasePath
	}
	if fc.ScanIntervalSeconds != nil && *fc.ScanIntervalSeconds > 0 {
		cfg.Monitor.ScanInterval = time.Duration(*fc.ScanIntervalSeconds) * time.Second
	}
	if fc.IdleThresholdMinutes != nil && *fc.IdleThresholdMinutes > 0 {
		cfg.Monitor.IdleThreshold = time.Duration(*fc.IdleThresholdMinutes) * time.Minute
	}
	if fc.IdleEnabled != nil {
		cfg.Monitor.IdleEnabled = *fc.IdleEnabled
	}
	if fc.PIDFile != "" {
		cfg.Daemon.PIDFile = fc.PIDFile
	}
	if fc.LogFile != "" {
		cfg.Daemon.LogFile = fc.LogFile
	}
	if fc.ProfileDir != "" {
		cfg.Profiles.Dir = fc.ProfileDir
	}

	return nil
}
