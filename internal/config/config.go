package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Config holds all daemon configuration
type Config struct {
	// Log is the CSV session log configuration
	Log LogConfig

	// Database configuration
	Database DatabaseConfig

	// Monitor configuration
	Monitor MonitorConfig

	// Daemon configuration
	Daemon DaemonConfig

	// Profiles configuration
	Profiles ProfilesConfig
}

// LogConfig holds the CSV session log settings
type LogConfig struct {
	CSVPath   string        // Path to the CSV session log
	Retention time.Duration // Rows older than this are pruned at startup
}

// DatabaseConfig holds database-related configuration
type DatabaseConfig struct {
	Path string // Path to SQLite database file; empty means the default
}

// MonitorConfig holds session monitoring behavior
type MonitorConfig struct {
	ScanInterval        time.Duration // How often to scan for connections
	IdleCheckInterval   time.Duration // How often to evaluate the idle policy
	IdleThreshold       time.Duration // Inactivity before sessions are ended
	IdleEnabled         bool          // Idle detection and auto-disconnect on/off
	ProfileRefreshCycle time.Duration // How often Remmina profiles are re-read
}

// DaemonConfig holds daemon process configuration
type DaemonConfig struct {
	PIDFile string // Path to PID file for daemon management
	LogFile string // Daemon log destination; empty means stderr
}

// ProfilesConfig holds Remmina profile lookup configuration
type ProfilesConfig struct {
	Dir string // Profile directory; empty means ~/.local/share/remmina
}

// Default returns a Config with sensible default values
func Default() *Config {
	csvPath := "remtrack_sessions.csv"
	if homeDir, err := os.UserHomeDir(); err == nil {
		csvPath = filepath.Join(homeDir, "Documents", "remtrack_sessions.csv")
	}

	return &Config{
		Log: LogConfig{
			CSVPath:   csvPath,
			Retention: 180 * 24 * time.Hour,
		},
		Database: DatabaseConfig{
			Path: "", // Empty means use default ~/.config/remtrack/remtrack.db
		},
		Monitor: MonitorConfig{
			ScanInterval:        5 * time.Second,
			IdleCheckInterval:   30 * time.Second,
			IdleThreshold:       10 * time.Minute,
			IdleEnabled:         true,
			ProfileRefreshCycle: 60 * time.Second,
		},
		Daemon: DaemonConfig{
			PIDFile: fmt.Sprintf("/tmp/remtrack-%d.pid", os.Getuid()),
			LogFile: "/tmp/remtrack.log",
		},
		Profiles: ProfilesConfig{
			Dir: "", // Empty means the standard Remmina data directory
		},
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Log.CSVPath == "" {
		return fmt.Errorf("csv log path cannot be empty")
	}

	if c.Log.Retention < 0 {
		return fmt.Errorf("log retention cannot be negative")
	}

	if c.Monitor.ScanInterval < time.Second {
		return fmt.Errorf("scan interval (%v) cannot be less than 1s", c.Monitor.ScanInterval)
	}

	if c.Monitor.IdleCheckInterval < c.Monitor.ScanInterval {
		return fmt.Errorf("idle check interval (%v) cannot be less than the scan interval (%v)",
			c.Monitor.IdleCheckInterval, c.Monitor.ScanInterval)
	}

	if c.Monitor.IdleThreshold <= 0 {
		return fmt.Errorf("idle threshold must be positive")
	}

	if c.Daemon.PIDFile == "" {
		return fmt.Errorf("PID file path cannot be empty")
	}

	return nil
}

// SetIdleThresholdMinutes sets the idle threshold from whole minutes
// with validation.
func (c *Config) SetIdleThresholdMinutes(minutes int) error {
	if minutes <= 0 {
		return fmt.Errorf("idle threshold must be at least 1 minute, got %d", minutes)
	}
	c.Monitor.IdleThreshold = time.Duration(minutes) * time.Minute
	return nil
}

// String returns a string representation of the config
func (c *Config) String() string {
	return fmt.Sprintf(`Configuration:
  Log:
    CSV Path: %s
    Retention: %v
  Database:
    Path: %s
  Monitor:
    Scan Interval: %v
    Idle Check Interval: %v
    Idle Threshold: %v
    Idle Enabled: %v
    Profile Refresh: %v
  Daemon:
    PID File: %s
    Log File: %s
  Profiles:
    Dir: %s`,
		c.Log.CSVPath,
		c.Log.Retention,
		c.Database.Path,
		c.Monitor.ScanInterval,
		c.Monitor.IdleCheckInterval,
		c.Monitor.IdleThreshold,
		c.Monitor.IdleEnabled,
		c.Monitor.ProfileRefreshCycle,
		c.Daemon.PIDFile,
		c.Daemon.LogFile,
		c.Profiles.Dir,
	)
}
