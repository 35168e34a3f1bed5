// Package database stores session events in SQLite for reporting.
package database

import (
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/remtrack/remtrack/internal/models"
)

const (
	defaultDBName = "remtrack.db"
	defaultDBDir  = ".config/remtrack"

	// The daemon writes while the report command reads; WAL plus a
	// busy timeout keeps the two from tripping over each other.
	dsnOptions = "?_journal_mode=WAL&_busy_timeout=5000"
)

// DB wraps the gorm connection.
type DB struct {
	*gorm.DB
}

// GetDefaultDBPath returns ~/.config/remtrack/remtrack.db, creating
// the directory when needed.
func GetDefaultDBPath() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", errors.Wrap(err, "failed to get home directory")
	}

	dbDir := filepath.Join(homeDir, defaultDBDir)
	if err := os.MkdirAll(dbDir, 0755); err != nil {
		return "", errors.Wrap(err, "failed to create database directory")
	}

	return filepath.Join(dbDir, defaultDBName), nil
}

// Connect opens the SQLite database at dbPath, or at the default
// location when dbPath is empty.
func Connect(dbPath string) (*DB, error) {
	if dbPath == "" {
		var err error
		dbPath, err = GetDefaultDBPath()
		if err != nil {
			return nil, err
		}
	}

	db, err := gorm.Open(sqlite.Open(dbPath+dsnOptions), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open database %s", dbPath)
	}

	return &DB{db}, nil
}

// Initialize migrates the event schema.
func (db *DB) Initialize() error {
	if err := db.AutoMigrate(&models.SessionEvent{}, &models.ErrorLog{}); err != nil {
		return errors.Wrap(err, "failed to initialize database schema")
	}
	return nil
}

func (db *DB) Close() error {
	sqlDB, err := db.DB.DB()
	if err != nil {
		return errors.Wrap(err, "failed to get underlying sql.DB")
	}
	return sqlDB.Close()
}
