package datastore

import (
	"fmt"
	"os"
	"path/filepath"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/tphakala/imaging-churn/internal/conf"
	"github.com/tphakala/imaging-churn/internal/logger"
)

// MemoryPath opens a private in-memory database.
const MemoryPath = ":memory:"

// SQLiteStore implements Interface for SQLite.
type SQLiteStore struct {
	DataStore
	Settings conf.SQLiteSettings
	Debug    bool
}

// Open creates the database file if needed and migrates the schema.
func (store *SQLiteStore) Open() error {
	path := store.Settings.Path
	if path == "" {
		return fmt.Errorf("sqlite path is empty")
	}
	if path != MemoryPath {
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return dbError(fmt.Errorf("creating database directory: %w", err), "open")
			}
		}
	}

	db, err := gorm.Open(sqlite.Open(path+"?_busy_timeout=5000"), newGormConfig())
	if err != nil {
		return dbError(fmt.Errorf("failed to open SQLite database: %w", err), "open")
	}

	// one connection keeps in-memory databases shared and serializes writers
	sqlDB, err := db.DB()
	if err != nil {
		return dbError(err, "open")
	}
	sqlDB.SetMaxOpenConns(1)

	store.DB = db
	if err := performAutoMigration(db, store.Debug, "SQLite", path); err != nil {
		return err
	}
	GetLogger().Info("SQLite datastore opened", logger.String("path", path))
	return nil
}

// Close closes the database.
func (store *SQLiteStore) Close() error {
	return closeDB(store.DB)
}
