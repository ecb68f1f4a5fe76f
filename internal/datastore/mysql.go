package datastore

import (
	"fmt"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"

	"github.com/tphakala/imaging-churn/internal/conf"
	"github.com/tphakala/imaging-churn/internal/logger"
)

// MySQLStore implements Interface for MySQL.
type MySQLStore struct {
	DataStore
	Settings conf.MySQLSettings
	Debug    bool
}

func (store *MySQLStore) dsn() string {
	s := store.Settings
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=UTC",
		s.Username, s.Password, s.Host, s.Port, s.Database)
}

// Open connects and migrates the schema.
func (store *MySQLStore) Open() error {
	db, err := gorm.Open(mysql.Open(store.dsn()), newGormConfig())
	if err != nil {
		GetLogger().Error("Failed to open MySQL database",
			logger.String("host", store.Settings.Host),
			logger.Int("port", store.Settings.Port),
			logger.String("database", store.Settings.Database),
			logger.Error(err))
		return dbError(fmt.Errorf("failed to open MySQL database: %w", err), "open")
	}

	store.DB = db
	info := fmt.Sprintf("%s:%d/%s", store.Settings.Host, store.Settings.Port, store.Settings.Database)
	return performAutoMigration(db, store.Debug, "MySQL", info)
}

// Close closes the connection pool.
func (store *MySQLStore) Close() error {
	if err := closeDB(store.DB); err != nil {
		return err
	}
	if store.Debug {
		GetLogger().Debug("MySQL database connection closed")
	}
	return nil
}
