package database

import (
	"fmt"

	sqlite "github.com/glebarez/sqlite"
	"github.com/lhwebs/bridged/internal/tracking"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// OpenSQLite establishes the telemetry event store and performs schema
// migrations. The store mirrors events that also land in the flat behavior
// log; the routing core never touches it.
func OpenSQLite(path string, logger *zap.Logger) (*gorm.DB, error) {
	if path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{})
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(&tracking.BehaviorEvent{}, &tracking.ErrorReport{}, &migrationRecord{}); err != nil {
		return nil, err
	}

	if err := applyMigrations(db, logger); err != nil {
		return nil, err
	}

	if logger != nil {
		logger.Info("telemetry store initialized", zap.String("path", path))
	}

	return db, nil
}
