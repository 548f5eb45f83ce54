package database

import (
	"errors"
	"time"

	"github.com/lhwebs/bridged/internal/tracking"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const migrationBackfillBehaviorPhase = "2026-08-12_backfill_error_report_phase"

type migrationRecord struct {
	Name             string `gorm:"column:name;primaryKey;size:190;not null"`
	AppliedAtSeconds int64  `gorm:"column:applied_at_s;not null"`
}

func (migrationRecord) TableName() string {
	return "db_migrations"
}

type migrationDefinition struct {
	name  string
	apply func(*gorm.DB) error
}

func applyMigrations(db *gorm.DB, logger *zap.Logger) error {
	migrations := []migrationDefinition{
		{name: migrationBackfillBehaviorPhase, apply: backfillErrorReportPhase},
	}

	for _, migration := range migrations {
		var record migrationRecord
		err := db.Where("name = ?", migration.name).Take(&record).Error
		if err == nil {
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		if err := migration.apply(db); err != nil {
			return err
		}
		appliedAt := time.Now().UTC().Unix()
		if err := db.Create(&migrationRecord{Name: migration.name, AppliedAtSeconds: appliedAt}).Error; err != nil {
			return err
		}
		if logger != nil {
			logger.Info("database migration applied", zap.String("migration", migration.name))
		}
	}
	return nil
}

// Early deployments inserted error reports with an empty phase; the readers
// group by phase, so normalize those rows to the "unknown" bucket.
func backfillErrorReportPhase(db *gorm.DB) error {
	return db.Model(&tracking.ErrorReport{}).
		Where("phase = ''").
		Update("phase", "unknown").Error
}
