package database

import (
	"errors"
	"time"

	"github.com/MarcoPoloResearchLab/margin/backend/internal/annotations"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const migrationNormalizeAnnotationTypes = "2026-09-14_normalize_annotation_types"

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
		{name: migrationNormalizeAnnotationTypes, apply: normalizeAnnotationTypes},
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
		err = db.Transaction(func(tx *gorm.DB) error {
			if err := migration.apply(tx); err != nil {
				return err
			}
			appliedAt := time.Now().UTC().Unix()
			return tx.Create(&migrationRecord{Name: migration.name, AppliedAtSeconds: appliedAt}).Error
		})
		if err != nil {
			return err
		}
		if logger != nil {
			logger.Info("database migration applied", zap.String("migration", migration.name))
		}
	}
	return nil
}

// normalizeAnnotationTypes lower-cases and trims type values written by older clients.
func normalizeAnnotationTypes(db *gorm.DB) error {
	return db.Model(&annotations.Annotation{}).
		Where("type <> LOWER(TRIM(type))").
		Update("type", gorm.Expr("LOWER(TRIM(type))")).Error
}
