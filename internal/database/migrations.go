package database

import (
	"encoding/json"
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/MarcoPoloResearchLab/tabsplit/internal/bill"
	"github.com/MarcoPoloResearchLab/tabsplit/internal/sessions"
)

const migrationNormalizeLegacyAssignments = "2026-10-01_normalize_legacy_assignments"

type migrationRecord struct {
	Name             string `gorm:"column:name;primaryKey;size:190;not null"`
	AppliedAtSeconds int64  `gorm:"column:applied_at_s;not null"`
}

func (migrationRecord) TableName() string {
	return "db_migrations"
}

type migrationDefinition struct {
	name  string
	apply func(*gorm.DB, *zap.Logger) error
}

func applyMigrations(db *gorm.DB, logger *zap.Logger) error {
	migrations := []migrationDefinition{
		{name: migrationNormalizeLegacyAssignments, apply: normalizeLegacyAssignments},
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
		if err := migration.apply(db, logger); err != nil {
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

// normalizeLegacyAssignments rewrites stored items into the per-unit
// assignment shape. Documents whose items cannot be decoded are left alone.
func normalizeLegacyAssignments(db *gorm.DB, logger *zap.Logger) error {
	var documents []sessions.Document
	if err := db.Select("session_id", "items_json").Find(&documents).Error; err != nil {
		return err
	}

	for _, document := range documents {
		items, err := bill.DecodeItems([]byte(document.ItemsJSON))
		if err != nil {
			if logger != nil {
				logger.Warn("skipping undecodable session items",
					zap.String("session_id", document.SessionID),
					zap.Error(err))
			}
			continue
		}
		normalized, err := json.Marshal(items)
		if err != nil {
			return err
		}
		if string(normalized) == document.ItemsJSON {
			continue
		}
		if err := db.Model(&sessions.Document{}).
			Where("session_id = ?", document.SessionID).
			Update("items_json", string(normalized)).Error; err != nil {
			return err
		}
	}
	return nil
}
