package db

import (
	"fmt"

	"gorm.io/gorm"

	"github.com/zulandar/empatia/internal/models"
)

// AllModels returns the ledger models for migration.
func AllModels() []interface{} {
	return []interface{}{
		&models.PipelineRun{},
		&models.DateRun{},
	}
}

// AutoMigrate creates or updates the ledger tables.
func AutoMigrate(db *gorm.DB) error {
	if err := db.AutoMigrate(AllModels()...); err != nil {
		return fmt.Errorf("db: auto-migrate: %w", err)
	}
	return nil
}
