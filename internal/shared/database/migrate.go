package database

import (
	"fmt"

	"gorm.io/gorm"
)

// Migrate creates or updates the tables of models, then applies the
// constraints gorm tags cannot express.
func Migrate(db *gorm.DB, models ...interface{}) error {
	if len(models) == 0 {
		return nil
	}
	if err := db.AutoMigrate(models...); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	return MigrateConstraints(db)
}
