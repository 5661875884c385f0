package db

import (
	"fleetsync/internal/models"
)

func AutoMigrate(db *DB) error {
	if db == nil || db.Gorm == nil || db.SQL == nil {
		return nil
	}

	return db.Gorm.AutoMigrate(
		&models.SyncState{},
		&models.CollectionHeader{},
		&models.CollectionRow{},
		&models.Occurrence{},
		&models.SystemSetting{},
	)
}
