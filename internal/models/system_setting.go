package models

import (
	"time"

	"gorm.io/datatypes"
)

// SystemSetting is an operator-controlled key. Feature switches hold a JSON
// boolean under a "feature." key.
type SystemSetting struct {
	ID    uint64         `gorm:"primaryKey;autoIncrement"`
	Key   string         `gorm:"type:varchar(120);not null;uniqueIndex"`
	Value datatypes.JSON `gorm:"type:jsonb;not null"`

	Description string `gorm:"type:text"`
	// UpdatedBy is "default" for seeded rows, otherwise the api caller.
	UpdatedBy string    `gorm:"type:varchar(120)"`
	CreatedAt time.Time `gorm:"type:timestamptz;autoCreateTime"`
	UpdatedAt time.Time `gorm:"type:timestamptz;autoUpdateTime;index"`
}

func (SystemSetting) TableName() string {
	return "system_settings"
}
