package models

import (
	"time"

	"gorm.io/datatypes"
)

// CollectionHeader is the ordered column list of a collection. Columns only
// ever grow.
type CollectionHeader struct {
	Collection string         `gorm:"primaryKey;type:varchar(64)"`
	Columns    datatypes.JSON `gorm:"type:jsonb;not null"`
	UpdatedAt  time.Time      `gorm:"type:timestamptz;autoUpdateTime"`
}

func (CollectionHeader) TableName() string {
	return "collection_headers"
}

// CollectionRow is one persisted record. RecordID may be empty for rows
// written by hand into the store; those rows are counted but never parsed
// into records.
type CollectionRow struct {
	ID         uint64         `gorm:"primaryKey;autoIncrement"`
	Collection string         `gorm:"type:varchar(64);not null;index:idx_collection_rows_position,priority:1"`
	RecordID   string         `gorm:"type:varchar(128);not null;default:'';index"`
	Position   int            `gorm:"not null;index:idx_collection_rows_position,priority:2"`
	Data       datatypes.JSON `gorm:"type:jsonb;not null"`
	UpdatedAt  time.Time      `gorm:"type:timestamptz;autoUpdateTime"`
}

func (CollectionRow) TableName() string {
	return "collection_rows"
}
