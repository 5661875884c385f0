package models

import (
	"time"

	"gorm.io/datatypes"
)

// SyncState is the per-scope bookkeeping row: one per collection plus one
// for the GreenMile route sync.
type SyncState struct {
	Scope string `gorm:"primaryKey;type:text;comment:collection or job name"`
	// Cursor holds the watermark as unix milliseconds text.
	Cursor          *string        `gorm:"type:text;comment:watermark (unix ms)"`
	WatermarkTS     *time.Time     `gorm:"type:timestamptz;comment:watermark as timestamp"`
	LastSuccessAt   *time.Time     `gorm:"type:timestamptz;comment:last successful cycle"`
	LastAttemptAt   *time.Time     `gorm:"type:timestamptz;comment:last attempted cycle"`
	LastReconcileAt *time.Time     `gorm:"type:timestamptz;comment:last executed trustworthy reconcile"`
	LastError       *string        `gorm:"type:text;comment:last error message"`
	StatsJSON       datatypes.JSON `gorm:"type:jsonb;comment:last cycle stats"`
}

func (SyncState) TableName() string {
	return "sync_state"
}
