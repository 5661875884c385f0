package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Occurrence is a delivery incident logged by operations.
type Occurrence struct {
	ID          string           `gorm:"primaryKey;type:uuid" json:"id"`
	OccurredAt  time.Time        `gorm:"type:timestamptz;not null;index" json:"occurred_at"`
	Driver      string           `gorm:"type:text" json:"driver"`
	Route       string           `gorm:"type:varchar(64);index" json:"route"`
	Customer    string           `gorm:"type:text" json:"customer"`
	DepartureAt *time.Time       `gorm:"type:timestamptz" json:"departure_at,omitempty"`
	Invoice     string           `gorm:"type:varchar(64)" json:"invoice"`
	Reason      string           `gorm:"type:text" json:"reason"`
	Cause       string           `gorm:"type:text" json:"cause"`
	Amount      *decimal.Decimal `gorm:"type:numeric(14,2)" json:"amount,omitempty"`
	Description string           `gorm:"type:text" json:"description"`
	CreatedAt   time.Time        `gorm:"type:timestamptz;autoCreateTime" json:"created_at"`
}

func (Occurrence) TableName() string {
	return "occurrences"
}
