package repository

import (
	"context"

	"fleetsync/internal/models"
	"fleetsync/internal/record"
)

// Snapshot is a collection as read from the store. RowCount counts every
// stored row, including rows that could not be parsed into a record.
type Snapshot struct {
	Header   []string
	Records  []record.Record
	RowCount int
}

// RowStore persists collections as ordered rows under a growing header.
type RowStore interface {
	LoadCollection(ctx context.Context, collection string) (Snapshot, error)
	// EnsureColumns appends missing columns to the header and returns the
	// full header.
	EnsureColumns(ctx context.Context, collection string, columns []string) ([]string, error)
	// ReplaceRows atomically swaps the collection's rows for records.
	ReplaceRows(ctx context.Context, collection string, records []record.Record) error
	// PatchRecord merges fields into one stored record; false when absent.
	PatchRecord(ctx context.Context, collection, id string, fields map[string]any) (bool, error)
}

// WatermarkStore keeps one opaque watermark value per collection.
type WatermarkStore interface {
	GetWatermark(ctx context.Context, collection string) (value string, found bool, err error)
	SetWatermark(ctx context.Context, collection, value string) error
}

type SyncStateStore interface {
	GetSyncState(ctx context.Context, scope string) (*models.SyncState, error)
	SaveSyncState(ctx context.Context, state *models.SyncState) error
	ListSyncStates(ctx context.Context) ([]models.SyncState, error)
}

type SettingsStore interface {
	UpsertSystemSetting(ctx context.Context, item *models.SystemSetting) error
	GetSystemSettingByKey(ctx context.Context, key string) (*models.SystemSetting, error)
	ListSystemSettings(ctx context.Context, params ListSystemSettingsParams) ([]models.SystemSetting, error)
	CountSystemSettings(ctx context.Context, params ListSystemSettingsParams) (int64, error)
}

type OccurrenceStore interface {
	InsertOccurrence(ctx context.Context, item *models.Occurrence) error
	ListOccurrences(ctx context.Context, params ListOccurrencesParams) ([]models.Occurrence, error)
	CountOccurrences(ctx context.Context, params ListOccurrencesParams) (int64, error)
}

// Repository is everything the gorm store implements.
type Repository interface {
	RowStore
	WatermarkStore
	SyncStateStore
	SettingsStore
	OccurrenceStore
}

type ListSystemSettingsParams struct {
	Limit   int
	Offset  int
	Prefix  *string
	OrderBy string
	Asc     *bool
}

type ListOccurrencesParams struct {
	Limit  int
	Offset int
	Route  *string
	Driver *string
}
