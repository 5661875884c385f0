package gormrepository

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"fleetsync/internal/models"
	"fleetsync/internal/record"
	"fleetsync/internal/repository"
)

type Store struct {
	db *gorm.DB
}

func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

func (s *Store) InTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.WithContext(ctx).Transaction(fn)
}

// --- collections ------------------------------------------------------------

func (s *Store) LoadCollection(ctx context.Context, collection string) (repository.Snapshot, error) {
	if s == nil || s.db == nil {
		return repository.Snapshot{}, nil
	}
	var snap repository.Snapshot
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		header, err := loadHeader(tx, collection)
		if err != nil {
			return err
		}
		snap.Header = header

		var rows []models.CollectionRow
		if err := tx.Where("collection = ?", collection).Order("position asc").Find(&rows).Error; err != nil {
			return err
		}
		snap.RowCount = len(rows)
		snap.Records = make([]record.Record, 0, len(rows))
		for _, row := range rows {
			rec, ok := DecodeRow(row)
			if !ok {
				continue
			}
			snap.Records = append(snap.Records, rec)
		}
		return nil
	})
	return snap, err
}

func (s *Store) EnsureColumns(ctx context.Context, collection string, columns []string) ([]string, error) {
	if s == nil || s.db == nil {
		return columns, nil
	}
	var out []string
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		current, err := loadHeader(tx, collection)
		if err != nil {
			return err
		}
		out = record.MergeHeader(current, columns)
		if len(out) == len(current) && current != nil {
			return nil
		}
		raw, err := json.Marshal(out)
		if err != nil {
			return err
		}
		return tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "collection"}},
			DoUpdates: clause.AssignmentColumns([]string{"columns", "updated_at"}),
		}).Create(&models.CollectionHeader{
			Collection: collection,
			Columns:    datatypes.JSON(raw),
			UpdatedAt:  time.Now().UTC(),
		}).Error
	})
	return out, err
}

func (s *Store) ReplaceRows(ctx context.Context, collection string, records []record.Record) error {
	if s == nil || s.db == nil {
		return nil
	}
	rows := make([]models.CollectionRow, 0, len(records))
	now := time.Now().UTC()
	for i, rec := range records {
		data, err := EncodeRecord(rec)
		if err != nil {
			return err
		}
		rows = append(rows, models.CollectionRow{
			Collection: collection,
			RecordID:   rec.ID,
			Position:   i,
			Data:       data,
			UpdatedAt:  now,
		})
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("collection = ?", collection).Delete(&models.CollectionRow{}).Error; err != nil {
			return err
		}
		return createInBatches(tx, rows, 500)
	})
}

func (s *Store) PatchRecord(ctx context.Context, collection, id string, fields map[string]any) (bool, error) {
	if s == nil || s.db == nil {
		return false, nil
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return false, nil
	}
	found := false
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row models.CollectionRow
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("collection = ? AND record_id = ?", collection, id).
			First(&row).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		rec, ok := DecodeRow(row)
		if !ok {
			return nil
		}
		for k, v := range fields {
			rec.Set(k, v)
		}
		data, err := EncodeRecord(rec)
		if err != nil {
			return err
		}
		found = true
		return tx.Model(&models.CollectionRow{}).
			Where("id = ?", row.ID).
			Updates(map[string]any{"data": data, "updated_at": time.Now().UTC()}).Error
	})
	return found, err
}

func loadHeader(tx *gorm.DB, collection string) ([]string, error) {
	var h models.CollectionHeader
	err := tx.First(&h, "collection = ?", collection).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var cols []string
	if len(h.Columns) == 0 {
		return nil, nil
	}
	if err := json.Unmarshal(h.Columns, &cols); err != nil {
		return nil, err
	}
	return cols, nil
}

// EncodeRecord serializes a record's fields for the data column.
func EncodeRecord(rec record.Record) (datatypes.JSON, error) {
	fields := rec.Fields
	if fields == nil {
		fields = map[string]any{}
	}
	if rec.ID != "" {
		if _, ok := fields[record.ColID]; !ok {
			fields = rec.Clone().Fields
			fields[record.ColID] = rec.ID
		}
	}
	raw, err := json.Marshal(fields)
	if err != nil {
		return nil, err
	}
	return datatypes.JSON(raw), nil
}

// DecodeRow parses a stored row. Rows without an identifier, or whose data
// is not a JSON object, yield false.
func DecodeRow(row models.CollectionRow) (record.Record, bool) {
	var fields map[string]any
	if len(row.Data) > 0 {
		if err := json.Unmarshal(row.Data, &fields); err != nil {
			return record.Record{}, false
		}
	}
	id := strings.TrimSpace(row.RecordID)
	if id == "" && fields != nil {
		switch v := fields[record.ColID].(type) {
		case string:
			id = strings.TrimSpace(v)
		case float64:
			id = strconv.FormatFloat(v, 'f', -1, 64)
		}
	}
	if id == "" {
		return record.Record{}, false
	}
	if fields == nil {
		fields = map[string]any{}
	}
	return record.Record{ID: id, Fields: fields}, true
}

// --- watermarks & sync state -----------------------------------------------

func (s *Store) GetWatermark(ctx context.Context, collection string) (string, bool, error) {
	state, err := s.GetSyncState(ctx, collection)
	if err != nil || state == nil || state.Cursor == nil {
		return "", false, err
	}
	return *state.Cursor, true, nil
}

func (s *Store) SetWatermark(ctx context.Context, collection, value string) error {
	if s == nil || s.db == nil {
		return nil
	}
	state := &models.SyncState{Scope: collection, Cursor: &value}
	if ms, err := strconv.ParseInt(value, 10, 64); err == nil {
		ts := time.UnixMilli(ms).UTC()
		state.WatermarkTS = &ts
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "scope"}},
		DoUpdates: clause.AssignmentColumns([]string{"cursor", "watermark_ts"}),
	}).Create(state).Error
}

func (s *Store) GetSyncState(ctx context.Context, scope string) (*models.SyncState, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var state models.SyncState
	err := s.db.WithContext(ctx).First(&state, "scope = ?", scope).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &state, nil
}

// SaveSyncState upserts the bookkeeping columns. The watermark columns are
// owned by SetWatermark and left alone.
func (s *Store) SaveSyncState(ctx context.Context, state *models.SyncState) error {
	if s == nil || s.db == nil || state == nil {
		return nil
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "scope"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"last_success_at",
			"last_attempt_at",
			"last_reconcile_at",
			"last_error",
			"stats_json",
		}),
	}).Create(state).Error
}

func (s *Store) ListSyncStates(ctx context.Context) ([]models.SyncState, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var states []models.SyncState
	if err := s.db.WithContext(ctx).Order("scope asc").Find(&states).Error; err != nil {
		return nil, err
	}
	return states, nil
}

// --- system settings ---------------------------------------------------------

func (s *Store) UpsertSystemSetting(ctx context.Context, item *models.SystemSetting) error {
	if s == nil || s.db == nil || item == nil {
		return nil
	}
	item.Key = strings.TrimSpace(item.Key)
	if item.Key == "" {
		return nil
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"value",
			"description",
			"updated_by",
			"updated_at",
		}),
	}).Create(item).Error
}

func (s *Store) GetSystemSettingByKey(ctx context.Context, key string) (*models.SystemSetting, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, nil
	}
	var item models.SystemSetting
	err := s.db.WithContext(ctx).Model(&models.SystemSetting{}).Where("key = ?", key).First(&item).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) ListSystemSettings(ctx context.Context, params repository.ListSystemSettingsParams) ([]models.SystemSetting, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	query := settingsQuery(s.db.WithContext(ctx), params)
	query = applyOrder(query, params.OrderBy, params.Asc, "key")
	limit := normalizeLimit(params.Limit, 500)
	offset := normalizeOffset(params.Offset)
	var items []models.SystemSetting
	if err := query.Limit(limit).Offset(offset).Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) CountSystemSettings(ctx context.Context, params repository.ListSystemSettingsParams) (int64, error) {
	if s == nil || s.db == nil {
		return 0, nil
	}
	var total int64
	if err := settingsQuery(s.db.WithContext(ctx), params).Count(&total).Error; err != nil {
		return 0, err
	}
	return total, nil
}

func settingsQuery(db *gorm.DB, params repository.ListSystemSettingsParams) *gorm.DB {
	query := db.Model(&models.SystemSetting{})
	if params.Prefix != nil && strings.TrimSpace(*params.Prefix) != "" {
		query = query.Where("key LIKE ?", strings.TrimSpace(*params.Prefix)+"%")
	}
	return query
}

// --- occurrences -------------------------------------------------------------

func (s *Store) InsertOccurrence(ctx context.Context, item *models.Occurrence) error {
	if s == nil || s.db == nil || item == nil {
		return nil
	}
	return s.db.WithContext(ctx).Create(item).Error
}

func (s *Store) ListOccurrences(ctx context.Context, params repository.ListOccurrencesParams) ([]models.Occurrence, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	query := occurrencesQuery(s.db.WithContext(ctx), params).Order("occurred_at desc")
	limit := normalizeLimit(params.Limit, 100)
	offset := normalizeOffset(params.Offset)
	var items []models.Occurrence
	if err := query.Limit(limit).Offset(offset).Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) CountOccurrences(ctx context.Context, params repository.ListOccurrencesParams) (int64, error) {
	if s == nil || s.db == nil {
		return 0, nil
	}
	var total int64
	if err := occurrencesQuery(s.db.WithContext(ctx), params).Count(&total).Error; err != nil {
		return 0, err
	}
	return total, nil
}

func occurrencesQuery(db *gorm.DB, params repository.ListOccurrencesParams) *gorm.DB {
	query := db.Model(&models.Occurrence{})
	if params.Route != nil && strings.TrimSpace(*params.Route) != "" {
		query = query.Where("route = ?", strings.TrimSpace(*params.Route))
	}
	if params.Driver != nil && strings.TrimSpace(*params.Driver) != "" {
		query = query.Where("driver ILIKE ?", "%"+strings.TrimSpace(*params.Driver)+"%")
	}
	return query
}

// --- helpers -----------------------------------------------------------------

func applyOrder(query *gorm.DB, orderBy string, asc *bool, fallback string) *gorm.DB {
	column := strings.TrimSpace(orderBy)
	if column == "" {
		column = fallback
	}
	direction := "desc"
	if asc != nil && *asc {
		direction = "asc"
	}
	return query.Order(column + " " + direction)
}

func createInBatches[T any](db *gorm.DB, items []T, batchSize int) error {
	if len(items) == 0 {
		return nil
	}
	if batchSize <= 0 {
		batchSize = 200
	}
	for i := 0; i < len(items); i += batchSize {
		end := i + batchSize
		if end > len(items) {
			end = len(items)
		}
		if err := db.CreateInBatches(items[i:end], batchSize).Error; err != nil {
			return err
		}
	}
	return nil
}

func normalizeLimit(limit, fallback int) int {
	if limit <= 0 {
		return fallback
	}
	if limit > 500 {
		return 500
	}
	return limit
}

func normalizeOffset(offset int) int {
	if offset < 0 {
		return 0
	}
	return offset
}

var _ repository.Repository = (*Store)(nil)
