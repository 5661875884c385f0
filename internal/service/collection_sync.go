package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"fleetsync/internal/alert"
	"fleetsync/internal/backup"
	"fleetsync/internal/cache"
	"fleetsync/internal/client/clickup"
	"fleetsync/internal/config"
	"fleetsync/internal/merge"
	"fleetsync/internal/models"
	"fleetsync/internal/normalize"
	"fleetsync/internal/opslog"
	"fleetsync/internal/reconcile"
	"fleetsync/internal/record"
	"fleetsync/internal/repository"
	"fleetsync/internal/safety"
	"fleetsync/internal/source"
)

var (
	// ErrInconsistentRead means the store reported rows but none could be
	// parsed; writing now would wipe data that is still there.
	ErrInconsistentRead  = errors.New("persisted rows exist but none parsed")
	ErrCycleInProgress   = errors.New("sync cycle already running for collection")
	ErrUnknownCollection = errors.New("unknown collection")
)

// Stages reported on failures and alerts.
const (
	StageLease     = "lease"
	StageLoad      = "load"
	StageFetch     = "fetch"
	StageSafety    = "safety"
	StageWrite     = "write"
	StageWatermark = "watermark"
)

type CollectionStore interface {
	repository.RowStore
	repository.WatermarkStore
	repository.SyncStateStore
}

type CollectionSyncService struct {
	Store       CollectionStore
	Source      *source.TaskSource
	Reconcile   *reconcile.Engine
	Gate        safety.Gate
	Locker      cache.Locker
	Backup      backup.Archiver
	Alerts      alert.Notifier
	Ops         *opslog.Client
	Collections []config.CollectionConfig
	Sync        config.SyncConfig
	Logger      *zap.Logger
	Now         func() time.Time
}

type CycleReport struct {
	Collection        string            `json:"collection"`
	Mode              string            `json:"mode"`
	Since             time.Time         `json:"since"`
	Fetch             source.Outcome    `json:"fetch"`
	Normalized        int               `json:"normalized"`
	Original          int               `json:"original"`
	Inserted          int               `json:"inserted"`
	Updated           int               `json:"updated"`
	Reconcile         reconcile.Outcome `json:"reconcile"`
	Decision          safety.Decision   `json:"decision"`
	Final             int               `json:"final"`
	Written           bool              `json:"written"`
	WatermarkAdvanced bool              `json:"watermark_advanced"`
	BackupKey         string            `json:"backup_key,omitempty"`
	Duration          time.Duration     `json:"duration"`
	Error             string            `json:"error,omitempty"`
}

// EffectiveStart turns a stored watermark into the lower bound of the delta
// query. Missing or unreadable values start at minDate; values in the future
// are clamped to now. The overlap window is subtracted last and the result
// never precedes minDate.
func EffectiveStart(raw string, found bool, minDate, now time.Time, overlap time.Duration) time.Time {
	wm := minDate
	if found {
		if ms, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64); err == nil {
			wm = time.UnixMilli(ms).UTC()
		}
	}
	if wm.Before(minDate) {
		wm = minDate
	}
	if wm.After(now) {
		wm = now
	}
	start := wm.Add(-overlap)
	if start.Before(minDate) {
		start = minDate
	}
	return start
}

// RunAll syncs every configured collection in order. A failing collection
// is reported and the rest still run.
func (s *CollectionSyncService) RunAll(ctx context.Context) []CycleReport {
	reports := make([]CycleReport, 0, len(s.Collections))
	for _, col := range s.Collections {
		if ctx.Err() != nil {
			break
		}
		report, err := s.SyncCollection(ctx, col.Name)
		if err != nil {
			report.Collection = col.Name
			report.Error = err.Error()
		}
		reports = append(reports, report)
	}
	return reports
}

func (s *CollectionSyncService) SyncCollection(ctx context.Context, name string) (CycleReport, error) {
	col, ok := s.collection(name)
	if !ok {
		return CycleReport{Collection: name}, fmt.Errorf("%w: %s", ErrUnknownCollection, name)
	}
	report := CycleReport{Collection: col.Name, Mode: s.mode(col)}

	if s.Locker != nil {
		release, err := s.Locker.Acquire(ctx, "fleetsync:collection:"+col.Name, s.Sync.LockTTL)
		if errors.Is(err, cache.ErrLocked) {
			s.logger().Info("collection sync skipped: cycle in progress", zap.String("collection", col.Name))
			return report, ErrCycleInProgress
		}
		if err != nil {
			return report, s.fail(ctx, col.Name, StageLease, err, nil)
		}
		defer release()
	}

	err := s.runCycle(ctx, col, &report)
	if err != nil {
		report.Error = err.Error()
	}
	return report, err
}

func (s *CollectionSyncService) runCycle(ctx context.Context, col config.CollectionConfig, report *CycleReport) error {
	cycleStart := s.now()
	defer func() { report.Duration = s.now().Sub(cycleStart) }()
	minDate := s.minDate(col)
	fullScan := report.Mode == string(source.ModeFullScan)

	state, err := s.Store.GetSyncState(ctx, col.Name)
	if err != nil {
		return s.fail(ctx, col.Name, StageLoad, err, nil)
	}
	raw, found, err := s.Store.GetWatermark(ctx, col.Name)
	if err != nil {
		return s.fail(ctx, col.Name, StageLoad, err, state)
	}
	report.Since = EffectiveStart(raw, found, minDate, cycleStart, s.Sync.Overlap)

	snap, err := s.Store.LoadCollection(ctx, col.Name)
	if err != nil {
		return s.fail(ctx, col.Name, StageLoad, err, state)
	}
	report.Original = snap.RowCount
	if snap.RowCount > 0 && len(snap.Records) == 0 {
		return s.fail(ctx, col.Name, StageLoad, fmt.Errorf("%w: %d rows", ErrInconsistentRead, snap.RowCount), state)
	}

	norm := normalize.New(normalize.Filter{
		IgnoredStatuses: s.Sync.IgnoredStatuses,
		MinCreated:      minDate,
		Unfiltered:      col.Unfiltered,
	})
	fields := record.NewFieldMappings()

	tasks, fetch := s.Source.Fetch(ctx, col.ListID, report.Since, source.Mode(report.Mode))
	report.Fetch = fetch
	if err := ctx.Err(); err != nil {
		return err
	}
	incoming, auth := normalizeTasks(norm, fields, tasks)
	report.Normalized = len(incoming)

	merged := merge.Merge(snap.Records, incoming)
	report.Inserted, report.Updated = merged.Inserted, merged.Updated

	in := reconcile.Input{
		FullScan: fullScan,
		Existing: snap.RowCount,
		Merged:   merged.Records,
		Now:      cycleStart,
	}
	if state != nil && state.LastReconcileAt != nil {
		in.LastReconciledAt = *state.LastReconcileAt
	}
	if fullScan && fetch.Complete {
		in.Prefetched = &auth
	}
	rec := s.Reconcile.Reconcile(ctx, in, s.authoritativeFetcher(col, norm, fields))
	report.Reconcile = rec
	report.Final = len(rec.Records)

	decision, err := s.Gate.Authorize(snap.RowCount, len(rec.Records), safety.ReconcileInfo{
		Executed:    rec.Executed,
		Trustworthy: rec.Trustworthy,
	})
	report.Decision = decision
	if err != nil {
		return s.fail(ctx, col.Name, StageSafety, err, state)
	}
	if decision.Warning {
		s.logger().Warn("large shrink confirmed by reconcile",
			zap.String("collection", col.Name),
			zap.Int("original", decision.Original),
			zap.Int("final", decision.Final),
			zap.Float64("shrink_ratio", decision.ShrinkRatio),
		)
	}

	changed := merged.Inserted+merged.Updated+rec.Removed > 0 || snap.RowCount != len(rec.Records)
	if changed {
		if rec.Removed > 0 || snap.RowCount > len(rec.Records) {
			report.BackupKey = s.archive(ctx, col.Name, fmt.Sprintf("removing %d records", snap.RowCount-len(rec.Records)), snap)
		}
		if _, err := s.Store.EnsureColumns(ctx, col.Name, record.MergeHeader(record.TaskColumns, fields.Columns())); err != nil {
			return s.fail(ctx, col.Name, StageWrite, err, state)
		}
		if err := s.Store.ReplaceRows(ctx, col.Name, rec.Records); err != nil {
			return s.fail(ctx, col.Name, StageWrite, err, state)
		}
		report.Written = true
	}

	if fetch.Complete {
		if err := s.Store.SetWatermark(ctx, col.Name, strconv.FormatInt(cycleStart.UnixMilli(), 10)); err != nil {
			return s.fail(ctx, col.Name, StageWatermark, err, state)
		}
		report.WatermarkAdvanced = true
	}

	s.saveSuccess(ctx, col.Name, state, cycleStart, rec, report)
	s.logger().Info("collection sync done",
		zap.String("collection", col.Name),
		zap.String("mode", report.Mode),
		zap.Time("since", report.Since),
		zap.Int("fetched", fetch.Items),
		zap.Bool("fetch_complete", fetch.Complete),
		zap.Int("inserted", report.Inserted),
		zap.Int("updated", report.Updated),
		zap.Int("removed", rec.Removed),
		zap.Int("removed_ignored", rec.RemovedIgnored),
		zap.Bool("reconciled", rec.Executed),
		zap.String("reconcile_reason", rec.Reason),
		zap.Int("total", report.Final),
		zap.Bool("written", report.Written),
	)
	opslog.BestEffort(s.Ops, "collection_sync", "info", map[string]any{
		"collection": col.Name,
		"inserted":   report.Inserted,
		"updated":    report.Updated,
		"removed":    rec.Removed,
		"total":      report.Final,
		"reconciled": rec.Executed,
	})
	return nil
}

// normalizeTasks maps tasks to records and builds the id set a full listing
// would give the reconcile step.
func normalizeTasks(norm *normalize.Normalizer, fields *record.FieldMappings, tasks []clickup.Task) ([]record.Record, reconcile.Authoritative) {
	out := make([]record.Record, 0, len(tasks))
	auth := reconcile.Authoritative{
		IDs:     make(map[string]struct{}, len(tasks)),
		Ignored: map[string]struct{}{},
		Raw:     len(tasks),
	}
	for _, t := range tasks {
		if norm.IsIgnoredStatus(t) {
			auth.Ignored[t.ID] = struct{}{}
		}
		r, ok := norm.Normalize(t, fields)
		if !ok {
			continue
		}
		out = append(out, r)
		auth.IDs[r.ID] = struct{}{}
	}
	return out, auth
}

func (s *CollectionSyncService) authoritativeFetcher(col config.CollectionConfig, norm *normalize.Normalizer, fields *record.FieldMappings) reconcile.Fetcher {
	return func(ctx context.Context) (reconcile.Authoritative, error) {
		tasks, out := s.Source.Fetch(ctx, col.ListID, time.Time{}, source.ModeFullScan)
		if !out.Complete {
			if out.Err != nil {
				return reconcile.Authoritative{}, fmt.Errorf("%w: %v", reconcile.ErrIncompleteFetch, out.Err)
			}
			return reconcile.Authoritative{}, reconcile.ErrIncompleteFetch
		}
		_, auth := normalizeTasks(norm, fields, tasks)
		return auth, nil
	}
}

// ResetWatermark rewinds one collection, or all of them when name is empty
// or "all", to its minimum date.
func (s *CollectionSyncService) ResetWatermark(ctx context.Context, name string) ([]string, error) {
	var targets []config.CollectionConfig
	if n := strings.TrimSpace(name); n == "" || strings.EqualFold(n, "all") {
		targets = s.Collections
	} else {
		col, ok := s.collection(n)
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownCollection, name)
		}
		targets = []config.CollectionConfig{col}
	}
	reset := make([]string, 0, len(targets))
	for _, col := range targets {
		value := strconv.FormatInt(s.minDate(col).UnixMilli(), 10)
		if err := s.Store.SetWatermark(ctx, col.Name, value); err != nil {
			return reset, err
		}
		s.logger().Info("watermark reset", zap.String("collection", col.Name), zap.String("value", value))
		reset = append(reset, col.Name)
	}
	return reset, nil
}

type CountReport struct {
	Collection string `json:"collection"`
	Total      int    `json:"total"`
	Accepted   int    `json:"accepted"`
	Ignored    int    `json:"ignored"`
	Subtasks   int    `json:"subtasks"`
	Pages      int    `json:"pages"`
	Complete   bool   `json:"complete"`
}

// CountTasks walks the whole upstream list without writing anything.
func (s *CollectionSyncService) CountTasks(ctx context.Context, name string) (CountReport, error) {
	col, ok := s.collection(name)
	if !ok {
		return CountReport{Collection: name}, fmt.Errorf("%w: %s", ErrUnknownCollection, name)
	}
	norm := normalize.New(normalize.Filter{
		IgnoredStatuses: s.Sync.IgnoredStatuses,
		MinCreated:      s.minDate(col),
		Unfiltered:      col.Unfiltered,
	})
	report := CountReport{Collection: col.Name}
	out := s.Source.Pages(ctx, col.ListID, time.Time{}, source.ModeFullScan, func(_ int, tasks []clickup.Task) error {
		for _, t := range tasks {
			report.Total++
			if t.Parent != nil && strings.TrimSpace(*t.Parent) != "" {
				report.Subtasks++
			}
			if norm.IsIgnoredStatus(t) {
				report.Ignored++
			}
			if norm.Accept(t) {
				report.Accepted++
			}
		}
		return nil
	})
	report.Pages = out.Pages
	report.Complete = out.Complete
	if err := ctx.Err(); err != nil {
		return report, err
	}
	return report, nil
}

func (s *CollectionSyncService) archive(ctx context.Context, collection, reason string, snap repository.Snapshot) string {
	if s.Backup == nil {
		return ""
	}
	key, err := s.Backup.Archive(ctx, backup.NewSnapshot(collection, reason, snap.Header, snap.Records, s.now()))
	if err != nil {
		s.logger().Warn("pre-write backup failed", zap.String("collection", collection), zap.Error(err))
		return ""
	}
	s.logger().Info("pre-write backup stored", zap.String("collection", collection), zap.String("key", key))
	return key
}

// fail records err in sync_state, alerts, and returns it unchanged.
func (s *CollectionSyncService) fail(ctx context.Context, collection, stage string, err error, state *models.SyncState) error {
	s.logger().Error("collection sync aborted",
		zap.String("collection", collection),
		zap.String("stage", stage),
		zap.Error(err),
	)
	now := s.now().UTC()
	next := cloneState(collection, state)
	next.LastAttemptAt = &now
	next.LastError = strPtr(stage + ": " + err.Error())
	if saveErr := s.Store.SaveSyncState(context.WithoutCancel(ctx), next); saveErr != nil {
		s.logger().Warn("sync state save failed", zap.String("collection", collection), zap.Error(saveErr))
	}
	alert.BestEffort(ctx, s.Alerts, s.logger(), alert.Event{
		Collection: collection,
		Stage:      stage,
		Message:    err.Error(),
		At:         now,
	})
	opslog.BestEffort(s.Ops, "collection_sync", "error", map[string]any{
		"collection": collection,
		"stage":      stage,
		"error":      err.Error(),
	})
	return err
}

func (s *CollectionSyncService) saveSuccess(ctx context.Context, collection string, state *models.SyncState, at time.Time, rec reconcile.Outcome, report *CycleReport) {
	at = at.UTC()
	next := cloneState(collection, state)
	next.LastAttemptAt = &at
	next.LastSuccessAt = &at
	next.LastError = nil
	if rec.Executed && rec.Trustworthy {
		next.LastReconcileAt = &at
	}
	next.StatsJSON = statsJSON(report)
	if err := s.Store.SaveSyncState(ctx, next); err != nil {
		s.logger().Warn("sync state save failed", zap.String("collection", collection), zap.Error(err))
	}
}

func (s *CollectionSyncService) collection(name string) (config.CollectionConfig, bool) {
	name = strings.TrimSpace(name)
	for _, col := range s.Collections {
		if strings.EqualFold(col.Name, name) {
			return col, true
		}
	}
	return config.CollectionConfig{}, false
}

func (s *CollectionSyncService) mode(col config.CollectionConfig) string {
	if strings.EqualFold(strings.TrimSpace(col.Mode), string(source.ModeFullScan)) {
		return string(source.ModeFullScan)
	}
	return string(source.ModeIncremental)
}

func (s *CollectionSyncService) minDate(col config.CollectionConfig) time.Time {
	if !col.MinDate.IsZero() {
		return col.MinDate.UTC()
	}
	return s.Sync.MinDate.UTC()
}

func (s *CollectionSyncService) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s *CollectionSyncService) logger() *zap.Logger {
	if s.Logger == nil {
		return zap.NewNop()
	}
	return s.Logger
}
