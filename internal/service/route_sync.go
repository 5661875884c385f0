package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"fleetsync/internal/alert"
	"fleetsync/internal/backup"
	"fleetsync/internal/cache"
	"fleetsync/internal/client/greenmile"
	"fleetsync/internal/config"
	"fleetsync/internal/merge"
	"fleetsync/internal/models"
	"fleetsync/internal/opslog"
	"fleetsync/internal/record"
	"fleetsync/internal/repository"
	"fleetsync/internal/safety"
)

type RouteFetcher interface {
	QueryRoute(ctx context.Context, routeKey string, q greenmile.RouteQuery) ([]map[string]any, error)
}

type RouteStore interface {
	repository.RowStore
	repository.SyncStateStore
}

// RouteSyncService mirrors GreenMile stops for the delivery routes found in
// the deliveries collection.
type RouteSyncService struct {
	Store  RouteStore
	Client RouteFetcher
	Gate   safety.Gate
	Locker cache.Locker
	Backup backup.Archiver
	Alerts alert.Notifier
	Ops    *opslog.Client
	Config config.GreenMileConfig
	// LockTTL bounds how long a crashed run can hold the route lease.
	LockTTL time.Duration
	Logger  *zap.Logger
	Now     func() time.Time
}

type RouteReport struct {
	Candidates int             `json:"candidates"`
	Known      int             `json:"known"`
	Pending    int             `json:"pending"`
	Requested  int             `json:"requested"`
	Downloaded int             `json:"downloaded"`
	Failed     int             `json:"failed"`
	Empty      int             `json:"empty"`
	Stops      int             `json:"stops"`
	Kept       int             `json:"kept"`
	Original   int             `json:"original"`
	Final      int             `json:"final"`
	Decision   safety.Decision `json:"decision"`
	Written    bool            `json:"written"`
	BackupKey  string          `json:"backup_key,omitempty"`
	Duration   time.Duration   `json:"duration"`
	Error      string          `json:"error,omitempty"`
}

// Sync downloads new and still-pending routes. Routes in force are
// downloaded regardless of their stored state.
func (s *RouteSyncService) Sync(ctx context.Context, force ...string) (RouteReport, error) {
	var report RouteReport
	scope := s.collection()
	if s.Locker != nil {
		release, err := s.Locker.Acquire(ctx, "fleetsync:routes:"+scope, s.LockTTL)
		if errors.Is(err, cache.ErrLocked) {
			s.logger().Info("route sync skipped: cycle in progress")
			return report, ErrCycleInProgress
		}
		if err != nil {
			return report, s.fail(ctx, StageLease, err, nil)
		}
		defer release()
	}
	err := s.run(ctx, &report, force)
	if err != nil {
		report.Error = err.Error()
	}
	return report, err
}

func (s *RouteSyncService) run(ctx context.Context, report *RouteReport, force []string) error {
	start := s.now()
	defer func() { report.Duration = s.now().Sub(start) }()
	scope := s.collection()

	state, err := s.Store.GetSyncState(ctx, scope)
	if err != nil {
		return s.fail(ctx, StageLoad, err, nil)
	}
	deliveries, err := s.Store.LoadCollection(ctx, s.Config.DeliveriesFrom)
	if err != nil {
		return s.fail(ctx, StageLoad, err, state)
	}
	candidates := CandidateRoutes(deliveries.Records, s.Config.RoutePrefix, s.Config.MinDate)
	report.Candidates = len(candidates)

	stops, err := s.Store.LoadCollection(ctx, scope)
	if err != nil {
		return s.fail(ctx, StageLoad, err, state)
	}
	report.Original = stops.RowCount
	if stops.RowCount > 0 && len(stops.Records) == 0 {
		return s.fail(ctx, StageLoad, fmt.Errorf("%w: %d rows", ErrInconsistentRead, stops.RowCount), state)
	}
	known, pending := routeStates(stops.Records)
	report.Known, report.Pending = len(known), len(pending)

	toFetch := make([]string, 0, len(candidates)+len(force))
	queued := map[string]struct{}{}
	queue := func(route string) {
		if _, ok := queued[route]; ok || route == "" {
			return
		}
		queued[route] = struct{}{}
		toFetch = append(toFetch, route)
	}
	for _, route := range force {
		queue(strings.TrimSpace(route))
	}
	for _, route := range candidates {
		_, isKnown := known[route]
		_, isPending := pending[route]
		if !isKnown || isPending {
			queue(route)
		}
	}
	report.Requested = len(toFetch)

	downloaded, fresh, err := s.download(ctx, toFetch, report)
	if err != nil {
		return s.fail(ctx, StageFetch, err, state)
	}

	kept := make([]record.Record, 0, len(stops.Records))
	for _, r := range stops.Records {
		if _, ok := downloaded[strings.TrimSpace(r.Text(greenmile.KeyRoute))]; ok {
			continue
		}
		kept = append(kept, r)
	}
	report.Kept = len(kept)
	final := merge.Merge(kept, fresh).Records
	report.Final = len(final)

	if len(final) == 0 && stops.RowCount == 0 {
		s.logger().Info("route sync: nothing to store")
		return nil
	}
	decision, err := s.Gate.Authorize(stops.RowCount, len(final), safety.ReconcileInfo{})
	report.Decision = decision
	if err != nil {
		return s.fail(ctx, StageSafety, err, state)
	}
	if len(downloaded) == 0 && stops.RowCount == len(final) {
		s.saveSuccess(ctx, state, start, report)
		return nil
	}

	if len(final) < stops.RowCount {
		report.BackupKey = s.archive(ctx, scope, stops)
	}
	header := record.MergeHeader(greenmile.StopColumns, record.Columns(final, greenmile.KeyOrdersInfo, record.ColID))
	if _, err := s.Store.EnsureColumns(ctx, scope, header); err != nil {
		return s.fail(ctx, StageWrite, err, state)
	}
	if err := s.Store.ReplaceRows(ctx, scope, final); err != nil {
		return s.fail(ctx, StageWrite, err, state)
	}
	report.Written = true

	s.saveSuccess(ctx, state, start, report)
	s.logger().Info("route sync done",
		zap.Int("candidates", report.Candidates),
		zap.Int("requested", report.Requested),
		zap.Int("downloaded", report.Downloaded),
		zap.Int("failed", report.Failed),
		zap.Int("stops", report.Stops),
		zap.Int("total", report.Final),
	)
	opslog.BestEffort(s.Ops, "route_sync", "info", map[string]any{
		"downloaded": report.Downloaded,
		"failed":     report.Failed,
		"total":      report.Final,
	})
	return nil
}

// download fetches routes sequentially in batches. Failures are counted and
// the route's stored stops are kept.
func (s *RouteSyncService) download(ctx context.Context, routes []string, report *RouteReport) (map[string]struct{}, []record.Record, error) {
	downloaded := map[string]struct{}{}
	var fresh []record.Record
	batch := s.Config.BatchSize
	if batch <= 0 {
		batch = 120
	}
	query := greenmile.RouteQuery{Filters: greenmile.StopColumns, MaxResults: s.Config.MaxResults}

batches:
	for i := 0; i < len(routes); i += batch {
		if i > 0 && s.Config.BatchDelay > 0 {
			select {
			case <-ctx.Done():
				return nil, nil, ctx.Err()
			case <-time.After(s.Config.BatchDelay):
			}
		}
		end := i + batch
		if end > len(routes) {
			end = len(routes)
		}
		for _, route := range routes[i:end] {
			if err := ctx.Err(); err != nil {
				return nil, nil, err
			}
			items, err := s.Client.QueryRoute(ctx, route, query)
			if err != nil {
				report.Failed++
				s.logger().Warn("route download failed", zap.String("route", route), zap.Error(err))
				if errors.Is(err, greenmile.ErrNoCredentials) {
					break batches
				}
				continue
			}
			if len(items) == 0 {
				report.Empty++
				continue
			}
			downloaded[route] = struct{}{}
			for _, item := range items {
				fields := greenmile.StopFields(item, route)
				id := greenmile.StopID(fields)
				if id == "" {
					continue
				}
				fresh = append(fresh, record.Record{ID: id, Fields: fields})
			}
		}
	}
	report.Downloaded = len(downloaded)
	report.Stops = len(fresh)
	return downloaded, fresh, nil
}

// CandidateRoutes lists, in first-seen order, the route keys of main tasks
// created on or after minDate whose name starts with prefix. The route key
// is the part of the name before the first "-".
func CandidateRoutes(deliveries []record.Record, prefix string, minDate time.Time) []string {
	seen := map[string]struct{}{}
	var out []string
	for _, r := range deliveries {
		if t, ok := fieldFold(r, "TIPO DE TAREFA"); ok {
			if !strings.EqualFold(strings.TrimSpace(fmt.Sprint(t)), record.TaskTypeMain) {
				continue
			}
		}
		if created, ok := routeDate(r); ok && !minDate.IsZero() && created.Before(minDate) {
			continue
		}
		name := routeName(r)
		if len([]rune(name)) < 2 {
			continue
		}
		key := name
		if i := strings.Index(name, "-"); i >= 0 {
			key = strings.TrimSpace(name[:i])
		}
		if prefix != "" && !strings.HasPrefix(key, prefix) {
			continue
		}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, key)
	}
	return out
}

func routeName(r record.Record) string {
	for _, col := range []string{"NOME", "PLANO", "ROTA"} {
		if v, ok := fieldFold(r, col); ok {
			return strings.TrimSpace(fmt.Sprint(v))
		}
	}
	return ""
}

func routeDate(r record.Record) (time.Time, bool) {
	for k := range r.Fields {
		switch strings.ToUpper(strings.TrimSpace(k)) {
		case "DATA DE CRIAÇÃO", "DATA DE SAÍDA", "DATA DE SAIDA":
			if t, ok := r.Time(k); ok {
				return t, true
			}
		}
	}
	return time.Time{}, false
}

func fieldFold(r record.Record, name string) (any, bool) {
	if v, ok := r.Fields[name]; ok && v != nil {
		return v, true
	}
	for k, v := range r.Fields {
		if v != nil && strings.EqualFold(strings.TrimSpace(k), name) {
			return v, true
		}
	}
	return nil, false
}

// routeStates returns the routes present in the stop dataset and those with
// at least one stop that has not departed.
func routeStates(stops []record.Record) (known, pending map[string]struct{}) {
	known = map[string]struct{}{}
	pending = map[string]struct{}{}
	for _, r := range stops {
		route := strings.TrimSpace(r.Text(greenmile.KeyRoute))
		if route == "" {
			continue
		}
		known[route] = struct{}{}
		if greenmile.IsPending(r.Fields) {
			pending[route] = struct{}{}
		}
	}
	return known, pending
}

func (s *RouteSyncService) archive(ctx context.Context, scope string, snap repository.Snapshot) string {
	if s.Backup == nil {
		return ""
	}
	key, err := s.Backup.Archive(ctx, backup.NewSnapshot(scope, "route stops shrinking", snap.Header, snap.Records, s.now()))
	if err != nil {
		s.logger().Warn("pre-write backup failed", zap.String("collection", scope), zap.Error(err))
		return ""
	}
	return key
}

func (s *RouteSyncService) fail(ctx context.Context, stage string, err error, state *models.SyncState) error {
	scope := s.collection()
	s.logger().Error("route sync aborted", zap.String("stage", stage), zap.Error(err))
	now := s.now().UTC()
	next := cloneState(scope, state)
	next.LastAttemptAt = &now
	next.LastError = strPtr(stage + ": " + err.Error())
	if saveErr := s.Store.SaveSyncState(context.WithoutCancel(ctx), next); saveErr != nil {
		s.logger().Warn("sync state save failed", zap.String("collection", scope), zap.Error(saveErr))
	}
	alert.BestEffort(ctx, s.Alerts, s.logger(), alert.Event{Collection: scope, Stage: stage, Message: err.Error(), At: now})
	opslog.BestEffort(s.Ops, "route_sync", "error", map[string]any{"stage": stage, "error": err.Error()})
	return err
}

func (s *RouteSyncService) saveSuccess(ctx context.Context, state *models.SyncState, at time.Time, report *RouteReport) {
	at = at.UTC()
	next := cloneState(s.collection(), state)
	next.LastAttemptAt = &at
	next.LastSuccessAt = &at
	next.LastError = nil
	next.StatsJSON = statsJSON(report)
	if err := s.Store.SaveSyncState(ctx, next); err != nil {
		s.logger().Warn("sync state save failed", zap.String("collection", next.Scope), zap.Error(err))
	}
}

func (s *RouteSyncService) collection() string {
	if c := strings.TrimSpace(s.Config.Collection); c != "" {
		return c
	}
	return "GREENMILE"
}

func (s *RouteSyncService) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s *RouteSyncService) logger() *zap.Logger {
	if s.Logger == nil {
		return zap.NewNop()
	}
	return s.Logger
}
