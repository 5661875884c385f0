package service

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"fleetsync/internal/alert"
	"fleetsync/internal/backup"
	"fleetsync/internal/client/clickup"
	"fleetsync/internal/client/greenmile"
	"fleetsync/internal/models"
	"fleetsync/internal/record"
	"fleetsync/internal/repository"
)

// stubStore is a test-only in-memory implementation of repository.Repository.
type stubStore struct {
	mu          sync.Mutex
	headers     map[string][]string
	rows        map[string][]record.Record
	badRows     map[string]int
	watermarks  map[string]string
	states      map[string]models.SyncState
	settings    map[string]models.SystemSetting
	occurrences []models.Occurrence

	replaceCalls map[string]int
}

func newStubStore() *stubStore {
	return &stubStore{
		headers:      map[string][]string{},
		rows:         map[string][]record.Record{},
		badRows:      map[string]int{},
		watermarks:   map[string]string{},
		states:       map[string]models.SyncState{},
		settings:     map[string]models.SystemSetting{},
		replaceCalls: map[string]int{},
	}
}

func (s *stubStore) seed(collection string, records []record.Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows[collection] = cloneRecords(records)
}

func (s *stubStore) LoadCollection(ctx context.Context, collection string) (repository.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	recs := cloneRecords(s.rows[collection])
	return repository.Snapshot{
		Header:   append([]string(nil), s.headers[collection]...),
		Records:  recs,
		RowCount: len(recs) + s.badRows[collection],
	}, nil
}

func (s *stubStore) EnsureColumns(ctx context.Context, collection string, columns []string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.headers[collection] = record.MergeHeader(s.headers[collection], columns)
	return s.headers[collection], nil
}

func (s *stubStore) ReplaceRows(ctx context.Context, collection string, records []record.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows[collection] = cloneRecords(records)
	s.badRows[collection] = 0
	s.replaceCalls[collection]++
	return nil
}

func (s *stubStore) PatchRecord(ctx context.Context, collection, id string, fields map[string]any) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.rows[collection] {
		if r.ID != id {
			continue
		}
		for k, v := range fields {
			r.Set(k, v)
		}
		return true, nil
	}
	return false, nil
}

func (s *stubStore) GetWatermark(ctx context.Context, collection string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.watermarks[collection]
	return v, ok, nil
}

func (s *stubStore) SetWatermark(ctx context.Context, collection, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.watermarks[collection] = value
	return nil
}

func (s *stubStore) GetSyncState(ctx context.Context, scope string) (*models.SyncState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.states[scope]
	if !ok {
		return nil, nil
	}
	return &st, nil
}

func (s *stubStore) SaveSyncState(ctx context.Context, state *models.SyncState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states[state.Scope] = *state
	return nil
}

func (s *stubStore) ListSyncStates(ctx context.Context) ([]models.SyncState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.SyncState, 0, len(s.states))
	for _, st := range s.states {
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Scope < out[j].Scope })
	return out, nil
}

func (s *stubStore) UpsertSystemSetting(ctx context.Context, item *models.SystemSetting) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settings[item.Key] = *item
	return nil
}

func (s *stubStore) GetSystemSettingByKey(ctx context.Context, key string) (*models.SystemSetting, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.settings[key]
	if !ok {
		return nil, nil
	}
	return &item, nil
}

func (s *stubStore) ListSystemSettings(ctx context.Context, params repository.ListSystemSettingsParams) ([]models.SystemSetting, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.SystemSetting
	for k, v := range s.settings {
		if params.Prefix != nil && !strings.HasPrefix(k, *params.Prefix) {
			continue
		}
		out = append(out, v)
	}
	return out, nil
}

func (s *stubStore) CountSystemSettings(ctx context.Context, params repository.ListSystemSettingsParams) (int64, error) {
	items, _ := s.ListSystemSettings(ctx, params)
	return int64(len(items)), nil
}

func (s *stubStore) InsertOccurrence(ctx context.Context, item *models.Occurrence) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.occurrences = append(s.occurrences, *item)
	return nil
}

func (s *stubStore) ListOccurrences(ctx context.Context, params repository.ListOccurrencesParams) ([]models.Occurrence, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Occurrence, 0, len(s.occurrences))
	for i := len(s.occurrences) - 1; i >= 0; i-- {
		out = append(out, s.occurrences[i])
	}
	return out, nil
}

func (s *stubStore) CountOccurrences(ctx context.Context, params repository.ListOccurrencesParams) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.occurrences)), nil
}

var _ repository.Repository = (*stubStore)(nil)

func cloneRecords(in []record.Record) []record.Record {
	out := make([]record.Record, len(in))
	for i, r := range in {
		out[i] = r.Clone()
	}
	return out
}

// stubLister serves tasks 100 per page, honoring date_updated_gt.
type stubLister struct {
	mu    sync.Mutex
	tasks []clickup.Task
	// failFull makes every unfiltered (full listing) request fail.
	failFull bool
	// failAtPage fails filtered requests from this page on; 0 disables.
	failAtPage int
	calls      []clickup.ListTasksParams
}

func (l *stubLister) ListTasks(ctx context.Context, listID string, params clickup.ListTasksParams) ([]clickup.Task, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = append(l.calls, params)
	if l.failFull && params.UpdatedAfter.IsZero() {
		return nil, &clickup.APIError{Status: 503, Body: "unavailable"}
	}
	if l.failAtPage > 0 && params.Page >= l.failAtPage {
		return nil, &clickup.APIError{Status: 500, Body: "boom"}
	}
	var matched []clickup.Task
	for _, t := range l.tasks {
		if !params.UpdatedAfter.IsZero() && !t.DateUpdated.Time().After(params.UpdatedAfter) {
			continue
		}
		matched = append(matched, t)
	}
	start := params.Page * 100
	if start >= len(matched) {
		return nil, nil
	}
	end := start + 100
	if end > len(matched) {
		end = len(matched)
	}
	return matched[start:end], nil
}

func (l *stubLister) fullCalls() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, c := range l.calls {
		if c.UpdatedAfter.IsZero() {
			n++
		}
	}
	return n
}

func ms(t time.Time) clickup.Millis { return clickup.Millis(t.UnixMilli()) }

func task(id, name, status string, created, updated time.Time) clickup.Task {
	return clickup.Task{
		ID:          id,
		Name:        name,
		Status:      &clickup.TaskStatus{Status: status, Color: "#000"},
		DateCreated: ms(created),
		DateUpdated: ms(updated),
	}
}

func taskSeries(prefix string, n int, created, updated time.Time) []clickup.Task {
	out := make([]clickup.Task, n)
	for i := range out {
		out[i] = task(fmt.Sprintf("%s%02d", prefix, i), fmt.Sprintf("Entrega %d", i), "em rota", created, updated)
	}
	return out
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []alert.Event
}

func (n *recordingNotifier) Notify(ctx context.Context, ev alert.Event) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, ev)
	return nil
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.events)
}

type stubRoutes struct {
	mu     sync.Mutex
	stops  map[string][]map[string]any
	fail   map[string]error
	called []string
	// onCall runs after each query is recorded
	onCall func(routeKey string)
}

func (r *stubRoutes) QueryRoute(ctx context.Context, routeKey string, q greenmile.RouteQuery) ([]map[string]any, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.called = append(r.called, routeKey)
	if r.onCall != nil {
		r.onCall(routeKey)
	}
	if err := r.fail[routeKey]; err != nil {
		return nil, err
	}
	return r.stops[routeKey], nil
}

type stubStatusClient struct {
	err   error
	calls []string
}

func (c *stubStatusClient) UpdateTaskStatus(ctx context.Context, taskID, status string) error {
	c.calls = append(c.calls, taskID+"="+status)
	return c.err
}

// listRouter dispatches ListTasks to one stubLister per list id.
type listRouter map[string]*stubLister

func (r listRouter) ListTasks(ctx context.Context, listID string, params clickup.ListTasksParams) ([]clickup.Task, error) {
	l, ok := r[listID]
	if !ok {
		return nil, nil
	}
	return l.ListTasks(ctx, listID, params)
}

type fakeArchiver struct {
	mu    sync.Mutex
	snaps []string
}

func (a *fakeArchiver) Archive(ctx context.Context, snap backup.Snapshot) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	key := fmt.Sprintf("%s/%d", snap.Collection, len(a.snaps))
	a.snaps = append(a.snaps, key)
	return key, nil
}
