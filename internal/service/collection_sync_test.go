package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"testing"
	"time"

	"fleetsync/internal/cache"
	"fleetsync/internal/client/clickup"
	"fleetsync/internal/config"
	"fleetsync/internal/reconcile"
	"fleetsync/internal/record"
	"fleetsync/internal/safety"
	"fleetsync/internal/source"
)

var (
	testMinDate = time.Date(2025, 12, 1, 0, 0, 0, 0, time.UTC)
	testNow     = time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)
	oldCreated  = time.Date(2025, 12, 2, 8, 0, 0, 0, time.UTC)
)

const (
	deliveries = "ENTREGAS"
	drivers    = "MOTORISTAS"
)

type collectionFixture struct {
	svc      *CollectionSyncService
	store    *stubStore
	lists    listRouter
	alerts   *recordingNotifier
	archiver *fakeArchiver
	clock    time.Time
}

func newCollectionFixture(policy reconcile.Policy) *collectionFixture {
	f := &collectionFixture{
		store:    newStubStore(),
		lists:    listRouter{"L-ENT": &stubLister{}, "L-MOT": &stubLister{}},
		alerts:   &recordingNotifier{},
		archiver: &fakeArchiver{},
		clock:    testNow,
	}
	f.svc = &CollectionSyncService{
		Store:     f.store,
		Source:    &source.TaskSource{Client: f.lists, PageSize: 100},
		Reconcile: &reconcile.Engine{Policy: policy},
		Gate:      safety.NewGate(10, 0.20),
		Locker:    cache.NewMemoryLocker(),
		Backup:    f.archiver,
		Alerts:    f.alerts,
		Collections: []config.CollectionConfig{
			{Name: deliveries, ListID: "L-ENT", Mode: "incremental"},
			{Name: drivers, ListID: "L-MOT", Mode: "full_scan", Unfiltered: true},
		},
		Sync: config.SyncConfig{
			MinDate:         testMinDate,
			Overlap:         10 * time.Minute,
			IgnoredStatuses: []string{"sinistro", "cancelado"},
			LockTTL:         time.Minute,
		},
		Now: func() time.Time { return f.clock },
	}
	return f
}

func seedRecords(prefix string, n int) []record.Record {
	out := make([]record.Record, n)
	for i := range out {
		r := record.New(fmt.Sprintf("%s%02d", prefix, i))
		r.Set(record.ColName, fmt.Sprintf("Entrega %d", i))
		out[i] = r
	}
	return out
}

func TestEffectiveStart(t *testing.T) {
	overlap := 10 * time.Minute
	msText := func(t time.Time) string { return strconv.FormatInt(t.UnixMilli(), 10) }
	cases := []struct {
		name  string
		raw   string
		found bool
		want  time.Time
	}{
		{"absent", "", false, testMinDate},
		{"corrupt", "yesterday", true, testMinDate},
		{"normal", msText(testNow.Add(-time.Hour)), true, testNow.Add(-time.Hour - overlap)},
		{"future clamped", msText(testNow.Add(48 * time.Hour)), true, testNow.Add(-overlap)},
		{"overlap floors at min date", msText(testMinDate.Add(5 * time.Minute)), true, testMinDate},
		{"before min date", msText(testMinDate.Add(-72 * time.Hour)), true, testMinDate},
	}
	for _, tc := range cases {
		got := EffectiveStart(tc.raw, tc.found, testMinDate, testNow, overlap)
		if !got.Equal(tc.want) {
			t.Fatalf("%s: start=%v want=%v", tc.name, got, tc.want)
		}
	}
}

func TestSyncCollection_IncrementalMergesUpdatesAndInserts(t *testing.T) {
	f := newCollectionFixture(reconcile.Policy{})
	ctx := context.Background()
	lister := f.lists["L-ENT"]
	lister.tasks = taskSeries("T", 50, oldCreated, oldCreated)

	first, err := f.svc.SyncCollection(ctx, deliveries)
	if err != nil {
		t.Fatalf("first cycle err=%v", err)
	}
	if first.Inserted != 50 || first.Final != 50 || !first.Written || !first.WatermarkAdvanced {
		t.Fatalf("first report=%+v", first)
	}
	wm, _, _ := f.store.GetWatermark(ctx, deliveries)
	if wm != strconv.FormatInt(testNow.UnixMilli(), 10) {
		t.Fatalf("watermark=%q", wm)
	}

	f.clock = testNow.Add(time.Hour)
	edited := testNow.Add(30 * time.Minute)
	for i := 0; i < 5; i++ {
		lister.tasks[i].Name = fmt.Sprintf("Entrega %d (editada)", i)
		lister.tasks[i].DateUpdated = ms(edited)
	}
	lister.tasks = append(lister.tasks,
		task("N1", "Nova 1", "em rota", edited, edited),
		task("N2", "Nova 2", "em rota", edited, edited),
	)

	second, err := f.svc.SyncCollection(ctx, deliveries)
	if err != nil {
		t.Fatalf("second cycle err=%v", err)
	}
	if second.Fetch.Items != 7 {
		t.Fatalf("fetched=%d want 7", second.Fetch.Items)
	}
	if second.Inserted != 2 || second.Updated != 5 || second.Final != 52 {
		t.Fatalf("second report=%+v", second)
	}
	wantSince := testNow.Add(-10 * time.Minute)
	if !second.Since.Equal(wantSince) {
		t.Fatalf("since=%v want=%v", second.Since, wantSince)
	}

	snap, _ := f.store.LoadCollection(ctx, deliveries)
	if len(snap.Records) != 52 {
		t.Fatalf("stored=%d want 52", len(snap.Records))
	}
	for _, r := range snap.Records {
		if r.ID == "T03" && r.Text(record.ColName) != "Entrega 3 (editada)" {
			t.Fatalf("T03 name=%q", r.Text(record.ColName))
		}
	}
	if snap.Records[50].ID != "N1" || snap.Records[51].ID != "N2" {
		t.Fatalf("new records not appended in order: %s %s", snap.Records[50].ID, snap.Records[51].ID)
	}
	if f.alerts.count() != 0 {
		t.Fatalf("alerts=%d want 0", f.alerts.count())
	}
	st, _ := f.store.GetSyncState(ctx, deliveries)
	if st == nil || st.LastSuccessAt == nil || st.LastError != nil {
		t.Fatalf("state=%+v", st)
	}
}

func TestSyncCollection_EmptyUpstreamNeverWipes(t *testing.T) {
	f := newCollectionFixture(reconcile.Policy{})
	ctx := context.Background()
	f.store.seed(drivers, seedRecords("M", 12))

	report, err := f.svc.SyncCollection(ctx, drivers)
	if !errors.Is(err, safety.ErrEmptyOverwrite) {
		t.Fatalf("err=%v want ErrEmptyOverwrite", err)
	}
	if report.Written || report.WatermarkAdvanced {
		t.Fatalf("report=%+v", report)
	}
	if f.store.replaceCalls[drivers] != 0 {
		t.Fatalf("replace calls=%d want 0", f.store.replaceCalls[drivers])
	}
	if _, found, _ := f.store.GetWatermark(ctx, drivers); found {
		t.Fatalf("watermark advanced after refused write")
	}
	if f.alerts.count() != 1 {
		t.Fatalf("alerts=%d want 1", f.alerts.count())
	}
	st, _ := f.store.GetSyncState(ctx, drivers)
	if st == nil || st.LastError == nil || st.LastSuccessAt != nil {
		t.Fatalf("state=%+v", st)
	}
	snap, _ := f.store.LoadCollection(ctx, drivers)
	if len(snap.Records) != 12 {
		t.Fatalf("stored=%d want 12", len(snap.Records))
	}
}

func TestSyncCollection_UnparseableRowsCountTowardShrink(t *testing.T) {
	f := newCollectionFixture(reconcile.Policy{})
	ctx := context.Background()
	f.store.seed(deliveries, seedRecords("T", 70))
	f.store.badRows[deliveries] = 30

	report, err := f.svc.SyncCollection(ctx, deliveries)
	if !errors.Is(err, safety.ErrUnsafeShrink) {
		t.Fatalf("err=%v want ErrUnsafeShrink", err)
	}
	if report.Decision.Original != 100 || report.Decision.Final != 70 {
		t.Fatalf("decision=%+v", report.Decision)
	}
	if f.store.replaceCalls[deliveries] != 0 {
		t.Fatalf("replace calls=%d want 0", f.store.replaceCalls[deliveries])
	}
}

func TestSyncCollection_UnparseableRowsForceShrinkReconcile(t *testing.T) {
	f := newCollectionFixture(reconcile.Policy{ForceShrinkRatio: 0.25})
	ctx := context.Background()
	f.store.seed(deliveries, seedRecords("T", 70))
	f.store.badRows[deliveries] = 30
	_ = f.store.SetWatermark(ctx, deliveries, strconv.FormatInt(testNow.Add(-time.Hour).UnixMilli(), 10))
	lister := f.lists["L-ENT"]
	lister.tasks = taskSeries("T", 70, oldCreated, oldCreated)

	report, err := f.svc.SyncCollection(ctx, deliveries)
	if err != nil {
		t.Fatalf("err=%v", err)
	}
	if report.Reconcile.Reason != reconcile.ReasonShrink || !report.Reconcile.Executed || report.Reconcile.Removed != 0 {
		t.Fatalf("reconcile=%+v", report.Reconcile)
	}
	if n := lister.fullCalls(); n != 1 {
		t.Fatalf("full listings=%d want 1", n)
	}
	if !report.Decision.Warning || report.Decision.Original != 100 || report.Decision.Final != 70 {
		t.Fatalf("decision=%+v", report.Decision)
	}
	if !report.Written || f.store.replaceCalls[deliveries] != 1 {
		t.Fatalf("written=%v replace calls=%d", report.Written, f.store.replaceCalls[deliveries])
	}
}

func TestSyncCollection_InconsistentReadAbortsBeforeFetch(t *testing.T) {
	f := newCollectionFixture(reconcile.Policy{})
	f.store.badRows[deliveries] = 5

	_, err := f.svc.SyncCollection(context.Background(), deliveries)
	if !errors.Is(err, ErrInconsistentRead) {
		t.Fatalf("err=%v want ErrInconsistentRead", err)
	}
	if n := len(f.lists["L-ENT"].calls); n != 0 {
		t.Fatalf("upstream calls=%d want 0", n)
	}
	if f.alerts.count() != 1 {
		t.Fatalf("alerts=%d want 1", f.alerts.count())
	}
}

func TestSyncCollection_IncompleteFetchKeepsWatermark(t *testing.T) {
	f := newCollectionFixture(reconcile.Policy{})
	ctx := context.Background()
	lister := f.lists["L-ENT"]
	lister.tasks = taskSeries("T", 150, oldCreated, oldCreated)
	lister.failAtPage = 1

	report, err := f.svc.SyncCollection(ctx, deliveries)
	if err != nil {
		t.Fatalf("err=%v", err)
	}
	if report.Fetch.Complete || report.Fetch.Items != 100 {
		t.Fatalf("fetch=%+v", report.Fetch)
	}
	if !report.Written || report.Final != 100 {
		t.Fatalf("report=%+v", report)
	}
	if report.WatermarkAdvanced {
		t.Fatalf("watermark advanced on incomplete fetch")
	}
	if _, found, _ := f.store.GetWatermark(ctx, deliveries); found {
		t.Fatalf("watermark stored on incomplete fetch")
	}
}

func TestSyncCollection_FullScanRemovesDeletedTasks(t *testing.T) {
	f := newCollectionFixture(reconcile.Policy{})
	ctx := context.Background()
	f.store.seed(drivers, seedRecords("M", 12))
	lister := f.lists["L-MOT"]
	lister.tasks = taskSeries("M", 11, oldCreated, oldCreated)

	report, err := f.svc.SyncCollection(ctx, drivers)
	if err != nil {
		t.Fatalf("err=%v", err)
	}
	if !report.Reconcile.Executed || report.Reconcile.Reason != reconcile.ReasonFullScan || report.Reconcile.Removed != 1 {
		t.Fatalf("reconcile=%+v", report.Reconcile)
	}
	if report.Final != 11 || !report.Written {
		t.Fatalf("report=%+v", report)
	}
	if report.BackupKey == "" {
		t.Fatalf("expected a backup before removing records")
	}
	if n := lister.fullCalls(); n != 1 {
		t.Fatalf("full listings=%d want 1 (reconcile reuses the scan)", n)
	}
	st, _ := f.store.GetSyncState(ctx, drivers)
	if st == nil || st.LastReconcileAt == nil || !st.LastReconcileAt.Equal(testNow) {
		t.Fatalf("state=%+v", st)
	}
}

func TestSyncCollection_StaleReconcileDropsDeletedTask(t *testing.T) {
	f := newCollectionFixture(reconcile.Policy{MaxInterval: 24 * time.Hour})
	ctx := context.Background()
	f.store.seed(deliveries, seedRecords("T", 12))
	_ = f.store.SetWatermark(ctx, deliveries, strconv.FormatInt(testNow.Add(-time.Hour).UnixMilli(), 10))
	lister := f.lists["L-ENT"]
	lister.tasks = taskSeries("T", 11, oldCreated, oldCreated)

	report, err := f.svc.SyncCollection(ctx, deliveries)
	if err != nil {
		t.Fatalf("err=%v", err)
	}
	if report.Fetch.Items != 0 {
		t.Fatalf("delta fetched=%d want 0", report.Fetch.Items)
	}
	if report.Reconcile.Reason != reconcile.ReasonStale || report.Reconcile.Removed != 1 {
		t.Fatalf("reconcile=%+v", report.Reconcile)
	}
	if n := lister.fullCalls(); n != 1 {
		t.Fatalf("full listings=%d want 1", n)
	}
	snap, _ := f.store.LoadCollection(ctx, deliveries)
	if len(snap.Records) != 11 {
		t.Fatalf("stored=%d want 11", len(snap.Records))
	}
}

func TestSyncCollection_FailedReconcileLeavesDataAlone(t *testing.T) {
	f := newCollectionFixture(reconcile.Policy{MaxInterval: 24 * time.Hour})
	ctx := context.Background()
	f.store.seed(deliveries, seedRecords("T", 12))
	lister := f.lists["L-ENT"]
	lister.tasks = taskSeries("T", 11, oldCreated, oldCreated)
	lister.failFull = true
	_ = f.store.SetWatermark(ctx, deliveries, strconv.FormatInt(testNow.Add(-time.Hour).UnixMilli(), 10))

	report, err := f.svc.SyncCollection(ctx, deliveries)
	if err != nil {
		t.Fatalf("err=%v", err)
	}
	if report.Reconcile.Executed || report.Final != 12 {
		t.Fatalf("report=%+v", report)
	}
	if report.Written {
		t.Fatalf("unchanged collection was rewritten")
	}
	if !report.WatermarkAdvanced {
		t.Fatalf("watermark should advance after a complete delta")
	}
	st, _ := f.store.GetSyncState(ctx, deliveries)
	if st == nil || st.LastReconcileAt != nil {
		t.Fatalf("state=%+v", st)
	}
}

func TestSyncCollection_LeaseHeld(t *testing.T) {
	f := newCollectionFixture(reconcile.Policy{})
	ctx := context.Background()
	release, err := f.svc.Locker.Acquire(ctx, "fleetsync:collection:"+deliveries, time.Minute)
	if err != nil {
		t.Fatalf("acquire err=%v", err)
	}
	defer release()

	if _, err := f.svc.SyncCollection(ctx, deliveries); !errors.Is(err, ErrCycleInProgress) {
		t.Fatalf("err=%v want ErrCycleInProgress", err)
	}
	if n := len(f.lists["L-ENT"].calls); n != 0 {
		t.Fatalf("upstream calls=%d want 0", n)
	}
}

func TestSyncCollection_Unknown(t *testing.T) {
	f := newCollectionFixture(reconcile.Policy{})
	if _, err := f.svc.SyncCollection(context.Background(), "NOPE"); !errors.Is(err, ErrUnknownCollection) {
		t.Fatalf("err=%v want ErrUnknownCollection", err)
	}
}

func TestRunAll_FailureDoesNotStopOthers(t *testing.T) {
	f := newCollectionFixture(reconcile.Policy{})
	f.store.badRows[deliveries] = 3
	f.lists["L-MOT"].tasks = taskSeries("M", 4, oldCreated, oldCreated)

	reports := f.svc.RunAll(context.Background())
	if len(reports) != 2 {
		t.Fatalf("reports=%d want 2", len(reports))
	}
	if reports[0].Collection != deliveries || reports[0].Error == "" {
		t.Fatalf("first=%+v", reports[0])
	}
	if reports[1].Collection != drivers || reports[1].Error != "" || reports[1].Final != 4 {
		t.Fatalf("second=%+v", reports[1])
	}
}

func TestResetWatermark(t *testing.T) {
	f := newCollectionFixture(reconcile.Policy{})
	ctx := context.Background()
	_ = f.store.SetWatermark(ctx, deliveries, "1767000000000")

	names, err := f.svc.ResetWatermark(ctx, "all")
	if err != nil {
		t.Fatalf("err=%v", err)
	}
	if len(names) != 2 {
		t.Fatalf("reset=%v", names)
	}
	want := strconv.FormatInt(testMinDate.UnixMilli(), 10)
	for _, name := range []string{deliveries, drivers} {
		if v, _, _ := f.store.GetWatermark(ctx, name); v != want {
			t.Fatalf("%s watermark=%q want=%q", name, v, want)
		}
	}
	if _, err := f.svc.ResetWatermark(ctx, "nope"); !errors.Is(err, ErrUnknownCollection) {
		t.Fatalf("err=%v want ErrUnknownCollection", err)
	}
}

func TestCountTasks(t *testing.T) {
	f := newCollectionFixture(reconcile.Policy{})
	parent := "T00"
	sub := task("S1", "Sub", "em rota", oldCreated, oldCreated)
	sub.Parent = &parent
	f.lists["L-ENT"].tasks = []clickup.Task{
		task("T00", "A", "em rota", oldCreated, oldCreated),
		task("T01", "B", "entregue", oldCreated, oldCreated),
		task("T02", "C", "em rota", oldCreated, oldCreated),
		task("T03", "D", "Cancelado", oldCreated, oldCreated),
		sub,
		task("T04", "E", "em rota", testMinDate.Add(-time.Hour), oldCreated),
	}

	got, err := f.svc.CountTasks(context.Background(), deliveries)
	if err != nil {
		t.Fatalf("err=%v", err)
	}
	if got.Total != 6 || got.Accepted != 4 || got.Ignored != 1 || got.Subtasks != 1 {
		t.Fatalf("count=%+v", got)
	}
	if !got.Complete || got.Pages != 1 {
		t.Fatalf("count=%+v", got)
	}
	if f.store.replaceCalls[deliveries] != 0 {
		t.Fatalf("count must not write")
	}
}
