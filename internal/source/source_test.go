package source

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"fleetsync/internal/client/clickup"
)

type stubLister struct {
	pages  [][]clickup.Task
	failAt int
	calls  []clickup.ListTasksParams
}

func (s *stubLister) ListTasks(ctx context.Context, listID string, params clickup.ListTasksParams) ([]clickup.Task, error) {
	s.calls = append(s.calls, params)
	if s.failAt > 0 && params.Page == s.failAt {
		return nil, &clickup.APIError{Status: 500, Body: "boom"}
	}
	if params.Page >= len(s.pages) {
		return nil, nil
	}
	return s.pages[params.Page], nil
}

func tasks(prefix string, n int) []clickup.Task {
	out := make([]clickup.Task, n)
	for i := range out {
		out[i] = clickup.Task{ID: fmt.Sprintf("%s-%d", prefix, i)}
	}
	return out
}

func TestFetch_StopsOnShortPage(t *testing.T) {
	lister := &stubLister{pages: [][]clickup.Task{tasks("a", 100), tasks("b", 100), tasks("c", 37)}}
	src := &TaskSource{Client: lister}
	got, out := src.Fetch(context.Background(), "list", time.Time{}, ModeFullScan)
	if len(got) != 237 {
		t.Fatalf("items=%d want 237", len(got))
	}
	if !out.Complete || out.Pages != 3 {
		t.Fatalf("outcome=%+v", out)
	}
	if len(lister.calls) != 3 {
		t.Fatalf("calls=%d want 3", len(lister.calls))
	}
}

func TestFetch_StopsOnEmptyPage(t *testing.T) {
	lister := &stubLister{pages: [][]clickup.Task{tasks("a", 100)}}
	src := &TaskSource{Client: lister}
	got, out := src.Fetch(context.Background(), "list", time.Time{}, ModeFullScan)
	if len(got) != 100 || !out.Complete || out.Pages != 2 {
		t.Fatalf("items=%d outcome=%+v", len(got), out)
	}
}

func TestFetch_SoftFailureKeepsPartial(t *testing.T) {
	lister := &stubLister{pages: [][]clickup.Task{tasks("a", 100), tasks("b", 100), tasks("c", 100)}, failAt: 2}
	src := &TaskSource{Client: lister}
	got, out := src.Fetch(context.Background(), "list", time.Time{}, ModeIncremental)
	if len(got) != 200 {
		t.Fatalf("items=%d want 200", len(got))
	}
	if out.Complete {
		t.Fatalf("outcome should be incomplete")
	}
	var apiErr *clickup.APIError
	if !errors.As(out.Err, &apiErr) {
		t.Fatalf("err=%v want APIError", out.Err)
	}
}

func TestFetch_IncrementalSendsSince(t *testing.T) {
	since := time.Date(2025, 12, 5, 0, 0, 0, 0, time.UTC)
	lister := &stubLister{pages: [][]clickup.Task{tasks("a", 3)}}
	src := &TaskSource{Client: lister}
	src.Fetch(context.Background(), "list", since, ModeIncremental)
	if !lister.calls[0].UpdatedAfter.Equal(since) {
		t.Fatalf("since=%v want %v", lister.calls[0].UpdatedAfter, since)
	}

	lister = &stubLister{pages: [][]clickup.Task{tasks("a", 3)}}
	src.Client = lister
	src.Fetch(context.Background(), "list", since, ModeFullScan)
	if !lister.calls[0].UpdatedAfter.IsZero() {
		t.Fatalf("full scan must not send since")
	}
}

func TestFetch_PageCeiling(t *testing.T) {
	lister := &stubLister{pages: [][]clickup.Task{tasks("a", 100), tasks("b", 100), tasks("c", 100)}}
	src := &TaskSource{Client: lister, MaxPages: 2}
	got, out := src.Fetch(context.Background(), "list", time.Time{}, ModeFullScan)
	if len(got) != 200 || out.Complete || out.Err == nil {
		t.Fatalf("items=%d outcome=%+v", len(got), out)
	}
}

func TestFetch_CancelledDuringDelay(t *testing.T) {
	lister := &stubLister{pages: [][]clickup.Task{tasks("a", 100), tasks("b", 100)}}
	src := &TaskSource{Client: lister, PageDelay: time.Hour}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, out := src.Fetch(ctx, "list", time.Time{}, ModeFullScan)
	if out.Complete || !errors.Is(out.Err, context.Canceled) {
		t.Fatalf("outcome=%+v", out)
	}
}
