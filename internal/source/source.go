package source

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"fleetsync/internal/client/clickup"
)

type Mode string

const (
	ModeIncremental Mode = "incremental"
	ModeFullScan    Mode = "full_scan"
)

const (
	DefaultPageSize  = 100
	DefaultPageDelay = 50 * time.Millisecond
	DefaultMaxPages  = 1000
)

// ErrStopPaging can be returned from a page callback to end iteration early
// without marking the fetch incomplete.
var ErrStopPaging = errors.New("stop paging")

type TaskLister interface {
	ListTasks(ctx context.Context, listID string, params clickup.ListTasksParams) ([]clickup.Task, error)
}

// Outcome describes how a paged fetch ended. Complete is false when an
// upstream error, the page ceiling or cancellation cut the fetch short; Err
// carries the cause.
type Outcome struct {
	Pages    int   `json:"pages"`
	Items    int   `json:"items"`
	Complete bool  `json:"complete"`
	Err      error `json:"-"`
}

type TaskSource struct {
	Client    TaskLister
	PageSize  int
	PageDelay time.Duration
	MaxPages  int
	Logger    *zap.Logger
}

// Pages walks the list page by page, handing each non-empty page to fn.
// Upstream failures end the walk softly: they are logged and reported in
// the Outcome, never returned to fn.
func (s *TaskSource) Pages(ctx context.Context, listID string, since time.Time, mode Mode, fn func(page int, tasks []clickup.Task) error) Outcome {
	pageSize := s.PageSize
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	maxPages := s.MaxPages
	if maxPages <= 0 {
		maxPages = DefaultMaxPages
	}
	params := clickup.ListTasksParams{}
	if mode != ModeFullScan {
		params.UpdatedAfter = since
	}

	var out Outcome
	for page := 0; page < maxPages; page++ {
		if page > 0 && s.PageDelay > 0 {
			select {
			case <-ctx.Done():
				out.Err = ctx.Err()
				return out
			case <-time.After(s.PageDelay):
			}
		}
		params.Page = page
		tasks, err := s.Client.ListTasks(ctx, listID, params)
		if err != nil {
			s.logger().Warn("task page fetch failed, keeping partial result",
				zap.String("list_id", listID),
				zap.Int("page", page),
				zap.Int("items", out.Items),
				zap.Error(err),
			)
			out.Err = err
			return out
		}
		out.Pages++
		if len(tasks) == 0 {
			out.Complete = true
			return out
		}
		out.Items += len(tasks)
		if err := fn(page, tasks); err != nil {
			if errors.Is(err, ErrStopPaging) {
				out.Complete = true
				return out
			}
			out.Err = err
			return out
		}
		if len(tasks) < pageSize {
			out.Complete = true
			return out
		}
	}
	s.logger().Warn("task fetch hit page ceiling",
		zap.String("list_id", listID),
		zap.Int("max_pages", maxPages),
	)
	out.Err = errors.New("page ceiling reached")
	return out
}

// Fetch collects every task Pages yields.
func (s *TaskSource) Fetch(ctx context.Context, listID string, since time.Time, mode Mode) ([]clickup.Task, Outcome) {
	var all []clickup.Task
	out := s.Pages(ctx, listID, since, mode, func(_ int, tasks []clickup.Task) error {
		all = append(all, tasks...)
		return nil
	})
	return all, out
}

func (s *TaskSource) logger() *zap.Logger {
	if s.Logger == nil {
		return zap.NewNop()
	}
	return s.Logger
}
