package cronrunner

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

type Runner struct {
	cron    *cron.Cron
	logger  *zap.Logger
	baseCtx context.Context
}

// New builds a runner whose jobs receive baseCtx. Specs accept an optional
// seconds field and the @every descriptors.
func New(logger *zap.Logger, baseCtx context.Context) *Runner {
	if baseCtx == nil {
		baseCtx = context.Background()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{
		cron:    cron.New(cron.WithParser(cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor))),
		logger:  logger,
		baseCtx: baseCtx,
	}
}

// Add registers job under name. A run that is still going when the next tick
// fires makes that tick a no-op, and a panic is logged instead of killing
// the scheduler.
func (r *Runner) Add(name, spec string, job func(context.Context)) (cron.EntryID, error) {
	var running atomic.Bool
	return r.cron.AddFunc(spec, func() {
		if r.baseCtx.Err() != nil {
			return
		}
		if !running.CompareAndSwap(false, true) {
			r.logger.Info("cron job skipped: previous run still active", zap.String("job", name))
			return
		}
		defer running.Store(false)
		defer func() {
			if p := recover(); p != nil {
				r.logger.Error("cron job panicked", zap.String("job", name), zap.Any("panic", p))
			}
		}()
		start := time.Now()
		job(r.baseCtx)
		r.logger.Debug("cron job finished", zap.String("job", name), zap.Duration("took", time.Since(start)))
	})
}

func (r *Runner) Start() {
	r.logger.Info("cron started", zap.Int("jobs", len(r.cron.Entries())))
	r.cron.Start()
}

func (r *Runner) Stop() {
	ctx := r.cron.Stop()
	<-ctx.Done()
	r.logger.Info("cron stopped")
}
