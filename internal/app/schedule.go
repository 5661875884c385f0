package app

import (
	"context"

	"go.uber.org/zap"

	cronrunner "fleetsync/internal/cron"
	"fleetsync/internal/opslog"
	"fleetsync/internal/service"
)

// Schedule registers the sync jobs. Each tick checks its feature switch so
// operators can pause a job without a restart.
func (a *App) Schedule(ctx context.Context) *cronrunner.Runner {
	baseCtx := ctx
	if a.Ops != nil {
		baseCtx = opslog.WithClient(ctx, a.Ops)
	}
	runner := cronrunner.New(a.Logger, baseCtx)

	_, err := runner.Add("collection_sync", a.Config.Cron.CollectionSync, func(ctx context.Context) {
		if !a.Settings.IsEnabled(ctx, service.FeatureCollectionSync, true) {
			return
		}
		failed := 0
		for _, r := range a.Collections.RunAll(ctx) {
			if r.Error != "" {
				failed++
			}
		}
		if failed > 0 {
			a.Logger.Warn("cron collection sync finished with failures", zap.Int("failed", failed))
		}
	})
	if err != nil {
		a.Logger.Warn("cron register collection sync failed", zap.Error(err))
	}

	if a.Routes != nil {
		_, err = runner.Add("route_sync", a.Config.Cron.RouteSync, func(ctx context.Context) {
			if !a.Settings.IsEnabled(ctx, service.FeatureRouteSync, false) {
				return
			}
			if _, err := a.Routes.Sync(ctx); err != nil {
				a.Logger.Warn("cron route sync failed", zap.Error(err))
			}
		})
		if err != nil {
			a.Logger.Warn("cron register route sync failed", zap.Error(err))
		}
	}
	return runner
}
