package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"fleetsync/internal/app"

	_ "fleetsync/docs"
)

func main() {
	cfg, err := app.LoadConfig()
	if err != nil {
		panic(err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg)
	if err != nil {
		panic(err)
	}
	defer a.Close()
	logger := a.Logger

	if cfg.Cron.Enabled {
		runner := a.Schedule(ctx)
		runner.Start()
		defer runner.Stop()
		logger.Info("cron started",
			zap.String("collection_sync", cfg.Cron.CollectionSync),
			zap.String("route_sync", cfg.Cron.RouteSync),
			zap.Bool("routes_enabled", a.Routes != nil),
		)
	} else {
		logger.Info("cron disabled; sync runs only through the api")
	}

	srv := &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           a.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server starting", zap.String("addr", cfg.Server.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown requested")
	case err := <-errCh:
		logger.Error("server error", zap.Error(err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
}
