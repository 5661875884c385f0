package app

import (
	"context"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"fleetsync/internal/alert"
	"fleetsync/internal/backup"
	"fleetsync/internal/cache"
	"fleetsync/internal/client/clickup"
	"fleetsync/internal/client/greenmile"
	"fleetsync/internal/config"
	"fleetsync/internal/db"
	"fleetsync/internal/logger"
	"fleetsync/internal/opslog"
	"fleetsync/internal/reconcile"
	gormrepository "fleetsync/internal/repository/gorm"
	"fleetsync/internal/safety"
	"fleetsync/internal/service"
	"fleetsync/internal/source"
)

// App holds every long-lived dependency of the daemon and the CLI.
type App struct {
	Config config.Config
	Logger *zap.Logger
	DB     *db.DB
	Store  *gormrepository.Store
	Redis  *redis.Client
	Cache  cache.Store
	Locker cache.Locker
	Ops    *opslog.Client

	Settings    *service.SystemSettingsService
	Collections *service.CollectionSyncService
	// Routes is nil unless greenmile.enabled is set.
	Routes      *service.RouteSyncService
	Tasks       *service.TaskStatusService
	Occurrences *service.OccurrenceService
}

// LoadConfig reads FS_CONFIG (default config/config.yaml) with env
// overrides; FS_ENV_ONLY=true skips the file.
func LoadConfig() (config.Config, error) {
	if err := config.LoadDotEnv(); err != nil {
		return config.Config{}, err
	}
	cfgPath := os.Getenv("FS_CONFIG")
	if cfgPath == "" {
		cfgPath = "config/config.yaml"
	}
	envOnly := false
	if raw := os.Getenv("FS_ENV_ONLY"); raw != "" {
		envOnly = strings.EqualFold(raw, "true") || raw == "1"
	}
	return config.Load(cfgPath, envOnly)
}

func New(ctx context.Context, cfg config.Config) (*App, error) {
	log, err := logger.New(cfg.Log)
	if err != nil {
		return nil, err
	}
	a := &App{Config: cfg, Logger: log}

	dbConn, err := db.Open(cfg.DB)
	if err != nil {
		return nil, err
	}
	a.DB = dbConn
	if err := db.SetTimezone(dbConn, cfg.DB.Timezone); err != nil {
		log.Warn("failed to set timezone", zap.Error(err))
	}
	if err := db.AutoMigrate(dbConn); err != nil {
		_ = db.Close(dbConn)
		return nil, err
	}
	a.Store = gormrepository.New(dbConn.Gorm)

	a.initCache(ctx)
	a.Ops = initOpsLog(ctx, cfg.OpsLog, log)

	a.Settings = &service.SystemSettingsService{Repo: a.Store}
	if err := a.Settings.EnsureDefaultSwitches(ctx); err != nil {
		log.Warn("init default feature switches failed", zap.Error(err))
	}

	alerts := alert.New(cfg.Alert)
	archiver := initBackup(ctx, cfg.Backup, log)
	gate := safety.NewGate(cfg.Safety.MinOriginal, cfg.Safety.MaxShrink)

	clickHTTP := &http.Client{Timeout: cfg.ClickUp.Timeout}
	clickClient := clickup.NewClient(clickHTTP, cfg.ClickUp.BaseURL, cfg.ClickUp.Token)
	if strings.TrimSpace(cfg.ClickUp.Token) == "" {
		log.Warn("clickup token is empty; upstream calls will be rejected")
	}

	seed := cfg.Reconcile.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	a.Collections = &service.CollectionSyncService{
		Store: a.Store,
		Source: &source.TaskSource{
			Client:    clickClient,
			PageSize:  cfg.ClickUp.PageSize,
			PageDelay: cfg.ClickUp.PageDelay,
			MaxPages:  cfg.ClickUp.MaxPages,
			Logger:    log,
		},
		Reconcile: &reconcile.Engine{
			Policy: reconcile.Policy{
				Probability:      cfg.Reconcile.Probability,
				ForceShrinkRatio: cfg.Reconcile.ForceShrinkRatio,
				MaxInterval:      cfg.Reconcile.MaxInterval,
			},
			Sample: reconcile.NewSeededSampler(seed),
			Logger: log,
		},
		Gate:        gate,
		Locker:      a.Locker,
		Backup:      archiver,
		Alerts:      alerts,
		Ops:         a.Ops,
		Collections: cfg.Collections,
		Sync:        cfg.Sync,
		Logger:      log,
	}

	if cfg.GreenMile.Enabled {
		gmHTTP := &http.Client{Timeout: cfg.GreenMile.Timeout}
		gmClient := greenmile.NewClient(gmHTTP, cfg.GreenMile.BaseURL, cfg.GreenMile.Username, cfg.GreenMile.Password, a.Cache)
		gmClient.Logger = log
		a.Routes = &service.RouteSyncService{
			Store:   a.Store,
			Client:  gmClient,
			Gate:    safety.NewGate(cfg.Safety.RouteMinOriginal, cfg.Safety.MaxShrink),
			Locker:  a.Locker,
			Backup:  archiver,
			Alerts:  alerts,
			Ops:     a.Ops,
			Config:  cfg.GreenMile,
			LockTTL: cfg.Sync.LockTTL,
			Logger:  log,
		}
	}

	a.Tasks = &service.TaskStatusService{
		Client:     clickClient,
		Store:      a.Store,
		Collection: cfg.ClickUp.TaskCollection,
		Ops:        a.Ops,
		Logger:     log,
	}
	a.Occurrences = &service.OccurrenceService{Repo: a.Store, Logger: log}
	return a, nil
}

// initCache uses Redis when configured and reachable, the in-process store
// otherwise. Leases then only protect against overlap inside this process.
func (a *App) initCache(ctx context.Context) {
	backend := cache.NewMemoryBackend()
	if addr := strings.TrimSpace(a.Config.Redis.Addr); addr != "" {
		pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		rb, err := cache.NewRedisBackend(pingCtx, &redis.Options{
			Addr:     addr,
			Password: a.Config.Redis.Password,
			DB:       a.Config.Redis.DB,
		})
		cancel()
		if err != nil {
			a.Logger.Warn("redis unreachable, using in-process cache", zap.String("addr", addr), zap.Error(err))
		} else {
			backend = rb
			a.Logger.Info("redis cache enabled", zap.String("addr", addr))
		}
	}
	a.Redis = backend.Redis
	a.Cache = backend.Store
	a.Locker = backend.Locker
}

func initOpsLog(ctx context.Context, cfg config.OpsLogConfig, log *zap.Logger) *opslog.Client {
	c := opslog.New(cfg)
	if c == nil {
		return nil
	}
	loginCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := c.Login(loginCtx); err != nil {
		log.Warn("ops log login failed (ops log disabled)", zap.Error(err))
		return nil
	}
	log.Info("ops log login ok")
	return c
}

func initBackup(ctx context.Context, cfg config.BackupConfig, log *zap.Logger) backup.Archiver {
	if !cfg.Enabled {
		return nil
	}
	archiver, err := backup.NewS3Archiver(ctx, cfg)
	if err != nil {
		log.Warn("backup disabled", zap.Error(err))
		return nil
	}
	log.Info("pre-write backups enabled", zap.String("bucket", cfg.Bucket))
	return archiver
}

func (a *App) Close() {
	if a == nil {
		return
	}
	if a.Redis != nil {
		_ = a.Redis.Close()
	}
	_ = db.Close(a.DB)
	if a.Logger != nil {
		_ = a.Logger.Sync()
	}
}
