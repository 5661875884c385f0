package config

import (
	"errors"
	"os"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	App         AppConfig          `mapstructure:"app"`
	Server      ServerConfig       `mapstructure:"server"`
	Log         LogConfig          `mapstructure:"log"`
	DB          DBConfig           `mapstructure:"db"`
	Redis       RedisConfig        `mapstructure:"redis"`
	Cron        CronConfig         `mapstructure:"cron"`
	ClickUp     ClickUpConfig      `mapstructure:"clickup"`
	GreenMile   GreenMileConfig    `mapstructure:"greenmile"`
	Sync        SyncConfig         `mapstructure:"sync"`
	Reconcile   ReconcileConfig    `mapstructure:"reconcile"`
	Safety      SafetyConfig       `mapstructure:"safety"`
	Collections []CollectionConfig `mapstructure:"collections"`
	Backup      BackupConfig       `mapstructure:"backup"`
	Alert       AlertConfig        `mapstructure:"alert"`
	OpsLog      OpsLogConfig       `mapstructure:"ops_log"`
}

type AppConfig struct {
	Env string `mapstructure:"env"`
}

type ServerConfig struct {
	HTTPAddr     string `mapstructure:"http_addr"`
	AuthDisabled bool   `mapstructure:"auth_disabled"`
	// APIToken, when set, is the bearer token /api routes require.
	APIToken string `mapstructure:"api_token"`
}

type LogConfig struct {
	Level             string `mapstructure:"level"`
	Encoding          string `mapstructure:"encoding"`
	Development       bool   `mapstructure:"development"`
	Sampling          bool   `mapstructure:"sampling"`
	DisableCaller     bool   `mapstructure:"disable_caller"`
	DisableStacktrace bool   `mapstructure:"disable_stacktrace"`
	// File enables a rotated log file next to stdout.
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
}

type DBConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
	Timezone        string        `mapstructure:"timezone"`
}

// RedisConfig selects the shared cache and lease backend. An empty Addr
// falls back to an in-process store.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type CronConfig struct {
	Enabled        bool   `mapstructure:"enabled"`
	CollectionSync string `mapstructure:"collection_sync"`
	RouteSync      string `mapstructure:"route_sync"`
}

type ClickUpConfig struct {
	BaseURL   string        `mapstructure:"base_url"`
	Token     string        `mapstructure:"token"`
	Timeout   time.Duration `mapstructure:"timeout"`
	PageSize  int           `mapstructure:"page_size"`
	PageDelay time.Duration `mapstructure:"page_delay"`
	MaxPages  int           `mapstructure:"max_pages"`
	// TaskCollection is the collection whose rows task status updates patch.
	TaskCollection string `mapstructure:"task_collection"`
}

type GreenMileConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	BaseURL        string        `mapstructure:"base_url"`
	Username       string        `mapstructure:"username"`
	Password       string        `mapstructure:"password"`
	Timeout        time.Duration `mapstructure:"timeout"`
	BatchSize      int           `mapstructure:"batch_size"`
	BatchDelay     time.Duration `mapstructure:"batch_delay"`
	MaxResults     int           `mapstructure:"max_results"`
	RoutePrefix    string        `mapstructure:"route_prefix"`
	MinDate        time.Time     `mapstructure:"min_date"`
	Collection     string        `mapstructure:"collection"`
	DeliveriesFrom string        `mapstructure:"deliveries_from"`
}

type SyncConfig struct {
	MinDate         time.Time     `mapstructure:"min_date"`
	Overlap         time.Duration `mapstructure:"overlap"`
	IgnoredStatuses []string      `mapstructure:"ignored_statuses"`
	LockTTL         time.Duration `mapstructure:"lock_ttl"`
}

type ReconcileConfig struct {
	Probability      float64       `mapstructure:"probability"`
	ForceShrinkRatio float64       `mapstructure:"force_shrink_ratio"`
	MaxInterval      time.Duration `mapstructure:"max_interval"`
	// Seed makes the sampling reproducible; zero seeds from the clock.
	Seed int64 `mapstructure:"seed"`
}

type SafetyConfig struct {
	MinOriginal int     `mapstructure:"min_original"`
	MaxShrink   float64 `mapstructure:"max_shrink"`
	// RouteMinOriginal applies to the GreenMile stop dataset, which has no
	// reconcile to fall back on.
	RouteMinOriginal int `mapstructure:"route_min_original"`
}

type CollectionConfig struct {
	Name   string `mapstructure:"name"`
	ListID string `mapstructure:"list_id"`
	// Mode is "incremental" or "full_scan".
	Mode       string    `mapstructure:"mode"`
	Unfiltered bool      `mapstructure:"unfiltered"`
	MinDate    time.Time `mapstructure:"min_date"`
}

type BackupConfig struct {
	Enabled         bool   `mapstructure:"enabled"`
	Bucket          string `mapstructure:"bucket"`
	Prefix          string `mapstructure:"prefix"`
	Region          string `mapstructure:"region"`
	Endpoint        string `mapstructure:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	UsePathStyle    bool   `mapstructure:"use_path_style"`
}

type AlertConfig struct {
	WebhookURL string        `mapstructure:"webhook_url"`
	Timeout    time.Duration `mapstructure:"timeout"`
	SMTP       SMTPConfig    `mapstructure:"smtp"`
}

type SMTPConfig struct {
	Host     string   `mapstructure:"host"`
	Port     int      `mapstructure:"port"`
	Username string   `mapstructure:"username"`
	Password string   `mapstructure:"password"`
	From     string   `mapstructure:"from"`
	To       []string `mapstructure:"to"`
}

// OpsLogConfig points at the external operations log the service reports
// cycle outcomes to. Empty BaseURL disables it.
type OpsLogConfig struct {
	BaseURL string `mapstructure:"base_url"`
	APIKey  string `mapstructure:"api_key"`
	Agent   string `mapstructure:"agent"`
}

func DefaultCollections() []map[string]any {
	return []map[string]any{
		{"name": "ENTREGAS", "list_id": "901314444197", "mode": "incremental", "unfiltered": false},
		{"name": "MOTORISTAS", "list_id": "901310964393", "mode": "full_scan", "unfiltered": true},
		{"name": "OCORRENCIAS", "list_id": "901314625278", "mode": "incremental", "unfiltered": false},
	}
}

// LoadDotEnv reads a local .env into the process environment outside
// production. A missing file is not an error.
func LoadDotEnv(paths ...string) error {
	if strings.EqualFold(os.Getenv("FS_APP_ENV"), "prod") {
		return nil
	}
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			return err
		}
	}
	return nil
}

func Load(path string, envOnly bool) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("FS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.AutomaticEnv()
	v.SetDefault("app.env", "dev")
	v.SetDefault("server.http_addr", ":8080")
	v.SetDefault("server.auth_disabled", false)
	v.SetDefault("server.api_token", "")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.encoding", "console")
	v.SetDefault("log.development", true)
	v.SetDefault("log.sampling", false)
	v.SetDefault("log.disable_caller", false)
	v.SetDefault("log.disable_stacktrace", false)
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size_mb", 50)
	v.SetDefault("log.max_backups", 5)
	v.SetDefault("log.max_age_days", 14)
	v.SetDefault("db.dsn", "")
	v.SetDefault("db.max_open_conns", 10)
	v.SetDefault("db.max_idle_conns", 5)
	v.SetDefault("db.conn_max_lifetime", "30m")
	v.SetDefault("db.conn_max_idle_time", "5m")
	v.SetDefault("db.timezone", "America/Sao_Paulo")
	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("cron.enabled", true)
	v.SetDefault("cron.collection_sync", "@every 1m")
	v.SetDefault("cron.route_sync", "@every 5m")

	v.SetDefault("clickup.base_url", "https://api.clickup.com/api/v2")
	v.SetDefault("clickup.token", "")
	v.SetDefault("clickup.timeout", "30s")
	v.SetDefault("clickup.page_size", 100)
	v.SetDefault("clickup.page_delay", "50ms")
	v.SetDefault("clickup.max_pages", 1000)
	v.SetDefault("clickup.task_collection", "ENTREGAS")

	v.SetDefault("greenmile.enabled", false)
	v.SetDefault("greenmile.base_url", "")
	v.SetDefault("greenmile.username", "")
	v.SetDefault("greenmile.password", "")
	v.SetDefault("greenmile.timeout", "60s")
	v.SetDefault("greenmile.batch_size", 120)
	v.SetDefault("greenmile.batch_delay", "100ms")
	v.SetDefault("greenmile.max_results", 1000)
	v.SetDefault("greenmile.route_prefix", "610")
	v.SetDefault("greenmile.min_date", "2025-12-01T00:00:00Z")
	v.SetDefault("greenmile.collection", "GREENMILE")
	v.SetDefault("greenmile.deliveries_from", "ENTREGAS")

	v.SetDefault("sync.min_date", "2025-12-01T00:00:00Z")
	v.SetDefault("sync.overlap", "10m")
	v.SetDefault("sync.ignored_statuses", []string{"sinistro", "cancelado"})
	v.SetDefault("sync.lock_ttl", "10m")

	v.SetDefault("reconcile.probability", 0.10)
	v.SetDefault("reconcile.force_shrink_ratio", 0.20)
	v.SetDefault("reconcile.max_interval", "24h")
	v.SetDefault("reconcile.seed", 0)

	v.SetDefault("safety.min_original", 10)
	v.SetDefault("safety.max_shrink", 0.20)
	v.SetDefault("safety.route_min_original", 0)

	v.SetDefault("collections", DefaultCollections())

	v.SetDefault("backup.enabled", false)
	v.SetDefault("backup.bucket", "")
	v.SetDefault("backup.endpoint", "")
	v.SetDefault("backup.access_key_id", "")
	v.SetDefault("backup.secret_access_key", "")
	v.SetDefault("backup.prefix", "fleetsync/snapshots")
	v.SetDefault("backup.region", "us-east-1")
	v.SetDefault("backup.use_path_style", false)

	v.SetDefault("alert.webhook_url", "")
	v.SetDefault("alert.timeout", "5s")
	v.SetDefault("alert.smtp.host", "")
	v.SetDefault("alert.smtp.port", 587)
	v.SetDefault("alert.smtp.username", "")
	v.SetDefault("alert.smtp.password", "")
	v.SetDefault("alert.smtp.from", "")
	v.SetDefault("alert.smtp.to", []string{})

	v.SetDefault("ops_log.base_url", "")
	v.SetDefault("ops_log.api_key", "")
	v.SetDefault("ops_log.agent", "fleetsync")

	if !envOnly {
		if err := v.ReadInConfig(); err != nil {
			return Config{}, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeHookFunc(time.RFC3339),
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// Collection looks a collection up by name, case-insensitively.
func (c Config) Collection(name string) (CollectionConfig, bool) {
	name = strings.TrimSpace(name)
	for _, col := range c.Collections {
		if strings.EqualFold(col.Name, name) {
			return col, true
		}
	}
	return CollectionConfig{}, false
}
