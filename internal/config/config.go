package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	sharedcfg "github.com/couchcryptid/storm-data-shared/config"
	"github.com/couchcryptid/storm-nowcast-service/internal/domain"
	"github.com/spf13/viper"
)

// Config holds all service settings. Values come from environment variables,
// optionally layered over a YAML file named by CONFIG_FILE.
type Config struct {
	HTTPAddr        string
	LogLevel        string
	LogFormat       string
	LogFile         string
	LogMaxSizeMB    int
	LogMaxBackups   int
	LogMaxAgeDays   int
	ShutdownTimeout time.Duration

	// Nowcasting policy.
	CycleInterval        time.Duration
	ThresholdMMH         float64
	DedupWindow          time.Duration
	ActiveWarningWindow  time.Duration
	CellWorkers          int
	NotificationTimeout  time.Duration
	Categories           []domain.Category
	RegressionCategories []domain.Category
	Horizons             []domain.Horizon

	// Model artifacts.
	ArtifactRoot        string
	ModelWatch          bool
	ModelReloadDebounce time.Duration

	// Radar collaborators.
	RadarBaseURL string
	RadarTimeout time.Duration

	// Persistence.
	StoreDriver string
	SQLitePath  string
	PostgresDSN string

	// Training job status records.
	JobStore       string
	RedisAddr      string
	RedisPassword  string
	RedisDB        int
	RedisKeyPrefix string

	// Event publishing.
	KafkaEnabled          bool
	KafkaBrokers          []string
	KafkaPredictionsTopic string
	KafkaWarningsTopic    string
	BatchSize             int
	BatchFlushInterval    time.Duration

	// Warning notification.
	TelegramEnabled bool
	TelegramToken   string
	TelegramChatID  int64

	// Mapbox reverse geocoding of warning locations.
	MapboxToken     string
	MapboxEnabled   bool
	MapboxTimeout   time.Duration
	MapboxCacheSize int
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("http_addr", ":8080")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "json")
	v.SetDefault("log_file", "")
	v.SetDefault("log_max_size_mb", 100)
	v.SetDefault("log_max_backups", 3)
	v.SetDefault("log_max_age_days", 28)

	v.SetDefault("cycle_interval", "10m")
	v.SetDefault("nowcast_threshold_mm_h", 30.0)
	v.SetDefault("dedup_window", "5m")
	v.SetDefault("active_warning_window", "2h")
	v.SetDefault("cell_workers", 4)
	v.SetDefault("notification_timeout", "10s")
	v.SetDefault("storm_categories", "CC,MCC,SLD,SLP,MSL,ALL")
	v.SetDefault("regression_categories", "CC,MSL")
	v.SetDefault("forecast_horizons", "30,60")

	v.SetDefault("model_artifact_root", "./artifacts")
	v.SetDefault("model_watch", true)
	v.SetDefault("model_reload_debounce", "2s")

	v.SetDefault("radar_base_url", "http://localhost:8090")
	v.SetDefault("radar_timeout", "15s")

	v.SetDefault("store_driver", "sqlite")
	v.SetDefault("sqlite_path", "./data/nowcast.db")
	v.SetDefault("postgres_dsn", "")

	v.SetDefault("job_store", "memory")
	v.SetDefault("redis_addr", "localhost:6379")
	v.SetDefault("redis_password", "")
	v.SetDefault("redis_db", 0)
	v.SetDefault("redis_key_prefix", "storm-nowcast")

	v.SetDefault("kafka_enabled", true)
	v.SetDefault("kafka_brokers", "localhost:9092")
	v.SetDefault("kafka_predictions_topic", "rainfall-nowcasts")
	v.SetDefault("kafka_warnings_topic", "heavy-rainfall-warnings")

	v.SetDefault("telegram_enabled", false)
	v.SetDefault("telegram_token", "")
	v.SetDefault("telegram_chat_id", 0)

	v.SetDefault("mapbox_token", "")
	v.SetDefault("mapbox_timeout", "5s")
	v.SetDefault("mapbox_cache_size", 1000)
}

// Load reads configuration from environment variables and the optional
// CONFIG_FILE, applying defaults where unset.
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.AutomaticEnv()

	if path := sharedcfg.EnvOrDefault("CONFIG_FILE", ""); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read CONFIG_FILE %s: %w", path, err)
		}
	}

	shutdownTimeout, err := sharedcfg.ParseShutdownTimeout()
	if err != nil {
		return nil, err
	}
	batchSize, err := sharedcfg.ParseBatchSize()
	if err != nil {
		return nil, err
	}
	flushInterval, err := sharedcfg.ParseBatchFlushInterval()
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		HTTPAddr:        v.GetString("http_addr"),
		LogLevel:        strings.ToLower(v.GetString("log_level")),
		LogFormat:       strings.ToLower(v.GetString("log_format")),
		LogFile:         v.GetString("log_file"),
		LogMaxSizeMB:    v.GetInt("log_max_size_mb"),
		LogMaxBackups:   v.GetInt("log_max_backups"),
		LogMaxAgeDays:   v.GetInt("log_max_age_days"),
		ShutdownTimeout: shutdownTimeout,

		ThresholdMMH: v.GetFloat64("nowcast_threshold_mm_h"),
		CellWorkers:  v.GetInt("cell_workers"),

		ArtifactRoot: v.GetString("model_artifact_root"),
		ModelWatch:   v.GetBool("model_watch"),

		RadarBaseURL: strings.TrimRight(v.GetString("radar_base_url"), "/"),

		StoreDriver: strings.ToLower(v.GetString("store_driver")),
		SQLitePath:  v.GetString("sqlite_path"),
		PostgresDSN: v.GetString("postgres_dsn"),

		JobStore:       strings.ToLower(v.GetString("job_store")),
		RedisAddr:      v.GetString("redis_addr"),
		RedisPassword:  v.GetString("redis_password"),
		RedisDB:        v.GetInt("redis_db"),
		RedisKeyPrefix: v.GetString("redis_key_prefix"),

		KafkaEnabled:          v.GetBool("kafka_enabled"),
		KafkaBrokers:          sharedcfg.ParseBrokers(listString(v, "kafka_brokers")),
		KafkaPredictionsTopic: v.GetString("kafka_predictions_topic"),
		KafkaWarningsTopic:    v.GetString("kafka_warnings_topic"),
		BatchSize:             batchSize,
		BatchFlushInterval:    flushInterval,

		TelegramToken:  v.GetString("telegram_token"),
		TelegramChatID: v.GetInt64("telegram_chat_id"),

		MapboxToken:     v.GetString("mapbox_token"),
		MapboxCacheSize: v.GetInt("mapbox_cache_size"),
	}

	durations := []struct {
		key string
		dst *time.Duration
	}{
		{"cycle_interval", &cfg.CycleInterval},
		{"dedup_window", &cfg.DedupWindow},
		{"active_warning_window", &cfg.ActiveWarningWindow},
		{"notification_timeout", &cfg.NotificationTimeout},
		{"model_reload_debounce", &cfg.ModelReloadDebounce},
		{"radar_timeout", &cfg.RadarTimeout},
		{"mapbox_timeout", &cfg.MapboxTimeout},
	}
	for _, d := range durations {
		if *d.dst, err = parseDuration(v, d.key); err != nil {
			return nil, err
		}
	}

	if cfg.Categories, err = parseCategories(listString(v, "storm_categories"), "STORM_CATEGORIES"); err != nil {
		return nil, err
	}
	if cfg.RegressionCategories, err = parseCategories(listString(v, "regression_categories"), "REGRESSION_CATEGORIES"); err != nil {
		return nil, err
	}
	if cfg.Horizons, err = parseHorizons(listString(v, "forecast_horizons")); err != nil {
		return nil, err
	}

	cfg.TelegramEnabled = v.GetBool("telegram_enabled")
	cfg.MapboxEnabled = cfg.MapboxToken != ""
	if v.IsSet("mapbox_enabled") {
		cfg.MapboxEnabled = v.GetBool("mapbox_enabled")
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Catalogue returns the recognized categories and horizons.
func (c *Config) Catalogue() domain.Catalogue {
	return domain.Catalogue{
		Categories:           c.Categories,
		RegressionCategories: c.RegressionCategories,
		Horizons:             c.Horizons,
	}
}

func (c *Config) validate() error {
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return errors.New("LOG_LEVEL must be one of: debug, info, warn, error")
	}
	switch c.LogFormat {
	case "json", "text":
	default:
		return errors.New("LOG_FORMAT must be one of: json, text")
	}
	if c.CycleInterval < time.Minute {
		return errors.New("CYCLE_INTERVAL must be at least 1m")
	}
	if c.ThresholdMMH <= 0 {
		return errors.New("NOWCAST_THRESHOLD_MM_H must be positive")
	}
	if c.DedupWindow < 0 {
		return errors.New("DEDUP_WINDOW must not be negative")
	}
	if c.ActiveWarningWindow <= 0 {
		return errors.New("ACTIVE_WARNING_WINDOW must be positive")
	}
	if c.CellWorkers < 1 {
		return errors.New("CELL_WORKERS must be at least 1")
	}
	if c.NotificationTimeout <= 0 {
		return errors.New("NOTIFICATION_TIMEOUT must be positive")
	}
	if err := c.Catalogue().Validate(); err != nil {
		return fmt.Errorf("STORM_CATEGORIES/REGRESSION_CATEGORIES/FORECAST_HORIZONS: %w", err)
	}
	if c.ArtifactRoot == "" {
		return errors.New("MODEL_ARTIFACT_ROOT is required")
	}
	if c.RadarBaseURL == "" {
		return errors.New("RADAR_BASE_URL is required")
	}
	switch c.StoreDriver {
	case "memory":
	case "sqlite":
		if c.SQLitePath == "" {
			return errors.New("SQLITE_PATH is required when STORE_DRIVER is sqlite")
		}
	case "postgres":
		if c.PostgresDSN == "" {
			return errors.New("POSTGRES_DSN is required when STORE_DRIVER is postgres")
		}
	default:
		return errors.New("STORE_DRIVER must be one of: memory, sqlite, postgres")
	}
	switch c.JobStore {
	case "memory":
	case "redis":
		if c.RedisAddr == "" {
			return errors.New("REDIS_ADDR is required when JOB_STORE is redis")
		}
	default:
		return errors.New("JOB_STORE must be one of: memory, redis")
	}
	if c.KafkaEnabled {
		if len(c.KafkaBrokers) == 0 {
			return errors.New("KAFKA_BROKERS is required")
		}
		if c.KafkaPredictionsTopic == "" {
			return errors.New("KAFKA_PREDICTIONS_TOPIC is required")
		}
		if c.KafkaWarningsTopic == "" {
			return errors.New("KAFKA_WARNINGS_TOPIC is required")
		}
	}
	if c.TelegramEnabled && (c.TelegramToken == "" || c.TelegramChatID == 0) {
		return errors.New("TELEGRAM_ENABLED is true but TELEGRAM_TOKEN or TELEGRAM_CHAT_ID is not set")
	}
	if c.MapboxEnabled && c.MapboxToken == "" {
		return errors.New("MAPBOX_ENABLED is true but MAPBOX_TOKEN is not set")
	}
	if c.MapboxCacheSize < 1 {
		return errors.New("MAPBOX_CACHE_SIZE must be at least 1")
	}
	return nil
}

func parseDuration(v *viper.Viper, key string) (time.Duration, error) {
	d, err := time.ParseDuration(v.GetString(key))
	if err != nil || d < 0 {
		return 0, fmt.Errorf("invalid %s", strings.ToUpper(key))
	}
	return d, nil
}

// listString flattens a comma-separated env value or a YAML list.
func listString(v *viper.Viper, key string) string {
	switch val := v.Get(key).(type) {
	case []any:
		parts := make([]string, 0, len(val))
		for _, p := range val {
			parts = append(parts, fmt.Sprint(p))
		}
		return strings.Join(parts, ",")
	case []string:
		return strings.Join(val, ",")
	default:
		return v.GetString(key)
	}
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func parseCategories(s, name string) ([]domain.Category, error) {
	var out []domain.Category
	for _, p := range splitList(s) {
		c, err := domain.ParseCategory(p)
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %w", name, err)
		}
		out = append(out, c)
	}
	return out, nil
}

func parseHorizons(s string) ([]domain.Horizon, error) {
	var out []domain.Horizon
	for _, p := range splitList(s) {
		h, err := domain.ParseHorizon(p)
		if err != nil {
			return nil, fmt.Errorf("invalid FORECAST_HORIZONS: %w", err)
		}
		out = append(out, h)
	}
	return out, nil
}
