package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/couchcryptid/storm-nowcast-service/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	defaultBroker   = "localhost:9092"
	testMapboxToken = "pk.test-token"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "json", cfg.LogFormat)
	assert.Empty(t, cfg.LogFile)
	assert.Equal(t, 10*time.Second, cfg.ShutdownTimeout)

	assert.Equal(t, 10*time.Minute, cfg.CycleInterval)
	assert.Equal(t, 30.0, cfg.ThresholdMMH)
	assert.Equal(t, 5*time.Minute, cfg.DedupWindow)
	assert.Equal(t, 2*time.Hour, cfg.ActiveWarningWindow)
	assert.Equal(t, 4, cfg.CellWorkers)
	assert.Equal(t, domain.DefaultCatalogue(), cfg.Catalogue())

	assert.Equal(t, "./artifacts", cfg.ArtifactRoot)
	assert.True(t, cfg.ModelWatch)
	assert.Equal(t, "sqlite", cfg.StoreDriver)
	assert.Equal(t, "memory", cfg.JobStore)

	assert.True(t, cfg.KafkaEnabled)
	assert.Equal(t, []string{defaultBroker}, cfg.KafkaBrokers)
	assert.Equal(t, "rainfall-nowcasts", cfg.KafkaPredictionsTopic)
	assert.Equal(t, "heavy-rainfall-warnings", cfg.KafkaWarningsTopic)
	assert.Equal(t, 50, cfg.BatchSize)
	assert.Equal(t, 500*time.Millisecond, cfg.BatchFlushInterval)

	assert.False(t, cfg.TelegramEnabled)
	assert.False(t, cfg.MapboxEnabled)
	assert.Equal(t, 5*time.Second, cfg.MapboxTimeout)
	assert.Equal(t, 1000, cfg.MapboxCacheSize)
}

func TestLoad_CustomEnv(t *testing.T) {
	t.Setenv("KAFKA_BROKERS", "broker1:9092,broker2:9092")
	t.Setenv("KAFKA_PREDICTIONS_TOPIC", "custom-nowcasts")
	t.Setenv("HTTP_ADDR", ":9090")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("LOG_FORMAT", "text")
	t.Setenv("SHUTDOWN_TIMEOUT", "30s")
	t.Setenv("CYCLE_INTERVAL", "5m")
	t.Setenv("NOWCAST_THRESHOLD_MM_H", "25.5")
	t.Setenv("DEDUP_WINDOW", "7m")
	t.Setenv("FORECAST_HORIZONS", "30min")
	t.Setenv("STORM_CATEGORIES", "cc, msl")
	t.Setenv("STORE_DRIVER", "postgres")
	t.Setenv("POSTGRES_DSN", "postgres://nowcast@localhost/nowcast")
	t.Setenv("JOB_STORE", "redis")
	t.Setenv("REDIS_DB", "2")
	t.Setenv("TELEGRAM_ENABLED", "true")
	t.Setenv("TELEGRAM_TOKEN", "123:abc")
	t.Setenv("TELEGRAM_CHAT_ID", "-100200")
	t.Setenv("MAPBOX_TOKEN", testMapboxToken)
	t.Setenv("MAPBOX_CACHE_SIZE", "500")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, []string{"broker1:9092", "broker2:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, "custom-nowcasts", cfg.KafkaPredictionsTopic)
	assert.Equal(t, ":9090", cfg.HTTPAddr)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "text", cfg.LogFormat)
	assert.Equal(t, 30*time.Second, cfg.ShutdownTimeout)
	assert.Equal(t, 5*time.Minute, cfg.CycleInterval)
	assert.Equal(t, 25.5, cfg.ThresholdMMH)
	assert.Equal(t, 7*time.Minute, cfg.DedupWindow)
	assert.Equal(t, []domain.Horizon{domain.Horizon30}, cfg.Horizons)
	assert.Equal(t, []domain.Category{domain.CategoryCC, domain.CategoryMSL}, cfg.Categories)
	assert.Equal(t, "postgres", cfg.StoreDriver)
	assert.Equal(t, "redis", cfg.JobStore)
	assert.Equal(t, 2, cfg.RedisDB)
	assert.True(t, cfg.TelegramEnabled)
	assert.Equal(t, int64(-100200), cfg.TelegramChatID)
	assert.True(t, cfg.MapboxEnabled)
	assert.Equal(t, 500, cfg.MapboxCacheSize)
}

func TestLoad_ConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nowcast.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
nowcast_threshold_mm_h: 40
forecast_horizons: [30, 60]
kafka_enabled: false
store_driver: memory
`), 0o600))
	t.Setenv("CONFIG_FILE", path)
	t.Setenv("STORE_DRIVER", "sqlite")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 40.0, cfg.ThresholdMMH)
	assert.Equal(t, []domain.Horizon{domain.Horizon30, domain.Horizon60}, cfg.Horizons)
	assert.False(t, cfg.KafkaEnabled)
	assert.Equal(t, "sqlite", cfg.StoreDriver, "environment overrides the file")
}

func TestLoad_MissingConfigFile(t *testing.T) {
	t.Setenv("CONFIG_FILE", filepath.Join(t.TempDir(), "absent.yaml"))
	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "CONFIG_FILE")
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		env, value, wantErr string
	}{
		{"SHUTDOWN_TIMEOUT", "not-a-duration", "SHUTDOWN_TIMEOUT"},
		{"BATCH_SIZE", "0", "BATCH_SIZE"},
		{"CYCLE_INTERVAL", "bad", "CYCLE_INTERVAL"},
		{"CYCLE_INTERVAL", "10s", "CYCLE_INTERVAL"},
		{"DEDUP_WINDOW", "soon", "DEDUP_WINDOW"},
		{"NOWCAST_THRESHOLD_MM_H", "-1", "NOWCAST_THRESHOLD_MM_H"},
		{"CELL_WORKERS", "0", "CELL_WORKERS"},
		{"LOG_LEVEL", "verbose", "LOG_LEVEL"},
		{"LOG_FORMAT", "xml", "LOG_FORMAT"},
		{"STORM_CATEGORIES", "CC,XX", "STORM_CATEGORIES"},
		{"REGRESSION_CATEGORIES", "XX", "REGRESSION_CATEGORIES"},
		{"FORECAST_HORIZONS", "later", "FORECAST_HORIZONS"},
		{"STORE_DRIVER", "mongo", "STORE_DRIVER"},
		{"JOB_STORE", "etcd", "JOB_STORE"},
		{"MAPBOX_TIMEOUT", "bad", "MAPBOX_TIMEOUT"},
	}
	for _, tt := range tests {
		t.Run(tt.env+"="+tt.value, func(t *testing.T) {
			t.Setenv(tt.env, tt.value)
			_, err := Load()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoad_PostgresRequiresDSN(t *testing.T) {
	t.Setenv("STORE_DRIVER", "postgres")
	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "POSTGRES_DSN")
}

func TestLoad_TelegramEnabledWithoutToken(t *testing.T) {
	t.Setenv("TELEGRAM_ENABLED", "true")
	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "TELEGRAM_TOKEN")
}

func TestLoad_KafkaDisabledSkipsBrokerValidation(t *testing.T) {
	t.Setenv("KAFKA_ENABLED", "false")
	t.Setenv("KAFKA_PREDICTIONS_TOPIC", "")
	cfg, err := Load()
	require.NoError(t, err)
	assert.False(t, cfg.KafkaEnabled)
}

func TestLoad_MapboxEnabledWithoutToken(t *testing.T) {
	t.Setenv("MAPBOX_ENABLED", "true")
	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "MAPBOX_TOKEN")
}

func TestLoad_MapboxExplicitlyDisabled(t *testing.T) {
	t.Setenv("MAPBOX_TOKEN", testMapboxToken)
	t.Setenv("MAPBOX_ENABLED", "false")
	cfg, err := Load()
	require.NoError(t, err)
	assert.False(t, cfg.MapboxEnabled)
}
