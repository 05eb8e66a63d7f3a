package main

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/couchcryptid/storm-nowcast-service/internal/dataset"
	"github.com/couchcryptid/storm-nowcast-service/internal/domain"
	"github.com/couchcryptid/storm-nowcast-service/internal/observability"
	"github.com/couchcryptid/storm-nowcast-service/internal/registry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var horizons = []domain.Horizon{domain.Horizon30, domain.Horizon60}

func TestGenerate_Deterministic(t *testing.T) {
	r1, l1 := generate(20, 7, horizons)
	r2, l2 := generate(20, 7, horizons)
	assert.Equal(t, r1, r2)
	assert.Equal(t, l1, l2)

	r3, _ := generate(20, 8, horizons)
	assert.NotEqual(t, r1, r3)
}

func TestGenerate_Shape(t *testing.T) {
	radar, labels := generate(10, 1, horizons)

	require.Len(t, radar, 11)
	require.Len(t, labels, 11)
	assert.Len(t, radar[0], 2+len(domain.ClassifierFeatures()))
	assert.Equal(t, []string{
		"cell_id",
		"is_heavy_rainfall_30min", "mean_rainfall_rate_mmh_30min", "top10_mean_rr_mmh_30min",
		"is_heavy_rainfall_60min", "mean_rainfall_rate_mmh_60min", "top10_mean_rr_mmh_60min",
	}, labels[0])
	for i := 1; i < len(radar); i++ {
		assert.Equal(t, radar[i][0], labels[i][0])
		_, err := domain.ParseCategory(radar[i][1])
		assert.NoError(t, err)
	}
}

func TestGenerate_TablesTrainTheRegistry(t *testing.T) {
	dir := t.TempDir()
	radar, labels := generate(300, 42, horizons)
	radarPath := filepath.Join(dir, "radar.csv")
	labelPath := filepath.Join(dir, "labels.csv")
	require.NoError(t, writeCSV(radarPath, radar))
	require.NoError(t, writeCSV(labelPath, labels))

	table, err := dataset.Load([]string{radarPath}, []string{labelPath})
	require.NoError(t, err)
	assert.Equal(t, 300, table.Len())
	assert.Empty(t, table.MissingColumns(domain.ClassifierFeatures()))

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	reg := registry.New(filepath.Join(dir, "artifacts"), domain.DefaultCatalogue(),
		registry.DefaultTrainConfig(), logger, observability.NewMetricsForTesting())
	report, err := reg.Train(context.Background(), domain.TrainingRequest{
		RadarPaths: []string{radarPath},
		LabelPaths: []string{labelPath},
	})
	require.NoError(t, err)
	assert.Equal(t, 300, report.Rows)
	assert.NotEmpty(t, report.Trained)
	assert.True(t, reg.IsReady())
}
