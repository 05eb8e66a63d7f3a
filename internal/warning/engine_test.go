package warning

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/couchcryptid/storm-nowcast-service/internal/domain"
	"github.com/couchcryptid/storm-nowcast-service/internal/observability"
	"github.com/couchcryptid/storm-nowcast-service/internal/store"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var predictedAt = time.Date(2024, time.June, 12, 14, 30, 0, 0, time.UTC)

type mockNotifier struct {
	mu   sync.Mutex
	sent []domain.WarningRecord
	err  error
}

func (m *mockNotifier) Dispatch(_ context.Context, w domain.WarningRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, w)
	return m.err
}

func (m *mockNotifier) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sent)
}

type mockLocator struct {
	name string
	err  error
}

func (m mockLocator) PlaceName(context.Context, float64, float64) (string, error) {
	return m.name, m.err
}

type failingStore struct {
	*store.Memory
}

func (failingStore) FindActiveWarning(context.Context, string, domain.Horizon, time.Time, time.Time) (domain.WarningRecord, error) {
	return domain.WarningRecord{}, errors.New("connection refused")
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testPrediction(cell string, top10 float64, ts time.Time) domain.PredictionRecord {
	return domain.PredictionRecord{
		ID:                 "p-" + cell,
		CellID:             cell,
		Category:           domain.CategoryCC,
		Horizon:            domain.Horizon30,
		PredictedTimestamp: ts,
		PredictedMeanRR:    15,
		PredictedTop10RR:   top10,
		Probability:        0.8,
		Latitude:           1.35,
		Longitude:          103.8,
		PredictionMadeAt:   ts.Add(-30 * time.Minute),
	}
}

func defaultConfig() Config {
	return Config{ThresholdMMH: 30, DedupWindow: 5 * time.Minute, NotificationTimeout: time.Second}
}

func newTestEngine(t *testing.T, n Notifier, opts ...Option) (*Engine, *store.Memory, *observability.Metrics) {
	t.Helper()
	clock := clockwork.NewFakeClockAt(predictedAt.Add(-30 * time.Minute))
	domain.SetClock(clock)
	t.Cleanup(func() { domain.SetClock(nil) })

	s := store.NewMemory()
	m := observability.NewMetricsForTesting()
	return New(s, n, defaultConfig(), discardLogger(), m, opts...), s, m
}

func TestEvaluate_ThresholdBoundary(t *testing.T) {
	e, s, _ := newTestEngine(t, nil)
	ctx := context.Background()

	res, err := e.Evaluate(ctx, testPrediction("at", 30.0, predictedAt), nil)
	require.NoError(t, err)
	assert.Equal(t, Issued, res.Outcome)

	res, err = e.Evaluate(ctx, testPrediction("below", 29.0, predictedAt), nil)
	require.NoError(t, err)
	assert.Equal(t, BelowThreshold, res.Outcome)
	assert.Nil(t, res.Warning)

	assert.Len(t, s.Warnings(), 1)
}

func TestEvaluate_IssuedWarningFields(t *testing.T) {
	e, s, m := newTestEngine(t, nil, WithLocator(mockLocator{name: "Woodlands, Singapore"}))

	res, err := e.Evaluate(context.Background(), testPrediction("cell-7", 45, predictedAt), nil)
	require.NoError(t, err)
	require.Equal(t, Issued, res.Outcome)
	require.NotNil(t, res.Warning)

	w := res.Warning
	assert.NotEmpty(t, w.ID)
	assert.Equal(t, "cell-7", w.CellID)
	assert.Equal(t, domain.CategoryCC, w.Category)
	assert.Equal(t, domain.Horizon30, w.Horizon)
	assert.Equal(t, predictedAt, w.PredictedTimestamp)
	assert.Equal(t, 45.0, w.PredictedTop10RR)
	assert.True(t, w.IsActive)
	assert.Equal(t, predictedAt.Add(-30*time.Minute), w.IssuedAt)
	assert.Equal(t, domain.NotificationPending, w.NotificationStatus)
	assert.Equal(t, "Woodlands, Singapore", w.PlaceName)
	assert.Equal(t, "Polygon", w.Location.Type)
	assert.Contains(t, w.Message, "cell-7")
	assert.Contains(t, w.Message, "(CC type)")
	assert.Contains(t, w.Message, "in 30 minutes")
	assert.Contains(t, w.Message, "45.00 mm/h")
	assert.Contains(t, w.Message, "2024-06-12 14:30:00 UTC")

	assert.Equal(t, []domain.WarningRecord{*w}, s.Warnings())
	assert.Equal(t, 1.0, testutil.ToFloat64(m.WarningsIssued))
}

func TestEvaluate_DedupWithinWindow(t *testing.T) {
	e, s, m := newTestEngine(t, nil)
	ctx := context.Background()

	first, err := e.Evaluate(ctx, testPrediction("c1", 45, predictedAt), nil)
	require.NoError(t, err)
	require.Equal(t, Issued, first.Outcome)

	// Next cycle, 10 minutes later, drifts the predicted time by 4 minutes.
	second, err := e.Evaluate(ctx, testPrediction("c1", 47, predictedAt.Add(4*time.Minute)), nil)
	require.NoError(t, err)
	assert.Equal(t, Duplicate, second.Outcome)

	// The window bound itself is still a duplicate.
	edge, err := e.Evaluate(ctx, testPrediction("c1", 47, predictedAt.Add(-5*time.Minute)), nil)
	require.NoError(t, err)
	assert.Equal(t, Duplicate, edge.Outcome)

	assert.Len(t, s.Warnings(), 1)
	assert.Equal(t, 2.0, testutil.ToFloat64(m.WarningsDeduplicated))
}

func TestEvaluate_OutsideWindowIssuesAgain(t *testing.T) {
	e, s, _ := newTestEngine(t, nil)
	ctx := context.Background()

	_, err := e.Evaluate(ctx, testPrediction("c1", 45, predictedAt), nil)
	require.NoError(t, err)
	res, err := e.Evaluate(ctx, testPrediction("c1", 45, predictedAt.Add(6*time.Minute)), nil)
	require.NoError(t, err)
	assert.Equal(t, Issued, res.Outcome)
	assert.Len(t, s.Warnings(), 2)
}

func TestEvaluate_DifferentHorizonIsNotDuplicate(t *testing.T) {
	e, s, _ := newTestEngine(t, nil)
	ctx := context.Background()

	_, err := e.Evaluate(ctx, testPrediction("c1", 45, predictedAt), nil)
	require.NoError(t, err)
	p := testPrediction("c1", 45, predictedAt)
	p.Horizon = domain.Horizon60
	res, err := e.Evaluate(ctx, p, nil)
	require.NoError(t, err)
	assert.Equal(t, Issued, res.Outcome)
	assert.Len(t, s.Warnings(), 2)
}

func TestEvaluate_NotificationSent(t *testing.T) {
	n := &mockNotifier{}
	e, s, m := newTestEngine(t, n)

	res, err := e.Evaluate(context.Background(), testPrediction("c1", 45, predictedAt), nil)
	require.NoError(t, err)
	e.Wait()

	assert.Equal(t, 1, n.count())
	assert.Equal(t, domain.NotificationSent, s.Warnings()[0].NotificationStatus)
	assert.Equal(t, res.Warning.ID, n.sent[0].ID)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Notifications.WithLabelValues("sent")))
}

func TestEvaluate_NotificationFailureKeepsWarning(t *testing.T) {
	n := &mockNotifier{err: errors.New("telegram unreachable")}
	e, s, m := newTestEngine(t, n)

	res, err := e.Evaluate(context.Background(), testPrediction("c1", 45, predictedAt), nil)
	require.NoError(t, err, "notification failure does not fail evaluation")
	assert.Equal(t, Issued, res.Outcome)
	e.Wait()

	warnings := s.Warnings()
	require.Len(t, warnings, 1)
	assert.True(t, warnings[0].IsActive)
	assert.Equal(t, domain.NotificationFailed, warnings[0].NotificationStatus)
	assert.Equal(t, 1, n.count(), "no automatic retry")
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Notifications.WithLabelValues("failed")))
}

func TestEvaluate_NotificationOutlivesCanceledCycle(t *testing.T) {
	n := &mockNotifier{}
	e, s, _ := newTestEngine(t, n)
	ctx, cancel := context.WithCancel(context.Background())

	_, err := e.Evaluate(ctx, testPrediction("c1", 45, predictedAt), nil)
	require.NoError(t, err)
	cancel()
	e.Wait()

	assert.Equal(t, domain.NotificationSent, s.Warnings()[0].NotificationStatus)
}

func TestEvaluate_LocatorFailureIsNotFatal(t *testing.T) {
	e, _, _ := newTestEngine(t, nil, WithLocator(mockLocator{err: errors.New("rate limited")}))

	res, err := e.Evaluate(context.Background(), testPrediction("c1", 45, predictedAt), nil)
	require.NoError(t, err)
	assert.Equal(t, Issued, res.Outcome)
	assert.Empty(t, res.Warning.PlaceName)
}

func TestEvaluate_UsesCellOutline(t *testing.T) {
	e, _, _ := newTestEngine(t, nil)
	outline := []domain.LatLon{{Lat: 1, Lon: 103}, {Lat: 1, Lon: 104}, {Lat: 2, Lon: 104}}

	res, err := e.Evaluate(context.Background(), testPrediction("c1", 45, predictedAt), outline)
	require.NoError(t, err)
	assert.Equal(t, [][]float64{{103, 1}, {104, 1}, {104, 2}, {103, 1}}, res.Warning.Location.Coordinates[0])
}

func TestEvaluate_StoreErrorPropagates(t *testing.T) {
	clock := clockwork.NewFakeClockAt(predictedAt)
	domain.SetClock(clock)
	t.Cleanup(func() { domain.SetClock(nil) })

	e := New(failingStore{store.NewMemory()}, nil, defaultConfig(), discardLogger(), observability.NewMetricsForTesting())
	_, err := e.Evaluate(context.Background(), testPrediction("c1", 45, predictedAt), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")
}

func TestLogNotifier(t *testing.T) {
	n := NewLogNotifier(discardLogger())
	assert.NoError(t, n.Dispatch(context.Background(), domain.WarningRecord{ID: "w1"}))
}

func TestOutcomeString(t *testing.T) {
	assert.Equal(t, "issued", Issued.String())
	assert.Equal(t, "duplicate", Duplicate.String())
	assert.Equal(t, "below_threshold", BelowThreshold.String())
}
