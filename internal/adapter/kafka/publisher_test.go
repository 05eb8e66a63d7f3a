package kafka

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/couchcryptid/storm-nowcast-service/internal/domain"
	"github.com/couchcryptid/storm-nowcast-service/internal/observability"
	"github.com/prometheus/client_golang/prometheus/testutil"
	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeWriter struct {
	msgs   []kafkago.Message
	err    error
	calls  int
	closed bool
}

func (f *fakeWriter) WriteMessages(_ context.Context, msgs ...kafkago.Message) error {
	f.calls++
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func (f *fakeWriter) Close() error {
	f.closed = true
	return nil
}

func newTestPublisher(w messageWriter) (*Publisher, *observability.Metrics) {
	metrics := observability.NewMetricsForTesting()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return newPublisher(w, "nowcast-predictions", "nowcast-warnings", logger, metrics), metrics
}

var madeAt = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func samplePrediction() domain.PredictionRecord {
	return domain.PredictionRecord{
		ID:                 "pred-1",
		CellID:             "cell-7",
		Category:           domain.CategoryCC,
		Horizon:            domain.Horizon30,
		PredictedTimestamp: madeAt.Add(30 * time.Minute),
		PredictedMeanRR:    12.5,
		PredictedTop10RR:   40.1,
		Probability:        0.8,
		PredictionMadeAt:   madeAt,
	}
}

func sampleWarning() domain.WarningRecord {
	return domain.WarningRecord{
		ID:                 "warn-1",
		CellID:             "cell-7",
		Category:           domain.CategoryCC,
		Horizon:            domain.Horizon60,
		PredictedTimestamp: madeAt.Add(time.Hour),
		PredictedTop10RR:   40.1,
		IsActive:           true,
		IssuedAt:           madeAt.Add(5 * time.Second),
		NotificationStatus: domain.NotificationPending,
	}
}

func TestPredictionMessage(t *testing.T) {
	msg, err := predictionMessage("nowcast-predictions", samplePrediction())
	require.NoError(t, err)

	assert.Equal(t, "nowcast-predictions", msg.Topic)
	assert.Equal(t, []byte("cell-7"), msg.Key)
	assert.Contains(t, string(msg.Value), `"horizon_minutes":30`)
	assert.Contains(t, string(msg.Value), `"predicted_top10_rr":40.1`)
	require.Len(t, msg.Headers, 3)
	assert.Equal(t, "record_type", msg.Headers[0].Key)
	assert.Equal(t, []byte("prediction"), msg.Headers[0].Value)
	assert.Equal(t, "horizon", msg.Headers[1].Key)
	assert.Equal(t, []byte("30"), msg.Headers[1].Value)
	assert.Equal(t, "issued_at", msg.Headers[2].Key)
	assert.Equal(t, []byte(madeAt.Format(time.RFC3339)), msg.Headers[2].Value)
}

func TestWarningMessage(t *testing.T) {
	w := sampleWarning()
	msg, err := warningMessage("nowcast-warnings", w)
	require.NoError(t, err)

	assert.Equal(t, "nowcast-warnings", msg.Topic)
	assert.Equal(t, []byte("cell-7"), msg.Key)
	assert.Contains(t, string(msg.Value), `"notification_status":"pending"`)
	assert.Equal(t, []byte("warning"), msg.Headers[0].Value)
	assert.Equal(t, []byte("60"), msg.Headers[1].Value)
	assert.Equal(t, []byte(w.IssuedAt.Format(time.RFC3339)), msg.Headers[2].Value)
}

func TestPublish_SingleBatchAcrossTopics(t *testing.T) {
	w := &fakeWriter{}
	p, metrics := newTestPublisher(w)

	err := p.Publish(context.Background(),
		[]domain.PredictionRecord{samplePrediction(), samplePrediction()},
		[]domain.WarningRecord{sampleWarning()},
	)
	require.NoError(t, err)

	assert.Equal(t, 1, w.calls)
	require.Len(t, w.msgs, 3)
	assert.Equal(t, "nowcast-predictions", w.msgs[0].Topic)
	assert.Equal(t, "nowcast-predictions", w.msgs[1].Topic)
	assert.Equal(t, "nowcast-warnings", w.msgs[2].Topic)
	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.EventsPublished.WithLabelValues("prediction", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.EventsPublished.WithLabelValues("warning", "success")))
}

func TestPublish_EmptyIsNoop(t *testing.T) {
	w := &fakeWriter{}
	p, _ := newTestPublisher(w)

	require.NoError(t, p.Publish(context.Background(), nil, nil))
	assert.Zero(t, w.calls)
}

func TestPublish_WriterError(t *testing.T) {
	w := &fakeWriter{err: errors.New("broker down")}
	p, metrics := newTestPublisher(w)

	err := p.Publish(context.Background(), []domain.PredictionRecord{samplePrediction()}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broker down")
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.EventsPublished.WithLabelValues("prediction", "error")))
}

func TestPublisher_Close(t *testing.T) {
	w := &fakeWriter{}
	p, _ := newTestPublisher(w)
	require.NoError(t, p.Close())
	assert.True(t, w.closed)
}
