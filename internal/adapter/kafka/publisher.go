package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/couchcryptid/storm-nowcast-service/internal/config"
	"github.com/couchcryptid/storm-nowcast-service/internal/domain"
	"github.com/couchcryptid/storm-nowcast-service/internal/observability"
	kafkago "github.com/segmentio/kafka-go"
)

const (
	recordTypePrediction = "prediction"
	recordTypeWarning    = "warning"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

// Publisher produces prediction and warning records to their Kafka topics.
// It implements pipeline.EventPublisher.
type Publisher struct {
	writer           messageWriter
	predictionsTopic string
	warningsTopic    string
	logger           *slog.Logger
	metrics          *observability.Metrics
}

// NewPublisher creates a Kafka producer. The topic is set per message.
func NewPublisher(cfg *config.Config, logger *slog.Logger, metrics *observability.Metrics) *Publisher {
	w := &kafkago.Writer{
		Addr:         kafkago.TCP(cfg.KafkaBrokers...),
		Balancer:     &kafkago.Hash{},
		RequiredAcks: kafkago.RequireAll,
		BatchSize:    cfg.BatchSize,
		BatchTimeout: cfg.BatchFlushInterval,
	}
	return newPublisher(w, cfg.KafkaPredictionsTopic, cfg.KafkaWarningsTopic, logger, metrics)
}

func newPublisher(w messageWriter, predictionsTopic, warningsTopic string, logger *slog.Logger, metrics *observability.Metrics) *Publisher {
	return &Publisher{
		writer:           w,
		predictionsTopic: predictionsTopic,
		warningsTopic:    warningsTopic,
		logger:           logger,
		metrics:          metrics,
	}
}

// Publish writes all records of one cycle in a single WriteMessages call.
func (p *Publisher) Publish(ctx context.Context, predictions []domain.PredictionRecord, warnings []domain.WarningRecord) error {
	if len(predictions) == 0 && len(warnings) == 0 {
		return nil
	}
	msgs := make([]kafkago.Message, 0, len(predictions)+len(warnings))
	for i := range predictions {
		msg, err := predictionMessage(p.predictionsTopic, predictions[i])
		if err != nil {
			return err
		}
		msgs = append(msgs, msg)
	}
	for i := range warnings {
		msg, err := warningMessage(p.warningsTopic, warnings[i])
		if err != nil {
			return err
		}
		msgs = append(msgs, msg)
	}

	outcome := "success"
	err := p.writer.WriteMessages(ctx, msgs...)
	if err != nil {
		outcome = "error"
	}
	p.metrics.EventsPublished.WithLabelValues(recordTypePrediction, outcome).Add(float64(len(predictions)))
	p.metrics.EventsPublished.WithLabelValues(recordTypeWarning, outcome).Add(float64(len(warnings)))
	if err != nil {
		return fmt.Errorf("publish %d records: %w", len(msgs), err)
	}
	p.logger.Debug("records published", "predictions", len(predictions), "warnings", len(warnings))
	return nil
}

func (p *Publisher) Close() error {
	return p.writer.Close()
}

func predictionMessage(topic string, rec domain.PredictionRecord) (kafkago.Message, error) {
	data, err := json.Marshal(rec)
	if err != nil {
		return kafkago.Message{}, fmt.Errorf("serialize prediction %s: %w", rec.ID, err)
	}
	return newMessage(topic, rec.CellID, data, recordTypePrediction, rec.Horizon, rec.PredictionMadeAt), nil
}

func warningMessage(topic string, rec domain.WarningRecord) (kafkago.Message, error) {
	data, err := json.Marshal(rec)
	if err != nil {
		return kafkago.Message{}, fmt.Errorf("serialize warning %s: %w", rec.ID, err)
	}
	return newMessage(topic, rec.CellID, data, recordTypeWarning, rec.Horizon, rec.IssuedAt), nil
}

func newMessage(topic, key string, value []byte, recordType string, h domain.Horizon, issuedAt time.Time) kafkago.Message {
	return kafkago.Message{
		Topic: topic,
		Key:   []byte(key),
		Value: value,
		Headers: []kafkago.Header{
			{Key: "record_type", Value: []byte(recordType)},
			{Key: "horizon", Value: []byte(strconv.Itoa(int(h)))},
			{Key: "issued_at", Value: []byte(issuedAt.UTC().Format(time.RFC3339))},
		},
	}
}
