// Package prediction sequences the presence classifier and the rain-rate
// regressors for one storm cell across the configured forecast horizons.
package prediction

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/couchcryptid/storm-nowcast-service/internal/domain"
	"github.com/couchcryptid/storm-nowcast-service/internal/observability"
	"github.com/google/uuid"
)

// Models is the read-only view of a registry snapshot used for inference.
// Implementations must be safe for concurrent use.
type Models interface {
	Features(k domain.ModelKey) []string
	PresenceProbability(k domain.ModelKey, raw []float64) (float64, error)
	Regress(k domain.ModelKey, raw []float64) (float64, error)
}

// Engine runs inference for storm cells. It has no side effects beyond
// logging and metrics; persistence belongs to the caller.
type Engine struct {
	logger  *slog.Logger
	metrics *observability.Metrics
}

// New creates a prediction engine.
func New(logger *slog.Logger, metrics *observability.Metrics) *Engine {
	return &Engine{logger: logger, metrics: metrics}
}

// Classify runs the presence classifier for one horizon. Any failure yields
// an Indeterminate presence carrying the reason.
func (e *Engine) Classify(models Models, obs domain.StormCellObservation, h domain.Horizon) domain.Presence {
	key := domain.NewModelKey(obs.Category, h, domain.RoleClassifier)
	raw, err := domain.Vector(obs.Features, models.Features(key))
	if err != nil {
		return domain.IndeterminatePresence(err)
	}
	p, err := models.PresenceProbability(key, raw)
	if err != nil {
		return domain.IndeterminatePresence(fmt.Errorf("%s: %w", key, modelError{err}))
	}
	return domain.PresenceFromProbability(p)
}

// PredictCell produces at most one PredictionRecord per horizon. A horizon is
// skipped when the classifier is not confident a cell will be present or
// when either rain-rate regression fails. A data-quality error in the cell's
// features stops the remaining horizons and is returned alongside the
// records already produced.
func (e *Engine) PredictCell(ctx context.Context, obs domain.StormCellObservation, horizons []domain.Horizon, models Models, madeAt time.Time) ([]domain.PredictionRecord, error) {
	base := obs.ScanTime
	if base.IsZero() {
		base = madeAt
	}

	records := make([]domain.PredictionRecord, 0, len(horizons))
	for _, h := range horizons {
		if err := ctx.Err(); err != nil {
			return records, err
		}
		log := e.logger.With("cell_id", obs.CellID, "category", obs.Category, "horizon", h.String())

		presence := e.Classify(models, obs, h)
		e.metrics.ClassifierOutcomes.WithLabelValues(presence.Kind.String()).Inc()
		switch presence.Kind {
		case domain.Indeterminate:
			if isFeatureError(presence.Reason) {
				return records, fmt.Errorf("cell %s: %w", obs.CellID, presence.Reason)
			}
			log.Warn("presence classifier failed, treating cell as absent", "error", presence.Reason)
			continue
		case domain.Absent:
			log.Debug("cell not expected at horizon", "probability", presence.Probability)
			continue
		}

		mean, top10, err := e.regress(obs, h, models)
		if err != nil {
			if isFeatureError(err) {
				return records, fmt.Errorf("cell %s: %w", obs.CellID, err)
			}
			log.Warn("rain-rate regression failed, skipping horizon", "error", err)
			continue
		}

		records = append(records, domain.PredictionRecord{
			ID:                 uuid.NewString(),
			CellID:             obs.CellID,
			Category:           obs.Category,
			Horizon:            h,
			PredictedTimestamp: base.Add(h.Duration()),
			PredictedMeanRR:    mean,
			PredictedTop10RR:   top10,
			Probability:        presence.Probability,
			Latitude:           obs.Latitude,
			Longitude:          obs.Longitude,
			PredictionMadeAt:   madeAt,
		})
	}
	return records, nil
}

func (e *Engine) regress(obs domain.StormCellObservation, h domain.Horizon, models Models) (mean, top10 float64, err error) {
	values := make(map[domain.Role]float64, 2)
	for _, role := range []domain.Role{domain.RoleRegressorMean, domain.RoleRegressorTop10} {
		key := domain.NewModelKey(obs.Category, h, role)
		raw, err := domain.Vector(obs.Features, models.Features(key))
		if err != nil {
			return 0, 0, err
		}
		v, err := models.Regress(key, raw)
		if err != nil {
			e.metrics.RegressionErrors.WithLabelValues(string(role)).Inc()
			return 0, 0, fmt.Errorf("%s: %w", key, modelError{err})
		}
		values[role] = v
	}
	return values[domain.RoleRegressorMean], values[domain.RoleRegressorTop10], nil
}

// modelError marks a failure raised by a model or scaler rather than by the
// cell's own features, so scaler width mismatches are not mistaken for bad input.
type modelError struct{ err error }

func (m modelError) Error() string { return m.err.Error() }
func (m modelError) Unwrap() error { return m.err }

// isFeatureError reports whether err came from the cell's own feature map.
func isFeatureError(err error) bool {
	var me modelError
	return errors.Is(err, domain.ErrDataQuality) && !errors.As(err, &me)
}
