// Package warning turns rain-rate predictions into deduplicated heavy-rainfall
// warnings and dispatches their notifications.
package warning

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/couchcryptid/storm-nowcast-service/internal/domain"
	"github.com/couchcryptid/storm-nowcast-service/internal/observability"
	"github.com/google/uuid"
)

// Store is the subset of persistence the warning engine needs.
type Store interface {
	FindActiveWarning(ctx context.Context, cellID string, h domain.Horizon, from, to time.Time) (domain.WarningRecord, error)
	InsertWarning(ctx context.Context, w domain.WarningRecord) error
	UpdateNotificationStatus(ctx context.Context, warningID string, status domain.NotificationStatus) error
}

// Notifier delivers an issued warning to its audience.
type Notifier interface {
	Dispatch(ctx context.Context, w domain.WarningRecord) error
}

// Locator resolves a human-readable place name for a coordinate.
type Locator interface {
	PlaceName(ctx context.Context, lat, lon float64) (string, error)
}

// Outcome is the result of evaluating one prediction.
type Outcome int

const (
	BelowThreshold Outcome = iota
	Duplicate
	Issued
)

func (o Outcome) String() string {
	switch o {
	case Issued:
		return "issued"
	case Duplicate:
		return "duplicate"
	default:
		return "below_threshold"
	}
}

// Result reports what Evaluate did. Warning is set only when Outcome is Issued.
type Result struct {
	Outcome Outcome
	Warning *domain.WarningRecord
}

// Config holds warning policy.
type Config struct {
	ThresholdMMH        float64
	DedupWindow         time.Duration
	NotificationTimeout time.Duration
}

// Engine evaluates predictions against the heavy-rainfall threshold.
//
// The dedup lookup and the insert are not atomic; the engine assumes a single
// scheduler drives it.
type Engine struct {
	store    Store
	notifier Notifier
	locator  Locator
	cfg      Config
	logger   *slog.Logger
	metrics  *observability.Metrics
	inflight sync.WaitGroup
}

// Option configures optional collaborators.
type Option func(*Engine)

// WithLocator enables place-name lookup for issued warnings.
func WithLocator(l Locator) Option {
	return func(e *Engine) { e.locator = l }
}

// New creates a warning engine.
func New(store Store, notifier Notifier, cfg Config, logger *slog.Logger, metrics *observability.Metrics, opts ...Option) *Engine {
	e := &Engine{
		store:    store,
		notifier: notifier,
		cfg:      cfg,
		logger:   logger,
		metrics:  metrics,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Evaluate issues a warning when the predicted top-10% rain rate reaches the
// threshold and no active warning for the same cell and horizon has a
// predicted timestamp within the dedup window. The stored warning's
// notification is dispatched asynchronously.
func (e *Engine) Evaluate(ctx context.Context, p domain.PredictionRecord, outline []domain.LatLon) (Result, error) {
	if p.PredictedTop10RR < e.cfg.ThresholdMMH {
		return Result{Outcome: BelowThreshold}, nil
	}

	from := p.PredictedTimestamp.Add(-e.cfg.DedupWindow)
	to := p.PredictedTimestamp.Add(e.cfg.DedupWindow)
	existing, err := e.store.FindActiveWarning(ctx, p.CellID, p.Horizon, from, to)
	switch {
	case err == nil:
		e.metrics.WarningsDeduplicated.Inc()
		e.logger.Info("active warning already covers prediction, skipping",
			"cell_id", p.CellID,
			"horizon", p.Horizon.String(),
			"existing_warning_id", existing.ID,
		)
		return Result{Outcome: Duplicate}, nil
	case !errors.Is(err, domain.ErrNotFound):
		return Result{}, fmt.Errorf("dedup lookup for cell %s: %w", p.CellID, err)
	}

	w := domain.WarningRecord{
		ID:                 uuid.NewString(),
		CellID:             p.CellID,
		Category:           p.Category,
		Horizon:            p.Horizon,
		PredictedTimestamp: p.PredictedTimestamp,
		PredictedTop10RR:   p.PredictedTop10RR,
		Message:            Message(p),
		Location:           domain.PolygonFromOutline(outline, domain.LatLon{Lat: p.Latitude, Lon: p.Longitude}),
		PlaceName:          e.placeName(ctx, p),
		IsActive:           true,
		IssuedAt:           domain.Now(),
		NotificationStatus: domain.NotificationPending,
	}
	if err := e.store.InsertWarning(ctx, w); err != nil {
		return Result{}, fmt.Errorf("store warning for cell %s: %w", p.CellID, err)
	}
	e.metrics.WarningsIssued.Inc()
	e.logger.Info("heavy rainfall warning issued",
		"warning_id", w.ID,
		"cell_id", w.CellID,
		"category", w.Category,
		"horizon", w.Horizon.String(),
		"top10_rr_mmh", w.PredictedTop10RR,
	)

	e.dispatch(ctx, w)
	return Result{Outcome: Issued, Warning: &w}, nil
}

// Message renders the human-readable warning text.
func Message(p domain.PredictionRecord) string {
	return fmt.Sprintf(
		"Heavy rainfall predicted for storm cell '%s' (%s type) in %d minutes! "+
			"Predicted Top 10%% Mean Rain Rate: %.2f mm/h. Expected at: %s UTC.",
		p.CellID, p.Category, int(p.Horizon), p.PredictedTop10RR,
		p.PredictedTimestamp.UTC().Format(time.DateTime),
	)
}

func (e *Engine) placeName(ctx context.Context, p domain.PredictionRecord) string {
	if e.locator == nil {
		return ""
	}
	name, err := e.locator.PlaceName(ctx, p.Latitude, p.Longitude)
	if err != nil {
		e.logger.Warn("place name lookup failed", "cell_id", p.CellID, "error", err)
		return ""
	}
	return name
}

// dispatch delivers the notification in the background and records the
// outcome on the stored warning. Failures are never retried.
func (e *Engine) dispatch(ctx context.Context, w domain.WarningRecord) {
	if e.notifier == nil {
		return
	}
	e.inflight.Add(1)
	go func() {
		defer e.inflight.Done()
		dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.notificationTimeout())
		defer cancel()

		status := domain.NotificationSent
		if err := e.notifier.Dispatch(dctx, w); err != nil {
			status = domain.NotificationFailed
			e.logger.Error("warning notification failed",
				"warning_id", w.ID,
				"cell_id", w.CellID,
				"error", fmt.Errorf("%w: %w", domain.ErrNotificationDispatch, err),
			)
		}
		e.metrics.Notifications.WithLabelValues(string(status)).Inc()
		if err := e.store.UpdateNotificationStatus(dctx, w.ID, status); err != nil {
			e.logger.Error("record notification status", "warning_id", w.ID, "status", status, "error", err)
		}
	}()
}

func (e *Engine) notificationTimeout() time.Duration {
	if e.cfg.NotificationTimeout > 0 {
		return e.cfg.NotificationTimeout
	}
	return 10 * time.Second
}

// Wait blocks until every in-flight notification has finished.
func (e *Engine) Wait() {
	e.inflight.Wait()
}
