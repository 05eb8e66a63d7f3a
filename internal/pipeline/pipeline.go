package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/couchcryptid/storm-data-shared/retry"
	"github.com/couchcryptid/storm-nowcast-service/internal/domain"
	"github.com/couchcryptid/storm-nowcast-service/internal/observability"
	"github.com/couchcryptid/storm-nowcast-service/internal/prediction"
	"github.com/couchcryptid/storm-nowcast-service/internal/warning"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// Ingestor fetches the latest radar composite. It returns an error wrapping
// domain.ErrIngestionUnavailable when no composite is available.
type Ingestor interface {
	LatestComposite(ctx context.Context) (domain.Composite, error)
}

// Detector finds storm cells in a composite. No cells is an empty slice, not an error.
type Detector interface {
	DetectCells(ctx context.Context, composite domain.Composite) ([]domain.RawCell, error)
}

// FeatureDeriver computes the named model inputs for one detected cell.
type FeatureDeriver interface {
	DeriveFeatures(ctx context.Context, cell domain.RawCell, composite domain.Composite) (map[string]float64, error)
}

// Models is a registry snapshot: read-only for the duration of a cycle.
type Models interface {
	prediction.Models
	IsReady() bool
}

// ModelSource returns the current registry snapshot.
type ModelSource func() Models

// Predictor runs inference for one cell.
type Predictor interface {
	PredictCell(ctx context.Context, obs domain.StormCellObservation, horizons []domain.Horizon, models prediction.Models, madeAt time.Time) ([]domain.PredictionRecord, error)
}

// WarningEvaluator decides whether a prediction becomes a warning.
type WarningEvaluator interface {
	Evaluate(ctx context.Context, p domain.PredictionRecord, outline []domain.LatLon) (warning.Result, error)
}

// PredictionStore persists prediction records.
type PredictionStore interface {
	InsertPrediction(ctx context.Context, p domain.PredictionRecord) error
}

// EventPublisher fans out the records produced by one cycle.
type EventPublisher interface {
	Publish(ctx context.Context, predictions []domain.PredictionRecord, warnings []domain.WarningRecord) error
}

// Config holds per-cycle settings.
type Config struct {
	Horizons []domain.Horizon
	Workers  int

	// IngestAttempts bounds retries of transient composite fetch errors.
	IngestAttempts int
	IngestBackoff  time.Duration
}

// Stages groups the collaborators of one cycle.
type Stages struct {
	Ingestor  Ingestor
	Detector  Detector
	Features  FeatureDeriver
	Models    ModelSource
	Predictor Predictor
	Warnings  WarningEvaluator
	Store     PredictionStore

	// Publisher is optional.
	Publisher EventPublisher
	// Categorize labels cells the detector left uncategorized. Defaults to domain.Categorize.
	Categorize func(features map[string]float64) domain.Category
}

// Orchestrator runs nowcasting cycles: ingest, detect, predict, warn, persist.
type Orchestrator struct {
	stages  Stages
	cfg     Config
	logger  *slog.Logger
	metrics *observability.Metrics

	mu      sync.RWMutex
	lastRun *domain.CycleRun
	ready   atomic.Bool

	// processed is the last composite whose cells were detected.
	processed domain.Composite
}

// New creates an Orchestrator.
func New(stages Stages, cfg Config, logger *slog.Logger, metrics *observability.Metrics) *Orchestrator {
	if stages.Categorize == nil {
		stages.Categorize = domain.Categorize
	}
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.IngestAttempts < 1 {
		cfg.IngestAttempts = 1
	}
	return &Orchestrator{stages: stages, cfg: cfg, logger: logger, metrics: metrics}
}

// CheckReadiness returns nil once the registry has a usable model and at
// least one cycle has run against it.
func (o *Orchestrator) CheckReadiness(_ context.Context) error {
	if m := o.stages.Models(); m == nil || !m.IsReady() {
		return errors.New("model registry has no loaded models")
	}
	if !o.ready.Load() {
		return errors.New("no nowcasting cycle has run yet")
	}
	return nil
}

// LastRun returns the bookkeeping of the most recent cycle.
func (o *Orchestrator) LastRun() (domain.CycleRun, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if o.lastRun == nil {
		return domain.CycleRun{}, false
	}
	return *o.lastRun, true
}

// cycle accumulates the results of one run across cell workers.
type cycle struct {
	mu          sync.Mutex
	run         domain.CycleRun
	predictions []domain.PredictionRecord
	warnings    []domain.WarningRecord
}

func (c *cycle) add(f func(run *domain.CycleRun)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	f(&c.run)
}

// RunCycle executes one nowcasting cycle. It never returns an error: every
// failure is contained in the cycle, cell, or horizon that produced it and
// reported through the returned CycleRun.
func (o *Orchestrator) RunCycle(ctx context.Context) domain.CycleRun {
	start := domain.Now()
	c := &cycle{run: domain.CycleRun{ID: uuid.NewString(), StartedAt: start}}
	log := o.logger.With("cycle_id", c.run.ID)

	c.run.Status = o.runStages(ctx, c, start, log)

	c.run.FinishedAt = domain.Now()
	c.run.Duration = c.run.FinishedAt.Sub(start)
	o.metrics.Cycles.WithLabelValues(string(c.run.Status)).Inc()
	o.metrics.CycleDuration.Observe(c.run.Duration.Seconds())

	o.publish(ctx, c, log)

	run := c.run
	o.mu.Lock()
	o.lastRun = &run
	o.mu.Unlock()
	if run.Status != domain.CycleNotReady {
		o.ready.Store(true)
	}

	log.Info("cycle finished",
		"status", run.Status,
		"composite_id", run.CompositeID,
		"cells_detected", run.CellsDetected,
		"cells_processed", run.CellsProcessed,
		"predictions", run.PredictionsStored,
		"warnings_issued", run.WarningsIssued,
		"warnings_deduplicated", run.WarningsSuppressed,
		"errors", run.Errors,
		"duration", run.Duration,
	)
	return run
}

func (o *Orchestrator) runStages(ctx context.Context, c *cycle, start time.Time, log *slog.Logger) domain.CycleStatus {
	models := o.stages.Models()
	if models == nil || !models.IsReady() {
		log.Warn("model registry not ready, skipping cycle")
		return domain.CycleNotReady
	}

	composite, err := o.fetchComposite(ctx, log)
	if err != nil {
		c.run.Err = err.Error()
		log.Warn("no radar composite available, skipping cycle", "error", err)
		return domain.CycleNoData
	}
	if o.alreadyProcessed(composite) {
		c.run.Err = fmt.Sprintf("%v: composite %s already processed", domain.ErrIngestionUnavailable, composite.ID)
		log.Info("no new radar composite, skipping cycle", "composite_id", composite.ID)
		return domain.CycleNoData
	}
	c.run.CompositeID = composite.ID
	log = log.With("composite_id", composite.ID)

	cells, err := o.stages.Detector.DetectCells(ctx, composite)
	if err != nil {
		c.run.Err = fmt.Sprintf("detect cells: %v", err)
		c.run.Errors++
		log.Error("storm cell detection failed", "error", err)
		return domain.CycleNoCells
	}
	o.markProcessed(composite)
	c.run.CellsDetected = len(cells)
	if len(cells) == 0 {
		log.Info("no storm cells detected")
		return domain.CycleNoCells
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.cfg.Workers)
	for _, cell := range cells {
		g.Go(func() error {
			o.processCell(gctx, c, cell, composite, models, start, log)
			return nil
		})
	}
	_ = g.Wait()
	return domain.CycleCompleted
}

// fetchComposite retries transient ingestion errors with exponential backoff.
// A definite "no data" answer is not retried; the next tick tries again.
func (o *Orchestrator) fetchComposite(ctx context.Context, log *slog.Logger) (domain.Composite, error) {
	backoff := o.cfg.IngestBackoff
	maxBackoff := 5 * time.Second

	var lastErr error
	for attempt := 1; attempt <= o.cfg.IngestAttempts; attempt++ {
		composite, err := o.stages.Ingestor.LatestComposite(ctx)
		if err == nil {
			return composite, nil
		}
		lastErr = err
		if errors.Is(err, domain.ErrIngestionUnavailable) || ctx.Err() != nil {
			break
		}
		if attempt < o.cfg.IngestAttempts {
			log.Warn("fetch composite failed, retrying", "attempt", attempt, "error", err)
			if !retry.SleepWithContext(ctx, backoff) {
				break
			}
			backoff = retry.NextBackoff(backoff, maxBackoff)
		}
	}
	if !errors.Is(lastErr, domain.ErrIngestionUnavailable) {
		lastErr = fmt.Errorf("%w: %w", domain.ErrIngestionUnavailable, lastErr)
	}
	return domain.Composite{}, lastErr
}

// alreadyProcessed reports whether the composite matches the last one whose
// cells were detected. A failed detection leaves it eligible for the next tick.
func (o *Orchestrator) alreadyProcessed(composite domain.Composite) bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.processed.ID != "" &&
		o.processed.ID == composite.ID &&
		o.processed.ScanTime.Equal(composite.ScanTime)
}

func (o *Orchestrator) markProcessed(composite domain.Composite) {
	o.mu.Lock()
	o.processed = composite
	o.mu.Unlock()
}

// processCell runs one cell end to end. Failures, including panics, are
// logged with the cell id and counted; they never escape into the cycle.
func (o *Orchestrator) processCell(ctx context.Context, c *cycle, cell domain.RawCell, composite domain.Composite, models Models, madeAt time.Time, log *slog.Logger) {
	log = log.With("cell_id", cell.ID)
	defer func() {
		if r := recover(); r != nil {
			o.cellFailed(c, log, fmt.Errorf("panic: %v", r), "stack", string(debug.Stack()))
		}
	}()

	features, err := o.stages.Features.DeriveFeatures(ctx, cell, composite)
	if err != nil {
		o.cellFailed(c, log, fmt.Errorf("derive features: %w", err))
		return
	}

	obs := domain.StormCellObservation{
		CellID:    cell.ID,
		ScanTime:  composite.ScanTime,
		Latitude:  cell.Latitude,
		Longitude: cell.Longitude,
		Category:  cell.Category,
		Features:  features,
		Outline:   cell.Outline,
		Patch:     cell.Patch,
	}
	if _, err := domain.ParseCategory(string(obs.Category)); err != nil {
		obs.Category = o.stages.Categorize(features)
	}

	records, predictErr := o.stages.Predictor.PredictCell(ctx, obs, o.cfg.Horizons, models, madeAt)

	// Every prediction is stored regardless of the warning outcome.
	for _, p := range records {
		if err := o.stages.Store.InsertPrediction(ctx, p); err != nil {
			o.cellFailed(c, log, fmt.Errorf("store prediction for %s: %w", p.Horizon, err))
			continue
		}
		o.metrics.Predictions.WithLabelValues(p.Horizon.String()).Inc()
		c.add(func(run *domain.CycleRun) { run.PredictionsStored++ })
		c.mu.Lock()
		c.predictions = append(c.predictions, p)
		c.mu.Unlock()

		res, err := o.stages.Warnings.Evaluate(ctx, p, obs.Outline)
		if err != nil {
			o.cellFailed(c, log, fmt.Errorf("evaluate warning for %s: %w", p.Horizon, err))
			continue
		}
		switch res.Outcome {
		case warning.Issued:
			c.mu.Lock()
			c.run.WarningsIssued++
			c.warnings = append(c.warnings, *res.Warning)
			c.mu.Unlock()
		case warning.Duplicate:
			c.add(func(run *domain.CycleRun) { run.WarningsSuppressed++ })
		}
	}

	if predictErr != nil {
		o.cellFailed(c, log, predictErr)
		return
	}
	o.metrics.CellsProcessed.Inc()
	c.add(func(run *domain.CycleRun) { run.CellsProcessed++ })
}

func (o *Orchestrator) cellFailed(c *cycle, log *slog.Logger, err error, attrs ...any) {
	o.metrics.CellErrors.Inc()
	c.add(func(run *domain.CycleRun) { run.Errors++ })
	log.Error("cell processing failed", append([]any{"error", err}, attrs...)...)
}

func (o *Orchestrator) publish(ctx context.Context, c *cycle, log *slog.Logger) {
	if o.stages.Publisher == nil || (len(c.predictions) == 0 && len(c.warnings) == 0) {
		return
	}
	if err := o.stages.Publisher.Publish(ctx, c.predictions, c.warnings); err != nil {
		log.Error("publish cycle records failed",
			"error", err,
			"predictions", len(c.predictions),
			"warnings", len(c.warnings),
		)
	}
}
