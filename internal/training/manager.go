// Package training runs model training as explicit asynchronous jobs whose
// status is polled rather than awaited.
package training

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

// ErrInvalidRequest is returned when a training request names no input files.
var ErrInvalidRequest = errors.New("invalid training request")

// Trainer rebuilds the model registry from training tables.
type Trainer interface {
	Train(ctx context.Context, req domain.TrainingRequest) (domain.TrainingReport, error)
}

// JobStore persists training job status records.
type JobStore interface {
	Save(ctx context.Context, job domain.TrainingJob) error
	// Get returns domain.ErrNotFound for unknown ids.
	Get(ctx context.Context, id string) (domain.TrainingJob, error)
	// Latest returns the most recently created job or domain.ErrNotFound.
	Latest(ctx context.Context) (domain.TrainingJob, error)
}

// Manager starts training jobs and tracks their status. One job runs at a time.
type Manager struct {
	trainer Trainer
	store   JobStore
	logger  *slog.Logger
	metrics *observability.Metrics

	mu      sync.Mutex
	running bool
	wg      sync.WaitGroup
}

// NewManager creates a training job manager.
func NewManager(trainer Trainer, store JobStore, logger *slog.Logger, metrics *observability.Metrics) *Manager {
	return &Manager{trainer: trainer, store: store, logger: logger, metrics: metrics}
}

// Recover marks a job left queued or running by a previous process as failed.
// Call it once at startup, before Start. Only the latest job can be
// unfinished because jobs never overlap.
func (m *Manager) Recover(ctx context.Context) error {
	job, err := m.store.Latest(ctx)
	if errors.Is(err, domain.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("load latest training job: %w", err)
	}
	if job.Status.Terminal() {
		return nil
	}

	finished := domain.Now()
	job.Status = domain.JobFailed
	job.Error = "interrupted by restart"
	job.FinishedAt = &finished
	if err := m.store.Save(ctx, job); err != nil {
		return fmt.Errorf("save training job: %w", err)
	}
	m.metrics.TrainingJobs.WithLabelValues(string(job.Status)).Inc()
	m.logger.Warn("training job interrupted by restart", "job_id", job.ID)
	return nil
}

// Start records a queued job and returns it immediately. Training proceeds
// in the background and is not cancelled with ctx.
func (m *Manager) Start(ctx context.Context, req domain.TrainingRequest) (domain.TrainingJob, error) {
	if len(req.RadarPaths) == 0 || len(req.LabelPaths) == 0 {
		return domain.TrainingJob{}, fmt.Errorf("%w: radar_paths and label_paths are required", ErrInvalidRequest)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return domain.TrainingJob{}, domain.ErrTrainingInProgress
	}

	job := domain.TrainingJob{
		ID:        uuid.NewString(),
		Status:    domain.JobQueued,
		Request:   req,
		CreatedAt: domain.Now(),
	}
	if err := m.store.Save(ctx, job); err != nil {
		return domain.TrainingJob{}, fmt.Errorf("save training job: %w", err)
	}
	m.running = true
	m.wg.Add(1)
	go m.run(context.WithoutCancel(ctx), job)

	m.logger.Info("training job queued", "job_id", job.ID,
		"radar_files", len(req.RadarPaths), "label_files", len(req.LabelPaths))
	return job, nil
}

func (m *Manager) run(ctx context.Context, job domain.TrainingJob) {
	defer m.wg.Done()
	defer func() {
		m.mu.Lock()
		m.running = false
		m.mu.Unlock()
	}()
	log := m.logger.With("job_id", job.ID)

	started := domain.Now()
	job.Status = domain.JobRunning
	job.StartedAt = &started
	m.save(ctx, job, log)
	log.Info("training job started")

	report, err := m.safeTrain(ctx, job.Request)

	finished := domain.Now()
	job.FinishedAt = &finished
	if err != nil {
		job.Status = domain.JobFailed
		job.Error = err.Error()
		log.Error("training job failed", "error", err, "duration", finished.Sub(started))
	} else {
		job.Status = domain.JobCompleted
		job.Report = &report
		log.Info("training job completed",
			"trained", len(report.Trained),
			"skipped", len(report.Skipped),
			"rows", report.Rows,
			"duration", finished.Sub(started),
		)
	}
	m.metrics.TrainingJobs.WithLabelValues(string(job.Status)).Inc()
	m.save(ctx, job, log)
}

func (m *Manager) safeTrain(ctx context.Context, req domain.TrainingRequest) (report domain.TrainingReport, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("training panicked: %v", r)
		}
	}()
	return m.trainer.Train(ctx, req)
}

func (m *Manager) save(ctx context.Context, job domain.TrainingJob, log *slog.Logger) {
	sctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := m.store.Save(sctx, job); err != nil {
		log.Error("save training job status", "status", job.Status, "error", err)
	}
}

// Get returns the status record of a job.
func (m *Manager) Get(ctx context.Context, id string) (domain.TrainingJob, error) {
	return m.store.Get(ctx, id)
}

// Latest returns the most recent job.
func (m *Manager) Latest(ctx context.Context) (domain.TrainingJob, error) {
	return m.store.Latest(ctx)
}

// Running reports whether a job is in progress.
func (m *Manager) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

// Wait blocks until the background job, if any, has finished.
func (m *Manager) Wait() {
	m.wg.Wait()
}
