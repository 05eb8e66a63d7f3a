// Package scheduler fires nowcasting cycles at a fixed interval.
package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/couchcryptid/storm-nowcast-service/internal/domain"
	"github.com/couchcryptid/storm-nowcast-service/internal/observability"
	"github.com/jonboulle/clockwork"
)

// CycleRunner executes one cycle to completion.
type CycleRunner interface {
	RunCycle(ctx context.Context) domain.CycleRun
}

// Scheduler runs a cycle once at start and then on every tick. Cycles run
// on the scheduler goroutine, so at most one is in flight; a tick that fires
// during an overrunning cycle is delivered after it finishes.
type Scheduler struct {
	runner   CycleRunner
	interval time.Duration
	clock    clockwork.Clock
	logger   *slog.Logger
	metrics  *observability.Metrics

	stopOnce sync.Once
	stop     chan struct{}
}

// New creates a Scheduler. A nil clock uses real time.
func New(runner CycleRunner, interval time.Duration, clock clockwork.Clock, logger *slog.Logger, metrics *observability.Metrics) *Scheduler {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Scheduler{
		runner:   runner,
		interval: interval,
		clock:    clock,
		logger:   logger,
		metrics:  metrics,
		stop:     make(chan struct{}),
	}
}

// Stop prevents further cycles. A cycle already running finishes first.
// Safe to call more than once.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() { close(s.stop) })
}

// Run blocks until Stop is called or ctx is cancelled. Cancellation stops
// future ticks only; the in-flight cycle runs with a context that is not
// cancelled with ctx.
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.Info("scheduler started", "interval", s.interval)
	s.metrics.SchedulerRunning.Set(1)
	defer s.metrics.SchedulerRunning.Set(0)

	cycleCtx := context.WithoutCancel(ctx)

	if s.stopped(ctx) {
		return nil
	}

	ticker := s.clock.NewTicker(s.interval)
	defer ticker.Stop()

	s.runOnce(cycleCtx, "startup")

	for {
		if s.stopped(ctx) {
			s.logger.Info("scheduler stopping")
			return nil
		}
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopping", "reason", ctx.Err())
			return nil
		case <-s.stop:
			s.logger.Info("scheduler stopping")
			return nil
		case <-ticker.Chan():
			if s.stopped(ctx) {
				s.logger.Info("scheduler stopping")
				return nil
			}
			s.runOnce(cycleCtx, "tick")
		}
	}
}

func (s *Scheduler) stopped(ctx context.Context) bool {
	select {
	case <-s.stop:
		return true
	default:
		return ctx.Err() != nil
	}
}

func (s *Scheduler) runOnce(ctx context.Context, trigger string) {
	s.logger.Debug("starting nowcasting cycle", "trigger", trigger)
	s.runner.RunCycle(ctx)
}
