package store

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/couchcryptid/storm-nowcast-service/internal/domain"
)

// Memory is an in-process Store for tests and local development.
type Memory struct {
	mu          sync.RWMutex
	predictions []domain.PredictionRecord
	warnings    []domain.WarningRecord
	index       map[string]int
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{index: make(map[string]int)}
}

func (m *Memory) InsertPrediction(_ context.Context, p domain.PredictionRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.predictions = append(m.predictions, p)
	return nil
}

func (m *Memory) InsertWarning(_ context.Context, w domain.WarningRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.index[w.ID]; ok {
		return fmt.Errorf("warning %s: %w", w.ID, ErrDuplicate)
	}
	m.index[w.ID] = len(m.warnings)
	m.warnings = append(m.warnings, w)
	return nil
}

func (m *Memory) FindActiveWarning(_ context.Context, cellID string, h domain.Horizon, from, to time.Time) (domain.WarningRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, w := range m.warnings {
		if !w.IsActive || w.CellID != cellID || w.Horizon != h {
			continue
		}
		if w.PredictedTimestamp.Before(from) || w.PredictedTimestamp.After(to) {
			continue
		}
		return w, nil
	}
	return domain.WarningRecord{}, domain.ErrNotFound
}

func (m *Memory) UpdateNotificationStatus(_ context.Context, id string, status domain.NotificationStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	i, ok := m.index[id]
	if !ok {
		return fmt.Errorf("warning %s: %w", id, domain.ErrNotFound)
	}
	m.warnings[i].NotificationStatus = status
	return nil
}

func (m *Memory) ActiveWarnings(_ context.Context, since time.Time) ([]domain.WarningRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []domain.WarningRecord
	for _, w := range m.warnings {
		if w.IsActive && !w.IssuedAt.Before(since) {
			out = append(out, w)
		}
	}
	slices.SortStableFunc(out, func(a, b domain.WarningRecord) int {
		return b.IssuedAt.Compare(a.IssuedAt)
	})
	return out, nil
}

func (m *Memory) LatestPredictions(_ context.Context, h domain.Horizon) ([]domain.PredictionRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var latest time.Time
	for _, p := range m.predictions {
		if p.Horizon == h && p.PredictionMadeAt.After(latest) {
			latest = p.PredictionMadeAt
		}
	}
	var out []domain.PredictionRecord
	for _, p := range m.predictions {
		if p.Horizon == h && p.PredictionMadeAt.Equal(latest) {
			out = append(out, p)
		}
	}
	slices.SortFunc(out, func(a, b domain.PredictionRecord) int {
		return strings.Compare(a.CellID, b.CellID)
	})
	return out, nil
}

// Predictions returns a copy of every stored prediction.
func (m *Memory) Predictions() []domain.PredictionRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Clone(m.predictions)
}

// Warnings returns a copy of every stored warning.
func (m *Memory) Warnings() []domain.WarningRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Clone(m.warnings)
}

func (m *Memory) CheckReadiness(context.Context) error { return nil }

func (m *Memory) Close() error { return nil }
