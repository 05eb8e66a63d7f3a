package training

import (
	"context"
	"fmt"
	"sync"

	"github.com/couchcryptid/storm-nowcast-service/internal/domain"
)

// MemoryStore keeps job records in process memory. Records are lost on restart.
type MemoryStore struct {
	mu     sync.RWMutex
	jobs   map[string]domain.TrainingJob
	latest string
}

// NewMemoryStore returns an empty job store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{jobs: make(map[string]domain.TrainingJob)}
}

func (s *MemoryStore) Save(_ context.Context, job domain.TrainingJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[job.ID]; !ok {
		s.latest = job.ID
	}
	s.jobs[job.ID] = job
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (domain.TrainingJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[id]
	if !ok {
		return domain.TrainingJob{}, fmt.Errorf("training job %s: %w", id, domain.ErrNotFound)
	}
	return job, nil
}

func (s *MemoryStore) Latest(ctx context.Context) (domain.TrainingJob, error) {
	s.mu.RLock()
	id := s.latest
	s.mu.RUnlock()
	if id == "" {
		return domain.TrainingJob{}, fmt.Errorf("no training job: %w", domain.ErrNotFound)
	}
	return s.Get(ctx, id)
}
