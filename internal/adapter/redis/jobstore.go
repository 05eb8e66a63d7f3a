// Package redis persists training job status in Redis so that it survives
// restarts and is visible to every replica.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/couchcryptid/storm-nowcast-service/internal/config"
	"github.com/couchcryptid/storm-nowcast-service/internal/domain"
	goredis "github.com/redis/go-redis/v9"
)

// JobStore keeps each job as a JSON field of one hash plus a pointer to the
// most recently created job.
type JobStore struct {
	client    *goredis.Client
	hashKey   string
	latestKey string
}

// NewJobStore connects to Redis and verifies the connection with a ping.
func NewJobStore(ctx context.Context, cfg *config.Config) (*JobStore, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:         cfg.RedisAddr,
		Password:     cfg.RedisPassword,
		DB:           cfg.RedisDB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	})

	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed (addr=%s db=%d): %w", cfg.RedisAddr, cfg.RedisDB, err)
	}
	return NewJobStoreFromClient(client, cfg.RedisKeyPrefix), nil
}

// NewJobStoreFromClient wraps an existing client.
func NewJobStoreFromClient(client *goredis.Client, prefix string) *JobStore {
	return &JobStore{
		client:    client,
		hashKey:   prefix + "training:jobs",
		latestKey: prefix + "training:latest",
	}
}

// Save writes the job record. A job seen for the first time becomes the latest.
func (s *JobStore) Save(ctx context.Context, job domain.TrainingJob) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal training job: %w", err)
	}
	created, err := s.client.HSet(ctx, s.hashKey, job.ID, payload).Result()
	if err != nil {
		return fmt.Errorf("hset training job %s: %w", job.ID, err)
	}
	if created > 0 {
		if err := s.client.Set(ctx, s.latestKey, job.ID, 0).Err(); err != nil {
			return fmt.Errorf("set latest training job: %w", err)
		}
	}
	return nil
}

func (s *JobStore) Get(ctx context.Context, id string) (domain.TrainingJob, error) {
	raw, err := s.client.HGet(ctx, s.hashKey, id).Result()
	if errors.Is(err, goredis.Nil) {
		return domain.TrainingJob{}, fmt.Errorf("training job %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return domain.TrainingJob{}, fmt.Errorf("hget training job %s: %w", id, err)
	}

	var job domain.TrainingJob
	if err := json.Unmarshal([]byte(raw), &job); err != nil {
		return domain.TrainingJob{}, fmt.Errorf("decode training job %s: %w", id, err)
	}
	return job, nil
}

func (s *JobStore) Latest(ctx context.Context) (domain.TrainingJob, error) {
	id, err := s.client.Get(ctx, s.latestKey).Result()
	if errors.Is(err, goredis.Nil) {
		return domain.TrainingJob{}, fmt.Errorf("no training job: %w", domain.ErrNotFound)
	}
	if err != nil {
		return domain.TrainingJob{}, fmt.Errorf("get latest training job: %w", err)
	}
	return s.Get(ctx, id)
}

// CheckReadiness pings Redis.
func (s *JobStore) CheckReadiness(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis not reachable: %w", err)
	}
	return nil
}

func (s *JobStore) Close() error {
	return s.client.Close()
}
