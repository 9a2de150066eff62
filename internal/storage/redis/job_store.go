// Package redis keeps async job records in Redis so every gateway replica can
// answer job lookups.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/JakeFAU/scrape-engine-gateway/internal/jobs"
)

const (
	defaultKeyPrefix = "scrape:job:"
	maxTxRetries     = 5
)

// ErrJobExists is returned by CreateJob when the ID is already taken.
var ErrJobExists = jobs.ErrJobExists

// Config controls key layout and expiry.
type Config struct {
	KeyPrefix string
	TTL       time.Duration
}

// JobStore stores each job as one JSON document under KeyPrefix+ID.
type JobStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	clock  jobs.Clock
}

// NewJobStore wraps an existing client. A nil clock uses wall time.
func NewJobStore(client *redis.Client, cfg Config, clock jobs.Clock) (*JobStore, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = defaultKeyPrefix
	}
	if clock == nil {
		clock = utcClock{}
	}
	return &JobStore{client: client, prefix: cfg.KeyPrefix, ttl: cfg.TTL, clock: clock}, nil
}

// Ping reports whether Redis is reachable.
func (s *JobStore) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	return nil
}

// CreateJob stores a new job with the configured TTL.
func (s *JobStore) CreateJob(ctx context.Context, job jobs.Job) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	ok, err := s.client.SetNX(ctx, s.key(job.ID), payload, s.ttl).Result()
	if err != nil {
		return fmt.Errorf("create job: %w", err)
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrJobExists, job.ID)
	}
	return nil
}

// UpdateJobStatus moves a job to status and stamps start/finish times.
func (s *JobStore) UpdateJobStatus(ctx context.Context, jobID string, status jobs.Status, errText string) error {
	now := s.clock.Now()
	return s.update(ctx, jobID, func(job *jobs.Job) {
		job.Status = status
		job.ErrorText = errText
		if status == jobs.StatusRunning && job.Started == nil {
			job.Started = &now
		}
		if status.Terminal() {
			job.Finished = &now
		}
	})
}

// RecordOutcome attaches the scrape outcome to a job.
func (s *JobStore) RecordOutcome(ctx context.Context, jobID string, outcome jobs.Outcome) error {
	return s.update(ctx, jobID, func(job *jobs.Job) {
		job.Outcome = &outcome
	})
}

// GetJob fetches a job by ID.
func (s *JobStore) GetJob(ctx context.Context, jobID string) (jobs.Job, error) {
	raw, err := s.client.Get(ctx, s.key(jobID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return jobs.Job{}, fmt.Errorf("%w: %s", jobs.ErrNotFound, jobID)
	}
	if err != nil {
		return jobs.Job{}, fmt.Errorf("get job: %w", err)
	}
	return decodeJob(raw)
}

// update applies mutate under WATCH so concurrent writers do not lose updates.
func (s *JobStore) update(ctx context.Context, jobID string, mutate func(*jobs.Job)) error {
	key := s.key(jobID)
	txf := func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return fmt.Errorf("%w: %s", jobs.ErrNotFound, jobID)
		}
		if err != nil {
			return fmt.Errorf("get job: %w", err)
		}
		job, err := decodeJob(raw)
		if err != nil {
			return err
		}
		mutate(&job)
		payload, err := json.Marshal(job)
		if err != nil {
			return fmt.Errorf("marshal job: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, payload, redis.KeepTTL)
			return nil
		})
		return err
	}

	for i := 0; i < maxTxRetries; i++ {
		err := s.client.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return fmt.Errorf("update job %s: %w", jobID, err)
		}
		return nil
	}
	return fmt.Errorf("update job %s: %w", jobID, redis.TxFailedErr)
}

func (s *JobStore) key(jobID string) string {
	return s.prefix + jobID
}

func decodeJob(raw []byte) (jobs.Job, error) {
	var job jobs.Job
	if err := json.Unmarshal(raw, &job); err != nil {
		return jobs.Job{}, fmt.Errorf("decode job: %w", err)
	}
	return job, nil
}

type utcClock struct{}

func (utcClock) Now() time.Time { return time.Now().UTC() }
