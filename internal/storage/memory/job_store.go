package memory

import (
	"context"
	"fmt"
	"maps"
	"sync"
	"time"

	"github.com/JakeFAU/scrape-engine-gateway/internal/jobs"
)

// JobStore keeps jobs in a map. Jobs are lost on restart and are not shared
// between replicas; set redis.addr for that.
type JobStore struct {
	mu    sync.RWMutex
	jobs  map[string]jobs.Job
	clock jobs.Clock
}

// NewJobStore constructs a JobStore. A nil clock uses wall time.
func NewJobStore(clock jobs.Clock) *JobStore {
	if clock == nil {
		clock = utcClock{}
	}
	return &JobStore{
		jobs:  make(map[string]jobs.Job),
		clock: clock,
	}
}

// CreateJob stores a new job.
func (s *JobStore) CreateJob(_ context.Context, job jobs.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[job.ID]; exists {
		return fmt.Errorf("%w: %s", jobs.ErrJobExists, job.ID)
	}
	job.Params.Headers = maps.Clone(job.Params.Headers)
	job.Params.Tags = maps.Clone(job.Params.Tags)
	s.jobs[job.ID] = job
	return nil
}

// UpdateJobStatus moves a job to status and stamps start/finish times.
func (s *JobStore) UpdateJobStatus(_ context.Context, jobID string, status jobs.Status, errText string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return fmt.Errorf("%w: %s", jobs.ErrNotFound, jobID)
	}
	job.Status = status
	job.ErrorText = errText
	now := s.clock.Now()
	if status == jobs.StatusRunning && job.Started == nil {
		job.Started = pointerTime(now)
	}
	if status.Terminal() {
		job.Finished = pointerTime(now)
	}
	s.jobs[jobID] = job
	return nil
}

// RecordOutcome attaches the scrape outcome to a job.
func (s *JobStore) RecordOutcome(_ context.Context, jobID string, outcome jobs.Outcome) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return fmt.Errorf("%w: %s", jobs.ErrNotFound, jobID)
	}
	outcome.Anomalies = outcome.Anomalies.Clone()
	job.Outcome = &outcome
	s.jobs[jobID] = job
	return nil
}

// GetJob fetches a job by ID.
func (s *JobStore) GetJob(_ context.Context, jobID string) (jobs.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return jobs.Job{}, fmt.Errorf("%w: %s", jobs.ErrNotFound, jobID)
	}
	return job, nil
}

func pointerTime(t time.Time) *time.Time {
	ts := t
	return &ts
}

type utcClock struct{}

func (utcClock) Now() time.Time { return time.Now().UTC() }
