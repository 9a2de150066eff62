package jobs

import (
	"context"
	"errors"
	"time"

	"github.com/JakeFAU/scrape-engine-gateway/internal/engine"
	"github.com/JakeFAU/scrape-engine-gateway/internal/scrape"
)

// ErrNotFound is returned by a JobStore for unknown job IDs.
var ErrNotFound = errors.New("job not found")

// ErrJobExists is returned by CreateJob when the ID is already taken.
var ErrJobExists = errors.New("job already exists")

// ErrQueueClosed is returned by Dequeue once a queue is closed and drained.
var ErrQueueClosed = errors.New("queue closed")

// ErrQueueFull is returned by a non-blocking enqueue when no capacity is left.
var ErrQueueFull = errors.New("queue full")

// ErrUnsupportedOption marks a request option the selected engine ignores.
var ErrUnsupportedOption = errors.New("unsupported engine option")

// JobStore persists job metadata.
type JobStore interface {
	CreateJob(ctx context.Context, job Job) error
	UpdateJobStatus(ctx context.Context, jobID string, status Status, errText string) error
	RecordOutcome(ctx context.Context, jobID string, outcome Outcome) error
	GetJob(ctx context.Context, jobID string) (Job, error)
}

// AttemptStore keeps the history of finished scrapes.
type AttemptStore interface {
	RecordAttempt(ctx context.Context, attempt Attempt) error
}

// BlobStore writes raw artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data []byte) (string, error)
}

// Publisher pushes completion events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Scraper runs one scrape to a terminal outcome.
type Scraper interface {
	Scrape(ctx context.Context, kind engine.Kind, opts scrape.Options) (scrape.Result, error)
}

// Queue hands queued jobs to workers.
type Queue interface {
	Dequeue(ctx context.Context) (QueueItem, error)
}

// RateLimiter paces dispatches per engine.
type RateLimiter interface {
	Wait(ctx context.Context, kind engine.Kind) error
}

// Hasher computes digests for artifact paths.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces job IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}
