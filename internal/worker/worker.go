// Package worker executes queued scrape jobs.
package worker

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/scrape-engine-gateway/internal/engine"
	"github.com/JakeFAU/scrape-engine-gateway/internal/hash/sha256"
	"github.com/JakeFAU/scrape-engine-gateway/internal/jobs"
	"github.com/JakeFAU/scrape-engine-gateway/internal/metrics"
	"github.com/JakeFAU/scrape-engine-gateway/internal/scrape"
	"github.com/JakeFAU/scrape-engine-gateway/internal/telemetry"
)

// Completion event types.
const (
	EventCompleted = "job.completed"
	EventFailed    = "job.failed"
)

// Config controls Worker behavior.
type Config struct {
	BlobPrefix string
	Topic      string
}

// Deps are the collaborators a Worker needs. Attempts, BlobStore, Publisher
// and Limiter are optional.
type Deps struct {
	Queue     jobs.Queue
	JobStore  jobs.JobStore
	Attempts  jobs.AttemptStore
	BlobStore jobs.BlobStore
	Publisher jobs.Publisher
	Hasher    jobs.Hasher
	Clock     jobs.Clock
	Scraper   jobs.Scraper
	Limiter   jobs.RateLimiter
}

// Worker consumes queue items and runs each through the scrape facade.
type Worker struct {
	deps   Deps
	cfg    Config
	trace  *telemetry.HeaderSource
	logger *zap.Logger
}

// New constructs a Worker.
func New(deps Deps, cfg Config, logger *zap.Logger) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if deps.Hasher == nil {
		deps.Hasher = sha256.New()
	}
	if deps.Clock == nil {
		deps.Clock = wallClock{}
	}
	return &Worker{deps: deps, cfg: cfg, trace: telemetry.NewHeaderSource(nil), logger: logger}
}

// Run blocks, consuming queue items until the context finishes or the queue closes.
func (w *Worker) Run(ctx context.Context) {
	for {
		item, err := w.deps.Queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, jobs.ErrQueueClosed) {
				return
			}
			w.logger.Error("queue dequeue failed", zap.Error(err))
			continue
		}
		w.logger.Debug("dequeued job", zap.String("job_id", item.JobID))
		w.processJob(ctx, item)
	}
}

func (w *Worker) processJob(ctx context.Context, item jobs.QueueItem) {
	metrics.IncActiveWorkers()
	defer metrics.DecActiveWorkers()

	ctx = w.trace.Extract(ctx, item.Trace)
	logger := w.logger.With(zap.String("job_id", item.JobID), zap.String("url", item.Params.URL))
	kind := item.Params.Kind()

	if err := w.deps.JobStore.UpdateJobStatus(ctx, item.JobID, jobs.StatusRunning, ""); err != nil {
		logger.Error("update job status failed", zap.Error(err))
		return
	}

	if w.deps.Limiter != nil {
		if err := w.deps.Limiter.Wait(ctx, kind); err != nil {
			w.finish(ctx, logger, item, jobs.StatusFailed, err.Error(), nil)
			return
		}
	}

	start := w.deps.Clock.Now()
	res, scrapeErr := w.deps.Scraper.Scrape(ctx, kind, item.Params.Options())
	outcome := jobs.Outcome{
		Label:      scrape.OutcomeOf(scrapeErr),
		DurationMs: w.deps.Clock.Now().Sub(start).Milliseconds(),
	}

	status, errText := jobs.StatusSucceeded, ""
	if scrapeErr != nil {
		status, errText = jobs.StatusFailed, scrapeErr.Error()
		outcome.EngineJobID = engineJobID(scrapeErr)
		outcome.Anomalies = engine.AnomaliesOf(scrapeErr)
		logger.Warn("scrape failed", zap.String("outcome", outcome.Label), zap.Error(scrapeErr))
	} else {
		data := res.Data
		outcome.EngineJobID = data.JobID
		outcome.Anomalies = res.Anomalies
		artifacts, err := w.storeArtifacts(ctx, kind, &data)
		if err != nil {
			status, errText = jobs.StatusFailed, err.Error()
			logger.Error("persist artifacts failed", zap.Error(err))
		}
		outcome.Result = &data
		outcome.Artifacts = artifacts
	}

	if err := w.deps.JobStore.RecordOutcome(ctx, item.JobID, outcome); err != nil {
		logger.Error("record outcome failed", zap.Error(err))
	}
	w.recordAttempt(ctx, logger, item, outcome, errText)
	w.finish(ctx, logger, item, status, errText, &outcome)
}

// finish publishes the completion event and writes the terminal status. A
// failed publish fails the job.
func (w *Worker) finish(
	ctx context.Context,
	logger *zap.Logger,
	item jobs.QueueItem,
	status jobs.Status,
	errText string,
	outcome *jobs.Outcome,
) {
	if err := w.publish(ctx, item, status, outcome); err != nil {
		logger.Error("publish completion failed", zap.Error(err))
		status, errText = jobs.StatusFailed, err.Error()
	}
	if err := w.deps.JobStore.UpdateJobStatus(ctx, item.JobID, status, errText); err != nil {
		logger.Error("final job status update failed", zap.Error(err))
	}
	metrics.ObserveJob(string(status))
	logger.Info("job finished", zap.String("status", string(status)))
}

func (w *Worker) publish(ctx context.Context, item jobs.QueueItem, status jobs.Status, outcome *jobs.Outcome) error {
	if w.cfg.Topic == "" || w.deps.Publisher == nil {
		return nil
	}
	event := jobs.CompletionEvent{
		JobID:      item.JobID,
		Status:     status,
		Engine:     item.Params.Kind(),
		URL:        item.Params.URL,
		Tags:       item.Params.Tags,
		FinishedAt: w.deps.Clock.Now(),
	}
	if outcome != nil {
		event.Outcome = outcome.Label
		event.Artifacts = outcome.Artifacts
	}
	eventType := EventCompleted
	if status == jobs.StatusFailed {
		eventType = EventFailed
	}
	if _, err := w.deps.Publisher.Publish(ctx, eventType, event); err != nil {
		return fmt.Errorf("publish payload: %w", err)
	}
	return nil
}

func (w *Worker) recordAttempt(
	ctx context.Context,
	logger *zap.Logger,
	item jobs.QueueItem,
	outcome jobs.Outcome,
	errText string,
) {
	if w.deps.Attempts == nil {
		return
	}
	err := w.deps.Attempts.RecordAttempt(ctx, jobs.Attempt{
		JobID:       item.JobID,
		Engine:      item.Params.Kind(),
		URL:         item.Params.URL,
		EngineJobID: outcome.EngineJobID,
		Outcome:     outcome.Label,
		ErrorText:   errText,
		Anomalies:   outcome.Anomalies,
		Duration:    time.Duration(outcome.DurationMs) * time.Millisecond,
		FinishedAt:  w.deps.Clock.Now(),
	})
	if err != nil {
		logger.Warn("record attempt failed", zap.Error(err))
	}
}

// storeArtifacts uploads the page content and an inline screenshot. On success
// an uploaded screenshot is replaced by its URI in data.
func (w *Worker) storeArtifacts(ctx context.Context, kind engine.Kind, data *engine.ScrapeResult) (map[string]string, error) {
	if w.deps.BlobStore == nil {
		return nil, nil
	}
	artifacts := map[string]string{}
	if data.Content != "" {
		uri, err := w.put(ctx, kind, []byte(data.Content), "html", "text/html; charset=utf-8")
		if err != nil {
			return nil, err
		}
		artifacts["content"] = uri
	}
	if png, ok := decodeDataURI(data.Screenshot); ok {
		uri, err := w.put(ctx, kind, png, "png", "image/png")
		if err != nil {
			return nil, err
		}
		artifacts["screenshot"] = uri
		data.Screenshot = uri
	} else if data.Screenshot != "" {
		artifacts["screenshot"] = data.Screenshot
	}
	return artifacts, nil
}

func (w *Worker) put(ctx context.Context, kind engine.Kind, body []byte, ext, contentType string) (string, error) {
	digest, err := w.deps.Hasher.Hash(body)
	if err != nil {
		return "", fmt.Errorf("hash artifact: %w", err)
	}
	uri, err := w.deps.BlobStore.PutObject(ctx, w.buildBlobPath(kind, digest, ext), contentType, body)
	if err != nil {
		return "", fmt.Errorf("put object: %w", err)
	}
	return uri, nil
}

func (w *Worker) buildBlobPath(kind engine.Kind, digest, ext string) string {
	dir := string(kind)
	if prefix := strings.Trim(w.cfg.BlobPrefix, "/"); prefix != "" {
		dir = prefix + "/" + dir
	}
	return sha256.ContentPath(dir, digest, ext)
}

func decodeDataURI(s string) ([]byte, bool) {
	const marker = ";base64,"
	if !strings.HasPrefix(s, "data:") {
		return nil, false
	}
	idx := strings.Index(s, marker)
	if idx < 0 {
		return nil, false
	}
	raw, err := base64.StdEncoding.DecodeString(s[idx+len(marker):])
	if err != nil {
		return nil, false
	}
	return raw, true
}

func engineJobID(err error) string {
	var (
		failure *engine.EngineFailureError
		timeout *engine.TimeoutError
		limit   *engine.ErrorLimitError
	)
	switch {
	case errors.As(err, &failure):
		return failure.JobID
	case errors.As(err, &timeout):
		return timeout.JobID
	case errors.As(err, &limit):
		return limit.JobID
	default:
		return ""
	}
}

type wallClock struct{}

func (wallClock) Now() time.Time { return time.Now().UTC() }
