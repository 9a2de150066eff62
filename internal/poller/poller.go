// Package poller waits for a remote engine job to reach a terminal state.
package poller

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/scrape-engine-gateway/internal/engine"
)

// Defaults applied when a Config field is zero.
const (
	DefaultTimeout      = 10 * time.Second
	DefaultMaxAnomalies = 3
	DefaultInterval     = 250 * time.Millisecond
)

// State is a polling-cycle state.
type State int

// Cycle states. Every state except StatePolling is terminal.
const (
	StatePolling State = iota
	StateSuccess
	StateFatal
	StateTimedOut
	StateErrorLimitExceeded
)

func (s State) String() string {
	switch s {
	case StatePolling:
		return "polling"
	case StateSuccess:
		return "success"
	case StateFatal:
		return "fatal"
	case StateTimedOut:
		return "timed_out"
	case StateErrorLimitExceeded:
		return "error_limit_exceeded"
	default:
		return "unknown"
	}
}

// StatusChecker runs a single status query for a job.
type StatusChecker interface {
	CheckStatus(ctx context.Context, kind engine.Kind, jobID string) (engine.StatusOutcome, error)
}

// Clock returns the current time.
type Clock interface {
	Now() time.Time
}

// SleepFunc suspends the cycle between polls.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Config bounds one polling cycle.
type Config struct {
	Timeout      time.Duration
	MaxAnomalies int
	Interval     time.Duration
}

// WithDefaults fills zero fields with the package defaults.
func (c Config) WithDefaults() Config {
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.MaxAnomalies <= 0 {
		c.MaxAnomalies = DefaultMaxAnomalies
	}
	if c.Interval <= 0 {
		c.Interval = DefaultInterval
	}
	return c
}

// Result is a successful cycle. Anomalies holds the tolerated errors seen on the way.
type Result struct {
	Scrape    engine.ScrapeResult
	Anomalies engine.AnomalyLog
	Polls     int
}

// Poller drives polling cycles. It holds no per-cycle state, so one Poller may
// serve any number of concurrent cycles.
type Poller struct {
	checker StatusChecker
	clock   Clock
	sleep   SleepFunc
	logger  *zap.Logger
}

// New constructs a Poller.
func New(checker StatusChecker, clock Clock, logger *zap.Logger) *Poller {
	if clock == nil {
		clock = wallClock{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Poller{
		checker: checker,
		clock:   clock,
		sleep:   sleepContext,
		logger:  logger.Named("statusCheck"),
	}
}

// WithSleep replaces the suspension used between polls.
func (p *Poller) WithSleep(fn SleepFunc) *Poller {
	p.sleep = fn
	return p
}

type cycle struct {
	kind      engine.Kind
	handle    engine.JobHandle
	cfg       Config
	start     time.Time
	polls     int
	anomalies engine.AnomalyLog
	result    engine.ScrapeResult
	err       error
}

// Wait polls handle until it succeeds, the engine reports failure, the timeout
// elapses, or cfg.MaxAnomalies unexpected errors accumulate. Failures are
// *engine.EngineFailureError, *engine.TimeoutError or *engine.ErrorLimitError.
func (p *Poller) Wait(ctx context.Context, kind engine.Kind, handle engine.JobHandle, cfg Config) (Result, error) {
	c := &cycle{
		kind:      kind,
		handle:    handle,
		cfg:       cfg.WithDefaults(),
		start:     p.clock.Now(),
		anomalies: engine.AnomalyLog{},
	}
	p.logger.Debug("polling engine job",
		zap.String("engine", string(kind)),
		zap.String("job_id", handle.JobID),
		zap.Bool("processing", handle.Processing),
		zap.Duration("timeout", c.cfg.Timeout),
	)

	state := StatePolling
	for state == StatePolling {
		state = p.step(ctx, c)
	}

	fields := []zap.Field{
		zap.String("engine", string(kind)),
		zap.String("job_id", handle.JobID),
		zap.Stringer("state", state),
		zap.Int("polls", c.polls),
		zap.Int("anomalies", len(c.anomalies)),
	}
	if state != StateSuccess {
		p.logger.Warn("engine job did not succeed", append(fields, zap.Error(c.err))...)
		return Result{}, c.err
	}
	p.logger.Debug("engine job finished", fields...)
	return Result{Scrape: c.result, Anomalies: c.anomalies, Polls: c.polls}, nil
}

// step evaluates one iteration. The anomaly ceiling is checked before the
// timeout, and an engine failure ends the cycle regardless of anomalies.
func (p *Poller) step(ctx context.Context, c *cycle) State {
	if len(c.anomalies) >= c.cfg.MaxAnomalies {
		c.err = &engine.ErrorLimitError{
			Engine:    c.kind,
			JobID:     c.handle.JobID,
			Limit:     c.cfg.MaxAnomalies,
			Anomalies: c.anomalies.Clone(),
		}
		return StateErrorLimitExceeded
	}
	if p.clock.Now().Sub(c.start) > c.cfg.Timeout {
		c.err = c.timeout(nil)
		return StateTimedOut
	}

	c.polls++
	outcome, err := p.checker.CheckStatus(ctx, c.kind, c.handle.JobID)
	switch {
	case err != nil:
		if ctxErr := ctx.Err(); ctxErr != nil {
			c.err = c.timeout(ctxErr)
			return StateTimedOut
		}
		anomaly := engine.NewAnomaly(err, c.polls, p.clock.Now())
		c.anomalies = append(c.anomalies, anomaly)
		p.logger.Warn("status query anomaly",
			zap.String("engine", string(c.kind)),
			zap.String("job_id", c.handle.JobID),
			zap.String("kind", string(anomaly.Kind)),
			zap.Int("count", len(c.anomalies)),
			zap.Error(err),
		)
	case outcome.Status == engine.StatusSuccess && outcome.Result != nil:
		c.result = *outcome.Result
		return StateSuccess
	case outcome.Status == engine.StatusFailed:
		detail := engine.FailureDetail{}
		if outcome.Failure != nil {
			detail = *outcome.Failure
		}
		c.err = &engine.EngineFailureError{Engine: c.kind, JobID: c.handle.JobID, Detail: detail}
		return StateFatal
	}

	if err := p.sleep(ctx, c.cfg.Interval); err != nil {
		c.err = c.timeout(err)
		return StateTimedOut
	}
	return StatePolling
}

func (c *cycle) timeout(cause error) error {
	return &engine.TimeoutError{
		Engine:    c.kind,
		JobID:     c.handle.JobID,
		Timeout:   c.cfg.Timeout,
		Anomalies: c.anomalies.Clone(),
		Cause:     cause,
	}
}

type wallClock struct{}

func (wallClock) Now() time.Time { return time.Now() }

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
