// Package scrape exposes one entry point per remote engine. Each call builds the
// engine request, dispatches it, and polls the job to a terminal outcome.
package scrape

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/scrape-engine-gateway/internal/engine"
	"github.com/JakeFAU/scrape-engine-gateway/internal/metrics"
	"github.com/JakeFAU/scrape-engine-gateway/internal/poller"
)

// Outcome labels used for metrics and persisted attempt rows.
const (
	OutcomeSuccess        = "success"
	OutcomeEngineFailure  = "engine_failure"
	OutcomeTimeout        = "timeout"
	OutcomeErrorLimit     = "error_limit"
	OutcomeDispatchFailed = "dispatch_failed"
)

const cleanupTimeout = 5 * time.Second

// EngineClient is the remote engine as seen by the facade.
type EngineClient interface {
	Dispatch(ctx context.Context, req engine.Request, headers map[string]string) (engine.JobHandle, error)
	CheckStatus(ctx context.Context, kind engine.Kind, jobID string) (engine.StatusOutcome, error)
	Delete(ctx context.Context, jobID string) error
}

// HeaderSource supplies outbound tracing headers for the dispatch call.
type HeaderSource interface {
	Headers(ctx context.Context) map[string]string
}

// Options is the caller's full option set for one scrape. Poll limits left at
// zero use the Scraper defaults.
type Options struct {
	URL                 string
	Headers             map[string]string
	Formats             []engine.Format
	Wait                time.Duration
	Actions             []engine.Action
	Mobile              bool
	SkipTLSVerification bool
	Priority            int
	Geolocation         *engine.Geolocation
	LogRequest          bool
	InstantReturn       bool
	ATSV                bool
	DisableJSDOM        bool

	Timeout      time.Duration
	MaxAnomalies int
	PollInterval time.Duration
}

// Result is a successful scrape.
type Result struct {
	Data      engine.ScrapeResult `json:"data"`
	Anomalies engine.AnomalyLog   `json:"anomalies"`
	Duration  time.Duration       `json:"-"`
}

// Scraper composes the builders, the dispatcher and the poller.
type Scraper struct {
	client   EngineClient
	poller   *poller.Poller
	defaults poller.Config
	headers  HeaderSource
	logger   *zap.Logger
}

// New creates a Scraper. headers may be nil.
func New(client EngineClient, defaults poller.Config, headers HeaderSource, logger *zap.Logger) *Scraper {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scraper{
		client:   client,
		poller:   poller.New(client, nil, logger),
		defaults: defaults.WithDefaults(),
		headers:  headers,
		logger:   logger,
	}
}

// WithPoller replaces the poller, e.g. to inject a clock.
func (s *Scraper) WithPoller(p *poller.Poller) *Scraper {
	s.poller = p
	return s
}

// Scrape runs opts on the engine named by kind.
func (s *Scraper) Scrape(ctx context.Context, kind engine.Kind, opts Options) (Result, error) {
	switch kind {
	case engine.KindPlaywright:
		return s.ScrapePlaywright(ctx, opts)
	case engine.KindTLSClient:
		return s.ScrapeTLSClient(ctx, opts)
	case engine.KindChromeCDP:
		return s.ScrapeChromeCDP(ctx, opts)
	default:
		return Result{}, fmt.Errorf("%w: %q", engine.ErrUnknownEngine, kind)
	}
}

// ScrapeChromeCDP scrapes with the headless-browser engine.
func (s *Scraper) ScrapeChromeCDP(ctx context.Context, opts Options) (Result, error) {
	spec := engine.ScrapeSpec{
		URL:                 opts.URL,
		Headers:             opts.Headers,
		SkipTLSVerification: opts.SkipTLSVerification,
		Formats:             opts.Formats,
		Wait:                opts.Wait,
		Actions:             opts.Actions,
		Priority:            opts.Priority,
		Mobile:              opts.Mobile,
		Geolocation:         opts.Geolocation,
		LogRequest:          opts.LogRequest,
		InstantReturn:       opts.InstantReturn,
	}
	return s.run(ctx, engine.BuildChromeCDP(spec), opts)
}

// ScrapePlaywright scrapes with the browser-automation engine.
func (s *Scraper) ScrapePlaywright(ctx context.Context, opts Options) (Result, error) {
	spec := engine.ScrapeSpec{
		URL:           opts.URL,
		Headers:       opts.Headers,
		Formats:       opts.Formats,
		Wait:          opts.Wait,
		Priority:      opts.Priority,
		Geolocation:   opts.Geolocation,
		LogRequest:    opts.LogRequest,
		InstantReturn: opts.InstantReturn,
	}
	return s.run(ctx, engine.BuildPlaywright(spec), opts)
}

// ScrapeTLSClient scrapes with the raw TLS-client engine.
func (s *Scraper) ScrapeTLSClient(ctx context.Context, opts Options) (Result, error) {
	spec := engine.ScrapeSpec{
		URL:           opts.URL,
		Headers:       opts.Headers,
		Priority:      opts.Priority,
		Geolocation:   opts.Geolocation,
		LogRequest:    opts.LogRequest,
		InstantReturn: opts.InstantReturn,
		ATSV:          opts.ATSV,
		DisableJSDOM:  opts.DisableJSDOM,
	}
	return s.run(ctx, engine.BuildTLSClient(spec), opts)
}

func (s *Scraper) run(ctx context.Context, req engine.Request, opts Options) (Result, error) {
	kind := req.Engine()
	start := time.Now()
	logger := s.logger.With(zap.String("engine", string(kind)), zap.String("url", req.URL))

	var headers map[string]string
	if s.headers != nil {
		headers = s.headers.Headers(ctx)
	}

	handle, err := s.client.Dispatch(ctx, req, headers)
	metrics.ObserveDispatch(string(kind), err == nil)
	if err != nil {
		metrics.ObserveOutcome(string(kind), OutcomeDispatchFailed, 0, time.Since(start))
		return Result{}, err
	}

	res, err := s.poller.Wait(ctx, kind, handle, s.pollConfig(opts))
	duration := time.Since(start)
	if err != nil {
		outcome := OutcomeOf(err)
		metrics.ObserveOutcome(string(kind), outcome, len(engine.AnomaliesOf(err)), duration)
		if outcome == OutcomeTimeout || outcome == OutcomeErrorLimit {
			s.cleanup(ctx, logger, handle.JobID)
		}
		return Result{}, err
	}

	metrics.ObserveOutcome(string(kind), OutcomeSuccess, len(res.Anomalies), duration)
	logger.Debug("scrape finished",
		zap.String("job_id", handle.JobID),
		zap.Int("polls", res.Polls),
		zap.Duration("duration", duration),
	)
	return Result{Data: res.Scrape, Anomalies: res.Anomalies, Duration: duration}, nil
}

func (s *Scraper) pollConfig(opts Options) poller.Config {
	cfg := s.defaults
	if opts.Timeout > 0 {
		cfg.Timeout = opts.Timeout
	}
	if opts.MaxAnomalies > 0 {
		cfg.MaxAnomalies = opts.MaxAnomalies
	}
	if opts.PollInterval > 0 {
		cfg.Interval = opts.PollInterval
	}
	return cfg
}

// cleanup asks the engine to drop an abandoned job. Its result never changes
// the error returned to the caller.
func (s *Scraper) cleanup(ctx context.Context, logger *zap.Logger, jobID string) {
	cleanupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cleanupTimeout)
	defer cancel()
	if err := s.client.Delete(cleanupCtx, jobID); err != nil {
		logger.Debug("engine job cleanup failed", zap.String("job_id", jobID), zap.Error(err))
	}
}

// OutcomeOf maps a scrape error onto its outcome label.
func OutcomeOf(err error) string {
	var failure *engine.EngineFailureError
	switch {
	case err == nil:
		return OutcomeSuccess
	case errors.As(err, &failure):
		return OutcomeEngineFailure
	case errors.Is(err, engine.ErrTimeout):
		return OutcomeTimeout
	case errors.Is(err, engine.ErrErrorLimit):
		return OutcomeErrorLimit
	default:
		return OutcomeDispatchFailed
	}
}
