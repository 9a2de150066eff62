// Package jobs defines the asynchronous scrape job model shared by the API,
// the worker pool and the storage backends.
package jobs

import (
	"fmt"
	"strings"
	"time"

	"github.com/JakeFAU/scrape-engine-gateway/internal/engine"
	"github.com/JakeFAU/scrape-engine-gateway/internal/scrape"
)

// Status represents the lifecycle state of a job.
type Status string

// Job status values persisted in the job store.
const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// Terminal reports whether no further transitions happen from s.
func (s Status) Terminal() bool {
	return s == StatusSucceeded || s == StatusFailed
}

// Params is the client's scrape request, as accepted by the HTTP API and the CLI.
type Params struct {
	Engine              engine.Kind         `json:"engine,omitempty" validate:"omitempty,oneof=chrome-cdp playwright tlsclient"`
	URL                 string              `json:"url" validate:"required,http_url"`
	Headers             map[string]string   `json:"headers,omitempty"`
	Formats             []engine.Format     `json:"formats,omitempty" validate:"dive,oneof=markdown html rawHtml screenshot screenshot@fullPage"`
	WaitMs              int                 `json:"waitMs,omitempty" validate:"gte=0,lte=300000"`
	Actions             []engine.Action     `json:"actions,omitempty" validate:"dive"`
	Mobile              bool                `json:"mobile,omitempty"`
	SkipTLSVerification bool                `json:"skipTlsVerification,omitempty"`
	Priority            int                 `json:"priority,omitempty"`
	Geolocation         *engine.Geolocation `json:"geolocation,omitempty"`
	TimeoutMs           int                 `json:"timeoutMs,omitempty" validate:"gte=0,lte=3600000"`
	MaxAnomalies        int                 `json:"maxAnomalies,omitempty" validate:"gte=0,lte=1000"`
	ATSV                bool                `json:"atsv,omitempty"`
	DisableJSDOM        bool                `json:"disableJsDom,omitempty"`
	Tags                map[string]string   `json:"tags,omitempty"`
}

// Kind returns the requested engine, defaulting to chrome-cdp.
func (p Params) Kind() engine.Kind {
	if p.Engine == "" {
		return engine.KindChromeCDP
	}
	return p.Engine
}

// UnsupportedOptions lists the fields set on p that the selected engine does
// not accept. Those fields are silently dropped by the engine builders, so
// callers reject the request instead.
func (p Params) UnsupportedOptions() []string {
	kind := p.Kind()
	var out []string
	check := func(set bool, name string, engines ...engine.Kind) {
		if !set {
			return
		}
		for _, k := range engines {
			if k == kind {
				return
			}
		}
		out = append(out, name)
	}
	check(len(p.Actions) > 0, "actions", engine.KindChromeCDP)
	check(p.Mobile, "mobile", engine.KindChromeCDP)
	check(p.SkipTLSVerification, "skipTlsVerification", engine.KindChromeCDP)
	check(p.WaitMs > 0, "waitMs", engine.KindChromeCDP, engine.KindPlaywright)
	check(p.ATSV, "atsv", engine.KindTLSClient)
	check(p.DisableJSDOM, "disableJsDom", engine.KindTLSClient)
	return out
}

// CheckEngineOptions returns an error naming every option the selected engine
// would ignore.
func (p Params) CheckEngineOptions() error {
	unsupported := p.UnsupportedOptions()
	if len(unsupported) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %s not supported by %s",
		ErrUnsupportedOption, strings.Join(unsupported, ", "), p.Kind())
}

// Options converts the request into facade options.
func (p Params) Options() scrape.Options {
	return scrape.Options{
		URL:                 p.URL,
		Headers:             p.Headers,
		Formats:             p.Formats,
		Wait:                time.Duration(p.WaitMs) * time.Millisecond,
		Actions:             p.Actions,
		Mobile:              p.Mobile,
		SkipTLSVerification: p.SkipTLSVerification,
		Priority:            p.Priority,
		Geolocation:         p.Geolocation,
		ATSV:                p.ATSV,
		DisableJSDOM:        p.DisableJSDOM,
		Timeout:             time.Duration(p.TimeoutMs) * time.Millisecond,
		MaxAnomalies:        p.MaxAnomalies,
	}
}

// Job is the metadata persisted for each submitted request.
type Job struct {
	ID        string     `json:"id"`
	Status    Status     `json:"status"`
	Submitted time.Time  `json:"submitted_at"`
	Started   *time.Time `json:"started_at,omitempty"`
	Finished  *time.Time `json:"finished_at,omitempty"`
	ErrorText string     `json:"error_text,omitempty"`
	Params    Params     `json:"params"`
	Outcome   *Outcome   `json:"outcome,omitempty"`
}

// Outcome records how a job's scrape ended.
type Outcome struct {
	Label       string               `json:"label"`
	EngineJobID string               `json:"engine_job_id,omitempty"`
	Result      *engine.ScrapeResult `json:"result,omitempty"`
	Anomalies   engine.AnomalyLog    `json:"anomalies"`
	Artifacts   map[string]string    `json:"artifacts,omitempty"`
	DurationMs  int64                `json:"duration_ms"`
}

// Attempt is one finished scrape, persisted to the attempt history.
type Attempt struct {
	JobID       string
	Engine      engine.Kind
	URL         string
	EngineJobID string
	Outcome     string
	ErrorText   string
	Anomalies   engine.AnomalyLog
	Duration    time.Duration
	FinishedAt  time.Time
}

// CompletionEvent is published when a job reaches a terminal state.
type CompletionEvent struct {
	JobID      string            `json:"job_id"`
	Status     Status            `json:"status"`
	Engine     engine.Kind       `json:"engine"`
	URL        string            `json:"url"`
	Outcome    string            `json:"outcome"`
	Artifacts  map[string]string `json:"artifacts,omitempty"`
	Tags       map[string]string `json:"tags,omitempty"`
	FinishedAt time.Time         `json:"finished_at"`
}

// QueueItem wraps a job ready to run. Trace holds the submitting request's
// propagation headers so the worker continues its trace.
type QueueItem struct {
	JobID     string
	Params    Params
	Attempt   int
	Submitted int64
	Trace     map[string]string
}
