// Package engine defines the engine-neutral scrape model, the per-engine request
// payloads, and the outcome and error types shared by the dispatcher and poller.
package engine

import (
	"time"
)

// Kind identifies a remote scrape engine variant.
type Kind string

// Supported engine variants.
const (
	KindChromeCDP  Kind = "chrome-cdp"
	KindPlaywright Kind = "playwright"
	KindTLSClient  Kind = "tlsclient"
)

// Kinds lists every supported engine in a stable order.
func Kinds() []Kind {
	return []Kind{KindChromeCDP, KindPlaywright, KindTLSClient}
}

// Valid reports whether k names a supported engine.
func (k Kind) Valid() bool {
	switch k {
	case KindChromeCDP, KindPlaywright, KindTLSClient:
		return true
	default:
		return false
	}
}

// Format is a requested output format.
type Format string

// Output formats understood by the builders.
const (
	FormatMarkdown           Format = "markdown"
	FormatHTML               Format = "html"
	FormatRawHTML            Format = "rawHtml"
	FormatScreenshot         Format = "screenshot"
	FormatScreenshotFullPage Format = "screenshot@fullPage"
)

// Geolocation narrows where the engine should appear to browse from.
type Geolocation struct {
	Country   string   `json:"country,omitempty" mapstructure:"country"`
	Languages []string `json:"languages,omitempty" mapstructure:"languages"`
}

// ScrapeSpec is the engine-neutral description of one scrape. It is treated as
// immutable once built; builders copy anything they hand to a request.
type ScrapeSpec struct {
	URL                 string
	Headers             map[string]string
	SkipTLSVerification bool
	Formats             []Format
	Wait                time.Duration
	Actions             []Action
	Priority            int
	Mobile              bool
	Geolocation         *Geolocation
	LogRequest          bool
	InstantReturn       bool
	ATSV                bool
	DisableJSDOM        bool
}

// HasFormat reports whether f was requested.
func (s ScrapeSpec) HasFormat(f Format) bool {
	for _, have := range s.Formats {
		if have == f {
			return true
		}
	}
	return false
}

// JobHandle identifies one in-flight remote scrape.
type JobHandle struct {
	JobID      string `json:"jobId" validate:"required"`
	Processing bool   `json:"processing"`
}

// ScrapeResult is the normalized payload of a successful scrape.
type ScrapeResult struct {
	Engine          Kind              `json:"engine"`
	JobID           string            `json:"jobId"`
	URL             string            `json:"url,omitempty"`
	Content         string            `json:"content"`
	PageStatusCode  int               `json:"pageStatusCode,omitempty"`
	PageError       string            `json:"pageError,omitempty"`
	ResponseHeaders map[string]string `json:"responseHeaders,omitempty"`
	Screenshot      string            `json:"screenshot,omitempty"`
}

// Status classifies a status query reply.
type Status int

// Status values for a status query.
const (
	StatusProcessing Status = iota
	StatusSuccess
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusProcessing:
		return "processing"
	case StatusSuccess:
		return "success"
	case StatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// FailureDetail is what an engine reports about its own failed job.
type FailureDetail struct {
	Message        string `json:"error"`
	State          string `json:"state,omitempty"`
	PageStatusCode int    `json:"pageStatusCode,omitempty"`
	Raw            []byte `json:"-"`
}

// StatusOutcome is one recognized reply to a status query. Result is set only for
// StatusSuccess and Failure only for StatusFailed.
type StatusOutcome struct {
	Status  Status
	Result  *ScrapeResult
	Failure *FailureDetail
}

// Processing returns the non-terminal outcome.
func Processing() StatusOutcome {
	return StatusOutcome{Status: StatusProcessing}
}

// Succeeded returns a terminal success outcome.
func Succeeded(result ScrapeResult) StatusOutcome {
	return StatusOutcome{Status: StatusSuccess, Result: &result}
}

// Failed returns a terminal engine-failure outcome.
func Failed(detail FailureDetail) StatusOutcome {
	return StatusOutcome{Status: StatusFailed, Failure: &detail}
}
