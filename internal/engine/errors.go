package engine

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors matched by the typed poll failures via errors.Is.
var (
	ErrTimeout    = errors.New("engine job timed out")
	ErrErrorLimit = errors.New("engine job exceeded anomaly limit")
)

// ErrUnknownEngine is returned for a Kind outside Kinds().
var ErrUnknownEngine = errors.New("unknown engine")

// AnomalyKind tags an unexpected status-query error.
type AnomalyKind string

// Anomaly kinds recorded while polling.
const (
	AnomalyTransport AnomalyKind = "transport"
	AnomalyHTTP      AnomalyKind = "http_status"
	AnomalyDecode    AnomalyKind = "decode"
	AnomalyUnknown   AnomalyKind = "unknown"
)

// Anomaly is one tolerated error observed during a polling cycle.
type Anomaly struct {
	Kind    AnomalyKind `json:"kind"`
	Message string      `json:"message"`
	Attempt int         `json:"attempt"`
	At      time.Time   `json:"at"`
	Err     error       `json:"-"`
}

// AnomalyError lets a status query tag its own error with an AnomalyKind.
type AnomalyError struct {
	Kind AnomalyKind
	Err  error
}

func (e *AnomalyError) Error() string {
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *AnomalyError) Unwrap() error {
	return e.Err
}

// NewAnomaly classifies err into an Anomaly for the given poll attempt.
func NewAnomaly(err error, attempt int, at time.Time) Anomaly {
	kind := AnomalyUnknown
	var tagged *AnomalyError
	if errors.As(err, &tagged) {
		kind = tagged.Kind
	}
	return Anomaly{
		Kind:    kind,
		Message: err.Error(),
		Attempt: attempt,
		At:      at,
		Err:     err,
	}
}

// AnomalyLog is the ordered list of anomalies from one polling cycle.
type AnomalyLog []Anomaly

// Clone returns an independent copy so a returned log cannot alias the poller's.
func (l AnomalyLog) Clone() AnomalyLog {
	if len(l) == 0 {
		return AnomalyLog{}
	}
	out := make(AnomalyLog, len(l))
	copy(out, l)
	return out
}

// Errors returns the underlying errors in insertion order.
func (l AnomalyLog) Errors() []error {
	out := make([]error, 0, len(l))
	for _, a := range l {
		out = append(out, a.Err)
	}
	return out
}

// EngineFailureError is an authoritative failure reported by the engine for a job.
type EngineFailureError struct {
	Engine Kind
	JobID  string
	Detail FailureDetail
}

func (e *EngineFailureError) Error() string {
	return fmt.Sprintf("engine %s failed job %s: %s", e.Engine, e.JobID, e.Detail.Message)
}

// TimeoutError reports that the job did not finish within the polling budget.
// Cause is set when the caller's context ended the cycle early.
type TimeoutError struct {
	Engine    Kind
	JobID     string
	Timeout   time.Duration
	Anomalies AnomalyLog
	Cause     error
}

func (e *TimeoutError) Error() string {
	msg := fmt.Sprintf("engine %s job %s did not finish within %s (%d anomalies)",
		e.Engine, e.JobID, e.Timeout, len(e.Anomalies))
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

// Is matches ErrTimeout.
func (e *TimeoutError) Is(target error) bool {
	return target == ErrTimeout
}

func (e *TimeoutError) Unwrap() error {
	return e.Cause
}

// ErrorLimitError reports that too many anomalies accumulated before completion.
type ErrorLimitError struct {
	Engine    Kind
	JobID     string
	Limit     int
	Anomalies AnomalyLog
}

func (e *ErrorLimitError) Error() string {
	last := ""
	if n := len(e.Anomalies); n > 0 {
		last = ": last: " + e.Anomalies[n-1].Message
	}
	return fmt.Sprintf("engine %s job %s hit %d anomalies%s", e.Engine, e.JobID, e.Limit, last)
}

// Is matches ErrErrorLimit.
func (e *ErrorLimitError) Is(target error) bool {
	return target == ErrErrorLimit
}

// AnomaliesOf extracts the anomaly log carried by a poll failure, if any.
func AnomaliesOf(err error) AnomalyLog {
	var timeout *TimeoutError
	if errors.As(err, &timeout) {
		return timeout.Anomalies
	}
	var limit *ErrorLimitError
	if errors.As(err, &limit) {
		return limit.Anomalies
	}
	return nil
}
