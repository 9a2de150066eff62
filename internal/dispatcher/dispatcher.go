// Package dispatcher starts scrape jobs on a remote engine and queries their status.
package dispatcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/scrape-engine-gateway/internal/engine"
	"github.com/JakeFAU/scrape-engine-gateway/internal/transport"
)

// Sender is the transport collaborator.
type Sender interface {
	Do(ctx context.Context, call transport.Call, out any) error
}

// Config points the Dispatcher at an engine deployment.
type Config struct {
	BaseURL         string
	DispatchRetries int
	StatusRetries   int
}

// Dispatcher talks to one engine deployment over HTTP.
type Dispatcher struct {
	sender      Sender
	baseURL     string
	cfg         Config
	statusLog   *zap.Logger
	dispatchLog *zap.Logger
}

// New creates a Dispatcher.
func New(sender Sender, cfg Config, logger *zap.Logger) (*Dispatcher, error) {
	if sender == nil {
		return nil, errors.New("dispatcher: sender is required")
	}
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		return nil, errors.New("dispatcher: engine base url is required")
	}
	if _, err := url.ParseRequestURI(base); err != nil {
		return nil, fmt.Errorf("dispatcher: parse engine base url: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		sender:      sender,
		baseURL:     base,
		cfg:         cfg,
		dispatchLog: logger.Named("dispatch"),
		statusLog:   logger.Named("statusCheck"),
	}, nil
}

// Dispatch posts req to the engine and returns the job handle. headers are
// attached to the HTTP call, not the payload. Transport errors are returned
// wrapped but otherwise untouched.
func (d *Dispatcher) Dispatch(ctx context.Context, req engine.Request, headers map[string]string) (engine.JobHandle, error) {
	var handle engine.JobHandle
	err := d.sender.Do(ctx, transport.Call{
		Method:  http.MethodPost,
		URL:     d.baseURL + "/scrape",
		Headers: headers,
		Body:    req,
		Retries: d.cfg.DispatchRetries,
	}, &handle)
	if err != nil {
		d.dispatchLog.Warn("engine dispatch failed",
			zap.String("engine", string(req.Engine())),
			zap.String("url", req.URL),
			zap.Error(err),
		)
		return engine.JobHandle{}, fmt.Errorf("dispatch to %s: %w", req.Engine(), err)
	}
	d.dispatchLog.Debug("engine job started",
		zap.String("engine", string(req.Engine())),
		zap.String("job_id", handle.JobID),
		zap.Bool("processing", handle.Processing),
	)
	return handle, nil
}

// CheckStatus runs one status query. Recognized replies come back as a
// StatusOutcome; anything else is an error tagged with an engine.AnomalyKind.
func (d *Dispatcher) CheckStatus(ctx context.Context, kind engine.Kind, jobID string) (engine.StatusOutcome, error) {
	var raw json.RawMessage
	err := d.sender.Do(ctx, transport.Call{
		Method:  http.MethodGet,
		URL:     d.jobURL(jobID),
		Retries: d.cfg.StatusRetries,
	}, &raw)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return engine.StatusOutcome{}, fmt.Errorf("status query: %w", ctxErr)
		}
		var statusErr *transport.Error
		if errors.As(err, &statusErr) {
			if failure, ok := decodeFailure(statusErr.Body); ok {
				d.statusLog.Debug("engine reported failure",
					zap.String("engine", string(kind)),
					zap.String("job_id", jobID),
					zap.Int("status", statusErr.StatusCode),
				)
				return engine.Failed(failure), nil
			}
			return engine.StatusOutcome{}, &engine.AnomalyError{Kind: engine.AnomalyHTTP, Err: err}
		}
		if errors.Is(err, transport.ErrInvalidResponse) {
			return engine.StatusOutcome{}, &engine.AnomalyError{Kind: engine.AnomalyDecode, Err: err}
		}
		return engine.StatusOutcome{}, &engine.AnomalyError{Kind: engine.AnomalyTransport, Err: err}
	}
	var reply statusReply
	if err := json.Unmarshal(raw, &reply); err != nil {
		return engine.StatusOutcome{}, &engine.AnomalyError{
			Kind: engine.AnomalyDecode,
			Err:  fmt.Errorf("%w: decode status: %v", transport.ErrInvalidResponse, err),
		}
	}
	return reply.outcome(kind, jobID, raw)
}

// Delete asks the engine to drop a job. It is best effort.
func (d *Dispatcher) Delete(ctx context.Context, jobID string) error {
	err := d.sender.Do(ctx, transport.Call{
		Method: http.MethodDelete,
		URL:    d.jobURL(jobID),
	}, nil)
	if err != nil {
		return fmt.Errorf("delete job %s: %w", jobID, err)
	}
	return nil
}

func (d *Dispatcher) jobURL(jobID string) string {
	return d.baseURL + "/scrape/" + url.PathEscape(jobID)
}

const (
	stateCompleted = "completed"
	stateFailed    = "failed"
)

type statusReply struct {
	JobID           string            `json:"jobId"`
	State           string            `json:"state"`
	Processing      bool              `json:"processing"`
	Error           string            `json:"error"`
	Content         string            `json:"content"`
	URL             string            `json:"url"`
	PageStatusCode  int               `json:"pageStatusCode"`
	PageError       string            `json:"pageError"`
	ResponseHeaders map[string]string `json:"responseHeaders"`
	Screenshot      string            `json:"screenshot"`
}

// outcome maps a decoded reply; raw is kept on failures so callers see fields
// this gateway does not model.
func (r statusReply) outcome(kind engine.Kind, jobID string, raw []byte) (engine.StatusOutcome, error) {
	switch {
	case r.Processing:
		return engine.Processing(), nil
	case r.State == stateFailed:
		return engine.Failed(engine.FailureDetail{
			Message:        r.Error,
			State:          r.State,
			PageStatusCode: r.PageStatusCode,
			Raw:            append([]byte(nil), raw...),
		}), nil
	case r.State == stateCompleted:
		return engine.Succeeded(engine.ScrapeResult{
			Engine:          kind,
			JobID:           jobID,
			URL:             r.URL,
			Content:         r.Content,
			PageStatusCode:  r.PageStatusCode,
			PageError:       r.PageError,
			ResponseHeaders: r.ResponseHeaders,
			Screenshot:      r.Screenshot,
		}), nil
	default:
		return engine.StatusOutcome{}, &engine.AnomalyError{
			Kind: engine.AnomalyDecode,
			Err:  fmt.Errorf("unrecognized status reply (state %q)", r.State),
		}
	}
}

func decodeFailure(body []byte) (engine.FailureDetail, bool) {
	var reply statusReply
	if err := json.Unmarshal(body, &reply); err != nil || reply.State != stateFailed {
		return engine.FailureDetail{}, false
	}
	out, err := reply.outcome("", "", body)
	if err != nil || out.Failure == nil {
		return engine.FailureDetail{}, false
	}
	return *out.Failure, true
}
