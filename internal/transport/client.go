// Package transport sends JSON calls to remote engines, retrying transient
// failures and validating decoded responses.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
)

// ErrInvalidResponse marks a 2xx response that failed to decode or validate.
var ErrInvalidResponse = errors.New("invalid response")

const maxBodyBytes = 32 << 20

// Error is returned for non-2xx responses. Body keeps the raw payload so callers
// can interpret engine-specific error shapes.
type Error struct {
	Method     string
	URL        string
	StatusCode int
	Body       []byte
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s %s: unexpected status %d", e.Method, e.URL, e.StatusCode)
}

// Call describes one logical request. Retries is the number of extra attempts
// allowed for transient failures.
type Call struct {
	Method  string
	URL     string
	Headers map[string]string
	Body    any
	Retries int
}

// Config controls the Client.
type Config struct {
	Timeout     time.Duration
	BackoffBase time.Duration
	BackoffMax  time.Duration
}

// Client is the HTTP transport shared by the dispatcher and the status poller.
type Client struct {
	http     *http.Client
	policy   RetryPolicy
	validate *validator.Validate
	logger   *zap.Logger
}

// New builds a Client. A nil httpClient gets a default client using cfg.Timeout.
func New(httpClient *http.Client, cfg Config, logger *zap.Logger) *Client {
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		http:     httpClient,
		policy:   NewExponentialRetryPolicy(cfg.BackoffBase, cfg.BackoffMax),
		validate: validator.New(validator.WithRequiredStructEnabled()),
		logger:   logger,
	}
}

// WithRetryPolicy replaces the retry policy.
func (c *Client) WithRetryPolicy(policy RetryPolicy) *Client {
	c.policy = policy
	return c
}

// Do performs call, decoding a 2xx JSON body into out when out is non-nil and
// validating it against its `validate` struct tags.
func (c *Client) Do(ctx context.Context, call Call, out any) error {
	var payload []byte
	if call.Body != nil {
		data, err := json.Marshal(call.Body)
		if err != nil {
			return fmt.Errorf("marshal request body: %w", err)
		}
		payload = data
	}

	var lastErr error
	for attempt := 0; attempt <= call.Retries; attempt++ {
		if attempt > 0 {
			delay := c.policy.Backoff(attempt - 1)
			c.logger.Debug("retrying engine call",
				zap.String("method", call.Method),
				zap.String("url", call.URL),
				zap.Int("attempt", attempt),
				zap.Duration("delay", delay),
				zap.Error(lastErr),
			)
			if err := sleep(ctx, delay); err != nil {
				return fmt.Errorf("retry wait: %w", err)
			}
		}
		lastErr = c.once(ctx, call, payload, out)
		if lastErr == nil {
			return nil
		}
		if !c.policy.ShouldRetry(lastErr) {
			return lastErr
		}
	}
	return lastErr
}

func (c *Client) once(ctx context.Context, call Call, payload []byte, out any) error {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, call.Method, call.URL, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	for k, v := range call.Headers {
		req.Header.Set(k, v)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", call.Method, call.URL, err)
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			c.logger.Debug("close response body", zap.Error(cerr))
		}
	}()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return fmt.Errorf("read response body: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &Error{Method: call.Method, URL: call.URL, StatusCode: resp.StatusCode, Body: data}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%w: decode: %v", ErrInvalidResponse, err)
	}
	if isStruct(out) {
		if err := c.validate.Struct(out); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidResponse, err)
		}
	}
	return nil
}

func isStruct(v any) bool {
	t := reflect.TypeOf(v)
	for t != nil && t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	return t != nil && t.Kind() == reflect.Struct
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
