package transport

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type handle struct {
	JobID      string `json:"jobId" validate:"required"`
	Processing bool   `json:"processing"`
}

func newTestClient() *Client {
	return New(nil, Config{Timeout: time.Second, BackoffBase: time.Millisecond, BackoffMax: 2 * time.Millisecond}, zap.NewNop())
}

func TestClientDo_RetriesTransientStatus(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	seen := make(chan *http.Request, 1)
	bodies := make(chan map[string]any, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		seen <- r
		bodies <- body
		_, _ = w.Write([]byte(`{"jobId":"job-1","processing":true}`))
	}))
	defer srv.Close()

	var out handle
	err := newTestClient().Do(context.Background(), Call{
		Method:  http.MethodPost,
		URL:     srv.URL + "/scrape",
		Headers: map[string]string{"traceparent": "abc"},
		Body:    map[string]string{"url": "https://example.com"},
		Retries: 3,
	}, &out)

	require.NoError(t, err)
	require.Equal(t, int32(3), calls.Load())
	require.Equal(t, handle{JobID: "job-1", Processing: true}, out)
	r := <-seen
	require.Equal(t, "application/json", r.Header.Get("Content-Type"))
	require.Equal(t, "abc", r.Header.Get("traceparent"))
	require.Equal(t, "https://example.com", (<-bodies)["url"])
}

func TestClientDo_GivesUpAfterRetries(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte("upstream down"))
	}))
	defer srv.Close()

	err := newTestClient().Do(context.Background(), Call{Method: http.MethodGet, URL: srv.URL, Retries: 2}, nil)

	var statusErr *Error
	require.ErrorAs(t, err, &statusErr)
	require.Equal(t, http.StatusBadGateway, statusErr.StatusCode)
	require.Equal(t, "upstream down", string(statusErr.Body))
	require.Equal(t, int32(3), calls.Load())
}

func TestClientDo_DoesNotRetryClientErrors(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	err := newTestClient().Do(context.Background(), Call{Method: http.MethodGet, URL: srv.URL, Retries: 3}, nil)

	require.Error(t, err)
	require.Equal(t, int32(1), calls.Load())
}

func TestClientDo_ValidatesResponse(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		_, _ = w.Write([]byte(`{"processing":true}`))
	}))
	defer srv.Close()

	var out handle
	err := newTestClient().Do(context.Background(), Call{Method: http.MethodPost, URL: srv.URL, Retries: 3}, &out)

	require.ErrorIs(t, err, ErrInvalidResponse)
	require.Equal(t, int32(1), calls.Load())
}

func TestClientDo_RejectsMalformedJSON(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{not json`))
	}))
	defer srv.Close()

	var out handle
	err := newTestClient().Do(context.Background(), Call{Method: http.MethodGet, URL: srv.URL}, &out)
	require.ErrorIs(t, err, ErrInvalidResponse)
}

func TestClientDo_StopsOnContextCancel(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	client := New(nil, Config{BackoffBase: time.Second, BackoffMax: time.Second}, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := client.Do(ctx, Call{Method: http.MethodGet, URL: srv.URL, Retries: 5}, nil)
	require.True(t, errors.Is(err, context.DeadlineExceeded), "got %v", err)
}

func TestExponentialRetryPolicy(t *testing.T) {
	t.Parallel()

	p := NewExponentialRetryPolicy(100*time.Millisecond, 400*time.Millisecond)
	require.False(t, p.ShouldRetry(nil))
	require.False(t, p.ShouldRetry(context.Canceled))
	require.False(t, p.ShouldRetry(ErrInvalidResponse))
	require.True(t, p.ShouldRetry(&Error{StatusCode: http.StatusTooManyRequests}))
	require.True(t, p.ShouldRetry(&Error{StatusCode: http.StatusInternalServerError}))
	require.False(t, p.ShouldRetry(&Error{StatusCode: http.StatusNotFound}))
	require.False(t, p.ShouldRetry(errors.New("plain")))

	for attempt := 0; attempt < 5; attempt++ {
		d := p.Backoff(attempt)
		require.GreaterOrEqual(t, d, time.Duration(0))
		require.LessOrEqual(t, d, 400*time.Millisecond)
	}
}
