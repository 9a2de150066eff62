package dispatcher

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/scrape-engine-gateway/internal/engine"
	"github.com/JakeFAU/scrape-engine-gateway/internal/transport"
)

func newTestDispatcher(t *testing.T, handler http.HandlerFunc) *Dispatcher {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	client := transport.New(srv.Client(), transport.Config{BackoffBase: time.Millisecond, BackoffMax: time.Millisecond}, nil)
	d, err := New(client, Config{BaseURL: srv.URL + "/"}, nil)
	require.NoError(t, err)
	return d
}

func TestNew_Validates(t *testing.T) {
	t.Parallel()

	client := transport.New(nil, transport.Config{}, nil)
	_, err := New(nil, Config{BaseURL: "http://engine"}, nil)
	require.Error(t, err)
	_, err = New(client, Config{BaseURL: "  "}, nil)
	require.ErrorContains(t, err, "base url is required")
	_, err = New(client, Config{BaseURL: "engine:3002"}, nil)
	require.Error(t, err)
}

func TestDispatch_PostsRequestAndHeaders(t *testing.T) {
	t.Parallel()

	var gotBody map[string]any
	var gotTrace string
	d := newTestDispatcher(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/scrape", r.URL.Path)
		gotTrace = r.Header.Get("traceparent")
		data, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		require.NoError(t, json.Unmarshal(data, &gotBody))
		_, _ = w.Write([]byte(`{"jobId":"eng-42","processing":true}`))
	})

	req := engine.Request{
		Common:  engine.Common{URL: "https://example.com"},
		Variant: engine.TLSClientOptions{ATSV: true},
	}
	handle, err := d.Dispatch(context.Background(), req, map[string]string{"traceparent": "00-abc-def-01"})
	require.NoError(t, err)
	require.Equal(t, engine.JobHandle{JobID: "eng-42", Processing: true}, handle)
	require.Equal(t, "00-abc-def-01", gotTrace)
	require.Equal(t, "tlsclient", gotBody["engine"])
	require.Equal(t, true, gotBody["atsv"])
}

func TestDispatch_MissingJobIDFails(t *testing.T) {
	t.Parallel()

	d := newTestDispatcher(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"processing":true}`))
	})

	req := engine.Request{Common: engine.Common{URL: "https://example.com"}, Variant: engine.ChromeCDPOptions{}}
	_, err := d.Dispatch(context.Background(), req, nil)
	require.ErrorIs(t, err, transport.ErrInvalidResponse)
	require.ErrorContains(t, err, "dispatch to chrome-cdp")
}

func TestCheckStatus_Replies(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		status     int
		body       string
		wantStatus engine.Status
		wantAnom   engine.AnomalyKind
	}{
		{name: "processing", status: http.StatusOK, body: `{"processing":true}`, wantStatus: engine.StatusProcessing},
		{name: "completed", status: http.StatusOK, body: `{"state":"completed","content":"<p/>","pageStatusCode":200}`, wantStatus: engine.StatusSuccess},
		{name: "failed in body", status: http.StatusOK, body: `{"state":"failed","error":"boom"}`, wantStatus: engine.StatusFailed},
		{name: "failed with error status", status: http.StatusInternalServerError, body: `{"state":"failed","error":"boom"}`, wantStatus: engine.StatusFailed},
		{name: "bad gateway", status: http.StatusBadGateway, body: `upstream down`, wantAnom: engine.AnomalyHTTP},
		{name: "garbage", status: http.StatusOK, body: `not json`, wantAnom: engine.AnomalyDecode},
		{name: "unknown state", status: http.StatusOK, body: `{"state":"paused"}`, wantAnom: engine.AnomalyDecode},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			d := newTestDispatcher(t, func(w http.ResponseWriter, r *http.Request) {
				require.Equal(t, http.MethodGet, r.Method)
				require.Equal(t, "/scrape/job-1", r.URL.Path)
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			})

			out, err := d.CheckStatus(context.Background(), engine.KindChromeCDP, "job-1")
			if tt.wantAnom != "" {
				var tagged *engine.AnomalyError
				require.True(t, errors.As(err, &tagged))
				require.Equal(t, tt.wantAnom, tagged.Kind)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.wantStatus, out.Status)
		})
	}
}

func TestCheckStatus_CompletedCarriesResult(t *testing.T) {
	t.Parallel()

	d := newTestDispatcher(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"state":"completed","content":"hi","url":"https://example.com/","pageStatusCode":200,"screenshot":"aGk="}`))
	})

	out, err := d.CheckStatus(context.Background(), engine.KindPlaywright, "job-7")
	require.NoError(t, err)
	require.NotNil(t, out.Result)
	require.Equal(t, engine.ScrapeResult{
		Engine:         engine.KindPlaywright,
		JobID:          "job-7",
		URL:            "https://example.com/",
		Content:        "hi",
		PageStatusCode: 200,
		Screenshot:     "aGk=",
	}, *out.Result)
}

func TestCheckStatus_FailureKeepsRawBody(t *testing.T) {
	t.Parallel()

	body := `{"state":"failed","error":"blocked","pageStatusCode":403}`
	d := newTestDispatcher(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(body))
	})

	out, err := d.CheckStatus(context.Background(), engine.KindTLSClient, "job-1")
	require.NoError(t, err)
	require.Equal(t, "blocked", out.Failure.Message)
	require.Equal(t, 403, out.Failure.PageStatusCode)
	require.JSONEq(t, body, string(out.Failure.Raw))
}

func TestCheckStatus_FailedReplyKeepsRawBody(t *testing.T) {
	t.Parallel()

	body := `{"state":"failed","error":"blocked","code":"ANTIBOT","retryAfter":30}`
	d := newTestDispatcher(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(body))
	})

	out, err := d.CheckStatus(context.Background(), engine.KindChromeCDP, "job-1")
	require.NoError(t, err)
	require.Equal(t, engine.StatusFailed, out.Status)
	require.Equal(t, "blocked", out.Failure.Message)
	require.JSONEq(t, body, string(out.Failure.Raw))
}

func TestCheckStatus_WrongFieldTypeIsDecodeAnomaly(t *testing.T) {
	t.Parallel()

	d := newTestDispatcher(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"state":"completed","pageStatusCode":"ok"}`))
	})

	_, err := d.CheckStatus(context.Background(), engine.KindChromeCDP, "job-1")
	var tagged *engine.AnomalyError
	require.True(t, errors.As(err, &tagged))
	require.Equal(t, engine.AnomalyDecode, tagged.Kind)
	require.ErrorIs(t, err, transport.ErrInvalidResponse)
}

func TestCheckStatus_CanceledContext(t *testing.T) {
	t.Parallel()

	d := newTestDispatcher(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"processing":true}`))
	})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := d.CheckStatus(ctx, engine.KindChromeCDP, "job-1")
	require.ErrorIs(t, err, context.Canceled)
	var tagged *engine.AnomalyError
	require.False(t, errors.As(err, &tagged))
}

func TestDelete_EscapesJobID(t *testing.T) {
	t.Parallel()

	var gotPath string
	d := newTestDispatcher(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodDelete, r.Method)
		gotPath = r.URL.EscapedPath()
		w.WriteHeader(http.StatusNoContent)
	})

	require.NoError(t, d.Delete(context.Background(), "a/b"))
	require.Equal(t, "/scrape/a%2Fb", gotPath)
}

func TestDelete_ReportsFailure(t *testing.T) {
	t.Parallel()

	d := newTestDispatcher(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	err := d.Delete(context.Background(), "gone")
	require.ErrorContains(t, err, "delete job gone")
}
