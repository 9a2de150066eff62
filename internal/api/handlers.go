package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/JakeFAU/scrape-engine-gateway/internal/engine"
	"github.com/JakeFAU/scrape-engine-gateway/internal/id/uuid"
	"github.com/JakeFAU/scrape-engine-gateway/internal/jobs"
	"github.com/JakeFAU/scrape-engine-gateway/internal/scrape"
	"github.com/JakeFAU/scrape-engine-gateway/internal/transport"
)

type errorResponse struct {
	Success     bool                  `json:"success"`
	Error       string                `json:"error"`
	Outcome     string                `json:"outcome,omitempty"`
	Details     []string              `json:"details,omitempty"`
	Anomalies   engine.AnomalyLog     `json:"anomalies,omitempty"`
	EngineError *engine.FailureDetail `json:"engineError,omitempty"`
}

type scrapeResponse struct {
	Success   bool                `json:"success"`
	Data      engine.ScrapeResult `json:"data"`
	Anomalies engine.AnomalyLog   `json:"anomalies"`
}

func (s *Server) scrapeSync(w http.ResponseWriter, r *http.Request) {
	params, ok := s.decodeParams(w, r)
	if !ok {
		return
	}
	res, err := s.deps.Scraper.Scrape(r.Context(), params.Kind(), params.Options())
	if err != nil {
		s.logger.Warn("sync scrape failed",
			zap.String("engine", string(params.Kind())),
			zap.String("url", params.URL),
			zap.String("request_id", requestID(r.Context())),
			zap.Error(err),
		)
		writeScrapeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, scrapeResponse{Success: true, Data: res.Data, Anomalies: res.Anomalies})
}

func (s *Server) submitJob(w http.ResponseWriter, r *http.Request) {
	params, ok := s.decodeParams(w, r)
	if !ok {
		return
	}
	jobID, err := s.enqueueJob(r.Context(), params)
	if err != nil {
		if errors.Is(err, jobs.ErrQueueFull) {
			w.Header().Set("Retry-After", "1")
		}
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"job_id": jobID})
}

func (s *Server) getJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	if !uuid.Valid(jobID) {
		writeError(w, http.StatusBadRequest, "invalid job id")
		return
	}
	job, err := s.deps.JobStore.GetJob(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, jobs.ErrNotFound) {
			writeError(w, http.StatusNotFound, "job not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to load job")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"job": job})
}

func (s *Server) decodeParams(w http.ResponseWriter, r *http.Request) (jobs.Params, bool) {
	var params jobs.Params
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&params); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return jobs.Params{}, false
	}
	if err := s.validate.Struct(params); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{
			Success: false,
			Error:   "invalid request",
			Details: validationDetails(err),
		})
		return jobs.Params{}, false
	}
	if unsupported := params.UnsupportedOptions(); len(unsupported) > 0 {
		details := make([]string, 0, len(unsupported))
		for _, name := range unsupported {
			details = append(details, fmt.Sprintf("%s not supported by %s", name, params.Kind()))
		}
		writeJSON(w, http.StatusBadRequest, errorResponse{
			Success: false,
			Error:   jobs.ErrUnsupportedOption.Error(),
			Details: details,
		})
		return jobs.Params{}, false
	}
	if s.deps.Admitter != nil {
		if err := s.deps.Admitter.Allow(params.URL); err != nil {
			writeError(w, http.StatusForbidden, err.Error())
			return jobs.Params{}, false
		}
	}
	return params, true
}

func (s *Server) enqueueJob(ctx context.Context, params jobs.Params) (string, error) {
	jobID, err := s.deps.IDGen.NewID()
	if err != nil {
		return "", fmt.Errorf("generate job id: %w", err)
	}
	now := s.deps.Clock.Now()
	job := jobs.Job{
		ID:        jobID,
		Status:    jobs.StatusQueued,
		Submitted: now,
		Params:    params,
	}
	if err := s.deps.JobStore.CreateJob(ctx, job); err != nil {
		return "", fmt.Errorf("create job: %w", err)
	}
	item := jobs.QueueItem{
		JobID:     jobID,
		Params:    params,
		Attempt:   1,
		Submitted: now.Unix(),
		Trace:     s.trace.Headers(ctx),
	}
	if err := s.deps.Queue.TryEnqueue(item); err != nil {
		if updateErr := s.deps.JobStore.UpdateJobStatus(ctx, jobID, jobs.StatusFailed, err.Error()); updateErr != nil {
			s.logger.Error("fail unqueued job", zap.String("job_id", jobID), zap.Error(updateErr))
		}
		return "", fmt.Errorf("enqueue job: %w", err)
	}
	return jobID, nil
}

// writeScrapeError maps a facade error onto an HTTP status. Engine-side
// failures are 502, a poll timeout is 504.
func writeScrapeError(w http.ResponseWriter, err error) {
	resp := errorResponse{
		Success:   false,
		Error:     err.Error(),
		Outcome:   scrape.OutcomeOf(err),
		Anomalies: engine.AnomaliesOf(err),
	}
	status := http.StatusBadGateway
	var failure *engine.EngineFailureError
	var statusErr *transport.Error
	switch {
	case errors.Is(err, engine.ErrUnknownEngine):
		status = http.StatusBadRequest
	case errors.As(err, &failure):
		detail := failure.Detail
		resp.EngineError = &detail
	case errors.Is(err, engine.ErrTimeout):
		status = http.StatusGatewayTimeout
	case errors.As(err, &statusErr) && statusErr.StatusCode == http.StatusTooManyRequests:
		status = http.StatusTooManyRequests
	}
	writeJSON(w, status, resp)
}

func validationDetails(err error) []string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return []string{err.Error()}
	}
	out := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		field := strings.TrimPrefix(fe.Namespace(), "Params.")
		out = append(out, fmt.Sprintf("%s failed %s", field, fe.Tag()))
	}
	return out
}
