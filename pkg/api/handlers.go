package api

import (
	_ "embed"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ethpandaops/reportoor/pkg/provider"
	"github.com/ethpandaops/reportoor/pkg/store"
	"github.com/go-chi/chi/v5"
)

//go:embed index.html
var indexHTML []byte

// errorResponse is a standard error payload.
type errorResponse struct {
	Error string `json:"error"`
}

// writeJSON encodes v as JSON and writes it to w.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, "encoding response", http.StatusInternalServerError)
	}
}

// writeProviderError maps upstream provider failures to HTTP statuses.
// Rate limits surface as 429 so clients know a retry may succeed;
// everything else is a 500 carrying the upstream message.
func (s *server) writeProviderError(w http.ResponseWriter, err error) {
	if errors.Is(err, provider.ErrRateLimited) {
		writeJSON(w, http.StatusTooManyRequests,
			errorResponse{err.Error()})

		return
	}

	writeJSON(w, http.StatusInternalServerError,
		errorResponse{err.Error()})
}

// runResponse is the client view of a run record.
type runResponse struct {
	RunID          string     `json:"run_id"`
	Status         string     `json:"status"`
	Report         string     `json:"report,omitempty"`
	ProviderStatus string     `json:"provider_status,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
}

func runView(run *store.Run) runResponse {
	return runResponse{
		RunID:          run.RunID,
		Status:         run.Status,
		Report:         run.Report,
		ProviderStatus: run.ProviderStatus,
		CreatedAt:      run.CreatedAt,
		CompletedAt:    run.CompletedAt,
	}
}

// handleIndex serves the static landing page.
func (s *server) handleIndex(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(indexHTML)
}

// handleHealth returns server health status.
func (s *server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type startRequest struct {
	Query string `json:"query"`
}

// handleStart validates the query, submits a background job to the
// provider, and persists the initial running record.
func (s *server) handleStart(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest,
			errorResponse{"invalid request body"})

		return
	}

	if strings.TrimSpace(req.Query) == "" {
		writeJSON(w, http.StatusBadRequest,
			errorResponse{"query is required"})

		return
	}

	sub, err := s.provider.Submit(r.Context(), req.Query)
	if err != nil {
		s.log.WithError(err).Error("Provider submission failed")
		s.writeProviderError(w, err)

		return
	}

	run := &store.Run{
		RunID:          sub.RunID,
		Status:         store.StatusRunning,
		Query:          req.Query,
		ProviderStatus: sub.Status,
		CreatedAt:      time.Now().UTC(),
	}

	if err := s.store.PutRun(r.Context(), run); err != nil {
		s.log.WithError(err).Error("Failed to persist run")
		writeJSON(w, http.StatusInternalServerError,
			errorResponse{"failed to persist run"})

		return
	}

	s.log.WithField("run_id", run.RunID).Info("Run started")

	writeJSON(w, http.StatusAccepted, map[string]string{
		"run_id": run.RunID,
		"status": run.Status,
	})
}

// handleStatus returns the current run state, re-polling the provider
// only while the run is still in flight. Terminal runs are served from
// the store to avoid redundant upstream calls.
func (s *server) handleStatus(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "run_id")

	run, err := s.store.GetRun(r.Context(), runID)
	if errors.Is(err, store.ErrNotFound) {
		writeJSON(w, http.StatusNotFound,
			errorResponse{"unknown run_id"})

		return
	}

	if err != nil {
		s.log.WithError(err).Error("Failed to read run")
		writeJSON(w, http.StatusInternalServerError,
			errorResponse{"failed to read run"})

		return
	}

	if run.Terminal() {
		writeJSON(w, http.StatusOK, runView(run))

		return
	}

	result, err := s.provider.Poll(r.Context(), runID)
	if err != nil {
		s.log.WithError(err).
			WithField("run_id", runID).
			Error("Provider poll failed")
		s.writeProviderError(w, err)

		return
	}

	run.ProviderStatus = result.Status

	switch {
	case result.Completed():
		if err := s.completeRun(r.Context(), run, result.OutputText); err != nil {
			writeJSON(w, http.StatusInternalServerError,
				errorResponse{"failed to persist completion"})

			return
		}
	case result.Failed():
		run.Status = store.StatusFailed

		if err := s.store.PutRun(r.Context(), run); err != nil {
			s.log.WithError(err).Error("Failed to persist failure")
		}
	default:
		// Still running; record the latest provider status.
		if err := s.store.PutRun(r.Context(), run); err != nil {
			s.log.WithError(err).Error("Failed to persist run update")
		}
	}

	writeJSON(w, http.StatusOK, runView(run))
}

type editRequest struct {
	RunID       string `json:"run_id"`
	Original    string `json:"original"`
	Instruction string `json:"instruction"`
}

// handleEdit rewrites a snippet of the stored report via the provider
// and appends a history entry with the full updated text. The first
// occurrence of the snippet is replaced; a missing snippet is an error
// rather than a silent no-op.
func (s *server) handleEdit(w http.ResponseWriter, r *http.Request) {
	var req editRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest,
			errorResponse{"invalid request body"})

		return
	}

	if req.RunID == "" || req.Original == "" || req.Instruction == "" {
		writeJSON(w, http.StatusBadRequest,
			errorResponse{"run_id, original, and instruction are required"})

		return
	}

	run, err := s.store.GetRun(r.Context(), req.RunID)
	if errors.Is(err, store.ErrNotFound) {
		writeJSON(w, http.StatusNotFound,
			errorResponse{"unknown run_id"})

		return
	}

	if err != nil {
		writeJSON(w, http.StatusInternalServerError,
			errorResponse{"failed to read run"})

		return
	}

	if run.Report == "" {
		writeJSON(w, http.StatusConflict,
			errorResponse{"run has no report to edit"})

		return
	}

	if !strings.Contains(run.Report, req.Original) {
		writeJSON(w, http.StatusUnprocessableEntity,
			errorResponse{"original snippet not found in report"})

		return
	}

	revised, err := s.provider.Edit(r.Context(), req.Original, req.Instruction)
	if err != nil {
		s.log.WithError(err).
			WithField("run_id", req.RunID).
			Error("Provider edit failed")
		s.writeProviderError(w, err)

		return
	}

	run.Report = strings.Replace(run.Report, req.Original, revised, 1)

	if err := s.store.PutRun(r.Context(), run); err != nil {
		writeJSON(w, http.StatusInternalServerError,
			errorResponse{"failed to persist edit"})

		return
	}

	entry := &store.HistoryEntry{
		RunID:     run.RunID,
		Timestamp: time.Now().UTC(),
		Report:    run.Report,
	}

	if err := s.store.AppendHistory(r.Context(), entry); err != nil {
		s.log.WithError(err).Error("Failed to append history")
	}

	s.log.WithField("run_id", run.RunID).Info("Report edited")

	writeJSON(w, http.StatusOK, map[string]string{
		"run_id": run.RunID,
		"report": run.Report,
	})
}

type rollbackRequest struct {
	RunID string `json:"run_id"`
	TS    string `json:"ts"`
}

// handleRollback restores the report from the history entry with the
// exact given timestamp. History is never deleted, so rollbacks can be
// re-applied in any order.
func (s *server) handleRollback(w http.ResponseWriter, r *http.Request) {
	var req rollbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest,
			errorResponse{"invalid request body"})

		return
	}

	if req.RunID == "" || req.TS == "" {
		writeJSON(w, http.StatusBadRequest,
			errorResponse{"run_id and ts are required"})

		return
	}

	ts, err := time.Parse(time.RFC3339Nano, req.TS)
	if err != nil {
		writeJSON(w, http.StatusBadRequest,
			errorResponse{"ts must be RFC3339"})

		return
	}

	run, err := s.store.GetRun(r.Context(), req.RunID)
	if errors.Is(err, store.ErrNotFound) {
		writeJSON(w, http.StatusNotFound,
			errorResponse{"unknown run_id"})

		return
	}

	if err != nil {
		writeJSON(w, http.StatusInternalServerError,
			errorResponse{"failed to read run"})

		return
	}

	entry, err := s.store.GetHistoryEntry(r.Context(), req.RunID, ts)
	if errors.Is(err, store.ErrNotFound) {
		writeJSON(w, http.StatusNotFound,
			errorResponse{"no history entry at that timestamp"})

		return
	}

	if err != nil {
		writeJSON(w, http.StatusInternalServerError,
			errorResponse{"failed to read history"})

		return
	}

	run.Report = entry.Report
	run.Status = store.StatusRolledBack

	if err := s.store.PutRun(r.Context(), run); err != nil {
		writeJSON(w, http.StatusInternalServerError,
			errorResponse{"failed to persist rollback"})

		return
	}

	s.log.WithField("run_id", run.RunID).
		WithField("ts", ts).
		Info("Report rolled back")

	writeJSON(w, http.StatusOK, map[string]string{
		"run_id": run.RunID,
		"report": run.Report,
	})
}

const (
	defaultListLimit = 50
	maxListLimit     = 200
)

// handleListRuns returns a paginated run listing, newest first.
func (s *server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", defaultListLimit)
	if limit < 1 || limit > maxListLimit {
		limit = defaultListLimit
	}

	offset := queryInt(r, "offset", 0)
	if offset < 0 {
		offset = 0
	}

	runs, err := s.store.ListRuns(r.Context(), limit, offset)
	if err != nil {
		s.log.WithError(err).Error("Failed to list runs")
		writeJSON(w, http.StatusInternalServerError,
			errorResponse{"failed to list runs"})

		return
	}

	views := make([]runResponse, 0, len(runs))
	for i := range runs {
		views = append(views, runView(&runs[i]))
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"runs":   views,
		"limit":  limit,
		"offset": offset,
	})
}

// handleListHistory returns all report snapshots for a run, oldest
// first. Clients use the timestamps here as rollback targets.
func (s *server) handleListHistory(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "run_id")

	if _, err := s.store.GetRun(r.Context(), runID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeJSON(w, http.StatusNotFound,
				errorResponse{"unknown run_id"})

			return
		}

		writeJSON(w, http.StatusInternalServerError,
			errorResponse{"failed to read run"})

		return
	}

	entries, err := s.store.ListHistory(r.Context(), runID)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError,
			errorResponse{"failed to list history"})

		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"run_id":  runID,
		"history": entries,
	})
}

// handleDeleteRun removes a run and its history. Administrative only;
// nothing in the run lifecycle ever deletes records.
func (s *server) handleDeleteRun(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "run_id")

	err := s.store.DeleteRun(r.Context(), runID)
	if errors.Is(err, store.ErrNotFound) {
		writeJSON(w, http.StatusNotFound,
			errorResponse{"unknown run_id"})

		return
	}

	if err != nil {
		s.log.WithError(err).Error("Failed to delete run")
		writeJSON(w, http.StatusInternalServerError,
			errorResponse{"failed to delete run"})

		return
	}

	s.log.WithField("run_id", runID).Info("Run deleted")

	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// queryInt parses an integer query parameter with a default.
func queryInt(r *http.Request, key string, def int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def
	}

	v, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}

	return v
}
