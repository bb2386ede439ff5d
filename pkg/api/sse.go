package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/ethpandaops/reportoor/pkg/store"
	"github.com/go-chi/chi/v5"
)

// reportFrame is the payload of one SSE data frame.
type reportFrame struct {
	Report string `json:"report"`
}

// handleStream is the notification channel: a one-way SSE stream that
// polls the store at a fixed interval and emits a frame whenever the
// report text changes, closing once the run leaves the running state.
// The loop is cancelled when the client disconnects.
func (s *server) handleStream(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "run_id")

	run, err := s.store.GetRun(r.Context(), runID)
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

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSON(w, http.StatusInternalServerError,
			errorResponse{"streaming not supported"})

		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	// The snapshot at subscribe time is the baseline; a run that is
	// already terminal closes immediately with zero data frames.
	lastSent := run.Report

	if run.Terminal() {
		return
	}

	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
		}

		run, err := s.store.GetRun(r.Context(), runID)
		if err != nil {
			s.log.WithError(err).
				WithField("run_id", runID).
				Warn("Stream poll failed")

			return
		}

		if run.Report != lastSent {
			if err := writeEvent(w, "report", reportFrame{run.Report}); err != nil {
				return
			}

			flusher.Flush()

			lastSent = run.Report
		}

		if run.Terminal() {
			return
		}
	}
}

// writeEvent emits one SSE event with a JSON data payload.
func writeEvent(w http.ResponseWriter, event string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}

	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data); err != nil {
		return err
	}

	return nil
}
