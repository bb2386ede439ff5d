package api

import (
	"context"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/ethpandaops/reportoor/pkg/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStream_UnknownRun(t *testing.T) {
	ts := newTestServer(t, nil)

	resp, err := http.Get(ts.http.URL + "/stream/resp_ghost")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestStream_TerminalRunClosesWithoutFrames(t *testing.T) {
	ts := newTestServer(t, nil)

	completedAt := time.Now().UTC()
	ts.seedRun(t, &store.Run{
		RunID:       "resp_done",
		Status:      store.StatusCompleted,
		Query:       "q",
		Report:      "Hi there",
		CompletedAt: &completedAt,
	})

	resp, err := http.Get(ts.http.URL + "/stream/resp_done")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	// The stream closes immediately; the body carries no frames.
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Empty(t, body)
}

func TestStream_EmitsFrameOnReportChange(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.seedRun(t, &store.Run{
		RunID:  "resp_live",
		Status: store.StatusRunning,
		Query:  "q",
	})

	// Complete the run shortly after the stream subscribes.
	go func() {
		time.Sleep(30 * time.Millisecond)

		run, err := ts.store.GetRun(context.Background(), "resp_live")
		if err != nil {
			return
		}

		now := time.Now().UTC()
		run.Status = store.StatusCompleted
		run.Report = "Hi there"
		run.CompletedAt = &now

		_ = ts.store.PutRun(context.Background(), run)
	}()

	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(ts.http.URL + "/stream/resp_live")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	require.Equal(t, http.StatusOK, resp.StatusCode)

	// The server closes the stream once the run is terminal, so the
	// body can be read to EOF.
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	frames := strings.Split(strings.TrimSpace(string(body)), "\n\n")
	require.Len(t, frames, 1)
	assert.Equal(t, "event: report\ndata: {\"report\":\"Hi there\"}", frames[0])
}

func TestStream_NoFrameWhenReportUnchanged(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.seedRun(t, &store.Run{
		RunID:  "resp_quiet",
		Status: store.StatusRunning,
		Query:  "q",
		Report: "draft",
	})

	// Fail the run without touching the report.
	go func() {
		time.Sleep(30 * time.Millisecond)

		run, err := ts.store.GetRun(context.Background(), "resp_quiet")
		if err != nil {
			return
		}

		run.Status = store.StatusFailed

		_ = ts.store.PutRun(context.Background(), run)
	}()

	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(ts.http.URL + "/stream/resp_quiet")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Empty(t, body)
}
