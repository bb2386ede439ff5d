package provider

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ethpandaops/reportoor/pkg/config"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) Client {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	return NewClient(logrus.New(), &config.ProviderConfig{
		APIKey:  "sk-test",
		BaseURL: srv.URL,
		Model:   "gpt-4o",
		Timeout: "5s",
	})
}

func TestClient_Submit(t *testing.T) {
	var gotReq createRequest

	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/responses", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))

		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id": "resp_abc", "status": "queued"}`))
	})

	sub, err := c.Submit(context.Background(), "write a report on rollups")
	require.NoError(t, err)

	assert.Equal(t, "resp_abc", sub.RunID)
	assert.Equal(t, ProviderStatusQueued, sub.Status)
	assert.True(t, gotReq.Background)
	assert.Equal(t, "write a report on rollups", gotReq.Input)
	assert.Equal(t, "gpt-4o", gotReq.Model)
}

func TestClient_SubmitMissingID(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"status": "queued"}`))
	})

	_, err := c.Submit(context.Background(), "q")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "without an id")
}

func TestClient_Poll(t *testing.T) {
	tests := []struct {
		name      string
		body      string
		status    string
		text      string
		completed bool
		failed    bool
	}{
		{
			name:   "in progress",
			body:   `{"id": "resp_abc", "status": "in_progress"}`,
			status: ProviderStatusInProgress,
		},
		{
			name: "completed with output",
			body: `{
				"id": "resp_abc",
				"status": "completed",
				"output": [
					{"type": "reasoning", "content": []},
					{"type": "message", "content": [
						{"type": "output_text", "text": "Hi "},
						{"type": "output_text", "text": "there"}
					]}
				]
			}`,
			status:    ProviderStatusCompleted,
			text:      "Hi there",
			completed: true,
		},
		{
			name:   "failed with error",
			body:   `{"id": "resp_abc", "status": "failed", "error": {"message": "boom"}}`,
			status: ProviderStatusFailed,
			failed: true,
		},
		{
			name:   "cancelled",
			body:   `{"id": "resp_abc", "status": "cancelled"}`,
			status: ProviderStatusCancelled,
			failed: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, http.MethodGet, r.Method)
				assert.Equal(t, "/v1/responses/resp_abc", r.URL.Path)

				_, _ = w.Write([]byte(tt.body))
			})

			result, err := c.Poll(context.Background(), "resp_abc")
			require.NoError(t, err)

			assert.Equal(t, tt.status, result.Status)
			assert.Equal(t, tt.text, result.OutputText)
			assert.Equal(t, tt.completed, result.Completed())
			assert.Equal(t, tt.failed, result.Failed())
		})
	}
}

func TestClient_Edit(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var req createRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		// Edits are synchronous, never background.
		assert.False(t, req.Background)
		assert.Contains(t, req.Input, "make formal")
		assert.Contains(t, req.Input, "Hi there")

		_, _ = w.Write([]byte(`{
			"id": "resp_edit",
			"status": "completed",
			"output": [{"type": "message", "content": [
				{"type": "output_text", "text": "Greetings"}
			]}]
		}`))
	})

	revised, err := c.Edit(context.Background(), "Hi there", "make formal")
	require.NoError(t, err)
	assert.Equal(t, "Greetings", revised)
}

func TestClient_ErrorKinds(t *testing.T) {
	tests := []struct {
		name    string
		code    int
		body    string
		wantErr error
		wantMsg string
	}{
		{
			name:    "rate limited",
			code:    http.StatusTooManyRequests,
			body:    `{"error": {"message": "Rate limit reached"}}`,
			wantErr: ErrRateLimited,
			wantMsg: "Rate limit reached",
		},
		{
			name:    "unauthorized",
			code:    http.StatusUnauthorized,
			body:    `{"error": {"message": "Incorrect API key"}}`,
			wantErr: ErrUnauthorized,
			wantMsg: "Incorrect API key",
		},
		{
			name:    "server error with raw body",
			code:    http.StatusInternalServerError,
			body:    `upstream exploded`,
			wantMsg: "upstream exploded",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.code)
				_, _ = w.Write([]byte(tt.body))
			})

			_, err := c.Poll(context.Background(), "resp_abc")
			require.Error(t, err)

			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			}

			assert.Contains(t, err.Error(), tt.wantMsg)
		})
	}
}

func TestMapStatus(t *testing.T) {
	tests := []struct {
		provider string
		want     string
	}{
		{ProviderStatusQueued, "running"},
		{ProviderStatusInProgress, "running"},
		{ProviderStatusCompleted, "completed"},
		{ProviderStatusFailed, "failed"},
		{ProviderStatusCancelled, "failed"},
		{ProviderStatusIncomplete, "failed"},
		{"something_new", "running"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, MapStatus(tt.provider), tt.provider)
	}
}
