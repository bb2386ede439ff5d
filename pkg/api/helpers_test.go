package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ethpandaops/reportoor/pkg/config"
	"github.com/ethpandaops/reportoor/pkg/provider"
	"github.com/ethpandaops/reportoor/pkg/store"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

// fakeProvider is an in-memory provider.Client for handler tests.
type fakeProvider struct {
	submission *provider.Submission
	submitErr  error

	pollResult *provider.PollResult
	pollErr    error
	pollCalls  int

	editText  string
	editErr   error
	editCalls int
}

var _ provider.Client = (*fakeProvider)(nil)

func (f *fakeProvider) Submit(_ context.Context, _ string) (*provider.Submission, error) {
	if f.submitErr != nil {
		return nil, f.submitErr
	}

	if f.submission != nil {
		return f.submission, nil
	}

	return &provider.Submission{
		RunID:  "resp_test",
		Status: provider.ProviderStatusQueued,
	}, nil
}

func (f *fakeProvider) Poll(_ context.Context, _ string) (*provider.PollResult, error) {
	f.pollCalls++

	if f.pollErr != nil {
		return nil, f.pollErr
	}

	if f.pollResult != nil {
		return f.pollResult, nil
	}

	return &provider.PollResult{Status: provider.ProviderStatusInProgress}, nil
}

func (f *fakeProvider) Edit(_ context.Context, _, _ string) (string, error) {
	f.editCalls++

	if f.editErr != nil {
		return "", f.editErr
	}

	return f.editText, nil
}

// testServer bundles everything a handler test needs.
type testServer struct {
	srv   *server
	http  *httptest.Server
	store store.Store
	fake  *fakeProvider
}

func newTestServer(t *testing.T, mutate func(cfg *config.Config)) *testServer {
	t.Helper()

	log := logrus.New()
	log.SetOutput(io.Discard)

	cfg := &config.Config{
		Provider: config.ProviderConfig{
			APIKey:        "sk-test",
			WebhookSecret: "test-secret",
		},
	}

	if mutate != nil {
		mutate(cfg)
	}

	st := store.NewMemoryStore(log)
	require.NoError(t, st.Start(context.Background()))

	fake := &fakeProvider{}

	s := &server{
		log:          log,
		cfg:          cfg,
		store:        st,
		provider:     fake,
		pollInterval: 10 * time.Millisecond,
	}

	ts := httptest.NewServer(s.buildRouter())
	t.Cleanup(ts.Close)

	return &testServer{srv: s, http: ts, store: st, fake: fake}
}

// seedRun inserts a run directly into the store.
func (ts *testServer) seedRun(t *testing.T, run *store.Run) {
	t.Helper()

	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now().UTC()
	}

	require.NoError(t, ts.store.PutRun(context.Background(), run))
}

// postJSON sends a JSON POST and decodes the JSON response body.
func (ts *testServer) postJSON(
	t *testing.T, path string, body any,
) (int, map[string]any) {
	t.Helper()

	payload, err := json.Marshal(body)
	require.NoError(t, err)

	resp, err := http.Post(
		ts.http.URL+path, "application/json", bytes.NewReader(payload),
	)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	return resp.StatusCode, decodeBody(t, resp.Body)
}

// getJSON sends a GET and decodes the JSON response body.
func (ts *testServer) getJSON(t *testing.T, path string) (int, map[string]any) {
	t.Helper()

	resp, err := http.Get(ts.http.URL + path)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	return resp.StatusCode, decodeBody(t, resp.Body)
}

func decodeBody(t *testing.T, r io.Reader) map[string]any {
	t.Helper()

	data, err := io.ReadAll(r)
	require.NoError(t, err)

	var out map[string]any
	if len(data) > 0 {
		require.NoError(t, json.Unmarshal(data, &out), string(data))
	}

	return out
}
