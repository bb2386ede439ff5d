// Package provider wraps the AI completion service. Generation runs in
// the provider's background mode: Submit returns a run ID immediately
// and completion is observed later via Poll or a webhook callback.
package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/ethpandaops/reportoor/pkg/config"
	"github.com/sirupsen/logrus"
)

const responsesPath = "/v1/responses"

// Sentinel errors for upstream failures the caller may want to treat
// differently. Rate limits are retryable with backoff; authentication
// failures are not.
var (
	ErrRateLimited  = errors.New("provider rate limited")
	ErrUnauthorized = errors.New("provider authentication failed")
)

// Provider status strings passed through from the external service.
const (
	ProviderStatusQueued     = "queued"
	ProviderStatusInProgress = "in_progress"
	ProviderStatusCompleted  = "completed"
	ProviderStatusFailed     = "failed"
	ProviderStatusCancelled  = "cancelled"
	ProviderStatusIncomplete = "incomplete"
)

// Submission is the provider's acceptance of a background job.
type Submission struct {
	RunID  string
	Status string
}

// PollResult is a point-in-time view of a background job.
type PollResult struct {
	Status       string
	OutputText   string
	ErrorMessage string
}

// Completed reports whether the provider finished generation.
func (p *PollResult) Completed() bool {
	return p.Status == ProviderStatusCompleted
}

// Failed reports whether the job reached a failed terminal state.
func (p *PollResult) Failed() bool {
	switch p.Status {
	case ProviderStatusFailed, ProviderStatusCancelled, ProviderStatusIncomplete:
		return true
	}

	return false
}

// Client submits, polls, and edits AI completions.
type Client interface {
	// Submit starts a background generation job. It returns as soon as
	// the provider accepts the job, before any output exists.
	Submit(ctx context.Context, query string) (*Submission, error)

	// Poll fetches the current job state. It is idempotent and has no
	// side effects on the provider.
	Poll(ctx context.Context, runID string) (*PollResult, error)

	// Edit synchronously rewrites a text snippet per the instruction.
	// Persistence of the result is the caller's responsibility.
	Edit(ctx context.Context, original, instruction string) (string, error)
}

// Compile-time interface check.
var _ Client = (*client)(nil)

type client struct {
	log  logrus.FieldLogger
	cfg  *config.ProviderConfig
	http *http.Client
}

// NewClient creates a provider client from the given configuration.
func NewClient(
	log logrus.FieldLogger,
	cfg *config.ProviderConfig,
) Client {
	return &client{
		log: log.WithField("component", "provider"),
		cfg: cfg,
		http: &http.Client{
			Timeout: cfg.RequestTimeout(),
		},
	}
}

// --- Wire types ---

type createRequest struct {
	Model      string            `json:"model"`
	Input      string            `json:"input"`
	Background bool              `json:"background,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

type responseObject struct {
	ID     string       `json:"id"`
	Status string       `json:"status"`
	Output []outputItem `json:"output"`
	Error  *apiError    `json:"error"`
}

type outputItem struct {
	Type    string        `json:"type"`
	Content []contentPart `json:"content"`
}

type contentPart struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type apiError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
}

type errorEnvelope struct {
	Error *apiError `json:"error"`
}

// OutputText concatenates the text parts of all message outputs.
func (r *responseObject) OutputText() string {
	var buf bytes.Buffer

	for _, item := range r.Output {
		if item.Type != "message" {
			continue
		}

		for _, part := range item.Content {
			if part.Type == "output_text" {
				buf.WriteString(part.Text)
			}
		}
	}

	return buf.String()
}

// Submit starts a background generation job for the query.
func (c *client) Submit(ctx context.Context, query string) (*Submission, error) {
	req := createRequest{
		Model:      c.cfg.Model,
		Input:      query,
		Background: true,
	}

	if c.cfg.CallbackURL != "" {
		req.Metadata = map[string]string{"callback_url": c.cfg.CallbackURL}
	}

	var resp responseObject
	if err := c.post(ctx, responsesPath, req, &resp); err != nil {
		return nil, err
	}

	if resp.ID == "" {
		return nil, fmt.Errorf("provider accepted job without an id")
	}

	c.log.WithField("run_id", resp.ID).
		WithField("status", resp.Status).
		Debug("Background job submitted")

	return &Submission{RunID: resp.ID, Status: resp.Status}, nil
}

// Poll fetches the current state of a background job.
func (c *client) Poll(ctx context.Context, runID string) (*PollResult, error) {
	var resp responseObject
	if err := c.get(ctx, responsesPath+"/"+runID, &resp); err != nil {
		return nil, err
	}

	result := &PollResult{Status: resp.Status}

	if resp.Status == ProviderStatusCompleted {
		result.OutputText = resp.OutputText()
	}

	if resp.Error != nil {
		result.ErrorMessage = resp.Error.Message
	}

	return result, nil
}

// Edit synchronously rewrites the original snippet per the instruction
// and returns only the revised text.
func (c *client) Edit(ctx context.Context, original, instruction string) (string, error) {
	prompt := fmt.Sprintf(
		"Rewrite the following text per the instruction. "+
			"Return only the rewritten text with no commentary.\n\n"+
			"Instruction: %s\n\nText:\n%s",
		instruction, original,
	)

	req := createRequest{
		Model: c.cfg.Model,
		Input: prompt,
	}

	var resp responseObject
	if err := c.post(ctx, responsesPath, req, &resp); err != nil {
		return "", err
	}

	text := resp.OutputText()
	if text == "" {
		return "", fmt.Errorf("provider returned empty edit result")
	}

	return text, nil
}

// post sends a JSON request body and decodes the response.
func (c *client) post(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encoding request: %w", err)
	}

	req, err := http.NewRequestWithContext(
		ctx, http.MethodPost, c.cfg.BaseURL+path, bytes.NewReader(payload),
	)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")

	return c.do(req, out)
}

// get fetches and decodes a provider resource.
func (c *client) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(
		ctx, http.MethodGet, c.cfg.BaseURL+path, nil,
	)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	return c.do(req, out)
}

// do executes the request with auth headers and maps error statuses to
// the sentinel error kinds.
func (c *client) do(req *http.Request, out any) error {
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("calling provider: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading provider response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return fmt.Errorf("%w: %s", ErrRateLimited, upstreamMessage(data))
	case resp.StatusCode == http.StatusUnauthorized,
		resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("%w: %s", ErrUnauthorized, upstreamMessage(data))
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return fmt.Errorf("provider returned %d: %s",
			resp.StatusCode, upstreamMessage(data))
	}

	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decoding provider response: %w", err)
	}

	return nil
}

// upstreamMessage extracts the provider's error message for surfacing
// to the caller, falling back to the raw body.
func upstreamMessage(data []byte) string {
	var env errorEnvelope
	if err := json.Unmarshal(data, &env); err == nil &&
		env.Error != nil && env.Error.Message != "" {
		return env.Error.Message
	}

	const maxRaw = 256
	if len(data) > maxRaw {
		data = data[:maxRaw]
	}

	return string(data)
}

// MapStatus converts a provider status string to the internal run
// status. Unknown statuses are treated as still running.
func MapStatus(providerStatus string) string {
	switch providerStatus {
	case ProviderStatusCompleted:
		return "completed"
	case ProviderStatusFailed, ProviderStatusCancelled, ProviderStatusIncomplete:
		return "failed"
	default:
		return "running"
	}
}
