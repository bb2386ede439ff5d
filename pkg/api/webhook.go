package api

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/ethpandaops/reportoor/pkg/provider"
	"github.com/ethpandaops/reportoor/pkg/store"
)

// maxWebhookBody bounds the accepted callback payload size.
const maxWebhookBody = 1 << 20

// errUnknownShape marks a payload that matched none of the known
// webhook shapes. Lost notifications must be observable, so this is
// surfaced as a 400 rather than silently dropped.
var errUnknownShape = errors.New("unrecognized webhook payload shape")

// webhookEvent is the normalized result of decoding a provider
// callback, whatever shape it arrived in.
type webhookEvent struct {
	RunID      string
	Status     string
	OutputText string

	// HasText is false for envelope-shaped events that only carry the
	// run ID; the result text must then be fetched with a poll.
	HasText bool
}

// eventEnvelope is the provider's event-wrapper shape:
// {"type": "response.completed", "data": {"id": "..."}}.
type eventEnvelope struct {
	Type string `json:"type"`
	Data struct {
		ID string `json:"id"`
	} `json:"data"`
}

// flatPayload is the older flat callback shape carrying the result
// inline. Either run_id or id identifies the run.
type flatPayload struct {
	RunID      string `json:"run_id"`
	ID         string `json:"id"`
	Status     string `json:"status"`
	OutputText string `json:"output_text"`
	Response   string `json:"response"`
}

// decodeWebhook resolves the payload against the known shapes, most
// specific first. Anything else is errUnknownShape.
func decodeWebhook(data []byte) (*webhookEvent, error) {
	var env eventEnvelope
	if err := json.Unmarshal(data, &env); err == nil &&
		strings.HasPrefix(env.Type, "response.") && env.Data.ID != "" {
		status := strings.TrimPrefix(env.Type, "response.")

		return &webhookEvent{
			RunID:  env.Data.ID,
			Status: status,
		}, nil
	}

	var flat flatPayload
	if err := json.Unmarshal(data, &flat); err == nil {
		runID := flat.RunID
		if runID == "" {
			runID = flat.ID
		}

		if runID != "" && flat.Status != "" {
			text := flat.OutputText
			if text == "" {
				text = flat.Response
			}

			return &webhookEvent{
				RunID:      runID,
				Status:     flat.Status,
				OutputText: text,
				HasText:    text != "",
			}, nil
		}
	}

	return nil, errUnknownShape
}

// authenticateWebhook verifies the caller before any payload is
// trusted. Verification is mandatory: with no secret configured the
// endpoint rejects everything.
func (s *server) authenticateWebhook(r *http.Request, body []byte) error {
	secret := s.cfg.Provider.WebhookSecret
	if secret == "" {
		return fmt.Errorf("webhook secret not configured")
	}

	// Signed-payload verification when the provider sends one.
	if sig := r.Header.Get("Webhook-Signature"); sig != "" {
		return verifySignature(secret, sig,
			r.Header.Get("Webhook-Id"),
			r.Header.Get("Webhook-Timestamp"),
			body,
		)
	}

	// Shared-secret bearer token otherwise.
	auth := r.Header.Get("Authorization")
	token, ok := strings.CutPrefix(auth, "Bearer ")
	if !ok {
		return fmt.Errorf("missing webhook credentials")
	}

	if subtle.ConstantTimeCompare([]byte(token), []byte(secret)) != 1 {
		return fmt.Errorf("invalid webhook token")
	}

	return nil
}

// verifySignature checks a standard-webhooks style HMAC-SHA256
// signature over "{id}.{timestamp}.{body}". The header may carry
// several space-separated "v1,<base64>" candidates; any match passes.
func verifySignature(secret, header, id, timestamp string, body []byte) error {
	if id == "" || timestamp == "" {
		return fmt.Errorf("missing webhook signature headers")
	}

	key := []byte(secret)
	if trimmed, ok := strings.CutPrefix(secret, "whsec_"); ok {
		decoded, err := base64.StdEncoding.DecodeString(trimmed)
		if err != nil {
			return fmt.Errorf("decoding webhook secret: %w", err)
		}

		key = decoded
	}

	mac := hmac.New(sha256.New, key)
	fmt.Fprintf(mac, "%s.%s.", id, timestamp)
	mac.Write(body)
	expected := base64.StdEncoding.EncodeToString(mac.Sum(nil))

	for _, candidate := range strings.Fields(header) {
		value, ok := strings.CutPrefix(candidate, "v1,")
		if !ok {
			continue
		}

		if hmac.Equal([]byte(value), []byte(expected)) {
			return nil
		}
	}

	return fmt.Errorf("webhook signature mismatch")
}

// handleWebhook ingests a provider completion callback. The caller is
// authenticated first; a bad token changes no state. Payloads that
// match no known shape fail loudly with a 400 so lost notifications
// stay observable.
func (s *server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		writeJSON(w, http.StatusBadRequest,
			errorResponse{"reading webhook body"})

		return
	}

	if err := s.authenticateWebhook(r, body); err != nil {
		s.log.WithError(err).Warn("Webhook authentication failed")
		writeJSON(w, http.StatusForbidden,
			errorResponse{"webhook authentication failed"})

		return
	}

	event, err := decodeWebhook(body)
	if err != nil {
		s.log.WithError(err).Warn("Webhook payload rejected")
		writeJSON(w, http.StatusBadRequest,
			errorResponse{err.Error()})

		return
	}

	run, err := s.store.GetRun(r.Context(), event.RunID)
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

	run.ProviderStatus = event.Status

	switch provider.MapStatus(event.Status) {
	case store.StatusCompleted:
		text := event.OutputText

		// Envelope events carry no output; fetch it from the provider.
		if !event.HasText {
			result, err := s.provider.Poll(r.Context(), event.RunID)
			if err != nil {
				s.log.WithError(err).
					WithField("run_id", event.RunID).
					Error("Fetching webhook result failed")
				s.writeProviderError(w, err)

				return
			}

			text = result.OutputText
		}

		if err := s.completeRun(r.Context(), run, text); err != nil {
			writeJSON(w, http.StatusInternalServerError,
				errorResponse{"failed to persist completion"})

			return
		}
	case store.StatusFailed:
		run.Status = store.StatusFailed

		if err := s.store.PutRun(r.Context(), run); err != nil {
			writeJSON(w, http.StatusInternalServerError,
				errorResponse{"failed to persist failure"})

			return
		}

		s.log.WithField("run_id", run.RunID).
			WithField("provider_status", event.Status).
			Info("Run failed")
	default:
		// Progress notifications only refresh the provider status.
		if err := s.store.PutRun(r.Context(), run); err != nil {
			writeJSON(w, http.StatusInternalServerError,
				errorResponse{"failed to persist run update"})

			return
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
