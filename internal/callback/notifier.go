// Package callback delivers signed webhooks describing the terminal outcome of a job.
package callback

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/cuongbtq/vault-pipeline/internal/domain"
)

const (
	SignatureHeader = "X-Vault-Signature"
	EventIDHeader   = "X-Vault-Event-Id"

	SchemaVersion = 1

	maxAttempts = 3
)

// DefaultRetryDelays is the wait after each failed attempt
var DefaultRetryDelays = []time.Duration{1 * time.Second, 4 * time.Second, 16 * time.Second}

// eventNamespace seeds the name-based UUIDs used as event ids
var eventNamespace = uuid.MustParse("6f1c7a52-93a4-4e0b-8d8e-0b6a0c3f5e21")

// Config holds callback configuration
type Config struct {
	URL         string
	Secret      string
	Timeout     time.Duration
	RetryDelays []time.Duration
	Logger      *slog.Logger
	HTTPClient  *http.Client
}

// Notifier posts job outcomes to a configured endpoint
type Notifier struct {
	url    string
	secret []byte
	delays []time.Duration
	client *http.Client
	logger *slog.Logger
}

// NewNotifier creates a new notifier. Without a URL and secret it does nothing.
func NewNotifier(cfg *Config) *Notifier {
	client := cfg.HTTPClient
	if client == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}

	delays := cfg.RetryDelays
	if len(delays) == 0 {
		delays = DefaultRetryDelays
	}

	return &Notifier{
		url:    cfg.URL,
		secret: []byte(cfg.Secret),
		delays: delays,
		client: client,
		logger: cfg.Logger.With(slog.String("component", "callback")),
	}
}

// Enabled reports whether a destination is configured
func (n *Notifier) Enabled() bool {
	return n.url != "" && len(n.secret) > 0
}

// EventID derives the deterministic event id of a job's outcome notification
func EventID(jobID string) string {
	return uuid.NewSHA1(eventNamespace, []byte(jobID)).String()
}

// Sign returns the hex encoded HMAC-SHA256 of body
func Sign(secret, body []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// Payload builds the serialized notification body. Keys are sorted and separators are
// compact, so the same job always serializes to the same bytes.
func Payload(job *domain.Job, result domain.Result) ([]byte, error) {
	body := map[string]any{
		"schema_version":   SchemaVersion,
		"event_id":         EventID(job.ID),
		"job_id":           job.ID,
		"content_id":       job.ContentID,
		"resource_key":     job.ResourceKey,
		"status":           string(job.Status),
		"pipeline_version": job.PipelineVersion,
	}
	if result != nil {
		body["result"] = result
	}
	if job.ErrorCode != "" {
		body["error_code"] = job.ErrorCode
	}
	if job.ErrorMessage != "" {
		body["error_message"] = job.ErrorMessage
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(body); err != nil {
		return nil, fmt.Errorf("failed to encode callback payload: %w", err)
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// Notify delivers the outcome of job. Failures are logged, never returned.
func (n *Notifier) Notify(ctx context.Context, job *domain.Job, result domain.Result) {
	if !n.Enabled() {
		return
	}

	logger := n.logger.With(
		slog.String("job_id", job.ID),
		slog.String("status", string(job.Status)),
	)

	body, err := Payload(job, result)
	if err != nil {
		logger.Error("Failed to build callback payload", slog.Any("error", err))
		return
	}
	signature := Sign(n.secret, body)
	eventID := EventID(job.ID)

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		err := n.send(ctx, body, signature, eventID)
		if err == nil {
			logger.Info("Callback delivered", slog.Int("attempt", attempt))
			return
		}

		if attempt == maxAttempts {
			logger.Error("Callback delivery failed, giving up",
				slog.Int("attempts", attempt),
				slog.Any("error", err),
			)
			return
		}

		delay := n.delay(attempt)
		logger.Warn("Callback delivery failed, retrying",
			slog.Int("attempt", attempt),
			slog.Duration("retry_after", delay),
			slog.Any("error", err),
		)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			logger.Warn("Callback retries abandoned", slog.Any("error", ctx.Err()))
			return
		case <-timer.C:
		}
	}
}

func (n *Notifier) delay(attempt int) time.Duration {
	if attempt-1 < len(n.delays) {
		return n.delays[attempt-1]
	}
	return n.delays[len(n.delays)-1]
}

func (n *Notifier) send(ctx context.Context, body []byte, signature, eventID string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(SignatureHeader, signature)
	req.Header.Set(EventIDHeader, eventID)

	resp, err := n.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("non-2xx status: %d", resp.StatusCode)
	}
	return nil
}
