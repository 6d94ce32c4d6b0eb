// Package pipeline talks to the external content pipeline service.
package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/cuongbtq/vault-pipeline/internal/domain"
)

const (
	processPath = "/v1/process"

	statusOK         = "ok"
	statusNoResult   = "no_result"
	statusStageError = "stage_error"

	maxErrorBody = 512
)

// Config holds pipeline client configuration
type Config struct {
	BaseURL    string
	Timeout    time.Duration
	Logger     *slog.Logger
	HTTPClient *http.Client
}

// Client calls the pipeline service and maps its replies to a domain.Outcome
type Client struct {
	endpoint string
	client   *http.Client
	logger   *slog.Logger
}

// processResponse is the reply of POST /v1/process
type processResponse struct {
	Status  string        `json:"status"`
	Result  domain.Result `json:"result,omitempty"`
	Stage   string        `json:"stage,omitempty"`
	Code    string        `json:"code,omitempty"`
	Message string        `json:"message,omitempty"`
}

// NewClient creates a new pipeline client
func NewClient(cfg *Config) *Client {
	client := cfg.HTTPClient
	if client == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 5 * time.Minute
		}
		client = &http.Client{Timeout: timeout}
	}

	return &Client{
		endpoint: strings.TrimRight(cfg.BaseURL, "/") + processPath,
		client:   client,
		logger:   cfg.Logger.With(slog.String("component", "pipeline")),
	}
}

// Process runs the pipeline for one content item
func (c *Client) Process(ctx context.Context, req domain.ProcessRequest) (domain.Outcome, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to encode process request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build process request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Job-Id", req.JobID)

	start := time.Now()
	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("pipeline request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read pipeline response: %w", err)
	}

	c.logger.Debug("Pipeline responded",
		slog.String("job_id", req.JobID),
		slog.Int("status", resp.StatusCode),
		slog.Int("bytes", len(raw)),
		slog.Duration("elapsed", time.Since(start)),
	)

	if resp.StatusCode/100 != 2 {
		if len(raw) > maxErrorBody {
			raw = raw[:maxErrorBody]
		}
		return nil, fmt.Errorf("pipeline returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	var out processResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("failed to decode pipeline response: %w", err)
	}

	switch out.Status {
	case statusOK:
		if len(out.Result) == 0 {
			return domain.NoResult{}, nil
		}
		return domain.Success{Result: out.Result}, nil
	case statusNoResult:
		return domain.NoResult{}, nil
	case statusStageError:
		return domain.StageFailure{Stage: out.Stage, Code: out.Code, Message: out.Message}, nil
	default:
		return nil, fmt.Errorf("unknown pipeline status %q", out.Status)
	}
}
