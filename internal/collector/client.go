// Package collector implements the HTTP client for the external collection API.
package collector

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/timmd-9216/trust-engine-v2-sub000/internal/collection"
)

// Remote status strings the collector is known to report.
const (
	StatusFinished      = "finished"
	StatusFailed        = "failed"
	StatusPending       = "pending"
	StatusProcessing    = "processing"
	StatusRunning       = "running"
	StatusQuotaExceeded = "quota_exceeded"
)

// Config controls Client behavior.
type Config struct {
	BaseURL string
	Token   string
	// PollInterval and PollRounds bound PollStatus: a fixed 40s interval
	// for 80 rounds (~53 minutes ceiling). Remote runs take tens of
	// minutes, so exponential backoff would only delay detection without
	// saving requests.
	PollInterval time.Duration
	PollRounds   int
	// MaxRetries bounds transport-level retries per HTTP call.
	MaxRetries     int
	BackoffInitial time.Duration
	BackoffMax     time.Duration
}

// Client talks to the collector service. It is safe for concurrent use.
type Client struct {
	cfg    Config
	http   *http.Client
	logger *zap.Logger
}

// New constructs a Client. httpClient may be nil, in which case a default
// client with a 30s timeout is used.
func New(cfg Config, httpClient *http.Client, logger *zap.Logger) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("collector base url is required")
	}
	if cfg.Token == "" {
		return nil, fmt.Errorf("collector token is required")
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 40 * time.Second
	}
	if cfg.PollRounds <= 0 {
		cfg.PollRounds = 80
	}
	if cfg.BackoffInitial <= 0 {
		cfg.BackoffInitial = 250 * time.Millisecond
	}
	if cfg.BackoffMax <= 0 {
		cfg.BackoffMax = 2 * time.Second
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{cfg: cfg, http: httpClient, logger: logger}, nil
}

type submitBody struct {
	Query             string   `json:"query"`
	Token             string   `json:"token"`
	MaxPost           int      `json:"max_post"`
	SortBy            string   `json:"sort_by"`
	StartDate         string   `json:"start_date,omitempty"`
	EndDate           string   `json:"end_date,omitempty"`
	PlatformToCollect []string `json:"platform_to_collect"`
	TimelineOnly      bool     `json:"timeline_only"`
	EnableAI          bool     `json:"enable_ai"`
}

type submitResponse struct {
	IDHash256 string `json:"id_hash256"`
}

// Submit starts a remote collection run. A 2xx response without an
// id_hash256 is a submission rejection, not a transport error.
func (c *Client) Submit(ctx context.Context, req collection.SubmitRequest) (string, error) {
	body := submitBody{
		Query:             req.Query,
		Token:             c.cfg.Token,
		MaxPost:           req.MaxPosts,
		SortBy:            req.SortBy,
		StartDate:         req.StartDate,
		EndDate:           req.EndDate,
		PlatformToCollect: []string{string(req.Platform)},
		TimelineOnly:      req.TimelineOnly,
		EnableAI:          req.EnableAI,
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("marshal submit body: %w", err)
	}

	data, err := c.doWithRetry(ctx, http.MethodPost, c.cfg.BaseURL+"/submit", payload)
	if err != nil {
		return "", err
	}

	var resp submitResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return "", &collection.SubmissionError{Reason: fmt.Sprintf("unparseable response: %v", err)}
	}
	if resp.IDHash256 == "" {
		return "", &collection.SubmissionError{Reason: "response carried no id_hash256"}
	}
	return resp.IDHash256, nil
}

// Status performs a single status check and returns the remote status string
// verbatim. A response without a status key reads as "failed".
func (c *Client) Status(ctx context.Context, jobID string) (string, error) {
	q := url.Values{}
	q.Set("id_hash256", jobID)
	q.Set("token", c.cfg.Token)
	q.Set("include_partial_results", "0")

	data, err := c.doWithRetry(ctx, http.MethodGet, c.cfg.BaseURL+"/status?"+q.Encode(), nil)
	if err != nil {
		return "", err
	}

	var resp map[string]json.RawMessage
	if err := json.Unmarshal(data, &resp); err != nil {
		return "", fmt.Errorf("decode status response: %w", err)
	}
	raw, ok := resp["status"]
	if !ok {
		return StatusFailed, nil
	}
	var status string
	if err := json.Unmarshal(raw, &status); err != nil {
		return "", fmt.Errorf("decode status value: %w", err)
	}
	return status, nil
}

// PollStatus blocks across repeated status checks until the remote job
// finishes, fails, or the round budget is exhausted, reporting the rounds
// consumed. Timeout is a distinct outcome: it does not prove the job will
// never finish.
func (c *Client) PollStatus(ctx context.Context, jobID string) (collection.PollOutcome, int, error) {
	for round := 0; round < c.cfg.PollRounds; round++ {
		if round > 0 {
			select {
			case <-ctx.Done():
				return "", round, ctx.Err()
			case <-time.After(c.cfg.PollInterval):
			}
		}

		status, err := c.Status(ctx, jobID)
		if err != nil {
			if ctx.Err() != nil {
				return "", round + 1, ctx.Err()
			}
			// Transient status-call failures burn a round, not the poll.
			c.logger.Warn("status check failed",
				zap.String("job_id", jobID),
				zap.Int("round", round),
				zap.Error(err))
			continue
		}

		switch status {
		case StatusFinished:
			return collection.PollFinished, round + 1, nil
		case StatusFailed:
			return collection.PollFailed, round + 1, nil
		case StatusQuotaExceeded:
			return collection.PollQuotaExceeded, round + 1, nil
		default:
			c.logger.Debug("job still running",
				zap.String("job_id", jobID),
				zap.String("status", status),
				zap.Int("round", round))
		}
	}
	return collection.PollTimeout, c.cfg.PollRounds, nil
}

// FetchResult downloads the raw records for a finished job. The endpoint
// returns either a JSON array (possibly empty) or a single object; both are
// normalized to a record slice.
func (c *Client) FetchResult(ctx context.Context, jobID string, platform collection.Platform) ([]json.RawMessage, error) {
	q := url.Values{}
	q.Set("token", c.cfg.Token)
	q.Set("id", jobID)
	q.Set("source", string(platform))

	data, err := c.doWithRetry(ctx, http.MethodGet, c.cfg.BaseURL+"/rawdata?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}

	var records []json.RawMessage
	if err := json.Unmarshal(data, &records); err == nil {
		return records, nil
	}
	var object map[string]json.RawMessage
	if err := json.Unmarshal(data, &object); err != nil {
		return nil, fmt.Errorf("decode rawdata response: %w", err)
	}
	return []json.RawMessage{json.RawMessage(data)}, nil
}

func (c *Client) doWithRetry(ctx context.Context, method, rawURL string, payload []byte) ([]byte, error) {
	backoff := c.cfg.BackoffInitial
	var lastErr error
	for attempt := 0; attempt <= c.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > c.cfg.BackoffMax {
				backoff = c.cfg.BackoffMax
			}
		}

		data, err := c.do(ctx, method, rawURL, payload)
		if err == nil {
			return data, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
	}
	return nil, lastErr
}

func (c *Client) do(ctx context.Context, method, rawURL string, payload []byte) ([]byte, error) {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, rawURL, body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%s %s: unexpected status %d: %s", method, req.URL.Path, resp.StatusCode, truncate(data, 256))
	}
	return data, nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
