// Package assets provides a client for the asset platform HTTP API.
// It triggers repair actions and reads integrity counts.
package assets

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/bissquit/incident-repair/internal/domain"
	"github.com/bissquit/incident-repair/internal/pkg/metrics"
)

const (
	defaultTimeout = 30 * time.Second
	metricsTarget  = "assets"
	maxErrorBody   = 1024
)

// Config holds asset platform client configuration.
type Config struct {
	BaseURL string
	Token   string
	Timeout time.Duration
}

// Client talks to the asset platform.
type Client struct {
	config     Config
	httpClient *http.Client
}

// NewClient creates a new asset platform client.
func NewClient(config Config) *Client {
	if config.Timeout == 0 {
		config.Timeout = defaultTimeout
	}
	config.BaseURL = strings.TrimRight(config.BaseURL, "/")

	return &Client{
		config: config,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
	}
}

type restoreRequest struct {
	SourceType domain.SourceType `json:"source_type"`
	SourceID   string            `json:"source_id,omitempty"`
}

// Invoke triggers the repair action matching the source type:
// asset reprocessing, job retry, or a generic restore for everything else.
func (c *Client) Invoke(ctx context.Context, sourceType domain.SourceType, sourceID string) error {
	var (
		path      string
		operation string
		payload   any
	)

	switch sourceType {
	case domain.SourceTypeAsset:
		if sourceID == "" {
			return &PermanentError{Message: "asset id is required for reprocessing"}
		}
		path = "/assets/" + url.PathEscape(sourceID) + "/reprocess"
		operation = "reprocess_asset"
	case domain.SourceTypeJob:
		if sourceID == "" {
			return &PermanentError{Message: "job id is required for retry"}
		}
		path = "/jobs/" + url.PathEscape(sourceID) + "/retry"
		operation = "retry_job"
	case domain.SourceTypeScheduler, domain.SourceTypeQueue, domain.SourceTypeOther:
		path = "/restores"
		operation = "restore"
		payload = restoreRequest{SourceType: sourceType, SourceID: sourceID}
	default:
		return &PermanentError{Message: fmt.Sprintf("unsupported source type %q", sourceType)}
	}

	resp, err := c.do(ctx, operation, http.MethodPost, path, payload)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if err := c.checkResponse(resp); err != nil {
		return err
	}

	slog.Debug("repair action accepted",
		"operation", operation,
		"source_type", sourceType,
		"source_id", sourceID,
	)
	return nil
}

// IntegritySummary reads eligible and invalid asset counts.
func (c *Client) IntegritySummary(ctx context.Context) (domain.IntegrityCounts, error) {
	var counts domain.IntegrityCounts

	resp, err := c.do(ctx, "integrity_summary", http.MethodGet, "/integrity/summary", nil)
	if err != nil {
		return counts, err
	}
	defer func() { _ = resp.Body.Close() }()

	if err := c.checkResponse(resp); err != nil {
		return counts, err
	}

	if err := json.NewDecoder(resp.Body).Decode(&counts); err != nil {
		return counts, fmt.Errorf("decode integrity summary: %w", err)
	}
	if counts.Eligible < 0 || counts.Invalid < 0 || counts.Invalid > counts.Eligible {
		return domain.IntegrityCounts{}, &PermanentError{
			Message: fmt.Sprintf("inconsistent integrity summary: eligible=%d invalid=%d", counts.Eligible, counts.Invalid),
		}
	}
	return counts, nil
}

func (c *Client) do(ctx context.Context, operation, method, path string, payload any) (*http.Response, error) {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal payload: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.config.BaseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if c.config.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.config.Token)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	result := "error"
	if err == nil {
		result = fmt.Sprintf("%dxx", resp.StatusCode/100)
	}
	metrics.ExternalCallDuration.WithLabelValues(metricsTarget, operation, result).Observe(time.Since(start).Seconds())

	if err != nil {
		return nil, &RetryableError{Message: fmt.Sprintf("send request: %v", err)}
	}
	return resp, nil
}

func (c *Client) checkResponse(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	switch resp.StatusCode {
	case http.StatusBadRequest, http.StatusConflict, http.StatusUnprocessableEntity:
		return &PermanentError{
			Code:    resp.StatusCode,
			Message: fmt.Sprintf("rejected: %s", strings.TrimSpace(string(body))),
		}

	case http.StatusUnauthorized, http.StatusForbidden:
		return &PermanentError{
			Code:    resp.StatusCode,
			Message: "invalid or missing asset platform token",
		}

	case http.StatusNotFound:
		return &PermanentError{
			Code:    resp.StatusCode,
			Message: "resource not found",
		}

	case http.StatusTooManyRequests:
		return &RetryableError{
			Code:    resp.StatusCode,
			Message: "rate limited",
		}

	default:
		if resp.StatusCode >= 500 {
			return &RetryableError{
				Code:    resp.StatusCode,
				Message: fmt.Sprintf("server error: %s", strings.TrimSpace(string(body))),
			}
		}
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(body))
	}
}

// PermanentError indicates a failure that will not go away on retry.
type PermanentError struct {
	Code    int
	Message string
}

func (e *PermanentError) Error() string {
	if e.Code > 0 {
		return fmt.Sprintf("asset platform error %d: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("asset platform error: %s", e.Message)
}

// IsRetryable returns false as permanent errors should not be retried.
func (e *PermanentError) IsRetryable() bool { return false }

// RetryableError indicates a temporary failure.
type RetryableError struct {
	Code    int
	Message string
}

func (e *RetryableError) Error() string {
	if e.Code > 0 {
		return fmt.Sprintf("asset platform error %d: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("asset platform error: %s", e.Message)
}

// IsRetryable returns true as these errors are temporary.
func (e *RetryableError) IsRetryable() bool { return true }
