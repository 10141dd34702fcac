// Package desk provides a ticket gateway backed by the support desk HTTP API.
package desk

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/bissquit/incident-repair/internal/domain"
	"github.com/bissquit/incident-repair/internal/escalation"
	"github.com/bissquit/incident-repair/internal/pkg/metrics"
	"golang.org/x/time/rate"
)

const (
	defaultTimeout = 15 * time.Second
	metricsTarget  = "desk"
	maxErrorBody   = 1024
)

// Config holds support desk gateway configuration.
type Config struct {
	BaseURL   string
	Token     string
	Timeout   time.Duration
	RateLimit float64 // requests per second, 0 disables limiting
	Burst     int
}

// Gateway implements escalation.Gateway over the support desk API.
type Gateway struct {
	config     Config
	httpClient *http.Client
	limiter    *rate.Limiter
}

// NewGateway creates a new support desk gateway.
func NewGateway(config Config) *Gateway {
	if config.Timeout == 0 {
		config.Timeout = defaultTimeout
	}
	if config.Burst <= 0 {
		config.Burst = 1
	}
	config.BaseURL = strings.TrimRight(config.BaseURL, "/")

	limit := rate.Inf
	if config.RateLimit > 0 {
		limit = rate.Limit(config.RateLimit)
	}

	slog.Info("support desk gateway configured",
		"base_url", config.BaseURL,
		"rate_limit", config.RateLimit,
		"burst", config.Burst,
	)

	return &Gateway{
		config: config,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
		limiter: rate.NewLimiter(limit, config.Burst),
	}
}

type ticketResponse struct {
	ID string `json:"id"`
}

// CreateTicket files a ticket. The correlation id is sent as idempotency key so
// the desk can answer 409 with the ticket it already holds.
func (g *Gateway) CreateTicket(ctx context.Context, req domain.TicketRequest) (string, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return "", &RetryableError{Message: fmt.Sprintf("rate limit wait: %v", err)}
	}

	body, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("marshal ticket: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.config.BaseURL+"/tickets", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Idempotency-Key", req.CorrelationID)
	if g.config.Token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+g.config.Token)
	}

	start := time.Now()
	resp, err := g.httpClient.Do(httpReq)
	result := "error"
	if err == nil {
		result = fmt.Sprintf("%dxx", resp.StatusCode/100)
	}
	metrics.ExternalCallDuration.WithLabelValues(metricsTarget, "create_ticket", result).Observe(time.Since(start).Seconds())

	if err != nil {
		return "", &RetryableError{Message: fmt.Sprintf("send request: %v", err)}
	}
	defer func() { _ = resp.Body.Close() }()

	return g.handleResponse(resp, req.CorrelationID)
}

func (g *Gateway) handleResponse(resp *http.Response, correlationID string) (string, error) {
	switch resp.StatusCode {
	case http.StatusOK, http.StatusCreated:
		var ticket ticketResponse
		if err := json.NewDecoder(resp.Body).Decode(&ticket); err != nil {
			return "", fmt.Errorf("decode ticket response: %w", err)
		}
		slog.Debug("ticket created", "correlation_id", correlationID, "ticket_id", ticket.ID)
		return ticket.ID, nil

	case http.StatusConflict:
		var ticket ticketResponse
		if err := json.NewDecoder(resp.Body).Decode(&ticket); err != nil && !errors.Is(err, io.EOF) {
			slog.Debug("duplicate ticket response without body", "correlation_id", correlationID, "error", err)
		}
		return "", &escalation.DuplicateError{TicketID: ticket.ID}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}

	switch resp.StatusCode {
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		return "", &PermanentError{
			Code:    resp.StatusCode,
			Message: fmt.Sprintf("bad request: %s", strings.TrimSpace(string(body))),
		}

	case http.StatusUnauthorized, http.StatusForbidden:
		return "", &PermanentError{
			Code:    resp.StatusCode,
			Message: "invalid or missing desk token",
		}

	case http.StatusTooManyRequests:
		return "", &RateLimitError{
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
			Message:    "rate limited",
		}

	default:
		if resp.StatusCode >= 500 {
			return "", &RetryableError{
				Code:    resp.StatusCode,
				Message: fmt.Sprintf("server error: %s", strings.TrimSpace(string(body))),
			}
		}
		return "", fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(body))
	}
}

func parseRetryAfter(v string) time.Duration {
	seconds, err := strconv.Atoi(v)
	if err != nil || seconds < 0 {
		return 0
	}
	return time.Duration(seconds) * time.Second
}

// PermanentError indicates a desk error that should not be retried.
type PermanentError struct {
	Code    int
	Message string
}

func (e *PermanentError) Error() string {
	if e.Code > 0 {
		return fmt.Sprintf("desk error %d: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("desk error: %s", e.Message)
}

// IsRetryable returns false as permanent errors should not be retried.
func (e *PermanentError) IsRetryable() bool { return false }

// RetryableError indicates a temporary desk error.
type RetryableError struct {
	Code    int
	Message string
}

func (e *RetryableError) Error() string {
	if e.Code > 0 {
		return fmt.Sprintf("desk error %d: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("desk error: %s", e.Message)
}

// IsRetryable returns true as these errors are temporary.
func (e *RetryableError) IsRetryable() bool { return true }

// RateLimitError is returned when the desk throttles ticket creation.
type RateLimitError struct {
	RetryAfter time.Duration
	Message    string
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("desk rate limit: %s (retry after %s)", e.Message, e.RetryAfter)
	}
	return fmt.Sprintf("desk rate limit: %s", e.Message)
}

// IsRetryable returns true.
func (e *RateLimitError) IsRetryable() bool { return true }
