// Package refunds adapts the refund lifecycle service to protocol.RefundManager.
package refunds

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sony/gobreaker"

	"github.com/dukex/refund-approvals/pkg/models"
	"github.com/dukex/refund-approvals/pkg/protocol"
)

const defaultTimeout = 10 * time.Second

// StatusError is returned for unexpected responses from the refund service.
type StatusError struct {
	Method     string
	URL        string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("refund service %s %s returned %d: %s", e.Method, e.URL, e.StatusCode, e.Body)
}

// Client talks to the refund service REST API through a circuit breaker.
type Client struct {
	baseURL    string
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker
	logger     *slog.Logger
}

type ClientOption func(*Client)

func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = hc
	}
}

func NewClient(baseURL string, logger *slog.Logger, opts ...ClientOption) *Client {
	logger = logger.With("module", "refunds_client")

	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: defaultTimeout},
		logger:     logger,
	}

	c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "refund-service",
		MaxRequests: 3,
		Interval:    30 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		IsSuccessful: func(err error) bool {
			// A missing refund is an answer, not an outage.
			return err == nil || errors.Is(err, protocol.ErrRefundNotFound)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("Circuit breaker state changed", "name", name, "from", from.String(), "to", to.String())
		},
	})

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// GetRefund fetches GET /refunds/:id.
func (c *Client) GetRefund(ctx context.Context, id string) (*models.RefundSnapshot, error) {
	result, err := c.breaker.Execute(func() (interface{}, error) {
		body, err := c.do(ctx, http.MethodGet, "/refunds/"+url.PathEscape(id), nil)
		if err != nil {
			return nil, err
		}

		var refund models.RefundSnapshot
		if err := json.Unmarshal(body, &refund); err != nil {
			return nil, fmt.Errorf("failed to decode refund %s: %w", id, err)
		}

		if refund.ID == "" {
			refund.ID = id
		}

		return &refund, nil
	})
	if err != nil {
		return nil, err
	}

	return result.(*models.RefundSnapshot), nil
}

type statusUpdate struct {
	Status string         `json:"status"`
	Meta   map[string]any `json:"meta,omitempty"`
}

// UpdateRefundStatus sends PATCH /refunds/:id/status.
func (c *Client) UpdateRefundStatus(ctx context.Context, id string, status string, meta map[string]any) error {
	payload, err := json.Marshal(statusUpdate{Status: status, Meta: meta})
	if err != nil {
		return err
	}

	_, err = c.breaker.Execute(func() (interface{}, error) {
		return c.do(ctx, http.MethodPatch, "/refunds/"+url.PathEscape(id)+"/status", payload)
	})

	return err
}

func (c *Client) do(ctx context.Context, method, path string, payload []byte) ([]byte, error) {
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, err
	}

	req.Header.Set("Accept", "application/json")

	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("refund service %s %s: %w", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, err
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("%w: %s", protocol.ErrRefundNotFound, path)
	case resp.StatusCode >= 300:
		return nil, &StatusError{Method: method, URL: path, StatusCode: resp.StatusCode, Body: string(body)}
	}

	c.logger.DebugContext(ctx, "Refund service call", "method", method, "path", path, "status", resp.StatusCode)

	return body, nil
}
