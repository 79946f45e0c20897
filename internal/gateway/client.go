// Package gateway wraps the remote plancosmique backend API: payment
// verification, consultation processing, wallet offerings, and analysis job
// polling. Every call translates transport failures and backend rejections
// into the typed errors of pkg/errors before returning; raw HTTP statuses do
// not leak upward.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	apperrors "github.com/ysprod/plancosmique-sub004/pkg/errors"
)

// HTTPDoer executes HTTP requests. Both httpclient.Client and
// httpclient.CircuitBreakerClient satisfy this.
type HTTPDoer interface {
	Do(ctx context.Context, req *http.Request) (*http.Response, error)
}

// Timeouts holds per-call timeout configuration. A zero value means no
// per-call timeout (inherits the parent context deadline).
type Timeouts struct {
	Verify       time.Duration
	Fulfill      time.Duration
	Offerings    time.Duration
	AnalysisPoll time.Duration
}

// Client is the typed client for the backend API.
type Client struct {
	httpClient HTTPDoer
	baseURL    string
	logger     *slog.Logger
	timeouts   Timeouts
}

// NewClient creates a backend API client.
func NewClient(httpClient HTTPDoer, baseURL string, logger *slog.Logger, timeouts Timeouts) *Client {
	return &Client{
		httpClient: httpClient,
		baseURL:    baseURL,
		logger:     logger,
		timeouts:   timeouts,
	}
}

// withTimeout applies a per-call timeout when configured.
func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d > 0 {
		return context.WithTimeout(ctx, d)
	}
	return ctx, func() {}
}

// postJSON marshals body and POSTs it to path, returning the raw response.
func (c *Client) postJSON(ctx context.Context, path string, body any) (*http.Response, error) {
	return c.sendJSON(ctx, http.MethodPost, path, body)
}

// patchJSON marshals body and PATCHes it to path, returning the raw response.
func (c *Client) patchJSON(ctx context.Context, path string, body any) (*http.Response, error) {
	return c.sendJSON(ctx, http.MethodPatch, path, body)
}

func (c *Client) sendJSON(ctx context.Context, method, path string, body any) (*http.Response, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal %s %s request: %w", method, path, err)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("create %s %s request: %w", method, path, err)
	}
	req.Header.Set("Content-Type", "application/json")

	return c.httpClient.Do(ctx, req)
}

func (c *Client) getJSON(ctx context.Context, path string, target any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("create GET %s request: %w", path, err)
	}

	resp, err := c.httpClient.Do(ctx, req)
	if err != nil {
		return fmt.Errorf("call backend: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return apperrors.Wrap(fmt.Errorf("GET %s returned status %d", path, resp.StatusCode), "backend")
	}

	if err := json.NewDecoder(resp.Body).Decode(target); err != nil {
		return fmt.Errorf("decode GET %s response: %w", path, err)
	}
	return nil
}
