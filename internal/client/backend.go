// Package client provides the upstream HTTP client for the analysis backend.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"finagent-gateway/internal/config"
	"finagent-gateway/internal/metrics"
	"finagent-gateway/internal/model"
)

// ErrUnavailable marks every failure to obtain a well-formed JSON reply from
// the backend: refused connections, timeouts, DNS errors and bad bodies.
var ErrUnavailable = errors.New("backend unavailable")

// ErrInvalidJSON is returned (wrapped in ErrUnavailable) when the backend
// replies with a body that is not JSON.
var ErrInvalidJSON = errors.New("response body is not valid JSON")

const userAgent = "finagent-gateway/1.0"

// maxResponseBytes caps how much of a backend reply is buffered.
const maxResponseBytes = 32 << 20

// BackendClient sends requests to the analysis backend.
type BackendClient struct {
	httpClient *http.Client
	baseURL    *url.URL
	logger     *slog.Logger
	metrics    *metrics.Metrics
}

// NewBackendClient creates a BackendClient with connection pooling and timeouts.
// The metrics parameter is optional; pass nil to disable upstream metrics recording.
func NewBackendClient(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) (*BackendClient, error) {
	u, err := url.Parse(cfg.Upstream.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse upstream base_url: %w", err)
	}

	transport := &http.Transport{
		MaxIdleConns:        cfg.Upstream.IdleConnections,
		MaxIdleConnsPerHost: cfg.Upstream.IdleConnections,
		IdleConnTimeout:     90 * time.Second,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
	}

	return &BackendClient{
		httpClient: &http.Client{
			Transport: transport,
			Timeout:   time.Duration(cfg.Upstream.TimeoutSeconds) * time.Second,
		},
		baseURL: u,
		logger:  logger.With("component", "backend_client"),
		metrics: m,
	}, nil
}

// BaseURL returns the backend base URL the client targets.
func (c *BackendClient) BaseURL() string {
	return c.baseURL.String()
}

// Do performs one call against the backend and returns its status and JSON body.
// Non-2xx statuses are not errors. Any error returned wraps ErrUnavailable.
func (c *BackendClient) Do(ctx context.Context, call *model.UpstreamCall) (*model.UpstreamResponse, error) {
	target := c.baseURL.JoinPath(call.Path)

	var body io.Reader = http.NoBody
	if call.Body != nil {
		body = bytes.NewReader(call.Body)
	}

	req, err := http.NewRequestWithContext(ctx, call.Method, target.String(), body)
	if err != nil {
		return nil, fmt.Errorf("%w: build request: %w", ErrUnavailable, err)
	}
	for key, vals := range call.Header {
		req.Header[key] = vals
	}
	if call.Body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)

	c.logger.Debug("upstream request",
		"method", call.Method,
		"path", call.Path,
	)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.observe(call.Path, start, 0)
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	c.observe(call.Path, start, resp.StatusCode)
	if err != nil {
		c.recordFailure(call.Path)
		return nil, fmt.Errorf("%w: read body: %w", ErrUnavailable, err)
	}
	if !json.Valid(data) {
		c.recordFailure(call.Path)
		return nil, fmt.Errorf("%w: status %d: %w", ErrUnavailable, resp.StatusCode, ErrInvalidJSON)
	}

	return &model.UpstreamResponse{
		StatusCode: resp.StatusCode,
		Body:       json.RawMessage(data),
	}, nil
}

// observe records latency and, when a response arrived, its status.
// A zero status means the transport failed before any response.
func (c *BackendClient) observe(path string, start time.Time, status int) {
	if c.metrics == nil {
		return
	}
	c.metrics.UpstreamDuration.WithLabelValues(path).Observe(time.Since(start).Seconds())
	if status == 0 {
		c.metrics.UpstreamFailures.WithLabelValues(path).Inc()
		return
	}
	c.metrics.UpstreamResponses.WithLabelValues(path, strconv.Itoa(status)).Inc()
}

func (c *BackendClient) recordFailure(path string) {
	if c.metrics != nil {
		c.metrics.UpstreamFailures.WithLabelValues(path).Inc()
	}
}
