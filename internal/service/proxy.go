// Package service implements the core proxy forwarding logic.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"mime"
	"net/http"

	"finagent-gateway/internal/model"
)

// Route binds a public gateway route to one fixed backend call.
type Route struct {
	Name string
	// Method and UpstreamPath are used verbatim for the backend call.
	Method       string
	UpstreamPath string
	// ForwardBody relays the inbound JSON body; otherwise the call has no body.
	ForwardBody bool
	// FailureMessage is the client-visible message when the backend is unreachable.
	FailureMessage string
}

// AnalyzeRoute relays analysis queries to the backend agent.
var AnalyzeRoute = Route{
	Name:           "analyze",
	Method:         http.MethodPost,
	UpstreamPath:   "/api/analyze",
	ForwardBody:    true,
	FailureMessage: "Failed to connect to backend service",
}

// HealthRoute relays health checks to the backend.
var HealthRoute = Route{
	Name:           "health",
	Method:         http.MethodGet,
	UpstreamPath:   "/health",
	FailureMessage: "Backend is not available",
}

// emptyObject is forwarded when the inbound request carries no JSON body.
var emptyObject = []byte("{}")

// Backend performs a single call against the analysis backend.
type Backend interface {
	Do(ctx context.Context, call *model.UpstreamCall) (*model.UpstreamResponse, error)
}

// ProxyService handles the forwarding logic for proxied routes.
type ProxyService struct {
	backend Backend
	logger  *slog.Logger
}

// NewProxyService creates a ProxyService.
func NewProxyService(b Backend, logger *slog.Logger) *ProxyService {
	return &ProxyService{
		backend: b,
		logger:  logger.With("component", "proxy_service"),
	}
}

// Forward sends the request for route to the backend and returns its reply.
// Any error means the backend could not be reached or answered with a non-JSON
// body; backend status codes are never turned into errors.
func (s *ProxyService) Forward(ctx context.Context, route Route, in *model.InboundRequest) (*model.UpstreamResponse, error) {
	call := &model.UpstreamCall{
		Method: route.Method,
		Path:   route.UpstreamPath,
		Header: make(http.Header),
	}
	if in.RequestID != "" {
		call.Header.Set("X-Request-Id", in.RequestID)
	}
	if route.ForwardBody {
		call.Body = requestBody(in)
	}

	s.logger.Debug("forwarding request",
		"route", route.Name,
		"method", call.Method,
		"path", call.Path,
		"bytes", len(call.Body),
	)

	resp, err := s.backend.Do(ctx, call)
	if err != nil {
		return nil, fmt.Errorf("forward %s: %w", route.Name, err)
	}
	return resp, nil
}

// requestBody returns the bytes to relay upstream. A JSON body is passed
// through untouched; an empty or non-JSON body becomes an empty object.
func requestBody(in *model.InboundRequest) []byte {
	if len(in.Body) == 0 || !isJSON(in.ContentType) {
		return emptyObject
	}
	return in.Body
}

func isJSON(contentType string) bool {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	return mediaType == "application/json"
}
