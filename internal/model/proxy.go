// Package model defines shared types for the gateway.
package model

import (
	"encoding/json"
	"net/http"
)

// InboundRequest is the part of a client request the gateway relays.
type InboundRequest struct {
	RequestID   string
	ContentType string
	Body        []byte
}

// UpstreamCall describes a single outbound call to the backend.
// Path is relative to the configured upstream base URL. A nil Body means
// the call carries no body.
type UpstreamCall struct {
	Method string
	Path   string
	Header http.Header
	Body   []byte
}

// UpstreamResponse is a well-formed backend reply. Body is always valid JSON.
type UpstreamResponse struct {
	StatusCode int
	Body       json.RawMessage
}

// ErrorEnvelope is the JSON body returned to clients on gateway failures.
type ErrorEnvelope struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}
