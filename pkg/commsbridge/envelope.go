// Package commsbridge exposes the router on the COMMS bus so native
// extensions running out of process can invoke routes by request/reply.
package commsbridge

import "encoding/json"

// InvokeRequest is the JSON envelope for an incoming invoke.
type InvokeRequest struct {
	ID   string             `json:"id"`
	URI  string             `json:"uri"`
	Body string             `json:"body,omitempty"`
	Ctx  *InvocationContext `json:"ctx,omitempty"`
}

// InvokeResponse is the JSON envelope answering an invoke. Result holds the
// reply in its JSON form; Body and Headers carry its binary post.
type InvokeResponse struct {
	ID      string            `json:"id"`
	Ok      bool              `json:"ok"`
	Result  json.RawMessage   `json:"result,omitempty"`
	Body    string            `json:"body,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`
	Error   *ErrorDetail      `json:"error,omitempty"`
}

// ErrorDetail holds structured error information.
type ErrorDetail struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
}

// InvocationContext holds context from the caller.
type InvocationContext struct {
	RequestID     string `json:"requestId,omitempty"`
	CorrelationID string `json:"correlationId,omitempty"`
	TimeoutMs     int    `json:"timeoutMs,omitempty"`
}
