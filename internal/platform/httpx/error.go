// Package httpx defines the JSON error envelope every handler writes.
package httpx

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/vendora/api/internal/platform/requestctx"
)

// Error is the API's error envelope. Code is a stable machine-readable
// identifier ("order_not_cancellable"), Message is human-readable, and
// Details are flattened into the top level of the JSON body.
type Error struct {
	Code      string
	Message   string
	Status    int
	RequestID string
	TraceID   string
	Details   map[string]any
}

// NewError builds an envelope; a zero status becomes 500.
func NewError(code, message string, status int) Error {
	if status == 0 {
		status = http.StatusInternalServerError
	}
	return Error{
		Code:    clamp(code, 80),
		Message: clamp(message, 512),
		Status:  status,
	}
}

func (e Error) Error() string {
	return e.Code + ": " + e.Message
}

// WithRequestID overrides the request ID that WriteError would otherwise
// pull from the context.
func (e Error) WithRequestID(id string) Error {
	e.RequestID = clamp(id, 80)
	return e
}

// WithTraceID overrides the trace ID that WriteError would otherwise
// pull from the context.
func (e Error) WithTraceID(id string) Error {
	e.TraceID = clamp(id, 64)
	return e
}

// WithDetails attaches extra JSON fields, for example the per-line
// failures of a rejected order.
func (e Error) WithDetails(details map[string]any) Error {
	if len(details) == 0 {
		return e
	}
	e.Details = make(map[string]any, len(details))
	for k, v := range details {
		e.Details[k] = v
	}
	return e
}

// WriteError renders the envelope as JSON. Request and trace IDs fall
// back to whatever the middleware stack stored on the context.
func WriteError(ctx context.Context, w http.ResponseWriter, err Error) {
	status := err.Status
	if status == 0 {
		status = http.StatusInternalServerError
	}

	body := map[string]any{
		"error":   err.Code,
		"message": err.Message,
		"status":  status,
	}
	if requestID := firstOf(err.RequestID, clamp(middleware.GetReqID(ctx), 80)); requestID != "" {
		body["request_id"] = requestID
	}
	if traceID := firstOf(err.TraceID, clamp(requestctx.TraceID(ctx), 64)); traceID != "" {
		body["trace_id"] = traceID
	}
	for k, v := range err.Details {
		body[k] = v
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func firstOf(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// clamp folds newlines into spaces and truncates so that caller-supplied
// text cannot break the single-line JSON log format.
func clamp(value string, limit int) string {
	if limit <= 0 {
		limit = 256
	}
	value = strings.ReplaceAll(value, "\n", " ")
	value = strings.ReplaceAll(value, "\r", " ")
	value = strings.TrimSpace(value)
	if len(value) > limit {
		value = value[:limit]
	}
	return value
}
