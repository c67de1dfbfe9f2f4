package httpx

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5/middleware"
)

func decodeBody(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to parse body: %v", err)
	}
	return body
}

func TestWriteErrorRendersEnvelope(t *testing.T) {
	rr := httptest.NewRecorder()
	err := NewError("order_not_cancellable", "order already accepted", http.StatusConflict).
		WithDetails(map[string]any{"orderId": "ORD-ABC234"})

	WriteError(context.Background(), rr, err)

	if rr.Code != http.StatusConflict {
		t.Fatalf("expected status 409, got %d", rr.Code)
	}
	if ct := rr.Header().Get("Content-Type"); ct != "application/json" {
		t.Fatalf("unexpected content type %s", ct)
	}

	body := decodeBody(t, rr)
	if body["error"] != "order_not_cancellable" {
		t.Fatalf("unexpected error code: %v", body["error"])
	}
	if body["message"] != "order already accepted" {
		t.Fatalf("unexpected message: %v", body["message"])
	}
	if body["status"] != float64(http.StatusConflict) {
		t.Fatalf("unexpected status field: %v", body["status"])
	}
	if body["orderId"] != "ORD-ABC234" {
		t.Fatalf("expected details flattened into body, got %v", body)
	}
}

func TestWriteErrorPullsIDsFromContext(t *testing.T) {
	ctx := context.WithValue(context.Background(), middleware.RequestIDKey, "req-123")

	rr := httptest.NewRecorder()
	WriteError(ctx, rr, NewError("not_found", "no such product", http.StatusNotFound))

	body := decodeBody(t, rr)
	if body["request_id"] != "req-123" {
		t.Fatalf("expected request id from context, got %v", body["request_id"])
	}
	if _, ok := body["trace_id"]; ok {
		t.Fatalf("expected no trace id, got %v", body["trace_id"])
	}
}

func TestWriteErrorPrefersExplicitIDs(t *testing.T) {
	ctx := context.WithValue(context.Background(), middleware.RequestIDKey, "req-from-ctx")

	rr := httptest.NewRecorder()
	err := NewError("internal_server_error", "boom", http.StatusInternalServerError).
		WithRequestID("req-explicit").
		WithTraceID("trace-explicit")
	WriteError(ctx, rr, err)

	body := decodeBody(t, rr)
	if body["request_id"] != "req-explicit" {
		t.Fatalf("expected explicit request id to win, got %v", body["request_id"])
	}
	if body["trace_id"] != "trace-explicit" {
		t.Fatalf("expected explicit trace id, got %v", body["trace_id"])
	}
}

func TestNewErrorDefaultsAndClamping(t *testing.T) {
	err := NewError("some_code", "line one\r\nline two", 0)
	if err.Status != http.StatusInternalServerError {
		t.Fatalf("expected zero status to become 500, got %d", err.Status)
	}
	if err.Message != "line one  line two" {
		t.Fatalf("expected newlines folded, got %q", err.Message)
	}

	long := NewError(strings.Repeat("x", 200), strings.Repeat("m", 600), http.StatusBadRequest)
	if len(long.Code) != 80 {
		t.Fatalf("expected code clamped to 80, got %d", len(long.Code))
	}
	if len(long.Message) != 512 {
		t.Fatalf("expected message clamped to 512, got %d", len(long.Message))
	}
}

func TestErrorStringsCodeAndMessage(t *testing.T) {
	err := NewError("invalid_input", "quantity must be positive", http.StatusBadRequest)
	if got := err.Error(); got != "invalid_input: quantity must be positive" {
		t.Fatalf("unexpected Error() output: %s", got)
	}
}
