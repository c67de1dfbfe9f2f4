package idempotency

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

var testClock = time.Date(2026, time.February, 10, 9, 30, 0, 0, time.UTC)

func postOrder(body, key string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/v1/orders", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	if key != "" {
		req.Header.Set("Idempotency-Key", key)
	}
	return req
}

func decodeErrorCode(t *testing.T, payload []byte) string {
	t.Helper()
	var body struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(payload, &body); err != nil {
		t.Fatalf("decoding error payload: %v", err)
	}
	return body.Error
}

func TestMiddlewareRejectsMissingKey(t *testing.T) {
	mw := Middleware(NewMemoryStore(), WithClock(func() time.Time { return testClock }))

	called := false
	handler := mw(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		called = true
	}))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, postOrder(`{"items":[]}`, ""))

	if called {
		t.Fatal("handler must not run without an idempotency key")
	}
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rr.Code)
	}
	if code := decodeErrorCode(t, rr.Body.Bytes()); code != "idempotency_key_required" {
		t.Fatalf("error code = %q", code)
	}
}

func TestMiddlewareReplaysStoredResponse(t *testing.T) {
	mw := Middleware(NewMemoryStore(), WithClock(func() time.Time { return testClock }))

	var calls int
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls++
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id":"order-1"}`))
	}))

	first := httptest.NewRecorder()
	handler.ServeHTTP(first, postOrder(`{"items":[1]}`, "key-1"))
	if first.Code != http.StatusCreated {
		t.Fatalf("first status = %d, want 201", first.Code)
	}

	second := httptest.NewRecorder()
	handler.ServeHTTP(second, postOrder(`{"items":[1]}`, "key-1"))

	if calls != 1 {
		t.Fatalf("handler calls = %d, want 1", calls)
	}
	if second.Code != http.StatusCreated {
		t.Fatalf("replay status = %d, want 201", second.Code)
	}
	if second.Header().Get(replayHeaderName) != "true" {
		t.Fatal("replay header missing")
	}
	if got := second.Header().Get("Content-Type"); got != "application/json" {
		t.Fatalf("replayed content type = %q", got)
	}
	if second.Body.String() != first.Body.String() {
		t.Fatalf("replayed body = %q, want %q", second.Body.String(), first.Body.String())
	}
}

func TestMiddlewareRejectsKeyReuseWithDifferentBody(t *testing.T) {
	mw := Middleware(NewMemoryStore(), WithClock(func() time.Time { return testClock }))
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	first := httptest.NewRecorder()
	handler.ServeHTTP(first, postOrder(`{"items":[1]}`, "shared-key"))
	if first.Code != http.StatusOK {
		t.Fatalf("first status = %d, want 200", first.Code)
	}

	second := httptest.NewRecorder()
	handler.ServeHTTP(second, postOrder(`{"items":[2]}`, "shared-key"))

	if second.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409", second.Code)
	}
	if code := decodeErrorCode(t, second.Body.Bytes()); code != "idempotency_key_conflict" {
		t.Fatalf("error code = %q", code)
	}
}

func TestMiddlewareReportsInFlightReservation(t *testing.T) {
	store := NewMemoryStore()
	mw := Middleware(store, WithClock(func() time.Time { return testClock }))
	handler := mw(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Fatal("handler must not run while the key is held")
	}))

	req := postOrder(`{"items":[1]}`, "held-key")

	// Seed a pending reservation exactly as the first request would.
	body, err := bufferBody(req)
	if err != nil {
		t.Fatalf("bufferBody: %v", err)
	}
	requester := requesterUID(req)
	fingerprint := requestFingerprint(req, body, requester)
	if _, err := store.Reserve(req.Context(), scopedKey("held-key", requester), fingerprint, testClock, time.Hour); err != nil {
		t.Fatalf("seeding reservation: %v", err)
	}

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409", rr.Code)
	}
	if code := decodeErrorCode(t, rr.Body.Bytes()); code != "idempotency_in_progress" {
		t.Fatalf("error code = %q", code)
	}
}

func TestMiddlewareExpiredKeyIsReusable(t *testing.T) {
	now := testClock
	mw := Middleware(NewMemoryStore(),
		WithClock(func() time.Time { return now }),
		WithTTL(time.Minute),
	)

	var calls int
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls++
		w.WriteHeader(http.StatusCreated)
	}))

	first := httptest.NewRecorder()
	handler.ServeHTTP(first, postOrder(`{"items":[1]}`, "ttl-key"))

	now = now.Add(2 * time.Minute)

	second := httptest.NewRecorder()
	handler.ServeHTTP(second, postOrder(`{"items":[1]}`, "ttl-key"))

	if calls != 2 {
		t.Fatalf("handler calls = %d, want 2 after expiry", calls)
	}
	if second.Header().Get(replayHeaderName) != "" {
		t.Fatal("expired key must not replay")
	}
}

func TestMiddlewareGuardsOnlyConfiguredMethods(t *testing.T) {
	mw := Middleware(NewMemoryStore(),
		WithClock(func() time.Time { return testClock }),
		WithMethods("put"),
	)

	var calls int
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls++
		w.WriteHeader(http.StatusOK)
	}))

	// POST is no longer guarded, so a missing key passes straight through.
	post := httptest.NewRecorder()
	handler.ServeHTTP(post, postOrder(`{"items":[1]}`, ""))
	if post.Code != http.StatusOK {
		t.Fatalf("post status = %d, want 200", post.Code)
	}
	if calls != 1 {
		t.Fatalf("handler calls = %d, want 1", calls)
	}

	put := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPut, "/v1/orders/ord-1", bytes.NewBufferString(`{"state":"CANCELLED"}`))
	handler.ServeHTTP(put, req)
	if put.Code != http.StatusBadRequest {
		t.Fatalf("put status = %d, want 400", put.Code)
	}
	if code := decodeErrorCode(t, put.Body.Bytes()); code != "idempotency_key_required" {
		t.Fatalf("error code = %q", code)
	}
}

func TestMiddlewareReleasesKeyWhenSaveFails(t *testing.T) {
	store := &failingStore{}
	mw := Middleware(store, WithClock(func() time.Time { return testClock }))

	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte("created"))
	}))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, postOrder(`{"items":[1]}`, "doomed-key"))

	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rr.Code)
	}
	if code := decodeErrorCode(t, rr.Body.Bytes()); code != "idempotency_store_error" {
		t.Fatalf("error code = %q", code)
	}
	if !store.released {
		t.Fatal("expected reservation release after save failure")
	}
}

type failingStore struct {
	released bool
}

func (s *failingStore) Reserve(context.Context, string, string, time.Time, time.Duration) (Reservation, error) {
	return Reservation{Outcome: OutcomeProceed}, nil
}

func (s *failingStore) SaveResponse(context.Context, string, string, Response, time.Time, time.Duration) error {
	return errors.New("save failed")
}

func (s *failingStore) Release(context.Context, string, string) error {
	s.released = true
	return nil
}

func (s *failingStore) CleanupExpired(context.Context, time.Time, int) (int, error) {
	return 0, nil
}
