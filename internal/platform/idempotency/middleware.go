package idempotency

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/vendora/api/internal/platform/auth"
)

const (
	defaultHeaderName = "Idempotency-Key"
	replayHeaderName  = "X-Idempotent-Replay"
)

// Logger receives background persistence failures the client never sees.
type Logger interface {
	Printf(format string, args ...any)
}

type middlewareSettings struct {
	header  string
	ttl     time.Duration
	methods map[string]struct{}
	clock   func() time.Time
	logger  Logger
}

// MiddlewareOption customises middleware behaviour.
type MiddlewareOption func(*middlewareSettings)

// WithHeader overrides the key header name.
func WithHeader(name string) MiddlewareOption {
	return func(s *middlewareSettings) {
		if name = strings.TrimSpace(name); name != "" {
			s.header = name
		}
	}
}

// WithTTL sets how long completed records stay replayable.
func WithTTL(ttl time.Duration) MiddlewareOption {
	return func(s *middlewareSettings) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

// WithMethods restricts which HTTP methods the middleware guards.
func WithMethods(methods ...string) MiddlewareOption {
	return func(s *middlewareSettings) {
		if len(methods) == 0 {
			return
		}
		s.methods = make(map[string]struct{}, len(methods))
		for _, m := range methods {
			if m = strings.ToUpper(strings.TrimSpace(m)); m != "" {
				s.methods[m] = struct{}{}
			}
		}
	}
}

// WithLogger injects the logger for store failures.
func WithLogger(logger Logger) MiddlewareOption {
	return func(s *middlewareSettings) { s.logger = logger }
}

// WithClock overrides the time source in tests.
func WithClock(clock func() time.Time) MiddlewareOption {
	return func(s *middlewareSettings) {
		if clock != nil {
			s.clock = clock
		}
	}
}

func mutatingMethods() map[string]struct{} {
	return map[string]struct{}{
		http.MethodPost:   {},
		http.MethodPut:    {},
		http.MethodPatch:  {},
		http.MethodDelete: {},
	}
}

// Middleware wraps a handler with idempotency-key semantics. Requests
// without the key header are rejected, a replayed key returns the
// stored response with X-Idempotent-Replay set, and a key reused with
// a different request body is a conflict.
func Middleware(store Store, opts ...MiddlewareOption) func(http.Handler) http.Handler {
	if store == nil {
		return func(next http.Handler) http.Handler { return next }
	}

	s := middlewareSettings{
		header:  defaultHeaderName,
		ttl:     DefaultTTL,
		methods: mutatingMethods(),
		clock:   time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&s)
		}
	}
	if s.ttl <= 0 {
		s.ttl = DefaultTTL
	}
	if len(s.methods) == 0 {
		s.methods = mutatingMethods()
	}
	if s.clock == nil {
		s.clock = time.Now
	}

	return func(next http.Handler) http.Handler {
		if next == nil {
			next = http.HandlerFunc(func(http.ResponseWriter, *http.Request) {})
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, guarded := s.methods[r.Method]; !guarded {
				next.ServeHTTP(w, r)
				return
			}

			key := strings.TrimSpace(r.Header.Get(s.header))
			if key == "" {
				writeFailure(w, http.StatusBadRequest, "idempotency_key_required", "missing idempotency key header")
				return
			}

			body, err := bufferBody(r)
			if err != nil {
				writeFailure(w, http.StatusInternalServerError, "idempotency_read_body_failed", "unable to read request body")
				return
			}

			requester := requesterUID(r)
			fingerprint := requestFingerprint(r, body, requester)
			scoped := scopedKey(key, requester)
			now := s.clock().UTC()

			reservation, err := store.Reserve(r.Context(), scoped, fingerprint, now, s.ttl)
			if err != nil {
				if errors.Is(err, ErrFingerprintMismatch) {
					writeFailure(w, http.StatusConflict, "idempotency_key_conflict", "idempotency key already used for a different request")
					return
				}
				if s.logger != nil {
					s.logger.Printf("idempotency: reserve failed for key %s: %v", key, err)
				}
				writeFailure(w, http.StatusInternalServerError, "idempotency_store_error", "unable to process idempotency key")
				return
			}

			switch reservation.Outcome {
			case OutcomeReplay:
				replayResponse(w, reservation.Record)
				return
			case OutcomeInFlight:
				writeFailure(w, http.StatusConflict, "idempotency_in_progress", "another request is processing this idempotency key")
				return
			}

			buffered := &bufferedResponse{header: make(http.Header)}
			next.ServeHTTP(buffered, r)

			saved := Response{
				Status:  buffered.statusCode(),
				Headers: buffered.headerCopy(),
				Body:    buffered.bytes(),
			}
			if err := store.SaveResponse(r.Context(), scoped, fingerprint, saved, s.clock().UTC(), s.ttl); err != nil {
				if s.logger != nil {
					s.logger.Printf("idempotency: save failed for key %s (requester %s): %v", key, requester, err)
				}
				if releaseErr := store.Release(r.Context(), scoped, fingerprint); releaseErr != nil && s.logger != nil {
					s.logger.Printf("idempotency: release failed for key %s: %v", key, releaseErr)
				}
				writeFailure(w, http.StatusInternalServerError, "idempotency_store_error", "unable to persist idempotency state")
				return
			}

			if err := buffered.flushTo(w); err != nil && s.logger != nil {
				s.logger.Printf("idempotency: flush failed for key %s: %v", key, err)
			}
		})
	}
}

// bufferBody reads the request body fully and reinstates it so the
// wrapped handler sees the untouched stream.
func bufferBody(r *http.Request) ([]byte, error) {
	if r.Body == nil {
		return nil, nil
	}
	data, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, err
	}
	if err := r.Body.Close(); err != nil {
		return nil, err
	}
	r.Body = io.NopCloser(bytes.NewReader(data))
	return data, nil
}

// requestFingerprint binds a key to the exact request that reserved
// it: method, target, requester, and a hash of the body.
func requestFingerprint(r *http.Request, body []byte, requester string) string {
	var bodyHash string
	if len(body) > 0 {
		bodyHash = hashHex(body)
	}
	material := fmt.Sprintf("%s|%s|%s|%s|%s|%s|%s",
		strings.ToUpper(r.Method), r.URL.Path, r.URL.RawQuery, r.Host,
		r.Header.Get("Content-Type"), requester, bodyHash)
	return hashHex([]byte(material))
}

func requesterUID(r *http.Request) string {
	if identity, ok := auth.IdentityFromContext(r.Context()); ok && identity.UID != "" {
		return identity.UID
	}
	return "anonymous"
}

// scopedKey prefixes the client key with the requester so two users
// picking the same key never collide.
func scopedKey(key, requester string) string {
	key = strings.TrimSpace(key)
	if requester = strings.TrimSpace(requester); requester == "" {
		requester = "anonymous"
	}
	if key == "" {
		return requester
	}
	return key + "|" + requester
}

func replayResponse(w http.ResponseWriter, record Record) {
	for name := range w.Header() {
		w.Header().Del(name)
	}
	for name, values := range record.ResponseHeaders {
		for _, value := range values {
			w.Header().Add(name, value)
		}
	}
	w.Header().Set(replayHeaderName, "true")

	status := record.ResponseStatus
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	if len(record.ResponseBody) > 0 {
		_, _ = w.Write(record.ResponseBody)
	}
}

func writeFailure(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"error":   code,
		"message": message,
	})
}

// bufferedResponse holds the handler output until the store confirms
// the record was written, so clients never receive a response the
// store cannot replay.
type bufferedResponse struct {
	header http.Header
	status int
	body   bytes.Buffer
}

func (b *bufferedResponse) Header() http.Header { return b.header }

func (b *bufferedResponse) WriteHeader(status int) {
	if status <= 0 {
		status = http.StatusOK
	}
	b.status = status
}

func (b *bufferedResponse) Write(data []byte) (int, error) {
	if b.status == 0 {
		b.status = http.StatusOK
	}
	return b.body.Write(data)
}

func (b *bufferedResponse) statusCode() int {
	if b.status == 0 {
		return http.StatusOK
	}
	return b.status
}

func (b *bufferedResponse) bytes() []byte {
	if b.body.Len() == 0 {
		return nil
	}
	return b.body.Bytes()
}

func (b *bufferedResponse) headerCopy() http.Header {
	dst := make(http.Header, len(b.header))
	for name, values := range b.header {
		dst[name] = append([]string(nil), values...)
	}
	return dst
}

func (b *bufferedResponse) flushTo(w http.ResponseWriter) error {
	dst := w.Header()
	for name := range dst {
		dst.Del(name)
	}
	for name, values := range b.header {
		for _, value := range values {
			dst.Add(name, value)
		}
	}
	w.WriteHeader(b.statusCode())
	if b.body.Len() == 0 {
		return nil
	}
	_, err := w.Write(b.body.Bytes())
	return err
}
