// Package idempotency makes mutating endpoints safe to retry. A client
// sends an Idempotency-Key header; the first request through reserves
// the key and records the response, and any retry with the same key and
// an identical request body gets that stored response replayed instead
// of re-running the handler.
package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"strings"
	"time"
)

// DefaultTTL bounds how long a completed record stays replayable.
const DefaultTTL = 24 * time.Hour

// ErrFingerprintMismatch is returned when a key is reused with a
// request that differs from the one that reserved it.
var ErrFingerprintMismatch = errors.New("idempotency: key reserved for different request fingerprint")

// record lifecycle states as persisted.
const (
	statePending   = "pending"
	stateCompleted = "completed"
)

// Outcome tells the middleware what to do after reserving a key.
type Outcome int

const (
	// OutcomeProceed means the key is freshly reserved; run the handler.
	OutcomeProceed Outcome = iota
	// OutcomeReplay means a stored response exists; replay it.
	OutcomeReplay
	// OutcomeInFlight means another request holds the reservation.
	OutcomeInFlight
)

// Reservation is the result of Store.Reserve.
type Reservation struct {
	Outcome Outcome
	Record  Record
}

// Record is the persisted state for one idempotency key.
type Record struct {
	Key             string
	Fingerprint     string
	State           string
	ResponseStatus  int
	ResponseHeaders map[string][]string
	ResponseBody    []byte
	CreatedAt       time.Time
	UpdatedAt       time.Time
	ExpiresAt       time.Time
}

// Response is the captured handler output saved for replay.
type Response struct {
	Status  int
	Headers http.Header
	Body    []byte
}

// Store persists reservations and completed responses.
type Store interface {
	Reserve(ctx context.Context, key, fingerprint string, now time.Time, ttl time.Duration) (Reservation, error)
	SaveResponse(ctx context.Context, key, fingerprint string, resp Response, now time.Time, ttl time.Duration) error
	Release(ctx context.Context, key, fingerprint string) error
	CleanupExpired(ctx context.Context, now time.Time, limit int) (int, error)
}

// docID hashes the scoped key so raw client-chosen keys never become
// document names.
func docID(key string) string {
	return hashHex([]byte(strings.TrimSpace(key)))
}

func hashHex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// storableHeaders copies a response header map, dropping hop-by-hop
// and volatile headers that must not be replayed verbatim.
func storableHeaders(header http.Header) map[string][]string {
	if len(header) == 0 {
		return nil
	}
	kept := make(map[string][]string, len(header))
	for name, values := range header {
		if skipHeader(http.CanonicalHeaderKey(name)) {
			continue
		}
		kept[http.CanonicalHeaderKey(name)] = append([]string(nil), values...)
	}
	if len(kept) == 0 {
		return nil
	}
	return kept
}

func skipHeader(name string) bool {
	switch strings.ToLower(name) {
	case "content-length", "date", "connection", "keep-alive",
		"proxy-authenticate", "proxy-authorization", "te", "trailers",
		"transfer-encoding", "upgrade":
		return true
	}
	return false
}
