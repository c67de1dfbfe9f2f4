package idempotency

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is the in-process Store used in tests and local runs
// where no Firestore client is wired.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]Record
}

// NewMemoryStore builds an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]Record)}
}

func normalizeTTL(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		return DefaultTTL
	}
	return ttl
}

func recordExpired(r Record, now time.Time) bool {
	return !r.ExpiresAt.IsZero() && !now.Before(r.ExpiresAt)
}

func (s *MemoryStore) Reserve(_ context.Context, key, fingerprint string, now time.Time, ttl time.Duration) (Reservation, error) {
	now = now.UTC()

	s.mu.Lock()
	defer s.mu.Unlock()

	id := docID(key)
	if existing, ok := s.records[id]; ok && !recordExpired(existing, now) {
		switch {
		case existing.Fingerprint != fingerprint:
			return Reservation{}, ErrFingerprintMismatch
		case existing.State == stateCompleted:
			return Reservation{Outcome: OutcomeReplay, Record: existing}, nil
		default:
			return Reservation{Outcome: OutcomeInFlight, Record: existing}, nil
		}
	}

	fresh := Record{
		Key:         key,
		Fingerprint: fingerprint,
		State:       statePending,
		CreatedAt:   now,
		UpdatedAt:   now,
		ExpiresAt:   now.Add(normalizeTTL(ttl)),
	}
	s.records[id] = fresh
	return Reservation{Outcome: OutcomeProceed, Record: fresh}, nil
}

func (s *MemoryStore) SaveResponse(_ context.Context, key, fingerprint string, resp Response, now time.Time, ttl time.Duration) error {
	now = now.UTC()

	s.mu.Lock()
	defer s.mu.Unlock()

	id := docID(key)
	record, ok := s.records[id]
	switch {
	case ok && record.Fingerprint != fingerprint:
		return ErrFingerprintMismatch
	case !ok:
		record = Record{Key: key, Fingerprint: fingerprint, CreatedAt: now}
	case record.CreatedAt.IsZero():
		record.CreatedAt = now
	}

	record.State = stateCompleted
	record.ResponseStatus = resp.Status
	record.ResponseHeaders = storableHeaders(resp.Headers)
	record.ResponseBody = nil
	if len(resp.Body) > 0 {
		record.ResponseBody = append([]byte(nil), resp.Body...)
	}
	record.UpdatedAt = now
	record.ExpiresAt = now.Add(normalizeTTL(ttl))
	s.records[id] = record
	return nil
}

func (s *MemoryStore) Release(_ context.Context, key, _ string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, docID(key))
	return nil
}

func (s *MemoryStore) CleanupExpired(_ context.Context, now time.Time, limit int) (int, error) {
	now = now.UTC()

	s.mu.Lock()
	defer s.mu.Unlock()

	if limit <= 0 || limit > len(s.records) {
		limit = len(s.records)
	}

	removed := 0
	for id, record := range s.records {
		if removed >= limit {
			break
		}
		if !recordExpired(record, now) {
			continue
		}
		delete(s.records, id)
		removed++
	}
	return removed, nil
}
