package idempotency

import (
	"context"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	defaultCollection   = "idempotency_keys"
	defaultTxAttempts   = 5
	defaultCleanupLimit = 100
)

// FirestoreStore implements Store on a Firestore collection. One
// document per scoped key; reservation races are settled by running
// the read-check-write inside a transaction.
type FirestoreStore struct {
	client     *firestore.Client
	collection string
	attempts   int
}

// FirestoreOption customises the FirestoreStore.
type FirestoreOption func(*FirestoreStore)

// WithCollection overrides the backing collection name.
func WithCollection(name string) FirestoreOption {
	return func(s *FirestoreStore) {
		if name != "" {
			s.collection = name
		}
	}
}

// WithMaxAttempts sets the transaction retry budget.
func WithMaxAttempts(attempts int) FirestoreOption {
	return func(s *FirestoreStore) {
		if attempts > 0 {
			s.attempts = attempts
		}
	}
}

// NewFirestoreStore builds a Firestore-backed idempotency store.
func NewFirestoreStore(client *firestore.Client, opts ...FirestoreOption) *FirestoreStore {
	store := &FirestoreStore{
		client:     client,
		collection: defaultCollection,
		attempts:   defaultTxAttempts,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(store)
		}
	}
	return store
}

type storedRecord struct {
	Key             string              `firestore:"key"`
	Fingerprint     string              `firestore:"fingerprint"`
	Status          string              `firestore:"status"`
	ResponseStatus  int                 `firestore:"response_status"`
	ResponseHeaders map[string][]string `firestore:"response_headers"`
	ResponseBody    []byte              `firestore:"response_body"`
	CreatedAt       time.Time           `firestore:"created_at"`
	UpdatedAt       time.Time           `firestore:"updated_at"`
	ExpiresAt       time.Time           `firestore:"expires_at"`
}

func (r storedRecord) asRecord() Record {
	return Record{
		Key:             r.Key,
		Fingerprint:     r.Fingerprint,
		State:           r.Status,
		ResponseStatus:  r.ResponseStatus,
		ResponseHeaders: r.ResponseHeaders,
		ResponseBody:    r.ResponseBody,
		CreatedAt:       r.CreatedAt,
		UpdatedAt:       r.UpdatedAt,
		ExpiresAt:       r.ExpiresAt,
	}
}

func pendingRecord(key, fingerprint string, now time.Time, ttl time.Duration) storedRecord {
	return storedRecord{
		Key:         key,
		Fingerprint: fingerprint,
		Status:      statePending,
		CreatedAt:   now,
		UpdatedAt:   now,
		ExpiresAt:   now.Add(ttl),
	}
}

// Reserve claims the key for this fingerprint, or reports what already
// holds it. An expired document counts as free.
func (s *FirestoreStore) Reserve(ctx context.Context, key, fingerprint string, now time.Time, ttl time.Duration) (Reservation, error) {
	now = now.UTC()
	ttl = normalizeTTL(ttl)
	ref := s.client.Collection(s.collection).Doc(docID(key))

	var result Reservation
	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(ref)
		if status.Code(err) == codes.NotFound {
			fresh := pendingRecord(key, fingerprint, now, ttl)
			if err := tx.Set(ref, fresh); err != nil {
				return err
			}
			result = Reservation{Outcome: OutcomeProceed, Record: fresh.asRecord()}
			return nil
		}
		if err != nil {
			return err
		}

		var existing storedRecord
		if err := snap.DataTo(&existing); err != nil {
			return err
		}
		if existing.Fingerprint != fingerprint {
			return ErrFingerprintMismatch
		}

		if !existing.ExpiresAt.IsZero() && !now.Before(existing.ExpiresAt) {
			fresh := pendingRecord(key, fingerprint, now, ttl)
			if err := tx.Set(ref, fresh); err != nil {
				return err
			}
			result = Reservation{Outcome: OutcomeProceed, Record: fresh.asRecord()}
			return nil
		}

		if existing.Status == stateCompleted {
			result = Reservation{Outcome: OutcomeReplay, Record: existing.asRecord()}
			return nil
		}
		result = Reservation{Outcome: OutcomeInFlight, Record: existing.asRecord()}
		return nil
	}, firestore.MaxAttempts(s.txAttempts()))

	return result, err
}

// SaveResponse marks the key completed and stores the response for
// replay.
func (s *FirestoreStore) SaveResponse(ctx context.Context, key, fingerprint string, resp Response, now time.Time, ttl time.Duration) error {
	now = now.UTC()
	ttl = normalizeTTL(ttl)
	ref := s.client.Collection(s.collection).Doc(docID(key))

	headers := storableHeaders(resp.Headers)
	var body []byte
	if len(resp.Body) > 0 {
		body = append([]byte(nil), resp.Body...)
	}

	return s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		var record storedRecord
		snap, err := tx.Get(ref)
		switch {
		case status.Code(err) == codes.NotFound:
			record = storedRecord{Key: key, Fingerprint: fingerprint, CreatedAt: now}
		case err != nil:
			return err
		default:
			if err := snap.DataTo(&record); err != nil {
				return err
			}
			if record.Fingerprint != fingerprint {
				return ErrFingerprintMismatch
			}
			if record.CreatedAt.IsZero() {
				record.CreatedAt = now
			}
		}

		record.Status = stateCompleted
		record.ResponseStatus = resp.Status
		record.ResponseHeaders = headers
		record.ResponseBody = body
		record.UpdatedAt = now
		record.ExpiresAt = now.Add(ttl)
		return tx.Set(ref, record)
	}, firestore.MaxAttempts(s.txAttempts()))
}

// Release frees the reservation so the client may retry.
func (s *FirestoreStore) Release(ctx context.Context, key, _ string) error {
	_, err := s.client.Collection(s.collection).Doc(docID(key)).Delete(ctx)
	if status.Code(err) == codes.NotFound {
		return nil
	}
	return err
}

// CleanupExpired deletes up to limit expired records. Run periodically
// so abandoned keys do not accumulate.
func (s *FirestoreStore) CleanupExpired(ctx context.Context, now time.Time, limit int) (int, error) {
	if limit <= 0 {
		limit = defaultCleanupLimit
	}

	docs, err := s.client.Collection(s.collection).
		Where("expires_at", "<=", now.UTC()).
		Limit(limit).
		Documents(ctx).GetAll()
	if err != nil {
		return 0, err
	}
	if len(docs) == 0 {
		return 0, nil
	}

	batch := s.client.Batch()
	for _, doc := range docs {
		batch.Delete(doc.Ref)
	}
	if _, err := batch.Commit(ctx); err != nil {
		return 0, err
	}
	return len(docs), nil
}

func (s *FirestoreStore) txAttempts() int {
	if s.attempts <= 0 {
		return 1
	}
	return s.attempts
}
