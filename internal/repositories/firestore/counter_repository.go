package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	pfirestore "github.com/vendora/api/internal/platform/firestore"
	"github.com/vendora/api/internal/repositories"
)

const countersCollection = "counters"

// Counters see the most transaction contention, so Next retries harder and
// times out sooner than the package defaults.
const (
	counterTxAttempts = 8
	counterTxTimeout  = 5 * time.Second
)

// counterDocument is the persisted shape of one named sequence, such as
// the vendor SKU counter.
type counterDocument struct {
	CurrentValue int64     `firestore:"currentValue"`
	Step         int64     `firestore:"step"`
	MaxValue     *int64    `firestore:"maxValue,omitempty"`
	UpdatedAt    time.Time `firestore:"updatedAt"`
}

// advance computes the document state after one increment. A non-positive
// step falls back to the stored step, then to 1.
func (d counterDocument) advance(step int64, now time.Time) (counterDocument, error) {
	if step <= 0 {
		step = d.Step
	}
	if step <= 0 {
		step = 1
	}
	next := d.CurrentValue + step
	if d.MaxValue != nil && next > *d.MaxValue {
		return d, repositories.NewCounterError(repositories.CounterErrorExhausted,
			fmt.Sprintf("counter exceeded max value %d", *d.MaxValue), nil)
	}
	d.CurrentValue = next
	d.Step = step
	d.UpdatedAt = now
	return d, nil
}

// CounterRepository hands out monotonically increasing sequence values
// through Firestore transactions.
type CounterRepository struct {
	provider *pfirestore.Provider
	counters *pfirestore.BaseRepository[counterDocument]
}

func NewCounterRepository(provider *pfirestore.Provider) (*CounterRepository, error) {
	if provider == nil {
		return nil, errors.New("counter repository requires firestore provider")
	}
	return &CounterRepository{
		provider: provider,
		counters: pfirestore.NewBaseRepository[counterDocument](provider, countersCollection),
	}, nil
}

// Next atomically advances the named counter and returns the new value.
// A missing counter starts at the requested step.
func (r *CounterRepository) Next(ctx context.Context, counterID string, step int64) (int64, error) {
	if r == nil || r.provider == nil {
		return 0, errors.New("counter repository not initialised")
	}
	id := strings.TrimSpace(counterID)
	if id == "" {
		return 0, repositories.NewCounterError(repositories.CounterErrorInvalidInput, "counter id is required", nil)
	}
	if step < 0 {
		return 0, repositories.NewCounterError(repositories.CounterErrorInvalidInput,
			fmt.Sprintf("step must be positive, got %d", step), nil)
	}

	var value int64
	txFn := func(ctx context.Context, tx *firestore.Transaction) error {
		ref, err := r.counters.DocumentRef(ctx, id)
		if err != nil {
			return err
		}

		now := time.Now().UTC()
		snapshot, err := tx.Get(ref)
		if status.Code(err) == codes.NotFound {
			seeded := step
			if seeded <= 0 {
				seeded = 1
			}
			doc := counterDocument{CurrentValue: seeded, Step: seeded, UpdatedAt: now}
			if err := tx.Create(ref, doc); err != nil {
				return err
			}
			value = doc.CurrentValue
			return nil
		}
		if err != nil {
			return err
		}

		var doc counterDocument
		if err := snapshot.DataTo(&doc); err != nil {
			return fmt.Errorf("firestore counters decode %s: %w", id, err)
		}
		doc, err = doc.advance(step, now)
		if err != nil {
			return err
		}
		if err := tx.Set(ref, doc, firestore.MergeAll); err != nil {
			return err
		}
		value = doc.CurrentValue
		return nil
	}

	err := r.provider.RunTransaction(ctx, txFn,
		pfirestore.WithTxAttempts(counterTxAttempts),
		pfirestore.WithTxTimeout(counterTxTimeout),
	)
	if err != nil {
		var counterErr *repositories.CounterError
		if errors.As(err, &counterErr) {
			return 0, counterErr
		}
		return 0, pfirestore.WrapError("counters.next", err)
	}
	return value, nil
}

// Configure merges step, max value, and current value overrides into the
// counter document, creating it when absent.
func (r *CounterRepository) Configure(ctx context.Context, counterID string, cfg repositories.CounterConfig) error {
	if r == nil || r.provider == nil {
		return errors.New("counter repository not initialised")
	}
	id := strings.TrimSpace(counterID)
	if id == "" {
		return repositories.NewCounterError(repositories.CounterErrorInvalidInput, "counter id is required", nil)
	}

	patch := map[string]any{"updatedAt": time.Now().UTC()}
	if cfg.Step > 0 {
		patch["step"] = cfg.Step
	}
	if cfg.MaxValue != nil {
		patch["maxValue"] = *cfg.MaxValue
	}
	if cfg.InitialValue != nil {
		patch["currentValue"] = *cfg.InitialValue
	}

	ref, err := r.counters.DocumentRef(ctx, id)
	if err != nil {
		return err
	}
	if _, err := ref.Set(ctx, patch, firestore.MergeAll); err != nil {
		return pfirestore.WrapError("counters.configure", err)
	}
	return nil
}
