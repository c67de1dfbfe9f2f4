package firestore

import (
	"context"
	"errors"
	"time"

	"cloud.google.com/go/firestore"
)

const (
	txAttempts = 5
	txTimeout  = 15 * time.Second
)

// TxFunc runs inside a Firestore transaction.
type TxFunc func(ctx context.Context, tx *firestore.Transaction) error

// TxOption tunes retry and deadline behaviour of RunTransaction.
type TxOption func(*txSettings)

type txSettings struct {
	attempts int
	timeout  time.Duration
}

// WithTxAttempts caps how often the transaction is retried on contention.
func WithTxAttempts(attempts int) TxOption {
	return func(s *txSettings) {
		if attempts > 0 {
			s.attempts = attempts
		}
	}
}

// WithTxTimeout bounds the total transaction runtime.
func WithTxTimeout(timeout time.Duration) TxOption {
	return func(s *txSettings) {
		if timeout > 0 {
			s.timeout = timeout
		}
	}
}

// RunTransaction runs fn in a transaction, retrying on contention up to
// the attempt limit. The timeout only tightens the context, it never
// extends a deadline the caller already set.
func RunTransaction(ctx context.Context, client *firestore.Client, fn TxFunc, opts ...TxOption) error {
	if client == nil {
		return WrapError("transaction", errors.New("firestore: client is nil"))
	}
	if fn == nil {
		return WrapError("transaction", errors.New("firestore: transaction function is nil"))
	}

	settings := txSettings{attempts: txAttempts, timeout: txTimeout}
	for _, opt := range opts {
		if opt != nil {
			opt(&settings)
		}
	}

	txCtx := ctx
	if settings.timeout > 0 {
		if deadline, ok := ctx.Deadline(); !ok || time.Until(deadline) > settings.timeout {
			var cancel context.CancelFunc
			txCtx, cancel = context.WithTimeout(ctx, settings.timeout)
			defer cancel()
		}
	}

	err := client.RunTransaction(txCtx, func(ctx context.Context, tx *firestore.Transaction) error {
		return fn(ctx, tx)
	}, firestore.MaxAttempts(settings.attempts))
	return WrapError("transaction", err)
}

type txContextKey struct{}

// WithTransaction stashes the active transaction in the context so that
// nested repository calls join it instead of issuing standalone reads
// and writes.
func WithTransaction(ctx context.Context, tx *firestore.Transaction) context.Context {
	if tx == nil {
		return ctx
	}
	return context.WithValue(ctx, txContextKey{}, tx)
}

// TransactionFromContext reports the transaction stored by WithTransaction.
func TransactionFromContext(ctx context.Context) (*firestore.Transaction, bool) {
	tx, ok := ctx.Value(txContextKey{}).(*firestore.Transaction)
	return tx, ok && tx != nil
}
