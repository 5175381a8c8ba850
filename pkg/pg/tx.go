package pg

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// TxBeginner is satisfied by *pgxpool.Pool and pgx.Tx.
type TxBeginner interface {
	BeginTx(ctx context.Context, opts pgx.TxOptions) (pgx.Tx, error)
}

// RetryPolicy bounds WithTx retries on conflict errors.
type RetryPolicy struct {
	MaxAttempts int
	Backoff     time.Duration
}

// DefaultRetryPolicy retries a conflicting transaction up to three times.
var DefaultRetryPolicy = RetryPolicy{MaxAttempts: 3, Backoff: 20 * time.Millisecond}

// WithTx runs fn inside a transaction and commits when fn returns nil.
// Conflict errors (see IsConflictError) restart the whole transaction up to
// policy.MaxAttempts times; the final error wraps ErrRetriesExhausted.
func WithTx(ctx context.Context, db TxBeginner, policy RetryPolicy, fn func(pgx.Tx) error) error {
	attempts := max(policy.MaxAttempts, 1)

	var err error
	for attempt := range attempts {
		err = runTx(ctx, db, fn)
		if err == nil || !IsConflictError(err) {
			return err
		}
		if attempt == attempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(attempt+1) * policy.Backoff):
		}
	}

	return errors.Join(ErrRetriesExhausted, err)
}

func runTx(ctx context.Context, db TxBeginner, fn func(pgx.Tx) error) (err error) {
	tx, err := db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	if err = fn(tx); err != nil {
		return err
	}
	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}
