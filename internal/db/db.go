package db

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Pool abstracts the pgx connection pool to make testing easier.
type Pool interface {
	Acquire(ctx context.Context) (*pgxpool.Conn, error)
	Close()
}

// Connect initialises a PostgreSQL connection pool using the provided database URL.
func Connect(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("create pgx pool: %w", err)
	}
	return pool, nil
}

const (
	txMaxRetries  = 3
	txBaseBackoff = 100 * time.Millisecond
	txMaxBackoff  = 3 * time.Second
)

var retryablePgErrorCodes = map[string]struct{}{
	"40001": {}, // serialization_failure
	"40P01": {}, // deadlock_detected
	"55P03": {}, // lock_not_available
}

// IsRetryable reports whether err is a transient transaction failure worth retrying.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		if _, ok := retryablePgErrorCodes[pgErr.Code]; ok {
			return true
		}
	}

	return errors.Is(err, pgx.ErrTxClosed)
}

// Backoff waits before the given retry attempt, returning early when ctx ends.
func Backoff(ctx context.Context, attempt int) error {
	if attempt <= 0 {
		return nil
	}
	backoff := time.Duration(math.Pow(2, float64(attempt-1))) * txBaseBackoff
	if backoff > txMaxBackoff {
		backoff = txMaxBackoff
	}
	timer := time.NewTimer(backoff)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// InTx runs fn inside a serializable transaction on conn, retrying transient
// failures. retry may widen the set of retryable errors (nil uses IsRetryable).
func InTx(ctx context.Context, conn *pgxpool.Conn, retry func(error) bool, fn func(pgx.Tx) error) error {
	if retry == nil {
		retry = IsRetryable
	}

	var err error
	for attempt := 0; attempt < txMaxRetries; attempt++ {
		if err := Backoff(ctx, attempt); err != nil {
			return err
		}

		var tx pgx.Tx
		tx, err = conn.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
		if err != nil {
			return fmt.Errorf("begin transaction: %w", err)
		}

		if err = fn(tx); err == nil {
			err = tx.Commit(ctx)
		}
		if err == nil {
			return nil
		}
		_ = tx.Rollback(ctx)

		if !retry(err) || ctx.Err() != nil {
			return err
		}
	}

	return fmt.Errorf("exceeded max retries (%d): %w", txMaxRetries, err)
}
