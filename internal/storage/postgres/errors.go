package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

const (
	pgUniqueViolation      = "23505"
	pgSerializationFailure = "40001"
	pgDeadlockDetected     = "40P01"

	txMaxAttempts    = 3
	txRetryBaseDelay = 10 * time.Millisecond
)

func isUniqueViolation(err error) bool {
	return hasPgCode(err, pgUniqueViolation)
}

// isRetryableTxError — транзакцию можно безопасно повторить целиком.
func isRetryableTxError(err error) bool {
	return hasPgCode(err, pgSerializationFailure) || hasPgCode(err, pgDeadlockDetected)
}

func hasPgCode(err error, code string) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == code
	}
	return false
}

// withTxRetry повторяет fn при deadlock/serialization failure с экспоненциальной задержкой.
func withTxRetry(ctx context.Context, fn func(ctx context.Context) error) error {
	var err error
	for attempt := 0; attempt < txMaxAttempts; attempt++ {
		err = fn(ctx)
		if err == nil || !isRetryableTxError(err) || attempt == txMaxAttempts-1 {
			return err
		}

		delay := txRetryBaseDelay * time.Duration(1<<uint(attempt))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return err
}
