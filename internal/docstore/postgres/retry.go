package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

func isRetryablePGTxError(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	switch pgErr.SQLState() {
	case "40001", // serialization_failure
		"40P01", // deadlock_detected
		"55P03": // lock_not_available
		return true
	default:
		return false
	}
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// retry runs fn until it succeeds, fails with a non-retryable error, or exhausts maxAttempts.
// The delay doubles after each attempt.
func (s *Store) retry(ctx context.Context, fn func() error) error {
	delay := s.retryDelay
	var err error
	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		err = fn()
		if err == nil || !isRetryablePGTxError(err) {
			return err
		}
		txRetryCounter.Inc()
		s.logger.Debug("retrying conflicting transaction", "attempt", attempt, "error", err)
		if attempt == s.maxAttempts {
			break
		}
		if sleepErr := sleepWithContext(ctx, delay); sleepErr != nil {
			return sleepErr
		}
		delay *= 2
	}
	return err
}
