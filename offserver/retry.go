// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package offserver

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

// retryTx calls fn until it succeeds, fails with a non-retryable error or the
// attempts configured in cfg are used up. The delay doubles after every attempt.
func retryTx(ctx context.Context, cfg *PostgresConfig, fn func(attempt int) error) error {
	delay := cfg.RetryDelay
	for attempt := 0; ; attempt++ {
		err := fn(attempt)
		if err == nil || !isRetryablePGTxError(err) || attempt >= cfg.MaxRetries {
			return err
		}
		if err := sleepWithContext(ctx, delay); err != nil {
			return err
		}
		delay *= 2
	}
}

// isRetryablePGTxError reports conflicts a fresh transaction can resolve.
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
	}
	return false
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
