package database

import (
	"context"
	"errors"
	"strings"
	"time"

	"wamux/internal/constants"
	"wamux/internal/retry"
)

var dbBackoff = retry.NewBackoff(retry.BackoffConfig{
	InitialDelay: time.Duration(constants.DefaultBackoffInitialMs) * time.Millisecond,
	MaxDelay:     time.Duration(constants.DefaultBackoffMaxSec) * time.Second,
	Multiplier:   2,
	MaxAttempts:  constants.DefaultDatabaseRetryAttempts,
	Jitter:       true,
})

// retryableDBOperation runs operation, retrying transient SQLite failures.
func retryableDBOperation(ctx context.Context, operation func() error) error {
	return dbBackoff.RetryWithPredicate(ctx, operation, isRetryableDBError)
}

// isRetryableDBError determines if a database error is worth retrying
func isRetryableDBError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	errStr := err.Error()
	return strings.Contains(errStr, "database is locked") ||
		strings.Contains(errStr, "database table is locked") ||
		strings.Contains(errStr, "disk I/O error")
}
