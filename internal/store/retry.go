package store

import (
	"context"
	"errors"
)

// RetryConflicts runs attempt until it succeeds, fails with an error other than
// ErrWriteConflict, or maxAttempts is spent. Exhaustion and context expiry are
// reported as *AbortedError.
func RetryConflicts(ctx context.Context, maxAttempts int, attempt func(ctx context.Context, n int) error) error {
	if maxAttempts < 1 {
		maxAttempts = DefaultMaxAttempts
	}

	var last error
	for n := 1; n <= maxAttempts; n++ {
		if err := ctx.Err(); err != nil {
			return &AbortedError{Attempts: n - 1, Cause: err}
		}

		err := attempt(ctx, n)
		if err == nil {
			return nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
			return &AbortedError{Attempts: n, Cause: err}
		}
		if !errors.Is(err, ErrWriteConflict) {
			return err
		}
		last = err
	}

	return &AbortedError{Attempts: maxAttempts, Cause: last}
}
