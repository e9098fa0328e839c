package cache

import (
	"context"
	"errors"
	"time"

	"auth-service/internal/apierrors"
)

// withTimeout races fn against a named deadline. The context is the
// cancellation mechanism, so the underlying call is cooperatively
// cancelled when the deadline elapses; the caller gets a typed
// TimeoutError instead of a bare context error.
func withTimeout(ctx context.Context, operation string, timeout time.Duration, fn func(ctx context.Context) error) error {
	if timeout <= 0 {
		return fn(ctx)
	}

	opCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	err := fn(opCtx)
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) && opCtx.Err() == context.DeadlineExceeded {
		return &apierrors.TimeoutError{Operation: operation, Timeout: timeout}
	}
	return err
}
