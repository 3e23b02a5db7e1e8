package generic

import (
	"context"
	"fmt"
	"time"

	"github.com/avast/retry-go/v4"
)

// DefaultRetryAttempts bounds optimistic-concurrency retries when no budget is configured.
const DefaultRetryAttempts = 3

// retryJitter spreads competing writers apart between attempts.
const retryJitter = 5 * time.Millisecond

// Retry runs fn until it succeeds, fails with a non-retryable error, or the
// attempt budget is spent. Each attempt must re-read state: fn is expected to
// wrap a whole read-compute-write transaction.
func Retry(ctx context.Context, attempts int, fn func() error) error {
	if attempts < 1 {
		attempts = DefaultRetryAttempts
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	err := retry.Do(fn,
		retry.Context(ctx),
		retry.Attempts(uint(attempts)),
		retry.RetryIf(IsRetryable),
		retry.LastErrorOnly(true),
		retry.DelayType(retry.RandomDelay),
		retry.MaxJitter(retryJitter),
	)
	if err != nil && IsRetryable(err) {
		return fmt.Errorf("%w after %d attempts: %w", ErrRetriesExhausted, attempts, err)
	}
	return err
}
