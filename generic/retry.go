package generic

import (
	"context"

	"github.com/warp/leave-ledger/logging"
)

// RetryConflicts runs op until it succeeds, fails with a non-retryable
// error, or attempts run out. op must start its own transaction so each
// attempt reads fresh state.
func RetryConflicts(ctx context.Context, attempts int, op func() error) error {
	if attempts < 1 {
		attempts = 1
	}
	var err error
	for i := 1; i <= attempts; i++ {
		if err = op(); !IsRetryable(err) {
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		logging.FromContext(ctx).WarnContext(ctx, "retrying after conflict",
			"attempt", i, "max_attempts", attempts, "error", err)
	}
	return err
}
