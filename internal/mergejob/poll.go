package mergejob

import (
	"context"
	"time"
)

// pollUntil calls check every cadence until it returns true, ctx is
// cancelled, or deadline elapses (deadline <= 0 means no ceiling). The
// job's CI, merge-status and approval-reset loops are built on this one
// helper; the server-side rebase poll is a separate loop in
// platform.MergeRequest.Rebase.
func pollUntil(ctx context.Context, cadence, deadline time.Duration, check func(context.Context) (bool, error)) error {
	start := time.Now()
	for {
		done, err := check(ctx)
		if err != nil {
			return err
		}
		if done {
			return nil
		}
		if deadline > 0 && time.Since(start) >= deadline {
			return errTimeout
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(cadence):
		}
	}
}

// errTimeout is returned by pollUntil when the deadline elapses without
// check ever reporting done; callers translate it into a job-specific
// CannotMerge/timeout error.
var errTimeout = &timeoutError{}

type timeoutError struct{}

func (*timeoutError) Error() string { return "poll deadline exceeded" }
