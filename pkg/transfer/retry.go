package transfer

import (
	"context"
	"errors"
	"time"

	"github.com/Shivam-nitt/CropionApp/pkg/api"
)

// DefaultBackoff is the standard retry schedule for chunk delivery.
var DefaultBackoff = []time.Duration{1 * time.Second, 2 * time.Second, 5 * time.Second, 10 * time.Second}

// RetryPolicy retries transient transport failures with a fixed backoff
// schedule: the first attempt is free, then each retry waits the next
// schedule entry. Non-transient errors are returned immediately.
type RetryPolicy struct {
	// Backoff holds the wait before each retry; len(Backoff) is the
	// maximum number of retries.
	Backoff []time.Duration

	// Sleep is swappable so tests can observe waits without real time
	// passing. Nil means time.Sleep.
	Sleep func(d time.Duration)
}

// DefaultRetryPolicy returns the policy used by the CLI.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{Backoff: DefaultBackoff}
}

// Do runs fn, retrying transient failures per the backoff schedule.
// Returns the last error once the schedule is exhausted.
func (p RetryPolicy) Do(ctx context.Context, fn func() error) error {
	sleep := p.Sleep
	if sleep == nil {
		sleep = time.Sleep
	}

	var lastErr error
	for attempt := 0; attempt <= len(p.Backoff); attempt++ {
		if attempt > 0 {
			sleep(p.Backoff[attempt-1])
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if !errors.Is(lastErr, api.ErrTransient) {
			return lastErr
		}
	}
	return lastErr
}
