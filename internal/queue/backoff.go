package queue

import (
	"context"
	"time"
)

// Backoff waits d between polls, returning early when ctx is done. It
// reports whether the full delay elapsed.
func Backoff(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
