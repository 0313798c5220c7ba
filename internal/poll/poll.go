// Package poll implements the cooperative waits used while driving the
// portal: bounded polling, unbounded polling, the bounded-then-unbounded
// degrade, and racing several conditions against each other.
package poll

import (
	"context"
	"sync"
	"time"
)

// Sleep pauses for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Check reports whether a condition currently holds.
type Check func(ctx context.Context) bool

// Until evaluates check immediately and then every interval until it holds
// or timeout elapses. It returns false on timeout or cancellation.
func Until(ctx context.Context, timeout, interval time.Duration, check Check) bool {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return Forever(ctx, interval, check) == nil
}

// Forever evaluates check every interval until it holds. The only error is
// the context's.
func Forever(ctx context.Context, interval time.Duration, check Check) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if check(ctx) {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// UntilThenForever waits up to timeout for check and, when that runs out,
// keeps polling without a deadline. It reports whether the bounded phase
// was enough.
func UntilThenForever(ctx context.Context, timeout, interval time.Duration, check Check) (bounded bool, err error) {
	if Until(ctx, timeout, interval, check) {
		return true, nil
	}
	if err := ctx.Err(); err != nil {
		return false, err
	}
	return false, Forever(ctx, interval, check)
}

// First runs every check concurrently, each polled at interval, and returns
// the index of the first one to hold within timeout, or -1. The remaining
// checks are cancelled as soon as a winner is known.
func First(ctx context.Context, timeout, interval time.Duration, checks ...Check) int {
	if len(checks) == 0 {
		return -1
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	winner := make(chan int, len(checks))
	var wg sync.WaitGroup
	for i, check := range checks {
		wg.Add(1)
		go func(i int, check Check) {
			defer wg.Done()
			if Forever(ctx, interval, check) == nil {
				winner <- i
			}
		}(i, check)
	}

	go func() {
		wg.Wait()
		close(winner)
	}()

	i, ok := <-winner
	cancel()
	if !ok {
		return -1
	}
	return i
}
