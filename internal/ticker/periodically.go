package ticker

import (
	"context"
	"fmt"
	"time"
)

// Periodically runs the provided task function at the specified interval until the context is done or an error occurs.
func Periodically(ctx context.Context, interval time.Duration, task func(context.Context) error) error {
	return PeriodicallyAfter(ctx, interval, interval, task)
}

// PeriodicallyAfter runs task once after initialDelay, then every interval. Runs never overlap: the next interval is timed from when the previous run returns.
func PeriodicallyAfter(ctx context.Context, initialDelay, interval time.Duration, task func(context.Context) error) error {
	if interval <= 0 {
		return fmt.Errorf("invalid interval: %s", interval)
	}
	timer := time.NewTimer(max(initialDelay, 0))
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
			if err := task(ctx); err != nil {
				return fmt.Errorf("periodic task failed: %w", err)
			}
			timer.Reset(interval)
		}
	}
}
