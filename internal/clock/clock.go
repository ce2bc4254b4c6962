package clock

import (
	"context"
	"time"
)

// Clock supplies the current time and a sleep that honours cancellation.
// Every polling loop in the bot waits through a Clock so tests can run the
// loops without real time passing.
type Clock interface {
	Now() time.Time
	Sleep(ctx context.Context, d time.Duration) error
}

// System is the wall clock.
type System struct{}

func (System) Now() time.Time { return time.Now() }

func (System) Sleep(ctx context.Context, d time.Duration) error {
	return sleep(ctx, d)
}

func sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if d <= 0 {
		return nil
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

// SleepUntil blocks until c reports a time at or after target.
func SleepUntil(ctx context.Context, c Clock, target time.Time) error {
	for {
		remaining := target.Sub(c.Now())
		if remaining <= 0 {
			return nil
		}
		// Re-check in bounded steps so a resynced clock is honoured.
		if remaining > 30*time.Second {
			remaining = 30 * time.Second
		}
		if err := c.Sleep(ctx, remaining); err != nil {
			return err
		}
	}
}
