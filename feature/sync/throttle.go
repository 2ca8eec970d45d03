package sync

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"
)

// DefaultResolveInterval is the minimum spacing between metadata
// resolution calls.
const DefaultResolveInterval = 2 * time.Second

// Throttle enforces a fixed minimum interval between calls, measured from
// the end of the previous call. The first call passes immediately.
type Throttle struct {
	clock    clockwork.Clock
	interval time.Duration
	last     time.Time
}

// NewThrottle creates a throttle on the given clock.
func NewThrottle(clock clockwork.Clock, interval time.Duration) *Throttle {
	return &Throttle{clock: clock, interval: interval}
}

// Wait blocks until the interval since the last Stamp has elapsed, or ctx
// is done.
func (t *Throttle) Wait(ctx context.Context) error {
	if t.last.IsZero() {
		return nil
	}
	remaining := t.interval - t.clock.Since(t.last)
	if remaining <= 0 {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.clock.After(remaining):
		return nil
	}
}

// Stamp records the end of a call; the next Wait measures from this point.
func (t *Throttle) Stamp() {
	t.last = t.clock.Now()
}
