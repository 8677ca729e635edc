package fnhost

import (
	"context"
	"time"
)

// Clock abstracts time so the backoff sleep, ticket deadlines and health
// ticks can be driven deterministically in tests. Production code uses
// [RealClock].
type Clock interface {
	// Now returns the current time.
	Now() time.Time
	// NewTimer creates a [Timer] firing after d.
	NewTimer(d time.Duration) Timer
}

// Timer abstracts [time.Timer].
type Timer interface {
	// C returns the channel the firing time is delivered on.
	C() <-chan time.Time
	// Stop prevents the timer from firing. It reports whether the timer was
	// still active.
	Stop() bool
	// Reset rearms the timer to fire after d. It reports whether the timer
	// was still active.
	Reset(d time.Duration) bool
}

// RealClock is a [Clock] backed by the time package. The zero value is
// ready to use and safe for concurrent use.
type RealClock struct{}

// Now returns [time.Now].
func (RealClock) Now() time.Time { return time.Now() }

// NewTimer wraps [time.NewTimer].
func (RealClock) NewTimer(d time.Duration) Timer {
	return &realTimer{t: time.NewTimer(d)}
}

type realTimer struct {
	t *time.Timer
}

func (r *realTimer) C() <-chan time.Time        { return r.t.C }
func (r *realTimer) Stop() bool                 { return r.t.Stop() }
func (r *realTimer) Reset(d time.Duration) bool { return r.t.Reset(d) }

// sleep waits for d on clock. It returns ctx.Err() if ctx is done first. A
// non-positive d returns immediately.
func sleep(ctx context.Context, clock Clock, d time.Duration) error {
	if d <= 0 {
		return nil
	}

	timer := clock.NewTimer(d)
	select {
	case <-timer.C():
		return nil
	case <-ctx.Done():
		timer.Stop()
		return ctx.Err()
	}
}
