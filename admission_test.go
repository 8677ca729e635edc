package fnhost

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type gate bool

func (g gate) Healthy() bool { return bool(g) }

func limits(outstanding, concurrent int) AdmissionLimits {
	return AdmissionLimits{MaxOutstanding: outstanding, MaxConcurrent: concurrent}
}

// ---------------------------------------------------------------------------
// TryAccept
// ---------------------------------------------------------------------------

func TestTryAcceptRejectsPastMaxOutstanding(t *testing.T) {
	ac := NewAdmissionController(limits(200, 100), nil, nil)

	for i := range 200 {
		if _, err := ac.TryAccept(); err != nil {
			t.Fatalf("TryAccept() #%d = %v, want nil", i+1, err)
		}
	}

	_, err := ac.TryAccept()
	if !errors.Is(err, ErrRejected) || !errors.Is(err, ErrOverloaded) {
		t.Fatalf("TryAccept() #201 = %v, want ErrRejected and ErrOverloaded", err)
	}

	if c := ac.Counters(); c.Outstanding != 200 {
		t.Fatalf("Outstanding = %d, want 200", c.Outstanding)
	}
	if !ac.Saturated() {
		t.Fatal("Saturated() = false at capacity")
	}
}

func TestTryAcceptUnhealthy(t *testing.T) {
	ac := NewAdmissionController(limits(10, 5), gate(false), nil)

	_, err := ac.TryAccept()
	if !errors.Is(err, ErrUnhealthy) || !IsRejected(err) {
		t.Fatalf("TryAccept() = %v, want ErrUnhealthy", err)
	}
	if c := ac.Counters(); c.Outstanding != 0 {
		t.Fatalf("Outstanding = %d after rejection, want 0", c.Outstanding)
	}
}

func TestTryAcceptPressure(t *testing.T) {
	busy := func() bool { return true }

	on := limits(10, 5)
	on.DynamicThrottles = true

	_, err := NewAdmissionController(on, gate(true), busy).TryAccept()
	if !errors.Is(err, ErrThrottled) {
		t.Fatalf("TryAccept() with pressure = %v, want ErrThrottled", err)
	}

	if _, err := NewAdmissionController(limits(10, 5), gate(true), busy).TryAccept(); err != nil {
		t.Fatalf("TryAccept() with throttling off = %v, want nil", err)
	}
}

// ---------------------------------------------------------------------------
// Start and Release
// ---------------------------------------------------------------------------

func TestStartFastPath(t *testing.T) {
	ac := NewAdmissionController(limits(2, 1), nil, nil)

	tok, _ := ac.TryAccept()
	if err := tok.Start(context.Background()); err != nil {
		t.Fatalf("Start() = %v, want nil", err)
	}

	if c := ac.Counters(); c.Executing != 1 || c.Queued != 0 {
		t.Fatalf("Counters() = %+v", c)
	}

	tok.Release()
	tok.Release()

	if c := ac.Counters(); c != (AdmissionCounters{}) {
		t.Fatalf("Counters() after double Release = %+v, want zero", c)
	}
}

func TestStartQueuesInArrivalOrder(t *testing.T) {
	ac := NewAdmissionController(limits(10, 1), nil, nil)

	first, _ := ac.TryAccept()
	_ = first.Start(context.Background())

	var (
		mu    sync.Mutex
		order []int
		wg    sync.WaitGroup
	)

	tokens := make([]*Token, 3)
	for i := range tokens {
		tokens[i], _ = ac.TryAccept()

		wg.Add(1)
		go func(i int) {
			defer wg.Done()

			if err := tokens[i].Start(context.Background()); err != nil {
				t.Errorf("Start() = %v", err)
				return
			}

			mu.Lock()
			order = append(order, i)
			mu.Unlock()

			tokens[i].Release()
		}(i)

		// Enqueue one at a time so arrival order is known.
		eventually(t, "queued waiter", func() bool { return ac.Counters().Queued == i+1 })
	}

	first.Release()
	wg.Wait()

	for i, got := range order {
		if got != i {
			t.Fatalf("start order = %v, want [0 1 2]", order)
		}
	}

	if c := ac.Counters(); c != (AdmissionCounters{}) {
		t.Fatalf("Counters() = %+v, want zero", c)
	}
}

func TestStartCancelledWhileQueued(t *testing.T) {
	ac := NewAdmissionController(limits(10, 1), nil, nil)

	holder, _ := ac.TryAccept()
	_ = holder.Start(context.Background())

	waiting, _ := ac.TryAccept()
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- waiting.Start(ctx) }()

	eventually(t, "queued waiter", func() bool { return ac.Counters().Queued == 1 })
	cancel()

	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("Start() = %v, want context.Canceled", err)
	}

	c := ac.Counters()
	if c.Queued != 0 || c.Executing != 1 || c.Outstanding != 2 {
		t.Fatalf("Counters() after cancel = %+v", c)
	}

	waiting.Release()
	holder.Release()

	if c := ac.Counters(); c != (AdmissionCounters{}) {
		t.Fatalf("Counters() = %+v, want zero", c)
	}

	// The abandoned waiter must not swallow the next slot.
	next, _ := ac.TryAccept()
	if err := next.Start(context.Background()); err != nil {
		t.Fatalf("Start() = %v", err)
	}
	next.Release()
}

func TestReleaseWithoutStart(t *testing.T) {
	ac := NewAdmissionController(limits(1, 1), nil, nil)

	tok, _ := ac.TryAccept()
	tok.Release()

	if c := ac.Counters(); c != (AdmissionCounters{}) {
		t.Fatalf("Counters() = %+v, want zero", c)
	}
}

func TestAdmissionConcurrentBounds(t *testing.T) {
	const (
		maxOutstanding = 20
		maxConcurrent  = 5
		callers        = 200
	)

	ac := NewAdmissionController(limits(maxOutstanding, maxConcurrent), nil, nil)

	var (
		running, peak atomic.Int64
		wg            sync.WaitGroup
	)

	for range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()

			tok, err := ac.TryAccept()
			if err != nil {
				return
			}
			defer tok.Release()

			if err := tok.Start(context.Background()); err != nil {
				t.Errorf("Start() = %v", err)
				return
			}

			n := running.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}

			c := ac.Counters()
			if c.Outstanding > maxOutstanding || c.Executing > maxConcurrent ||
				c.Executing+c.Queued > c.Outstanding {
				t.Errorf("Counters() = %+v out of bounds", c)
			}

			time.Sleep(100 * time.Microsecond)
			running.Add(-1)
		}()
	}

	wg.Wait()

	if p := peak.Load(); p > maxConcurrent {
		t.Fatalf("peak concurrency = %d, want <= %d", p, maxConcurrent)
	}
	if c := ac.Counters(); c != (AdmissionCounters{}) {
		t.Fatalf("Counters() = %+v, want zero", c)
	}
}
