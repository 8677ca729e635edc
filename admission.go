package fnhost

import (
	"context"
	"fmt"
	"sync"

	"github.com/gammazero/deque"
)

// PressureFunc reports whether the host is under resource pressure. It is
// supplied by the host when dynamic throttling is enabled and must be cheap
// and safe for concurrent use.
type PressureFunc func() bool

// HealthGate is consulted before every admission.
type HealthGate interface {
	Healthy() bool
}

// AdmissionLimits configures an [AdmissionController].
type AdmissionLimits struct {
	// MaxOutstanding caps accepted-but-not-completed requests.
	MaxOutstanding int
	// MaxConcurrent caps simultaneously executing requests.
	MaxConcurrent int
	// DynamicThrottles enables shedding through the pressure predicate.
	DynamicThrottles bool
}

// AdmissionCounters is a snapshot of an [AdmissionController].
type AdmissionCounters struct {
	// Outstanding counts accepted tokens not yet released.
	Outstanding int `json:"outstanding"`
	// Executing counts tokens holding an execution slot.
	Executing int `json:"executing"`
	// Queued counts tokens waiting for an execution slot.
	Queued int `json:"queued"`
}

var (
	errRejectedOverloaded = fmt.Errorf("%w: %w", ErrRejected, ErrOverloaded)
	errRejectedUnhealthy  = fmt.Errorf("%w: %w", ErrRejected, ErrUnhealthy)
	errRejectedThrottled  = fmt.Errorf("%w: %w", ErrRejected, ErrThrottled)
)

// waiter is one token queued for an execution slot.
type waiter struct {
	token     *Token
	ready     chan struct{}
	abandoned bool
}

// AdmissionController bounds outstanding and executing requests.
//
// Pattern: Bulkhead: a counting semaphore with a FIFO wait queue. All
// counters and the queue are guarded by one mutex; abandoned waiters are
// dropped lazily when they reach the front of the queue.
type AdmissionController struct {
	health   HealthGate
	pressure PressureFunc
	limits   AdmissionLimits

	mu          sync.Mutex
	waiters     deque.Deque[*waiter]
	outstanding int
	executing   int
	queued      int
}

// NewAdmissionController creates a controller. health and pressure may be
// nil.
func NewAdmissionController(limits AdmissionLimits, health HealthGate, pressure PressureFunc) *AdmissionController {
	return &AdmissionController{
		limits:   limits,
		health:   health,
		pressure: pressure,
	}
}

// TryAccept admits a request without blocking. It fails with an error
// matching [ErrRejected] when the host is unhealthy, under pressure, or at
// maxOutstandingRequests.
func (ac *AdmissionController) TryAccept() (*Token, error) {
	if ac.health != nil && !ac.health.Healthy() {
		return nil, errRejectedUnhealthy
	}

	if ac.limits.DynamicThrottles && ac.pressure != nil && ac.pressure() {
		return nil, errRejectedThrottled
	}

	ac.mu.Lock()
	defer ac.mu.Unlock()

	if ac.outstanding >= ac.limits.MaxOutstanding {
		return nil, errRejectedOverloaded
	}

	ac.outstanding++

	return &Token{ac: ac}, nil
}

// Counters returns a consistent snapshot of the counters.
func (ac *AdmissionController) Counters() AdmissionCounters {
	ac.mu.Lock()
	defer ac.mu.Unlock()

	return AdmissionCounters{
		Outstanding: ac.outstanding,
		Executing:   ac.executing,
		Queued:      ac.queued,
	}
}

// Saturated reports whether no further request can be accepted.
func (ac *AdmissionController) Saturated() bool {
	ac.mu.Lock()
	defer ac.mu.Unlock()

	return ac.outstanding >= ac.limits.MaxOutstanding
}

// releaseSlotLocked hands the freed execution slot to the oldest live
// waiter, or returns it to the pool. ac.mu must be held.
func (ac *AdmissionController) releaseSlotLocked() {
	for ac.waiters.Len() > 0 {
		w := ac.waiters.PopFront()
		if w.abandoned {
			continue
		}

		ac.queued--
		w.token.started = true
		close(w.ready)

		return
	}

	ac.executing--
}

// Token is an accepted request's claim on the controller. It is used by a
// single goroutine.
type Token struct {
	ac       *AdmissionController
	started  bool
	released bool
}

// Start acquires an execution slot, queueing in arrival order behind
// earlier waiters when all slots are busy. If ctx is done first the token
// leaves the queue and Start returns ctx.Err(); the token still holds its
// outstanding slot until Release.
func (t *Token) Start(ctx context.Context) error {
	ac := t.ac

	ac.mu.Lock()
	if t.started || t.released {
		ac.mu.Unlock()
		return nil
	}

	if ac.executing < ac.limits.MaxConcurrent && ac.queued == 0 {
		ac.executing++
		t.started = true
		ac.mu.Unlock()

		return nil
	}

	w := &waiter{token: t, ready: make(chan struct{})}
	ac.waiters.PushBack(w)
	ac.queued++
	ac.mu.Unlock()

	select {
	case <-w.ready:
		return nil
	case <-ctx.Done():
	}

	ac.mu.Lock()
	defer ac.mu.Unlock()

	select {
	case <-w.ready:
		// Granted while cancelling: pass the slot on.
		t.started = false
		ac.releaseSlotLocked()
	default:
		w.abandoned = true
		ac.queued--
	}

	return ctx.Err()
}

// Release returns every slot the token holds and wakes the oldest waiter.
// It is safe to call more than once; only the first call has an effect.
func (t *Token) Release() {
	ac := t.ac

	ac.mu.Lock()
	defer ac.mu.Unlock()

	if t.released {
		return
	}

	t.released = true

	if t.started {
		t.started = false
		ac.releaseSlotLocked()
	}

	ac.outstanding--
}
