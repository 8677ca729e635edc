package fnhost

import (
	"time"

	"github.com/google/uuid"
)

// Ticket tracks one accepted request for its lifetime. It is owned by the
// dispatcher goroutine serving the request; retries of one ticket are
// strictly sequential, so its fields need no locking.
type Ticket struct {
	// Arrival is when the request was admitted.
	Arrival time.Time
	// Deadline is Arrival plus the function timeout.
	Deadline time.Time
	// ID correlates the ticket's events.
	ID string
	// Attempt is the 1-indexed number of the attempt in progress, or of the
	// last one made. Zero until the first attempt starts.
	Attempt int
}

// NewTicket creates a ticket arriving at now with the given timeout.
func NewTicket(now time.Time, timeout time.Duration) *Ticket {
	return &Ticket{
		ID:       uuid.NewString(),
		Arrival:  now,
		Deadline: now.Add(timeout),
	}
}

// Remaining returns the time left before the deadline as seen by clock.
// It is never negative.
func (t *Ticket) Remaining(clock Clock) time.Duration {
	left := t.Deadline.Sub(clock.Now())
	if left < 0 {
		return 0
	}

	return left
}
