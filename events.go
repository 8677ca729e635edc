package fnhost

import "time"

// EventKind names a telemetry event.
type EventKind string

// Event kinds emitted by the shell.
const (
	// EventAttempt is emitted once per handler attempt.
	EventAttempt EventKind = "attempt"
	// EventRetry is emitted before each backoff sleep.
	EventRetry EventKind = "retry"
	// EventRejected is emitted when admission is denied.
	EventRejected EventKind = "rejected"
	// EventTimeout is emitted when a ticket deadline elapses.
	EventTimeout EventKind = "timeout"
	// EventHealthTransition is emitted when the health state flips.
	EventHealthTransition EventKind = "health_transition"
)

// Event is one record on the telemetry side channel.
type Event struct {
	Time    time.Time      `json:"time"`
	Payload map[string]any `json:"payload,omitempty"`
	Kind    EventKind      `json:"kind"`
}

// EventSink consumes events. Emit is called synchronously on the request
// path, so implementations must be fast and safe for concurrent use.
//
// Pattern: Observer: the shell emits events without knowing whether they
// end up in a log, a metrics store or a test recorder.
type EventSink interface {
	Emit(ev Event)
}

// EventSinkFunc adapts a plain function into an [EventSink].
type EventSinkFunc func(ev Event)

// Emit calls f.
func (f EventSinkFunc) Emit(ev Event) { f(ev) }

// MultiSink fans each event out to every sink in order. Nil entries are
// skipped.
type MultiSink []EventSink

// Emit forwards ev to every sink.
func (m MultiSink) Emit(ev Event) {
	for _, s := range m {
		if s != nil {
			s.Emit(ev)
		}
	}
}

// emitter stamps and forwards events. A nil sink drops everything.
type emitter struct {
	sink  EventSink
	clock Clock
}

func (e *emitter) emit(kind EventKind, payload map[string]any) {
	if e == nil || e.sink == nil {
		return
	}

	e.sink.Emit(Event{Time: e.clock.Now(), Kind: kind, Payload: payload})
}

func (e *emitter) emitAt(at time.Time, kind EventKind, payload map[string]any) {
	if e == nil || e.sink == nil {
		return
	}

	e.sink.Emit(Event{Time: at, Kind: kind, Payload: payload})
}

func (e *emitter) emitAttempt(t *Ticket, err error) {
	payload := map[string]any{
		"ticket":  t.ID,
		"attempt": t.Attempt,
		"success": err == nil,
	}
	if err != nil {
		payload["error"] = err.Error()
	}

	e.emit(EventAttempt, payload)
}

func (e *emitter) emitRetry(t *Ticket, delay time.Duration, err error) {
	e.emit(EventRetry, map[string]any{
		"ticket":  t.ID,
		"attempt": t.Attempt,
		"delay":   delay.String(),
		"error":   err.Error(),
	})
}

func (e *emitter) emitRejected(err error) {
	e.emit(EventRejected, map[string]any{"reason": err.Error()})
}

func (e *emitter) emitTimeout(t *Ticket) {
	e.emit(EventTimeout, map[string]any{
		"ticket":   t.ID,
		"attempt":  t.Attempt,
		"deadline": t.Deadline,
	})
}

func (e *emitter) emitTransition(tr Transition) {
	e.emitAt(tr.At, EventHealthTransition, map[string]any{
		"from":    tr.From.String(),
		"to":      tr.To.String(),
		"ratio":   tr.Ratio,
		"samples": tr.Samples,
	})
}
