package fnhost

import (
	"context"
	"errors"
	"fmt"
)

// Handler is the opaque downstream capability the shell wraps. It must be
// safe for concurrent use. Returning an error marked with [NonRetryable]
// stops retries immediately.
type Handler[Req, Resp any] interface {
	Invoke(ctx context.Context, req Req) (Resp, error)
}

// HandlerFunc adapts a plain function into a [Handler].
type HandlerFunc[Req, Resp any] func(ctx context.Context, req Req) (Resp, error)

// Invoke calls f.
func (f HandlerFunc[Req, Resp]) Invoke(ctx context.Context, req Req) (Resp, error) {
	return f(ctx, req)
}

// OutcomeRecorder receives one outcome per handler attempt.
type OutcomeRecorder interface {
	Record(success bool)
}

// Orchestrator runs a handler with bounded retries.
//
// Pattern: Retry with Backoff: masks transient failures; NonRetryable
// errors, caller cancellation and the ticket deadline stop it early.
type Orchestrator[Req, Resp any] struct {
	clock    Clock
	recorder OutcomeRecorder
	events   *emitter
	backoff  BackoffSpec
}

// NewOrchestrator creates an orchestrator. recorder and sink may be nil.
func NewOrchestrator[Req, Resp any](
	backoff BackoffSpec,
	recorder OutcomeRecorder,
	clock Clock,
	sink EventSink,
) *Orchestrator[Req, Resp] {
	if clock == nil {
		clock = RealClock{}
	}

	return &Orchestrator[Req, Resp]{
		clock:    clock,
		recorder: recorder,
		events:   &emitter{sink: sink, clock: clock},
		backoff:  backoff,
	}
}

// Execute invokes h until it succeeds, fails with a non-retryable error, or
// uses up BackoffSpec.MaxAttempts attempts. Each attempt increments
// t.Attempt and is reported to the recorder exactly once.
//
// When ctx is cancelled with cause [ErrTimeout] the in-flight attempt or
// backoff sleep is abandoned and ErrTimeout is returned. Other
// cancellations return ctx.Err(). Exhaustion returns the last handler error
// wrapped with [ErrRetriesExhausted].
func (o *Orchestrator[Req, Resp]) Execute(ctx context.Context, h Handler[Req, Resp], t *Ticket, req Req) (Resp, error) {
	var zero Resp

	maxAttempts := max(o.backoff.MaxAttempts, 1)

	for {
		if err := ctx.Err(); err != nil {
			return zero, cancellation(ctx)
		}

		t.Attempt++

		resp, err := invoke(ctx, h, req)
		o.record(t, err)

		if err == nil {
			return resp, nil
		}

		if ctx.Err() != nil {
			return zero, cancellation(ctx)
		}

		if IsNonRetryable(err) {
			return zero, err
		}

		delay := o.backoff.NextDelay(t.Attempt)
		if t.Attempt >= maxAttempts || delay == Stop {
			return zero, fmt.Errorf("%w: %w", ErrRetriesExhausted, err)
		}

		o.events.emitRetry(t, delay, err)

		if sleepErr := sleep(ctx, o.clock, delay); sleepErr != nil {
			return zero, cancellation(ctx)
		}
	}
}

func (o *Orchestrator[Req, Resp]) record(t *Ticket, err error) {
	if o.recorder != nil {
		o.recorder.Record(err == nil)
	}

	o.events.emitAttempt(t, err)
}

// cancellation maps a done context to the error returned to the caller:
// ErrTimeout for a ticket deadline, the context error otherwise.
func cancellation(ctx context.Context) error {
	if errors.Is(context.Cause(ctx), ErrTimeout) {
		return ErrTimeout
	}

	return ctx.Err() //nolint:wrapcheck // preserving context error identity
}

// invoke runs one attempt in its own goroutine so that a handler ignoring
// ctx cannot hold the caller past its deadline. A panicking handler is
// reported as a non-retryable failure.
func invoke[Req, Resp any](ctx context.Context, h Handler[Req, Resp], req Req) (Resp, error) {
	type result struct {
		val Resp
		err error
	}

	ch := make(chan result, 1)

	go func() {
		var r result

		defer func() {
			if p := recover(); p != nil {
				r.err = NonRetryable(fmt.Errorf("handler panic: %v", p))
			}

			ch <- r
		}()

		r.val, r.err = h.Invoke(ctx, req)
	}()

	select {
	case r := <-ch:
		return r.val, r.err
	case <-ctx.Done():
		var zero Resp
		return zero, ctx.Err()
	}
}
