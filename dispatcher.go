package fnhost

import (
	"context"
	"errors"
	"fmt"
)

// ---------------------------------------------------------------------------
// Dispatcher[Req, Resp]: the composition root
// ---------------------------------------------------------------------------

// Dispatcher wraps an opaque [Handler] with admission control, a per-request
// deadline, FIFO execution slots and retry with backoff. It owns its
// admission controller and health monitor; nothing is shared between
// dispatchers.
//
// The stages run in this order:
//
//	admission -> deadline -> slot -> retry -> [user middleware] -> handler
type Dispatcher[Req, Resp any] struct {
	clock     Clock
	events    *emitter
	admission *AdmissionController
	monitor   *HealthMonitor
	retry     *Orchestrator[Req, Resp]
	handler   Handler[Req, Resp]
	name      string
	cfg       Config
}

// ---------------------------------------------------------------------------
// Options: non-generic descriptors interpreted by NewDispatcher[Req, Resp]
// ---------------------------------------------------------------------------

type (
	setupFunc func(*dispatcherSetup)

	dispatcherSetup struct {
		clock    Clock
		sink     EventSink
		pressure PressureFunc
		registry *Registry
		cfg      *Config
	}

	// middlewareDesc holds user middlewares typed as any until
	// NewDispatcher knows Req and Resp.
	middlewareDesc struct {
		mws []any
	}
)

// WithConfig sets the host configuration. Without it [DefaultConfig] is
// used.
func WithConfig(cfg Config) any {
	return setupFunc(func(s *dispatcherSetup) {
		s.cfg = &cfg
	})
}

// WithClock sets the clock used for deadlines, backoff and health ticks.
func WithClock(c Clock) any {
	return setupFunc(func(s *dispatcherSetup) {
		s.clock = c
	})
}

// WithEventSink sets the telemetry side channel.
func WithEventSink(sink EventSink) any {
	return setupFunc(func(s *dispatcherSetup) {
		s.sink = sink
	})
}

// WithPressure sets the resource-pressure predicate consulted when
// dynamicThrottlesEnabled is true.
func WithPressure(fn PressureFunc) any {
	return setupFunc(func(s *dispatcherSetup) {
		s.pressure = fn
	})
}

// WithRegistry registers the dispatcher with reg for readiness reporting.
func WithRegistry(reg *Registry) any {
	return setupFunc(func(s *dispatcherSetup) {
		s.registry = reg
	})
}

// WithMiddleware adds middlewares around each handler attempt, inside the
// retry stage. Types that do not match the dispatcher's Req and Resp make
// NewDispatcher fail.
func WithMiddleware[Req, Resp any](mws ...Middleware[Req, Resp]) any {
	desc := middlewareDesc{mws: make([]any, 0, len(mws))}
	for _, mw := range mws {
		desc.mws = append(desc.mws, mw)
	}

	return desc
}

// NewDispatcher builds a dispatcher around h. Options are the values
// returned by the With* functions. It fails when the configuration is
// invalid or an option is not recognized.
func NewDispatcher[Req, Resp any](name string, h Handler[Req, Resp], opts ...any) (*Dispatcher[Req, Resp], error) {
	if h == nil {
		return nil, errors.New("fnhost: nil handler")
	}

	var (
		setup dispatcherSetup
		user  []Middleware[Req, Resp]
	)

	for _, opt := range opts {
		switch desc := opt.(type) {
		case setupFunc:
			desc(&setup)

		case middlewareDesc:
			for _, mw := range desc.mws {
				typed, ok := mw.(Middleware[Req, Resp])
				if !ok {
					return nil, fmt.Errorf("fnhost: middleware %T does not match dispatcher types", mw)
				}

				user = append(user, typed)
			}

		default:
			return nil, fmt.Errorf("fnhost: unknown option %T", opt)
		}
	}

	cfg := DefaultConfig()
	if setup.cfg != nil {
		cfg = *setup.cfg
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	clock := setup.clock
	if clock == nil {
		clock = RealClock{}
	}

	monitor := NewHealthMonitor(cfg.HealthMonitor, clock, setup.sink)

	d := &Dispatcher[Req, Resp]{
		name:      name,
		cfg:       cfg,
		clock:     clock,
		events:    &emitter{sink: setup.sink, clock: clock},
		monitor:   monitor,
		admission: NewAdmissionController(cfg.Admission(), monitor, setup.pressure),
		retry:     NewOrchestrator[Req, Resp](cfg.Retry, monitor, clock, setup.sink),
	}

	stages := []Middleware[Req, Resp]{d.admit, d.deadline, d.slot, d.retryStage}
	stages = append(stages, user...)
	d.handler = Chain(stages...)(h)

	if setup.registry != nil && name != "" {
		setup.registry.Register(d)
	}

	return d, nil
}

// Name returns the dispatcher's name.
func (d *Dispatcher[Req, Resp]) Name() string { return d.name }

// Config returns the configuration the dispatcher was built with.
func (d *Dispatcher[Req, Resp]) Config() Config { return d.cfg }

// Monitor returns the dispatcher's health monitor.
func (d *Dispatcher[Req, Resp]) Monitor() *HealthMonitor { return d.monitor }

// Admission returns the dispatcher's admission controller.
func (d *Dispatcher[Req, Resp]) Admission() *AdmissionController { return d.admission }

// Handle serves one request. Rejections match [ErrRejected], deadline
// expiry returns [ErrTimeout], and handler failures are returned as-is or
// wrapped with [ErrRetriesExhausted].
func (d *Dispatcher[Req, Resp]) Handle(ctx context.Context, req Req) (Resp, error) {
	return d.handler.Invoke(ctx, req)
}

// Invoke makes a dispatcher usable as a [Handler].
func (d *Dispatcher[Req, Resp]) Invoke(ctx context.Context, req Req) (Resp, error) {
	return d.Handle(ctx, req)
}

// Run drives the health monitor until ctx is done.
func (d *Dispatcher[Req, Resp]) Run(ctx context.Context) error {
	return d.monitor.Run(ctx)
}

// ---------------------------------------------------------------------------
// Stages
// ---------------------------------------------------------------------------

// admit asks for a token and releases it on every exit path.
func (d *Dispatcher[Req, Resp]) admit(next Handler[Req, Resp]) Handler[Req, Resp] {
	return HandlerFunc[Req, Resp](func(ctx context.Context, req Req) (Resp, error) {
		tok, err := d.admission.TryAccept()
		if err != nil {
			d.events.emitRejected(err)

			var zero Resp
			return zero, err
		}
		defer tok.Release()

		return next.Invoke(context.WithValue(ctx, tokenKey{}, tok), req)
	})
}

// deadline creates the ticket and cancels the call with cause ErrTimeout
// when the ticket's deadline elapses on the dispatcher's clock.
func (d *Dispatcher[Req, Resp]) deadline(next Handler[Req, Resp]) Handler[Req, Resp] {
	return HandlerFunc[Req, Resp](func(ctx context.Context, req Req) (Resp, error) {
		t := NewTicket(d.clock.Now(), d.cfg.FunctionTimeout)

		ctx, cancel := context.WithCancelCause(ctx)
		defer cancel(nil)

		timer := d.clock.NewTimer(t.Remaining(d.clock))
		defer timer.Stop()

		go func() {
			select {
			case <-timer.C():
				cancel(ErrTimeout)
			case <-ctx.Done():
			}
		}()

		resp, err := next.Invoke(context.WithValue(ctx, ticketKey{}, t), req)
		if errors.Is(err, ErrTimeout) {
			d.events.emitTimeout(t)
		}

		return resp, err
	})
}

// slot waits for an execution slot. A deadline hit while queued counts as
// one failed outcome.
func (d *Dispatcher[Req, Resp]) slot(next Handler[Req, Resp]) Handler[Req, Resp] {
	return HandlerFunc[Req, Resp](func(ctx context.Context, req Req) (Resp, error) {
		err := tokenFromContext(ctx).Start(ctx)
		if err == nil {
			// The slot may be granted as the deadline fires.
			err = ctx.Err()
		}

		if err != nil {
			var zero Resp

			err = cancellation(ctx)
			if errors.Is(err, ErrTimeout) {
				d.monitor.Record(false)
			}

			return zero, err
		}

		return next.Invoke(ctx, req)
	})
}

func (d *Dispatcher[Req, Resp]) retryStage(next Handler[Req, Resp]) Handler[Req, Resp] {
	return HandlerFunc[Req, Resp](func(ctx context.Context, req Req) (Resp, error) {
		return d.retry.Execute(ctx, next, TicketFromContext(ctx), req)
	})
}
