package fnhost

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// HealthState is the process-wide intake flag derived by [HealthMonitor].
type HealthState int32

const (
	// Healthy is the initial state: requests are admitted.
	Healthy HealthState = iota
	// Unhealthy rejects every new request until the window recovers.
	Unhealthy
)

// String returns "healthy" or "unhealthy".
func (s HealthState) String() string {
	if s == Unhealthy {
		return "unhealthy"
	}

	return "healthy"
}

// Transition describes one health state change.
type Transition struct {
	At      time.Time
	From    HealthState
	To      HealthState
	Ratio   float64
	Samples int
}

// HealthSettings configures a [HealthMonitor].
type HealthSettings struct {
	// Interval is the sampling and evaluation period.
	Interval time.Duration
	// Window is the trailing span evaluated on each tick.
	Window time.Duration
	// CounterThreshold is the failure ratio at or above which a check is
	// unhealthy.
	CounterThreshold float64
	// ThresholdCount is the minimum number of samples a window needs before
	// it can turn the monitor unhealthy.
	ThresholdCount int
	// Enabled turns the monitor on. A disabled monitor stays healthy.
	Enabled bool
}

// HealthSnapshot is a point-in-time view of a monitor.
type HealthSnapshot struct {
	Since        time.Time
	State        HealthState
	FailureRatio float64
	Samples      int
}

// HealthMonitor observes attempt outcomes over a sliding window and flips
// between [Healthy] and [Unhealthy].
//
// Pattern: Circuit Breaker: the open state is driven by a failure ratio
// over a time window instead of consecutive failures, and closes only after
// a full window of healthy checks. The window is guarded by a mutex; the
// state is published through an atomic so admission reads never block.
type HealthMonitor struct {
	clock  Clock
	events *emitter
	window *HealthWindow
	cfg    HealthSettings

	mu            sync.Mutex
	healthyChecks int

	state     atomic.Int32
	sinceNano atomic.Int64
}

// NewHealthMonitor creates a monitor in the [Healthy] state.
func NewHealthMonitor(cfg HealthSettings, clock Clock, sink EventSink) *HealthMonitor {
	if clock == nil {
		clock = RealClock{}
	}

	m := &HealthMonitor{
		clock:  clock,
		events: &emitter{sink: sink, clock: clock},
		window: NewHealthWindow(cfg.Window, cfg.Interval),
		cfg:    cfg,
	}
	m.sinceNano.Store(clock.Now().UnixNano())

	return m
}

// Record pushes one attempt outcome into the window.
func (m *HealthMonitor) Record(success bool) {
	if !m.cfg.Enabled {
		return
	}

	m.mu.Lock()
	m.window.Add(m.clock.Now(), success)
	m.mu.Unlock()
}

// State returns the current health state.
func (m *HealthMonitor) State() HealthState {
	return HealthState(m.state.Load())
}

// Healthy reports whether new requests may be admitted.
func (m *HealthMonitor) Healthy() bool {
	return m.State() == Healthy
}

// Since returns the time of the last transition, or of construction.
func (m *HealthMonitor) Since() time.Time {
	return time.Unix(0, m.sinceNano.Load())
}

// Snapshot returns the state together with the current window statistics.
func (m *HealthMonitor) Snapshot() HealthSnapshot {
	m.mu.Lock()
	samples, failures := m.window.Stats(m.clock.Now())
	m.mu.Unlock()

	return HealthSnapshot{
		State:        m.State(),
		Since:        m.Since(),
		Samples:      samples,
		FailureRatio: ratio(samples, failures),
	}
}

// Tick evaluates the window once. It returns the transition it caused, if
// any. [HealthMonitor.Run] calls it every interval; tests call it directly.
func (m *HealthMonitor) Tick() (Transition, bool) {
	if !m.cfg.Enabled {
		return Transition{}, false
	}

	now := m.clock.Now()

	m.mu.Lock()
	samples, failures := m.window.Stats(now)
	r := ratio(samples, failures)
	failing := samples >= m.cfg.ThresholdCount && r >= m.cfg.CounterThreshold

	from := m.State()
	to := from

	switch from {
	case Healthy:
		if failing {
			to = Unhealthy
			m.healthyChecks = 0
		}

	case Unhealthy:
		if failing {
			m.healthyChecks = 0
			break
		}

		m.healthyChecks++
		if m.healthyChecks >= m.window.Slots() {
			to = Healthy
			m.healthyChecks = 0
		}
	}

	if to != from {
		m.state.Store(int32(to))
		m.sinceNano.Store(now.UnixNano())
	}
	m.mu.Unlock()

	if to == from {
		return Transition{}, false
	}

	tr := Transition{At: now, From: from, To: to, Ratio: r, Samples: samples}
	m.events.emitTransition(tr)

	return tr, true
}

// Run calls Tick every interval until ctx is done, then returns ctx.Err().
// A disabled monitor blocks until ctx is done.
func (m *HealthMonitor) Run(ctx context.Context) error {
	if !m.cfg.Enabled {
		<-ctx.Done()
		return ctx.Err()
	}

	timer := m.clock.NewTimer(m.cfg.Interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C():
			m.Tick()
			timer.Reset(m.cfg.Interval)
		}
	}
}

func ratio(samples, failures int) float64 {
	if samples == 0 {
		return 0
	}

	return float64(failures) / float64(samples)
}
