// Package pressure samples host CPU and memory usage to drive dynamic
// throttling.
package pressure

import (
	"sync/atomic"
	"time"

	"github.com/shirou/gopsutil/cpu"
	"github.com/shirou/gopsutil/mem"
	"golang.org/x/time/rate"
)

// DefaultInterval is the minimum time between two samples.
const DefaultInterval = time.Second

// Sampler returns CPU and memory usage in percent.
type Sampler func() (cpuPercent, memPercent float64, err error)

// Limits sets the usage at or above which the host is under pressure. A
// zero limit disables that check.
type Limits struct {
	CPUPercent    float64
	MemoryPercent float64
	Interval      time.Duration
}

// Sensor caches the last verdict and refreshes it at most once per
// interval, so it is cheap enough to call on every admission.
type Sensor struct {
	sample    Sampler
	sometimes *rate.Sometimes
	limits    Limits
	pressured atomic.Bool
	failures  atomic.Int64
}

// Option configures a [Sensor].
type Option func(*Sensor)

// WithSampler replaces the gopsutil sampler.
func WithSampler(fn Sampler) Option {
	return func(s *Sensor) { s.sample = fn }
}

// New creates a sensor.
func New(limits Limits, opts ...Option) *Sensor {
	if limits.Interval <= 0 {
		limits.Interval = DefaultInterval
	}

	s := &Sensor{
		sample:    HostSampler,
		limits:    limits,
		sometimes: &rate.Sometimes{Interval: limits.Interval},
	}
	for _, opt := range opts {
		opt(s)
	}

	return s
}

// UnderPressure reports whether either usage is at or above its limit. It
// matches fnhost.PressureFunc.
func (s *Sensor) UnderPressure() bool {
	if s.limits.CPUPercent <= 0 && s.limits.MemoryPercent <= 0 {
		return false
	}

	s.sometimes.Do(s.refresh)

	return s.pressured.Load()
}

// Failures returns how many samples failed. A failed sample keeps the
// previous verdict.
func (s *Sensor) Failures() int64 {
	return s.failures.Load()
}

func (s *Sensor) refresh() {
	cpuPct, memPct, err := s.sample()
	if err != nil {
		s.failures.Add(1)
		return
	}

	over := func(v, limit float64) bool { return limit > 0 && v >= limit }

	s.pressured.Store(over(cpuPct, s.limits.CPUPercent) || over(memPct, s.limits.MemoryPercent))
}

// HostSampler reads usage through gopsutil. CPU usage is measured since
// the previous call, so the first sample after start-up may read zero.
func HostSampler() (cpuPercent, memPercent float64, err error) {
	pcts, err := cpu.Percent(0, false)
	if err != nil {
		return 0, 0, err
	}

	vm, err := mem.VirtualMemory()
	if err != nil {
		return 0, 0, err
	}

	if len(pcts) > 0 {
		cpuPercent = pcts[0]
	}

	return cpuPercent, vm.UsedPercent, nil
}
