package fnhost

import (
	"sync"
	"sync/atomic"
)

type (
	// ReadinessStatus is the result of checking all registered reporters.
	ReadinessStatus struct {
		Dispatchers []Status `json:"dispatchers"`
		Ready       bool     `json:"ready"`
	}

	// Registry tracks HealthReporter instances and derives readiness.
	// There is no process-wide registry: the host creates one and passes it
	// to each dispatcher with [WithRegistry].
	Registry struct {
		reporters atomic.Pointer[[]HealthReporter]
		mu        sync.Mutex
	}
)

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	r := &Registry{}

	var empty []HealthReporter

	r.reporters.Store(&empty)

	return r
}

// Register adds hr. It is safe for concurrent use but intended for start
// up.
func (r *Registry) Register(hr HealthReporter) {
	r.mu.Lock()
	defer r.mu.Unlock()

	old := *r.reporters.Load()
	// Copy on write so concurrent readers keep a stable slice.
	updated := make([]HealthReporter, len(old), len(old)+1)
	copy(updated, old)
	updated = append(updated, hr)
	r.reporters.Store(&updated)
}

// CheckReadiness collects every reporter's status. Ready is false when any
// reporter is critical and unhealthy.
func (r *Registry) CheckReadiness() ReadinessStatus {
	reporters := *r.reporters.Load()

	status := ReadinessStatus{
		Ready:       true,
		Dispatchers: make([]Status, 0, len(reporters)),
	}

	for _, hr := range reporters {
		s := hr.HealthStatus()
		status.Dispatchers = append(status.Dispatchers, s)

		if s.Criticality == CriticalityCritical && !s.Healthy {
			status.Ready = false
		}
	}

	return status
}
