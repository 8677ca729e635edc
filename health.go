package fnhost

import "time"

// ---------------------------------------------------------------------------
// HealthReporter interface
// ---------------------------------------------------------------------------.

type (
	// HealthReporter is implemented by every Dispatcher[Req, Resp]. The
	// interface is non-generic so dispatchers with different types can share
	// one [Registry].
	HealthReporter interface {
		// Name returns the reporter's name.
		Name() string
		// HealthStatus returns the current health.
		HealthStatus() Status
	}

	// Criticality represents how a reporter's state affects readiness.
	Criticality int

	// Status is the health of one dispatcher.
	Status struct {
		Since        time.Time         `json:"since"`
		Name         string            `json:"name"`
		State        string            `json:"state"`
		Counters     AdmissionCounters `json:"counters"`
		FailureRatio float64           `json:"failure_ratio"`
		Samples      int               `json:"samples"`
		Criticality  Criticality       `json:"criticality"`
		Healthy      bool              `json:"healthy"`
	}
)

const (
	// CriticalityNone means the dispatcher is serving normally.
	CriticalityNone Criticality = iota
	// CriticalityDegraded means requests are being shed for capacity.
	CriticalityDegraded
	// CriticalityCritical means intake is disabled by the health monitor.
	CriticalityCritical
)

// String returns the criticality level as a human-readable string.
func (c Criticality) String() string {
	switch c {
	case CriticalityDegraded:
		return "degraded"
	case CriticalityCritical:
		return "critical"
	default:
		return "none"
	}
}

// HealthStatus derives the dispatcher's status from its monitor and
// admission counters.
func (d *Dispatcher[Req, Resp]) HealthStatus() Status {
	snap := d.monitor.Snapshot()

	status := Status{
		Name:         d.name,
		Healthy:      true,
		State:        "healthy",
		Since:        snap.Since,
		FailureRatio: snap.FailureRatio,
		Samples:      snap.Samples,
		Counters:     d.admission.Counters(),
	}

	if snap.State == Unhealthy {
		status.Healthy = false
		status.Criticality = CriticalityCritical
		status.State = "unhealthy"

		return status
	}

	// At capacity: still healthy, but new requests are being rejected.
	if d.admission.Saturated() {
		status.Criticality = CriticalityDegraded
		status.State = "saturated"
	}

	return status
}
