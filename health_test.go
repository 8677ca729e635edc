package fnhost

import (
	"context"
	"testing"
)

// ---------------------------------------------------------------------------
// TestCriticalityString: all Criticality.String() values
// ---------------------------------------------------------------------------

func TestCriticalityString(t *testing.T) {
	tests := []struct {
		c    Criticality
		want string
	}{
		{CriticalityNone, "none"},
		{CriticalityDegraded, "degraded"},
		{CriticalityCritical, "critical"},
		{Criticality(99), "none"},
	}

	for _, tt := range tests {
		if got := tt.c.String(); got != tt.want {
			t.Errorf("Criticality(%d).String() = %q, want %q", tt.c, got, tt.want)
		}
	}
}

func TestHealthStateString(t *testing.T) {
	if Healthy.String() != "healthy" || Unhealthy.String() != "unhealthy" {
		t.Fatalf("String() = %q, %q", Healthy, Unhealthy)
	}
}

// ---------------------------------------------------------------------------
// Dispatcher.HealthStatus
// ---------------------------------------------------------------------------

func TestHealthStatusIdle(t *testing.T) {
	d := newTestDispatcher(t, testConfig(), newManualClock(), nil,
		HandlerFunc[string, string](func(context.Context, string) (string, error) { return "", nil }))

	status := d.HealthStatus()
	if !status.Healthy || status.Criticality != CriticalityNone || status.State != "healthy" {
		t.Fatalf("HealthStatus() = %+v", status)
	}
	if status.Name != "test" || !status.Since.Equal(epoch0) {
		t.Fatalf("HealthStatus() = %+v", status)
	}
}

func TestHealthStatusSaturated(t *testing.T) {
	cfg := testConfig()
	cfg.HTTP.MaxOutstandingRequests = 1
	cfg.HTTP.MaxConcurrentRequests = 1

	release := make(chan struct{})

	d := newTestDispatcher(t, cfg, newManualClock(), nil,
		HandlerFunc[string, string](func(context.Context, string) (string, error) {
			<-release
			return "", nil
		}))

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = d.Handle(context.Background(), "x")
	}()

	eventually(t, "one executing", func() bool { return d.Admission().Counters().Executing == 1 })

	status := d.HealthStatus()
	if !status.Healthy || status.Criticality != CriticalityDegraded || status.State != "saturated" {
		t.Fatalf("HealthStatus() = %+v", status)
	}
	if status.Counters.Outstanding != 1 {
		t.Fatalf("Counters = %+v", status.Counters)
	}

	close(release)
	<-done
}
