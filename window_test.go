package fnhost

import (
	"testing"
	"time"
)

func TestHealthWindowSlots(t *testing.T) {
	tests := []struct {
		span, interval time.Duration
		want           int
	}{
		{span: 2 * time.Minute, interval: 10 * time.Second, want: 12},
		{span: 10 * time.Second, interval: 10 * time.Second, want: 1},
		{span: time.Second, interval: 10 * time.Second, want: 1},
		{span: 5 * time.Second, interval: 0, want: 5},
	}

	for _, tt := range tests {
		if got := NewHealthWindow(tt.span, tt.interval).Slots(); got != tt.want {
			t.Fatalf("NewHealthWindow(%v, %v).Slots() = %d, want %d", tt.span, tt.interval, got, tt.want)
		}
	}
}

func TestHealthWindowCountsInsideSpan(t *testing.T) {
	w := NewHealthWindow(2*time.Minute, 10*time.Second)

	w.Add(epoch0, true)
	w.Add(epoch0.Add(time.Second), false)
	w.Add(epoch0.Add(30*time.Second), false)

	samples, failures := w.Stats(epoch0.Add(30 * time.Second))
	if samples != 3 || failures != 2 {
		t.Fatalf("Stats() = (%d, %d), want (3, 2)", samples, failures)
	}
}

func TestHealthWindowDropsExpiredBuckets(t *testing.T) {
	w := NewHealthWindow(2*time.Minute, 10*time.Second)

	w.Add(epoch0, false)

	// Last instant the first bucket is still inside the window.
	if samples, _ := w.Stats(epoch0.Add(119 * time.Second)); samples != 1 {
		t.Fatalf("Stats() at 119s: samples = %d, want 1", samples)
	}

	if samples, _ := w.Stats(epoch0.Add(2 * time.Minute)); samples != 0 {
		t.Fatalf("Stats() at 120s: samples = %d, want 0", samples)
	}
}

func TestHealthWindowReusesSlot(t *testing.T) {
	w := NewHealthWindow(2*time.Minute, 10*time.Second)

	w.Add(epoch0, false)
	w.Add(epoch0.Add(2*time.Minute), true) // same slot, next lap

	samples, failures := w.Stats(epoch0.Add(2 * time.Minute))
	if samples != 1 || failures != 0 {
		t.Fatalf("Stats() = (%d, %d), want (1, 0)", samples, failures)
	}
}

func TestHealthWindowIgnoresFutureBuckets(t *testing.T) {
	w := NewHealthWindow(time.Minute, 10*time.Second)

	w.Add(epoch0.Add(30*time.Second), false)

	if samples, _ := w.Stats(epoch0); samples != 0 {
		t.Fatalf("Stats() = %d samples, want 0", samples)
	}
}
