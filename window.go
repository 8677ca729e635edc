package fnhost

import "time"

// bucket aggregates the outcomes recorded during one sampling interval.
type bucket struct {
	epoch     int64 // interval number since the Unix epoch
	successes int
	failures  int
}

// HealthWindow is a ring of per-interval outcome buckets covering a fixed
// time span. A bucket is reused once its interval falls out of the span, so
// stale outcomes drop out without any background sweeping.
//
// HealthWindow is not safe for concurrent use; [HealthMonitor] guards it.
type HealthWindow struct {
	buckets  []bucket
	interval time.Duration
}

// NewHealthWindow creates a window spanning span, sampled every interval.
// It holds span/interval buckets, at least one.
func NewHealthWindow(span, interval time.Duration) *HealthWindow {
	if interval <= 0 {
		interval = time.Second
	}

	slots := int(span / interval)
	if slots < 1 {
		slots = 1
	}

	buckets := make([]bucket, slots)
	for i := range buckets {
		buckets[i].epoch = -1
	}

	return &HealthWindow{buckets: buckets, interval: interval}
}

// Slots returns the number of buckets in the ring.
func (w *HealthWindow) Slots() int { return len(w.buckets) }

func (w *HealthWindow) epoch(at time.Time) int64 {
	return at.UnixNano() / int64(w.interval)
}

// Add records one outcome observed at at.
func (w *HealthWindow) Add(at time.Time, success bool) {
	e := w.epoch(at)
	b := &w.buckets[int(e%int64(len(w.buckets)))]

	if b.epoch != e {
		*b = bucket{epoch: e}
	}

	if success {
		b.successes++
	} else {
		b.failures++
	}
}

// Stats returns the sample and failure counts of the buckets that fall
// inside the span ending at at.
func (w *HealthWindow) Stats(at time.Time) (samples, failures int) {
	now := w.epoch(at)
	oldest := now - int64(len(w.buckets)) + 1

	for _, b := range w.buckets {
		if b.epoch < oldest || b.epoch > now {
			continue
		}

		samples += b.successes + b.failures
		failures += b.failures
	}

	return samples, failures
}
