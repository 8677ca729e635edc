// Package otelsink records dispatcher events as OpenTelemetry metrics.
package otelsink

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/byte4ever/fnhost"
)

// ScopeName is the instrumentation scope of every instrument.
const ScopeName = "github.com/byte4ever/fnhost"

// Metric names.
const (
	EventsMetric     = "fnhost.events"
	AttemptsMetric   = "fnhost.attempts"
	RetryDelayMetric = "fnhost.retry.delay"
	HealthMetric     = "fnhost.health"
)

// Sink is an [fnhost.EventSink] backed by OpenTelemetry instruments.
type Sink struct {
	events     metric.Int64Counter
	attempts   metric.Int64Counter
	retryDelay metric.Float64Histogram
	health     metric.Int64Gauge
	dispatcher attribute.KeyValue
}

// New creates the instruments on provider's meter and reports the
// dispatcher as healthy. A nil provider uses the global one. dispatcher
// labels every data point.
func New(provider metric.MeterProvider, dispatcher string) (*Sink, error) {
	if provider == nil {
		provider = otel.GetMeterProvider()
	}

	meter := provider.Meter(ScopeName)

	s := &Sink{dispatcher: attribute.String("dispatcher", dispatcher)}

	var err error

	s.events, err = meter.Int64Counter(
		EventsMetric,
		metric.WithDescription("Number of dispatcher events by kind"),
		metric.WithUnit("{event}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create %s counter: %w", EventsMetric, err)
	}

	s.attempts, err = meter.Int64Counter(
		AttemptsMetric,
		metric.WithDescription("Number of handler attempts by outcome"),
		metric.WithUnit("{attempt}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create %s counter: %w", AttemptsMetric, err)
	}

	s.retryDelay, err = meter.Float64Histogram(
		RetryDelayMetric,
		metric.WithDescription("Backoff delay before each retry"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("create %s histogram: %w", RetryDelayMetric, err)
	}

	s.health, err = meter.Int64Gauge(
		HealthMetric,
		metric.WithDescription("1 while the dispatcher is healthy, 0 otherwise"),
	)
	if err != nil {
		return nil, fmt.Errorf("create %s gauge: %w", HealthMetric, err)
	}

	// Dispatchers start healthy.
	s.health.Record(context.Background(), 1, metric.WithAttributes(s.dispatcher))

	return s, nil
}

// Emit records ev. Instruments never block, so Emit is safe on the request
// path.
func (s *Sink) Emit(ev fnhost.Event) {
	ctx := context.Background()
	kind := attribute.String("event", string(ev.Kind))

	s.events.Add(ctx, 1, metric.WithAttributes(s.dispatcher, kind))

	switch ev.Kind {
	case fnhost.EventAttempt:
		success, _ := ev.Payload["success"].(bool)
		s.attempts.Add(ctx, 1, metric.WithAttributes(s.dispatcher, attribute.Bool("success", success)))

	case fnhost.EventRetry:
		raw, _ := ev.Payload["delay"].(string)
		if d, err := time.ParseDuration(raw); err == nil {
			s.retryDelay.Record(ctx, d.Seconds(), metric.WithAttributes(s.dispatcher))
		}

	case fnhost.EventHealthTransition:
		var v int64
		if ev.Payload["to"] == fnhost.Healthy.String() {
			v = 1
		}
		s.health.Record(ctx, v, metric.WithAttributes(s.dispatcher))
	}
}
