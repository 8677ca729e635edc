// Package redisstats keeps per-kind event counters in Redis hashes.
//
// Counters are telemetry only: nothing in the host reads them back, and a
// Redis outage never affects request handling.
package redisstats

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/byte4ever/fnhost"
)

const (
	defaultPrefix = "fnhost:events"
	defaultTTL    = 24 * time.Hour
	defaultBuffer = 1024
)

// Store is an asynchronous [fnhost.EventSink]. Emit only enqueues; Run
// writes the queued events to Redis.
//
// Keys:
//
//	<prefix>:total                 HINCRBY <kind> 1, never expires
//	<prefix>:minute:<yyyymmddhhmm> HINCRBY <kind> 1, expires after ttl
//	<prefix>:health                HSET state, since on health transitions
type Store struct {
	rdb     redis.Cmdable
	events  chan fnhost.Event
	onError func(error)
	prefix  string
	ttl     time.Duration
	buffer  int
	dropped atomic.Int64
}

// Option configures a [Store].
type Option func(*Store)

// WithPrefix sets the key prefix.
func WithPrefix(prefix string) Option {
	return func(s *Store) { s.prefix = strings.Trim(prefix, ":") }
}

// WithTTL sets the expiry of the per-minute buckets. Zero disables expiry.
func WithTTL(d time.Duration) Option {
	return func(s *Store) { s.ttl = d }
}

// WithBuffer sets how many events may wait for Run before Emit drops them.
func WithBuffer(n int) Option {
	return func(s *Store) { s.buffer = n }
}

// WithErrorHandler is called by Run for every failed write.
func WithErrorHandler(fn func(error)) Option {
	return func(s *Store) { s.onError = fn }
}

// New creates a store writing through rdb.
func New(rdb redis.Cmdable, opts ...Option) *Store {
	s := &Store{
		rdb:    rdb,
		prefix: defaultPrefix,
		ttl:    defaultTTL,
		buffer: defaultBuffer,
	}
	for _, opt := range opts {
		opt(s)
	}

	s.events = make(chan fnhost.Event, max(s.buffer, 1))

	return s
}

// Emit enqueues ev without blocking. Events are dropped when the buffer is
// full.
func (s *Store) Emit(ev fnhost.Event) {
	select {
	case s.events <- ev:
	default:
		s.dropped.Add(1)
	}
}

// Dropped returns how many events Emit discarded.
func (s *Store) Dropped() int64 {
	return s.dropped.Load()
}

// Run writes queued events until ctx is done, then returns ctx.Err().
func (s *Store) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev := <-s.events:
			if err := s.Record(ctx, ev); err != nil && s.onError != nil {
				s.onError(err)
			}
		}
	}
}

// Record writes one event synchronously.
func (s *Store) Record(ctx context.Context, ev fnhost.Event) error {
	at := ev.Time
	if at.IsZero() {
		at = time.Now()
	}

	field := string(ev.Kind)

	pipe := s.rdb.Pipeline()
	pipe.HIncrBy(ctx, s.prefix+":total", field, 1)

	bucketKey := fmt.Sprintf("%s:minute:%s", s.prefix, at.UTC().Format("200601021504"))
	pipe.HIncrBy(ctx, bucketKey, field, 1)

	if s.ttl > 0 {
		pipe.Expire(ctx, bucketKey, s.ttl)
	}

	if ev.Kind == fnhost.EventHealthTransition {
		if to, ok := ev.Payload["to"].(string); ok {
			pipe.HSet(ctx, s.prefix+":health",
				"state", to,
				"since", at.UTC().Format(time.RFC3339Nano),
			)
		}
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redisstats: record %s: %w", ev.Kind, err)
	}

	return nil
}
