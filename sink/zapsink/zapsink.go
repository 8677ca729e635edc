// Package zapsink writes dispatcher events as structured zap log lines.
package zapsink

import (
	"slices"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/byte4ever/fnhost"
)

// Message is the log message of every event line.
const Message = "fnhost event"

// Sink is an [fnhost.EventSink] backed by a zap logger.
type Sink struct {
	log *zap.Logger
}

// New returns a sink logging to log. A nil logger discards everything.
func New(log *zap.Logger) *Sink {
	if log == nil {
		log = zap.NewNop()
	}

	return &Sink{log: log}
}

// Emit logs ev. Rejections, timeouts and transitions to unhealthy are
// warnings, retries and recoveries are info, attempts are debug.
func (s *Sink) Emit(ev fnhost.Event) {
	ce := s.log.Check(Level(ev), Message)
	if ce == nil {
		return
	}

	fields := make([]zap.Field, 0, len(ev.Payload)+2)
	fields = append(fields,
		zap.String("event", string(ev.Kind)),
		zap.Time("at", ev.Time),
	)

	keys := make([]string, 0, len(ev.Payload))
	for k := range ev.Payload {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	for _, k := range keys {
		fields = append(fields, zap.Any(k, ev.Payload[k]))
	}

	ce.Write(fields...)
}

// Level returns the level ev is logged at.
func Level(ev fnhost.Event) zapcore.Level {
	switch ev.Kind {
	case fnhost.EventRejected, fnhost.EventTimeout:
		return zapcore.WarnLevel
	case fnhost.EventHealthTransition:
		if ev.Payload["to"] == fnhost.Unhealthy.String() {
			return zapcore.WarnLevel
		}
		return zapcore.InfoLevel
	case fnhost.EventRetry:
		return zapcore.InfoLevel
	default:
		return zapcore.DebugLevel
	}
}
