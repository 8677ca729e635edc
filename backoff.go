package fnhost

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// Stop is returned by [BackoffSpec.NextDelay] when no further attempt is
// allowed.
const Stop time.Duration = -1

// BackoffStrategy names the delay algorithm of a [BackoffSpec].
type BackoffStrategy string

// Supported strategies.
const (
	// StrategyExponential doubles the delay per attempt, capped at the
	// maximum interval.
	StrategyExponential BackoffStrategy = "exponential"
	// StrategyFixed waits the minimum interval before every retry.
	StrategyFixed BackoffStrategy = "fixed"
)

// ParseBackoffStrategy maps a configured strategy name to a
// [BackoffStrategy]. Host-style names ("exponentialBackoff", "fixedDelay")
// are accepted alongside the short forms, case-insensitively.
func ParseBackoffStrategy(name string) (BackoffStrategy, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "exponential", "exponentialbackoff":
		return StrategyExponential, nil
	case "fixed", "fixeddelay":
		return StrategyFixed, nil
	default:
		return "", fmt.Errorf("unknown backoff strategy: %q", name)
	}
}

// BackoffSpec is the immutable retry delay policy. It is built once from
// configuration and never mutated.
type BackoffSpec struct {
	Strategy    BackoffStrategy
	MinInterval time.Duration
	MaxInterval time.Duration
	MaxAttempts int
}

// maxShift keeps 1<<shift inside int64.
const maxShift = 62

// NextDelay returns the delay to wait after the given failed attempt
// (1-indexed) before the next one. It returns [Stop] when attempt is past
// MaxAttempts or below 1. The result depends only on b and attempt.
func (b BackoffSpec) NextDelay(attempt int) time.Duration {
	if attempt < 1 || attempt > b.MaxAttempts {
		return Stop
	}

	if b.Strategy == StrategyFixed {
		return b.capped(b.MinInterval)
	}

	return b.capped(exponential(b.MinInterval, attempt-1))
}

func (b BackoffSpec) capped(d time.Duration) time.Duration {
	if b.MaxInterval > 0 && d > b.MaxInterval {
		return b.MaxInterval
	}

	return d
}

// exponential returns base * 2^shift, saturating at math.MaxInt64.
func exponential(base time.Duration, shift int) time.Duration {
	if base <= 0 {
		return 0
	}

	if shift > maxShift {
		return time.Duration(math.MaxInt64)
	}

	multiplier := int64(1) << shift
	if int64(base) > math.MaxInt64/multiplier {
		return time.Duration(math.MaxInt64)
	}

	return base * time.Duration(multiplier)
}
