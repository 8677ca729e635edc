package fnhost_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/byte4ever/fnhost"
)

func TestNonRetryableWrapsError(t *testing.T) {
	cause := errors.New("missing field tenant_id")
	err := fnhost.NonRetryable(cause)

	if got := err.Error(); got != "non-retryable: missing field tenant_id" {
		t.Fatalf("Error() = %q", got)
	}
	if !errors.Is(err, cause) {
		t.Fatal("errors.Is(NonRetryable(cause), cause) = false, want true")
	}
	if !fnhost.IsNonRetryable(err) {
		t.Fatal("IsNonRetryable(NonRetryable(err)) = false, want true")
	}
}

func TestNonRetryableNilReturnsNil(t *testing.T) {
	if err := fnhost.NonRetryable(nil); err != nil {
		t.Fatalf("NonRetryable(nil) = %v, want nil", err)
	}
}

func TestIsNonRetryableThroughWrapping(t *testing.T) {
	err := fmt.Errorf("handler: %w", fnhost.NonRetryable(errors.New("bad")))

	if !fnhost.IsNonRetryable(err) {
		t.Fatal("IsNonRetryable(wrapped) = false, want true")
	}
	if fnhost.IsNonRetryable(errors.New("plain")) {
		t.Fatal("IsNonRetryable(plain) = true, want false")
	}
	if fnhost.IsNonRetryable(nil) {
		t.Fatal("IsNonRetryable(nil) = true, want false")
	}
}

func TestSentinelsAreResilienceErrors(t *testing.T) {
	sentinels := []error{
		fnhost.ErrRejected,
		fnhost.ErrOverloaded,
		fnhost.ErrUnhealthy,
		fnhost.ErrThrottled,
		fnhost.ErrTimeout,
		fnhost.ErrRetriesExhausted,
	}

	for _, s := range sentinels {
		var re fnhost.ResilienceError
		if !errors.As(s, &re) || !re.IsResilience() {
			t.Fatalf("%v is not a ResilienceError", s)
		}
	}
}

func TestIsResilienceDistinguishesHandlerErrors(t *testing.T) {
	exhausted := fmt.Errorf("%w: %w", fnhost.ErrRetriesExhausted, errors.New("boom"))

	if !fnhost.IsResilience(exhausted) {
		t.Fatal("IsResilience(exhausted) = false, want true")
	}
	if fnhost.IsResilience(errors.New("boom")) {
		t.Fatal("IsResilience(handler error) = true, want false")
	}
	if fnhost.IsRejected(fnhost.ErrTimeout) {
		t.Fatal("IsRejected(ErrTimeout) = true, want false")
	}
}
