package chat

import (
	"errors"
	"testing"
	"time"
)

func TestCircuitBreaker_StartsClosed(t *testing.T) {
	t.Parallel()

	cb := NewCircuitBreaker(DefaultCircuitBreakerConfig())
	if got := cb.State(); got != CircuitClosed {
		t.Fatalf("State() = %v, want %v", got, CircuitClosed)
	}
	if err := cb.Allow(); err != nil {
		t.Fatalf("Allow() = %v, want nil", err)
	}
}

func TestCircuitBreaker_OpensAfterConsecutiveFailures(t *testing.T) {
	t.Parallel()

	cb := NewCircuitBreaker(CircuitBreakerConfig{
		FailureThreshold: 3,
		SuccessThreshold: 1,
		Timeout:          time.Minute,
	})

	cb.Failure()
	cb.Failure()
	if got := cb.State(); got != CircuitClosed {
		t.Fatalf("State() after 2 failures = %v, want %v", got, CircuitClosed)
	}

	cb.Failure()
	if got := cb.State(); got != CircuitOpen {
		t.Fatalf("State() after 3 failures = %v, want %v", got, CircuitOpen)
	}
	if err := cb.Allow(); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("Allow() = %v, want ErrCircuitOpen", err)
	}
}

func TestCircuitBreaker_SuccessResetsFailureCount(t *testing.T) {
	t.Parallel()

	cb := NewCircuitBreaker(CircuitBreakerConfig{
		FailureThreshold: 3,
		SuccessThreshold: 1,
		Timeout:          time.Minute,
	})

	cb.Failure()
	cb.Failure()
	cb.Success()
	cb.Failure()
	cb.Failure()
	if got := cb.State(); got != CircuitClosed {
		t.Fatalf("State() = %v, want %v after success reset the count", got, CircuitClosed)
	}

	cb.Failure()
	if got := cb.State(); got != CircuitOpen {
		t.Fatalf("State() = %v, want %v after threshold reached", got, CircuitOpen)
	}
}

func TestCircuitBreaker_HalfOpenAfterTimeout(t *testing.T) {
	t.Parallel()

	cb := NewCircuitBreaker(CircuitBreakerConfig{
		FailureThreshold: 1,
		SuccessThreshold: 2,
		Timeout:          20 * time.Millisecond,
	})

	cb.Failure()
	if err := cb.Allow(); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("Allow() while open = %v, want ErrCircuitOpen", err)
	}

	time.Sleep(30 * time.Millisecond)

	if err := cb.Allow(); err != nil {
		t.Fatalf("Allow() after timeout = %v, want nil", err)
	}
	if got := cb.State(); got != CircuitHalfOpen {
		t.Fatalf("State() = %v, want %v", got, CircuitHalfOpen)
	}
}

func TestCircuitBreaker_HalfOpenClosesAfterSuccesses(t *testing.T) {
	t.Parallel()

	cb := NewCircuitBreaker(CircuitBreakerConfig{
		FailureThreshold: 1,
		SuccessThreshold: 2,
		Timeout:          10 * time.Millisecond,
	})

	cb.Failure()
	time.Sleep(20 * time.Millisecond)
	if err := cb.Allow(); err != nil {
		t.Fatalf("Allow() = %v, want nil", err)
	}

	cb.Success()
	if got := cb.State(); got != CircuitHalfOpen {
		t.Fatalf("State() after 1 success = %v, want %v", got, CircuitHalfOpen)
	}

	cb.Success()
	if got := cb.State(); got != CircuitClosed {
		t.Fatalf("State() after 2 successes = %v, want %v", got, CircuitClosed)
	}
}

func TestCircuitBreaker_HalfOpenFailureReopens(t *testing.T) {
	t.Parallel()

	cb := NewCircuitBreaker(CircuitBreakerConfig{
		FailureThreshold: 1,
		SuccessThreshold: 2,
		Timeout:          10 * time.Millisecond,
	})

	cb.Failure()
	time.Sleep(20 * time.Millisecond)
	if err := cb.Allow(); err != nil {
		t.Fatalf("Allow() = %v, want nil", err)
	}

	cb.Failure()
	if got := cb.State(); got != CircuitOpen {
		t.Fatalf("State() = %v, want %v", got, CircuitOpen)
	}
	if err := cb.Allow(); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("Allow() = %v, want ErrCircuitOpen", err)
	}
}

func TestCircuitBreaker_Reset(t *testing.T) {
	t.Parallel()

	cb := NewCircuitBreaker(CircuitBreakerConfig{
		FailureThreshold: 1,
		SuccessThreshold: 1,
		Timeout:          time.Minute,
	})

	cb.Failure()
	if got := cb.State(); got != CircuitOpen {
		t.Fatalf("State() = %v, want %v", got, CircuitOpen)
	}

	cb.Reset()
	if got := cb.State(); got != CircuitClosed {
		t.Fatalf("State() after Reset = %v, want %v", got, CircuitClosed)
	}
	if err := cb.Allow(); err != nil {
		t.Fatalf("Allow() after Reset = %v, want nil", err)
	}
}

func TestCircuitBreaker_ZeroConfigGetsDefaults(t *testing.T) {
	t.Parallel()

	cb := NewCircuitBreaker(CircuitBreakerConfig{})
	def := DefaultCircuitBreakerConfig()

	if cb.failureThreshold != def.FailureThreshold {
		t.Errorf("failureThreshold = %d, want %d", cb.failureThreshold, def.FailureThreshold)
	}
	if cb.successThreshold != def.SuccessThreshold {
		t.Errorf("successThreshold = %d, want %d", cb.successThreshold, def.SuccessThreshold)
	}
	if cb.timeout != def.Timeout {
		t.Errorf("timeout = %v, want %v", cb.timeout, def.Timeout)
	}
}

func TestCircuitState_String(t *testing.T) {
	t.Parallel()

	tests := []struct {
		state CircuitState
		want  string
	}{
		{CircuitClosed, "closed"},
		{CircuitOpen, "open"},
		{CircuitHalfOpen, "half-open"},
		{CircuitState(99), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("CircuitState(%d).String() = %q, want %q", tt.state, got, tt.want)
		}
	}
}
