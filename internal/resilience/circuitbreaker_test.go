package resilience_test

import (
	"errors"
	"testing"
	"time"

	"github.com/PuertOcho/puertocho-intent/internal/resilience"
)

func TestCircuitBreaker_OpensAfterMaxFailures(t *testing.T) {
	t.Parallel()
	cb := resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
		Name:        "test",
		MaxFailures: 3,
	})

	failing := errors.New("backend down")
	for i := 0; i < 3; i++ {
		if err := cb.Execute(func() error { return failing }); !errors.Is(err, failing) {
			t.Fatalf("call %d: expected backend error, got %v", i, err)
		}
	}

	if cb.State() != resilience.StateOpen {
		t.Fatalf("state = %v, want open", cb.State())
	}
	err := cb.Execute(func() error { return nil })
	if !errors.Is(err, resilience.ErrCircuitOpen) {
		t.Errorf("expected ErrCircuitOpen, got %v", err)
	}
}

func TestCircuitBreaker_SuccessResetsCounter(t *testing.T) {
	t.Parallel()
	cb := resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
		Name:        "test",
		MaxFailures: 2,
	})

	failing := errors.New("flaky")
	cb.Execute(func() error { return failing })
	cb.Execute(func() error { return nil })
	cb.Execute(func() error { return failing })

	if cb.State() != resilience.StateClosed {
		t.Errorf("state = %v, want closed (success should reset the counter)", cb.State())
	}
}

func TestCircuitBreaker_HalfOpenRecovery(t *testing.T) {
	t.Parallel()
	cb := resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
		Name:         "test",
		MaxFailures:  1,
		ResetTimeout: 10 * time.Millisecond,
		HalfOpenMax:  1,
	})

	cb.Execute(func() error { return errors.New("down") })
	if cb.State() != resilience.StateOpen {
		t.Fatalf("state = %v, want open", cb.State())
	}

	time.Sleep(20 * time.Millisecond)
	if cb.State() != resilience.StateHalfOpen {
		t.Fatalf("state = %v, want half-open after reset timeout", cb.State())
	}

	if err := cb.Execute(func() error { return nil }); err != nil {
		t.Fatalf("probe call failed: %v", err)
	}
	if cb.State() != resilience.StateClosed {
		t.Errorf("state = %v, want closed after successful probe", cb.State())
	}
}

func TestFallbackGroup_TriesNextOnFailure(t *testing.T) {
	t.Parallel()
	group := resilience.NewFallbackGroup("primary", "primary", resilience.FallbackConfig{})
	group.AddFallback("backup", "backup")

	var used string
	err := group.Execute(func(name string) error {
		if name == "primary" {
			return errors.New("primary down")
		}
		used = name
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if used != "backup" {
		t.Errorf("used = %q, want backup", used)
	}
}

func TestFallbackGroup_AllFailed(t *testing.T) {
	t.Parallel()
	group := resilience.NewFallbackGroup(1, "a", resilience.FallbackConfig{})
	group.AddFallback("b", 2)

	_, err := resilience.ExecuteWithResult(group, func(int) (string, error) {
		return "", errors.New("nope")
	})
	if !errors.Is(err, resilience.ErrAllFailed) {
		t.Errorf("expected ErrAllFailed, got %v", err)
	}
}
