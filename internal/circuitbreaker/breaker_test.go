package circuitbreaker

import (
	"testing"
	"time"
)

func TestBreakerClosedAllowsRequests(t *testing.T) {
	b := New("svc", Config{FailureThreshold: 3, SuccessThreshold: 1, TimeoutMS: 50})

	if !b.CanExecute() {
		t.Fatal("closed breaker should allow requests")
	}
	if b.State() != StateClosed {
		t.Fatalf("expected closed, got %v", b.State())
	}
}

func TestBreakerTripsAtFailureThreshold(t *testing.T) {
	b := New("svc", Config{FailureThreshold: 2, SuccessThreshold: 1, TimeoutMS: 50})

	b.RecordFailure()
	if b.State() != StateClosed {
		t.Fatalf("expected still closed after 1 failure, got %v", b.State())
	}
	b.RecordFailure()
	if b.State() != StateOpen {
		t.Fatalf("expected open after failure_threshold failures, got %v", b.State())
	}
	if b.CanExecute() {
		t.Fatal("open breaker should reject requests before timeout_ms elapses")
	}
}

func TestBreakerSuccessResetsFailureCountInClosed(t *testing.T) {
	b := New("svc", Config{FailureThreshold: 2, SuccessThreshold: 1, TimeoutMS: 50})

	b.RecordFailure()
	b.RecordSuccess()
	b.RecordFailure()
	if b.State() != StateClosed {
		t.Fatalf("success should have reset the streak, got %v", b.State())
	}
}

func TestBreakerTransitionsToHalfOpenAfterTimeout(t *testing.T) {
	b := New("svc", Config{FailureThreshold: 1, SuccessThreshold: 1, TimeoutMS: 10})

	b.RecordFailure()
	if b.State() != StateOpen {
		t.Fatalf("expected open, got %v", b.State())
	}

	time.Sleep(20 * time.Millisecond)

	if !b.CanExecute() {
		t.Fatal("should allow a probe once timeout_ms has elapsed")
	}
	if b.State() != StateHalfOpen {
		t.Fatalf("expected half_open after the probe is allowed, got %v", b.State())
	}
}

func TestBreakerClosesAfterSuccessThreshold(t *testing.T) {
	b := New("svc", Config{FailureThreshold: 1, SuccessThreshold: 2, TimeoutMS: 10})

	b.RecordFailure()
	time.Sleep(20 * time.Millisecond)
	b.CanExecute() // trips Open -> HalfOpen

	b.RecordSuccess()
	if b.State() != StateHalfOpen {
		t.Fatalf("one success should not yet close a threshold-2 breaker, got %v", b.State())
	}
	b.RecordSuccess()
	if b.State() != StateClosed {
		t.Fatalf("expected closed after success_threshold probes, got %v", b.State())
	}
}

func TestBreakerReopensOnFailedProbe(t *testing.T) {
	b := New("svc", Config{FailureThreshold: 1, SuccessThreshold: 1, TimeoutMS: 10})

	b.RecordFailure()
	time.Sleep(20 * time.Millisecond)
	b.CanExecute()

	b.RecordFailure()
	if b.State() != StateOpen {
		t.Fatalf("expected open after a failed probe, got %v", b.State())
	}
}

func TestBreakerClockRegressionNeverElapses(t *testing.T) {
	b := New("svc", Config{FailureThreshold: 1, SuccessThreshold: 1, TimeoutMS: 1000})
	b.RecordFailure()

	// Simulate a clock regression by rewinding lastStateChange into the
	// future relative to "now" — elapsed becomes negative and must not be
	// treated as "timeout_ms elapsed".
	b.mu.Lock()
	b.lastStateChange = time.Now().Add(time.Hour)
	b.mu.Unlock()

	if b.CanExecute() {
		t.Fatal("a negative elapsed duration must never be treated as elapsed")
	}
}

func TestPoolCreatesBreakerOnDemand(t *testing.T) {
	p := NewPool()
	cfg := Config{FailureThreshold: 3, SuccessThreshold: 1, TimeoutMS: 1000}

	b1 := p.Get("target-1", cfg)
	if b1 == nil {
		t.Fatal("expected non-nil breaker")
	}
	b2 := p.Get("target-1", cfg)
	if b1 != b2 {
		t.Fatal("expected same breaker instance for same target")
	}
}

func TestPoolReturnsNilForZeroConfig(t *testing.T) {
	p := NewPool()
	if b := p.Get("target-1", Config{}); b != nil {
		t.Fatal("expected nil breaker for zero config")
	}
}

func TestPoolSnapshots(t *testing.T) {
	p := NewPool()
	cfg := Config{FailureThreshold: 3, SuccessThreshold: 1, TimeoutMS: 1000}

	p.Get("target-1", cfg)
	p.Get("target-2", cfg)

	snaps := p.Snapshots()
	if len(snaps) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(snaps))
	}
	for _, s := range snaps {
		if s.State != StateClosed {
			t.Fatalf("expected closed, got %v", s.State)
		}
	}
}

func TestStateString(t *testing.T) {
	tests := []struct {
		state State
		want  string
	}{
		{StateClosed, "closed"},
		{StateOpen, "open"},
		{StateHalfOpen, "half_open"},
		{State(99), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("State(%d).String() = %q, want %q", tt.state, got, tt.want)
		}
	}
}
