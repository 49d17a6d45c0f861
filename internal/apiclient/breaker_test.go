package apiclient

import (
	"testing"
	"time"
)

func TestBreakerLifecycle(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	b := NewBreaker("t", 3, 10*time.Second)
	b.now = func() time.Time { return now }

	b.Record(true)
	b.Record(true)
	b.Record(false) // success resets the streak while closed
	b.Record(true)
	b.Record(true)
	if b.State() != StateClosed {
		t.Fatalf("want closed, got %s", b.State())
	}
	b.Record(true)
	if b.State() != StateOpen || b.Allow() {
		t.Fatal("third consecutive failure should open")
	}

	now = now.Add(11 * time.Second)
	if !b.Allow() || b.State() != StateHalfOpen {
		t.Fatalf("cooldown elapsed, want half-open, got %s", b.State())
	}
	b.Record(true)
	if b.State() != StateOpen {
		t.Fatal("half-open failure should reopen")
	}

	now = now.Add(11 * time.Second)
	b.Allow()
	b.Record(false)
	b.Record(false)
	if b.State() != StateClosed {
		t.Fatalf("two probe successes should close, got %s", b.State())
	}
}
