package autoreply

import (
	"testing"
	"time"
)

func TestRateLimiterAdmitsBurstThenRejects(t *testing.T) {
	store := NewStore()
	r := NewRateLimiter(10*time.Second, 5, store)

	now := time.Unix(1000, 0)
	r.now = func() time.Time { return now }

	for i := 0; i < 5; i++ {
		if !r.Allow("k") {
			t.Fatalf("message %d within burst rejected", i+1)
		}
	}
	for i := 0; i < 3; i++ {
		if r.Allow("k") {
			t.Fatalf("message beyond burst admitted")
		}
	}
}

func TestRateLimiterWindowRollsOver(t *testing.T) {
	store := NewStore()
	r := NewRateLimiter(10*time.Second, 2, store)

	now := time.Unix(1000, 0)
	r.now = func() time.Time { return now }

	if !r.Allow("k") || !r.Allow("k") {
		t.Fatal("burst rejected")
	}
	if r.Allow("k") {
		t.Fatal("over-burst admitted")
	}

	// Advance past the window: counter restarts.
	now = now.Add(11 * time.Second)
	if !r.Allow("k") {
		t.Fatal("message after window rollover rejected")
	}
	if !r.Allow("k") {
		t.Fatal("second message of fresh window rejected")
	}
	if r.Allow("k") {
		t.Fatal("fresh window did not enforce burst")
	}
}

func TestRateLimiterKeysIndependent(t *testing.T) {
	store := NewStore()
	r := NewRateLimiter(10*time.Second, 1, store)

	now := time.Unix(1000, 0)
	r.now = func() time.Time { return now }

	if !r.Allow("a") {
		t.Fatal("first message for a rejected")
	}
	if r.Allow("a") {
		t.Fatal("second message for a admitted")
	}
	if !r.Allow("b") {
		t.Fatal("b must not share a's window")
	}
}

func TestRateLimiterRejectionIsNotSticky(t *testing.T) {
	// Rejected messages still count; once the window expires the
	// conversation is admitted again (no permanent lockout).
	store := NewStore()
	r := NewRateLimiter(time.Second, 1, store)

	now := time.Unix(0, 0)
	r.now = func() time.Time { return now }

	r.Allow("k")
	for i := 0; i < 100; i++ {
		r.Allow("k")
	}

	now = now.Add(2 * time.Second)
	if !r.Allow("k") {
		t.Fatal("window did not reset after expiry")
	}
}
