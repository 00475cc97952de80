package txn

import (
	"testing"
	"time"
)

func TestRateLimiterDisabledGrantsEverything(t *testing.T) {
	r := newRateLimiter(0, nil)
	granted, ok, _ := r.acquire(1 << 20)
	if !ok || granted != 1<<20 {
		t.Fatalf("granted=%d ok=%v, want full grant when disabled", granted, ok)
	}
}

func TestRateLimiterBudgetAndPartialGrant(t *testing.T) {
	clock := time.Unix(0, 0)
	now := func() time.Time { return clock }
	r := newRateLimiter(10, now) // 10 bytes/ms

	clock = clock.Add(time.Millisecond) // budget 10, spent 0
	granted, ok, _ := r.acquire(10)
	if !ok || granted != 10 {
		t.Fatalf("first acquire: granted=%d ok=%v, want 10/true", granted, ok)
	}

	// No further time has passed: budget (1ms * 10 = 10) minus spent (10) is zero.
	granted, ok, over := r.acquire(5)
	if ok {
		t.Fatalf("expected denial with no elapsed time, got granted=%d", granted)
	}
	if over != 5 {
		t.Fatalf("overBudget=%d, want 5", over)
	}

	clock = clock.Add(2 * time.Millisecond) // budget now 30, spent 10, available 20
	granted, ok, _ = r.acquire(100)
	if !ok || granted != 20 {
		t.Fatalf("partial grant: granted=%d ok=%v, want 20/true", granted, ok)
	}
}

func TestRateLimiterResetEpoch(t *testing.T) {
	clock := time.Unix(0, 0)
	now := func() time.Time { return clock }
	r := newRateLimiter(10, now)
	clock = clock.Add(3 * time.Millisecond)
	r.acquire(10) // budget 30, spent 10
	r.resetEpoch()
	clock = clock.Add(time.Millisecond) // fresh epoch: budget 10, spent 0
	granted, ok, _ := r.acquire(100)
	if !ok || granted != 10 {
		t.Fatalf("after reset: granted=%d ok=%v, want 10/true (fresh 1ms budget)", granted, ok)
	}
}

func TestRateLimiterWakeupDelayRoundsUp(t *testing.T) {
	r := newRateLimiter(10, nil)
	if d := r.wakeupDelay(25); d != 3*time.Millisecond {
		t.Fatalf("wakeupDelay(25)=%v, want 3ms (25/10 rounded up)", d)
	}
	if d := r.wakeupDelay(20); d != 2*time.Millisecond {
		t.Fatalf("wakeupDelay(20)=%v, want 2ms", d)
	}
}
