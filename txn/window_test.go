package txn

import "testing"

func TestWindowReserveAndFree(t *testing.T) {
	w := NewWindow(100)
	if w.Available() != 100 {
		t.Fatalf("available=%d, want 100", w.Available())
	}
	if !w.Reserve(60) {
		t.Fatal("expected reserve of 60 to succeed")
	}
	if w.Available() != 40 || w.Outstanding() != 60 {
		t.Fatalf("available=%d outstanding=%d, want 40/60", w.Available(), w.Outstanding())
	}
	if w.Reserve(41) {
		t.Fatal("expected reserve of 41 to fail (only 40 available)")
	}
	w.Free(30)
	if w.Available() != 70 || w.Outstanding() != 30 {
		t.Fatalf("available=%d outstanding=%d, want 70/30", w.Available(), w.Outstanding())
	}
}

func TestWindowFreeCapsAtCapacity(t *testing.T) {
	w := NewWindow(50)
	w.Reserve(10)
	w.Free(100) // more than outstanding
	if w.Available() != 50 {
		t.Fatalf("available=%d, want capped at capacity 50", w.Available())
	}
	if w.Outstanding() != 0 {
		t.Fatalf("outstanding=%d, want 0", w.Outstanding())
	}
}

func TestWindowSetCapacityGrowsAvailable(t *testing.T) {
	w := NewWindow(100)
	w.Reserve(100)
	if err := w.SetCapacity(200); err != nil {
		t.Fatalf("SetCapacity: %v", err)
	}
	if w.Available() != 100 {
		t.Fatalf("available=%d, want 100 (delta of +100 applied)", w.Available())
	}
}

func TestWindowSetCapacityOverflowRejected(t *testing.T) {
	// Construct a Window already sitting at the 31-bit ceiling (as a peer
	// misbehaving across a shrink-then-grow sequence might leave it) and
	// verify a further increase is rejected rather than wrapping.
	w := Window{capacity: 10, available: maxWindow}
	if err := w.SetCapacity(11); err == nil {
		t.Fatal("expected overflow error when available would exceed maxWindow")
	}
	if w.capacity != 10 {
		t.Fatalf("capacity mutated on rejected SetCapacity: %d", w.capacity)
	}
}

func TestWindowReserveNegativePanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on negative reserve")
		}
	}()
	w := NewWindow(10)
	w.Reserve(-1)
}
