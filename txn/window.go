package txn

import "fmt"

// Window is a credit-based flow-control counter for one direction of one
// transaction. capacity/available are kept as int64 ("internally promoted
// to wider for delta math", spec.md §4.2) even though HTTP/2 & HTTP/3
// windows are 31-bit signed on the wire, so set_capacity's delta arithmetic
// never overflows the arithmetic itself — only the resulting window, which
// is checked explicitly.
//
// Grounded on celeris's internal/stream/stream.go Manager, which keeps the
// same "window can go transiently negative, overflow is a hard protocol
// error" shape (see its handleWindowUpdate 0x7fffffff checks).
type Window struct {
	capacity    int64
	available   int64
	outstanding int64 // bytes reserved but not yet freed (i.e. in flight)
}

const maxWindow = (1 << 31) - 1 // RFC 9113 §6.9: window size is 31-bit

// NewWindow constructs a Window with the given initial capacity.
func NewWindow(capacity int32) Window {
	return Window{capacity: int64(capacity), available: int64(capacity)}
}

// Capacity returns the current capacity.
func (w *Window) Capacity() int64 { return w.capacity }

// Available returns the currently available (reservable) credit. It may be
// negative, transiently, if the peer shrank capacity below outstanding.
func (w *Window) Available() int64 { return w.available }

// Outstanding returns bytes reserved but not yet freed.
func (w *Window) Outstanding() int64 { return w.outstanding }

// Reserve decrements available by n and returns true only if n <= available.
// A denied reservation leaves the window untouched.
func (w *Window) Reserve(n int64) bool {
	if n < 0 {
		panic("txn: negative reservation")
	}
	if n > w.available {
		return false
	}
	w.available -= n
	w.outstanding += n
	return true
}

// Free returns n bytes of credit, capped so available never exceeds
// capacity (a peer that double-acks, or a WINDOW_UPDATE that overlaps a
// previous one, must not let the window grow unbounded).
func (w *Window) Free(n int64) {
	if n < 0 {
		panic("txn: negative free")
	}
	if n > w.outstanding {
		n = w.outstanding
	}
	w.outstanding -= n
	w.available += n
	if w.available > w.capacity {
		w.available = w.capacity
	}
}

// SetCapacity adjusts capacity to c, applying delta = c - prevCapacity to
// available. Returns an error if the resulting available would overflow the
// 31-bit wire representation.
func (w *Window) SetCapacity(c int32) error {
	delta := int64(c) - w.capacity
	newAvailable := w.available + delta
	if newAvailable > maxWindow {
		return newBothError(ErrFlowControl, fmt.Sprintf("window overflow: %d + %d > %d", w.available, delta, maxWindow))
	}
	w.capacity = int64(c)
	w.available = newAvailable
	return nil
}
