// Package txntimer is a reference txn.Timer implementation backed by
// time.AfterFunc. The wheel timer itself is explicitly out of package
// txn's scope (spec.md §1 non-goal); this is the simplest adapter a
// session can wire in without reaching for a hashed timing wheel.
package txntimer

import (
	"sync"
	"time"

	"github.com/hexinfra/httptxn/txn"
)

// Wheel adapts time.AfterFunc to txn.Timer. The zero value is usable.
type Wheel struct{}

// Schedule arranges fn to run after d, matching txn.Timer's contract that
// d<=0 still returns a usable handle (time.AfterFunc already fires "soon"
// for non-positive durations).
func (Wheel) Schedule(d time.Duration, fn func()) txn.TimerHandle {
	t := time.AfterFunc(d, fn)
	return &afterFuncHandle{timer: t}
}

type afterFuncHandle struct {
	mu    sync.Mutex
	timer *time.Timer
}

func (h *afterFuncHandle) Cancel() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.timer != nil {
		h.timer.Stop()
	}
}
