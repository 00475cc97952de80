package txn

import "time"

// Timer is the external wheel-timer collaborator (spec.md §1 non-goal: "the
// wheel timer" itself is out of scope). A Transaction schedules at most one
// idle timeout and, independently, rate-limiter wakeups through this
// interface; see package txntimer for a time.AfterFunc-based adapter.
type Timer interface {
	// Schedule arranges for fn to run after d and returns a Cancel handle.
	// A nil return from Schedule is never valid; implementations must
	// always return a usable handle even for d<=0 (fire "now").
	Schedule(d time.Duration, fn func()) TimerHandle
}

// TimerHandle cancels a previously scheduled callback. Cancel is a no-op if
// the callback already fired or was already canceled.
type TimerHandle interface {
	Cancel()
}
