package txn

import "time"

// rateLimiter paces egress flushes at bytesPerMillisecond (0 disables it).
// Modeled per spec.md §4.5 as "scheduled acquisition of R with guaranteed
// release on all exit paths": a denied acquisition registers a timer
// callback and retries on fire. The interface shape (Allow-style check,
// structured result) takes its cue from Sentinel-Gate's
// internal/domain/ratelimit package, but the epoch/budget arithmetic itself
// is spec.md's own (not GCRA) — see SPEC_FULL.md §4.5 for why
// golang.org/x/time/rate doesn't fit: it has no "bytes already spent this
// epoch, resettable on resume" concept.
type rateLimiter struct {
	bytesPerMillisecond int64 // 0 == disabled
	epoch               time.Time
	spentInEpoch        int64
	now                 func() time.Time
}

func newRateLimiter(bytesPerMillisecond int64, now func() time.Time) *rateLimiter {
	if now == nil {
		now = time.Now
	}
	return &rateLimiter{bytesPerMillisecond: bytesPerMillisecond, epoch: now(), now: now}
}

func (r *rateLimiter) enabled() bool { return r.bytesPerMillisecond > 0 }

// resetEpoch restarts budget accounting; called on resume per §4.5 ("Epoch
// resets on resume").
func (r *rateLimiter) resetEpoch() {
	r.epoch = r.now()
	r.spentInEpoch = 0
}

// acquire attempts to spend want bytes of budget. On success it returns
// (want, true). On failure it returns (0, false) and overBudget, the number
// of bytes the caller was short, so the caller can schedule a wakeup after
// overBudget/rate milliseconds.
func (r *rateLimiter) acquire(want int64) (granted int64, ok bool, overBudget int64) {
	if !r.enabled() {
		return want, true, 0
	}
	elapsed := r.now().Sub(r.epoch).Milliseconds()
	budget := elapsed * r.bytesPerMillisecond
	available := budget - r.spentInEpoch
	if available <= 0 {
		return 0, false, want
	}
	if want <= available {
		r.spentInEpoch += want
		return want, true, 0
	}
	// Partial grants are allowed; the caller may send less than it asked
	// for and retry for the remainder.
	r.spentInEpoch += available
	return available, true, 0
}

// wakeupDelay computes how long to wait before overBudget bytes of budget
// will be available.
func (r *rateLimiter) wakeupDelay(overBudget int64) time.Duration {
	if !r.enabled() || r.bytesPerMillisecond <= 0 {
		return 0
	}
	ms := overBudget / r.bytesPerMillisecond
	if overBudget%r.bytesPerMillisecond != 0 {
		ms++
	}
	if ms <= 0 {
		ms = 1
	}
	return time.Duration(ms) * time.Millisecond
}
