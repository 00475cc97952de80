package txn

// Priority carries HTTP/2-style dependency scheduling hints: a dependency
// stream, a weight, and an exclusivity flag. HTTP/1.x and transactions on
// codecs without prioritization just carry the zero value.
type Priority struct {
	Dependency StreamID
	Weight     uint8 // RFC 9113 §5.3.2 weight (wire value + 1); a uint8 holds at most 255, not the protocol's 256
	Exclusive  bool
}

// DefaultPriority is RFC 9113's default: no dependency, weight 16, not
// exclusive.
var DefaultPriority = Priority{Dependency: 0, Weight: 16, Exclusive: false}

func (p Priority) equal(o Priority) bool {
	return p.Dependency == o.Dependency && p.Weight == o.Weight && p.Exclusive == o.Exclusive
}

// PriorityHandle is the opaque reference a Transaction holds into an
// external priority queue (§4.7). The transaction never inspects it; it
// only passes it back to PriorityQueue methods.
type PriorityHandle interface{}

// PriorityQueue is the external scheduling collaborator. The transaction
// core never implements the priority tree itself (spec.md §1 non-goal) —
// it only registers/deregisters and marks pending/idle through this
// interface. See package txnpriority for a reference implementation.
type PriorityQueue interface {
	// Add registers a new runnable entry for id with the given priority
	// and returns a handle the transaction must pass to all subsequent
	// calls concerning this entry.
	Add(id StreamID, p Priority) PriorityHandle
	// Remove deregisters the entry; called once, at detach.
	Remove(h PriorityHandle)
	// SetPendingEgress marks the entry as having egress work to flush.
	SetPendingEgress(h PriorityHandle)
	// ClearPendingEgress marks the entry idle (no egress work queued).
	ClearPendingEgress(h PriorityHandle)
	// IsEnqueued reports whether the entry is currently marked pending.
	IsEnqueued(h PriorityHandle) bool
	// Reprioritize updates h's place in the tree for a new Priority.
	Reprioritize(h PriorityHandle, p Priority)
}
