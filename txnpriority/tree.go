// Package txnpriority is a reference PriorityQueue implementation for
// package txn, adapted from celeris's internal/stream/priority.go
// PriorityTree: an HTTP/2-style dependency tree keyed by stream id, with
// weight-based scheduling scores. txn's core never implements this itself
// (spec.md §1 non-goal) — a session wires one of these, or its own, in via
// Transaction.Attach.
package txnpriority

import (
	"sort"
	"sync"

	"github.com/hexinfra/httptxn/txn"
)

// Tree is a dependency-weighted priority tree over a session's active
// transactions. It satisfies txn.PriorityQueue.
type Tree struct {
	mu           sync.Mutex
	entries      map[txn.StreamID]*entry
	dependents   map[txn.StreamID][]txn.StreamID
}

type entry struct {
	id       txn.StreamID
	priority txn.Priority
	pending  bool
}

// NewTree constructs an empty priority tree.
func NewTree() *Tree {
	return &Tree{
		entries:    make(map[txn.StreamID]*entry),
		dependents: make(map[txn.StreamID][]txn.StreamID),
	}
}

// Add registers id with priority p and returns the handle txn.Transaction
// will use for every subsequent call.
func (t *Tree) Add(id txn.StreamID, p txn.Priority) txn.PriorityHandle {
	t.mu.Lock()
	defer t.mu.Unlock()

	e := &entry{id: id, priority: p}
	t.entries[id] = e
	if p.Dependency != 0 {
		if p.Exclusive {
			t.reparentChildrenLocked(p.Dependency, id)
		}
		t.dependents[p.Dependency] = append(t.dependents[p.Dependency], id)
	}
	return e
}

// reparentChildrenLocked moves every existing dependent of parent under
// newParent, mirroring celeris's SetPriority exclusive-reparent branch.
func (t *Tree) reparentChildrenLocked(parent, newParent txn.StreamID) {
	children, ok := t.dependents[parent]
	if !ok {
		return
	}
	for _, childID := range children {
		if child, exists := t.entries[childID]; exists {
			child.priority.Dependency = newParent
		}
	}
	t.dependents[newParent] = append(t.dependents[newParent], children...)
	t.dependents[parent] = nil
}

// Remove deregisters h.
func (t *Tree) Remove(h txn.PriorityHandle) {
	e, ok := h.(*entry)
	if !ok {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.removeLocked(e)
}

func (t *Tree) removeLocked(e *entry) {
	parent := e.priority.Dependency
	if children, ok := t.dependents[parent]; ok {
		t.dependents[parent] = removeID(children, e.id)
	}
	if children, ok := t.dependents[e.id]; ok {
		for _, childID := range children {
			if child, exists := t.entries[childID]; exists {
				child.priority.Dependency = parent
				if parent != 0 {
					t.dependents[parent] = append(t.dependents[parent], childID)
				}
			}
		}
		delete(t.dependents, e.id)
	}
	delete(t.entries, e.id)
}

func removeID(ids []txn.StreamID, target txn.StreamID) []txn.StreamID {
	for i, id := range ids {
		if id == target {
			return append(ids[:i], ids[i+1:]...)
		}
	}
	return ids
}

// SetPendingEgress marks h as having flushable egress.
func (t *Tree) SetPendingEgress(h txn.PriorityHandle) {
	if e, ok := h.(*entry); ok {
		t.mu.Lock()
		e.pending = true
		t.mu.Unlock()
	}
}

// ClearPendingEgress marks h idle.
func (t *Tree) ClearPendingEgress(h txn.PriorityHandle) {
	if e, ok := h.(*entry); ok {
		t.mu.Lock()
		e.pending = false
		t.mu.Unlock()
	}
}

// IsEnqueued reports whether h currently has pending egress.
func (t *Tree) IsEnqueued(h txn.PriorityHandle) bool {
	e, ok := h.(*entry)
	if !ok {
		return false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return e.pending
}

// Reprioritize updates h's dependency/weight, reparenting exclusive
// children the same way Add does.
func (t *Tree) Reprioritize(h txn.PriorityHandle, p txn.Priority) {
	e, ok := h.(*entry)
	if !ok {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	oldParent := e.priority.Dependency
	if children, ok := t.dependents[oldParent]; ok {
		t.dependents[oldParent] = removeID(children, e.id)
	}
	e.priority = p
	if p.Dependency != 0 {
		if p.Exclusive {
			t.reparentChildrenLocked(p.Dependency, e.id)
		}
		t.dependents[p.Dependency] = append(t.dependents[p.Dependency], e.id)
	}
}

// score computes a scheduling weight for id, adapted from celeris's
// CalculateStreamPriority: weight plus a depth-decayed bonus for shallow
// dependency chains, walking at most 10 hops to bound cycles from a
// malformed dependency graph.
func (t *Tree) score(id txn.StreamID) int {
	e, ok := t.entries[id]
	if !ok {
		return 0
	}
	score := int(e.priority.Weight)
	depth := 0
	current := id
	visited := map[txn.StreamID]bool{}
	for depth < 10 {
		if visited[current] {
			break
		}
		visited[current] = true
		cur, ok := t.entries[current]
		if !ok || cur.priority.Dependency == 0 {
			break
		}
		current = cur.priority.Dependency
		depth++
	}
	return score + (10-depth)*10
}

// Ready returns the ids with pending egress, ordered highest-score first.
// A session drives its write loop by calling Ready, then Transaction's
// OnWriteReady for each id in order, round-robining by weight ratio.
func (t *Tree) Ready() []txn.StreamID {
	t.mu.Lock()
	defer t.mu.Unlock()

	ids := make([]txn.StreamID, 0, len(t.entries))
	for id, e := range t.entries {
		if e.pending {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool {
		si, sj := t.score(ids[i]), t.score(ids[j])
		if si != sj {
			return si > sj
		}
		return ids[i] < ids[j]
	})
	return ids
}

// WeightRatio returns id's weight as a fraction of the sum of weights
// across every currently-pending entry, the value Transaction.OnWriteReady
// expects for its cumulative fairness accounting (§4.7).
func (t *Tree) WeightRatio(id txn.StreamID) float64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.entries[id]
	if !ok {
		return 0
	}
	total := 0
	for _, o := range t.entries {
		if o.pending {
			total += int(o.priority.Weight)
		}
	}
	if total == 0 {
		return 0
	}
	return float64(e.priority.Weight) / float64(total)
}
