package txn

// Push and extended (ex) sub-transactions (§4.6 new_pushed_transaction /
// new_ex_transaction). Both are ordinary Transactions associated with a
// parent via Options.AssocStreamID / Options.ExAttributes; this file only
// adds the parent-child bookkeeping the parent needs for cascade-abort and
// handler notification.

// NewPushedTransaction creates a server-push sub-transaction of t (t must be
// Downstream). The child is registered so that aborting t cascades to it
// (§4.6 Abort semantics), and t's handler, if one is attached, is notified
// via OnPushedTransaction before this returns.
func (t *Transaction) NewPushedTransaction(id StreamID, opts Options) (*Transaction, error) {
	if t.direction != Downstream {
		return nil, newBothError(ErrProtocol, "server push may only originate from a downstream transaction")
	}
	if t.flags.has(flagAborted) {
		return nil, newBothError(ErrStreamClosed, "parent transaction already aborted")
	}
	if t.egressState == EgressEOMQueued || t.egressState == EgressSendingDone {
		return nil, newEgressError(ErrProtocol, "server push after egress EOM")
	}
	if t.flags.has(flagPartiallyReliable) || opts.PartiallyReliable {
		return nil, newBothError(ErrProtocol, "server push is mutually exclusive with partial reliability")
	}
	opts.HasAssocStreamID = true
	opts.AssocStreamID = t.id
	child, err := New(id, Downstream, opts)
	if err != nil {
		return nil, err
	}
	child.ingressState = IngressReceivingDone
	if t.pushedTransactions == nil {
		t.pushedTransactions = make(map[StreamID]*Transaction)
	}
	t.pushedTransactions[id] = child
	child.parent = t
	if t.handler != nil {
		t.handler.OnPushedTransaction(child)
	}
	return child, nil
}

// NewExTransaction creates an extended (control-stream-bound) transaction
// tied to t's control stream. remotelyOpened and unidirectional mirror the
// peer-advertised attributes of the new stream (§4.6).
func (t *Transaction) NewExTransaction(id StreamID, unidirectional, remotelyOpened bool, opts Options) (*Transaction, error) {
	if t.flags.has(flagAborted) {
		return nil, newBothError(ErrStreamClosed, "control transaction already aborted")
	}
	opts.ExAttributes = &ExAttributes{
		ControlStreamID: t.id,
		Unidirectional:  unidirectional,
		RemotelyOpened:  remotelyOpened,
	}
	direction := Downstream
	if remotelyOpened {
		direction = Upstream
	}
	child, err := New(id, direction, opts)
	if err != nil {
		return nil, err
	}
	if t.exTransactions == nil {
		t.exTransactions = make(map[StreamID]*Transaction)
	}
	t.exTransactions[id] = child
	child.parent = t
	if t.handler != nil {
		t.handler.OnExTransaction(child)
	}
	return child, nil
}

// detachChild removes a finished push/ex transaction from the parent's
// bookkeeping maps; called by the child's own maybeDetach once it knows
// which parent (if any) it was registered under.
func (t *Transaction) detachChild(id StreamID) {
	delete(t.pushedTransactions, id)
	delete(t.exTransactions, id)
}
