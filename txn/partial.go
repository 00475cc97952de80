package txn

// Partial-reliability and body-peek operations (§4.6, supplemented from
// original_source/proxygen's HTTPTransaction::setEgressRateLimit /
// skipBodyTo / rejectBodyTo). These forward to Transport and are non-fatal
// (ErrUnsupported, not an abort) when the underlying codec can't do it —
// e.g. an HTTP/1.x transport has no unframed-body concept at all.

// PeekBody lets the handler inspect buffered-but-undelivered ingress body
// without consuming it; cb is called synchronously, zero or more times.
func (t *Transaction) PeekBody(cb func(data []byte)) error {
	if t.transport == nil {
		return ErrUnsupported
	}
	return t.transport.Peek(t, cb)
}

// ConsumeBody advances the ingress read cursor by n bytes that were
// previously only peeked, releasing the matching amount of receive-window
// credit once the transport acks it.
func (t *Transaction) ConsumeBody(n int) error {
	if t.transport == nil {
		return ErrUnsupported
	}
	return t.transport.Consume(t, n)
}

// SkipBodyTo is the sender-side partial-reliability call: it trims
// already-buffered egress body below offset and tells the transport to
// jump straight to it rather than flush the skipped bytes, returning the
// accepted offset. Requires egress_headers_delivered (§4.6) — skipping
// before any headers went out would skip the whole response.
func (t *Transaction) SkipBodyTo(offset uint64) (uint64, error) {
	if !t.flags.has(flagPartiallyReliable) {
		return 0, newEgressError(ErrUnsupportedOperation, "skip_body_to requires partially_reliable")
	}
	if !t.flags.has(flagEgressHeadersDelivered) {
		return 0, newEgressError(ErrProtocol, "skip_body_to before egress_headers_delivered")
	}
	if t.transport == nil {
		return 0, ErrUnsupported
	}
	discarded := t.deferredEgress.trimToOffset(int(offset) - int(t.egressBodyBytesCommitted))
	t.egressBodyBytesCommitted += uint64(discarded)
	if err := t.transport.SkipBodyTo(t, offset); err != nil {
		return 0, err
	}
	return offset, nil
}

// OnBodySkipped is Transport's ack that ingress was skipped up to offset.
func (t *Transaction) OnBodySkipped(offset uint64) {
	if offset > t.ingressBodyOffset {
		t.ingressBodyOffset = offset
	}
	if t.handler != nil {
		t.handler.OnBodySkipped(offset)
	}
}

// RejectBodyTo is the receiver-side partial-reliability call: the handler
// no longer wants ingress body before offset, so it advances
// ingress_body_offset and tells the transport to ask the peer to stop
// sending it (§4.6).
func (t *Transaction) RejectBodyTo(offset uint64) error {
	if !t.flags.has(flagPartiallyReliable) {
		return newIngressError(ErrUnsupportedOperation, "reject_body_to requires partially_reliable")
	}
	if t.transport == nil {
		return ErrUnsupported
	}
	if offset > t.ingressBodyOffset {
		t.ingressBodyOffset = offset
	}
	return t.transport.RejectBodyTo(t, offset)
}

// OnBodyRejected is Transport's ack that the peer stopped expecting egress
// body before offset.
func (t *Transaction) OnBodyRejected(offset uint64) {
	if t.handler != nil {
		t.handler.OnBodyRejected(offset)
	}
}

// TrackEgressBodyDelivery registers interest in a delivery confirmation for
// the byte at offset (byte-event tracking, §9 supplement). The transaction
// holds off detaching until every outstanding tracked offset is acked via
// DecPendingByteEvents.
func (t *Transaction) TrackEgressBodyDelivery(offset uint64) error {
	if t.transport == nil {
		return ErrUnsupported
	}
	if err := t.transport.TrackEgressBodyDelivery(t, offset); err != nil {
		return err
	}
	t.IncPendingByteEvents()
	return nil
}

// OnBodyDeliveryAcked is Transport's confirmation that the peer received
// (per whatever the codec calls "delivered" — TCP ack, QUIC STREAM ack,
// etc.) the byte at offset previously registered via
// TrackEgressBodyDelivery. Pairs with OnBodyDeliveryCanceled; the two
// together are the "producers and consumers" of pendingByteEvents that
// make the detach invariant (pending_byte_events == 0) meaningful.
func (t *Transaction) OnBodyDeliveryAcked(offset uint64) {
	if t.handler != nil {
		t.handler.OnBodyDeliveryAcked(offset)
	}
	t.DecPendingByteEvents() // also retries maybeDetach
}

// OnBodyDeliveryCanceled is Transport's report that a previously tracked
// offset will never be acked (e.g. the connection reset before delivery
// could be confirmed).
func (t *Transaction) OnBodyDeliveryCanceled(offset uint64) {
	if t.handler != nil {
		t.handler.OnBodyDeliveryCanceled(offset)
	}
	t.DecPendingByteEvents() // also retries maybeDetach
}

// OnUnframedBodyStarted notifies the handler that unframed (partially
// reliable) ingress body has begun at offset, ahead of the headers'
// content-length being fully known.
func (t *Transaction) OnUnframedBodyStarted(offset uint64) {
	if t.handler != nil {
		t.handler.OnUnframedBodyStarted(offset)
	}
}

func (t *Transaction) OnBodyPeek(offset uint64, data []byte) {
	if t.handler != nil {
		t.handler.OnBodyPeek(offset, data)
	}
}
