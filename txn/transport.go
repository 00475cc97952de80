package txn

import "net"

// Transport is consumed by a Transaction to talk to the codec/session below
// it (§6 "Consumed from Transport"). All methods are non-blocking; a
// Transport must never call back into the Transaction synchronously from
// within one of these methods (re-entrancy is only safe via the event
// loop's next turn).
type Transport interface {
	PauseIngress(t *Transaction)
	ResumeIngress(t *Transaction)
	TransactionTimeout(t *Transaction)
	Detach(t *Transaction)

	SendHeaders(t *Transaction, headers Headers, eom bool) (bytesWritten int, err error)
	SendBody(t *Transaction, body []byte, eom bool, trackLastByte bool) (bytesWritten int, err error)
	SendChunkHeader(t *Transaction, length int64) (bytesWritten int, err error)
	SendChunkTerminator(t *Transaction) (bytesWritten int, err error)
	SendEOM(t *Transaction, trailers *Headers) (bytesWritten int, err error)
	SendAbort(t *Transaction, code ErrorKind) (bytesWritten int, err error)
	SendPriority(t *Transaction, p Priority) (bytesWritten int, err error)
	SendWindowUpdate(t *Transaction, delta int32) (bytesWritten int, err error)

	NotifyPendingEgress(t *Transaction)
	NotifyIngressBodyProcessed(t *Transaction, n int)
	NotifyEgressBodyBuffered(t *Transaction, n int)

	// Peek/Consume/SkipBodyTo/RejectBodyTo/TrackEgressBodyDelivery are
	// optional: a Transport that doesn't implement partial reliability or
	// body peeking returns ErrUnsupported, which is non-fatal to the
	// transaction (§7).
	Peek(t *Transaction, cb func(data []byte)) error
	Consume(t *Transaction, n int) error
	SkipBodyTo(t *Transaction, offset uint64) error
	RejectBodyTo(t *Transaction, offset uint64) error
	TrackEgressBodyDelivery(t *Transaction, offset uint64) error

	GetLocalAddress() net.Addr
	GetPeerAddress() net.Addr
	IsDraining() bool
	IsReplaySafe() bool

	// SupportsPriority reports whether the codec can carry priority
	// frames at all; false lets Transaction.PriorityFallback() short
	// circuit update_and_send_priority.
	SupportsPriority() bool
}
