package txn

// Handler is the application-logic collaborator (§6 "Exposed to Handler"
// lists the reverse direction; this is its mirror, what the Transaction
// calls on it). A Handler is attached with Transaction.SetHandler before
// any ingress event is dispatched to it.
type Handler interface {
	SetTransaction(t *Transaction)

	OnHeadersComplete(headers Headers)
	OnBody(data []byte)
	OnBodyWithOffset(offset uint64, data []byte)
	OnChunkHeader(length int64)
	OnChunkComplete()
	OnTrailers(trailers Headers)
	OnEOM()
	OnUpgrade(protocol string)
	OnError(err *ProtocolError)
	OnGoaway(code ErrorKind)

	OnEgressPaused()
	OnEgressResumed()

	OnPushedTransaction(pushed *Transaction)
	OnExTransaction(ex *Transaction)

	OnUnframedBodyStarted(offset uint64)
	OnBodyPeek(offset uint64, data []byte)
	OnBodySkipped(offset uint64)
	OnBodyRejected(offset uint64)

	// OnBodyDeliveryAcked/OnBodyDeliveryCanceled report the outcome of a
	// TrackEgressBodyDelivery request; exactly one of the two fires per
	// tracked offset, each consuming one pendingByteEvents credit.
	OnBodyDeliveryAcked(offset uint64)
	OnBodyDeliveryCanceled(offset uint64)

	DetachTransaction()
}

// NopHandler implements Handler with no-ops for every callback except the
// ones that must hold a back-reference. Embed it in tests/stubs that only
// care about a handful of callbacks.
type NopHandler struct {
	Txn *Transaction
}

func (h *NopHandler) SetTransaction(t *Transaction)              { h.Txn = t }
func (h *NopHandler) OnHeadersComplete(Headers)                  {}
func (h *NopHandler) OnBody([]byte)                              {}
func (h *NopHandler) OnBodyWithOffset(uint64, []byte)            {}
func (h *NopHandler) OnChunkHeader(int64)                        {}
func (h *NopHandler) OnChunkComplete()                           {}
func (h *NopHandler) OnTrailers(Headers)                         {}
func (h *NopHandler) OnEOM()                                     {}
func (h *NopHandler) OnUpgrade(string)                           {}
func (h *NopHandler) OnError(*ProtocolError)                     {}
func (h *NopHandler) OnGoaway(ErrorKind)                         {}
func (h *NopHandler) OnEgressPaused()                            {}
func (h *NopHandler) OnEgressResumed()                           {}
func (h *NopHandler) OnPushedTransaction(*Transaction)           {}
func (h *NopHandler) OnExTransaction(*Transaction)                {}
func (h *NopHandler) OnUnframedBodyStarted(uint64)               {}
func (h *NopHandler) OnBodyPeek(uint64, []byte)                  {}
func (h *NopHandler) OnBodySkipped(uint64)                       {}
func (h *NopHandler) OnBodyRejected(uint64)                      {}
func (h *NopHandler) OnBodyDeliveryAcked(uint64)                 {}
func (h *NopHandler) OnBodyDeliveryCanceled(uint64)              {}
func (h *NopHandler) DetachTransaction()                         {}
