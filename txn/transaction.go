package txn

import (
	"context"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/hexinfra/httptxn/internal/telemetry"
)

// Transaction is one request/response exchange multiplexed on a session
// (§3). It is created by a session (via New), driven by a Transport on one
// side and a Handler on the other, and must run entirely on the event-loop
// goroutine that owns it (§5) — no method here takes a lock.
type Transaction struct {
	id        StreamID
	direction Direction
	opts      Options

	ingressState IngressState
	egressState  EgressState

	recvWindow Window // credit we've granted the peer to send us; see creditIngressBytes
	sendWindow Window

	deferredIngress *deferredIngress
	deferredEgress  deferredEgress

	pendingByteEvents int

	flags txnFlags

	priority      Priority
	hasAssoc      bool
	assocStreamID StreamID
	exAttrs       *ExAttributes

	expectedIngressLength  int64 // -1 == unknown
	remainingIngressLength int64
	expectedResponseLength int64 // -1 == unknown
	actualResponseLength   int64

	lastResponseStatus int

	pushedTransactions map[StreamID]*Transaction
	exTransactions     map[StreamID]*Transaction
	parent             *Transaction

	ingressBodyOffset        uint64
	egressBodyBytesCommitted uint64

	handler   Handler
	transport Transport
	timer     Timer
	pq        PriorityQueue
	pqHandle  PriorityHandle

	idleTimer      TimerHandle
	rateLimiter    *rateLimiter
	rateLimitTimer TimerHandle

	cumulativeRatio float64
	egressCalls     int64

	g guard

	logger  *zap.Logger
	metrics *telemetry.Metrics

	traceCtx context.Context
	span     trace.Span

	correlationID uuid.UUID
}

// New creates a Transaction in its initial state, created by the session
// on receipt of request headers (downstream) or explicit open (upstream),
// per §3's Lifecycle. The transaction is inert until Attach and SetHandler
// are both called.
func New(id StreamID, direction Direction, opts Options) (*Transaction, error) {
	if err := opts.validateSelf(); err != nil {
		return nil, err
	}
	t := &Transaction{
		id:                     id,
		direction:              direction,
		opts:                   opts,
		ingressState:           IngressStart,
		egressState:            EgressStart,
		priority:               opts.Priority,
		expectedIngressLength:  -1,
		expectedResponseLength: -1,
		correlationID:          uuid.New(),
	}
	if opts.UseFlowControl {
		t.recvWindow = NewWindow(opts.RecvInitialWindow)
		t.sendWindow = NewWindow(opts.SendInitialWindow)
	}
	if opts.HasAssocStreamID {
		t.hasAssoc = true
		t.assocStreamID = opts.AssocStreamID
	}
	t.exAttrs = opts.ExAttributes
	if t.exAttrs != nil {
		// A unidirectional ex-transaction that was remotely opened only
		// ever carries one direction of traffic; the other is pre-marked
		// terminal immediately (§4.6 new_ex_transaction).
		if t.exAttrs.Unidirectional {
			if t.exAttrs.RemotelyOpened {
				t.egressState = EgressSendingDone
			} else {
				t.ingressState = IngressReceivingDone
			}
		}
	}
	if opts.PartiallyReliable {
		t.flags.set(flagPartiallyReliable)
	}
	t.rateLimiter = newRateLimiter(opts.EgressRateLimitBps, nil)
	t.logger = telemetry.NopLogger()
	return t, nil
}

// Attach wires the transaction to its Transport, Timer, and PriorityQueue
// collaborators and registers it in the priority queue. Must be called
// once, before any ingress/egress method.
func (t *Transaction) Attach(transport Transport, tm Timer, pq PriorityQueue, logger *zap.Logger, metrics *telemetry.Metrics) {
	t.transport = transport
	t.timer = tm
	t.pq = pq
	if logger != nil {
		t.logger = logger
	}
	t.metrics = metrics
	if pq != nil {
		t.pqHandle = pq.Add(t.id, t.priority)
	}
	if transport != nil {
		t.flags.clear(flagPriorityFallback)
		if !transport.SupportsPriority() {
			t.flags.set(flagPriorityFallback)
		}
	}
	t.traceCtx, t.span = telemetry.StartTransactionSpan(context.Background(), t.direction.String(), uint32(t.id))
	t.metrics.TransactionOpened(t.direction.String())
	t.scheduleIdleTimer()
}

// SetHandler attaches the application handler. Calling this replays no
// buffered state; ordinary use attaches the handler before any ingress
// event is processed.
func (t *Transaction) SetHandler(h Handler) {
	t.handler = h
	h.SetTransaction(t)
}

func (t *Transaction) ID() StreamID          { return t.id }
func (t *Transaction) Direction() Direction  { return t.direction }
func (t *Transaction) IsUpstream() bool      { return t.direction == Upstream }
func (t *Transaction) IsDownstream() bool    { return t.direction == Downstream }
func (t *Transaction) IngressState() IngressState { return t.ingressState }
func (t *Transaction) EgressState() EgressState   { return t.egressState }
func (t *Transaction) PriorityFallback() bool     { return t.flags.has(flagPriorityFallback) }
func (t *Transaction) ExpectingInterimResponse() bool {
	return t.flags.has(flagExpectingInterim)
}

// ---------------------------------------------------------------------
// Ingress path (§4.6)
// ---------------------------------------------------------------------

// mustQueue decides, per spec.md §9's "single conditional" idiom, whether
// an ingress event is enqueued or dispatched immediately: true whenever the
// handler has paused reception, or something is already queued (ordering
// must be preserved — a later event can't jump ahead of an earlier one
// still waiting its turn).
func (t *Transaction) mustQueue() bool {
	if t.flags.has(flagIngressPaused) {
		return true
	}
	return t.deferredIngress != nil && !t.deferredIngress.empty()
}

func (t *Transaction) ensureDeferredIngress() *deferredIngress {
	if t.deferredIngress == nil {
		t.deferredIngress = newDeferredIngress(t.opts.MaxDeferredIngress)
	}
	return t.deferredIngress
}

// enqueueOrDispatch is the shared tail of every on_ingress_* entry point.
func (t *Transaction) enqueueOrDispatch(ev HTTPEvent) {
	if t.mustQueue() {
		q := t.ensureDeferredIngress()
		if !q.tryPush(ev) {
			if t.opts.UseFlowControl {
				// Stall the peer rather than grow unboundedly.
				if t.transport != nil {
					_, _ = t.transport.SendWindowUpdate(t, 0)
				}
				return
			}
			t.failIngress(ErrResource, "deferred ingress queue exceeded max_deferred_ingress")
			return
		}
		if t.metrics != nil {
			t.metrics.DeferredIngressBytes(q.size)
		}
		return
	}
	t.dispatchIngress(ev)
}

// guarded acquires the destruction guard and returns a release func that,
// on the outermost exit (guard back to idle), retries maybeDetach — a
// detach request raised while this call's own frame was still on the
// guard (e.g. dispatchIngress's onEOM handling) would otherwise find
// g.idle() false and be silently dropped.
func (t *Transaction) guarded() (release func()) {
	inner := t.g.acquire()
	return func() {
		inner()
		if t.g.idle() {
			t.maybeDetach()
		}
	}
}

// dispatchIngress delivers one event straight to the handler and advances
// the ingress SM.
func (t *Transaction) dispatchIngress(ev HTTPEvent) {
	release := t.guarded()
	defer release()

	next, ok := ingressStep(t.ingressState, ev.Kind)
	if !ok {
		t.failIngress(ErrProtocol, "invalid ingress transition: "+t.ingressState.String())
		return
	}
	t.ingressState = next
	t.refreshIdleTimer()

	switch ev.Kind {
	case EvOnHeaders:
		if status, ok := ev.Headers.Status(); ok {
			t.lastResponseStatus = status
			t.flags.clear(flagExpectingInterim)
			if status >= 100 && status < 200 {
				t.flags.set(flagExpectingInterim)
			}
		}
		if t.handler != nil {
			t.handler.OnHeadersComplete(ev.Headers)
		}
	case EvOnBody:
		n := len(ev.Body)
		if t.opts.UseFlowControl && n > 0 {
			if !t.recvWindow.Reserve(int64(n)) {
				t.failIngress(ErrFlowControl, "ingress body exceeds recv_window")
				return
			}
		}
		t.ingressBodyOffset += uint64(n)
		if t.remainingIngressLength > 0 {
			t.remainingIngressLength -= int64(n)
		}
		if t.transport != nil {
			t.transport.NotifyIngressBodyProcessed(t, n)
		}
		t.creditIngressBytes(n)
		if t.handler != nil {
			if t.flags.has(flagPartiallyReliable) {
				t.handler.OnBodyWithOffset(ev.BodyOffset, ev.Body)
			} else {
				t.handler.OnBody(ev.Body)
			}
		}
	case EvOnChunkHeader:
		if t.handler != nil {
			t.handler.OnChunkHeader(ev.ChunkLen)
		}
	case EvOnChunkComplete:
		if t.handler != nil {
			t.handler.OnChunkComplete()
		}
	case EvOnTrailers:
		if t.handler != nil {
			t.handler.OnTrailers(ev.Trailers)
		}
	case EvOnUpgrade:
		if t.handler != nil {
			t.handler.OnUpgrade(ev.Upgrade)
		}
	case EvOnEOM:
		// Delivered to the handler, then immediately internally flushed
		// to ReceivingDone; see §4.6 "After an onEOM reaches the handler
		// the SM transitions to ReceivingDone via eomFlushed".
		if t.handler != nil {
			t.handler.OnEOM()
		}
		t.cancelIdleTimer()
		next, ok := ingressStep(t.ingressState, evIngressEOMFlushed)
		if ok {
			t.ingressState = next
		}
		t.maybeDetach()
	}

	// A drain may have queued further events behind this one (the handler
	// paused again mid-drain); keep draining until empty or paused.
	t.drainDeferredIngress()
}

// drainDeferredIngress drains queued events in FIFO order on resume_ingress,
// holding the destruction guard across callbacks because the handler may
// itself pause or abort mid-drain (§4.3, §9).
func (t *Transaction) drainDeferredIngress() {
	if t.deferredIngress == nil {
		return
	}
	for !t.flags.has(flagIngressPaused) && !t.deferredIngress.empty() {
		ev, ok := t.deferredIngress.popFront()
		if !ok {
			break
		}
		t.dispatchIngress(ev)
		if t.g.deleting {
			return
		}
	}
}

func (t *Transaction) failIngress(kind ErrorKind, detail string) {
	t.abortWithError(newIngressError(kind, detail))
}

// OnHeaders is the ingress entry point for received request/response
// headers. Per spec.md §9's documented departure from the SM table:
// upstream transactions may see onHeaders repeatedly while the previous
// status was a 1xx interim response; the SM table itself only has one
// Start->HeadersReceived transition, so that case is special-cased here
// rather than by widening the table.
func (t *Transaction) OnHeaders(h Headers) {
	if t.direction == Upstream && t.ingressState == IngressHeadersReceived && t.flags.has(flagExpectingInterim) {
		// Interim 1xx followed by another headers event: stay in
		// HeadersReceived, just redeliver to the handler.
		release := t.g.acquire()
		if status, ok := h.Status(); ok {
			t.lastResponseStatus = status
			t.flags.clear(flagExpectingInterim)
			if status >= 100 && status < 200 {
				t.flags.set(flagExpectingInterim)
			}
		}
		if t.handler != nil {
			t.handler.OnHeadersComplete(h)
		}
		release()
		return
	}
	t.enqueueOrDispatch(HTTPEvent{Kind: EvOnHeaders, Headers: h, size: headersSizeEstimate(h)})
}

func (t *Transaction) OnBody(data []byte) {
	t.enqueueOrDispatch(HTTPEvent{Kind: EvOnBody, Body: data})
}

func (t *Transaction) OnBodyAtOffset(offset uint64, data []byte) {
	t.enqueueOrDispatch(HTTPEvent{Kind: EvOnBody, Body: data, BodyOffset: offset})
}

func (t *Transaction) OnChunkHeader(length int64) {
	t.enqueueOrDispatch(HTTPEvent{Kind: EvOnChunkHeader, ChunkLen: length})
}

func (t *Transaction) OnChunkComplete() {
	t.enqueueOrDispatch(HTTPEvent{Kind: EvOnChunkComplete})
}

func (t *Transaction) OnTrailers(h Headers) {
	t.enqueueOrDispatch(HTTPEvent{Kind: EvOnTrailers, Trailers: h, size: headersSizeEstimate(h)})
}

func (t *Transaction) OnUpgrade(protocol string) {
	t.enqueueOrDispatch(HTTPEvent{Kind: EvOnUpgrade, Upgrade: protocol})
}

func (t *Transaction) OnEOM() {
	t.enqueueOrDispatch(HTTPEvent{Kind: EvOnEOM})
}

func (t *Transaction) OnIngressWindowUpdate(amount int32) {
	if !t.opts.UseFlowControl {
		return
	}
	t.sendWindow.Free(int64(amount))
	if t.sendWindow.Available() > 0 {
		t.flags.clear(flagFlowControlPaused)
	}
	t.tryFlush()
}

func (t *Transaction) OnIngressSetSendWindow(newSize int32) {
	if !t.opts.UseFlowControl {
		return
	}
	if err := t.sendWindow.SetCapacity(newSize); err != nil {
		t.abortWithError(err.(*ProtocolError))
		return
	}
	if t.sendWindow.Available() > 0 {
		t.flags.clear(flagFlowControlPaused)
	}
	t.tryFlush()
}

// creditIngressBytes returns n bytes of recv_window credit to the peer as
// soon as an ingress body chunk is dispatched (right after it is reported to
// the transport via NotifyIngressBodyProcessed), keeping `recv_window.outstanding + acknowledged ==
// bytes_received_since_open` lossless (§4.1). A Transport that doesn't
// implement flow control at all (use_flow_control=false) never reserves
// against recv_window in the first place, so this is a no-op for it.
func (t *Transaction) creditIngressBytes(n int) {
	if !t.opts.UseFlowControl || n <= 0 {
		return
	}
	t.recvWindow.Free(int64(n))
	if t.transport != nil {
		_, _ = t.transport.SendWindowUpdate(t, int32(n))
	}
}

func headersSizeEstimate(h Headers) int {
	n := 0
	for _, p := range h.Pairs {
		n += len(p[0]) + len(p[1]) + 4
	}
	return n
}

// ---------------------------------------------------------------------
// Egress path (§4.6)
// ---------------------------------------------------------------------

func (t *Transaction) failEgress(kind ErrorKind, detail string) {
	t.abortWithError(newEgressError(kind, detail))
}

// SendHeaders hands headers straight to Transport: headers are never
// flow-controlled. Upstream transactions may call this again while the
// previous last_response_status was a 1xx (interim) per the documented SM
// departure; the SM step itself only ever fires once from Start.
func (t *Transaction) SendHeaders(h Headers) error {
	if t.direction == Upstream && t.egressState == EgressHeadersSent && t.flags.has(flagExpectingInterim) {
		if t.transport != nil {
			if _, err := t.transport.SendHeaders(t, h, false); err != nil {
				t.failEgress(ErrTransport, err.Error())
				return err
			}
		}
		t.recordSentStatus(h)
		return nil
	}
	next, ok := egressStep(t.egressState, EvSendHeaders)
	if !ok {
		t.failEgress(ErrProtocol, "invalid egress transition: "+t.egressState.String())
		return newEgressError(ErrProtocol, "invalid egress transition")
	}
	if t.transport != nil {
		if _, err := t.transport.SendHeaders(t, h, false); err != nil {
			t.failEgress(ErrTransport, err.Error())
			return err
		}
	}
	t.egressState = next
	t.flags.set(flagEgressHeadersDelivered)
	t.recordSentStatus(h)
	t.refreshIdleTimer()
	return nil
}

func (t *Transaction) recordSentStatus(h Headers) {
	if t.direction != Downstream {
		return
	}
	if status, ok := h.Status(); ok {
		t.lastResponseStatus = status
		t.flags.clear(flagExpectingInterim)
		if status >= 100 && status < 200 {
			t.flags.set(flagExpectingInterim)
		}
	}
}

// SendHeadersWithEOM is the zero-body-response shortcut: headers plus an
// immediate EOM, so the flush path still owns the single write instead of
// two separate handler calls racing the scheduler.
func (t *Transaction) SendHeadersWithEOM(h Headers) error {
	if err := t.SendHeaders(h); err != nil {
		return err
	}
	return t.SendEOM(nil)
}

// SendBody appends to the deferred egress buffer and asks the priority
// queue to schedule this transaction; it never writes synchronously (§4.6).
func (t *Transaction) SendBody(data []byte) error {
	next, ok := egressStep(t.egressState, EvSendBody)
	if !ok {
		t.failEgress(ErrProtocol, "invalid egress transition: "+t.egressState.String())
		return newEgressError(ErrProtocol, "invalid egress transition")
	}
	t.egressState = next
	t.deferredEgress.append(data)
	if t.transport != nil {
		t.transport.NotifyEgressBodyBuffered(t, len(data))
		t.transport.NotifyPendingEgress(t)
	}
	t.markPendingEgress()
	t.tryFlush()
	return nil
}

func (t *Transaction) SendChunkHeader(length int64) error {
	next, ok := egressStep(t.egressState, EvSendChunkHeader)
	if !ok {
		t.failEgress(ErrProtocol, "invalid egress transition: "+t.egressState.String())
		return newEgressError(ErrProtocol, "invalid egress transition")
	}
	if t.flags.has(flagPartiallyReliable) {
		t.failEgress(ErrProtocol, "chunking is incompatible with partial reliability")
		return newEgressError(ErrProtocol, "chunking incompatible with partial reliability")
	}
	t.egressState = next
	if t.transport != nil {
		if _, err := t.transport.SendChunkHeader(t, length); err != nil {
			t.failEgress(ErrTransport, err.Error())
			return err
		}
	}
	return nil
}

func (t *Transaction) SendChunkTerminator() error {
	next, ok := egressStep(t.egressState, EvSendChunkTerminator)
	if !ok {
		t.failEgress(ErrProtocol, "invalid egress transition: "+t.egressState.String())
		return newEgressError(ErrProtocol, "invalid egress transition")
	}
	t.egressState = next
	if t.transport != nil {
		if _, err := t.transport.SendChunkTerminator(t); err != nil {
			t.failEgress(ErrTransport, err.Error())
			return err
		}
	}
	return nil
}

// SendTrailers stores trailers; they are flushed together with sendEOM.
func (t *Transaction) SendTrailers(h Headers) error {
	next, ok := egressStep(t.egressState, EvSendTrailers)
	if !ok {
		t.failEgress(ErrProtocol, "invalid egress transition: "+t.egressState.String())
		return newEgressError(ErrProtocol, "invalid egress transition")
	}
	if t.flags.has(flagPartiallyReliable) {
		t.failEgress(ErrProtocol, "trailers are incompatible with partial reliability")
		return newEgressError(ErrProtocol, "trailers incompatible with partial reliability")
	}
	t.egressState = next
	hCopy := h
	t.deferredEgress.trailers = &hCopy
	return nil
}

// SendEOM sets eom_queued and triggers a flush attempt.
func (t *Transaction) SendEOM(trailers *Headers) error {
	next, ok := egressStep(t.egressState, EvSendEOM)
	if !ok {
		t.failEgress(ErrProtocol, "invalid egress transition: "+t.egressState.String())
		return newEgressError(ErrProtocol, "invalid egress transition")
	}
	if trailers != nil {
		if t.flags.has(flagPartiallyReliable) {
			t.failEgress(ErrProtocol, "trailers are incompatible with partial reliability")
			return newEgressError(ErrProtocol, "trailers incompatible with partial reliability")
		}
		hCopy := *trailers
		t.deferredEgress.trailers = &hCopy
	}
	t.egressState = next
	t.deferredEgress.eomQueued = true
	t.markPendingEgress()
	t.tryFlush()
	return nil
}

// SendAbort is the handler/transport-initiated terminal error path (§4.6
// Abort semantics).
func (t *Transaction) SendAbort(code ErrorKind) {
	t.doAbort(code, nil)
}

func (t *Transaction) abortWithError(pe *ProtocolError) {
	t.logger.Warn("transaction protocol error",
		zap.Uint32("stream_id", uint32(t.id)),
		zap.String("kind", pe.Kind.String()),
		zap.String("direction", pe.Direction.String()),
		zap.String("detail", pe.Detail),
	)
	if t.handler != nil {
		t.handler.OnError(pe)
	}
	if t.metrics != nil {
		t.metrics.ProtocolError(pe.Kind.String(), pe.Direction.String())
	}
	t.doAbort(pe.Kind, pe)
}

func (t *Transaction) doAbort(code ErrorKind, alreadyReported *ProtocolError) {
	if t.flags.has(flagAborted) {
		return
	}
	t.logger.Info("transaction aborted",
		zap.Uint32("stream_id", uint32(t.id)),
		zap.String("code", code.String()),
	)
	t.flags.set(flagAborted)
	t.cancelIdleTimer()
	t.cancelRateLimitTimer()
	t.deferredEgress.reset()
	t.deferredIngress = nil

	if alreadyReported == nil && t.handler != nil {
		t.handler.OnError(newBothError(code, "aborted"))
	}

	// Force both SMs to terminal via synthetic eomFlushed.
	if t.ingressState != IngressReceivingDone {
		if next, ok := ingressStep(t.ingressState, evIngressEOMFlushed); ok {
			t.ingressState = next
		} else {
			t.ingressState = IngressReceivingDone
		}
	}
	if t.egressState != EgressSendingDone {
		if next, ok := egressStep(t.egressState, evEgressEOMFlushed); ok {
			t.egressState = next
		} else {
			t.egressState = EgressSendingDone
		}
	}

	if t.transport != nil {
		_, _ = t.transport.SendAbort(t, code)
	}

	for id := range t.pushedTransactions {
		if child := t.pushedTransactions[id]; child != nil {
			child.SendAbort(code)
		}
	}
	for id := range t.exTransactions {
		if child := t.exTransactions[id]; child != nil && child.shouldNotifyExTxnError(code) {
			child.SendAbort(code)
		}
	}

	t.maybeDetach()
}

// shouldNotifyExTxnError filters abort propagation to a unidirectional ex
// transaction by its active direction (§4.6).
func (t *Transaction) shouldNotifyExTxnError(ErrorKind) bool {
	if t.exAttrs == nil || !t.exAttrs.Unidirectional {
		return true
	}
	if t.exAttrs.RemotelyOpened {
		// Ingress is this side's active direction; egress was pre-marked
		// terminal in New.
		return t.ingressState != IngressReceivingDone
	}
	return t.egressState != EgressSendingDone
}

// ---------------------------------------------------------------------
// Flush / write-ready (§4.6)
// ---------------------------------------------------------------------

// OnWriteReady is invoked by the session's scheduler (via the priority
// queue traversal) to flush as much deferred egress as allowed. Returns
// whether more work remains so the caller can decide whether to
// re-enqueue this transaction.
func (t *Transaction) OnWriteReady(maxBytes int, weightRatio float64) bool {
	release := t.guarded()
	defer release()

	if t.flags.has(flagAborted) || t.egressState == EgressSendingDone {
		return false
	}
	if t.effectiveEgressPaused() {
		return t.deferredEgress.len() > 0
	}
	if t.flags.has(flagEgressRateLimited) {
		return t.deferredEgress.len() > 0
	}

	toSend := maxBytes
	if t.deferredEgress.len() < toSend {
		toSend = t.deferredEgress.len()
	}
	if t.opts.UseFlowControl {
		avail := t.sendWindow.Available()
		if avail < 0 {
			avail = 0
		}
		if int64(toSend) > avail {
			toSend = int(avail)
		}
	}

	var (
		granted    int64
		ok         = true
		overBudget int64
	)
	if toSend > 0 {
		granted, ok, overBudget = t.rateLimiter.acquire(int64(toSend))
	}
	if !ok {
		t.flags.set(flagEgressRateLimited)
		if t.metrics != nil {
			t.metrics.RateLimiterStall()
		}
		if t.timer != nil {
			t.rateLimitTimer = t.timer.Schedule(t.rateLimiter.wakeupDelay(overBudget), t.onRateLimitWakeup)
		}
		t.updateEgressPauseState()
		return t.deferredEgress.len() > 0
	}
	toSend = int(granted)

	eom := toSend == t.deferredEgress.len() && t.deferredEgress.eomQueued

	if toSend > 0 || eom {
		chunk := t.deferredEgress.consume(toSend)
		if t.transport != nil {
			if _, err := t.transport.SendBody(t, chunk, eom && t.deferredEgress.trailers == nil, t.pendingByteEvents > 0); err != nil {
				t.failEgress(ErrTransport, err.Error())
				return false
			}
		}
		t.egressBodyBytesCommitted += uint64(toSend)
		if t.opts.UseFlowControl {
			t.sendWindow.Reserve(int64(toSend))
		}
		if t.metrics != nil {
			t.metrics.FlushSize(toSend)
		}
		t.cumulativeRatio += weightRatio
		t.egressCalls++
		t.refreshIdleTimer()
	}

	if t.opts.UseFlowControl {
		// Latch the stall flag from whatever this flush left behind —
		// including a window that was already empty on entry, which the
		// toSend==0 path above never reaches the send branch to observe
		// otherwise. Cleared by OnIngressWindowUpdate/SetSendWindow once
		// credit returns.
		if t.sendWindow.Available() <= 0 && t.deferredEgress.len() > 0 {
			t.flags.set(flagFlowControlPaused)
			if t.metrics != nil {
				t.metrics.WindowStall("egress")
			}
		} else {
			t.flags.clear(flagFlowControlPaused)
		}
	}

	if eom {
		if t.transport != nil && t.deferredEgress.trailers != nil {
			_, _ = t.transport.SendEOM(t, t.deferredEgress.trailers)
		}
		if next, ok := egressStep(t.egressState, evEgressEOMFlushed); ok {
			t.egressState = next
		}
		t.clearPendingEgress()
		t.maybeDetach()
		return false
	}

	more := t.deferredEgress.len() > 0
	if !more {
		t.clearPendingEgress()
	}
	t.updateEgressPauseState()
	return more
}

func (t *Transaction) onRateLimitWakeup() {
	t.flags.clear(flagEgressRateLimited)
	t.rateLimiter.resetEpoch()
	t.tryFlush()
}

// tryFlush asks the priority queue to schedule this transaction instead of
// writing synchronously, consistent with §4.6's "never writes
// synchronously" rule for SendBody/SendEOM; OnWriteReady is the only path
// that actually calls Transport.SendBody.
func (t *Transaction) tryFlush() {
	if t.deferredEgress.len() == 0 && !t.deferredEgress.eomQueued {
		return
	}
	t.markPendingEgress()
	if t.transport != nil {
		t.transport.NotifyPendingEgress(t)
	}
}

func (t *Transaction) markPendingEgress() {
	if t.pq != nil && t.pqHandle != nil && !t.flags.has(flagPendingEgressSet) {
		t.pq.SetPendingEgress(t.pqHandle)
		t.flags.set(flagPendingEgressSet)
	}
}

func (t *Transaction) clearPendingEgress() {
	if t.deferredEgress.len() != 0 || t.deferredEgress.eomQueued {
		return
	}
	if t.pq != nil && t.pqHandle != nil && t.flags.has(flagPendingEgressSet) {
		t.pq.ClearPendingEgress(t.pqHandle)
		t.flags.clear(flagPendingEgressSet)
	}
}

// ---------------------------------------------------------------------
// Pause / resume coordination (§4.6, §5)
// ---------------------------------------------------------------------

// PauseIngress is handler-facing: stop delivering ingress callbacks and
// start queueing.
func (t *Transaction) PauseIngress() {
	if t.flags.has(flagIngressPaused) {
		return
	}
	t.flags.set(flagIngressPaused)
	if t.transport != nil {
		t.transport.PauseIngress(t)
	}
}

// ResumeIngress drains whatever was buffered while paused.
func (t *Transaction) ResumeIngress() {
	if !t.flags.has(flagIngressPaused) {
		return
	}
	t.flags.clear(flagIngressPaused)
	if t.transport != nil {
		t.transport.ResumeIngress(t)
	}
	t.drainDeferredIngress()
}

// effectiveEgressPaused computes the "handler should pause" bit from (i)
// an empty send window (flow_control_paused, latched by OnWriteReady and
// cleared once credit returns) and (ii) local buffer over the configured
// limit.
func (t *Transaction) effectiveEgressPaused() bool {
	if t.opts.EgressBufferLimit > 0 && t.deferredEgress.len() >= t.opts.EgressBufferLimit {
		return true
	}
	return t.flags.has(flagFlowControlPaused)
}

// updateEgressPauseState recomputes the effective pause bit and, on a
// transition, calls the debounced handler notification (§5: "no
// on_egress_resumed without a prior on_egress_paused").
func (t *Transaction) updateEgressPauseState() {
	if t.flags.has(flagInResume) {
		return
	}
	wantPaused := t.effectiveEgressPaused()
	isPaused := t.flags.has(flagHandlerEgressPaused)
	if wantPaused == isPaused {
		return
	}
	if wantPaused {
		t.flags.set(flagHandlerEgressPaused)
		if t.handler != nil {
			t.handler.OnEgressPaused()
		}
		if t.metrics != nil {
			t.metrics.EgressPauseTransition(true)
		}
		return
	}
	t.flags.set(flagInResume)
	t.flags.clear(flagHandlerEgressPaused)
	t.flags.clear(flagFlowControlPaused)
	if t.handler != nil {
		t.handler.OnEgressResumed()
	}
	if t.metrics != nil {
		t.metrics.EgressPauseTransition(false)
	}
	t.flags.clear(flagInResume)
	t.tryFlush()
}

// ---------------------------------------------------------------------
// Timeout (§4.6)
// ---------------------------------------------------------------------

func (t *Transaction) scheduleIdleTimer() {
	if t.timer == nil || t.opts.IdleTimeout <= 0 {
		return
	}
	t.idleTimer = t.timer.Schedule(t.opts.IdleTimeout, t.onIdleTimeout)
}

func (t *Transaction) refreshIdleTimer() {
	t.cancelIdleTimer()
	t.scheduleIdleTimer()
}

func (t *Transaction) cancelIdleTimer() {
	if t.idleTimer != nil {
		t.idleTimer.Cancel()
		t.idleTimer = nil
	}
}

func (t *Transaction) cancelRateLimitTimer() {
	if t.rateLimitTimer != nil {
		t.rateLimitTimer.Cancel()
		t.rateLimitTimer = nil
	}
}

func (t *Transaction) onIdleTimeout() {
	if t.flags.has(flagAborted) {
		return
	}
	if t.transport != nil {
		t.transport.TransactionTimeout(t)
	}
	t.abortWithError(newBothError(ErrTimeout, "idle timeout expired"))
}

// ---------------------------------------------------------------------
// Lifecycle / detach (§3 invariants, §4.6)
// ---------------------------------------------------------------------

func (t *Transaction) detachEligible() bool {
	return t.ingressState == IngressReceivingDone &&
		t.egressState == EgressSendingDone &&
		t.pendingByteEvents == 0
}

// maybeDetach enforces "MUST detach exactly once" by gating on a flag
// flip, and defers the actual call until the destruction guard is idle so
// a handler callback never has the transaction freed under it.
func (t *Transaction) maybeDetach() {
	if !t.detachEligible() || t.g.deleting {
		return
	}
	if !t.g.idle() {
		return
	}
	t.g.deleting = true
	t.logger.Debug("transaction detached", zap.Uint32("stream_id", uint32(t.id)))
	if t.span != nil {
		t.span.End()
	}
	if t.metrics != nil {
		t.metrics.TransactionDetached(t.direction.String())
	}
	if t.pq != nil && t.pqHandle != nil {
		t.pq.Remove(t.pqHandle)
	}
	if t.handler != nil {
		t.handler.DetachTransaction()
	}
	if t.transport != nil {
		t.transport.Detach(t)
	}
	if t.parent != nil {
		t.parent.detachChild(t.id)
	}
}

// IncPendingByteEvents/DecPendingByteEvents track delivery-tracking
// callbacks outstanding (byte-event tracking, supplemented from
// original_source/proxygen per SPEC_FULL.md §9). TrackEgressBodyDelivery
// increments the count; OnBodyDeliveryAcked/OnBodyDeliveryCanceled
// decrement it.
func (t *Transaction) IncPendingByteEvents() { t.pendingByteEvents++ }
func (t *Transaction) DecPendingByteEvents() {
	if t.pendingByteEvents > 0 {
		t.pendingByteEvents--
	}
	t.maybeDetach()
}

// ---------------------------------------------------------------------
// Priority (§4.6, §4.7)
// ---------------------------------------------------------------------

// UpdateAndSendPriority updates local priority and asks Transport to emit a
// priority frame; a repeat call with an unchanged Priority is suppressed
// (§8 idempotence property).
func (t *Transaction) UpdateAndSendPriority(p Priority) {
	if p.equal(t.priority) {
		return
	}
	t.priority = p
	if t.pq != nil && t.pqHandle != nil {
		t.pq.Reprioritize(t.pqHandle, p)
	}
	if t.transport != nil && !t.PriorityFallback() {
		_, _ = t.transport.SendPriority(t, p)
	}
}

// OnPriorityUpdate applies a peer-driven priority change without emitting a
// frame back.
func (t *Transaction) OnPriorityUpdate(p Priority) {
	t.priority = p
	if t.pq != nil && t.pqHandle != nil {
		t.pq.Reprioritize(t.pqHandle, p)
	}
}

// ---------------------------------------------------------------------
// Errors / goaway (§7)
// ---------------------------------------------------------------------

// OnError is the transport-observed error entry point (e.g. a read/write
// failure on the underlying connection), distinct from the core's own
// protocol-violation detection.
func (t *Transaction) OnError(kind ErrorKind, direction errDirection, detail string) {
	t.abortWithError(&ProtocolError{Kind: kind, Direction: direction, Detail: detail})
}

// OnGoaway notifies the handler of a GOAWAY covering this stream; it does
// not by itself abort the transaction (a stream already accepted keeps
// running), matching proxygen's onGoaway semantics in the original source.
func (t *Transaction) OnGoaway(code ErrorKind) {
	if t.handler != nil {
		t.handler.OnGoaway(code)
	}
}
