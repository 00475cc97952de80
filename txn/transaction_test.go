package txn

import (
	"net"
	"strconv"
	"testing"
	"time"

	"go.uber.org/goleak"
)

// fakeTransport records every call a Transaction makes on it and lets tests
// drive ingress directly; it needs no network of its own since Transaction
// never touches wire bytes (§1).
type fakeTransport struct {
	sentHeaders   []Headers
	sentBodies    [][]byte
	sentEOMs      int
	sentAborts    []ErrorKind
	paused        bool
	detached      bool
	supportsPrio  bool
	pendingCalls  int
	windowUpdates []int32
}

func newFakeTransport() *fakeTransport { return &fakeTransport{supportsPrio: true} }

func (f *fakeTransport) PauseIngress(*Transaction)          { f.paused = true }
func (f *fakeTransport) ResumeIngress(*Transaction)         { f.paused = false }
func (f *fakeTransport) TransactionTimeout(*Transaction)    {}
func (f *fakeTransport) Detach(*Transaction)                { f.detached = true }

func (f *fakeTransport) SendHeaders(_ *Transaction, h Headers, eom bool) (int, error) {
	f.sentHeaders = append(f.sentHeaders, h)
	return 0, nil
}
func (f *fakeTransport) SendBody(_ *Transaction, body []byte, eom bool, trackLastByte bool) (int, error) {
	cp := make([]byte, len(body))
	copy(cp, body)
	f.sentBodies = append(f.sentBodies, cp)
	if eom {
		f.sentEOMs++
	}
	return len(body), nil
}
func (f *fakeTransport) SendChunkHeader(*Transaction, int64) (int, error)    { return 0, nil }
func (f *fakeTransport) SendChunkTerminator(*Transaction) (int, error)       { return 0, nil }
func (f *fakeTransport) SendEOM(*Transaction, *Headers) (int, error)        { f.sentEOMs++; return 0, nil }
func (f *fakeTransport) SendAbort(_ *Transaction, code ErrorKind) (int, error) {
	f.sentAborts = append(f.sentAborts, code)
	return 0, nil
}
func (f *fakeTransport) SendPriority(*Transaction, Priority) (int, error)       { return 0, nil }
func (f *fakeTransport) SendWindowUpdate(_ *Transaction, delta int32) (int, error) {
	f.windowUpdates = append(f.windowUpdates, delta)
	return 0, nil
}

func (f *fakeTransport) NotifyPendingEgress(*Transaction)            { f.pendingCalls++ }
func (f *fakeTransport) NotifyIngressBodyProcessed(*Transaction, int) {}
func (f *fakeTransport) NotifyEgressBodyBuffered(*Transaction, int)   {}

func (f *fakeTransport) Peek(*Transaction, func([]byte)) error   { return ErrUnsupported }
func (f *fakeTransport) Consume(*Transaction, int) error         { return ErrUnsupported }
func (f *fakeTransport) SkipBodyTo(*Transaction, uint64) error   { return nil }
func (f *fakeTransport) RejectBodyTo(*Transaction, uint64) error { return nil }
func (f *fakeTransport) TrackEgressBodyDelivery(*Transaction, uint64) error { return nil }

func (f *fakeTransport) GetLocalAddress() net.Addr { return nil }
func (f *fakeTransport) GetPeerAddress() net.Addr  { return nil }
func (f *fakeTransport) IsDraining() bool          { return false }
func (f *fakeTransport) IsReplaySafe() bool        { return true }
func (f *fakeTransport) SupportsPriority() bool    { return f.supportsPrio }

// fakeTimer records scheduled callbacks and runs the most recent one
// synchronously when a test calls fireLast(); it never spawns a goroutine,
// keeping tests single-threaded per §5.
type fakeTimer struct {
	scheduled []fakeTimerEntry
}

type fakeTimerEntry struct {
	fn        func()
	cancelled bool
}

type fakeTimerHandle struct {
	entry *fakeTimerEntry
}

func (h *fakeTimerHandle) Cancel() { h.entry.cancelled = true }

func (ft *fakeTimer) Schedule(d time.Duration, fn func()) TimerHandle {
	e := fakeTimerEntry{fn: fn}
	ft.scheduled = append(ft.scheduled, e)
	return &fakeTimerHandle{entry: &ft.scheduled[len(ft.scheduled)-1]}
}

func (ft *fakeTimer) fireLast() {
	if len(ft.scheduled) == 0 {
		return
	}
	e := &ft.scheduled[len(ft.scheduled)-1]
	if !e.cancelled {
		e.fn()
	}
}

// recordingHandler wraps NopHandler, counting the callbacks tests assert on.
type recordingHandler struct {
	NopHandler
	headers       []Headers
	bodies        [][]byte
	trailers      []Headers
	eoms          int
	errors        []*ProtocolError
	egressPaused  int
	egressResumed int
	detached      bool
	deliveryAcked []uint64
}

func (h *recordingHandler) OnHeadersComplete(hd Headers) { h.headers = append(h.headers, hd) }
func (h *recordingHandler) OnBody(b []byte) {
	cp := make([]byte, len(b))
	copy(cp, b)
	h.bodies = append(h.bodies, cp)
}
func (h *recordingHandler) OnTrailers(hd Headers)  { h.trailers = append(h.trailers, hd) }
func (h *recordingHandler) OnEOM()                 { h.eoms++ }
func (h *recordingHandler) OnError(e *ProtocolError) { h.errors = append(h.errors, e) }
func (h *recordingHandler) OnEgressPaused()        { h.egressPaused++ }
func (h *recordingHandler) OnEgressResumed()        { h.egressResumed++ }
func (h *recordingHandler) DetachTransaction()      { h.detached = true }
func (h *recordingHandler) OnBodyDeliveryAcked(offset uint64) {
	h.deliveryAcked = append(h.deliveryAcked, offset)
}

func newTestTransaction(t *testing.T, opts Options) (*Transaction, *fakeTransport, *fakeTimer, *recordingHandler) {
	t.Helper()
	txn, err := New(1, Downstream, opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ft := newFakeTransport()
	tm := &fakeTimer{}
	txn.Attach(ft, tm, nil, nil, nil)
	h := &recordingHandler{}
	txn.SetHandler(h)
	return txn, ft, tm, h
}

func statusHeaders(code int) Headers {
	return Headers{Pairs: [][2]string{{":status", strconv.Itoa(code)}}}
}

// --- scenario 1: simple downstream GET, full response, clean detach ---

func TestSimpleDownstreamGETFlow(t *testing.T) {
	defer goleak.VerifyNone(t)
	txn, ft, _, h := newTestTransaction(t, DefaultOptions())

	txn.OnHeaders(Headers{Pairs: [][2]string{{":method", "GET"}}})
	txn.OnEOM()
	if len(h.headers) != 1 || h.eoms != 1 {
		t.Fatalf("handler saw headers=%d eoms=%d, want 1/1", len(h.headers), h.eoms)
	}

	if err := txn.SendHeaders(statusHeaders(200)); err != nil {
		t.Fatalf("SendHeaders: %v", err)
	}
	if err := txn.SendEOM(nil); err != nil {
		t.Fatalf("SendEOM: %v", err)
	}
	if more := txn.OnWriteReady(1<<16, 1.0); more {
		t.Fatal("expected no more egress work after a headers-only EOM flush")
	}
	if ft.sentEOMs != 1 && len(ft.sentBodies) == 0 {
		t.Fatalf("expected transport to observe an EOM, sentBodies=%v sentEOMs=%d", ft.sentBodies, ft.sentEOMs)
	}
	if !ft.detached {
		t.Fatal("expected transaction to detach once both directions finished")
	}
	if !h.detached {
		t.Fatal("expected handler to be notified of detach")
	}
}

func TestIngressBodyCreditsRecvWindow(t *testing.T) {
	defer goleak.VerifyNone(t)
	opts := DefaultOptions()
	opts.UseFlowControl = true
	opts.RecvInitialWindow = 8
	txn, ft, _, _ := newTestTransaction(t, opts)

	txn.OnHeaders(Headers{Pairs: [][2]string{{":method", "POST"}}})
	txn.OnBody([]byte("abcde")) // 5 of 8 bytes of window reserved, then freed back

	if txn.recvWindow.Available() != 8 {
		t.Fatalf("recvWindow.Available()=%d, want 8 (freed back after processing)", txn.recvWindow.Available())
	}
	if len(ft.windowUpdates) != 1 || ft.windowUpdates[0] != 5 {
		t.Fatalf("windowUpdates=%v, want a single update of 5", ft.windowUpdates)
	}
}

func TestIngressBodyOverRecvWindowIsFlowControlViolation(t *testing.T) {
	defer goleak.VerifyNone(t)
	opts := DefaultOptions()
	opts.UseFlowControl = true
	opts.RecvInitialWindow = 8
	txn, ft, _, h := newTestTransaction(t, opts)

	txn.OnHeaders(Headers{Pairs: [][2]string{{":method", "POST"}}})
	// A body chunk that exceeds recv_window is a flow-control violation,
	// not silently accepted.
	txn.OnBody(make([]byte, 9))

	if len(h.errors) != 1 || h.errors[0].Kind != ErrFlowControl {
		t.Fatalf("errors=%v, want one ErrFlowControl", h.errors)
	}
	if len(ft.sentAborts) != 1 || ft.sentAborts[0] != ErrFlowControl {
		t.Fatalf("sentAborts=%v, want one ErrFlowControl", ft.sentAborts)
	}
}

func TestByteEventTrackingGatesDetach(t *testing.T) {
	defer goleak.VerifyNone(t)
	txn, ft, _, h := newTestTransaction(t, DefaultOptions())

	txn.OnHeaders(Headers{Pairs: [][2]string{{":method", "GET"}}})
	txn.OnEOM()

	if err := txn.SendHeaders(statusHeaders(200)); err != nil {
		t.Fatalf("SendHeaders: %v", err)
	}
	if err := txn.TrackEgressBodyDelivery(0); err != nil {
		t.Fatalf("TrackEgressBodyDelivery: %v", err)
	}
	if err := txn.SendEOM(nil); err != nil {
		t.Fatalf("SendEOM: %v", err)
	}
	txn.OnWriteReady(1<<16, 1.0)

	if ft.detached {
		t.Fatal("expected detach to wait on the outstanding byte-event ack")
	}

	txn.OnBodyDeliveryAcked(0)

	if !ft.detached {
		t.Fatal("expected detach once the tracked byte was acked")
	}
	if len(h.deliveryAcked) != 1 || h.deliveryAcked[0] != 0 {
		t.Fatalf("handler deliveryAcked=%v, want [0]", h.deliveryAcked)
	}
}

// --- scenario 2: chunked response with trailers ---

func TestChunkedResponseWithTrailers(t *testing.T) {
	defer goleak.VerifyNone(t)
	txn, ft, _, _ := newTestTransaction(t, DefaultOptions())

	txn.OnHeaders(Headers{Pairs: [][2]string{{":method", "GET"}}})
	txn.OnEOM()

	if err := txn.SendHeaders(statusHeaders(200)); err != nil {
		t.Fatalf("SendHeaders: %v", err)
	}
	if err := txn.SendChunkHeader(int64(len("chunk-one"))); err != nil {
		t.Fatalf("SendChunkHeader: %v", err)
	}
	if err := txn.SendBody([]byte("chunk-one")); err != nil {
		t.Fatalf("SendBody: %v", err)
	}
	if err := txn.SendChunkTerminator(); err != nil {
		t.Fatalf("SendChunkTerminator: %v", err)
	}
	trailers := Headers{Pairs: [][2]string{{"x-checksum", "abc"}}}
	if err := txn.SendEOM(&trailers); err != nil {
		t.Fatalf("SendEOM(trailers): %v", err)
	}
	for txn.OnWriteReady(4096, 1.0) {
	}
	if ft.sentEOMs != 1 {
		t.Fatalf("sentEOMs=%d, want 1 (trailers flushed alongside EOM)", ft.sentEOMs)
	}
	total := 0
	for _, b := range ft.sentBodies {
		total += len(b)
	}
	if total != len("chunk-one") {
		t.Fatalf("transport observed %d body bytes, want %d", total, len("chunk-one"))
	}
}

// --- scenario 3: flow-controlled stall and resume ---

func TestFlowControlStallAndResume(t *testing.T) {
	defer goleak.VerifyNone(t)
	opts := DefaultOptions()
	opts.UseFlowControl = true
	opts.SendInitialWindow = 4
	txn, ft, _, h := newTestTransaction(t, opts)

	txn.OnHeaders(Headers{Pairs: [][2]string{{":method", "GET"}}})
	txn.OnEOM()

	if err := txn.SendHeaders(statusHeaders(200)); err != nil {
		t.Fatalf("SendHeaders: %v", err)
	}
	if err := txn.SendBody([]byte("0123456789")); err != nil { // 10 bytes, window is 4
		t.Fatalf("SendBody: %v", err)
	}
	more := txn.OnWriteReady(1<<16, 1.0)
	if !more {
		t.Fatal("expected remaining buffered bytes after window-limited flush")
	}
	if h.egressPaused == 0 {
		t.Fatal("expected handler to be notified egress paused once the window stalled")
	}
	total := 0
	for _, b := range ft.sentBodies {
		total += len(b)
	}
	if total != 4 {
		t.Fatalf("flushed %d bytes, want exactly the 4-byte window", total)
	}

	// Credit trickles back 4 bytes at a time (the window's capacity ceiling
	// never grows from a plain WINDOW_UPDATE), so draining the remaining 6
	// bytes takes two more rounds.
	for more {
		txn.OnIngressWindowUpdate(4)
		more = txn.OnWriteReady(1<<16, 1.0)
	}
	total = 0
	for _, b := range ft.sentBodies {
		total += len(b)
	}
	if total != 10 {
		t.Fatalf("flushed %d bytes across all rounds, want 10", total)
	}
	if h.egressResumed == 0 {
		t.Fatal("expected handler to be notified egress resumed once the buffer drained")
	}
}

// --- scenario 4: protocol violation, body before headers ---

func TestProtocolViolationBodyBeforeHeaders(t *testing.T) {
	defer goleak.VerifyNone(t)
	txn, ft, _, h := newTestTransaction(t, DefaultOptions())

	txn.OnBody([]byte("unexpected"))

	if len(h.errors) != 1 {
		t.Fatalf("errors=%d, want 1", len(h.errors))
	}
	if h.errors[0].Kind != ErrProtocol {
		t.Fatalf("error kind=%v, want ErrProtocol", h.errors[0].Kind)
	}
	if len(ft.sentAborts) != 1 {
		t.Fatalf("transport aborts=%d, want 1", len(ft.sentAborts))
	}
	if txn.IngressState() != IngressReceivingDone || txn.EgressState() != EgressSendingDone {
		t.Fatalf("expected both SMs forced terminal after abort, got ingress=%v egress=%v",
			txn.IngressState(), txn.EgressState())
	}
}

// --- scenario 5: idle timeout mid ingress-body ---

func TestIdleTimeoutDuringIngressBody(t *testing.T) {
	defer goleak.VerifyNone(t)
	opts := DefaultOptions()
	opts.IdleTimeout = 5 * time.Second
	txn, ft, tm, h := newTestTransaction(t, opts)

	txn.OnHeaders(Headers{Pairs: [][2]string{{":method", "POST"}}})
	txn.OnBody([]byte("partial"))

	tm.fireLast() // simulate the idle timer firing before onEOM arrives

	if len(h.errors) != 1 || h.errors[0].Kind != ErrTimeout {
		t.Fatalf("expected a single ErrTimeout error, got %+v", h.errors)
	}
	if len(ft.sentAborts) != 1 || ft.sentAborts[0] != ErrTimeout {
		t.Fatalf("expected transport SendAbort(ErrTimeout), got %v", ft.sentAborts)
	}
}

// --- scenario 6: push promise cascade abort ---

func TestPushPromiseCascadeAbort(t *testing.T) {
	defer goleak.VerifyNone(t)
	txn, ft, _, _ := newTestTransaction(t, DefaultOptions())

	child, err := txn.NewPushedTransaction(2, DefaultOptions())
	if err != nil {
		t.Fatalf("NewPushedTransaction: %v", err)
	}
	childTransport := newFakeTransport()
	child.Attach(childTransport, &fakeTimer{}, nil, nil, nil)
	childHandler := &recordingHandler{}
	child.SetHandler(childHandler)

	txn.SendAbort(ErrCancel)

	if len(ft.sentAborts) != 1 || ft.sentAborts[0] != ErrCancel {
		t.Fatalf("parent transport aborts=%v, want [ErrCancel]", ft.sentAborts)
	}
	if len(childTransport.sentAborts) != 1 || childTransport.sentAborts[0] != ErrCancel {
		t.Fatalf("expected push cascade to abort the child with the same code, got %v", childTransport.sentAborts)
	}
	if !childHandler.detached {
		t.Fatal("expected the pushed transaction to detach after cascade abort")
	}
}
