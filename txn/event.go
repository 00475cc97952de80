package txn

// HTTPEvent is a single ingress unit as delivered by Transport: one tagged
// value generalizing gorox's per-protocol frame/element types
// (http1 chunk markers, http2InFrame, http3 frame) into one codec-agnostic
// shape the deferred ingress queue can hold without caring which protocol
// produced it.
type HTTPEvent struct {
	Kind IngressEvent

	Headers    Headers // onHeaders
	Body       []byte  // onBody
	ChunkLen   int64   // onChunkHeader
	Trailers   Headers // onTrailers
	Upgrade    string  // onUpgrade: protocol name
	BodyOffset uint64  // set when partial reliability is enabled

	// size is the accounting weight used against max_deferred_ingress;
	// for header-bearing events it is an estimate of wire size, for body
	// events it is len(Body).
	size int
}

func (e *HTTPEvent) byteSize() int {
	if e.size > 0 {
		return e.size
	}
	return len(e.Body)
}

// Headers is a minimal ordered header-field list. The wire codec owns the
// actual field encoding (HPACK/QPACK/literal) — by the time a Transaction
// sees a Headers value it is already decoded.
type Headers struct {
	Pairs [][2]string
}

func (h Headers) Get(name string) (string, bool) {
	for _, p := range h.Pairs {
		if p[0] == name {
			return p[1], true
		}
	}
	return "", false
}

// Status returns the numeric value of a ":status" pseudo-header, or 0 (and
// false) if absent/unparseable. Used to track last_response_status.
func (h Headers) Status() (int, bool) {
	v, ok := h.Get(":status")
	if !ok {
		return 0, false
	}
	n := 0
	for i := 0; i < len(v); i++ {
		if v[i] < '0' || v[i] > '9' {
			return 0, false
		}
		n = n*10 + int(v[i]-'0')
	}
	return n, true
}
