package txn

// StreamID is the opaque stream identifier assigned by the session. Its
// parity encodes whether the stream was locally or remotely initiated
// (odd/even per HTTP/2 & HTTP/3; HTTP/1.x sessions that don't multiplex
// just hand out a monotonically increasing id of either parity).
type StreamID uint32

// Direction fixes, at creation, whether a transaction acts as the request
// sender (Upstream, i.e. a client-role transaction awaiting a response) or
// the request receiver (Downstream, i.e. a server-role transaction producing
// a response).
type Direction uint8

const (
	Downstream Direction = iota // receives the request, sends the response
	Upstream                    // sends the request, receives the response
)

func (d Direction) String() string {
	if d == Upstream {
		return "upstream"
	}
	return "downstream"
}

// IsLocallyInitiated reports whether id was assigned by this side of the
// connection, given which parity the local role owns. Servers own even
// stream ids acting as push promises; for ordinary request/response streams
// the owning parity is determined by the session, not by this package —
// callers that need this pass the parity convention in as localOwnsOdd.
func IsLocallyInitiated(id StreamID, localOwnsOdd bool) bool {
	odd := id%2 == 1
	return odd == localOwnsOdd
}
