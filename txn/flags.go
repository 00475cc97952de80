package txn

// txnFlags packs the transaction's boolean status bits (§3: handler_egress_
// paused, ingress_paused, flow_control_paused, egress_rate_limited, aborted,
// in_active_set, plus bits the spec leaves implicit such as in_resume for
// the pause/resume debounce reentrancy guard, and egress_headers_delivered;
// deleting lives on the guard instead) into one field, the way gorox packs connection
// state into single atomic fields (httpConn_.broken, server2Stream.state)
// rather than one bool per concern.
type txnFlags uint16

const (
	flagIngressPaused txnFlags = 1 << iota
	flagHandlerEgressPaused
	flagFlowControlPaused
	flagEgressRateLimited
	flagAborted
	flagInActiveSet
	flagInResume
	flagEgressHeadersDelivered
	flagPartiallyReliable
	flagExpectingInterim
	flagPriorityFallback
	flagPendingEgressSet
)

func (f *txnFlags) set(bit txnFlags)   { *f |= bit }
func (f *txnFlags) clear(bit txnFlags) { *f &^= bit }
func (f txnFlags) has(bit txnFlags) bool {
	return f&bit != 0
}
