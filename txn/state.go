package txn

// Ingress and egress are modeled as two independent deterministic automata,
// each a (state, event) -> (state', accepted) constant table, the encoding
// spec.md §9 calls for ("compile-time constant lookup (2D array)") and the
// one gorox itself favors for its frame-kind dispatch tables (see the
// deleted web_proto_http2.go's http2FrameSwitches). Unlisted pairs reject.
//
// State/event names follow proxygen's HTTPTransactionIngressSM /
// HTTPTransactionEgressSM (the original source this spec distills) so a
// reader moving between the spec, this code, and the original has a shared
// vocabulary.

// IngressState enumerates the ingress automaton's states.
type IngressState uint8

const (
	IngressStart IngressState = iota
	IngressHeadersReceived
	IngressRegularBodyReceived
	IngressChunkHeaderReceived
	IngressChunkBodyReceived
	IngressChunkCompleted
	IngressTrailersReceived
	IngressUpgradeComplete
	IngressEOMQueued
	IngressReceivingDone
	numIngressStates
)

func (s IngressState) String() string {
	switch s {
	case IngressStart:
		return "Start"
	case IngressHeadersReceived:
		return "HeadersReceived"
	case IngressRegularBodyReceived:
		return "RegularBodyReceived"
	case IngressChunkHeaderReceived:
		return "ChunkHeaderReceived"
	case IngressChunkBodyReceived:
		return "ChunkBodyReceived"
	case IngressChunkCompleted:
		return "ChunkCompleted"
	case IngressTrailersReceived:
		return "TrailersReceived"
	case IngressUpgradeComplete:
		return "UpgradeComplete"
	case IngressEOMQueued:
		return "EOMQueued"
	case IngressReceivingDone:
		return "ReceivingDone"
	default:
		return "UnknownIngressState"
	}
}

// IngressEvent enumerates the ingress automaton's events. onHeaders through
// onEOM are externally triggered by Transport; eomFlushed is internal,
// fired once the handler has actually consumed the queued EOM.
type IngressEvent uint8

const (
	EvOnHeaders IngressEvent = iota
	EvOnBody
	EvOnChunkHeader
	EvOnChunkComplete
	EvOnTrailers
	EvOnUpgrade
	EvOnEOM
	evIngressEOMFlushed
	numIngressEvents
)

type ingressTransition struct {
	next     IngressState
	accepted bool
}

var ingressTable [numIngressStates][numIngressEvents]ingressTransition

func addIngress(from IngressState, ev IngressEvent, to IngressState) {
	ingressTable[from][ev] = ingressTransition{next: to, accepted: true}
}

func init() {
	addIngress(IngressStart, EvOnHeaders, IngressHeadersReceived)

	addIngress(IngressHeadersReceived, EvOnBody, IngressRegularBodyReceived)
	addIngress(IngressHeadersReceived, EvOnChunkHeader, IngressChunkHeaderReceived)
	addIngress(IngressHeadersReceived, EvOnTrailers, IngressTrailersReceived)
	addIngress(IngressHeadersReceived, EvOnUpgrade, IngressUpgradeComplete)
	addIngress(IngressHeadersReceived, EvOnEOM, IngressEOMQueued)

	// Chunk sequence: ChunkHeaderReceived --onBody--> ChunkBodyReceived
	// --onChunkComplete--> ChunkCompleted; from ChunkCompleted the next
	// onChunkHeader reopens the sequence, or onTrailers/onEOM closes it.
	addIngress(IngressChunkHeaderReceived, EvOnBody, IngressChunkBodyReceived)
	addIngress(IngressChunkBodyReceived, EvOnChunkComplete, IngressChunkCompleted)
	addIngress(IngressChunkCompleted, EvOnChunkHeader, IngressChunkHeaderReceived)
	addIngress(IngressChunkCompleted, EvOnTrailers, IngressTrailersReceived)
	addIngress(IngressChunkCompleted, EvOnEOM, IngressEOMQueued)

	// onEOM is accepted from any non-terminal post-headers state.
	for _, s := range []IngressState{
		IngressHeadersReceived, IngressRegularBodyReceived,
		IngressChunkHeaderReceived, IngressChunkBodyReceived,
		IngressChunkCompleted, IngressTrailersReceived,
		IngressUpgradeComplete,
	} {
		addIngress(s, EvOnEOM, IngressEOMQueued)
	}

	addIngress(IngressEOMQueued, evIngressEOMFlushed, IngressReceivingDone)
}

// ingressStep looks up the transition for (state, event). accepted is false
// (and state unchanged by the caller) for any pair not in the table.
func ingressStep(s IngressState, ev IngressEvent) (IngressState, bool) {
	t := ingressTable[s][ev]
	return t.next, t.accepted
}

// EgressState enumerates the egress automaton's states.
type EgressState uint8

const (
	EgressStart EgressState = iota
	EgressHeadersSent
	EgressChunkHeaderSent
	EgressChunkBodySent
	EgressChunkTerminatorSent
	EgressTrailersSent
	EgressRegularBodySent
	EgressEOMQueued
	EgressSendingDone
	numEgressStates
)

func (s EgressState) String() string {
	switch s {
	case EgressStart:
		return "Start"
	case EgressHeadersSent:
		return "HeadersSent"
	case EgressChunkHeaderSent:
		return "ChunkHeaderSent"
	case EgressChunkBodySent:
		return "ChunkBodySent"
	case EgressChunkTerminatorSent:
		return "ChunkTerminatorSent"
	case EgressTrailersSent:
		return "TrailersSent"
	case EgressRegularBodySent:
		return "RegularBodySent"
	case EgressEOMQueued:
		return "EOMQueued"
	case EgressSendingDone:
		return "SendingDone"
	default:
		return "UnknownEgressState"
	}
}

// EgressEvent enumerates the egress automaton's events, each corresponding
// 1:1 to a Handler-facing send_* method.
type EgressEvent uint8

const (
	EvSendHeaders EgressEvent = iota
	EvSendBody
	EvSendChunkHeader
	EvSendChunkTerminator
	EvSendTrailers
	EvSendEOM
	evEgressEOMFlushed
	numEgressEvents
)

type egressTransition struct {
	next     EgressState
	accepted bool
}

var egressTable [numEgressStates][numEgressEvents]egressTransition

func addEgress(from EgressState, ev EgressEvent, to EgressState) {
	egressTable[from][ev] = egressTransition{next: to, accepted: true}
}

func init() {
	addEgress(EgressStart, EvSendHeaders, EgressHeadersSent)

	addEgress(EgressHeadersSent, EvSendBody, EgressRegularBodySent)
	addEgress(EgressHeadersSent, EvSendChunkHeader, EgressChunkHeaderSent)
	addEgress(EgressHeadersSent, EvSendTrailers, EgressTrailersSent)
	addEgress(EgressHeadersSent, EvSendEOM, EgressEOMQueued)

	addEgress(EgressRegularBodySent, EvSendBody, EgressRegularBodySent)
	addEgress(EgressRegularBodySent, EvSendChunkHeader, EgressChunkHeaderSent)
	addEgress(EgressRegularBodySent, EvSendTrailers, EgressTrailersSent)
	addEgress(EgressRegularBodySent, EvSendEOM, EgressEOMQueued)

	// Chunk group: sendChunkHeader -> sendBody -> sendChunkTerminator,
	// repeatable.
	addEgress(EgressChunkHeaderSent, EvSendBody, EgressChunkBodySent)
	addEgress(EgressChunkBodySent, EvSendChunkTerminator, EgressChunkTerminatorSent)
	addEgress(EgressChunkTerminatorSent, EvSendChunkHeader, EgressChunkHeaderSent)
	addEgress(EgressChunkTerminatorSent, EvSendTrailers, EgressTrailersSent)
	addEgress(EgressChunkTerminatorSent, EvSendEOM, EgressEOMQueued)

	addEgress(EgressTrailersSent, EvSendEOM, EgressEOMQueued)

	addEgress(EgressEOMQueued, evEgressEOMFlushed, EgressSendingDone)
}

func egressStep(s EgressState, ev EgressEvent) (EgressState, bool) {
	t := egressTable[s][ev]
	return t.next, t.accepted
}
