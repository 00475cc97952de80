package txn

import (
	"time"

	"github.com/go-playground/validator/v10"
)

// Options configures a Transaction at construction (§6). It is a plain,
// programmatically-built struct rather than a file-based configuration
// DSL — session-level configuration is explicitly out of this package's
// scope (spec.md §1) — but is validated with struct tags the way both
// celeris and Sentinelgate validate their own config structs.
type Options struct {
	UseFlowControl      bool  `validate:"-"`
	RecvInitialWindow   int32 `validate:"gte=0"`
	SendInitialWindow   int32 `validate:"gte=0"`
	MaxDeferredIngress  int   `validate:"gte=0"`
	EgressBufferLimit   int   `validate:"gte=0"`
	IdleTimeout         time.Duration `validate:"gte=0"`
	Priority            Priority      `validate:"-"`
	AssocStreamID       StreamID      `validate:"-"` // used only when HasAssocStreamID is set
	HasAssocStreamID    bool          `validate:"-"`
	ExAttributes        *ExAttributes `validate:"-"`
	EgressRateLimitBps  int64         `validate:"gte=0"` // bytes/ms, 0 disables
	PartiallyReliable   bool          `validate:"-"`
}

// ExAttributes records the control-stream binding for an extended
// transaction (§4.6 new_ex_transaction).
type ExAttributes struct {
	ControlStreamID StreamID
	Unidirectional  bool
	RemotelyOpened  bool
}

// DefaultOptions mirrors §6's stated defaults.
func DefaultOptions() Options {
	return Options{
		UseFlowControl:     false,
		RecvInitialWindow:  65535,
		SendInitialWindow:  65535,
		MaxDeferredIngress: 0,
		EgressBufferLimit:  0,
		IdleTimeout:        0,
		Priority:           DefaultPriority,
	}
}

var validate = validator.New()

func (o Options) validateSelf() error {
	if err := validate.Struct(o); err != nil {
		return newBothError(ErrInternal, err.Error())
	}
	return nil
}
