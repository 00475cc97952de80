package telemetry

import "go.uber.org/zap"

// NewLogger returns a development zap.Logger when devel is true and a
// production one otherwise, or a no-op logger if construction fails (mirrors gorox's own noopLogger default,
// just backed by a real structured logger instead of a hand-rolled one).
func NewLogger(devel bool) *zap.Logger {
	var (
		l   *zap.Logger
		err error
	)
	if devel {
		l, err = zap.NewDevelopment()
	} else {
		l, err = zap.NewProduction()
	}
	if err != nil {
		return zap.NewNop()
	}
	return l
}

// NopLogger is the silent default a Transaction uses when Attach is given a
// nil logger.
func NopLogger() *zap.Logger { return zap.NewNop() }
