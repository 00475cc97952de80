package txn

import (
	"testing"

	"go.uber.org/goleak"
	"golang.org/x/sync/errgroup"
)

// TestConcurrentTransactionsDrainIndependently fans a full request/response
// cycle out across many transactions at once. Each transaction still runs
// entirely on the single goroutine that owns it (§5); errgroup only
// coordinates the fan-out across independent transactions, mirroring how a
// session would drive many concurrent streams without giving any one of
// them a lock.
func TestConcurrentTransactionsDrainIndependently(t *testing.T) {
	defer goleak.VerifyNone(t)

	const n = 32
	var g errgroup.Group
	for i := 0; i < n; i++ {
		g.Go(func() error {
			txn, ft, _, h := newTestTransaction(t, DefaultOptions())

			txn.OnHeaders(Headers{Pairs: [][2]string{{":method", "GET"}}})
			txn.OnEOM()

			if err := txn.SendHeaders(statusHeaders(200)); err != nil {
				return err
			}
			if err := txn.SendBody([]byte("ok")); err != nil {
				return err
			}
			if err := txn.SendEOM(nil); err != nil {
				return err
			}
			txn.OnWriteReady(1<<16, 1.0)

			if len(h.headers) != 1 || h.eoms != 1 {
				t.Errorf("handler saw headers=%d eoms=%d, want 1/1", len(h.headers), h.eoms)
			}
			if !ft.detached {
				t.Error("expected transaction to detach")
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatal(err)
	}
}
