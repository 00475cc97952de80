package txnpriority

import (
	"testing"

	"golang.org/x/sync/errgroup"

	"github.com/hexinfra/httptxn/txn"
)

// TestConcurrentAddAndReadyIsRaceFree exercises Tree's mutex from many
// goroutines at once, the way a session's accept loop (registering new
// streams) and its write loop (calling Ready) would run concurrently.
func TestConcurrentAddAndReadyIsRaceFree(t *testing.T) {
	tr := NewTree()

	var g errgroup.Group
	for i := 0; i < 50; i++ {
		id := txn.StreamID(i + 1)
		g.Go(func() error {
			h := tr.Add(id, txn.Priority{Weight: 16})
			tr.SetPendingEgress(h)
			_ = tr.Ready()
			_ = tr.WeightRatio(id)
			tr.ClearPendingEgress(h)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatal(err)
	}

	if got := len(tr.Ready()); got != 0 {
		t.Fatalf("Ready()=%d entries, want 0 once every added entry cleared pending", got)
	}
}
