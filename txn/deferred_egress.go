package txn

import "sync"

// deferredEgress is the append-only byte buffer of outbound body not yet
// accepted by the transport (§4.4), plus the trailers and eom-queued bit
// flushed alongside it. Chunks are pooled via bufferPool (grounded on
// gorox's now-deleted common.go Get4K/Get16K/GetNK pooled-slab idiom,
// generalized to one pool of variable-size slabs since deferred egress
// bodies, unlike gorox's fixed wire buffers, are arbitrary handler-supplied
// sizes).
type deferredEgress struct {
	chunks    [][]byte
	length    int
	eomQueued bool
	trailers  *Headers
}

func (b *deferredEgress) append(data []byte) {
	if len(data) == 0 {
		return
	}
	cp := bufferPool.get(len(data))
	copy(cp, data)
	b.chunks = append(b.chunks, cp)
	b.length += len(data)
}

func (b *deferredEgress) len() int { return b.length }

// consume removes up to n bytes from the front and returns them as one
// contiguous slice (copied out of the pool so callers may retain it).
func (b *deferredEgress) consume(n int) []byte {
	if n <= 0 || b.length == 0 {
		return nil
	}
	if n > b.length {
		n = b.length
	}
	out := make([]byte, 0, n)
	for len(out) < n && len(b.chunks) > 0 {
		chunk := b.chunks[0]
		need := n - len(out)
		if need >= len(chunk) {
			out = append(out, chunk...)
			bufferPool.put(chunk)
			b.chunks = b.chunks[1:]
		} else {
			out = append(out, chunk[:need]...)
			b.chunks[0] = chunk[need:]
		}
	}
	b.length -= len(out)
	return out
}

// trimToOffset discards the prefix of not-yet-sent bytes strictly below
// newOffset-committed, for partial-reliability skip_body_to. Returns the
// number of bytes discarded.
func (b *deferredEgress) trimToOffset(discard int) int {
	if discard <= 0 {
		return 0
	}
	dropped := b.consume(discard)
	return len(dropped)
}

func (b *deferredEgress) reset() {
	for _, c := range b.chunks {
		bufferPool.put(c)
	}
	b.chunks = nil
	b.length = 0
	b.eomQueued = false
	b.trailers = nil
}

// slabPool is a small set of sync.Pool buckets keyed by power-of-two size,
// the same shape as gorox's deleted common.go pool4K/pool16K/pool64K1 but
// generalized past three fixed sizes.
type slabPool struct {
	buckets []slabBucket
}

type slabBucket struct {
	size int
	pool *sync.Pool
}

var bufferPool = newSlabPool()

func newSlabPool() *slabPool {
	sizes := []int{256, 1024, 4096, 16384, 65536}
	sp := &slabPool{}
	for _, sz := range sizes {
		sz := sz
		sp.buckets = append(sp.buckets, slabBucket{
			size: sz,
			pool: &sync.Pool{New: func() any { return make([]byte, sz) }},
		})
	}
	return sp
}

func (sp *slabPool) get(n int) []byte {
	for _, b := range sp.buckets {
		if n <= b.size {
			buf := b.pool.Get().([]byte)
			return buf[:n]
		}
	}
	return make([]byte, n)
}

func (sp *slabPool) put(buf []byte) {
	c := cap(buf)
	for _, b := range sp.buckets {
		if c == b.size {
			//nolint:staticcheck // re-slicing to full cap before returning to the pool
			b.pool.Put(buf[:c])
			return
		}
	}
}
