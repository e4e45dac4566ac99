package abi

import "sync"

// bufferTable hands out opaque handles for host-held byte buffers a
// module reads back via _buffer_len/_buffer_consume, e.g. the
// concatenated rows _iter_by_col_eq produces or the descriptor
// __describe_module__ returns. Handle 0 is reserved ("no buffer" / end
// of iteration per §6's option-encoding note), so the first real handle
// is 1.
type bufferTable struct {
	mu   sync.Mutex
	next uint32
	bufs map[uint32][]byte
}

func newBufferTable() *bufferTable {
	return &bufferTable{next: 1, bufs: map[uint32][]byte{}}
}

func (t *bufferTable) alloc(data []byte) uint32 {
	t.mu.Lock()
	defer t.mu.Unlock()
	h := t.next
	t.next++
	t.bufs[h] = data
	return h
}

func (t *bufferTable) len(h uint32) (int, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	b, ok := t.bufs[h]
	return len(b), ok
}

// consume returns h's bytes and frees the handle; a module is expected
// to call _buffer_consume exactly once per handle it receives.
func (t *bufferTable) consume(h uint32) ([]byte, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	b, ok := t.bufs[h]
	if ok {
		delete(t.bufs, h)
	}
	return b, ok
}
