package abi

import (
	"sync"

	"github.com/clockworklabs/stdb-core/internal/algebraic"
	"github.com/clockworklabs/stdb-core/internal/storage/table"
)

// iterState is the host-side cursor behind one _iter_start/
// _iter_start_filtered handle: the full matching row set, materialized
// up front against the reducer's transaction snapshot at iterator
// creation time (so concurrent mutation within the same reducer call
// never invalidates an in-flight cursor), plus a read position. schema
// is kept alongside the rows so _iter_next can re-encode one at a time
// without the caller having to track which table the handle came from.
type iterState struct {
	schema *table.Schema
	rows   []algebraic.ProductValue
	pos    int
}

type iterTable struct {
	mu   sync.Mutex
	next uint32
	open map[uint32]*iterState
}

func newIterTable() *iterTable {
	return &iterTable{next: 1, open: map[uint32]*iterState{}}
}

func (t *iterTable) start(schema *table.Schema, rows []algebraic.ProductValue) uint32 {
	t.mu.Lock()
	defer t.mu.Unlock()
	h := t.next
	t.next++
	t.open[h] = &iterState{schema: schema, rows: rows}
	return h
}

// advance returns the next row and its schema (found=true), or
// found=false once exhausted; ok is false if h is not a live iterator.
func (t *iterTable) advance(h uint32) (row algebraic.ProductValue, schema *table.Schema, found bool, ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	st, ok := t.open[h]
	if !ok {
		return nil, nil, false, false
	}
	if st.pos >= len(st.rows) {
		return nil, nil, false, true
	}
	row = st.rows[st.pos]
	st.pos++
	return row, st.schema, true, true
}

func (t *iterTable) drop(h uint32) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.open[h]
	delete(t.open, h)
	return ok
}
