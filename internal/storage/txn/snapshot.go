package txn

import (
	"github.com/clockworklabs/stdb-core/internal/algebraic"
	"github.com/clockworklabs/stdb-core/internal/ident"
	"github.com/clockworklabs/stdb-core/internal/storage/table"
)

// Snapshot is an immutable, point-in-time view of every table's
// committed rows. Readers outside the single writer goroutine (e.g. an
// ad hoc `sql` query) take a Snapshot and iterate it without
// coordinating with the writer; the writer only ever publishes a new
// Snapshot atomically, it never mutates one in place.
type Snapshot struct {
	epoch uint64
	rows  map[ident.TableID]map[table.RowID]algebraic.ProductValue
}

func emptySnapshot() *Snapshot {
	return &Snapshot{rows: map[ident.TableID]map[table.RowID]algebraic.ProductValue{}}
}

// Rows returns the committed row set for tableID as of this snapshot.
func (s *Snapshot) Rows(tableID ident.TableID) map[table.RowID]algebraic.ProductValue {
	return s.rows[tableID]
}

// Epoch is a monotonically increasing commit counter, useful for
// diagnostics and for subscription evaluation to detect staleness.
func (s *Snapshot) Epoch() uint64 { return s.epoch }

// withOverlay returns a new Snapshot reflecting committed inserts and
// deletes, reusing every untouched table's row map by reference (the
// copy-on-write step: only tables touched by the transaction are
// copied).
func (s *Snapshot) withOverlay(inserts map[ident.TableID]map[table.RowID]algebraic.ProductValue, deletes map[ident.TableID]map[table.RowID]bool) *Snapshot {
	next := &Snapshot{epoch: s.epoch + 1, rows: make(map[ident.TableID]map[table.RowID]algebraic.ProductValue, len(s.rows))}
	touched := map[ident.TableID]bool{}
	for t := range inserts {
		touched[t] = true
	}
	for t := range deletes {
		touched[t] = true
	}
	for t, rows := range s.rows {
		if !touched[t] {
			next.rows[t] = rows
			continue
		}
		cloned := make(map[table.RowID]algebraic.ProductValue, len(rows))
		for id, v := range rows {
			if deletes[t] != nil && deletes[t][id] {
				continue
			}
			cloned[id] = v
		}
		for id, v := range inserts[t] {
			cloned[id] = v
		}
		next.rows[t] = cloned
	}
	for t, ins := range inserts {
		if _, ok := next.rows[t]; !ok {
			cloned := make(map[table.RowID]algebraic.ProductValue, len(ins))
			for id, v := range ins {
				cloned[id] = v
			}
			next.rows[t] = cloned
		}
	}
	return next
}
