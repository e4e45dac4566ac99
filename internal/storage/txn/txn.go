package txn

import (
	"github.com/clockworklabs/stdb-core/internal/algebraic"
	"github.com/clockworklabs/stdb-core/internal/ident"
	"github.com/clockworklabs/stdb-core/internal/storage/table"
)

// Txn is a copy-on-write overlay over a Database's base Snapshot. Row
// operations are buffered in the overlay and only become visible to
// other readers once Commit publishes a new Snapshot.
type Txn struct {
	db   *Database
	base *Snapshot

	inserts map[ident.TableID]map[table.RowID]algebraic.ProductValue
	deletes map[ident.TableID]map[table.RowID]bool

	// reservedSeq remembers, for each auto-increment sequence this txn
	// has drawn a value from, the counter's value before the first such
	// draw, so Abort can give the reservation back.
	reservedSeq map[*table.Sequence]uint64

	resolved bool
}

// RowChange pairs a row's storage-internal id with its value, as
// carried in a Diff.
type RowChange struct {
	ID  table.RowID
	Row algebraic.ProductValue
}

// Diff summarizes one table's net row changes from a single commit,
// handed to the subscription engine to compute per-client deltas and
// to the scheduler to arm/cancel timers on scheduling tables.
type Diff struct {
	Table    ident.TableID
	Inserted []RowChange
	Deleted  []RowChange
}

// Schema looks up tableID's schema, the way internal/abi resolves
// column positions and index metadata from the bare numeric ids a WASM
// module passes across the ABI boundary.
func (t *Txn) Schema(tableID ident.TableID) (*table.Schema, bool) {
	return t.db.Schema(tableID)
}

// Typespace exposes the owning database's typespace, needed to encode
// and decode row buffers crossing the ABI boundary.
func (t *Txn) Typespace() *algebraic.Typespace {
	return t.db.Typespace
}

// SchemaByName resolves a table name to its schema, the way
// internal/abi answers a module's _get_table_id call.
func (t *Txn) SchemaByName(name string) (*table.Schema, bool) {
	for _, s := range t.db.AllSchemas() {
		if s.Name == name {
			return s, true
		}
	}
	return nil, false
}

func (t *Txn) view(tableID ident.TableID) map[table.RowID]algebraic.ProductValue {
	merged := map[table.RowID]algebraic.ProductValue{}
	for id, v := range t.base.Rows(tableID) {
		merged[id] = v
	}
	for id := range t.deletes[tableID] {
		delete(merged, id)
	}
	for id, v := range t.inserts[tableID] {
		merged[id] = v
	}
	return merged
}

// Insert adds row to tableID, reserving any auto-increment column
// values and checking every unique index (including the primary key)
// against both the committed snapshot and this transaction's own
// pending writes.
func (t *Txn) Insert(tableID ident.TableID, row algebraic.ProductValue) (table.RowID, error) {
	schema, ok := t.db.Schema(tableID)
	if !ok {
		return 0, ErrNoSuchTable
	}
	row = append(algebraic.ProductValue(nil), row...)

	for pos, seq := range t.db.sequences[tableID] {
		if isZeroAutoInc(row[pos]) {
			if t.reservedSeq == nil {
				t.reservedSeq = map[*table.Sequence]uint64{}
			}
			if _, ok := t.reservedSeq[seq]; !ok {
				t.reservedSeq[seq] = seq.Peek()
			}
			row[pos] = seq.Next()
		}
	}

	for _, idx := range schema.AllIndexes() {
		if !idx.Unique {
			continue
		}
		positions := columnPositions(schema, idx.Columns)
		key, err := table.EncodeKey(t.db.Typespace, schema.Columns, positions, row)
		if err != nil {
			return 0, err
		}
		if t.keyExists(tableID, schema, idx, key) {
			return 0, &UniqueViolation{Index: idx.Name, Key: key}
		}
	}

	id := table.RowID(t.db.rowIDSeq[tableID].Next())
	if t.inserts[tableID] == nil {
		t.inserts[tableID] = map[table.RowID]algebraic.ProductValue{}
	}
	t.inserts[tableID][id] = row
	return id, nil
}

// InsertAt inserts row at the exact internal id given, bypassing both
// the row-id sequence and auto-increment column assignment (row
// already carries its resolved auto-increment values). It exists for
// WAL replay: a record's OpDelete entries reference the RowID a prior
// OpInsert was assigned, so replay must reproduce that exact id rather
// than letting a fresh Insert hand out whatever the sequence is at.
func (t *Txn) InsertAt(tableID ident.TableID, id table.RowID, row algebraic.ProductValue) error {
	if _, ok := t.db.Schema(tableID); !ok {
		return ErrNoSuchTable
	}
	if t.inserts[tableID] == nil {
		t.inserts[tableID] = map[table.RowID]algebraic.ProductValue{}
	}
	t.inserts[tableID][id] = row
	return nil
}

// keyExists checks a would-be unique key against the current view
// (base snapshot minus this txn's deletes, plus this txn's own pending
// inserts), without touching the shared index yet (indexes only mutate
// at Commit).
func (t *Txn) keyExists(tableID ident.TableID, schema *table.Schema, idx *table.Index, key []byte) bool {
	positions := columnPositions(schema, idx.Columns)
	for id, row := range t.base.Rows(tableID) {
		if t.deletes[tableID] != nil && t.deletes[tableID][id] {
			continue
		}
		k, err := table.EncodeKey(t.db.Typespace, schema.Columns, positions, row)
		if err == nil && string(k) == string(key) {
			return true
		}
	}
	for _, row := range t.inserts[tableID] {
		k, err := table.EncodeKey(t.db.Typespace, schema.Columns, positions, row)
		if err == nil && string(k) == string(key) {
			return true
		}
	}
	return false
}

func columnPositions(schema *table.Schema, names []string) []int {
	out := make([]int, len(names))
	for i, name := range names {
		for p, c := range schema.Columns {
			if c.Name == name {
				out[i] = p
				break
			}
		}
	}
	return out
}

func isZeroAutoInc(v any) bool {
	switch x := v.(type) {
	case uint64:
		return x == 0
	case uint32:
		return x == 0
	case uint16:
		return x == 0
	case uint8:
		return x == 0
	case int64:
		return x == 0
	case nil:
		return true
	default:
		return false
	}
}

// Delete removes rowID from tableID. It is a no-op if the row is not
// visible in this transaction's view.
func (t *Txn) Delete(tableID ident.TableID, rowID table.RowID) error {
	view := t.view(tableID)
	if _, ok := view[rowID]; !ok {
		schema, _ := t.db.Schema(tableID)
		name := ""
		if schema != nil {
			name = schema.Name
		}
		return &NoSuchRow{Table: name}
	}
	if t.deletes[tableID] == nil {
		t.deletes[tableID] = map[table.RowID]bool{}
	}
	t.deletes[tableID][rowID] = true
	delete(t.inserts[tableID], rowID)
	return nil
}

// DeleteByColEq deletes every row whose column at colPos equals value,
// returning the count deleted.
func (t *Txn) DeleteByColEq(tableID ident.TableID, colPos int, value any) (int, error) {
	schema, ok := t.db.Schema(tableID)
	if !ok {
		return 0, ErrNoSuchTable
	}
	key, err := table.EncodeKey(t.db.Typespace, schema.Columns, []int{colPos}, algebraic.ProductValue{value})
	if err != nil {
		return 0, err
	}
	n := 0
	for id, row := range t.view(tableID) {
		rowKey, kerr := table.EncodeKey(t.db.Typespace, schema.Columns, []int{colPos}, row)
		if kerr != nil {
			continue
		}
		if string(rowKey) == string(key) {
			if err := t.Delete(tableID, id); err != nil {
				return n, err
			}
			n++
		}
	}
	return n, nil
}

// Update replaces rowID's value with newRow, implemented as a delete
// followed by an insert so unique-index and auto-increment handling
// stay in one place.
func (t *Txn) Update(tableID ident.TableID, rowID table.RowID, newRow algebraic.ProductValue) (table.RowID, error) {
	if err := t.Delete(tableID, rowID); err != nil {
		return 0, err
	}
	return t.Insert(tableID, newRow)
}

// Iter returns every row currently visible in tableID under this
// transaction's view.
func (t *Txn) Iter(tableID ident.TableID) map[table.RowID]algebraic.ProductValue {
	return t.view(tableID)
}

// IterByColEq returns every visible row whose column at colPos equals value.
func (t *Txn) IterByColEq(tableID ident.TableID, colPos int, value any) (map[table.RowID]algebraic.ProductValue, error) {
	schema, ok := t.db.Schema(tableID)
	if !ok {
		return nil, ErrNoSuchTable
	}
	key, err := table.EncodeKey(t.db.Typespace, schema.Columns, []int{colPos}, algebraic.ProductValue{value})
	if err != nil {
		return nil, err
	}
	out := map[table.RowID]algebraic.ProductValue{}
	for id, row := range t.view(tableID) {
		rowKey, kerr := table.EncodeKey(t.db.Typespace, schema.Columns, []int{colPos}, row)
		if kerr == nil && string(rowKey) == string(key) {
			out[id] = row
		}
	}
	return out, nil
}

// IterRange returns every visible row whose column at colPos falls
// within [lo, hi] (nil bound keys are unbounded on that side).
func (t *Txn) IterRange(tableID ident.TableID, colPos int, lo, hi table.RangeBound) (map[table.RowID]algebraic.ProductValue, error) {
	schema, ok := t.db.Schema(tableID)
	if !ok {
		return nil, ErrNoSuchTable
	}
	out := map[table.RowID]algebraic.ProductValue{}
	for id, row := range t.view(tableID) {
		key, err := table.EncodeKey(t.db.Typespace, schema.Columns, []int{colPos}, row)
		if err != nil {
			continue
		}
		if lo.Key != nil {
			c := cmpBytes(key, lo.Key)
			if c < 0 || (c == 0 && !lo.Inclusive) {
				continue
			}
		}
		if hi.Key != nil {
			c := cmpBytes(key, hi.Key)
			if c > 0 || (c == 0 && !hi.Inclusive) {
				continue
			}
		}
		out[id] = row
	}
	return out, nil
}

func cmpBytes(a, b []byte) int {
	switch {
	case string(a) < string(b):
		return -1
	case string(a) > string(b):
		return 1
	default:
		return 0
	}
}

// Commit publishes the transaction's overlay: it updates every touched
// table's shared indexes (safe because only the single writer goroutine
// ever calls Commit) and atomically swaps in a new Snapshot, returning
// a Diff per touched table for the subscription engine.
func (t *Txn) Commit() ([]Diff, error) {
	if t.resolved {
		return nil, ErrAlreadyResolved
	}
	t.resolved = true

	diffs := make([]Diff, 0, len(t.inserts)+len(t.deletes))
	touched := map[ident.TableID]bool{}
	for tid := range t.inserts {
		touched[tid] = true
	}
	for tid := range t.deletes {
		touched[tid] = true
	}

	for tid := range touched {
		schema, ok := t.db.Schema(tid)
		if !ok {
			continue
		}
		d := Diff{Table: tid}
		for id := range t.deletes[tid] {
			row, ok := t.base.Rows(tid)[id]
			if !ok {
				continue
			}
			d.Deleted = append(d.Deleted, RowChange{ID: id, Row: row})
			for _, idx := range schema.AllIndexes() {
				positions := columnPositions(schema, idx.Columns)
				key, err := table.EncodeKey(t.db.Typespace, schema.Columns, positions, row)
				if err == nil {
					idx.Delete(key, table.RowID(id))
				}
			}
		}
		for id, row := range t.inserts[tid] {
			d.Inserted = append(d.Inserted, RowChange{ID: id, Row: row})
			for _, idx := range schema.AllIndexes() {
				positions := columnPositions(schema, idx.Columns)
				key, err := table.EncodeKey(t.db.Typespace, schema.Columns, positions, row)
				if err == nil {
					idx.Insert(key, id)
				}
			}
		}
		diffs = append(diffs, d)
	}

	next := t.base.withOverlay(t.inserts, t.deletes)
	t.db.snapshot.Store(next)
	return diffs, nil
}

// Abort discards the transaction's overlay without publishing it and
// releases any auto-increment values this transaction reserved during
// Insert, so the next insert into that column reuses them. Safe
// because the single-writer executor never runs two transactions
// concurrently: nothing else can have drawn from the same sequence
// between this transaction's first reservation and its abort.
func (t *Txn) Abort() error {
	if t.resolved {
		return ErrAlreadyResolved
	}
	t.resolved = true
	for seq, start := range t.reservedSeq {
		seq.Reset(start)
	}
	return nil
}
