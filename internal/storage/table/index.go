// Package table implements table metadata, indexes, unique
// constraints, primary keys, and auto-increment sequences atop the
// page storage layer.
package table

import (
	"bytes"

	"github.com/google/btree"
)

// RowID identifies a row within its table's primary heap, independent
// of any page it currently lives on. It is never exposed to modules.
type RowID uint64

// Algorithm names an index implementation, per §3's Table invariants.
type Algorithm uint8

const (
	AlgoBTree Algorithm = iota
	AlgoDirect
)

type entry struct {
	key []byte
	row RowID
}

func lessEntry(a, b entry) bool {
	c := bytes.Compare(a.key, b.key)
	if c != 0 {
		return c < 0
	}
	return a.row < b.row
}

// Index maps an encoded key tuple to one or more RowIDs. BTree indexes
// are multi-valued unless the owning constraint is unique; direct
// indexes are a dense flat array acceptable only for small, dense
// integer domains.
type Index struct {
	Name      string
	Columns   []string
	Algorithm Algorithm
	Unique    bool

	bt     *btree.BTreeG[entry]
	direct []RowID // direct[key] = row, NoRow if absent; only for AlgoDirect
}

// NoRow marks an absent direct-index slot.
const NoRow RowID = 1<<64 - 1

// NewBTreeIndex constructs a B-tree-backed index.
func NewBTreeIndex(name string, columns []string, unique bool) *Index {
	return &Index{
		Name:      name,
		Columns:   columns,
		Algorithm: AlgoBTree,
		Unique:    unique,
		bt:        btree.NewG(32, lessEntry),
	}
}

// NewDirectIndex constructs a direct (dense-array) index, valid only
// when the column domain is small; capacity is the max key value + 1.
func NewDirectIndex(name string, columns []string, unique bool, capacity int) *Index {
	d := make([]RowID, capacity)
	for i := range d {
		d[i] = NoRow
	}
	return &Index{
		Name:      name,
		Columns:   columns,
		Algorithm: AlgoDirect,
		Unique:    unique,
		direct:    d,
	}
}

// Insert records that key maps to row. For a unique index this
// overwrites any stale mapping only if none exists; callers must check
// Lookup themselves first to enforce the unique invariant (the index
// itself does not reject duplicates, it is a mechanism, not a policy).
func (idx *Index) Insert(key []byte, row RowID) {
	if idx.Algorithm == AlgoDirect {
		k := directKey(key)
		idx.growDirect(k)
		idx.direct[k] = row
		return
	}
	idx.bt.ReplaceOrInsert(entry{key: key, row: row})
}

func (idx *Index) growDirect(k int) {
	if k < len(idx.direct) {
		return
	}
	grown := make([]RowID, k+1)
	copy(grown, idx.direct)
	for i := len(idx.direct); i <= k; i++ {
		grown[i] = NoRow
	}
	idx.direct = grown
}

// Delete removes the (key, row) mapping.
func (idx *Index) Delete(key []byte, row RowID) {
	if idx.Algorithm == AlgoDirect {
		k := directKey(key)
		if k < len(idx.direct) && idx.direct[k] == row {
			idx.direct[k] = NoRow
		}
		return
	}
	idx.bt.Delete(entry{key: key, row: row})
}

// Lookup returns every row mapped from an exact key match.
func (idx *Index) Lookup(key []byte) []RowID {
	if idx.Algorithm == AlgoDirect {
		k := directKey(key)
		if k < 0 || k >= len(idx.direct) || idx.direct[k] == NoRow {
			return nil
		}
		return []RowID{idx.direct[k]}
	}
	var out []RowID
	idx.bt.AscendGreaterOrEqual(entry{key: key}, func(e entry) bool {
		if !bytes.Equal(e.key, key) {
			return false
		}
		out = append(out, e.row)
		return true
	})
	return out
}

// RangeBound describes an open or closed endpoint for Range.
type RangeBound struct {
	Key       []byte // nil means unbounded
	Inclusive bool
}

// Range returns every row whose key lies within [lo, hi] (respecting
// each bound's inclusivity; a nil Key means unbounded on that side),
// in ascending key order. Only meaningful for AlgoBTree indexes.
func (idx *Index) Range(lo, hi RangeBound) []RowID {
	var out []RowID
	visit := func(e entry) bool {
		if hi.Key != nil {
			c := bytes.Compare(e.key, hi.Key)
			if c > 0 || (c == 0 && !hi.Inclusive) {
				return false
			}
		}
		if lo.Key != nil {
			c := bytes.Compare(e.key, lo.key_())
			if c < 0 || (c == 0 && !lo.Inclusive) {
				return true // skip but keep scanning
			}
		}
		out = append(out, e.row)
		return true
	}
	if lo.Key != nil {
		idx.bt.AscendGreaterOrEqual(entry{key: lo.Key}, visit)
	} else {
		idx.bt.Ascend(visit)
	}
	return out
}

func (b RangeBound) key_() []byte { return b.Key }

func directKey(key []byte) int {
	// Direct indexes key on an unsigned integer column, big-endian as
	// EncodeKey writes it; reinterpret up to 8 bytes as an int index.
	var v uint64
	for i := 0; i < len(key) && i < 8; i++ {
		v = v<<8 | uint64(key[i])
	}
	return int(v)
}
