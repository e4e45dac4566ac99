package table

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/clockworklabs/stdb-core/internal/algebraic"
	"github.com/clockworklabs/stdb-core/internal/ident"
)

func newPlayerSchema(t *testing.T) *Schema {
	t.Helper()
	s := NewSchema(1, "player")
	idPos := s.AddColumn(Column{ID: 0, Name: "id", Type: algebraic.Primitive(algebraic.KindU64), AutoInc: true})
	s.AddColumn(Column{ID: 1, Name: "name", Type: algebraic.Primitive(algebraic.KindString)})
	require.NoError(t, s.SetPrimaryKey(idPos))
	return s
}

func TestSetPrimaryKeyCreatesUniqueIndex(t *testing.T) {
	s := newPlayerSchema(t)
	idx, ok := s.Index("id_pkey")
	require.True(t, ok)
	require.True(t, idx.Unique)
	require.Equal(t, 1, len(s.IndexesOn(ident.ColumnID(0))))
}

func TestSetPrimaryKeyRejectsNonFilterableType(t *testing.T) {
	s := NewSchema(1, "blob")
	pos := s.AddColumn(Column{ID: 0, Name: "data", Type: algebraic.Array(algebraic.Primitive(algebraic.KindU8))})
	err := s.SetPrimaryKey(pos)
	require.Error(t, err)
}

func TestEncodeKeyOrdersIntegersNumerically(t *testing.T) {
	s := newPlayerSchema(t)
	ts := algebraic.NewTypespace()
	k1, err := EncodeKey(ts, s.Columns, []int{0}, algebraic.ProductValue{uint64(1), "a"})
	require.NoError(t, err)
	k2, err := EncodeKey(ts, s.Columns, []int{0}, algebraic.ProductValue{uint64(2), "b"})
	require.NoError(t, err)
	k256, err := EncodeKey(ts, s.Columns, []int{0}, algebraic.ProductValue{uint64(256), "c"})
	require.NoError(t, err)

	require.True(t, string(k1) < string(k2))
	require.True(t, string(k2) < string(k256))
}

func TestIndexInsertLookupDelete(t *testing.T) {
	idx := NewBTreeIndex("by_name", []string{"name"}, false)
	idx.Insert([]byte("alice"), RowID(1))
	idx.Insert([]byte("bob"), RowID(2))
	idx.Insert([]byte("alice"), RowID(3)) // non-unique: two rows share a key

	rows := idx.Lookup([]byte("alice"))
	require.ElementsMatch(t, []RowID{1, 3}, rows)

	idx.Delete([]byte("alice"), RowID(1))
	require.ElementsMatch(t, []RowID{3}, idx.Lookup([]byte("alice")))
	require.Empty(t, idx.Lookup([]byte("carol")))
}

func TestDirectIndexGrowsAndReuses(t *testing.T) {
	idx := NewDirectIndex("by_small_id", []string{"id"}, true, 4)
	idx.Insert([]byte{2}, RowID(100))
	idx.Insert([]byte{9}, RowID(200)) // beyond initial capacity, must grow

	require.Equal(t, []RowID{100}, idx.Lookup([]byte{2}))
	require.Equal(t, []RowID{200}, idx.Lookup([]byte{9}))
	require.Empty(t, idx.Lookup([]byte{5}))

	idx.Delete([]byte{2}, RowID(100))
	require.Empty(t, idx.Lookup([]byte{2}))
}

func TestIndexRangeScan(t *testing.T) {
	idx := NewBTreeIndex("by_score", []string{"score"}, false)
	for i, row := range []RowID{10, 20, 30, 40} {
		key := []byte{byte(i + 1)}
		idx.Insert(key, row)
	}
	rows := idx.Range(RangeBound{Key: []byte{2}, Inclusive: true}, RangeBound{Key: []byte{3}, Inclusive: true})
	require.Equal(t, []RowID{20, 30}, rows)
}

func TestSequenceObserveRestoresHighWaterMark(t *testing.T) {
	seq := NewSequence(0)
	require.Equal(t, uint64(0), seq.Next())
	require.Equal(t, uint64(1), seq.Next())

	seq.Observe(50)
	require.Equal(t, uint64(51), seq.Next())
}
