package abi

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/clockworklabs/stdb-core/internal/algebraic"
	"github.com/clockworklabs/stdb-core/internal/ident"
	"github.com/clockworklabs/stdb-core/internal/storage/table"
	"github.com/clockworklabs/stdb-core/internal/storage/txn"
)

func TestBufferTableAllocConsumeLen(t *testing.T) {
	bt := newBufferTable()

	h := bt.alloc([]byte("hello"))
	require.NotZero(t, h, "handle 0 is reserved for none")

	n, ok := bt.len(h)
	require.True(t, ok)
	require.Equal(t, 5, n)

	data, ok := bt.consume(h)
	require.True(t, ok)
	require.Equal(t, []byte("hello"), data)

	// consume frees the handle
	_, ok = bt.consume(h)
	require.False(t, ok)
}

func TestBufferTableUnknownHandle(t *testing.T) {
	bt := newBufferTable()
	_, ok := bt.len(12345)
	require.False(t, ok)
	_, ok = bt.consume(12345)
	require.False(t, ok)
}

func TestIterTableAdvanceExhaustion(t *testing.T) {
	schema := table.NewSchema(1, "widget")
	schema.AddColumn(table.Column{Name: "id", Type: algebraic.Primitive(algebraic.KindU64)})

	rows := []algebraic.ProductValue{
		{uint64(1)},
		{uint64(2)},
	}

	it := newIterTable()
	h := it.start(schema, rows)

	row, gotSchema, found, ok := it.advance(h)
	require.True(t, ok)
	require.True(t, found)
	require.Equal(t, schema, gotSchema)
	require.Equal(t, algebraic.ProductValue{uint64(1)}, row)

	_, _, found, ok = it.advance(h)
	require.True(t, ok)
	require.True(t, found)

	_, _, found, ok = it.advance(h)
	require.True(t, ok)
	require.False(t, found, "iterator exhausted after two rows")

	require.True(t, it.drop(h))
	require.False(t, it.drop(h), "dropping twice reports the handle is gone")
}

func TestIterTableUnknownHandle(t *testing.T) {
	it := newIterTable()
	_, _, _, ok := it.advance(999)
	require.False(t, ok)
}

func TestRowCodecRoundTrip(t *testing.T) {
	ts := algebraic.NewTypespace()
	schema := table.NewSchema(1, "player")
	schema.AddColumn(table.Column{Name: "id", Type: algebraic.Primitive(algebraic.KindU64)})
	schema.AddColumn(table.Column{Name: "name", Type: algebraic.Primitive(algebraic.KindString)})

	row := algebraic.ProductValue{uint64(7), "bob"}

	buf, err := encodeRow(ts, schema, row)
	require.NoError(t, err)

	got, err := decodeRow(ts, schema, buf)
	require.NoError(t, err)
	require.Equal(t, row, got)
}

func TestRowsWriterConcatenatesEncodedRows(t *testing.T) {
	ts := algebraic.NewTypespace()
	schema := table.NewSchema(1, "player")
	schema.AddColumn(table.Column{Name: "id", Type: algebraic.Primitive(algebraic.KindU64)})

	w := newRowsWriter(ts, schema)
	require.NoError(t, w.append(algebraic.ProductValue{uint64(1)}))
	require.NoError(t, w.append(algebraic.ProductValue{uint64(2)}))

	single, err := encodeRow(ts, schema, algebraic.ProductValue{uint64(1)})
	require.NoError(t, err)

	require.Equal(t, len(single)*2, len(w.bytes()), "two equally-shaped rows encode to twice one row's length")
}

func TestFlattenRowsDiscardsIDs(t *testing.T) {
	rows := map[table.RowID]algebraic.ProductValue{
		1: {uint64(10)},
		2: {uint64(20)},
	}
	out := flattenRows(rows)
	require.Len(t, out, 2)
}

func TestMapInsertErrorStatuses(t *testing.T) {
	require.Equal(t, uint32(statusUniqueViolation), mapInsertError(&txn.UniqueViolation{Index: "by_name"}))
	require.Equal(t, uint32(statusInternal), mapInsertError(errUnmapped{}))
}

type errUnmapped struct{}

func (errUnmapped) Error() string { return "unmapped" }

func TestLE32DecodesU32List(t *testing.T) {
	// decodeU32List decodes each little-endian u32 entry with le32; this
	// checks le32 on a bare byte slice. decodeU32List itself reads from a
	// live module memory, which no test here builds.
	raw := []byte{
		2, 0, 0, 0,
		5, 0, 0, 0,
	}
	out := make([]int, len(raw)/4)
	for i := range out {
		out[i] = int(le32(raw[i*4 : i*4+4]))
	}
	require.Equal(t, []int{2, 5}, out)
}

func TestIdentTableIDCastRoundTrip(t *testing.T) {
	var tid uint32 = 42
	require.Equal(t, ident.TableID(42), ident.TableID(tid))
}
