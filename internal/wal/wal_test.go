package wal

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/clockworklabs/stdb-core/internal/algebraic"
	"github.com/clockworklabs/stdb-core/internal/storage/table"
	"github.com/clockworklabs/stdb-core/internal/storage/txn"
)

func TestRecordEncodeDecodeRoundTrip(t *testing.T) {
	rec := Record{
		TxnID:        7,
		CommitMicros: 123456,
		ReducerName:  "add_player",
		Args:         []byte{1, 2, 3},
		Ops: []RowOp{
			{Kind: OpInsert, Table: 1, Row: []byte{9, 9}},
			{Kind: OpDelete, Table: 1, RowID: 42},
		},
	}
	decoded, err := Decode(Encode(rec))
	require.NoError(t, err)
	require.Equal(t, rec, decoded)
}

func TestWriterAppendAndReadSegment(t *testing.T) {
	dir := t.TempDir()
	path := SegmentPath(dir, 0)
	w, err := OpenWriter(path)
	require.NoError(t, err)

	require.NoError(t, w.Append(Record{TxnID: 1, ReducerName: "a"}))
	require.NoError(t, w.Append(Record{TxnID: 2, ReducerName: "b"}))
	require.NoError(t, w.Close())

	records, err := ReadSegment(path)
	require.NoError(t, err)
	require.Len(t, records, 2)
	require.Equal(t, uint64(1), records[0].TxnID)
	require.Equal(t, uint64(2), records[1].TxnID)
}

func TestReadSegmentDropsTrailingCorruptRecord(t *testing.T) {
	dir := t.TempDir()
	path := SegmentPath(dir, 0)
	w, err := OpenWriter(path)
	require.NoError(t, err)
	require.NoError(t, w.Append(Record{TxnID: 1, ReducerName: "a"}))
	require.NoError(t, w.Close())

	// Simulate a crash mid-write: append a truncated frame header
	// claiming more payload than actually follows.
	f, err := os.OpenFile(path, os.O_RDWR|os.O_APPEND, 0o644)
	require.NoError(t, err)
	var hdr [frameHeaderSize]byte
	binary.LittleEndian.PutUint32(hdr[0:4], 9999)
	_, err = f.Write(hdr[:])
	require.NoError(t, err)
	_, err = f.Write([]byte{1, 2, 3})
	require.NoError(t, err)
	require.NoError(t, f.Close())

	records, err := ReadSegment(path)
	require.NoError(t, err)
	require.Len(t, records, 1)
}

func openTestDB(t *testing.T) *txn.Database {
	t.Helper()
	dir := t.TempDir()
	db, err := txn.Open(filepath.Join(dir, "db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func registerPlayers(t *testing.T, db *txn.Database) *table.Schema {
	t.Helper()
	schema := table.NewSchema(1, "player")
	idPos := schema.AddColumn(table.Column{Name: "id", Type: algebraic.Primitive(algebraic.KindU64), AutoInc: true})
	schema.AddColumn(table.Column{Name: "name", Type: algebraic.Primitive(algebraic.KindString)})
	require.NoError(t, schema.SetPrimaryKey(idPos))
	db.RegisterTable(schema)
	return schema
}

func TestSnapshotterCheckpointWritesTableFile(t *testing.T) {
	db := openTestDB(t)
	schema := registerPlayers(t, db)

	tx := db.Begin()
	_, err := tx.Insert(schema.ID, algebraic.ProductValue{uint64(0), "alice"})
	require.NoError(t, err)
	_, err = tx.Commit()
	require.NoError(t, err)

	dir := t.TempDir()
	snapper := &Snapshotter{DB: db, Dir: dir}
	epochDir, err := snapper.Checkpoint()
	require.NoError(t, err)

	_, err = os.Stat(filepath.Join(epochDir, "1.snap"))
	require.NoError(t, err)
}

func TestRecoveryReplaysInsertedRow(t *testing.T) {
	dbDir := t.TempDir()
	db, err := txn.Open(dbDir)
	require.NoError(t, err)
	schema := registerPlayers(t, db)

	walDir := filepath.Join(dbDir, "wal")
	writer, err := OpenWriter(SegmentPath(dbDir, 0))
	require.NoError(t, err)

	rowType := algebraic.Product(algebraic.Element{Name: "id", Type: algebraic.Primitive(algebraic.KindU64)}, algebraic.Element{Name: "name", Type: algebraic.Primitive(algebraic.KindString)})
	rowBytes, err := algebraic.EncodeToBytes(db.Typespace, rowType, algebraic.ProductValue{uint64(1), "alice"})
	require.NoError(t, err)

	require.NoError(t, writer.Append(Record{
		TxnID: 1, ReducerName: "seed",
		Ops: []RowOp{{Kind: OpInsert, Table: uint32(schema.ID), Row: rowBytes}},
	}))
	require.NoError(t, writer.Close())
	require.NoError(t, db.Close())
	_ = walDir

	db2, err := txn.Open(dbDir)
	require.NoError(t, err)
	defer db2.Close()
	registerPlayers(t, db2)

	rec := &Recovery{DB: db2}
	require.NoError(t, rec.Replay(dbDir))

	rows := db2.Snapshot().Rows(schema.ID)
	require.Len(t, rows, 1)
}
