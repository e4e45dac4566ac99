package txn

import (
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/clockworklabs/stdb-core/internal/algebraic"
	"github.com/clockworklabs/stdb-core/internal/storage/table"
)

func openTestDB(t *testing.T) *Database {
	t.Helper()
	dir, err := os.MkdirTemp("", "stdb-txn-*")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(dir) })
	db, err := Open(dir)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func registerPlayers(t *testing.T, db *Database) *table.Schema {
	t.Helper()
	schema := table.NewSchema(1, "player")
	idPos := schema.AddColumn(table.Column{Name: "id", Type: algebraic.Primitive(algebraic.KindU64), AutoInc: true})
	schema.AddColumn(table.Column{Name: "name", Type: algebraic.Primitive(algebraic.KindString)})
	require.NoError(t, schema.SetPrimaryKey(idPos))
	db.RegisterTable(schema)
	return schema
}

func TestInsertCommitVisibleInNextTxn(t *testing.T) {
	db := openTestDB(t)
	registerPlayers(t, db)

	tx := db.Begin()
	id, err := tx.Insert(1, algebraic.ProductValue{uint64(0), "alice"})
	require.NoError(t, err)
	_, err = tx.Commit()
	require.NoError(t, err)

	tx2 := db.Begin()
	rows := tx2.Iter(1)
	require.Len(t, rows, 1)
	require.Equal(t, "alice", rows[id][1])
}

func TestUniqueViolationOnDuplicatePrimaryKey(t *testing.T) {
	db := openTestDB(t)
	registerPlayers(t, db)

	tx := db.Begin()
	id, err := tx.Insert(1, algebraic.ProductValue{uint64(0), "alice"})
	require.NoError(t, err)
	_, err = tx.Commit()
	require.NoError(t, err)

	tx2 := db.Begin()
	_, err = tx2.Insert(1, algebraic.ProductValue{uint64(id), "bob"})
	require.Error(t, err)
	var uv *UniqueViolation
	require.ErrorAs(t, err, &uv)
}

func TestAutoIncrementAssignsDistinctValues(t *testing.T) {
	db := openTestDB(t)
	registerPlayers(t, db)

	tx := db.Begin()
	id1, err := tx.Insert(1, algebraic.ProductValue{uint64(0), "alice"})
	require.NoError(t, err)
	id2, err := tx.Insert(1, algebraic.ProductValue{uint64(0), "bob"})
	require.NoError(t, err)
	require.NotEqual(t, id1, id2)
	_, err = tx.Commit()
	require.NoError(t, err)
}

func TestDeleteByColEqRemovesMatchingRows(t *testing.T) {
	db := openTestDB(t)
	registerPlayers(t, db)

	tx := db.Begin()
	_, _ = tx.Insert(1, algebraic.ProductValue{uint64(0), "alice"})
	_, _ = tx.Insert(1, algebraic.ProductValue{uint64(0), "alice"})
	_, _ = tx.Insert(1, algebraic.ProductValue{uint64(0), "bob"})
	_, err := tx.Commit()
	require.NoError(t, err)

	tx2 := db.Begin()
	n, err := tx2.DeleteByColEq(1, 1, "alice")
	require.NoError(t, err)
	require.Equal(t, 2, n)
	_, err = tx2.Commit()
	require.NoError(t, err)

	tx3 := db.Begin()
	require.Len(t, tx3.Iter(1), 1)
}

func TestAbortDiscardsOverlay(t *testing.T) {
	db := openTestDB(t)
	registerPlayers(t, db)

	tx := db.Begin()
	_, err := tx.Insert(1, algebraic.ProductValue{uint64(0), "alice"})
	require.NoError(t, err)
	require.NoError(t, tx.Abort())

	tx2 := db.Begin()
	require.Len(t, tx2.Iter(1), 0)
}

func TestAbortReleasesReservedAutoIncrementValues(t *testing.T) {
	db := openTestDB(t)
	registerPlayers(t, db)

	tx := db.Begin()
	_, err := tx.Insert(1, algebraic.ProductValue{uint64(0), "alice"})
	require.NoError(t, err)
	require.NoError(t, tx.Abort())

	tx2 := db.Begin()
	id2, err := tx2.Insert(1, algebraic.ProductValue{uint64(0), "bob"})
	require.NoError(t, err)
	_, err = tx2.Commit()
	require.NoError(t, err)

	row := db.Snapshot().Rows(1)[id2]
	require.Equal(t, uint64(1), row[0], "bob should reuse the auto-inc value alice's aborted insert reserved")
}

func TestSnapshotIsolationDuringInFlightTxn(t *testing.T) {
	db := openTestDB(t)
	registerPlayers(t, db)

	tx := db.Begin()
	_, err := tx.Insert(1, algebraic.ProductValue{uint64(0), "alice"})
	require.NoError(t, err)

	// A reader holding the pre-commit snapshot must not see the
	// in-flight insert until Commit publishes it.
	reader := db.Snapshot()
	require.Len(t, reader.Rows(1), 0)

	_, err = tx.Commit()
	require.NoError(t, err)
	require.Len(t, db.Snapshot().Rows(1), 1)
	require.Len(t, reader.Rows(1), 0) // the old snapshot value is untouched
}

func TestSecondOpenOnSameDirFailsToLock(t *testing.T) {
	dir, err := os.MkdirTemp("", "stdb-txn-lock-*")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(dir) })

	db, err := Open(dir)
	require.NoError(t, err)
	defer db.Close()

	_, err = Open(dir)
	require.Error(t, err)
}
