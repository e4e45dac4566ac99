package subscribe

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/clockworklabs/stdb-core/internal/algebraic"
	"github.com/clockworklabs/stdb-core/internal/ident"
	"github.com/clockworklabs/stdb-core/internal/queryplan"
	"github.com/clockworklabs/stdb-core/internal/storage/table"
	"github.com/clockworklabs/stdb-core/internal/storage/txn"
)

func newTestDB(t *testing.T) *txn.Database {
	db, err := txn.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func playerSchema() *table.Schema {
	s := table.NewSchema(ident.TableID(1), "Player")
	s.AddColumn(table.Column{Name: "id", Type: algebraic.Primitive(algebraic.KindU64), AutoInc: true})
	s.AddColumn(table.Column{Name: "name", Type: algebraic.Primitive(algebraic.KindString)})
	_ = s.SetPrimaryKey(0)
	return s
}

func TestSubscribeInitialUpdateEmpty(t *testing.T) {
	db := newTestDB(t)
	schema := playerSchema()
	db.RegisterTable(schema)

	e := NewEngine(db)
	delta, err := e.Subscribe("clientA", 1, queryplan.Logical{Table: "Player"}, algebraic.Identity{})
	require.NoError(t, err)
	require.Empty(t, delta.Ops)
}

func TestInsertObserveScenario(t *testing.T) {
	db := newTestDB(t)
	schema := playerSchema()
	db.RegisterTable(schema)

	e := NewEngine(db)
	_, err := e.Subscribe("clientA", 1, queryplan.Logical{Table: "Player"}, algebraic.Identity{})
	require.NoError(t, err)

	tx := db.Begin()
	_, err = tx.Insert(schema.ID, algebraic.ProductValue{uint64(0), "alice"})
	require.NoError(t, err)
	diffs, err := tx.Commit()
	require.NoError(t, err)

	updates := e.HandleCommit(diffs)
	require.Len(t, updates, 1)
	require.Equal(t, "clientA", updates[0].ClientID)
	require.Len(t, updates[0].Deltas, 1)
	require.Len(t, updates[0].Deltas[0].Ops, 1)
	require.Equal(t, OpInsert, updates[0].Deltas[0].Ops[0].Op)
	require.Equal(t, algebraic.ProductValue{uint64(1), "alice"}, updates[0].Deltas[0].Ops[0].Row)

	tx2 := db.Begin()
	_, err = tx2.Insert(schema.ID, algebraic.ProductValue{uint64(0), "bob"})
	require.NoError(t, err)
	diffs2, err := tx2.Commit()
	require.NoError(t, err)

	updates2 := e.HandleCommit(diffs2)
	require.Len(t, updates2, 1)
	require.Equal(t, algebraic.ProductValue{uint64(2), "bob"}, updates2[0].Deltas[0].Ops[0].Row)
}

func scoreSchema() *table.Schema {
	s := table.NewSchema(ident.TableID(2), "Score")
	s.AddColumn(table.Column{Name: "player", Type: algebraic.Primitive(algebraic.KindU64)})
	s.AddColumn(table.Column{Name: "value", Type: algebraic.Primitive(algebraic.KindI32)})
	return s
}

func TestFilteredSubscriptionScenario(t *testing.T) {
	db := newTestDB(t)
	schema := scoreSchema()
	db.RegisterTable(schema)

	e := NewEngine(db)
	plan := queryplan.Logical{
		Table:      "Score",
		Predicates: []queryplan.Predicate{{Column: "player", Op: queryplan.OpEq, Value: uint64(2)}},
	}
	_, err := e.Subscribe("clientA", 1, plan, algebraic.Identity{})
	require.NoError(t, err)

	tx := db.Begin()
	_, err = tx.Insert(schema.ID, algebraic.ProductValue{uint64(1), int32(10)})
	require.NoError(t, err)
	diffs, err := tx.Commit()
	require.NoError(t, err)
	require.Empty(t, e.HandleCommit(diffs), "non-matching insert produces no diff")

	tx2 := db.Begin()
	id, err := tx2.Insert(schema.ID, algebraic.ProductValue{uint64(2), int32(20)})
	require.NoError(t, err)
	diffs2, err := tx2.Commit()
	require.NoError(t, err)
	updates2 := e.HandleCommit(diffs2)
	require.Len(t, updates2, 1)
	require.Equal(t, OpInsert, updates2[0].Deltas[0].Ops[0].Op)

	tx3 := db.Begin()
	require.NoError(t, tx3.Delete(schema.ID, id))
	_, err = tx3.Insert(schema.ID, algebraic.ProductValue{uint64(3), int32(20)})
	require.NoError(t, err)
	diffs3, err := tx3.Commit()
	require.NoError(t, err)
	updates3 := e.HandleCommit(diffs3)
	require.Len(t, updates3, 1)
	require.Equal(t, OpDelete, updates3[0].Deltas[0].Ops[0].Op)
}

func secretSchema() *table.Schema {
	s := table.NewSchema(ident.TableID(3), "Secret")
	s.AddColumn(table.Column{Name: "owner", Type: algebraic.IdentityType()})
	s.AddColumn(table.Column{Name: "data", Type: algebraic.Primitive(algebraic.KindString)})
	return s
}

func TestRowLevelSecurityScenario(t *testing.T) {
	db := newTestDB(t)
	schema := secretSchema()
	db.RegisterTable(schema)

	e := NewEngine(db)
	ownerA := algebraic.Identity{1}
	ownerB := algebraic.Identity{2}

	// owner is the distinguished Identity product, so its runtime row
	// value is a one-element ProductValue wrapping the raw [32]byte,
	// the same Product-wrapping every soleElement-detected type uses.
	require.NoError(t, e.SetRLS("Secret", func(col func(string) (any, bool), subscriber algebraic.Identity) bool {
		v, ok := col("owner")
		if !ok {
			return false
		}
		wrapped, ok := v.(algebraic.ProductValue)
		if !ok || len(wrapped) != 1 {
			return false
		}
		raw, ok := wrapped[0].([32]byte)
		return ok && raw == [32]byte(subscriber)
	}))

	_, err := e.Subscribe("clientA", 1, queryplan.Logical{Table: "Secret"}, ownerA)
	require.NoError(t, err)
	_, err = e.Subscribe("clientB", 2, queryplan.Logical{Table: "Secret"}, ownerB)
	require.NoError(t, err)

	tx := db.Begin()
	_, err = tx.Insert(schema.ID, algebraic.ProductValue{algebraic.ProductValue{[32]byte(ownerA)}, "x"})
	require.NoError(t, err)
	diffs, err := tx.Commit()
	require.NoError(t, err)

	updates := e.HandleCommit(diffs)
	require.Len(t, updates, 1, "only clientA's subscription should see a diff")
	require.Equal(t, "clientA", updates[0].ClientID)
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	db := newTestDB(t)
	schema := playerSchema()
	db.RegisterTable(schema)

	e := NewEngine(db)
	_, err := e.Subscribe("clientA", 1, queryplan.Logical{Table: "Player"}, algebraic.Identity{})
	require.NoError(t, err)
	e.Unsubscribe(1)

	tx := db.Begin()
	_, err = tx.Insert(schema.ID, algebraic.ProductValue{uint64(0), "alice"})
	require.NoError(t, err)
	diffs, err := tx.Commit()
	require.NoError(t, err)
	require.Empty(t, e.HandleCommit(diffs))
}
