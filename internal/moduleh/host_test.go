package moduleh

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/clockworklabs/stdb-core/internal/algebraic"
	"github.com/clockworklabs/stdb-core/internal/storage/table"
	"github.com/clockworklabs/stdb-core/internal/storage/txn"
)

// fakeRuntime is a ModuleRuntime stand-in that inserts one row per
// "add_player" call instead of executing WASM, enough to exercise the
// Host's dispatch/commit/scheduler plumbing.
type fakeRuntime struct {
	desc       Descriptor
	initCalled bool
}

func (f *fakeRuntime) Describe() (Descriptor, error) { return f.desc, nil }

func (f *fakeRuntime) CallReducer(rc *ReducerContext, name string, args []byte) error {
	switch name {
	case "init":
		f.initCalled = true
		return nil
	case "add_player":
		_, err := rc.Txn.Insert(1, algebraic.ProductValue{uint64(0), "alice"})
		return err
	}
	return nil
}

func playerDescriptor() Descriptor {
	return Descriptor{
		Tables: []TableDef{{
			Name: "player",
			Columns: []ColumnDef{
				{Name: "id", Type: algebraic.Primitive(algebraic.KindU64), AutoInc: true, PrimaryKey: true},
				{Name: "name", Type: algebraic.Primitive(algebraic.KindString)},
			},
		}},
		Reducers: []ReducerDef{
			{Name: "init", Lifecycle: LifecycleInit},
			{Name: "add_player"},
		},
	}
}

func openTestDB(t *testing.T) *txn.Database {
	t.Helper()
	dir, err := os.MkdirTemp("", "stdb-moduleh-*")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(dir) })
	db, err := txn.Open(dir)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestInstallRunsInitLifecycleAndRegistersTables(t *testing.T) {
	db := openTestDB(t)
	rt := &fakeRuntime{desc: playerDescriptor()}
	h := NewHost(db, rt, 10_000)

	require.NoError(t, h.Install(context.Background()))
	require.True(t, rt.initCalled)

	_, ok := db.Schema(1)
	require.True(t, ok)
}

func TestDispatchCommitsAndNotifiesOnCommit(t *testing.T) {
	db := openTestDB(t)
	rt := &fakeRuntime{desc: playerDescriptor()}
	h := NewHost(db, rt, 10_000)
	require.NoError(t, h.Install(context.Background()))

	var gotDiffs []txn.Diff
	h.OnCommit = func(diffs []txn.Diff) { gotDiffs = diffs }

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.Start(ctx)
	defer h.Stop()

	require.NoError(t, h.Dispatch("add_player", nil, algebraic.Identity{}, algebraic.ConnectionID{}))

	require.Len(t, gotDiffs, 1)
	require.Len(t, gotDiffs[0].Inserted, 1)
	require.Len(t, db.Snapshot().Rows(1), 1)
}

func TestReplaceRejectsDroppedTable(t *testing.T) {
	db := openTestDB(t)
	rt := &fakeRuntime{desc: playerDescriptor()}
	h := NewHost(db, rt, 10_000)
	require.NoError(t, h.Install(context.Background()))

	rt.desc = Descriptor{Reducers: rt.desc.Reducers} // drops the "player" table
	err := h.Replace(context.Background())
	require.Error(t, err)
	var incompat *SchemaIncompatible
	require.ErrorAs(t, err, &incompat)
}

func TestReplaceAllowsAddingTable(t *testing.T) {
	db := openTestDB(t)
	rt := &fakeRuntime{desc: playerDescriptor()}
	h := NewHost(db, rt, 10_000)
	require.NoError(t, h.Install(context.Background()))

	extended := playerDescriptor()
	extended.Tables = append(extended.Tables, TableDef{
		Name:    "score",
		Columns: []ColumnDef{{Name: "value", Type: algebraic.Primitive(algebraic.KindU32)}},
	})
	rt.desc = extended
	require.NoError(t, h.Replace(context.Background()))

	_, ok := db.Schema(2)
	require.True(t, ok)
}

func TestEnergyBudgetExhausts(t *testing.T) {
	b := NewBudget(5)
	require.NoError(t, b.Charge(3))
	err := b.Charge(3)
	require.ErrorIs(t, err, EnergyExhausted)
	require.Equal(t, int64(0), b.Remaining())
}

func TestSchedulerArmsAndFiresTimer(t *testing.T) {
	fired := make(chan string, 1)
	sched := NewScheduler(func(reducer string, args []byte, sender algebraic.Identity, conn algebraic.ConnectionID) error {
		fired <- reducer
		return nil
	})

	db := openTestDB(t)
	schema := table.NewSchema(1, "timer")
	schema.AddColumn(table.Column{Name: "id", Type: algebraic.Primitive(algebraic.KindU64)})
	schema.AddColumn(table.Column{Name: "fire_at", Type: algebraic.ScheduleAtType()})
	db.RegisterTable(schema)

	at := algebraic.NewScheduleAtTime(algebraic.NewTimestampFromTime(time.Now()))
	row := algebraic.ProductValue{uint64(1), algebraic.SumValue{Tag: 1, Payload: int64(at.At)}}
	diffs := []txn.Diff{{Table: schema.ID, Inserted: []txn.RowChange{{ID: 1, Row: row}}}}

	desc := Descriptor{Tables: []TableDef{{
		Name:     schema.Name,
		Columns:  []ColumnDef{{Name: "id"}, {Name: "fire_at"}},
		Schedule: &ScheduleDef{ReducerName: "tick", ColumnName: "fire_at"},
	}}}

	sched.Reprogram(diffs, desc, db)

	select {
	case name := <-fired:
		require.Equal(t, "tick", name)
	case <-time.After(2 * time.Second):
		t.Fatal("scheduled reducer never fired")
	}
}
