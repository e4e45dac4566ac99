// Package subscribe is the subscription engine of §4.4: it compiles a
// queryplan.Logical (never SQL text — that is internal/sqlfront's
// job) into a matcher, evaluates it by a full scan of the database's
// committed snapshot for a subscription's initial update, and computes
// per-client diffs in HandleCommit, which the host calls after each
// commit.
package subscribe

import (
	"fmt"
	"sync"

	"github.com/pkg/errors"

	"github.com/clockworklabs/stdb-core/internal/algebraic"
	"github.com/clockworklabs/stdb-core/internal/ident"
	"github.com/clockworklabs/stdb-core/internal/queryplan"
	"github.com/clockworklabs/stdb-core/internal/storage/table"
	"github.com/clockworklabs/stdb-core/internal/storage/txn"
)

// Op is the kind of change one RowOp in a TableDelta carries.
type Op int

const (
	OpInsert Op = iota
	OpDelete
	OpUpdate
)

// RowOp is one row-level change delivered to a subscriber.
type RowOp struct {
	Op  Op
	Row algebraic.ProductValue
}

// TableDelta is one table's share of a database_update (§4.5):
// everything a subscriber needs to update its local materialized copy
// of one table.
type TableDelta struct {
	Table string
	Ops   []RowOp
}

// ClientUpdate groups every TableDelta produced by one commit for one
// client, the shape internal/session hands to a client's send queue.
type ClientUpdate struct {
	ClientID string
	Deltas   []TableDelta
}

// RLSPredicate is a per-table row-level-security check, parameterized
// on the subscriber's identity. It is installed by the module host at
// publish time (§4.3 step 3 validates RLS predicates parse), not
// derived from subscription SQL text.
type RLSPredicate func(col func(name string) (any, bool), subscriber algebraic.Identity) bool

// ErrNoSuchTable is returned when a plan names a table the database
// has no schema for.
var ErrNoSuchTable = errors.New("subscribe: no such table")

type subscription struct {
	id           uint64
	clientID     string
	plan         queryplan.Logical
	identity     algebraic.Identity
	tableID      ident.TableID
	hasJoin      bool
	otherTableID ident.TableID
	last         map[string]algebraic.ProductValue
}

// Engine owns every live subscription against one Database.
type Engine struct {
	db *txn.Database

	mu      sync.Mutex
	subs    map[uint64]*subscription
	byTable map[ident.TableID]map[uint64]bool
	rls     map[ident.TableID]RLSPredicate
}

func NewEngine(db *txn.Database) *Engine {
	return &Engine{
		db:      db,
		subs:    map[uint64]*subscription{},
		byTable: map[ident.TableID]map[uint64]bool{},
	}
}

// SetRLS installs (or clears, with a nil pred) table's row-level-
// security predicate.
func (e *Engine) SetRLS(tableName string, pred RLSPredicate) error {
	schema, ok := e.schemaByName(tableName)
	if !ok {
		return errors.Wrapf(ErrNoSuchTable, "%q", tableName)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.rls == nil {
		e.rls = map[ident.TableID]RLSPredicate{}
	}
	if pred == nil {
		delete(e.rls, schema.ID)
		return nil
	}
	e.rls[schema.ID] = pred
	return nil
}

func (e *Engine) schemaByName(name string) (*table.Schema, bool) {
	for _, s := range e.db.AllSchemas() {
		if s.Name == name {
			return s, true
		}
	}
	return nil, false
}

// Subscribe registers plan for clientID under id, evaluates it against
// the current committed snapshot, and returns the initial update (all
// matched rows delivered as inserts), per §4.4's subscribe contract.
func (e *Engine) Subscribe(clientID string, id uint64, plan queryplan.Logical, identity algebraic.Identity) (TableDelta, error) {
	schema, ok := e.schemaByName(plan.Table)
	if !ok {
		return TableDelta{}, errors.Wrapf(ErrNoSuchTable, "%q", plan.Table)
	}

	sub := &subscription{
		id:       id,
		clientID: clientID,
		plan:     plan,
		identity: identity,
		tableID:  schema.ID,
	}
	if plan.Join != nil {
		otherSchema, ok := e.schemaByName(plan.Join.OtherTable)
		if !ok {
			return TableDelta{}, errors.Wrapf(ErrNoSuchTable, "%q", plan.Join.OtherTable)
		}
		sub.hasJoin = true
		sub.otherTableID = otherSchema.ID
	}

	matched := e.evaluate(sub)
	sub.last = matched

	e.mu.Lock()
	e.subs[id] = sub
	e.index(sub.tableID, id)
	if sub.hasJoin {
		e.index(sub.otherTableID, id)
	}
	e.mu.Unlock()

	delta := TableDelta{Table: plan.Table}
	for _, row := range matched {
		delta.Ops = append(delta.Ops, RowOp{Op: OpInsert, Row: row})
	}
	return delta, nil
}

func (e *Engine) index(tableID ident.TableID, subID uint64) {
	if e.byTable[tableID] == nil {
		e.byTable[tableID] = map[uint64]bool{}
	}
	e.byTable[tableID][subID] = true
}

// Unsubscribe drops one subscription.
func (e *Engine) Unsubscribe(id uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	sub, ok := e.subs[id]
	if !ok {
		return
	}
	delete(e.subs, id)
	delete(e.byTable[sub.tableID], id)
	if sub.hasJoin {
		delete(e.byTable[sub.otherTableID], id)
	}
}

// DropClient removes every subscription owned by clientID, per a
// disconnecting session.
func (e *Engine) DropClient(clientID string) {
	e.mu.Lock()
	var toDrop []uint64
	for id, sub := range e.subs {
		if sub.clientID == clientID {
			toDrop = append(toDrop, id)
		}
	}
	e.mu.Unlock()
	for _, id := range toDrop {
		e.Unsubscribe(id)
	}
}

// HandleCommit recomputes every subscription touched by diffs and
// returns the resulting per-client updates, called synchronously from
// inside storage/txn.Commit's caller (moduleh.Host.OnCommit), per
// §4.4's "diffs computed synchronously inside commit" contract.
func (e *Engine) HandleCommit(diffs []txn.Diff) []ClientUpdate {
	touched := map[uint64]bool{}
	e.mu.Lock()
	for _, d := range diffs {
		for id := range e.byTable[d.Table] {
			touched[id] = true
		}
	}
	subs := make([]*subscription, 0, len(touched))
	for id := range touched {
		subs = append(subs, e.subs[id])
	}
	e.mu.Unlock()

	byClient := map[string]map[string]TableDelta{}
	for _, sub := range subs {
		if sub == nil {
			continue
		}
		delta, changed := e.recompute(sub)
		if !changed {
			continue
		}
		if byClient[sub.clientID] == nil {
			byClient[sub.clientID] = map[string]TableDelta{}
		}
		byClient[sub.clientID][sub.plan.Table] = mergeDelta(byClient[sub.clientID][sub.plan.Table], delta)
	}

	out := make([]ClientUpdate, 0, len(byClient))
	for clientID, deltas := range byClient {
		cu := ClientUpdate{ClientID: clientID}
		for _, d := range deltas {
			cu.Deltas = append(cu.Deltas, d)
		}
		out = append(out, cu)
	}
	return out
}

func mergeDelta(existing, add TableDelta) TableDelta {
	if existing.Table == "" {
		return add
	}
	existing.Ops = append(existing.Ops, add.Ops...)
	return existing
}

// recompute re-evaluates sub against the current committed snapshot
// and diffs the result against sub.last (the cached result-set digest
// §3 names), updating sub.last in place. Keying the diff by primary
// key (or, lacking one, the row's own content) collapses a delete+
// insert pair that share a key into a single OpUpdate, satisfying the
// order-stability invariant of §4.4 without needing to correlate
// row ids across the commit's raw Diff.
func (e *Engine) recompute(sub *subscription) (TableDelta, bool) {
	matched := e.evaluate(sub)
	delta := TableDelta{Table: sub.plan.Table}

	for key, newRow := range matched {
		if oldRow, existed := sub.last[key]; existed {
			if !rowsEqual(oldRow, newRow) {
				delta.Ops = append(delta.Ops, RowOp{Op: OpUpdate, Row: newRow})
			}
		} else {
			delta.Ops = append(delta.Ops, RowOp{Op: OpInsert, Row: newRow})
		}
	}
	for key, oldRow := range sub.last {
		if _, stillMatches := matched[key]; !stillMatches {
			delta.Ops = append(delta.Ops, RowOp{Op: OpDelete, Row: oldRow})
		}
	}

	sub.last = matched
	return delta, len(delta.Ops) > 0
}

func rowsEqual(a, b algebraic.ProductValue) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if fmt.Sprintf("%v", a[i]) != fmt.Sprintf("%v", b[i]) {
			return false
		}
	}
	return true
}

// evaluate computes sub's full matching set against the database's
// current committed snapshot.
func (e *Engine) evaluate(sub *subscription) map[string]algebraic.ProductValue {
	schema, ok := e.db.Schema(sub.tableID)
	if !ok {
		return nil
	}
	snap := e.db.Snapshot()
	rows := snap.Rows(sub.tableID)

	var otherSchema *table.Schema
	var otherValues map[string]bool
	if sub.hasJoin {
		otherSchema, ok = e.db.Schema(sub.otherTableID)
		if !ok {
			return nil
		}
		otherValues = map[string]bool{}
		for _, r := range snap.Rows(sub.otherTableID) {
			v, ok := columnValue(otherSchema, r, sub.plan.Join.RightColumn)
			if ok {
				otherValues[fmt.Sprintf("%v", v)] = true
			}
		}
	}

	e.mu.Lock()
	rls := e.rls[sub.tableID]
	e.mu.Unlock()

	out := map[string]algebraic.ProductValue{}
	for _, row := range rows {
		lookup := func(name string) (any, bool) { return columnValue(schema, row, name) }
		if !sub.plan.MatchesRow(lookup) {
			continue
		}
		if sub.hasJoin {
			v, ok := columnValue(schema, row, sub.plan.Join.LeftColumn)
			if !ok || !otherValues[fmt.Sprintf("%v", v)] {
				continue
			}
		}
		if rls != nil && !rls(lookup, sub.identity) {
			continue
		}
		out[keyOf(schema, row)] = row
	}
	_ = otherSchema
	return out
}

func columnValue(schema *table.Schema, row algebraic.ProductValue, name string) (any, bool) {
	for i, c := range schema.Columns {
		if c.Name == name {
			if i >= len(row) {
				return nil, false
			}
			return row[i], true
		}
	}
	return nil, false
}

func keyOf(schema *table.Schema, row algebraic.ProductValue) string {
	if schema.PrimaryKey >= 0 && schema.PrimaryKey < len(row) {
		return fmt.Sprintf("%v", row[schema.PrimaryKey])
	}
	return fmt.Sprintf("%v", []any(row))
}
