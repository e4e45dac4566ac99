// Package ident provides the compact numeric identifier tables the
// host assigns at schema-install time: TableID, ColumnID, and
// ReducerID. The ABI boundary (internal/abi) rejects any id a module
// presents that these tables don't recognize, per the DESIGN NOTES
// guidance to build two compact id->metadata tables per database and
// reject unknown ids at the boundary.
package ident

import "github.com/pkg/errors"

type TableID uint32
type ColumnID uint32
type ReducerID uint32
type IndexID uint32

// ErrUnknown is returned by lookups that miss.
var ErrUnknown = errors.New("ident: unknown id")

// Table interns names to TableIDs, assigned in registration order
// starting at 1 (0 is reserved as "no table").
type Table struct {
	byName map[string]TableID
	byID   map[TableID]string
	next   TableID
}

func NewTable() *Table {
	return &Table{byName: map[string]TableID{}, byID: map[TableID]string{}, next: 1}
}

// Intern assigns (or returns the existing) id for name.
func (t *Table) Intern(name string) TableID {
	if id, ok := t.byName[name]; ok {
		return id
	}
	id := t.next
	t.next++
	t.byName[name] = id
	t.byID[id] = name
	return id
}

func (t *Table) ByName(name string) (TableID, bool) {
	id, ok := t.byName[name]
	return id, ok
}

func (t *Table) Name(id TableID) (string, error) {
	name, ok := t.byID[id]
	if !ok {
		return "", errors.Wrapf(ErrUnknown, "table id %d", id)
	}
	return name, nil
}

// Columns interns per-table column names to ColumnIDs, independently
// per table (column ids are local to their owning table).
type Columns struct {
	byName map[string]ColumnID
	byID   map[ColumnID]string
	next   ColumnID
}

func NewColumns() *Columns {
	return &Columns{byName: map[string]ColumnID{}, byID: map[ColumnID]string{}, next: 0}
}

func (c *Columns) Intern(name string) ColumnID {
	if id, ok := c.byName[name]; ok {
		return id
	}
	id := c.next
	c.next++
	c.byName[name] = id
	c.byID[id] = name
	return id
}

func (c *Columns) ByName(name string) (ColumnID, bool) {
	id, ok := c.byName[name]
	return id, ok
}

func (c *Columns) Name(id ColumnID) (string, error) {
	name, ok := c.byID[id]
	if !ok {
		return "", errors.Wrapf(ErrUnknown, "column id %d", id)
	}
	return name, nil
}

// Reducers interns reducer names to ReducerIDs.
type Reducers struct {
	byName map[string]ReducerID
	byID   map[ReducerID]string
	next   ReducerID
}

func NewReducers() *Reducers {
	return &Reducers{byName: map[string]ReducerID{}, byID: map[ReducerID]string{}, next: 1}
}

func (r *Reducers) Intern(name string) ReducerID {
	if id, ok := r.byName[name]; ok {
		return id
	}
	id := r.next
	r.next++
	r.byName[name] = id
	r.byID[id] = name
	return id
}

func (r *Reducers) ByName(name string) (ReducerID, bool) {
	id, ok := r.byName[name]
	return id, ok
}

func (r *Reducers) Name(id ReducerID) (string, error) {
	name, ok := r.byID[id]
	if !ok {
		return "", errors.Wrapf(ErrUnknown, "reducer id %d", id)
	}
	return name, nil
}
