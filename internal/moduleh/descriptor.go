// Package moduleh is the module host: it owns a database's single
// executor goroutine, the FIFO reducer dispatch queue, lifecycle
// callback invocation, scheduled-reducer timers, and energy metering.
// It depends only on internal/storage/txn and the small ModuleRuntime
// interface a WASM-hosting package (internal/abi) implements, so this
// package never imports a WASM runtime directly.
package moduleh

import (
	"github.com/clockworklabs/stdb-core/internal/algebraic"
	"github.com/clockworklabs/stdb-core/internal/storage/table"
)

// LifecycleKind names a reducer's special invocation point, if any.
type LifecycleKind uint8

const (
	LifecycleNone LifecycleKind = iota
	LifecycleInit
	LifecycleClientConnected
	LifecycleClientDisconnected
	LifecycleScheduled
)

// ColumnDef describes one column of a table the module wants installed.
type ColumnDef struct {
	Name       string
	Type       algebraic.Type
	AutoInc    bool
	PrimaryKey bool
}

// IndexDef describes one index the module wants installed.
type IndexDef struct {
	Name      string
	Columns   []string
	Unique    bool
	Algorithm table.Algorithm
}

// ScheduleDef marks a table as a scheduling table: inserting a row
// arms a timer that invokes ReducerName with empty args; the row is not
// passed to it.
type ScheduleDef struct {
	ReducerName string
	ColumnName  string // the column carrying the ScheduleAt value
}

// TableDef describes one table the module wants installed.
type TableDef struct {
	Name     string
	Columns  []ColumnDef
	Indexes  []IndexDef
	Schedule *ScheduleDef
}

// ReducerDef describes one reducer the module exports.
type ReducerDef struct {
	Name      string
	Args      algebraic.Type // a Product of the reducer's named parameters
	Lifecycle LifecycleKind
}

// Descriptor is the module's full schema: every table and reducer it
// wants the host to install, as returned by the WASM module's
// __describe_module__ export.
type Descriptor struct {
	Tables   []TableDef
	Reducers []ReducerDef
}

// Table looks up a TableDef by name.
func (d Descriptor) Table(name string) (TableDef, bool) {
	for _, t := range d.Tables {
		if t.Name == name {
			return t, true
		}
	}
	return TableDef{}, false
}

// Reducer looks up a ReducerDef by name.
func (d Descriptor) Reducer(name string) (ReducerDef, bool) {
	for _, r := range d.Reducers {
		if r.Name == name {
			return r, true
		}
	}
	return ReducerDef{}, false
}
