package txn

import "github.com/pkg/errors"

// UniqueViolation is returned when an insert or update would duplicate
// a key already present in a unique index (including the primary key).
type UniqueViolation struct {
	Index string
	Key   []byte
}

func (e *UniqueViolation) Error() string {
	return "txn: unique constraint violated on index " + e.Index
}

// NoSuchColumn is returned when an operation names a column position
// or name that the target table does not have.
type NoSuchColumn struct {
	Table  string
	Column string
}

func (e *NoSuchColumn) Error() string {
	return "txn: table " + e.Table + " has no column " + e.Column
}

// TypeMismatch is returned when a row value's runtime type does not
// match its column's declared AlgebraicType.
type TypeMismatch struct {
	Table  string
	Column string
	Want   string
	Got    string
}

func (e *TypeMismatch) Error() string {
	return "txn: column " + e.Table + "." + e.Column + ": want " + e.Want + ", got " + e.Got
}

// NoSuchRow is returned when Delete/Update names a row id that does
// not exist in the current transaction's view.
type NoSuchRow struct {
	Table string
}

func (e *NoSuchRow) Error() string {
	return "txn: no such row in table " + e.Table
}

// ErrNoSuchTable is returned when an operation names an unregistered table.
var ErrNoSuchTable = errors.New("txn: no such table")

// ErrAlreadyResolved is returned by Commit/Abort on a transaction that
// was already committed or aborted.
var ErrAlreadyResolved = errors.New("txn: transaction already resolved")
