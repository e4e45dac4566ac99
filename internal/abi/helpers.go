package abi

import (
	"github.com/clockworklabs/stdb-core/internal/algebraic"
	"github.com/clockworklabs/stdb-core/internal/storage/table"
	"github.com/clockworklabs/stdb-core/internal/storage/txn"
)

// flattenRows discards row ids, the iteration ABI only ever hands a
// module the row values themselves.
func flattenRows(rows map[table.RowID]algebraic.ProductValue) []algebraic.ProductValue {
	out := make([]algebraic.ProductValue, 0, len(rows))
	for _, row := range rows {
		out = append(out, row)
	}
	return out
}

// mapInsertError translates a storage/txn error into the ABI's status
// vocabulary for _insert.
func mapInsertError(err error) uint32 {
	switch err.(type) {
	case *txn.UniqueViolation:
		return uint32(statusUniqueViolation)
	case *txn.TypeMismatch:
		return uint32(statusTypeMismatch)
	case *txn.NoSuchColumn:
		return uint32(statusNoSuchColumn)
	default:
		return uint32(statusInternal)
	}
}
