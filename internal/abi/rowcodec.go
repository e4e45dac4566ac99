package abi

import (
	"github.com/clockworklabs/stdb-core/internal/algebraic"
	"github.com/clockworklabs/stdb-core/internal/bsatn"
	"github.com/clockworklabs/stdb-core/internal/storage/table"
)

// rowType, decodeRow and encodeRow forward to table.Schema's row codec
// (shared with internal/session's wire-frame row encoding), so the ABI
// boundary and the WebSocket boundary encode a table's rows against
// exactly the same Product type.
func rowType(schema *table.Schema) algebraic.Type { return schema.RowType() }

func decodeRow(ts *algebraic.Typespace, schema *table.Schema, buf []byte) (algebraic.ProductValue, error) {
	return schema.DecodeRow(ts, buf)
}

func encodeRow(ts *algebraic.Typespace, schema *table.Schema, row algebraic.ProductValue) ([]byte, error) {
	return schema.EncodeRow(ts, row)
}

// rowsWriter concatenates BSATN-encoded rows back to back, the shape
// _iter_by_col_eq's out_buf and _iter_next's row buffer return.
type rowsWriter struct {
	ts     *algebraic.Typespace
	schema *table.Schema
	w      *bsatn.Writer
}

func newRowsWriter(ts *algebraic.Typespace, schema *table.Schema) *rowsWriter {
	return &rowsWriter{ts: ts, schema: schema, w: bsatn.NewWriter()}
}

func (rw *rowsWriter) append(row algebraic.ProductValue) error {
	return algebraic.Encode(rw.ts, rowType(rw.schema), row, rw.w)
}

func (rw *rowsWriter) bytes() []byte { return rw.w.Bytes() }
