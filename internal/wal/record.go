// Package wal implements the write-ahead log and crash-recovery path:
// a self-delimiting binary record format, an fsync-before-ack Writer,
// a Snappy-compressed Snapshotter, and Recovery.Replay which restores a
// Database by replaying records directly against internal/storage/txn
// (never by re-invoking reducers).
package wal

import (
	"github.com/pkg/errors"

	"github.com/clockworklabs/stdb-core/internal/bsatn"
)

// OpKind discriminates one row operation within a committed Record.
type OpKind uint8

const (
	OpInsert OpKind = iota
	OpDelete
)

// RowOp is one row-level effect of a committed transaction, in commit
// order, replayed directly against storage/txn during recovery.
type RowOp struct {
	Kind   OpKind
	Table  uint32 // ident.TableID, kept as a raw integer to avoid an import cycle
	RowID  uint64 // the row's internal table.RowID, for both OpDelete and OpInsert
	Row    []byte // BSATN-encoded ProductValue, present only for OpInsert
}

// Record is one committed transaction: the reducer identity that
// produced it (for diagnostics and audit; replay never calls it again),
// its BSATN-encoded arguments, and the ordered row operations the
// commit produced.
type Record struct {
	TxnID        uint64
	CommitMicros int64
	ReducerName  string
	Args         []byte
	Ops          []RowOp
}

// Encode serializes r into its WAL payload (not including the outer
// length/crc32 framing, which Writer/Reader own).
func Encode(r Record) []byte {
	w := bsatn.NewWriter()
	w.WriteU64(r.TxnID)
	w.WriteI64(r.CommitMicros)
	w.WriteString(r.ReducerName)
	w.WriteBytes(r.Args)
	w.WriteArrayHeader(len(r.Ops))
	for _, op := range r.Ops {
		w.WriteU8(uint8(op.Kind))
		w.WriteU32(op.Table)
		w.WriteU64(op.RowID)
		w.WriteBytes(op.Row)
	}
	return w.Bytes()
}

// Decode parses a payload previously produced by Encode.
func Decode(buf []byte) (Record, error) {
	r := bsatn.NewReader(buf)
	var rec Record
	var err error
	if rec.TxnID, err = r.ReadU64(); err != nil {
		return rec, errors.Wrap(err, "wal: decode txn id")
	}
	if rec.CommitMicros, err = r.ReadI64(); err != nil {
		return rec, errors.Wrap(err, "wal: decode commit time")
	}
	if rec.ReducerName, err = r.ReadString(); err != nil {
		return rec, errors.Wrap(err, "wal: decode reducer name")
	}
	if rec.Args, err = r.ReadBytes(); err != nil {
		return rec, errors.Wrap(err, "wal: decode args")
	}
	n, err := r.ReadArrayHeader()
	if err != nil {
		return rec, errors.Wrap(err, "wal: decode op count")
	}
	rec.Ops = make([]RowOp, n)
	for i := 0; i < n; i++ {
		kind, err := r.ReadU8()
		if err != nil {
			return rec, errors.Wrapf(err, "wal: decode op %d kind", i)
		}
		table, err := r.ReadU32()
		if err != nil {
			return rec, errors.Wrapf(err, "wal: decode op %d table", i)
		}
		rowID, err := r.ReadU64()
		if err != nil {
			return rec, errors.Wrapf(err, "wal: decode op %d row id", i)
		}
		row, err := r.ReadBytes()
		if err != nil {
			return rec, errors.Wrapf(err, "wal: decode op %d row", i)
		}
		if len(row) == 0 {
			row = nil
		}
		rec.Ops[i] = RowOp{Kind: OpKind(kind), Table: table, RowID: rowID, Row: row}
	}
	return rec, nil
}
