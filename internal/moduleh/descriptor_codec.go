package moduleh

import (
	"github.com/clockworklabs/stdb-core/internal/algebraic"
	"github.com/clockworklabs/stdb-core/internal/bsatn"
	"github.com/clockworklabs/stdb-core/internal/storage/table"
)

// EncodeDescriptor serializes d to the buffer format __describe_module__
// returns. internal/abi hands that buffer straight to DecodeDescriptor;
// no WASM module ever needs to decode a Descriptor itself, so this
// codec only runs host-side, but it is still BSATN end to end to match
// every other wire format in the host.
func EncodeDescriptor(d Descriptor) []byte {
	w := bsatn.NewWriter()
	w.WriteArrayHeader(len(d.Tables))
	for _, t := range d.Tables {
		encodeTableDef(w, t)
	}
	w.WriteArrayHeader(len(d.Reducers))
	for _, r := range d.Reducers {
		encodeReducerDef(w, r)
	}
	return w.Bytes()
}

func encodeTableDef(w *bsatn.Writer, t TableDef) {
	w.WriteString(t.Name)
	w.WriteArrayHeader(len(t.Columns))
	for _, c := range t.Columns {
		w.WriteString(c.Name)
		algebraic.EncodeType(w, c.Type)
		w.WriteBool(c.AutoInc)
		w.WriteBool(c.PrimaryKey)
	}
	w.WriteArrayHeader(len(t.Indexes))
	for _, idx := range t.Indexes {
		w.WriteString(idx.Name)
		w.WriteArrayHeader(len(idx.Columns))
		for _, col := range idx.Columns {
			w.WriteString(col)
		}
		w.WriteBool(idx.Unique)
		w.WriteU8(uint8(idx.Algorithm))
	}
	if t.Schedule != nil {
		w.WriteOptionSome()
		w.WriteString(t.Schedule.ReducerName)
		w.WriteString(t.Schedule.ColumnName)
	} else {
		w.WriteOptionNone()
	}
}

func encodeReducerDef(w *bsatn.Writer, r ReducerDef) {
	w.WriteString(r.Name)
	algebraic.EncodeType(w, r.Args)
	w.WriteU8(uint8(r.Lifecycle))
}

// DecodeDescriptor reverses EncodeDescriptor.
func DecodeDescriptor(buf []byte) (Descriptor, error) {
	r := bsatn.NewReader(buf)
	nTables, err := r.ReadArrayHeader()
	if err != nil {
		return Descriptor{}, err
	}
	tables := make([]TableDef, nTables)
	for i := range tables {
		td, err := decodeTableDef(r)
		if err != nil {
			return Descriptor{}, err
		}
		tables[i] = td
	}
	nReducers, err := r.ReadArrayHeader()
	if err != nil {
		return Descriptor{}, err
	}
	reducers := make([]ReducerDef, nReducers)
	for i := range reducers {
		rd, err := decodeReducerDef(r)
		if err != nil {
			return Descriptor{}, err
		}
		reducers[i] = rd
	}
	return Descriptor{Tables: tables, Reducers: reducers}, nil
}

func decodeTableDef(r *bsatn.Reader) (TableDef, error) {
	name, err := r.ReadString()
	if err != nil {
		return TableDef{}, err
	}
	nCols, err := r.ReadArrayHeader()
	if err != nil {
		return TableDef{}, err
	}
	cols := make([]ColumnDef, nCols)
	for i := range cols {
		cname, err := r.ReadString()
		if err != nil {
			return TableDef{}, err
		}
		ctype, err := algebraic.DecodeType(r)
		if err != nil {
			return TableDef{}, err
		}
		autoInc, err := r.ReadBool()
		if err != nil {
			return TableDef{}, err
		}
		pk, err := r.ReadBool()
		if err != nil {
			return TableDef{}, err
		}
		cols[i] = ColumnDef{Name: cname, Type: ctype, AutoInc: autoInc, PrimaryKey: pk}
	}
	nIdx, err := r.ReadArrayHeader()
	if err != nil {
		return TableDef{}, err
	}
	indexes := make([]IndexDef, nIdx)
	for i := range indexes {
		iname, err := r.ReadString()
		if err != nil {
			return TableDef{}, err
		}
		nColRefs, err := r.ReadArrayHeader()
		if err != nil {
			return TableDef{}, err
		}
		colRefs := make([]string, nColRefs)
		for j := range colRefs {
			colRefs[j], err = r.ReadString()
			if err != nil {
				return TableDef{}, err
			}
		}
		unique, err := r.ReadBool()
		if err != nil {
			return TableDef{}, err
		}
		algo, err := r.ReadU8()
		if err != nil {
			return TableDef{}, err
		}
		indexes[i] = IndexDef{Name: iname, Columns: colRefs, Unique: unique, Algorithm: table.Algorithm(algo)}
	}
	present, err := r.ReadOptionTag()
	if err != nil {
		return TableDef{}, err
	}
	var sched *ScheduleDef
	if present {
		reducerName, err := r.ReadString()
		if err != nil {
			return TableDef{}, err
		}
		colName, err := r.ReadString()
		if err != nil {
			return TableDef{}, err
		}
		sched = &ScheduleDef{ReducerName: reducerName, ColumnName: colName}
	}
	return TableDef{Name: name, Columns: cols, Indexes: indexes, Schedule: sched}, nil
}

func decodeReducerDef(r *bsatn.Reader) (ReducerDef, error) {
	name, err := r.ReadString()
	if err != nil {
		return ReducerDef{}, err
	}
	argsType, err := algebraic.DecodeType(r)
	if err != nil {
		return ReducerDef{}, err
	}
	lifecycle, err := r.ReadU8()
	if err != nil {
		return ReducerDef{}, err
	}
	return ReducerDef{Name: name, Args: argsType, Lifecycle: LifecycleKind(lifecycle)}, nil
}
