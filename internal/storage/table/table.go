package table

import (
	"github.com/pkg/errors"

	"github.com/clockworklabs/stdb-core/internal/algebraic"
	"github.com/clockworklabs/stdb-core/internal/bsatn"
	"github.com/clockworklabs/stdb-core/internal/ident"
)

// Column is one column of a table's row product type.
type Column struct {
	ID        ident.ColumnID
	Name      string
	Type      algebraic.Type
	AutoInc   bool
	Nullable  bool // recorded only; the column is encoded as Type either way
}

// Schema is a table's structural definition: its row product type
// (expressed as the ordered Columns), primary key, and schedule
// binding. It does not own storage; internal/storage/txn composes a
// Schema with a page.Store-backed heap.
type Schema struct {
	ID      ident.TableID
	Name    string
	Columns []Column

	PrimaryKey int // index into Columns, or -1 if none

	// Schedule, when non-nil, marks this table as a scheduling table:
	// inserting a row also arms a timer on the named reducer using the
	// ScheduleAt-typed column it names.
	Schedule *ScheduleBinding

	indexByName map[string]*Index
	byColumn    map[ident.ColumnID][]*Index
}

// ScheduleBinding names the reducer a scheduling table's rows invoke
// and which column carries the ScheduleAt value.
type ScheduleBinding struct {
	ReducerName  string
	ScheduleCol  int // index into Columns
}

// NewSchema constructs an empty schema; columns are added with AddColumn.
func NewSchema(id ident.TableID, name string) *Schema {
	return &Schema{
		ID:          id,
		Name:        name,
		PrimaryKey:  -1,
		indexByName: map[string]*Index{},
		byColumn:    map[ident.ColumnID][]*Index{},
	}
}

// AddColumn appends a column and returns its position.
func (s *Schema) AddColumn(c Column) int {
	s.Columns = append(s.Columns, c)
	return len(s.Columns) - 1
}

// SetPrimaryKey marks column position pos as the primary key and
// creates its backing unique index. pos's type must be filterable.
func (s *Schema) SetPrimaryKey(pos int) error {
	if pos < 0 || pos >= len(s.Columns) {
		return errors.Errorf("table: column position %d out of range", pos)
	}
	col := s.Columns[pos]
	if !algebraic.IsFilterablePrimitive(col.Type) {
		return errors.Errorf("table: column %q cannot be a primary key", col.Name)
	}
	s.PrimaryKey = pos
	return s.CreateIndex(col.Name+"_pkey", []int{pos}, true, AlgoBTree)
}

// CreateIndex builds and registers an index over the given column
// positions. algo chooses the backing implementation; AlgoDirect is
// only valid for a single integer column and a caller-supplied
// capacity hint is not available here, so direct indexes should be
// created directly via NewDirectIndex and attached with AttachIndex
// when the domain size is known ahead of time.
func (s *Schema) CreateIndex(name string, positions []int, unique bool, algo Algorithm) error {
	names := make([]string, len(positions))
	for i, p := range positions {
		if p < 0 || p >= len(s.Columns) {
			return errors.Errorf("table: column position %d out of range", p)
		}
		names[i] = s.Columns[p].Name
	}
	var idx *Index
	switch algo {
	case AlgoBTree:
		idx = NewBTreeIndex(name, names, unique)
	case AlgoDirect:
		return errors.Errorf("table: direct index %q needs a capacity hint, use AttachIndex", name)
	default:
		return errors.Errorf("table: unknown index algorithm %d", algo)
	}
	return s.AttachIndex(idx, positions)
}

// AttachIndex registers a pre-built index (e.g. from NewDirectIndex)
// against the given column positions.
func (s *Schema) AttachIndex(idx *Index, positions []int) error {
	if _, exists := s.indexByName[idx.Name]; exists {
		return errors.Errorf("table: index %q already exists", idx.Name)
	}
	s.indexByName[idx.Name] = idx
	for _, p := range positions {
		col := s.Columns[p].ID
		s.byColumn[col] = append(s.byColumn[col], idx)
	}
	return nil
}

// Index returns a registered index by name.
func (s *Schema) Index(name string) (*Index, bool) {
	idx, ok := s.indexByName[name]
	return idx, ok
}

// IndexesOn returns every index that includes colID among its columns,
// in any position.
func (s *Schema) IndexesOn(colID ident.ColumnID) []*Index {
	return s.byColumn[colID]
}

// AllIndexes returns every registered index, in no particular order.
func (s *Schema) AllIndexes() []*Index {
	out := make([]*Index, 0, len(s.indexByName))
	for _, idx := range s.indexByName {
		out = append(out, idx)
	}
	return out
}

// RowType builds the Product type of s's columns in declared order,
// the shape every row buffer for this table encodes against, whether
// it is crossing the ABI boundary (internal/abi) or a wire frame
// (internal/session/internal/wire).
func (s *Schema) RowType() algebraic.Type {
	elems := make([]algebraic.Element, len(s.Columns))
	for i, c := range s.Columns {
		elems[i] = algebraic.Element{Name: c.Name, Type: c.Type}
	}
	return algebraic.Product(elems...)
}

// EncodeRow serializes row against s.RowType().
func (s *Schema) EncodeRow(ts *algebraic.Typespace, row algebraic.ProductValue) ([]byte, error) {
	return algebraic.EncodeToBytes(ts, s.RowType(), row)
}

// DecodeRow reverses EncodeRow.
func (s *Schema) DecodeRow(ts *algebraic.Typespace, buf []byte) (algebraic.ProductValue, error) {
	v, err := algebraic.DecodeFromBytes(ts, s.RowType(), buf)
	if err != nil {
		return nil, err
	}
	return v.(algebraic.ProductValue), nil
}

// EncodeKey serializes the values at the given column positions, in
// order, into a byte string suitable for use as an Index key. Integer
// kinds are encoded big-endian (regardless of BSATN's little-endian
// wire convention) so that byte-lexicographic order matches numeric
// order, which index range scans depend on.
func EncodeKey(ts *algebraic.Typespace, cols []Column, positions []int, row algebraic.ProductValue) ([]byte, error) {
	w := &bsatn.Writer{}
	for _, p := range positions {
		if err := encodeKeyComponent(w, cols[p].Type, row[p]); err != nil {
			return nil, errors.Wrapf(err, "table: encode key column %q", cols[p].Name)
		}
	}
	return w.Bytes(), nil
}

func encodeKeyComponent(w *bsatn.Writer, t algebraic.Type, v any) error {
	switch t.Kind {
	case algebraic.KindU8:
		w.WriteU8(v.(uint8))
	case algebraic.KindU16:
		writeBigEndian16(w, v.(uint16))
	case algebraic.KindU32:
		writeBigEndian32(w, v.(uint32))
	case algebraic.KindU64:
		writeBigEndian64(w, v.(uint64))
	case algebraic.KindI8:
		w.WriteU8(uint8(v.(int8)) ^ 0x80)
	case algebraic.KindI16:
		writeBigEndian16(w, uint16(v.(int16))^0x8000)
	case algebraic.KindI32:
		writeBigEndian32(w, uint32(v.(int32))^0x80000000)
	case algebraic.KindI64:
		writeBigEndian64(w, uint64(v.(int64))^0x8000000000000000)
	case algebraic.KindString:
		w.WriteString(v.(string))
	case algebraic.KindBytes:
		w.WriteBytes(v.([]byte))
	case algebraic.KindU128:
		b := v.([16]byte)
		w.WriteBytes(b[:])
	case algebraic.KindU256:
		b := v.([32]byte)
		w.WriteBytes(b[:])
	default:
		if algebraic.IsIdentity(t) {
			return encodeKeyComponent(w, algebraic.Primitive(algebraic.KindU256), v.(algebraic.ProductValue)[0])
		}
		if algebraic.IsConnectionID(t) {
			return encodeKeyComponent(w, algebraic.Primitive(algebraic.KindU128), v.(algebraic.ProductValue)[0])
		}
		return errors.Errorf("table: type kind %d is not key-encodable", t.Kind)
	}
	return nil
}

func writeBigEndian16(w *bsatn.Writer, v uint16) {
	w.WriteU8(uint8(v >> 8))
	w.WriteU8(uint8(v))
}

func writeBigEndian32(w *bsatn.Writer, v uint32) {
	for i := 3; i >= 0; i-- {
		w.WriteU8(uint8(v >> (8 * i)))
	}
}

func writeBigEndian64(w *bsatn.Writer, v uint64) {
	for i := 7; i >= 0; i-- {
		w.WriteU8(uint8(v >> (8 * i)))
	}
}
