// Package algebraic implements the module's structural type system:
// AlgebraicType, the per-module typespace, and the distinguished
// product shapes (Identity, ConnectionId, Timestamp, TimeDuration,
// ScheduleAt) recognized by special element names.
package algebraic

import (
	"github.com/pkg/errors"

	"github.com/clockworklabs/stdb-core/internal/bsatn"
)

// Kind discriminates the shape of an AlgebraicType.
type Kind uint8

const (
	KindBool Kind = iota
	KindU8
	KindU16
	KindU32
	KindU64
	KindU128
	KindU256
	KindI8
	KindI16
	KindI32
	KindI64
	KindI128
	KindI256
	KindF32
	KindF64
	KindString
	KindBytes
	KindProduct
	KindSum
	KindArray
	KindRef
)

// IsPrimitive reports whether k is a primitive (non-composite) kind.
func (k Kind) IsPrimitive() bool {
	return k <= KindBytes
}

// Element is one named-and-ordered member of a Product, or one named
// alternative of a Sum.
type Element struct {
	Name string
	Type Type
}

// Type is an AlgebraicType value. Exactly one of the fields relevant to
// Kind is populated; zero value is an invalid type.
type Type struct {
	Kind     Kind
	Elements []Element // Product fields or Sum variants, in order
	Elem     *Type     // Array element type
	Ref      Ref       // Typespace reference, when Kind == KindRef
}

// Ref is an index into a Typespace, used for recursion and name sharing.
type Ref int

func Primitive(k Kind) Type { return Type{Kind: k} }

func Product(elems ...Element) Type { return Type{Kind: KindProduct, Elements: elems} }

func Sum(variants ...Element) Type { return Type{Kind: KindSum, Elements: variants} }

// Option builds the canonical two-variant {some, none} option shape.
func Option(payload Type) Type {
	return Sum(
		Element{Name: "some", Type: payload},
		Element{Name: "none", Type: Product()},
	)
}

func Array(elem Type) Type { return Type{Kind: KindArray, Elem: &elem} }

func RefTo(r Ref) Type { return Type{Kind: KindRef, Ref: r} }

// EncodeType writes t itself (not a value of t) to w, the meta-level
// codec used to ship a module's Descriptor (every column and reducer
// argument type) across the ABI boundary from __describe_module__.
func EncodeType(w *bsatn.Writer, t Type) {
	w.WriteU8(uint8(t.Kind))
	switch t.Kind {
	case KindProduct, KindSum:
		w.WriteArrayHeader(len(t.Elements))
		for _, e := range t.Elements {
			w.WriteString(e.Name)
			EncodeType(w, e.Type)
		}
	case KindArray:
		EncodeType(w, *t.Elem)
	case KindRef:
		w.WriteU32(uint32(t.Ref))
	}
}

// DecodeType reads a Type previously written by EncodeType.
func DecodeType(r *bsatn.Reader) (Type, error) {
	k, err := r.ReadU8()
	if err != nil {
		return Type{}, err
	}
	kind := Kind(k)
	switch kind {
	case KindProduct, KindSum:
		n, err := r.ReadArrayHeader()
		if err != nil {
			return Type{}, err
		}
		elems := make([]Element, n)
		for i := 0; i < n; i++ {
			name, err := r.ReadString()
			if err != nil {
				return Type{}, err
			}
			et, err := DecodeType(r)
			if err != nil {
				return Type{}, err
			}
			elems[i] = Element{Name: name, Type: et}
		}
		return Type{Kind: kind, Elements: elems}, nil
	case KindArray:
		elem, err := DecodeType(r)
		if err != nil {
			return Type{}, err
		}
		return Type{Kind: kind, Elem: &elem}, nil
	case KindRef:
		ref, err := r.ReadU32()
		if err != nil {
			return Type{}, err
		}
		return Type{Kind: kind, Ref: Ref(ref)}, nil
	default:
		return Type{Kind: kind}, nil
	}
}

// Distinguished product element names recognized during descriptor
// validation; these mark a Product as one of the special types.
const (
	ElemIdentity     = "__identity__"
	ElemConnectionID = "__connection_id__"
	ElemTimestamp    = "__timestamp_micros_since_unix_epoch__"
	ElemTimeDuration = "__time_duration_micros__"
)

// IdentityType builds the distinguished Identity product recognized
// by IsIdentity: a single u256 element named __identity__.
func IdentityType() Type {
	return Product(Element{Name: ElemIdentity, Type: Primitive(KindU256)})
}

// ConnectionIDType builds the distinguished ConnectionId product
// recognized by IsConnectionID: a single u128 element named
// __connection_id__.
func ConnectionIDType() Type {
	return Product(Element{Name: ElemConnectionID, Type: Primitive(KindU128)})
}

// IsIdentity reports whether t is the distinguished Identity product.
func IsIdentity(t Type) bool { return soleElement(t, ElemIdentity, KindU256) }

// IsConnectionID reports whether t is the distinguished ConnectionId product.
func IsConnectionID(t Type) bool { return soleElement(t, ElemConnectionID, KindU128) }

// IsTimestamp reports whether t is the distinguished Timestamp product.
func IsTimestamp(t Type) bool { return soleElement(t, ElemTimestamp, KindI64) }

// IsTimeDuration reports whether t is the distinguished TimeDuration product.
func IsTimeDuration(t Type) bool { return soleElement(t, ElemTimeDuration, KindI64) }

func soleElement(t Type, name string, wantKind Kind) bool {
	if t.Kind != KindProduct || len(t.Elements) != 1 {
		return false
	}
	e := t.Elements[0]
	return e.Name == name && e.Type.Kind == wantKind
}

// ScheduleAtVariant discriminates the ScheduleAt sum's two alternatives.
const (
	ScheduleAtInterval = "Interval"
	ScheduleAtTime     = "Time"
)

// ScheduleAtType builds the canonical ScheduleAt sum type recognized
// by IsScheduleAt: {Interval(TimeDuration), Time(Timestamp)}.
func ScheduleAtType() Type {
	return Sum(
		Element{Name: ScheduleAtInterval, Type: timeDurationType()},
		Element{Name: ScheduleAtTime, Type: timestampType()},
	)
}

func timeDurationType() Type {
	return Product(Element{Name: ElemTimeDuration, Type: Primitive(KindI64)})
}

func timestampType() Type {
	return Product(Element{Name: ElemTimestamp, Type: Primitive(KindI64)})
}

// IsScheduleAt reports whether t is the canonical ScheduleAt sum of
// {Interval(TimeDuration), Time(Timestamp)}.
func IsScheduleAt(t Type) bool {
	if t.Kind != KindSum || len(t.Elements) != 2 {
		return false
	}
	var hasInterval, hasTime bool
	for _, e := range t.Elements {
		switch e.Name {
		case ScheduleAtInterval:
			hasInterval = IsTimeDuration(e.Type)
		case ScheduleAtTime:
			hasTime = IsTimestamp(e.Type)
		}
	}
	return hasInterval && hasTime
}

// IsFilterablePrimitive reports whether t may be used as a primary-key
// or unique-constraint column: a filterable primitive, or Identity /
// ConnectionId.
func IsFilterablePrimitive(t Type) bool {
	if t.Kind.IsPrimitive() {
		return true
	}
	return IsIdentity(t) || IsConnectionID(t)
}

// IsInteger reports whether t is one of the integer primitive kinds,
// required for auto-increment columns.
func IsInteger(t Type) bool {
	switch t.Kind {
	case KindU8, KindU16, KindU32, KindU64, KindU128, KindU256,
		KindI8, KindI16, KindI32, KindI64, KindI128, KindI256:
		return true
	}
	return false
}

// Typespace is a per-module registry of named/indexed AlgebraicTypes,
// used to resolve Refs for recursive or shared types.
type Typespace struct {
	types []Type
}

// NewTypespace returns an empty Typespace.
func NewTypespace() *Typespace { return &Typespace{} }

// Reserve allocates a Ref slot without a definition yet, so a
// recursive type can refer to itself before Register fills it in.
func (ts *Typespace) Reserve() Ref {
	ts.types = append(ts.types, Type{})
	return Ref(len(ts.types) - 1)
}

// Register stores t at ref, previously obtained from Reserve.
func (ts *Typespace) Register(ref Ref, t Type) error {
	if int(ref) < 0 || int(ref) >= len(ts.types) {
		return errors.Errorf("algebraic: ref %d not reserved", ref)
	}
	ts.types[ref] = t
	return nil
}

// Add reserves and registers a fully-formed type in one step.
func (ts *Typespace) Add(t Type) Ref {
	r := ts.Reserve()
	ts.types[r] = t
	return r
}

// Resolve returns the type stored at ref.
func (ts *Typespace) Resolve(ref Ref) (Type, error) {
	if int(ref) < 0 || int(ref) >= len(ts.types) {
		return Type{}, errors.Errorf("algebraic: unknown ref %d", ref)
	}
	return ts.types[ref], nil
}

// CheckCycles walks every registered type and fails if a Ref chain
// revisits itself without passing through a Product/Sum/Array
// indirection that could legitimately terminate recursion (e.g. an
// Option). Cycle detection happens once, at registration time, not on
// every encode, per the DESIGN NOTES recursive-types guidance.
func (ts *Typespace) CheckCycles() error {
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make([]int, len(ts.types))
	var visit func(Ref) error
	visit = func(r Ref) error {
		if int(r) < 0 || int(r) >= len(color) {
			return errors.Errorf("algebraic: dangling ref %d", r)
		}
		switch color[r] {
		case black:
			return nil
		case gray:
			return errors.Errorf("algebraic: cyclic ref %d with no indirection", r)
		}
		color[r] = gray
		if err := visitType(ts.types[r], visit); err != nil {
			return err
		}
		color[r] = black
		return nil
	}
	for i := range ts.types {
		if err := visit(Ref(i)); err != nil {
			return err
		}
	}
	return nil
}

func visitType(t Type, visit func(Ref) error) error {
	switch t.Kind {
	case KindRef:
		return visit(t.Ref)
	case KindArray:
		// An array indirection can terminate recursion (empty array),
		// so a ref reached only through an array element is not
		// itself an unconditional cycle; the element type is neither
		// visited nor checked here.
		return nil
	case KindProduct, KindSum:
		for _, e := range t.Elements {
			if e.Type.Kind == KindRef {
				if err := visit(e.Type.Ref); err != nil {
					return err
				}
			}
		}
	}
	return nil
}
