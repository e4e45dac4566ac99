package algebraic

import (
	"github.com/clockworklabs/stdb-core/internal/bsatn"
	"github.com/pkg/errors"
)

// ProductValue is the runtime representation of a Product: its
// element values in declared order.
type ProductValue []any

// SumValue is the runtime representation of a Sum: the chosen
// variant's index and its payload.
type SumValue struct {
	Tag     uint8
	Payload any
}

// Encode writes v (interpreted as type t, resolving Refs against ts)
// to w. It is the single point through which every row, reducer
// argument, and wire frame payload is serialized, so that
// encode(v) is unique for a given (t, v) per the determinism
// invariant of §8.
func Encode(ts *Typespace, t Type, v any, w *bsatn.Writer) error {
	switch t.Kind {
	case KindBool:
		w.WriteBool(v.(bool))
	case KindU8:
		w.WriteU8(v.(uint8))
	case KindU16:
		w.WriteU16(v.(uint16))
	case KindU32:
		w.WriteU32(v.(uint32))
	case KindU64:
		w.WriteU64(v.(uint64))
	case KindU128:
		w.WriteU128(v.([16]byte))
	case KindU256:
		w.WriteU256(v.([32]byte))
	case KindI8:
		w.WriteI8(v.(int8))
	case KindI16:
		w.WriteI16(v.(int16))
	case KindI32:
		w.WriteI32(v.(int32))
	case KindI64:
		w.WriteI64(v.(int64))
	case KindI128:
		w.WriteU128(v.([16]byte))
	case KindI256:
		w.WriteU256(v.([32]byte))
	case KindF32:
		w.WriteF32(v.(float32))
	case KindF64:
		w.WriteF64(v.(float64))
	case KindString:
		w.WriteString(v.(string))
	case KindBytes:
		w.WriteBytes(v.([]byte))
	case KindProduct:
		pv, ok := v.(ProductValue)
		if !ok {
			return errors.Errorf("algebraic: expected ProductValue, got %T", v)
		}
		if len(pv) != len(t.Elements) {
			return errors.Errorf("algebraic: product arity mismatch: want %d got %d", len(t.Elements), len(pv))
		}
		for i, el := range t.Elements {
			if err := Encode(ts, el.Type, pv[i], w); err != nil {
				return errors.Wrapf(err, "field %s", el.Name)
			}
		}
	case KindSum:
		sv, ok := v.(SumValue)
		if !ok {
			return errors.Errorf("algebraic: expected SumValue, got %T", v)
		}
		if int(sv.Tag) >= len(t.Elements) {
			return errors.Errorf("algebraic: sum tag %d out of range", sv.Tag)
		}
		w.WriteSumTag(sv.Tag)
		return Encode(ts, t.Elements[sv.Tag].Type, sv.Payload, w)
	case KindArray:
		arr, ok := v.([]any)
		if !ok {
			return errors.Errorf("algebraic: expected []any, got %T", v)
		}
		w.WriteArrayHeader(len(arr))
		for _, e := range arr {
			if err := Encode(ts, *t.Elem, e, w); err != nil {
				return err
			}
		}
	case KindRef:
		resolved, err := ts.Resolve(t.Ref)
		if err != nil {
			return err
		}
		return Encode(ts, resolved, v, w)
	default:
		return errors.Errorf("algebraic: unknown kind %d", t.Kind)
	}
	return nil
}

// Decode reads a value of type t (resolving Refs against ts) from r.
func Decode(ts *Typespace, t Type, r *bsatn.Reader) (any, error) {
	switch t.Kind {
	case KindBool:
		return r.ReadBool()
	case KindU8:
		return r.ReadU8()
	case KindU16:
		return r.ReadU16()
	case KindU32:
		return r.ReadU32()
	case KindU64:
		return r.ReadU64()
	case KindU128:
		return r.ReadU128()
	case KindU256:
		return r.ReadU256()
	case KindI8:
		return r.ReadI8()
	case KindI16:
		return r.ReadI16()
	case KindI32:
		return r.ReadI32()
	case KindI64:
		return r.ReadI64()
	case KindI128:
		return r.ReadU128()
	case KindI256:
		return r.ReadU256()
	case KindF32:
		return r.ReadF32()
	case KindF64:
		return r.ReadF64()
	case KindString:
		return r.ReadString()
	case KindBytes:
		return r.ReadBytes()
	case KindProduct:
		out := make(ProductValue, len(t.Elements))
		for i, el := range t.Elements {
			v, err := Decode(ts, el.Type, r)
			if err != nil {
				return nil, errors.Wrapf(err, "field %s", el.Name)
			}
			out[i] = v
		}
		return out, nil
	case KindSum:
		tag, err := r.ReadSumTag()
		if err != nil {
			return nil, err
		}
		if int(tag) >= len(t.Elements) {
			return nil, errors.Errorf("algebraic: sum tag %d out of range", tag)
		}
		payload, err := Decode(ts, t.Elements[tag].Type, r)
		if err != nil {
			return nil, err
		}
		return SumValue{Tag: tag, Payload: payload}, nil
	case KindArray:
		n, err := r.ReadArrayHeader()
		if err != nil {
			return nil, err
		}
		out := make([]any, n)
		for i := 0; i < n; i++ {
			v, err := Decode(ts, *t.Elem, r)
			if err != nil {
				return nil, err
			}
			out[i] = v
		}
		return out, nil
	case KindRef:
		resolved, err := ts.Resolve(t.Ref)
		if err != nil {
			return nil, err
		}
		return Decode(ts, resolved, r)
	default:
		return nil, errors.Errorf("algebraic: unknown kind %d", t.Kind)
	}
}

// EncodeToBytes is a convenience wrapper producing the full encoded
// buffer for v of type t.
func EncodeToBytes(ts *Typespace, t Type, v any) ([]byte, error) {
	w := bsatn.NewWriter()
	if err := Encode(ts, t, v, w); err != nil {
		return nil, err
	}
	return w.Bytes(), nil
}

// DecodeFromBytes is a convenience wrapper decoding the full buf as a
// value of type t.
func DecodeFromBytes(ts *Typespace, t Type, buf []byte) (any, error) {
	r := bsatn.NewReader(buf)
	return Decode(ts, t, r)
}
