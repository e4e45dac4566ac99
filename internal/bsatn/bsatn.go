// Package bsatn implements the binary SpacetimeDB Algebraic Type
// Notation used to encode rows, reducer arguments, and wire frames.
//
// Encoding is little-endian and length-prefixed. Numbers use fixed
// widths. Strings and byte arrays carry a u32 length prefix. Arrays
// carry a u32 element count. Products serialize their elements in
// declared order without tags. Sums serialize a u8 variant tag followed
// by the payload; the canonical {some, none} option writes tag 0 +
// payload for present, tag 1 + nothing for absent.
package bsatn

import (
	"encoding/binary"
	"math"

	"github.com/pkg/errors"
)

// ErrShortBuffer is returned when a decode reads past the end of input.
var ErrShortBuffer = errors.New("bsatn: short buffer")

// Writer accumulates an encoded BSATN value.
type Writer struct {
	buf []byte
}

// NewWriter returns an empty Writer.
func NewWriter() *Writer { return &Writer{} }

// Bytes returns the encoded buffer so far.
func (w *Writer) Bytes() []byte { return w.buf }

func (w *Writer) WriteBool(v bool) {
	if v {
		w.buf = append(w.buf, 1)
	} else {
		w.buf = append(w.buf, 0)
	}
}

func (w *Writer) WriteU8(v uint8)  { w.buf = append(w.buf, v) }
func (w *Writer) WriteI8(v int8)   { w.buf = append(w.buf, byte(v)) }

func (w *Writer) WriteU16(v uint16) {
	var tmp [2]byte
	binary.LittleEndian.PutUint16(tmp[:], v)
	w.buf = append(w.buf, tmp[:]...)
}

func (w *Writer) WriteI16(v int16) { w.WriteU16(uint16(v)) }

func (w *Writer) WriteU32(v uint32) {
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], v)
	w.buf = append(w.buf, tmp[:]...)
}

func (w *Writer) WriteI32(v int32) { w.WriteU32(uint32(v)) }

func (w *Writer) WriteU64(v uint64) {
	var tmp [8]byte
	binary.LittleEndian.PutUint64(tmp[:], v)
	w.buf = append(w.buf, tmp[:]...)
}

func (w *Writer) WriteI64(v int64) { w.WriteU64(uint64(v)) }

// WriteU128 and WriteU256 write fixed-width little-endian unsigned
// integers from big.Int-free byte slices (callers own width padding).
func (w *Writer) WriteU128(v [16]byte) { w.buf = append(w.buf, v[:]...) }
func (w *Writer) WriteU256(v [32]byte) { w.buf = append(w.buf, v[:]...) }

func (w *Writer) WriteF32(v float32) { w.WriteU32(math.Float32bits(v)) }
func (w *Writer) WriteF64(v float64) { w.WriteU64(math.Float64bits(v)) }

func (w *Writer) WriteBytes(v []byte) {
	w.WriteU32(uint32(len(v)))
	w.buf = append(w.buf, v...)
}

func (w *Writer) WriteString(v string) {
	w.WriteU32(uint32(len(v)))
	w.buf = append(w.buf, v...)
}

// WriteArrayHeader writes the u32 element count of an array; callers
// then encode each element in turn.
func (w *Writer) WriteArrayHeader(n int) { w.WriteU32(uint32(n)) }

// WriteSumTag writes the u8 variant tag of a sum value.
func (w *Writer) WriteSumTag(tag uint8) { w.buf = append(w.buf, tag) }

// WriteOptionSome/WriteOptionNone implement the canonical two-variant
// option shape: tag 0 means present (payload follows), tag 1 means
// absent (no payload).
func (w *Writer) WriteOptionSome() { w.WriteSumTag(0) }
func (w *Writer) WriteOptionNone() { w.WriteSumTag(1) }

// Reader decodes a BSATN-encoded value from a byte slice.
type Reader struct {
	buf []byte
	pos int
}

// NewReader wraps buf for decoding.
func NewReader(buf []byte) *Reader { return &Reader{buf: buf} }

// Remaining reports how many bytes are left to decode.
func (r *Reader) Remaining() int { return len(r.buf) - r.pos }

func (r *Reader) need(n int) error {
	if r.Remaining() < n {
		return ErrShortBuffer
	}
	return nil
}

func (r *Reader) ReadBool() (bool, error) {
	if err := r.need(1); err != nil {
		return false, err
	}
	v := r.buf[r.pos] != 0
	r.pos++
	return v, nil
}

func (r *Reader) ReadU8() (uint8, error) {
	if err := r.need(1); err != nil {
		return 0, err
	}
	v := r.buf[r.pos]
	r.pos++
	return v, nil
}

func (r *Reader) ReadI8() (int8, error) {
	v, err := r.ReadU8()
	return int8(v), err
}

func (r *Reader) ReadU16() (uint16, error) {
	if err := r.need(2); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint16(r.buf[r.pos:])
	r.pos += 2
	return v, nil
}

func (r *Reader) ReadI16() (int16, error) {
	v, err := r.ReadU16()
	return int16(v), err
}

func (r *Reader) ReadU32() (uint32, error) {
	if err := r.need(4); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint32(r.buf[r.pos:])
	r.pos += 4
	return v, nil
}

func (r *Reader) ReadI32() (int32, error) {
	v, err := r.ReadU32()
	return int32(v), err
}

func (r *Reader) ReadU64() (uint64, error) {
	if err := r.need(8); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint64(r.buf[r.pos:])
	r.pos += 8
	return v, nil
}

func (r *Reader) ReadI64() (int64, error) {
	v, err := r.ReadU64()
	return int64(v), err
}

func (r *Reader) ReadU128() ([16]byte, error) {
	var out [16]byte
	if err := r.need(16); err != nil {
		return out, err
	}
	copy(out[:], r.buf[r.pos:r.pos+16])
	r.pos += 16
	return out, nil
}

func (r *Reader) ReadU256() ([32]byte, error) {
	var out [32]byte
	if err := r.need(32); err != nil {
		return out, err
	}
	copy(out[:], r.buf[r.pos:r.pos+32])
	r.pos += 32
	return out, nil
}

func (r *Reader) ReadF32() (float32, error) {
	v, err := r.ReadU32()
	return math.Float32frombits(v), err
}

func (r *Reader) ReadF64() (float64, error) {
	v, err := r.ReadU64()
	return math.Float64frombits(v), err
}

func (r *Reader) ReadBytes() ([]byte, error) {
	n, err := r.ReadU32()
	if err != nil {
		return nil, err
	}
	if err := r.need(int(n)); err != nil {
		return nil, err
	}
	out := make([]byte, n)
	copy(out, r.buf[r.pos:r.pos+int(n)])
	r.pos += int(n)
	return out, nil
}

func (r *Reader) ReadString() (string, error) {
	b, err := r.ReadBytes()
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// ReadArrayHeader reads the u32 element count of an array.
func (r *Reader) ReadArrayHeader() (int, error) {
	n, err := r.ReadU32()
	return int(n), err
}

// ReadSumTag reads the u8 variant tag of a sum value.
func (r *Reader) ReadSumTag() (uint8, error) { return r.ReadU8() }

// ReadOptionTag reads the option tag and reports whether the value is
// present (tag 0).
func (r *Reader) ReadOptionTag() (present bool, err error) {
	tag, err := r.ReadSumTag()
	if err != nil {
		return false, err
	}
	if tag > 1 {
		return false, errors.Errorf("bsatn: invalid option tag %d", tag)
	}
	return tag == 0, nil
}
