package bsatn

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRoundTripPrimitives(t *testing.T) {
	w := NewWriter()
	w.WriteBool(true)
	w.WriteU8(0xAB)
	w.WriteI16(-1234)
	w.WriteU32(0xDEADBEEF)
	w.WriteI64(-9223372036854775808)
	w.WriteF64(3.14159)
	w.WriteString("hello, spacetime")
	w.WriteBytes([]byte{1, 2, 3, 4})

	r := NewReader(w.Bytes())
	b, err := r.ReadBool()
	require.NoError(t, err)
	require.True(t, b)

	u8, err := r.ReadU8()
	require.NoError(t, err)
	require.Equal(t, uint8(0xAB), u8)

	i16, err := r.ReadI16()
	require.NoError(t, err)
	require.Equal(t, int16(-1234), i16)

	u32, err := r.ReadU32()
	require.NoError(t, err)
	require.Equal(t, uint32(0xDEADBEEF), u32)

	i64, err := r.ReadI64()
	require.NoError(t, err)
	require.Equal(t, int64(-9223372036854775808), i64)

	f64, err := r.ReadF64()
	require.NoError(t, err)
	require.InDelta(t, 3.14159, f64, 1e-9)

	s, err := r.ReadString()
	require.NoError(t, err)
	require.Equal(t, "hello, spacetime", s)

	bs, err := r.ReadBytes()
	require.NoError(t, err)
	require.Equal(t, []byte{1, 2, 3, 4}, bs)

	require.Zero(t, r.Remaining())
}

func TestOptionShape(t *testing.T) {
	w := NewWriter()
	w.WriteOptionSome()
	w.WriteU32(42)
	w.WriteOptionNone()

	r := NewReader(w.Bytes())
	present, err := r.ReadOptionTag()
	require.NoError(t, err)
	require.True(t, present)
	v, err := r.ReadU32()
	require.NoError(t, err)
	require.Equal(t, uint32(42), v)

	present, err = r.ReadOptionTag()
	require.NoError(t, err)
	require.False(t, present)
}

func TestDeterministicEncoding(t *testing.T) {
	build := func() []byte {
		w := NewWriter()
		w.WriteArrayHeader(2)
		w.WriteString("a")
		w.WriteString("b")
		return w.Bytes()
	}
	require.Equal(t, build(), build())
}

func TestShortBufferErrors(t *testing.T) {
	r := NewReader([]byte{1, 2})
	_, err := r.ReadU64()
	require.ErrorIs(t, err, ErrShortBuffer)
}

func TestInvalidOptionTag(t *testing.T) {
	r := NewReader([]byte{2})
	_, err := r.ReadOptionTag()
	require.Error(t, err)
}
