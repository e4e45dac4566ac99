package algebraic

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/clockworklabs/stdb-core/internal/bsatn"
)

func TestProductRoundTrip(t *testing.T) {
	ts := NewTypespace()
	player := Product(
		Element{Name: "id", Type: Primitive(KindU64)},
		Element{Name: "name", Type: Primitive(KindString)},
	)

	v := ProductValue{uint64(7), "alice"}
	buf, err := EncodeToBytes(ts, player, v)
	require.NoError(t, err)

	decoded, err := DecodeFromBytes(ts, player, buf)
	require.NoError(t, err)
	require.Equal(t, v, decoded)
}

func TestOptionSumRoundTrip(t *testing.T) {
	ts := NewTypespace()
	opt := Option(Primitive(KindU32))

	buf, err := EncodeToBytes(ts, opt, SumValue{Tag: 0, Payload: uint32(99)})
	require.NoError(t, err)
	decoded, err := DecodeFromBytes(ts, opt, buf)
	require.NoError(t, err)
	require.Equal(t, SumValue{Tag: 0, Payload: uint32(99)}, decoded)

	buf, err = EncodeToBytes(ts, opt, SumValue{Tag: 1, Payload: ProductValue{}})
	require.NoError(t, err)
	decoded, err = DecodeFromBytes(ts, opt, buf)
	require.NoError(t, err)
	require.Equal(t, uint8(1), decoded.(SumValue).Tag)
}

func TestDistinguishedProducts(t *testing.T) {
	identity := Product(Element{Name: ElemIdentity, Type: Primitive(KindU256)})
	require.True(t, IsIdentity(identity))
	require.False(t, IsConnectionID(identity))

	schedule := Sum(
		Element{Name: ScheduleAtInterval, Type: Product(Element{Name: ElemTimeDuration, Type: Primitive(KindI64)})},
		Element{Name: ScheduleAtTime, Type: Product(Element{Name: ElemTimestamp, Type: Primitive(KindI64)})},
	)
	require.True(t, IsScheduleAt(schedule))
}

func TestTypespaceRefAndCycleDetection(t *testing.T) {
	ts := NewTypespace()
	ref := ts.Reserve()
	// A linked-list-shaped recursive product: {value: u32, next: Option(Ref)}
	listType := Product(
		Element{Name: "value", Type: Primitive(KindU32)},
		Element{Name: "next", Type: Option(RefTo(ref))},
	)
	require.NoError(t, ts.Register(ref, listType))
	require.NoError(t, ts.CheckCycles())

	resolved, err := ts.Resolve(ref)
	require.NoError(t, err)
	require.Equal(t, listType, resolved)
}

func TestTypespaceDanglingRefFails(t *testing.T) {
	ts := NewTypespace()
	bad := Product(Element{Name: "next", Type: RefTo(5)})
	ts.Add(bad)
	require.Error(t, ts.CheckCycles())
}

func TestIsFilterablePrimitiveAndInteger(t *testing.T) {
	require.True(t, IsFilterablePrimitive(Primitive(KindU64)))
	require.True(t, IsFilterablePrimitive(Product(Element{Name: ElemIdentity, Type: Primitive(KindU256)})))
	require.False(t, IsFilterablePrimitive(Product(Element{Name: "x", Type: Primitive(KindU64)})))
	require.True(t, IsInteger(Primitive(KindI32)))
	require.False(t, IsInteger(Primitive(KindString)))
}

func TestEncodeDecodeTypeRoundTrip(t *testing.T) {
	original := Product(
		Element{Name: "id", Type: Primitive(KindU64)},
		Element{Name: "name", Type: Primitive(KindString)},
		Element{Name: "schedule", Type: ScheduleAtType()},
		Element{Name: "tags", Type: Array(Primitive(KindString))},
	)

	w := bsatn.NewWriter()
	EncodeType(w, original)
	got, err := DecodeType(bsatn.NewReader(w.Bytes()))
	require.NoError(t, err)
	require.Equal(t, original, got)
}
