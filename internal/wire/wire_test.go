package wire

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/clockworklabs/stdb-core/internal/algebraic"
	"github.com/clockworklabs/stdb-core/internal/ident"
)

func sampleUpdate() DatabaseUpdate {
	return DatabaseUpdate{Tables: []TableUpdate{
		{
			TableID:   ident.TableID(1),
			TableName: "Player",
			Operations: []Operation{
				{Op: RowInsert, RowBSATN: []byte{1, 2, 3}},
				{Op: RowDelete, RowBSATN: []byte{4, 5}},
			},
		},
	}}
}

func TestServerFrameRoundTripIdentityToken(t *testing.T) {
	f := ServerFrame{Tag: TagIdentityToken, IdentityToken: IdentityToken{
		Identity:     algebraic.Identity{1, 2, 3},
		Token:        "jwt-token",
		ConnectionID: algebraic.ConnectionID{9, 9},
	}}
	buf := EncodeServerFrame(f)
	got, err := DecodeServerFrame(buf)
	require.NoError(t, err)
	require.Equal(t, f, got)
}

func TestServerFrameRoundTripTransactionUpdate(t *testing.T) {
	f := ServerFrame{Tag: TagTransactionUpdate, TransactionUpdate: TransactionUpdate{
		Status:         StatusCommitted,
		ReducerName:    "increment",
		Timestamp:      algebraic.Timestamp(123456),
		CallerIdentity: algebraic.Identity{7},
		EnergyUsed:     42,
		DatabaseUpdate: sampleUpdate(),
		Message:        "",
		HasMessage:     false,
	}}
	buf := EncodeServerFrame(f)
	got, err := DecodeServerFrame(buf)
	require.NoError(t, err)
	require.Equal(t, f, got)
}

func TestServerFrameRoundTripTransactionUpdateWithMessage(t *testing.T) {
	f := ServerFrame{Tag: TagTransactionUpdate, TransactionUpdate: TransactionUpdate{
		Status:      StatusFailed,
		ReducerName: "increment",
		Message:     "energy exhausted",
		HasMessage:  true,
	}}
	buf := EncodeServerFrame(f)
	got, err := DecodeServerFrame(buf)
	require.NoError(t, err)
	require.Equal(t, f, got)
}

func TestServerFrameRoundTripInitialSubscription(t *testing.T) {
	f := ServerFrame{Tag: TagInitialSubscription, InitialSubscription: InitialSubscription{
		RequestID:      7,
		DatabaseUpdate: sampleUpdate(),
	}}
	buf := EncodeServerFrame(f)
	got, err := DecodeServerFrame(buf)
	require.NoError(t, err)
	require.Equal(t, f, got)
}

func TestServerFrameRoundTripSubscriptionError(t *testing.T) {
	f := ServerFrame{Tag: TagSubscriptionError, SubscriptionError: SubscriptionError{
		RequestID:  3,
		HasRequest: true,
		Error:      "no such table",
	}}
	buf := EncodeServerFrame(f)
	got, err := DecodeServerFrame(buf)
	require.NoError(t, err)
	require.Equal(t, f, got)
}

func TestDecodeServerFrameUnknownTag(t *testing.T) {
	_, err := DecodeServerFrame([]byte{255})
	require.Error(t, err)
}

func TestClientFrameRoundTripSubscribe(t *testing.T) {
	f := ClientFrame{Tag: TagSubscribe, Subscribe: Subscribe{
		RequestID:    1,
		QueryStrings: []string{"SELECT * FROM Player", "SELECT * FROM Score WHERE player = 1"},
	}}
	buf := EncodeClientFrame(f)
	got, err := DecodeClientFrame(buf)
	require.NoError(t, err)
	require.Equal(t, f, got)
}

func TestClientFrameRoundTripCallReducer(t *testing.T) {
	f := ClientFrame{Tag: TagCallReducer, CallReducer: CallReducer{
		RequestID:   2,
		ReducerName: "increment",
		ArgsBSATN:   []byte{1, 2, 3, 4},
	}}
	buf := EncodeClientFrame(f)
	got, err := DecodeClientFrame(buf)
	require.NoError(t, err)
	require.Equal(t, f, got)
}

func TestClientFrameRoundTripUnsubscribe(t *testing.T) {
	f := ClientFrame{Tag: TagUnsubscribe, Unsubscribe: Unsubscribe{RequestID: 9}}
	buf := EncodeClientFrame(f)
	got, err := DecodeClientFrame(buf)
	require.NoError(t, err)
	require.Equal(t, f, got)
}

func TestJSONMirrorRoundTripTransactionUpdate(t *testing.T) {
	f := ServerFrame{Tag: TagTransactionUpdate, TransactionUpdate: TransactionUpdate{
		Status:         StatusCommitted,
		ReducerName:    "increment",
		Timestamp:      algebraic.Timestamp(99),
		CallerIdentity: algebraic.Identity{1, 2},
		EnergyUsed:     10,
		DatabaseUpdate: sampleUpdate(),
	}}
	buf, err := EncodeServerFrameJSON(f)
	require.NoError(t, err)
	got, err := DecodeServerFrameJSON(buf)
	require.NoError(t, err)
	require.Equal(t, f, got)
}

func TestJSONMirrorRoundTripSubscribe(t *testing.T) {
	f := ClientFrame{Tag: TagSubscribe, Subscribe: Subscribe{
		RequestID:    4,
		QueryStrings: []string{"SELECT * FROM Player"},
	}}
	buf, err := EncodeClientFrameJSON(f)
	require.NoError(t, err)
	got, err := DecodeClientFrameJSON(buf)
	require.NoError(t, err)
	require.Equal(t, f, got)
}

func TestDecodeClientFrameUnknownTag(t *testing.T) {
	_, err := DecodeClientFrame([]byte{255})
	require.Error(t, err)
}
