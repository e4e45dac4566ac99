package session

import (
	"context"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/clockworklabs/stdb-core/internal/algebraic"
	"github.com/clockworklabs/stdb-core/internal/moduleh"
	"github.com/clockworklabs/stdb-core/internal/storage/txn"
	"github.com/clockworklabs/stdb-core/internal/subscribe"
	"github.com/clockworklabs/stdb-core/internal/wire"
)

// fakeRuntime inserts one player row per "add_player" call, enough to
// exercise CallReducer/Subscribe/TransactionUpdate plumbing without a
// real WASM module.
type fakeRuntime struct {
	desc moduleh.Descriptor
}

func (f *fakeRuntime) Describe() (moduleh.Descriptor, error) { return f.desc, nil }

func (f *fakeRuntime) CallReducer(rc *moduleh.ReducerContext, name string, args []byte) error {
	if name == "add_player" {
		_, err := rc.Txn.Insert(1, algebraic.ProductValue{uint64(0), "alice"})
		return err
	}
	return nil
}

func playerDescriptor() moduleh.Descriptor {
	return moduleh.Descriptor{
		Tables: []moduleh.TableDef{{
			Name: "player",
			Columns: []moduleh.ColumnDef{
				{Name: "id", Type: algebraic.Primitive(algebraic.KindU64), AutoInc: true, PrimaryKey: true},
				{Name: "name", Type: algebraic.Primitive(algebraic.KindString)},
			},
		}},
		Reducers: []moduleh.ReducerDef{{Name: "add_player"}},
	}
}

const testSecret = "test-signing-secret"

func testKeyfunc(*jwt.Token) (interface{}, error) { return []byte(testSecret), nil }

func signToken(t *testing.T, subject string) string {
	t.Helper()
	claims := jwt.MapClaims{"iss": "test-issuer", "sub": subject}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := tok.SignedString([]byte(testSecret))
	require.NoError(t, err)
	return signed
}

// newTestServer wires a Database+Host+Engine+Server together and
// starts the Host's executor, mirroring internal/moduleh's own
// openTestDB fixture.
func newTestServer(t *testing.T) *Server {
	t.Helper()
	dir, err := os.MkdirTemp("", "stdb-session-*")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(dir) })

	db, err := txn.Open(dir)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	rt := &fakeRuntime{desc: playerDescriptor()}
	host := moduleh.NewHost(db, rt, 10_000)
	require.NoError(t, host.Install(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	host.Start(ctx)
	t.Cleanup(host.Stop)

	engine := subscribe.NewEngine(db)
	return NewServer(db, host, engine, testKeyfunc, "test")
}

func dialSession(t *testing.T, ts *httptest.Server, subject, subprotocol string) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/database/subscribe?token=" + signToken(t, subject)
	dialer := websocket.Dialer{Subprotocols: []string{subprotocol}}
	conn, _, err := dialer.Dial(wsURL, nil)
	require.NoError(t, err)
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) wire.ServerFrame {
	t.Helper()
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	frame, err := wire.DecodeServerFrame(data)
	require.NoError(t, err)
	return frame
}

func TestHandshakeSendsIdentityToken(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	conn := dialSession(t, ts, "alice", bsatnSubprotocol)
	defer conn.Close()

	frame := readFrame(t, conn)
	require.Equal(t, wire.TagIdentityToken, frame.Tag)
	require.Equal(t, DeriveIdentity("test-issuer", "alice"), frame.IdentityToken.Identity)
}

func TestJSONSubprotocolIdentityToken(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	conn := dialSession(t, ts, "dana", jsonSubprotocol)
	defer conn.Close()

	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	frame, err := wire.DecodeServerFrameJSON(data)
	require.NoError(t, err)
	require.Equal(t, wire.TagIdentityToken, frame.Tag)
	require.Equal(t, DeriveIdentity("test-issuer", "dana"), frame.IdentityToken.Identity)
}

func TestRejectsMissingToken(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/database/subscribe"
	dialer := websocket.Dialer{}
	_, resp, err := dialer.Dial(wsURL, nil)
	require.Error(t, err)
	require.Equal(t, 401, resp.StatusCode)
}

func TestSubscribeReceivesInitialSubscriptionThenUpdates(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	watcher := dialSession(t, ts, "watcher", bsatnSubprotocol)
	defer watcher.Close()
	readFrame(t, watcher) // IdentityToken

	sub := wire.ClientFrame{Tag: wire.TagSubscribe, Subscribe: wire.Subscribe{
		RequestID:    7,
		QueryStrings: []string{"SELECT * FROM player"},
	}}
	require.NoError(t, watcher.WriteMessage(websocket.BinaryMessage, wire.EncodeClientFrame(sub)))

	initial := readFrame(t, watcher)
	require.Equal(t, wire.TagInitialSubscription, initial.Tag)
	require.Equal(t, uint32(7), initial.InitialSubscription.RequestID)
	require.Len(t, initial.InitialSubscription.DatabaseUpdate.Tables, 1)
	require.Empty(t, initial.InitialSubscription.DatabaseUpdate.Tables[0].Operations)

	caller := dialSession(t, ts, "caller", bsatnSubprotocol)
	defer caller.Close()
	readFrame(t, caller) // IdentityToken

	call := wire.ClientFrame{Tag: wire.TagCallReducer, CallReducer: wire.CallReducer{
		RequestID:   1,
		ReducerName: "add_player",
	}}
	require.NoError(t, caller.WriteMessage(websocket.BinaryMessage, wire.EncodeClientFrame(call)))

	txUpdate := readFrame(t, caller)
	require.Equal(t, wire.TagTransactionUpdate, txUpdate.Tag)
	require.Equal(t, wire.StatusCommitted, txUpdate.TransactionUpdate.Status)

	light := readFrame(t, watcher)
	require.Equal(t, wire.TagTransactionUpdateLight, light.Tag)
	require.Len(t, light.TransactionUpdateLight.DatabaseUpdate.Tables, 1)
	require.Len(t, light.TransactionUpdateLight.DatabaseUpdate.Tables[0].Operations, 1)
	require.Equal(t, wire.RowInsert, light.TransactionUpdateLight.DatabaseUpdate.Tables[0].Operations[0].Op)
}

func TestCallReducerUnknownNameFailsWithoutDispatch(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	conn := dialSession(t, ts, "carol", bsatnSubprotocol)
	defer conn.Close()
	readFrame(t, conn) // IdentityToken

	call := wire.ClientFrame{Tag: wire.TagCallReducer, CallReducer: wire.CallReducer{
		RequestID:   1,
		ReducerName: "no_such_reducer",
	}}
	require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, wire.EncodeClientFrame(call)))

	frame := readFrame(t, conn)
	require.Equal(t, wire.TagTransactionUpdate, frame.Tag)
	require.Equal(t, wire.StatusFailed, frame.TransactionUpdate.Status)
	require.True(t, frame.TransactionUpdate.HasMessage)
}

func TestQueueOverflowClosesSlowClient(t *testing.T) {
	srv := newTestServer(t)
	srv.QueueCapacity = 1
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	watcher := dialSession(t, ts, "slow-watcher", bsatnSubprotocol)
	defer watcher.Close()
	readFrame(t, watcher) // IdentityToken

	sub := wire.ClientFrame{Tag: wire.TagSubscribe, Subscribe: wire.Subscribe{
		RequestID:    1,
		QueryStrings: []string{"SELECT * FROM player"},
	}}
	require.NoError(t, watcher.WriteMessage(websocket.BinaryMessage, wire.EncodeClientFrame(sub)))
	readFrame(t, watcher) // InitialSubscription

	caller := dialSession(t, ts, "fast-caller", bsatnSubprotocol)
	defer caller.Close()
	readFrame(t, caller) // IdentityToken

	call := wire.ClientFrame{Tag: wire.TagCallReducer, CallReducer: wire.CallReducer{RequestID: 1, ReducerName: "add_player"}}
	for i := 0; i < 4; i++ {
		require.NoError(t, caller.WriteMessage(websocket.BinaryMessage, wire.EncodeClientFrame(call)))
		readFrame(t, caller) // drain caller's own TransactionUpdate so only watcher's queue is under test
	}

	watcher.SetReadDeadline(time.Now().Add(2 * time.Second))
	closed := false
	for i := 0; i < 8; i++ {
		if _, _, err := watcher.ReadMessage(); err != nil {
			closed = true
			break
		}
	}
	require.True(t, closed, "expected the slow watcher's connection to be closed for queue overflow")
}
