package main

import (
	"net/http"
	"net/url"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"

	"github.com/clockworklabs/stdb-core/internal/wire"
)

// jsonSubprotocol is the debug WebSocket subprotocol internal/session
// speaks when a client asks for it (a client naming no subprotocol
// gets the binary one); the CLI always asks for it, trading wire efficiency for frames a human (or
// this process) can decode without a compiled module's type schema.
const jsonSubprotocol = "v1.json.spacetimedb"

// dial opens a WebSocket connection to a database's subscribe endpoint
// and authenticates with token as a bearer credential.
func dial(addr, token string) (*websocket.Conn, error) {
	u := url.URL{Scheme: "ws", Host: addr, Path: "/database/subscribe"}
	header := http.Header{}
	if token != "" {
		header.Set("Authorization", "Bearer "+token)
	}
	dialer := websocket.Dialer{Subprotocols: []string{jsonSubprotocol}}
	conn, _, err := dialer.Dial(u.String(), header)
	if err != nil {
		return nil, errors.Wrapf(err, "stdb: dial %s", u.String())
	}
	return conn, nil
}

func sendFrame(conn *websocket.Conn, f wire.ClientFrame) error {
	buf, err := wire.EncodeClientFrameJSON(f)
	if err != nil {
		return errors.Wrap(err, "stdb: encode client frame")
	}
	return conn.WriteMessage(websocket.TextMessage, buf)
}

func recvFrame(conn *websocket.Conn) (wire.ServerFrame, error) {
	_, data, err := conn.ReadMessage()
	if err != nil {
		return wire.ServerFrame{}, err
	}
	return wire.DecodeServerFrameJSON(data)
}
