package session

import (
	"encoding/hex"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"

	"github.com/clockworklabs/stdb-core/internal/algebraic"
	"github.com/clockworklabs/stdb-core/internal/queryplan"
	"github.com/clockworklabs/stdb-core/internal/sqlfront"
	"github.com/clockworklabs/stdb-core/internal/subscribe"
	"github.com/clockworklabs/stdb-core/internal/wire"
)

const (
	bsatnSubprotocol = "v1.bsatn.spacetimedb"
	jsonSubprotocol  = "v1.json.spacetimedb"

	// queueOverflowCloseCode is a private-use WebSocket close code
	// (the 4000-4999 range is reserved for application use by RFC
	// 6455) signalling that a client was disconnected for falling too
	// far behind its own send queue.
	queueOverflowCloseCode = 4009
)

var upgrader = websocket.Upgrader{
	Subprotocols:    []string{bsatnSubprotocol, jsonSubprotocol},
	CheckOrigin:     func(r *http.Request) bool { return true },
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
}

// ClientSession owns one WebSocket connection: a reader goroutine (the
// one that calls readLoop, normally the request goroutine) and a
// writer goroutine (writeLoop) communicating over a bounded channel,
// the same send-queue-plus-closeOnce shape a high-throughput fan-out
// server uses to keep one slow client from stalling every other one.
type ClientSession struct {
	srv         *Server
	conn        *websocket.Conn
	subprotocol string

	clientID     string
	identity     algebraic.Identity
	connectionID algebraic.ConnectionID
	token        string

	frontend *sqlfront.Frontend

	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once

	// reqSubs maps a client-chosen Subscribe/Unsubscribe request_id to
	// the engine-global subscription ids it registered, since request
	// ids are only unique within one connection but subscribe.Engine
	// keys subscriptions by a single database-wide uint64.
	reqSubs map[uint32][]uint64

	// pendingCaller/pendingUpdate let onCommit hand this session's own
	// CallReducer-triggered ClientUpdate back synchronously instead of
	// broadcasting it as a second, redundant TransactionUpdateLight.
	pendingCaller atomic.Bool
	pendingUpdate atomic.Pointer[subscribe.ClientUpdate]
}

func newClientSession(srv *Server, conn *websocket.Conn, proto string, identity algebraic.Identity, connID algebraic.ConnectionID, token string) *ClientSession {
	return &ClientSession{
		srv:          srv,
		conn:         conn,
		subprotocol:  proto,
		clientID:     hex.EncodeToString(connID[:]),
		identity:     identity,
		connectionID: connID,
		token:        token,
		frontend:     sqlfront.New(),
		send:         make(chan []byte, srv.queueCapacity()),
		done:         make(chan struct{}),
		reqSubs:      map[uint32][]uint64{},
	}
}

func (cs *ClientSession) encode(f wire.ServerFrame) []byte {
	var (
		buf []byte
		err error
	)
	if cs.subprotocol == jsonSubprotocol {
		buf, err = wire.EncodeServerFrameJSON(f)
	} else {
		buf = wire.EncodeServerFrame(f)
	}
	if err != nil {
		log.Warnf("session: encode frame: %v", err)
		return nil
	}
	return buf
}

func (cs *ClientSession) decode(data []byte) (wire.ClientFrame, error) {
	if cs.subprotocol == jsonSubprotocol {
		return wire.DecodeClientFrameJSON(data)
	}
	return wire.DecodeClientFrame(data)
}

// enqueue queues buf for delivery without ever blocking: a full queue
// means the client is too slow, and is disconnected rather than given
// the chance to stall the caller, which may be the database's single
// executor goroutine running inside onCommit.
func (cs *ClientSession) enqueue(buf []byte) {
	if buf == nil {
		return
	}
	select {
	case <-cs.done:
		return
	default:
	}
	select {
	case cs.send <- buf:
	default:
		queueOverflows.WithLabelValues(cs.srv.label).Inc()
		cs.closeWithCode(queueOverflowCloseCode, "queue_overflow")
	}
}

func (cs *ClientSession) closeWithCode(code int, text string) {
	msg := websocket.FormatCloseMessage(code, text)
	_ = cs.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	cs.shutdown()
}

func (cs *ClientSession) shutdown() {
	cs.closeOnce.Do(func() {
		close(cs.done)
		_ = cs.conn.Close()
	})
}

func (cs *ClientSession) writeLoop() {
	msgType := websocket.BinaryMessage
	if cs.subprotocol == jsonSubprotocol {
		msgType = websocket.TextMessage
	}
	for {
		select {
		case <-cs.done:
			return
		case buf := <-cs.send:
			if err := cs.conn.WriteMessage(msgType, buf); err != nil {
				cs.shutdown()
				return
			}
		}
	}
}

func (cs *ClientSession) readLoop() {
	defer func() {
		cs.shutdown()
		cs.srv.unregister(cs)
	}()
	for {
		_, data, err := cs.conn.ReadMessage()
		if err != nil {
			return
		}
		frame, err := cs.decode(data)
		if err != nil {
			log.Warnf("session: decode client frame from %s: %v", cs.clientID, err)
			continue
		}
		cs.dispatch(frame)
	}
}

func (cs *ClientSession) dispatch(f wire.ClientFrame) {
	switch f.Tag {
	case wire.TagSubscribe:
		cs.handleSubscribe(f.Subscribe)
	case wire.TagUnsubscribe:
		cs.handleUnsubscribe(f.Unsubscribe)
	case wire.TagCallReducer:
		cs.handleCallReducer(f.CallReducer)
	}
}

func (cs *ClientSession) handleSubscribe(req wire.Subscribe) {
	plans := make([]queryplan.Logical, 0, len(req.QueryStrings))
	for _, q := range req.QueryStrings {
		plan, err := cs.frontend.Compile(q)
		if err != nil {
			cs.sendSubscriptionError(req.RequestID, err)
			return
		}
		plans = append(plans, plan)
	}

	var (
		ids    []uint64
		deltas []subscribe.TableDelta
	)
	for _, plan := range plans {
		id := cs.srv.nextSubID.Add(1)
		delta, err := cs.srv.Engine.Subscribe(cs.clientID, id, plan, cs.identity)
		if err != nil {
			for _, already := range ids {
				cs.srv.Engine.Unsubscribe(already)
			}
			cs.sendSubscriptionError(req.RequestID, err)
			return
		}
		ids = append(ids, id)
		deltas = append(deltas, delta)
	}

	cs.reqSubs[req.RequestID] = ids
	cs.enqueue(cs.encode(wire.ServerFrame{
		Tag: wire.TagInitialSubscription,
		InitialSubscription: wire.InitialSubscription{
			RequestID:      req.RequestID,
			DatabaseUpdate: cs.srv.toWireUpdate(deltas),
		},
	}))
}

func (cs *ClientSession) sendSubscriptionError(requestID uint32, err error) {
	cs.enqueue(cs.encode(wire.ServerFrame{
		Tag: wire.TagSubscriptionError,
		SubscriptionError: wire.SubscriptionError{
			RequestID:  requestID,
			HasRequest: true,
			Error:      err.Error(),
		},
	}))
}

func (cs *ClientSession) handleUnsubscribe(req wire.Unsubscribe) {
	ids, ok := cs.reqSubs[req.RequestID]
	if !ok {
		return
	}
	for _, id := range ids {
		cs.srv.Engine.Unsubscribe(id)
	}
	delete(cs.reqSubs, req.RequestID)
}

func (cs *ClientSession) handleCallReducer(req wire.CallReducer) {
	if !cs.srv.hasReducer(req.ReducerName) {
		cs.enqueue(cs.encode(wire.ServerFrame{
			Tag: wire.TagTransactionUpdate,
			TransactionUpdate: wire.TransactionUpdate{
				Status:         wire.StatusFailed,
				ReducerName:    req.ReducerName,
				CallerIdentity: cs.identity,
				Message:        "no such reducer: " + req.ReducerName,
				HasMessage:     true,
			},
		}))
		return
	}

	cs.pendingCaller.Store(true)
	outcome, callErr := cs.srv.Host.Call(req.ReducerName, req.ArgsBSATN, cs.identity, cs.connectionID)
	cs.pendingCaller.Store(false)

	status := wire.StatusCommitted
	message, hasMessage := "", false
	if callErr != nil {
		status = wire.StatusFailed
		message, hasMessage = callErr.Error(), true
	}

	var du wire.DatabaseUpdate
	if upd := cs.pendingUpdate.Swap(nil); upd != nil {
		du = cs.srv.toWireUpdate(upd.Deltas)
	}

	cs.enqueue(cs.encode(wire.ServerFrame{
		Tag: wire.TagTransactionUpdate,
		TransactionUpdate: wire.TransactionUpdate{
			Status:         status,
			ReducerName:    req.ReducerName,
			Timestamp:      outcome.Timestamp,
			CallerIdentity: cs.identity,
			EnergyUsed:     outcome.EnergyUsed,
			DatabaseUpdate: du,
			Message:        message,
			HasMessage:     hasMessage,
		},
	}))
}
