// Package wire implements the binary WebSocket protocol of §4.5: a
// BSATN-encoded sum of typed frames in each direction, plus a JSON
// mirror of the same schema for the debug subprotocol. BSATN is
// authoritative; the two codecs must agree on every field.
package wire

import (
	"github.com/pkg/errors"

	"github.com/clockworklabs/stdb-core/internal/algebraic"
	"github.com/clockworklabs/stdb-core/internal/bsatn"
	"github.com/clockworklabs/stdb-core/internal/ident"
)

// RowOp discriminates one row-level change inside a TableUpdate.
type RowOp uint8

const (
	RowInsert RowOp = iota
	RowDelete
	RowUpdate
)

// Operation is one row change: the already-BSATN-encoded row, ready
// to be appended to an outbound frame without re-serializing through
// the algebraic codec (the caller, internal/session, encodes each row
// once against the table's schema and hands the bytes down).
type Operation struct {
	Op       RowOp
	RowBSATN []byte
}

// TableUpdate is one table's share of a database_update.
type TableUpdate struct {
	TableID    ident.TableID
	TableName  string
	Operations []Operation
}

// DatabaseUpdate is the list of per-table updates carried by every
// server->client frame that reports a commit, restricted by the
// caller to tables/rows the client is subscribed to and permitted to
// see (RLS is applied before a TableUpdate is ever built).
type DatabaseUpdate struct {
	Tables []TableUpdate
}

// Status is TransactionUpdate's outcome discriminant.
type Status uint8

const (
	StatusCommitted Status = iota
	StatusFailed
)

// ServerFrameTag discriminates the server->client frame sum.
type ServerFrameTag uint8

const (
	TagIdentityToken ServerFrameTag = iota
	TagInitialSubscription
	TagTransactionUpdate
	TagTransactionUpdateLight
	TagSubscriptionError
)

// IdentityToken is sent once after a session's WebSocket handshake
// completes.
type IdentityToken struct {
	Identity     algebraic.Identity
	Token        string
	ConnectionID algebraic.ConnectionID
}

// InitialSubscription answers a client's Subscribe with every row
// currently matching its query, delivered as inserts.
type InitialSubscription struct {
	RequestID      uint32
	DatabaseUpdate DatabaseUpdate
}

// TransactionUpdate is sent to the caller of a reducer after it
// commits or fails.
type TransactionUpdate struct {
	Status         Status
	ReducerName    string
	Timestamp      algebraic.Timestamp
	CallerIdentity algebraic.Identity
	EnergyUsed     uint64
	DatabaseUpdate DatabaseUpdate
	Message        string
	HasMessage     bool
}

// TransactionUpdateLight is sent to every other subscriber affected by
// a commit that was not their own reducer call.
type TransactionUpdateLight struct {
	DatabaseUpdate DatabaseUpdate
}

// SubscriptionError reports a failed Subscribe, optionally scoped to
// the request or table that caused it.
type SubscriptionError struct {
	RequestID  uint32
	HasRequest bool
	TableID    ident.TableID
	HasTableID bool
	Error      string
}

// ServerFrame is the server->client sum; exactly one field matching
// Tag is populated.
type ServerFrame struct {
	Tag ServerFrameTag

	IdentityToken          IdentityToken
	InitialSubscription    InitialSubscription
	TransactionUpdate      TransactionUpdate
	TransactionUpdateLight TransactionUpdateLight
	SubscriptionError      SubscriptionError
}

// ClientFrameTag discriminates the client->server frame sum.
type ClientFrameTag uint8

const (
	TagSubscribe ClientFrameTag = iota
	TagUnsubscribe
	TagCallReducer
)

// Subscribe asks the session to start one or more subscriptions, one
// per query string; the host compiles each string through
// internal/sqlfront.
type Subscribe struct {
	RequestID    uint32
	QueryStrings []string
}

// Unsubscribe drops a previously established subscription.
type Unsubscribe struct {
	RequestID uint32
}

// CallReducer invokes a reducer by name with pre-encoded BSATN
// arguments; the session resolves ReducerName through the module
// descriptor before dispatch.
type CallReducer struct {
	RequestID   uint32
	ReducerName string
	ArgsBSATN   []byte
}

// ClientFrame is the client->server sum; exactly one field matching
// Tag is populated.
type ClientFrame struct {
	Tag ClientFrameTag

	Subscribe   Subscribe
	Unsubscribe Unsubscribe
	CallReducer CallReducer
}

// ErrUnknownTag is returned when a decoded sum tag names no known
// frame variant, which can only mean a version mismatch between peers.
var ErrUnknownTag = errors.New("wire: unknown frame tag")

func encodeTableUpdate(w *bsatn.Writer, t TableUpdate) {
	w.WriteU32(uint32(t.TableID))
	w.WriteString(t.TableName)
	w.WriteArrayHeader(len(t.Operations))
	for _, op := range t.Operations {
		w.WriteU8(uint8(op.Op))
		w.WriteBytes(op.RowBSATN)
	}
}

func decodeTableUpdate(r *bsatn.Reader) (TableUpdate, error) {
	tid, err := r.ReadU32()
	if err != nil {
		return TableUpdate{}, err
	}
	name, err := r.ReadString()
	if err != nil {
		return TableUpdate{}, err
	}
	n, err := r.ReadArrayHeader()
	if err != nil {
		return TableUpdate{}, err
	}
	ops := make([]Operation, n)
	for i := range ops {
		opKind, err := r.ReadU8()
		if err != nil {
			return TableUpdate{}, err
		}
		row, err := r.ReadBytes()
		if err != nil {
			return TableUpdate{}, err
		}
		ops[i] = Operation{Op: RowOp(opKind), RowBSATN: row}
	}
	return TableUpdate{TableID: ident.TableID(tid), TableName: name, Operations: ops}, nil
}

func encodeDatabaseUpdate(w *bsatn.Writer, d DatabaseUpdate) {
	w.WriteArrayHeader(len(d.Tables))
	for _, t := range d.Tables {
		encodeTableUpdate(w, t)
	}
}

func decodeDatabaseUpdate(r *bsatn.Reader) (DatabaseUpdate, error) {
	n, err := r.ReadArrayHeader()
	if err != nil {
		return DatabaseUpdate{}, err
	}
	if n == 0 {
		return DatabaseUpdate{}, nil
	}
	tables := make([]TableUpdate, n)
	for i := range tables {
		tu, err := decodeTableUpdate(r)
		if err != nil {
			return DatabaseUpdate{}, err
		}
		tables[i] = tu
	}
	return DatabaseUpdate{Tables: tables}, nil
}

// EncodeServerFrame serializes f to the BSATN buffer sent over the
// authoritative binary subprotocol.
func EncodeServerFrame(f ServerFrame) []byte {
	w := bsatn.NewWriter()
	w.WriteU8(uint8(f.Tag))
	switch f.Tag {
	case TagIdentityToken:
		algebraic.EncodeIdentity(w, f.IdentityToken.Identity)
		w.WriteString(f.IdentityToken.Token)
		algebraic.EncodeConnectionID(w, f.IdentityToken.ConnectionID)
	case TagInitialSubscription:
		w.WriteU32(f.InitialSubscription.RequestID)
		encodeDatabaseUpdate(w, f.InitialSubscription.DatabaseUpdate)
	case TagTransactionUpdate:
		u := f.TransactionUpdate
		w.WriteU8(uint8(u.Status))
		w.WriteString(u.ReducerName)
		algebraic.EncodeTimestamp(w, u.Timestamp)
		algebraic.EncodeIdentity(w, u.CallerIdentity)
		w.WriteU64(u.EnergyUsed)
		encodeDatabaseUpdate(w, u.DatabaseUpdate)
		if u.HasMessage {
			w.WriteOptionSome()
			w.WriteString(u.Message)
		} else {
			w.WriteOptionNone()
		}
	case TagTransactionUpdateLight:
		encodeDatabaseUpdate(w, f.TransactionUpdateLight.DatabaseUpdate)
	case TagSubscriptionError:
		e := f.SubscriptionError
		if e.HasRequest {
			w.WriteOptionSome()
			w.WriteU32(e.RequestID)
		} else {
			w.WriteOptionNone()
		}
		if e.HasTableID {
			w.WriteOptionSome()
			w.WriteU32(uint32(e.TableID))
		} else {
			w.WriteOptionNone()
		}
		w.WriteString(e.Error)
	}
	return w.Bytes()
}

// DecodeServerFrame reverses EncodeServerFrame.
func DecodeServerFrame(buf []byte) (ServerFrame, error) {
	r := bsatn.NewReader(buf)
	tag, err := r.ReadU8()
	if err != nil {
		return ServerFrame{}, err
	}
	f := ServerFrame{Tag: ServerFrameTag(tag)}
	switch f.Tag {
	case TagIdentityToken:
		id, err := algebraic.DecodeIdentity(r)
		if err != nil {
			return ServerFrame{}, err
		}
		token, err := r.ReadString()
		if err != nil {
			return ServerFrame{}, err
		}
		cid, err := algebraic.DecodeConnectionID(r)
		if err != nil {
			return ServerFrame{}, err
		}
		f.IdentityToken = IdentityToken{Identity: id, Token: token, ConnectionID: cid}
	case TagInitialSubscription:
		reqID, err := r.ReadU32()
		if err != nil {
			return ServerFrame{}, err
		}
		du, err := decodeDatabaseUpdate(r)
		if err != nil {
			return ServerFrame{}, err
		}
		f.InitialSubscription = InitialSubscription{RequestID: reqID, DatabaseUpdate: du}
	case TagTransactionUpdate:
		status, err := r.ReadU8()
		if err != nil {
			return ServerFrame{}, err
		}
		name, err := r.ReadString()
		if err != nil {
			return ServerFrame{}, err
		}
		ts, err := algebraic.DecodeTimestamp(r)
		if err != nil {
			return ServerFrame{}, err
		}
		caller, err := algebraic.DecodeIdentity(r)
		if err != nil {
			return ServerFrame{}, err
		}
		energy, err := r.ReadU64()
		if err != nil {
			return ServerFrame{}, err
		}
		du, err := decodeDatabaseUpdate(r)
		if err != nil {
			return ServerFrame{}, err
		}
		hasMsg, err := r.ReadOptionTag()
		if err != nil {
			return ServerFrame{}, err
		}
		var msg string
		if hasMsg {
			msg, err = r.ReadString()
			if err != nil {
				return ServerFrame{}, err
			}
		}
		f.TransactionUpdate = TransactionUpdate{
			Status: Status(status), ReducerName: name, Timestamp: ts,
			CallerIdentity: caller, EnergyUsed: energy, DatabaseUpdate: du,
			Message: msg, HasMessage: hasMsg,
		}
	case TagTransactionUpdateLight:
		du, err := decodeDatabaseUpdate(r)
		if err != nil {
			return ServerFrame{}, err
		}
		f.TransactionUpdateLight = TransactionUpdateLight{DatabaseUpdate: du}
	case TagSubscriptionError:
		hasReq, err := r.ReadOptionTag()
		if err != nil {
			return ServerFrame{}, err
		}
		var reqID uint32
		if hasReq {
			reqID, err = r.ReadU32()
			if err != nil {
				return ServerFrame{}, err
			}
		}
		hasTable, err := r.ReadOptionTag()
		if err != nil {
			return ServerFrame{}, err
		}
		var tid uint32
		if hasTable {
			tid, err = r.ReadU32()
			if err != nil {
				return ServerFrame{}, err
			}
		}
		msg, err := r.ReadString()
		if err != nil {
			return ServerFrame{}, err
		}
		f.SubscriptionError = SubscriptionError{
			RequestID: reqID, HasRequest: hasReq,
			TableID: ident.TableID(tid), HasTableID: hasTable,
			Error: msg,
		}
	default:
		return ServerFrame{}, errors.Wrapf(ErrUnknownTag, "%d", tag)
	}
	return f, nil
}

// EncodeClientFrame serializes f to its BSATN buffer.
func EncodeClientFrame(f ClientFrame) []byte {
	w := bsatn.NewWriter()
	w.WriteU8(uint8(f.Tag))
	switch f.Tag {
	case TagSubscribe:
		w.WriteU32(f.Subscribe.RequestID)
		w.WriteArrayHeader(len(f.Subscribe.QueryStrings))
		for _, q := range f.Subscribe.QueryStrings {
			w.WriteString(q)
		}
	case TagUnsubscribe:
		w.WriteU32(f.Unsubscribe.RequestID)
	case TagCallReducer:
		w.WriteU32(f.CallReducer.RequestID)
		w.WriteString(f.CallReducer.ReducerName)
		w.WriteBytes(f.CallReducer.ArgsBSATN)
	}
	return w.Bytes()
}

// DecodeClientFrame reverses EncodeClientFrame.
func DecodeClientFrame(buf []byte) (ClientFrame, error) {
	r := bsatn.NewReader(buf)
	tag, err := r.ReadU8()
	if err != nil {
		return ClientFrame{}, err
	}
	f := ClientFrame{Tag: ClientFrameTag(tag)}
	switch f.Tag {
	case TagSubscribe:
		reqID, err := r.ReadU32()
		if err != nil {
			return ClientFrame{}, err
		}
		n, err := r.ReadArrayHeader()
		if err != nil {
			return ClientFrame{}, err
		}
		qs := make([]string, n)
		for i := range qs {
			qs[i], err = r.ReadString()
			if err != nil {
				return ClientFrame{}, err
			}
		}
		f.Subscribe = Subscribe{RequestID: reqID, QueryStrings: qs}
	case TagUnsubscribe:
		reqID, err := r.ReadU32()
		if err != nil {
			return ClientFrame{}, err
		}
		f.Unsubscribe = Unsubscribe{RequestID: reqID}
	case TagCallReducer:
		reqID, err := r.ReadU32()
		if err != nil {
			return ClientFrame{}, err
		}
		name, err := r.ReadString()
		if err != nil {
			return ClientFrame{}, err
		}
		args, err := r.ReadBytes()
		if err != nil {
			return ClientFrame{}, err
		}
		f.CallReducer = CallReducer{RequestID: reqID, ReducerName: name, ArgsBSATN: args}
	default:
		return ClientFrame{}, errors.Wrapf(ErrUnknownTag, "%d", tag)
	}
	return f, nil
}
