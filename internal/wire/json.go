package wire

import (
	"encoding/hex"
	"encoding/json"

	"github.com/pkg/errors"

	"github.com/clockworklabs/stdb-core/internal/algebraic"
	"github.com/clockworklabs/stdb-core/internal/ident"
)

// This file mirrors wire.go's BSATN frames as JSON for the debug
// subprotocol named in §4.5. Every frame is wrapped in a tagged
// {"type": ..., payload fields...} envelope, the same
// tag-plus-raw-fields shape used elsewhere in the pack for JSON-RPC
// style protocols; Identity and ConnectionId render as hex strings
// rather than byte arrays so a human reading a debug capture can
// actually compare them.

type jsonOperation struct {
	Op  string `json:"op"`
	Row []byte `json:"row_bsatn"`
}

type jsonTableUpdate struct {
	TableID    uint32          `json:"table_id"`
	TableName  string          `json:"table_name"`
	Operations []jsonOperation `json:"operations"`
}

type jsonDatabaseUpdate struct {
	Tables []jsonTableUpdate `json:"tables"`
}

func rowOpName(op RowOp) string {
	switch op {
	case RowInsert:
		return "insert"
	case RowDelete:
		return "delete"
	case RowUpdate:
		return "update"
	default:
		return "insert"
	}
}

func rowOpFromName(s string) RowOp {
	switch s {
	case "delete":
		return RowDelete
	case "update":
		return RowUpdate
	default:
		return RowInsert
	}
}

func toJSONDatabaseUpdate(d DatabaseUpdate) jsonDatabaseUpdate {
	out := jsonDatabaseUpdate{Tables: make([]jsonTableUpdate, len(d.Tables))}
	for i, t := range d.Tables {
		jt := jsonTableUpdate{TableID: uint32(t.TableID), TableName: t.TableName, Operations: make([]jsonOperation, len(t.Operations))}
		for j, op := range t.Operations {
			jt.Operations[j] = jsonOperation{Op: rowOpName(op.Op), Row: op.RowBSATN}
		}
		out.Tables[i] = jt
	}
	return out
}

func fromJSONDatabaseUpdate(d jsonDatabaseUpdate) DatabaseUpdate {
	out := DatabaseUpdate{Tables: make([]TableUpdate, len(d.Tables))}
	for i, t := range d.Tables {
		ops := make([]Operation, len(t.Operations))
		for j, op := range t.Operations {
			ops[j] = Operation{Op: rowOpFromName(op.Op), RowBSATN: op.Row}
		}
		out.Tables[i] = TableUpdate{TableID: ident.TableID(t.TableID), TableName: t.TableName, Operations: ops}
	}
	return out
}

type jsonServerFrame struct {
	Type string `json:"type"`

	Identity     string `json:"identity,omitempty"`
	Token        string `json:"token,omitempty"`
	ConnectionID string `json:"connection_id,omitempty"`

	RequestID      *uint32            `json:"request_id,omitempty"`
	DatabaseUpdate jsonDatabaseUpdate `json:"database_update,omitempty"`

	Status         string `json:"status,omitempty"`
	ReducerName    string `json:"reducer_name,omitempty"`
	Timestamp      int64  `json:"timestamp,omitempty"`
	CallerIdentity string `json:"caller_identity,omitempty"`
	EnergyUsed     uint64 `json:"energy_used,omitempty"`
	Message        string `json:"message,omitempty"`

	TableID *uint32 `json:"table_id,omitempty"`
	Error   string  `json:"error,omitempty"`
}

// EncodeServerFrameJSON renders f as the JSON mirror of EncodeServerFrame.
func EncodeServerFrameJSON(f ServerFrame) ([]byte, error) {
	out := jsonServerFrame{}
	switch f.Tag {
	case TagIdentityToken:
		out.Type = "IdentityToken"
		out.Identity = hex.EncodeToString(f.IdentityToken.Identity[:])
		out.Token = f.IdentityToken.Token
		out.ConnectionID = hex.EncodeToString(f.IdentityToken.ConnectionID[:])
	case TagInitialSubscription:
		out.Type = "InitialSubscription"
		reqID := f.InitialSubscription.RequestID
		out.RequestID = &reqID
		out.DatabaseUpdate = toJSONDatabaseUpdate(f.InitialSubscription.DatabaseUpdate)
	case TagTransactionUpdate:
		u := f.TransactionUpdate
		out.Type = "TransactionUpdate"
		if u.Status == StatusCommitted {
			out.Status = "committed"
		} else {
			out.Status = "failed"
		}
		out.ReducerName = u.ReducerName
		out.Timestamp = int64(u.Timestamp)
		out.CallerIdentity = hex.EncodeToString(u.CallerIdentity[:])
		out.EnergyUsed = u.EnergyUsed
		out.DatabaseUpdate = toJSONDatabaseUpdate(u.DatabaseUpdate)
		if u.HasMessage {
			out.Message = u.Message
		}
	case TagTransactionUpdateLight:
		out.Type = "TransactionUpdateLight"
		out.DatabaseUpdate = toJSONDatabaseUpdate(f.TransactionUpdateLight.DatabaseUpdate)
	case TagSubscriptionError:
		e := f.SubscriptionError
		out.Type = "SubscriptionError"
		if e.HasRequest {
			reqID := e.RequestID
			out.RequestID = &reqID
		}
		if e.HasTableID {
			tid := uint32(e.TableID)
			out.TableID = &tid
		}
		out.Error = e.Error
	default:
		return nil, errors.Wrapf(ErrUnknownTag, "%d", f.Tag)
	}
	return json.Marshal(out)
}

// DecodeServerFrameJSON reverses EncodeServerFrameJSON.
func DecodeServerFrameJSON(buf []byte) (ServerFrame, error) {
	var in jsonServerFrame
	if err := json.Unmarshal(buf, &in); err != nil {
		return ServerFrame{}, err
	}
	switch in.Type {
	case "IdentityToken":
		id, err := hex.DecodeString(in.Identity)
		if err != nil {
			return ServerFrame{}, err
		}
		cid, err := hex.DecodeString(in.ConnectionID)
		if err != nil {
			return ServerFrame{}, err
		}
		var identity algebraic.Identity
		copy(identity[:], id)
		var connID algebraic.ConnectionID
		copy(connID[:], cid)
		return ServerFrame{Tag: TagIdentityToken, IdentityToken: IdentityToken{
			Identity: identity, Token: in.Token, ConnectionID: connID,
		}}, nil
	case "InitialSubscription":
		var reqID uint32
		if in.RequestID != nil {
			reqID = *in.RequestID
		}
		return ServerFrame{Tag: TagInitialSubscription, InitialSubscription: InitialSubscription{
			RequestID: reqID, DatabaseUpdate: fromJSONDatabaseUpdate(in.DatabaseUpdate),
		}}, nil
	case "TransactionUpdate":
		caller, err := hex.DecodeString(in.CallerIdentity)
		if err != nil {
			return ServerFrame{}, err
		}
		var callerIdentity algebraic.Identity
		copy(callerIdentity[:], caller)
		status := StatusFailed
		if in.Status == "committed" {
			status = StatusCommitted
		}
		return ServerFrame{Tag: TagTransactionUpdate, TransactionUpdate: TransactionUpdate{
			Status: status, ReducerName: in.ReducerName, Timestamp: algebraic.Timestamp(in.Timestamp),
			CallerIdentity: callerIdentity, EnergyUsed: in.EnergyUsed,
			DatabaseUpdate: fromJSONDatabaseUpdate(in.DatabaseUpdate),
			Message: in.Message, HasMessage: in.Message != "",
		}}, nil
	case "TransactionUpdateLight":
		return ServerFrame{Tag: TagTransactionUpdateLight, TransactionUpdateLight: TransactionUpdateLight{
			DatabaseUpdate: fromJSONDatabaseUpdate(in.DatabaseUpdate),
		}}, nil
	case "SubscriptionError":
		se := SubscriptionError{Error: in.Error}
		if in.RequestID != nil {
			se.RequestID = *in.RequestID
			se.HasRequest = true
		}
		if in.TableID != nil {
			se.TableID = ident.TableID(*in.TableID)
			se.HasTableID = true
		}
		return ServerFrame{Tag: TagSubscriptionError, SubscriptionError: se}, nil
	default:
		return ServerFrame{}, errors.Wrapf(ErrUnknownTag, "%q", in.Type)
	}
}

type jsonClientFrame struct {
	Type string `json:"type"`

	RequestID    uint32   `json:"request_id"`
	QueryStrings []string `json:"query_strings,omitempty"`
	ReducerName  string   `json:"reducer_name,omitempty"`
	ArgsBSATN    []byte   `json:"args_bsatn,omitempty"`
}

// EncodeClientFrameJSON renders f as the JSON mirror of EncodeClientFrame.
func EncodeClientFrameJSON(f ClientFrame) ([]byte, error) {
	out := jsonClientFrame{}
	switch f.Tag {
	case TagSubscribe:
		out.Type = "Subscribe"
		out.RequestID = f.Subscribe.RequestID
		out.QueryStrings = f.Subscribe.QueryStrings
	case TagUnsubscribe:
		out.Type = "Unsubscribe"
		out.RequestID = f.Unsubscribe.RequestID
	case TagCallReducer:
		out.Type = "CallReducer"
		out.RequestID = f.CallReducer.RequestID
		out.ReducerName = f.CallReducer.ReducerName
		out.ArgsBSATN = f.CallReducer.ArgsBSATN
	default:
		return nil, errors.Wrapf(ErrUnknownTag, "%d", f.Tag)
	}
	return json.Marshal(out)
}

// DecodeClientFrameJSON reverses EncodeClientFrameJSON.
func DecodeClientFrameJSON(buf []byte) (ClientFrame, error) {
	var in jsonClientFrame
	if err := json.Unmarshal(buf, &in); err != nil {
		return ClientFrame{}, err
	}
	switch in.Type {
	case "Subscribe":
		return ClientFrame{Tag: TagSubscribe, Subscribe: Subscribe{
			RequestID: in.RequestID, QueryStrings: in.QueryStrings,
		}}, nil
	case "Unsubscribe":
		return ClientFrame{Tag: TagUnsubscribe, Unsubscribe: Unsubscribe{RequestID: in.RequestID}}, nil
	case "CallReducer":
		return ClientFrame{Tag: TagCallReducer, CallReducer: CallReducer{
			RequestID: in.RequestID, ReducerName: in.ReducerName, ArgsBSATN: in.ArgsBSATN,
		}}, nil
	default:
		return ClientFrame{}, errors.Wrapf(ErrUnknownTag, "%q", in.Type)
	}
}
