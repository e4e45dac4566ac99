// Package session is the connection layer of §4.5: it terminates the
// WebSocket upgrade, authenticates a connecting client's JWT into an
// Identity, and translates wire.ClientFrame/ServerFrame traffic into
// calls against internal/subscribe.Engine and internal/moduleh.Host.
// One Server serves one database; one ClientSession serves one
// WebSocket connection.
package session

import (
	"crypto/rand"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/golang-jwt/jwt/v4"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"

	"github.com/clockworklabs/stdb-core/internal/algebraic"
	"github.com/clockworklabs/stdb-core/internal/moduleh"
	"github.com/clockworklabs/stdb-core/internal/storage/table"
	"github.com/clockworklabs/stdb-core/internal/storage/txn"
	"github.com/clockworklabs/stdb-core/internal/subscribe"
	"github.com/clockworklabs/stdb-core/internal/wire"
)

// defaultQueueCapacity bounds a session's outgoing frame queue. A
// client that cannot keep up is disconnected rather than allowed to
// apply backpressure to the database's single executor goroutine.
const defaultQueueCapacity = 256

// Server wires one database's Host and subscribe.Engine to the
// outside world over HTTP/WebSocket. Construct with NewServer, which
// installs the Engine's commit fan-out as Host.OnCommit.
type Server struct {
	DB     *txn.Database
	Host   *moduleh.Host
	Engine *subscribe.Engine

	// Keyfunc verifies an incoming bearer token's signature; see
	// golang-jwt/jwt's Keyfunc contract. Required.
	Keyfunc jwt.Keyfunc

	// QueueCapacity overrides defaultQueueCapacity when positive.
	QueueCapacity int

	label string

	mu        sync.Mutex
	sessions  map[string]*ClientSession
	nextSubID atomic.Uint64
}

// NewServer constructs a Server for db/host/engine and wires
// engine's commit notifications into host.OnCommit.
func NewServer(db *txn.Database, host *moduleh.Host, engine *subscribe.Engine, keyfunc jwt.Keyfunc, label string) *Server {
	srv := &Server{
		DB:       db,
		Host:     host,
		Engine:   engine,
		Keyfunc:  keyfunc,
		label:    label,
		sessions: map[string]*ClientSession{},
	}
	host.OnCommit = srv.onCommit
	return srv
}

// Router builds the HTTP mux: the WebSocket upgrade endpoint plus
// health and metrics, in the style of cdc-sink's server package.
func (srv *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{AllowedOrigins: []string{"*"}}))
	r.Get("/healthz", srv.handleHealthz)
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/database/subscribe", srv.handleUpgrade)
	return r
}

func (srv *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (srv *Server) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	identity, err := srv.authenticate(r)
	if err != nil {
		http.Error(w, "AuthInvalid: "+err.Error(), http.StatusUnauthorized)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warnf("session: upgrade failed: %v", err)
		return
	}

	proto := conn.Subprotocol()
	if proto == "" {
		proto = bsatnSubprotocol
	}

	var connID algebraic.ConnectionID
	if _, err := rand.Read(connID[:]); err != nil {
		_ = conn.Close()
		return
	}

	cs := newClientSession(srv, conn, proto, identity, connID, bearerToken(r))
	srv.register(cs)
	activeSessions.WithLabelValues(srv.label).Inc()
	defer activeSessions.WithLabelValues(srv.label).Dec()

	go cs.writeLoop()
	cs.enqueue(cs.encode(wire.ServerFrame{
		Tag: wire.TagIdentityToken,
		IdentityToken: wire.IdentityToken{
			Identity:     identity,
			Token:        cs.token,
			ConnectionID: connID,
		},
	}))
	cs.readLoop()
}

// authenticate extracts and verifies a bearer JWT, deriving the
// caller's Identity from its "iss"/"sub" claims.
func (srv *Server) authenticate(r *http.Request) (algebraic.Identity, error) {
	tok := bearerToken(r)
	if tok == "" {
		return algebraic.Identity{}, errors.New("missing bearer token")
	}
	claims := jwt.MapClaims{}
	if _, err := jwt.ParseWithClaims(tok, claims, srv.Keyfunc); err != nil {
		return algebraic.Identity{}, errors.Wrap(err, "invalid token")
	}
	sub, _ := claims["sub"].(string)
	if sub == "" {
		return algebraic.Identity{}, errors.New("token missing sub claim")
	}
	iss, _ := claims["iss"].(string)
	return DeriveIdentity(iss, sub), nil
}

func bearerToken(r *http.Request) string {
	if tok := r.URL.Query().Get("token"); tok != "" {
		return tok
	}
	const prefix = "Bearer "
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, prefix) {
		return strings.TrimPrefix(auth, prefix)
	}
	return ""
}

func (srv *Server) register(cs *ClientSession) {
	srv.mu.Lock()
	srv.sessions[cs.clientID] = cs
	srv.mu.Unlock()
}

func (srv *Server) unregister(cs *ClientSession) {
	srv.mu.Lock()
	delete(srv.sessions, cs.clientID)
	srv.mu.Unlock()
	srv.Engine.DropClient(cs.clientID)
}

func (srv *Server) queueCapacity() int {
	if srv.QueueCapacity > 0 {
		return srv.QueueCapacity
	}
	return defaultQueueCapacity
}

func (srv *Server) hasReducer(name string) bool {
	_, ok := srv.Host.Descriptor().Reducer(name)
	return ok
}

// onCommit is installed as Host.OnCommit: it asks the subscribe
// engine which clients' result sets changed and routes each client's
// update to its send queue, except for a client with an in-flight
// CallReducer, whose update is instead handed back synchronously so
// it can be folded into that call's own TransactionUpdate rather than
// duplicated as a TransactionUpdateLight.
func (srv *Server) onCommit(diffs []txn.Diff) {
	updates := srv.Engine.HandleCommit(diffs)
	for _, u := range updates {
		srv.mu.Lock()
		cs, ok := srv.sessions[u.ClientID]
		srv.mu.Unlock()
		if !ok {
			continue
		}
		if cs.pendingCaller.Load() {
			uCopy := u
			cs.pendingUpdate.Store(&uCopy)
			continue
		}
		cs.enqueue(cs.encode(wire.ServerFrame{
			Tag: wire.TagTransactionUpdateLight,
			TransactionUpdateLight: wire.TransactionUpdateLight{
				DatabaseUpdate: srv.toWireUpdate(u.Deltas),
			},
		}))
	}
}

func (srv *Server) schemaByName(name string) (*table.Schema, bool) {
	for _, s := range srv.DB.AllSchemas() {
		if s.Name == name {
			return s, true
		}
	}
	return nil, false
}

// toWireUpdate encodes a subscribe.TableDelta slice as the
// wire.DatabaseUpdate a TransactionUpdate/TransactionUpdateLight/
// InitialSubscription frame carries, encoding each changed row against
// its table's own Product type.
func (srv *Server) toWireUpdate(deltas []subscribe.TableDelta) wire.DatabaseUpdate {
	var du wire.DatabaseUpdate
	for _, d := range deltas {
		schema, ok := srv.schemaByName(d.Table)
		if !ok {
			continue
		}
		tu := wire.TableUpdate{TableID: schema.ID, TableName: d.Table}
		for _, op := range d.Ops {
			rowBytes, err := schema.EncodeRow(srv.DB.Typespace, op.Row)
			if err != nil {
				log.Warnf("session: encode row for table %q: %v", d.Table, err)
				continue
			}
			tu.Operations = append(tu.Operations, wire.Operation{Op: wireRowOp(op.Op), RowBSATN: rowBytes})
		}
		du.Tables = append(du.Tables, tu)
	}
	return du
}

func wireRowOp(op subscribe.Op) wire.RowOp {
	switch op {
	case subscribe.OpDelete:
		return wire.RowDelete
	case subscribe.OpUpdate:
		return wire.RowUpdate
	default:
		return wire.RowInsert
	}
}
