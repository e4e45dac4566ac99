package moduleh

import (
	"github.com/clockworklabs/stdb-core/internal/algebraic"
	"github.com/clockworklabs/stdb-core/internal/storage/txn"
)

// ReducerContext is the per-call handle a WASM module's host-function
// imports bind against: the open transaction, the caller's identity
// and connection, the wall-clock time of invocation, and the energy
// budget host calls are charged against.
type ReducerContext struct {
	Txn          *txn.Txn
	Sender       algebraic.Identity
	ConnectionID algebraic.ConnectionID
	Timestamp    algebraic.Timestamp
	Budget       *Budget
	Cost         CostTable
}
