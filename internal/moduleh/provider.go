package moduleh

import (
	"github.com/google/wire"

	"github.com/clockworklabs/stdb-core/internal/storage/txn"
)

// Set is used by Wire.
var Set = wire.NewSet(
	ProvideCostTable,
	ProvideHost,
)

// ProvideCostTable supplies the default energy cost table. A module
// with different runtime characteristics can override it by binding a
// CostTable directly instead of including this provider.
func ProvideCostTable() CostTable { return DefaultCostTable() }

// ProvideHost constructs a Host over db using runtime and cost; it is
// the Host provider in Set that InitializeHost uses.
func ProvideHost(db *txn.Database, runtime ModuleRuntime, cost CostTable, energyPerCall int64) *Host {
	h := NewHost(db, runtime, energyPerCall)
	h.Cost = cost
	return h
}
