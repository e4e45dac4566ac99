//go:build wireinject
// +build wireinject

package moduleh

import (
	"github.com/google/wire"

	"github.com/clockworklabs/stdb-core/internal/storage/txn"
)

// InitializeHost builds a Host for db using runtime and the default
// cost table.
func InitializeHost(db *txn.Database, runtime ModuleRuntime, energyPerCall int64) (*Host, error) {
	panic(wire.Build(Set))
}
