package main

import (
	"context"
	"os"

	"github.com/pkg/errors"

	"github.com/clockworklabs/stdb-core/internal/config"
	"github.com/clockworklabs/stdb-core/internal/inject"
)

// wireUp loads cfgPath and wasmPath and wires a named database exactly
// as StartDatabase's own callers (tests, and a long-running serve
// process) do: ProvideDatabaseDir, ProvideStore, ProvideRuntime,
// ProvideHost (install or recover), ProvideEngine, ProvideServer.
func wireUp(ctx context.Context, cfgPath, name, wasmPath string) (*config.Config, *inject.Database, func(), error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, nil, nil, errors.Wrap(err, "stdb: load config")
	}

	wasmBytes, err := os.ReadFile(wasmPath)
	if err != nil {
		return nil, nil, nil, errors.Wrapf(err, "stdb: read %q", wasmPath)
	}

	db, cleanup, err := inject.StartDatabase(ctx, cfg, name, wasmBytes)
	if err != nil {
		return nil, nil, nil, err
	}
	return cfg, db, cleanup, nil
}
