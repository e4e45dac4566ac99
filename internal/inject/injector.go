// Package inject wires one database's storage engine, module host and
// subscription engine, and session server together from a loaded
// Config, in the hand-authored google/wire style the teacher uses for
// its own wire_gen.go files (see internal/source/cdc/wire_gen.go,
// internal/source/mylogical/wire_gen.go): a flat sequence of
// Provide-prefixed constructors, each returning its value plus an
// optional cleanup func, composed by a single top-level entry point.
//
//go:generate go run github.com/google/wire/cmd/wire
//go:build !wireinject

package inject

import (
	"context"
	"os"
	"path/filepath"

	"github.com/golang-jwt/jwt/v4"
	"github.com/pkg/errors"

	"github.com/clockworklabs/stdb-core/internal/abi"
	"github.com/clockworklabs/stdb-core/internal/config"
	"github.com/clockworklabs/stdb-core/internal/moduleh"
	"github.com/clockworklabs/stdb-core/internal/session"
	"github.com/clockworklabs/stdb-core/internal/storage/txn"
	"github.com/clockworklabs/stdb-core/internal/subscribe"
	"github.com/clockworklabs/stdb-core/internal/wal"
)

// Database is the per-database bundle a Server is built from.
type Database struct {
	Name   string
	DB     *txn.Database
	Host   *moduleh.Host
	Engine *subscribe.Engine
	Server *session.Server
}

// ProvideDatabaseDir resolves a named database's on-disk directory
// under the configured data root.
func ProvideDatabaseDir(cfg *config.Config, name string) (string, error) {
	dir := filepath.Join(cfg.DataDir, name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", errors.Wrapf(err, "inject: create data dir %q", dir)
	}
	return dir, nil
}

// ProvideStore opens the transactional storage engine for a database.
func ProvideStore(dir string) (*txn.Database, func(), error) {
	db, err := txn.Open(dir)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "inject: open database at %q", dir)
	}
	return db, func() { _ = db.Close() }, nil
}

// ProvideRuntime loads wasmBytes into a fresh wazero-backed module
// runtime.
func ProvideRuntime(ctx context.Context, wasmBytes []byte) (*abi.Runtime, func(), error) {
	rt, err := abi.New(ctx, wasmBytes)
	if err != nil {
		return nil, nil, errors.Wrap(err, "inject: load module")
	}
	return rt, func() { _ = rt.Close(ctx) }, nil
}

// ProvideHost installs or recovers a module's descriptor against db,
// opens its WAL segment for future commits, and starts the single-
// executor dispatch loop. A database directory with no prior WAL
// segments is a fresh install (the init lifecycle reducer runs once);
// one with existing segments is a restart, recovered by replaying
// those segments instead of re-running init.
func ProvideHost(ctx context.Context, db *txn.Database, rt moduleh.ModuleRuntime, cfg *config.Config) (*moduleh.Host, func(), error) {
	host := moduleh.NewHost(db, rt, cfg.EnergyPerCall)

	segments, err := wal.ListSegments(db.Dir)
	if err != nil {
		return nil, nil, errors.Wrap(err, "inject: list wal segments")
	}
	if len(segments) > 0 {
		if err := host.Recover(ctx, db.Dir); err != nil {
			return nil, nil, errors.Wrap(err, "inject: recover from wal")
		}
	} else if err := host.Install(ctx); err != nil {
		return nil, nil, errors.Wrap(err, "inject: install module descriptor")
	}

	writer, err := wal.OpenWriter(wal.SegmentPath(db.Dir, len(segments)))
	if err != nil {
		return nil, nil, errors.Wrap(err, "inject: open wal segment")
	}
	host.WAL = writer

	host.Start(ctx)
	cleanup := func() {
		host.Stop()
		_ = writer.Close()
	}
	return host, cleanup, nil
}

// ProvideEngine constructs the subscription engine for db. It does
// not itself need cleanup; its lifetime is tied to db's.
func ProvideEngine(db *txn.Database) *subscribe.Engine {
	return subscribe.NewEngine(db)
}

// ProvideServer wires a Host and Engine to the outside world. The
// Keyfunc is derived from cfg.JWT, matching the algorithm configured
// in stdb.toml.
func ProvideServer(db *txn.Database, host *moduleh.Host, engine *subscribe.Engine, cfg *config.Config, name string) (*session.Server, error) {
	keyfunc, err := ProvideKeyfunc(cfg)
	if err != nil {
		return nil, err
	}
	srv := session.NewServer(db, host, engine, keyfunc, name)
	srv.QueueCapacity = cfg.SendQueueDepth
	return srv, nil
}

// ProvideKeyfunc builds a jwt.Keyfunc that enforces cfg.JWT's
// configured algorithm, the way the teacher's trust.New() authenticator
// is constructed once from static configuration and reused for every
// request.
func ProvideKeyfunc(cfg *config.Config) (jwt.Keyfunc, error) {
	switch cfg.JWT.Algorithm {
	case "HS256":
		secret := []byte(cfg.JWT.HMACSecret)
		return func(tok *jwt.Token) (interface{}, error) {
			if _, ok := tok.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, errors.Errorf("inject: unexpected signing method %v", tok.Header["alg"])
			}
			return secret, nil
		}, nil
	case "RS256":
		keyBytes, err := os.ReadFile(cfg.JWT.PublicKeyFile)
		if err != nil {
			return nil, errors.Wrapf(err, "inject: read %q", cfg.JWT.PublicKeyFile)
		}
		key, err := jwt.ParseRSAPublicKeyFromPEM(keyBytes)
		if err != nil {
			return nil, errors.Wrap(err, "inject: parse RSA public key")
		}
		return func(tok *jwt.Token) (interface{}, error) {
			if _, ok := tok.Method.(*jwt.SigningMethodRSA); !ok {
				return nil, errors.Errorf("inject: unexpected signing method %v", tok.Header["alg"])
			}
			return key, nil
		}, nil
	default:
		return nil, errors.Errorf("inject: unsupported jwt algorithm %q", cfg.JWT.Algorithm)
	}
}

// StartDatabase wires and starts a single named database end to end:
// opens its storage, loads its module, installs its descriptor,
// starts the host's dispatch loop, builds its subscription engine, and
// wraps all of it in a session.Server. The returned cleanup func tears
// down in reverse order. On error, StartDatabase releases whatever it
// had already acquired and returns a nil cleanup func.
func StartDatabase(ctx context.Context, cfg *config.Config, name string, wasmBytes []byte) (*Database, func(), error) {
	dir, err := ProvideDatabaseDir(cfg, name)
	if err != nil {
		return nil, nil, err
	}

	db, cleanupDB, err := ProvideStore(dir)
	if err != nil {
		return nil, nil, err
	}

	rt, cleanupRT, err := ProvideRuntime(ctx, wasmBytes)
	if err != nil {
		cleanupDB()
		return nil, nil, err
	}

	host, cleanupHost, err := ProvideHost(ctx, db, rt, cfg)
	if err != nil {
		cleanupRT()
		cleanupDB()
		return nil, nil, err
	}

	engine := ProvideEngine(db)

	srv, err := ProvideServer(db, host, engine, cfg, name)
	if err != nil {
		cleanupHost()
		cleanupRT()
		cleanupDB()
		return nil, nil, err
	}

	out := &Database{Name: name, DB: db, Host: host, Engine: engine, Server: srv}
	cleanup := func() {
		cleanupHost()
		cleanupRT()
		cleanupDB()
	}
	return out, cleanup, nil
}
