// Package txn implements the copy-on-write MVCC transaction layer: a
// Database holds the committed Snapshot plus every table's index
// structures and auto-increment sequences, and hands out Txn overlays
// that reducer execution reads and writes against.
package txn

import (
	"os"
	"path/filepath"
	"sync/atomic"

	"github.com/gofrs/flock"
	"github.com/pkg/errors"

	"github.com/clockworklabs/stdb-core/internal/algebraic"
	"github.com/clockworklabs/stdb-core/internal/ident"
	"github.com/clockworklabs/stdb-core/internal/storage/page"
	"github.com/clockworklabs/stdb-core/internal/storage/table"
)

// Database is the single-writer-per-database transactional store: one
// process holds an exclusive directory lock, and within that process
// exactly one goroutine (the database executor, per §5) ever calls
// Begin/Commit. Concurrent out-of-band readers are safe because every
// commit publishes a brand-new *Snapshot via an atomic pointer swap
// rather than mutating the previous one.
type Database struct {
	Dir       string
	Typespace *algebraic.Typespace
	Pages     *page.Store

	lock *flock.Flock

	schemas   map[ident.TableID]*table.Schema
	sequences map[ident.TableID]map[int]*table.Sequence // tableID -> column position -> sequence
	rowIDSeq  map[ident.TableID]*table.Sequence

	snapshot atomic.Pointer[Snapshot]
}

// Open acquires the database directory's exclusive lock and returns an
// empty Database ready for schema registration. Recovery (replaying
// wal/snapshots into this Database) is the caller's responsibility,
// done before the database executor starts accepting reducer calls.
func Open(dir string) (*Database, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrap(err, "txn: create database dir")
	}
	lockPath := filepath.Join(dir, ".lock")
	lk := flock.New(lockPath)
	ok, err := lk.TryLock()
	if err != nil {
		return nil, errors.Wrap(err, "txn: acquire database lock")
	}
	if !ok {
		return nil, errors.Errorf("txn: database %q is locked by another process", dir)
	}
	pages, err := page.Open(filepath.Join(dir, "pages"))
	if err != nil {
		return nil, err
	}
	db := &Database{
		Dir:       dir,
		Typespace: algebraic.NewTypespace(),
		Pages:     pages,
		lock:      lk,
		schemas:   map[ident.TableID]*table.Schema{},
		sequences: map[ident.TableID]map[int]*table.Sequence{},
		rowIDSeq:  map[ident.TableID]*table.Sequence{},
	}
	db.snapshot.Store(emptySnapshot())
	return db, nil
}

// Close releases the directory lock and the page store's file handles.
func (db *Database) Close() error {
	if err := db.Pages.Close(); err != nil {
		return err
	}
	return db.lock.Unlock()
}

// RegisterTable installs schema into the database, per the install/
// replace rules enforced one level up in internal/moduleh (this layer
// trusts its caller already validated compatibility).
func (db *Database) RegisterTable(schema *table.Schema) {
	db.schemas[schema.ID] = schema
	db.rowIDSeq[schema.ID] = table.NewSequence(1)
	seqs := map[int]*table.Sequence{}
	for pos, col := range schema.Columns {
		if col.AutoInc {
			seqs[pos] = table.NewSequence(1)
		}
	}
	db.sequences[schema.ID] = seqs
}

// Schema returns the registered schema for tableID.
func (db *Database) Schema(tableID ident.TableID) (*table.Schema, bool) {
	s, ok := db.schemas[tableID]
	return s, ok
}

// AllSchemas returns every registered table schema, in no particular order.
func (db *Database) AllSchemas() []*table.Schema {
	out := make([]*table.Schema, 0, len(db.schemas))
	for _, s := range db.schemas {
		out = append(out, s)
	}
	return out
}

// ObserveAutoInc restores an auto-increment column's high-water mark
// during WAL replay, so the next reservation never reissues a value
// already present in a recovered row.
func (db *Database) ObserveAutoInc(tableID ident.TableID, colPos int, value uint64) {
	if seq, ok := db.sequences[tableID][colPos]; ok {
		seq.Observe(value)
	}
}

// ObserveRowID restores a table's internal row-id high-water mark
// during WAL replay, so a fresh insert after recovery never reissues
// an id a replayed row already occupies.
func (db *Database) ObserveRowID(tableID ident.TableID, id table.RowID) {
	if seq, ok := db.rowIDSeq[tableID]; ok {
		seq.Observe(uint64(id))
	}
}

// Snapshot returns the current committed snapshot. Safe to call from
// any goroutine.
func (db *Database) Snapshot() *Snapshot { return db.snapshot.Load() }

// Begin starts a transaction overlaying the current snapshot. Per the
// single-writer invariant only one Txn should ever be open for
// mutation at a time; callers that need a stable read-only view for
// longer than one reducer call should use Snapshot directly instead.
func (db *Database) Begin() *Txn {
	return &Txn{
		db:      db,
		base:    db.snapshot.Load(),
		inserts: map[ident.TableID]map[table.RowID]algebraic.ProductValue{},
		deletes: map[ident.TableID]map[table.RowID]bool{},
	}
}
