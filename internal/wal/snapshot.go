package wal

import (
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/golang/snappy"
	"github.com/pkg/errors"

	"github.com/clockworklabs/stdb-core/internal/algebraic"
	"github.com/clockworklabs/stdb-core/internal/bsatn"
	"github.com/clockworklabs/stdb-core/internal/storage/txn"
)

// Snapshotter checkpoints a Database's full row state to
// <dir>/snapshots/<epoch>/, Snappy-compressed, each time Checkpoint is
// called. Nothing calls it on a schedule, and Recovery does not read
// snapshots: replay always starts from the WAL segments alone.
type Snapshotter struct {
	DB  *txn.Database
	Dir string
}

// Checkpoint writes every table's current snapshot rows to a new
// <epoch>/ directory, one Snappy-compressed file per table.
func (s *Snapshotter) Checkpoint() (string, error) {
	snap := s.DB.Snapshot()
	epochDir := filepath.Join(s.Dir, "snapshots", strconv.FormatUint(snap.Epoch(), 10))
	if err := os.MkdirAll(epochDir, 0o755); err != nil {
		return "", errors.Wrap(err, "wal: create snapshot dir")
	}

	for _, schema := range s.DB.AllSchemas() {
		rows := snap.Rows(schema.ID)
		rowType := algebraic.Product(columnsToElements(schema.Columns)...)
		w := bsatn.NewWriter()
		w.WriteArrayHeader(len(rows))
		for id, row := range rows {
			w.WriteU64(uint64(id))
			if err := algebraic.Encode(s.DB.Typespace, rowType, row, w); err != nil {
				return "", errors.Wrapf(err, "wal: encode table %d row", schema.ID)
			}
		}
		compressed := snappy.Encode(nil, w.Bytes())
		path := filepath.Join(epochDir, strconv.FormatUint(uint64(schema.ID), 10)+".snap")
		if err := os.WriteFile(path, compressed, 0o644); err != nil {
			return "", errors.Wrapf(err, "wal: write snapshot for table %d", schema.ID)
		}
	}
	return epochDir, nil
}

// Interval returns a ticker firing every d. No component in this
// module calls it.
func Interval(d time.Duration) *time.Ticker {
	return time.NewTicker(d)
}
