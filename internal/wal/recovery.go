package wal

import (
	"encoding/binary"
	"hash/crc32"
	"io"
	"os"
	"path/filepath"
	"sort"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/clockworklabs/stdb-core/internal/algebraic"
	"github.com/clockworklabs/stdb-core/internal/ident"
	"github.com/clockworklabs/stdb-core/internal/storage/table"
	"github.com/clockworklabs/stdb-core/internal/storage/txn"
)

// ErrCorruptRecord names a corrupt WAL record; ReadSegment does not
// return it, since it stops quietly at a corrupt frame.
var ErrCorruptRecord = errors.New("wal: corrupt record")

// ReadSegment decodes well-formed records from path, in order, and
// stops at the first frame that is truncated, fails its crc32 check or
// does not decode (the signature of a crash mid-write). That frame and
// everything after it are silently dropped rather than treated as a
// fatal error, since fsync-before-ack guarantees everything before it
// is durable.
func ReadSegment(path string) ([]Record, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "wal: open segment for replay")
	}
	defer f.Close()

	var records []Record
	for {
		var hdr [frameHeaderSize]byte
		if _, err := io.ReadFull(f, hdr[:]); err != nil {
			break // EOF or short read: stop, discard trailing partial frame
		}
		length := binary.LittleEndian.Uint32(hdr[0:4])
		wantCRC := binary.LittleEndian.Uint32(hdr[4:8])

		payload := make([]byte, length)
		if _, err := io.ReadFull(f, payload); err != nil {
			break // trailing partial payload: discard
		}
		if crc32.ChecksumIEEE(payload) != wantCRC {
			break // corrupt trailing frame: discard and stop
		}
		rec, err := Decode(payload)
		if err != nil {
			break
		}
		records = append(records, rec)
	}
	return records, nil
}

// ListSegments returns every segment file under dir/wal, in
// chronological (name) order.
func ListSegments(dir string) ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(dir, "wal"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "wal: list segments")
	}
	var paths []string
	for _, e := range entries {
		if !e.IsDir() {
			paths = append(paths, filepath.Join(dir, "wal", e.Name()))
		}
	}
	sort.Strings(paths)
	return paths, nil
}

// Recovery replays a database directory's segments against an already-
// opened, schema-registered Database, restoring every table's rows and
// every auto-increment sequence's high-water mark.
type Recovery struct {
	DB *txn.Database
}

// Replay loads every segment under dir/wal in order and applies each
// record's row operations directly (never by re-invoking the
// reducer), via the normal storage/txn API so that indexes and
// sequences end up consistent with a live commit.
func (rc *Recovery) Replay(dir string) error {
	segments, err := ListSegments(dir)
	if err != nil {
		return err
	}
	if len(segments) > 0 {
		log.Infof("wal: replaying %d segment(s) from %s", len(segments), dir)
	}
	seenAutoInc := map[ident.TableID]map[int]uint64{}
	seenRowID := map[ident.TableID]table.RowID{}

	for _, seg := range segments {
		records, err := ReadSegment(seg)
		if err != nil {
			return err
		}
		for _, rec := range records {
			if err := rc.applyRecord(rec, seenAutoInc, seenRowID); err != nil {
				return errors.Wrapf(err, "wal: replay txn %d", rec.TxnID)
			}
		}
	}

	for tableID, cols := range seenAutoInc {
		schema, ok := rc.DB.Schema(tableID)
		if !ok {
			continue
		}
		for pos, maxVal := range cols {
			rc.DB.ObserveAutoInc(schema.ID, pos, maxVal)
		}
	}
	for tableID, maxID := range seenRowID {
		rc.DB.ObserveRowID(tableID, maxID)
	}
	return nil
}

// applyRecord replays one record's row operations at the exact RowIDs
// they were assigned before the crash (via InsertAt), so a later
// record's OpDelete referencing one of this record's inserted ids
// resolves to the same row regardless of the map-iteration order the
// original commit's WAL entries were written in.
func (rc *Recovery) applyRecord(rec Record, seenAutoInc map[ident.TableID]map[int]uint64, seenRowID map[ident.TableID]table.RowID) error {
	tx := rc.DB.Begin()
	for _, op := range rec.Ops {
		tableID := ident.TableID(op.Table)
		schema, ok := rc.DB.Schema(tableID)
		if !ok {
			return errors.Errorf("unknown table %d in WAL record", op.Table)
		}
		switch op.Kind {
		case OpInsert:
			row, err := decodeRow(rc.DB, schema, op.Row)
			if err != nil {
				return err
			}
			id := table.RowID(op.RowID)
			if err := tx.InsertAt(tableID, id, row); err != nil {
				return err
			}
			trackAutoInc(schema, row, seenAutoInc)
			if id > seenRowID[tableID] {
				seenRowID[tableID] = id
			}
		case OpDelete:
			if err := tx.Delete(tableID, table.RowID(op.RowID)); err != nil {
				return err
			}
		default:
			return errors.Errorf("unknown WAL op kind %d", op.Kind)
		}
	}
	_, err := tx.Commit()
	return err
}

func decodeRow(db *txn.Database, schema *table.Schema, buf []byte) (algebraic.ProductValue, error) {
	rowType := algebraic.Product(columnsToElements(schema.Columns)...)
	v, err := algebraic.DecodeFromBytes(db.Typespace, rowType, buf)
	if err != nil {
		return nil, errors.Wrap(err, "wal: decode row")
	}
	pv, ok := v.(algebraic.ProductValue)
	if !ok {
		return nil, errors.New("wal: decoded row is not a product")
	}
	return pv, nil
}

func columnsToElements(cols []table.Column) []algebraic.Element {
	out := make([]algebraic.Element, len(cols))
	for i, c := range cols {
		out[i] = algebraic.Element{Name: c.Name, Type: c.Type}
	}
	return out
}

func trackAutoInc(schema *table.Schema, row algebraic.ProductValue, seen map[ident.TableID]map[int]uint64) {
	for pos, col := range schema.Columns {
		if !col.AutoInc {
			continue
		}
		v, ok := asUint64(row[pos])
		if !ok {
			continue
		}
		if seen[schema.ID] == nil {
			seen[schema.ID] = map[int]uint64{}
		}
		if v > seen[schema.ID][pos] {
			seen[schema.ID][pos] = v
		}
	}
}

func asUint64(v any) (uint64, bool) {
	switch x := v.(type) {
	case uint64:
		return x, true
	case uint32:
		return uint64(x), true
	case uint16:
		return uint64(x), true
	case uint8:
		return uint64(x), true
	default:
		return 0, false
	}
}
