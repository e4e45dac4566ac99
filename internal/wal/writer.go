package wal

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"os"
	"path/filepath"
	"sync"

	"github.com/pkg/errors"
)

// frameHeaderSize is the length prefix (u32) plus crc32 (u32) that
// precede every record's payload, making the log self-delimiting: a
// reader never has to guess where one record ends and the next begins.
const frameHeaderSize = 8

// Writer appends records to a single WAL segment file, fsyncing after
// every Append before returning so that a committed transaction is
// never acknowledged before it is durable.
type Writer struct {
	mu   sync.Mutex
	f    *os.File
	path string
}

// SegmentPath returns the conventional path for segment n under dir.
func SegmentPath(dir string, n int) string {
	return filepath.Join(dir, "wal", segmentName(n))
}

func segmentName(n int) string {
	return fmt.Sprintf("segment-%010d.wal", n)
}

// OpenWriter opens (creating if absent) the segment file at path for
// appending.
func OpenWriter(path string) (*Writer, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, errors.Wrap(err, "wal: create segment dir")
	}
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return nil, errors.Wrap(err, "wal: open segment")
	}
	return &Writer{f: f, path: path}, nil
}

// Append writes one record's framed payload and fsyncs before
// returning, so the caller may only ack the transaction's commit after
// Append returns nil.
func (w *Writer) Append(r Record) error {
	payload := Encode(r)
	w.mu.Lock()
	defer w.mu.Unlock()

	var hdr [frameHeaderSize]byte
	binary.LittleEndian.PutUint32(hdr[0:4], uint32(len(payload)))
	binary.LittleEndian.PutUint32(hdr[4:8], crc32.ChecksumIEEE(payload))

	if _, err := w.f.Write(hdr[:]); err != nil {
		return errors.Wrap(err, "wal: write frame header")
	}
	if _, err := w.f.Write(payload); err != nil {
		return errors.Wrap(err, "wal: write frame payload")
	}
	if err := w.f.Sync(); err != nil {
		return errors.Wrap(err, "wal: fsync")
	}
	return nil
}

// Close flushes and closes the underlying file.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.f.Close()
}

// Path returns the segment file path this Writer appends to.
func (w *Writer) Path() string { return w.path }
