package page

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/edsrzf/mmap-go"
	"github.com/pkg/errors"
)

// Store owns one memory-mapped page file per table under
// <dbdir>/pages/<table_id>.pages, growing it a page at a time.
type Store struct {
	dir string

	mu    sync.Mutex
	files map[uint32]*tableFile
}

type tableFile struct {
	f       *os.File
	mm      mmap.MMap
	npages  int
	pages   map[ID]*Page
}

// Open returns a Store rooted at dir (created if absent).
func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrap(err, "page: create pages dir")
	}
	return &Store{dir: dir, files: map[uint32]*tableFile{}}, nil
}

// Close unmaps and closes every open table file.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var firstErr error
	for _, tf := range s.files {
		if tf.mm != nil {
			if err := tf.mm.Unmap(); err != nil && firstErr == nil {
				firstErr = err
			}
		}
		if err := tf.f.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (s *Store) path(tableID uint32) string {
	return filepath.Join(s.dir, fmt.Sprintf("%d.pages", tableID))
}

func (s *Store) open(tableID uint32) (*tableFile, error) {
	if tf, ok := s.files[tableID]; ok {
		return tf, nil
	}
	f, err := os.OpenFile(s.path(tableID), os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, errors.Wrap(err, "page: open table file")
	}
	tf := &tableFile{f: f, pages: map[ID]*Page{}}
	info, err := f.Stat()
	if err != nil {
		return nil, err
	}
	tf.npages = int(info.Size() / Size)
	if tf.npages > 0 {
		mm, err := mmap.Map(f, mmap.RDWR, 0)
		if err != nil {
			return nil, errors.Wrap(err, "page: mmap table file")
		}
		tf.mm = mm
	}
	s.files[tableID] = tf
	return tf, nil
}

// grow grows the underlying file by one page and remaps it.
func (tf *tableFile) grow() error {
	if tf.mm != nil {
		if err := tf.mm.Unmap(); err != nil {
			return err
		}
		tf.mm = nil
	}
	newSize := int64(tf.npages+1) * Size
	if err := tf.f.Truncate(newSize); err != nil {
		return errors.Wrap(err, "page: truncate")
	}
	mm, err := mmap.Map(tf.f, mmap.RDWR, 0)
	if err != nil {
		return errors.Wrap(err, "page: remap")
	}
	tf.mm = mm
	tf.npages++
	return nil
}

// Alloc creates and returns a new, empty page for tableID, along with
// its ID.
func (s *Store) Alloc(tableID uint32) (ID, *Page, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tf, err := s.open(tableID)
	if err != nil {
		return 0, nil, err
	}
	if err := tf.grow(); err != nil {
		return 0, nil, err
	}
	id := ID(tf.npages - 1)
	buf := tf.mm[int(id)*Size : (int(id)+1)*Size]
	p, err := New(buf)
	if err != nil {
		return 0, nil, err
	}
	tf.pages[id] = p
	return id, p, nil
}

// Get returns page id of tableID, loading it from the mmap
// region if not already cached in memory.
func (s *Store) Get(tableID uint32, id ID) (*Page, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tf, err := s.open(tableID)
	if err != nil {
		return nil, err
	}
	if p, ok := tf.pages[id]; ok {
		return p, nil
	}
	if int(id) >= tf.npages {
		return nil, errors.Errorf("page: id %d out of range (table has %d pages)", id, tf.npages)
	}
	buf := tf.mm[int(id)*Size : (int(id)+1)*Size]
	p, err := Load(buf)
	if err != nil {
		return nil, err
	}
	tf.pages[id] = p
	return p, nil
}

// PageCount reports how many pages tableID currently has.
func (s *Store) PageCount(tableID uint32) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	tf, ok := s.files[tableID]
	if !ok {
		return 0
	}
	return tf.npages
}

// Sync flushes the mmap'd region for tableID to disk.
func (s *Store) Sync(tableID uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tf, ok := s.files[tableID]
	if !ok || tf.mm == nil {
		return nil
	}
	return tf.mm.Flush()
}
