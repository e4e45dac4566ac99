// Package page implements the storage engine's fixed-size page layer:
// a dense block of one table's row bytes per page, a free-slot bitmap,
// and a next-overflow page id that a caller can set with SetOverflow.
// Each row is stored whole in one page; there is no separate blob heap,
// and a row that does not fit a fresh page fails with ErrRowTooLarge.
// Page files are memory-mapped for access.
package page

import (
	"encoding/binary"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/pkg/errors"
)

// Size is the target page size: 64 KiB.
const Size = 64 * 1024

// metaSize is the reserved front region holding the header, the
// serialized free-slot bitmap, and the slot directory. Reserving a
// fixed region (rather than letting metadata grow forward into the
// row-bytes region) keeps the two regions from ever colliding: row
// bytes always start at metaSize and grow toward the end of the page,
// metadata always lives in [0, metaSize).
const metaSize = 4096

// headerSize covers: slot count (u32), next-overflow page id (u32),
// serialized free-bitmap length (u32), reserved (u32).
const headerSize = 16

const slotDirEntrySize = 8 // offset u32 + length u32

// maxSlotsPerPage bounds how many row slots a page's reserved
// metadata region can index; once reached, further inserts must use a
// fresh page. (metaSize - headerSize) bytes are shared between the
// free-bitmap serialization and the slot directory.
const maxSlotsPerPage = (metaSize - headerSize) / slotDirEntrySize

// ID identifies a page within a table's page file by its 0-based index.
type ID uint32

// NoOverflow marks the absence of a chained overflow page.
const NoOverflow ID = 0xFFFFFFFF

// Slot is a (offset, length) pair into a page's row-bytes region,
// recorded in the page's slot directory. A zero-length slot with
// offset 0 is a free (unused) slot.
type Slot struct {
	Offset uint32
	Length uint32
}

// ErrRowTooLarge is returned when a single row cannot fit even a fresh
// page's row-bytes region (callers must chain overflow pages further,
// which this implementation does not subdivide below one page).
var ErrRowTooLarge = errors.New("page: row exceeds single-page capacity")

// ErrPageFull is returned when a page has no more room for a new row,
// either because its row-bytes region is exhausted or its slot
// directory has reached maxSlotsPerPage; the caller should allocate an
// overflow page and retry there.
var ErrPageFull = errors.New("page: full")

// Page is an in-memory view over one fixed-size page buffer (which may
// be backed by an mmap'd file region).
type Page struct {
	buf      []byte // exactly Size bytes
	free     *roaring.Bitmap
	slotDir  []Slot
	overflow ID
	dirty    bool
}

// New initializes a fresh, empty page backed by buf (len(buf) must be
// Size). The caller owns buf's lifetime (typically an mmap region).
func New(buf []byte) (*Page, error) {
	if len(buf) != Size {
		return nil, errors.Errorf("page: buffer must be %d bytes, got %d", Size, len(buf))
	}
	p := &Page{buf: buf, free: roaring.New(), overflow: NoOverflow}
	p.writeHeader()
	return p, nil
}

// Load reconstructs a Page from a previously-written buffer.
func Load(buf []byte) (*Page, error) {
	if len(buf) != Size {
		return nil, errors.Errorf("page: buffer must be %d bytes, got %d", Size, len(buf))
	}
	p := &Page{buf: buf}
	slotCount := binary.LittleEndian.Uint32(buf[0:4])
	p.overflow = ID(binary.LittleEndian.Uint32(buf[4:8]))
	bitmapLen := binary.LittleEndian.Uint32(buf[8:12])

	off := headerSize
	bm := roaring.New()
	if bitmapLen > 0 {
		if _, err := bm.FromBuffer(buf[off : off+int(bitmapLen)]); err != nil {
			return nil, errors.Wrap(err, "page: decode free bitmap")
		}
	}
	p.free = bm
	off += int(bitmapLen)

	p.slotDir = make([]Slot, slotCount)
	for i := 0; i < int(slotCount); i++ {
		p.slotDir[i] = Slot{
			Offset: binary.LittleEndian.Uint32(buf[off:]),
			Length: binary.LittleEndian.Uint32(buf[off+4:]),
		}
		off += slotDirEntrySize
	}
	return p, nil
}

func (p *Page) writeHeader() {
	binary.LittleEndian.PutUint32(p.buf[0:4], uint32(len(p.slotDir)))
	binary.LittleEndian.PutUint32(p.buf[4:8], uint32(p.overflow))
	bmBytes, _ := p.free.ToBytes()
	binary.LittleEndian.PutUint32(p.buf[8:12], uint32(len(bmBytes)))
	off := headerSize
	copy(p.buf[off:], bmBytes)
	off += len(bmBytes)
	for _, s := range p.slotDir {
		binary.LittleEndian.PutUint32(p.buf[off:], s.Offset)
		binary.LittleEndian.PutUint32(p.buf[off+4:], s.Length)
		off += slotDirEntrySize
	}
}

// usedRowBytes returns the highest offset+length among occupied slots,
// i.e. the current end of the row-bytes region (freed slots leave
// holes that Insert does not reclaim within a page; no compaction
// pass reclaims them either).
func (p *Page) usedRowBytes() uint32 {
	max := uint32(metaSize)
	for i, s := range p.slotDir {
		if p.free.Contains(uint32(i)) {
			continue
		}
		if end := s.Offset + s.Length; end > max {
			max = end
		}
	}
	return max
}

// Insert appends row bytes to the page, reusing a free slot id if one
// exists, and returns the assigned slot id. It fails with ErrPageFull
// if there is no room left in this page (caller should chain/allocate
// an overflow page), or ErrRowTooLarge if the row could never fit any
// page's row-bytes region at all.
func (p *Page) Insert(row []byte) (uint32, error) {
	if len(row) > Size-metaSize {
		return 0, ErrRowTooLarge
	}

	var slotID uint32
	reuse := false
	if !p.free.IsEmpty() {
		slotID = p.free.Minimum()
		reuse = true
	} else {
		if len(p.slotDir) >= maxSlotsPerPage {
			return 0, ErrPageFull
		}
		slotID = uint32(len(p.slotDir))
	}

	rowStart := p.usedRowBytes()
	if int(rowStart)+len(row) > Size {
		return 0, ErrPageFull
	}

	newSlotDir := p.slotDir
	if !reuse {
		newSlotDir = append(append([]Slot(nil), p.slotDir...), Slot{})
	}
	bmBytes, _ := p.free.ToBytes()
	if headerSize+len(bmBytes)+len(newSlotDir)*slotDirEntrySize > metaSize {
		return 0, ErrPageFull
	}

	copy(p.buf[rowStart:], row)
	slot := Slot{Offset: rowStart, Length: uint32(len(row))}
	if reuse {
		p.slotDir[slotID] = slot
		p.free.Remove(slotID)
	} else {
		p.slotDir = append(p.slotDir, slot)
	}
	p.dirty = true
	p.writeHeader()
	return slotID, nil
}

// Get returns the row bytes stored at slotID, or ok=false if the slot
// is free or unknown.
func (p *Page) Get(slotID uint32) (row []byte, ok bool) {
	if int(slotID) >= len(p.slotDir) || p.free.Contains(slotID) {
		return nil, false
	}
	s := p.slotDir[slotID]
	return p.buf[s.Offset : s.Offset+s.Length], true
}

// Delete marks slotID free for reuse.
func (p *Page) Delete(slotID uint32) {
	if int(slotID) >= len(p.slotDir) {
		return
	}
	p.free.Add(slotID)
	p.slotDir[slotID] = Slot{}
	p.dirty = true
	p.writeHeader()
}

// Overflow returns the chained overflow page id, or NoOverflow.
func (p *Page) Overflow() ID { return p.overflow }

// SetOverflow chains this page to the next overflow page.
func (p *Page) SetOverflow(id ID) {
	p.overflow = id
	p.dirty = true
	p.writeHeader()
}

// Dirty reports whether the page has unflushed changes (relevant only
// to non-mmap-backed pages; mmap-backed pages are always "live").
func (p *Page) Dirty() bool { return p.dirty }

// ClearDirty resets the dirty flag after a durability checkpoint.
func (p *Page) ClearDirty() { p.dirty = false }

// SlotCount returns the number of slot directory entries, including
// freed ones.
func (p *Page) SlotCount() int { return len(p.slotDir) }

// IsFree reports whether slotID is currently free.
func (p *Page) IsFree(slotID uint32) bool {
	return int(slotID) >= len(p.slotDir) || p.free.Contains(slotID)
}
