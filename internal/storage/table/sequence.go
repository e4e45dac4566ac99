package table

import "sync"

// Sequence hands out strictly increasing integer values for an
// auto-increment column. One Sequence is owned per (table, column)
// pair by the transaction layer; a transaction that aborts releases
// its reservations back via Reset, so only committed inserts burn
// values permanently.
type Sequence struct {
	mu   sync.Mutex
	next uint64
}

// NewSequence starts counting from start (the first value returned by
// Next is start).
func NewSequence(start uint64) *Sequence {
	return &Sequence{next: start}
}

// Next reserves and returns the next value, advancing the counter
// unconditionally. The owning transaction gives the reservation back
// via Reset if it later aborts instead of committing.
func (s *Sequence) Next() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	v := s.next
	s.next++
	return v
}

// Reset rolls the counter back to v, returning values reserved but
// never committed to circulation. Only safe when nothing could have
// drawn a higher value in the meantime, which the single-writer
// executor guarantees within one transaction's reservations.
func (s *Sequence) Reset(v uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.next = v
}

// Observe advances the counter so that subsequent Next calls never
// return a value <= v, used during WAL replay to restore a sequence's
// high-water mark from previously-committed rows.
func (s *Sequence) Observe(v uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if v+1 > s.next {
		s.next = v + 1
	}
}

// Peek returns the next value without reserving it, for diagnostics.
func (s *Sequence) Peek() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.next
}
