// Package dataset holds the currently loaded generations of facility, rank,
// and boundary data. Each kind lives in a Slot that is swapped whole, so
// readers never observe a partially built generation.
package dataset

import (
	"sync"
	"sync/atomic"
)

// Slot is a versioned container for one kind of data. Loads call Begin before
// doing any work and Commit with the returned sequence when done. A commit
// is rejected when a load that started later has already committed.
type Slot[T any] struct {
	started atomic.Uint64

	mu        sync.Mutex
	committed uint64
	cur       atomic.Pointer[T]
}

// Begin reserves a sequence number for a new load.
func (s *Slot[T]) Begin() uint64 {
	return s.started.Add(1)
}

// Commit publishes v if no newer-started load has committed and reports
// whether it did.
func (s *Slot[T]) Commit(seq uint64, v *T) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if seq < s.committed {
		return false
	}
	s.committed = seq
	s.cur.Store(v)
	return true
}

// Replace swaps old for v when old is still current. It is used for derived
// generations, such as a refiltered index, that must not overwrite a load.
func (s *Slot[T]) Replace(old, v *T) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cur.CompareAndSwap(old, v)
}

// Current returns the latest committed value, or nil before the first commit.
func (s *Slot[T]) Current() *T {
	return s.cur.Load()
}

// Committed returns the sequence of the current value.
func (s *Slot[T]) Committed() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.committed
}
