// Package dedup provides a bounded, in-memory seen-ID set used by both
// the backfill and live engines to suppress duplicate update IDs
// produced by overlapping range requests or retried pages.
package dedup

import "sync"

// Set is a bounded set of strings. Once it reaches capacity it is
// cleared in bulk rather than evicted incrementally — the spec only
// requires suppressing duplicates from nearby overlapping requests, not
// exact long-horizon membership, so a cheap full-clear is sufficient.
type Set struct {
	mu       sync.Mutex
	capacity int
	seen     map[string]struct{}
}

// NewSet creates a Set with the given capacity.
func NewSet(capacity int) *Set {
	return &Set{
		capacity: capacity,
		seen:     make(map[string]struct{}, capacity),
	}
}

// CheckAndAdd returns true if id was already present. If not present, it
// is added, clearing the set first if it was at capacity.
func (s *Set) CheckAndAdd(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.seen[id]; ok {
		return true
	}
	if len(s.seen) >= s.capacity {
		s.seen = make(map[string]struct{}, s.capacity)
	}
	s.seen[id] = struct{}{}
	return false
}

// Len reports the current size of the set.
func (s *Set) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.seen)
}
