// Package subscribers provides an ordered callback registry whose entries
// detach through the func returned at registration.
package subscribers

import "sync"

// Set holds callbacks in registration order. The zero value is ready to use.
type Set[F any] struct {
	mu      sync.Mutex
	nextID  uint64
	entries []entry[F]
}

type entry[F any] struct {
	id uint64
	fn F
}

// Add registers fn and returns a detach func that is safe to call more than
// once.
func (s *Set[F]) Add(fn F) func() {
	s.mu.Lock()
	s.nextID++
	id := s.nextID
	s.entries = append(s.entries, entry[F]{id: id, fn: fn})
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { s.remove(id) })
	}
}

func (s *Set[F]) remove(id uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, e := range s.entries {
		if e.id == id {
			s.entries = append(s.entries[:i:i], s.entries[i+1:]...)
			return
		}
	}
}

// Snapshot returns the registered callbacks. Callers invoke them without
// holding the set's lock, so callbacks may add or detach entries.
func (s *Set[F]) Snapshot() []F {
	s.mu.Lock()
	defer s.mu.Unlock()
	fns := make([]F, len(s.entries))
	for i, e := range s.entries {
		fns[i] = e.fn
	}
	return fns
}

// Len reports the number of registered callbacks.
func (s *Set[F]) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Clear detaches every callback.
func (s *Set[F]) Clear() {
	s.mu.Lock()
	s.entries = nil
	s.mu.Unlock()
}
