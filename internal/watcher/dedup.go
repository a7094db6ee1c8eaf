package watcher

import "sync"

// seenSet remembers the last N signatures. Once full, the oldest entry is
// forgotten first.
type seenSet struct {
	mu    sync.Mutex
	items map[string]struct{}
	ring  []string
	next  int
}

func newSeenSet(size int) *seenSet {
	if size <= 0 {
		size = 1
	}
	return &seenSet{
		items: make(map[string]struct{}, size),
		ring:  make([]string, size),
	}
}

// Add records sig and reports whether it was new.
func (s *seenSet) Add(sig string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.items[sig]; ok {
		return false
	}
	if old := s.ring[s.next]; old != "" {
		delete(s.items, old)
	}
	s.ring[s.next] = sig
	s.next = (s.next + 1) % len(s.ring)
	s.items[sig] = struct{}{}
	return true
}

// Forget removes sig so a later delivery is processed again.
func (s *seenSet) Forget(sig string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.items, sig)
}

// Len returns the number of remembered signatures.
func (s *seenSet) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}
