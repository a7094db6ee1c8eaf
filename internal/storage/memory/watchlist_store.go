package memory

import (
	"context"
	"sort"
	"sync"

	"alpha-mirror/internal/domain"
	"alpha-mirror/internal/storage"
)

// WatchlistStore is an in-memory implementation of storage.WatchlistStore.
type WatchlistStore struct {
	mu   sync.RWMutex
	data map[string]*domain.WatchlistEntry // keyed by mint
}

// NewWatchlistStore creates a new in-memory watchlist store.
func NewWatchlistStore() *WatchlistStore {
	return &WatchlistStore{data: make(map[string]*domain.WatchlistEntry)}
}

// Upsert inserts or replaces the entry for e.Mint.
func (s *WatchlistStore) Upsert(_ context.Context, e *domain.WatchlistEntry) error {
	if e == nil || e.Mint == "" {
		return storage.ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	copy := *e
	s.data[e.Mint] = &copy
	return nil
}

// Delete removes an entry and reports whether it existed.
func (s *WatchlistStore) Delete(_ context.Context, mint string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.data[mint]; !ok {
		return false, nil
	}
	delete(s.data, mint)
	return true, nil
}

// List returns all entries ordered by added time ASC.
func (s *WatchlistStore) List(_ context.Context) ([]*domain.WatchlistEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make([]*domain.WatchlistEntry, 0, len(s.data))
	for _, e := range s.data {
		copy := *e
		result = append(result, &copy)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].AddedAt.Before(result[j].AddedAt)
	})
	return result, nil
}

var _ storage.WatchlistStore = (*WatchlistStore)(nil)
