package file

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"alpha-mirror/internal/domain"
	"alpha-mirror/internal/storage"
)

// WatchlistStore keeps deferred entries in one JSON document keyed by mint.
type WatchlistStore struct {
	mu   sync.Mutex
	path string
	data map[string]*domain.WatchlistEntry
}

// OpenWatchlistStore loads entries from path, starting empty if absent.
func OpenWatchlistStore(path string) (*WatchlistStore, error) {
	data := make(map[string]*domain.WatchlistEntry)
	if _, err := ReadJSON(path, &data); err != nil {
		return nil, fmt.Errorf("load watchlist: %w", err)
	}
	for mint, e := range data {
		if e == nil {
			delete(data, mint)
			continue
		}
		e.Mint = mint
	}
	return &WatchlistStore{path: path, data: data}, nil
}

// Upsert inserts or replaces the entry for e.Mint and persists the document.
func (s *WatchlistStore) Upsert(_ context.Context, e *domain.WatchlistEntry) error {
	if e == nil || e.Mint == "" {
		return storage.ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, had := s.data[e.Mint]
	copy := *e
	s.data[e.Mint] = &copy
	if err := WriteJSON(s.path, s.data); err != nil {
		if had {
			s.data[e.Mint] = prev
		} else {
			delete(s.data, e.Mint)
		}
		return fmt.Errorf("persist watchlist: %w", err)
	}
	return nil
}

// Delete removes an entry and persists the document.
func (s *WatchlistStore) Delete(_ context.Context, mint string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, ok := s.data[mint]
	if !ok {
		return false, nil
	}
	delete(s.data, mint)
	if err := WriteJSON(s.path, s.data); err != nil {
		s.data[mint] = prev
		return false, fmt.Errorf("persist watchlist: %w", err)
	}
	return true, nil
}

// List returns all entries ordered by added time ASC.
func (s *WatchlistStore) List(_ context.Context) ([]*domain.WatchlistEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
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
