package memory

import (
	"context"
	"sort"
	"sync"

	"alpha-mirror/internal/domain"
	"alpha-mirror/internal/storage"
)

// PositionStore is an in-memory implementation of storage.PositionStore.
type PositionStore struct {
	mu   sync.RWMutex
	data map[string]*domain.Position // keyed by mint
}

// NewPositionStore creates a new in-memory position store.
func NewPositionStore() *PositionStore {
	return &PositionStore{data: make(map[string]*domain.Position)}
}

// Put inserts or replaces a position.
func (s *PositionStore) Put(_ context.Context, p *domain.Position) error {
	if p == nil || p.Mint == "" {
		return storage.ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[p.Mint] = p.Clone()
	return nil
}

// Get retrieves a position. Returns ErrNotFound if not held.
func (s *PositionStore) Get(_ context.Context, mint string) (*domain.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.data[mint]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return p.Clone(), nil
}

// Delete removes a position and reports whether it existed.
func (s *PositionStore) Delete(_ context.Context, mint string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.data[mint]; !ok {
		return false, nil
	}
	delete(s.data, mint)
	return true, nil
}

// List returns all positions ordered by entry time ASC.
func (s *PositionStore) List(_ context.Context) ([]*domain.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make([]*domain.Position, 0, len(s.data))
	for _, p := range s.data {
		result = append(result, p.Clone())
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].EntryTime.Before(result[j].EntryTime)
	})
	return result, nil
}

var _ storage.PositionStore = (*PositionStore)(nil)
