package file

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"alpha-mirror/internal/domain"
	"alpha-mirror/internal/storage"
)

// PositionStore keeps open positions in one JSON document keyed by mint.
type PositionStore struct {
	mu   sync.Mutex
	path string
	data map[string]*domain.Position
}

// OpenPositionStore loads positions from path, starting empty if absent.
func OpenPositionStore(path string) (*PositionStore, error) {
	data := make(map[string]*domain.Position)
	if _, err := ReadJSON(path, &data); err != nil {
		return nil, fmt.Errorf("load positions: %w", err)
	}
	for mint, p := range data {
		if p == nil {
			delete(data, mint)
			continue
		}
		p.Mint = mint
	}
	return &PositionStore{path: path, data: data}, nil
}

// Put inserts or replaces a position and persists the document.
func (s *PositionStore) Put(_ context.Context, p *domain.Position) error {
	if p == nil || p.Mint == "" {
		return storage.ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, had := s.data[p.Mint]
	s.data[p.Mint] = p.Clone()
	if err := WriteJSON(s.path, s.data); err != nil {
		if had {
			s.data[p.Mint] = prev
		} else {
			delete(s.data, p.Mint)
		}
		return fmt.Errorf("persist positions: %w", err)
	}
	return nil
}

// Get retrieves a position. Returns ErrNotFound if not held.
func (s *PositionStore) Get(_ context.Context, mint string) (*domain.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.data[mint]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return p.Clone(), nil
}

// Delete removes a position and persists the document.
func (s *PositionStore) Delete(_ context.Context, mint string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, ok := s.data[mint]
	if !ok {
		return false, nil
	}
	delete(s.data, mint)
	if err := WriteJSON(s.path, s.data); err != nil {
		s.data[mint] = prev
		return false, fmt.Errorf("persist positions: %w", err)
	}
	return true, nil
}

// List returns all positions ordered by entry time ASC.
func (s *PositionStore) List(_ context.Context) ([]*domain.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
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
