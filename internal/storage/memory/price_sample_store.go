package memory

import (
	"context"
	"sort"
	"sync"

	"alpha-mirror/internal/domain"
	"alpha-mirror/internal/storage"
)

// PriceSampleStore is an in-memory implementation of storage.PriceSampleStore.
type PriceSampleStore struct {
	mu   sync.RWMutex
	data map[string][]*domain.PriceSample // keyed by mint
}

// NewPriceSampleStore creates a new in-memory price sample store.
func NewPriceSampleStore() *PriceSampleStore {
	return &PriceSampleStore{data: make(map[string][]*domain.PriceSample)}
}

// InsertBulk adds samples. Fails the entire batch on invalid input.
func (s *PriceSampleStore) InsertBulk(_ context.Context, samples []*domain.PriceSample) error {
	for _, p := range samples {
		if p == nil || p.Mint == "" {
			return storage.ErrInvalidInput
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range samples {
		copy := *p
		s.data[p.Mint] = append(s.data[p.Mint], &copy)
	}
	return nil
}

// GetByMint retrieves samples within [start, end] unix ms, ordered by time ASC.
func (s *PriceSampleStore) GetByMint(_ context.Context, mint string, start, end int64) ([]*domain.PriceSample, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.PriceSample
	for _, p := range s.data[mint] {
		ts := p.Timestamp.UnixMilli()
		if ts >= start && ts <= end {
			copy := *p
			result = append(result, &copy)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].Timestamp.Before(result[j].Timestamp)
	})
	return result, nil
}

// Count returns the number of samples stored for a mint.
func (s *PriceSampleStore) Count(mint string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data[mint])
}

var _ storage.PriceSampleStore = (*PriceSampleStore)(nil)
