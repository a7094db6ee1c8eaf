package memory

import (
	"context"
	"sort"
	"sync"

	"alpha-mirror/internal/domain"
	"alpha-mirror/internal/storage"
)

// TradeLedger is an in-memory implementation of storage.TradeLedger.
type TradeLedger struct {
	mu   sync.RWMutex
	rows []*domain.TradeRow
	ids  map[string]struct{}
}

// NewTradeLedger creates a new in-memory trade ledger.
func NewTradeLedger() *TradeLedger {
	return &TradeLedger{ids: make(map[string]struct{})}
}

// Append adds a row. Returns ErrDuplicateKey if the id exists.
func (l *TradeLedger) Append(_ context.Context, row *domain.TradeRow) error {
	if row == nil || row.ID == "" || row.TradeID == "" {
		return storage.ErrInvalidInput
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if _, exists := l.ids[row.ID]; exists {
		return storage.ErrDuplicateKey
	}
	copy := *row
	l.rows = append(l.rows, &copy)
	l.ids[row.ID] = struct{}{}
	return nil
}

// GetByTradeID retrieves all rows of a trade, ordered by timestamp ASC.
func (l *TradeLedger) GetByTradeID(_ context.Context, tradeID string) ([]*domain.TradeRow, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var result []*domain.TradeRow
	for _, r := range l.rows {
		if r.TradeID == tradeID {
			copy := *r
			result = append(result, &copy)
		}
	}
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].Timestamp.Before(result[j].Timestamp)
	})
	return result, nil
}

// All returns every row in append order.
func (l *TradeLedger) All() []*domain.TradeRow {
	l.mu.RLock()
	defer l.mu.RUnlock()
	result := make([]*domain.TradeRow, len(l.rows))
	for i, r := range l.rows {
		copy := *r
		result[i] = &copy
	}
	return result
}

var _ storage.TradeLedger = (*TradeLedger)(nil)
