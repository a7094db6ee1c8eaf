package storage

import (
	"context"

	"alpha-mirror/internal/domain"
)

// PositionStore holds open positions keyed by mint. Implementations must make
// every successful write durable before returning.
type PositionStore interface {
	// Put inserts or replaces the position for p.Mint.
	Put(ctx context.Context, p *domain.Position) error

	// Get returns a copy of the position. Returns ErrNotFound if not held.
	Get(ctx context.Context, mint string) (*domain.Position, error)

	// Delete removes the position and reports whether it existed. Two callers
	// racing to delete the same mint see exactly one true.
	Delete(ctx context.Context, mint string) (bool, error)

	// List returns copies of all positions ordered by entry time.
	List(ctx context.Context) ([]*domain.Position, error)
}

// WatchlistStore holds deferred admission entries keyed by mint.
type WatchlistStore interface {
	// Upsert inserts the entry or replaces the existing one for the same mint.
	Upsert(ctx context.Context, e *domain.WatchlistEntry) error

	// Delete removes an entry and reports whether it existed.
	Delete(ctx context.Context, mint string) (bool, error)

	// List returns copies of all entries ordered by added time.
	List(ctx context.Context) ([]*domain.WatchlistEntry, error)
}

// TradeLedger is the append-only record of executed trades.
type TradeLedger interface {
	// Append adds a row. Returns ErrDuplicateKey if row.ID exists.
	Append(ctx context.Context, row *domain.TradeRow) error

	// GetByTradeID returns all rows of one trade ordered by timestamp.
	GetByTradeID(ctx context.Context, tradeID string) ([]*domain.TradeRow, error)
}

// PriceSampleStore receives price observations of open positions.
type PriceSampleStore interface {
	// InsertBulk adds samples.
	InsertBulk(ctx context.Context, samples []*domain.PriceSample) error

	// GetByMint returns samples for a mint within [start, end] unix ms, ordered by time.
	GetByMint(ctx context.Context, mint string, start, end int64) ([]*domain.PriceSample, error)
}
