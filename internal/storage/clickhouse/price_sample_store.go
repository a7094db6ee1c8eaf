package clickhouse

import (
	"context"
	"fmt"
	"time"

	"alpha-mirror/internal/domain"
	"alpha-mirror/internal/observability"
	"alpha-mirror/internal/storage"
)

// PriceSampleStore implements storage.PriceSampleStore using ClickHouse.
type PriceSampleStore struct {
	conn *Conn
}

// NewPriceSampleStore creates a new PriceSampleStore.
func NewPriceSampleStore(conn *Conn) *PriceSampleStore {
	return &PriceSampleStore{conn: conn}
}

// Compile-time interface check.
var _ storage.PriceSampleStore = (*PriceSampleStore)(nil)

// InsertBulk adds samples in one batch.
func (s *PriceSampleStore) InsertBulk(ctx context.Context, samples []*domain.PriceSample) error {
	if len(samples) == 0 {
		return nil
	}
	for _, p := range samples {
		if p == nil || p.Mint == "" {
			return storage.ErrInvalidInput
		}
	}

	batch, err := s.conn.PrepareBatch(ctx, `
		INSERT INTO position_price_samples (
			mint, timestamp_ms, price_sol, high_water_sol, phase
		)
	`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	for _, p := range samples {
		err = batch.Append(p.Mint, p.Timestamp.UnixMilli(), p.PriceSOL, p.HighWaterSOL, string(p.Phase))
		if err != nil {
			return fmt.Errorf("append to batch: %w", err)
		}
	}

	start := time.Now()
	err = batch.Send()
	observability.RecordDBQuery("clickhouse", "insert_price_samples", time.Since(start).Seconds(), err)
	if err != nil {
		return fmt.Errorf("send batch: %w", err)
	}
	return nil
}

// GetByMint retrieves samples within [start, end] unix ms, ordered by timestamp ASC.
func (s *PriceSampleStore) GetByMint(ctx context.Context, mint string, start, end int64) ([]*domain.PriceSample, error) {
	rows, err := s.conn.Query(ctx, `
		SELECT mint, timestamp_ms, price_sol, high_water_sol, phase
		FROM position_price_samples
		WHERE mint = ? AND timestamp_ms >= ? AND timestamp_ms <= ?
		ORDER BY timestamp_ms ASC
	`, mint, start, end)
	if err != nil {
		return nil, fmt.Errorf("query price samples: %w", err)
	}
	defer rows.Close()

	var result []*domain.PriceSample
	for rows.Next() {
		var (
			p     domain.PriceSample
			ts    int64
			phase string
		)
		if err := rows.Scan(&p.Mint, &ts, &p.PriceSOL, &p.HighWaterSOL, &phase); err != nil {
			return nil, fmt.Errorf("scan price sample: %w", err)
		}
		p.Timestamp = time.UnixMilli(ts)
		p.Phase = domain.Phase(phase)
		result = append(result, &p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate price samples: %w", err)
	}
	return result, nil
}
