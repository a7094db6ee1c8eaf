package clickhouse

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"alpha-mirror/internal/domain"
	"alpha-mirror/internal/storage"
)

func TestPriceSampleStore_InsertAndQuery(t *testing.T) {
	conn, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewPriceSampleStore(conn)
	ctx := context.Background()
	base := time.UnixMilli(1_700_000_000_000)

	err := store.InsertBulk(ctx, []*domain.PriceSample{
		{Mint: "mintA", Timestamp: base.Add(2 * time.Second), PriceSOL: 1.2, HighWaterSOL: 1.2, Phase: domain.PhaseEarly},
		{Mint: "mintA", Timestamp: base, PriceSOL: 1.0, HighWaterSOL: 1.0, Phase: domain.PhaseEarly},
		{Mint: "mintA", Timestamp: base.Add(time.Minute), PriceSOL: 1.5, HighWaterSOL: 1.5, Phase: domain.PhaseTrailing},
		{Mint: "mintB", Timestamp: base, PriceSOL: 9, HighWaterSOL: 9, Phase: domain.PhaseEarly},
	})
	require.NoError(t, err)

	got, err := store.GetByMint(ctx, "mintA", base.UnixMilli(), base.Add(10*time.Second).UnixMilli())
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, 1.0, got[0].PriceSOL)
	assert.Equal(t, 1.2, got[1].PriceSOL)
	assert.Equal(t, base.UnixMilli(), got[0].Timestamp.UnixMilli())
	assert.Equal(t, domain.PhaseEarly, got[1].Phase)
}

func TestPriceSampleStore_InvalidInput(t *testing.T) {
	store := NewPriceSampleStore(nil)
	err := store.InsertBulk(context.Background(), []*domain.PriceSample{{}})
	assert.ErrorIs(t, err, storage.ErrInvalidInput)

	assert.NoError(t, store.InsertBulk(context.Background(), nil))
}
