package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"alpha-mirror/internal/domain"
	"alpha-mirror/internal/storage"
)

func TestTradeLedger_AppendAndGet(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ledger := NewTradeLedger(pool)
	ctx := context.Background()
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	buy := &domain.TradeRow{
		ID: "row-1", TradeID: "trade-1", Timestamp: base,
		Kind: domain.TradeKindBuy, Mode: domain.ModePaper,
		Mint: "mintA", Wallet: "walletA",
		AmountSOL: 0.05, TokenAmount: 1_000_000, PriceSOL: 5e-8,
		Signature: "paper-1",
	}
	sell := &domain.TradeRow{
		ID: "row-2", TradeID: "trade-1", Timestamp: base.Add(time.Hour),
		Kind: domain.TradeKindSell, Mode: domain.ModePaper,
		Mint: "mintA", Wallet: "walletA",
		AmountSOL: 0.065, TokenAmount: 1_000_000, PriceSOL: 6.5e-8,
		RealizedPnLSOL: 0.015, RealizedPnLPct: 30, HoldDuration: time.Hour.Milliseconds(),
		ExitReason: domain.ExitReasonTrailingStop, Signature: "paper-2",
	}

	require.NoError(t, ledger.Append(ctx, sell))
	require.NoError(t, ledger.Append(ctx, buy))

	rows, err := ledger.GetByTradeID(ctx, "trade-1")
	require.NoError(t, err)
	require.Len(t, rows, 2)

	assert.Equal(t, domain.TradeKindBuy, rows[0].Kind)
	assert.True(t, rows[0].Timestamp.Equal(base))
	assert.InDelta(t, 0.05, rows[0].AmountSOL, 1e-12)

	got := rows[1]
	assert.Equal(t, domain.ExitReasonTrailingStop, got.ExitReason)
	assert.InDelta(t, 0.015, got.RealizedPnLSOL, 1e-12)
	assert.Equal(t, time.Hour.Milliseconds(), got.HoldDuration)
	assert.Equal(t, "paper-2", got.Signature)
}

func TestTradeLedger_DuplicateKey(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ledger := NewTradeLedger(pool)
	ctx := context.Background()

	row := &domain.TradeRow{ID: "dup", TradeID: "t", Timestamp: time.Now(), Kind: domain.TradeKindBuy, Mode: domain.ModePaper}
	require.NoError(t, ledger.Append(ctx, row))

	err := ledger.Append(ctx, row)
	if !errors.Is(err, storage.ErrDuplicateKey) {
		t.Errorf("Expected ErrDuplicateKey, got %v", err)
	}
}

func TestTradeLedger_InvalidInput(t *testing.T) {
	ledger := NewTradeLedger(nil)
	err := ledger.Append(context.Background(), &domain.TradeRow{})
	assert.ErrorIs(t, err, storage.ErrInvalidInput)
}
