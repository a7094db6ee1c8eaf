package lifecycle

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"

	"alpha-mirror/internal/config"
	"alpha-mirror/internal/domain"
)

func newPosition(entry float64) *domain.Position {
	return &domain.Position{
		Mint:          "mint",
		EntryPriceSOL: entry,
		HighWaterSOL:  entry,
		Phase:         domain.PhaseEarly,
		Quantity:      1_000_000,
		Decimals:      6,
		CostBasisSOL:  entry,
	}
}

// apply mutates pos the way the manager does with a decision.
func apply(pos *domain.Position, d Decision) {
	if d.Discarded {
		return
	}
	pos.HighWaterSOL = d.HighWater
	if d.Trailing {
		pos.Phase = domain.PhaseTrailing
	}
}

func TestStep_TakeProfitTransitionsOnce(t *testing.T) {
	cfg := config.Default().Exit
	pos := newPosition(1.0)

	d := Step(cfg, pos, 1.29)
	assert.False(t, d.Trailing)
	apply(pos, d)

	entry := 1.0
	tp := entry * (1 + cfg.EarlyTakeProfitPct)
	d = Step(cfg, pos, tp)
	assert.True(t, d.Trailing)
	assert.Equal(t, ActionHold, d.Action, "no partial fraction configured")
	apply(pos, d)
	assert.Equal(t, domain.PhaseTrailing, pos.Phase)

	transitions := 0
	for _, p := range []float64{1.35, 1.4, 1.5, 1.45} {
		d = Step(cfg, pos, p)
		if d.Trailing {
			transitions++
		}
		apply(pos, d)
	}
	assert.Zero(t, transitions)
	assert.Equal(t, 1.5, pos.HighWaterSOL)
}

func TestStep_PartialSellOnTakeProfit(t *testing.T) {
	cfg := config.Default().Exit
	cfg.PartialSellFraction = 0.5
	d := Step(cfg, newPosition(1.0), 1.3)
	assert.Equal(t, ActionPartialSell, d.Action)
	assert.Equal(t, domain.ExitReasonTakeProfit, d.Reason)
	assert.True(t, d.Trailing)
}

func TestStep_TrailingStop(t *testing.T) {
	cfg := config.Default().Exit
	pos := newPosition(1.0)
	pos.Phase = domain.PhaseTrailing
	pos.HighWaterSOL = 2.0

	stop := pos.HighWaterSOL * (1 - cfg.TrailPct)
	d := Step(cfg, pos, stop+0.01)
	assert.Equal(t, ActionHold, d.Action)

	d = Step(cfg, pos, stop)
	assert.Equal(t, ActionExit, d.Action)
	assert.Equal(t, domain.ExitReasonTrailingStop, d.Reason)
}

func TestStep_EarlyPhaseIgnoresTrail(t *testing.T) {
	cfg := config.Default().Exit
	pos := newPosition(1.0)
	pos.HighWaterSOL = 1.25
	// 24% below high-water but only 7% below entry.
	d := Step(cfg, pos, 0.93)
	assert.Equal(t, ActionHold, d.Action)
}

func TestStep_MaxLossEitherPhase(t *testing.T) {
	cfg := config.Default().Exit
	floor := 1.0 * (1 - cfg.MaxLossPct)

	for _, phase := range []domain.Phase{domain.PhaseEarly, domain.PhaseTrailing} {
		pos := newPosition(1.0)
		pos.Phase = phase
		d := Step(cfg, pos, floor)
		assert.Equal(t, ActionExit, d.Action, "phase %s", phase)
		assert.Equal(t, domain.ExitReasonMaxLoss, d.Reason, "phase %s", phase)
	}
}

func TestStep_DiscardsImplausiblePrices(t *testing.T) {
	cfg := config.Default().Exit
	pos := newPosition(1.0)

	for _, p := range []float64{10.01, 0, -1, math.NaN(), math.Inf(1)} {
		d := Step(cfg, pos, p)
		assert.True(t, d.Discarded, "price %v", p)
		assert.Equal(t, pos.HighWaterSOL, d.HighWater)
	}
	assert.False(t, Step(cfg, pos, 10).Discarded)
}

func TestDrawdown(t *testing.T) {
	assert.InDelta(t, 0.25, Drawdown(2, 1.5), 1e-12)
	assert.Zero(t, Drawdown(2, 3))
	assert.Zero(t, Drawdown(0, 1))
}
