package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRejectReason_Deferrable(t *testing.T) {
	deferrable := map[RejectReason]bool{
		ReasonLowLiquidity:     true,
		ReasonLiquidityUnknown: true,
		ReasonNoRoute:          true,
		ReasonMintUnknown:      true,
	}
	for _, r := range RejectReasons {
		assert.Equal(t, deferrable[r], r.Deferrable(), "reason %s", r)
		assert.True(t, r.Valid())
	}
	assert.False(t, ReasonNoPairs.Deferrable(), "no pairs is a confident zero")
	assert.False(t, RejectReason("whatever").Valid())
}

func TestPosition_UIQuantity(t *testing.T) {
	p := &Position{Quantity: 1_500_000, Decimals: 6}
	assert.InDelta(t, 1.5, p.UIQuantity(), 1e-12)

	c := p.Clone()
	c.Quantity = 1
	assert.Equal(t, uint64(1_500_000), p.Quantity)
}
