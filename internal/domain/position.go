package domain

import (
	"math"
	"time"
)

// Phase is the exit-strategy state of a position.
type Phase string

const (
	PhaseEarly    Phase = "early"
	PhaseTrailing Phase = "trailing"
)

// Mode selects simulated or real execution.
type Mode string

const (
	ModePaper Mode = "paper"
	ModeLive  Mode = "live"
)

// Position is an open holding of one mint. Quantity is in raw token units.
type Position struct {
	Mint           string     `json:"mint"`
	Wallet         string     `json:"wallet"`
	TradeID        string     `json:"trade_id"`
	Mode           Mode       `json:"mode"`
	Provenance     Provenance `json:"provenance"`
	Decimals       uint8      `json:"decimals"`
	Quantity       uint64     `json:"quantity"`
	CostBasisSOL   float64    `json:"cost_basis_sol"`
	EntryPriceSOL  float64    `json:"entry_price_sol"`
	HighWaterSOL   float64    `json:"high_water_sol"`
	EntryTime      time.Time  `json:"entry_time"`
	EntrySignature string     `json:"entry_signature"`
	Phase          Phase      `json:"phase"`

	// Partial exit bookkeeping
	SoldQuantity       uint64  `json:"sold_quantity,omitempty"`
	PartialProceedsSOL float64 `json:"partial_proceeds_sol,omitempty"`
	RealizedPnLSOL     float64 `json:"realized_pnl_sol,omitempty"`
}

// UIQuantity returns the held amount with decimals applied.
func (p *Position) UIQuantity() float64 {
	return float64(p.Quantity) / math.Pow10(int(p.Decimals))
}

// Clone returns an independent copy.
func (p *Position) Clone() *Position {
	c := *p
	return &c
}
