// Package lifecycle manages open positions: one task per mint polls the price,
// drives the early/trailing exit state machine and sells on exit.
package lifecycle

import (
	"math"

	"alpha-mirror/internal/config"
	"alpha-mirror/internal/domain"
)

// Action is what a price observation asks the position to do.
type Action int

const (
	ActionHold Action = iota
	ActionPartialSell
	ActionExit
)

func (a Action) String() string {
	switch a {
	case ActionPartialSell:
		return "partial_sell"
	case ActionExit:
		return "exit"
	}
	return "hold"
}

// Decision is the outcome of one Step.
type Decision struct {
	Action Action
	Reason domain.ExitReason
	// HighWater is the high-water price after the observation.
	HighWater float64
	// Trailing is set when the observation moves the position from early
	// to trailing.
	Trailing bool
	// Discarded is set when the price was rejected as unreliable. Nothing
	// else in the decision is meaningful then.
	Discarded bool
}

// Step applies one price observation to pos without mutating it.
//
// Order: implausible jumps are discarded, the high-water mark is raised, the
// max-loss floor is checked in either phase, then the early take-profit and
// finally the trailing stop.
func Step(cfg config.Exit, pos *domain.Position, price float64) Decision {
	entry := pos.EntryPriceSOL
	if math.IsNaN(price) || math.IsInf(price, 0) || price <= 0 || entry <= 0 {
		return Decision{Discarded: true, HighWater: pos.HighWaterSOL}
	}
	if cfg.MaxPriceJump > 0 && price > entry*cfg.MaxPriceJump {
		return Decision{Discarded: true, HighWater: pos.HighWaterSOL}
	}

	d := Decision{HighWater: math.Max(pos.HighWaterSOL, price)}

	if price <= entry*(1-cfg.MaxLossPct) {
		d.Action = ActionExit
		d.Reason = domain.ExitReasonMaxLoss
		return d
	}

	switch pos.Phase {
	case domain.PhaseEarly, "":
		if price >= entry*(1+cfg.EarlyTakeProfitPct) {
			d.Trailing = true
			if cfg.PartialSellFraction > 0 {
				d.Action = ActionPartialSell
				d.Reason = domain.ExitReasonTakeProfit
			}
		}
	case domain.PhaseTrailing:
		if price <= d.HighWater*(1-cfg.TrailPct) {
			d.Action = ActionExit
			d.Reason = domain.ExitReasonTrailingStop
		}
	}
	return d
}

// Drawdown returns the fractional fall of price from ref, 0 when price is at
// or above ref.
func Drawdown(ref, price float64) float64 {
	if ref <= 0 || price >= ref {
		return 0
	}
	return (ref - price) / ref
}
