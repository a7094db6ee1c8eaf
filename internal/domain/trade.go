package domain

import "time"

// ExitReason explains why a position was (partially) sold.
type ExitReason string

// Exit reason codes
const (
	ExitReasonTakeProfit   ExitReason = "TAKE_PROFIT_PARTIAL"
	ExitReasonTrailingStop ExitReason = "TRAILING_STOP"
	ExitReasonMaxLoss      ExitReason = "MAX_LOSS"
	ExitReasonDeadToken    ExitReason = "DEAD_TOKEN"
	ExitReasonSentry       ExitReason = "SENTRY_DRAWDOWN"
	ExitReasonManual       ExitReason = "MANUAL"
)

// TradeKind distinguishes ledger rows.
type TradeKind string

const (
	TradeKindBuy         TradeKind = "BUY"
	TradeKindPartialSell TradeKind = "PARTIAL_SELL"
	TradeKindSell        TradeKind = "SELL"
)

// TradeRow is one append-only trade ledger entry.
type TradeRow struct {
	ID             string     `json:"id"`
	TradeID        string     `json:"trade_id"` // shared by the buy and its sells
	Timestamp      time.Time  `json:"timestamp"`
	Kind           TradeKind  `json:"kind"`
	Mode           Mode       `json:"mode"`
	Mint           string     `json:"mint"`
	Wallet         string     `json:"wallet"`
	AmountSOL      float64    `json:"amount_sol"`
	TokenAmount    float64    `json:"token_amount"` // UI units
	PriceSOL       float64    `json:"price_sol"`
	RealizedPnLSOL float64    `json:"realized_pnl_sol,omitempty"`
	RealizedPnLPct float64    `json:"realized_pnl_pct,omitempty"`
	HoldDuration   int64      `json:"hold_duration_ms,omitempty"`
	ExitReason     ExitReason `json:"exit_reason,omitempty"`
	Signature      string     `json:"signature,omitempty"`
}

// PriceSample is one observed price of an open position.
type PriceSample struct {
	Mint         string    `json:"mint"`
	Timestamp    time.Time `json:"timestamp"`
	PriceSOL     float64   `json:"price_sol"`
	HighWaterSOL float64   `json:"high_water_sol"`
	Phase        Phase     `json:"phase"`
}
