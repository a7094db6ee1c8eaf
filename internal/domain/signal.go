package domain

import "time"

// Provenance tells whether an admission attempt comes straight from a live
// signal or from a watchlist re-check.
type Provenance string

const (
	ProvenanceDirect   Provenance = "direct"
	ProvenanceDeferred Provenance = "deferred"
	ProvenanceManual   Provenance = "manual"
)

// BuySignal is a wallet purchase of a token, derived from one confirmed
// transaction. Amounts are in UI units (decimals applied); prices in SOL per
// UI token.
type BuySignal struct {
	Wallet         string        `json:"wallet"`
	Signature      string        `json:"signature"`
	Mint           string        `json:"mint"`
	Decimals       uint8         `json:"decimals"`
	NativeSpendSOL float64       `json:"native_spend_sol"`
	TokenAmount    float64       `json:"token_amount"`
	PriceSOL       float64       `json:"price_sol"`
	PreBalance     float64       `json:"pre_balance"`
	PostBalance    float64       `json:"post_balance"`
	BlockTime      time.Time     `json:"block_time"`
	DetectedAt     time.Time     `json:"detected_at"`
	Age            time.Duration `json:"age"`
}
