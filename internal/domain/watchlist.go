package domain

import "time"

// WatchlistEntry is a provisionally rejected signal waiting for re-admission.
// Unique by Mint.
type WatchlistEntry struct {
	Mint          string       `json:"mint"`
	Wallet        string       `json:"wallet"`
	Reason        RejectReason `json:"reason"`
	Signal        BuySignal    `json:"signal"`
	AddedAt       time.Time    `json:"added_at"`
	LastCheckedAt time.Time    `json:"last_checked_at,omitempty"`
	CheckCount    int          `json:"check_count"`
}
