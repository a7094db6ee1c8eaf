package domain

import "time"

// WalletRole is an address's membership in the alpha registry.
type WalletRole string

const (
	RoleNone      WalletRole = ""
	RoleCandidate WalletRole = "candidate"
	RoleActive    WalletRole = "active"
)

// AlphaWallet is a tracked address with its credibility score.
type AlphaWallet struct {
	Address        string     `json:"address"`
	Role           WalletRole `json:"role"`
	Signals        int        `json:"signals"`
	LastSignalAt   time.Time  `json:"last_signal_at,omitempty"`
	LastPromotedAt time.Time  `json:"last_promoted_at,omitempty"`
}
