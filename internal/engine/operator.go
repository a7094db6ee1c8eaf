package engine

import (
	"context"
	"fmt"
	"time"

	"alpha-mirror/internal/domain"
)

// AddWallet adds addr with the given role. An active wallet is never added
// as a candidate.
func (e *Engine) AddWallet(addr string, role domain.WalletRole) (bool, error) {
	switch role {
	case domain.RoleCandidate:
		return e.registry.AddCandidate(addr)
	case domain.RoleActive:
		return e.registry.AddActive(addr)
	}
	return false, fmt.Errorf("%w: %q", ErrUnknownRole, role)
}

// RemoveWallet stops watching addr.
func (e *Engine) RemoveWallet(addr string) (bool, error) {
	return e.registry.Remove(addr)
}

// PromoteWallet moves a candidate to active.
func (e *Engine) PromoteWallet(addr string) (bool, error) {
	return e.registry.Promote(addr)
}

// ListWallets returns every watched wallet, active first.
func (e *Engine) ListWallets() []domain.AlphaWallet {
	return e.registry.List()
}

// ForceBuy buys mint for sizeSOL without running the admission guards.
func (e *Engine) ForceBuy(ctx context.Context, mint string, sizeSOL float64) error {
	if !e.reserve(mint) {
		return fmt.Errorf("%w: %s", ErrBusy, mint)
	}
	defer e.release(mint)

	if e.mints == nil {
		return fmt.Errorf("force buy %s: no mint lookup configured", mint)
	}
	info, err := e.mints.GetMint(ctx, mint)
	if err != nil {
		return fmt.Errorf("force buy %s: %w", mint, err)
	}
	sig := domain.BuySignal{
		Wallet:     "operator",
		Mint:       mint,
		Decimals:   info.Decimals,
		DetectedAt: e.clock.Now(),
	}
	return e.buy(ctx, sig, sizeSOL, info.Decimals, 0, domain.ProvenanceManual)
}

// ForceSell asks the position's lifecycle task to sell everything.
func (e *Engine) ForceSell(mint string) error {
	return e.lifecycle.RequestExit(mint, domain.ExitReasonManual)
}

// Status is a point-in-time view of the engine.
type Status struct {
	Mode       domain.Mode        `json:"mode"`
	Uptime     string             `json:"uptime"`
	Active     int                `json:"active_wallets"`
	Candidates int                `json:"candidate_wallets"`
	Positions  []*domain.Position `json:"positions"`
	Managed    int                `json:"managed_positions"`
	Watchlist  int                `json:"watchlist"`
}

// Status reports wallets, open positions and the watchlist size.
func (e *Engine) Status(ctx context.Context) Status {
	st := Status{
		Mode:       e.executor.Mode(),
		Uptime:     e.clock.Now().Sub(e.started).Truncate(time.Second).String(),
		Active:     len(e.registry.Active()),
		Candidates: len(e.registry.Candidates()),
		Positions:  []*domain.Position{},
		Managed:    e.lifecycle.Count(),
	}
	if positions, err := e.positions.List(ctx); err == nil {
		st.Positions = positions
	} else {
		e.log.WithError(err).Warn("list positions failed")
	}
	if e.watchlist != nil {
		if entries, err := e.watchlist.List(ctx); err == nil {
			st.Watchlist = len(entries)
		}
	}
	return st
}
