// Package watchlist is the deferred admission queue: signals rejected on
// provisional grounds wait here and are re-admitted when their token matures.
package watchlist

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"alpha-mirror/internal/clock"
	"alpha-mirror/internal/config"
	"alpha-mirror/internal/domain"
	"alpha-mirror/internal/observability"
	"alpha-mirror/internal/quote"
	"alpha-mirror/internal/storage"
)

// Readmitter re-runs admission for a watchlisted signal with deferred
// provenance and buys on acceptance.
type Readmitter interface {
	Readmit(ctx context.Context, e *domain.WatchlistEntry) (bool, domain.RejectReason)
}

// ReadmitFunc adapts a function to Readmitter.
type ReadmitFunc func(ctx context.Context, e *domain.WatchlistEntry) (bool, domain.RejectReason)

// Readmit implements Readmitter.
func (f ReadmitFunc) Readmit(ctx context.Context, e *domain.WatchlistEntry) (bool, domain.RejectReason) {
	return f(ctx, e)
}

// Options configures a Queue.
type Options struct {
	Store           storage.WatchlistStore
	Liquidity       quote.LiquiditySource
	Readmitter      Readmitter
	Config          config.Watchlist
	MinLiquidityUSD float64
	Clock           clock.Clock
	Logger          logrus.FieldLogger
}

// Queue holds one entry per mint.
type Queue struct {
	store      storage.WatchlistStore
	liquidity  quote.LiquiditySource
	readmitter Readmitter
	cfg        config.Watchlist
	floorUSD   float64
	clock      clock.Clock
	log        logrus.FieldLogger
}

// SweepResult counts what one sweep did.
type SweepResult struct {
	Checked  int
	Admitted int
	Evicted  int
}

// New creates a Queue.
func New(opts Options) *Queue {
	q := &Queue{
		store:      opts.Store,
		liquidity:  opts.Liquidity,
		readmitter: opts.Readmitter,
		cfg:        opts.Config,
		floorUSD:   opts.MinLiquidityUSD,
		clock:      opts.Clock,
		log:        opts.Logger,
	}
	if q.clock == nil {
		q.clock = clock.Real{}
	}
	if q.log == nil {
		q.log = logrus.StandardLogger()
	}
	return q
}

// SetReadmitter sets the readmitter after construction, for wiring cycles.
func (q *Queue) SetReadmitter(r Readmitter) {
	q.readmitter = r
}

// Add queues sig under its mint. An existing entry for the mint is refreshed
// with the new signal, reason and wallet and its check count restarts.
func (q *Queue) Add(ctx context.Context, sig domain.BuySignal, reason domain.RejectReason) error {
	e := &domain.WatchlistEntry{
		Mint:    sig.Mint,
		Wallet:  sig.Wallet,
		Reason:  reason,
		Signal:  sig,
		AddedAt: q.clock.Now(),
	}
	if err := q.store.Upsert(ctx, e); err != nil {
		return fmt.Errorf("watchlist add %s: %w", sig.Mint, err)
	}
	q.log.WithFields(logrus.Fields{"mint": sig.Mint, "wallet": sig.Wallet, "reason": reason}).Info("signal deferred")
	q.updateSize(ctx)
	return nil
}

// Remove drops the entry for mint.
func (q *Queue) Remove(ctx context.Context, mint string) (bool, error) {
	ok, err := q.store.Delete(ctx, mint)
	if err == nil && ok {
		q.updateSize(ctx)
	}
	return ok, err
}

// List returns all entries ordered by added time.
func (q *Queue) List(ctx context.Context) ([]*domain.WatchlistEntry, error) {
	return q.store.List(ctx)
}

func (q *Queue) updateSize(ctx context.Context) {
	if entries, err := q.store.List(ctx); err == nil {
		observability.UpdateWatchlistSize(len(entries))
	}
}

func (q *Queue) evict(ctx context.Context, e *domain.WatchlistEntry, cause string) bool {
	ok, err := q.store.Delete(ctx, e.Mint)
	if err != nil {
		q.log.WithError(err).WithField("mint", e.Mint).Warn("watchlist evict failed")
		return false
	}
	if ok {
		observability.RecordWatchlistEviction(cause)
		q.log.WithFields(logrus.Fields{"mint": e.Mint, "cause": cause, "checks": e.CheckCount}).Info("watchlist entry removed")
	}
	return ok
}

// permanent reports whether a re-admission rejection can no longer resolve
// while the entry waits.
func permanent(r domain.RejectReason) bool {
	switch r {
	case domain.ReasonNoPairs, domain.ReasonAuthorityActive, domain.ReasonAlreadyHeld, domain.ReasonInvalidPrice:
		return true
	}
	return false
}

// Sweep prunes expired entries and re-checks the due ones.
func (q *Queue) Sweep(ctx context.Context) SweepResult {
	var res SweepResult
	entries, err := q.store.List(ctx)
	if err != nil {
		q.log.WithError(err).Warn("watchlist list failed")
		return res
	}
	now := q.clock.Now()

	for _, e := range entries {
		if ctx.Err() != nil {
			break
		}
		if now.Sub(e.AddedAt) > q.cfg.MaxAge {
			if q.evict(ctx, e, "expired") {
				res.Evicted++
			}
			continue
		}

		last := e.LastCheckedAt
		if last.IsZero() {
			last = e.AddedAt
		}
		if now.Sub(last) < q.cfg.RecheckInterval {
			continue
		}

		res.Checked++
		e.CheckCount++
		e.LastCheckedAt = now
		if err := q.store.Upsert(ctx, e); err != nil {
			q.log.WithError(err).WithField("mint", e.Mint).Warn("watchlist update failed")
		}

		admitted, evicted := q.recheck(ctx, e, now)
		if admitted {
			res.Admitted++
		}
		if evicted {
			res.Evicted++
		}
	}

	q.updateSize(ctx)
	return res
}

func (q *Queue) recheck(ctx context.Context, e *domain.WatchlistEntry, now time.Time) (admitted, evicted bool) {
	log := q.log.WithFields(logrus.Fields{"mint": e.Mint, "check": e.CheckCount})

	if q.liquidity != nil {
		snap := q.liquidity.Liquidity(ctx, e.Mint)
		switch {
		case snap.Status == quote.LiquidityNoPairs:
			return false, q.evict(ctx, e, "no_pairs")
		case snap.Status == quote.LiquidityUnknown:
			log.Debug("liquidity still unknown")
			return false, false
		case snap.LiquidityUSD < q.floorUSD:
			log.WithField("liquidity_usd", snap.LiquidityUSD).Debug("liquidity still below floor")
			return false, false
		}
		if !snap.PairCreatedAt.IsZero() && now.Sub(snap.PairCreatedAt) > q.cfg.DeadPairAge && snap.Volume24hUSD < q.cfg.MinVolume24hUSD {
			return false, q.evict(ctx, e, "dead")
		}
	}

	if q.readmitter == nil {
		return false, false
	}
	ok, reason := q.readmitter.Readmit(ctx, e)
	switch {
	case ok:
		q.evict(ctx, e, "admitted")
		return true, false
	case permanent(reason):
		return false, q.evict(ctx, e, string(reason))
	}
	log.WithField("reason", reason).Debug("re-admission rejected")
	return false, false
}

// Run sweeps on every tick until ctx is done.
func (q *Queue) Run(ctx context.Context) error {
	interval := q.cfg.SweepInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			q.sweepSafely(ctx)
		}
	}
}

func (q *Queue) sweepSafely(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			q.log.WithField("panic", r).Error("watchlist sweep panicked")
		}
	}()
	res := q.Sweep(ctx)
	if res.Checked > 0 || res.Evicted > 0 {
		q.log.WithFields(logrus.Fields{"checked": res.Checked, "admitted": res.Admitted, "evicted": res.Evicted}).Info("watchlist sweep")
	}
}
