// Package engine wires the signal flow: watched-wallet transactions are
// classified, scored or admitted, bought and handed to the lifecycle manager.
// It also exposes the operator operations.
package engine

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"alpha-mirror/internal/admission"
	"alpha-mirror/internal/classifier"
	"alpha-mirror/internal/clock"
	"alpha-mirror/internal/config"
	"alpha-mirror/internal/domain"
	"alpha-mirror/internal/execution"
	"alpha-mirror/internal/idhash"
	"alpha-mirror/internal/lifecycle"
	"alpha-mirror/internal/notify"
	"alpha-mirror/internal/observability"
	"alpha-mirror/internal/quote"
	"alpha-mirror/internal/registry"
	"alpha-mirror/internal/solana"
	"alpha-mirror/internal/storage"
	"alpha-mirror/internal/watchlist"
)

const (
	// signalDedupWindow is how long a (transaction, mint) signal is
	// remembered to drop repeated deliveries.
	signalDedupWindow = 10 * time.Minute
	maxSeenSignals    = 10_000
)

// Engine errors.
var (
	ErrBusy        = errors.New("mint already held or being bought")
	ErrInvalidSize = errors.New("invalid buy size")
	ErrUnknownRole = errors.New("unknown wallet role")
)

// Evaluator runs admission for one signal.
type Evaluator interface {
	Evaluate(ctx context.Context, sig domain.BuySignal, prov domain.Provenance) admission.Decision
}

// Runner is a background loop.
type Runner interface {
	Run(ctx context.Context) error
}

// Options configures an Engine.
type Options struct {
	Config     config.Root
	Registry   *registry.Registry
	Classifier *classifier.Classifier
	Admission  Evaluator
	Watchlist  *watchlist.Queue
	Lifecycle  *lifecycle.Manager
	Executor   execution.Executor
	Positions  storage.PositionStore
	Ledger     storage.TradeLedger
	Mints      admission.MintLookup
	Notifier   notify.Notifier
	Clock      clock.Clock
	Logger     logrus.FieldLogger
}

// Engine is safe for concurrent use.
type Engine struct {
	cfg        config.Root
	registry   *registry.Registry
	classifier *classifier.Classifier
	admission  Evaluator
	watchlist  *watchlist.Queue
	lifecycle  *lifecycle.Manager
	executor   execution.Executor
	positions  storage.PositionStore
	ledger     storage.TradeLedger
	mints      admission.MintLookup
	notifier   notify.Notifier
	clock      clock.Clock
	log        logrus.FieldLogger
	started    time.Time

	mu       sync.Mutex
	inFlight map[string]struct{}
	seen     map[string]time.Time
	loops    []Runner
}

// New creates an Engine and registers it as the watchlist's readmitter.
func New(opts Options) *Engine {
	e := &Engine{
		cfg:        opts.Config,
		registry:   opts.Registry,
		classifier: opts.Classifier,
		admission:  opts.Admission,
		watchlist:  opts.Watchlist,
		lifecycle:  opts.Lifecycle,
		executor:   opts.Executor,
		positions:  opts.Positions,
		ledger:     opts.Ledger,
		mints:      opts.Mints,
		notifier:   opts.Notifier,
		clock:      opts.Clock,
		log:        opts.Logger,
		inFlight:   make(map[string]struct{}),
		seen:       make(map[string]time.Time),
	}
	if e.notifier == nil {
		e.notifier = notify.Nop{}
	}
	if e.clock == nil {
		e.clock = clock.Real{}
	}
	if e.log == nil {
		e.log = logrus.StandardLogger()
	}
	e.started = e.clock.Now()
	if e.watchlist != nil {
		e.watchlist.SetReadmitter(e)
	}
	return e
}

// AddLoop registers a background loop started by Run.
func (e *Engine) AddLoop(r Runner) {
	e.mu.Lock()
	e.loops = append(e.loops, r)
	e.mu.Unlock()
}

// Run resumes open positions and runs every background loop until ctx is
// done. Positions stay persisted on shutdown.
func (e *Engine) Run(ctx context.Context) error {
	if err := e.lifecycle.Start(ctx); err != nil {
		return err
	}
	defer e.lifecycle.Close()

	e.mu.Lock()
	loops := append([]Runner(nil), e.loops...)
	e.mu.Unlock()

	g, ctx := errgroup.WithContext(ctx)
	for _, l := range loops {
		l := l
		g.Go(func() error { return l.Run(ctx) })
	}
	if e.watchlist != nil {
		g.Go(func() error { return e.watchlist.Run(ctx) })
	}
	g.Go(func() error {
		e.heartbeat(ctx)
		return nil
	})
	e.log.WithFields(logrus.Fields{"mode": e.executor.Mode(), "active": len(e.registry.Active())}).Info("engine started")
	return g.Wait()
}

func (e *Engine) heartbeat(ctx context.Context) {
	interval := e.cfg.Watcher.HeartbeatInterval
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			now := e.clock.Now()
			observability.RecordHeartbeat(now)
			st := e.Status(ctx)
			e.log.WithFields(logrus.Fields{
				"positions": len(st.Positions),
				"managed":   st.Managed,
				"watchlist": st.Watchlist,
				"active":    st.Active,
			}).Info("heartbeat")
			e.notifier.Notify(notify.Message{
				Kind: notify.KindHeartbeat,
				Text: fmt.Sprintf("alive: %d positions, %d deferred, %d active wallets", len(st.Positions), st.Watchlist, st.Active),
			})
		}
	}
}

// HandleTransaction classifies tx and routes every resulting signal by the
// wallet's current role.
func (e *Engine) HandleTransaction(ctx context.Context, wallet string, tx *solana.Transaction) {
	role := e.registry.Role(wallet)
	if role == domain.RoleNone {
		return
	}
	for _, sig := range e.classifier.Classify(tx, wallet, e.clock.Now()) {
		if !e.firstDelivery(sig) {
			e.log.WithFields(logrus.Fields{"sig": sig.Signature, "mint": sig.Mint}).Debug("duplicate signal dropped")
			continue
		}
		observability.RecordSignal(string(role))
		e.HandleSignal(ctx, sig, role)
	}
}

// firstDelivery remembers sig and reports whether it is new within the dedup
// window.
func (e *Engine) firstDelivery(sig domain.BuySignal) bool {
	key := idhash.ComputeSignalKey(sig.Signature, sig.Mint)
	now := e.clock.Now()

	e.mu.Lock()
	defer e.mu.Unlock()
	if at, ok := e.seen[key]; ok && now.Sub(at) < signalDedupWindow {
		return false
	}
	if len(e.seen) >= maxSeenSignals {
		for k, at := range e.seen {
			if now.Sub(at) >= signalDedupWindow {
				delete(e.seen, k)
			}
		}
	}
	e.seen[key] = now
	return true
}

// HandleSignal scores candidate signals and admits active ones.
func (e *Engine) HandleSignal(ctx context.Context, sig domain.BuySignal, role domain.WalletRole) {
	log := e.log.WithFields(logrus.Fields{"wallet": sig.Wallet, "mint": sig.Mint, "role": role})
	rc := e.cfg.Registry

	if _, err := e.registry.BumpScore(sig.Wallet, rc.PromoteWindow); err != nil {
		log.WithError(err).Warn("score update failed")
	}

	switch role {
	case domain.RoleCandidate:
		promoted, err := e.registry.MaybePromote(sig.Wallet, rc.PromoteThreshold, rc.PromoteWindow)
		if err != nil {
			log.WithError(err).Warn("promotion failed")
			return
		}
		if promoted {
			e.notifier.Notify(notify.Message{
				Kind:   notify.KindPromotion,
				Text:   "wallet promoted to active: " + sig.Wallet,
				Fields: map[string]string{"wallet": sig.Wallet},
			})
		}
	case domain.RoleActive:
		e.admit(ctx, sig, domain.ProvenanceDirect)
	}
}

// Readmit re-runs admission for a watchlisted signal.
func (e *Engine) Readmit(ctx context.Context, entry *domain.WatchlistEntry) (bool, domain.RejectReason) {
	return e.admit(ctx, entry.Signal, domain.ProvenanceDeferred)
}

var _ watchlist.Readmitter = (*Engine)(nil)

func (e *Engine) reserve(mint string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, busy := e.inFlight[mint]; busy {
		return false
	}
	if e.lifecycle.Has(mint) {
		return false
	}
	e.inFlight[mint] = struct{}{}
	return true
}

func (e *Engine) release(mint string) {
	e.mu.Lock()
	delete(e.inFlight, mint)
	e.mu.Unlock()
}

func (e *Engine) admit(ctx context.Context, sig domain.BuySignal, prov domain.Provenance) (bool, domain.RejectReason) {
	log := e.log.WithFields(logrus.Fields{"wallet": sig.Wallet, "mint": sig.Mint, "provenance": prov})

	if !e.reserve(sig.Mint) {
		observability.RecordDecision(string(prov), string(domain.ReasonAlreadyHeld))
		log.Debug("mint already held")
		return false, domain.ReasonAlreadyHeld
	}
	defer e.release(sig.Mint)

	d := e.admission.Evaluate(ctx, sig, prov)
	if !d.Accepted {
		if prov == domain.ProvenanceDirect && d.Deferrable() && e.watchlist != nil {
			if err := e.watchlist.Add(ctx, sig, d.Reason); err != nil {
				log.WithError(err).Warn("defer failed")
			} else {
				e.notifier.Notify(notify.Message{
					Kind:   notify.KindDeferred,
					Text:   fmt.Sprintf("deferred %s (%s)", sig.Mint, d.Reason),
					Fields: map[string]string{"mint": sig.Mint, "wallet": sig.Wallet, "reason": string(d.Reason)},
				})
			}
		}
		return false, d.Reason
	}

	if err := e.buy(ctx, sig, d.SizeSOL, d.Decimals, d.QuotedPriceSOL, prov); err != nil {
		log.WithError(err).Error("buy failed")
		e.notifier.Notify(notify.Message{
			Kind:   notify.KindError,
			Text:   "buy failed: " + sig.Mint,
			Fields: map[string]string{"mint": sig.Mint, "error": err.Error()},
		})
		return false, domain.ReasonExecutionFailed
	}
	if prov == domain.ProvenanceDirect && e.watchlist != nil {
		if _, err := e.watchlist.Remove(ctx, sig.Mint); err != nil {
			log.WithError(err).Debug("watchlist cleanup failed")
		}
	}
	return true, domain.ReasonNone
}

// buy executes the swap and opens the position. The caller holds the mint's
// in-flight reservation.
func (e *Engine) buy(ctx context.Context, sig domain.BuySignal, sizeSOL float64, decimals uint8, quoted float64, prov domain.Provenance) error {
	if math.IsNaN(sizeSOL) || math.IsInf(sizeSOL, 0) || sizeSOL <= 0 {
		return fmt.Errorf("%w: %v", ErrInvalidSize, sizeSOL)
	}
	lamports := uint64(decimal.NewFromFloat(sizeSOL).Shift(9).IntPart())
	fill, err := e.executor.Buy(ctx, sig.Mint, lamports)
	if err != nil {
		return err
	}

	entry, err := quote.UnitPrice(fill.InAmount, fill.OutAmount, decimals)
	if err != nil {
		if quoted <= 0 {
			return fmt.Errorf("entry price: %w", err)
		}
		entry = quoted
	}
	cost := decimal.New(int64(fill.InAmount), -9).InexactFloat64()
	now := e.clock.Now()

	pos := &domain.Position{
		Mint:           sig.Mint,
		Wallet:         sig.Wallet,
		TradeID:        idhash.ComputeTradeID(sig.Mint, sig.Wallet, fill.Signature),
		Mode:           e.executor.Mode(),
		Provenance:     prov,
		Decimals:       decimals,
		Quantity:       fill.OutAmount,
		CostBasisSOL:   cost,
		EntryPriceSOL:  entry,
		HighWaterSOL:   entry,
		EntryTime:      now,
		EntrySignature: fill.Signature,
		Phase:          domain.PhaseEarly,
	}

	if e.ledger != nil {
		row := &domain.TradeRow{
			ID:          uuid.NewString(),
			TradeID:     pos.TradeID,
			Timestamp:   now,
			Kind:        domain.TradeKindBuy,
			Mode:        pos.Mode,
			Mint:        pos.Mint,
			Wallet:      pos.Wallet,
			AmountSOL:   cost,
			TokenAmount: pos.UIQuantity(),
			PriceSOL:    entry,
			Signature:   fill.Signature,
		}
		if err := e.ledger.Append(ctx, row); err != nil {
			e.log.WithError(err).WithField("mint", pos.Mint).Error("ledger append failed")
		}
	}

	if err := e.lifecycle.Open(ctx, pos); err != nil {
		return fmt.Errorf("open position: %w", err)
	}
	observability.RecordBuy(string(pos.Mode))
	e.log.WithFields(logrus.Fields{
		"mint":     pos.Mint,
		"wallet":   pos.Wallet,
		"size_sol": cost,
		"entry":    entry,
		"sig":      fill.Signature,
	}).Info("position opened")
	e.notifier.Notify(notify.Message{
		Kind: notify.KindBuy,
		Text: fmt.Sprintf("bought %s for %s SOL (%s)", sig.Mint, decimal.NewFromFloat(cost).StringFixed(4), prov),
		Fields: map[string]string{
			"mint":   pos.Mint,
			"wallet": pos.Wallet,
			"mode":   string(pos.Mode),
		},
	})
	return nil
}
