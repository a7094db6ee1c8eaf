package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/big"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"alpha-mirror/internal/clock"
	"alpha-mirror/internal/config"
	"alpha-mirror/internal/domain"
	"alpha-mirror/internal/execution"
	"alpha-mirror/internal/notify"
	"alpha-mirror/internal/observability"
	"alpha-mirror/internal/quote"
	"alpha-mirror/internal/storage"
)

// Manager errors.
var (
	ErrAlreadyHeld = errors.New("position already held")
	ErrNotHeld     = errors.New("position not held")
)

const (
	// sampleBatch is the number of buffered price samples flushed at once.
	sampleBatch = 20
	// deleteRetries bounds the store retries after a sold position.
	deleteRetries = 2
)

// PriceSource prices a held quantity in SOL per UI token.
type PriceSource interface {
	SellPrice(ctx context.Context, mint string, rawQty uint64, decimals uint8) (float64, error)
}

// Options configures a Manager.
type Options struct {
	Config    config.Exit
	Positions storage.PositionStore
	Ledger    storage.TradeLedger
	// Samples is optional.
	Samples      storage.PriceSampleStore
	Prices       PriceSource
	SentryPrices PriceSource
	Executor     execution.Executor
	Notifier     notify.Notifier
	Clock        clock.Clock
	Logger       logrus.FieldLogger
}

// Manager owns one task per open position. The task map is the only place
// that decides whether a mint is being managed.
type Manager struct {
	cfg       config.Exit
	positions storage.PositionStore
	ledger    storage.TradeLedger
	samples   storage.PriceSampleStore
	prices    PriceSource
	sentry    PriceSource
	executor  execution.Executor
	notifier  notify.Notifier
	clock     clock.Clock
	log       logrus.FieldLogger

	mu     sync.Mutex
	tasks  map[string]*task
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type task struct {
	mint  string
	exits chan domain.ExitReason
	done  chan struct{}

	// Owned by the task goroutine.
	failures int
	pending  domain.ExitReason
	sold     bool
	notified map[float64]bool
	samples  []*domain.PriceSample
}

// New creates a Manager.
func New(opts Options) *Manager {
	m := &Manager{
		cfg:       opts.Config,
		positions: opts.Positions,
		ledger:    opts.Ledger,
		samples:   opts.Samples,
		prices:    opts.Prices,
		sentry:    opts.SentryPrices,
		executor:  opts.Executor,
		notifier:  opts.Notifier,
		clock:     opts.Clock,
		log:       opts.Logger,
		tasks:     make(map[string]*task),
	}
	if m.sentry == nil {
		m.sentry = m.prices
	}
	if m.notifier == nil {
		m.notifier = notify.Nop{}
	}
	if m.clock == nil {
		m.clock = clock.Real{}
	}
	if m.log == nil {
		m.log = logrus.StandardLogger()
	}
	m.ctx, m.cancel = context.WithCancel(context.Background())
	return m
}

// Start resumes every persisted position.
func (m *Manager) Start(ctx context.Context) error {
	positions, err := m.positions.List(ctx)
	if err != nil {
		return fmt.Errorf("load positions: %w", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range positions {
		if _, ok := m.tasks[p.Mint]; ok {
			continue
		}
		m.spawnLocked(p)
	}
	observability.UpdateOpenPositions(len(m.tasks))
	m.log.WithField("positions", len(positions)).Info("lifecycle resumed")
	return nil
}

// Open persists a newly bought position and starts managing it.
func (m *Manager) Open(ctx context.Context, p *domain.Position) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tasks[p.Mint]; ok {
		return fmt.Errorf("%w: %s", ErrAlreadyHeld, p.Mint)
	}
	if p.Phase == "" {
		p.Phase = domain.PhaseEarly
	}
	if p.HighWaterSOL < p.EntryPriceSOL {
		p.HighWaterSOL = p.EntryPriceSOL
	}
	if err := m.positions.Put(ctx, p); err != nil {
		// The buy already happened; manage the position from memory and
		// let the next high-water write retry persistence.
		m.log.WithError(err).WithField("mint", p.Mint).Error("persist new position failed")
	}
	m.spawnLocked(p.Clone())
	observability.UpdateOpenPositions(len(m.tasks))
	return nil
}

// Has reports whether mint is being managed.
func (m *Manager) Has(mint string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.tasks[mint]
	return ok
}

// Count returns the number of managed positions.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.tasks)
}

// RequestExit asks the position's task to sell everything. Repeated
// requests before the task handles the first are coalesced.
func (m *Manager) RequestExit(mint string, reason domain.ExitReason) error {
	m.mu.Lock()
	t, ok := m.tasks[mint]
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotHeld, mint)
	}
	select {
	case t.exits <- reason:
	default:
	}
	return nil
}

// Close stops every task and waits for them.
func (m *Manager) Close() {
	m.cancel()
	m.wg.Wait()
}

func (m *Manager) spawnLocked(p *domain.Position) {
	t := &task{
		mint:     p.Mint,
		exits:    make(chan domain.ExitReason, 1),
		done:     make(chan struct{}),
		notified: make(map[float64]bool),
	}
	for _, ms := range m.cfg.Milestones {
		if p.HighWaterSOL >= p.EntryPriceSOL*ms {
			t.notified[ms] = true
		}
	}
	m.tasks[p.Mint] = t
	sentryPos := p.Clone()

	ctx, cancel := context.WithCancel(m.ctx)
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer cancel()
		m.run(ctx, t, p)
	}()

	if m.cfg.SentryWindow > 0 && m.clock.Now().Sub(sentryPos.EntryTime) < m.cfg.SentryWindow {
		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			m.watchSentry(ctx, t, sentryPos)
		}()
	}
}

func (m *Manager) finish(t *task) {
	m.mu.Lock()
	if m.tasks[t.mint] == t {
		delete(m.tasks, t.mint)
	}
	n := len(m.tasks)
	m.mu.Unlock()
	observability.UpdateOpenPositions(n)
	close(t.done)
}

func (m *Manager) run(ctx context.Context, t *task, pos *domain.Position) {
	log := m.log.WithFields(logrus.Fields{"mint": t.mint, "wallet": pos.Wallet})
	defer m.finish(t)
	defer m.flushSamples(t, log)
	defer func() {
		if r := recover(); r != nil {
			log.WithField("panic", r).Error("position task panicked")
		}
	}()

	interval := m.cfg.PollInterval
	timer := time.NewTimer(interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case reason := <-t.exits:
			if t.pending == "" {
				t.pending = reason
			}
			if m.exit(ctx, t, pos, t.pending, log) {
				return
			}
		case <-timer.C:
			closed, next := m.tick(ctx, t, pos, log)
			if closed {
				return
			}
			interval = next
			timer.Reset(interval)
		}
	}
}

// tick runs one iteration and returns whether the position is gone and the
// delay until the next iteration.
func (m *Manager) tick(ctx context.Context, t *task, pos *domain.Position, log logrus.FieldLogger) (bool, time.Duration) {
	if t.pending != "" {
		if m.exit(ctx, t, pos, t.pending, log) {
			return true, 0
		}
		return false, m.cfg.PollInterval
	}

	price, err := m.prices.SellPrice(ctx, t.mint, pos.Quantity, pos.Decimals)
	if err != nil {
		if quote.Transient(err) {
			log.WithError(err).Debug("price refresh skipped")
			return false, m.cfg.PollInterval
		}
		t.failures++
		log.WithError(err).WithField("failures", t.failures).Warn("price refresh failed")
		if m.cfg.DeadTokenFailures > 0 && t.failures >= m.cfg.DeadTokenFailures {
			t.pending = domain.ExitReasonDeadToken
			if m.exit(ctx, t, pos, t.pending, log) {
				return true, 0
			}
		}
		return false, m.cfg.PollInterval
	}
	t.failures = 0

	d := Step(m.cfg, pos, price)
	if d.Discarded {
		log.WithFields(logrus.Fields{"price": price, "entry": pos.EntryPriceSOL}).Warn("implausible price discarded")
		return false, m.cfg.PollInterval
	}

	dirty := false
	if d.HighWater > pos.HighWaterSOL {
		pos.HighWaterSOL = d.HighWater
		dirty = true
		m.checkMilestones(t, pos)
	}
	m.bufferSample(t, pos, price, log)

	switch d.Action {
	case ActionExit:
		t.pending = d.Reason
		if m.exit(ctx, t, pos, d.Reason, log) {
			return true, 0
		}
	case ActionPartialSell:
		m.partialSell(ctx, pos, price, log)
		dirty = true
	}
	if d.Trailing && pos.Phase != domain.PhaseTrailing {
		pos.Phase = domain.PhaseTrailing
		dirty = true
		log.WithField("price", price).Info("take profit reached, trailing")
	}

	if dirty {
		if err := m.positions.Put(ctx, pos); err != nil {
			log.WithError(err).Warn("persist position failed")
		}
	}

	if Drawdown(pos.HighWaterSOL, price) >= m.cfg.FastPollDrawdown && m.cfg.FastPollInterval > 0 {
		return false, m.cfg.FastPollInterval
	}
	return false, m.cfg.PollInterval
}

func (m *Manager) checkMilestones(t *task, pos *domain.Position) {
	for _, ms := range m.cfg.Milestones {
		if t.notified[ms] || pos.HighWaterSOL < pos.EntryPriceSOL*ms {
			continue
		}
		t.notified[ms] = true
		m.notifier.Notify(notify.Message{
			Kind: notify.KindMilestone,
			Text: fmt.Sprintf("%s reached %gx", shortMint(pos.Mint), ms),
			Fields: map[string]string{
				"mint":  pos.Mint,
				"price": formatSOL(pos.HighWaterSOL),
			},
		})
	}
}

func (m *Manager) partialSell(ctx context.Context, pos *domain.Position, price float64, log logrus.FieldLogger) {
	qty := uint64(math.Floor(float64(pos.Quantity) * m.cfg.PartialSellFraction))
	if qty == 0 || qty >= pos.Quantity {
		return
	}
	fill, err := m.executor.Sell(ctx, pos.Mint, qty)
	if err != nil {
		log.WithError(err).Warn("partial sell failed, continuing in trailing phase")
		m.notifier.Notify(notify.Message{Kind: notify.KindError, Text: "partial sell failed: " + shortMint(pos.Mint), Fields: map[string]string{"mint": pos.Mint, "error": err.Error()}})
		return
	}
	sold := qty
	if fill.InAmount > 0 && fill.InAmount < qty {
		sold = fill.InAmount
	}

	proceeds := lamportsToSOL(fill.OutAmount)
	cost := decimal.NewFromFloat(pos.CostBasisSOL).Mul(decimal.NewFromInt(int64(sold))).Div(decimal.NewFromInt(int64(pos.Quantity)))
	realized := proceeds.Sub(cost)

	pos.Quantity -= sold
	pos.CostBasisSOL = decimal.NewFromFloat(pos.CostBasisSOL).Sub(cost).InexactFloat64()
	pos.SoldQuantity += sold
	pos.PartialProceedsSOL = decimal.NewFromFloat(pos.PartialProceedsSOL).Add(proceeds).InexactFloat64()
	pos.RealizedPnLSOL = decimal.NewFromFloat(pos.RealizedPnLSOL).Add(realized).InexactFloat64()

	now := m.clock.Now()
	m.appendRow(ctx, &domain.TradeRow{
		ID:             uuid.NewString(),
		TradeID:        pos.TradeID,
		Timestamp:      now,
		Kind:           domain.TradeKindPartialSell,
		Mode:           pos.Mode,
		Mint:           pos.Mint,
		Wallet:         pos.Wallet,
		AmountSOL:      proceeds.InexactFloat64(),
		TokenAmount:    uiAmount(sold, pos.Decimals),
		PriceSOL:       price,
		RealizedPnLSOL: realized.InexactFloat64(),
		HoldDuration:   now.Sub(pos.EntryTime).Milliseconds(),
		ExitReason:     domain.ExitReasonTakeProfit,
		Signature:      fill.Signature,
	}, log)

	log.WithFields(logrus.Fields{"sold": sold, "proceeds_sol": proceeds.String()}).Info("partial take profit")
	m.notifier.Notify(notify.Message{
		Kind: notify.KindSell,
		Text: fmt.Sprintf("partial take profit %s", shortMint(pos.Mint)),
		Fields: map[string]string{
			"mint":     pos.Mint,
			"proceeds": proceeds.StringFixed(4),
			"pnl":      realized.StringFixed(4),
		},
	})
}

// exit sells the whole position. It returns false when the position stays
// open: the sell failed, or the sold position could not be removed yet.
func (m *Manager) exit(ctx context.Context, t *task, pos *domain.Position, reason domain.ExitReason, log logrus.FieldLogger) bool {
	log = log.WithField("reason", reason)
	if t.sold {
		return m.removePosition(ctx, pos, log)
	}

	fill, err := m.executor.Sell(ctx, pos.Mint, pos.Quantity)
	if err != nil {
		if reason != domain.ExitReasonDeadToken || !unsellable(err) {
			log.WithError(err).Error("exit sell failed, position stays open")
			m.notifier.Notify(notify.Message{Kind: notify.KindError, Text: "exit failed: " + shortMint(pos.Mint), Fields: map[string]string{"mint": pos.Mint, "reason": string(reason), "error": err.Error()}})
			return false
		}
		log.WithError(err).Warn("dead token has no sell route, writing position off")
		fill = &execution.Fill{}
	}

	proceeds := lamportsToSOL(fill.OutAmount)
	remainingCost := decimal.NewFromFloat(pos.CostBasisSOL)
	priorPnL := decimal.NewFromFloat(pos.RealizedPnLSOL)
	// Original cost = remaining cost + cost already recovered by partials.
	original := remainingCost.Add(decimal.NewFromFloat(pos.PartialProceedsSOL)).Sub(priorPnL)
	pnl := priorPnL.Add(proceeds.Sub(remainingCost))
	pct := decimal.Zero
	if original.IsPositive() {
		pct = pnl.Div(original)
	}

	now := m.clock.Now()
	uiQty := uiAmount(pos.Quantity, pos.Decimals)
	var exitPrice float64
	if uiQty > 0 {
		exitPrice = proceeds.InexactFloat64() / uiQty
	}
	m.appendRow(ctx, &domain.TradeRow{
		ID:             uuid.NewString(),
		TradeID:        pos.TradeID,
		Timestamp:      now,
		Kind:           domain.TradeKindSell,
		Mode:           pos.Mode,
		Mint:           pos.Mint,
		Wallet:         pos.Wallet,
		AmountSOL:      proceeds.InexactFloat64(),
		TokenAmount:    uiQty,
		PriceSOL:       exitPrice,
		RealizedPnLSOL: pnl.InexactFloat64(),
		RealizedPnLPct: pct.InexactFloat64(),
		HoldDuration:   now.Sub(pos.EntryTime).Milliseconds(),
		ExitReason:     reason,
		Signature:      fill.Signature,
	}, log)

	observability.RecordExit(string(reason), pnl.InexactFloat64())
	log.WithFields(logrus.Fields{
		"pnl_sol": pnl.StringFixed(6),
		"pnl_pct": pct.Mul(decimal.NewFromInt(100)).StringFixed(2),
		"sig":     fill.Signature,
	}).Info("position closed")
	m.notifier.Notify(notify.Message{
		Kind: notify.KindSell,
		Text: fmt.Sprintf("sold %s (%s)", shortMint(pos.Mint), reason),
		Fields: map[string]string{
			"mint":    pos.Mint,
			"pnl_sol": pnl.StringFixed(4),
			"pnl_pct": pct.Mul(decimal.NewFromInt(100)).StringFixed(1),
		},
	})

	t.sold = true
	return m.removePosition(ctx, pos, log)
}

// removePosition deletes a sold position from the store. On failure the task
// stays alive and retries on its next iteration without selling again.
func (m *Manager) removePosition(ctx context.Context, pos *domain.Position, log logrus.FieldLogger) bool {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = 20 * time.Millisecond
	eb.MaxInterval = time.Second
	policy := backoff.WithContext(backoff.WithMaxRetries(eb, deleteRetries), ctx)

	removed, err := backoff.RetryWithData(func() (bool, error) {
		return m.positions.Delete(ctx, pos.Mint)
	}, policy)
	if err != nil {
		log.WithError(err).Error("remove sold position failed")
		return false
	}
	if !removed {
		log.Warn("position was removed concurrently")
	}
	return true
}

// unsellable reports whether a sell failed because the token has no usable
// route, as opposed to a failure that may clear up.
func unsellable(err error) bool {
	return errors.Is(err, quote.ErrNoRoute) ||
		errors.Is(err, quote.ErrInvalidQuote) ||
		errors.Is(err, execution.ErrEmptyFill)
}

func (m *Manager) appendRow(ctx context.Context, row *domain.TradeRow, log logrus.FieldLogger) {
	if m.ledger == nil {
		return
	}
	if err := m.ledger.Append(ctx, row); err != nil {
		log.WithError(err).WithField("kind", row.Kind).Error("ledger append failed")
	}
}

func (m *Manager) bufferSample(t *task, pos *domain.Position, price float64, log logrus.FieldLogger) {
	if m.samples == nil {
		return
	}
	t.samples = append(t.samples, &domain.PriceSample{
		Mint:         pos.Mint,
		Timestamp:    m.clock.Now(),
		PriceSOL:     price,
		HighWaterSOL: pos.HighWaterSOL,
		Phase:        pos.Phase,
	})
	if len(t.samples) >= sampleBatch {
		m.flushSamples(t, log)
	}
}

func (m *Manager) flushSamples(t *task, log logrus.FieldLogger) {
	if m.samples == nil || len(t.samples) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := m.samples.InsertBulk(ctx, t.samples); err != nil {
		log.WithError(err).WithField("samples", len(t.samples)).Warn("price sample flush failed")
	}
	t.samples = t.samples[:0]
}

// watchSentry polls the price during the window after entry and requests an
// exit when the drawdown from entry reaches the sentry threshold.
func (m *Manager) watchSentry(ctx context.Context, t *task, pos *domain.Position) {
	log := m.log.WithField("mint", t.mint)
	defer func() {
		if r := recover(); r != nil {
			log.WithField("panic", r).Error("sentry panicked")
		}
	}()

	interval := m.cfg.SentryInterval
	if interval <= 0 {
		interval = time.Second
	}
	deadline := pos.EntryTime.Add(m.cfg.SentryWindow)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.done:
			return
		case <-ticker.C:
		}
		if !m.clock.Now().Before(deadline) {
			log.Debug("sentry window over")
			return
		}
		price, err := m.sentry.SellPrice(ctx, pos.Mint, pos.Quantity, pos.Decimals)
		if err != nil {
			continue
		}
		if dd := Drawdown(pos.EntryPriceSOL, price); dd >= m.cfg.SentryDrawdown {
			log.WithFields(logrus.Fields{"price": price, "drawdown": dd}).Warn("sentry drawdown, requesting exit")
			select {
			case t.exits <- domain.ExitReasonSentry:
			default:
			}
			return
		}
	}
}

func lamportsToSOL(l uint64) decimal.Decimal {
	return decimal.NewFromBigInt(new(big.Int).SetUint64(l), -9)
}

func uiAmount(raw uint64, decimals uint8) float64 {
	return decimal.NewFromBigInt(new(big.Int).SetUint64(raw), -int32(decimals)).InexactFloat64()
}

func formatSOL(v float64) string {
	return decimal.NewFromFloat(v).String()
}

func shortMint(mint string) string {
	if len(mint) <= 8 {
		return mint
	}
	return mint[:4] + ".." + mint[len(mint)-4:]
}
