// Package admission decides whether a buy signal is mirrored and with what
// size. Guards run in a fixed order and the first failure short-circuits with
// a domain.RejectReason.
package admission

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/sirupsen/logrus"

	"alpha-mirror/internal/config"
	"alpha-mirror/internal/domain"
	"alpha-mirror/internal/observability"
	"alpha-mirror/internal/quote"
	"alpha-mirror/internal/solana"
)

// MintLookup resolves on-chain mint metadata.
type MintLookup interface {
	GetMint(ctx context.Context, mint string) (*solana.MintInfo, error)
}

// RPCMints reads mints through a Solana RPC client.
type RPCMints struct {
	RPC solana.RPCClient
}

// GetMint implements MintLookup.
func (m RPCMints) GetMint(ctx context.Context, mint string) (*solana.MintInfo, error) {
	return solana.GetMint(ctx, m.RPC, mint)
}

// Quotes is the subset of quote.Pricer the safety screen uses.
type Quotes interface {
	BuyQuote(ctx context.Context, mint string, lamports uint64) (*quote.Quote, error)
	SellQuote(ctx context.Context, mint string, rawQty uint64) (*quote.Quote, error)
}

// Decision is the outcome of one evaluation.
type Decision struct {
	Accepted       bool
	Reason         domain.RejectReason
	Detail         string
	Stage          string
	SizeSOL        float64
	Decimals       uint8
	QuotedPriceSOL float64
	Liquidity      quote.Snapshot
}

// Deferrable reports whether a rejected direct signal belongs on the watchlist.
func (d Decision) Deferrable() bool {
	return !d.Accepted && d.Reason.Deferrable()
}

// Options configures a Pipeline.
type Options struct {
	Config    config.Admission
	Liquidity quote.LiquiditySource
	Quotes    Quotes
	Mints     MintLookup // optional; signal decimals are used when nil
	Logger    logrus.FieldLogger
}

// Pipeline runs the admission guards.
type Pipeline struct {
	cfg       config.Admission
	liquidity quote.LiquiditySource
	quotes    Quotes
	mints     MintLookup
	log       logrus.FieldLogger
	guards    []guard
}

type evaluation struct {
	signal     domain.BuySignal
	provenance domain.Provenance

	liquidity   quote.Snapshot
	decimals    uint8
	probeIn     uint64 // lamports
	probeOut    uint64 // raw tokens
	quotedPrice float64
}

type guard struct {
	name  string
	check func(ctx context.Context, ev *evaluation) (domain.RejectReason, string)
}

// New creates a Pipeline.
func New(opts Options) *Pipeline {
	p := &Pipeline{
		cfg:       opts.Config,
		liquidity: opts.Liquidity,
		quotes:    opts.Quotes,
		mints:     opts.Mints,
		log:       opts.Logger,
	}
	if p.log == nil {
		p.log = logrus.StandardLogger()
	}
	p.guards = []guard{
		{"freshness", p.checkFreshness},
		{"liquidity", p.checkLiquidity},
		{"safety", p.checkSafety},
		{"price_deviation", p.checkPriceDeviation},
	}
	return p
}

// Evaluate runs every guard against sig and sizes the trade when all pass.
func (p *Pipeline) Evaluate(ctx context.Context, sig domain.BuySignal, prov domain.Provenance) Decision {
	ev := &evaluation{signal: sig, provenance: prov, decimals: sig.Decimals}
	log := p.log.WithFields(logrus.Fields{"mint": sig.Mint, "wallet": sig.Wallet, "provenance": prov})

	for _, g := range p.guards {
		reason, detail := g.check(ctx, ev)
		if reason == domain.ReasonNone {
			continue
		}
		observability.RecordDecision(string(prov), string(reason))
		log.WithFields(logrus.Fields{"stage": g.name, "reason": reason}).Info("signal rejected: " + detail)
		return Decision{
			Reason:    reason,
			Detail:    detail,
			Stage:     g.name,
			Decimals:  ev.decimals,
			Liquidity: ev.liquidity,
		}
	}

	size := Size(p.cfg, ev.liquidity.LiquidityUSD, sig.NativeSpendSOL, sig.Age, prov)
	observability.RecordDecision(string(prov), "")
	log.WithFields(logrus.Fields{"size_sol": size, "liquidity_usd": ev.liquidity.LiquidityUSD}).Info("signal accepted")
	return Decision{
		Accepted:       true,
		SizeSOL:        size,
		Decimals:       ev.decimals,
		QuotedPriceSOL: ev.quotedPrice,
		Liquidity:      ev.liquidity,
	}
}

func (p *Pipeline) checkFreshness(_ context.Context, ev *evaluation) (domain.RejectReason, string) {
	if ev.provenance == domain.ProvenanceDeferred {
		return domain.ReasonNone, ""
	}
	if ev.signal.Age > p.cfg.MaxSignalAge {
		return domain.ReasonStale, fmt.Sprintf("age %s exceeds %s", ev.signal.Age, p.cfg.MaxSignalAge)
	}
	return domain.ReasonNone, ""
}

func (p *Pipeline) checkLiquidity(ctx context.Context, ev *evaluation) (domain.RejectReason, string) {
	if p.liquidity == nil {
		return domain.ReasonLiquidityUnknown, "no liquidity source"
	}
	ev.liquidity = p.liquidity.Liquidity(ctx, ev.signal.Mint)
	return LiquidityReason(ev.liquidity, p.cfg.MinLiquidityUSD)
}

// LiquidityReason applies the liquidity floor to a snapshot.
func LiquidityReason(s quote.Snapshot, floorUSD float64) (domain.RejectReason, string) {
	switch s.Status {
	case quote.LiquidityNoPairs:
		return domain.ReasonNoPairs, "token has no pairs"
	case quote.LiquidityUnknown:
		return domain.ReasonLiquidityUnknown, "liquidity providers unavailable"
	}
	if s.LiquidityUSD < floorUSD {
		return domain.ReasonLowLiquidity, fmt.Sprintf("liquidity $%.0f below $%.0f", s.LiquidityUSD, floorUSD)
	}
	return domain.ReasonNone, ""
}

func (p *Pipeline) checkSafety(ctx context.Context, ev *evaluation) (domain.RejectReason, string) {
	if p.mints != nil {
		m, err := p.mints.GetMint(ctx, ev.signal.Mint)
		if err != nil {
			return domain.ReasonMintUnknown, err.Error()
		}
		ev.decimals = m.Decimals
		if !p.cfg.AllowActiveAuthorities && !m.AuthoritiesRevoked() {
			return domain.ReasonAuthorityActive, fmt.Sprintf("mint authority %q freeze authority %q", m.MintAuthority, m.FreezeAuthority)
		}
	}

	if p.quotes == nil {
		return domain.ReasonQuoteUnavailable, "no quote source"
	}
	lamports := uint64(math.Round(p.cfg.BaseSizeSOL * float64(solana.LamportsPerSOL)))
	buy, err := p.quotes.BuyQuote(ctx, ev.signal.Mint, lamports)
	if err != nil {
		return quoteReason(err), "buy quote: " + err.Error()
	}
	if buy.PriceImpact > p.cfg.MaxPriceImpact {
		return domain.ReasonHighImpact, fmt.Sprintf("price impact %.4f exceeds %.4f", buy.PriceImpact, p.cfg.MaxPriceImpact)
	}
	ev.probeIn, ev.probeOut = buy.InAmount, buy.OutAmount

	sell, err := p.quotes.SellQuote(ctx, ev.signal.Mint, buy.OutAmount)
	if err != nil {
		if errors.Is(err, quote.ErrNoRoute) {
			return domain.ReasonHighTax, "no sell route"
		}
		return quoteReason(err), "sell quote: " + err.Error()
	}
	tax := 1 - float64(sell.OutAmount)/float64(buy.InAmount)
	if tax > p.cfg.MaxRoundTripTax {
		return domain.ReasonHighTax, fmt.Sprintf("round trip tax %.4f exceeds %.4f", tax, p.cfg.MaxRoundTripTax)
	}
	return domain.ReasonNone, ""
}

func quoteReason(err error) domain.RejectReason {
	if errors.Is(err, quote.ErrNoRoute) {
		return domain.ReasonNoRoute
	}
	return domain.ReasonQuoteUnavailable
}

func (p *Pipeline) checkPriceDeviation(_ context.Context, ev *evaluation) (domain.RejectReason, string) {
	entry := ev.signal.PriceSOL
	if math.IsNaN(entry) || math.IsInf(entry, 0) || entry <= 0 {
		return domain.ReasonInvalidPrice, fmt.Sprintf("wallet entry price %v", entry)
	}
	price, err := quote.UnitPrice(ev.probeIn, ev.probeOut, ev.decimals)
	if err != nil {
		return domain.ReasonInvalidPrice, err.Error()
	}
	ev.quotedPrice = price
	if ratio := price / entry; ratio > p.cfg.MaxPriceMultiplier {
		return domain.ReasonPriceDeviation, fmt.Sprintf("price %.3gx wallet entry exceeds %.2fx", ratio, p.cfg.MaxPriceMultiplier)
	}
	return domain.ReasonNone, ""
}

// Size computes the trade size in SOL:
//
//	base × tier(liquidity) × clamp(walletSpend/base) × freshness × deferredPenalty
//
// clamped to [MinSizeSOL, MaxSizeSOL]. Non-finite intermediate results yield
// MinSizeSOL.
func Size(cfg config.Admission, liquidityUSD, walletSpendSOL float64, age time.Duration, prov domain.Provenance) float64 {
	base := cfg.BaseSizeSOL

	tier := 1.0
	best := math.Inf(-1)
	for _, t := range cfg.LiquidityTiers {
		if liquidityUSD >= t.MinUSD && t.MinUSD > best {
			best, tier = t.MinUSD, t.Factor
		}
	}

	wallet := 1.0
	if base > 0 {
		wallet = clamp(walletSpendSOL/base, cfg.WalletFactorMin, cfg.WalletFactorMax)
	}

	fresh := 1.0
	penalty := 1.0
	if prov == domain.ProvenanceDeferred {
		penalty = cfg.DeferredPenalty
	} else if cfg.MaxSignalAge > 0 {
		frac := clamp(float64(age)/float64(cfg.MaxSignalAge), 0, 1)
		fresh = 1 - cfg.FreshnessDecay*frac
	}

	size := base * tier * wallet * fresh * penalty
	if math.IsNaN(size) || math.IsInf(size, 0) {
		return cfg.MinSizeSOL
	}
	return clamp(size, cfg.MinSizeSOL, cfg.MaxSizeSOL)
}

func clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) {
		return lo
	}
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
