// Package classifier turns confirmed transactions of a watched wallet into buy
// signals using the transaction's native and token balance deltas.
package classifier

import (
	"math"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"alpha-mirror/internal/config"
	"alpha-mirror/internal/domain"
	"alpha-mirror/internal/solana"
)

// Classifier extracts buy signals from transactions.
type Classifier struct {
	minSpend         decimal.Decimal
	minTokenBalance  decimal.Decimal
	minIncreaseRatio decimal.Decimal
	log              logrus.FieldLogger
}

// New creates a Classifier.
func New(cfg config.Classifier, log logrus.FieldLogger) *Classifier {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Classifier{
		minSpend:         decimal.NewFromFloat(cfg.MinSpendSOL),
		minTokenBalance:  decimal.NewFromFloat(cfg.MinTokenBalance),
		minIncreaseRatio: decimal.NewFromFloat(cfg.MinIncreaseRatio),
		log:              log,
	}
}

type mintDelta struct {
	mint     string
	decimals uint8
	pre      decimal.Decimal // raw units
	post     decimal.Decimal
}

func (m *mintDelta) ui(raw decimal.Decimal) decimal.Decimal {
	return raw.Shift(-int32(m.decimals))
}

// Classify returns the buy signals wallet made in tx. Anything it cannot
// interpret yields no signal.
func (c *Classifier) Classify(tx *solana.Transaction, wallet string, now time.Time) []domain.BuySignal {
	if tx == nil || tx.Meta == nil || tx.Failed() {
		return nil
	}
	log := c.log.WithFields(logrus.Fields{"wallet": wallet, "signature": tx.Signature})

	spendLamports, ok := nativeSpend(tx, wallet)
	if !ok {
		return nil
	}
	spend := spendLamports.Shift(-9)

	if spend.LessThan(c.minSpend) {
		if spend.Neg().GreaterThanOrEqual(c.minSpend) {
			log.WithField("received_sol", spend.Neg().String()).Info("observed sell")
		}
		return nil
	}

	deltas := tokenDeltas(tx, wallet)
	var qualifying []*mintDelta
	total := decimal.Zero
	for _, d := range deltas {
		if !d.post.GreaterThan(d.pre) {
			continue
		}
		postUI := d.ui(d.post)
		if postUI.LessThan(c.minTokenBalance) {
			continue
		}
		if d.pre.IsPositive() {
			ratio := d.post.Sub(d.pre).Div(d.pre)
			if ratio.LessThan(c.minIncreaseRatio) {
				continue
			}
		}
		qualifying = append(qualifying, d)
		total = total.Add(d.ui(d.post.Sub(d.pre)))
	}
	if len(qualifying) == 0 || !total.IsPositive() {
		return nil
	}

	price := spend.Div(total).InexactFloat64()
	if math.IsNaN(price) || math.IsInf(price, 0) || price <= 0 {
		log.WithField("price", price).Debug("discarding signal with unusable price")
		return nil
	}

	var blockTime time.Time
	var age time.Duration
	if tx.BlockTime > 0 {
		blockTime = time.Unix(tx.BlockTime, 0)
		if age = now.Sub(blockTime); age < 0 {
			age = 0
		}
	}

	signals := make([]domain.BuySignal, 0, len(qualifying))
	for _, d := range qualifying {
		delta := d.ui(d.post.Sub(d.pre))
		signals = append(signals, domain.BuySignal{
			Wallet:         wallet,
			Signature:      tx.Signature,
			Mint:           d.mint,
			Decimals:       d.decimals,
			NativeSpendSOL: spend.Mul(delta).Div(total).InexactFloat64(),
			TokenAmount:    delta.InexactFloat64(),
			PriceSOL:       price,
			PreBalance:     d.ui(d.pre).InexactFloat64(),
			PostBalance:    d.ui(d.post).InexactFloat64(),
			BlockTime:      blockTime,
			DetectedAt:     now,
			Age:            age,
		})
	}
	return signals
}

// nativeSpend returns the lamports wallet paid in tx: the SOL balance decrease
// plus any decrease of wrapped-SOL accounts it owns. Negative means it received.
func nativeSpend(tx *solana.Transaction, wallet string) (decimal.Decimal, bool) {
	m := tx.Meta
	spend := decimal.Zero
	found := false

	for i, key := range tx.AllAccountKeys() {
		if key != wallet {
			continue
		}
		if i >= len(m.PreBalances) || i >= len(m.PostBalances) {
			return decimal.Zero, false
		}
		spend = decimal.NewFromInt(int64(m.PreBalances[i])).Sub(decimal.NewFromInt(int64(m.PostBalances[i])))
		found = true
		break
	}

	pre := sumWrappedSOL(m.PreTokenBalances, wallet)
	post := sumWrappedSOL(m.PostTokenBalances, wallet)
	if !pre.IsZero() || !post.IsZero() {
		spend = spend.Add(pre.Sub(post))
		found = true
	}
	return spend, found
}

func sumWrappedSOL(balances []solana.TokenBalance, wallet string) decimal.Decimal {
	sum := decimal.Zero
	for _, b := range balances {
		if b.Owner != wallet || b.Mint != solana.WrappedSOLMint {
			continue
		}
		if amt, err := decimal.NewFromString(b.Amount); err == nil {
			sum = sum.Add(amt)
		}
	}
	return sum
}

// tokenDeltas aggregates the wallet's non-WSOL token accounts per mint,
// ordered by mint.
func tokenDeltas(tx *solana.Transaction, wallet string) []*mintDelta {
	byMint := make(map[string]*mintDelta)
	add := func(b solana.TokenBalance, post bool) {
		if b.Owner != wallet || b.Mint == "" || b.Mint == solana.WrappedSOLMint {
			return
		}
		amt, err := decimal.NewFromString(b.Amount)
		if err != nil || amt.IsNegative() {
			return
		}
		d, ok := byMint[b.Mint]
		if !ok {
			d = &mintDelta{mint: b.Mint, decimals: b.Decimals}
			byMint[b.Mint] = d
		}
		if post {
			d.post = d.post.Add(amt)
			d.decimals = b.Decimals
		} else {
			d.pre = d.pre.Add(amt)
		}
	}
	for _, b := range tx.Meta.PreTokenBalances {
		add(b, false)
	}
	for _, b := range tx.Meta.PostTokenBalances {
		add(b, true)
	}

	out := make([]*mintDelta, 0, len(byMint))
	for _, d := range byMint {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].mint < out[j].mint })
	return out
}
