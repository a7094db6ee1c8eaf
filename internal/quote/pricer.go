package quote

import (
	"context"
	"fmt"
	"math"

	"alpha-mirror/internal/solana"
)

const lamportsPerSOL = float64(solana.LamportsPerSOL)

// Pricer prices tokens in SOL through swap quotes.
type Pricer struct {
	quoter      Quoter
	slippageBps int
	tag         string
}

// NewPricer creates a Pricer.
func NewPricer(q Quoter, slippageBps int) *Pricer {
	return &Pricer{quoter: q, slippageBps: slippageBps}
}

// Tagged returns a copy whose requests carry tag.
func (p *Pricer) Tagged(tag string) *Pricer {
	c := *p
	c.tag = tag
	return &c
}

// SellPrice quotes selling rawQty of mint for SOL and returns the unit price
// in SOL per UI token.
func (p *Pricer) SellPrice(ctx context.Context, mint string, rawQty uint64, decimals uint8) (float64, error) {
	q, err := p.quoter.Quote(ctx, Request{
		InputMint:   mint,
		OutputMint:  solana.WrappedSOLMint,
		Amount:      rawQty,
		SlippageBps: p.slippageBps,
		Tag:         p.tag,
	})
	if err != nil {
		return 0, err
	}
	return UnitPrice(q.OutAmount, q.InAmount, decimals)
}

// BuyQuote quotes spending lamports of SOL on mint.
func (p *Pricer) BuyQuote(ctx context.Context, mint string, lamports uint64) (*Quote, error) {
	return p.quoter.Quote(ctx, Request{
		InputMint:   solana.WrappedSOLMint,
		OutputMint:  mint,
		Amount:      lamports,
		SlippageBps: p.slippageBps,
		Tag:         p.tag,
	})
}

// SellQuote quotes selling rawQty of mint for SOL.
func (p *Pricer) SellQuote(ctx context.Context, mint string, rawQty uint64) (*Quote, error) {
	return p.quoter.Quote(ctx, Request{
		InputMint:   mint,
		OutputMint:  solana.WrappedSOLMint,
		Amount:      rawQty,
		SlippageBps: p.slippageBps,
		Tag:         p.tag,
	})
}

// UnitPrice converts a lamports/raw-token pair into SOL per UI token.
func UnitPrice(lamports, rawTokens uint64, decimals uint8) (float64, error) {
	if rawTokens == 0 {
		return 0, fmt.Errorf("%w: zero token amount", ErrInvalidQuote)
	}
	price := (float64(lamports) / lamportsPerSOL) / (float64(rawTokens) / math.Pow10(int(decimals)))
	if math.IsNaN(price) || math.IsInf(price, 0) || price <= 0 {
		return 0, fmt.Errorf("%w: price %v", ErrInvalidQuote, price)
	}
	return price, nil
}
