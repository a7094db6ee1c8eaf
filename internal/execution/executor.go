// Package execution turns buy and sell decisions into fills, either simulated
// against live quotes or through an external swap service.
package execution

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"alpha-mirror/internal/domain"
	"alpha-mirror/internal/quote"
)

// Execution errors.
var (
	ErrZeroAmount = errors.New("zero amount")
	ErrEmptyFill  = errors.New("swap filled zero output")
)

// Fill is an executed swap. Amounts are raw units: lamports on the SOL side,
// raw token units on the token side.
type Fill struct {
	Signature string
	InAmount  uint64
	OutAmount uint64
}

// Executor swaps SOL for tokens and back.
type Executor interface {
	// Buy spends lamports of SOL on mint.
	Buy(ctx context.Context, mint string, lamports uint64) (*Fill, error)
	// Sell sells rawQty of mint for SOL.
	Sell(ctx context.Context, mint string, rawQty uint64) (*Fill, error)
	Mode() domain.Mode
}

// Quotes is the subset of the pricer the paper executor needs.
type Quotes interface {
	BuyQuote(ctx context.Context, mint string, lamports uint64) (*quote.Quote, error)
	SellQuote(ctx context.Context, mint string, rawQty uint64) (*quote.Quote, error)
}

// Paper fills at the quoted amounts without touching the chain.
type Paper struct {
	quotes Quotes
	log    logrus.FieldLogger
}

var _ Executor = (*Paper)(nil)

// NewPaper creates a paper executor.
func NewPaper(q Quotes, log logrus.FieldLogger) *Paper {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Paper{quotes: q, log: log}
}

// Mode implements Executor.
func (p *Paper) Mode() domain.Mode { return domain.ModePaper }

// Buy implements Executor.
func (p *Paper) Buy(ctx context.Context, mint string, lamports uint64) (*Fill, error) {
	if lamports == 0 {
		return nil, ErrZeroAmount
	}
	q, err := p.quotes.BuyQuote(ctx, mint, lamports)
	if err != nil {
		return nil, fmt.Errorf("paper buy %s: %w", mint, err)
	}
	return p.fill(q)
}

// Sell implements Executor.
func (p *Paper) Sell(ctx context.Context, mint string, rawQty uint64) (*Fill, error) {
	if rawQty == 0 {
		return nil, ErrZeroAmount
	}
	q, err := p.quotes.SellQuote(ctx, mint, rawQty)
	if err != nil {
		return nil, fmt.Errorf("paper sell %s: %w", mint, err)
	}
	return p.fill(q)
}

func (p *Paper) fill(q *quote.Quote) (*Fill, error) {
	if q.OutAmount == 0 {
		return nil, ErrEmptyFill
	}
	f := &Fill{
		Signature: "paper-" + uuid.NewString(),
		InAmount:  q.InAmount,
		OutAmount: q.OutAmount,
	}
	p.log.WithFields(logrus.Fields{
		"in":  q.InputMint,
		"out": q.OutputMint,
		"sig": f.Signature,
	}).Debug("paper fill")
	return f, nil
}

// Side of a swap request.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

type swapRequest struct {
	Side        Side   `json:"side"`
	Mint        string `json:"mint"`
	Amount      string `json:"amount"`
	SlippageBps int    `json:"slippageBps"`
}

type swapResponse struct {
	Signature string `json:"signature"`
	InAmount  string `json:"inAmount"`
	OutAmount string `json:"outAmount"`
	Error     string `json:"error"`
}

// Remote delegates swaps to an HTTP swap service that signs and lands the
// transaction and reports the confirmed amounts.
type Remote struct {
	baseURL     string
	slippageBps int
	client      *http.Client
	log         logrus.FieldLogger
}

var _ Executor = (*Remote)(nil)

// NewRemote creates a Remote executor posting to baseURL/swap.
func NewRemote(baseURL string, slippageBps int, timeout time.Duration, log logrus.FieldLogger) *Remote {
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Remote{
		baseURL:     strings.TrimRight(baseURL, "/"),
		slippageBps: slippageBps,
		client:      &http.Client{Timeout: timeout},
		log:         log,
	}
}

// Mode implements Executor.
func (r *Remote) Mode() domain.Mode { return domain.ModeLive }

// Buy implements Executor.
func (r *Remote) Buy(ctx context.Context, mint string, lamports uint64) (*Fill, error) {
	return r.swap(ctx, SideBuy, mint, lamports)
}

// Sell implements Executor.
func (r *Remote) Sell(ctx context.Context, mint string, rawQty uint64) (*Fill, error) {
	return r.swap(ctx, SideSell, mint, rawQty)
}

func (r *Remote) swap(ctx context.Context, side Side, mint string, amount uint64) (*Fill, error) {
	if amount == 0 {
		return nil, ErrZeroAmount
	}
	body, err := json.Marshal(swapRequest{
		Side:        side,
		Mint:        mint,
		Amount:      strconv.FormatUint(amount, 10),
		SlippageBps: r.slippageBps,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal swap: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+"/swap", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create swap request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", side, mint, err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read swap response: %w", err)
	}

	var out swapResponse
	if err := json.Unmarshal(raw, &out); err != nil && resp.StatusCode == http.StatusOK {
		return nil, fmt.Errorf("decode swap response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		msg := out.Error
		if msg == "" {
			msg = strings.TrimSpace(string(raw))
		}
		return nil, fmt.Errorf("%s %s: swap status %d: %s", side, mint, resp.StatusCode, msg)
	}

	in, err := strconv.ParseUint(out.InAmount, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("parse inAmount %q: %w", out.InAmount, err)
	}
	got, err := strconv.ParseUint(out.OutAmount, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("parse outAmount %q: %w", out.OutAmount, err)
	}
	if got == 0 {
		return nil, ErrEmptyFill
	}
	r.log.WithFields(logrus.Fields{"side": side, "mint": mint, "sig": out.Signature}).Info("swap confirmed")
	return &Fill{Signature: out.Signature, InAmount: in, OutAmount: got}, nil
}
