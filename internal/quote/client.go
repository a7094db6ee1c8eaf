package quote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"

	"alpha-mirror/internal/observability"
)

// Request asks for a swap of Amount raw units of InputMint into OutputMint.
type Request struct {
	InputMint   string
	OutputMint  string
	Amount      uint64
	SlippageBps int
	// Tag separates callers that quote the same pair so they do not share
	// spacing slots.
	Tag string
}

// Key identifies the request for spacing and cooldown purposes.
func (r Request) Key() string {
	k := r.InputMint + ":" + r.OutputMint + ":" + strconv.FormatUint(r.Amount, 10)
	if r.Tag != "" {
		k = r.Tag + "/" + k
	}
	return k
}

// Quote is a swap quote. Amounts are raw units.
type Quote struct {
	InputMint   string
	OutputMint  string
	InAmount    uint64
	OutAmount   uint64
	PriceImpact float64 // fraction, 0.01 = 1%
	Endpoint    string
	Raw         json.RawMessage
}

// Quoter returns a quote or a typed failure.
type Quoter interface {
	Quote(ctx context.Context, req Request) (*Quote, error)
}

// Options configures a Client.
type Options struct {
	Endpoints   []string
	Limiter     *Limiter
	Rounds      int
	BackoffBase time.Duration
	BackoffMax  time.Duration
	Timeout     time.Duration
	HTTPClient  *http.Client
	Logger      logrus.FieldLogger
}

// Client queries Jupiter-compatible /quote endpoints.
type Client struct {
	endpoints   []string
	limiter     *Limiter
	rounds      int
	backoffBase time.Duration
	backoffMax  time.Duration
	timeout     time.Duration
	http        *http.Client
	log         logrus.FieldLogger
}

var _ Quoter = (*Client)(nil)

// NewClient creates a Client.
func NewClient(opts Options) *Client {
	c := &Client{
		endpoints:   opts.Endpoints,
		limiter:     opts.Limiter,
		rounds:      opts.Rounds,
		backoffBase: opts.BackoffBase,
		backoffMax:  opts.BackoffMax,
		timeout:     opts.Timeout,
		http:        opts.HTTPClient,
		log:         opts.Logger,
	}
	if c.limiter == nil {
		c.limiter = NewLimiter(LimiterConfig{})
	}
	if c.rounds <= 0 {
		c.rounds = 1
	}
	if c.backoffBase <= 0 {
		c.backoffBase = 250 * time.Millisecond
	}
	if c.backoffMax < c.backoffBase {
		c.backoffMax = c.backoffBase
	}
	if c.timeout <= 0 {
		c.timeout = 5 * time.Second
	}
	if c.http == nil {
		c.http = &http.Client{}
	}
	if c.log == nil {
		c.log = logrus.StandardLogger()
	}
	return c
}

// Quote fetches a quote. The limiter is consulted once per logical request,
// before any network call.
func (c *Client) Quote(ctx context.Context, req Request) (*Quote, error) {
	if req.Amount == 0 || req.InputMint == "" || req.OutputMint == "" {
		return nil, fmt.Errorf("%w: empty request", ErrBadRequest)
	}
	key := req.Key()
	if err := c.limiter.Allow(key); err != nil {
		observability.RecordQuote(outcome(err))
		return nil, err
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.backoffBase
	b.MaxInterval = c.backoffMax
	b.MaxElapsedTime = 0

	round := func() (*Quote, error) {
		var lastErr error
		for _, ep := range c.endpoints {
			q, err := c.fetch(ctx, ep, req)
			if err == nil {
				return q, nil
			}
			switch {
			case errors.Is(err, ErrNoRoute), errors.Is(err, ErrInvalidQuote):
				return nil, backoff.Permanent(err)
			case errors.Is(err, errStatusTooMany):
				d := c.limiter.Penalize(key, SeverityRateLimit)
				c.log.WithFields(logrus.Fields{"endpoint": ep, "cooldown": d}).Warn("quote provider rate limited")
				return nil, backoff.Permanent(fmt.Errorf("%w: %v", ErrRateLimited, err))
			case errors.Is(err, ErrBadRequest):
				d := c.limiter.Penalize(key, SeverityBadRequest)
				c.log.WithFields(logrus.Fields{"endpoint": ep, "cooldown": d}).Warn("quote provider rejected request")
				return nil, backoff.Permanent(err)
			case ctx.Err() != nil:
				return nil, backoff.Permanent(ctx.Err())
			}
			lastErr = err
		}
		if lastErr == nil {
			lastErr = errors.New("no endpoints configured")
		}
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, lastErr)
	}

	q, err := backoff.RetryWithData(round,
		backoff.WithContext(backoff.WithMaxRetries(b, uint64(c.rounds-1)), ctx))
	observability.RecordQuote(outcome(err))
	if err != nil {
		return nil, err
	}
	return q, nil
}

var errStatusTooMany = errors.New("status 429")

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrRateLimited):
		return "rate_limited"
	case errors.Is(err, ErrCoolingDown):
		return "cooling_down"
	case errors.Is(err, ErrNoRoute):
		return "no_route"
	case errors.Is(err, ErrBadRequest):
		return "bad_request"
	case errors.Is(err, ErrInvalidQuote):
		return "invalid"
	}
	return "unavailable"
}

type quoteResponse struct {
	InputMint      string `json:"inputMint"`
	InAmount       string `json:"inAmount"`
	OutputMint     string `json:"outputMint"`
	OutAmount      string `json:"outAmount"`
	PriceImpactPct string `json:"priceImpactPct"`
}

type errorResponse struct {
	Error     string `json:"error"`
	ErrorCode string `json:"errorCode"`
}

func (c *Client) fetch(ctx context.Context, endpoint string, req Request) (*Quote, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	q := url.Values{}
	q.Set("inputMint", req.InputMint)
	q.Set("outputMint", req.OutputMint)
	q.Set("amount", strconv.FormatUint(req.Amount, 10))
	if req.SlippageBps > 0 {
		q.Set("slippageBps", strconv.Itoa(req.SlippageBps))
	}
	u := strings.TrimRight(endpoint, "/") + "/quote?" + q.Encode()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	resp.Body.Close()
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, errStatusTooMany
	case resp.StatusCode == http.StatusBadRequest:
		var e errorResponse
		_ = json.Unmarshal(body, &e)
		if isNoRoute(e) {
			return nil, fmt.Errorf("%w: %s", ErrNoRoute, e.Error)
		}
		return nil, fmt.Errorf("%w: %s", ErrBadRequest, strings.TrimSpace(string(body)))
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	var qr quoteResponse
	if err := json.Unmarshal(body, &qr); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidQuote, err)
	}
	in, err1 := strconv.ParseUint(qr.InAmount, 10, 64)
	out, err2 := strconv.ParseUint(qr.OutAmount, 10, 64)
	if err1 != nil || err2 != nil || out == 0 {
		return nil, fmt.Errorf("%w: in=%q out=%q", ErrInvalidQuote, qr.InAmount, qr.OutAmount)
	}
	impact := 0.0
	if qr.PriceImpactPct != "" {
		impact, err = strconv.ParseFloat(qr.PriceImpactPct, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: price impact %q", ErrInvalidQuote, qr.PriceImpactPct)
		}
	}

	return &Quote{
		InputMint:   req.InputMint,
		OutputMint:  req.OutputMint,
		InAmount:    in,
		OutAmount:   out,
		PriceImpact: impact,
		Endpoint:    endpoint,
		Raw:         body,
	}, nil
}

func isNoRoute(e errorResponse) bool {
	code := strings.ToUpper(e.ErrorCode)
	if strings.Contains(code, "NO_ROUTE") || strings.Contains(code, "COULD_NOT_FIND_ANY_ROUTE") || code == "TOKEN_NOT_TRADABLE" {
		return true
	}
	return strings.Contains(strings.ToLower(e.Error), "no route") ||
		strings.Contains(strings.ToLower(e.Error), "could not find any route")
}
