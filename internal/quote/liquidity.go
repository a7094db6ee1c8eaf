package quote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"

	"alpha-mirror/internal/clock"
	"alpha-mirror/internal/observability"
)

// LiquidityStatus classifies a liquidity lookup.
type LiquidityStatus string

const (
	// LiquidityKnown carries a usable USD figure.
	LiquidityKnown LiquidityStatus = "known"
	// LiquidityNoPairs is a confident zero: the token has no pools.
	LiquidityNoPairs LiquidityStatus = "no_pairs"
	// LiquidityUnknown means every provider failed.
	LiquidityUnknown LiquidityStatus = "unknown"
)

// Snapshot is the liquidity picture of one mint.
type Snapshot struct {
	Status        LiquidityStatus
	LiquidityUSD  float64
	Volume24hUSD  float64
	PairCreatedAt time.Time // oldest pair; zero when not reported
	Source        string
	FetchedAt     time.Time
}

// LiquidityProvider looks up liquidity from one upstream service. A token
// without pools is reported as a LiquidityNoPairs snapshot, not an error.
type LiquidityProvider interface {
	Name() string
	Lookup(ctx context.Context, mint string) (Snapshot, error)
}

// LiquiditySource is what the admission guards and watchlist consume.
type LiquiditySource interface {
	Liquidity(ctx context.Context, mint string) Snapshot
}

// errPermanent marks provider failures that retrying or falling back cannot fix.
var errPermanent = errors.New("permanent provider failure")

// LiquidityOptions configures a Liquidity.
type LiquidityOptions struct {
	Primary      LiquidityProvider
	Secondary    LiquidityProvider // optional
	CacheTTL     time.Duration
	Retries      int
	RetryBackoff time.Duration
	Clock        clock.Clock
	Logger       logrus.FieldLogger
}

type cacheEntry struct {
	snap Snapshot
	at   time.Time
}

// Liquidity layers a TTL cache, primary retries and secondary fallback.
type Liquidity struct {
	primary      LiquidityProvider
	secondary    LiquidityProvider
	ttl          time.Duration
	retries      int
	retryBackoff time.Duration
	clock        clock.Clock
	log          logrus.FieldLogger

	mu    sync.Mutex
	cache map[string]cacheEntry
}

var _ LiquiditySource = (*Liquidity)(nil)

// NewLiquidity creates a Liquidity.
func NewLiquidity(opts LiquidityOptions) *Liquidity {
	l := &Liquidity{
		primary:      opts.Primary,
		secondary:    opts.Secondary,
		ttl:          opts.CacheTTL,
		retries:      opts.Retries,
		retryBackoff: opts.RetryBackoff,
		clock:        opts.Clock,
		log:          opts.Logger,
		cache:        make(map[string]cacheEntry),
	}
	if l.clock == nil {
		l.clock = clock.Real{}
	}
	if l.log == nil {
		l.log = logrus.StandardLogger()
	}
	if l.retryBackoff <= 0 {
		l.retryBackoff = 300 * time.Millisecond
	}
	return l
}

// Liquidity returns a snapshot for mint. It never fails: when no provider
// answers the snapshot status is LiquidityUnknown.
func (l *Liquidity) Liquidity(ctx context.Context, mint string) Snapshot {
	now := l.clock.Now()

	l.mu.Lock()
	if e, ok := l.cache[mint]; ok && now.Sub(e.at) < l.ttl {
		l.mu.Unlock()
		return e.snap
	}
	l.mu.Unlock()

	snap, err := l.lookupPrimary(ctx, mint)
	if err != nil && !errors.Is(err, errPermanent) && l.secondary != nil {
		l.log.WithError(err).WithField("mint", mint).Debug("primary liquidity failed, trying secondary")
		snap, err = l.secondary.Lookup(ctx, mint)
		observability.RecordLiquidity(l.secondary.Name(), statusLabel(snap, err))
	}
	if err != nil {
		l.log.WithError(err).WithField("mint", mint).Warn("liquidity unknown")
		return Snapshot{Status: LiquidityUnknown, FetchedAt: now}
	}

	snap.FetchedAt = now
	l.mu.Lock()
	l.cache[mint] = cacheEntry{snap: snap, at: now}
	l.mu.Unlock()
	return snap
}

func (l *Liquidity) lookupPrimary(ctx context.Context, mint string) (Snapshot, error) {
	if l.primary == nil {
		return Snapshot{}, errors.New("no primary liquidity provider")
	}
	op := func() (Snapshot, error) {
		s, err := l.primary.Lookup(ctx, mint)
		if errors.Is(err, errPermanent) {
			return s, backoff.Permanent(err)
		}
		return s, err
	}
	retries := l.retries
	if retries < 0 {
		retries = 0
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = l.retryBackoff
	b.MaxElapsedTime = 0
	snap, err := backoff.RetryWithData(op, backoff.WithContext(backoff.WithMaxRetries(b, uint64(retries)), ctx))
	observability.RecordLiquidity(l.primary.Name(), statusLabel(snap, err))
	return snap, err
}

func statusLabel(s Snapshot, err error) string {
	if err != nil {
		return "error"
	}
	return string(s.Status)
}

// getJSON performs a GET and decodes a 200 response into v. 429 and 5xx are
// transient; other non-200 statuses are wrapped with errPermanent.
func getJSON(ctx context.Context, client *http.Client, u string, header http.Header, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("%w: create request: %v", errPermanent, err)
	}
	for k, vals := range header {
		for _, val := range vals {
			req.Header.Add(k, val)
		}
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	switch {
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return fmt.Errorf("status %d", resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return fmt.Errorf("%w: status %d", errPermanent, resp.StatusCode)
	}
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// DexScreener reads the /latest/dex/tokens/{mint} endpoint.
type DexScreener struct {
	baseURL string
	client  *http.Client
}

// NewDexScreener creates a DexScreener provider. timeout bounds each call.
func NewDexScreener(baseURL string, timeout time.Duration) *DexScreener {
	return &DexScreener{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

// Name implements LiquidityProvider.
func (d *DexScreener) Name() string { return "dexscreener" }

type dexScreenerResponse struct {
	Pairs []struct {
		ChainID   string `json:"chainId"`
		Liquidity *struct {
			USD float64 `json:"usd"`
		} `json:"liquidity"`
		Volume *struct {
			H24 float64 `json:"h24"`
		} `json:"volume"`
		PairCreatedAt int64 `json:"pairCreatedAt"`
	} `json:"pairs"`
}

// Lookup implements LiquidityProvider. Liquidity and volume are summed over
// the mint's Solana pairs.
func (d *DexScreener) Lookup(ctx context.Context, mint string) (Snapshot, error) {
	var r dexScreenerResponse
	if err := getJSON(ctx, d.client, d.baseURL+"/"+url.PathEscape(mint), nil, &r); err != nil {
		return Snapshot{}, err
	}

	s := Snapshot{Status: LiquidityNoPairs, Source: d.Name()}
	for _, p := range r.Pairs {
		if p.ChainID != "" && p.ChainID != "solana" {
			continue
		}
		s.Status = LiquidityKnown
		if p.Liquidity != nil {
			s.LiquidityUSD += p.Liquidity.USD
		}
		if p.Volume != nil {
			s.Volume24hUSD += p.Volume.H24
		}
		if p.PairCreatedAt > 0 {
			created := time.UnixMilli(p.PairCreatedAt)
			if s.PairCreatedAt.IsZero() || created.Before(s.PairCreatedAt) {
				s.PairCreatedAt = created
			}
		}
	}
	return s, nil
}

// Birdeye reads the token_overview endpoint.
type Birdeye struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewBirdeye creates a Birdeye provider.
func NewBirdeye(baseURL, apiKey string, timeout time.Duration) *Birdeye {
	return &Birdeye{
		baseURL: baseURL,
		apiKey:  apiKey,
		client:  &http.Client{Timeout: timeout},
	}
}

// Name implements LiquidityProvider.
func (b *Birdeye) Name() string { return "birdeye" }

type birdeyeResponse struct {
	Success bool `json:"success"`
	Data    *struct {
		Liquidity float64 `json:"liquidity"`
		V24hUSD   float64 `json:"v24hUSD"`
	} `json:"data"`
}

// Lookup implements LiquidityProvider.
func (b *Birdeye) Lookup(ctx context.Context, mint string) (Snapshot, error) {
	h := http.Header{}
	h.Set("x-chain", "solana")
	if b.apiKey != "" {
		h.Set("X-API-KEY", b.apiKey)
	}
	var r birdeyeResponse
	if err := getJSON(ctx, b.client, b.baseURL+"?address="+url.QueryEscape(mint), h, &r); err != nil {
		return Snapshot{}, err
	}
	if !r.Success || r.Data == nil {
		return Snapshot{}, errors.New("birdeye: unsuccessful response")
	}
	s := Snapshot{
		Status:       LiquidityKnown,
		LiquidityUSD: r.Data.Liquidity,
		Volume24hUSD: r.Data.V24hUSD,
		Source:       b.Name(),
	}
	if s.LiquidityUSD <= 0 {
		s.Status = LiquidityNoPairs
	}
	return s, nil
}
