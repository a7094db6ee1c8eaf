package quote

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"alpha-mirror/internal/clock"
)

func newTestLiquidity(clk clock.Clock, primary, secondary string) *Liquidity {
	opts := LiquidityOptions{
		Primary:      NewDexScreener(primary, time.Second),
		CacheTTL:     30 * time.Second,
		Retries:      1,
		RetryBackoff: time.Millisecond,
		Clock:        clk,
	}
	if secondary != "" {
		opts.Secondary = NewBirdeye(secondary, "key", time.Second)
	}
	return NewLiquidity(opts)
}

func TestLiquidity_PrimaryKnown(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		assert.Equal(t, "/tokens/mintA", r.URL.Path)
		_, _ = w.Write([]byte(`{"pairs":[
			{"chainId":"solana","liquidity":{"usd":6000},"volume":{"h24":100},"pairCreatedAt":1700000000000},
			{"chainId":"solana","liquidity":{"usd":4000},"volume":{"h24":50},"pairCreatedAt":1690000000000},
			{"chainId":"ethereum","liquidity":{"usd":99999}}
		]}`))
	}))
	defer srv.Close()

	clk := clock.NewFake(time.Unix(1_700_000_000, 0))
	l := newTestLiquidity(clk, srv.URL+"/tokens", "")

	s := l.Liquidity(context.Background(), "mintA")
	assert.Equal(t, LiquidityKnown, s.Status)
	assert.Equal(t, 10_000.0, s.LiquidityUSD)
	assert.Equal(t, 150.0, s.Volume24hUSD)
	assert.Equal(t, int64(1690000000000), s.PairCreatedAt.UnixMilli())
	assert.Equal(t, "dexscreener", s.Source)

	// Served from cache inside the TTL.
	l.Liquidity(context.Background(), "mintA")
	assert.Equal(t, int32(1), hits.Load())

	clk.Advance(31 * time.Second)
	l.Liquidity(context.Background(), "mintA")
	assert.Equal(t, int32(2), hits.Load())
}

func TestLiquidity_NoPairsIsConfidentZero(t *testing.T) {
	var primaryHits, secondaryHits atomic.Int32
	primary := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		primaryHits.Add(1)
		_, _ = w.Write([]byte(`{"schemaVersion":"1.0.0","pairs":null}`))
	}))
	defer primary.Close()
	secondary := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		secondaryHits.Add(1)
	}))
	defer secondary.Close()

	l := newTestLiquidity(clock.NewFake(time.Unix(0, 0)), primary.URL, secondary.URL)
	s := l.Liquidity(context.Background(), "mintA")
	assert.Equal(t, LiquidityNoPairs, s.Status)
	assert.Zero(t, s.LiquidityUSD)
	assert.Equal(t, int32(1), primaryHits.Load(), "no retry")
	assert.Equal(t, int32(0), secondaryHits.Load(), "no fallback")
}

func TestLiquidity_FallbackOn5xx(t *testing.T) {
	var primaryHits atomic.Int32
	primary := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		primaryHits.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer primary.Close()
	secondary := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "mintA", r.URL.Query().Get("address"))
		assert.Equal(t, "key", r.Header.Get("X-API-KEY"))
		_, _ = w.Write([]byte(`{"success":true,"data":{"liquidity":12345.5,"v24hUSD":777}}`))
	}))
	defer secondary.Close()

	l := newTestLiquidity(clock.NewFake(time.Unix(0, 0)), primary.URL, secondary.URL)
	s := l.Liquidity(context.Background(), "mintA")
	require.Equal(t, LiquidityKnown, s.Status)
	assert.Equal(t, 12345.5, s.LiquidityUSD)
	assert.Equal(t, "birdeye", s.Source)
	assert.Equal(t, int32(2), primaryHits.Load(), "primary retried once before falling back")
}

func TestLiquidity_Unknown(t *testing.T) {
	down := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer down.Close()

	l := newTestLiquidity(clock.NewFake(time.Unix(0, 0)), down.URL, down.URL)
	s := l.Liquidity(context.Background(), "mintA")
	assert.Equal(t, LiquidityUnknown, s.Status)
}

func TestLiquidity_PermanentSkipsFallback(t *testing.T) {
	var secondaryHits atomic.Int32
	primary := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer primary.Close()
	secondary := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		secondaryHits.Add(1)
	}))
	defer secondary.Close()

	l := newTestLiquidity(clock.NewFake(time.Unix(0, 0)), primary.URL, secondary.URL)
	s := l.Liquidity(context.Background(), "mintA")
	assert.Equal(t, LiquidityUnknown, s.Status)
	assert.Equal(t, int32(0), secondaryHits.Load())
}
