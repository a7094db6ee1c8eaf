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

func newTestClient(clk clock.Clock, endpoints ...string) *Client {
	return NewClient(Options{
		Endpoints: endpoints,
		Limiter: NewLimiter(LimiterConfig{
			MinSpacing:   time.Second,
			CooldownBase: 10 * time.Second,
			CooldownMax:  time.Minute,
			Clock:        clk,
		}),
		Rounds:      2,
		BackoffBase: time.Millisecond,
		BackoffMax:  2 * time.Millisecond,
		Timeout:     time.Second,
	})
}

func testRequest() Request {
	return Request{InputMint: "So11111111111111111111111111111111111111112", OutputMint: "mint", Amount: 1_000_000_000}
}

func TestClient_Quote(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/quote", r.URL.Path)
		assert.Equal(t, "1000000000", r.URL.Query().Get("amount"))
		_, _ = w.Write([]byte(`{"inputMint":"So11111111111111111111111111111111111111112","inAmount":"1000000000","outputMint":"mint","outAmount":"5000000","priceImpactPct":"0.012"}`))
	}))
	defer srv.Close()

	c := newTestClient(clock.NewFake(time.Unix(0, 0)), srv.URL)
	q, err := c.Quote(context.Background(), testRequest())
	require.NoError(t, err)
	assert.Equal(t, uint64(1_000_000_000), q.InAmount)
	assert.Equal(t, uint64(5_000_000), q.OutAmount)
	assert.InDelta(t, 0.012, q.PriceImpact, 1e-12)
	assert.Equal(t, srv.URL, q.Endpoint)
}

func TestClient_SecondCallInsideSpacing(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		_, _ = w.Write([]byte(`{"inAmount":"1","outAmount":"2"}`))
	}))
	defer srv.Close()

	c := newTestClient(clock.NewFake(time.Unix(0, 0)), srv.URL)
	_, err := c.Quote(context.Background(), testRequest())
	require.NoError(t, err)
	_, err = c.Quote(context.Background(), testRequest())
	assert.ErrorIs(t, err, ErrRateLimited)
	assert.Equal(t, int32(1), hits.Load(), "refused before any network call")

	tagged := testRequest()
	tagged.Tag = "exec"
	_, err = c.Quote(context.Background(), tagged)
	require.NoError(t, err, "a different tag has its own spacing slot")
	assert.Equal(t, int32(2), hits.Load())
}

func TestClient_EndpointFallback(t *testing.T) {
	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer bad.Close()
	good := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"inAmount":"1000000000","outAmount":"42"}`))
	}))
	defer good.Close()

	c := newTestClient(clock.NewFake(time.Unix(0, 0)), bad.URL, good.URL)
	q, err := c.Quote(context.Background(), testRequest())
	require.NoError(t, err)
	assert.Equal(t, good.URL, q.Endpoint)
}

func TestClient_Unavailable(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := newTestClient(clock.NewFake(time.Unix(0, 0)), srv.URL)
	_, err := c.Quote(context.Background(), testRequest())
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.Equal(t, int32(2), hits.Load(), "one call per round")
}

func TestClient_NoRoute(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"Could not find any route","errorCode":"COULD_NOT_FIND_ANY_ROUTE"}`))
	}))
	defer srv.Close()

	clk := clock.NewFake(time.Unix(0, 0))
	c := newTestClient(clk, srv.URL)
	_, err := c.Quote(context.Background(), testRequest())
	assert.ErrorIs(t, err, ErrNoRoute)
	assert.Equal(t, int32(1), hits.Load(), "structural failures are not retried")
	assert.False(t, c.limiter.CoolingDown(testRequest().Key()))
}

func TestClient_RateLimitStartsCooldown(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	clk := clock.NewFake(time.Unix(0, 0))
	c := newTestClient(clk, srv.URL)
	_, err := c.Quote(context.Background(), testRequest())
	assert.ErrorIs(t, err, ErrRateLimited)

	clk.Advance(2 * time.Second)
	_, err = c.Quote(context.Background(), testRequest())
	assert.ErrorIs(t, err, ErrCoolingDown)
}

func TestClient_BadRequestCooldown(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"amount too small"}`))
	}))
	defer srv.Close()

	clk := clock.NewFake(time.Unix(0, 0))
	c := newTestClient(clk, srv.URL)
	_, err := c.Quote(context.Background(), testRequest())
	assert.ErrorIs(t, err, ErrBadRequest)

	clk.Advance(20 * time.Second)
	_, err = c.Quote(context.Background(), testRequest())
	assert.ErrorIs(t, err, ErrCoolingDown, "bad requests cool down three times longer")
}

func TestClient_InvalidQuote(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"inAmount":"1000","outAmount":"0"}`))
	}))
	defer srv.Close()

	c := newTestClient(clock.NewFake(time.Unix(0, 0)), srv.URL)
	_, err := c.Quote(context.Background(), testRequest())
	assert.ErrorIs(t, err, ErrInvalidQuote)
	assert.False(t, Transient(err))
}

func TestUnitPrice(t *testing.T) {
	spend := 0.01
	p, err := UnitPrice(10_000_000, 1_000_000_000_000, 6)
	require.NoError(t, err)
	assert.Equal(t, spend/1_000_000, p)

	_, err = UnitPrice(1, 0, 6)
	assert.ErrorIs(t, err, ErrInvalidQuote)
	_, err = UnitPrice(0, 10, 6)
	assert.ErrorIs(t, err, ErrInvalidQuote)
}
