package execution

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"alpha-mirror/internal/domain"
	"alpha-mirror/internal/quote"
)

type stubQuotes struct {
	out uint64
	err error
}

func (s *stubQuotes) BuyQuote(_ context.Context, mint string, lamports uint64) (*quote.Quote, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &quote.Quote{InputMint: "sol", OutputMint: mint, InAmount: lamports, OutAmount: s.out}, nil
}

func (s *stubQuotes) SellQuote(_ context.Context, mint string, raw uint64) (*quote.Quote, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &quote.Quote{InputMint: mint, OutputMint: "sol", InAmount: raw, OutAmount: s.out}, nil
}

func TestPaper_FillsAtQuote(t *testing.T) {
	p := NewPaper(&stubQuotes{out: 42_000}, nil)
	assert.Equal(t, domain.ModePaper, p.Mode())

	f, err := p.Buy(context.Background(), "mint", 50_000_000)
	require.NoError(t, err)
	assert.Equal(t, uint64(50_000_000), f.InAmount)
	assert.Equal(t, uint64(42_000), f.OutAmount)
	assert.True(t, strings.HasPrefix(f.Signature, "paper-"))

	f2, err := p.Sell(context.Background(), "mint", 42_000)
	require.NoError(t, err)
	assert.NotEqual(t, f.Signature, f2.Signature)
}

func TestPaper_Errors(t *testing.T) {
	_, err := NewPaper(&stubQuotes{out: 1}, nil).Buy(context.Background(), "mint", 0)
	assert.ErrorIs(t, err, ErrZeroAmount)

	_, err = NewPaper(&stubQuotes{err: quote.ErrNoRoute}, nil).Sell(context.Background(), "mint", 1)
	assert.ErrorIs(t, err, quote.ErrNoRoute)

	_, err = NewPaper(&stubQuotes{out: 0}, nil).Sell(context.Background(), "mint", 1)
	assert.ErrorIs(t, err, ErrEmptyFill)
}

func TestRemote_Swap(t *testing.T) {
	var got swapRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/swap", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"signature":"5sig","inAmount":"1000","outAmount":"990"}`))
	}))
	defer srv.Close()

	r := NewRemote(srv.URL+"/", 250, time.Second, nil)
	assert.Equal(t, domain.ModeLive, r.Mode())

	f, err := r.Sell(context.Background(), "mint", 1000)
	require.NoError(t, err)
	assert.Equal(t, SideSell, got.Side)
	assert.Equal(t, "1000", got.Amount)
	assert.Equal(t, 250, got.SlippageBps)
	assert.Equal(t, &Fill{Signature: "5sig", InAmount: 1000, OutAmount: 990}, f)
}

func TestRemote_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte(`{"error":"blockhash expired"}`))
	}))
	defer srv.Close()

	_, err := NewRemote(srv.URL, 100, time.Second, nil).Buy(context.Background(), "mint", 10)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "blockhash expired")
}

func TestRemote_ZeroOutput(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"signature":"s","inAmount":"10","outAmount":"0"}`))
	}))
	defer srv.Close()

	_, err := NewRemote(srv.URL, 100, time.Second, nil).Buy(context.Background(), "mint", 10)
	assert.True(t, errors.Is(err, ErrEmptyFill))
}
