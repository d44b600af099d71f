package price

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const mint = "2NF5iDEwnyNZ8rU8EBbwY2c8jcESvWspnLo46Pprmoon"

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func coingeckoServer(t *testing.T, hits *int32, body string, status int) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(hits, 1)
		assert.Equal(t, "/simple/price", r.URL.Path)
		assert.Equal(t, "solana", r.URL.Query().Get("ids"))
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
}

func dexServer(t *testing.T, hits *int32, body string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(hits, 1)
		assert.Equal(t, "/tokens/"+mint, r.URL.Path)
		_, _ = w.Write([]byte(body))
	}))
}

func TestCoinGecko_USD(t *testing.T) {
	var hits int32
	srv := coingeckoServer(t, &hits, `{"solana":{"usd":150.25}}`, http.StatusOK)
	defer srv.Close()

	p, err := NewCoinGecko(srv.URL, "solana").USD(context.Background())
	require.NoError(t, err)
	assert.True(t, p.Equal(d("150.25")), "got %s", p)
}

func TestCoinGecko_Errors(t *testing.T) {
	var hits int32
	srv := coingeckoServer(t, &hits, `{"error":"rate limited"}`, http.StatusTooManyRequests)
	defer srv.Close()

	_, err := NewCoinGecko(srv.URL, "solana").USD(context.Background())
	assert.ErrorIs(t, err, ErrPriceUnavailable)

	empty := coingeckoServer(t, &hits, `{}`, http.StatusOK)
	defer empty.Close()
	_, err = NewCoinGecko(empty.URL, "solana").USD(context.Background())
	assert.ErrorIs(t, err, ErrNoMarket)
}

func TestCoinGecko_BreakerOpens(t *testing.T) {
	var hits int32
	srv := coingeckoServer(t, &hits, `oops`, http.StatusInternalServerError)
	defer srv.Close()

	c := NewCoinGecko(srv.URL, "solana")
	for i := 0; i < 5; i++ {
		_, err := c.USD(context.Background())
		assert.ErrorIs(t, err, ErrPriceUnavailable)
	}
	assert.EqualValues(t, 3, atomic.LoadInt32(&hits), "breaker should stop calls after three failures")
}

func TestDexScreener_PicksMostLiquidPair(t *testing.T) {
	var hits int32
	srv := dexServer(t, &hits, `{"pairs":[
		{"priceUsd":"0.000019","liquidity":{"usd":1000}},
		{"priceUsd":"0.000021","liquidity":{"usd":250000}},
		{"priceUsd":null,"liquidity":{"usd":900000}}
	]}`)
	defer srv.Close()

	p, err := NewDexScreener(srv.URL).USD(context.Background(), mint)
	require.NoError(t, err)
	assert.True(t, p.Equal(d("0.000021")), "got %s", p)
}

func TestDexScreener_NoPairs(t *testing.T) {
	var hits int32
	srv := dexServer(t, &hits, `{"pairs":null}`)
	defer srv.Close()

	_, err := NewDexScreener(srv.URL).USD(context.Background(), mint)
	assert.ErrorIs(t, err, ErrNoMarket)
}

func TestService_SnapshotUsesCache(t *testing.T) {
	var cgHits, dexHits int32
	cg := coingeckoServer(t, &cgHits, `{"solana":{"usd":150}}`, http.StatusOK)
	defer cg.Close()
	dex := dexServer(t, &dexHits, `{"pairs":[{"priceUsd":"0.00002","liquidity":{"usd":10}}]}`)
	defer dex.Close()

	svc := NewService(NewCoinGecko(cg.URL, "solana"), NewDexScreener(dex.URL), NewMemoryCache(time.Minute), mint)

	for i := 0; i < 3; i++ {
		p, err := svc.Snapshot(context.Background())
		require.NoError(t, err)
		assert.True(t, p.BaseUSD.Equal(d("150")))
		assert.True(t, p.TokenUSD.Equal(d("0.00002")))
	}
	assert.EqualValues(t, 1, atomic.LoadInt32(&cgHits))
	assert.EqualValues(t, 1, atomic.LoadInt32(&dexHits))

	require.NoError(t, svc.Refresh(context.Background()))
	assert.EqualValues(t, 2, atomic.LoadInt32(&cgHits))
}

func TestService_SnapshotPartial(t *testing.T) {
	var cgHits, dexHits int32
	cg := coingeckoServer(t, &cgHits, `{"solana":{"usd":150}}`, http.StatusOK)
	defer cg.Close()
	dex := dexServer(t, &dexHits, `{"pairs":[]}`)
	defer dex.Close()

	svc := NewService(NewCoinGecko(cg.URL, "solana"), NewDexScreener(dex.URL), NewMemoryCache(time.Minute), mint)
	p, err := svc.Snapshot(context.Background())
	assert.ErrorIs(t, err, ErrNoMarket)
	assert.True(t, p.BaseUSD.Equal(d("150")))
	assert.True(t, p.TokenUSD.IsZero())
}

func TestMemoryCache_Expiry(t *testing.T) {
	c := NewMemoryCache(time.Minute)
	now := time.Now()
	c.now = func() time.Time { return now }

	c.Set(context.Background(), "k", d("1"))
	v, ok := c.Get(context.Background(), "k")
	require.True(t, ok)
	assert.True(t, v.Equal(d("1")))

	now = now.Add(time.Minute)
	_, ok = c.Get(context.Background(), "k")
	assert.False(t, ok)
}

func TestRefresher_Schedule(t *testing.T) {
	var cgHits, dexHits int32
	cg := coingeckoServer(t, &cgHits, `{"solana":{"usd":150}}`, http.StatusOK)
	defer cg.Close()
	dex := dexServer(t, &dexHits, `{"pairs":[{"priceUsd":"0.00002","liquidity":{"usd":10}}]}`)
	defer dex.Close()

	svc := NewService(NewCoinGecko(cg.URL, "solana"), NewDexScreener(dex.URL), NewMemoryCache(time.Minute), mint)
	r := NewRefresher(svc, "@every 1s")
	require.NoError(t, r.Start(context.Background()))
	time.Sleep(1500 * time.Millisecond)
	r.Stop()

	assert.GreaterOrEqual(t, atomic.LoadInt32(&cgHits), int32(1))

	bad := NewRefresher(svc, "not a schedule")
	assert.Error(t, bad.Start(context.Background()))
}
