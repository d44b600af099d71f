// Package price fetches USD prices for the base asset and the token from
// public market-data APIs and caches them briefly.
package price

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker"
)

var (
	ErrPriceUnavailable = errors.New("price: unavailable")
	ErrNoMarket         = errors.New("price: no market for asset")
)

const (
	DefaultCoinGeckoURL   = "https://api.coingecko.com/api/v3"
	DefaultDexScreenerURL = "https://api.dexscreener.com/latest/dex"
)

// httpSource is the shared plumbing of the market-data clients: a bounded
// HTTP client behind a circuit breaker.
type httpSource struct {
	baseURL string
	http    *http.Client
	breaker *gobreaker.CircuitBreaker
}

func newHTTPSource(name, baseURL string, timeout time.Duration) httpSource {
	log := slog.With("component", "price", "source", name)
	return httpSource{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        name,
			MaxRequests: 1,
			Interval:    time.Minute,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 3
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				log.Warn("circuit breaker state changed", "from", from.String(), "to", to.String())
			},
		}),
	}
}

func (s httpSource) getJSON(ctx context.Context, path string, query url.Values, out any) error {
	u := s.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	_, err := s.breaker.Execute(func() (interface{}, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", "application/json")

		resp, err := s.http.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			return nil, fmt.Errorf("status %d: %s", resp.StatusCode, body)
		}
		return nil, json.NewDecoder(resp.Body).Decode(out)
	})
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrPriceUnavailable, s.breaker.Name(), err)
	}
	return nil
}

// CoinGecko quotes the base asset.
type CoinGecko struct {
	src    httpSource
	coinID string
}

// NewCoinGecko creates a client for coinID (e.g. "solana").
func NewCoinGecko(baseURL, coinID string) *CoinGecko {
	if baseURL == "" {
		baseURL = DefaultCoinGeckoURL
	}
	return &CoinGecko{src: newHTTPSource("coingecko", baseURL, 10*time.Second), coinID: coinID}
}

// USD returns the current USD price of the coin.
func (c *CoinGecko) USD(ctx context.Context) (decimal.Decimal, error) {
	var body map[string]map[string]decimal.Decimal
	q := url.Values{"ids": {c.coinID}, "vs_currencies": {"usd"}}
	if err := c.src.getJSON(ctx, "/simple/price", q, &body); err != nil {
		return decimal.Zero, err
	}
	p, ok := body[c.coinID]["usd"]
	if !ok || !p.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: %s", ErrNoMarket, c.coinID)
	}
	return p, nil
}

// DexScreener quotes tokens by mint from their most liquid pair.
type DexScreener struct {
	src httpSource
}

func NewDexScreener(baseURL string) *DexScreener {
	if baseURL == "" {
		baseURL = DefaultDexScreenerURL
	}
	return &DexScreener{src: newHTTPSource("dexscreener", baseURL, 10*time.Second)}
}

type dexPair struct {
	PriceUSD  decimal.NullDecimal `json:"priceUsd"`
	Liquidity struct {
		USD decimal.Decimal `json:"usd"`
	} `json:"liquidity"`
}

// USD returns the USD price of mint.
func (d *DexScreener) USD(ctx context.Context, mint string) (decimal.Decimal, error) {
	var body struct {
		Pairs []dexPair `json:"pairs"`
	}
	if err := d.src.getJSON(ctx, "/tokens/"+url.PathEscape(mint), nil, &body); err != nil {
		return decimal.Zero, err
	}

	var best *dexPair
	for i := range body.Pairs {
		p := &body.Pairs[i]
		if !p.PriceUSD.Valid || !p.PriceUSD.Decimal.IsPositive() {
			continue
		}
		if best == nil || p.Liquidity.USD.GreaterThan(best.Liquidity.USD) {
			best = p
		}
	}
	if best == nil {
		return decimal.Zero, fmt.Errorf("%w: %s", ErrNoMarket, mint)
	}
	return best.PriceUSD.Decimal, nil
}
