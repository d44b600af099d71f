// Package swap obtains swap routes and ready-to-sign swap transactions from
// the Jupiter aggregator.
package swap

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker"
)

var (
	ErrNoRoute     = errors.New("swap: no route found")
	ErrUnavailable = errors.New("swap: aggregator unavailable")
	ErrBadQuote    = errors.New("swap: malformed quote")
)

const DefaultJupiterURL = "https://quote-api.jup.ag/v6"

// WrappedSOL is the mint the aggregator uses for the native coin.
var WrappedSOL = solana.MustPublicKeyFromBase58("So11111111111111111111111111111111111111112")

// QuoteRequest describes the swap to price.
type QuoteRequest struct {
	InputMint      solana.PublicKey
	OutputMint     solana.PublicKey
	Amount         uint64 // smallest units of the input mint
	SlippageBps    int
	PlatformFeeBps int64
}

// Quote is the aggregator's best route. Raw is sent back verbatim when the
// swap transaction is built.
type Quote struct {
	InputMint      string          `json:"inputMint"`
	OutputMint     string          `json:"outputMint"`
	InAmount       uint64          `json:"-"`
	OutAmount      uint64          `json:"-"`
	MinOutAmount   uint64          `json:"-"`
	PriceImpactPct decimal.Decimal `json:"-"`
	SlippageBps    int             `json:"slippageBps"`
	Route          string          `json:"-"`
	Raw            json.RawMessage `json:"-"`
}

type quoteWire struct {
	InputMint            string `json:"inputMint"`
	OutputMint           string `json:"outputMint"`
	InAmount             string `json:"inAmount"`
	OutAmount            string `json:"outAmount"`
	OtherAmountThreshold string `json:"otherAmountThreshold"`
	PriceImpactPct       string `json:"priceImpactPct"`
	SlippageBps          int    `json:"slippageBps"`
	RoutePlan            []struct {
		SwapInfo struct {
			Label string `json:"label"`
		} `json:"swapInfo"`
	} `json:"routePlan"`
}

// Jupiter is an HTTP client for the aggregator API.
type Jupiter struct {
	baseURL string
	http    *http.Client
	breaker *gobreaker.CircuitBreaker
}

// NewJupiter creates a client for baseURL (DefaultJupiterURL when empty).
func NewJupiter(baseURL string) *Jupiter {
	if baseURL == "" {
		baseURL = DefaultJupiterURL
	}
	log := slog.With("component", "swap")
	return &Jupiter{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 15 * time.Second},
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "jupiter",
			MaxRequests: 1,
			Interval:    time.Minute,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				log.Warn("circuit breaker state changed", "name", name, "from", from.String(), "to", to.String())
			},
		}),
	}
}

// Quote fetches the best route for req.
func (j *Jupiter) Quote(ctx context.Context, req QuoteRequest) (*Quote, error) {
	if req.Amount == 0 {
		return nil, fmt.Errorf("%w: zero amount", ErrBadQuote)
	}
	q := url.Values{
		"inputMint":   {req.InputMint.String()},
		"outputMint":  {req.OutputMint.String()},
		"amount":      {strconv.FormatUint(req.Amount, 10)},
		"slippageBps": {strconv.Itoa(req.SlippageBps)},
	}
	if req.PlatformFeeBps > 0 {
		q.Set("platformFeeBps", strconv.FormatInt(req.PlatformFeeBps, 10))
	}

	raw, err := j.do(ctx, http.MethodGet, "/quote?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	return parseQuote(raw)
}

func parseQuote(raw []byte) (*Quote, error) {
	var w quoteWire
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadQuote, err)
	}
	if w.OutAmount == "" || w.OutAmount == "0" {
		return nil, ErrNoRoute
	}

	out := &Quote{
		InputMint:   w.InputMint,
		OutputMint:  w.OutputMint,
		SlippageBps: w.SlippageBps,
		Route:       "Jupiter",
		Raw:         json.RawMessage(raw),
	}
	var err error
	if out.InAmount, err = strconv.ParseUint(w.InAmount, 10, 64); err != nil {
		return nil, fmt.Errorf("%w: inAmount %q", ErrBadQuote, w.InAmount)
	}
	if out.OutAmount, err = strconv.ParseUint(w.OutAmount, 10, 64); err != nil {
		return nil, fmt.Errorf("%w: outAmount %q", ErrBadQuote, w.OutAmount)
	}
	if w.OtherAmountThreshold != "" {
		if out.MinOutAmount, err = strconv.ParseUint(w.OtherAmountThreshold, 10, 64); err != nil {
			return nil, fmt.Errorf("%w: otherAmountThreshold %q", ErrBadQuote, w.OtherAmountThreshold)
		}
	}
	if w.PriceImpactPct != "" {
		if out.PriceImpactPct, err = decimal.NewFromString(w.PriceImpactPct); err != nil {
			return nil, fmt.Errorf("%w: priceImpactPct %q", ErrBadQuote, w.PriceImpactPct)
		}
	}
	if len(w.RoutePlan) > 0 && w.RoutePlan[0].SwapInfo.Label != "" {
		out.Route = w.RoutePlan[0].SwapInfo.Label
	}
	return out, nil
}

// BuildSwapTransaction asks the aggregator for the transaction executing
// quote on behalf of user. When feeAccount is set the platform fee of the
// quote is routed to it.
func (j *Jupiter) BuildSwapTransaction(ctx context.Context, quote *Quote, user solana.PublicKey, feeAccount *solana.PublicKey) (*solana.Transaction, error) {
	body := map[string]any{
		"quoteResponse":           quote.Raw,
		"userPublicKey":           user.String(),
		"wrapAndUnwrapSol":        true,
		"dynamicComputeUnitLimit": true,
		"prioritizationFeeLamports": map[string]any{
			"priorityLevelWithMaxLamports": map[string]any{
				"maxLamports":   10_000_000,
				"priorityLevel": "high",
			},
		},
		"dynamicSlippage": map[string]any{"maxBps": 1000},
	}
	if feeAccount != nil {
		body["feeAccount"] = feeAccount.String()
	}

	buf, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	raw, err := j.do(ctx, http.MethodPost, "/swap", buf)
	if err != nil {
		return nil, err
	}

	var resp struct {
		SwapTransaction string `json:"swapTransaction"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("%w: decode swap response: %v", ErrBadQuote, err)
	}
	return DecodeTransaction(resp.SwapTransaction)
}

// DecodeTransaction parses a base64 wire transaction.
func DecodeTransaction(b64 string) (*solana.Transaction, error) {
	data, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return nil, fmt.Errorf("%w: swap transaction encoding: %v", ErrBadQuote, err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty swap transaction", ErrBadQuote)
	}
	tx, err := solana.TransactionFromDecoder(bin.NewBinDecoder(data))
	if err != nil {
		return nil, fmt.Errorf("%w: swap transaction: %v", ErrBadQuote, err)
	}
	return tx, nil
}

func (j *Jupiter) do(ctx context.Context, method, path string, body []byte) ([]byte, error) {
	out, err := j.breaker.Execute(func() (interface{}, error) {
		var rdr io.Reader
		if body != nil {
			rdr = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, j.baseURL+path, rdr)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", "application/json")
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := j.http.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		data, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
		if err != nil {
			return nil, err
		}
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("status %d: %s", resp.StatusCode, truncate(data, 256))
		}
		return data, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return out.([]byte), nil
}

func truncate(b []byte, n int) string {
	if len(b) > n {
		return string(b[:n]) + "..."
	}
	return string(b)
}
