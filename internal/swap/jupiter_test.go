package swap

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/system"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var tokenMint = solana.MustPublicKeyFromBase58("2NF5iDEwnyNZ8rU8EBbwY2c8jcESvWspnLo46Pprmoon")

const quoteJSON = `{
	"inputMint":"So11111111111111111111111111111111111111112",
	"inAmount":"1000000000",
	"outputMint":"2NF5iDEwnyNZ8rU8EBbwY2c8jcESvWspnLo46Pprmoon",
	"outAmount":"7500000000000000",
	"otherAmountThreshold":"7462500000000000",
	"swapMode":"ExactIn",
	"slippageBps":50,
	"platformFee":{"amount":"75000000000000","feeBps":100},
	"priceImpactPct":"0.0012",
	"routePlan":[{"swapInfo":{"label":"Raydium"},"percent":100}]
}`

func TestJupiter_Quote(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/quote", r.URL.Path)
		q := r.URL.Query()
		assert.Equal(t, WrappedSOL.String(), q.Get("inputMint"))
		assert.Equal(t, tokenMint.String(), q.Get("outputMint"))
		assert.Equal(t, "1000000000", q.Get("amount"))
		assert.Equal(t, "50", q.Get("slippageBps"))
		assert.Equal(t, "100", q.Get("platformFeeBps"))
		_, _ = w.Write([]byte(quoteJSON))
	}))
	defer srv.Close()

	j := NewJupiter(srv.URL)
	q, err := j.Quote(context.Background(), QuoteRequest{
		InputMint: WrappedSOL, OutputMint: tokenMint, Amount: 1_000_000_000, SlippageBps: 50, PlatformFeeBps: 100,
	})
	require.NoError(t, err)
	assert.EqualValues(t, 1_000_000_000, q.InAmount)
	assert.EqualValues(t, 7_500_000_000_000_000, q.OutAmount)
	assert.EqualValues(t, 7_462_500_000_000_000, q.MinOutAmount)
	assert.Equal(t, "Raydium", q.Route)
	assert.Equal(t, "0.0012", q.PriceImpactPct.String())
	assert.JSONEq(t, quoteJSON, string(q.Raw))
}

func TestJupiter_QuoteNoRoute(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"inAmount":"1","outAmount":"0"}`))
	}))
	defer srv.Close()

	_, err := NewJupiter(srv.URL).Quote(context.Background(), QuoteRequest{InputMint: WrappedSOL, OutputMint: tokenMint, Amount: 1})
	assert.ErrorIs(t, err, ErrNoRoute)
}

func TestJupiter_QuoteUpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"COULD_NOT_FIND_ANY_ROUTE"}`, http.StatusBadRequest)
	}))
	defer srv.Close()

	_, err := NewJupiter(srv.URL).Quote(context.Background(), QuoteRequest{InputMint: WrappedSOL, OutputMint: tokenMint, Amount: 1})
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestJupiter_QuoteZeroAmount(t *testing.T) {
	_, err := NewJupiter("http://127.0.0.1:1").Quote(context.Background(), QuoteRequest{})
	assert.ErrorIs(t, err, ErrBadQuote)
}

func TestJupiter_BuildSwapTransaction(t *testing.T) {
	user := solana.NewWallet().PublicKey()
	feeAccount := solana.NewWallet().PublicKey()

	tx, err := solana.NewTransaction(
		[]solana.Instruction{system.NewTransferInstruction(1, user, feeAccount).Build()},
		solana.Hash{7}, solana.TransactionPayer(user),
	)
	require.NoError(t, err)
	wire, err := tx.MarshalBinary()
	require.NoError(t, err)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/swap", r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, user.String(), body["userPublicKey"])
		assert.Equal(t, feeAccount.String(), body["feeAccount"])
		assert.Equal(t, true, body["wrapAndUnwrapSol"])
		assert.NotNil(t, body["quoteResponse"])

		_ = json.NewEncoder(w).Encode(map[string]any{
			"swapTransaction":      base64.StdEncoding.EncodeToString(wire),
			"lastValidBlockHeight": 100,
		})
	}))
	defer srv.Close()

	q, err := parseQuote([]byte(quoteJSON))
	require.NoError(t, err)

	got, err := NewJupiter(srv.URL).BuildSwapTransaction(context.Background(), q, user, &feeAccount)
	require.NoError(t, err)
	assert.True(t, got.Message.AccountKeys[0].Equals(user))
	assert.Equal(t, solana.Hash{7}, got.Message.RecentBlockhash)
}

func TestDecodeTransaction_Invalid(t *testing.T) {
	_, err := DecodeTransaction("%%%")
	assert.ErrorIs(t, err, ErrBadQuote)

	_, err = DecodeTransaction("")
	assert.ErrorIs(t, err, ErrBadQuote)
}
