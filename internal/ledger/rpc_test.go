package ledger

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/fredfun/settlement-engine/internal/retry"
)

// rpcServer answers JSON-RPC calls by method name. A handler returning nil
// produces an HTTP 500.
func rpcServer(t *testing.T, handlers map[string]func() any) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ID     any    `json:"id"`
			Method string `json:"method"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
			return
		}
		h, ok := handlers[req.Method]
		if !ok {
			t.Errorf("unexpected method %s", req.Method)
			http.Error(w, "unknown method", http.StatusNotFound)
			return
		}
		result := h()
		if result == nil {
			http.Error(w, "boom", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"jsonrpc": "2.0", "id": req.ID, "result": result})
	}))
}

func fastRetry() retry.Policy {
	return retry.Policy{Attempts: 3, Step: time.Millisecond}
}

func TestRPCLedger_Balance(t *testing.T) {
	srv := rpcServer(t, map[string]func() any{
		"getBalance": func() any {
			return map[string]any{"context": map[string]any{"slot": 1}, "value": 1_500_000_000}
		},
	})
	defer srv.Close()

	l := NewRPCLedger(srv.URL, fastRetry())
	bal, err := l.Balance(context.Background(), solana.NewWallet().PublicKey())
	require.NoError(t, err)
	assert.True(t, bal.Equal(decimal.RequireFromString("1.5")), "got %s", bal)
}

func TestRPCLedger_BalanceRetries(t *testing.T) {
	var calls int32
	srv := rpcServer(t, map[string]func() any{
		"getBalance": func() any {
			if atomic.AddInt32(&calls, 1) < 3 {
				return nil
			}
			return map[string]any{"context": map[string]any{"slot": 1}, "value": 42}
		},
	})
	defer srv.Close()

	l := NewRPCLedger(srv.URL, fastRetry())
	bal, err := l.Balance(context.Background(), solana.NewWallet().PublicKey())
	require.NoError(t, err)
	assert.Equal(t, "0.000000042", bal.String())
	assert.EqualValues(t, 3, atomic.LoadInt32(&calls))
}

func TestRPCLedger_AccountMissing(t *testing.T) {
	srv := rpcServer(t, map[string]func() any{
		"getAccountInfo": func() any {
			return map[string]any{"context": map[string]any{"slot": 1}, "value": nil}
		},
	})
	defer srv.Close()

	l := NewRPCLedger(srv.URL, fastRetry())
	exists, err := l.AccountExists(context.Background(), solana.NewWallet().PublicKey())
	require.NoError(t, err)
	assert.False(t, exists)

	bal, err := l.TokenBalance(context.Background(), solana.NewWallet().PublicKey(), mint)
	require.NoError(t, err)
	assert.True(t, bal.IsZero())
}

func TestRPCLedger_OperationStatus(t *testing.T) {
	tests := []struct {
		name  string
		value any
		want  func(t *testing.T, confirmed bool, failure string, found bool)
	}{
		{
			name:  "finalized",
			value: []any{map[string]any{"slot": 5, "confirmations": nil, "err": nil, "confirmationStatus": "finalized"}},
			want: func(t *testing.T, confirmed bool, failure string, found bool) {
				assert.True(t, found)
				assert.True(t, confirmed)
				assert.Empty(t, failure)
			},
		},
		{
			name:  "processed only",
			value: []any{map[string]any{"slot": 5, "confirmations": 0, "err": nil, "confirmationStatus": "processed"}},
			want: func(t *testing.T, confirmed bool, failure string, found bool) {
				assert.True(t, found)
				assert.False(t, confirmed)
			},
		},
		{
			name:  "rejected",
			value: []any{map[string]any{"slot": 5, "confirmations": nil, "err": map[string]any{"InstructionError": []any{0, "Custom"}}, "confirmationStatus": "confirmed"}},
			want: func(t *testing.T, confirmed bool, failure string, found bool) {
				assert.False(t, confirmed)
				assert.NotEmpty(t, failure)
			},
		},
		{
			name:  "unknown",
			value: []any{nil},
			want: func(t *testing.T, confirmed bool, failure string, found bool) {
				assert.False(t, found)
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := rpcServer(t, map[string]func() any{
				"getSignatureStatuses": func() any {
					return map[string]any{"context": map[string]any{"slot": 5}, "value": tt.value}
				},
			})
			defer srv.Close()

			l := NewRPCLedger(srv.URL, fastRetry())
			sig := solana.SignatureFromBytes(make([]byte, 64)).String()
			st, err := l.OperationStatus(context.Background(), sig)
			require.NoError(t, err)
			tt.want(t, st.Confirmed, st.Failure, st.Found)
		})
	}
}

func TestRPCLedger_OperationStatusBadHandle(t *testing.T) {
	l := NewRPCLedger("http://127.0.0.1:1", fastRetry())
	_, err := l.OperationStatus(context.Background(), "not-a-signature")
	assert.Error(t, err)
}

func TestRPCLedger_RecentOperationsPacesDetails(t *testing.T) {
	var details int32
	srv := rpcServer(t, map[string]func() any{
		"getSignaturesForAddress": func() any {
			out := make([]map[string]any, 3)
			for i := range out {
				b := make([]byte, 64)
				b[0] = byte(i + 1)
				out[i] = map[string]any{"signature": solana.SignatureFromBytes(b).String(), "slot": 10 + i, "err": nil}
			}
			return out
		},
		"getTransaction": func() any {
			atomic.AddInt32(&details, 1)
			return map[string]any{"slot": 10}
		},
	})
	defer srv.Close()

	l := NewRPCLedger(srv.URL, fastRetry())
	l.HistoryLimiter = rate.NewLimiter(rate.Every(30*time.Millisecond), 1)

	start := time.Now()
	recs, err := l.RecentOperations(context.Background(), solana.NewWallet().PublicKey(), 3)
	require.NoError(t, err)
	require.Len(t, recs, 3)
	assert.EqualValues(t, 3, atomic.LoadInt32(&details))
	for _, r := range recs {
		assert.False(t, r.Failed, r.Signature)
	}
	// First request passes on the burst, the other two wait 30ms each.
	assert.GreaterOrEqual(t, time.Since(start), 55*time.Millisecond)
}

func TestRPCLedger_RecentOperationsStopsOnCancel(t *testing.T) {
	srv := rpcServer(t, map[string]func() any{
		"getSignaturesForAddress": func() any {
			out := make([]map[string]any, 2)
			for i := range out {
				b := make([]byte, 64)
				b[0] = byte(i + 1)
				out[i] = map[string]any{"signature": solana.SignatureFromBytes(b).String(), "slot": 10 + i, "err": nil}
			}
			return out
		},
		"getTransaction": func() any { return map[string]any{"slot": 10} },
	})
	defer srv.Close()

	l := NewRPCLedger(srv.URL, fastRetry())
	l.HistoryLimiter = rate.NewLimiter(rate.Every(time.Hour), 1)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	recs, err := l.RecentOperations(ctx, solana.NewWallet().PublicKey(), 2)
	assert.Error(t, err)
	assert.Len(t, recs, 1)
}
