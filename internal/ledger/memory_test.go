package ledger

import (
	"context"
	"errors"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/system"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fredfun/settlement-engine/internal/address"
	"github.com/fredfun/settlement-engine/internal/model"
)

var mint = solana.MustPublicKeyFromBase58("2NF5iDEwnyNZ8rU8EBbwY2c8jcESvWspnLo46Pprmoon")

func transferTx(t *testing.T, m *MemoryLedger, from, to solana.PublicKey) *solana.Transaction {
	t.Helper()
	bh, err := m.LatestBlockhash(context.Background())
	require.NoError(t, err)
	tx, err := solana.NewTransaction(
		[]solana.Instruction{system.NewTransferInstruction(1000, from, to).Build()},
		bh, solana.TransactionPayer(from),
	)
	require.NoError(t, err)
	return tx
}

func TestMemoryLedger_Balances(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryLedger()
	owner := solana.NewWallet().PublicKey()

	m.SetBalance(owner, decimal.RequireFromString("1.5"))
	require.NoError(t, m.SetTokenBalance(owner, mint, decimal.NewFromInt(500)))

	bal, err := m.Balance(ctx, owner)
	require.NoError(t, err)
	assert.True(t, bal.Equal(decimal.RequireFromString("1.5")))

	tok, err := m.TokenBalance(ctx, owner, mint)
	require.NoError(t, err)
	assert.True(t, tok.Equal(decimal.NewFromInt(500)))

	ata, err := address.TokenAccount(owner, mint)
	require.NoError(t, err)
	exists, err := m.AccountExists(ctx, ata)
	require.NoError(t, err)
	assert.True(t, exists)

	other := solana.NewWallet().PublicKey()
	exists, err = m.AccountExists(ctx, other)
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestMemoryLedger_SubmitAndStatus(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryLedger()
	m.Outcome = func(n int, _ *solana.Transaction) model.LedgerStatus {
		if n == 1 {
			return model.LedgerStatus{Found: true, Failure: "insufficient funds"}
		}
		return model.LedgerStatus{Found: true, Confirmed: true}
	}
	from, to := solana.NewWallet().PublicKey(), solana.NewWallet().PublicKey()

	h1, err := m.Submit(ctx, transferTx(t, m, from, to))
	require.NoError(t, err)
	h2, err := m.Submit(ctx, transferTx(t, m, from, to))
	require.NoError(t, err)
	assert.NotEqual(t, h1, h2)

	st, err := m.OperationStatus(ctx, h1)
	require.NoError(t, err)
	assert.True(t, st.Confirmed)

	st, err = m.OperationStatus(ctx, h2)
	require.NoError(t, err)
	assert.Equal(t, "insufficient funds", st.Failure)

	st, err = m.OperationStatus(ctx, "unknown")
	require.NoError(t, err)
	assert.False(t, st.Found)

	assert.Len(t, m.Submitted(), 2)
}

func TestMemoryLedger_SubmitError(t *testing.T) {
	m := NewMemoryLedger()
	m.SubmitErr = func(int) error { return errors.New("blockhash expired") }
	from, to := solana.NewWallet().PublicKey(), solana.NewWallet().PublicKey()

	_, err := m.Submit(context.Background(), transferTx(t, m, from, to))
	assert.ErrorIs(t, err, ErrSubmitRejected)
	assert.Empty(t, m.Submitted())
}

func TestMemoryLedger_RecentOperationsNewestFirst(t *testing.T) {
	m := NewMemoryLedger()
	owner := solana.NewWallet().PublicKey()
	m.AddHistory(owner, Record{Signature: "a"}, Record{Signature: "b"}, Record{Signature: "c"})

	recs, err := m.RecentOperations(context.Background(), owner, 2)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "c", recs[0].Signature)
	assert.Equal(t, "b", recs[1].Signature)
}
