// Package ledger is the engine's view of the chain: balances, account
// existence, transaction submission and status, and recent history.
//
// A Ledger is always injected; nothing in the engine opens its own
// connection.
package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"

	"github.com/fredfun/settlement-engine/internal/model"
)

var (
	ErrSubmitRejected = errors.New("ledger: transaction rejected")
	ErrUnavailable    = errors.New("ledger: unavailable")
)

// Ledger is the set of chain reads and writes the engine depends on.
type Ledger interface {
	Balance(ctx context.Context, owner solana.PublicKey) (decimal.Decimal, error)
	TokenBalance(ctx context.Context, owner, mint solana.PublicKey) (decimal.Decimal, error)
	AccountExists(ctx context.Context, account solana.PublicKey) (bool, error)
	LatestBlockhash(ctx context.Context) (solana.Hash, error)
	Submit(ctx context.Context, tx *solana.Transaction) (string, error)
	OperationStatus(ctx context.Context, handle string) (model.LedgerStatus, error)
	RecentOperations(ctx context.Context, owner solana.PublicKey, limit int) ([]Record, error)
}

// Record is the raw view of one historical transaction touching an owner.
type Record struct {
	Signature string
	BlockTime time.Time // zero when the ledger did not report one
	Failed    bool
	Fee       uint64 // lamports

	// Delta is the owner's native balance change in lamports. Nil when the
	// transaction details were unavailable or the owner is not among its
	// static account keys.
	Delta *int64

	TokenActivity bool // token balances were touched
}
