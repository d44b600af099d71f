package ledger

import (
	"context"
	"crypto/sha256"
	"fmt"
	"sync"

	"github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"

	"github.com/fredfun/settlement-engine/internal/address"
	"github.com/fredfun/settlement-engine/internal/model"
)

// MemoryLedger is an in-process ledger for development and tests. Submitted
// transactions are recorded and resolved by Outcome; balances only change
// through the setters.
type MemoryLedger struct {
	mu        sync.RWMutex
	base      map[solana.PublicKey]decimal.Decimal
	tokens    map[solana.PublicKey]decimal.Decimal // keyed by token account
	accounts  map[solana.PublicKey]bool
	statuses  map[string]model.LedgerStatus
	submitted []*solana.Transaction
	history   map[solana.PublicKey][]Record
	blockhash solana.Hash

	// Outcome decides the status of the n-th submitted transaction (0-based).
	// Nil confirms every transaction.
	Outcome func(n int, tx *solana.Transaction) model.LedgerStatus

	// SubmitErr, when set, is returned by Submit for the n-th transaction.
	SubmitErr func(n int) error
}

// NewMemoryLedger creates an empty ledger.
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{
		base:      make(map[solana.PublicKey]decimal.Decimal),
		tokens:    make(map[solana.PublicKey]decimal.Decimal),
		accounts:  make(map[solana.PublicKey]bool),
		statuses:  make(map[string]model.LedgerStatus),
		history:   make(map[solana.PublicKey][]Record),
		blockhash: solana.HashFromBytes(sha256Sum("genesis")),
	}
}

func sha256Sum(s string) []byte {
	sum := sha256.Sum256([]byte(s))
	return sum[:]
}

// SetBalance sets owner's native balance.
func (m *MemoryLedger) SetBalance(owner solana.PublicKey, amount decimal.Decimal) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.base[owner] = amount
	m.accounts[owner] = true
}

// SetTokenBalance sets owner's balance of mint and creates its token account.
func (m *MemoryLedger) SetTokenBalance(owner, mint solana.PublicKey, amount decimal.Decimal) error {
	ata, err := address.TokenAccount(owner, mint)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tokens[ata] = amount
	m.accounts[ata] = true
	return nil
}

// AddHistory appends records returned by RecentOperations for owner.
func (m *MemoryLedger) AddHistory(owner solana.PublicKey, recs ...Record) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.history[owner] = append(m.history[owner], recs...)
}

// Submitted returns the transactions submitted so far, in order.
func (m *MemoryLedger) Submitted() []*solana.Transaction {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*solana.Transaction, len(m.submitted))
	copy(out, m.submitted)
	return out
}

func (m *MemoryLedger) Balance(_ context.Context, owner solana.PublicKey) (decimal.Decimal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.base[owner], nil
}

func (m *MemoryLedger) TokenBalance(_ context.Context, owner, mint solana.PublicKey) (decimal.Decimal, error) {
	ata, err := address.TokenAccount(owner, mint)
	if err != nil {
		return decimal.Zero, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.tokens[ata], nil
}

func (m *MemoryLedger) AccountExists(_ context.Context, account solana.PublicKey) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.accounts[account], nil
}

func (m *MemoryLedger) LatestBlockhash(_ context.Context) (solana.Hash, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.blockhash, nil
}

// Submit records tx. The handle is the first signature when tx is signed,
// otherwise a digest of the submission index.
func (m *MemoryLedger) Submit(_ context.Context, tx *solana.Transaction) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := len(m.submitted)
	if m.SubmitErr != nil {
		if err := m.SubmitErr(n); err != nil {
			return "", fmt.Errorf("%w: %v", ErrSubmitRejected, err)
		}
	}
	m.submitted = append(m.submitted, tx)

	var handle string
	if len(tx.Signatures) > 0 && !tx.Signatures[0].IsZero() {
		handle = tx.Signatures[0].String()
	} else {
		handle = solana.SignatureFromBytes(append(sha256Sum(fmt.Sprint("tx", n)), sha256Sum(fmt.Sprint("sig", n))...)).String()
	}

	status := model.LedgerStatus{Found: true, Confirmed: true}
	if m.Outcome != nil {
		status = m.Outcome(n, tx)
	}
	m.statuses[handle] = status
	m.blockhash = solana.HashFromBytes(sha256Sum(handle))
	return handle, nil
}

func (m *MemoryLedger) OperationStatus(_ context.Context, handle string) (model.LedgerStatus, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.statuses[handle], nil
}

// SetStatus overrides the status reported for handle.
func (m *MemoryLedger) SetStatus(handle string, st model.LedgerStatus) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.statuses[handle] = st
}

func (m *MemoryLedger) RecentOperations(_ context.Context, owner solana.PublicKey, limit int) ([]Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	recs := m.history[owner]
	// Newest first, like the RPC endpoint.
	out := make([]Record, 0, len(recs))
	for i := len(recs) - 1; i >= 0 && (limit <= 0 || len(out) < limit); i-- {
		out = append(out, recs[i])
	}
	return out, nil
}

// Ensure both implementations satisfy the interface.
var (
	_ Ledger = (*RPCLedger)(nil)
	_ Ledger = (*MemoryLedger)(nil)
)
