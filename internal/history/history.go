// Package history lists an account's recent transactions and flags the
// ones that look like dust or spam.
package history

import (
	"context"
	"fmt"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"

	"github.com/fredfun/settlement-engine/internal/ledger"
	"github.com/fredfun/settlement-engine/internal/model"
)

// DefaultDustThreshold is 0.001 SOL.
var DefaultDustThreshold = decimal.RequireFromString("0.001")

const tokenWarning = "Unknown token transaction. Be cautious with unfamiliar tokens."

// Classifier holds the dust and spam heuristics.
type Classifier struct {
	// DustThreshold: incoming native transfers strictly between zero and
	// this amount are flagged as dust.
	DustThreshold decimal.Decimal
	// FlagTokenActivity marks every token transaction as suspicious.
	FlagTokenActivity bool
}

// DefaultClassifier returns the stock heuristics.
func DefaultClassifier() Classifier {
	return Classifier{DustThreshold: DefaultDustThreshold, FlagTokenActivity: true}
}

// Classify fills tx.Security. Token activity takes precedence over dust
// for the warning text.
func (c Classifier) Classify(tx *model.Transaction) {
	var sec model.Security

	if tx.Amount != nil && tx.Amount.IsPositive() && tx.Amount.LessThan(c.DustThreshold) {
		sec.IsDust = true
		sec.Warning = fmt.Sprintf("Incoming dust transaction detected (%s SOL). This might be spam - do not interact with any links.",
			tx.Amount.StringFixed(model.BaseDecimals))
	}
	if c.FlagTokenActivity && tx.Type == model.TxToken {
		sec.IsSuspicious = true
		sec.Warning = tokenWarning
	}
	tx.Security = sec
}

// Service reads and classifies recent history.
type Service struct {
	ledger     ledger.Ledger
	classifier Classifier
}

func NewService(l ledger.Ledger, c Classifier) *Service {
	return &Service{ledger: l, classifier: c}
}

// Recent returns up to limit classified transactions for owner, newest
// first.
func (s *Service) Recent(ctx context.Context, owner solana.PublicKey, limit int) ([]model.Transaction, error) {
	recs, err := s.ledger.RecentOperations(ctx, owner, limit)
	if err != nil {
		return nil, err
	}
	out := make([]model.Transaction, 0, len(recs))
	for _, r := range recs {
		tx := FromRecord(r)
		s.classifier.Classify(&tx)
		out = append(out, tx)
	}
	return out, nil
}

// FromRecord converts a raw ledger record. Records without a block time are
// stamped with the current time.
func FromRecord(r ledger.Record) model.Transaction {
	tx := model.Transaction{
		Signature: r.Signature,
		Timestamp: r.BlockTime,
		Status:    model.StatusConfirmed,
		Type:      model.TxUnknown,
		Fee:       model.FromSmallestUnit(r.Fee, model.BaseDecimals),
	}
	if tx.Timestamp.IsZero() {
		tx.Timestamp = time.Now()
	}
	if r.Failed {
		tx.Status = model.StatusFailed
	}
	if r.Delta != nil {
		amt := decimal.NewFromInt(*r.Delta).Shift(-model.BaseDecimals)
		tx.Amount = &amt
	}

	switch {
	case r.TokenActivity:
		tx.Type = model.TxToken
	case tx.Amount != nil:
		tx.Type = model.TxTransfer
	}
	return tx
}
