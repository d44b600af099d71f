// Package funds checks that a settlement plan never moves more out of the
// sender than the sender holds.
//
// Balances are read, not locked: the check runs against a snapshot taken
// just before the plan is built. A concurrent spend between the snapshot
// and submission is caught by the ledger itself and surfaces as a failed
// settlement.
package funds

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/fredfun/settlement-engine/internal/model"
)

// ErrInsufficientFunds is returned when the sum of a plan's debits for one
// asset exceeds the sender's available balance of that asset.
var ErrInsufficientFunds = errors.New("funds: insufficient balance")

// Shortfall describes which asset is short and by how much.
type Shortfall struct {
	Asset     model.AssetKind
	Required  decimal.Decimal
	Available decimal.Decimal
}

func (s Shortfall) Error() string {
	return fmt.Sprintf("%s: %s required, %s available",
		ErrInsufficientFunds.Error(), s.Required, s.Available)
}

func (s Shortfall) Unwrap() error { return ErrInsufficientFunds }

// Checker enforces per-asset debit limits.
type Checker struct {
	// Reserve is kept untouched in the base asset on top of the plan's own
	// debits, e.g. to cover the network fee of the transactions. Zero means
	// the plan may spend the entire balance.
	Reserve decimal.Decimal
}

// NewChecker creates a checker with the given base-asset reserve.
func NewChecker(reserve decimal.Decimal) *Checker {
	if reserve.IsNegative() {
		reserve = decimal.Zero
	}
	return &Checker{Reserve: reserve}
}

// CheckPlan validates every asset the plan debits from its sender.
//
// Returns nil if the plan fits, or a Shortfall wrapping ErrInsufficientFunds.
func (c *Checker) CheckPlan(plan *model.SettlementPlan, balances model.Balances) error {
	// 1. Base asset: payments, fees and account rent all debit it.
	baseDebit := plan.DebitBySource(plan.Sender, model.AssetBase)
	if !baseDebit.IsZero() {
		required := baseDebit.Add(c.Reserve)
		if required.GreaterThan(balances.Base) {
			return Shortfall{Asset: model.AssetBase, Required: required, Available: balances.Base}
		}
	}

	// 2. Token asset.
	tokenDebit := plan.DebitBySource(plan.Sender, model.AssetToken)
	if tokenDebit.GreaterThan(balances.Token) {
		return Shortfall{Asset: model.AssetToken, Required: tokenDebit, Available: balances.Token}
	}

	return nil
}

// CheckAmount validates a single debit against one balance, for flows that
// have no plan yet (e.g. a swap checked before a route is built).
func (c *Checker) CheckAmount(asset model.AssetKind, amount, available decimal.Decimal) error {
	required := amount
	if asset == model.AssetBase {
		required = required.Add(c.Reserve)
	}
	if required.GreaterThan(available) {
		return Shortfall{Asset: asset, Required: required, Available: available}
	}
	return nil
}
