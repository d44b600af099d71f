// Package model defines the core domain types shared across the settlement engine.
// All monetary values use shopspring/decimal, never float64.
package model

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/shopspring/decimal"
)

// BaseDecimals is the exponent of the native coin (1 SOL = 10^9 lamports).
const BaseDecimals int32 = 9

// AssetKind distinguishes the native coin from a secondary fungible token.
type AssetKind string

const (
	AssetBase  AssetKind = "BASE"
	AssetToken AssetKind = "TOKEN"
)

// Valid reports whether k is a known asset kind.
func (k AssetKind) Valid() bool {
	return k == AssetBase || k == AssetToken
}

var (
	ErrNegativeAmount = errors.New("model: amount must not be negative")
	ErrAmountOverflow = errors.New("model: amount overflows smallest unit")
)

// ToSmallestUnit converts a decimal amount into integer smallest units
// (lamports for the base asset). Fractions below one unit are truncated.
func ToSmallestUnit(amount decimal.Decimal, decimals int32) (uint64, error) {
	if amount.IsNegative() {
		return 0, fmt.Errorf("%w: %s", ErrNegativeAmount, amount)
	}
	units := amount.Shift(decimals).Truncate(0)
	if units.GreaterThan(decimal.NewFromUint64(math.MaxUint64)) {
		return 0, fmt.Errorf("%w: %s", ErrAmountOverflow, amount)
	}
	return units.BigInt().Uint64(), nil
}

// FromSmallestUnit converts integer smallest units back into a decimal amount.
func FromSmallestUnit(units uint64, decimals int32) decimal.Decimal {
	return decimal.NewFromUint64(units).Shift(-decimals)
}

// FeeQuote is the result of a fee computation for one transfer or swap.
//
// For base-asset transfers NetAmount = GrossAmount - FeeAmount. For token
// transfers NetAmount = GrossAmount (the token moves in full) and FeeAmount
// is denominated in the base asset.
type FeeQuote struct {
	Policy       string           `json:"policy"`
	AssetKind    AssetKind        `json:"asset_kind"`
	GrossAmount  decimal.Decimal  `json:"gross_amount"`
	FeeAmount    decimal.Decimal  `json:"fee_amount"`
	NetAmount    decimal.Decimal  `json:"net_amount"`
	FeeFloor     decimal.Decimal  `json:"fee_floor"`
	Percentage   decimal.Decimal  `json:"percentage"`
	FloorApplied bool             `json:"floor_applied"` // minimum fee dominated the percentage fee
	AmountInUSD  *decimal.Decimal `json:"amount_in_usd,omitempty"`
}

// OperationKind labels one leg of a settlement plan.
type OperationKind string

const (
	OpPayment          OperationKind = "PAYMENT"
	OpFeeCollection    OperationKind = "FEE_COLLECTION"
	OpAccountBootstrap OperationKind = "ACCOUNT_BOOTSTRAP"
)

// Bundling states how the operations of a plan reach the ledger.
type Bundling string

const (
	// BundlingSequential submits each operation as its own transaction,
	// in order. A later leg failing does not roll back an earlier one.
	BundlingSequential Bundling = "SEQUENTIAL"
	// BundlingAtomic submits every operation in a single transaction.
	BundlingAtomic Bundling = "ATOMIC"
)

// Operation is one atomic ledger movement.
//
// For token payments Destination is the recipient's wallet; the token
// account addresses are derived when the plan is encoded.
type Operation struct {
	Kind        OperationKind   `json:"kind"`
	Asset       AssetKind       `json:"asset"`
	Source      string          `json:"source"`
	Destination string          `json:"destination"`
	Amount      decimal.Decimal `json:"amount"`
	Units       uint64          `json:"units"` // smallest units actually moved
}

// SettlementPlan is the ordered set of operations that settle one payment.
type SettlementPlan struct {
	ID         string      `json:"id"`
	Sender     string      `json:"sender"`
	Recipient  string      `json:"recipient"`
	Mint       string      `json:"mint,omitempty"`
	Decimals   int32       `json:"decimals"`
	Bundling   Bundling    `json:"bundling"`
	Operations []Operation `json:"operations"`
	Quote      FeeQuote    `json:"quote"`
}

// DebitBySource returns the total amount of asset moved out of source
// across every operation in the plan.
func (p *SettlementPlan) DebitBySource(source string, asset AssetKind) decimal.Decimal {
	total := decimal.Zero
	for _, op := range p.Operations {
		if op.Source == source && op.Asset == asset {
			total = total.Add(op.Amount)
		}
	}
	return total
}

// SettlementStatus is the lifecycle state of one submitted operation.
type SettlementStatus string

const (
	StatusSubmitted SettlementStatus = "SUBMITTED"
	StatusConfirmed SettlementStatus = "CONFIRMED"
	StatusFailed    SettlementStatus = "FAILED"
	StatusTimedOut  SettlementStatus = "TIMED_OUT"
)

// IsTerminal reports whether no further transition is expected.
func (s SettlementStatus) IsTerminal() bool {
	return s == StatusConfirmed || s == StatusFailed || s == StatusTimedOut
}

// LedgerStatus is one observation of a submitted transaction.
type LedgerStatus struct {
	Found     bool   // the ledger knows the handle
	Confirmed bool   // reached confirmed or finalized commitment
	Failure   string // non-empty when the ledger rejected the transaction
}

// Balances is a short-lived snapshot of the sender's holdings.
type Balances struct {
	Base  decimal.Decimal `json:"base"`
	Token decimal.Decimal `json:"token"`
}

// Prices is a short-lived snapshot of USD prices.
type Prices struct {
	BaseUSD  decimal.Decimal `json:"base_usd"`
	TokenUSD decimal.Decimal `json:"token_usd"`
}

// SettlementKind labels the user-facing action a record belongs to.
type SettlementKind string

const (
	KindNativeTransfer SettlementKind = "NATIVE_TRANSFER"
	KindTokenTransfer  SettlementKind = "TOKEN_TRANSFER"
	KindSwap           SettlementKind = "SWAP"
)

// Leg is the outcome of one submitted transaction of a settlement.
type Leg struct {
	Handle string           `json:"handle"`
	Kinds  []OperationKind  `json:"kinds"`
	Status SettlementStatus `json:"status"`
	Error  string           `json:"error,omitempty"`
}

// SettlementRecord is the persisted trail of one settlement attempt.
// Legs are appended as they are submitted; Status reflects the primary leg.
type SettlementRecord struct {
	ID             string           `json:"id" db:"id"`
	Kind           SettlementKind   `json:"kind" db:"kind"`
	Sender         string           `json:"sender" db:"sender"`
	Recipient      string           `json:"recipient" db:"recipient"`
	Asset          AssetKind        `json:"asset" db:"asset"`
	GrossAmount    decimal.Decimal  `json:"gross_amount" db:"gross_amount"`
	FeeAmount      decimal.Decimal  `json:"fee_amount" db:"fee_amount"`
	Status         SettlementStatus `json:"status" db:"status"`
	PartialFailure bool             `json:"partial_failure" db:"partial_failure"` // fee leg failed after payment confirmed
	Legs           []Leg            `json:"legs"`
	CreatedAt      time.Time        `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time        `json:"updated_at" db:"updated_at"`
}

// Security carries the dust/spam heuristics attached to a history entry.
type Security struct {
	IsDust       bool   `json:"is_dust"`
	IsSuspicious bool   `json:"is_suspicious"`
	Warning      string `json:"warning,omitempty"`
}

// TxType is the coarse classification of a historical transaction.
type TxType string

const (
	TxUnknown  TxType = "UNKNOWN"
	TxTransfer TxType = "TRANSFER"
	TxToken    TxType = "TOKEN"
)

// Transaction is one entry of an account's recent history.
type Transaction struct {
	Signature string           `json:"signature"`
	Timestamp time.Time        `json:"timestamp"`
	Status    SettlementStatus `json:"status"`
	Type      TxType           `json:"type"`
	Amount    *decimal.Decimal `json:"amount,omitempty"` // signed base-asset delta for the account
	Fee       decimal.Decimal  `json:"fee"`
	Security  Security         `json:"security"`
}
