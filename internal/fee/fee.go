// Package fee computes the service fee owed on a transfer or swap.
//
// A fee is always max(value * Percentage, Floor), where value is expressed
// in base-asset units. For the base asset the value is the gross amount
// itself; for a token it is converted through a USD cross rate:
//
//	value = tokenAmount * tokenPriceUsd / basePriceUsd
//
// Small amounts are dominated by the floor; the returned quote marks that
// case with FloorApplied so callers can show "minimum fee applied".
//
// All monetary values use shopspring/decimal, never float64.
package fee

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/fredfun/settlement-engine/internal/model"
)

var (
	// ErrInvalidAmount is returned when the gross amount is not positive.
	ErrInvalidAmount = errors.New("fee: amount must be greater than zero")

	// ErrBelowMinimumAmount is returned when the gross amount is below the
	// policy's minimum transaction amount.
	ErrBelowMinimumAmount = errors.New("fee: amount below minimum transaction amount")

	// ErrMissingPriceData is returned for token amounts when either USD
	// price is zero or unavailable.
	ErrMissingPriceData = errors.New("fee: missing price data")

	// ErrInvalidPolicy is returned when a policy has a negative percentage,
	// floor or minimum, or a minimum below its floor.
	ErrInvalidPolicy = errors.New("fee: invalid fee policy")

	// NetworkFeeEstimate is the per-transaction network cost folded into
	// the floors (~0.00015 SOL).
	NetworkFeeEstimate = decimal.RequireFromString("0.00015")

	// MinServiceFee is the base of every floor.
	MinServiceFee = decimal.RequireFromString("0.001")
)

// Policy is a named, explicitly configured fee schedule.
type Policy struct {
	Name       string          `json:"name" toml:"name"`
	Percentage decimal.Decimal `json:"percentage" toml:"percentage"`
	Floor      decimal.Decimal `json:"floor" toml:"floor"`           // base-asset units
	MinAmount  decimal.Decimal `json:"min_amount" toml:"min_amount"` // zero disables the check
}

// TransferFeePolicy applies to native-coin transfers. Its floor covers the
// network cost of both the payment and the fee transaction.
func TransferFeePolicy() Policy {
	return Policy{
		Name:       "transfer",
		Percentage: decimal.RequireFromString("0.003"),
		Floor:      MinServiceFee.Add(NetworkFeeEstimate.Mul(decimal.NewFromInt(2))),
		MinAmount:  decimal.RequireFromString("0.0023"),
	}
}

// TokenTransferFeePolicy applies to token transfers; the fee is paid in the
// base asset inside the same transaction as the token movement.
func TokenTransferFeePolicy() Policy {
	return Policy{
		Name:       "token_transfer",
		Percentage: decimal.RequireFromString("0.01"),
		Floor:      MinServiceFee.Add(NetworkFeeEstimate),
	}
}

// SwapFeePolicy applies to swaps routed through the aggregator.
func SwapFeePolicy() Policy {
	return Policy{
		Name:       "swap",
		Percentage: decimal.RequireFromString("0.01"),
		Floor:      MinServiceFee.Add(NetworkFeeEstimate),
	}
}

// Validate checks that the policy parameters are usable.
func (p Policy) Validate() error {
	if p.Percentage.IsNegative() || p.Percentage.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return fmt.Errorf("%w: %s percentage %s", ErrInvalidPolicy, p.Name, p.Percentage)
	}
	if p.Floor.IsNegative() {
		return fmt.Errorf("%w: %s floor %s", ErrInvalidPolicy, p.Name, p.Floor)
	}
	if p.MinAmount.IsNegative() {
		return fmt.Errorf("%w: %s minimum %s", ErrInvalidPolicy, p.Name, p.MinAmount)
	}
	if !p.MinAmount.IsZero() && p.MinAmount.LessThan(p.Floor) {
		return fmt.Errorf("%w: %s minimum %s below floor %s", ErrInvalidPolicy, p.Name, p.MinAmount, p.Floor)
	}
	return nil
}

// BasisPoints returns the percentage expressed in basis points, as the swap
// aggregator expects it.
func (p Policy) BasisPoints() int64 {
	return p.Percentage.Mul(decimal.NewFromInt(10000)).Round(0).IntPart()
}

// PriceContext carries the USD prices needed for token amounts. It is
// ignored for the base asset.
type PriceContext struct {
	TokenPriceUSD decimal.Decimal
	BasePriceUSD  decimal.Decimal
}

// Calculator applies one policy. It is stateless and safe for concurrent use.
type Calculator struct {
	policy Policy
}

// NewCalculator creates a calculator for the given policy.
func NewCalculator(p Policy) (*Calculator, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &Calculator{policy: p}, nil
}

// Policy returns the calculator's fee schedule.
func (c *Calculator) Policy() Policy {
	return c.policy
}

// Compute derives the fee quote for a gross amount of the given asset.
// It has no side effects: identical inputs yield identical quotes.
func (c *Calculator) Compute(gross decimal.Decimal, kind model.AssetKind, prices PriceContext) (model.FeeQuote, error) {
	if !gross.IsPositive() {
		return model.FeeQuote{}, fmt.Errorf("%w: got %s", ErrInvalidAmount, gross)
	}
	if !c.policy.MinAmount.IsZero() && gross.LessThan(c.policy.MinAmount) {
		return model.FeeQuote{}, fmt.Errorf("%w: minimum is %s, got %s",
			ErrBelowMinimumAmount, c.policy.MinAmount, gross)
	}

	quote := model.FeeQuote{
		Policy:      c.policy.Name,
		AssetKind:   kind,
		GrossAmount: gross,
		FeeFloor:    c.policy.Floor,
		Percentage:  c.policy.Percentage,
	}

	switch kind {
	case model.AssetBase:
		quote.FeeAmount, quote.FloorApplied = c.apply(gross)
		if quote.FeeAmount.GreaterThanOrEqual(gross) {
			return model.FeeQuote{}, fmt.Errorf("%w: fee %s consumes the whole amount %s",
				ErrBelowMinimumAmount, quote.FeeAmount, gross)
		}
		quote.NetAmount = gross.Sub(quote.FeeAmount)

	case model.AssetToken:
		value, usd, err := BaseValue(gross, prices)
		if err != nil {
			return model.FeeQuote{}, err
		}
		quote.AmountInUSD = &usd
		quote.FeeAmount, quote.FloorApplied = c.apply(value)
		quote.NetAmount = gross

	default:
		return model.FeeQuote{}, fmt.Errorf("fee: unsupported asset kind %q", kind)
	}

	return quote, nil
}

// apply returns max(value * percentage, floor) and whether the floor won.
func (c *Calculator) apply(value decimal.Decimal) (decimal.Decimal, bool) {
	pct := value.Mul(c.policy.Percentage)
	if pct.LessThan(c.policy.Floor) {
		return c.policy.Floor, true
	}
	return pct, false
}

// BaseValue converts a token amount into base-asset units through USD and
// also returns the USD value. Both prices must be positive.
func BaseValue(tokenAmount decimal.Decimal, prices PriceContext) (decimal.Decimal, decimal.Decimal, error) {
	if !prices.TokenPriceUSD.IsPositive() {
		return decimal.Zero, decimal.Zero, fmt.Errorf("%w: token price %s", ErrMissingPriceData, prices.TokenPriceUSD)
	}
	if !prices.BasePriceUSD.IsPositive() {
		return decimal.Zero, decimal.Zero, fmt.Errorf("%w: base price %s", ErrMissingPriceData, prices.BasePriceUSD)
	}
	usd := tokenAmount.Mul(prices.TokenPriceUSD)
	return usd.Div(prices.BasePriceUSD), usd, nil
}
