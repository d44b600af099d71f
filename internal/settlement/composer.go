// Package settlement turns a validated payment intent into an ordered plan
// of ledger operations and encodes that plan into unsigned transactions.
package settlement

import (
	"errors"
	"fmt"

	"github.com/gagliardetto/solana-go"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/fredfun/settlement-engine/internal/address"
	"github.com/fredfun/settlement-engine/internal/fee"
	"github.com/fredfun/settlement-engine/internal/funds"
	"github.com/fredfun/settlement-engine/internal/model"
)

var (
	ErrInvalidSender = errors.New("settlement: invalid sender")
	ErrZeroTransfer  = errors.New("settlement: amount rounds to zero units")
	ErrSelfTransfer  = errors.New("settlement: sender and recipient are the same")
)

// DefaultBootstrapRent is the rent-exempt reserve of a token account
// (2039280 lamports), paid by the sender when the recipient has none.
var DefaultBootstrapRent = decimal.RequireFromString("0.00203928")

// Intent is a request to move Amount of Asset from Sender to Recipient.
type Intent struct {
	Sender    string
	Recipient string
	Amount    decimal.Decimal
	Asset     model.AssetKind
	Prices    fee.PriceContext

	// RecipientHasTokenAccount is only consulted for token intents. When
	// false the plan opens the account before paying into it.
	RecipientHasTokenAccount bool
}

// Config carries the deployment-specific parameters of the composer.
type Config struct {
	Collector     solana.PublicKey
	Mint          solana.PublicKey
	TokenDecimals int32
	BootstrapRent decimal.Decimal
	Transfer      fee.Policy
	TokenTransfer fee.Policy
	Reserve       decimal.Decimal // base asset kept back on top of the plan's debits
}

// Composer builds settlement plans. It holds no mutable state.
type Composer struct {
	cfg      Config
	transfer *fee.Calculator
	token    *fee.Calculator
	funds    *funds.Checker
}

// NewComposer validates cfg and creates a composer.
func NewComposer(cfg Config) (*Composer, error) {
	if cfg.Collector.IsZero() {
		return nil, errors.New("settlement: fee collector is required")
	}
	if cfg.TokenDecimals < 0 {
		return nil, fmt.Errorf("settlement: invalid token decimals %d", cfg.TokenDecimals)
	}
	if cfg.BootstrapRent.IsZero() {
		cfg.BootstrapRent = DefaultBootstrapRent
	}
	transfer, err := fee.NewCalculator(cfg.Transfer)
	if err != nil {
		return nil, err
	}
	token, err := fee.NewCalculator(cfg.TokenTransfer)
	if err != nil {
		return nil, err
	}
	return &Composer{
		cfg:      cfg,
		transfer: transfer,
		token:    token,
		funds:    funds.NewChecker(cfg.Reserve),
	}, nil
}

// Quote computes the fee for an intent without building a plan.
func (c *Composer) Quote(in Intent) (model.FeeQuote, error) {
	switch in.Asset {
	case model.AssetBase:
		return c.transfer.Compute(in.Amount, model.AssetBase, in.Prices)
	case model.AssetToken:
		return c.token.Compute(in.Amount, model.AssetToken, in.Prices)
	default:
		return model.FeeQuote{}, fmt.Errorf("settlement: unsupported asset %q", in.Asset)
	}
}

// Build validates the intent, prices it and lays out its operations.
//
// Base-asset intents become a Sequential plan of two legs: the net payment
// to the recipient, then the fee to the collector. Token intents become one
// Atomic plan: an optional account bootstrap, the token payment and the
// base-asset fee, in that order.
//
// The plan's debits are checked against balances before it is returned.
func (c *Composer) Build(in Intent, balances model.Balances) (*model.SettlementPlan, error) {
	sender, err := address.Parse(in.Sender)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSender, err)
	}
	recipient, err := address.ParseRecipient(in.Recipient)
	if err != nil {
		return nil, err
	}
	if sender.Equals(recipient) {
		return nil, ErrSelfTransfer
	}

	quote, err := c.Quote(in)
	if err != nil {
		return nil, err
	}

	plan := &model.SettlementPlan{
		ID:        uuid.NewString(),
		Sender:    sender.String(),
		Recipient: recipient.String(),
		Quote:     quote,
	}

	collector := c.cfg.Collector.String()

	switch in.Asset {
	case model.AssetBase:
		plan.Decimals = model.BaseDecimals
		plan.Bundling = model.BundlingSequential
		payment, err := baseOp(model.OpPayment, plan.Sender, plan.Recipient, quote.NetAmount)
		if err != nil {
			return nil, err
		}
		collect, err := baseOp(model.OpFeeCollection, plan.Sender, collector, quote.FeeAmount)
		if err != nil {
			return nil, err
		}
		plan.Operations = []model.Operation{payment, collect}

	case model.AssetToken:
		plan.Mint = c.cfg.Mint.String()
		plan.Decimals = c.cfg.TokenDecimals
		plan.Bundling = model.BundlingAtomic
		if !in.RecipientHasTokenAccount {
			bootstrap, err := baseOp(model.OpAccountBootstrap, plan.Sender, plan.Recipient, c.cfg.BootstrapRent)
			if err != nil {
				return nil, err
			}
			plan.Operations = append(plan.Operations, bootstrap)
		}
		units, err := model.ToSmallestUnit(quote.NetAmount, c.cfg.TokenDecimals)
		if err != nil {
			return nil, err
		}
		if units == 0 {
			return nil, fmt.Errorf("%w: %s tokens", ErrZeroTransfer, quote.NetAmount)
		}
		plan.Operations = append(plan.Operations, model.Operation{
			Kind:        model.OpPayment,
			Asset:       model.AssetToken,
			Source:      plan.Sender,
			Destination: plan.Recipient,
			Amount:      quote.NetAmount,
			Units:       units,
		})
		collect, err := baseOp(model.OpFeeCollection, plan.Sender, collector, quote.FeeAmount)
		if err != nil {
			return nil, err
		}
		plan.Operations = append(plan.Operations, collect)
	}

	if err := c.funds.CheckPlan(plan, balances); err != nil {
		return nil, err
	}
	return plan, nil
}

func baseOp(kind model.OperationKind, from, to string, amount decimal.Decimal) (model.Operation, error) {
	units, err := model.ToSmallestUnit(amount, model.BaseDecimals)
	if err != nil {
		return model.Operation{}, err
	}
	if units == 0 {
		return model.Operation{}, fmt.Errorf("%w: %s %s", ErrZeroTransfer, kind, amount)
	}
	return model.Operation{
		Kind:        kind,
		Asset:       model.AssetBase,
		Source:      from,
		Destination: to,
		Amount:      amount,
		Units:       units,
	}, nil
}
