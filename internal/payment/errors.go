package payment

import (
	"errors"

	"github.com/fredfun/settlement-engine/internal/address"
	"github.com/fredfun/settlement-engine/internal/confirm"
	"github.com/fredfun/settlement-engine/internal/fee"
	"github.com/fredfun/settlement-engine/internal/funds"
	"github.com/fredfun/settlement-engine/internal/settlement"
	"github.com/fredfun/settlement-engine/internal/swap"
	"github.com/fredfun/settlement-engine/internal/wallet"
)

var (
	ErrSwapsDisabled    = errors.New("payment: swaps are not configured")
	ErrUnsupportedAsset = errors.New("payment: unsupported asset")
)

// messages maps each user-facing failure to the text shown to the payer.
// Order matters: the first match wins.
var messages = []struct {
	err error
	msg string
}{
	{wallet.ErrUserRejectedSigning, "Transaction was rejected by user"},
	{wallet.ErrNotConnected, "Wallet not connected."},
	{fee.ErrInvalidAmount, "Amount must be greater than 0"},
	{fee.ErrBelowMinimumAmount, "Amount is below the minimum transaction amount"},
	{fee.ErrMissingPriceData, "Price data is unavailable, please try again shortly"},
	{address.ErrInvalidRecipient, "Invalid recipient address"},
	{settlement.ErrSelfTransfer, "Cannot send to your own address"},
	{settlement.ErrZeroTransfer, "Amount is too small to send"},
	{funds.ErrInsufficientFunds, "Insufficient balance (including service fee)"},
	{confirm.ErrConfirmationTimeout, "Transaction confirmation timeout"},
	{confirm.ErrSettlementFailed, "Transaction failed"},
	{swap.ErrNoRoute, "No valid route found for swap"},
	{swap.ErrUnavailable, "Failed to fetch swap routes"},
	{ErrSwapsDisabled, "Swaps are not available"},
}

// Message returns a short human-readable description of err.
func Message(err error) string {
	if err == nil {
		return ""
	}
	for _, m := range messages {
		if errors.Is(err, m.err) {
			return m.msg
		}
	}
	return "Failed to send transaction"
}

// reason is the metrics label of a pre-submission rejection.
func reason(err error) string {
	switch {
	case errors.Is(err, fee.ErrInvalidAmount), errors.Is(err, settlement.ErrZeroTransfer):
		return "invalid_amount"
	case errors.Is(err, fee.ErrBelowMinimumAmount):
		return "below_minimum"
	case errors.Is(err, fee.ErrMissingPriceData):
		return "missing_price"
	case errors.Is(err, address.ErrInvalidRecipient), errors.Is(err, settlement.ErrSelfTransfer):
		return "invalid_recipient"
	case errors.Is(err, funds.ErrInsufficientFunds):
		return "insufficient_funds"
	case errors.Is(err, swap.ErrNoRoute):
		return "no_route"
	default:
		return "other"
	}
}
