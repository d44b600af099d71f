// Package address handles parsing and validation of ledger identities and
// derivation of the token accounts that hold a wallet's balance of a mint.
package address

import (
	"errors"
	"fmt"
	"strings"

	"github.com/gagliardetto/solana-go"
)

var (
	ErrInvalidAddress   = errors.New("address: invalid address")
	ErrInvalidRecipient = errors.New("address: invalid recipient")
)

// Parse parses a base58 account address. Surrounding whitespace is ignored.
func Parse(s string) (solana.PublicKey, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return solana.PublicKey{}, fmt.Errorf("%w: empty", ErrInvalidAddress)
	}
	pk, err := solana.PublicKeyFromBase58(s)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("%w: %s", ErrInvalidAddress, s)
	}
	return pk, nil
}

// ParseRecipient parses the destination of a payment. Besides the format
// check it rejects the all-zero key, which no wallet can sign for.
func ParseRecipient(s string) (solana.PublicKey, error) {
	pk, err := Parse(s)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("%w: %v", ErrInvalidRecipient, err)
	}
	if pk.IsZero() {
		return solana.PublicKey{}, fmt.Errorf("%w: zero address", ErrInvalidRecipient)
	}
	return pk, nil
}

// TokenAccount derives the associated token account that holds owner's
// balance of mint.
func TokenAccount(owner, mint solana.PublicKey) (solana.PublicKey, error) {
	ata, _, err := solana.FindAssociatedTokenAddress(owner, mint)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("address: derive token account for %s: %w", owner, err)
	}
	return ata, nil
}
