package address

import (
	"errors"
	"testing"

	"github.com/gagliardetto/solana-go"
)

const (
	collector = "Ccjx1HT5x7NLertCeC8pBJFH2PMsNKYU4ayKFGGmGMfS"
	tokenMint = "2NF5iDEwnyNZ8rU8EBbwY2c8jcESvWspnLo46Pprmoon"
)

func TestParse_Valid(t *testing.T) {
	pk, err := Parse("  " + collector + "\n")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if pk.String() != collector {
		t.Errorf("expected %s, got %s", collector, pk)
	}
}

func TestParse_Invalid(t *testing.T) {
	tests := []string{
		"",
		"   ",
		"not-an-address",
		"0OIl0OIl0OIl0OIl0OIl0OIl0OIl0OIl", // characters outside the base58 alphabet
		collector + "extra",
		"0x742d35Cc6634C0532925a3b844Bc454e4438f44e", // EVM address
	}
	for _, s := range tests {
		if _, err := Parse(s); !errors.Is(err, ErrInvalidAddress) {
			t.Errorf("expected ErrInvalidAddress for %q, got %v", s, err)
		}
	}
}

func TestParseRecipient_WrapsInvalid(t *testing.T) {
	_, err := ParseRecipient("garbage")
	if !errors.Is(err, ErrInvalidRecipient) {
		t.Errorf("expected ErrInvalidRecipient, got %v", err)
	}
}

func TestParseRecipient_ZeroKey(t *testing.T) {
	_, err := ParseRecipient(solana.PublicKey{}.String())
	if !errors.Is(err, ErrInvalidRecipient) {
		t.Errorf("expected ErrInvalidRecipient for zero key, got %v", err)
	}
}

func TestTokenAccount_Deterministic(t *testing.T) {
	owner := solana.MustPublicKeyFromBase58(collector)
	mint := solana.MustPublicKeyFromBase58(tokenMint)

	a1, err := TokenAccount(owner, mint)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	a2, _ := TokenAccount(owner, mint)
	if !a1.Equals(a2) {
		t.Errorf("derivation should be deterministic: %s vs %s", a1, a2)
	}
	if a1.Equals(owner) {
		t.Error("token account must differ from owner")
	}
}
