package settlement

import (
	"errors"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"

	"github.com/fredfun/settlement-engine/internal/address"
	"github.com/fredfun/settlement-engine/internal/fee"
	"github.com/fredfun/settlement-engine/internal/funds"
	"github.com/fredfun/settlement-engine/internal/model"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

var (
	collectorKey = solana.MustPublicKeyFromBase58("Ccjx1HT5x7NLertCeC8pBJFH2PMsNKYU4ayKFGGmGMfS")
	mintKey      = solana.MustPublicKeyFromBase58("2NF5iDEwnyNZ8rU8EBbwY2c8jcESvWspnLo46Pprmoon")
	prices       = fee.PriceContext{TokenPriceUSD: d("0.00002"), BasePriceUSD: d("150")}
)

func newComposer(t *testing.T) *Composer {
	t.Helper()
	c, err := NewComposer(Config{
		Collector:     collectorKey,
		Mint:          mintKey,
		TokenDecimals: 9,
		Transfer:      fee.TransferFeePolicy(),
		TokenTransfer: fee.TokenTransferFeePolicy(),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return c
}

func keys() (string, string) {
	return solana.NewWallet().PublicKey().String(), solana.NewWallet().PublicKey().String()
}

func TestBuild_NativeSequential(t *testing.T) {
	c := newComposer(t)
	sender, recipient := keys()

	plan, err := c.Build(Intent{Sender: sender, Recipient: recipient, Amount: d("1"), Asset: model.AssetBase},
		model.Balances{Base: d("5")})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if plan.Bundling != model.BundlingSequential {
		t.Errorf("expected sequential plan, got %s", plan.Bundling)
	}
	if plan.ID == "" {
		t.Error("expected plan id")
	}
	if len(plan.Operations) != 2 {
		t.Fatalf("expected 2 operations, got %d", len(plan.Operations))
	}

	pay, collect := plan.Operations[0], plan.Operations[1]
	if pay.Kind != model.OpPayment || pay.Destination != recipient || !pay.Amount.Equal(d("0.997")) {
		t.Errorf("unexpected payment leg: %+v", pay)
	}
	if pay.Units != 997_000_000 {
		t.Errorf("expected 997000000 lamports, got %d", pay.Units)
	}
	if collect.Kind != model.OpFeeCollection || collect.Destination != collectorKey.String() || !collect.Amount.Equal(d("0.003")) {
		t.Errorf("unexpected fee leg: %+v", collect)
	}
	if collect.Units != 3_000_000 {
		t.Errorf("expected 3000000 lamports, got %d", collect.Units)
	}
}

func TestBuild_TokenWithBootstrap(t *testing.T) {
	c := newComposer(t)
	sender, recipient := keys()

	plan, err := c.Build(Intent{
		Sender: sender, Recipient: recipient, Amount: d("1000000"), Asset: model.AssetToken, Prices: prices,
	}, model.Balances{Base: d("1"), Token: d("2000000")})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if plan.Bundling != model.BundlingAtomic {
		t.Errorf("expected atomic plan, got %s", plan.Bundling)
	}
	want := []model.OperationKind{model.OpAccountBootstrap, model.OpPayment, model.OpFeeCollection}
	if len(plan.Operations) != len(want) {
		t.Fatalf("expected %d operations, got %d", len(want), len(plan.Operations))
	}
	for i, k := range want {
		if plan.Operations[i].Kind != k {
			t.Errorf("operation %d: expected %s, got %s", i, k, plan.Operations[i].Kind)
		}
	}
	if plan.Operations[0].Units != 2_039_280 {
		t.Errorf("expected bootstrap rent 2039280 lamports, got %d", plan.Operations[0].Units)
	}
	if tok := plan.Operations[1]; tok.Asset != model.AssetToken || !tok.Amount.Equal(d("1000000")) {
		t.Errorf("token leg should move the full amount, got %+v", tok)
	}
	if plan.Mint != mintKey.String() {
		t.Errorf("expected mint %s, got %s", mintKey, plan.Mint)
	}
}

func TestBuild_TokenExistingAccount(t *testing.T) {
	c := newComposer(t)
	sender, recipient := keys()

	plan, err := c.Build(Intent{
		Sender: sender, Recipient: recipient, Amount: d("1000"), Asset: model.AssetToken, Prices: prices,
		RecipientHasTokenAccount: true,
	}, model.Balances{Base: d("1"), Token: d("1000")})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(plan.Operations) != 2 || plan.Operations[0].Kind != model.OpPayment {
		t.Errorf("expected payment + fee only, got %+v", plan.Operations)
	}
	if !plan.Quote.FloorApplied {
		t.Error("expected floor to apply on a small token amount")
	}
}

func TestBuild_Rejections(t *testing.T) {
	c := newComposer(t)
	sender, recipient := keys()

	tests := []struct {
		name     string
		in       Intent
		balances model.Balances
		want     error
	}{
		{"bad recipient", Intent{Sender: sender, Recipient: "nope", Amount: d("1"), Asset: model.AssetBase},
			model.Balances{Base: d("5")}, address.ErrInvalidRecipient},
		{"bad sender", Intent{Sender: "", Recipient: recipient, Amount: d("1"), Asset: model.AssetBase},
			model.Balances{Base: d("5")}, ErrInvalidSender},
		{"self transfer", Intent{Sender: sender, Recipient: sender, Amount: d("1"), Asset: model.AssetBase},
			model.Balances{Base: d("5")}, ErrSelfTransfer},
		{"below minimum", Intent{Sender: sender, Recipient: recipient, Amount: d("0.001"), Asset: model.AssetBase},
			model.Balances{Base: d("5")}, fee.ErrBelowMinimumAmount},
		{"missing prices", Intent{Sender: sender, Recipient: recipient, Amount: d("10"), Asset: model.AssetToken},
			model.Balances{Base: d("5"), Token: d("10")}, fee.ErrMissingPriceData},
		{"insufficient base", Intent{Sender: sender, Recipient: recipient, Amount: d("1"), Asset: model.AssetBase},
			model.Balances{Base: d("0.5")}, funds.ErrInsufficientFunds},
		{"insufficient token", Intent{Sender: sender, Recipient: recipient, Amount: d("10"), Asset: model.AssetToken, Prices: prices},
			model.Balances{Base: d("5"), Token: d("9")}, funds.ErrInsufficientFunds},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := c.Build(tt.in, tt.balances)
			if !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestNewComposer_RequiresCollector(t *testing.T) {
	_, err := NewComposer(Config{Transfer: fee.TransferFeePolicy(), TokenTransfer: fee.TokenTransferFeePolicy()})
	if err == nil {
		t.Error("expected error without collector")
	}
}

func TestNewComposer_DefaultRent(t *testing.T) {
	c := newComposer(t)
	if !c.cfg.BootstrapRent.Equal(DefaultBootstrapRent) {
		t.Errorf("expected default rent, got %s", c.cfg.BootstrapRent)
	}
}
