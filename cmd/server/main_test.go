package main

import (
	"context"
	"log/slog"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fredfun/settlement-engine/internal/ledger"
)

func TestSeedDevWallet(t *testing.T) {
	l := ledger.NewMemoryLedger()
	owner := solana.NewWallet().PublicKey()
	mint := solana.MustPublicKeyFromBase58("EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v")

	require.NoError(t, seedDevWallet(l, owner, mint))

	base, err := l.Balance(context.Background(), owner)
	require.NoError(t, err)
	assert.True(t, base.Equal(devBaseBalance), "base %s", base)

	tok, err := l.TokenBalance(context.Background(), owner, mint)
	require.NoError(t, err)
	assert.True(t, tok.Equal(devTokenBalance), "token %s", tok)
}

func TestLogLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, logLevel("DEBUG"))
	assert.Equal(t, slog.LevelWarn, logLevel("warn"))
	assert.Equal(t, slog.LevelInfo, logLevel(""))
}
