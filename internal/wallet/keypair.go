package wallet

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gagliardetto/solana-go"
)

// Submitter is the part of the ledger a wallet needs.
type Submitter interface {
	Submit(ctx context.Context, tx *solana.Transaction) (string, error)
}

// KeypairWallet signs with a locally held key. It stands in for a browser
// wallet when the engine runs as a service.
type KeypairWallet struct {
	mu        sync.RWMutex
	key       solana.PrivateKey
	connected bool
	ledger    Submitter
	hub       Hub
	log       *slog.Logger

	// Approve is consulted before every signature. Returning false rejects
	// the transaction with ErrUserRejectedSigning. Nil approves everything.
	Approve func(tx *solana.Transaction) bool
}

// NewKeypairWallet creates a disconnected wallet for key.
func NewKeypairWallet(key solana.PrivateKey, ledger Submitter) *KeypairWallet {
	return &KeypairWallet{
		key:    key,
		ledger: ledger,
		log:    slog.With("component", "wallet"),
	}
}

// LoadKey reads a private key either as base58 or from a solana-keygen
// JSON file.
func LoadKey(base58, path string) (solana.PrivateKey, error) {
	switch {
	case base58 != "":
		k, err := solana.PrivateKeyFromBase58(base58)
		if err != nil {
			return nil, fmt.Errorf("wallet: parse key: %w", err)
		}
		return k, nil
	case path != "":
		k, err := solana.PrivateKeyFromSolanaKeygenFile(path)
		if err != nil {
			return nil, fmt.Errorf("wallet: read keyfile %s: %w", path, err)
		}
		return k, nil
	default:
		return nil, fmt.Errorf("wallet: no signing key configured")
	}
}

func (w *KeypairWallet) Connect(_ context.Context) (solana.PublicKey, error) {
	w.mu.Lock()
	w.connected = true
	pk := w.key.PublicKey()
	w.mu.Unlock()

	w.log.Info("wallet connected", "public_key", pk.String())
	w.hub.Publish(Event{Type: EventConnected, PublicKey: pk.String(), At: time.Now()})
	return pk, nil
}

func (w *KeypairWallet) Disconnect(_ context.Context) error {
	w.mu.Lock()
	was := w.connected
	w.connected = false
	w.mu.Unlock()

	if was {
		w.log.Info("wallet disconnected")
		w.hub.Publish(Event{Type: EventDisconnected, At: time.Now()})
	}
	return nil
}

// SwitchAccount replaces the signing key and notifies subscribers.
func (w *KeypairWallet) SwitchAccount(key solana.PrivateKey) {
	w.mu.Lock()
	w.key = key
	connected := w.connected
	w.mu.Unlock()

	if connected {
		w.hub.Publish(Event{Type: EventAccountChanged, PublicKey: key.PublicKey().String(), At: time.Now()})
	}
}

func (w *KeypairWallet) PublicKey() (solana.PublicKey, error) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if !w.connected {
		return solana.PublicKey{}, ErrNotConnected
	}
	return w.key.PublicKey(), nil
}

// SignAndSubmit signs tx as its fee payer and submits it.
func (w *KeypairWallet) SignAndSubmit(ctx context.Context, tx *solana.Transaction) (string, error) {
	w.mu.RLock()
	key, connected := w.key, w.connected
	w.mu.RUnlock()

	if !connected {
		return "", ErrNotConnected
	}
	if w.Approve != nil && !w.Approve(tx) {
		return "", ErrUserRejectedSigning
	}

	pub := key.PublicKey()
	if _, err := tx.Sign(func(pk solana.PublicKey) *solana.PrivateKey {
		if pk.Equals(pub) {
			return &key
		}
		return nil
	}); err != nil {
		return "", fmt.Errorf("wallet: sign: %w", err)
	}
	return w.ledger.Submit(ctx, tx)
}

func (w *KeypairWallet) Subscribe(fn func(Event)) func() {
	return w.hub.Subscribe(fn)
}

var _ Wallet = (*KeypairWallet)(nil)
