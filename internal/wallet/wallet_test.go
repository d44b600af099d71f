package wallet

import (
	"context"
	"sync"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/system"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSubmitter struct {
	mu  sync.Mutex
	txs []*solana.Transaction
}

func (f *fakeSubmitter) Submit(_ context.Context, tx *solana.Transaction) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.txs = append(f.txs, tx)
	return tx.Signatures[0].String(), nil
}

func newTx(t *testing.T, payer solana.PublicKey) *solana.Transaction {
	t.Helper()
	tx, err := solana.NewTransaction(
		[]solana.Instruction{system.NewTransferInstruction(1, payer, solana.NewWallet().PublicKey()).Build()},
		solana.Hash{1}, solana.TransactionPayer(payer),
	)
	require.NoError(t, err)
	return tx
}

func TestHub_SubscribeUnsubscribe(t *testing.T) {
	var h Hub
	var got []EventType
	unsub := h.Subscribe(func(ev Event) { got = append(got, ev.Type) })

	h.Publish(Event{Type: EventConnected})
	unsub()
	unsub() // second call is a no-op
	h.Publish(Event{Type: EventDisconnected})

	assert.Equal(t, []EventType{EventConnected}, got)
	assert.Zero(t, h.Len())
}

func TestKeypairWallet_NotConnected(t *testing.T) {
	w := NewKeypairWallet(solana.NewWallet().PrivateKey, &fakeSubmitter{})

	_, err := w.PublicKey()
	assert.ErrorIs(t, err, ErrNotConnected)

	_, err = w.SignAndSubmit(context.Background(), newTx(t, solana.NewWallet().PublicKey()))
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestKeypairWallet_Lifecycle(t *testing.T) {
	ctx := context.Background()
	key := solana.NewWallet().PrivateKey
	w := NewKeypairWallet(key, &fakeSubmitter{})

	var events []Event
	unsub := w.Subscribe(func(ev Event) { events = append(events, ev) })
	defer unsub()

	pk, err := w.Connect(ctx)
	require.NoError(t, err)
	assert.True(t, pk.Equals(key.PublicKey()))

	next := solana.NewWallet().PrivateKey
	w.SwitchAccount(next)
	got, err := w.PublicKey()
	require.NoError(t, err)
	assert.True(t, got.Equals(next.PublicKey()))

	require.NoError(t, w.Disconnect(ctx))
	require.NoError(t, w.Disconnect(ctx)) // already disconnected: no event

	require.Len(t, events, 3)
	assert.Equal(t, EventConnected, events[0].Type)
	assert.Equal(t, EventAccountChanged, events[1].Type)
	assert.Equal(t, next.PublicKey().String(), events[1].PublicKey)
	assert.Equal(t, EventDisconnected, events[2].Type)
}

func TestKeypairWallet_SignAndSubmit(t *testing.T) {
	ctx := context.Background()
	key := solana.NewWallet().PrivateKey
	sub := &fakeSubmitter{}
	w := NewKeypairWallet(key, sub)
	_, err := w.Connect(ctx)
	require.NoError(t, err)

	tx := newTx(t, key.PublicKey())
	handle, err := w.SignAndSubmit(ctx, tx)
	require.NoError(t, err)
	assert.NotEmpty(t, handle)
	require.Len(t, sub.txs, 1)
	assert.NoError(t, sub.txs[0].VerifySignatures())
}

func TestKeypairWallet_Rejected(t *testing.T) {
	ctx := context.Background()
	key := solana.NewWallet().PrivateKey
	sub := &fakeSubmitter{}
	w := NewKeypairWallet(key, sub)
	w.Approve = func(*solana.Transaction) bool { return false }
	_, err := w.Connect(ctx)
	require.NoError(t, err)

	_, err = w.SignAndSubmit(ctx, newTx(t, key.PublicKey()))
	assert.ErrorIs(t, err, ErrUserRejectedSigning)
	assert.Empty(t, sub.txs)
}

func TestKeypairWallet_ForeignPayer(t *testing.T) {
	ctx := context.Background()
	w := NewKeypairWallet(solana.NewWallet().PrivateKey, &fakeSubmitter{})
	_, err := w.Connect(ctx)
	require.NoError(t, err)

	_, err = w.SignAndSubmit(ctx, newTx(t, solana.NewWallet().PublicKey()))
	assert.Error(t, err)
}

func TestLoadKey(t *testing.T) {
	key := solana.NewWallet().PrivateKey
	got, err := LoadKey(key.String(), "")
	require.NoError(t, err)
	assert.True(t, got.PublicKey().Equals(key.PublicKey()))

	_, err = LoadKey("", "")
	assert.Error(t, err)

	_, err = LoadKey("garbage!", "")
	assert.Error(t, err)
}
