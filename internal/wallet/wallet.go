// Package wallet abstracts the signer that authorises settlements and
// publishes its connection lifecycle to explicit subscribers.
package wallet

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/gagliardetto/solana-go"
)

var (
	ErrNotConnected        = errors.New("wallet: not connected")
	ErrUserRejectedSigning = errors.New("wallet: user rejected signing")
)

// Wallet signs transactions and hands them to the ledger.
type Wallet interface {
	Connect(ctx context.Context) (solana.PublicKey, error)
	Disconnect(ctx context.Context) error
	PublicKey() (solana.PublicKey, error)
	SignAndSubmit(ctx context.Context, tx *solana.Transaction) (string, error)
	// Subscribe registers fn for lifecycle events until the returned
	// function is called.
	Subscribe(fn func(Event)) (unsubscribe func())
}

// EventType enumerates wallet lifecycle events.
type EventType string

const (
	EventConnected      EventType = "connected"
	EventDisconnected   EventType = "disconnected"
	EventAccountChanged EventType = "account_changed"
)

// Event is one wallet lifecycle notification.
type Event struct {
	Type      EventType `json:"type"`
	PublicKey string    `json:"public_key,omitempty"`
	At        time.Time `json:"at"`
}

// Hub fans events out to subscribers. The zero value is ready to use.
type Hub struct {
	mu     sync.RWMutex
	nextID uint64
	subs   map[uint64]func(Event)
}

// Subscribe adds fn. The returned function removes it and is safe to call
// more than once.
func (h *Hub) Subscribe(fn func(Event)) func() {
	h.mu.Lock()
	if h.subs == nil {
		h.subs = make(map[uint64]func(Event))
	}
	id := h.nextID
	h.nextID++
	h.subs[id] = fn
	h.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, id)
			h.mu.Unlock()
		})
	}
}

// Publish delivers ev to every current subscriber, synchronously.
func (h *Hub) Publish(ev Event) {
	h.mu.RLock()
	fns := make([]func(Event), 0, len(h.subs))
	for _, fn := range h.subs {
		fns = append(fns, fn)
	}
	h.mu.RUnlock()

	for _, fn := range fns {
		fn(ev)
	}
}

// Len returns the number of active subscribers.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}
