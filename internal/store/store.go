// Package store defines the persistence interface for settlement records.
// Implementations include PostgreSQL (source of truth), Redis (read-through
// cache), and in-memory (for testing).
package store

import (
	"context"
	"errors"

	"github.com/fredfun/settlement-engine/internal/model"
)

// ErrNotFound is returned when a settlement record does not exist.
var ErrNotFound = errors.New("store: settlement not found")

// Store is the persistence interface. PostgreSQL is the source of truth;
// Redis provides a read-through cache layer.
type Store interface {
	// CreateSettlement persists a new settlement record.
	CreateSettlement(ctx context.Context, rec *model.SettlementRecord) error

	// GetSettlement retrieves a record by its ID.
	GetSettlement(ctx context.Context, id string) (*model.SettlementRecord, error)

	// UpdateSettlement stores the record's status, legs and partial-failure
	// flag. Creation fields are never rewritten.
	UpdateSettlement(ctx context.Context, rec *model.SettlementRecord) error

	// ListSettlementsByAccount returns records where address is the sender
	// or the recipient, newest first.
	ListSettlementsByAccount(ctx context.Context, address string, limit int) ([]model.SettlementRecord, error)
}
