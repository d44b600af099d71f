package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/fredfun/settlement-engine/internal/model"
)

// MemoryStore implements Store with an in-memory map. Used for testing
// and development. Not suitable for production (no persistence).
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]*model.SettlementRecord
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[string]*model.SettlementRecord),
	}
}

func (s *MemoryStore) CreateSettlement(_ context.Context, rec *model.SettlementRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.records[rec.ID]; ok {
		return fmt.Errorf("store: settlement %s already exists", rec.ID)
	}
	s.records[rec.ID] = clone(rec)
	return nil
}

func (s *MemoryStore) GetSettlement(_ context.Context, id string) (*model.SettlementRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return clone(rec), nil
}

func (s *MemoryStore) UpdateSettlement(_ context.Context, rec *model.SettlementRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.records[rec.ID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, rec.ID)
	}
	cur.Status = rec.Status
	cur.PartialFailure = rec.PartialFailure
	cur.Legs = append([]model.Leg(nil), rec.Legs...)
	cur.UpdatedAt = rec.UpdatedAt
	return nil
}

func (s *MemoryStore) ListSettlementsByAccount(_ context.Context, address string, limit int) ([]model.SettlementRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.SettlementRecord
	for _, r := range s.records {
		if r.Sender == address || r.Recipient == address {
			result = append(result, *clone(r))
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// clone copies rec so callers cannot mutate stored state.
func clone(rec *model.SettlementRecord) *model.SettlementRecord {
	c := *rec
	c.Legs = make([]model.Leg, len(rec.Legs))
	for i, l := range rec.Legs {
		l.Kinds = append([]model.OperationKind(nil), l.Kinds...)
		c.Legs[i] = l
	}
	return &c
}
