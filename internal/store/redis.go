package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/fredfun/settlement-engine/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache. Writes go to the primary store and refresh or invalidate the
// cache; reads check Redis first then fall back to the primary.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

// --- Write-through ---

func (s *CachedStore) CreateSettlement(ctx context.Context, rec *model.SettlementRecord) error {
	if err := s.primary.CreateSettlement(ctx, rec); err != nil {
		return err
	}
	s.cacheSettlement(ctx, rec)
	s.rdb.Del(ctx, accountKey(rec.Sender), accountKey(rec.Recipient))
	return nil
}

func (s *CachedStore) UpdateSettlement(ctx context.Context, rec *model.SettlementRecord) error {
	if err := s.primary.UpdateSettlement(ctx, rec); err != nil {
		return err
	}
	// Invalidate; next read re-populates from the primary.
	s.rdb.Del(ctx, settlementKey(rec.ID), accountKey(rec.Sender), accountKey(rec.Recipient))
	return nil
}

// --- Read-through ---

func (s *CachedStore) GetSettlement(ctx context.Context, id string) (*model.SettlementRecord, error) {
	data, err := s.rdb.Get(ctx, settlementKey(id)).Bytes()
	if err == nil {
		var rec model.SettlementRecord
		if json.Unmarshal(data, &rec) == nil {
			return &rec, nil
		}
	}

	rec, err := s.primary.GetSettlement(ctx, id)
	if err != nil {
		return nil, err
	}
	s.cacheSettlement(ctx, rec)
	return rec, nil
}

// ListSettlementsByAccount caches only the default page; other limits go
// straight to the primary.
func (s *CachedStore) ListSettlementsByAccount(ctx context.Context, address string, limit int) ([]model.SettlementRecord, error) {
	if limit != DefaultPage {
		return s.primary.ListSettlementsByAccount(ctx, address, limit)
	}

	data, err := s.rdb.Get(ctx, accountKey(address)).Bytes()
	if err == nil {
		var recs []model.SettlementRecord
		if json.Unmarshal(data, &recs) == nil {
			return recs, nil
		}
	}

	recs, err := s.primary.ListSettlementsByAccount(ctx, address, limit)
	if err != nil {
		return nil, err
	}
	if data, err := json.Marshal(recs); err == nil {
		s.rdb.Set(ctx, accountKey(address), data, s.ttl)
	}
	return recs, nil
}

// DefaultPage is the page size used when callers do not ask for one.
const DefaultPage = 20

// --- Cache helpers ---

func (s *CachedStore) cacheSettlement(ctx context.Context, rec *model.SettlementRecord) {
	if data, err := json.Marshal(rec); err == nil {
		s.rdb.Set(ctx, settlementKey(rec.ID), data, s.ttl)
	}
}

func settlementKey(id string) string { return fmt.Sprintf("settlement:%s", id) }
func accountKey(addr string) string  { return fmt.Sprintf("settlements:account:%s", addr) }
