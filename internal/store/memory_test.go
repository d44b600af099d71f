package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/fredfun/settlement-engine/internal/model"
)

func record(id, sender, recipient string, at time.Time) *model.SettlementRecord {
	return &model.SettlementRecord{
		ID:          id,
		Kind:        model.KindNativeTransfer,
		Sender:      sender,
		Recipient:   recipient,
		Asset:       model.AssetBase,
		GrossAmount: decimal.NewFromInt(1),
		FeeAmount:   decimal.RequireFromString("0.003"),
		Status:      model.StatusSubmitted,
		CreatedAt:   at,
		UpdatedAt:   at,
	}
}

func TestMemoryStore_CreateGet(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	rec := record("a", "alice", "bob", time.Now())

	if err := s.CreateSettlement(ctx, rec); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := s.CreateSettlement(ctx, rec); err == nil {
		t.Error("expected duplicate id to fail")
	}

	got, err := s.GetSettlement(ctx, "a")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Sender != "alice" || !got.FeeAmount.Equal(decimal.RequireFromString("0.003")) {
		t.Errorf("unexpected record: %+v", got)
	}

	// Mutating the returned copy must not affect the stored record.
	got.Status = model.StatusFailed
	again, _ := s.GetSettlement(ctx, "a")
	if again.Status != model.StatusSubmitted {
		t.Error("store leaked internal state")
	}

	if _, err := s.GetSettlement(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestMemoryStore_Update(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	rec := record("a", "alice", "bob", time.Now())
	_ = s.CreateSettlement(ctx, rec)

	rec.Status = model.StatusConfirmed
	rec.PartialFailure = true
	rec.Legs = []model.Leg{
		{Handle: "h1", Kinds: []model.OperationKind{model.OpPayment}, Status: model.StatusConfirmed},
		{Handle: "h2", Kinds: []model.OperationKind{model.OpFeeCollection}, Status: model.StatusFailed, Error: "rejected"},
	}
	rec.Sender = "mallory" // creation fields are not rewritten
	if err := s.UpdateSettlement(ctx, rec); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got, _ := s.GetSettlement(ctx, "a")
	if got.Status != model.StatusConfirmed || !got.PartialFailure || len(got.Legs) != 2 {
		t.Errorf("update not applied: %+v", got)
	}
	if got.Sender != "alice" {
		t.Errorf("sender should be unchanged, got %s", got.Sender)
	}

	if err := s.UpdateSettlement(ctx, record("missing", "", "", time.Now())); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestMemoryStore_ListByAccount(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	_ = s.CreateSettlement(ctx, record("1", "alice", "bob", base))
	_ = s.CreateSettlement(ctx, record("2", "carol", "alice", base.Add(time.Minute)))
	_ = s.CreateSettlement(ctx, record("3", "alice", "dave", base.Add(2*time.Minute)))
	_ = s.CreateSettlement(ctx, record("4", "bob", "carol", base.Add(3*time.Minute)))

	recs, err := s.ListSettlementsByAccount(ctx, "alice", 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(recs) != 3 {
		t.Fatalf("expected 3 records, got %d", len(recs))
	}
	if recs[0].ID != "3" || recs[2].ID != "1" {
		t.Errorf("expected newest first, got %s..%s", recs[0].ID, recs[2].ID)
	}

	limited, _ := s.ListSettlementsByAccount(ctx, "alice", 2)
	if len(limited) != 2 {
		t.Errorf("expected limit 2, got %d", len(limited))
	}
}
