package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/Blockchain-Oracle/stellar-guard/internal/domain"
	"github.com/Blockchain-Oracle/stellar-guard/internal/storage"
)

func sampleOrder(owner string) *domain.StopOrder {
	return &domain.StopOrder{
		Owner:     owner,
		Type:      domain.OrderTypeStopLoss,
		Asset:     domain.CryptoAsset("ETH"),
		Amount:    d(5_000_000),
		StopPrice: d(1800),
		CreatedAt: 1000,
		Status:    domain.OrderStatusActive,
	}
}

func orderIntent(orderID uint64) *domain.SettlementIntent {
	return &domain.SettlementIntent{
		ID:        domain.OrderIntentID(orderID),
		Kind:      domain.IntentKindOrderExecution,
		Account:   "alice",
		Asset:     domain.CryptoAsset("ETH"),
		Amount:    d(5_000_000),
		NetAmount: d(4_995_000),
		Price:     d(1750),
		FeeAmount: d(5_000),
		CreatedAt: 1000,
	}
}

func TestOrderStore_UserCapCountsLiveOnly(t *testing.T) {
	ctx := context.Background()
	store := NewOrderStore(NewIntentStore(), 2, nil)

	id1, err := store.Create(ctx, sampleOrder("alice"))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := store.Create(ctx, sampleOrder("alice")); err != nil {
		t.Fatalf("Create: %v", err)
	}

	if _, err := store.Create(ctx, sampleOrder("alice")); !errors.Is(err, storage.ErrUserCap) {
		t.Errorf("expected ErrUserCap at the limit, got %v", err)
	}

	// Other owners are unaffected.
	if _, err := store.Create(ctx, sampleOrder("bob")); err != nil {
		t.Errorf("Create for other owner: %v", err)
	}

	// Cancelling frees the slot.
	if err := store.MarkCancelled(ctx, id1); err != nil {
		t.Fatalf("MarkCancelled: %v", err)
	}
	if _, err := store.Create(ctx, sampleOrder("alice")); err != nil {
		t.Errorf("Create after cancel: %v", err)
	}
}

func TestOrderStore_MarkExecutedOnce(t *testing.T) {
	ctx := context.Background()
	intents := NewIntentStore()
	store := NewOrderStore(intents, 0, nil)

	id, err := store.Create(ctx, sampleOrder("alice"))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	exec := &domain.Execution{
		Price:      d(1750),
		FeeAmount:  d(5_000),
		NetAmount:  d(4_995_000),
		Reason:     domain.TriggerReasonStopLoss,
		ExecutedAt: 1000,
	}
	if err := store.MarkExecuted(ctx, id, exec, orderIntent(id)); err != nil {
		t.Fatalf("MarkExecuted: %v", err)
	}

	order, err := store.Get(ctx, id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if order.Status != domain.OrderStatusExecuted {
		t.Errorf("expected EXECUTED, got %s", order.Status)
	}
	if order.Execution == nil || order.Execution.Reason != domain.TriggerReasonStopLoss {
		t.Errorf("execution record missing or wrong: %+v", order.Execution)
	}

	err = store.MarkExecuted(ctx, id, exec, orderIntent(id))
	if !errors.Is(err, storage.ErrNotActive) {
		t.Errorf("second MarkExecuted: expected ErrNotActive, got %v", err)
	}

	if _, err := intents.Get(ctx, domain.OrderIntentID(id)); err != nil {
		t.Errorf("intents.Get: %v", err)
	}
}

func TestOrderStore_MarkCancelledTerminal(t *testing.T) {
	ctx := context.Background()
	store := NewOrderStore(NewIntentStore(), 0, nil)

	id, _ := store.Create(ctx, sampleOrder("alice"))
	if err := store.MarkCancelled(ctx, id); err != nil {
		t.Fatalf("MarkCancelled: %v", err)
	}
	if err := store.MarkCancelled(ctx, id); !errors.Is(err, storage.ErrNotActive) {
		t.Errorf("expected ErrNotActive, got %v", err)
	}

	order := sampleOrder("alice")
	order.ID = id
	if err := store.Update(ctx, order); !errors.Is(err, storage.ErrNotActive) {
		t.Errorf("Update on cancelled order: expected ErrNotActive, got %v", err)
	}
}

func TestOrderStore_UpdatePersistsRatchet(t *testing.T) {
	ctx := context.Background()
	store := NewOrderStore(NewIntentStore(), 0, nil)

	pct := int64(10)
	order := sampleOrder("alice")
	order.Type = domain.OrderTypeTrailingStop
	order.TrailingPercent = &pct
	order.StopPrice = d(90)
	order.HighestPrice = d(100)

	id, err := store.Create(ctx, order)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	stored, err := store.Get(ctx, id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	stored.HighestPrice = d(120)
	stored.StopPrice = d(108)
	if err := store.Update(ctx, stored); err != nil {
		t.Fatalf("Update: %v", err)
	}

	got, err := store.Get(ctx, id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !got.HighestPrice.Equal(d(120)) || !got.StopPrice.Equal(d(108)) {
		t.Errorf("ratchet not persisted: highest %s stop %s", got.HighestPrice, got.StopPrice)
	}
}

func TestOrderStore_ActiveIDs(t *testing.T) {
	ctx := context.Background()
	store := NewOrderStore(NewIntentStore(), 0, nil)

	id1, _ := store.Create(ctx, sampleOrder("alice"))
	id2, _ := store.Create(ctx, sampleOrder("bob"))
	if err := store.MarkCancelled(ctx, id1); err != nil {
		t.Fatalf("MarkCancelled: %v", err)
	}

	ids, err := store.ActiveIDs(ctx)
	if err != nil {
		t.Fatalf("ActiveIDs: %v", err)
	}
	if len(ids) != 1 || ids[0] != id2 {
		t.Errorf("expected [%d], got %v", id2, ids)
	}
}
