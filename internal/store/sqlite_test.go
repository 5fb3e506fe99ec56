package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"kestrel/internal/domain"
)

func openTestDB(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "kestrel.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSQLiteOrderRoundTrip(t *testing.T) {
	s := openTestDB(t)
	ctx := context.Background()

	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	order := &domain.Order{
		ID:        "ord-1",
		Symbol:    "BTCUSD",
		Side:      domain.SideBuy,
		Qty:       0.5,
		Status:    domain.OrderStatusCreated,
		Strategy:  "sma-cross",
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := s.SaveOrder(ctx, order); err != nil {
		t.Fatalf("SaveOrder: %v", err)
	}

	got, err := s.GetOrder(ctx, "ord-1")
	if err != nil {
		t.Fatalf("GetOrder: %v", err)
	}
	if got.Symbol != "BTCUSD" || got.Side != domain.SideBuy || got.Qty != 0.5 {
		t.Errorf("GetOrder mismatch: %+v", got)
	}
	if !got.CreatedAt.Equal(now) {
		t.Errorf("CreatedAt = %v, want %v", got.CreatedAt, now)
	}

	order.Status = domain.OrderStatusFilled
	order.FilledQty = 0.5
	order.AvgFillPrice = 42000
	order.BrokerOrderID = "bk-99"
	order.UpdatedAt = now.Add(time.Second)
	if err := s.UpdateOrder(ctx, order); err != nil {
		t.Fatalf("UpdateOrder: %v", err)
	}

	got, err = s.GetOrder(ctx, "ord-1")
	if err != nil {
		t.Fatalf("GetOrder after update: %v", err)
	}
	if got.Status != domain.OrderStatusFilled || got.FilledQty != 0.5 || got.BrokerOrderID != "bk-99" {
		t.Errorf("updated order mismatch: %+v", got)
	}

	filled, err := s.ListOrders(ctx, domain.OrderStatusFilled)
	if err != nil {
		t.Fatalf("ListOrders: %v", err)
	}
	if len(filled) != 1 {
		t.Errorf("ListOrders(filled) = %d orders, want 1", len(filled))
	}
}

func TestSQLiteUpdateMissingOrder(t *testing.T) {
	s := openTestDB(t)

	err := s.UpdateOrder(context.Background(), &domain.Order{ID: "ghost", UpdatedAt: time.Now()})
	if err == nil {
		t.Fatal("UpdateOrder on missing order should fail")
	}
}

func TestSQLiteFills(t *testing.T) {
	s := openTestDB(t)
	ctx := context.Background()

	ts := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	fills := []domain.Fill{
		{OrderID: "ord-1", Symbol: "BTCUSD", Side: domain.SideBuy, Qty: 0.3, Price: 42000, Fee: 1.26, Timestamp: ts},
		{OrderID: "ord-1", Symbol: "BTCUSD", Side: domain.SideBuy, Qty: 0.2, Price: 42010, Fee: 0.84, Timestamp: ts.Add(time.Second)},
	}
	for i := range fills {
		if err := s.SaveFill(ctx, &fills[i]); err != nil {
			t.Fatalf("SaveFill: %v", err)
		}
	}

	got, err := s.ListFills(ctx, "ord-1")
	if err != nil {
		t.Fatalf("ListFills: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("ListFills = %d fills, want 2", len(got))
	}
	// Application order is preserved.
	if got[0].Qty != 0.3 || got[1].Qty != 0.2 {
		t.Errorf("fills out of order: %+v", got)
	}
}

func TestSQLiteSignals(t *testing.T) {
	s := openTestDB(t)
	ctx := context.Background()

	base := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		sig := &domain.Signal{
			Strategy:    "sma-cross",
			Symbol:      "BTCUSD",
			Action:      domain.ActionBuy,
			Strength:    0.8,
			CandleStart: base.Add(time.Duration(i) * time.Minute),
			GeneratedAt: base.Add(time.Duration(i) * time.Minute),
		}
		if err := s.SaveSignal(ctx, sig); err != nil {
			t.Fatalf("SaveSignal: %v", err)
		}
	}

	got, err := s.ListSignals(ctx, "sma-cross", 2)
	if err != nil {
		t.Fatalf("ListSignals: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("ListSignals = %d signals, want 2 (limit)", len(got))
	}
	// Newest first.
	if !got[0].GeneratedAt.After(got[1].GeneratedAt) {
		t.Errorf("signals not newest-first: %v then %v", got[0].GeneratedAt, got[1].GeneratedAt)
	}
}

func TestSQLiteSnapshots(t *testing.T) {
	s := openTestDB(t)
	ctx := context.Background()

	empty, err := s.LatestSnapshot(ctx)
	if err != nil {
		t.Fatalf("LatestSnapshot (empty): %v", err)
	}
	if empty != nil {
		t.Errorf("LatestSnapshot on empty store = %+v, want nil", empty)
	}

	snap := &domain.PortfolioSnapshot{
		Cash:        90_000,
		RealizedPnL: 150,
		Equity:      100_500,
		Positions: map[string]domain.Position{
			"BTCUSD": {Symbol: "BTCUSD", Qty: 0.25, AvgCost: 42000},
		},
		At: time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC),
	}
	if err := s.SaveSnapshot(ctx, snap); err != nil {
		t.Fatalf("SaveSnapshot: %v", err)
	}

	got, err := s.LatestSnapshot(ctx)
	if err != nil {
		t.Fatalf("LatestSnapshot: %v", err)
	}
	if got == nil {
		t.Fatal("LatestSnapshot returned nil after save")
	}
	if got.Cash != 90_000 || got.RealizedPnL != 150 {
		t.Errorf("snapshot mismatch: %+v", got)
	}
	pos, ok := got.Positions["BTCUSD"]
	if !ok || pos.Qty != 0.25 || pos.AvgCost != 42000 {
		t.Errorf("snapshot position mismatch: %+v", got.Positions)
	}
}
