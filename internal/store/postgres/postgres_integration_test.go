package postgres

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"posledger/internal/domain"
	"posledger/internal/store"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	databaseURL := os.Getenv("POSLEDGER_TEST_DATABASE_URL")
	if databaseURL == "" {
		t.Skip("set POSLEDGER_TEST_DATABASE_URL to run postgres integration test")
	}

	ctx := context.Background()
	s, err := New(ctx, databaseURL)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(func() {
		_ = s.Close()
	})
	if err := s.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return s
}

func TestItemRoundTripKeepsHistoryAndBarcodeRule(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	stamp := time.Now().UnixNano()
	id := fmt.Sprintf("item-it-%d", stamp)
	other := fmt.Sprintf("item-it-other-%d", stamp)
	barcode := fmt.Sprintf("BC-%d", stamp)
	t.Cleanup(func() {
		_, _ = s.db.ExecContext(ctx, `DELETE FROM item_price_history WHERE item_id IN ($1, $2)`, id, other)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM items WHERE id IN ($1, $2)`, id, other)
	})

	now := time.Now().UTC().Truncate(time.Microsecond)
	item := domain.Item{
		ID: id, Name: "Integration Rice", Quantity: 5, Unit: domain.UnitKilogram,
		SellingPriceCents: 1000, PurchasePriceCents: 600, Barcode: barcode,
		Category: "Grains", MinMargin: 0.2, ReorderPoint: 2, Active: true, LastUpdated: now,
		PriceHistory: []domain.PriceHistory{{ID: id + "-ph1", ItemID: id, PurchasePriceCents: 600, SellingPriceCents: 1000, ChangedAt: now, Reason: "Initial price"}},
	}
	if err := s.SaveItem(ctx, item); err != nil {
		t.Fatalf("save item: %v", err)
	}

	item.SellingPriceCents = 1100
	item.Quantity = 3
	item.PriceHistory = append(item.PriceHistory, domain.PriceHistory{ID: id + "-ph2", ItemID: id, PurchasePriceCents: 600, SellingPriceCents: 1100, ChangedAt: now, Reason: "Manual update"})
	if err := s.SaveItem(ctx, item); err != nil {
		t.Fatalf("resave item: %v", err)
	}

	err := s.SaveItem(ctx, domain.Item{ID: other, Name: "Clash", Unit: domain.UnitPieces, Barcode: barcode, Active: true, LastUpdated: now})
	if !errors.Is(err, store.ErrDuplicateBarcode) {
		t.Fatalf("expected duplicate barcode, got %v", err)
	}

	items, err := s.LoadCatalogue(ctx)
	if err != nil {
		t.Fatalf("load catalogue: %v", err)
	}
	var got *domain.Item
	for i := range items {
		if items[i].ID == id {
			got = &items[i]
		}
	}
	if got == nil {
		t.Fatalf("saved item missing from catalogue")
	}
	if got.Quantity != 3 || got.SellingPriceCents != 1100 || len(got.PriceHistory) != 2 || got.PriceHistory[1].Reason != "Manual update" {
		t.Fatalf("unexpected loaded item %+v", got)
	}
}

func TestBillStatusAndFilter(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	stamp := time.Now().UnixNano()
	id := fmt.Sprintf("bill-it-%d", stamp)
	t.Cleanup(func() {
		_, _ = s.db.ExecContext(ctx, `DELETE FROM bills WHERE id = $1`, id)
	})

	bill := domain.Bill{
		ID:            id,
		Sequence:      stamp,
		InvoiceNumber: fmt.Sprintf("INV-IT-%d", stamp),
		Items:         []domain.BillItem{{Item: domain.Item{ID: "x", Name: "Integration Tea"}, BillQuantity: 1}},
		SubtotalCents: 100,
		TotalCents:    100,
		Date:          time.Now().UTC(),
		PaymentMethod: domain.PaymentUPI,
		Status:        domain.BillPending,
		Customer:      &domain.Customer{Name: "Asha"},
	}
	if err := s.AppendBill(ctx, bill); err != nil {
		t.Fatalf("append bill: %v", err)
	}
	if err := s.AppendBill(ctx, bill); !errors.Is(err, store.ErrValidation) {
		t.Fatalf("expected duplicate bill rejection, got %v", err)
	}
	if err := s.UpdateBillStatus(ctx, id, domain.BillCompleted); err != nil {
		t.Fatalf("update status: %v", err)
	}

	bills, err := s.ListBills(ctx, domain.BillFilter{Term: fmt.Sprintf("INV-IT-%d", stamp), Status: domain.BillCompleted})
	if err != nil {
		t.Fatalf("list bills: %v", err)
	}
	if len(bills) != 1 || bills[0].Status != domain.BillCompleted || bills[0].Customer == nil || bills[0].Customer.Name != "Asha" {
		t.Fatalf("unexpected bills %+v", bills)
	}
}
