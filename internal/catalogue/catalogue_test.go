package catalogue

import (
	"errors"
	"sync"
	"testing"
	"time"

	"posledger/internal/domain"
	"posledger/internal/store"
	"posledger/internal/xid"
)

var fixedNow = time.Date(2024, 3, 14, 10, 0, 0, 0, time.UTC)

func newTestStore(t *testing.T, items ...domain.Item) *Store {
	t.Helper()
	s, err := New(items, WithIDs(&xid.Sequential{}), WithClock(func() time.Time { return fixedNow }))
	if err != nil {
		t.Fatalf("new store failed: %v", err)
	}
	return s
}

func rice() domain.Item {
	return domain.Item{
		ID:                 "A",
		Name:               "Rice 1kg",
		Quantity:           5,
		Unit:               domain.UnitKilogram,
		SellingPriceCents:  1000,
		PurchasePriceCents: 600,
		Barcode:            "890100",
		Category:           "Grains",
		MinMargin:          0.2,
		ReorderPoint:       2,
		Active:             true,
	}
}

func TestAddItemDefaultsAndInitialHistory(t *testing.T) {
	s := newTestStore(t)

	item, err := s.AddItem(domain.Item{Name: "  Soap  ", SellingPriceCents: 300, PurchasePriceCents: 200, Quantity: 10})
	if err != nil {
		t.Fatalf("add item failed: %v", err)
	}
	if item.ID == "" {
		t.Fatalf("expected id to be assigned")
	}
	if item.Name != "Soap" || item.Category != domain.DefaultCategory || item.Unit != domain.UnitPieces {
		t.Fatalf("unexpected normalized item: %+v", item)
	}
	if !item.Active || !item.LastUpdated.Equal(fixedNow) {
		t.Fatalf("expected active item stamped with clock, got %+v", item)
	}
	if len(item.PriceHistory) != 1 || item.PriceHistory[0].Reason != "Initial price" {
		t.Fatalf("expected one initial history entry, got %+v", item.PriceHistory)
	}
}

func TestAddItemRejectsInvalidFields(t *testing.T) {
	s := newTestStore(t)

	cases := []domain.Item{
		{Name: "", SellingPriceCents: 100},
		{Name: "Bad unit", Unit: "box"},
		{Name: "Negative qty", Quantity: -1},
		{Name: "Negative price", SellingPriceCents: -1},
		{Name: "Margin", MinMargin: 1},
	}
	for _, c := range cases {
		if _, err := s.AddItem(c); !errors.Is(err, store.ErrValidation) {
			t.Fatalf("expected validation error for %q, got %v", c.Name, err)
		}
	}
}

func TestAddItemRejectsDuplicateBarcode(t *testing.T) {
	s := newTestStore(t, rice())

	_, err := s.AddItem(domain.Item{Name: "Copy", Barcode: "890100"})
	if !errors.Is(err, store.ErrDuplicateBarcode) {
		t.Fatalf("expected duplicate barcode, got %v", err)
	}

	if err := s.DeleteItem("A"); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if _, err := s.AddItem(domain.Item{Name: "Reuse", Barcode: "890100"}); err != nil {
		t.Fatalf("expected barcode of deleted item to be reusable, got %v", err)
	}
}

func TestEditItemAppendsHistoryOnlyOnPriceChange(t *testing.T) {
	s := newTestStore(t, rice())

	edited := rice()
	edited.Name = "Rice Premium 1kg"
	got, err := s.EditItem(edited, "")
	if err != nil {
		t.Fatalf("edit failed: %v", err)
	}
	if len(got.PriceHistory) != 0 {
		t.Fatalf("expected no history for name-only edit, got %d", len(got.PriceHistory))
	}

	edited.SellingPriceCents = 1200
	got, err = s.EditItem(edited, "")
	if err != nil {
		t.Fatalf("edit failed: %v", err)
	}
	if len(got.PriceHistory) != 1 {
		t.Fatalf("expected one history entry, got %d", len(got.PriceHistory))
	}
	entry := got.PriceHistory[0]
	if entry.Reason != "Manual update" || entry.SellingPriceCents != 1200 || entry.PurchasePriceCents != 600 {
		t.Fatalf("unexpected history entry: %+v", entry)
	}

	// callers cannot wipe history through an edit
	edited.PriceHistory = nil
	edited.PurchasePriceCents = 700
	got, err = s.EditItem(edited, "supplier change")
	if err != nil {
		t.Fatalf("edit failed: %v", err)
	}
	if len(got.PriceHistory) != 2 || got.PriceHistory[1].Reason != "supplier change" {
		t.Fatalf("expected history to grow with given reason, got %+v", got.PriceHistory)
	}
}

func TestEditItemUnknownOrDeleted(t *testing.T) {
	s := newTestStore(t, rice())

	ghost := rice()
	ghost.ID = "nope"
	if _, err := s.EditItem(ghost, ""); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}

	if err := s.DeleteItem("A"); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if _, err := s.EditItem(rice(), ""); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected not found after delete, got %v", err)
	}
	if err := s.DeleteItem("A"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected second delete to fail, got %v", err)
	}

	item, err := s.Get("A")
	if err != nil {
		t.Fatalf("deleted item should stay readable: %v", err)
	}
	if item.Active {
		t.Fatalf("expected item to be inactive")
	}
	if len(s.Active()) != 0 || len(s.Snapshot()) != 1 {
		t.Fatalf("expected deleted item only in snapshot")
	}
}

func TestEditItemKeepsQuantityTakenByConcurrentSale(t *testing.T) {
	s := newTestStore(t, rice())

	read, err := s.Get("A")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if _, err := s.Commit([]Demand{{ItemID: "A", Qty: 3}}, nil); err != nil {
		t.Fatalf("commit failed: %v", err)
	}
	read.SellingPriceCents = 1100
	got, err := s.EditItem(read, "")
	if err != nil {
		t.Fatalf("edit failed: %v", err)
	}
	if got.Quantity != 2 || got.SellingPriceCents != 1100 {
		t.Fatalf("expected price edit to keep sold quantity 2, got qty %d price %d", got.Quantity, got.SellingPriceCents)
	}
}

func TestUpdateItemAppliesToCurrentState(t *testing.T) {
	s := newTestStore(t, rice())
	if _, err := s.Commit([]Demand{{ItemID: "A", Qty: 4}}, nil); err != nil {
		t.Fatalf("commit failed: %v", err)
	}

	got, err := s.UpdateItem("A", "promo", func(it *domain.Item) {
		it.SellingPriceCents = 900
		it.Quantity = 50
	})
	if err != nil {
		t.Fatalf("update failed: %v", err)
	}
	if got.Quantity != 1 || got.Name != "Rice 1kg" || got.SellingPriceCents != 900 {
		t.Fatalf("unexpected item after update: %+v", got)
	}
	if len(got.PriceHistory) != 1 || got.PriceHistory[0].Reason != "promo" {
		t.Fatalf("expected one history entry, got %+v", got.PriceHistory)
	}

	if _, err := s.UpdateItem("A", "", func(it *domain.Item) { it.SellingPriceCents = -1 }); !errors.Is(err, store.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if item, _ := s.Get("A"); item.SellingPriceCents != 900 {
		t.Fatalf("rejected update must not change the item, got %d", item.SellingPriceCents)
	}
	if _, err := s.UpdateItem("missing", "", func(*domain.Item) {}); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestAdjustQuantity(t *testing.T) {
	s := newTestStore(t, rice())

	item, err := s.AdjustQuantity("A", 3)
	if err != nil {
		t.Fatalf("adjust failed: %v", err)
	}
	if item.Quantity != 8 {
		t.Fatalf("expected quantity 8, got %d", item.Quantity)
	}

	_, err = s.AdjustQuantity("A", -9)
	var stockErr *store.StockError
	if !errors.As(err, &stockErr) || !errors.Is(err, store.ErrInsufficientStock) {
		t.Fatalf("expected insufficient stock error, got %v", err)
	}
	if stockErr.Available != 8 {
		t.Fatalf("expected available 8, got %d", stockErr.Available)
	}

	item, _ = s.Get("A")
	if item.Quantity != 8 {
		t.Fatalf("failed adjustment must not change quantity, got %d", item.Quantity)
	}
}

func TestSetQuantity(t *testing.T) {
	s := newTestStore(t, rice())

	if _, err := s.SetQuantity("A", -1); !errors.Is(err, store.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	item, err := s.SetQuantity("A", 42)
	if err != nil {
		t.Fatalf("set quantity failed: %v", err)
	}
	if item.Quantity != 42 {
		t.Fatalf("expected 42, got %d", item.Quantity)
	}
}

func TestBulkPriceUpdatePercentagePartialSuccess(t *testing.T) {
	x := rice()
	x.ID, x.Barcode, x.SellingPriceCents, x.PurchasePriceCents = "X", "1", 1000, 700
	y := rice()
	y.ID, y.Barcode, y.SellingPriceCents, y.PurchasePriceCents = "Y", "2", 1999, 1500
	s := newTestStore(t, x, y)

	updated, failures, err := s.BulkPriceUpdate([]string{"X", "Y", "Z"}, domain.BulkPercentage, 10, domain.PriceSelling)
	if err != nil {
		t.Fatalf("bulk update failed: %v", err)
	}
	if len(updated) != 2 || len(failures) != 1 || failures[0].ItemID != "Z" {
		t.Fatalf("expected 2 updates and failure for Z, got %d/%+v", len(updated), failures)
	}

	gotX, _ := s.Get("X")
	gotY, _ := s.Get("Y")
	if gotX.SellingPriceCents != 1100 || gotY.SellingPriceCents != 2199 {
		t.Fatalf("unexpected prices: X=%d Y=%d", gotX.SellingPriceCents, gotY.SellingPriceCents)
	}
	if gotX.PurchasePriceCents != 700 || gotY.PurchasePriceCents != 1500 {
		t.Fatalf("purchase prices must not change")
	}
	for _, item := range []domain.Item{gotX, gotY} {
		if len(item.PriceHistory) != 1 || item.PriceHistory[0].Reason != "Bulk update: 10% increase" {
			t.Fatalf("unexpected history for %s: %+v", item.ID, item.PriceHistory)
		}
	}
}

func TestBulkPriceUpdateFixedBothAndDecrease(t *testing.T) {
	s := newTestStore(t, rice())

	if _, _, err := s.BulkPriceUpdate([]string{"A"}, domain.BulkFixed, 500, domain.PriceBoth); err != nil {
		t.Fatalf("fixed update failed: %v", err)
	}
	item, _ := s.Get("A")
	if item.SellingPriceCents != 500 || item.PurchasePriceCents != 500 {
		t.Fatalf("expected both prices 500, got %+v", item)
	}
	if item.PriceHistory[0].Reason != "Bulk update: Fixed price" {
		t.Fatalf("unexpected reason %q", item.PriceHistory[0].Reason)
	}

	if _, _, err := s.BulkPriceUpdate([]string{"A"}, domain.BulkPercentage, -5, domain.PricePurchase); err != nil {
		t.Fatalf("decrease failed: %v", err)
	}
	item, _ = s.Get("A")
	if item.PurchasePriceCents != 475 || item.PriceHistory[1].Reason != "Bulk update: 5% decrease" {
		t.Fatalf("unexpected decrease result: %+v", item)
	}

	if _, _, err := s.BulkPriceUpdate([]string{"A"}, domain.BulkPercentage, -150, domain.PriceSelling); err != nil {
		t.Fatalf("unexpected rule error: %v", err)
	}
	item, _ = s.Get("A")
	if item.SellingPriceCents != 500 {
		t.Fatalf("negative result must be rejected per item, got %d", item.SellingPriceCents)
	}

	if _, _, err := s.BulkPriceUpdate([]string{"A"}, "double", 1, domain.PriceBoth); !errors.Is(err, store.ErrValidation) {
		t.Fatalf("expected validation error for unknown rule, got %v", err)
	}
}

func TestFindByBarcode(t *testing.T) {
	s := newTestStore(t, rice())

	item, err := s.FindByBarcode(" 890100 ")
	if err != nil || item.ID != "A" {
		t.Fatalf("expected rice by barcode, got %+v %v", item, err)
	}
	if _, err := s.FindByBarcode("000"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestNewRejectsSharedBarcode(t *testing.T) {
	a := rice()
	b := rice()
	b.ID = "B"
	if _, err := New([]domain.Item{a, b}); !errors.Is(err, store.ErrDuplicateBarcode) {
		t.Fatalf("expected duplicate barcode on load, got %v", err)
	}
}

func TestCommitAllOrNothing(t *testing.T) {
	a := rice()
	b := rice()
	b.ID, b.Barcode, b.Quantity = "B", "2", 1
	s := newTestStore(t, a, b)

	_, err := s.Commit([]Demand{{ItemID: "A", Qty: 2}, {ItemID: "B", Qty: 3}}, func() error {
		t.Fatalf("fn must not run when validation fails")
		return nil
	})
	var changed *store.StockChangedError
	if !errors.As(err, &changed) {
		t.Fatalf("expected stock changed error, got %v", err)
	}
	if len(changed.Shortfalls) != 1 || changed.Shortfalls[0].ItemID != "B" || changed.Shortfalls[0].Available != 1 {
		t.Fatalf("unexpected shortfalls: %+v", changed.Shortfalls)
	}
	if item, _ := s.Get("A"); item.Quantity != 5 {
		t.Fatalf("A must be untouched, got %d", item.Quantity)
	}

	boom := errors.New("boom")
	_, err = s.Commit([]Demand{{ItemID: "A", Qty: 2}}, func() error { return boom })
	if !errors.Is(err, boom) {
		t.Fatalf("expected fn error, got %v", err)
	}
	if item, _ := s.Get("A"); item.Quantity != 5 {
		t.Fatalf("failed fn must roll back, got %d", item.Quantity)
	}

	touched, err := s.Commit([]Demand{{ItemID: "A", Qty: 2}, {ItemID: "B", Qty: 1}}, nil)
	if err != nil {
		t.Fatalf("commit failed: %v", err)
	}
	if len(touched) != 2 || touched[0].Quantity != 3 || touched[1].Quantity != 0 {
		t.Fatalf("unexpected touched items: %+v", touched)
	}
}

func TestCommitTreatsDeletedItemAsUnavailable(t *testing.T) {
	s := newTestStore(t, rice())
	if err := s.DeleteItem("A"); err != nil {
		t.Fatalf("delete failed: %v", err)
	}

	_, err := s.Commit([]Demand{{ItemID: "A", Name: "Rice 1kg", Qty: 1}}, nil)
	if !errors.Is(err, store.ErrStockChanged) {
		t.Fatalf("expected stock changed, got %v", err)
	}
}

func TestConcurrentCommitsNeverOversell(t *testing.T) {
	item := rice()
	item.Quantity = 50
	s := newTestStore(t, item)

	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded := 0
	for i := 0; i < 80; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.Commit([]Demand{{ItemID: "A", Qty: 1}}, nil); err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	got, _ := s.Get("A")
	if succeeded != 50 || got.Quantity != 0 {
		t.Fatalf("expected 50 successes and zero stock, got %d and %d", succeeded, got.Quantity)
	}
}
