package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"posledger/internal/domain"
	"posledger/internal/store"
)

func TestSeededCatalogueIsActiveWithHistory(t *testing.T) {
	s := NewSeeded()
	items, err := s.LoadCatalogue(context.Background())
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if len(items) == 0 {
		t.Fatalf("expected seeded items")
	}
	for _, item := range items {
		if !item.Active || len(item.PriceHistory) != 1 {
			t.Fatalf("unexpected seeded item %+v", item)
		}
	}
	users, _ := s.ListUsers(context.Background())
	if len(users) != 2 || users[0].Username != "admin" {
		t.Fatalf("unexpected seeded users %+v", users)
	}
}

func TestSaveItemRejectsActiveBarcodeClash(t *testing.T) {
	s := New()
	ctx := context.Background()
	if err := s.SaveItem(ctx, domain.Item{ID: "a", Barcode: "1", Active: true}); err != nil {
		t.Fatalf("save failed: %v", err)
	}
	if err := s.SaveItem(ctx, domain.Item{ID: "b", Barcode: "1", Active: true}); !errors.Is(err, store.ErrDuplicateBarcode) {
		t.Fatalf("expected duplicate barcode, got %v", err)
	}
	if err := s.SaveItem(ctx, domain.Item{ID: "a", Barcode: "1", Active: false}); err != nil {
		t.Fatalf("deactivate failed: %v", err)
	}
	if err := s.SaveItem(ctx, domain.Item{ID: "b", Barcode: "1", Active: true}); err != nil {
		t.Fatalf("barcode of inactive item must be reusable: %v", err)
	}
}

func TestBillsAreAppendOnlyAndFiltered(t *testing.T) {
	s := New()
	ctx := context.Background()
	for i, method := range []domain.PaymentMethod{domain.PaymentCash, domain.PaymentUPI, domain.PaymentCash} {
		err := s.AppendBill(ctx, domain.Bill{
			ID:            string(rune('a' + i)),
			InvoiceNumber: "INV-" + string(rune('a'+i)),
			PaymentMethod: method,
			Status:        domain.BillPending,
			Date:          time.Date(2024, 3, i+1, 0, 0, 0, 0, time.UTC),
		})
		if err != nil {
			t.Fatalf("append failed: %v", err)
		}
	}
	if err := s.AppendBill(ctx, domain.Bill{ID: "z", InvoiceNumber: "INV-a"}); !errors.Is(err, store.ErrValidation) {
		t.Fatalf("expected duplicate invoice rejection, got %v", err)
	}
	if err := s.UpdateBillStatus(ctx, "a", domain.BillCompleted); err != nil {
		t.Fatalf("update failed: %v", err)
	}
	if err := s.UpdateBillStatus(ctx, "missing", domain.BillCompleted); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}

	cash, _ := s.ListBills(ctx, domain.BillFilter{PaymentMethod: domain.PaymentCash})
	if len(cash) != 2 || cash[0].ID != "a" || cash[0].Status != domain.BillCompleted {
		t.Fatalf("unexpected cash bills %+v", cash)
	}
	latest, _ := s.ListBills(ctx, domain.BillFilter{Limit: 1})
	if len(latest) != 1 || latest[0].ID != "c" {
		t.Fatalf("limit must keep the newest bill, got %+v", latest)
	}
}

func TestAlertsUpsert(t *testing.T) {
	s := New()
	ctx := context.Background()
	alert := domain.PriceAlert{ID: "a1", ItemID: "i", Type: domain.AlertStock}
	_ = s.SaveAlert(ctx, alert)
	alert.Acknowledged = true
	_ = s.SaveAlert(ctx, alert)

	alerts, _ := s.ListAlerts(ctx)
	if len(alerts) != 1 || !alerts[0].Acknowledged {
		t.Fatalf("expected single updated alert, got %+v", alerts)
	}
}
