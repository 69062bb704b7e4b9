package ledger

import (
	"errors"
	"sync"
	"testing"
	"time"

	"posledger/internal/domain"
	"posledger/internal/store"
)

func bill(id string, seq int64, status domain.BillStatus, day int) domain.Bill {
	return domain.Bill{
		ID:            id,
		Sequence:      seq,
		InvoiceNumber: "INV-" + id,
		Status:        status,
		PaymentMethod: domain.PaymentCash,
		Date:          time.Date(2024, 3, day, 12, 0, 0, 0, time.UTC),
		Items:         []domain.BillItem{{Item: domain.Item{ID: "1", Name: "Milk"}, BillQuantity: 1}},
	}
}

func TestNewResumesSequence(t *testing.T) {
	l, err := New([]domain.Bill{bill("a", 4, domain.BillCompleted, 1), bill("b", 9, domain.BillCompleted, 2)})
	if err != nil {
		t.Fatalf("new ledger failed: %v", err)
	}
	if got := l.Reserve(); got != 10 {
		t.Fatalf("expected next sequence 10, got %d", got)
	}
}

func TestAppendRejectsDuplicates(t *testing.T) {
	l, _ := New(nil)
	if err := l.Append(bill("a", 1, domain.BillCompleted, 1)); err != nil {
		t.Fatalf("append failed: %v", err)
	}
	if err := l.Append(bill("a", 2, domain.BillCompleted, 1)); !errors.Is(err, store.ErrValidation) {
		t.Fatalf("expected duplicate id rejection, got %v", err)
	}
	dup := bill("b", 2, domain.BillCompleted, 1)
	dup.InvoiceNumber = "INV-a"
	if err := l.Append(dup); !errors.Is(err, store.ErrValidation) {
		t.Fatalf("expected duplicate invoice rejection, got %v", err)
	}
}

func TestStatusTransitions(t *testing.T) {
	l, _ := New([]domain.Bill{bill("p", 1, domain.BillPending, 1), bill("c", 2, domain.BillCompleted, 1)})
	before := l.Version()

	got, err := l.SetStatus("p", domain.BillCancelled)
	if err != nil {
		t.Fatalf("cancel failed: %v", err)
	}
	if got.Status != domain.BillCancelled || l.Version() == before {
		t.Fatalf("expected cancelled bill and new version")
	}
	if _, err := l.SetStatus("p", domain.BillCompleted); !errors.Is(err, store.ErrValidation) {
		t.Fatalf("cancelled bill must not complete, got %v", err)
	}
	if _, err := l.SetStatus("c", domain.BillPending); !errors.Is(err, store.ErrValidation) {
		t.Fatalf("completed bill must not reopen, got %v", err)
	}
	if _, err := l.SetStatus("nope", domain.BillCompleted); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestListFiltersNewestFirst(t *testing.T) {
	l, _ := New(nil)
	for i, status := range []domain.BillStatus{domain.BillCompleted, domain.BillPending, domain.BillCompleted} {
		b := bill(string(rune('a'+i)), int64(i+1), status, i+1)
		if err := l.Append(b); err != nil {
			t.Fatalf("append failed: %v", err)
		}
	}

	all := l.List(domain.BillFilter{})
	if len(all) != 3 || all[0].ID != "c" {
		t.Fatalf("expected newest first, got %+v", all)
	}
	completed := l.List(domain.BillFilter{Status: domain.BillCompleted, Limit: 1})
	if len(completed) != 1 || completed[0].ID != "c" {
		t.Fatalf("unexpected filtered list: %+v", completed)
	}
	from := time.Date(2024, 3, 2, 0, 0, 0, 0, time.UTC)
	to := time.Date(2024, 3, 3, 0, 0, 0, 0, time.UTC)
	ranged := l.List(domain.BillFilter{From: &from, To: &to})
	if len(ranged) != 1 || ranged[0].ID != "b" {
		t.Fatalf("unexpected date range result: %+v", ranged)
	}
	if got := l.List(domain.BillFilter{Term: "milk"}); len(got) != 3 {
		t.Fatalf("expected item-name term to match all bills, got %d", len(got))
	}
}

func TestConcurrentReserveIsUnique(t *testing.T) {
	l, _ := New(nil)
	seen := make(map[int64]bool)
	var mu sync.Mutex
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			n := l.Reserve()
			mu.Lock()
			defer mu.Unlock()
			if seen[n] {
				t.Errorf("sequence %d handed out twice", n)
			}
			seen[n] = true
		}()
	}
	wg.Wait()
	if len(seen) != 100 {
		t.Fatalf("expected 100 distinct sequences, got %d", len(seen))
	}
}

func TestRevisionTracksEveryChange(t *testing.T) {
	l, err := New([]domain.Bill{bill("a", 1, domain.BillPending, 1)})
	if err != nil {
		t.Fatalf("new ledger failed: %v", err)
	}
	start := l.Revision()
	if _, rev := l.History(); rev != start {
		t.Fatalf("history read at %s, expected %s", rev, start)
	}

	if err := l.Append(bill("b", 2, domain.BillCompleted, 2)); err != nil {
		t.Fatalf("append failed: %v", err)
	}
	appended := l.Revision()
	if appended == start {
		t.Fatalf("expected append to change the revision")
	}
	if _, err := l.SetStatus("a", domain.BillCancelled); err != nil {
		t.Fatalf("set status failed: %v", err)
	}
	if l.Revision() == appended {
		t.Fatalf("expected a status change to change the revision")
	}

	// rejected writes leave it alone
	current := l.Revision()
	_ = l.Append(bill("b", 3, domain.BillCompleted, 3))
	if l.Revision() != current {
		t.Fatalf("expected a rejected append to keep the revision")
	}

	other, _ := New([]domain.Bill{bill("a", 1, domain.BillPending, 1)})
	if other.Revision() == start {
		t.Fatalf("expected separate ledgers to never share a revision")
	}
}
