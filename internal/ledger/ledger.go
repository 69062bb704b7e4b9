// Package ledger is the append-only bill history. It owns the invoice
// sequence, so invoice numbers stay unique for the lifetime of the history.
package ledger

import (
	"fmt"
	"sync"

	"posledger/internal/domain"
	"posledger/internal/store"
	"posledger/internal/xid"
)

type Ledger struct {
	mu       sync.RWMutex
	bills    []domain.Bill
	index    map[string]int
	invoices map[string]string
	seq      int64
	version  uint64
	// epoch tells histories of different processes apart in shared caches.
	epoch string
}

// New loads an existing history in chronological order and resumes the
// sequence after the highest one seen.
func New(history []domain.Bill) (*Ledger, error) {
	l := &Ledger{
		bills:    make([]domain.Bill, 0, len(history)),
		index:    make(map[string]int, len(history)),
		invoices: make(map[string]string, len(history)),
		epoch:    xid.New("ledger"),
	}
	for _, bill := range history {
		if err := l.insert(bill); err != nil {
			return nil, err
		}
	}
	return l, nil
}

// Reserve hands out the next invoice sequence. A reserved number that never
// reaches Append leaves a gap, never a duplicate.
func (l *Ledger) Reserve() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.seq++
	return l.seq
}

// Peek shows the sequence the next Reserve would return, for previews.
func (l *Ledger) Peek() int64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.seq + 1
}

func (l *Ledger) Append(bill domain.Bill) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.insert(bill)
}

func (l *Ledger) insert(bill domain.Bill) error {
	if bill.ID == "" {
		return store.Invalid("bill without id")
	}
	if _, exists := l.index[bill.ID]; exists {
		return store.Invalid(fmt.Sprintf("bill %s already recorded", bill.ID))
	}
	if owner, exists := l.invoices[bill.InvoiceNumber]; exists && bill.InvoiceNumber != "" {
		return store.Invalid(fmt.Sprintf("invoice %s already used by bill %s", bill.InvoiceNumber, owner))
	}

	l.index[bill.ID] = len(l.bills)
	if bill.InvoiceNumber != "" {
		l.invoices[bill.InvoiceNumber] = bill.ID
	}
	l.bills = append(l.bills, bill.Clone())
	if bill.Sequence > l.seq {
		l.seq = bill.Sequence
	}
	l.version++
	return nil
}

// CanTransition reports whether a bill may move from one status to another.
// Only pending bills change, and only to completed or cancelled.
func CanTransition(from, to domain.BillStatus) bool {
	return from == domain.BillPending && (to == domain.BillCompleted || to == domain.BillCancelled)
}

func (l *Ledger) SetStatus(id string, status domain.BillStatus) (domain.Bill, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	idx, ok := l.index[id]
	if !ok {
		return domain.Bill{}, store.NotFound("bill", id)
	}
	current := l.bills[idx].Status
	if !CanTransition(current, status) {
		return domain.Bill{}, store.Invalid(fmt.Sprintf("bill %s cannot move from %s to %s", id, current, status))
	}
	l.bills[idx].Status = status
	l.version++
	return l.bills[idx].Clone(), nil
}

func (l *Ledger) Get(id string) (domain.Bill, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	idx, ok := l.index[id]
	if !ok {
		return domain.Bill{}, store.NotFound("bill", id)
	}
	return l.bills[idx].Clone(), nil
}

// List returns matching bills newest first, capped by filter.Limit when set.
func (l *Ledger) List(filter domain.BillFilter) []domain.Bill {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]domain.Bill, 0)
	for i := len(l.bills) - 1; i >= 0; i-- {
		if !filter.Match(l.bills[i]) {
			continue
		}
		out = append(out, l.bills[i].Clone())
		if filter.Limit > 0 && len(out) == filter.Limit {
			break
		}
	}
	return out
}

// History returns every bill in chronological order together with the
// revision it was read at.
func (l *Ledger) History() ([]domain.Bill, string) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]domain.Bill, len(l.bills))
	for i, bill := range l.bills {
		out[i] = bill.Clone()
	}
	return out, l.revision()
}

// Revision identifies the current content of the history. Two reads with the
// same revision saw the same bills.
func (l *Ledger) Revision() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.revision()
}

func (l *Ledger) revision() string {
	return fmt.Sprintf("%s.%d", l.epoch, l.version)
}

// Version changes whenever a bill is appended or changes status.
func (l *Ledger) Version() uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.version
}
