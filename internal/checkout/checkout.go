// Package checkout turns a cart into a completed bill. Each attempt walks
// Draft → Validating → Committing → Completed, or ends in Failed with the
// catalogue, ledger and cart exactly as they were.
package checkout

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"posledger/internal/alerts"
	"posledger/internal/billing"
	"posledger/internal/cart"
	"posledger/internal/catalogue"
	"posledger/internal/domain"
	"posledger/internal/ledger"
	"posledger/internal/store"
	"posledger/internal/xid"
)

type State string

const (
	StateDraft      State = "draft"
	StateValidating State = "validating"
	StateCommitting State = "committing"
	StateCompleted  State = "completed"
	StateFailed     State = "failed"
)

// Transition is reported to the hook on every state change of an attempt.
type Transition struct {
	Attempt string
	From    State
	To      State
	Err     error
}

type Request struct {
	DiscountCents int64
	PaymentMethod domain.PaymentMethod
	Customer      *domain.Customer
	// TaxRate is a fraction; the caller decides the policy.
	TaxRate float64
	Notes   string
}

type Result struct {
	Bill domain.Bill
	// Items are the catalogue entries as they stand after the decrement.
	Items  []domain.Item
	Alerts []domain.PriceAlert
}

type Coordinator struct {
	catalogue *catalogue.Store
	ledger    *ledger.Ledger
	alerts    *alerts.Generator
	ids       xid.Generator
	now       func() time.Time
	log       *slog.Logger
	hook      func(Transition)
}

type Option func(*Coordinator)

func WithIDs(g xid.Generator) Option {
	return func(c *Coordinator) { c.ids = g }
}

func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) { c.now = now }
}

func WithLogger(l *slog.Logger) Option {
	return func(c *Coordinator) { c.log = l }
}

func WithTransitionHook(fn func(Transition)) Option {
	return func(c *Coordinator) { c.hook = fn }
}

func New(cat *catalogue.Store, led *ledger.Ledger, gen *alerts.Generator, opts ...Option) *Coordinator {
	c := &Coordinator{
		catalogue: cat,
		ledger:    led,
		alerts:    gen,
		ids:       xid.Random{},
		now:       func() time.Time { return time.Now().UTC() },
		log:       slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type attempt struct {
	c     *Coordinator
	id    string
	state State
}

func (c *Coordinator) begin() *attempt {
	return &attempt{c: c, id: c.ids.New("attempt"), state: StateDraft}
}

func (a *attempt) move(to State, err error) {
	from := a.state
	a.state = to
	if err != nil {
		a.c.log.Warn("checkout transition", "attempt", a.id, "from", from, "to", to, "error", err)
	} else {
		a.c.log.Debug("checkout transition", "attempt", a.id, "from", from, "to", to)
	}
	if a.c.hook != nil {
		a.c.hook(Transition{Attempt: a.id, From: from, To: to, Err: err})
	}
}

func (a *attempt) fail(err error) error {
	a.move(StateFailed, err)
	return err
}

// Checkout claims the cart, validates it against current stock, decrements
// it and records a completed bill. A failed attempt gives the lines back. Stock validation reports every short
// line at once as a StockChangedError.
func (c *Coordinator) Checkout(cr *cart.Cart, req Request) (Result, error) {
	a := c.begin()
	lines, overrides := cr.Take()

	a.move(StateValidating, nil)
	// A dry compile catches discount and input errors before stock is locked.
	if _, err := billing.Compile(c.input(lines, overrides, req, billing.Stamp{BillID: "check", Sequence: 1, Date: c.now()})); err != nil {
		cr.Restore(lines, overrides)
		return Result{}, a.fail(err)
	}

	var bill domain.Bill
	touched, err := c.catalogue.Commit(demands(lines), func() error {
		a.move(StateCommitting, nil)
		stamp := billing.Stamp{BillID: c.ids.New("bill"), Sequence: c.ledger.Reserve(), Date: c.now()}
		compiled, err := billing.Compile(c.input(lines, overrides, req, stamp))
		if err != nil {
			return err
		}
		compiled.Status = domain.BillCompleted
		if err := c.ledger.Append(compiled); err != nil {
			return fmt.Errorf("record bill: %w", err)
		}
		bill = compiled
		return nil
	})
	if err != nil {
		cr.Restore(lines, overrides)
		return Result{}, a.fail(err)
	}

	a.move(StateCompleted, nil)
	c.log.Info("checkout completed", "bill_id", bill.ID, "invoice", bill.InvoiceNumber, "total_cents", bill.TotalCents)

	return Result{Bill: bill, Items: touched, Alerts: c.alerts.Scan(touched)}, nil
}

// Quote compiles the cart as it would be billed now. Nothing is reserved,
// recorded or decremented.
func (c *Coordinator) Quote(cr *cart.Cart, req Request) (domain.Bill, error) {
	lines, overrides := cr.Snapshot()
	return billing.Compile(c.input(lines, overrides, req, billing.Stamp{
		BillID:   "quote",
		Sequence: c.ledger.Peek(),
		Date:     c.now(),
	}))
}

// Park records the cart as a pending bill and clears it. Stock is only taken
// when the bill is settled.
func (c *Coordinator) Park(cr *cart.Cart, req Request) (domain.Bill, error) {
	lines, overrides := cr.Take()
	stamp := billing.Stamp{BillID: c.ids.New("bill"), Sequence: c.ledger.Reserve(), Date: c.now()}
	bill, err := billing.Compile(c.input(lines, overrides, req, stamp))
	if err != nil {
		cr.Restore(lines, overrides)
		return domain.Bill{}, err
	}
	if err := c.ledger.Append(bill); err != nil {
		cr.Restore(lines, overrides)
		return domain.Bill{}, fmt.Errorf("record bill: %w", err)
	}
	c.log.Info("bill parked", "bill_id", bill.ID, "invoice", bill.InvoiceNumber)
	return bill, nil
}

// Settle completes a pending bill, taking its stock under the same
// all-or-nothing rules as Checkout.
func (c *Coordinator) Settle(billID string) (Result, error) {
	a := c.begin()
	a.move(StateValidating, nil)

	pending, err := c.ledger.Get(billID)
	if err != nil {
		return Result{}, a.fail(err)
	}
	if !ledger.CanTransition(pending.Status, domain.BillCompleted) {
		return Result{}, a.fail(store.Invalid(fmt.Sprintf("bill %s is %s, not pending", billID, pending.Status)))
	}

	var bill domain.Bill
	touched, err := c.catalogue.Commit(demands(pending.Items), func() error {
		a.move(StateCommitting, nil)
		settled, err := c.ledger.SetStatus(billID, domain.BillCompleted)
		if err != nil {
			return err
		}
		bill = settled
		return nil
	})
	if err != nil {
		return Result{}, a.fail(err)
	}

	a.move(StateCompleted, nil)
	c.log.Info("bill settled", "bill_id", bill.ID, "invoice", bill.InvoiceNumber)
	return Result{Bill: bill, Items: touched, Alerts: c.alerts.Scan(touched)}, nil
}

func (c *Coordinator) Cancel(billID string) (domain.Bill, error) {
	bill, err := c.ledger.SetStatus(billID, domain.BillCancelled)
	if err != nil {
		return domain.Bill{}, err
	}
	c.log.Info("bill cancelled", "bill_id", bill.ID, "invoice", bill.InvoiceNumber)
	return bill, nil
}

// IsStockConflict reports whether err means the cart no longer fits stock
// and the cashier has to adjust it before retrying.
func IsStockConflict(err error) bool {
	return errors.Is(err, store.ErrStockChanged) || errors.Is(err, store.ErrInsufficientStock) || errors.Is(err, store.ErrOutOfStock)
}

func (c *Coordinator) input(lines []domain.BillItem, overrides []domain.PriceOverride, req Request, stamp billing.Stamp) billing.Input {
	return billing.Input{
		Lines:         lines,
		Overrides:     overrides,
		DiscountCents: req.DiscountCents,
		PaymentMethod: req.PaymentMethod,
		Customer:      req.Customer,
		TaxRate:       req.TaxRate,
		Notes:         req.Notes,
		Stamp:         stamp,
	}
}

func demands(lines []domain.BillItem) []catalogue.Demand {
	out := make([]catalogue.Demand, 0, len(lines))
	for _, line := range lines {
		out = append(out, catalogue.Demand{ItemID: line.ID, Name: line.Name, Qty: line.BillQuantity})
	}
	return out
}
