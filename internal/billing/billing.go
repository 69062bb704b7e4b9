// Package billing turns cart lines into a Bill. Compile is pure: the bill id,
// sequence and date arrive in the Stamp so the same input always produces the
// same Bill.
package billing

import (
	"fmt"
	"math"
	"time"

	"posledger/internal/domain"
	"posledger/internal/money"
	"posledger/internal/store"
)

type Stamp struct {
	BillID   string
	Sequence int64
	Date     time.Time
}

type Input struct {
	Lines         []domain.BillItem
	Overrides     []domain.PriceOverride
	DiscountCents int64
	PaymentMethod domain.PaymentMethod
	Customer      *domain.Customer
	// TaxRate is a fraction, 0.18 for 18%.
	TaxRate float64
	Notes   string
	Stamp   Stamp
}

// InvoiceNumber renders INV-YYMM-NNNNNN. The sequence is unique per ledger,
// which keeps the number unique however many bills share a month.
func InvoiceNumber(sequence int64, date time.Time) string {
	return fmt.Sprintf("INV-%s-%06d", date.Format("0601"), sequence)
}

func Compile(in Input) (domain.Bill, error) {
	if len(in.Lines) == 0 {
		return domain.Bill{}, store.Invalid("cart is empty")
	}
	if !in.PaymentMethod.Valid() {
		return domain.Bill{}, store.Invalid(fmt.Sprintf("payment method %q is not one of cash, card, upi", in.PaymentMethod))
	}
	if math.IsNaN(in.TaxRate) || in.TaxRate < 0 || in.TaxRate > 1 {
		return domain.Bill{}, store.Invalid("tax rate must be between 0 and 1")
	}
	if in.Stamp.BillID == "" || in.Stamp.Sequence < 1 {
		return domain.Bill{}, store.Invalid("bill stamp is incomplete")
	}

	items := make([]domain.BillItem, 0, len(in.Lines))
	present := make(map[string]struct{}, len(in.Lines))
	var subtotal, profit int64
	for _, line := range in.Lines {
		if line.BillQuantity < 1 {
			return domain.Bill{}, store.Invalid(fmt.Sprintf("quantity for %s must be at least 1", line.Name))
		}
		if line.EffectivePriceCents() < 0 {
			return domain.Bill{}, store.Invalid(fmt.Sprintf("price for %s must not be negative", line.Name))
		}
		item := line.Clone()
		item.ProfitMargin = money.Ratio(item.EffectivePriceCents()-item.PurchasePriceCents, item.EffectivePriceCents())
		subtotal += item.LineTotalCents()
		profit += item.LineProfitCents()
		items = append(items, item)
		present[item.ID] = struct{}{}
	}

	if in.DiscountCents < 0 || in.DiscountCents > subtotal {
		return domain.Bill{}, fmt.Errorf("%w: discount %d must be between 0 and subtotal %d",
			store.ErrInvalidDiscount, in.DiscountCents, subtotal)
	}

	tax := money.ApplyRate(subtotal, in.TaxRate)

	var overrides []domain.PriceOverride
	for _, o := range in.Overrides {
		if _, ok := present[o.ItemID]; ok {
			overrides = append(overrides, o)
		}
	}

	var customer *domain.Customer
	if in.Customer != nil {
		c := *in.Customer
		customer = &c
	}

	return domain.Bill{
		ID:               in.Stamp.BillID,
		Sequence:         in.Stamp.Sequence,
		InvoiceNumber:    InvoiceNumber(in.Stamp.Sequence, in.Stamp.Date),
		Items:            items,
		SubtotalCents:    subtotal,
		DiscountCents:    in.DiscountCents,
		TaxRate:          in.TaxRate,
		TaxCents:         tax,
		TotalCents:       subtotal - in.DiscountCents + tax,
		TotalProfitCents: profit,
		ProfitMargin:     money.Ratio(profit, subtotal),
		Date:             in.Stamp.Date,
		Customer:         customer,
		PaymentMethod:    in.PaymentMethod,
		Status:           domain.BillPending,
		Notes:            in.Notes,
		PriceOverrides:   overrides,
	}, nil
}
