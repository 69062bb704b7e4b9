// Package cart holds the uncommitted lines of one in-progress sale.
package cart

import (
	"fmt"
	"strings"
	"sync"

	"posledger/internal/domain"
	"posledger/internal/money"
	"posledger/internal/store"
)

// Catalogue is the read side of the catalogue the cart checks stock against.
type Catalogue interface {
	Get(id string) (domain.Item, error)
}

type Cart struct {
	mu        sync.Mutex
	catalogue Catalogue
	lines     []domain.BillItem
	overrides []domain.PriceOverride
}

func New(catalogue Catalogue) *Cart {
	return &Cart{catalogue: catalogue}
}

// AddItem puts qty units of the item in the cart, merging with an existing
// line. A qty of 0 means 1.
func (c *Cart) AddItem(itemID string, qty int) (domain.BillItem, error) {
	if qty == 0 {
		qty = 1
	}
	if qty < 0 {
		return domain.BillItem{}, store.Invalid("quantity must be positive")
	}

	item, err := c.available(itemID)
	if err != nil {
		return domain.BillItem{}, err
	}
	if item.Quantity == 0 {
		return domain.BillItem{}, &store.StockError{Kind: store.ErrOutOfStock, ItemID: item.ID, Name: item.Name}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	idx := c.indexOf(itemID)
	inCart := 0
	if idx >= 0 {
		inCart = c.lines[idx].BillQuantity
	}
	if inCart+qty > item.Quantity {
		return domain.BillItem{}, &store.StockError{
			Kind:      store.ErrInsufficientStock,
			ItemID:    item.ID,
			Name:      item.Name,
			Requested: inCart + qty,
			Available: item.Quantity,
		}
	}

	if idx >= 0 {
		c.lines[idx].BillQuantity += qty
		return c.lines[idx].Clone(), nil
	}

	snapshot := item.Clone()
	snapshot.PriceHistory = nil
	line := domain.BillItem{
		Item:               snapshot,
		BillQuantity:       qty,
		OriginalPriceCents: item.SellingPriceCents,
	}
	line.ProfitMargin = lineMargin(line)
	c.lines = append(c.lines, line)
	return line.Clone(), nil
}

// UpdateQuantity moves a line by delta. A result below 1 or above the
// catalogue quantity is rejected and the line is left as it was.
func (c *Cart) UpdateQuantity(itemID string, delta int) (domain.BillItem, error) {
	item, err := c.available(itemID)
	if err != nil {
		return domain.BillItem{}, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	idx := c.indexOf(itemID)
	if idx < 0 {
		return domain.BillItem{}, store.NotFound("cart line", itemID)
	}
	next := c.lines[idx].BillQuantity + delta
	if next < 1 {
		return domain.BillItem{}, store.Invalid(fmt.Sprintf("quantity for %s must stay at least 1; remove the line instead", item.Name))
	}
	if next > item.Quantity {
		return domain.BillItem{}, &store.StockError{
			Kind:      store.ErrInsufficientStock,
			ItemID:    item.ID,
			Name:      item.Name,
			Requested: next,
			Available: item.Quantity,
		}
	}
	c.lines[idx].BillQuantity = next
	return c.lines[idx].Clone(), nil
}

func (c *Cart) RemoveItem(itemID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if idx := c.indexOf(itemID); idx >= 0 {
		c.lines = append(c.lines[:idx], c.lines[idx+1:]...)
	}
	kept := c.overrides[:0]
	for _, o := range c.overrides {
		if o.ItemID != itemID {
			kept = append(kept, o)
		}
	}
	c.overrides = kept
}

func (c *Cart) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lines = nil
	c.overrides = nil
}

// OverridePrice sets a manual selling price on one line and records who
// authorized it.
func (c *Cart) OverridePrice(itemID string, priceCents int64, authorizedBy string, reason string) (domain.BillItem, error) {
	if priceCents < 0 {
		return domain.BillItem{}, store.Invalid("override price must not be negative")
	}
	authorizedBy = strings.TrimSpace(authorizedBy)
	if authorizedBy == "" {
		return domain.BillItem{}, store.Invalid("price override needs an authorizer")
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return domain.BillItem{}, store.Invalid("price override needs a reason")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	idx := c.indexOf(itemID)
	if idx < 0 {
		return domain.BillItem{}, store.NotFound("cart line", itemID)
	}
	line := &c.lines[idx]
	price := priceCents
	line.OverriddenPriceCents = &price
	line.OverriddenBy = authorizedBy
	line.ProfitMargin = lineMargin(*line)

	c.overrides = append(c.overrides, domain.PriceOverride{
		ItemID:               itemID,
		OriginalPriceCents:   line.OriginalPriceCents,
		OverriddenPriceCents: priceCents,
		AuthorizedBy:         authorizedBy,
		Reason:               reason,
	})
	return line.Clone(), nil
}

func (c *Cart) Subtotal() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	var total int64
	for _, line := range c.lines {
		total += line.LineTotalCents()
	}
	return total
}

func (c *Cart) Lines() []domain.BillItem {
	lines, _ := c.Snapshot()
	return lines
}

// Snapshot copies the lines and the override audit trail together.
func (c *Cart) Snapshot() ([]domain.BillItem, []domain.PriceOverride) {
	c.mu.Lock()
	defer c.mu.Unlock()

	lines := make([]domain.BillItem, len(c.lines))
	for i, line := range c.lines {
		lines[i] = line.Clone()
	}
	var overrides []domain.PriceOverride
	if len(c.overrides) > 0 {
		overrides = append(overrides, c.overrides...)
	}
	return lines, overrides
}

// Take claims the whole cart for one billing attempt: it returns the lines
// and overrides and leaves the cart empty, so a second submit of the same
// cart finds nothing to bill. A failed attempt hands the claim back with
// Restore.
func (c *Cart) Take() ([]domain.BillItem, []domain.PriceOverride) {
	c.mu.Lock()
	defer c.mu.Unlock()

	lines, overrides := c.lines, c.overrides
	c.lines, c.overrides = nil, nil
	return lines, overrides
}

// Restore puts back lines claimed by Take. Lines added since the claim are
// kept; a line for the same item is folded into the restored one.
func (c *Cart) Restore(lines []domain.BillItem, overrides []domain.PriceOverride) {
	if len(lines) == 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	restored := make([]domain.BillItem, 0, len(lines)+len(c.lines))
	for _, line := range lines {
		restored = append(restored, line.Clone())
	}
	for _, added := range c.lines {
		merged := false
		for i := range restored {
			if restored[i].ID == added.ID {
				restored[i].BillQuantity += added.BillQuantity
				merged = true
				break
			}
		}
		if !merged {
			restored = append(restored, added)
		}
	}
	c.lines = restored
	c.overrides = append(append([]domain.PriceOverride(nil), overrides...), c.overrides...)
}

func (c *Cart) Empty() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.lines) == 0
}

func (c *Cart) available(itemID string) (domain.Item, error) {
	item, err := c.catalogue.Get(itemID)
	if err != nil {
		return domain.Item{}, err
	}
	if !item.Active {
		return domain.Item{}, store.NotFound("item", itemID)
	}
	return item, nil
}

func (c *Cart) indexOf(itemID string) int {
	for i, line := range c.lines {
		if line.ID == itemID {
			return i
		}
	}
	return -1
}

func lineMargin(line domain.BillItem) float64 {
	price := line.EffectivePriceCents()
	return money.Ratio(price-line.PurchasePriceCents, price)
}
