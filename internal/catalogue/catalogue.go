// Package catalogue is the in-memory authoritative view of stock items.
// Every mutation, including the checkout decrement, is serialized through a
// single write lock; reads copy out a consistent snapshot under the read lock.
package catalogue

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"

	"posledger/internal/domain"
	"posledger/internal/money"
	"posledger/internal/store"
	"posledger/internal/xid"
)

const (
	manualUpdateReason = "Manual update"
	initialPriceReason = "Initial price"
)

type Store struct {
	mu       sync.RWMutex
	items    map[string]*domain.Item
	order    []string
	barcodes map[string]string
	ids      xid.Generator
	now      func() time.Time
	log      *slog.Logger
}

type Option func(*Store)

func WithIDs(g xid.Generator) Option {
	return func(s *Store) { s.ids = g }
}

func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.log = l }
}

// New builds a store from previously persisted items. Active items must not
// share a non-empty barcode.
func New(items []domain.Item, opts ...Option) (*Store, error) {
	s := &Store{
		items:    make(map[string]*domain.Item, len(items)),
		order:    make([]string, 0, len(items)),
		barcodes: make(map[string]string, len(items)),
		ids:      xid.Random{},
		now:      func() time.Time { return time.Now().UTC() },
		log:      slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}

	for _, item := range items {
		if item.ID == "" {
			return nil, store.Invalid("loaded item without id")
		}
		if _, exists := s.items[item.ID]; exists {
			return nil, store.Invalid(fmt.Sprintf("duplicate item id %s", item.ID))
		}
		if item.Active && item.Barcode != "" {
			if owner, taken := s.barcodes[item.Barcode]; taken {
				return nil, fmt.Errorf("barcode %s shared by %s and %s: %w", item.Barcode, owner, item.ID, store.ErrDuplicateBarcode)
			}
			s.barcodes[item.Barcode] = item.ID
		}
		copied := item.Clone()
		s.items[item.ID] = &copied
		s.order = append(s.order, item.ID)
	}
	return s, nil
}

func (s *Store) AddItem(item domain.Item) (domain.Item, error) {
	item = normalize(item)
	if err := validate(item); err != nil {
		return domain.Item{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if item.Barcode != "" {
		if owner, taken := s.barcodes[item.Barcode]; taken {
			return domain.Item{}, fmt.Errorf("barcode %s already used by %s: %w", item.Barcode, owner, store.ErrDuplicateBarcode)
		}
	}
	if item.ID == "" {
		item.ID = s.ids.New("item")
	}
	if _, exists := s.items[item.ID]; exists {
		return domain.Item{}, store.Invalid(fmt.Sprintf("item id %s already exists", item.ID))
	}

	item.Active = true
	item.LastUpdated = s.now()
	item.PriceHistory = []domain.PriceHistory{{
		ID:                 s.ids.New("ph"),
		ItemID:             item.ID,
		PurchasePriceCents: item.PurchasePriceCents,
		SellingPriceCents:  item.SellingPriceCents,
		ChangedAt:          item.LastUpdated,
		Reason:             initialPriceReason,
	}}

	stored := item.Clone()
	s.items[item.ID] = &stored
	s.order = append(s.order, item.ID)
	if item.Barcode != "" {
		s.barcodes[item.Barcode] = item.ID
	}
	return item.Clone(), nil
}

// EditItem replaces the editable fields of an existing active item. Price
// history, quantity and the active flag are owned by the store and cannot be
// rewritten by the caller; a price change appends one history entry.
func (s *Store) EditItem(item domain.Item, reason string) (domain.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.items[item.ID]
	if !ok || !current.Active {
		return domain.Item{}, store.NotFound("item", item.ID)
	}
	return s.replace(current, item, reason)
}

// UpdateItem applies a partial change to the item as it stands under the
// write lock, so a concurrent sale or stock count is never overwritten.
func (s *Store) UpdateItem(id string, reason string, apply func(*domain.Item)) (domain.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.items[id]
	if !ok || !current.Active {
		return domain.Item{}, store.NotFound("item", id)
	}
	next := current.Clone()
	apply(&next)
	next.ID = id
	return s.replace(current, next, reason)
}

// replace must be called with mu held.
func (s *Store) replace(current *domain.Item, item domain.Item, reason string) (domain.Item, error) {
	item = normalize(item)
	item.Quantity = current.Quantity
	if err := validate(item); err != nil {
		return domain.Item{}, err
	}
	if strings.TrimSpace(reason) == "" {
		reason = manualUpdateReason
	}
	if item.Barcode != "" && item.Barcode != current.Barcode {
		if owner, taken := s.barcodes[item.Barcode]; taken && owner != item.ID {
			return domain.Item{}, fmt.Errorf("barcode %s already used by %s: %w", item.Barcode, owner, store.ErrDuplicateBarcode)
		}
	}

	now := s.now()
	history := current.PriceHistory
	if item.SellingPriceCents != current.SellingPriceCents || item.PurchasePriceCents != current.PurchasePriceCents {
		history = append(history, domain.PriceHistory{
			ID:                 s.ids.New("ph"),
			ItemID:             item.ID,
			PurchasePriceCents: item.PurchasePriceCents,
			SellingPriceCents:  item.SellingPriceCents,
			ChangedAt:          now,
			Reason:             reason,
		})
	}

	if current.Barcode != item.Barcode {
		delete(s.barcodes, current.Barcode)
		if item.Barcode != "" {
			s.barcodes[item.Barcode] = item.ID
		}
	}

	item.PriceHistory = history
	item.Active = true
	item.LastUpdated = now
	*current = item.Clone()
	return current.Clone(), nil
}

// DeleteItem hides the item from new bills. The record stays so that
// historical bills and reports keep resolving it.
func (s *Store) DeleteItem(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.items[id]
	if !ok || !current.Active {
		return store.NotFound("item", id)
	}
	current.Active = false
	current.LastUpdated = s.now()
	if current.Barcode != "" && s.barcodes[current.Barcode] == id {
		delete(s.barcodes, current.Barcode)
	}
	return nil
}

func (s *Store) AdjustQuantity(id string, delta int) (domain.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.items[id]
	if !ok || !current.Active {
		return domain.Item{}, store.NotFound("item", id)
	}
	next := current.Quantity + delta
	if next < 0 {
		return domain.Item{}, &store.StockError{
			Kind:      store.ErrInsufficientStock,
			ItemID:    id,
			Name:      current.Name,
			Requested: -delta,
			Available: current.Quantity,
		}
	}
	current.Quantity = next
	current.LastUpdated = s.now()
	return current.Clone(), nil
}

// SetQuantity is the explicit stock correction used after a physical count.
func (s *Store) SetQuantity(id string, qty int) (domain.Item, error) {
	if qty < 0 {
		return domain.Item{}, store.Invalid("quantity must not be negative")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.items[id]
	if !ok || !current.Active {
		return domain.Item{}, store.NotFound("item", id)
	}
	if current.Quantity != qty {
		s.log.Info("stock corrected", "item_id", id, "from", current.Quantity, "to", qty)
	}
	current.Quantity = qty
	current.LastUpdated = s.now()
	return current.Clone(), nil
}

// BulkPriceUpdate applies one price rule to many items. A failing id never
// aborts the rest; it is reported in the failure list. The returned error is
// reserved for a malformed rule.
func (s *Store) BulkPriceUpdate(ids []string, updateType domain.BulkUpdateType, value float64, applyTo domain.PriceTarget) ([]domain.Item, []domain.BulkUpdateFailure, error) {
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return nil, nil, store.Invalid("value must be a finite number")
	}
	var reason string
	switch updateType {
	case domain.BulkFixed:
		if value < 0 {
			return nil, nil, store.Invalid("fixed price must not be negative")
		}
		reason = "Bulk update: Fixed price"
	case domain.BulkPercentage:
		direction := "increase"
		if value < 0 {
			direction = "decrease"
		}
		reason = fmt.Sprintf("Bulk update: %s%% %s", strconv.FormatFloat(math.Abs(value), 'f', -1, 64), direction)
	default:
		return nil, nil, store.Invalid(fmt.Sprintf("unknown update type %q", updateType))
	}
	switch applyTo {
	case domain.PriceSelling, domain.PricePurchase, domain.PriceBoth:
	default:
		return nil, nil, store.Invalid(fmt.Sprintf("unknown price target %q", applyTo))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	seen := make(map[string]struct{}, len(ids))
	updated := make([]domain.Item, 0, len(ids))
	failures := make([]domain.BulkUpdateFailure, 0)

	for _, id := range ids {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}

		current, ok := s.items[id]
		if !ok || !current.Active {
			failures = append(failures, domain.BulkUpdateFailure{ItemID: id, Reason: store.NotFound("item", id).Error()})
			continue
		}

		selling, purchase := current.SellingPriceCents, current.PurchasePriceCents
		if applyTo == domain.PriceSelling || applyTo == domain.PriceBoth {
			selling = nextPrice(selling, updateType, value)
		}
		if applyTo == domain.PricePurchase || applyTo == domain.PriceBoth {
			purchase = nextPrice(purchase, updateType, value)
		}
		if selling < 0 || purchase < 0 {
			failures = append(failures, domain.BulkUpdateFailure{ItemID: id, Reason: store.Invalid("resulting price would be negative").Error()})
			continue
		}

		current.SellingPriceCents = selling
		current.PurchasePriceCents = purchase
		current.PriceHistory = append(current.PriceHistory, domain.PriceHistory{
			ID:                 s.ids.New("ph"),
			ItemID:             id,
			PurchasePriceCents: purchase,
			SellingPriceCents:  selling,
			ChangedAt:          now,
			Reason:             reason,
		})
		current.LastUpdated = now
		updated = append(updated, current.Clone())
	}

	if len(failures) > 0 {
		s.log.Warn("bulk price update partially failed", "updated", len(updated), "failed", len(failures))
	}
	return updated, failures, nil
}

func nextPrice(current int64, updateType domain.BulkUpdateType, value float64) int64 {
	if updateType == domain.BulkFixed {
		return money.FromFloat(value)
	}
	return money.ApplyPercent(current, value)
}

func (s *Store) Get(id string) (domain.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	current, ok := s.items[id]
	if !ok {
		return domain.Item{}, store.NotFound("item", id)
	}
	return current.Clone(), nil
}

func (s *Store) FindByBarcode(code string) (domain.Item, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return domain.Item{}, store.Invalid("barcode is empty")
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.barcodes[code]
	if !ok {
		return domain.Item{}, store.NotFound("barcode", code)
	}
	return s.items[id].Clone(), nil
}

// Snapshot copies every item, deleted ones included, in insertion order.
func (s *Store) Snapshot() []domain.Item {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Item, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.items[id].Clone())
	}
	return out
}

func (s *Store) Active() []domain.Item {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Item, 0, len(s.order))
	for _, id := range s.order {
		if item := s.items[id]; item.Active {
			out = append(out, item.Clone())
		}
	}
	return out
}

// Demand is one quantity request against the catalogue.
type Demand struct {
	ItemID string
	Name   string
	Qty    int
}

// Commit validates every demand against current stock, decrements all of
// them and then runs fn, all under the write lock. If validation fails no
// quantity moves; if fn fails every decrement is reverted before the lock is
// released. It returns copies of the touched items as they stand afterwards.
func (s *Store) Commit(demands []Demand, fn func() error) ([]domain.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	merged := make(map[string]int, len(demands))
	names := make(map[string]string, len(demands))
	order := make([]string, 0, len(demands))
	for _, d := range demands {
		if d.Qty < 1 {
			return nil, store.Invalid(fmt.Sprintf("quantity for %s must be at least 1", d.ItemID))
		}
		if _, ok := merged[d.ItemID]; !ok {
			order = append(order, d.ItemID)
			names[d.ItemID] = d.Name
		}
		merged[d.ItemID] += d.Qty
	}
	if len(order) == 0 {
		return nil, store.Invalid("nothing to commit")
	}

	shortfalls := make([]domain.StockShortfall, 0)
	for _, id := range order {
		item, ok := s.items[id]
		available := 0
		name := names[id]
		if ok && item.Active {
			available = item.Quantity
			name = item.Name
		}
		if merged[id] > available {
			shortfalls = append(shortfalls, domain.StockShortfall{
				ItemID:    id,
				Name:      name,
				Requested: merged[id],
				Available: available,
			})
		}
	}
	if len(shortfalls) > 0 {
		return nil, &store.StockChangedError{Shortfalls: shortfalls}
	}

	type previous struct {
		qty     int
		updated time.Time
	}
	undo := make(map[string]previous, len(order))
	rollback := func() {
		for id, prev := range undo {
			s.items[id].Quantity = prev.qty
			s.items[id].LastUpdated = prev.updated
		}
	}

	now := s.now()
	for _, id := range order {
		item := s.items[id]
		if item.Quantity-merged[id] < 0 {
			rollback()
			return nil, &store.StockError{Kind: store.ErrInsufficientStock, ItemID: id, Name: item.Name, Requested: merged[id], Available: item.Quantity}
		}
		undo[id] = previous{qty: item.Quantity, updated: item.LastUpdated}
		item.Quantity -= merged[id]
		item.LastUpdated = now
	}

	if fn != nil {
		if err := fn(); err != nil {
			rollback()
			return nil, err
		}
	}

	touched := make([]domain.Item, 0, len(order))
	for _, id := range order {
		touched = append(touched, s.items[id].Clone())
	}
	return touched, nil
}

func normalize(item domain.Item) domain.Item {
	item.Name = strings.TrimSpace(item.Name)
	item.Barcode = strings.TrimSpace(item.Barcode)
	item.Category = strings.TrimSpace(item.Category)
	if item.Category == "" {
		item.Category = domain.DefaultCategory
	}
	if item.Unit == "" {
		item.Unit = domain.UnitPieces
	}
	return item
}

func validate(item domain.Item) error {
	var errs []error
	if item.Name == "" {
		errs = append(errs, errors.New("name is required"))
	}
	if !item.Unit.Valid() {
		errs = append(errs, fmt.Errorf("unit %q is not one of kg, g, l, ml, pcs", item.Unit))
	}
	if item.Quantity < 0 {
		errs = append(errs, errors.New("quantity must not be negative"))
	}
	if item.SellingPriceCents < 0 || item.PurchasePriceCents < 0 {
		errs = append(errs, errors.New("prices must not be negative"))
	}
	if item.ReorderPoint < 0 {
		errs = append(errs, errors.New("reorder point must not be negative"))
	}
	if item.MinMargin < 0 || item.MinMargin >= 1 {
		errs = append(errs, errors.New("minimum margin must be in [0, 1)"))
	}
	if len(errs) > 0 {
		return store.Invalid(errors.Join(errs...).Error())
	}
	return nil
}
