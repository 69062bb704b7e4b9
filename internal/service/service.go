package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"posledger/internal/alerts"
	"posledger/internal/analytics"
	"posledger/internal/cache"
	"posledger/internal/cart"
	"posledger/internal/catalogue"
	"posledger/internal/checkout"
	"posledger/internal/domain"
	"posledger/internal/ledger"
	"posledger/internal/money"
	"posledger/internal/store"
	"posledger/internal/xid"
)

const DefaultTerminal = "main"

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

// PINVerifier authorizes manager-only actions such as price overrides.
type PINVerifier interface {
	ValidateManagerPIN(pin string) bool
}

type Options struct {
	Logger         *slog.Logger
	TaxRatePercent float64
	Currency       string
	Cache          cache.AnalyticsCache
	CacheTTL       time.Duration
	Notifier       Notifier
	PINs           PINVerifier
	IDs            xid.Generator
	Clock          func() time.Time
}

type Service struct {
	repo      store.Repository
	log       *slog.Logger
	taxRate   float64
	catalogue *catalogue.Store
	ledger    *ledger.Ledger
	alerts    *alerts.Generator
	checkout  *checkout.Coordinator
	reports   *analytics.Aggregator
	notifier  Notifier
	pins      PINVerifier
	now       func() time.Time

	mu    sync.Mutex
	carts map[string]*cart.Cart

	saveMu sync.Mutex

	pending sync.WaitGroup
}

// New rebuilds the in-memory core from the repository: the catalogue, the
// bill history (which also resumes the invoice sequence) and the alerts.
func New(ctx context.Context, repo store.Repository, opts Options) (*Service, error) {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.IDs == nil {
		opts.IDs = xid.Random{}
	}
	if opts.Clock == nil {
		opts.Clock = func() time.Time { return time.Now().UTC() }
	}
	if opts.Notifier == nil {
		opts.Notifier = LogNotifier{Log: opts.Logger.With("component", "receipts"), Currency: opts.Currency}
	}
	if opts.TaxRatePercent < 0 || opts.TaxRatePercent > 100 {
		return nil, store.Invalid("tax rate percent must be between 0 and 100")
	}
	log := opts.Logger.With("component", "service")

	items, err := repo.LoadCatalogue(ctx)
	if err != nil {
		return nil, fmt.Errorf("load catalogue: %w", err)
	}
	cat, err := catalogue.New(items,
		catalogue.WithIDs(opts.IDs),
		catalogue.WithClock(opts.Clock),
		catalogue.WithLogger(opts.Logger.With("component", "catalogue")))
	if err != nil {
		return nil, fmt.Errorf("build catalogue: %w", err)
	}

	bills, err := repo.ListBills(ctx, domain.BillFilter{})
	if err != nil {
		return nil, fmt.Errorf("load bills: %w", err)
	}
	led, err := ledger.New(bills)
	if err != nil {
		return nil, fmt.Errorf("build ledger: %w", err)
	}

	existing, err := repo.ListAlerts(ctx)
	if err != nil {
		return nil, fmt.Errorf("load alerts: %w", err)
	}
	gen := alerts.New(existing,
		alerts.WithIDs(opts.IDs),
		alerts.WithClock(opts.Clock),
		alerts.WithLogger(opts.Logger.With("component", "alerts")))

	coord := checkout.New(cat, led, gen,
		checkout.WithIDs(opts.IDs),
		checkout.WithClock(opts.Clock),
		checkout.WithLogger(opts.Logger.With("component", "checkout")))

	log.Info("core loaded", "items", len(items), "bills", len(bills), "alerts", len(existing), "next_sequence", led.Peek())

	return &Service{
		repo:      repo,
		log:       log,
		taxRate:   money.PercentToRate(opts.TaxRatePercent),
		catalogue: cat,
		ledger:    led,
		alerts:    gen,
		checkout:  coord,
		reports:   analytics.NewAggregator(led, opts.Cache, opts.CacheTTL, opts.Logger.With("component", "analytics")),
		notifier:  opts.Notifier,
		pins:      opts.PINs,
		now:       opts.Clock,
		carts:     make(map[string]*cart.Cart),
	}, nil
}

// Close waits for outstanding bill notifications.
func (s *Service) Close() {
	s.pending.Wait()
}

func requireAdmin(ctx context.Context) error {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != "admin" {
		return fmt.Errorf("admin role required: %w", store.ErrForbidden)
	}
	return nil
}

func (s *Service) cart(terminalID string) *cart.Cart {
	terminalID = strings.TrimSpace(terminalID)
	if terminalID == "" {
		terminalID = DefaultTerminal
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.carts[terminalID]
	if !ok {
		c = cart.New(s.catalogue)
		s.carts[terminalID] = c
	}
	return c
}

// persistItems writes items through to the repository. The in-memory core is
// already committed, so a failure is logged rather than returned. Saves run
// one at a time and write the item as the catalogue holds it now, not the
// caller's copy, so the stored quantity never falls behind a later sale.
func (s *Service) persistItems(ctx context.Context, items ...domain.Item) {
	s.saveMu.Lock()
	defer s.saveMu.Unlock()

	for _, item := range items {
		if latest, err := s.catalogue.Get(item.ID); err == nil {
			item = latest
		}
		if err := s.repo.SaveItem(ctx, item); err != nil {
			s.log.Error("persist item failed", "item_id", item.ID, "error", err)
		}
	}
}

func (s *Service) persistAlerts(ctx context.Context, raised []domain.PriceAlert) {
	for _, alert := range raised {
		if err := s.repo.SaveAlert(ctx, alert); err != nil {
			s.log.Error("persist alert failed", "alert_id", alert.ID, "error", err)
		}
	}
}

func (s *Service) scan(ctx context.Context, items ...domain.Item) {
	s.persistAlerts(ctx, s.alerts.Scan(items))
}

// Items

func (s *Service) ListItems(_ context.Context) []domain.Item {
	return s.catalogue.Active()
}

func (s *Service) GetItem(_ context.Context, id string) (domain.Item, error) {
	return s.catalogue.Get(id)
}

func (s *Service) AddItem(ctx context.Context, req domain.ItemCreateRequest) (domain.Item, error) {
	if err := requireAdmin(ctx); err != nil {
		return domain.Item{}, err
	}
	item, err := s.catalogue.AddItem(domain.Item{
		Name:               req.Name,
		Quantity:           req.Quantity,
		Unit:               req.Unit,
		SellingPriceCents:  req.SellingPriceCents,
		PurchasePriceCents: req.PurchasePriceCents,
		Barcode:            req.Barcode,
		Category:           req.Category,
		Image:              req.Image,
		MinMargin:          req.MinMargin,
		ReorderPoint:       req.ReorderPoint,
	})
	if err != nil {
		return domain.Item{}, err
	}
	s.persistItems(ctx, item)
	s.scan(ctx, item)
	return item, nil
}

func (s *Service) EditItem(ctx context.Context, id string, req domain.ItemUpdateRequest) (domain.Item, error) {
	if err := requireAdmin(ctx); err != nil {
		return domain.Item{}, err
	}
	updated, err := s.catalogue.UpdateItem(id, req.Reason, func(it *domain.Item) {
		if req.Name != nil {
			it.Name = *req.Name
		}
		if req.Unit != nil {
			it.Unit = *req.Unit
		}
		if req.SellingPriceCents != nil {
			it.SellingPriceCents = *req.SellingPriceCents
		}
		if req.PurchasePriceCents != nil {
			it.PurchasePriceCents = *req.PurchasePriceCents
		}
		if req.Barcode != nil {
			it.Barcode = *req.Barcode
		}
		if req.Category != nil {
			it.Category = *req.Category
		}
		if req.Image != nil {
			it.Image = *req.Image
		}
		if req.MinMargin != nil {
			it.MinMargin = *req.MinMargin
		}
		if req.ReorderPoint != nil {
			it.ReorderPoint = *req.ReorderPoint
		}
	})
	if err != nil {
		return domain.Item{}, err
	}
	s.persistItems(ctx, updated)
	s.scan(ctx, updated)
	return updated, nil
}

func (s *Service) DeleteItem(ctx context.Context, id string) error {
	if err := requireAdmin(ctx); err != nil {
		return err
	}
	if err := s.catalogue.DeleteItem(id); err != nil {
		return err
	}
	item, err := s.catalogue.Get(id)
	if err != nil {
		return err
	}
	s.persistItems(ctx, item)
	return nil
}

// AdjustStock applies a delta, or replaces the quantity when Count is set.
func (s *Service) AdjustStock(ctx context.Context, id string, req domain.StockAdjustRequest) (domain.Item, error) {
	if err := requireAdmin(ctx); err != nil {
		return domain.Item{}, err
	}
	var (
		item domain.Item
		err  error
	)
	if req.Count != nil {
		item, err = s.catalogue.SetQuantity(id, *req.Count)
	} else {
		item, err = s.catalogue.AdjustQuantity(id, req.Delta)
	}
	if err != nil {
		return domain.Item{}, err
	}
	s.persistItems(ctx, item)
	s.scan(ctx, item)
	return item, nil
}

func (s *Service) BulkPriceUpdate(ctx context.Context, req domain.BulkPriceUpdateRequest) (domain.BulkPriceUpdateResult, error) {
	if err := requireAdmin(ctx); err != nil {
		return domain.BulkPriceUpdateResult{}, err
	}
	updated, failures, err := s.catalogue.BulkPriceUpdate(req.ItemIDs, req.UpdateType, req.Value, req.ApplyTo)
	if err != nil {
		return domain.BulkPriceUpdateResult{}, err
	}
	s.persistItems(ctx, updated...)
	s.scan(ctx, updated...)
	if len(failures) > 0 {
		s.log.Warn("bulk price update partially applied", "updated", len(updated), "failed", len(failures))
	}
	return domain.BulkPriceUpdateResult{Updated: updated, Failures: failures}, nil
}

// Barcode scanning

func (s *Service) ScanBarcode(_ context.Context, code string) (domain.Item, error) {
	return s.catalogue.FindByBarcode(code)
}

// RegisterScannedItem creates an item for a barcode seen for the first time.
func (s *Service) RegisterScannedItem(ctx context.Context, req domain.ScanRegisterRequest) (domain.Item, error) {
	if err := requireAdmin(ctx); err != nil {
		return domain.Item{}, err
	}
	code := strings.TrimSpace(req.Barcode)
	if code == "" {
		return domain.Item{}, store.Invalid("barcode is required")
	}
	return s.AddItem(ctx, domain.ItemCreateRequest{
		Name:               req.Name,
		Quantity:           req.Quantity,
		Unit:               req.Unit,
		SellingPriceCents:  req.SellingPriceCents,
		PurchasePriceCents: req.PurchasePriceCents,
		Barcode:            code,
		Category:           req.Category,
	})
}

// Cart

func (s *Service) Cart(_ context.Context, terminalID string) domain.CartView {
	c := s.cart(terminalID)
	return view(terminalID, c)
}

func view(terminalID string, c *cart.Cart) domain.CartView {
	if strings.TrimSpace(terminalID) == "" {
		terminalID = DefaultTerminal
	}
	return domain.CartView{TerminalID: terminalID, Lines: c.Lines(), SubtotalCents: c.Subtotal()}
}

func (s *Service) AddToCart(_ context.Context, req domain.CartAddRequest) (domain.CartView, error) {
	c := s.cart(req.TerminalID)
	if _, err := c.AddItem(req.ItemID, req.Qty); err != nil {
		return domain.CartView{}, err
	}
	return view(req.TerminalID, c), nil
}

func (s *Service) UpdateCartItem(_ context.Context, itemID string, req domain.CartUpdateRequest) (domain.CartView, error) {
	c := s.cart(req.TerminalID)
	if _, err := c.UpdateQuantity(itemID, req.Delta); err != nil {
		return domain.CartView{}, err
	}
	return view(req.TerminalID, c), nil
}

func (s *Service) RemoveCartItem(_ context.Context, terminalID string, itemID string) domain.CartView {
	c := s.cart(terminalID)
	c.RemoveItem(itemID)
	return view(terminalID, c)
}

func (s *Service) ClearCart(_ context.Context, terminalID string) domain.CartView {
	c := s.cart(terminalID)
	c.Clear()
	return view(terminalID, c)
}

// OverridePrice needs the manager PIN. The override is attributed to the
// signed-in actor.
func (s *Service) OverridePrice(ctx context.Context, itemID string, req domain.PriceOverrideRequest) (domain.CartView, error) {
	if s.pins == nil || !s.pins.ValidateManagerPIN(req.ManagerPIN) {
		return domain.CartView{}, fmt.Errorf("manager pin rejected: %w", store.ErrForbidden)
	}
	by := "manager"
	if actor, ok := ActorFromContext(ctx); ok && actor.Username != "" {
		by = actor.Username
	}
	c := s.cart(req.TerminalID)
	if _, err := c.OverridePrice(itemID, req.PriceCents, by, req.Reason); err != nil {
		return domain.CartView{}, err
	}
	s.log.Info("price overridden", "terminal", req.TerminalID, "item_id", itemID, "price_cents", req.PriceCents, "by", by)
	return view(req.TerminalID, c), nil
}

// Checkout

func (s *Service) request(req domain.CheckoutRequest) (checkout.Request, error) {
	rate := s.taxRate
	if req.TaxRatePercent != nil {
		if *req.TaxRatePercent < 0 || *req.TaxRatePercent > 100 {
			return checkout.Request{}, store.Invalid("tax rate percent must be between 0 and 100")
		}
		rate = money.PercentToRate(*req.TaxRatePercent)
	}
	return checkout.Request{
		DiscountCents: req.DiscountCents,
		PaymentMethod: req.PaymentMethod,
		Customer:      req.Customer,
		TaxRate:       rate,
		Notes:         strings.TrimSpace(req.Notes),
	}, nil
}

func (s *Service) Checkout(ctx context.Context, req domain.CheckoutRequest) (domain.Bill, error) {
	in, err := s.request(req)
	if err != nil {
		return domain.Bill{}, err
	}
	result, err := s.checkout.Checkout(s.cart(req.TerminalID), in)
	if err != nil {
		return domain.Bill{}, err
	}
	s.record(ctx, result)
	if err := s.repo.AppendBill(ctx, result.Bill); err != nil {
		s.log.Error("persist bill failed", "bill_id", result.Bill.ID, "error", err)
	}
	s.notify(ctx, result.Bill)
	return result.Bill, nil
}

func (s *Service) record(ctx context.Context, result checkout.Result) {
	s.persistItems(ctx, result.Items...)
	s.persistAlerts(ctx, result.Alerts)
}

func (s *Service) Quote(_ context.Context, req domain.CheckoutRequest) (domain.Bill, error) {
	in, err := s.request(req)
	if err != nil {
		return domain.Bill{}, err
	}
	return s.checkout.Quote(s.cart(req.TerminalID), in)
}

func (s *Service) ParkCart(ctx context.Context, req domain.CheckoutRequest) (domain.Bill, error) {
	in, err := s.request(req)
	if err != nil {
		return domain.Bill{}, err
	}
	bill, err := s.checkout.Park(s.cart(req.TerminalID), in)
	if err != nil {
		return domain.Bill{}, err
	}
	if err := s.repo.AppendBill(ctx, bill); err != nil {
		s.log.Error("persist bill failed", "bill_id", bill.ID, "error", err)
	}
	return bill, nil
}

func (s *Service) SettleBill(ctx context.Context, id string) (domain.Bill, error) {
	result, err := s.checkout.Settle(id)
	if err != nil {
		return domain.Bill{}, err
	}
	s.record(ctx, result)
	if err := s.repo.UpdateBillStatus(ctx, id, domain.BillCompleted); err != nil {
		s.log.Error("persist bill status failed", "bill_id", id, "error", err)
	}
	s.notify(ctx, result.Bill)
	return result.Bill, nil
}

func (s *Service) CancelBill(ctx context.Context, id string) (domain.Bill, error) {
	bill, err := s.checkout.Cancel(id)
	if err != nil {
		return domain.Bill{}, err
	}
	if err := s.repo.UpdateBillStatus(ctx, id, domain.BillCancelled); err != nil {
		s.log.Error("persist bill status failed", "bill_id", id, "error", err)
	}
	return bill, nil
}

// Bills and reports

func (s *Service) ListBills(_ context.Context, filter domain.BillFilter) []domain.Bill {
	return s.ledger.List(filter)
}

func (s *Service) GetBill(_ context.Context, id string) (domain.Bill, error) {
	return s.ledger.Get(id)
}

func (s *Service) PaymentAnalytics(ctx context.Context) (domain.PaymentAnalytics, error) {
	if err := requireAdmin(ctx); err != nil {
		return domain.PaymentAnalytics{}, err
	}
	return s.reports.Payments(ctx)
}

func (s *Service) ProfitAnalytics(ctx context.Context) (domain.ProfitAnalytics, error) {
	if err := requireAdmin(ctx); err != nil {
		return domain.ProfitAnalytics{}, err
	}
	return s.reports.Profit(ctx)
}

func (s *Service) InventoryValue(ctx context.Context) (domain.InventoryValue, error) {
	if err := requireAdmin(ctx); err != nil {
		return domain.InventoryValue{}, err
	}
	return analytics.InventoryValue(s.catalogue.Snapshot(), s.now()), nil
}

// Alerts

// ScanAlerts evaluates the whole active catalogue.
func (s *Service) ScanAlerts(ctx context.Context) ([]domain.PriceAlert, error) {
	if err := requireAdmin(ctx); err != nil {
		return nil, err
	}
	raised := s.alerts.Scan(s.catalogue.Active())
	s.persistAlerts(ctx, raised)
	return raised, nil
}

func (s *Service) ListAlerts(ctx context.Context, includeAcknowledged bool) ([]domain.PriceAlert, error) {
	if err := requireAdmin(ctx); err != nil {
		return nil, err
	}
	if includeAcknowledged {
		return s.alerts.All(), nil
	}
	return s.alerts.Unacknowledged(), nil
}

func (s *Service) AcknowledgeAlert(ctx context.Context, id string) (domain.PriceAlert, error) {
	if err := requireAdmin(ctx); err != nil {
		return domain.PriceAlert{}, err
	}
	alert, err := s.alerts.Acknowledge(id)
	if err != nil {
		return domain.PriceAlert{}, err
	}
	s.persistAlerts(ctx, []domain.PriceAlert{alert})
	return alert, nil
}

// IsConflict reports errors the client resolves by changing its request
// against current state.
func IsConflict(err error) bool {
	return checkout.IsStockConflict(err) || errors.Is(err, store.ErrDuplicateBarcode)
}
