package memory

import (
	"context"
	"log/slog"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"

	"posledger/internal/domain"
	"posledger/internal/store"
)

type Store struct {
	mu              sync.RWMutex
	items           map[string]domain.Item
	itemOrder       []string
	bills           []domain.Bill
	billIndex       map[string]int
	alerts          map[string]domain.PriceAlert
	alertOrder      []string
	usersByUsername map[string]domain.UserAccount
}

func New() *Store {
	return &Store{
		items:           make(map[string]domain.Item),
		billIndex:       make(map[string]int),
		alerts:          make(map[string]domain.PriceAlert),
		usersByUsername: make(map[string]domain.UserAccount),
	}
}

// seedUsers builds the dev/demo accounts. Passwords come from
// SEED_ADMIN_PASSWORD and SEED_CASHIER_PASSWORD, falling back to dev defaults
// with a warning. Production runs on PostgreSQL and never sees these.
func seedUsers() map[string]domain.UserAccount {
	adminPwd := envOr("SEED_ADMIN_PASSWORD", "admin123")
	cashierPwd := envOr("SEED_CASHIER_PASSWORD", "cashier123")
	if os.Getenv("SEED_ADMIN_PASSWORD") == "" || os.Getenv("SEED_CASHIER_PASSWORD") == "" {
		slog.Warn("memory store using default dev credentials; set SEED_ADMIN_PASSWORD and SEED_CASHIER_PASSWORD to override")
	}

	now := time.Now().UTC()
	users := map[string]domain.UserAccount{}
	for _, u := range []struct {
		username string
		password string
		role     string
	}{
		{"admin", adminPwd, "admin"},
		{"cashier", cashierPwd, "cashier"},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.DefaultCost)
		if err != nil {
			panic("memory store: hash seed password for " + u.username + ": " + err.Error())
		}
		users[u.username] = domain.UserAccount{
			Username:  u.username,
			Password:  string(hash),
			Role:      u.role,
			Active:    true,
			CreatedAt: now,
		}
	}
	return users
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// NewSeeded returns a store with a small grocery catalogue and the dev users.
func NewSeeded() *Store {
	now := time.Now().UTC()
	seed := []domain.Item{
		{ID: "item-rice-5kg", Name: "Basmati Rice 5kg", Quantity: 40, Unit: domain.UnitKilogram, SellingPriceCents: 62500, PurchasePriceCents: 51000, Barcode: "8901030865278", Category: "Grains", MinMargin: 0.15, ReorderPoint: 10},
		{ID: "item-atta-10kg", Name: "Whole Wheat Atta 10kg", Quantity: 25, Unit: domain.UnitKilogram, SellingPriceCents: 48000, PurchasePriceCents: 41500, Barcode: "8901725181222", Category: "Grains", MinMargin: 0.12, ReorderPoint: 8},
		{ID: "item-dal-1kg", Name: "Toor Dal 1kg", Quantity: 60, Unit: domain.UnitKilogram, SellingPriceCents: 16500, PurchasePriceCents: 14200, Barcode: "8906002570013", Category: "Pulses", MinMargin: 0.12, ReorderPoint: 15},
		{ID: "item-milk-500", Name: "Toned Milk 500ml", Quantity: 80, Unit: domain.UnitMillilitre, SellingPriceCents: 2700, PurchasePriceCents: 2450, Barcode: "8901262010016", Category: "Dairy", MinMargin: 0.08, ReorderPoint: 30},
		{ID: "item-paneer-200", Name: "Paneer 200g", Quantity: 20, Unit: domain.UnitGram, SellingPriceCents: 9000, PurchasePriceCents: 7400, Barcode: "8901262030014", Category: "Dairy", MinMargin: 0.15, ReorderPoint: 6},
		{ID: "item-oil-1l", Name: "Sunflower Oil 1L", Quantity: 35, Unit: domain.UnitLitre, SellingPriceCents: 15500, PurchasePriceCents: 13800, Barcode: "8901058851656", Category: "Oils", MinMargin: 0.10, ReorderPoint: 10},
		{ID: "item-tea-250", Name: "Assam Tea 250g", Quantity: 45, Unit: domain.UnitGram, SellingPriceCents: 14000, PurchasePriceCents: 11000, Barcode: "8901030703037", Category: "Beverages", MinMargin: 0.18, ReorderPoint: 12},
		{ID: "item-biscuit", Name: "Glucose Biscuits", Quantity: 120, Unit: domain.UnitPieces, SellingPriceCents: 1000, PurchasePriceCents: 820, Barcode: "8901063010014", Category: "Snacks", MinMargin: 0.15, ReorderPoint: 40},
		{ID: "item-soap", Name: "Neem Soap", Quantity: 70, Unit: domain.UnitPieces, SellingPriceCents: 3500, PurchasePriceCents: 2600, Barcode: "8901030542155", Category: "Household", MinMargin: 0.20, ReorderPoint: 20},
		{ID: "item-loose-sugar", Name: "Loose Sugar", Quantity: 50, Unit: domain.UnitKilogram, SellingPriceCents: 4400, PurchasePriceCents: 4000, Category: "Grains", MinMargin: 0.08, ReorderPoint: 15},
	}

	s := New()
	for _, item := range seed {
		item.Active = true
		item.LastUpdated = now
		item.PriceHistory = []domain.PriceHistory{{
			ID:                 "ph-" + item.ID,
			ItemID:             item.ID,
			PurchasePriceCents: item.PurchasePriceCents,
			SellingPriceCents:  item.SellingPriceCents,
			ChangedAt:          now,
			Reason:             "Initial price",
		}}
		s.items[item.ID] = item
		s.itemOrder = append(s.itemOrder, item.ID)
	}
	s.usersByUsername = seedUsers()
	return s
}

func (s *Store) LoadCatalogue(_ context.Context) ([]domain.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Item, 0, len(s.itemOrder))
	for _, id := range s.itemOrder {
		out = append(out, s.items[id].Clone())
	}
	return out, nil
}

func (s *Store) SaveItem(_ context.Context, item domain.Item) error {
	if item.ID == "" {
		return store.Invalid("item without id")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if item.Active && item.Barcode != "" {
		for id, other := range s.items {
			if id != item.ID && other.Active && other.Barcode == item.Barcode {
				return store.ErrDuplicateBarcode
			}
		}
	}
	if _, exists := s.items[item.ID]; !exists {
		s.itemOrder = append(s.itemOrder, item.ID)
	}
	s.items[item.ID] = item.Clone()
	return nil
}

func (s *Store) AppendBill(_ context.Context, bill domain.Bill) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.billIndex[bill.ID]; exists {
		return store.Invalid("bill " + bill.ID + " already stored")
	}
	for _, b := range s.bills {
		if b.InvoiceNumber == bill.InvoiceNumber {
			return store.Invalid("invoice " + bill.InvoiceNumber + " already stored")
		}
	}
	s.billIndex[bill.ID] = len(s.bills)
	s.bills = append(s.bills, bill.Clone())
	return nil
}

func (s *Store) UpdateBillStatus(_ context.Context, id string, status domain.BillStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx, ok := s.billIndex[id]
	if !ok {
		return store.NotFound("bill", id)
	}
	s.bills[idx].Status = status
	return nil
}

func (s *Store) ListBills(_ context.Context, filter domain.BillFilter) ([]domain.Bill, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Bill, 0)
	for _, b := range s.bills {
		if filter.Match(b) {
			out = append(out, b.Clone())
		}
	}
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[len(out)-filter.Limit:]
	}
	return out, nil
}

func (s *Store) SaveAlert(_ context.Context, alert domain.PriceAlert) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.alerts[alert.ID]; !exists {
		s.alertOrder = append(s.alertOrder, alert.ID)
	}
	s.alerts[alert.ID] = alert
	return nil
}

func (s *Store) ListAlerts(_ context.Context) ([]domain.PriceAlert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.PriceAlert, 0, len(s.alertOrder))
	for _, id := range s.alertOrder {
		out = append(out, s.alerts[id])
	}
	return out, nil
}

func (s *Store) CreateUser(_ context.Context, user domain.UserAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	username := strings.ToLower(strings.TrimSpace(user.Username))
	if username == "" || strings.TrimSpace(user.Password) == "" {
		return store.Invalid("username and password are required")
	}
	if _, exists := s.usersByUsername[username]; exists {
		return store.Invalid("user " + username + " already exists")
	}
	user.Username = username
	if user.Role == "" {
		user.Role = "cashier"
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	user.Active = true
	s.usersByUsername[user.Username] = user
	return nil
}

func (s *Store) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]domain.UserAccount, 0, len(s.usersByUsername))
	for _, user := range s.usersByUsername {
		users = append(users, user)
	}
	slices.SortFunc(users, func(a, b domain.UserAccount) int {
		return strings.Compare(a.Username, b.Username)
	})
	return users, nil
}

func (s *Store) UpdateUserPassword(_ context.Context, username string, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || strings.TrimSpace(password) == "" {
		return store.Invalid("username and password are required")
	}
	user, exists := s.usersByUsername[username]
	if !exists {
		return store.NotFound("user", username)
	}
	user.Password = password
	s.usersByUsername[username] = user
	return nil
}
