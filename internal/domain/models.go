package domain

import "time"

type Unit string

const (
	UnitKilogram   Unit = "kg"
	UnitGram       Unit = "g"
	UnitLitre      Unit = "l"
	UnitMillilitre Unit = "ml"
	UnitPieces     Unit = "pcs"
)

func (u Unit) Valid() bool {
	switch u {
	case UnitKilogram, UnitGram, UnitLitre, UnitMillilitre, UnitPieces:
		return true
	default:
		return false
	}
}

type PaymentMethod string

const (
	PaymentCash PaymentMethod = "cash"
	PaymentCard PaymentMethod = "card"
	PaymentUPI  PaymentMethod = "upi"
)

func (m PaymentMethod) Valid() bool {
	switch m {
	case PaymentCash, PaymentCard, PaymentUPI:
		return true
	default:
		return false
	}
}

type BillStatus string

const (
	BillPending   BillStatus = "pending"
	BillCompleted BillStatus = "completed"
	BillCancelled BillStatus = "cancelled"
)

type AlertType string

const (
	AlertMargin AlertType = "margin"
	AlertPrice  AlertType = "price"
	AlertStock  AlertType = "stock"
)

type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

type ContactPreference string

const (
	ContactEmail ContactPreference = "email"
	ContactSMS   ContactPreference = "sms"
	ContactBoth  ContactPreference = "both"
)

const DefaultCategory = "Uncategorized"

// PriceHistory entries are append-only; slice order is chronological.
type PriceHistory struct {
	ID                 string    `json:"id"`
	ItemID             string    `json:"item_id"`
	PurchasePriceCents int64     `json:"purchase_price_cents"`
	SellingPriceCents  int64     `json:"selling_price_cents"`
	ChangedAt          time.Time `json:"date"`
	Reason             string    `json:"reason,omitempty"`
}

type Item struct {
	ID                 string         `json:"id"`
	Name               string         `json:"name"`
	Quantity           int            `json:"quantity"`
	Unit               Unit           `json:"unit"`
	SellingPriceCents  int64          `json:"selling_price_cents"`
	PurchasePriceCents int64          `json:"purchase_price_cents"`
	Barcode            string         `json:"barcode"`
	Category           string         `json:"category"`
	Image              string         `json:"image,omitempty"`
	MinMargin          float64        `json:"min_margin"`
	ReorderPoint       int            `json:"reorder_point"`
	PriceHistory       []PriceHistory `json:"price_history"`
	LastUpdated        time.Time      `json:"last_updated"`
	Active             bool           `json:"active"`
}

// Clone returns a deep copy so callers never share the price history backing array.
func (i Item) Clone() Item {
	out := i
	if i.PriceHistory != nil {
		out.PriceHistory = make([]PriceHistory, len(i.PriceHistory))
		copy(out.PriceHistory, i.PriceHistory)
	}
	return out
}

// Margin is (selling - purchase) / selling, or 0 for a zero selling price.
func (i Item) Margin() float64 {
	if i.SellingPriceCents == 0 {
		return 0
	}
	return float64(i.SellingPriceCents-i.PurchasePriceCents) / float64(i.SellingPriceCents)
}

type BillItem struct {
	Item
	BillQuantity         int     `json:"bill_quantity"`
	OriginalPriceCents   int64   `json:"original_price_cents"`
	OverriddenPriceCents *int64  `json:"overridden_price_cents,omitempty"`
	OverriddenBy         string  `json:"overridden_by,omitempty"`
	ProfitMargin         float64 `json:"profit_margin"`
}

func (b BillItem) EffectivePriceCents() int64 {
	if b.OverriddenPriceCents != nil {
		return *b.OverriddenPriceCents
	}
	return b.SellingPriceCents
}

func (b BillItem) LineTotalCents() int64 {
	return b.EffectivePriceCents() * int64(b.BillQuantity)
}

func (b BillItem) LineProfitCents() int64 {
	return (b.EffectivePriceCents() - b.PurchasePriceCents) * int64(b.BillQuantity)
}

func (b BillItem) Clone() BillItem {
	out := b
	out.Item = b.Item.Clone()
	if b.OverriddenPriceCents != nil {
		price := *b.OverriddenPriceCents
		out.OverriddenPriceCents = &price
	}
	return out
}

type Customer struct {
	ID               string            `json:"id,omitempty"`
	Name             string            `json:"name,omitempty"`
	Phone            string            `json:"phone,omitempty"`
	Email            string            `json:"email,omitempty"`
	Address          string            `json:"address,omitempty"`
	PreferredContact ContactPreference `json:"preferred_contact,omitempty"`
}

type PriceOverride struct {
	ItemID               string `json:"item_id"`
	OriginalPriceCents   int64  `json:"original_price_cents"`
	OverriddenPriceCents int64  `json:"overridden_price_cents"`
	AuthorizedBy         string `json:"authorized_by"`
	Reason               string `json:"reason"`
}

type Bill struct {
	ID               string          `json:"id"`
	Sequence         int64           `json:"sequence"`
	InvoiceNumber    string          `json:"invoice_number"`
	Items            []BillItem      `json:"items"`
	SubtotalCents    int64           `json:"subtotal_cents"`
	DiscountCents    int64           `json:"discount_cents"`
	TaxRate          float64         `json:"tax_rate"`
	TaxCents         int64           `json:"tax_cents"`
	TotalCents       int64           `json:"total_cents"`
	TotalProfitCents int64           `json:"total_profit_cents"`
	ProfitMargin     float64         `json:"profit_margin"`
	Date             time.Time       `json:"date"`
	Customer         *Customer       `json:"customer,omitempty"`
	PaymentMethod    PaymentMethod   `json:"payment_method"`
	Status           BillStatus      `json:"status"`
	Notes            string          `json:"notes,omitempty"`
	PriceOverrides   []PriceOverride `json:"price_overrides,omitempty"`
}

func (b Bill) Clone() Bill {
	out := b
	out.Items = make([]BillItem, len(b.Items))
	for i, item := range b.Items {
		out.Items[i] = item.Clone()
	}
	if b.Customer != nil {
		customer := *b.Customer
		out.Customer = &customer
	}
	if b.PriceOverrides != nil {
		out.PriceOverrides = append([]PriceOverride(nil), b.PriceOverrides...)
	}
	return out
}

type PriceAlert struct {
	ID           string    `json:"id"`
	ItemID       string    `json:"item_id"`
	Type         AlertType `json:"type"`
	Severity     Severity  `json:"severity"`
	Message      string    `json:"message"`
	Date         time.Time `json:"date"`
	Acknowledged bool      `json:"acknowledged"`
}

type StockShortfall struct {
	ItemID    string `json:"item_id"`
	Name      string `json:"name"`
	Requested int    `json:"requested"`
	Available int    `json:"available"`
}

type BulkUpdateType string

const (
	BulkFixed      BulkUpdateType = "fixed"
	BulkPercentage BulkUpdateType = "percentage"
)

type PriceTarget string

const (
	PriceSelling  PriceTarget = "selling"
	PricePurchase PriceTarget = "purchase"
	PriceBoth     PriceTarget = "both"
)

type BillFilter struct {
	Term          string        `json:"term,omitempty"`
	From          *time.Time    `json:"from,omitempty"`
	To            *time.Time    `json:"to,omitempty"`
	Status        BillStatus    `json:"status,omitempty"`
	PaymentMethod PaymentMethod `json:"payment_method,omitempty"`
	Limit         int           `json:"limit,omitempty"`
}

type ItemSales struct {
	ItemID       string `json:"item_id"`
	Name         string `json:"name"`
	Quantity     int    `json:"quantity"`
	RevenueCents int64  `json:"revenue_cents"`
}

type PaymentBreakdown struct {
	CashCents int64 `json:"cash_cents"`
	CardCents int64 `json:"card_cents"`
	UPICents  int64 `json:"upi_cents"`
}

type PaymentAnalytics struct {
	TotalSalesCents              int64            `json:"total_sales_cents"`
	BillCount                    int              `json:"bill_count"`
	PaymentMethods               PaymentBreakdown `json:"payment_methods"`
	AverageTransactionValueCents int64            `json:"average_transaction_value_cents"`
	TopSellingItems              []ItemSales      `json:"top_selling_items"`
}

type ItemPerformance struct {
	ItemID       string  `json:"item_id"`
	Name         string  `json:"name"`
	Category     string  `json:"category"`
	Quantity     int     `json:"quantity"`
	RevenueCents int64   `json:"revenue_cents"`
	ProfitCents  int64   `json:"profit_cents"`
	Margin       float64 `json:"margin"`
}

type ProfitPoint struct {
	Date        string  `json:"date"`
	ProfitCents int64   `json:"profit_cents"`
	Margin      float64 `json:"margin"`
}

type CategoryPerformance struct {
	Category    string  `json:"category"`
	ProfitCents int64   `json:"profit_cents"`
	Margin      float64 `json:"margin"`
	ItemCount   int     `json:"item_count"`
}

type ProfitAnalytics struct {
	TotalProfitCents    int64                 `json:"total_profit_cents"`
	AverageMargin       float64               `json:"average_margin"`
	TopPerformers       []ItemPerformance     `json:"top_performers"`
	BottomPerformers    []ItemPerformance     `json:"bottom_performers"`
	ProfitTrend         []ProfitPoint         `json:"profit_trend"`
	CategoryPerformance []CategoryPerformance `json:"category_performance"`
}

type CategoryValue struct {
	Category   string `json:"category"`
	ValueCents int64  `json:"value_cents"`
}

type InventoryValue struct {
	AsOf            time.Time       `json:"date"`
	TotalValueCents int64           `json:"total_value_cents"`
	ByCategory      []CategoryValue `json:"by_category"`
}

type Actor struct {
	Username string
	Role     string
}

// UserAccount is an internal persistence model for auth credentials.
type UserAccount struct {
	Username  string
	Password  string
	Role      string
	Active    bool
	CreatedAt time.Time
}
