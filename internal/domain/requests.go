package domain

import "time"

type ItemCreateRequest struct {
	Name               string  `json:"name"`
	Quantity           int     `json:"quantity"`
	Unit               Unit    `json:"unit"`
	SellingPriceCents  int64   `json:"selling_price_cents"`
	PurchasePriceCents int64   `json:"purchase_price_cents"`
	Barcode            string  `json:"barcode"`
	Category           string  `json:"category"`
	Image              string  `json:"image,omitempty"`
	MinMargin          float64 `json:"min_margin"`
	ReorderPoint       int     `json:"reorder_point"`
}

type ItemUpdateRequest struct {
	Name               *string  `json:"name,omitempty"`
	Unit               *Unit    `json:"unit,omitempty"`
	SellingPriceCents  *int64   `json:"selling_price_cents,omitempty"`
	PurchasePriceCents *int64   `json:"purchase_price_cents,omitempty"`
	Barcode            *string  `json:"barcode,omitempty"`
	Category           *string  `json:"category,omitempty"`
	Image              *string  `json:"image,omitempty"`
	MinMargin          *float64 `json:"min_margin,omitempty"`
	ReorderPoint       *int     `json:"reorder_point,omitempty"`
	Reason             string   `json:"reason,omitempty"`
}

type StockAdjustRequest struct {
	Delta int `json:"delta"`
	// Count, when set, replaces the quantity outright (stock correction).
	Count *int `json:"count,omitempty"`
}

// BulkPriceUpdateRequest.Value is a price in minor units for fixed updates
// and a percent for percentage updates.
type BulkPriceUpdateRequest struct {
	ItemIDs    []string       `json:"item_ids"`
	UpdateType BulkUpdateType `json:"update_type"`
	Value      float64        `json:"value"`
	ApplyTo    PriceTarget    `json:"apply_to"`
}

type BulkUpdateFailure struct {
	ItemID string `json:"item_id"`
	Reason string `json:"reason"`
}

type BulkPriceUpdateResult struct {
	Updated  []Item              `json:"updated"`
	Failures []BulkUpdateFailure `json:"failures"`
}

type ScanRegisterRequest struct {
	Barcode            string `json:"barcode"`
	Name               string `json:"name"`
	Unit               Unit   `json:"unit"`
	SellingPriceCents  int64  `json:"selling_price_cents"`
	PurchasePriceCents int64  `json:"purchase_price_cents"`
	Category           string `json:"category"`
	Quantity           int    `json:"quantity"`
}

type CartAddRequest struct {
	TerminalID string `json:"terminal_id"`
	ItemID     string `json:"item_id"`
	Qty        int    `json:"qty"`
}

type CartUpdateRequest struct {
	TerminalID string `json:"terminal_id"`
	Delta      int    `json:"delta"`
}

type PriceOverrideRequest struct {
	TerminalID string `json:"terminal_id"`
	PriceCents int64  `json:"price_cents"`
	Reason     string `json:"reason"`
	ManagerPIN string `json:"manager_pin"`
}

type CartView struct {
	TerminalID    string     `json:"terminal_id"`
	Lines         []BillItem `json:"lines"`
	SubtotalCents int64      `json:"subtotal_cents"`
}

type CheckoutRequest struct {
	TerminalID    string        `json:"terminal_id"`
	DiscountCents int64         `json:"discount_cents"`
	PaymentMethod PaymentMethod `json:"payment_method"`
	Customer      *Customer     `json:"customer,omitempty"`
	Notes         string        `json:"notes,omitempty"`
	// TaxRatePercent overrides the configured tax policy for this bill.
	TaxRatePercent *float64 `json:"tax_rate_percent,omitempty"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Role        string `json:"role"`
	ExpiresAt   string `json:"expires_at"`
}

type CashierCreateRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type CashierUser struct {
	Username  string    `json:"username"`
	Role      string    `json:"role"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}
