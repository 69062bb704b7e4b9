package store

import (
	"errors"
	"fmt"
	"strings"

	"posledger/internal/domain"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrDuplicateBarcode  = errors.New("duplicate barcode")
	ErrOutOfStock        = errors.New("out of stock")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrInvalidDiscount   = errors.New("invalid discount")
	ErrStockChanged      = errors.New("stock changed")
	ErrValidation        = errors.New("validation error")
	ErrForbidden         = errors.New("forbidden")
)

func Invalid(msg string) error {
	return fmt.Errorf("%w: %s", ErrValidation, msg)
}

func NotFound(kind string, id string) error {
	return fmt.Errorf("%s %s: %w", kind, id, ErrNotFound)
}

// StockError reports a single line that cannot be served. Kind is either
// ErrOutOfStock or ErrInsufficientStock.
type StockError struct {
	Kind      error
	ItemID    string
	Name      string
	Requested int
	Available int
}

func (e *StockError) Error() string {
	if errors.Is(e.Kind, ErrOutOfStock) {
		return fmt.Sprintf("%s (%s) is out of stock", e.Name, e.ItemID)
	}
	return fmt.Sprintf("insufficient stock for %s (%s): requested %d, available %d; reduce quantity to %d",
		e.Name, e.ItemID, e.Requested, e.Available, e.Available)
}

func (e *StockError) Unwrap() error {
	return e.Kind
}

// StockChangedError lists every cart line that no longer fits current stock.
type StockChangedError struct {
	Shortfalls []domain.StockShortfall
}

func (e *StockChangedError) Error() string {
	parts := make([]string, 0, len(e.Shortfalls))
	for _, s := range e.Shortfalls {
		if s.Available == 0 {
			parts = append(parts, fmt.Sprintf("%s (%s) is out of stock; remove it", s.Name, s.ItemID))
			continue
		}
		parts = append(parts, fmt.Sprintf("%s (%s) requested %d, available %d; reduce quantity to %d",
			s.Name, s.ItemID, s.Requested, s.Available, s.Available))
	}
	return fmt.Sprintf("stock changed: %s", strings.Join(parts, "; "))
}

func (e *StockChangedError) Unwrap() error {
	return ErrStockChanged
}
