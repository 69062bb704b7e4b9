package store

import (
	"context"

	"posledger/internal/domain"
)

// Repository is the narrow persistence contract. The core never calls it
// directly; the service layer writes through after a core operation returns.
type Repository interface {
	LoadCatalogue(ctx context.Context) ([]domain.Item, error)
	SaveItem(ctx context.Context, item domain.Item) error
	AppendBill(ctx context.Context, bill domain.Bill) error
	UpdateBillStatus(ctx context.Context, id string, status domain.BillStatus) error
	// ListBills returns matching bills oldest first; Limit keeps the newest.
	ListBills(ctx context.Context, filter domain.BillFilter) ([]domain.Bill, error)
	SaveAlert(ctx context.Context, alert domain.PriceAlert) error
	ListAlerts(ctx context.Context) ([]domain.PriceAlert, error)
	UserStore
}

type UserStore interface {
	CreateUser(ctx context.Context, user domain.UserAccount) error
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error
}
