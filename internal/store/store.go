package store

import (
	"context"
	"time"

	"stallmanager/backend/internal/domain"
)

// DefaultMaxAttempts bounds how often a transaction body is re-run after write conflicts.
const DefaultMaxAttempts = 5

// SaleFilter selects sales by equality. Empty fields match everything.
type SaleFilter struct {
	StallID   string
	ProductID string
}

func (f SaleFilter) Matches(sale domain.Sale) bool {
	if f.StallID != "" && sale.StallID != f.StallID {
		return false
	}
	if f.ProductID != "" && sale.ProductID != f.ProductID {
		return false
	}
	return true
}

// Tx is the handle passed to a RunInTransaction body. All writes made through
// it commit together or not at all. Bodies may run more than once, so they must
// not have side effects outside the handle.
type Tx interface {
	GetStall(ctx context.Context, id string) (domain.Stall, error)
	// PutStall writes name, seller PIN and products of a stall previously read in this transaction.
	PutStall(ctx context.Context, stall domain.Stall) error
	DeleteStall(ctx context.Context, id string) error
	CountSales(ctx context.Context, filter SaleFilter) (int, error)
	// InsertSales stages new sale rows and returns them with store-assigned ids.
	InsertSales(ctx context.Context, sales []domain.Sale) ([]domain.Sale, error)
	// Now is the store-assigned timestamp of the current attempt.
	Now() time.Time
}

type TxFunc func(ctx context.Context, tx Tx) error

type Repository interface {
	RunInTransaction(ctx context.Context, fn TxFunc) error

	CreateStall(ctx context.Context, stall domain.Stall) (*domain.Stall, error)
	GetStall(ctx context.Context, id string) (*domain.Stall, error)
	ListStalls(ctx context.Context) ([]domain.Stall, error)
	FindStallByPIN(ctx context.Context, pin string) (*domain.Stall, error)
	// AppendProduct adds a product without reading the existing list.
	AppendProduct(ctx context.Context, stallID string, product domain.Product) error
	SetStallName(ctx context.Context, stallID string, name string) error
	// SetSellerPIN stores pin on the stall; an empty pin clears it.
	SetSellerPIN(ctx context.Context, stallID string, pin string) error

	ListSales(ctx context.Context, filter SaleFilter) ([]domain.Sale, error)
	CountSales(ctx context.Context, filter SaleFilter) (int, error)

	CreateUser(ctx context.Context, user domain.UserAccount) error
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, email string, password string) error
}
