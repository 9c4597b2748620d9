package store

import (
	"context"
	"errors"
	"time"

	"obar/backend/internal/domain"
)

var (
	ErrNotFound           = errors.New("not found")
	ErrInvalidRequest     = errors.New("invalid request")
	ErrConflict           = errors.New("conflict")
	ErrPreconditionFailed = errors.New("precondition failed")
	ErrInternal           = errors.New("internal error")
)

// IsTaxonomy reports whether err already carries one of the sentinels above.
func IsTaxonomy(err error) bool {
	return errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrInvalidRequest) ||
		errors.Is(err, ErrConflict) ||
		errors.Is(err, ErrPreconditionFailed) ||
		errors.Is(err, ErrInternal)
}

type Directory interface {
	CreateCustomer(ctx context.Context, customer domain.Customer) (*domain.Customer, error)
	GetCustomer(ctx context.Context, mail string) (*domain.Customer, error)
	// DeleteCustomer fails with ErrConflict while purchases reference the customer.
	DeleteCustomer(ctx context.Context, mail string) error
}

type Catalog interface {
	CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error)
	GetProduct(ctx context.Context, code string) (*domain.Product, error)
	UpdateProduct(ctx context.Context, product domain.Product) (*domain.Product, error)
}

type Ledger interface {
	GetPurchase(ctx context.Context, code string) (*domain.Purchase, error)
	// ListPurchasesSince returns non-gifted purchases created after since,
	// newest first, with their items.
	ListPurchasesSince(ctx context.Context, since time.Time) ([]domain.Purchase, error)
}

// Tx is the unit of work handed to Repository.WithinTx. Ledger writes only
// happen through it.
type Tx interface {
	GetCustomer(ctx context.Context, mail string) (*domain.Customer, error)
	// LockProducts returns the requested products keyed by code, holding them
	// against concurrent writers until the unit of work ends. Unknown codes
	// are absent from the map.
	LockProducts(ctx context.Context, codes []string) (map[string]domain.Product, error)
	SetProductQuantity(ctx context.Context, code string, qty int) error
	// LockPurchase returns the purchase with its items, holding it until the
	// unit of work ends.
	LockPurchase(ctx context.Context, code string) (*domain.Purchase, error)
	InsertPurchase(ctx context.Context, purchase domain.Purchase) error
	ReassignPurchase(ctx context.Context, code string, mail string) error
	DeletePurchase(ctx context.Context, code string) error
}

type Repository interface {
	Directory
	Catalog
	Ledger
	// WithinTx runs fn in one unit of work. It commits when fn returns nil
	// and rolls back on error or panic.
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}
