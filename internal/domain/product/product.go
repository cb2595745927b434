package product

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// ErrNotFound is returned when a requested product does not exist.
var ErrNotFound = errors.New("product not found")

// Status controls whether a product can be purchased.
type Status string

const (
	StatusActive   Status = "ACTIVE"
	StatusInactive Status = "INACTIVE"
)

// Product represents a catalog item with its live stock counter.
type Product struct {
	ID        string
	Name      string
	Category  string
	Price     decimal.Decimal
	Stock     int
	Status    Status
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Purchasable reports whether the product may be added to a cart or ordered.
func (p Product) Purchasable() bool {
	return p.Status == StatusActive
}

// Repository defines catalog operations outside of order transactions.
type Repository interface {
	List(ctx context.Context) ([]Product, error)
	GetByID(ctx context.Context, id string) (*Product, error)
	GetByIDs(ctx context.Context, ids []string) ([]Product, error)
	// Upsert inserts the product or overwrites its catalog fields and stock.
	Upsert(ctx context.Context, p Product) error
}
