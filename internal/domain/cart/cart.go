package cart

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// MaxQuantity bounds the quantity of a single cart line.
const MaxQuantity = 10_000

// Line is a single product entry in a user's cart. UnitPrice is the catalog
// price captured when the product was first added.
type Line struct {
	UserID    string
	ProductID string
	Quantity  int
	UnitPrice decimal.Decimal
	AddedAt   time.Time
}

// TotalPrice returns Quantity × UnitPrice.
func (l Line) TotalPrice() decimal.Decimal {
	return l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

// Cart is a read view of all lines belonging to one user.
type Cart struct {
	UserID   string
	Lines    []Line
	Subtotal decimal.Decimal
}

// Repository stores cart lines keyed by (user, product).
type Repository interface {
	// Lines returns the user's cart in insertion order.
	Lines(ctx context.Context, userID string) ([]Line, error)
	// Upsert inserts the line or replaces the stored quantity and price.
	Upsert(ctx context.Context, line Line) error
	// Add inserts the line or atomically increases the stored quantity by
	// line.Quantity, keeping the stored price. It returns ErrInvalidQuantity
	// and changes nothing when the result would exceed limit.
	Add(ctx context.Context, line Line, limit int) (Line, error)
	// Remove deletes a line, returning ErrLineNotFound when it is absent.
	Remove(ctx context.Context, userID, productID string) error
}
