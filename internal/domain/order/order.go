package order

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/xenking/kart-orders/internal/domain/cart"
	"github.com/xenking/kart-orders/internal/domain/product"
)

// Status is the fulfilment state of an order.
type Status string

const (
	StatusPending    Status = "PENDING"
	StatusProcessing Status = "PROCESSING"
	StatusShipped    Status = "SHIPPED"
	StatusDelivered  Status = "DELIVERED"
	StatusCancelled  Status = "CANCELLED"
)

var transitions = map[Status][]Status{
	StatusPending:    {StatusProcessing, StatusCancelled},
	StatusProcessing: {StatusShipped, StatusDelivered},
	StatusShipped:    {StatusDelivered},
}

// CanTransition reports whether the state machine allows moving to next.
func (s Status) CanTransition(next Status) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusShipped, StatusDelivered, StatusCancelled:
		return true
	}
	return false
}

// PaymentStatus tracks the payment side of an order independently of Status.
type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "PENDING"
	PaymentPaid      PaymentStatus = "PAID"
	PaymentFailed    PaymentStatus = "FAILED"
	PaymentCancelled PaymentStatus = "CANCELLED"
)

// Item is an immutable line of a placed order.
type Item struct {
	ProductID       string          `json:"product_id"`
	Quantity        int             `json:"quantity"`
	PriceAtPurchase decimal.Decimal `json:"price_at_purchase"`
}

// Subtotal returns Quantity × PriceAtPurchase.
func (i Item) Subtotal() decimal.Decimal {
	return i.PriceAtPurchase.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

// Order is a placed order. Items, ShippingCost and TotalAmount never change
// after creation; only the status fields and cancellation metadata do.
type Order struct {
	ID              string
	UserID          string
	Items           []Item
	ShippingCost    decimal.Decimal
	TotalAmount     decimal.Decimal
	ShippingAddress string
	Status          Status
	PaymentStatus   PaymentStatus
	ReasonForCancel string
	CreatedAt       time.Time
	UpdatedAt       time.Time
	CancelledAt     *time.Time
	// StockReleasedAt is set once the reserved stock has been returned to
	// the catalog. Stock is never restored twice for the same order.
	StockReleasedAt *time.Time
}

// Subtotal returns the sum of all item subtotals.
func (o *Order) Subtotal() decimal.Decimal {
	sum := decimal.Zero
	for _, it := range o.Items {
		sum = sum.Add(it.Subtotal())
	}
	return sum
}

// HistoryEntry mirrors the status of an order on the owning user's history.
type HistoryEntry struct {
	OrderID       string
	UserID        string
	Status        Status
	PaymentStatus PaymentStatus
	PlacedAt      time.Time
}

// HistoryEntryFor builds the mirror row for o.
func HistoryEntryFor(o *Order) HistoryEntry {
	return HistoryEntry{
		OrderID:       o.ID,
		UserID:        o.UserID,
		Status:        o.Status,
		PaymentStatus: o.PaymentStatus,
		PlacedAt:      o.CreatedAt,
	}
}

// Filter narrows the admin order listing.
type Filter struct {
	Status Status
	Limit  int
}

// Repository is the order ledger together with the transactional boundary
// used by placement and lifecycle transitions.
type Repository interface {
	// WithinTx runs fn in a single transaction. Any error returned by fn
	// rolls back every write made through tx.
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
	GetByID(ctx context.Context, id string) (*Order, error)
	ListByUser(ctx context.Context, userID string) ([]Order, error)
	List(ctx context.Context, filter Filter) ([]Order, error)
	History(ctx context.Context, userID string) ([]HistoryEntry, error)
}

// Tx is the set of writes that must commit or roll back together.
type Tx interface {
	CartLines(ctx context.Context, userID string) ([]cart.Line, error)
	ClearCart(ctx context.Context, userID string) error
	// ShippingAddress returns the stored address, or "" when none is set.
	ShippingAddress(ctx context.Context, userID string) (string, error)
	Products(ctx context.Context, ids []string) ([]product.Product, error)
	// DecrementStock atomically subtracts qty if the product is active and
	// has at least qty units. When it does not, ok is false and available
	// holds the current stock.
	DecrementStock(ctx context.Context, productID string, qty int) (available int, ok bool, err error)
	IncrementStock(ctx context.Context, productID string, qty int) error
	CreateOrder(ctx context.Context, o *Order) error
	// LockOrder loads the order and holds it against concurrent transitions
	// until the transaction ends.
	LockOrder(ctx context.Context, id string) (*Order, error)
	UpdateOrder(ctx context.Context, o *Order) error
	SyncHistory(ctx context.Context, entry HistoryEntry) error
}

// Notifier receives order events after they are committed.
type Notifier interface {
	OrderPlaced(ctx context.Context, o *Order) error
	OrderCancelled(ctx context.Context, o *Order, reason string) error
	PaymentConfirmed(ctx context.Context, o *Order) error
}
