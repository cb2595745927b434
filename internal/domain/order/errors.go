package order

import (
	"fmt"

	"github.com/go-faster/errors"
)

// Sentinel errors returned by the order services.
var (
	ErrInvalidRequest = errors.New("invalid request")
	ErrOrderNotFound  = errors.New("order not found")
	ErrMissingAddress = errors.New("shipping address required")
	ErrUnauthorized   = errors.New("unauthorized")
	ErrInvalidReason  = errors.New("cancellation reason too short")
)

// ProductNotFoundError indicates a product is absent or no longer sold.
type ProductNotFoundError struct {
	ProductID string
}

func (e *ProductNotFoundError) Error() string {
	return fmt.Sprintf("product %s not found", e.ProductID)
}

// InsufficientStockError names the product whose stock cannot cover the
// requested quantity.
type InsufficientStockError struct {
	ProductID string
	Requested int
	Available int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for product %s: requested %d, available %d",
		e.ProductID, e.Requested, e.Available)
}

// InvalidTransitionError is returned when the state machine forbids the
// requested move.
type InvalidTransitionError struct {
	OrderID string
	From    Status
	To      Status
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("order %s: cannot move from %s to %s", e.OrderID, e.From, e.To)
}

func invalidRequest(msg string) error {
	return errors.Wrap(ErrInvalidRequest, msg)
}
