package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"

	"github.com/xenking/kart-orders/internal/domain/cart"
	"github.com/xenking/kart-orders/internal/domain/order"
	"github.com/xenking/kart-orders/internal/domain/product"
)

const (
	decrementStockSQL = `UPDATE products SET stock = stock - $2, updated_at = now()
		WHERE id = $1 AND status = 'ACTIVE' AND stock >= $2
		RETURNING stock`

	currentStockSQL = `SELECT stock FROM products WHERE id = $1`

	incrementStockSQL = `UPDATE products SET stock = stock + $2, updated_at = now() WHERE id = $1`
)

var _ order.Tx = (*orderTx)(nil)

// orderTx runs every statement on a single pgx.Tx.
type orderTx struct {
	q querier
}

func (t *orderTx) CartLines(ctx context.Context, userID string) ([]cart.Line, error) {
	return cartLines(ctx, t.q, userID)
}

func (t *orderTx) ClearCart(ctx context.Context, userID string) error {
	if _, err := t.q.Exec(ctx, clearCartSQL, userID); err != nil {
		return fmt.Errorf("clearing cart of %q: %w", userID, err)
	}
	return nil
}

func (t *orderTx) ShippingAddress(ctx context.Context, userID string) (string, error) {
	var address string
	if err := t.q.QueryRow(ctx, shippingAddressSQL, userID).Scan(&address); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", nil
		}
		return "", fmt.Errorf("getting address of %q: %w", userID, err)
	}
	return address, nil
}

func (t *orderTx) Products(ctx context.Context, ids []string) ([]product.Product, error) {
	return productsByIDs(ctx, t.q, ids)
}

func (t *orderTx) DecrementStock(ctx context.Context, productID string, qty int) (int, bool, error) {
	if qty < 1 {
		return 0, false, fmt.Errorf("decrementing stock of %q by %d: quantity must be positive", productID, qty)
	}
	var remaining int
	err := t.q.QueryRow(ctx, decrementStockSQL, productID, qty).Scan(&remaining)
	if err == nil {
		return remaining, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return 0, false, fmt.Errorf("decrementing stock of %q: %w", productID, err)
	}

	var available int
	if err := t.q.QueryRow(ctx, currentStockSQL, productID).Scan(&available); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("reading stock of %q: %w", productID, err)
	}
	return available, false, nil
}

func (t *orderTx) IncrementStock(ctx context.Context, productID string, qty int) error {
	tag, err := t.q.Exec(ctx, incrementStockSQL, productID, qty)
	if err != nil {
		return fmt.Errorf("incrementing stock of %q: %w", productID, err)
	}
	if tag.RowsAffected() == 0 {
		return product.ErrNotFound
	}
	return nil
}

func (t *orderTx) CreateOrder(ctx context.Context, o *order.Order) error {
	items, err := json.Marshal(o.Items)
	if err != nil {
		return fmt.Errorf("marshaling order items: %w", err)
	}
	if _, err := t.q.Exec(ctx, createOrderSQL,
		o.ID, o.UserID, items, o.ShippingCost, o.TotalAmount, o.ShippingAddress,
		string(o.Status), string(o.PaymentStatus), o.ReasonForCancel,
		o.CreatedAt, o.UpdatedAt, o.CancelledAt, o.StockReleasedAt,
	); err != nil {
		return fmt.Errorf("creating order %q: %w", o.ID, err)
	}
	return nil
}

func (t *orderTx) LockOrder(ctx context.Context, id string) (*order.Order, error) {
	return fetchOrder(ctx, t.q, lockOrderSQL, id)
}

func (t *orderTx) UpdateOrder(ctx context.Context, o *order.Order) error {
	tag, err := t.q.Exec(ctx, updateOrderSQL,
		o.ID, string(o.Status), string(o.PaymentStatus), o.ReasonForCancel,
		o.UpdatedAt, o.CancelledAt, o.StockReleasedAt,
	)
	if err != nil {
		return fmt.Errorf("updating order %q: %w", o.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return order.ErrOrderNotFound
	}
	return nil
}

func (t *orderTx) SyncHistory(ctx context.Context, e order.HistoryEntry) error {
	if _, err := t.q.Exec(ctx, syncHistorySQL,
		e.OrderID, e.UserID, string(e.Status), string(e.PaymentStatus), e.PlacedAt,
	); err != nil {
		return fmt.Errorf("syncing history of order %q: %w", e.OrderID, err)
	}
	return nil
}
