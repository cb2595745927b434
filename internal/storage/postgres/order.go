package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/kart-orders/internal/domain/order"
)

const (
	orderColumns = `id, user_id, items, shipping_cost, total_amount, shipping_address,
		status, payment_status, reason_for_cancel, created_at, updated_at, cancelled_at, stock_released_at`

	getOrderSQL = `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`

	lockOrderSQL = `SELECT ` + orderColumns + ` FROM orders WHERE id = $1 FOR UPDATE`

	listUserOrdersSQL = `SELECT ` + orderColumns + ` FROM orders
		WHERE user_id = $1 ORDER BY created_at DESC, id DESC`

	listOrdersSQL = `SELECT ` + orderColumns + ` FROM orders
		WHERE ($1::text = '' OR status = $1::text)
		ORDER BY created_at DESC, id DESC LIMIT $2`

	createOrderSQL = `INSERT INTO orders (` + orderColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`

	updateOrderSQL = `UPDATE orders SET
			status = $2,
			payment_status = $3,
			reason_for_cancel = $4,
			updated_at = $5,
			cancelled_at = $6,
			stock_released_at = $7
		WHERE id = $1`

	syncHistorySQL = `INSERT INTO user_order_history (order_id, user_id, status, payment_status, placed_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (order_id) DO UPDATE SET
			status = EXCLUDED.status,
			payment_status = EXCLUDED.payment_status`

	historySQL = `SELECT order_id, user_id, status, payment_status, placed_at
		FROM user_order_history WHERE user_id = $1 ORDER BY placed_at DESC, order_id DESC`
)

var _ order.Repository = (*OrderRepository)(nil)

// OrderRepository implements order.Repository backed by PostgreSQL.
type OrderRepository struct {
	pool *pgxpool.Pool
}

// NewOrderRepository returns an OrderRepository that uses the given pool.
func NewOrderRepository(pool *pgxpool.Pool) *OrderRepository {
	return &OrderRepository{pool: pool}
}

// WithinTx runs fn inside a READ COMMITTED transaction. Stock decrements are
// conditional updates and order transitions lock the order row, so the
// default isolation level is enough to rule out oversell and double release.
func (r *OrderRepository) WithinTx(ctx context.Context, fn func(ctx context.Context, tx order.Tx) error) error {
	return pgx.BeginTxFunc(ctx, r.pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		return fn(ctx, &orderTx{q: tx})
	})
}

// GetByID returns a single order.
func (r *OrderRepository) GetByID(ctx context.Context, id string) (*order.Order, error) {
	return fetchOrder(ctx, r.pool, getOrderSQL, id)
}

// ListByUser returns the user's orders, newest first.
func (r *OrderRepository) ListByUser(ctx context.Context, userID string) ([]order.Order, error) {
	rows, err := r.pool.Query(ctx, listUserOrdersSQL, userID)
	if err != nil {
		return nil, fmt.Errorf("listing orders for user %q: %w", userID, err)
	}
	return pgx.CollectRows(rows, scanOrder)
}

// List returns orders across all users.
func (r *OrderRepository) List(ctx context.Context, filter order.Filter) ([]order.Order, error) {
	rows, err := r.pool.Query(ctx, listOrdersSQL, string(filter.Status), filter.Limit)
	if err != nil {
		return nil, fmt.Errorf("listing orders: %w", err)
	}
	return pgx.CollectRows(rows, scanOrder)
}

// History returns the user's order history mirror, newest first.
func (r *OrderRepository) History(ctx context.Context, userID string) ([]order.HistoryEntry, error) {
	rows, err := r.pool.Query(ctx, historySQL, userID)
	if err != nil {
		return nil, fmt.Errorf("listing order history for user %q: %w", userID, err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (order.HistoryEntry, error) {
		var (
			e                     order.HistoryEntry
			status, paymentStatus string
		)
		err := row.Scan(&e.OrderID, &e.UserID, &status, &paymentStatus, &e.PlacedAt)
		e.Status = order.Status(status)
		e.PaymentStatus = order.PaymentStatus(paymentStatus)
		return e, err
	})
}

func fetchOrder(ctx context.Context, q querier, sql, id string) (*order.Order, error) {
	rows, err := q.Query(ctx, sql, id)
	if err != nil {
		return nil, fmt.Errorf("getting order %q: %w", id, err)
	}

	o, err := pgx.CollectExactlyOneRow(rows, scanOrder)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, order.ErrOrderNotFound
		}
		return nil, fmt.Errorf("getting order %q: %w", id, err)
	}
	return &o, nil
}

func scanOrder(row pgx.CollectableRow) (order.Order, error) {
	var (
		o                     order.Order
		items                 []byte
		status, paymentStatus string
		cancelledAt           *time.Time
		stockReleasedAt       *time.Time
	)
	if err := row.Scan(
		&o.ID, &o.UserID, &items, &o.ShippingCost, &o.TotalAmount, &o.ShippingAddress,
		&status, &paymentStatus, &o.ReasonForCancel, &o.CreatedAt, &o.UpdatedAt,
		&cancelledAt, &stockReleasedAt,
	); err != nil {
		return o, err
	}
	if err := json.Unmarshal(items, &o.Items); err != nil {
		return o, fmt.Errorf("unmarshaling items of order %q: %w", o.ID, err)
	}
	o.Status = order.Status(status)
	o.PaymentStatus = order.PaymentStatus(paymentStatus)
	o.CancelledAt = cancelledAt
	o.StockReleasedAt = stockReleasedAt
	return o, nil
}
