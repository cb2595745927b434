package postgres

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/kart-orders/internal/domain/cart"
)

const (
	cartLinesSQL = `SELECT user_id, product_id, quantity, unit_price, added_at
		FROM cart_lines WHERE user_id = $1 ORDER BY added_at, product_id`

	upsertCartLineSQL = `INSERT INTO cart_lines (user_id, product_id, quantity, unit_price)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id, product_id) DO UPDATE SET
			quantity = EXCLUDED.quantity,
			unit_price = EXCLUDED.unit_price`

	// The conditional update leaves the row untouched, and returns nothing,
	// when the merged quantity would exceed the limit.
	addCartLineSQL = `INSERT INTO cart_lines (user_id, product_id, quantity, unit_price)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id, product_id) DO UPDATE SET
			quantity = cart_lines.quantity + EXCLUDED.quantity
		WHERE cart_lines.quantity <= $5::int - EXCLUDED.quantity
		RETURNING user_id, product_id, quantity, unit_price, added_at`

	removeCartLineSQL = `DELETE FROM cart_lines WHERE user_id = $1 AND product_id = $2`

	clearCartSQL = `DELETE FROM cart_lines WHERE user_id = $1`
)

var _ cart.Repository = (*CartRepository)(nil)

// CartRepository implements cart.Repository backed by PostgreSQL.
type CartRepository struct {
	pool *pgxpool.Pool
}

// NewCartRepository returns a CartRepository that uses the given pool.
func NewCartRepository(pool *pgxpool.Pool) *CartRepository {
	return &CartRepository{pool: pool}
}

func (r *CartRepository) Lines(ctx context.Context, userID string) ([]cart.Line, error) {
	return cartLines(ctx, r.pool, userID)
}

func (r *CartRepository) Upsert(ctx context.Context, line cart.Line) error {
	if _, err := r.pool.Exec(ctx, upsertCartLineSQL,
		line.UserID, line.ProductID, line.Quantity, line.UnitPrice,
	); err != nil {
		return fmt.Errorf("upserting cart line %s/%s: %w", line.UserID, line.ProductID, err)
	}
	return nil
}

func (r *CartRepository) Add(ctx context.Context, line cart.Line, limit int) (cart.Line, error) {
	if line.Quantity < 1 || line.Quantity > limit {
		return line, cart.ErrInvalidQuantity
	}
	var out cart.Line
	err := r.pool.QueryRow(ctx, addCartLineSQL,
		line.UserID, line.ProductID, line.Quantity, line.UnitPrice, limit,
	).Scan(&out.UserID, &out.ProductID, &out.Quantity, &out.UnitPrice, &out.AddedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return line, cart.ErrInvalidQuantity
		}
		return line, fmt.Errorf("adding cart line %s/%s: %w", line.UserID, line.ProductID, err)
	}
	return out, nil
}

func (r *CartRepository) Remove(ctx context.Context, userID, productID string) error {
	tag, err := r.pool.Exec(ctx, removeCartLineSQL, userID, productID)
	if err != nil {
		return fmt.Errorf("removing cart line %s/%s: %w", userID, productID, err)
	}
	if tag.RowsAffected() == 0 {
		return cart.ErrLineNotFound
	}
	return nil
}

func cartLines(ctx context.Context, q querier, userID string) ([]cart.Line, error) {
	rows, err := q.Query(ctx, cartLinesSQL, userID)
	if err != nil {
		return nil, fmt.Errorf("listing cart lines: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (cart.Line, error) {
		var l cart.Line
		err := row.Scan(&l.UserID, &l.ProductID, &l.Quantity, &l.UnitPrice, &l.AddedAt)
		return l, err
	})
}
