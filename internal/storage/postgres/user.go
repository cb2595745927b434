package postgres

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/kart-orders/internal/domain/user"
)

const (
	getUserSQL = `SELECT id, email, shipping_address FROM users WHERE id = $1`

	setShippingAddressSQL = `INSERT INTO users (id, shipping_address) VALUES ($1, $2)
		ON CONFLICT (id) DO UPDATE SET shipping_address = EXCLUDED.shipping_address`

	upsertUserSQL = `INSERT INTO users (id, email, shipping_address) VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET
			email = EXCLUDED.email,
			shipping_address = EXCLUDED.shipping_address`

	shippingAddressSQL = `SELECT shipping_address FROM users WHERE id = $1`
)

var _ user.Repository = (*UserRepository)(nil)

// UserRepository implements user.Repository backed by PostgreSQL.
type UserRepository struct {
	pool *pgxpool.Pool
}

// NewUserRepository returns a UserRepository that uses the given pool.
func NewUserRepository(pool *pgxpool.Pool) *UserRepository {
	return &UserRepository{pool: pool}
}

func (r *UserRepository) GetByID(ctx context.Context, id string) (*user.User, error) {
	var u user.User
	err := r.pool.QueryRow(ctx, getUserSQL, id).Scan(&u.ID, &u.Email, &u.ShippingAddress)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, user.ErrNotFound
		}
		return nil, fmt.Errorf("getting user %q: %w", id, err)
	}
	return &u, nil
}

func (r *UserRepository) SetShippingAddress(ctx context.Context, id, address string) error {
	if _, err := r.pool.Exec(ctx, setShippingAddressSQL, id, address); err != nil {
		return fmt.Errorf("setting address for user %q: %w", id, err)
	}
	return nil
}

func (r *UserRepository) Upsert(ctx context.Context, u user.User) error {
	if _, err := r.pool.Exec(ctx, upsertUserSQL, u.ID, u.Email, u.ShippingAddress); err != nil {
		return fmt.Errorf("upserting user %q: %w", u.ID, err)
	}
	return nil
}
