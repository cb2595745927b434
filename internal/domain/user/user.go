package user

import (
	"context"

	"github.com/go-faster/errors"
)

// ErrNotFound is returned when a user profile does not exist.
var ErrNotFound = errors.New("user not found")

// User is the part of a customer profile the order flow depends on.
type User struct {
	ID              string
	Email           string
	ShippingAddress string
}

// Repository stores user profiles.
type Repository interface {
	GetByID(ctx context.Context, id string) (*User, error)
	// SetShippingAddress stores the default address, creating the profile
	// when it does not exist yet.
	SetShippingAddress(ctx context.Context, id, address string) error
	Upsert(ctx context.Context, u User) error
}
