// Package memory provides an in-process implementation of every storage
// interface. Transactions are serialized behind a single mutex and roll back
// by restoring a snapshot, which makes the store serializable. It backs unit
// tests and the "memory" storage mode.
package memory

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/xenking/kart-orders/internal/domain/cart"
	"github.com/xenking/kart-orders/internal/domain/order"
	"github.com/xenking/kart-orders/internal/domain/product"
	"github.com/xenking/kart-orders/internal/domain/user"
)

type state struct {
	products map[string]product.Product
	users    map[string]user.User
	carts    map[string][]cart.Line
	orders   map[string]order.Order
	// orderIDs keeps insertion order for newest-first listings.
	orderIDs []string
	history  map[string]order.HistoryEntry
}

func newState() state {
	return state{
		products: make(map[string]product.Product),
		users:    make(map[string]user.User),
		carts:    make(map[string][]cart.Line),
		orders:   make(map[string]order.Order),
		history:  make(map[string]order.HistoryEntry),
	}
}

func (st *state) clone() state {
	c := newState()
	for k, v := range st.products {
		c.products[k] = v
	}
	for k, v := range st.users {
		c.users[k] = v
	}
	for k, v := range st.carts {
		c.carts[k] = slices.Clone(v)
	}
	for k, v := range st.orders {
		c.orders[k] = copyOrder(v)
	}
	c.orderIDs = slices.Clone(st.orderIDs)
	for k, v := range st.history {
		c.history[k] = v
	}
	return c
}

func copyOrder(o order.Order) order.Order {
	o.Items = slices.Clone(o.Items)
	return o
}

// Store is the shared state behind the memory repositories.
type Store struct {
	mu  sync.Mutex
	st  state
	now func() time.Time
}

// New creates an empty Store.
func New() *Store {
	return &Store{
		st:  newState(),
		now: func() time.Time { return time.Now().UTC() },
	}
}

// Products returns the catalog repository.
func (s *Store) Products() *ProductRepository { return &ProductRepository{s: s} }

// Carts returns the cart repository.
func (s *Store) Carts() *CartRepository { return &CartRepository{s: s} }

// Users returns the user repository.
func (s *Store) Users() *UserRepository { return &UserRepository{s: s} }

// Orders returns the order ledger.
func (s *Store) Orders() *OrderRepository { return &OrderRepository{s: s} }

// Ping always succeeds. It lets the store stand in for a database in
// readiness checks.
func (s *Store) Ping(context.Context) error { return nil }

func (s *Store) locked(fn func(st *state)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(&s.st)
}

func (s *Store) withinTx(ctx context.Context, fn func(st *state) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := s.st.clone()
	if err := fn(&s.st); err != nil {
		s.st = snapshot
		return err
	}
	return nil
}
