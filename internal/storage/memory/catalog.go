package memory

import (
	"context"
	"slices"
	"sort"

	"github.com/xenking/kart-orders/internal/domain/cart"
	"github.com/xenking/kart-orders/internal/domain/product"
	"github.com/xenking/kart-orders/internal/domain/user"
)

var (
	_ product.Repository = (*ProductRepository)(nil)
	_ cart.Repository    = (*CartRepository)(nil)
	_ user.Repository    = (*UserRepository)(nil)
)

// ProductRepository implements product.Repository in memory.
type ProductRepository struct {
	s *Store
}

func (r *ProductRepository) List(_ context.Context) ([]product.Product, error) {
	var out []product.Product
	r.s.locked(func(st *state) {
		out = make([]product.Product, 0, len(st.products))
		for _, p := range st.products {
			out = append(out, p)
		}
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *ProductRepository) GetByID(_ context.Context, id string) (*product.Product, error) {
	var (
		p  product.Product
		ok bool
	)
	r.s.locked(func(st *state) { p, ok = st.products[id] })
	if !ok {
		return nil, product.ErrNotFound
	}
	return &p, nil
}

func (r *ProductRepository) GetByIDs(_ context.Context, ids []string) ([]product.Product, error) {
	var out []product.Product
	r.s.locked(func(st *state) { out = productsByIDs(st, ids) })
	return out, nil
}

func (r *ProductRepository) Upsert(_ context.Context, p product.Product) error {
	r.s.locked(func(st *state) {
		now := r.s.now()
		if existing, ok := st.products[p.ID]; ok {
			p.CreatedAt = existing.CreatedAt
		} else {
			p.CreatedAt = now
		}
		if p.Status == "" {
			p.Status = product.StatusActive
		}
		p.UpdatedAt = now
		st.products[p.ID] = p
	})
	return nil
}

func productsByIDs(st *state, ids []string) []product.Product {
	out := make([]product.Product, 0, len(ids))
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		if p, ok := st.products[id]; ok {
			out = append(out, p)
		}
	}
	return out
}

// CartRepository implements cart.Repository in memory.
type CartRepository struct {
	s *Store
}

func (r *CartRepository) Lines(_ context.Context, userID string) ([]cart.Line, error) {
	var out []cart.Line
	r.s.locked(func(st *state) { out = slices.Clone(st.carts[userID]) })
	return out, nil
}

func (r *CartRepository) Upsert(_ context.Context, line cart.Line) error {
	r.s.locked(func(st *state) {
		lines := st.carts[line.UserID]
		for i, l := range lines {
			if l.ProductID == line.ProductID {
				lines[i] = line
				return
			}
		}
		if line.AddedAt.IsZero() {
			line.AddedAt = r.s.now()
		}
		st.carts[line.UserID] = append(lines, line)
	})
	return nil
}

func (r *CartRepository) Add(_ context.Context, line cart.Line, limit int) (cart.Line, error) {
	if line.Quantity < 1 || line.Quantity > limit {
		return line, cart.ErrInvalidQuantity
	}
	var (
		out cart.Line
		err error
	)
	r.s.locked(func(st *state) {
		lines := st.carts[line.UserID]
		for i, l := range lines {
			if l.ProductID != line.ProductID {
				continue
			}
			if l.Quantity > limit-line.Quantity {
				out, err = l, cart.ErrInvalidQuantity
				return
			}
			lines[i].Quantity += line.Quantity
			out = lines[i]
			return
		}
		if line.AddedAt.IsZero() {
			line.AddedAt = r.s.now()
		}
		st.carts[line.UserID] = append(lines, line)
		out = line
	})
	return out, err
}

func (r *CartRepository) Remove(_ context.Context, userID, productID string) error {
	found := false
	r.s.locked(func(st *state) {
		lines := st.carts[userID]
		for i, l := range lines {
			if l.ProductID == productID {
				st.carts[userID] = slices.Delete(lines, i, i+1)
				found = true
				return
			}
		}
	})
	if !found {
		return cart.ErrLineNotFound
	}
	return nil
}

// UserRepository implements user.Repository in memory.
type UserRepository struct {
	s *Store
}

func (r *UserRepository) GetByID(_ context.Context, id string) (*user.User, error) {
	var (
		u  user.User
		ok bool
	)
	r.s.locked(func(st *state) { u, ok = st.users[id] })
	if !ok {
		return nil, user.ErrNotFound
	}
	return &u, nil
}

func (r *UserRepository) SetShippingAddress(_ context.Context, id, address string) error {
	r.s.locked(func(st *state) {
		u := st.users[id]
		u.ID = id
		u.ShippingAddress = address
		st.users[id] = u
	})
	return nil
}

func (r *UserRepository) Upsert(_ context.Context, u user.User) error {
	r.s.locked(func(st *state) { st.users[u.ID] = u })
	return nil
}
