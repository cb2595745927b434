package memory

import (
	"context"
	"time"

	"github.com/go-faster/errors"

	"github.com/xenking/kart-orders/internal/domain/cart"
	"github.com/xenking/kart-orders/internal/domain/order"
	"github.com/xenking/kart-orders/internal/domain/product"
)

var (
	_ order.Repository = (*OrderRepository)(nil)
	_ order.Tx         = (*tx)(nil)
)

// OrderRepository implements order.Repository in memory.
type OrderRepository struct {
	s *Store
}

// WithinTx runs fn while holding the store lock. When fn fails every change
// made through the transaction is discarded.
func (r *OrderRepository) WithinTx(ctx context.Context, fn func(ctx context.Context, tx order.Tx) error) error {
	return r.s.withinTx(ctx, func(st *state) error {
		return fn(ctx, &tx{st: st, now: r.s.now})
	})
}

func (r *OrderRepository) GetByID(_ context.Context, id string) (*order.Order, error) {
	var (
		o  order.Order
		ok bool
	)
	r.s.locked(func(st *state) {
		o, ok = st.orders[id]
		o = copyOrder(o)
	})
	if !ok {
		return nil, order.ErrOrderNotFound
	}
	return &o, nil
}

func (r *OrderRepository) ListByUser(_ context.Context, userID string) ([]order.Order, error) {
	var out []order.Order
	r.s.locked(func(st *state) {
		for i := len(st.orderIDs) - 1; i >= 0; i-- {
			o := st.orders[st.orderIDs[i]]
			if o.UserID == userID {
				out = append(out, copyOrder(o))
			}
		}
	})
	return out, nil
}

func (r *OrderRepository) List(_ context.Context, filter order.Filter) ([]order.Order, error) {
	var out []order.Order
	r.s.locked(func(st *state) {
		for i := len(st.orderIDs) - 1; i >= 0; i-- {
			if filter.Limit > 0 && len(out) >= filter.Limit {
				return
			}
			o := st.orders[st.orderIDs[i]]
			if filter.Status != "" && o.Status != filter.Status {
				continue
			}
			out = append(out, copyOrder(o))
		}
	})
	return out, nil
}

func (r *OrderRepository) History(_ context.Context, userID string) ([]order.HistoryEntry, error) {
	var out []order.HistoryEntry
	r.s.locked(func(st *state) {
		for i := len(st.orderIDs) - 1; i >= 0; i-- {
			if e, ok := st.history[st.orderIDs[i]]; ok && e.UserID == userID {
				out = append(out, e)
			}
		}
	})
	return out, nil
}

// tx operates on the locked state. It never takes the store lock itself.
type tx struct {
	st  *state
	now func() time.Time
}

func (t *tx) CartLines(_ context.Context, userID string) ([]cart.Line, error) {
	lines := t.st.carts[userID]
	out := make([]cart.Line, len(lines))
	copy(out, lines)
	return out, nil
}

func (t *tx) ClearCart(_ context.Context, userID string) error {
	delete(t.st.carts, userID)
	return nil
}

func (t *tx) ShippingAddress(_ context.Context, userID string) (string, error) {
	return t.st.users[userID].ShippingAddress, nil
}

func (t *tx) Products(_ context.Context, ids []string) ([]product.Product, error) {
	return productsByIDs(t.st, ids), nil
}

func (t *tx) DecrementStock(_ context.Context, productID string, qty int) (int, bool, error) {
	if qty < 1 {
		return 0, false, errors.Errorf("decrement of %q by %d", productID, qty)
	}
	p, ok := t.st.products[productID]
	if !ok {
		return 0, false, nil
	}
	if !p.Purchasable() || p.Stock < qty {
		return p.Stock, false, nil
	}
	p.Stock -= qty
	p.UpdatedAt = t.now()
	t.st.products[productID] = p
	return p.Stock, true, nil
}

func (t *tx) IncrementStock(_ context.Context, productID string, qty int) error {
	p, ok := t.st.products[productID]
	if !ok {
		return product.ErrNotFound
	}
	p.Stock += qty
	p.UpdatedAt = t.now()
	t.st.products[productID] = p
	return nil
}

func (t *tx) CreateOrder(_ context.Context, o *order.Order) error {
	t.st.orders[o.ID] = copyOrder(*o)
	t.st.orderIDs = append(t.st.orderIDs, o.ID)
	return nil
}

func (t *tx) LockOrder(_ context.Context, id string) (*order.Order, error) {
	o, ok := t.st.orders[id]
	if !ok {
		return nil, order.ErrOrderNotFound
	}
	o = copyOrder(o)
	return &o, nil
}

func (t *tx) UpdateOrder(_ context.Context, o *order.Order) error {
	existing, ok := t.st.orders[o.ID]
	if !ok {
		return order.ErrOrderNotFound
	}
	existing.Status = o.Status
	existing.PaymentStatus = o.PaymentStatus
	existing.ReasonForCancel = o.ReasonForCancel
	existing.UpdatedAt = o.UpdatedAt
	existing.CancelledAt = o.CancelledAt
	existing.StockReleasedAt = o.StockReleasedAt
	t.st.orders[o.ID] = existing
	return nil
}

func (t *tx) SyncHistory(_ context.Context, entry order.HistoryEntry) error {
	t.st.history[entry.OrderID] = entry
	return nil
}
