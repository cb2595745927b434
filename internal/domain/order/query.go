package order

import (
	"context"

	"github.com/go-faster/errors"

	"github.com/xenking/kart-orders/internal/domain/auth"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

// GetUserOrders returns the user's orders, newest first.
func (s *Service) GetUserOrders(ctx context.Context, userID string) ([]Order, error) {
	if userID == "" {
		return nil, ErrUnauthorized
	}
	orders, err := s.orders.ListByUser(ctx, userID)
	if err != nil {
		return nil, errors.Wrap(err, "list user orders")
	}
	return orders, nil
}

// GetUserOrderHistory returns the user's history mirror, newest first.
func (s *Service) GetUserOrderHistory(ctx context.Context, userID string) ([]HistoryEntry, error) {
	if userID == "" {
		return nil, ErrUnauthorized
	}
	entries, err := s.orders.History(ctx, userID)
	if err != nil {
		return nil, errors.Wrap(err, "list order history")
	}
	return entries, nil
}

// GetOrderByID returns a single order visible to the owner or an admin.
func (s *Service) GetOrderByID(ctx context.Context, actor auth.Actor, orderID string) (*Order, error) {
	o, err := s.orders.GetByID(ctx, orderID)
	if err != nil {
		if errors.Is(err, ErrOrderNotFound) {
			return nil, err
		}
		return nil, errors.Wrap(err, "get order")
	}
	if !actor.CanAccess(o.UserID) {
		return nil, ErrUnauthorized
	}
	return o, nil
}

// GetAllOrders lists orders across all users. Admin only.
func (s *Service) GetAllOrders(ctx context.Context, actor auth.Actor, filter Filter) ([]Order, error) {
	if !actor.IsAdmin() {
		return nil, ErrUnauthorized
	}
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, invalidRequest("unknown status filter")
	}
	switch {
	case filter.Limit <= 0:
		filter.Limit = defaultListLimit
	case filter.Limit > maxListLimit:
		filter.Limit = maxListLimit
	}

	orders, err := s.orders.List(ctx, filter)
	if err != nil {
		return nil, errors.Wrap(err, "list orders")
	}
	return orders, nil
}
