package cart

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/kart-orders/internal/domain/product"
)

// Sentinel errors for cart mutations.
var (
	ErrInvalidQuantity = errors.New("quantity must be between 1 and 10000")
	ErrLineNotFound    = errors.New("cart line not found")
)

// Service implements cart mutations against the catalog.
type Service struct {
	products product.Repository
	lines    Repository
	now      func() time.Time
}

// NewService creates a cart Service.
func NewService(products product.Repository, lines Repository) *Service {
	return &Service{
		products: products,
		lines:    lines,
		now:      time.Now,
	}
}

// View returns the user's cart with its subtotal.
func (s *Service) View(ctx context.Context, userID string) (*Cart, error) {
	lines, err := s.lines.Lines(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("get cart lines: %w", err)
	}

	subtotal := decimal.Zero
	for _, l := range lines {
		subtotal = subtotal.Add(l.TotalPrice())
	}
	return &Cart{UserID: userID, Lines: lines, Subtotal: subtotal}, nil
}

// AddItem puts qty units of the product into the cart. When the product is
// already present the quantity is increased and the original price snapshot
// is kept.
func (s *Service) AddItem(ctx context.Context, userID, productID string, qty int) (*Cart, error) {
	if !validQuantity(qty) {
		return nil, ErrInvalidQuantity
	}

	p, err := s.purchasable(ctx, productID)
	if err != nil {
		return nil, err
	}

	if _, err := s.lines.Add(ctx, Line{
		UserID:    userID,
		ProductID: productID,
		Quantity:  qty,
		UnitPrice: p.Price,
		AddedAt:   s.now(),
	}, MaxQuantity); err != nil {
		if errors.Is(err, ErrInvalidQuantity) {
			return nil, err
		}
		return nil, fmt.Errorf("add cart line: %w", err)
	}
	return s.View(ctx, userID)
}

// SetQuantity replaces the quantity of an existing line.
func (s *Service) SetQuantity(ctx context.Context, userID, productID string, qty int) (*Cart, error) {
	if !validQuantity(qty) {
		return nil, ErrInvalidQuantity
	}

	lines, err := s.lines.Lines(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("get cart lines: %w", err)
	}

	for _, existing := range lines {
		if existing.ProductID != productID {
			continue
		}
		existing.Quantity = qty
		if err := s.lines.Upsert(ctx, existing); err != nil {
			return nil, fmt.Errorf("upsert cart line: %w", err)
		}
		return s.View(ctx, userID)
	}
	return nil, ErrLineNotFound
}

// RemoveItem deletes a product from the cart.
func (s *Service) RemoveItem(ctx context.Context, userID, productID string) (*Cart, error) {
	if err := s.lines.Remove(ctx, userID, productID); err != nil {
		if errors.Is(err, ErrLineNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("remove cart line: %w", err)
	}
	return s.View(ctx, userID)
}

func (s *Service) purchasable(ctx context.Context, productID string) (*product.Product, error) {
	p, err := s.products.GetByID(ctx, productID)
	if err != nil {
		if errors.Is(err, product.ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("get product %s: %w", productID, err)
	}
	if !p.Purchasable() {
		return nil, product.ErrNotFound
	}
	return p, nil
}

func validQuantity(qty int) bool {
	return qty >= 1 && qty <= MaxQuantity
}
