package cart

import (
	"context"
	"math"
	"testing"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/kart-orders/internal/domain/product"
)

// --- Mock implementations ---

type mockProductRepo struct {
	byID   map[string]*product.Product
	getErr error
}

func (m *mockProductRepo) List(_ context.Context) ([]product.Product, error) {
	return nil, nil
}

func (m *mockProductRepo) GetByID(_ context.Context, id string) (*product.Product, error) {
	if m.getErr != nil {
		return nil, m.getErr
	}
	p, ok := m.byID[id]
	if !ok {
		return nil, product.ErrNotFound
	}
	return p, nil
}

func (m *mockProductRepo) GetByIDs(_ context.Context, _ []string) ([]product.Product, error) {
	return nil, nil
}

func (m *mockProductRepo) Upsert(_ context.Context, _ product.Product) error {
	return nil
}

type mockLineRepo struct {
	lines []Line
}

func (m *mockLineRepo) Lines(_ context.Context, userID string) ([]Line, error) {
	var out []Line
	for _, l := range m.lines {
		if l.UserID == userID {
			out = append(out, l)
		}
	}
	return out, nil
}

func (m *mockLineRepo) Upsert(_ context.Context, line Line) error {
	for i, l := range m.lines {
		if l.UserID == line.UserID && l.ProductID == line.ProductID {
			m.lines[i] = line
			return nil
		}
	}
	m.lines = append(m.lines, line)
	return nil
}

func (m *mockLineRepo) Add(_ context.Context, line Line, limit int) (Line, error) {
	for i, l := range m.lines {
		if l.UserID == line.UserID && l.ProductID == line.ProductID {
			if l.Quantity > limit-line.Quantity {
				return l, ErrInvalidQuantity
			}
			m.lines[i].Quantity += line.Quantity
			return m.lines[i], nil
		}
	}
	m.lines = append(m.lines, line)
	return line, nil
}

func (m *mockLineRepo) Remove(_ context.Context, userID, productID string) error {
	for i, l := range m.lines {
		if l.UserID == userID && l.ProductID == productID {
			m.lines = append(m.lines[:i], m.lines[i+1:]...)
			return nil
		}
	}
	return ErrLineNotFound
}

// --- Helpers ---

func newProductRepo(products ...product.Product) *mockProductRepo {
	byID := make(map[string]*product.Product, len(products))
	for i := range products {
		byID[products[i].ID] = &products[i]
	}
	return &mockProductRepo{byID: byID}
}

func activeProduct(id string, price string) product.Product {
	return product.Product{
		ID:     id,
		Name:   id,
		Price:  decimal.RequireFromString(price),
		Stock:  10,
		Status: product.StatusActive,
	}
}

// --- Tests ---

func TestAddItem_NewLine(t *testing.T) {
	svc := NewService(newProductRepo(activeProduct("p1", "10.00")), &mockLineRepo{})

	c, err := svc.AddItem(context.Background(), "u1", "p1", 2)
	require.NoError(t, err)
	require.Len(t, c.Lines, 1)
	assert.Equal(t, 2, c.Lines[0].Quantity)
	assert.True(t, decimal.RequireFromString("20.00").Equal(c.Subtotal))
}

func TestAddItem_MergesQuantityAndKeepsPrice(t *testing.T) {
	products := newProductRepo(activeProduct("p1", "10.00"))
	svc := NewService(products, &mockLineRepo{})
	ctx := context.Background()

	_, err := svc.AddItem(ctx, "u1", "p1", 1)
	require.NoError(t, err)

	products.byID["p1"].Price = decimal.RequireFromString("99.00")

	c, err := svc.AddItem(ctx, "u1", "p1", 2)
	require.NoError(t, err)
	require.Len(t, c.Lines, 1)
	assert.Equal(t, 3, c.Lines[0].Quantity)
	assert.True(t, decimal.RequireFromString("10.00").Equal(c.Lines[0].UnitPrice))
}

func TestAddItem_Rejects(t *testing.T) {
	inactive := activeProduct("off", "1.00")
	inactive.Status = product.StatusInactive

	tests := []struct {
		name      string
		productID string
		qty       int
		wantErr   error
	}{
		{name: "zero quantity", productID: "p1", qty: 0, wantErr: ErrInvalidQuantity},
		{name: "negative quantity", productID: "p1", qty: -3, wantErr: ErrInvalidQuantity},
		{name: "above line limit", productID: "p1", qty: MaxQuantity + 1, wantErr: ErrInvalidQuantity},
		{name: "max int", productID: "p1", qty: math.MaxInt, wantErr: ErrInvalidQuantity},
		{name: "unknown product", productID: "missing", qty: 1, wantErr: product.ErrNotFound},
		{name: "inactive product", productID: "off", qty: 1, wantErr: product.ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := NewService(newProductRepo(activeProduct("p1", "1.00"), inactive), &mockLineRepo{})
			_, err := svc.AddItem(context.Background(), "u1", tt.productID, tt.qty)
			require.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestAddItem_MergeBeyondLimitKeepsLine(t *testing.T) {
	lines := &mockLineRepo{}
	svc := NewService(newProductRepo(activeProduct("p1", "1.00")), lines)
	ctx := context.Background()

	_, err := svc.AddItem(ctx, "u1", "p1", 1)
	require.NoError(t, err)
	_, err = svc.AddItem(ctx, "u1", "p1", MaxQuantity)
	require.ErrorIs(t, err, ErrInvalidQuantity)

	c, err := svc.AddItem(ctx, "u1", "p1", MaxQuantity-1)
	require.NoError(t, err)
	require.Len(t, c.Lines, 1)
	assert.Equal(t, MaxQuantity, c.Lines[0].Quantity)
}

func TestAddItem_RepositoryError(t *testing.T) {
	products := &mockProductRepo{getErr: errors.New("db down")}
	svc := NewService(products, &mockLineRepo{})

	_, err := svc.AddItem(context.Background(), "u1", "p1", 1)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "get product p1")
}

func TestSetQuantity(t *testing.T) {
	lines := &mockLineRepo{}
	svc := NewService(newProductRepo(activeProduct("p1", "2.50")), lines)
	ctx := context.Background()

	_, err := svc.AddItem(ctx, "u1", "p1", 1)
	require.NoError(t, err)

	c, err := svc.SetQuantity(ctx, "u1", "p1", 4)
	require.NoError(t, err)
	assert.Equal(t, 4, c.Lines[0].Quantity)
	assert.True(t, decimal.RequireFromString("10.00").Equal(c.Subtotal))

	_, err = svc.SetQuantity(ctx, "u1", "p1", 0)
	require.ErrorIs(t, err, ErrInvalidQuantity)
	_, err = svc.SetQuantity(ctx, "u1", "p1", MaxQuantity+1)
	require.ErrorIs(t, err, ErrInvalidQuantity)

	_, err = svc.SetQuantity(ctx, "u1", "other", 1)
	require.ErrorIs(t, err, ErrLineNotFound)
}

func TestRemoveItem(t *testing.T) {
	lines := &mockLineRepo{}
	svc := NewService(newProductRepo(activeProduct("p1", "1.00")), lines)
	ctx := context.Background()

	_, err := svc.AddItem(ctx, "u1", "p1", 1)
	require.NoError(t, err)

	c, err := svc.RemoveItem(ctx, "u1", "p1")
	require.NoError(t, err)
	assert.Empty(t, c.Lines)
	assert.True(t, decimal.Zero.Equal(c.Subtotal))

	_, err = svc.RemoveItem(ctx, "u1", "p1")
	require.ErrorIs(t, err, ErrLineNotFound)
}
