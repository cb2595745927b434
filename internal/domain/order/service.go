package order

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	"github.com/xenking/kart-orders/internal/domain/cart"
	"github.com/xenking/kart-orders/internal/domain/product"
)

const instrumentationName = "github.com/xenking/kart-orders/internal/domain/order"

// maxAmount is the exclusive upper bound of a stored money value
// (NUMERIC(12,2)).
var maxAmount = decimal.New(1, 10)

// validAmount accepts non-negative values with at most two decimal places
// below maxAmount.
func validAmount(name string, v decimal.Decimal) error {
	switch {
	case v.IsNegative():
		return invalidRequest(name + " must not be negative")
	case !v.Equal(v.Round(2)):
		return invalidRequest(name + " must have at most two decimal places")
	case v.GreaterThanOrEqual(maxAmount):
		return invalidRequest(name + " is too large")
	}
	return nil
}

// DirectBuy places a single product without touching the cart.
type DirectBuy struct {
	ProductID string
	Quantity  int
}

// PlaceOrderRequest holds the input for placing an order.
type PlaceOrderRequest struct {
	UserID string
	// ShippingAddress overrides the stored address when non-empty.
	ShippingAddress string
	ShippingCost    decimal.Decimal
	// DirectBuy is used only when the user's cart is empty.
	DirectBuy *DirectBuy
}

// Service implements order placement, the order lifecycle and order queries.
type Service struct {
	orders        Repository
	notifier      Notifier
	notifyTimeout time.Duration
	now           func() time.Time
	newID         func() string

	meterProvider  metric.MeterProvider
	tracerProvider trace.TracerProvider
	tracer         trace.Tracer
	metrics        metrics
}

// Option configures a Service.
type Option func(*Service)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithIDGenerator overrides order ID generation.
func WithIDGenerator(fn func() string) Option {
	return func(s *Service) { s.newID = fn }
}

// WithNotifyTimeout bounds how long a committed operation waits for the
// notifier before returning.
func WithNotifyTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.notifyTimeout = d
		}
	}
}

// WithTelemetry sets the providers used for order metrics and spans.
func WithTelemetry(mp metric.MeterProvider, tp trace.TracerProvider) Option {
	return func(s *Service) {
		s.meterProvider = mp
		s.tracerProvider = tp
	}
}

// NewService creates an order Service.
func NewService(orders Repository, notifier Notifier, opts ...Option) (*Service, error) {
	s := &Service{
		orders:         orders,
		notifier:       notifier,
		notifyTimeout:  2 * time.Second,
		now:            func() time.Time { return time.Now().UTC() },
		newID:          func() string { return uuid.New().String() },
		meterProvider:  metricnoop.NewMeterProvider(),
		tracerProvider: tracenoop.NewTracerProvider(),
	}
	for _, opt := range opts {
		opt(s)
	}

	m, err := newMetrics(s.meterProvider.Meter(instrumentationName))
	if err != nil {
		return nil, errors.Wrap(err, "create metrics")
	}
	s.metrics = m
	s.tracer = s.tracerProvider.Tracer(instrumentationName)
	return s, nil
}

// PlaceOrder turns the user's cart, or the direct-buy line when the cart is
// empty, into a PENDING order. Stock is reserved, the order and its history
// mirror are written, and the cart is cleared, all in one transaction.
func (s *Service) PlaceOrder(ctx context.Context, req PlaceOrderRequest) (_ *Order, rerr error) {
	ctx, span := s.tracer.Start(ctx, "order.PlaceOrder")
	defer func() { endSpan(span, rerr) }()

	if req.UserID == "" {
		return nil, ErrUnauthorized
	}
	if err := validAmount("shipping cost", req.ShippingCost); err != nil {
		return nil, err
	}

	var placed *Order
	if err := s.orders.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		o, err := s.place(ctx, tx, req)
		if err != nil {
			return err
		}
		placed = o
		return nil
	}); err != nil {
		var stockErr *InsufficientStockError
		if errors.As(err, &stockErr) {
			s.metrics.stockConflicts.Add(ctx, 1)
		}
		return nil, err
	}

	s.metrics.placed.Add(ctx, 1)
	zctx.From(ctx).Info("Order placed",
		zap.String("order_id", placed.ID),
		zap.String("user_id", placed.UserID),
		zap.Int("items", len(placed.Items)),
		zap.String("total", placed.TotalAmount.String()),
	)
	s.notify(ctx, "order_placed", placed, func(ctx context.Context) error {
		return s.notifier.OrderPlaced(ctx, placed)
	})
	return placed, nil
}

type wantedItem struct {
	ProductID string
	Quantity  int
}

func (s *Service) place(ctx context.Context, tx Tx, req PlaceOrderRequest) (*Order, error) {
	lines, err := tx.CartLines(ctx, req.UserID)
	if err != nil {
		return nil, errors.Wrap(err, "get cart")
	}
	wanted, fromCart, err := selectItems(lines, req.DirectBuy)
	if err != nil {
		return nil, err
	}

	ids := make([]string, len(wanted))
	for i, w := range wanted {
		ids[i] = w.ProductID
	}
	products, err := tx.Products(ctx, ids)
	if err != nil {
		return nil, errors.Wrap(err, "get products")
	}
	byID := make(map[string]product.Product, len(products))
	for _, p := range products {
		byID[p.ID] = p
	}

	// Every line is checked before the first write.
	items := make([]Item, 0, len(wanted))
	for _, w := range wanted {
		p, ok := byID[w.ProductID]
		if !ok || !p.Purchasable() {
			return nil, &ProductNotFoundError{ProductID: w.ProductID}
		}
		if p.Stock < w.Quantity {
			return nil, &InsufficientStockError{
				ProductID: w.ProductID,
				Requested: w.Quantity,
				Available: p.Stock,
			}
		}
		items = append(items, Item{
			ProductID:       p.ID,
			Quantity:        w.Quantity,
			PriceAtPurchase: p.Price,
		})
	}

	address := strings.TrimSpace(req.ShippingAddress)
	if address == "" {
		stored, err := tx.ShippingAddress(ctx, req.UserID)
		if err != nil {
			return nil, errors.Wrap(err, "get shipping address")
		}
		address = strings.TrimSpace(stored)
	}
	if address == "" {
		return nil, ErrMissingAddress
	}

	if err := reserveStock(ctx, tx, items); err != nil {
		return nil, err
	}

	now := s.now()
	o := &Order{
		ID:              s.newID(),
		UserID:          req.UserID,
		Items:           items,
		ShippingCost:    req.ShippingCost,
		ShippingAddress: address,
		Status:          StatusPending,
		PaymentStatus:   PaymentPending,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	o.TotalAmount = o.Subtotal().Add(req.ShippingCost)
	if o.TotalAmount.GreaterThanOrEqual(maxAmount) {
		return nil, invalidRequest("order total exceeds the supported amount")
	}

	if err := tx.CreateOrder(ctx, o); err != nil {
		return nil, errors.Wrap(err, "create order")
	}
	if err := tx.SyncHistory(ctx, HistoryEntryFor(o)); err != nil {
		return nil, errors.Wrap(err, "sync history")
	}
	if fromCart {
		if err := tx.ClearCart(ctx, req.UserID); err != nil {
			return nil, errors.Wrap(err, "clear cart")
		}
	}
	return o, nil
}

// selectItems applies mode precedence: a non-empty cart wins over direct buy.
func selectItems(lines []cart.Line, direct *DirectBuy) (_ []wantedItem, fromCart bool, _ error) {
	if len(lines) > 0 {
		wanted := make([]wantedItem, len(lines))
		for i, l := range lines {
			if l.Quantity < 1 || l.Quantity > cart.MaxQuantity {
				return nil, false, invalidRequest(fmt.Sprintf("cart quantity of product %s out of range", l.ProductID))
			}
			wanted[i] = wantedItem{ProductID: l.ProductID, Quantity: l.Quantity}
		}
		return wanted, true, nil
	}
	if direct == nil {
		return nil, false, invalidRequest("cart is empty and no direct buy item given")
	}
	if strings.TrimSpace(direct.ProductID) == "" {
		return nil, false, invalidRequest("direct buy product id required")
	}
	if direct.Quantity < 1 || direct.Quantity > cart.MaxQuantity {
		return nil, false, invalidRequest("direct buy quantity must be between 1 and 10000")
	}
	return []wantedItem{{ProductID: direct.ProductID, Quantity: direct.Quantity}}, false, nil
}

// reserveStock decrements stock in ascending product ID order so that
// concurrent multi-line orders acquire row locks in the same order.
func reserveStock(ctx context.Context, tx Tx, items []Item) error {
	totals := make(map[string]int, len(items))
	for _, it := range items {
		totals[it.ProductID] += it.Quantity
	}
	ids := make([]string, 0, len(totals))
	for id := range totals {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		available, ok, err := tx.DecrementStock(ctx, id, totals[id])
		if err != nil {
			return errors.Wrapf(err, "decrement stock %s", id)
		}
		if !ok {
			return &InsufficientStockError{
				ProductID: id,
				Requested: totals[id],
				Available: available,
			}
		}
	}
	return nil
}

// releaseStock returns the order's reserved units to the catalog unless that
// already happened.
func releaseStock(ctx context.Context, tx Tx, o *Order, now time.Time) (bool, error) {
	if o.StockReleasedAt != nil {
		return false, nil
	}
	for _, it := range o.Items {
		if err := tx.IncrementStock(ctx, it.ProductID, it.Quantity); err != nil {
			return false, errors.Wrapf(err, "restore stock %s", it.ProductID)
		}
	}
	o.StockReleasedAt = &now
	return true, nil
}

func (s *Service) notify(ctx context.Context, event string, o *Order, send func(ctx context.Context) error) {
	if s.notifier == nil {
		return
	}
	lg := zctx.From(ctx).With(
		zap.String("event", event),
		zap.String("order_id", o.ID),
	)

	// The send outlives the request but is bounded by notifyTimeout.
	sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.notifyTimeout)
	done := make(chan error, 1)
	go func() {
		defer cancel()
		done <- send(sendCtx)
	}()

	timer := time.NewTimer(s.notifyTimeout)
	defer timer.Stop()
	select {
	case err := <-done:
		if err != nil {
			lg.Warn("Notification failed", zap.Error(err))
		}
	case <-timer.C:
		lg.Warn("Notification timed out", zap.Duration("timeout", s.notifyTimeout))
	case <-ctx.Done():
		lg.Warn("Notification left running", zap.Error(ctx.Err()))
	}
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
