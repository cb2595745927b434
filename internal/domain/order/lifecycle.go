package order

import (
	"context"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/xenking/kart-orders/internal/domain/auth"
)

// MinCancelReasonLength is the minimum trimmed length of a cancellation reason.
const MinCancelReasonLength = 5

// CancelOrderRequest holds the input for a user-initiated cancellation.
type CancelOrderRequest struct {
	UserID  string
	OrderID string
	Reason  string
}

// transitionFunc mutates a locked order. It reports false when the call is
// an idempotent no-op and nothing must be written.
type transitionFunc func(ctx context.Context, tx Tx, o *Order, now time.Time) (bool, error)

// transition locks the order, applies fn and persists the order together
// with its history mirror in one transaction.
func (s *Service) transition(ctx context.Context, orderID string, fn transitionFunc) (*Order, bool, error) {
	var (
		out     *Order
		changed bool
	)
	err := s.orders.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		o, err := tx.LockOrder(ctx, orderID)
		if err != nil {
			return errors.Wrap(err, "lock order")
		}

		now := s.now()
		ok, err := fn(ctx, tx, o, now)
		if err != nil {
			return err
		}
		out, changed = o, ok
		if !ok {
			return nil
		}

		o.UpdatedAt = now
		if err := tx.UpdateOrder(ctx, o); err != nil {
			return errors.Wrap(err, "update order")
		}
		if err := tx.SyncHistory(ctx, HistoryEntryFor(o)); err != nil {
			return errors.Wrap(err, "sync history")
		}
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return out, changed, nil
}

// CancelOrder cancels a PENDING order owned by the caller and returns its
// reserved stock to the catalog.
func (s *Service) CancelOrder(ctx context.Context, req CancelOrderRequest) (_ *Order, rerr error) {
	ctx, span := s.tracer.Start(ctx, "order.CancelOrder")
	defer func() { endSpan(span, rerr) }()

	reason := strings.TrimSpace(req.Reason)
	if utf8.RuneCountInString(reason) < MinCancelReasonLength {
		return nil, ErrInvalidReason
	}
	if req.UserID == "" {
		return nil, ErrUnauthorized
	}

	o, _, err := s.transition(ctx, req.OrderID, func(ctx context.Context, tx Tx, o *Order, now time.Time) (bool, error) {
		if o.UserID != req.UserID {
			return false, ErrUnauthorized
		}
		if o.Status != StatusPending {
			return false, &InvalidTransitionError{OrderID: o.ID, From: o.Status, To: StatusCancelled}
		}
		if _, err := releaseStock(ctx, tx, o, now); err != nil {
			return false, err
		}
		o.Status = StatusCancelled
		o.PaymentStatus = PaymentCancelled
		o.ReasonForCancel = reason
		o.CancelledAt = &now
		return true, nil
	})
	if err != nil {
		return nil, err
	}

	s.metrics.cancelled.Add(ctx, 1)
	zctx.From(ctx).Info("Order cancelled",
		zap.String("order_id", o.ID),
		zap.String("user_id", o.UserID),
	)
	s.notify(ctx, "order_cancelled", o, func(ctx context.Context) error {
		return s.notifier.OrderCancelled(ctx, o, reason)
	})
	return o, nil
}

// OnPaymentConfirmed moves a PENDING/PENDING order to PROCESSING/PAID. Any
// other state is left untouched and reported as success so that redelivered
// webhooks are harmless.
func (s *Service) OnPaymentConfirmed(ctx context.Context, orderID string) (_ *Order, rerr error) {
	ctx, span := s.tracer.Start(ctx, "order.OnPaymentConfirmed")
	defer func() { endSpan(span, rerr) }()

	lg := zctx.From(ctx).With(zap.String("order_id", orderID))
	o, changed, err := s.transition(ctx, orderID, func(_ context.Context, _ Tx, o *Order, _ time.Time) (bool, error) {
		if o.Status != StatusPending || o.PaymentStatus != PaymentPending {
			return false, nil
		}
		o.Status = StatusProcessing
		o.PaymentStatus = PaymentPaid
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	if !changed {
		if o.PaymentStatus == PaymentPaid {
			lg.Debug("Payment confirmation already applied")
		} else {
			lg.Warn("Payment confirmation ignored",
				zap.String("status", string(o.Status)),
				zap.String("payment_status", string(o.PaymentStatus)),
			)
		}
		return o, nil
	}

	s.metrics.payments.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", "paid")))
	lg.Info("Payment confirmed")
	s.notify(ctx, "payment_confirmed", o, func(ctx context.Context) error {
		return s.notifier.PaymentConfirmed(ctx, o)
	})
	return o, nil
}

// OnPaymentFailed marks the payment FAILED and releases the reserved stock.
// The order status stays PENDING so the owner may still cancel it; that
// cancellation does not restore stock a second time.
func (s *Service) OnPaymentFailed(ctx context.Context, orderID string) (_ *Order, rerr error) {
	ctx, span := s.tracer.Start(ctx, "order.OnPaymentFailed")
	defer func() { endSpan(span, rerr) }()

	lg := zctx.From(ctx).With(zap.String("order_id", orderID))
	o, changed, err := s.transition(ctx, orderID, func(ctx context.Context, tx Tx, o *Order, now time.Time) (bool, error) {
		if o.PaymentStatus != PaymentPending {
			return false, nil
		}
		if _, err := releaseStock(ctx, tx, o, now); err != nil {
			return false, err
		}
		o.PaymentStatus = PaymentFailed
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	if !changed {
		lg.Debug("Payment failure ignored", zap.String("payment_status", string(o.PaymentStatus)))
		return o, nil
	}

	s.metrics.payments.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", "failed")))
	lg.Info("Payment failed, stock released")
	return o, nil
}

// AdvanceStatus moves a paid order through fulfilment. Only admins may call
// it and only SHIPPED and DELIVERED are valid targets.
func (s *Service) AdvanceStatus(ctx context.Context, actor auth.Actor, orderID string, target Status) (_ *Order, rerr error) {
	ctx, span := s.tracer.Start(ctx, "order.AdvanceStatus")
	defer func() { endSpan(span, rerr) }()

	if !actor.IsAdmin() {
		return nil, ErrUnauthorized
	}
	if target != StatusShipped && target != StatusDelivered {
		return nil, invalidRequest("target status must be SHIPPED or DELIVERED")
	}

	o, _, err := s.transition(ctx, orderID, func(_ context.Context, _ Tx, o *Order, _ time.Time) (bool, error) {
		if !o.Status.CanTransition(target) {
			return false, &InvalidTransitionError{OrderID: o.ID, From: o.Status, To: target}
		}
		o.Status = target
		return true, nil
	})
	if err != nil {
		return nil, err
	}

	zctx.From(ctx).Info("Order status advanced",
		zap.String("order_id", o.ID),
		zap.String("status", string(o.Status)),
		zap.String("actor", actor.UserID),
	)
	return o, nil
}
