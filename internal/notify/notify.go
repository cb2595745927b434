package notify

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/kart-orders/internal/domain/order"
)

// Sink delivers an encoded event. key is the order ID.
type Sink interface {
	Send(ctx context.Context, e Event, key, payload []byte) error
}

var _ order.Notifier = (*Notifier)(nil)

// Notifier adapts a Sink to order.Notifier.
type Notifier struct {
	sink Sink
}

// New creates a Notifier that publishes to sink.
func New(sink Sink) *Notifier {
	return &Notifier{sink: sink}
}

func (n *Notifier) publish(ctx context.Context, e Event) error {
	if err := n.sink.Send(ctx, e, []byte(e.OrderID), e.Bytes()); err != nil {
		return errors.Wrapf(err, "publish %s", e.Kind)
	}
	return nil
}

// OrderPlaced implements order.Notifier.
func (n *Notifier) OrderPlaced(ctx context.Context, o *order.Order) error {
	return n.publish(ctx, NewEvent(KindOrderPlaced, o, ""))
}

// OrderCancelled implements order.Notifier.
func (n *Notifier) OrderCancelled(ctx context.Context, o *order.Order, reason string) error {
	return n.publish(ctx, NewEvent(KindOrderCancelled, o, reason))
}

// PaymentConfirmed implements order.Notifier.
func (n *Notifier) PaymentConfirmed(ctx context.Context, o *order.Order) error {
	return n.publish(ctx, NewEvent(KindPaymentConfirmed, o, ""))
}

// LogSink writes events to the context logger. It is the default when no
// broker is configured.
type LogSink struct{}

// Send implements Sink.
func (LogSink) Send(ctx context.Context, e Event, _, payload []byte) error {
	zctx.From(ctx).Info("Order notification",
		zap.String("type", string(e.Kind)),
		zap.String("order_id", e.OrderID),
		zap.ByteString("payload", payload),
	)
	return nil
}
