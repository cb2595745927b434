package payment

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/kart-orders/internal/dedup"
	"github.com/xenking/kart-orders/internal/domain/order"
)

// Lifecycle is the part of the order service payment events drive.
type Lifecycle interface {
	OnPaymentConfirmed(ctx context.Context, orderID string) (*order.Order, error)
	OnPaymentFailed(ctx context.Context, orderID string) (*order.Order, error)
}

// Processor applies each payment event at most once.
type Processor struct {
	lifecycle Lifecycle
	guard     dedup.Guard
}

// NewProcessor creates a Processor.
func NewProcessor(lifecycle Lifecycle, guard dedup.Guard) *Processor {
	return &Processor{lifecycle: lifecycle, guard: guard}
}

// Process applies e. It returns false without error when the event was
// already processed. A failed call releases the event ID so the gateway's
// next delivery is attempted again.
func (p *Processor) Process(ctx context.Context, e Event) (bool, error) {
	if err := e.Validate(); err != nil {
		return false, err
	}
	lg := zctx.From(ctx).With(
		zap.String("event_id", e.ID),
		zap.String("order_id", e.OrderID),
		zap.String("outcome", string(e.Outcome)),
	)

	first, err := p.guard.Claim(ctx, e.ID)
	if err != nil {
		return false, errors.Wrap(err, "claim event")
	}
	if !first {
		lg.Debug("Duplicate payment event skipped")
		return false, nil
	}

	switch e.Outcome {
	case OutcomeSucceeded:
		_, err = p.lifecycle.OnPaymentConfirmed(ctx, e.OrderID)
	case OutcomeFailed:
		_, err = p.lifecycle.OnPaymentFailed(ctx, e.OrderID)
	}
	if err != nil {
		if rerr := p.guard.Release(ctx, e.ID); rerr != nil {
			lg.Error("Release payment event claim", zap.Error(rerr))
		}
		return false, errors.Wrap(err, "apply payment event")
	}

	lg.Info("Payment event applied")
	return true, nil
}

// ProcessMessage decodes and applies a raw event from a broker. Events that
// can never succeed are logged and acknowledged; only transient failures are
// returned so the message is redelivered.
func (p *Processor) ProcessMessage(ctx context.Context, payload []byte) error {
	e, err := DecodeEvent(payload)
	if err == nil {
		_, err = p.Process(ctx, e)
	}
	if err != nil && IsPermanent(err) {
		zctx.From(ctx).Warn("Dropping payment event",
			zap.String("event_id", e.ID),
			zap.Error(err),
		)
		return nil
	}
	return err
}

// IsPermanent reports whether retrying the event cannot help.
func IsPermanent(err error) bool {
	return errors.Is(err, ErrInvalidEvent) || errors.Is(err, order.ErrOrderNotFound)
}
