// Package notify publishes order events for downstream consumers such as the
// mailer.
package notify

import (
	"time"

	"github.com/go-faster/jx"

	"github.com/xenking/kart-orders/internal/domain/order"
)

// Kind names an order event.
type Kind string

const (
	KindOrderPlaced      Kind = "order.placed"
	KindOrderCancelled   Kind = "order.cancelled"
	KindPaymentConfirmed Kind = "order.payment_confirmed"
)

// Event is the payload published for every order notification.
type Event struct {
	Kind          Kind
	OrderID       string
	UserID        string
	Status        order.Status
	PaymentStatus order.PaymentStatus
	TotalAmount   string
	Reason        string
	At            time.Time
}

// NewEvent builds the event for o.
func NewEvent(kind Kind, o *order.Order, reason string) Event {
	return Event{
		Kind:          kind,
		OrderID:       o.ID,
		UserID:        o.UserID,
		Status:        o.Status,
		PaymentStatus: o.PaymentStatus,
		TotalAmount:   o.TotalAmount.StringFixed(2),
		Reason:        reason,
		At:            o.UpdatedAt,
	}
}

// Encode writes the event as JSON. Reason is omitted when empty.
func (e Event) Encode(enc *jx.Encoder) {
	enc.ObjStart()
	enc.FieldStart("type")
	enc.Str(string(e.Kind))
	enc.FieldStart("orderId")
	enc.Str(e.OrderID)
	enc.FieldStart("userId")
	enc.Str(e.UserID)
	enc.FieldStart("status")
	enc.Str(string(e.Status))
	enc.FieldStart("paymentStatus")
	enc.Str(string(e.PaymentStatus))
	enc.FieldStart("totalAmount")
	enc.Str(e.TotalAmount)
	if e.Reason != "" {
		enc.FieldStart("reason")
		enc.Str(e.Reason)
	}
	enc.FieldStart("at")
	enc.Str(e.At.UTC().Format(time.RFC3339Nano))
	enc.ObjEnd()
}

// Bytes returns the JSON encoding of e.
func (e Event) Bytes() []byte {
	var enc jx.Encoder
	e.Encode(&enc)
	return enc.Bytes()
}
