// Package payment turns payment gateway events into order lifecycle calls.
package payment

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
)

// ErrInvalidEvent is returned for events that can never be applied.
var ErrInvalidEvent = errors.New("invalid payment event")

// Outcome is the gateway's verdict for a payment attempt.
type Outcome string

const (
	OutcomeSucceeded Outcome = "succeeded"
	OutcomeFailed    Outcome = "failed"
)

// Event is a payment notification. ID is unique per delivery attempt of the
// gateway, so redeliveries carry the same ID.
type Event struct {
	ID      string
	OrderID string
	Outcome Outcome
}

// Validate checks that the event can be applied.
func (e Event) Validate() error {
	switch {
	case e.ID == "":
		return errors.Wrap(ErrInvalidEvent, "event id required")
	case e.OrderID == "":
		return errors.Wrap(ErrInvalidEvent, "order id required")
	case e.Outcome != OutcomeSucceeded && e.Outcome != OutcomeFailed:
		return errors.Wrapf(ErrInvalidEvent, "unknown outcome %q", e.Outcome)
	}
	return nil
}

// Encode writes the event as JSON.
func (e Event) Encode(enc *jx.Encoder) {
	enc.ObjStart()
	enc.FieldStart("eventId")
	enc.Str(e.ID)
	enc.FieldStart("orderId")
	enc.Str(e.OrderID)
	enc.FieldStart("outcome")
	enc.Str(string(e.Outcome))
	enc.ObjEnd()
}

// DecodeEvent parses a JSON event. Unknown fields are ignored.
func DecodeEvent(data []byte) (Event, error) {
	var e Event
	d := jx.DecodeBytes(data)
	if err := d.Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "eventId", "id":
			e.ID, err = d.Str()
		case "orderId":
			e.OrderID, err = d.Str()
		case "outcome":
			var s string
			s, err = d.Str()
			e.Outcome = Outcome(s)
		default:
			err = d.Skip()
		}
		return err
	}); err != nil {
		return Event{}, errors.Wrap(ErrInvalidEvent, err.Error())
	}
	return e, nil
}

// Sign returns the hex HMAC-SHA256 of body.
func Sign(secret, body []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature reports whether signature is the HMAC of body.
func VerifySignature(secret, body []byte, signature string) bool {
	got, err := hex.DecodeString(signature)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return hmac.Equal(got, mac.Sum(nil))
}
