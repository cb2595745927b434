package handler

import (
	"bytes"
	"io"
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"

	"github.com/xenking/kart-orders/internal/domain/cart"
	"github.com/xenking/kart-orders/internal/domain/order"
	"github.com/xenking/kart-orders/internal/domain/product"
)

const maxBodySize = 1 << 20

var errMalformedBody = errors.New("malformed request body")

func readBody(r *http.Request) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		return nil, errors.Wrap(errMalformedBody, err.Error())
	}
	return data, nil
}

// decodeObject calls fn for every field of the JSON object in the request
// body. A body that is empty or only whitespace is treated as an empty
// object; anything else must be exactly one JSON object.
func decodeObject(r *http.Request, fn func(d *jx.Decoder, key string) error) error {
	data, err := readBody(r)
	if err != nil {
		return err
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	d := jx.DecodeBytes(data)
	if err := d.Obj(fn); err != nil {
		return errors.Wrap(errMalformedBody, err.Error())
	}
	if d.Next() != jx.Invalid {
		return errors.Wrap(errMalformedBody, "trailing data after object")
	}
	return nil
}

// decodeDecimal accepts both JSON numbers and numeric strings.
func decodeDecimal(d *jx.Decoder) (decimal.Decimal, error) {
	var raw string
	switch d.Next() {
	case jx.String:
		s, err := d.Str()
		if err != nil {
			return decimal.Zero, err
		}
		raw = s
	case jx.Number:
		n, err := d.Num()
		if err != nil {
			return decimal.Zero, err
		}
		raw = string(n)
	default:
		return decimal.Zero, errors.New("expected decimal")
	}
	return decimal.NewFromString(raw)
}

func writeJSON(w http.ResponseWriter, status int, fn func(e *jx.Encoder)) {
	var e jx.Encoder
	fn(&e)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(e.Bytes())
}

func encodeMoney(e *jx.Encoder, d decimal.Decimal) {
	e.Str(d.StringFixed(2))
}

func encodeTime(e *jx.Encoder, t time.Time) {
	e.Str(t.UTC().Format(time.RFC3339Nano))
}

func encodeProduct(e *jx.Encoder, p product.Product) {
	e.ObjStart()
	e.FieldStart("id")
	e.Str(p.ID)
	e.FieldStart("name")
	e.Str(p.Name)
	e.FieldStart("category")
	e.Str(p.Category)
	e.FieldStart("price")
	encodeMoney(e, p.Price)
	e.FieldStart("stock")
	e.Int(p.Stock)
	e.FieldStart("status")
	e.Str(string(p.Status))
	e.ObjEnd()
}

func encodeCart(e *jx.Encoder, c *cart.Cart) {
	e.ObjStart()
	e.FieldStart("userId")
	e.Str(c.UserID)
	e.FieldStart("items")
	e.ArrStart()
	for _, l := range c.Lines {
		e.ObjStart()
		e.FieldStart("productId")
		e.Str(l.ProductID)
		e.FieldStart("quantity")
		e.Int(l.Quantity)
		e.FieldStart("unitPrice")
		encodeMoney(e, l.UnitPrice)
		e.FieldStart("totalPrice")
		encodeMoney(e, l.TotalPrice())
		e.ObjEnd()
	}
	e.ArrEnd()
	e.FieldStart("subtotal")
	encodeMoney(e, c.Subtotal)
	e.ObjEnd()
}

func encodeOrder(e *jx.Encoder, o *order.Order) {
	e.ObjStart()
	e.FieldStart("id")
	e.Str(o.ID)
	e.FieldStart("userId")
	e.Str(o.UserID)
	e.FieldStart("items")
	e.ArrStart()
	for _, it := range o.Items {
		e.ObjStart()
		e.FieldStart("productId")
		e.Str(it.ProductID)
		e.FieldStart("quantity")
		e.Int(it.Quantity)
		e.FieldStart("priceAtPurchase")
		encodeMoney(e, it.PriceAtPurchase)
		e.ObjEnd()
	}
	e.ArrEnd()
	e.FieldStart("shippingCost")
	encodeMoney(e, o.ShippingCost)
	e.FieldStart("totalAmount")
	encodeMoney(e, o.TotalAmount)
	e.FieldStart("shippingAddress")
	e.Str(o.ShippingAddress)
	e.FieldStart("status")
	e.Str(string(o.Status))
	e.FieldStart("paymentStatus")
	e.Str(string(o.PaymentStatus))
	if o.ReasonForCancel != "" {
		e.FieldStart("reasonForCancel")
		e.Str(o.ReasonForCancel)
	}
	e.FieldStart("createdAt")
	encodeTime(e, o.CreatedAt)
	e.FieldStart("updatedAt")
	encodeTime(e, o.UpdatedAt)
	if o.CancelledAt != nil {
		e.FieldStart("cancelledAt")
		encodeTime(e, *o.CancelledAt)
	}
	e.ObjEnd()
}

func encodeOrders(e *jx.Encoder, orders []order.Order) {
	e.ArrStart()
	for i := range orders {
		encodeOrder(e, &orders[i])
	}
	e.ArrEnd()
}

func encodeHistory(e *jx.Encoder, entries []order.HistoryEntry) {
	e.ArrStart()
	for _, h := range entries {
		e.ObjStart()
		e.FieldStart("orderId")
		e.Str(h.OrderID)
		e.FieldStart("status")
		e.Str(string(h.Status))
		e.FieldStart("paymentStatus")
		e.Str(string(h.PaymentStatus))
		e.FieldStart("placedAt")
		encodeTime(e, h.PlacedAt)
		e.ObjEnd()
	}
	e.ArrEnd()
}
