package handler

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"
	"github.com/go-faster/jx"

	"github.com/xenking/kart-orders/internal/domain/auth"
	"github.com/xenking/kart-orders/internal/domain/order"
)

func (h *Handler) writeOrder(w http.ResponseWriter, r *http.Request, status int, o *order.Order, err error) {
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, status, func(e *jx.Encoder) {
		encodeOrder(e, o)
	})
}

func decodeDirectBuy(d *jx.Decoder) (*order.DirectBuy, error) {
	var db order.DirectBuy
	if err := d.Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "productId":
			db.ProductID, err = d.Str()
		case "quantity":
			db.Quantity, err = d.Int()
		default:
			err = d.Skip()
		}
		return err
	}); err != nil {
		return nil, err
	}
	return &db, nil
}

func (h *Handler) placeOrder(w http.ResponseWriter, r *http.Request) {
	actor, _ := auth.ActorFrom(r.Context())
	req := order.PlaceOrderRequest{
		UserID:       actor.UserID,
		ShippingCost: h.cfg.DefaultShippingCost,
	}
	if err := decodeObject(r, func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "shippingAddress":
			req.ShippingAddress, err = d.Str()
		case "shippingCost":
			req.ShippingCost, err = decodeDecimal(d)
		case "directBuy":
			req.DirectBuy, err = decodeDirectBuy(d)
		default:
			err = d.Skip()
		}
		return err
	}); err != nil {
		h.writeError(w, r, err)
		return
	}

	o, err := h.orders.PlaceOrder(r.Context(), req)
	h.writeOrder(w, r, http.StatusCreated, o, err)
}

func (h *Handler) listOrders(w http.ResponseWriter, r *http.Request) {
	actor, _ := auth.ActorFrom(r.Context())
	orders, err := h.orders.GetUserOrders(r.Context(), actor.UserID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		encodeOrders(e, orders)
	})
}

func (h *Handler) orderHistory(w http.ResponseWriter, r *http.Request) {
	actor, _ := auth.ActorFrom(r.Context())
	entries, err := h.orders.GetUserOrderHistory(r.Context(), actor.UserID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		encodeHistory(e, entries)
	})
}

func (h *Handler) getOrder(w http.ResponseWriter, r *http.Request) {
	actor, _ := auth.ActorFrom(r.Context())
	o, err := h.orders.GetOrderByID(r.Context(), actor, chi.URLParam(r, "id"))
	h.writeOrder(w, r, http.StatusOK, o, err)
}

func (h *Handler) cancelOrder(w http.ResponseWriter, r *http.Request) {
	var reason string
	if err := decodeObject(r, func(d *jx.Decoder, key string) error {
		if key == "reason" {
			var err error
			reason, err = d.Str()
			return err
		}
		return d.Skip()
	}); err != nil {
		h.writeError(w, r, err)
		return
	}

	actor, _ := auth.ActorFrom(r.Context())
	o, err := h.orders.CancelOrder(r.Context(), order.CancelOrderRequest{
		UserID:  actor.UserID,
		OrderID: chi.URLParam(r, "id"),
		Reason:  reason,
	})
	h.writeOrder(w, r, http.StatusOK, o, err)
}

func (h *Handler) listAllOrders(w http.ResponseWriter, r *http.Request) {
	filter := order.Filter{Status: order.Status(r.URL.Query().Get("status"))}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil {
			h.writeError(w, r, errors.Wrap(order.ErrInvalidRequest, "limit must be an integer"))
			return
		}
		filter.Limit = limit
	}

	actor, _ := auth.ActorFrom(r.Context())
	orders, err := h.orders.GetAllOrders(r.Context(), actor, filter)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		encodeOrders(e, orders)
	})
}

func (h *Handler) advanceStatus(w http.ResponseWriter, r *http.Request) {
	var target string
	if err := decodeObject(r, func(d *jx.Decoder, key string) error {
		if key == "status" {
			var err error
			target, err = d.Str()
			return err
		}
		return d.Skip()
	}); err != nil {
		h.writeError(w, r, err)
		return
	}

	actor, _ := auth.ActorFrom(r.Context())
	o, err := h.orders.AdvanceStatus(r.Context(), actor, chi.URLParam(r, "id"), order.Status(target))
	h.writeOrder(w, r, http.StatusOK, o, err)
}
