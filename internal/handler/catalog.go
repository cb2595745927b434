package handler

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"
	"github.com/go-faster/jx"

	"github.com/xenking/kart-orders/internal/domain/auth"
	"github.com/xenking/kart-orders/internal/domain/cart"
	"github.com/xenking/kart-orders/internal/domain/order"
)

func (h *Handler) listProducts(w http.ResponseWriter, r *http.Request) {
	products, err := h.products.List(r.Context())
	if err != nil {
		h.writeError(w, r, errors.Wrap(err, "list products"))
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.ArrStart()
		for _, p := range products {
			encodeProduct(e, p)
		}
		e.ArrEnd()
	})
}

func (h *Handler) getProduct(w http.ResponseWriter, r *http.Request) {
	p, err := h.products.GetByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		encodeProduct(e, *p)
	})
}

func (h *Handler) writeCart(w http.ResponseWriter, r *http.Request, c *cart.Cart, err error) {
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		encodeCart(e, c)
	})
}

func (h *Handler) viewCart(w http.ResponseWriter, r *http.Request) {
	actor, _ := auth.ActorFrom(r.Context())
	c, err := h.carts.View(r.Context(), actor.UserID)
	h.writeCart(w, r, c, err)
}

func (h *Handler) addCartItem(w http.ResponseWriter, r *http.Request) {
	var (
		productID string
		qty       int
	)
	if err := decodeObject(r, func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "productId":
			productID, err = d.Str()
		case "quantity":
			qty, err = d.Int()
		default:
			err = d.Skip()
		}
		return err
	}); err != nil {
		h.writeError(w, r, err)
		return
	}
	if productID == "" {
		h.writeError(w, r, errors.Wrap(order.ErrInvalidRequest, "productId required"))
		return
	}

	actor, _ := auth.ActorFrom(r.Context())
	c, err := h.carts.AddItem(r.Context(), actor.UserID, productID, qty)
	h.writeCart(w, r, c, err)
}

func (h *Handler) setCartQuantity(w http.ResponseWriter, r *http.Request) {
	var qty int
	if err := decodeObject(r, func(d *jx.Decoder, key string) error {
		if key == "quantity" {
			var err error
			qty, err = d.Int()
			return err
		}
		return d.Skip()
	}); err != nil {
		h.writeError(w, r, err)
		return
	}

	actor, _ := auth.ActorFrom(r.Context())
	c, err := h.carts.SetQuantity(r.Context(), actor.UserID, chi.URLParam(r, "productId"), qty)
	h.writeCart(w, r, c, err)
}

func (h *Handler) removeCartItem(w http.ResponseWriter, r *http.Request) {
	actor, _ := auth.ActorFrom(r.Context())
	c, err := h.carts.RemoveItem(r.Context(), actor.UserID, chi.URLParam(r, "productId"))
	h.writeCart(w, r, c, err)
}

func (h *Handler) setAddress(w http.ResponseWriter, r *http.Request) {
	var address string
	if err := decodeObject(r, func(d *jx.Decoder, key string) error {
		if key == "address" {
			var err error
			address, err = d.Str()
			return err
		}
		return d.Skip()
	}); err != nil {
		h.writeError(w, r, err)
		return
	}
	address = strings.TrimSpace(address)
	if address == "" {
		h.writeError(w, r, errors.Wrap(order.ErrInvalidRequest, "address required"))
		return
	}

	actor, _ := auth.ActorFrom(r.Context())
	if err := h.users.SetShippingAddress(r.Context(), actor.UserID, address); err != nil {
		h.writeError(w, r, errors.Wrap(err, "set shipping address"))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
