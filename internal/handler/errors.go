package handler

import (
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/kart-orders/internal/domain/cart"
	"github.com/xenking/kart-orders/internal/domain/order"
	"github.com/xenking/kart-orders/internal/domain/product"
	"github.com/xenking/kart-orders/internal/domain/user"
	"github.com/xenking/kart-orders/internal/payment"
)

// Error kinds reported in the "error" field of every error body.
const (
	kindInvalidRequest    = "invalid_request"
	kindNotFound          = "not_found"
	kindInsufficientStock = "insufficient_stock"
	kindMissingAddress    = "missing_address"
	kindUnauthorized      = "unauthorized"
	kindInvalidTransition = "invalid_state_transition"
	kindInvalidReason     = "invalid_reason"
	kindInternal          = "internal"
)

type apiError struct {
	status  int
	kind    string
	message string
	details func(e *jx.Encoder)
}

// classify maps domain errors to the API taxonomy. Unknown errors become
// internal and their text is not exposed.
func classify(err error) apiError {
	var (
		stockErr      *order.InsufficientStockError
		missingErr    *order.ProductNotFoundError
		transitionErr *order.InvalidTransitionError
	)
	switch {
	case errors.As(err, &stockErr):
		return apiError{
			status:  http.StatusConflict,
			kind:    kindInsufficientStock,
			message: stockErr.Error(),
			details: func(e *jx.Encoder) {
				e.FieldStart("productId")
				e.Str(stockErr.ProductID)
				e.FieldStart("requested")
				e.Int(stockErr.Requested)
				e.FieldStart("available")
				e.Int(stockErr.Available)
			},
		}
	case errors.As(err, &missingErr):
		return apiError{
			status:  http.StatusNotFound,
			kind:    kindNotFound,
			message: missingErr.Error(),
			details: func(e *jx.Encoder) {
				e.FieldStart("productId")
				e.Str(missingErr.ProductID)
			},
		}
	case errors.As(err, &transitionErr):
		return apiError{
			status:  http.StatusConflict,
			kind:    kindInvalidTransition,
			message: transitionErr.Error(),
			details: func(e *jx.Encoder) {
				e.FieldStart("from")
				e.Str(string(transitionErr.From))
				e.FieldStart("to")
				e.Str(string(transitionErr.To))
			},
		}
	case errors.Is(err, order.ErrOrderNotFound),
		errors.Is(err, product.ErrNotFound),
		errors.Is(err, user.ErrNotFound),
		errors.Is(err, cart.ErrLineNotFound):
		return apiError{status: http.StatusNotFound, kind: kindNotFound, message: err.Error()}
	case errors.Is(err, order.ErrMissingAddress):
		return apiError{status: http.StatusUnprocessableEntity, kind: kindMissingAddress, message: err.Error()}
	case errors.Is(err, order.ErrInvalidReason):
		return apiError{status: http.StatusUnprocessableEntity, kind: kindInvalidReason, message: err.Error()}
	case errors.Is(err, order.ErrUnauthorized):
		return apiError{status: http.StatusForbidden, kind: kindUnauthorized, message: err.Error()}
	case errors.Is(err, order.ErrInvalidRequest),
		errors.Is(err, cart.ErrInvalidQuantity),
		errors.Is(err, payment.ErrInvalidEvent),
		errors.Is(err, errMalformedBody):
		return apiError{status: http.StatusBadRequest, kind: kindInvalidRequest, message: err.Error()}
	}
	return apiError{status: http.StatusInternalServerError, kind: kindInternal, message: "internal error"}
}

func writeAPIError(w http.ResponseWriter, ae apiError) {
	writeJSON(w, ae.status, func(e *jx.Encoder) {
		e.ObjStart()
		e.FieldStart("code")
		e.Int(ae.status)
		e.FieldStart("error")
		e.Str(ae.kind)
		e.FieldStart("message")
		e.Str(ae.message)
		if ae.details != nil {
			ae.details(e)
		}
		e.ObjEnd()
	})
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	ae := classify(err)
	if ae.status == http.StatusInternalServerError {
		zctx.From(r.Context()).Error("Request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
	}
	writeAPIError(w, ae)
}

// unauthenticated responds to requests without a valid bearer token.
func (h *Handler) unauthenticated(w http.ResponseWriter, _ *http.Request, err error) {
	writeAPIError(w, apiError{status: http.StatusUnauthorized, kind: kindUnauthorized, message: err.Error()})
}
