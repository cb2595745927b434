package handler

import (
	"net/http"

	"github.com/go-faster/jx"

	"github.com/xenking/kart-orders/internal/payment"
)

// SignatureHeader carries the hex HMAC-SHA256 of the webhook body.
const SignatureHeader = "X-Signature"

// paymentWebhook applies a gateway event. Redeliveries of an already applied
// event and events that do not change the order are acknowledged with 200.
func (h *Handler) paymentWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if !payment.VerifySignature(h.cfg.WebhookSecret, body, r.Header.Get(SignatureHeader)) {
		writeAPIError(w, apiError{
			status:  http.StatusUnauthorized,
			kind:    kindUnauthorized,
			message: "invalid signature",
		})
		return
	}

	e, err := payment.DecodeEvent(body)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	applied, err := h.payments.Process(r.Context(), e)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, func(enc *jx.Encoder) {
		enc.ObjStart()
		enc.FieldStart("eventId")
		enc.Str(e.ID)
		enc.FieldStart("duplicate")
		enc.Bool(!applied)
		enc.ObjEnd()
	})
}
