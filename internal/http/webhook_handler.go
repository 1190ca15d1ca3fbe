package http

import (
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/fjod/cartcheckout/internal/domain"
	"github.com/fjod/cartcheckout/internal/service"
	"github.com/go-chi/chi/v5/middleware"
)

const signatureHeader = "Stripe-Signature"

type WebhookHandler struct {
	checkout    CheckoutService
	log         *slog.Logger
	maxBodySize int64
}

func NewWebhookHandler(checkout CheckoutService, log *slog.Logger, maxBodySize int64) *WebhookHandler {
	return &WebhookHandler{
		checkout:    checkout,
		log:         log,
		maxBodySize: maxBodySize,
	}
}

type WebhookResponseDTO struct {
	Received bool                  `json:"received"`
	Status   service.WebhookStatus `json:"status"`
	OrderID  string                `json:"orderId,omitempty"`
}

// POST /webhook-checkout
//
// The signature covers the exact bytes sent, so the body is read raw. Errors
// other than a bad signature or payload answer 5xx so the gateway redelivers.
func (h *WebhookHandler) HandleCheckout(w http.ResponseWriter, r *http.Request) {
	reqID := middleware.GetReqID(r.Context())

	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxBodySize))
	if err != nil {
		respondError(w, http.StatusRequestEntityTooLarge, "body_too_large", "request body too large")
		return
	}

	res, err := h.checkout.HandleWebhook(r.Context(), payload, r.Header.Get(signatureHeader))
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrInvalidSignature):
			h.log.WarnContext(r.Context(), "webhook signature rejected", "request_id", reqID, "error", err)
		case errors.Is(err, domain.ErrInvalidInput):
			h.log.WarnContext(r.Context(), "webhook payload rejected", "request_id", reqID, "error", err)
		default:
			h.log.ErrorContext(r.Context(), "webhook processing failed", "request_id", reqID, "error", err)
		}
		handleServiceError(w, err)
		return
	}

	h.log.InfoContext(r.Context(), "webhook handled",
		"request_id", reqID, "event_id", res.EventID, "status", res.Status, "order_id", res.OrderID)
	respondJSON(w, http.StatusOK, WebhookResponseDTO{Received: true, Status: res.Status, OrderID: res.OrderID})
}
