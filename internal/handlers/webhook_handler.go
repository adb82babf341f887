package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"

	"github.com/prizepool/backend/internal/config"
	"github.com/prizepool/backend/internal/services"
)

type WebhookHandler struct {
	service *services.WebhookService
	cfg     *config.WebhookConfig
}

func NewWebhookHandler(service *services.WebhookService, cfg *config.WebhookConfig) *WebhookHandler {
	return &WebhookHandler{service: service, cfg: cfg}
}

// ReceivePaymentEvent accepts a signed payment-confirmation event
// @Summary Receive payment event
// @Description Process a signed payment-confirmation webhook. Replays are absorbed idempotently: duplicates return the same success status as first delivery.
// @Tags webhooks
// @Accept json
// @Produce json
// @Param X-Payment-Signature header string true "HMAC-SHA256 signature of the raw body"
// @Param event body services.PaymentEvent true "Payment event"
// @Success 200 {object} object{status=string}
// @Failure 401 {object} services.ErrorResponse
// @Failure 422 {object} services.ErrorResponse
// @Router /webhooks/payments [post]
func (h *WebhookHandler) ReceivePaymentEvent(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.cfg.MaxBodyBytes)

	rawBody, err := io.ReadAll(r.Body)
	if err != nil {
		services.SendErrorResponse(w, "Failed to read request body", http.StatusBadRequest, nil)
		return
	}

	signature := r.Header.Get(h.cfg.SignatureHeader)
	outcome, err := h.service.ProcessEvent(rawBody, signature)

	switch {
	case errors.Is(err, services.ErrBadSignature):
		services.SendErrorResponse(w, "Invalid signature", http.StatusUnauthorized, nil)
		return
	case errors.Is(err, services.ErrPaymentIntentNotFound):
		// Retrying won't help until the intent exists upstream.
		services.SendErrorResponse(w, err.Error(), http.StatusUnprocessableEntity, nil)
		return
	case err != nil:
		log.Printf("[WEBHOOK] Processing failed: %v", err)
		services.SendErrorResponse(w, "Failed to process event", http.StatusInternalServerError, nil)
		return
	}

	// Processed and duplicate share a status code so caller retry behavior
	// cannot diverge between the two.
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{
		"status": outcome,
	})
}
