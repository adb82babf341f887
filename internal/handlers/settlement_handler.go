package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"

	"github.com/prizepool/backend/internal/models"
	"github.com/prizepool/backend/internal/services"
)

type SettlementHandler struct {
	policies  *services.PolicyTable
	payouts   *services.PayoutService
	validator *services.ValidationHelper
}

func NewSettlementHandler(policies *services.PolicyTable, payouts *services.PayoutService) *SettlementHandler {
	return &SettlementHandler{
		policies:  policies,
		payouts:   payouts,
		validator: services.NewValidationHelper(),
	}
}

// TriggerSettlement computes and ingests payouts for a concluded contest
// @Summary Trigger contest settlement
// @Description Convert final standings into payout transfers. Re-triggering for the same contest never creates duplicate transfers.
// @Tags settlements
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body models.SettlementRequest true "Settlement trigger"
// @Success 201 {object} object{jobId=string,payouts=int,newTransfers=int}
// @Failure 400 {object} services.ErrorResponse
// @Failure 422 {object} services.ErrorResponse
// @Router /settlements [post]
func (h *SettlementHandler) TriggerSettlement(w http.ResponseWriter, r *http.Request) {
	var req models.SettlementRequest

	r.Body = http.MaxBytesReader(w, r.Body, 1_048_576)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(&req); err != nil {
		services.SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return
	}

	if err := dec.Decode(&struct{}{}); err != io.EOF {
		services.SendErrorResponse(w, "Request body must only contain a single JSON object", http.StatusBadRequest, nil)
		return
	}

	if err := h.validator.ValidateStruct(&req); err != nil {
		services.SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	policy, err := h.policies.Resolve(req.Policy)
	if err != nil {
		if errors.Is(err, services.ErrUnknownPolicy) {
			services.SendErrorResponse(w, err.Error(), http.StatusBadRequest, nil)
			return
		}
		services.SendErrorResponse(w, "Failed to resolve policy", http.StatusInternalServerError, nil)
		return
	}

	payouts := services.Settle(req.RankedEntries, req.PrizePoolCents, policy)
	if len(payouts) == 0 {
		// No rank-1 entries means malformed standings from upstream.
		log.Printf("[SETTLEMENT] Contest %s produced no payouts (entries=%d)", req.ContestID, len(req.RankedEntries))
		services.SendErrorResponse(w, "Standings produced no payouts", http.StatusUnprocessableEntity, nil)
		return
	}

	job, inserted, err := h.payouts.IngestSettlement(req.ContestID, policy.Name, req.PrizePoolCents, payouts)
	if err != nil {
		log.Printf("[SETTLEMENT] Failed to ingest settlement for contest %s: %v", req.ContestID, err)
		services.SendErrorResponse(w, "Failed to ingest settlement", http.StatusInternalServerError, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"jobId":        job.ID,
		"contestId":    job.ContestID,
		"payouts":      len(payouts),
		"newTransfers": inserted,
	})
}
