package handlers

import (
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prizepool/backend/internal/audit"
	"github.com/prizepool/backend/internal/config"
	"github.com/prizepool/backend/internal/models"
	"github.com/prizepool/backend/internal/services"
)

// OperatorHandler is the surface for humans running the pipeline: status
// reads, targeted retries and manual ledger adjustments.
type OperatorHandler struct {
	payouts    *services.PayoutService
	ledger     *services.LedgerService
	remittance *services.RemittanceService
	validator  *services.ValidationHelper
	audit      *audit.Logger
	cfg        *config.PayoutConfig
}

func NewOperatorHandler(payouts *services.PayoutService, ledger *services.LedgerService, cfg *config.PayoutConfig) *OperatorHandler {
	return &OperatorHandler{
		payouts:    payouts,
		ledger:     ledger,
		remittance: services.NewRemittanceService(),
		validator:  services.NewValidationHelper(),
		audit:      audit.NewLogger(),
		cfg:        cfg,
	}
}

// PayoutSummary returns transfer counts by status
// @Summary Payout status summary
// @Tags operator
// @Produce json
// @Security BearerAuth
// @Success 200 {object} map[string]int
// @Failure 500 {object} services.ErrorResponse
// @Router /payouts/summary [get]
func (h *OperatorHandler) PayoutSummary(w http.ResponseWriter, r *http.Request) {
	summary, err := h.payouts.StatusSummary()
	if err != nil {
		services.SendErrorResponse(w, "Failed to fetch summary", http.StatusInternalServerError, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(summary)
}

// StuckTransfers lists transfers in processing beyond a threshold
// @Summary List stuck transfers
// @Tags operator
// @Produce json
// @Security BearerAuth
// @Param threshold query string false "Age threshold, Go duration format (default from config)"
// @Success 200 {object} object{transfers=[]models.PayoutTransfer,count=int}
// @Failure 500 {object} services.ErrorResponse
// @Router /payouts/stuck [get]
func (h *OperatorHandler) StuckTransfers(w http.ResponseWriter, r *http.Request) {
	threshold := h.cfg.StuckThreshold
	if raw := r.URL.Query().Get("threshold"); raw != "" {
		if parsed, err := time.ParseDuration(raw); err == nil {
			threshold = parsed
		}
	}

	stuck, err := h.payouts.StuckTransfers(threshold)
	if err != nil {
		services.SendErrorResponse(w, "Failed to fetch stuck transfers", http.StatusInternalServerError, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"transfers": stuck,
		"count":     len(stuck),
	})
}

// JobReport reports completion state of one payout job
// @Summary Payout job report
// @Tags operator
// @Produce json
// @Security BearerAuth
// @Param jobID path string true "Payout job ID"
// @Success 200 {object} models.PayoutJobReport
// @Failure 404 {object} services.ErrorResponse
// @Router /payouts/jobs/{jobID} [get]
func (h *OperatorHandler) JobReport(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")

	report, err := h.payouts.JobReport(jobID)
	if err != nil {
		if err == sql.ErrNoRows {
			services.SendErrorResponse(w, "Payout job not found", http.StatusNotFound, nil)
		} else {
			services.SendErrorResponse(w, "Failed to fetch job report", http.StatusInternalServerError, nil)
		}
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(report)
}

// JobRemittance renders a pacs.008 remittance advice for a job's completed transfers
// @Summary Payout job remittance advice
// @Tags operator
// @Produce xml
// @Security BearerAuth
// @Param jobID path string true "Payout job ID"
// @Success 200 {string} string "pacs.008 XML"
// @Failure 404 {object} services.ErrorResponse
// @Failure 422 {object} services.ErrorResponse
// @Router /payouts/jobs/{jobID}/remittance [get]
func (h *OperatorHandler) JobRemittance(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")

	job, err := h.payouts.GetJob(jobID)
	if err != nil {
		if err == sql.ErrNoRows {
			services.SendErrorResponse(w, "Payout job not found", http.StatusNotFound, nil)
		} else {
			services.SendErrorResponse(w, "Failed to fetch job", http.StatusInternalServerError, nil)
		}
		return
	}

	transfers, err := h.payouts.TransfersForJob(jobID)
	if err != nil {
		services.SendErrorResponse(w, "Failed to fetch transfers", http.StatusInternalServerError, nil)
		return
	}

	doc, err := h.remittance.BuildAdvice(job, transfers)
	if err != nil {
		if errors.Is(err, services.ErrNoCompletedTransfers) {
			services.SendErrorResponse(w, err.Error(), http.StatusUnprocessableEntity, nil)
		} else {
			services.SendErrorResponse(w, "Failed to build remittance advice", http.StatusInternalServerError, nil)
		}
		return
	}

	xmlData, err := h.remittance.ConvertToXML(doc)
	if err != nil {
		services.SendErrorResponse(w, "Failed to render remittance advice", http.StatusInternalServerError, nil)
		return
	}

	w.Header().Set("Content-Type", "application/xml")
	w.Write([]byte(xmlData))
}

// RetryTransfer forces an immediate attempt on one pending or retryable transfer
// @Summary Retry a payout transfer now
// @Tags operator
// @Produce json
// @Security BearerAuth
// @Param transferID path string true "Payout transfer ID"
// @Success 200 {object} object{transferId=string,attempt=int}
// @Failure 409 {object} services.ErrorResponse
// @Failure 500 {object} services.ErrorResponse
// @Router /payouts/transfers/{transferID}/retry [post]
func (h *OperatorHandler) RetryTransfer(w http.ResponseWriter, r *http.Request) {
	transferID := chi.URLParam(r, "transferID")

	transfer, err := h.payouts.ClaimTransfer(transferID)
	if err != nil {
		if errors.Is(err, services.ErrNoClaimableTransfers) {
			services.SendErrorResponse(w, "Transfer is not eligible for retry", http.StatusConflict, nil)
		} else {
			services.SendErrorResponse(w, "Failed to claim transfer", http.StatusInternalServerError, nil)
		}
		return
	}

	if err := h.payouts.ProcessClaim(r.Context(), transfer); err != nil {
		services.SendErrorResponse(w, "Failed to resolve transfer attempt", http.StatusInternalServerError, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"transferId": transfer.ID,
		"attempt":    transfer.AttemptCount,
	})
}

// CreateAdjustment appends a manual ADJUSTMENT ledger entry
// @Summary Manual ledger adjustment
// @Tags operator
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body models.AdjustmentRequest true "Adjustment"
// @Success 201 {object} models.LedgerEntry
// @Failure 400 {object} services.ErrorResponse
// @Failure 409 {object} services.ErrorResponse
// @Router /ledger/adjustments [post]
func (h *OperatorHandler) CreateAdjustment(w http.ResponseWriter, r *http.Request) {
	var req models.AdjustmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		services.SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return
	}

	if err := h.validator.ValidateStruct(&req); err != nil {
		services.SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	operatorID, _ := r.Context().Value("operatorID").(string)

	entry, err := h.ledger.AppendEntryDB(&models.LedgerEntry{
		ContestID:      req.ContestID,
		UserID:         req.UserID,
		EntryType:      models.EntryTypeAdjustment,
		Direction:      req.Direction,
		AmountCents:    req.AmountCents,
		Currency:       "USD",
		ReferenceType:  "operator_adjustment",
		ReferenceID:    req.Reason,
		IdempotencyKey: req.IdempotencyKey,
	})
	if err != nil {
		if errors.Is(err, services.ErrDuplicateEntry) {
			services.SendErrorResponse(w, "Adjustment already applied for this idempotency key", http.StatusConflict, nil)
		} else {
			services.SendErrorResponse(w, "Failed to append adjustment", http.StatusInternalServerError, nil)
		}
		return
	}

	h.audit.LogAdjustment(req.IdempotencyKey, req.UserID, operatorID, req.AmountCents, req.Direction)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(entry)
}

// UserLedger lists a user's ledger entries, newest first
// @Summary User ledger history
// @Tags operator
// @Produce json
// @Security BearerAuth
// @Param userID path string true "User ID"
// @Param limit query int false "Max entries (default 50)"
// @Success 200 {object} object{entries=[]models.LedgerEntry,count=int}
// @Failure 500 {object} services.ErrorResponse
// @Router /users/{userID}/ledger [get]
func (h *OperatorHandler) UserLedger(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 && parsed <= 500 {
			limit = parsed
		}
	}

	entries, err := h.ledger.EntriesFor(userID, limit)
	if err != nil {
		services.SendErrorResponse(w, "Failed to fetch ledger entries", http.StatusInternalServerError, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"entries": entries,
		"count":   len(entries),
	})
}

// UserBalance returns the ledger balance for a user
// @Summary User ledger balance
// @Tags operator
// @Produce json
// @Security BearerAuth
// @Param userID path string true "User ID"
// @Success 200 {object} object{userId=string,balanceCents=int64}
// @Failure 500 {object} services.ErrorResponse
// @Router /users/{userID}/balance [get]
func (h *OperatorHandler) UserBalance(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	balance, err := h.ledger.BalanceFor(userID)
	if err != nil {
		services.SendErrorResponse(w, "Failed to compute balance", http.StatusInternalServerError, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"userId":       userID,
		"balanceCents": balance,
	})
}
