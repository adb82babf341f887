package services

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/prizepool/backend/internal/models"
	"github.com/stretchr/testify/assert"
)

func TestValidationHelper_ValidateStruct(t *testing.T) {
	vh := NewValidationHelper()

	t.Run("valid settlement request", func(t *testing.T) {
		valid := models.SettlementRequest{
			ContestID: "c1",
			RankedEntries: []models.RankedEntry{
				{UserID: "u1", Rank: 1, Score: 98.5},
				{UserID: "u2", Rank: 2, Score: 91.0},
			},
			PrizePoolCents: 10000,
			Policy:         "winner_take_all",
		}

		err := vh.ValidateStruct(&valid)
		assert.NoError(t, err)
	})

	t.Run("missing required fields", func(t *testing.T) {
		invalid := models.SettlementRequest{
			// ContestID missing
			PrizePoolCents: 0, // must be positive
			// Policy missing
		}

		err := vh.ValidateStruct(&invalid)
		assert.Error(t, err)

		validationErrors, ok := err.(validator.ValidationErrors)
		assert.True(t, ok)
		assert.Len(t, validationErrors, 3) // ContestID, PrizePoolCents, Policy
	})

	t.Run("negative prize pool", func(t *testing.T) {
		invalid := models.SettlementRequest{
			ContestID:      "c1",
			PrizePoolCents: -500,
			Policy:         "winner_take_all",
		}

		err := vh.ValidateStruct(&invalid)
		assert.Error(t, err)

		validationErrors, ok := err.(validator.ValidationErrors)
		assert.True(t, ok)
		assert.Len(t, validationErrors, 1)
		assert.Equal(t, "PrizePoolCents", validationErrors[0].Field())
		assert.Equal(t, "gt", validationErrors[0].Tag())
	})

	t.Run("dive validates nested ranked entries", func(t *testing.T) {
		invalid := models.SettlementRequest{
			ContestID: "c1",
			RankedEntries: []models.RankedEntry{
				{UserID: "u1", Rank: 1},
				{UserID: "", Rank: 0}, // both fields bad
			},
			PrizePoolCents: 10000,
			Policy:         "winner_take_all",
		}

		err := vh.ValidateStruct(&invalid)
		assert.Error(t, err)

		validationErrors, ok := err.(validator.ValidationErrors)
		assert.True(t, ok)
		assert.Len(t, validationErrors, 2) // nested UserID, Rank
	})
}

func TestSendErrorResponse(t *testing.T) {
	t.Run("error response without validation errors", func(t *testing.T) {
		w := httptest.NewRecorder()

		SendErrorResponse(w, "Something went wrong", http.StatusInternalServerError, nil)

		assert.Equal(t, http.StatusInternalServerError, w.Code)
		assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

		var response ErrorResponse
		err := json.Unmarshal(w.Body.Bytes(), &response)
		assert.NoError(t, err)
		assert.Equal(t, "Something went wrong", response.Error)
		assert.Nil(t, response.Details)
	})

	t.Run("error response with validation details", func(t *testing.T) {
		vh := NewValidationHelper()
		invalid := models.SettlementRequest{
			PrizePoolCents: -1,
		}

		validationErr := vh.ValidateStruct(&invalid)
		assert.Error(t, validationErr)

		w := httptest.NewRecorder()
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, validationErr)

		assert.Equal(t, http.StatusBadRequest, w.Code)

		var response ErrorResponse
		err := json.Unmarshal(w.Body.Bytes(), &response)
		assert.NoError(t, err)
		assert.Equal(t, "Validation failed", response.Error)
		assert.Contains(t, response.Details, "ContestID")
		assert.Contains(t, response.Details, "PrizePoolCents")
		assert.Contains(t, response.Details, "Policy")
	})

	t.Run("unauthorized error", func(t *testing.T) {
		w := httptest.NewRecorder()

		SendErrorResponse(w, "Unauthorized access", http.StatusUnauthorized, nil)

		assert.Equal(t, http.StatusUnauthorized, w.Code)

		var response ErrorResponse
		err := json.Unmarshal(w.Body.Bytes(), &response)
		assert.NoError(t, err)
		assert.Equal(t, "Unauthorized access", response.Error)
	})
}
