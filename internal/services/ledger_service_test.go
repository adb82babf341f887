package services

import (
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/prizepool/backend/internal/models"
	"github.com/stretchr/testify/assert"
)

func TestLedgerService_AppendEntry(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	service := NewLedgerService(db)

	entry := func() *models.LedgerEntry {
		return &models.LedgerEntry{
			ContestID:      "c1",
			UserID:         "u1",
			EntryType:      models.EntryTypeEntryFee,
			Direction:      models.DirectionCredit,
			AmountCents:    2500,
			Currency:       "USD",
			ReferenceType:  "payment_intent",
			ReferenceID:    "pi_123",
			IdempotencyKey: "event:evt_1:ENTRY_FEE",
		}
	}

	t.Run("successful append", func(t *testing.T) {
		mock.ExpectBegin()
		tx, _ := db.Begin()

		mock.ExpectQuery("INSERT INTO ledger_entries").
			WithArgs("c1", "u1", models.EntryTypeEntryFee, models.DirectionCredit,
				int64(2500), "USD", "payment_intent", "pi_123", nil,
				"event:evt_1:ENTRY_FEE", sqlmock.AnyArg()).
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(42))

		result, err := service.AppendEntry(tx, entry())
		assert.NoError(t, err)
		assert.Equal(t, 42, result.ID)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("duplicate idempotency key returns typed error", func(t *testing.T) {
		mock.ExpectBegin()
		tx, _ := db.Begin()

		mock.ExpectQuery("INSERT INTO ledger_entries").
			WillReturnError(&pq.Error{Code: "23505", Constraint: "ledger_entries_idempotency_key_key"})

		_, err := service.AppendEntry(tx, entry())
		assert.ErrorIs(t, err, ErrDuplicateEntry)
	})

	t.Run("negative amount rejected before touching the database", func(t *testing.T) {
		mock.ExpectBegin()
		tx, _ := db.Begin()

		bad := entry()
		bad.AmountCents = -100

		_, err := service.AppendEntry(tx, bad)
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "non-negative")
	})

	t.Run("invalid direction rejected", func(t *testing.T) {
		mock.ExpectBegin()
		tx, _ := db.Begin()

		bad := entry()
		bad.Direction = "SIDEWAYS"

		_, err := service.AppendEntry(tx, bad)
		assert.Error(t, err)
	})

	t.Run("missing idempotency key rejected", func(t *testing.T) {
		mock.ExpectBegin()
		tx, _ := db.Begin()

		bad := entry()
		bad.IdempotencyKey = ""

		_, err := service.AppendEntry(tx, bad)
		assert.Error(t, err)
	})
}

func TestLedgerService_BalanceFor(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	service := NewLedgerService(db)

	t.Run("signed sum of entries", func(t *testing.T) {
		mock.ExpectQuery("SELECT COALESCE").
			WithArgs("u1").
			WillReturnRows(sqlmock.NewRows([]string{"coalesce"}).AddRow(1500))

		balance, err := service.BalanceFor("u1")
		assert.NoError(t, err)
		assert.Equal(t, int64(1500), balance)
	})

	t.Run("user with no entries has zero balance", func(t *testing.T) {
		mock.ExpectQuery("SELECT COALESCE").
			WithArgs("ghost").
			WillReturnRows(sqlmock.NewRows([]string{"coalesce"}).AddRow(0))

		balance, err := service.BalanceFor("ghost")
		assert.NoError(t, err)
		assert.Equal(t, int64(0), balance)
	})
}

func TestIsUniqueViolation(t *testing.T) {
	assert.True(t, isUniqueViolation(&pq.Error{Code: "23505"}))
	assert.False(t, isUniqueViolation(&pq.Error{Code: "23503"}))
	assert.False(t, isUniqueViolation(assert.AnError))
}
