package services

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/prizepool/backend/internal/models"
)

// ErrDuplicateEntry is returned when an idempotency key has already been
// used. Callers treat it as success: the entry they wanted exists.
var ErrDuplicateEntry = errors.New("ledger entry already exists for idempotency key")

// LedgerService is the append-only write/read surface over ledger_entries.
// It performs no business logic beyond the append constraints.
type LedgerService struct {
	db *sql.DB
}

func NewLedgerService(db *sql.DB) *LedgerService {
	return &LedgerService{db: db}
}

// AppendEntry inserts an immutable ledger entry inside the caller's
// transaction. Amounts must be non-negative; sign is carried by Direction.
func (s *LedgerService) AppendEntry(tx *sql.Tx, entry *models.LedgerEntry) (*models.LedgerEntry, error) {
	if err := validateEntry(entry); err != nil {
		return nil, err
	}

	entry.CreatedAt = time.Now()
	err := tx.QueryRow(`
		INSERT INTO ledger_entries
		(contest_id, user_id, entry_type, direction, amount_cents, currency,
		 reference_type, reference_id, external_event_id, idempotency_key, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id`,
		entry.ContestID, entry.UserID, entry.EntryType, entry.Direction,
		entry.AmountCents, entry.Currency, entry.ReferenceType, entry.ReferenceID,
		entry.ExternalEventID, entry.IdempotencyKey, entry.CreatedAt,
	).Scan(&entry.ID)

	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrDuplicateEntry
		}
		return nil, fmt.Errorf("failed to append ledger entry: %w", err)
	}

	return entry, nil
}

// AppendEntryDB is AppendEntry wrapped in its own transaction, for callers
// with no surrounding unit of work (manual adjustments).
func (s *LedgerService) AppendEntryDB(entry *models.LedgerEntry) (*models.LedgerEntry, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	result, err := s.AppendEntry(tx, entry)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return result, nil
}

// BalanceFor computes a user's balance as the signed sum of their entries:
// credits add, debits subtract. Independent of entry order.
func (s *LedgerService) BalanceFor(userID string) (int64, error) {
	var balance int64
	err := s.db.QueryRow(`
		SELECT COALESCE(SUM(
			CASE direction WHEN 'CREDIT' THEN amount_cents ELSE -amount_cents END
		), 0)
		FROM ledger_entries
		WHERE user_id = $1`, userID).Scan(&balance)

	if err != nil {
		return 0, fmt.Errorf("failed to compute balance for user %s: %w", userID, err)
	}
	return balance, nil
}

// EntriesFor lists a user's ledger entries, newest first.
func (s *LedgerService) EntriesFor(userID string, limit int) ([]models.LedgerEntry, error) {
	rows, err := s.db.Query(`
		SELECT id, contest_id, user_id, entry_type, direction, amount_cents, currency,
		       reference_type, reference_id, external_event_id, idempotency_key, created_at
		FROM ledger_entries
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := []models.LedgerEntry{}
	for rows.Next() {
		var e models.LedgerEntry
		err := rows.Scan(
			&e.ID, &e.ContestID, &e.UserID, &e.EntryType, &e.Direction,
			&e.AmountCents, &e.Currency, &e.ReferenceType, &e.ReferenceID,
			&e.ExternalEventID, &e.IdempotencyKey, &e.CreatedAt,
		)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}

	return entries, rows.Err()
}

func validateEntry(entry *models.LedgerEntry) error {
	if entry.AmountCents < 0 {
		return fmt.Errorf("ledger entry amount must be non-negative, got %d", entry.AmountCents)
	}
	if entry.Direction != models.DirectionCredit && entry.Direction != models.DirectionDebit {
		return fmt.Errorf("invalid ledger direction %q", entry.Direction)
	}
	if entry.IdempotencyKey == "" {
		return errors.New("ledger entry requires an idempotency key")
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return false
}
