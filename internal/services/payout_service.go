package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/prizepool/backend/internal/audit"
	"github.com/prizepool/backend/internal/config"
	"github.com/prizepool/backend/internal/gateway"
	"github.com/prizepool/backend/internal/models"
)

var (
	// ErrNoClaimableTransfers means no transfer is currently eligible for
	// processing. Workers back off and poll again.
	ErrNoClaimableTransfers = errors.New("no claimable payout transfers")
	// ErrTerminalState guards completed and failed_terminal rows against
	// any further mutation.
	ErrTerminalState = errors.New("payout transfer is in a terminal state")
)

// PayoutService drives each PayoutTransfer through
// pending -> processing -> {completed | retryable | failed_terminal}.
// Multiple worker processes may run it concurrently; exclusivity comes from
// row locks, never in-process coordination.
type PayoutService struct {
	db      *sql.DB
	redis   *redis.Client
	ledger  *LedgerService
	gateway gateway.TransferClient
	audit   *audit.Logger
	cfg     *config.PayoutConfig
}

func NewPayoutService(db *sql.DB, redisClient *redis.Client, transferClient gateway.TransferClient, cfg *config.PayoutConfig) *PayoutService {
	return &PayoutService{
		db:      db,
		redis:   redisClient,
		ledger:  NewLedgerService(db),
		gateway: transferClient,
		audit:   audit.NewLogger(),
		cfg:     cfg,
	}
}

// IngestSettlement persists a settlement result as one payout job plus one
// transfer per winner. The unique (contest_id, user_id) constraint makes
// re-ingestion a no-op per pair, so re-running settlement never duplicates
// a transfer.
func (ps *PayoutService) IngestSettlement(contestID, policy string, prizePoolCents int64, payouts []models.Payout) (*models.PayoutJob, int, error) {
	tx, err := ps.db.Begin()
	if err != nil {
		return nil, 0, err
	}
	defer tx.Rollback()

	job := &models.PayoutJob{
		ID:             uuid.New().String(),
		ContestID:      contestID,
		Policy:         policy,
		PrizePoolCents: prizePoolCents,
		CreatedAt:      time.Now(),
	}

	_, err = tx.Exec(`
		INSERT INTO payout_jobs (id, contest_id, policy, prize_pool_cents, created_at)
		VALUES ($1, $2, $3, $4, $5)`,
		job.ID, job.ContestID, job.Policy, job.PrizePoolCents, job.CreatedAt)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to create payout job: %w", err)
	}

	inserted := 0
	for _, p := range payouts {
		result, err := tx.Exec(`
			INSERT INTO payout_transfers
			(id, payout_job_id, contest_id, user_id, amount_cents, idempotency_key,
			 status, attempt_count, max_attempts, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, 0, $8, $9, $9)
			ON CONFLICT (contest_id, user_id) DO NOTHING`,
			uuid.New().String(), job.ID, contestID, p.UserID, p.AmountCents,
			"payout:"+contestID+":"+p.UserID,
			models.TransferStatusPending, ps.cfg.MaxAttempts, time.Now())
		if err != nil {
			return nil, 0, fmt.Errorf("failed to insert transfer for user %s: %w", p.UserID, err)
		}

		rows, err := result.RowsAffected()
		if err != nil {
			return nil, 0, err
		}
		inserted += int(rows)
	}

	if err := tx.Commit(); err != nil {
		return nil, 0, err
	}

	log.Printf("[PAYOUT] Ingested settlement for contest %s: job %s, %d of %d transfers new",
		contestID, job.ID, inserted, len(payouts))

	ps.enqueueDispatch(job.ID)
	return job, inserted, nil
}

// ClaimNext acquires one eligible transfer for exclusive processing. The
// claim and the processing mark commit together: a transfer is only ever
// visible to other workers as pending/retryable or already claimed.
// SKIP LOCKED makes a concurrent claimer of the same row see no row at all.
func (ps *PayoutService) ClaimNext() (*models.PayoutTransfer, error) {
	return ps.claim("", "")
}

// ClaimTransfer acquires one specific transfer, used by targeted retries.
func (ps *PayoutService) ClaimTransfer(transferID string) (*models.PayoutTransfer, error) {
	return ps.claim("AND id = $3", transferID)
}

func (ps *PayoutService) claim(extraCond, extraArg string) (*models.PayoutTransfer, error) {
	tx, err := ps.db.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	query := fmt.Sprintf(`
		SELECT id, payout_job_id, contest_id, user_id, amount_cents, idempotency_key,
		       status, attempt_count, max_attempts
		FROM payout_transfers
		WHERE status IN ($1, $2)
		  AND external_transfer_id IS NULL
		  AND attempt_count < max_attempts
		  %s
		ORDER BY created_at
		LIMIT 1
		FOR UPDATE SKIP LOCKED`, extraCond)

	args := []interface{}{models.TransferStatusPending, models.TransferStatusRetryable}
	if extraArg != "" {
		args = append(args, extraArg)
	}

	var t models.PayoutTransfer
	err = tx.QueryRow(query, args...).Scan(
		&t.ID, &t.PayoutJobID, &t.ContestID, &t.UserID, &t.AmountCents,
		&t.IdempotencyKey, &t.Status, &t.AttemptCount, &t.MaxAttempts,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNoClaimableTransfers
		}
		return nil, err
	}

	result, err := tx.Exec(`
		UPDATE payout_transfers
		SET status = $1, attempt_count = attempt_count + 1, updated_at = $2
		WHERE id = $3`,
		models.TransferStatusProcessing, time.Now(), t.ID)
	if err != nil {
		return nil, err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return nil, err
	}
	if rows == 0 {
		return nil, ErrNoClaimableTransfers
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	t.Status = models.TransferStatusProcessing
	t.AttemptCount++
	return &t, nil
}

// ProcessClaim calls the external transfer API exactly once for this attempt
// and resolves the outcome. The idempotency key is the transfer's own, so
// the gateway de-duplicates across re-claims too.
func (ps *PayoutService) ProcessClaim(ctx context.Context, t *models.PayoutTransfer) error {
	callCtx, cancel := context.WithTimeout(ctx, ps.cfg.OperationTimeout)
	defer cancel()

	result, err := ps.gateway.Transfer(callCtx, gateway.TransferRequest{
		DestinationAccount: destinationAccountForUser(t.UserID),
		AmountCents:        t.AmountCents,
		Currency:           "USD",
		IdempotencyKey:     t.IdempotencyKey,
	})

	if err != nil {
		var gerr *gateway.GatewayError
		if !errors.As(err, &gerr) {
			gerr = &gateway.GatewayError{Retryable: true, Reason: err.Error()}
		}
		return ps.resolveFailure(t, gerr)
	}

	return ps.resolveSuccess(t, result.ExternalTransferID)
}

// resolveSuccess marks the transfer completed and writes the PAYOUT ledger
// debit from the house account, in one transaction. The status predicate on
// the UPDATE keeps terminal rows immutable even under a stale caller.
func (ps *PayoutService) resolveSuccess(t *models.PayoutTransfer, externalTransferID string) error {
	tx, err := ps.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	result, err := tx.Exec(`
		UPDATE payout_transfers
		SET status = $1, external_transfer_id = $2, failure_reason = '', updated_at = $3, completed_at = $3
		WHERE id = $4 AND status = $5`,
		models.TransferStatusCompleted, externalTransferID, time.Now(),
		t.ID, models.TransferStatusProcessing)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return fmt.Errorf("%w: transfer %s not in processing", ErrTerminalState, t.ID)
	}

	entry := &models.LedgerEntry{
		ContestID:      t.ContestID,
		UserID:         ps.cfg.HouseAccountID,
		EntryType:      models.EntryTypePayout,
		Direction:      models.DirectionDebit,
		AmountCents:    t.AmountCents,
		Currency:       "USD",
		ReferenceType:  "payout_transfer",
		ReferenceID:    t.ID,
		IdempotencyKey: "transfer:" + t.ID + ":" + models.EntryTypePayout,
	}
	if _, err := ps.ledger.AppendEntry(tx, entry); err != nil && !errors.Is(err, ErrDuplicateEntry) {
		return err
	}

	if err := tx.Commit(); err != nil {
		return err
	}

	ps.audit.LogTransferResolved(t.ID, t.UserID, t.AmountCents, t.AttemptCount, models.TransferStatusCompleted)
	log.Printf("[PAYOUT] Transfer %s completed: external id %s, attempt %d, user %s, contest %s",
		t.ID, externalTransferID, t.AttemptCount, t.UserID, t.ContestID)
	return nil
}

// resolveFailure records a failed attempt. Permanent failures and exhausted
// attempt budgets go terminal; anything else becomes claimable again.
func (ps *PayoutService) resolveFailure(t *models.PayoutTransfer, gerr *gateway.GatewayError) error {
	status := models.TransferStatusRetryable
	if !gerr.Retryable || t.AttemptCount >= t.MaxAttempts {
		status = models.TransferStatusFailedTerminal
	}

	result, err := ps.db.Exec(`
		UPDATE payout_transfers
		SET status = $1, failure_reason = $2, updated_at = $3
		WHERE id = $4 AND status = $5`,
		status, gerr.Reason, time.Now(), t.ID, models.TransferStatusProcessing)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return fmt.Errorf("%w: transfer %s not in processing", ErrTerminalState, t.ID)
	}

	ps.audit.LogTransferResolved(t.ID, t.UserID, t.AmountCents, t.AttemptCount, status)
	log.Printf("[PAYOUT] Transfer %s failed (attempt %d/%d, now %s): %s",
		t.ID, t.AttemptCount, t.MaxAttempts, status, gerr.Reason)
	return nil
}

// JobReport summarizes a job's transfers. Done means every transfer is
// terminal; failed transfers are listed, not escalated.
func (ps *PayoutService) JobReport(jobID string) (*models.PayoutJobReport, error) {
	var contestID string
	err := ps.db.QueryRow(`SELECT contest_id FROM payout_jobs WHERE id = $1`, jobID).Scan(&contestID)
	if err != nil {
		return nil, err
	}

	rows, err := ps.db.Query(`
		SELECT id, status FROM payout_transfers WHERE payout_job_id = $1`, jobID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	report := &models.PayoutJobReport{
		JobID:          jobID,
		ContestID:      contestID,
		Done:           true,
		CountsByStatus: map[string]int{},
	}
	for rows.Next() {
		var id, status string
		if err := rows.Scan(&id, &status); err != nil {
			return nil, err
		}
		report.CountsByStatus[status]++
		switch status {
		case models.TransferStatusFailedTerminal:
			report.Failed = append(report.Failed, id)
		case models.TransferStatusCompleted:
		default:
			report.Done = false
		}
	}

	return report, rows.Err()
}

// GetJob fetches one payout job row.
func (ps *PayoutService) GetJob(jobID string) (*models.PayoutJob, error) {
	var job models.PayoutJob
	err := ps.db.QueryRow(`
		SELECT id, contest_id, policy, prize_pool_cents, created_at
		FROM payout_jobs WHERE id = $1`, jobID,
	).Scan(&job.ID, &job.ContestID, &job.Policy, &job.PrizePoolCents, &job.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &job, nil
}

// TransfersForJob lists every transfer in a job, oldest first.
func (ps *PayoutService) TransfersForJob(jobID string) ([]models.PayoutTransfer, error) {
	rows, err := ps.db.Query(`
		SELECT id, payout_job_id, contest_id, user_id, amount_cents, idempotency_key,
		       status, attempt_count, max_attempts, external_transfer_id, failure_reason,
		       created_at, updated_at
		FROM payout_transfers
		WHERE payout_job_id = $1
		ORDER BY created_at`, jobID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	transfers := []models.PayoutTransfer{}
	for rows.Next() {
		var t models.PayoutTransfer
		err := rows.Scan(&t.ID, &t.PayoutJobID, &t.ContestID, &t.UserID, &t.AmountCents,
			&t.IdempotencyKey, &t.Status, &t.AttemptCount, &t.MaxAttempts,
			&t.ExternalTransferID, &t.FailureReason, &t.CreatedAt, &t.UpdatedAt)
		if err != nil {
			return nil, err
		}
		transfers = append(transfers, t)
	}
	return transfers, rows.Err()
}

// StatusSummary counts all transfers by status for the operator surface.
func (ps *PayoutService) StatusSummary() (map[string]int, error) {
	rows, err := ps.db.Query(`
		SELECT status, COUNT(*) FROM payout_transfers GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	summary := map[string]int{}
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		summary[status] = count
	}
	return summary, rows.Err()
}

// StuckTransfers lists transfers sitting in processing beyond the threshold,
// read-only. These usually mean a worker died mid-attempt.
func (ps *PayoutService) StuckTransfers(threshold time.Duration) ([]models.PayoutTransfer, error) {
	rows, err := ps.db.Query(`
		SELECT id, payout_job_id, contest_id, user_id, amount_cents, status,
		       attempt_count, max_attempts, failure_reason, updated_at
		FROM payout_transfers
		WHERE status = $1 AND updated_at < $2
		ORDER BY updated_at`,
		models.TransferStatusProcessing, time.Now().Add(-threshold))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	stuck := []models.PayoutTransfer{}
	for rows.Next() {
		var t models.PayoutTransfer
		err := rows.Scan(&t.ID, &t.PayoutJobID, &t.ContestID, &t.UserID, &t.AmountCents,
			&t.Status, &t.AttemptCount, &t.MaxAttempts, &t.FailureReason, &t.UpdatedAt)
		if err != nil {
			return nil, err
		}
		stuck = append(stuck, t)
	}
	return stuck, rows.Err()
}

// RunWorker claims and processes transfers until the context ends. Wakes on
// the Redis dispatch queue when available, otherwise on the poll interval.
func (ps *PayoutService) RunWorker(ctx context.Context) {
	log.Printf("[PAYOUT] Worker started (poll interval %s)", ps.cfg.PollInterval)
	for {
		select {
		case <-ctx.Done():
			log.Printf("[PAYOUT] Worker stopping: %v", ctx.Err())
			return
		default:
		}

		ps.drainClaimable(ctx)
		ps.waitForWork(ctx)
	}
}

func (ps *PayoutService) drainClaimable(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		t, err := ps.ClaimNext()
		if err != nil {
			if !errors.Is(err, ErrNoClaimableTransfers) {
				log.Printf("[PAYOUT] Claim failed: %v", err)
			}
			return
		}

		if err := ps.ProcessClaim(ctx, t); err != nil {
			log.Printf("[PAYOUT] Failed to resolve transfer %s (attempt %d): %v", t.ID, t.AttemptCount, err)
		}
	}
}

func (ps *PayoutService) waitForWork(ctx context.Context) {
	if ps.redis != nil {
		// BLPop doubles as the poll timer; a dispatch message wakes the
		// worker immediately.
		ps.redis.BLPop(ctx, ps.cfg.PollInterval, ps.cfg.DispatchQueue)
		return
	}

	select {
	case <-ctx.Done():
	case <-time.After(ps.cfg.PollInterval):
	}
}

func (ps *PayoutService) enqueueDispatch(jobID string) {
	if ps.redis == nil {
		return
	}
	if err := ps.redis.RPush(context.Background(), ps.cfg.DispatchQueue, jobID).Err(); err != nil {
		log.Printf("[PAYOUT] Failed to enqueue dispatch for job %s: %v", jobID, err)
	}
}

// destinationAccountForUser maps a platform user to their account reference
// at the gateway, which keeps the actual bank details.
func destinationAccountForUser(userID string) string {
	return "acct:" + userID
}
