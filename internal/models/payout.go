package models

import (
	"time"
)

// Payout transfer statuses. Completed and failed_terminal are terminal;
// nothing moves a transfer out of them.
const (
	TransferStatusPending        = "pending"
	TransferStatusProcessing     = "processing"
	TransferStatusRetryable      = "retryable"
	TransferStatusCompleted      = "completed"
	TransferStatusFailedTerminal = "failed_terminal"
)

// PayoutTransfer is one attempted money movement to a contest winner. The
// unique (contest_id, user_id) pair guarantees at most one transfer per
// winner per contest no matter how many times settlement runs. Rows are
// never deleted.
type PayoutTransfer struct {
	ID                 string     `json:"id" db:"id"`
	PayoutJobID        string     `json:"payout_job_id" db:"payout_job_id"`
	ContestID          string     `json:"contest_id" db:"contest_id"`
	UserID             string     `json:"user_id" db:"user_id"`
	AmountCents        int64      `json:"amount_cents" db:"amount_cents"`
	IdempotencyKey     string     `json:"idempotency_key" db:"idempotency_key"`
	Status             string     `json:"status" db:"status"`
	AttemptCount       int        `json:"attempt_count" db:"attempt_count"`
	MaxAttempts        int        `json:"max_attempts" db:"max_attempts"`
	ExternalTransferID *string    `json:"external_transfer_id,omitempty" db:"external_transfer_id"`
	FailureReason      string     `json:"failure_reason,omitempty" db:"failure_reason"`
	CreatedAt          time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at" db:"updated_at"`
	CompletedAt        *time.Time `json:"completed_at,omitempty" db:"completed_at"`
}

// Terminal reports whether no further state transitions are permitted.
func (t *PayoutTransfer) Terminal() bool {
	return t.Status == TransferStatusCompleted || t.Status == TransferStatusFailedTerminal
}

// PayoutJob groups the transfers produced by one settlement run.
type PayoutJob struct {
	ID             string    `json:"id" db:"id"`
	ContestID      string    `json:"contest_id" db:"contest_id"`
	Policy         string    `json:"policy" db:"policy"`
	PrizePoolCents int64     `json:"prize_pool_cents" db:"prize_pool_cents"`
	CreatedAt      time.Time `json:"created_at" db:"created_at"`
}

// PayoutJobReport summarizes the terminal/non-terminal split of a job's
// transfers. A job is done when every transfer is terminal; failed transfers
// are reported, not escalated into a job-level error.
type PayoutJobReport struct {
	JobID          string         `json:"job_id"`
	ContestID      string         `json:"contest_id"`
	Done           bool           `json:"done"`
	CountsByStatus map[string]int `json:"counts_by_status"`
	Failed         []string       `json:"failed_transfer_ids,omitempty"`
}
