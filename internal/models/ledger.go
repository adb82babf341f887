package models

import (
	"time"
)

// Ledger entry types
const (
	EntryTypeEntryFee   = "ENTRY_FEE"
	EntryTypePayout     = "PAYOUT"
	EntryTypeAdjustment = "ADJUSTMENT"
)

// Ledger entry directions
const (
	DirectionCredit = "CREDIT"
	DirectionDebit  = "DEBIT"
)

// LedgerEntry is an immutable financial record. Entries are only ever
// inserted; a user's balance is the signed sum of their entries.
type LedgerEntry struct {
	ID              int       `json:"id" db:"id"`
	ContestID       string    `json:"contest_id" db:"contest_id"`
	UserID          string    `json:"user_id" db:"user_id"`
	EntryType       string    `json:"entry_type" db:"entry_type"` // ENTRY_FEE, PAYOUT, ADJUSTMENT
	Direction       string    `json:"direction" db:"direction"`   // CREDIT or DEBIT
	AmountCents     int64     `json:"amount_cents" db:"amount_cents"`
	Currency        string    `json:"currency" db:"currency"`
	ReferenceType   string    `json:"reference_type" db:"reference_type"`
	ReferenceID     string    `json:"reference_id" db:"reference_id"`
	ExternalEventID *string   `json:"external_event_id,omitempty" db:"external_event_id"`
	IdempotencyKey  string    `json:"idempotency_key" db:"idempotency_key"`
	CreatedAt       time.Time `json:"created_at" db:"created_at"`
}

// AdjustmentRequest is a manual ledger correction posted by an operator.
// The caller supplies the idempotency key so a re-posted form cannot double
// an adjustment.
type AdjustmentRequest struct {
	ContestID      string `json:"contestId"`
	UserID         string `json:"userId" validate:"required"`
	AmountCents    int64  `json:"amountCents" validate:"required,gt=0"`
	Direction      string `json:"direction" validate:"required,oneof=CREDIT DEBIT"`
	Reason         string `json:"reason" validate:"required"`
	IdempotencyKey string `json:"idempotencyKey" validate:"required"`
}

// Inbound event processing statuses
const (
	EventStatusReceived  = "RECEIVED"
	EventStatusProcessed = "PROCESSED"
)

// InboundEvent records one externally-delivered payment event, keyed by the
// provider's event id for deduplication. The row is written in the same
// transaction as the ledger work it authorizes.
type InboundEvent struct {
	ID               int        `json:"id" db:"id"`
	ExternalEventID  string     `json:"external_event_id" db:"external_event_id"`
	EventType        string     `json:"event_type" db:"event_type"`
	RawPayload       string     `json:"raw_payload" db:"raw_payload"`
	ProcessingStatus string     `json:"processing_status" db:"processing_status"`
	ReceivedAt       time.Time  `json:"received_at" db:"received_at"`
	ProcessedAt      *time.Time `json:"processed_at,omitempty" db:"processed_at"`
}

// Payment intent statuses
const (
	IntentStatusPending   = "PENDING"
	IntentStatusSucceeded = "SUCCEEDED"
	IntentStatusFailed    = "FAILED"
)

// PaymentIntent tracks an expected entry-fee payment, keyed by the external
// provider reference the confirmation event will carry.
type PaymentIntent struct {
	ID          int       `json:"id" db:"id"`
	ExternalRef string    `json:"external_ref" db:"external_ref"`
	ContestID   string    `json:"contest_id" db:"contest_id"`
	UserID      string    `json:"user_id" db:"user_id"`
	AmountCents int64     `json:"amount_cents" db:"amount_cents"`
	Currency    string    `json:"currency" db:"currency"`
	Status      string    `json:"status" db:"status"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time `json:"updated_at" db:"updated_at"`
}
