package services

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/prizepool/backend/internal/audit"
	"github.com/prizepool/backend/internal/config"
	"github.com/prizepool/backend/internal/models"
)

// Outcome of processing one inbound event. Processed and Duplicate are both
// success from the sender's point of view; Rejected means no state change.
const (
	OutcomeProcessed = "processed"
	OutcomeDuplicate = "duplicate"
	OutcomeRejected  = "rejected"
)

var (
	// ErrBadSignature means the payload failed authenticity verification.
	ErrBadSignature = errors.New("webhook signature verification failed")
	// ErrPaymentIntentNotFound means the event referenced a payment this
	// system never initiated. Requires upstream correction, not a retry.
	ErrPaymentIntentNotFound = errors.New("payment intent not found for external reference")
)

// EventTypePaymentSucceeded is the one event type that synthesizes a ledger
// credit. Every other type is recorded for audit only.
const EventTypePaymentSucceeded = "payment.succeeded"

// PaymentEvent is the decoded inbound payload.
type PaymentEvent struct {
	EventID   string `json:"id" validate:"required"`
	EventType string `json:"type" validate:"required"`
	Data      struct {
		PaymentRef string `json:"paymentRef"`
	} `json:"data"`
}

// WebhookService is the event ingestion gate: it turns each unique signed
// payment-confirmation event into exactly one ledger credit, no matter how
// many times or how concurrently the event is delivered.
type WebhookService struct {
	db        *sql.DB
	redis     *redis.Client
	ledger    *LedgerService
	validator *ValidationHelper
	audit     *audit.Logger
	cfg       *config.WebhookConfig
}

func NewWebhookService(db *sql.DB, redisClient *redis.Client, cfg *config.WebhookConfig) *WebhookService {
	return &WebhookService{
		db:        db,
		redis:     redisClient,
		ledger:    NewLedgerService(db),
		validator: NewValidationHelper(),
		audit:     audit.NewLogger(),
		cfg:       cfg,
	}
}

// ProcessEvent runs the whole ingestion protocol as one atomic unit of work.
// Signature failure and malformed payloads reject with zero rows written.
// A replayed event aborts on the inbound_events unique key and reports
// duplicate; the abort also discards any partial ledger work from this
// attempt, so a failed attempt never blocks the next legitimate retry.
func (ws *WebhookService) ProcessEvent(rawBody []byte, signature string) (string, error) {
	if !ws.verifySignature(rawBody, signature) {
		return OutcomeRejected, ErrBadSignature
	}

	var event PaymentEvent
	if err := json.Unmarshal(rawBody, &event); err != nil {
		return OutcomeRejected, fmt.Errorf("malformed event payload: %w", err)
	}
	if err := ws.validator.ValidateStruct(&event); err != nil {
		return OutcomeRejected, fmt.Errorf("invalid event payload: %w", err)
	}

	tx, err := ws.db.Begin()
	if err != nil {
		log.Printf("[WEBHOOK] Failed to begin transaction for event %s: %v", event.EventID, err)
		return OutcomeRejected, err
	}
	defer tx.Rollback()

	var inboundID int
	err = tx.QueryRow(`
		INSERT INTO inbound_events (external_event_id, event_type, raw_payload, processing_status, received_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id`,
		event.EventID, event.EventType, string(rawBody), models.EventStatusReceived, time.Now(),
	).Scan(&inboundID)

	if err != nil {
		if isUniqueViolation(err) {
			log.Printf("[WEBHOOK] Duplicate event %s, already processed", event.EventID)
			return OutcomeDuplicate, nil
		}
		log.Printf("[WEBHOOK] Failed to record event %s: %v", event.EventID, err)
		return OutcomeRejected, err
	}

	if event.EventType == EventTypePaymentSucceeded {
		if err := ws.applyPaymentSucceeded(tx, &event); err != nil {
			ws.audit.LogError(event.EventID, "", err)
			log.Printf("[WEBHOOK] Failed to apply event %s: %v", event.EventID, err)
			return OutcomeRejected, err
		}
	} else {
		// Recorded for audit; no ledger entry is synthesized.
		log.Printf("[WEBHOOK] Event %s has non-ledger type %s, recording only", event.EventID, event.EventType)
	}

	_, err = tx.Exec(`
		UPDATE inbound_events SET processing_status = $1, processed_at = $2 WHERE id = $3`,
		models.EventStatusProcessed, time.Now(), inboundID)
	if err != nil {
		return OutcomeRejected, err
	}

	if err := tx.Commit(); err != nil {
		log.Printf("[WEBHOOK] Failed to commit event %s: %v", event.EventID, err)
		return OutcomeRejected, err
	}

	ws.notifyProcessed(&event)
	return OutcomeProcessed, nil
}

// applyPaymentSucceeded transitions the pending payment intent and appends
// the entry-fee credit, all inside the surrounding transaction.
func (ws *WebhookService) applyPaymentSucceeded(tx *sql.Tx, event *PaymentEvent) error {
	var intent models.PaymentIntent
	err := tx.QueryRow(`
		SELECT id, external_ref, contest_id, user_id, amount_cents, currency, status
		FROM payment_intents
		WHERE external_ref = $1
		FOR UPDATE`, event.Data.PaymentRef,
	).Scan(&intent.ID, &intent.ExternalRef, &intent.ContestID, &intent.UserID,
		&intent.AmountCents, &intent.Currency, &intent.Status)

	if err != nil {
		if err == sql.ErrNoRows {
			return fmt.Errorf("%w: ref %s, event %s", ErrPaymentIntentNotFound, event.Data.PaymentRef, event.EventID)
		}
		return err
	}

	if intent.Status == models.IntentStatusSucceeded {
		// Intent already settled by an earlier event; nothing to credit.
		log.Printf("[WEBHOOK] Intent %s already succeeded, skipping credit for event %s", intent.ExternalRef, event.EventID)
		return nil
	}

	_, err = tx.Exec(`
		UPDATE payment_intents SET status = $1, updated_at = $2 WHERE id = $3`,
		models.IntentStatusSucceeded, time.Now(), intent.ID)
	if err != nil {
		return err
	}

	entry := &models.LedgerEntry{
		ContestID:       intent.ContestID,
		UserID:          intent.UserID,
		EntryType:       models.EntryTypeEntryFee,
		Direction:       models.DirectionCredit,
		AmountCents:     intent.AmountCents,
		Currency:        intent.Currency,
		ReferenceType:   "payment_intent",
		ReferenceID:     intent.ExternalRef,
		ExternalEventID: &event.EventID,
		IdempotencyKey:  "event:" + event.EventID + ":" + models.EntryTypeEntryFee,
	}

	if _, err := ws.ledger.AppendEntry(tx, entry); err != nil {
		if errors.Is(err, ErrDuplicateEntry) {
			// The credit already exists; a concurrent delivery won the race.
			return nil
		}
		return err
	}

	ws.audit.LogCredit(event.EventID, intent.UserID, intent.AmountCents)
	return nil
}

func (ws *WebhookService) verifySignature(rawBody []byte, signature string) bool {
	if ws.cfg.SigningSecret == "" {
		log.Printf("[WEBHOOK] No signing secret configured, rejecting all events")
		return false
	}

	h := hmac.New(sha256.New, []byte(ws.cfg.SigningSecret))
	h.Write(rawBody)
	expected := hex.EncodeToString(h.Sum(nil))

	got, err := hex.DecodeString(signature)
	if err != nil {
		return false
	}
	want, _ := hex.DecodeString(expected)
	return hmac.Equal(got, want)
}

// notifyProcessed pushes a post-commit notification for downstream
// consumers. Best effort: the ledger write already succeeded.
func (ws *WebhookService) notifyProcessed(event *PaymentEvent) {
	if ws.redis == nil {
		return
	}

	msg, err := json.Marshal(map[string]string{
		"externalEventId": event.EventID,
		"eventType":       event.EventType,
	})
	if err != nil {
		return
	}

	if err := ws.redis.RPush(context.Background(), ws.cfg.NotifyQueue, msg).Err(); err != nil {
		log.Printf("[WEBHOOK] Failed to enqueue notification for event %s: %v", event.EventID, err)
	}
}
