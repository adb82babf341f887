// Package audit emits structured records for every financial-state-changing
// decision, with enough context (event id, transfer id, attempt count) to
// reconstruct the decision without replaying external calls.
package audit

import (
	"encoding/json"
	"log"
	"time"
)

type Event struct {
	Timestamp   time.Time `json:"timestamp"`
	EventType   string    `json:"event_type"`
	ReferenceID string    `json:"reference_id"`
	UserID      string    `json:"user_id,omitempty"`
	AmountCents int64     `json:"amount_cents,omitempty"`
	Status      string    `json:"status"`
	Details     any       `json:"details,omitempty"`
}

type Logger struct{}

func NewLogger() *Logger {
	return &Logger{}
}

// LogCredit records a ledger credit produced from an inbound event.
func (a *Logger) LogCredit(externalEventID, userID string, amountCents int64) {
	a.log(Event{
		Timestamp:   time.Now(),
		EventType:   "LEDGER_CREDIT",
		ReferenceID: externalEventID,
		UserID:      userID,
		AmountCents: amountCents,
		Status:      "SUCCESS",
	})
}

// LogTransferResolved records the outcome of one payout attempt.
func (a *Logger) LogTransferResolved(transferID, userID string, amountCents int64, attempt int, status string) {
	a.log(Event{
		Timestamp:   time.Now(),
		EventType:   "PAYOUT_TRANSFER",
		ReferenceID: transferID,
		UserID:      userID,
		AmountCents: amountCents,
		Status:      status,
		Details:     map[string]int{"attempt": attempt},
	})
}

// LogAdjustment records a manual ledger adjustment and who made it.
func (a *Logger) LogAdjustment(idempotencyKey, userID, operatorID string, amountCents int64, direction string) {
	a.log(Event{
		Timestamp:   time.Now(),
		EventType:   "LEDGER_ADJUSTMENT",
		ReferenceID: idempotencyKey,
		UserID:      userID,
		AmountCents: amountCents,
		Status:      "SUCCESS",
		Details:     map[string]string{"operator": operatorID, "direction": direction},
	})
}

// LogError records a failed financial operation.
func (a *Logger) LogError(referenceID, userID string, err error) {
	a.log(Event{
		Timestamp:   time.Now(),
		EventType:   "ERROR",
		ReferenceID: referenceID,
		UserID:      userID,
		Status:      "FAILED",
		Details:     map[string]string{"error": err.Error()},
	})
}

func (a *Logger) log(event Event) {
	data, _ := json.Marshal(event)
	log.Printf("AUDIT: %s", string(data))
}
