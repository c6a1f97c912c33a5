package ledger

import (
	"context"
	"time"
)

type EventType string

const (
	EventTransactionCompleted EventType = "TransactionCompleted"
	EventTransactionFailed    EventType = "TransactionFailed"
	EventCardIssued           EventType = "CardIssued"
	EventCardActivated        EventType = "CardActivated"
	EventCardBlocked          EventType = "CardBlocked"
	EventCardUnblocked        EventType = "CardUnblocked"
	EventCardReported         EventType = "CardReported"
	EventCardSuspended        EventType = "CardSuspended"
	EventCardReactivated      EventType = "CardReactivated"
	EventCardExpired          EventType = "CardExpired"
	EventLimitsUpdated        EventType = "LimitsUpdated"
)

// Event is emitted after a change has been committed.
type Event struct {
	Type        EventType    `json:"type"`
	CardID      string       `json:"card_id"`
	Status      string       `json:"status,omitempty"`
	Reason      string       `json:"reason,omitempty"`
	Transaction *Transaction `json:"transaction,omitempty"`
	OccurredAt  time.Time    `json:"occurred_at"`
}

// EventPublisher receives events. Publish must not block on delivery; the
// ledger calls it while holding the card lock and ignores the outcome.
type EventPublisher interface {
	Publish(ctx context.Context, e Event)
}

type nopPublisher struct{}

func (nopPublisher) Publish(context.Context, Event) {}
