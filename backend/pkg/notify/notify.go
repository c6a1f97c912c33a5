// Package notify fans ledger events out to loggers, webhooks and the audit
// chain. Publishers never block the ledger.
package notify

import (
	"context"
	"log/slog"

	"github.com/rfidpay/cardcore/backend/pkg/ledger"
)

// Multi publishes each event to every publisher in order.
type Multi []ledger.EventPublisher

func (m Multi) Publish(ctx context.Context, e ledger.Event) {
	for _, p := range m {
		p.Publish(ctx, e)
	}
}

// LogPublisher writes events to a structured logger.
type LogPublisher struct {
	logger *slog.Logger
}

func NewLogPublisher(logger *slog.Logger) *LogPublisher {
	return &LogPublisher{logger: logger.With("component", "events")}
}

func (p *LogPublisher) Publish(ctx context.Context, e ledger.Event) {
	attrs := []any{"event", e.Type, "card_id", e.CardID}
	if e.Status != "" {
		attrs = append(attrs, "status", e.Status)
	}
	if e.Reason != "" {
		attrs = append(attrs, "reason", e.Reason)
	}
	if tx := e.Transaction; tx != nil {
		attrs = append(attrs, "reference", tx.ReferenceInterne, "amount", tx.Amount, "fee", tx.Fee)
	}
	p.logger.InfoContext(ctx, "ledger event", attrs...)
}
