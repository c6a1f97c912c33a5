package ledger

import (
	"context"
	"fmt"
)

// Refund credits back the amount and fee of a VALIDEE debit as a new
// REMBOURSEMENT transaction. Each debit can be refunded once. The spend it
// consumed is released from any limit window that still contains it.
func (l *Ledger) Refund(ctx context.Context, txID, reason string) (*Transaction, error) {
	orig, err := l.store.GetTransaction(ctx, txID)
	if err != nil {
		return nil, err
	}
	if orig.Status != StatusValidee || orig.Direction != Debit {
		return nil, fmt.Errorf("%w: %s is a %s %s", ErrNotRefundable, orig.ReferenceInterne, orig.Status, orig.Direction)
	}

	unlock := l.locks.Lock(orig.CardID)
	defer unlock()

	md := orig.Metadata
	if reason != "" {
		md.Description = reason
	}
	l.logger.Info("refunding transaction", "reference", orig.ReferenceInterne, "card_id", orig.CardID, "reason", reason)
	return l.authorizeLocked(ctx, Request{
		CardID:   orig.CardID,
		Type:     TypeRemboursement,
		Amount:   orig.Total(),
		Metadata: md,
		reverses: orig,
	})
}

// ensureNotRefunded fails with ErrAlreadyRefunded when a VALIDEE refund of
// orig is already journaled.
func (l *Ledger) ensureNotRefunded(ctx context.Context, orig *Transaction) error {
	prior, err := l.store.ListTransactions(ctx, TransactionFilter{ReversalOf: orig.ID, Status: StatusValidee, Limit: 1})
	if err != nil {
		return fmt.Errorf("look up prior refunds: %w", err)
	}
	if len(prior) > 0 {
		return fmt.Errorf("%w: %s by %s", ErrAlreadyRefunded, orig.ReferenceInterne, prior[0].ReferenceInterne)
	}
	return nil
}
