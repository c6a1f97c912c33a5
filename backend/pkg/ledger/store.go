package ledger

import (
	"context"
	"time"

	"github.com/rfidpay/cardcore/backend/pkg/card"
)

// CardStore persists cards. UpdateCard writes c only if the stored version
// still equals expectedVersion, then sets c.Version to expectedVersion+1.
// It returns ErrVersionConflict otherwise and ErrCardNotFound for unknown ids.
type CardStore interface {
	GetCard(ctx context.Context, id string) (*card.Card, error)
	CreateCard(ctx context.Context, c *card.Card) error
	UpdateCard(ctx context.Context, c *card.Card, expectedVersion int64) error
}

// TransactionStore is append-only. GetTransaction accepts either the
// transaction id or its reference_interne.
type TransactionStore interface {
	AppendTransaction(ctx context.Context, tx *Transaction) error
	GetTransaction(ctx context.Context, id string) (*Transaction, error)
	ListTransactions(ctx context.Context, f TransactionFilter) ([]*Transaction, error)
}

// Store combines both and adds the atomic write the ledger relies on:
// Apply updates c under the same version guard as UpdateCard and appends tx,
// both or neither.
type Store interface {
	CardStore
	TransactionStore
	Apply(ctx context.Context, c *card.Card, expectedVersion int64, tx *Transaction) error
}

// TransactionFilter selects transactions. Zero fields match everything.
// From is inclusive and To exclusive on CreatedAt. Results are newest first.
type TransactionFilter struct {
	CardID     string
	Type       TxType
	Status     TxStatus
	ReversalOf string
	From       time.Time
	To         time.Time
	Limit      int
}

// Match reports whether tx passes f, ignoring Limit.
func (f TransactionFilter) Match(tx *Transaction) bool {
	switch {
	case f.CardID != "" && tx.CardID != f.CardID:
		return false
	case f.Type != "" && tx.Type != f.Type:
		return false
	case f.Status != "" && tx.Status != f.Status:
		return false
	case f.ReversalOf != "" && tx.ReversalOf != f.ReversalOf:
		return false
	case !f.From.IsZero() && tx.CreatedAt.Before(f.From):
		return false
	case !f.To.IsZero() && !tx.CreatedAt.Before(f.To):
		return false
	}
	return true
}
