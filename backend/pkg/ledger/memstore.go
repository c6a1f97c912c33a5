package ledger

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/rfidpay/cardcore/backend/pkg/card"
)

// MemoryStore is a Store kept in process memory. It copies values in and
// out so callers never share state with it.
type MemoryStore struct {
	mu    sync.RWMutex
	cards map[string]*card.Card
	uids  map[string]string
	repl  map[string]string
	txs   []*Transaction
	byID  map[string]*Transaction
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		cards: make(map[string]*card.Card),
		uids:  make(map[string]string),
		repl:  make(map[string]string),
		byID:  make(map[string]*Transaction),
	}
}

func (s *MemoryStore) GetCard(_ context.Context, id string) (*card.Card, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.cards[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrCardNotFound, id)
	}
	return c.Clone(), nil
}

func (s *MemoryStore) CreateCard(_ context.Context, c *card.Card) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.cards[c.ID]; ok {
		return fmt.Errorf("%w: id %s", ErrDuplicateCard, c.ID)
	}
	if _, ok := s.uids[c.CodeUID]; ok {
		return fmt.Errorf("%w: code_uid %s", ErrDuplicateCard, c.CodeUID)
	}
	if by, ok := s.repl[c.ReplacesCardID]; ok && c.ReplacesCardID != "" {
		return fmt.Errorf("%w: %s by %s", ErrAlreadyReplaced, c.ReplacesCardID, by)
	}
	s.cards[c.ID] = c.Clone()
	s.uids[c.CodeUID] = c.ID
	if c.ReplacesCardID != "" {
		s.repl[c.ReplacesCardID] = c.ID
	}
	return nil
}

func (s *MemoryStore) UpdateCard(_ context.Context, c *card.Card, expectedVersion int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.updateLocked(c, expectedVersion)
}

func (s *MemoryStore) updateLocked(c *card.Card, expectedVersion int64) error {
	cur, ok := s.cards[c.ID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrCardNotFound, c.ID)
	}
	if cur.Version != expectedVersion {
		return fmt.Errorf("%w: card %s at version %d, expected %d", ErrVersionConflict, c.ID, cur.Version, expectedVersion)
	}
	c.Version = expectedVersion + 1
	s.cards[c.ID] = c.Clone()
	return nil
}

func (s *MemoryStore) AppendTransaction(_ context.Context, tx *Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.appendLocked(tx)
}

func (s *MemoryStore) appendLocked(tx *Transaction) error {
	if _, ok := s.byID[tx.ID]; ok {
		return fmt.Errorf("transaction %s already recorded", tx.ID)
	}
	if err := s.refundOnceLocked(tx); err != nil {
		return err
	}
	cp := *tx
	s.txs = append(s.txs, &cp)
	s.byID[cp.ID] = &cp
	return nil
}

func (s *MemoryStore) Apply(_ context.Context, c *card.Card, expectedVersion int64, tx *Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byID[tx.ID]; ok {
		return fmt.Errorf("transaction %s already recorded", tx.ID)
	}
	if err := s.refundOnceLocked(tx); err != nil {
		return err
	}
	if err := s.updateLocked(c, expectedVersion); err != nil {
		return err
	}
	return s.appendLocked(tx)
}

// refundOnceLocked mirrors the SQL partial unique index on reversal_of.
func (s *MemoryStore) refundOnceLocked(tx *Transaction) error {
	if tx.ReversalOf == "" || tx.Status != StatusValidee {
		return nil
	}
	for _, t := range s.txs {
		if t.ReversalOf == tx.ReversalOf && t.Status == StatusValidee {
			return fmt.Errorf("%w: %s by %s", ErrAlreadyRefunded, tx.ReversalOf, t.ReferenceInterne)
		}
	}
	return nil
}

func (s *MemoryStore) GetTransaction(_ context.Context, id string) (*Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tx, ok := s.byID[id]
	if !ok {
		for _, t := range s.txs {
			if t.ReferenceInterne == id {
				tx, ok = t, true
				break
			}
		}
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTransactionNotFound, id)
	}
	cp := *tx
	return &cp, nil
}

func (s *MemoryStore) ListTransactions(_ context.Context, f TransactionFilter) ([]*Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Transaction
	for _, tx := range s.txs {
		if f.Match(tx) {
			cp := *tx
			out = append(out, &cp)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}
