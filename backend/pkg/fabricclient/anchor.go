package fabricclient

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/rfidpay/cardcore/backend/pkg/ledger"
)

// Submitter is the write side of a chaincode contract.
type Submitter interface {
	SubmitTransaction(name string, args ...string) ([]byte, error)
}

// Anchor records every final transaction on the audit channel. Submissions
// are slow, so events are queued and sent by a single worker in order.
type Anchor struct {
	contract Submitter
	logger   *slog.Logger
	queue    chan *ledger.Transaction

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

func NewAnchor(contract Submitter, queueSize int, logger *slog.Logger) *Anchor {
	if queueSize <= 0 {
		queueSize = 1024
	}
	a := &Anchor{
		contract: contract,
		logger:   logger.With("component", "fabric-anchor"),
		queue:    make(chan *ledger.Transaction, queueSize),
	}
	a.wg.Add(1)
	go a.run()
	return a
}

func (a *Anchor) Publish(_ context.Context, e ledger.Event) {
	if e.Transaction == nil || !e.Transaction.Status.Final() {
		return
	}
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		return
	}
	select {
	case a.queue <- e.Transaction:
	default:
		a.logger.Error("anchor queue full, transaction not anchored", "reference", e.Transaction.ReferenceInterne)
	}
}

func (a *Anchor) run() {
	defer a.wg.Done()
	for tx := range a.queue {
		if err := a.record(tx); err != nil {
			a.logger.Error("failed to anchor transaction", "reference", tx.ReferenceInterne, "error", err)
			continue
		}
		a.logger.Debug("transaction anchored", "reference", tx.ReferenceInterne)
	}
}

func (a *Anchor) record(tx *ledger.Transaction) error {
	payload, err := json.Marshal(tx)
	if err != nil {
		return fmt.Errorf("failed to encode transaction: %w", err)
	}
	if _, err := a.contract.SubmitTransaction("RecordTransaction", string(payload)); err != nil {
		return fmt.Errorf("failed to submit RecordTransaction: %w", err)
	}
	return nil
}

// Close drains the queue.
func (a *Anchor) Close() {
	a.mu.Lock()
	if !a.closed {
		a.closed = true
		close(a.queue)
	}
	a.mu.Unlock()
	a.wg.Wait()
}
