// Package transfer moves money between two cards as two single-card ledger
// calls. If the credit leg fails, the debit leg is refunded.
package transfer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/rfidpay/cardcore/backend/pkg/ledger"
)

var (
	ErrSameCard      = errors.New("source and destination are the same card")
	ErrInvalidAmount = errors.New("transfer amount must be positive")
)

type Status string

const (
	StatusCompleted      Status = "COMPLETED"
	StatusFailed         Status = "FAILED"
	StatusReversed       Status = "REVERSED"
	StatusReversalFailed Status = "REVERSAL_FAILED"
)

// Ledger is the part of the ledger a transfer needs.
type Ledger interface {
	Authorize(ctx context.Context, req ledger.Request) (*ledger.Transaction, error)
	Refund(ctx context.Context, txID, reason string) (*ledger.Transaction, error)
}

type Request struct {
	FromCardID  string `json:"from_card_id"`
	ToCardID    string `json:"to_card_id"`
	Amount      int64  `json:"amount"`
	Description string `json:"description,omitempty"`
}

type Result struct {
	Status   Status              `json:"status"`
	Code     ledger.Code         `json:"code,omitempty"`
	Debit    *ledger.Transaction `json:"debit,omitempty"`
	Credit   *ledger.Transaction `json:"credit,omitempty"`
	Reversal *ledger.Transaction `json:"reversal,omitempty"`
}

type Orchestrator struct {
	ledger Ledger
	logger *slog.Logger
}

func NewOrchestrator(l Ledger, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{ledger: l, logger: logger}
}

// Transfer debits the source with the transfer fee, then credits the
// destination. The returned error is reserved for ledger failures; refused
// legs are reported through Result.Status and Result.Code.
func (o *Orchestrator) Transfer(ctx context.Context, req Request) (*Result, error) {
	if req.FromCardID == req.ToCardID {
		return nil, ErrSameCard
	}
	if req.Amount <= 0 {
		return nil, ErrInvalidAmount
	}

	debit, err := o.ledger.Authorize(ctx, ledger.Request{
		CardID:    req.FromCardID,
		Type:      ledger.TypeTransfert,
		Direction: ledger.Debit,
		Amount:    req.Amount,
		Metadata:  ledger.Metadata{CounterpartyCardID: req.ToCardID, Description: req.Description},
	})
	if err != nil {
		return nil, fmt.Errorf("debit leg: %w", err)
	}
	res := &Result{Debit: debit}
	if debit.Status != ledger.StatusValidee {
		res.Status = StatusFailed
		res.Code = debit.ErrorCode
		return res, nil
	}

	credit, err := o.ledger.Authorize(ctx, ledger.Request{
		CardID:    req.ToCardID,
		Type:      ledger.TypeTransfert,
		Direction: ledger.Credit,
		Amount:    req.Amount,
		Metadata: ledger.Metadata{
			CounterpartyCardID: req.FromCardID,
			Description:        req.Description,
		},
	})
	res.Credit = credit
	if err == nil && credit.Status == ledger.StatusValidee {
		res.Status = StatusCompleted
		o.logger.Info("transfer completed",
			"from", req.FromCardID, "to", req.ToCardID, "amount", req.Amount,
			"debit_ref", debit.ReferenceInterne, "credit_ref", credit.ReferenceInterne)
		return res, nil
	}

	res.Code = ledger.CodeInternalError
	if credit != nil {
		res.Code = credit.ErrorCode
	}
	o.logger.Warn("transfer credit leg failed, refunding source",
		"debit_ref", debit.ReferenceInterne, "to", req.ToCardID, "code", res.Code, "error", err)

	reversal, rerr := o.ledger.Refund(ctx, debit.ID, fmt.Sprintf("transfer to %s failed: %s", req.ToCardID, res.Code))
	res.Reversal = reversal
	if rerr != nil || reversal.Status != ledger.StatusValidee {
		res.Status = StatusReversalFailed
		o.logger.Error("transfer reversal failed",
			"debit_ref", debit.ReferenceInterne, "error", rerr)
		return res, nil
	}
	res.Status = StatusReversed
	return res, nil
}
