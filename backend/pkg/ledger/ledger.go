// Package ledger authorizes money movements on prepaid cards and keeps the
// append-only transaction journal.
//
// Every operation on a card runs under that card's in-process lock and
// writes through a version-guarded store call, so two processes sharing a
// database still cannot both spend the same balance or refund the same
// debit twice. Business refusals are not Go errors: Authorize records them
// as ECHOUEE transactions and returns them with a nil error.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"

	"github.com/rfidpay/cardcore/backend/pkg/card"
	"github.com/rfidpay/cardcore/backend/pkg/fee"
	"github.com/rfidpay/cardcore/backend/pkg/limits"
)

const (
	defaultMaxAttempts = 3
	defaultValidity    = 365 * 24 * time.Hour
	readBackoff        = 20 * time.Millisecond
)

// errRetry marks an attempt lost to a concurrent writer.
var errRetry = errors.New("retry")

// Config tunes a Ledger. Zero values select the defaults.
type Config struct {
	Fees        fee.Schedule
	Location    *time.Location
	Ceilings    map[card.Type]card.Ceilings
	Validity    time.Duration
	MaxAttempts int
	Clock       func() time.Time
	Owners      OwnerResolver
	Events      EventPublisher
	Logger      *slog.Logger
}

type Ledger struct {
	store       Store
	tracker     *limits.Tracker
	fees        fee.Schedule
	ceilings    map[card.Type]card.Ceilings
	validity    time.Duration
	maxAttempts int
	clock       func() time.Time
	owners      OwnerResolver
	events      EventPublisher
	logger      *slog.Logger
	locks       *cardLocks
}

func New(store Store, cfg Config) *Ledger {
	l := &Ledger{
		store:       store,
		tracker:     limits.NewTracker(cfg.Location),
		fees:        cfg.Fees,
		ceilings:    cfg.Ceilings,
		validity:    cfg.Validity,
		maxAttempts: cfg.MaxAttempts,
		clock:       cfg.Clock,
		owners:      cfg.Owners,
		events:      cfg.Events,
		logger:      cfg.Logger,
		locks:       newCardLocks(),
	}
	if l.fees == nil {
		l.fees = fee.Default
	}
	if l.ceilings == nil {
		l.ceilings = card.DefaultCeilings
	}
	if l.validity <= 0 {
		l.validity = defaultValidity
	}
	if l.maxAttempts <= 0 {
		l.maxAttempts = defaultMaxAttempts
	}
	if l.clock == nil {
		l.clock = time.Now
	}
	if l.owners == nil {
		l.owners = assignedOwner
	}
	if l.events == nil {
		l.events = nopPublisher{}
	}
	if l.logger == nil {
		l.logger = slog.Default()
	}
	return l
}

// Authorize validates req against the card and either commits it as a
// VALIDEE transaction or records it as ECHOUEE with the first failing
// check's code. The error is non-nil only when the outcome could not be
// recorded at all, when req names an unknown transaction type, or when it
// asks for a REMBOURSEMENT, which only Refund may issue.
func (l *Ledger) Authorize(ctx context.Context, req Request) (*Transaction, error) {
	if !req.Type.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, req.Type)
	}
	if req.Type == TypeRemboursement {
		return nil, fmt.Errorf("%w: use the refund operation", ErrUnlinkedRefund)
	}
	unlock := l.locks.Lock(req.CardID)
	defer unlock()
	return l.authorizeLocked(ctx, req)
}

func (l *Ledger) authorizeLocked(ctx context.Context, req Request) (*Transaction, error) {
	for attempt := 1; ; attempt++ {
		tx, err := l.attempt(ctx, req)
		if !errors.Is(err, errRetry) {
			return tx, err
		}
		if attempt >= l.maxAttempts {
			l.logger.Warn("authorization abandoned after version conflicts",
				"card_id", req.CardID, "attempts", attempt)
			return l.reject(ctx, tx, CodeConcurrentModification)
		}
		l.logger.Debug("version conflict, re-validating", "card_id", req.CardID, "attempt", attempt)
	}
}

func (l *Ledger) attempt(ctx context.Context, req Request) (*Transaction, error) {
	now := l.clock()
	tx := l.newTransaction(req, now)

	c, err := l.store.GetCard(ctx, req.CardID)
	if err != nil {
		if errors.Is(err, ErrCardNotFound) {
			return l.reject(ctx, tx, CodeCardNotFound)
		}
		l.logger.Error("load card", "card_id", req.CardID, "error", err)
		return l.reject(ctx, tx, CodeInternalError)
	}
	tx.BalanceBefore = c.Balance

	// Read after the card so that a refund committed elsewhere since then
	// bumps the version and fails our Apply.
	if req.reverses != nil {
		if err := l.ensureNotRefunded(ctx, req.reverses); err != nil {
			return nil, err
		}
	}

	if req.Amount <= 0 {
		return l.reject(ctx, tx, CodeInvalidAmount)
	}

	expected := c.Version
	if c.ExpireIfDue(now) {
		c.UpdatedAt = now
		if err := l.store.UpdateCard(ctx, c, expected); err != nil {
			if errors.Is(err, ErrVersionConflict) {
				return tx, errRetry
			}
			l.logger.Error("persist card expiry", "card_id", c.ID, "error", err)
			return l.reject(ctx, tx, CodeInternalError)
		}
		l.publishCard(ctx, EventCardExpired, c, now)
	}
	if !c.CanAuthorize() {
		return l.reject(ctx, tx, CodeCardNotActive)
	}

	if req.chargeable() {
		tx.Fee = l.fees.Fee(req.Amount)
	}

	switch tx.Direction {
	case Debit:
		if req.Amount > c.Balance || c.Balance-req.Amount < tx.Fee {
			return l.reject(ctx, tx, CodeInsufficientBalance)
		}
		total := req.Amount + tx.Fee
		if err := l.tracker.TryReserve(&c.Limits, total, now); err != nil {
			if errors.Is(err, limits.ErrMonthlyLimitExceeded) {
				return l.reject(ctx, tx, CodeMonthlyLimitExceeded)
			}
			return l.reject(ctx, tx, CodeDailyLimitExceeded)
		}
		c.Balance -= total
	case Credit:
		if req.Amount > c.MaxBalance-c.Balance {
			return l.reject(ctx, tx, CodeBalanceCapExceeded)
		}
		if req.reverses != nil {
			l.tracker.Release(&c.Limits, req.reverses.Total(), req.reverses.CreatedAt, now)
		} else {
			l.tracker.Reconcile(&c.Limits, now)
		}
		c.Balance += req.Amount
	}

	c.TransactionCount++
	c.UpdatedAt = now
	tx.Status = StatusValidee
	tx.BalanceAfter = c.Balance
	tx.CompletedAt = &now

	if err := l.store.Apply(ctx, c, expected, tx); err != nil {
		if errors.Is(err, ErrVersionConflict) {
			return tx, errRetry
		}
		if errors.Is(err, ErrAlreadyRefunded) {
			return nil, err
		}
		l.logger.Error("commit transaction", "reference", tx.ReferenceInterne, "card_id", c.ID, "error", err)
		return l.reject(ctx, tx, CodeInternalError)
	}

	l.logger.Info("transaction validated",
		"reference", tx.ReferenceInterne,
		"card_id", c.ID,
		"type", tx.Type,
		"amount", tx.Amount,
		"fee", tx.Fee,
		"balance_after", tx.BalanceAfter)
	l.events.Publish(ctx, Event{Type: EventTransactionCompleted, CardID: c.ID, Status: string(tx.Status), Transaction: tx, OccurredAt: now})
	return tx, nil
}

// reject turns tx into an ECHOUEE record and appends it.
func (l *Ledger) reject(ctx context.Context, tx *Transaction, code Code) (*Transaction, error) {
	now := l.clock()
	tx.Status = StatusEchouee
	tx.ErrorCode = code
	tx.BalanceAfter = tx.BalanceBefore
	tx.CompletedAt = &now

	if err := l.store.AppendTransaction(ctx, tx); err != nil {
		l.logger.Error("record failed transaction", "reference", tx.ReferenceInterne, "code", code, "error", err)
		return tx, fmt.Errorf("ledger: record failed transaction %s: %w", tx.ReferenceInterne, err)
	}
	l.logger.Info("transaction rejected",
		"reference", tx.ReferenceInterne,
		"card_id", tx.CardID,
		"type", tx.Type,
		"amount", tx.Amount,
		"code", code)
	l.events.Publish(ctx, Event{Type: EventTransactionFailed, CardID: tx.CardID, Status: string(tx.Status), Reason: string(code), Transaction: tx, OccurredAt: now})
	return tx, nil
}

func (l *Ledger) newTransaction(req Request, now time.Time) *Transaction {
	tx := &Transaction{
		ID:               uuid.NewString(),
		CardID:           req.CardID,
		Type:             req.Type,
		Direction:        req.direction(),
		Amount:           req.Amount,
		Status:           StatusEnCours,
		ReferenceInterne: newReference(now),
		Metadata:         req.Metadata,
		CreatedAt:        now,
	}
	if req.reverses != nil {
		tx.ReversalOf = req.reverses.ID
	}
	return tx
}

func newReference(now time.Time) string {
	id, err := ulid.New(ulid.Timestamp(now), ulid.DefaultEntropy())
	if err != nil {
		id = ulid.Make()
	}
	return "TXN-" + id.String()
}

// PreviewFee returns the fee Authorize would charge for amount on a request
// of type t. It is informational only.
func (l *Ledger) PreviewFee(t TxType, amount int64) int64 {
	if !(Request{Type: t}).chargeable() {
		return 0
	}
	return l.fees.Fee(amount)
}

// Remaining reports the spend headroom left on c right now.
func (l *Ledger) Remaining(c *card.Card) (daily, monthly int64) {
	return l.tracker.Remaining(c.Limits, l.clock())
}

func (l *Ledger) GetTransaction(ctx context.Context, id string) (*Transaction, error) {
	return l.store.GetTransaction(ctx, id)
}

func (l *Ledger) ListTransactions(ctx context.Context, f TransactionFilter) ([]*Transaction, error) {
	return l.store.ListTransactions(ctx, f)
}

func (l *Ledger) publishCard(ctx context.Context, t EventType, c *card.Card, now time.Time) {
	l.logger.Info("card status changed", "event", t, "card_id", c.ID, "status", c.Status)
	l.events.Publish(ctx, Event{Type: t, CardID: c.ID, Status: string(c.Status), Reason: c.BlockReason, OccurredAt: now})
}
