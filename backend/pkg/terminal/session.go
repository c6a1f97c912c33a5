// Package terminal drives the point-of-sale flow on a single RFID terminal:
// a card is presented, the operator fills in the transaction, and exactly
// one ledger call is made per confirmation.
package terminal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/rfidpay/cardcore/backend/pkg/card"
	"github.com/rfidpay/cardcore/backend/pkg/fee"
	"github.com/rfidpay/cardcore/backend/pkg/ledger"
)

type State string

const (
	StateIdle            State = "idle"
	StateCardDetected    State = "card-detected"
	StateTransactionForm State = "transaction-form"
	StateProcessing      State = "processing"
	StateSuccess         State = "success"
	StateError           State = "error"
)

const DefaultTimeout = 15 * time.Second

var (
	ErrInvalidState     = errors.New("operation not allowed in current terminal state")
	ErrCannotCancel     = errors.New("a transaction in progress cannot be cancelled")
	ErrInvalidAmount    = errors.New("amount must be positive")
	ErrMerchantRequired = errors.New("a merchant must be selected for a purchase")
	ErrUnknownMerchant  = errors.New("unknown merchant")
	ErrUnsupportedType  = errors.New("transaction type not available on a terminal")
)

// Authorizer is the ledger entry point the terminal dispatches to.
type Authorizer interface {
	Authorize(ctx context.Context, req ledger.Request) (*ledger.Transaction, error)
}

// CardLoader fetches the snapshot shown once a card is presented.
type CardLoader interface {
	GetCard(ctx context.Context, id string) (*card.Card, error)
}

// Form is what the operator fills in before confirming.
type Form struct {
	Type        ledger.TxType `json:"type"`
	Amount      int64         `json:"amount"`
	MerchantID  string        `json:"merchant_id,omitempty"`
	Description string        `json:"description,omitempty"`
}

// Snapshot is a read-only view of a session.
type Snapshot struct {
	TerminalID string              `json:"terminal_id"`
	State      State               `json:"state"`
	Card       *card.Card          `json:"card,omitempty"`
	Form       Form                `json:"form"`
	FeePreview int64               `json:"fee_preview"`
	Result     *ledger.Transaction `json:"result,omitempty"`
	ErrorCode  ledger.Code         `json:"error_code,omitempty"`
	Message    string              `json:"message,omitempty"`
}

type Config struct {
	Timeout   time.Duration
	Merchants *Catalog
	Logger    *slog.Logger
}

// Session is one terminal. Its methods are safe for concurrent use, but it
// runs one flow at a time.
type Session struct {
	id        string
	ledger    Authorizer
	cards     CardLoader
	merchants *Catalog
	timeout   time.Duration
	logger    *slog.Logger

	mu      sync.Mutex
	state   State
	flow    uint64
	card    *card.Card
	form    Form
	result  *ledger.Transaction
	code    ledger.Code
	message string
	settled chan struct{}
}

func NewSession(id string, auth Authorizer, cards CardLoader, cfg Config) *Session {
	s := &Session{
		id:        id,
		ledger:    auth,
		cards:     cards,
		merchants: cfg.Merchants,
		timeout:   cfg.Timeout,
		logger:    cfg.Logger,
		state:     StateIdle,
	}
	if s.timeout <= 0 {
		s.timeout = DefaultTimeout
	}
	if s.merchants == nil {
		s.merchants = DefaultCatalog()
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	s.logger = s.logger.With("terminal_id", id)
	return s
}

func (s *Session) ID() string { return s.id }

func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Session) snapshotLocked() Snapshot {
	snap := Snapshot{
		TerminalID: s.id,
		State:      s.state,
		Form:       s.form,
		Result:     s.result,
		ErrorCode:  s.code,
		Message:    s.message,
	}
	if s.card != nil {
		snap.Card = s.card.Clone()
	}
	if s.form.Amount > 0 {
		snap.FeePreview = previewFee(s.form)
	}
	return snap
}

// PresentCard starts a flow for the card read by the terminal and moves to
// transaction-form once the card has been loaded.
func (s *Session) PresentCard(ctx context.Context, cardID string) (Snapshot, error) {
	s.mu.Lock()
	if s.state != StateIdle {
		defer s.mu.Unlock()
		return s.snapshotLocked(), fmt.Errorf("%w: present card while %s", ErrInvalidState, s.state)
	}
	s.state = StateCardDetected
	s.flow++
	flow := s.flow
	s.mu.Unlock()

	c, err := s.cards.GetCard(ctx, cardID)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.flow != flow || s.state != StateCardDetected {
		// cancelled while loading
		return s.snapshotLocked(), nil
	}
	if err != nil {
		s.state = StateError
		s.code = ledger.CodeOf(err)
		s.message = s.code.Message()
		s.logger.Warn("card read failed", "card_id", cardID, "error", err)
		return s.snapshotLocked(), nil
	}
	s.card = c
	s.form = Form{Type: ledger.TypeAchat}
	s.state = StateTransactionForm
	s.logger.Info("card presented", "card_id", c.ID, "status", c.Status)
	return s.snapshotLocked(), nil
}

// UpdateForm replaces the form contents. Amount and merchant are checked on
// Confirm, not here.
func (s *Session) UpdateForm(f Form) (Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateTransactionForm {
		return s.snapshotLocked(), fmt.Errorf("%w: edit form while %s", ErrInvalidState, s.state)
	}
	switch f.Type {
	case ledger.TypeAchat, ledger.TypeRetrait, ledger.TypeRecharge:
	default:
		return s.snapshotLocked(), fmt.Errorf("%w: %q", ErrUnsupportedType, f.Type)
	}
	s.form = f
	return s.snapshotLocked(), nil
}

// Confirm dispatches the form to the ledger. While a dispatch is in flight
// further calls change nothing.
func (s *Session) Confirm() (Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.state {
	case StateProcessing:
		return s.snapshotLocked(), nil
	case StateTransactionForm:
	default:
		return s.snapshotLocked(), fmt.Errorf("%w: confirm while %s", ErrInvalidState, s.state)
	}
	if s.form.Amount <= 0 {
		return s.snapshotLocked(), ErrInvalidAmount
	}
	req := ledger.Request{
		CardID: s.card.ID,
		Type:   s.form.Type,
		Amount: s.form.Amount,
		Metadata: ledger.Metadata{
			TerminalID:  s.id,
			Description: s.form.Description,
		},
	}
	if s.form.Type == ledger.TypeAchat {
		if s.form.MerchantID == "" {
			return s.snapshotLocked(), ErrMerchantRequired
		}
		m, ok := s.merchants.Get(s.form.MerchantID)
		if !ok {
			return s.snapshotLocked(), fmt.Errorf("%w: %s", ErrUnknownMerchant, s.form.MerchantID)
		}
		req.MerchantID = m.ID
		req.MerchantName = m.Name
	}

	s.state = StateProcessing
	s.settled = make(chan struct{})
	go s.dispatch(s.flow, req, s.settled)
	return s.snapshotLocked(), nil
}

type outcome struct {
	tx  *ledger.Transaction
	err error
}

// dispatch makes the single ledger call for a flow. The call itself is not
// cancelled on timeout; its result is dropped instead.
func (s *Session) dispatch(flow uint64, req ledger.Request, settled chan struct{}) {
	done := make(chan outcome, 1)
	go func() {
		tx, err := s.ledger.Authorize(context.Background(), req)
		done <- outcome{tx, err}
	}()

	timer := time.NewTimer(s.timeout)
	defer timer.Stop()

	select {
	case out := <-done:
		s.finish(flow, out)
	case <-timer.C:
		s.expire(flow)
		go func() {
			out := <-done
			attrs := []any{"card_id", req.CardID, "amount", req.Amount, "error", out.err}
			if out.tx != nil {
				attrs = append(attrs, "reference", out.tx.ReferenceInterne, "status", out.tx.Status)
			}
			s.logger.Warn("late ledger outcome discarded", attrs...)
		}()
	}
	close(settled)
}

func (s *Session) finish(flow uint64, out outcome) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.flow != flow || s.state != StateProcessing {
		return
	}
	s.result = out.tx
	switch {
	case out.err != nil && out.tx == nil:
		s.state = StateError
		s.code = ledger.CodeInternalError
		s.logger.Error("authorization failed", "error", out.err)
	case out.tx.Status == ledger.StatusValidee:
		s.state = StateSuccess
		s.code = ""
		s.card.Balance = out.tx.BalanceAfter
	default:
		s.state = StateError
		s.code = out.tx.ErrorCode
	}
	if s.code != "" {
		s.message = s.code.Message()
	}
	s.logger.Info("terminal transaction settled", "state", s.state, "code", s.code)
}

func (s *Session) expire(flow uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.flow != flow || s.state != StateProcessing {
		return
	}
	s.state = StateError
	s.code = ledger.CodeProcessingTimeout
	s.message = s.code.Message()
	s.logger.Warn("ledger call timed out", "timeout", s.timeout)
}

// Await blocks until the current dispatch settles or ctx is done. It returns
// immediately when nothing is processing.
func (s *Session) Await(ctx context.Context) (Snapshot, error) {
	s.mu.Lock()
	settled := s.settled
	processing := s.state == StateProcessing
	s.mu.Unlock()
	if processing && settled != nil {
		select {
		case <-settled:
		case <-ctx.Done():
			return s.Snapshot(), ctx.Err()
		}
	}
	return s.Snapshot(), nil
}

// Cancel abandons the flow before anything was dispatched.
func (s *Session) Cancel() (Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.state {
	case StateIdle, StateCardDetected, StateTransactionForm:
		s.resetLocked()
		return s.snapshotLocked(), nil
	case StateProcessing:
		return s.snapshotLocked(), ErrCannotCancel
	}
	return s.snapshotLocked(), fmt.Errorf("%w: cancel while %s, use reset", ErrInvalidState, s.state)
}

// Reset clears a finished flow.
func (s *Session) Reset() (Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.state {
	case StateSuccess, StateError, StateIdle:
		s.resetLocked()
		return s.snapshotLocked(), nil
	}
	return s.snapshotLocked(), fmt.Errorf("%w: reset while %s", ErrInvalidState, s.state)
}

func (s *Session) resetLocked() {
	s.flow++
	s.state = StateIdle
	s.card = nil
	s.form = Form{}
	s.result = nil
	s.code = ""
	s.message = ""
}

func previewFee(f Form) int64 {
	if f.Type == ledger.TypeRecharge {
		return 0
	}
	return fee.Calculate(f.Amount)
}
