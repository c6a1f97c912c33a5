// Package card holds the prepaid card model and its lifecycle state machine.
//
// Methods here only change the in-memory value. Persisting a transition is
// the ledger's job, which guards every write with the card's version.
package card

import (
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/rfidpay/cardcore/backend/pkg/limits"
)

type Type string

const (
	TypeStandard   Type = "STANDARD"
	TypePremium    Type = "PREMIUM"
	TypeEntreprise Type = "ENTREPRISE"
)

func (t Type) Valid() bool {
	switch t {
	case TypeStandard, TypePremium, TypeEntreprise:
		return true
	}
	return false
}

type Status string

const (
	StatusInactive  Status = "INACTIVE"
	StatusActive    Status = "ACTIVE"
	StatusBloquee   Status = "BLOQUEE"
	StatusExpiree   Status = "EXPIREE"
	StatusPerdue    Status = "PERDUE"
	StatusVolee     Status = "VOLEE"
	StatusSuspendue Status = "SUSPENDUE"
)

// Terminal reports whether no transition can leave s.
func (s Status) Terminal() bool {
	return s == StatusExpiree || s == StatusPerdue || s == StatusVolee
}

var (
	ErrInvalidTransition = errors.New("invalid card status transition")
	ErrNoOwner           = errors.New("card has no owner")
	ErrReasonRequired    = errors.New("a reason is required")
	ErrInvalidLossKind   = errors.New("loss kind must be PERDUE or VOLEE")
	ErrInvalidType       = errors.New("invalid card type")
)

// transitions lists the explicit moves. Expiry is handled by ExpireIfDue.
var transitions = map[Status][]Status{
	StatusInactive:  {StatusActive},
	StatusActive:    {StatusBloquee, StatusPerdue, StatusVolee, StatusSuspendue},
	StatusBloquee:   {StatusActive, StatusPerdue, StatusVolee},
	StatusSuspendue: {StatusActive},
}

// Card is an RFID prepaid card. Amounts are in minor currency units.
type Card struct {
	ID               string       `json:"id"`
	CodeUID          string       `json:"code_uid"`
	NumeroSerie      string       `json:"numero_serie"`
	Type             Type         `json:"type"`
	Balance          int64        `json:"balance"`
	MaxBalance       int64        `json:"max_balance"`
	Limits           limits.Usage `json:"limits"`
	Status           Status       `json:"status"`
	BlockReason      string       `json:"block_reason,omitempty"`
	Owner            Owner        `json:"owner"`
	ExpirationDate   time.Time    `json:"expiration_date"`
	TransactionCount int64        `json:"transaction_count"`
	Version          int64        `json:"version"`
	PINHash          string       `json:"-"`
	ReplacesCardID   string       `json:"replaces_card_id,omitempty"`
	CreatedAt        time.Time    `json:"created_at"`
	UpdatedAt        time.Time    `json:"updated_at"`
}

// Clone returns an independent copy.
func (c *Card) Clone() *Card {
	cp := *c
	return &cp
}

// CanAuthorize reports whether the card may take part in a money movement.
func (c *Card) CanAuthorize() bool {
	return c.Status == StatusActive
}

func (c *Card) transition(to Status) error {
	if !slices.Contains(transitions[c.Status], to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, c.Status, to)
	}
	c.Status = to
	return nil
}

// AssignOwner sets the owner of a card that has not been activated yet.
func (c *Card) AssignOwner(o Owner) error {
	if c.Status != StatusInactive {
		return fmt.Errorf("%w: owner can only change while %s, card is %s", ErrInvalidTransition, StatusInactive, c.Status)
	}
	if err := o.Validate(); err != nil {
		return err
	}
	c.Owner = o
	return nil
}

// Activate moves an INACTIVE card with an owner to ACTIVE.
func (c *Card) Activate() error {
	if c.Status == StatusInactive && !c.Owner.Assigned() {
		return ErrNoOwner
	}
	if c.Status != StatusInactive {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, c.Status, StatusActive)
	}
	return c.transition(StatusActive)
}

func (c *Card) Block(reason string) error {
	if reason == "" {
		return ErrReasonRequired
	}
	if c.Status != StatusActive {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, c.Status, StatusBloquee)
	}
	if err := c.transition(StatusBloquee); err != nil {
		return err
	}
	c.BlockReason = reason
	return nil
}

func (c *Card) Unblock() error {
	if c.Status != StatusBloquee {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, c.Status, StatusActive)
	}
	if err := c.transition(StatusActive); err != nil {
		return err
	}
	c.BlockReason = ""
	return nil
}

// Report records a loss or theft. The card can never be used again.
func (c *Card) Report(kind Status, circumstances string) error {
	if kind != StatusPerdue && kind != StatusVolee {
		return ErrInvalidLossKind
	}
	if circumstances == "" {
		return ErrReasonRequired
	}
	if err := c.transition(kind); err != nil {
		return err
	}
	c.BlockReason = circumstances
	return nil
}

func (c *Card) Suspend() error {
	if c.Status != StatusActive {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, c.Status, StatusSuspendue)
	}
	return c.transition(StatusSuspendue)
}

func (c *Card) Reactivate() error {
	if c.Status != StatusSuspendue {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, c.Status, StatusActive)
	}
	return c.transition(StatusActive)
}

// ExpireIfDue moves any non-terminal card past its expiration date to
// EXPIREE and reports whether it did.
func (c *Card) ExpireIfDue(now time.Time) bool {
	if c.Status.Terminal() || c.ExpirationDate.IsZero() || !now.After(c.ExpirationDate) {
		return false
	}
	c.Status = StatusExpiree
	return true
}
