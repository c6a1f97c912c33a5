package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/rfidpay/cardcore/backend/pkg/card"
	"github.com/rfidpay/cardcore/backend/pkg/limits"
)

var ErrInvalidCard = errors.New("invalid card request")

// IssueRequest describes a new card. A nil Ceilings uses the defaults for
// Type and a zero ExpirationDate uses the configured validity.
type IssueRequest struct {
	CodeUID        string         `json:"code_uid"`
	NumeroSerie    string         `json:"numero_serie"`
	Type           card.Type      `json:"type"`
	Owner          card.Owner     `json:"owner"`
	ExpirationDate time.Time      `json:"expiration_date"`
	Ceilings       *card.Ceilings `json:"ceilings,omitempty"`
}

// ReplacementRequest carries the new tag for a replacement card.
type ReplacementRequest struct {
	CodeUID     string `json:"code_uid"`
	NumeroSerie string `json:"numero_serie"`
}

// IssueCard creates an INACTIVE card with a zero balance.
func (l *Ledger) IssueCard(ctx context.Context, req IssueRequest) (*card.Card, error) {
	return l.issue(ctx, req, "")
}

func (l *Ledger) issue(ctx context.Context, req IssueRequest, replaces string) (*card.Card, error) {
	if !req.Type.Valid() {
		return nil, fmt.Errorf("%w: %q", card.ErrInvalidType, req.Type)
	}
	if strings.TrimSpace(req.CodeUID) == "" {
		return nil, fmt.Errorf("%w: code_uid is required", ErrInvalidCard)
	}
	if err := req.Owner.Validate(); err != nil {
		return nil, err
	}
	ceil, ok := l.ceilings[req.Type]
	if req.Ceilings != nil {
		ceil, ok = *req.Ceilings, true
	}
	if !ok {
		return nil, fmt.Errorf("%w: no ceilings configured for %s", ErrInvalidCard, req.Type)
	}
	if err := limits.Validate(ceil.DailyLimit, ceil.MonthlyLimit); err != nil {
		return nil, err
	}
	if ceil.MaxBalance <= 0 {
		return nil, fmt.Errorf("%w: max_balance must be positive", ErrInvalidCard)
	}

	now := l.clock()
	c := &card.Card{
		ID:          uuid.NewString(),
		CodeUID:     req.CodeUID,
		NumeroSerie: req.NumeroSerie,
		Type:        req.Type,
		MaxBalance:  ceil.MaxBalance,
		Limits: limits.Usage{
			DailyLimit:   ceil.DailyLimit,
			MonthlyLimit: ceil.MonthlyLimit,
		},
		Status:         card.StatusInactive,
		Owner:          req.Owner,
		ExpirationDate: req.ExpirationDate,
		Version:        1,
		ReplacesCardID: replaces,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if c.NumeroSerie == "" {
		c.NumeroSerie = "SN-" + strings.ToUpper(strings.ReplaceAll(c.ID, "-", "")[:12])
	}
	if c.ExpirationDate.IsZero() {
		c.ExpirationDate = now.Add(l.validity)
	}
	if !c.ExpirationDate.After(now) {
		return nil, fmt.Errorf("%w: expiration date is in the past", ErrInvalidCard)
	}
	l.tracker.Reconcile(&c.Limits, now)

	if err := l.store.CreateCard(ctx, c); err != nil {
		return nil, err
	}
	l.publishCard(ctx, EventCardIssued, c, now)
	return c, nil
}

// GetCard returns the card as of now. A card past its expiration date is
// reported as EXPIREE even before the transition has been written.
func (l *Ledger) GetCard(ctx context.Context, id string) (*card.Card, error) {
	var err error
	for attempt := 1; attempt <= l.maxAttempts; attempt++ {
		var c *card.Card
		c, err = l.store.GetCard(ctx, id)
		if err == nil {
			c.ExpireIfDue(l.clock())
			return c, nil
		}
		if errors.Is(err, ErrCardNotFound) {
			return nil, err
		}
		l.logger.Warn("get card failed", "card_id", id, "attempt", attempt, "error", err)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(time.Duration(attempt) * readBackoff):
		}
	}
	return nil, err
}

// cardOp mutates c and names the event to publish, if any.
type cardOp func(c *card.Card, now time.Time) (EventType, error)

// mutate runs op on a fresh copy of the card and writes it back under the
// version guard, re-reading on conflict.
func (l *Ledger) mutate(ctx context.Context, id string, op cardOp) (*card.Card, error) {
	unlock := l.locks.Lock(id)
	defer unlock()

	for attempt := 1; attempt <= l.maxAttempts; attempt++ {
		c, err := l.store.GetCard(ctx, id)
		if err != nil {
			return nil, err
		}
		now := l.clock()
		expected := c.Version

		if c.ExpireIfDue(now) {
			c.UpdatedAt = now
			if err := l.store.UpdateCard(ctx, c, expected); err != nil {
				if errors.Is(err, ErrVersionConflict) {
					continue
				}
				return nil, err
			}
			l.publishCard(ctx, EventCardExpired, c, now)
			return nil, fmt.Errorf("%w: card expired on %s", card.ErrInvalidTransition, c.ExpirationDate.Format(time.DateOnly))
		}

		ev, err := op(c, now)
		if err != nil {
			return nil, err
		}
		c.UpdatedAt = now
		if err := l.store.UpdateCard(ctx, c, expected); err != nil {
			if errors.Is(err, ErrVersionConflict) {
				l.logger.Debug("version conflict on card update", "card_id", id, "attempt", attempt)
				continue
			}
			return nil, err
		}
		if ev != "" {
			l.publishCard(ctx, ev, c, now)
		}
		return c, nil
	}
	return nil, ErrConcurrentModification
}

func (l *Ledger) AssignOwner(ctx context.Context, id string, o card.Owner) (*card.Card, error) {
	return l.mutate(ctx, id, func(c *card.Card, _ time.Time) (EventType, error) {
		return "", c.AssignOwner(o)
	})
}

// ActivateCard checks the owner with the OwnerResolver and moves the card
// from INACTIVE to ACTIVE.
func (l *Ledger) ActivateCard(ctx context.Context, id string) (*card.Card, error) {
	return l.mutate(ctx, id, func(c *card.Card, _ time.Time) (EventType, error) {
		if c.Owner.Assigned() {
			ok, err := l.owners.HasOwner(ctx, c.Owner)
			if err != nil {
				return "", fmt.Errorf("resolve owner %s: %w", c.Owner, err)
			}
			if !ok {
				return "", fmt.Errorf("%w: %s is unknown", card.ErrNoOwner, c.Owner)
			}
		}
		return EventCardActivated, c.Activate()
	})
}

func (l *Ledger) BlockCard(ctx context.Context, id, reason string) (*card.Card, error) {
	return l.mutate(ctx, id, func(c *card.Card, _ time.Time) (EventType, error) {
		return EventCardBlocked, c.Block(reason)
	})
}

func (l *Ledger) UnblockCard(ctx context.Context, id string) (*card.Card, error) {
	return l.mutate(ctx, id, func(c *card.Card, _ time.Time) (EventType, error) {
		return EventCardUnblocked, c.Unblock()
	})
}

// ReportLostOrStolen moves the card to PERDUE or VOLEE for good.
func (l *Ledger) ReportLostOrStolen(ctx context.Context, id string, kind card.Status, circumstances string) (*card.Card, error) {
	return l.mutate(ctx, id, func(c *card.Card, _ time.Time) (EventType, error) {
		return EventCardReported, c.Report(kind, circumstances)
	})
}

// ResetPIN stores a new PIN. An ACTIVE card is suspended until the holder
// reactivates it with the new PIN; an INACTIVE card keeps its status.
func (l *Ledger) ResetPIN(ctx context.Context, id, pin string) (*card.Card, error) {
	return l.mutate(ctx, id, func(c *card.Card, _ time.Time) (EventType, error) {
		switch c.Status {
		case card.StatusActive, card.StatusInactive:
		default:
			return "", fmt.Errorf("%w: cannot reset PIN while %s", card.ErrInvalidTransition, c.Status)
		}
		if err := c.SetPIN(pin); err != nil {
			return "", err
		}
		if c.Status == card.StatusInactive {
			return "", nil
		}
		return EventCardSuspended, c.Suspend()
	})
}

func (l *Ledger) ReactivateCard(ctx context.Context, id, pin string) (*card.Card, error) {
	return l.mutate(ctx, id, func(c *card.Card, _ time.Time) (EventType, error) {
		if c.Status != card.StatusSuspendue {
			return "", fmt.Errorf("%w: %s -> %s", card.ErrInvalidTransition, c.Status, card.StatusActive)
		}
		if err := c.VerifyPIN(pin); err != nil {
			return "", err
		}
		return EventCardReactivated, c.Reactivate()
	})
}

// UpdateLimits replaces the card's ceilings with immediate effect.
func (l *Ledger) UpdateLimits(ctx context.Context, id string, daily, monthly int64) (*card.Card, error) {
	return l.mutate(ctx, id, func(c *card.Card, now time.Time) (EventType, error) {
		if c.Status.Terminal() {
			return "", fmt.Errorf("%w: card is %s", card.ErrInvalidTransition, c.Status)
		}
		return EventLimitsUpdated, l.tracker.SetLimits(&c.Limits, daily, monthly, now)
	})
}

// IssueReplacement issues a new INACTIVE card for the owner of a lost or
// stolen one, with the same type and ceilings. The old balance stays on the
// old card. A card is replaced at most once.
func (l *Ledger) IssueReplacement(ctx context.Context, lostID string, r ReplacementRequest) (*card.Card, error) {
	lost, err := l.store.GetCard(ctx, lostID)
	if err != nil {
		return nil, err
	}
	if lost.Status != card.StatusPerdue && lost.Status != card.StatusVolee {
		return nil, fmt.Errorf("%w: card %s is %s", ErrNotReplaceable, lost.ID, lost.Status)
	}
	return l.issue(ctx, IssueRequest{
		CodeUID:     r.CodeUID,
		NumeroSerie: r.NumeroSerie,
		Type:        lost.Type,
		Owner:       lost.Owner,
		Ceilings: &card.Ceilings{
			DailyLimit:   lost.Limits.DailyLimit,
			MonthlyLimit: lost.Limits.MonthlyLimit,
			MaxBalance:   lost.MaxBalance,
		},
	}, lost.ID)
}
