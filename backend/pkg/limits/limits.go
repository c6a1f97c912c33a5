// Package limits tracks rolling daily and monthly spend for a card.
//
// Counters are reconciled lazily: nothing runs at midnight. Every check first
// compares the stored window start with the current window boundary in the
// tracker's location and zeroes the counter when the boundary was crossed.
package limits

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrDailyLimitExceeded   = errors.New("daily limit exceeded")
	ErrMonthlyLimitExceeded = errors.New("monthly limit exceeded")
	ErrInvalidLimits        = errors.New("invalid limits")
	ErrLimitBelowUsage      = errors.New("limit below current usage")
)

// Usage is the limit state persisted with a card.
type Usage struct {
	DailyLimit         int64     `json:"daily_limit"`
	MonthlyLimit       int64     `json:"monthly_limit"`
	DailyUsed          int64     `json:"daily_used"`
	MonthlyUsed        int64     `json:"monthly_used"`
	DailyWindowStart   time.Time `json:"daily_window_start"`
	MonthlyWindowStart time.Time `json:"monthly_window_start"`
}

// Tracker evaluates windows in a fixed location.
type Tracker struct {
	loc *time.Location
}

// NewTracker returns a Tracker for loc. A nil location means UTC.
func NewTracker(loc *time.Location) *Tracker {
	if loc == nil {
		loc = time.UTC
	}
	return &Tracker{loc: loc}
}

func (t *Tracker) Location() *time.Location { return t.loc }

// DayStart returns local midnight of the day containing now.
func (t *Tracker) DayStart(now time.Time) time.Time {
	l := now.In(t.loc)
	return time.Date(l.Year(), l.Month(), l.Day(), 0, 0, 0, 0, t.loc)
}

// MonthStart returns local midnight of the first day of now's month.
func (t *Tracker) MonthStart(now time.Time) time.Time {
	l := now.In(t.loc)
	return time.Date(l.Year(), l.Month(), 1, 0, 0, 0, 0, t.loc)
}

// Reconcile resets any counter whose window boundary has been crossed since
// its stored start. It reports which windows were reset.
func (t *Tracker) Reconcile(u *Usage, now time.Time) (dailyReset, monthlyReset bool) {
	day := t.DayStart(now)
	if u.DailyWindowStart.IsZero() || u.DailyWindowStart.Before(day) {
		u.DailyUsed = 0
		u.DailyWindowStart = day
		dailyReset = true
	}
	month := t.MonthStart(now)
	if u.MonthlyWindowStart.IsZero() || u.MonthlyWindowStart.Before(month) {
		u.MonthlyUsed = 0
		u.MonthlyWindowStart = month
		monthlyReset = true
	}
	return dailyReset, monthlyReset
}

// TryReserve reconciles u and adds amount to both counters when neither
// ceiling would be exceeded. On failure the counters are left reconciled but
// otherwise untouched. The daily ceiling is checked first.
func (t *Tracker) TryReserve(u *Usage, amount int64, now time.Time) error {
	t.Reconcile(u, now)
	if u.DailyUsed+amount > u.DailyLimit {
		return fmt.Errorf("%w: used %d + %d > %d", ErrDailyLimitExceeded, u.DailyUsed, amount, u.DailyLimit)
	}
	if u.MonthlyUsed+amount > u.MonthlyLimit {
		return fmt.Errorf("%w: used %d + %d > %d", ErrMonthlyLimitExceeded, u.MonthlyUsed, amount, u.MonthlyLimit)
	}
	u.DailyUsed += amount
	u.MonthlyUsed += amount
	return nil
}

// Release gives back amount spent at spentAt, for windows that still
// contain spentAt. Counters never go below zero.
func (t *Tracker) Release(u *Usage, amount int64, spentAt, now time.Time) {
	t.Reconcile(u, now)
	if !spentAt.Before(u.DailyWindowStart) {
		u.DailyUsed = max(u.DailyUsed-amount, 0)
	}
	if !spentAt.Before(u.MonthlyWindowStart) {
		u.MonthlyUsed = max(u.MonthlyUsed-amount, 0)
	}
}

// Remaining returns the headroom left in each window as of now without
// modifying u.
func (t *Tracker) Remaining(u Usage, now time.Time) (daily, monthly int64) {
	t.Reconcile(&u, now)
	return max(u.DailyLimit-u.DailyUsed, 0), max(u.MonthlyLimit-u.MonthlyUsed, 0)
}

// SetLimits replaces both ceilings after reconciling. A ceiling lower than
// what has already been spent in the current window is rejected.
func (t *Tracker) SetLimits(u *Usage, daily, monthly int64, now time.Time) error {
	if err := Validate(daily, monthly); err != nil {
		return err
	}
	t.Reconcile(u, now)
	if daily < u.DailyUsed {
		return fmt.Errorf("%w: daily %d < used %d", ErrLimitBelowUsage, daily, u.DailyUsed)
	}
	if monthly < u.MonthlyUsed {
		return fmt.Errorf("%w: monthly %d < used %d", ErrLimitBelowUsage, monthly, u.MonthlyUsed)
	}
	u.DailyLimit = daily
	u.MonthlyLimit = monthly
	return nil
}

// Validate checks a pair of ceilings.
func Validate(daily, monthly int64) error {
	switch {
	case daily <= 0 || monthly <= 0:
		return fmt.Errorf("%w: limits must be positive", ErrInvalidLimits)
	case daily > monthly:
		return fmt.Errorf("%w: daily limit %d exceeds monthly limit %d", ErrInvalidLimits, daily, monthly)
	}
	return nil
}
