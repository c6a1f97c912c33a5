// Package stats derives day-over-day dashboard figures from the transaction
// journal. It only reads.
package stats

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/rfidpay/cardcore/backend/pkg/ledger"
)

// TransactionLister is the read side of the journal.
type TransactionLister interface {
	ListTransactions(ctx context.Context, f ledger.TransactionFilter) ([]*ledger.Transaction, error)
}

// Summary aggregates one day. Volume and fees count VALIDEE transactions
// only; ActiveCards counts distinct cards with at least one of them.
type Summary struct {
	Date          string                  `json:"date"`
	Count         int64                   `json:"count"`
	Validated     int64                   `json:"validated"`
	Failed        int64                   `json:"failed"`
	Volume        int64                   `json:"volume"`
	Fees          int64                   `json:"fees"`
	SuccessRate   float64                 `json:"success_rate"`
	AverageTicket int64                   `json:"average_ticket"`
	ActiveCards   int64                   `json:"active_cards"`
	ByType        map[ledger.TxType]int64 `json:"by_type"`
	FailuresBy    map[ledger.Code]int64   `json:"failures_by_code"`
}

// Delta holds percentage changes from the previous day.
type Delta struct {
	Count       float64 `json:"count"`
	Volume      float64 `json:"volume"`
	Fees        float64 `json:"fees"`
	Failed      float64 `json:"failed"`
	ActiveCards float64 `json:"active_cards"`
	SuccessRate float64 `json:"success_rate_points"`
}

type Report struct {
	Today     Summary `json:"today"`
	Yesterday Summary `json:"yesterday"`
	Delta     Delta   `json:"delta"`
}

type Reporter struct {
	txs TransactionLister
	loc *time.Location
}

func NewReporter(txs TransactionLister, loc *time.Location) *Reporter {
	if loc == nil {
		loc = time.UTC
	}
	return &Reporter{txs: txs, loc: loc}
}

// Daily reports on the calendar day containing day, in the reporter's
// location, against the day before it.
func (r *Reporter) Daily(ctx context.Context, day time.Time) (*Report, error) {
	d := day.In(r.loc)
	start := time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, r.loc)
	prevStart := start.AddDate(0, 0, -1)
	end := start.AddDate(0, 0, 1)

	today, err := r.summarize(ctx, start, end)
	if err != nil {
		return nil, err
	}
	yesterday, err := r.summarize(ctx, prevStart, start)
	if err != nil {
		return nil, err
	}
	return &Report{
		Today:     *today,
		Yesterday: *yesterday,
		Delta: Delta{
			Count:       PercentChange(yesterday.Count, today.Count),
			Volume:      PercentChange(yesterday.Volume, today.Volume),
			Fees:        PercentChange(yesterday.Fees, today.Fees),
			Failed:      PercentChange(yesterday.Failed, today.Failed),
			ActiveCards: PercentChange(yesterday.ActiveCards, today.ActiveCards),
			SuccessRate: round2(today.SuccessRate - yesterday.SuccessRate),
		},
	}, nil
}

func (r *Reporter) summarize(ctx context.Context, from, to time.Time) (*Summary, error) {
	txs, err := r.txs.ListTransactions(ctx, ledger.TransactionFilter{From: from, To: to})
	if err != nil {
		return nil, fmt.Errorf("list transactions %s: %w", from.Format(time.DateOnly), err)
	}
	s := &Summary{
		Date:       from.Format(time.DateOnly),
		ByType:     make(map[ledger.TxType]int64),
		FailuresBy: make(map[ledger.Code]int64),
	}
	cards := make(map[string]struct{})
	for _, tx := range txs {
		s.Count++
		switch tx.Status {
		case ledger.StatusValidee:
			s.Validated++
			s.Volume += tx.Amount
			s.Fees += tx.Fee
			s.ByType[tx.Type] += tx.Amount
			cards[tx.CardID] = struct{}{}
		case ledger.StatusEchouee:
			s.Failed++
			s.FailuresBy[tx.ErrorCode]++
		}
	}
	s.ActiveCards = int64(len(cards))
	if s.Count > 0 {
		s.SuccessRate = round2(float64(s.Validated) * 100 / float64(s.Count))
	}
	if s.Validated > 0 {
		s.AverageTicket = s.Volume / s.Validated
	}
	return s, nil
}

// PercentChange returns the change from prev to cur in percent, rounded to
// two decimals. Growth from zero is reported as 100.
func PercentChange(prev, cur int64) float64 {
	if prev == 0 {
		if cur == 0 {
			return 0
		}
		return 100
	}
	return round2(float64(cur-prev) * 100 / float64(prev))
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
