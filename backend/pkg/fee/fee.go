// Package fee computes the tiered service fee charged on card debits.
//
// The same function backs the client-side preview and the ledger, so a
// preview always matches what the ledger will charge for the same amount.
package fee

import "github.com/shopspring/decimal"

// Tier applies Rate to amounts strictly greater than Above.
type Tier struct {
	Above int64
	Rate  decimal.Decimal
}

// Schedule is an ascending list of tiers. The last tier whose threshold the
// amount exceeds wins; amounts below every threshold are free.
type Schedule []Tier

// Default is the platform fee schedule:
//
//	amount <= 10 000           -> 0
//	10 000 < amount <= 50 000  -> ceil(amount * 1%)
//	amount > 50 000            -> ceil(amount * 0.5%)
var Default = Schedule{
	{Above: 10_000, Rate: decimal.RequireFromString("0.01")},
	{Above: 50_000, Rate: decimal.RequireFromString("0.005")},
}

// Fee returns the fee for amount, rounded up to the next minor unit.
func (s Schedule) Fee(amount int64) int64 {
	if amount <= 0 {
		return 0
	}
	var (
		rate    decimal.Decimal
		matched bool
	)
	for _, t := range s {
		if amount > t.Above {
			rate = t.Rate
			matched = true
		}
	}
	if !matched {
		return 0
	}
	return decimal.NewFromInt(amount).Mul(rate).Ceil().IntPart()
}

// Calculate returns the Default schedule's fee for amount.
func Calculate(amount int64) int64 {
	return Default.Fee(amount)
}
