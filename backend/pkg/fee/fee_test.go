package fee

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestCalculateBoundaries(t *testing.T) {
	tests := []struct {
		amount int64
		want   int64
	}{
		{0, 0},
		{-500, 0},
		{1, 0},
		{10_000, 0},
		{10_001, 101},
		{25_000, 250},
		{49_999, 500},
		{50_000, 500},
		{50_001, 251},
		{100_000, 500},
		{123_457, 618},
	}
	for _, tt := range tests {
		if got := Calculate(tt.amount); got != tt.want {
			t.Errorf("Calculate(%d) = %d, want %d", tt.amount, got, tt.want)
		}
	}
}

func TestScheduleCustomTiers(t *testing.T) {
	s := Schedule{{Above: 0, Rate: decimal.RequireFromString("0.02")}}
	if got := s.Fee(150); got != 3 {
		t.Fatalf("Fee(150) = %d, want 3", got)
	}
	if got := (Schedule{}).Fee(1_000_000); got != 0 {
		t.Fatalf("empty schedule fee = %d, want 0", got)
	}
}
