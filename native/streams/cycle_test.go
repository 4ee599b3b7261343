package streams

import (
	"math/big"
	"testing"
)

func TestNewTimelineRejectsDegenerateCycles(t *testing.T) {
	for _, cs := range []uint32{0, 1} {
		if _, err := NewTimeline(cs); err == nil {
			t.Fatalf("expected error for cycle length %d", cs)
		}
	}
	if _, err := NewTimeline(2); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestCycleNumbersAreOneBased(t *testing.T) {
	tl, err := NewTimeline(100)
	if err != nil {
		t.Fatalf("new timeline: %v", err)
	}
	cases := []struct {
		ts   uint32
		want uint32
	}{
		{0, 1},
		{99, 1},
		{100, 2},
		{250, 3},
	}
	for _, tc := range cases {
		if got := tl.CycleOf(tc.ts); got != tc.want {
			t.Fatalf("CycleOf(%d) = %d, want %d", tc.ts, got, tc.want)
		}
	}
	if got := tl.CycleStart(250); got != 200 {
		t.Fatalf("CycleStart(250) = %d, want 200", got)
	}
	if got := tl.CycleStart(200); got != 200 {
		t.Fatalf("CycleStart(200) = %d, want 200", got)
	}
}

func TestStreamedAmtIntegerRateIsExact(t *testing.T) {
	tl, _ := NewTimeline(10)
	rate := new(big.Int).Mul(big.NewInt(3), AmtPerSecMultiplier)
	got := tl.StreamedAmt(rate, 7, 42)
	if got.Cmp(big.NewInt(35*3)) != 0 {
		t.Fatalf("StreamedAmt = %s, want %d", got, 35*3)
	}
}

func TestStreamedAmtTruncatesPerCycle(t *testing.T) {
	tl, _ := NewTimeline(10)
	// 1.5 units per second.
	rate := big.NewInt(1_500_000_000)
	cases := []struct {
		start, end uint32
		want       int64
	}{
		{0, 0, 0},
		{0, 1, 1},
		{0, 3, 4},
		{1, 3, 3},
		{0, 10, 15},
		{5, 15, 15}, // 7 within the first cycle, 7 within the second, plus 15-7-7
	}
	for _, tc := range cases {
		if got := tl.StreamedAmt(rate, tc.start, tc.end); got.Cmp(big.NewInt(tc.want)) != 0 {
			t.Fatalf("StreamedAmt(%d, %d) = %s, want %d", tc.start, tc.end, got, tc.want)
		}
	}
}

func TestStreamedAmtSplitsAtCycleBoundary(t *testing.T) {
	tl, _ := NewTimeline(10)
	rate := big.NewInt(1_234_567_891)
	for _, window := range [][2]uint32{{0, 20}, {3, 27}, {10, 30}} {
		whole := tl.StreamedAmt(rate, window[0], window[1])
		sum := big.NewInt(0)
		for start := window[0]; start < window[1]; {
			end := tl.CycleStart(start) + tl.CycleSecs()
			if end > window[1] {
				end = window[1]
			}
			sum.Add(sum, tl.StreamedAmt(rate, start, end))
			start = end
		}
		if whole.Cmp(sum) != 0 {
			t.Fatalf("window [%d, %d): whole %s != per-cycle sum %s", window[0], window[1], whole, sum)
		}
	}
}

func TestStreamedAmtReversedRangeIsZero(t *testing.T) {
	tl, _ := NewTimeline(10)
	if got := tl.StreamedAmt(big.NewInt(1_000_000_000), 20, 10); got.Sign() != 0 {
		t.Fatalf("StreamedAmt over reversed range = %s, want 0", got)
	}
}
