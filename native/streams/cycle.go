package streams

import (
	"fmt"
	"math/big"
)

// Timeline maps wall-clock seconds onto fixed-length settlement cycles and
// converts between per-second and per-cycle amounts. Cycle numbers are
// 1-based so the zero value of a receivable cursor means "never touched".
type Timeline struct {
	cycleSecs uint32
}

// NewTimeline validates the cycle length. A length of one would make the
// per-cycle and per-second domains identical and the accrual bookkeeping
// degenerate, so at least two seconds are required.
func NewTimeline(cycleSecs uint32) (Timeline, error) {
	if cycleSecs <= 1 {
		return Timeline{}, fmt.Errorf("streams: cycle length must exceed one second, got %d", cycleSecs)
	}
	return Timeline{cycleSecs: cycleSecs}, nil
}

// CycleSecs returns the configured cycle length in seconds.
func (t Timeline) CycleSecs() uint32 {
	return t.cycleSecs
}

// CycleOf returns the 1-based cycle containing the timestamp.
func (t Timeline) CycleOf(timestamp uint32) uint32 {
	return timestamp/t.cycleSecs + 1
}

// CycleStart returns the first second of the cycle containing the timestamp.
func (t Timeline) CycleStart(timestamp uint32) uint32 {
	return timestamp - timestamp%t.cycleSecs
}

// StreamedAmt computes the whole token units streamed by a single stream of
// the given fixed-point rate over [start, end). The amount is decomposed per
// settlement cycle (full cycles at the rounded per-cycle amount plus the
// rounded partial amounts at both edges) so that the sender-side drain always
// equals the sum of the receiver-side per-cycle accruals, token for token.
func (t Timeline) StreamedAmt(amtPerSec *big.Int, start, end uint32) *big.Int {
	if amtPerSec == nil || end <= start {
		return big.NewInt(0)
	}
	cs := uint64(t.cycleSecs)
	endedCycles := new(big.Int).SetUint64(uint64(end)/cs - uint64(start)/cs)

	amtPerCycle := new(big.Int).Mul(new(big.Int).SetUint64(cs), amtPerSec)
	amtPerCycle.Quo(amtPerCycle, AmtPerSecMultiplier)

	amt := new(big.Int).Mul(endedCycles, amtPerCycle)

	endPart := new(big.Int).Mul(new(big.Int).SetUint64(uint64(end)%cs), amtPerSec)
	endPart.Quo(endPart, AmtPerSecMultiplier)
	amt.Add(amt, endPart)

	startPart := new(big.Int).Mul(new(big.Int).SetUint64(uint64(start)%cs), amtPerSec)
	startPart.Quo(startPart, AmtPerSecMultiplier)
	amt.Sub(amt, startPart)
	return amt
}
