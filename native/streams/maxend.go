package streams

import "math/big"

// activeStream is a receiver's stream reduced to its funded window and rate.
type activeStream struct {
	amtPerSec *big.Int
	start     uint32
	end       uint32
}

// streamRange resolves the window a stream is active in. A zero config start
// means the stream begins at the update time; a zero duration means it runs
// until maxEnd. The result is clamped to [startCap, endCap] and never
// inverted.
func streamRange(recv StreamReceiver, updateTime, maxEnd, startCap, endCap uint32) (uint32, uint32) {
	start := recv.Config.Start
	if start == 0 {
		start = updateTime
	}
	end := uint64(maxEnd)
	if recv.Config.Duration != 0 {
		end = uint64(start) + uint64(recv.Config.Duration)
		if end > uint64(maxEnd) {
			end = uint64(maxEnd)
		}
	}
	if start < startCap {
		start = startCap
	}
	if end > uint64(endCap) {
		end = uint64(endCap)
	}
	if end < uint64(start) {
		end = uint64(start)
	}
	return start, uint32(end)
}

// CalcMaxEnd computes the latest timestamp at which the balance still covers
// every configured stream, honouring per-stream start and duration windows.
// The rate is piecewise constant over time, so the spent amount is summed per
// stream over the overlap of its window with [now, candidate).
//
// Up to two hint timestamps may be supplied; valid hints tighten the binary
// search bracket and invalid ones are ignored. The result depends only on
// (balance, receivers, now), never on the hints.
func (t Timeline) CalcMaxEnd(balance *big.Int, receivers []StreamReceiver, now uint32, hints []uint32) uint32 {
	active := make([]activeStream, 0, len(receivers))
	for _, recv := range receivers {
		start, end := streamRange(recv, now, maxTimestamp, now, maxTimestamp)
		if start == end {
			continue
		}
		active = append(active, activeStream{amtPerSec: recv.Config.AmtPerSec, start: start, end: end})
	}
	if len(active) == 0 {
		return maxTimestamp
	}
	if t.isBalanceEnough(balance, active, maxTimestamp) {
		return maxTimestamp
	}
	// Invariant: the balance lasts through lo but not through hi.
	lo, hi := now, maxTimestamp
	if len(hints) > 2 {
		hints = hints[:2]
	}
	for _, hint := range hints {
		if hint <= lo || hint >= hi {
			continue
		}
		if t.isBalanceEnough(balance, active, hint) {
			lo = hint
		} else {
			hi = hint
		}
	}
	for hi-lo > 1 {
		mid := lo + (hi-lo)/2
		if t.isBalanceEnough(balance, active, mid) {
			lo = mid
		} else {
			hi = mid
		}
	}
	return lo
}

func (t Timeline) isBalanceEnough(balance *big.Int, active []activeStream, end uint32) bool {
	spent := new(big.Int)
	for _, s := range active {
		streamEnd := s.end
		if streamEnd > end {
			streamEnd = end
		}
		if streamEnd <= s.start {
			continue
		}
		spent.Add(spent, t.StreamedAmt(s.amtPerSec, s.start, streamEnd))
		if spent.Cmp(balance) > 0 {
			return false
		}
	}
	return true
}
