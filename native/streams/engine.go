package streams

import (
	"errors"
	"fmt"
	"math/big"
	"time"

	"dripsledger/core/events"
	"dripsledger/core/types"
)

var (
	errNilState = errors.New("streams engine: state not configured")

	// ErrInvalidCurrentReceivers signals that the presented receiver list does
	// not hash to the stored commitment for the account and token.
	ErrInvalidCurrentReceivers = errors.New("streams: current receivers do not match stored hash")
	// ErrInvalidReceiverList signals a malformed new receiver list.
	ErrInvalidReceiverList = errors.New("streams: invalid receiver list")
	// ErrBalanceTooLarge signals that a streamable balance would exceed the
	// 2^127-1 cap protecting the per-cycle accumulators.
	ErrBalanceTooLarge = errors.New("streams: balance exceeds maximum")
	// ErrTimestampBeforeLastUpdate signals a balance query predating the last
	// configuration change, for which no closed form exists.
	ErrTimestampBeforeLastUpdate = errors.New("streams: timestamp precedes last update")
)

// ledgerState is the subset of state-manager functionality the streams engine
// mutates. Deltas and the squeeze cursor are keyed on the receiving account.
type ledgerState interface {
	StreamsGet(account types.AccountID, token types.TokenID) (*AccountStreams, bool, error)
	StreamsPut(account types.AccountID, token types.TokenID, entry *AccountStreams) error
	DeltaGet(account types.AccountID, token types.TokenID, cycle uint32) (*AmtDelta, bool, error)
	DeltaPut(account types.AccountID, token types.TokenID, cycle uint32, delta *AmtDelta) error
	DeltaDelete(account types.AccountID, token types.TokenID, cycle uint32) error
	SqueezeCursorGet(account types.AccountID, token types.TokenID, sender types.AccountID) (uint32, error)
	SqueezeCursorPut(account types.AccountID, token types.TokenID, sender types.AccountID, timestamp uint32) error
}

// Engine implements the streaming ledger: per-second drains from sender
// balances, cycle-bucketed accrual toward receivers and the solver that keeps
// both sides exact. All mutations are driven by callers; nothing ticks in the
// background.
type Engine struct {
	state    ledgerState
	timeline Timeline
	emitter  events.Emitter
	nowFn    func() int64
}

// NewEngine creates a streams engine settling on cycles of the given length.
func NewEngine(cycleSecs uint32) (*Engine, error) {
	timeline, err := NewTimeline(cycleSecs)
	if err != nil {
		return nil, err
	}
	return &Engine{
		timeline: timeline,
		emitter:  events.NoopEmitter{},
		nowFn:    func() int64 { return time.Now().Unix() },
	}, nil
}

// SetState configures the state backend used by the engine.
func (e *Engine) SetState(state ledgerState) { e.state = state }

// SetEmitter configures the event emitter. Passing nil resets to a no-op.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// SetNowFunc overrides the time source, primarily for deterministic tests.
func (e *Engine) SetNowFunc(now func() int64) {
	if now == nil {
		e.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	e.nowFn = now
}

// Timeline exposes the engine's cycle model.
func (e *Engine) Timeline() Timeline { return e.timeline }

func (e *Engine) emit(evt *types.Event) {
	if e == nil || e.emitter == nil || evt == nil {
		return
	}
	e.emitter.Emit(streamsEvent{evt: evt})
}

func (e *Engine) now() uint32 {
	if e == nil || e.nowFn == nil {
		return uint32(time.Now().Unix())
	}
	now := e.nowFn()
	if now < 0 {
		return 0
	}
	if now > int64(maxTimestamp) {
		return maxTimestamp
	}
	return uint32(now)
}

func cloneBigInt(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}

func (e *Engine) loadStreams(account types.AccountID, token types.TokenID) (*AccountStreams, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	entry, ok, err := e.state.StreamsGet(account, token)
	if err != nil {
		return nil, err
	}
	if !ok {
		entry = nil
	}
	return ensureAccountStreams(entry), nil
}

// SetStreams applies a configuration change for the sending side of one
// (account, token) pair: it settles the closed-form drain since the last
// update, applies the balance delta (clamped to withdraw-all when
// over-withdrawing), recomputes the funding horizon for the new receiver list
// and posts compensating per-cycle deltas for every receiver whose schedule
// changes. The returned value is the balance delta actually applied.
func (e *Engine) SetStreams(account types.AccountID, token types.TokenID, currReceivers []StreamReceiver, balanceDelta *big.Int, newReceivers []StreamReceiver, hints []uint32) (*big.Int, error) {
	entry, err := e.loadStreams(account, token)
	if err != nil {
		return nil, err
	}
	if HashReceivers(currReceivers) != entry.ReceiversHash {
		return nil, ErrInvalidCurrentReceivers
	}
	now := e.now()
	lastBalance, err := e.balanceAt(entry, currReceivers, now)
	if err != nil {
		return nil, err
	}
	realDelta := cloneBigInt(balanceDelta)
	newBalance := new(big.Int).Add(lastBalance, realDelta)
	if newBalance.Sign() < 0 {
		realDelta = new(big.Int).Neg(lastBalance)
		newBalance = big.NewInt(0)
	}
	if newBalance.Cmp(MaxStreamsBalance) > 0 {
		return nil, ErrBalanceTooLarge
	}
	if err := ValidateReceivers(newReceivers); err != nil {
		return nil, err
	}
	newMaxEnd := e.timeline.CalcMaxEnd(newBalance, newReceivers, now, hints)
	if err := e.updateReceiverStates(token, currReceivers, entry.LastUpdate, entry.MaxEnd, newReceivers, newMaxEnd, now); err != nil {
		return nil, err
	}
	// Reload: posting deltas may have initialised this account's own
	// receivable cursor when it streams to itself.
	entry, err = e.loadStreams(account, token)
	if err != nil {
		return nil, err
	}
	updated := entry.Clone()
	updated.Balance = newBalance
	updated.LastUpdate = now
	updated.MaxEnd = newMaxEnd
	updated.ReceiversHash = HashReceivers(newReceivers)
	if err := e.state.StreamsPut(account, token, updated); err != nil {
		return nil, err
	}
	e.emit(NewStreamsSetEvent(account, token, updated, newReceivers, realDelta))
	return realDelta, nil
}

// BalanceAt reports the not-yet-streamed balance of (account, token) at the
// given timestamp, which must not precede the last update. The caller must
// present the current receiver list; it is verified against the stored hash.
func (e *Engine) BalanceAt(account types.AccountID, token types.TokenID, receivers []StreamReceiver, timestamp uint32) (*big.Int, error) {
	entry, err := e.loadStreams(account, token)
	if err != nil {
		return nil, err
	}
	if HashReceivers(receivers) != entry.ReceiversHash {
		return nil, ErrInvalidCurrentReceivers
	}
	return e.balanceAt(entry, receivers, timestamp)
}

func (e *Engine) balanceAt(entry *AccountStreams, receivers []StreamReceiver, timestamp uint32) (*big.Int, error) {
	if timestamp < entry.LastUpdate {
		return nil, ErrTimestampBeforeLastUpdate
	}
	balance := cloneBigInt(entry.Balance)
	for _, recv := range receivers {
		start, end := streamRange(recv, entry.LastUpdate, entry.MaxEnd, entry.LastUpdate, timestamp)
		balance.Sub(balance, e.timeline.StreamedAmt(recv.Config.AmtPerSec, start, end))
	}
	if balance.Sign() < 0 {
		return nil, fmt.Errorf("streams: balance underflow for update at %d", entry.LastUpdate)
	}
	return balance, nil
}

// updateReceiverStates walks the sorted current and new receiver lists in
// lockstep and posts per-cycle deltas only for the parts of schedules that
// actually change, and only for their future portions. Streams sharing the
// account and rate are treated as one stream whose window moves.
func (e *Engine) updateReceiverStates(token types.TokenID, currReceivers []StreamReceiver, lastUpdate, currMaxEnd uint32, newReceivers []StreamReceiver, newMaxEnd, now uint32) error {
	ci, ni := 0, 0
	for ci < len(currReceivers) || ni < len(newReceivers) {
		pickCurr := ci < len(currReceivers)
		pickNew := ni < len(newReceivers)
		if pickCurr && pickNew {
			curr, next := currReceivers[ci], newReceivers[ni]
			if curr.AccountID != next.AccountID || curr.Config.AmtPerSec.Cmp(next.Config.AmtPerSec) != 0 {
				if compareReceivers(curr, next) < 0 {
					pickNew = false
				} else {
					pickCurr = false
				}
			}
		}
		switch {
		case pickCurr && pickNew:
			curr, next := currReceivers[ci], newReceivers[ni]
			currStart, currEnd := streamRange(curr, lastUpdate, currMaxEnd, now, maxTimestamp)
			newStart, newEnd := streamRange(next, now, newMaxEnd, now, maxTimestamp)
			negRate := new(big.Int).Neg(curr.Config.AmtPerSec)
			if err := e.addDeltaRange(curr.AccountID, token, currStart, newStart, negRate); err != nil {
				return err
			}
			if err := e.addDeltaRange(curr.AccountID, token, currEnd, newEnd, curr.Config.AmtPerSec); err != nil {
				return err
			}
			ci++
			ni++
		case pickCurr:
			curr := currReceivers[ci]
			start, end := streamRange(curr, lastUpdate, currMaxEnd, now, maxTimestamp)
			if err := e.addDeltaRange(curr.AccountID, token, start, end, new(big.Int).Neg(curr.Config.AmtPerSec)); err != nil {
				return err
			}
			ci++
		case pickNew:
			next := newReceivers[ni]
			start, end := streamRange(next, now, newMaxEnd, now, maxTimestamp)
			if err := e.addDeltaRange(next.AccountID, token, start, end, next.Config.AmtPerSec); err != nil {
				return err
			}
			ni++
		}
	}
	return nil
}

// addDeltaRange posts the rate over [start, end) into the receiver's
// difference array. A reversed range subtracts the same coverage, which is
// what lets a moved window be encoded as two range posts.
func (e *Engine) addDeltaRange(receiver types.AccountID, token types.TokenID, start, end uint32, amtPerSec *big.Int) error {
	if start == end {
		return nil
	}
	if err := e.addDelta(receiver, token, start, amtPerSec); err != nil {
		return err
	}
	if err := e.addDelta(receiver, token, end, new(big.Int).Neg(amtPerSec)); err != nil {
		return err
	}
	lowest := start
	if end < lowest {
		lowest = end
	}
	return e.ensureReceivableCursor(receiver, token, e.timeline.CycleOf(lowest))
}

func (e *Engine) addDelta(receiver types.AccountID, token types.TokenID, timestamp uint32, amtPerSec *big.Int) error {
	cs := uint64(e.timeline.CycleSecs())
	fullCycle := new(big.Int).Mul(new(big.Int).SetUint64(cs), amtPerSec)
	fullCycle.Quo(fullCycle, AmtPerSecMultiplier)
	nextCycle := new(big.Int).Mul(new(big.Int).SetUint64(uint64(timestamp)%cs), amtPerSec)
	nextCycle.Quo(nextCycle, AmtPerSecMultiplier)

	cycle := e.timeline.CycleOf(timestamp)
	delta, _, err := e.state.DeltaGet(receiver, token, cycle)
	if err != nil {
		return err
	}
	delta = ensureAmtDelta(delta)
	delta.ThisCycle.Add(delta.ThisCycle, new(big.Int).Sub(fullCycle, nextCycle))
	delta.NextCycle.Add(delta.NextCycle, nextCycle)
	return e.state.DeltaPut(receiver, token, cycle, delta)
}

// ensureReceivableCursor initialises the receiver's cursor the first time a
// delta is posted for it. The cursor never moves backward.
func (e *Engine) ensureReceivableCursor(receiver types.AccountID, token types.TokenID, cycle uint32) error {
	entry, err := e.loadStreams(receiver, token)
	if err != nil {
		return err
	}
	if entry.NextReceivableCycle != 0 && entry.NextReceivableCycle <= cycle {
		return nil
	}
	updated := entry.Clone()
	updated.NextReceivableCycle = cycle
	return e.state.StreamsPut(receiver, token, updated)
}

// ReceiveStreams realizes funds streamed to the account across settled
// cycles, walking forward from the receivable cursor through at most
// maxCycles cycles. The walk is a prefix sum over the difference array;
// processed cells are deleted and any running remainder is carried into the
// stop cycle so a later call continues exactly where this one left off.
// It returns the realized amount and the number of cycles still pending.
func (e *Engine) ReceiveStreams(account types.AccountID, token types.TokenID, maxCycles uint32) (*big.Int, uint32, error) {
	entry, err := e.loadStreams(account, token)
	if err != nil {
		return nil, 0, err
	}
	now := e.now()
	currCycle := e.timeline.CycleOf(now)
	pending := uint32(0)
	if entry.NextReceivableCycle != 0 && entry.NextReceivableCycle < currCycle {
		pending = currCycle - entry.NextReceivableCycle
	}
	if pending == 0 || maxCycles == 0 {
		return big.NewInt(0), pending, nil
	}
	fromCycle := entry.NextReceivableCycle
	toCycle := currCycle
	if toCycle-fromCycle > maxCycles {
		toCycle = fromCycle + maxCycles
	}
	received := big.NewInt(0)
	amtPerCycle := big.NewInt(0)
	for cycle := fromCycle; cycle < toCycle; cycle++ {
		delta, ok, err := e.state.DeltaGet(account, token, cycle)
		if err != nil {
			return nil, 0, err
		}
		if ok {
			delta = ensureAmtDelta(delta)
			amtPerCycle.Add(amtPerCycle, delta.ThisCycle)
			received.Add(received, amtPerCycle)
			amtPerCycle.Add(amtPerCycle, delta.NextCycle)
			if err := e.state.DeltaDelete(account, token, cycle); err != nil {
				return nil, 0, err
			}
		} else {
			received.Add(received, amtPerCycle)
		}
	}
	if received.Sign() < 0 {
		return nil, 0, fmt.Errorf("streams: negative realized amount %s for cycles [%d, %d)", received, fromCycle, toCycle)
	}
	if amtPerCycle.Sign() != 0 {
		carry, _, err := e.state.DeltaGet(account, token, toCycle)
		if err != nil {
			return nil, 0, err
		}
		carry = ensureAmtDelta(carry)
		carry.ThisCycle.Add(carry.ThisCycle, amtPerCycle)
		if err := e.state.DeltaPut(account, token, toCycle, carry); err != nil {
			return nil, 0, err
		}
	}
	updated := entry.Clone()
	updated.NextReceivableCycle = toCycle
	if err := e.state.StreamsPut(account, token, updated); err != nil {
		return nil, 0, err
	}
	receivable := currCycle - toCycle
	e.emit(NewStreamsReceivedEvent(account, token, received, toCycle-fromCycle, receivable))
	return received, receivable, nil
}

// ReceivableCycles reports how many settled cycles are pending realization
// without mutating any state.
func (e *Engine) ReceivableCycles(account types.AccountID, token types.TokenID) (uint32, error) {
	entry, err := e.loadStreams(account, token)
	if err != nil {
		return 0, err
	}
	currCycle := e.timeline.CycleOf(e.now())
	if entry.NextReceivableCycle == 0 || entry.NextReceivableCycle >= currCycle {
		return 0, nil
	}
	return currCycle - entry.NextReceivableCycle, nil
}

// SqueezeStreams realizes the funds one sender has streamed to the account
// within the still-open current cycle, without waiting for the cycle to
// settle. The sender's current receiver list must be presented and is checked
// against its stored hash. The squeezed amount is offset with a negative
// delta in the current cycle so the regular receive walk never counts it
// again, and a per-sender cursor prevents squeezing the same window twice.
// Only the window covered by the sender's current configuration is
// squeezable; anything streamed under an earlier configuration settles with
// the cycle.
func (e *Engine) SqueezeStreams(account types.AccountID, token types.TokenID, sender types.AccountID, senderReceivers []StreamReceiver) (*big.Int, error) {
	senderEntry, err := e.loadStreams(sender, token)
	if err != nil {
		return nil, err
	}
	if HashReceivers(senderReceivers) != senderEntry.ReceiversHash {
		return nil, ErrInvalidCurrentReceivers
	}
	now := e.now()
	cursor, err := e.state.SqueezeCursorGet(account, token, sender)
	if err != nil {
		return nil, err
	}
	startCap := e.timeline.CycleStart(now)
	if cursor > startCap {
		startCap = cursor
	}
	if senderEntry.LastUpdate > startCap {
		startCap = senderEntry.LastUpdate
	}
	amt := big.NewInt(0)
	for _, recv := range senderReceivers {
		if recv.AccountID != account {
			continue
		}
		start, end := streamRange(recv, senderEntry.LastUpdate, senderEntry.MaxEnd, startCap, now)
		amt.Add(amt, e.timeline.StreamedAmt(recv.Config.AmtPerSec, start, end))
	}
	if err := e.state.SqueezeCursorPut(account, token, sender, now); err != nil {
		return nil, err
	}
	if amt.Sign() > 0 {
		// Offset the squeezed amount in the current cycle and restore the
		// running rate in the next one, so the settle-time walk realizes
		// exactly what was not squeezed early.
		currCycle := e.timeline.CycleOf(now)
		delta, _, err := e.state.DeltaGet(account, token, currCycle)
		if err != nil {
			return nil, err
		}
		delta = ensureAmtDelta(delta)
		delta.ThisCycle.Sub(delta.ThisCycle, amt)
		if err := e.state.DeltaPut(account, token, currCycle, delta); err != nil {
			return nil, err
		}
		restore, _, err := e.state.DeltaGet(account, token, currCycle+1)
		if err != nil {
			return nil, err
		}
		restore = ensureAmtDelta(restore)
		restore.ThisCycle.Add(restore.ThisCycle, amt)
		if err := e.state.DeltaPut(account, token, currCycle+1, restore); err != nil {
			return nil, err
		}
		if err := e.ensureReceivableCursor(account, token, currCycle); err != nil {
			return nil, err
		}
	}
	e.emit(NewStreamsSqueezedEvent(account, token, sender, amt))
	return amt, nil
}
