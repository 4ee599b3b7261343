package splits

import (
	"errors"
	"math/big"

	"dripsledger/core/events"
	"dripsledger/core/types"
)

var (
	errNilState = errors.New("splits engine: state not configured")

	// ErrInvalidSplitsReceivers signals a malformed splits configuration.
	ErrInvalidSplitsReceivers = errors.New("splits: invalid receiver list")
	// ErrInvalidCurrentSplits signals that the presented configuration does
	// not hash to the stored commitment for the account.
	ErrInvalidCurrentSplits = errors.New("splits: current receivers do not match stored hash")
)

// splitsState is the subset of state-manager functionality the splits engine
// mutates. Unlike streams state, splits configurations are keyed by account
// alone; balances stay per (account, token).
type splitsState interface {
	SplitsHashGet(account types.AccountID) ([32]byte, error)
	SplitsHashPut(account types.AccountID, hash [32]byte) error
	SplitsBalanceGet(account types.AccountID, token types.TokenID) (*Balance, bool, error)
	SplitsBalancePut(account types.AccountID, token types.TokenID, balance *Balance) error
}

// Engine implements the weighted fan-out of splittable balances. A split
// cascades exactly one level per call: receivers get splittable funds of
// their own and must split (or collect) again to propagate further.
type Engine struct {
	state   splitsState
	emitter events.Emitter
}

// NewEngine creates a splits engine with a no-op emitter.
func NewEngine() *Engine {
	return &Engine{emitter: events.NoopEmitter{}}
}

// SetState configures the state backend used by the engine.
func (e *Engine) SetState(state splitsState) { e.state = state }

// SetEmitter configures the event emitter. Passing nil resets to a no-op.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

func (e *Engine) emit(evt *types.Event) {
	if e == nil || e.emitter == nil || evt == nil {
		return
	}
	e.emitter.Emit(splitsEvent{evt: evt})
}

func (e *Engine) loadBalance(account types.AccountID, token types.TokenID) (*Balance, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	balance, ok, err := e.state.SplitsBalanceGet(account, token)
	if err != nil {
		return nil, err
	}
	if !ok {
		balance = nil
	}
	return ensureBalance(balance), nil
}

// SetSplits stores the hash commitment to the account's splits configuration.
// The full list is only carried in the emitted event; callers must resupply
// it whenever the configuration is used.
func (e *Engine) SetSplits(account types.AccountID, receivers []SplitsReceiver) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if err := ValidateReceivers(receivers); err != nil {
		return err
	}
	hash := HashReceivers(receivers)
	if err := e.state.SplitsHashPut(account, hash); err != nil {
		return err
	}
	e.emit(NewSplitsSetEvent(account, hash, receivers))
	return nil
}

// AssertCurrReceivers verifies the presented configuration against the stored
// commitment.
func (e *Engine) AssertCurrReceivers(account types.AccountID, receivers []SplitsReceiver) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	stored, err := e.state.SplitsHashGet(account)
	if err != nil {
		return err
	}
	if HashReceivers(receivers) != stored {
		return ErrInvalidCurrentSplits
	}
	return nil
}

// AddSplittable credits funds received by the account, pending a split.
func (e *Engine) AddSplittable(account types.AccountID, token types.TokenID, amt *big.Int) error {
	if amt == nil || amt.Sign() == 0 {
		return nil
	}
	balance, err := e.loadBalance(account, token)
	if err != nil {
		return err
	}
	updated := balance.Clone()
	updated.Splittable.Add(updated.Splittable, amt)
	return e.state.SplitsBalancePut(account, token, updated)
}

// Splittable reports the balance pending a split.
func (e *Engine) Splittable(account types.AccountID, token types.TokenID) (*big.Int, error) {
	balance, err := e.loadBalance(account, token)
	if err != nil {
		return nil, err
	}
	return new(big.Int).Set(balance.Splittable), nil
}

// Collectable reports the balance ready for withdrawal.
func (e *Engine) Collectable(account types.AccountID, token types.TokenID) (*big.Int, error) {
	balance, err := e.loadBalance(account, token)
	if err != nil {
		return nil, err
	}
	return new(big.Int).Set(balance.Collectable), nil
}

// SplitResult computes, without mutating state, how a given amount would
// divide under a configuration: the part kept by the account and the part
// distributed to other receivers.
func SplitResult(amount *big.Int, account types.AccountID, receivers []SplitsReceiver) (collectable, split *big.Int) {
	distributedToOthers := big.NewInt(0)
	assigned := big.NewInt(0)
	cumWeight := uint64(0)
	for _, recv := range receivers {
		cumWeight += uint64(recv.Weight)
		target := new(big.Int).Mul(amount, new(big.Int).SetUint64(cumWeight))
		target.Quo(target, big.NewInt(TotalWeight))
		part := new(big.Int).Sub(target, assigned)
		assigned = target
		if recv.AccountID != account {
			distributedToOthers.Add(distributedToOthers, part)
		}
	}
	return new(big.Int).Sub(amount, distributedToOthers), distributedToOthers
}

// Split pushes the account's whole splittable balance through its configured
// receivers. Each receiver gets floor(amount * weight / TotalWeight) of its
// cumulative share, computed so that all parts plus the remainder equal the
// original amount exactly. Parts for other accounts become their splittable
// balance (one cascade level); parts pointing back at the account itself, and
// the rounding remainder, land directly in its collectable balance.
func (e *Engine) Split(account types.AccountID, token types.TokenID, currReceivers []SplitsReceiver) (collectableAmt, splitAmt *big.Int, err error) {
	if err := e.AssertCurrReceivers(account, currReceivers); err != nil {
		return nil, nil, err
	}
	balance, err := e.loadBalance(account, token)
	if err != nil {
		return nil, nil, err
	}
	splittable := new(big.Int).Set(balance.Splittable)
	if splittable.Sign() == 0 {
		return big.NewInt(0), big.NewInt(0), nil
	}
	assigned := big.NewInt(0)
	distributed := big.NewInt(0)
	cumWeight := uint64(0)
	for _, recv := range currReceivers {
		cumWeight += uint64(recv.Weight)
		target := new(big.Int).Mul(splittable, new(big.Int).SetUint64(cumWeight))
		target.Quo(target, big.NewInt(TotalWeight))
		part := new(big.Int).Sub(target, assigned)
		assigned.Set(target)
		if part.Sign() == 0 {
			continue
		}
		if recv.AccountID == account {
			continue
		}
		if err := e.AddSplittable(recv.AccountID, token, part); err != nil {
			return nil, nil, err
		}
		distributed.Add(distributed, part)
	}
	collectableAmt = new(big.Int).Sub(splittable, distributed)
	updated := balance.Clone()
	updated.Splittable.Sub(updated.Splittable, splittable)
	if updated.Splittable.Sign() < 0 {
		return nil, nil, errors.New("splits: splittable balance underflow")
	}
	updated.Collectable.Add(updated.Collectable, collectableAmt)
	if err := e.state.SplitsBalancePut(account, token, updated); err != nil {
		return nil, nil, err
	}
	e.emit(NewSplitEvent(account, token, collectableAmt, distributed))
	return collectableAmt, distributed, nil
}

// Collect drains the account's collectable balance and returns the drained
// amount. Callers are responsible for the outbound token transfer.
func (e *Engine) Collect(account types.AccountID, token types.TokenID) (*big.Int, error) {
	balance, err := e.loadBalance(account, token)
	if err != nil {
		return nil, err
	}
	amt := new(big.Int).Set(balance.Collectable)
	if amt.Sign() == 0 {
		return amt, nil
	}
	updated := balance.Clone()
	updated.Collectable.SetInt64(0)
	if err := e.state.SplitsBalancePut(account, token, updated); err != nil {
		return nil, err
	}
	e.emit(NewCollectedEvent(account, token, amt))
	return amt, nil
}
