package drips

import (
	"errors"
	"fmt"
	"math/big"
	"sync"

	"dripsledger/core/events"
	"dripsledger/core/types"
	"dripsledger/native/splits"
	"dripsledger/native/streams"
)

var (
	errNilState = errors.New("drips hub: state not configured")

	// ErrNotDriver signals that the caller is not the registered driver for
	// the account's id range.
	ErrNotDriver = errors.New("drips: caller is not the account's driver")
	// ErrUnknownDriver signals an unregistered driver id.
	ErrUnknownDriver = errors.New("drips: unknown driver")
	// ErrBalanceTooLarge signals that a deposit would push the token's total
	// tracked balance over the 2^127-1 cap.
	ErrBalanceTooLarge = errors.New("drips: total balance exceeds maximum")
	// ErrInvalidAmount signals a negative amount where only deposits make sense.
	ErrInvalidAmount = errors.New("drips: amount must not be negative")
)

// MaxTotalBalance caps the total tracked balance of a single token across the
// whole ledger, protecting the fixed-width per-cycle accumulators.
var MaxTotalBalance = new(big.Int).Set(streams.MaxStreamsBalance)

// MetadataEntry is one key-value pair of account metadata. The ledger stores
// nothing; entries only travel in events for off-chain indexers.
type MetadataEntry struct {
	Key   string
	Value string
}

// State is the full state surface the hub and its engines mutate. The
// concrete implementation lives in core/state; tests provide in-memory fakes.
type State interface {
	// Streams ledger entries and receiver-side accrual.
	StreamsGet(account types.AccountID, token types.TokenID) (*streams.AccountStreams, bool, error)
	StreamsPut(account types.AccountID, token types.TokenID, entry *streams.AccountStreams) error
	DeltaGet(account types.AccountID, token types.TokenID, cycle uint32) (*streams.AmtDelta, bool, error)
	DeltaPut(account types.AccountID, token types.TokenID, cycle uint32, delta *streams.AmtDelta) error
	DeltaDelete(account types.AccountID, token types.TokenID, cycle uint32) error
	SqueezeCursorGet(account types.AccountID, token types.TokenID, sender types.AccountID) (uint32, error)
	SqueezeCursorPut(account types.AccountID, token types.TokenID, sender types.AccountID, timestamp uint32) error

	// Splits configuration and balances.
	SplitsHashGet(account types.AccountID) ([32]byte, error)
	SplitsHashPut(account types.AccountID, hash [32]byte) error
	SplitsBalanceGet(account types.AccountID, token types.TokenID) (*splits.Balance, bool, error)
	SplitsBalancePut(account types.AccountID, token types.TokenID, balance *splits.Balance) error

	// Driver registry and per-token totals.
	DriverCountGet() (uint32, error)
	DriverCountPut(count uint32) error
	DriverAddressGet(driverID uint32) ([20]byte, bool, error)
	DriverAddressPut(driverID uint32, addr [20]byte) error
	TotalBalanceGet(token types.TokenID) (*big.Int, error)
	TotalBalancePut(token types.TokenID, amt *big.Int) error
}

// Hub wires the streams and splits engines behind the driver authorization
// boundary and keeps the per-token conservation counters. Drivers are the
// only permitted callers for balance-changing entry points on their account
// ids; realizing accrued funds is permissionless.
type Hub struct {
	// stateMu serializes all entry points. Every operation is a multi-step
	// read-modify-write against the state backend, and the conservation
	// counters only hold if each one observes a consistent snapshot.
	stateMu sync.Mutex

	state   State
	streams *streams.Engine
	splits  *splits.Engine
	emitter events.Emitter
}

// NewHub creates a hub settling streams on cycles of the given length.
func NewHub(cycleSecs uint32) (*Hub, error) {
	streamsEngine, err := streams.NewEngine(cycleSecs)
	if err != nil {
		return nil, err
	}
	return &Hub{
		streams: streamsEngine,
		splits:  splits.NewEngine(),
		emitter: events.NoopEmitter{},
	}, nil
}

// SetState configures the state backend for the hub and both engines.
func (h *Hub) SetState(state State) {
	h.state = state
	h.streams.SetState(state)
	h.splits.SetState(state)
}

// SetEmitter configures the event emitter for the hub and both engines.
// Passing nil resets to a no-op.
func (h *Hub) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		emitter = events.NoopEmitter{}
	}
	h.emitter = emitter
	h.streams.SetEmitter(emitter)
	h.splits.SetEmitter(emitter)
}

// SetNowFunc overrides the time source used by the streams engine. Primarily
// intended for tests to provide deterministic timestamps.
func (h *Hub) SetNowFunc(now func() int64) { h.streams.SetNowFunc(now) }

// Timeline exposes the hub's cycle model.
func (h *Hub) Timeline() streams.Timeline { return h.streams.Timeline() }

func (h *Hub) emit(evt *types.Event) {
	if h == nil || h.emitter == nil || evt == nil {
		return
	}
	h.emitter.Emit(hubEvent{evt: evt})
}

// RegisterDriver assigns the next sequential driver id to the given address.
// Registration is permissionless; authority comes from holding the address.
func (h *Hub) RegisterDriver(addr [20]byte) (uint32, error) {
	if h == nil || h.state == nil {
		return 0, errNilState
	}
	h.stateMu.Lock()
	defer h.stateMu.Unlock()
	count, err := h.state.DriverCountGet()
	if err != nil {
		return 0, err
	}
	driverID := count + 1
	if err := h.state.DriverAddressPut(driverID, addr); err != nil {
		return 0, err
	}
	if err := h.state.DriverCountPut(driverID); err != nil {
		return 0, err
	}
	h.emit(NewDriverRegisteredEvent(driverID, addr))
	return driverID, nil
}

// DriverAddress returns the registered address of a driver id.
func (h *Hub) DriverAddress(driverID uint32) ([20]byte, bool, error) {
	if h == nil || h.state == nil {
		return [20]byte{}, false, errNilState
	}
	h.stateMu.Lock()
	defer h.stateMu.Unlock()
	return h.state.DriverAddressGet(driverID)
}

// UpdateDriverAddress hands a driver id over to a new address. Only the
// current address may do so.
func (h *Hub) UpdateDriverAddress(caller [20]byte, driverID uint32, newAddr [20]byte) error {
	if h == nil || h.state == nil {
		return errNilState
	}
	h.stateMu.Lock()
	defer h.stateMu.Unlock()
	current, ok, err := h.state.DriverAddressGet(driverID)
	if err != nil {
		return err
	}
	if !ok {
		return ErrUnknownDriver
	}
	if current != caller {
		return ErrNotDriver
	}
	if err := h.state.DriverAddressPut(driverID, newAddr); err != nil {
		return err
	}
	h.emit(NewDriverUpdatedEvent(driverID, current, newAddr))
	return nil
}

func (h *Hub) authorize(caller [20]byte, account types.AccountID) error {
	if h == nil || h.state == nil {
		return errNilState
	}
	addr, ok, err := h.state.DriverAddressGet(account.Driver)
	if err != nil {
		return err
	}
	if !ok {
		return ErrUnknownDriver
	}
	if addr != caller {
		return ErrNotDriver
	}
	return nil
}

func (h *Hub) adjustTotalBalance(token types.TokenID, delta *big.Int) error {
	if delta == nil || delta.Sign() == 0 {
		return nil
	}
	total, err := h.state.TotalBalanceGet(token)
	if err != nil {
		return err
	}
	if total == nil {
		total = big.NewInt(0)
	}
	updated := new(big.Int).Add(total, delta)
	if updated.Sign() < 0 {
		return fmt.Errorf("drips: total balance underflow for token %s", token)
	}
	if updated.Cmp(MaxTotalBalance) > 0 {
		return ErrBalanceTooLarge
	}
	return h.state.TotalBalancePut(token, updated)
}

// SetStreams applies a streams configuration change on behalf of the
// account's driver. A positive balance delta is a deposit the driver must
// already hold in custody; a negative one reports funds to hand back. The
// returned value is the delta actually applied.
func (h *Hub) SetStreams(caller [20]byte, account types.AccountID, token types.TokenID, currReceivers []streams.StreamReceiver, balanceDelta *big.Int, newReceivers []streams.StreamReceiver, hints []uint32) (*big.Int, error) {
	h.stateMu.Lock()
	defer h.stateMu.Unlock()
	if err := h.authorize(caller, account); err != nil {
		return nil, err
	}
	if balanceDelta != nil && balanceDelta.Sign() > 0 {
		total, err := h.state.TotalBalanceGet(token)
		if err != nil {
			return nil, err
		}
		if total == nil {
			total = big.NewInt(0)
		}
		if new(big.Int).Add(total, balanceDelta).Cmp(MaxTotalBalance) > 0 {
			return nil, ErrBalanceTooLarge
		}
	}
	realDelta, err := h.streams.SetStreams(account, token, currReceivers, balanceDelta, newReceivers, hints)
	if err != nil {
		return nil, err
	}
	if err := h.adjustTotalBalance(token, realDelta); err != nil {
		return nil, err
	}
	return realDelta, nil
}

// BalanceAt reports the not-yet-streamed balance at a timestamp not earlier
// than the account's last update. Unrestricted read.
func (h *Hub) BalanceAt(account types.AccountID, token types.TokenID, receivers []streams.StreamReceiver, timestamp uint32) (*big.Int, error) {
	h.stateMu.Lock()
	defer h.stateMu.Unlock()
	return h.streams.BalanceAt(account, token, receivers, timestamp)
}

// ReceiveStreams realizes settled-cycle funds for the account and credits
// them to its splittable balance. Permissionless: anyone may pay the cost of
// walking a receiver's backlog.
func (h *Hub) ReceiveStreams(account types.AccountID, token types.TokenID, maxCycles uint32) (*big.Int, uint32, error) {
	h.stateMu.Lock()
	defer h.stateMu.Unlock()
	received, receivable, err := h.streams.ReceiveStreams(account, token, maxCycles)
	if err != nil {
		return nil, 0, err
	}
	if received.Sign() > 0 {
		if err := h.splits.AddSplittable(account, token, received); err != nil {
			return nil, 0, err
		}
	}
	return received, receivable, nil
}

// ReceivableCycles reports the pending settled cycles. Unrestricted read.
func (h *Hub) ReceivableCycles(account types.AccountID, token types.TokenID) (uint32, error) {
	h.stateMu.Lock()
	defer h.stateMu.Unlock()
	return h.streams.ReceivableCycles(account, token)
}

// SqueezeStreams realizes current-cycle funds from one sender ahead of
// settlement and credits them to the account's splittable balance. Only the
// account's driver may squeeze.
func (h *Hub) SqueezeStreams(caller [20]byte, account types.AccountID, token types.TokenID, sender types.AccountID, senderReceivers []streams.StreamReceiver) (*big.Int, error) {
	h.stateMu.Lock()
	defer h.stateMu.Unlock()
	if err := h.authorize(caller, account); err != nil {
		return nil, err
	}
	amt, err := h.streams.SqueezeStreams(account, token, sender, senderReceivers)
	if err != nil {
		return nil, err
	}
	if amt.Sign() > 0 {
		if err := h.splits.AddSplittable(account, token, amt); err != nil {
			return nil, err
		}
	}
	return amt, nil
}

// SetSplits commits the account's splits configuration on behalf of its
// driver.
func (h *Hub) SetSplits(caller [20]byte, account types.AccountID, receivers []splits.SplitsReceiver) error {
	h.stateMu.Lock()
	defer h.stateMu.Unlock()
	if err := h.authorize(caller, account); err != nil {
		return err
	}
	return h.splits.SetSplits(account, receivers)
}

// Split pushes the account's splittable balance through its splits graph.
// Permissionless: funds flow toward receivers regardless of who pays.
func (h *Hub) Split(account types.AccountID, token types.TokenID, currReceivers []splits.SplitsReceiver) (collectableAmt, splitAmt *big.Int, err error) {
	h.stateMu.Lock()
	defer h.stateMu.Unlock()
	return h.splits.Split(account, token, currReceivers)
}

// SplitResult reports how an amount would divide under the account's current
// splits configuration without mutating any balance. Unrestricted read.
func (h *Hub) SplitResult(account types.AccountID, currReceivers []splits.SplitsReceiver, amt *big.Int) (collectable, split *big.Int, err error) {
	if amt == nil || amt.Sign() < 0 {
		return nil, nil, ErrInvalidAmount
	}
	h.stateMu.Lock()
	defer h.stateMu.Unlock()
	if err := h.splits.AssertCurrReceivers(account, currReceivers); err != nil {
		return nil, nil, err
	}
	collectable, split = splits.SplitResult(amt, account, currReceivers)
	return collectable, split, nil
}

// Give deposits funds from the caller's driver directly into a receiver's
// splittable balance.
func (h *Hub) Give(caller [20]byte, account types.AccountID, receiver types.AccountID, token types.TokenID, amt *big.Int) error {
	h.stateMu.Lock()
	defer h.stateMu.Unlock()
	if err := h.authorize(caller, account); err != nil {
		return err
	}
	if amt == nil || amt.Sign() == 0 {
		return nil
	}
	if amt.Sign() < 0 {
		return ErrInvalidAmount
	}
	if err := h.adjustTotalBalance(token, amt); err != nil {
		return err
	}
	if err := h.splits.AddSplittable(receiver, token, amt); err != nil {
		return err
	}
	h.emit(NewGivenEvent(account, receiver, token, amt))
	return nil
}

// Collect drains the account's collectable balance. The driver performing
// the call is responsible for the outbound token transfer; the hub only
// releases the ledger counters.
func (h *Hub) Collect(caller [20]byte, account types.AccountID, token types.TokenID) (*big.Int, error) {
	h.stateMu.Lock()
	defer h.stateMu.Unlock()
	if err := h.authorize(caller, account); err != nil {
		return nil, err
	}
	amt, err := h.splits.Collect(account, token)
	if err != nil {
		return nil, err
	}
	if err := h.adjustTotalBalance(token, new(big.Int).Neg(amt)); err != nil {
		return nil, err
	}
	return amt, nil
}

// SplittableBalance reports funds received and pending a split.
func (h *Hub) SplittableBalance(account types.AccountID, token types.TokenID) (*big.Int, error) {
	h.stateMu.Lock()
	defer h.stateMu.Unlock()
	return h.splits.Splittable(account, token)
}

// CollectableBalance reports funds ready for withdrawal.
func (h *Hub) CollectableBalance(account types.AccountID, token types.TokenID) (*big.Int, error) {
	h.stateMu.Lock()
	defer h.stateMu.Unlock()
	return h.splits.Collectable(account, token)
}

// TotalBalance reports the token's total tracked balance across the ledger.
func (h *Hub) TotalBalance(token types.TokenID) (*big.Int, error) {
	if h == nil || h.state == nil {
		return nil, errNilState
	}
	h.stateMu.Lock()
	defer h.stateMu.Unlock()
	total, err := h.state.TotalBalanceGet(token)
	if err != nil {
		return nil, err
	}
	if total == nil {
		total = big.NewInt(0)
	}
	return new(big.Int).Set(total), nil
}

// EmitAccountMetadata publishes metadata entries for the account. Nothing is
// stored; the event stream is the product.
func (h *Hub) EmitAccountMetadata(caller [20]byte, account types.AccountID, entries []MetadataEntry) error {
	h.stateMu.Lock()
	defer h.stateMu.Unlock()
	if err := h.authorize(caller, account); err != nil {
		return err
	}
	if len(entries) == 0 {
		return nil
	}
	h.emit(NewAccountMetadataEvent(account, entries))
	return nil
}
