package state

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/rlp"

	"dripsledger/core/types"
	"dripsledger/native/splits"
	"dripsledger/native/streams"
	"dripsledger/storage"
)

// Manager persists all ledger state in a key-value store using RLP-encoded
// records. It implements the state surface consumed by the hub and both
// engines. Signed quantities get a stored twin because RLP cannot encode
// negative big integers.
type Manager struct {
	db storage.Database
}

// NewManager wraps a key-value database in a ledger state manager.
func NewManager(db storage.Database) *Manager {
	return &Manager{db: db}
}

func (m *Manager) get(key []byte, out interface{}) (bool, error) {
	raw, err := m.db.Get(key)
	if errors.Is(err, storage.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := rlp.DecodeBytes(raw, out); err != nil {
		return false, fmt.Errorf("state: decode %q: %w", key, err)
	}
	return true, nil
}

func (m *Manager) put(key []byte, value interface{}) error {
	raw, err := rlp.EncodeToBytes(value)
	if err != nil {
		return fmt.Errorf("state: encode %q: %w", key, err)
	}
	return m.db.Put(key, raw)
}

// --- streams ledger entries ---

type storedAccountStreams struct {
	Balance             *big.Int
	LastUpdate          uint32
	MaxEnd              uint32
	ReceiversHash       [32]byte
	NextReceivableCycle uint32
}

// StreamsGet loads the streams ledger entry for (account, token).
func (m *Manager) StreamsGet(account types.AccountID, token types.TokenID) (*streams.AccountStreams, bool, error) {
	var stored storedAccountStreams
	ok, err := m.get(streamsStateKey(account, token), &stored)
	if err != nil || !ok {
		return nil, false, err
	}
	return &streams.AccountStreams{
		Balance:             stored.Balance,
		LastUpdate:          stored.LastUpdate,
		MaxEnd:              stored.MaxEnd,
		ReceiversHash:       stored.ReceiversHash,
		NextReceivableCycle: stored.NextReceivableCycle,
	}, true, nil
}

// StreamsPut stores the streams ledger entry for (account, token).
func (m *Manager) StreamsPut(account types.AccountID, token types.TokenID, entry *streams.AccountStreams) error {
	if entry == nil {
		return errors.New("state: nil streams entry")
	}
	balance := entry.Balance
	if balance == nil {
		balance = big.NewInt(0)
	}
	if balance.Sign() < 0 {
		return fmt.Errorf("state: negative streams balance for %s", account)
	}
	return m.put(streamsStateKey(account, token), &storedAccountStreams{
		Balance:             balance,
		LastUpdate:          entry.LastUpdate,
		MaxEnd:              entry.MaxEnd,
		ReceiversHash:       entry.ReceiversHash,
		NextReceivableCycle: entry.NextReceivableCycle,
	})
}

// --- per-cycle deltas ---

type storedAmtDelta struct {
	ThisNeg bool
	ThisAbs *big.Int
	NextNeg bool
	NextAbs *big.Int
}

func signedFromStored(neg bool, abs *big.Int) *big.Int {
	if abs == nil {
		return big.NewInt(0)
	}
	v := new(big.Int).Set(abs)
	if neg {
		v.Neg(v)
	}
	return v
}

func storedFromSigned(v *big.Int) (bool, *big.Int) {
	if v == nil {
		return false, big.NewInt(0)
	}
	return v.Sign() < 0, new(big.Int).Abs(v)
}

// DeltaGet loads the difference-array cell of one settlement cycle.
func (m *Manager) DeltaGet(account types.AccountID, token types.TokenID, cycle uint32) (*streams.AmtDelta, bool, error) {
	var stored storedAmtDelta
	ok, err := m.get(streamsDeltaKey(account, token, cycle), &stored)
	if err != nil || !ok {
		return nil, false, err
	}
	return &streams.AmtDelta{
		ThisCycle: signedFromStored(stored.ThisNeg, stored.ThisAbs),
		NextCycle: signedFromStored(stored.NextNeg, stored.NextAbs),
	}, true, nil
}

// DeltaPut stores the difference-array cell of one settlement cycle.
func (m *Manager) DeltaPut(account types.AccountID, token types.TokenID, cycle uint32, delta *streams.AmtDelta) error {
	if delta == nil {
		return errors.New("state: nil amt delta")
	}
	stored := storedAmtDelta{}
	stored.ThisNeg, stored.ThisAbs = storedFromSigned(delta.ThisCycle)
	stored.NextNeg, stored.NextAbs = storedFromSigned(delta.NextCycle)
	return m.put(streamsDeltaKey(account, token, cycle), &stored)
}

// DeltaDelete removes a consumed difference-array cell.
func (m *Manager) DeltaDelete(account types.AccountID, token types.TokenID, cycle uint32) error {
	return m.db.Delete(streamsDeltaKey(account, token, cycle))
}

// --- squeeze cursors ---

// SqueezeCursorGet loads the timestamp up to which the account has already
// squeezed the sender's current-cycle streaming. Zero means never.
func (m *Manager) SqueezeCursorGet(account types.AccountID, token types.TokenID, sender types.AccountID) (uint32, error) {
	raw, err := m.db.Get(streamsSqueezeKey(account, token, sender))
	if errors.Is(err, storage.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	if len(raw) != 4 {
		return 0, fmt.Errorf("state: malformed squeeze cursor of length %d", len(raw))
	}
	return binary.BigEndian.Uint32(raw), nil
}

// SqueezeCursorPut stores the squeeze cursor.
func (m *Manager) SqueezeCursorPut(account types.AccountID, token types.TokenID, sender types.AccountID, timestamp uint32) error {
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], timestamp)
	return m.db.Put(streamsSqueezeKey(account, token, sender), buf[:])
}

// --- splits configuration and balances ---

// SplitsHashGet loads the splits configuration commitment. A missing entry is
// the zero hash, matching the empty configuration.
func (m *Manager) SplitsHashGet(account types.AccountID) ([32]byte, error) {
	raw, err := m.db.Get(splitsHashKey(account))
	if errors.Is(err, storage.ErrNotFound) {
		return [32]byte{}, nil
	}
	if err != nil {
		return [32]byte{}, err
	}
	if len(raw) != 32 {
		return [32]byte{}, fmt.Errorf("state: malformed splits hash of length %d", len(raw))
	}
	var hash [32]byte
	copy(hash[:], raw)
	return hash, nil
}

// SplitsHashPut stores the splits configuration commitment.
func (m *Manager) SplitsHashPut(account types.AccountID, hash [32]byte) error {
	return m.db.Put(splitsHashKey(account), hash[:])
}

type storedSplitsBalance struct {
	Splittable  *big.Int
	Collectable *big.Int
}

// SplitsBalanceGet loads the splittable/collectable pools of (account, token).
func (m *Manager) SplitsBalanceGet(account types.AccountID, token types.TokenID) (*splits.Balance, bool, error) {
	var stored storedSplitsBalance
	ok, err := m.get(splitsBalanceKey(account, token), &stored)
	if err != nil || !ok {
		return nil, false, err
	}
	return &splits.Balance{Splittable: stored.Splittable, Collectable: stored.Collectable}, true, nil
}

// SplitsBalancePut stores the splittable/collectable pools of (account, token).
func (m *Manager) SplitsBalancePut(account types.AccountID, token types.TokenID, balance *splits.Balance) error {
	if balance == nil {
		return errors.New("state: nil splits balance")
	}
	splittable, collectable := balance.Splittable, balance.Collectable
	if splittable == nil {
		splittable = big.NewInt(0)
	}
	if collectable == nil {
		collectable = big.NewInt(0)
	}
	if splittable.Sign() < 0 || collectable.Sign() < 0 {
		return fmt.Errorf("state: negative splits balance for %s", account)
	}
	return m.put(splitsBalanceKey(account, token), &storedSplitsBalance{
		Splittable:  splittable,
		Collectable: collectable,
	})
}

// --- deployment parameters ---

// CycleSecsGet loads the pinned settlement cycle length. Zero means the store
// has never held one.
func (m *Manager) CycleSecsGet() (uint32, error) {
	raw, err := m.db.Get(cycleSecsKey)
	if errors.Is(err, storage.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	if len(raw) != 4 {
		return 0, fmt.Errorf("state: malformed cycle length of length %d", len(raw))
	}
	return binary.BigEndian.Uint32(raw), nil
}

// CycleSecsPut stores the settlement cycle length.
func (m *Manager) CycleSecsPut(cycleSecs uint32) error {
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], cycleSecs)
	return m.db.Put(cycleSecsKey, buf[:])
}

// EnsureCycleSecs pins the cycle length the first time a store is opened and
// rejects any later mismatch. Delta cells are keyed by cycle number, so
// reopening a store with a different length would misread every pending
// accrual.
func (m *Manager) EnsureCycleSecs(cycleSecs uint32) error {
	stored, err := m.CycleSecsGet()
	if err != nil {
		return err
	}
	if stored == 0 {
		return m.CycleSecsPut(cycleSecs)
	}
	if stored != cycleSecs {
		return fmt.Errorf("state: store settles on %d second cycles, configured %d", stored, cycleSecs)
	}
	return nil
}

// --- driver registry and totals ---

// DriverCountGet loads the number of registered drivers.
func (m *Manager) DriverCountGet() (uint32, error) {
	raw, err := m.db.Get(driverCountKey)
	if errors.Is(err, storage.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	if len(raw) != 4 {
		return 0, fmt.Errorf("state: malformed driver count of length %d", len(raw))
	}
	return binary.BigEndian.Uint32(raw), nil
}

// DriverCountPut stores the number of registered drivers.
func (m *Manager) DriverCountPut(count uint32) error {
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], count)
	return m.db.Put(driverCountKey, buf[:])
}

// DriverAddressGet loads the registered address of a driver id.
func (m *Manager) DriverAddressGet(driverID uint32) ([20]byte, bool, error) {
	raw, err := m.db.Get(driverAddressKey(driverID))
	if errors.Is(err, storage.ErrNotFound) {
		return [20]byte{}, false, nil
	}
	if err != nil {
		return [20]byte{}, false, err
	}
	if len(raw) != 20 {
		return [20]byte{}, false, fmt.Errorf("state: malformed driver address of length %d", len(raw))
	}
	var addr [20]byte
	copy(addr[:], raw)
	return addr, true, nil
}

// DriverAddressPut stores the registered address of a driver id.
func (m *Manager) DriverAddressPut(driverID uint32, addr [20]byte) error {
	return m.db.Put(driverAddressKey(driverID), addr[:])
}

type storedTotalBalance struct {
	Total *big.Int
}

// TotalBalanceGet loads the token's total tracked balance.
func (m *Manager) TotalBalanceGet(token types.TokenID) (*big.Int, error) {
	var stored storedTotalBalance
	ok, err := m.get(totalBalanceKey(token), &stored)
	if err != nil {
		return nil, err
	}
	if !ok || stored.Total == nil {
		return big.NewInt(0), nil
	}
	return stored.Total, nil
}

// TotalBalancePut stores the token's total tracked balance.
func (m *Manager) TotalBalancePut(token types.TokenID, amt *big.Int) error {
	if amt == nil {
		amt = big.NewInt(0)
	}
	if amt.Sign() < 0 {
		return fmt.Errorf("state: negative total balance for token %s", token)
	}
	return m.put(totalBalanceKey(token), &storedTotalBalance{Total: amt})
}
