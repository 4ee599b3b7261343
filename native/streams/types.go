package streams

import (
	"bytes"
	"fmt"
	"math/big"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/holiman/uint256"

	"dripsledger/core/types"
)

const (
	// MaxStreamsReceivers bounds the length of a single receiver list so every
	// ledger mutation stays within a predictable cost envelope.
	MaxStreamsReceivers = 100

	// AmtPerSecExtraDecimals is the number of extra decimals applied to every
	// per-second rate, letting a stream move less than one token unit per
	// second.
	AmtPerSecExtraDecimals = 9

	maxTimestamp = ^uint32(0)
)

// AmtPerSecMultiplier is 10^AmtPerSecExtraDecimals. A config's AmtPerSec is
// expressed in these fixed-point units.
var AmtPerSecMultiplier = new(big.Int).Exp(big.NewInt(10), big.NewInt(AmtPerSecExtraDecimals), nil)

// MaxStreamsBalance caps a single streamable balance at 2^127-1 so per-cycle
// accumulators can never overflow their fixed-width wire representation.
var MaxStreamsBalance = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 127), big.NewInt(1))

// maxAmtPerSec is the exclusive upper bound for a rate, 2^160.
var maxAmtPerSec = new(big.Int).Lsh(big.NewInt(1), 160)

// StreamConfig describes a single stream: its per-second rate in fixed-point
// units, an optional absolute start timestamp (zero means "when configured")
// and an optional duration in seconds (zero means "until funds run out").
// StreamID carries no ledger semantics, it only distinguishes otherwise
// identical streams for off-chain consumers.
type StreamConfig struct {
	StreamID  uint32
	AmtPerSec *big.Int
	Start     uint32
	Duration  uint32
}

// Validate checks that the rate is present, positive and fits 160 bits.
func (c StreamConfig) Validate() error {
	if c.AmtPerSec == nil || c.AmtPerSec.Sign() <= 0 {
		return fmt.Errorf("amtPerSec must be positive")
	}
	if c.AmtPerSec.Cmp(maxAmtPerSec) >= 0 {
		return fmt.Errorf("amtPerSec out of range")
	}
	return nil
}

// packed returns the canonical 256-bit encoding of the config:
// streamId (32 bits) | amtPerSec (160 bits) | start (32 bits) | duration (32
// bits). The packed form defines the total order over configs and is the form
// hashed into receiver-list commitments.
func (c StreamConfig) packed() *uint256.Int {
	v := new(uint256.Int).SetUint64(uint64(c.StreamID))
	aps, _ := uint256.FromBig(c.AmtPerSec)
	v.Lsh(v, 160)
	v.Or(v, aps)
	v.Lsh(v, 32)
	v.Or(v, uint256.NewInt(uint64(c.Start)))
	v.Lsh(v, 32)
	v.Or(v, uint256.NewInt(uint64(c.Duration)))
	return v
}

// unpackStreamConfig decodes the canonical 256-bit config encoding.
func unpackStreamConfig(packed *uint256.Int) StreamConfig {
	v := new(uint256.Int).Set(packed)
	cfg := StreamConfig{Duration: uint32(v.Uint64())}
	v.Rsh(v, 32)
	cfg.Start = uint32(v.Uint64())
	v.Rsh(v, 32)
	aps := new(uint256.Int).Set(v)
	mask := new(uint256.Int).Lsh(uint256.NewInt(1), 160)
	mask.SubUint64(mask, 1)
	aps.And(aps, mask)
	cfg.AmtPerSec = aps.ToBig()
	v.Rsh(v, 160)
	cfg.StreamID = uint32(v.Uint64())
	return cfg
}

// StreamReceiver pairs the receiving account with the stream configuration
// funding it.
type StreamReceiver struct {
	AccountID types.AccountID
	Config    StreamConfig
}

// compareReceivers defines the total order receiver lists must be sorted by:
// account id ascending, then packed config ascending.
func compareReceivers(a, b StreamReceiver) int {
	ab, bb := a.AccountID.Bytes(), b.AccountID.Bytes()
	if c := bytes.Compare(ab[:], bb[:]); c != 0 {
		return c
	}
	return a.Config.packed().Cmp(b.Config.packed())
}

// ValidateReceivers checks length, per-entry config validity and the strict
// ascending order that makes list hashes canonical.
func ValidateReceivers(receivers []StreamReceiver) error {
	if len(receivers) > MaxStreamsReceivers {
		return fmt.Errorf("%w: too many receivers: %d", ErrInvalidReceiverList, len(receivers))
	}
	for i, recv := range receivers {
		if err := recv.Config.Validate(); err != nil {
			return fmt.Errorf("%w: receiver %d: %v", ErrInvalidReceiverList, i, err)
		}
		if i > 0 && compareReceivers(receivers[i-1], recv) >= 0 {
			return fmt.Errorf("%w: receivers not sorted or duplicated at %d", ErrInvalidReceiverList, i)
		}
	}
	return nil
}

type streamReceiverWire struct {
	AccountID [32]byte
	Config    [32]byte
}

// HashReceivers computes the order-sensitive commitment to a receiver list:
// keccak256 over the RLP encoding of the canonical (accountId, packed config)
// pairs. The empty list hashes to the zero value so a fresh ledger entry
// accepts an empty current list.
func HashReceivers(receivers []StreamReceiver) [32]byte {
	if len(receivers) == 0 {
		return [32]byte{}
	}
	wire := make([]streamReceiverWire, len(receivers))
	for i, recv := range receivers {
		wire[i] = streamReceiverWire{
			AccountID: recv.AccountID.Bytes(),
			Config:    recv.Config.packed().Bytes32(),
		}
	}
	encoded, err := rlp.EncodeToBytes(wire)
	if err != nil {
		// The wire struct contains only fixed-width arrays, encoding cannot fail.
		panic(fmt.Sprintf("streams: encode receivers: %v", err))
	}
	return ethcrypto.Keccak256Hash(encoded)
}

// AccountStreams is the ledger entry kept per (account, token). The sending
// side is the balance, the last configuration change and the funding horizon
// computed at that change; the receiving side is the cursor of the first
// settlement cycle not yet realized. The receiver list itself is never
// stored, only its hash.
type AccountStreams struct {
	Balance             *big.Int
	LastUpdate          uint32
	MaxEnd              uint32
	ReceiversHash       [32]byte
	NextReceivableCycle uint32
}

// Clone returns a deep copy so callers can mutate freely.
func (a *AccountStreams) Clone() *AccountStreams {
	if a == nil {
		return nil
	}
	clone := *a
	if a.Balance != nil {
		clone.Balance = new(big.Int).Set(a.Balance)
	} else {
		clone.Balance = big.NewInt(0)
	}
	return &clone
}

func ensureAccountStreams(entry *AccountStreams) *AccountStreams {
	if entry == nil {
		return &AccountStreams{Balance: big.NewInt(0)}
	}
	if entry.Balance == nil {
		entry.Balance = big.NewInt(0)
	}
	return entry
}

// AmtDelta is the difference-array cell for one settlement cycle of one
// receiving account. ThisCycle adjusts the amount received within the cycle
// it is keyed by, NextCycle carries the fixed-point remainder into the
// following cycle.
type AmtDelta struct {
	ThisCycle *big.Int
	NextCycle *big.Int
}

// Clone returns a deep copy of the delta cell.
func (d *AmtDelta) Clone() *AmtDelta {
	if d == nil {
		return nil
	}
	clone := &AmtDelta{ThisCycle: big.NewInt(0), NextCycle: big.NewInt(0)}
	if d.ThisCycle != nil {
		clone.ThisCycle = new(big.Int).Set(d.ThisCycle)
	}
	if d.NextCycle != nil {
		clone.NextCycle = new(big.Int).Set(d.NextCycle)
	}
	return clone
}

func ensureAmtDelta(d *AmtDelta) *AmtDelta {
	if d == nil {
		return &AmtDelta{ThisCycle: big.NewInt(0), NextCycle: big.NewInt(0)}
	}
	if d.ThisCycle == nil {
		d.ThisCycle = big.NewInt(0)
	}
	if d.NextCycle == nil {
		d.NextCycle = big.NewInt(0)
	}
	return d
}
