package splits

import (
	"bytes"
	"fmt"
	"math/big"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"

	"dripsledger/core/types"
)

const (
	// TotalWeight is the denominator of every split fraction. Receivers whose
	// weights sum below it leave the remainder with the splitting account.
	TotalWeight = 1_000_000

	// MaxSplitsReceivers bounds a splits configuration so applying it stays
	// within a predictable cost envelope.
	MaxSplitsReceivers = 200
)

// SplitsReceiver is one edge of the splits graph: a target account and the
// weight of the splittable balance routed to it, out of TotalWeight.
type SplitsReceiver struct {
	AccountID types.AccountID
	Weight    uint32
}

// ValidateReceivers checks length, non-zero weights, the TotalWeight sum cap
// and the strict account-id ordering that makes configuration hashes
// canonical.
func ValidateReceivers(receivers []SplitsReceiver) error {
	if len(receivers) > MaxSplitsReceivers {
		return fmt.Errorf("%w: too many receivers: %d", ErrInvalidSplitsReceivers, len(receivers))
	}
	totalWeight := uint64(0)
	for i, recv := range receivers {
		if recv.Weight == 0 {
			return fmt.Errorf("%w: receiver %d has zero weight", ErrInvalidSplitsReceivers, i)
		}
		totalWeight += uint64(recv.Weight)
		if i > 0 {
			prev, curr := receivers[i-1].AccountID.Bytes(), recv.AccountID.Bytes()
			if bytes.Compare(prev[:], curr[:]) >= 0 {
				return fmt.Errorf("%w: receivers not sorted or duplicated at %d", ErrInvalidSplitsReceivers, i)
			}
		}
	}
	if totalWeight > TotalWeight {
		return fmt.Errorf("%w: weights sum to %d, max %d", ErrInvalidSplitsReceivers, totalWeight, TotalWeight)
	}
	return nil
}

type splitsReceiverWire struct {
	AccountID [32]byte
	Weight    uint32
}

// HashReceivers computes the order-sensitive commitment to a splits
// configuration: keccak256 over the RLP encoding of the (accountId, weight)
// pairs. The empty configuration hashes to the zero value.
func HashReceivers(receivers []SplitsReceiver) [32]byte {
	if len(receivers) == 0 {
		return [32]byte{}
	}
	wire := make([]splitsReceiverWire, len(receivers))
	for i, recv := range receivers {
		wire[i] = splitsReceiverWire{AccountID: recv.AccountID.Bytes(), Weight: recv.Weight}
	}
	encoded, err := rlp.EncodeToBytes(wire)
	if err != nil {
		// The wire struct contains only fixed-width fields, encoding cannot fail.
		panic(fmt.Sprintf("splits: encode receivers: %v", err))
	}
	return ethcrypto.Keccak256Hash(encoded)
}

// Balance tracks the two pools each (account, token) pair owns on the
// splitting side: funds received but not yet pushed through the splits graph,
// and funds already split and ready for withdrawal.
type Balance struct {
	Splittable  *big.Int
	Collectable *big.Int
}

// Clone returns a deep copy so callers can mutate freely.
func (b *Balance) Clone() *Balance {
	if b == nil {
		return nil
	}
	clone := &Balance{Splittable: big.NewInt(0), Collectable: big.NewInt(0)}
	if b.Splittable != nil {
		clone.Splittable = new(big.Int).Set(b.Splittable)
	}
	if b.Collectable != nil {
		clone.Collectable = new(big.Int).Set(b.Collectable)
	}
	return clone
}

func ensureBalance(b *Balance) *Balance {
	if b == nil {
		return &Balance{Splittable: big.NewInt(0), Collectable: big.NewInt(0)}
	}
	if b.Splittable == nil {
		b.Splittable = big.NewInt(0)
	}
	if b.Collectable == nil {
		b.Collectable = big.NewInt(0)
	}
	return b
}
