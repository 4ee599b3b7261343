package splits

import (
	"encoding/hex"
	"math/big"
	"strconv"

	"dripsledger/core/types"
)

const (
	EventTypeSplitsSet = "splits.set"
	EventTypeSplit     = "splits.split"
	EventTypeCollected = "splits.collected"
)

type splitsEvent struct {
	evt *types.Event
}

func (e splitsEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e splitsEvent) Event() *types.Event { return e.evt }

func formatAmount(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

// NewSplitsSetEvent carries the full configuration so off-chain consumers can
// reconstruct what the ledger only stores as a hash.
func NewSplitsSetEvent(account types.AccountID, hash [32]byte, receivers []SplitsReceiver) *types.Event {
	attrs := map[string]string{
		"account":        account.String(),
		"receiversHash":  hex.EncodeToString(hash[:]),
		"receiversCount": strconv.Itoa(len(receivers)),
	}
	for i, recv := range receivers {
		prefix := "receiver." + strconv.Itoa(i) + "."
		attrs[prefix+"account"] = recv.AccountID.String()
		attrs[prefix+"weight"] = strconv.FormatUint(uint64(recv.Weight), 10)
	}
	return &types.Event{Type: EventTypeSplitsSet, Attributes: attrs}
}

// NewSplitEvent reports the outcome of pushing a splittable balance through
// the graph.
func NewSplitEvent(account types.AccountID, token types.TokenID, collectableAmt, splitAmt *big.Int) *types.Event {
	return &types.Event{
		Type: EventTypeSplit,
		Attributes: map[string]string{
			"account":     account.String(),
			"token":       token.String(),
			"collectable": formatAmount(collectableAmt),
			"split":       formatAmount(splitAmt),
		},
	}
}

// NewCollectedEvent reports a drained collectable balance.
func NewCollectedEvent(account types.AccountID, token types.TokenID, amt *big.Int) *types.Event {
	return &types.Event{
		Type: EventTypeCollected,
		Attributes: map[string]string{
			"account": account.String(),
			"token":   token.String(),
			"amount":  formatAmount(amt),
		},
	}
}
