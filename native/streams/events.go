package streams

import (
	"encoding/hex"
	"math/big"
	"strconv"

	"dripsledger/core/types"
)

const (
	EventTypeStreamsSet      = "streams.set"
	EventTypeStreamsReceived = "streams.received"
	EventTypeStreamsSqueezed = "streams.squeezed"
)

type streamsEvent struct {
	evt *types.Event
}

func (e streamsEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e streamsEvent) Event() *types.Event { return e.evt }

func formatAmount(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

// NewStreamsSetEvent returns the canonical payload for a streams
// configuration change. The full receiver list travels in the event so
// off-chain consumers can reconstruct what only lives on-chain as a hash.
func NewStreamsSetEvent(account types.AccountID, token types.TokenID, entry *AccountStreams, receivers []StreamReceiver, realBalanceDelta *big.Int) *types.Event {
	hash := entry.ReceiversHash
	attrs := map[string]string{
		"account":        account.String(),
		"token":          token.String(),
		"balance":        formatAmount(entry.Balance),
		"balanceDelta":   formatAmount(realBalanceDelta),
		"maxEnd":         strconv.FormatUint(uint64(entry.MaxEnd), 10),
		"receiversHash":  hex.EncodeToString(hash[:]),
		"receiversCount": strconv.Itoa(len(receivers)),
		"lastUpdate":     strconv.FormatUint(uint64(entry.LastUpdate), 10),
	}
	for i, recv := range receivers {
		prefix := "receiver." + strconv.Itoa(i) + "."
		attrs[prefix+"account"] = recv.AccountID.String()
		attrs[prefix+"amtPerSec"] = formatAmount(recv.Config.AmtPerSec)
		attrs[prefix+"streamId"] = strconv.FormatUint(uint64(recv.Config.StreamID), 10)
		attrs[prefix+"start"] = strconv.FormatUint(uint64(recv.Config.Start), 10)
		attrs[prefix+"duration"] = strconv.FormatUint(uint64(recv.Config.Duration), 10)
	}
	return &types.Event{Type: EventTypeStreamsSet, Attributes: attrs}
}

// NewStreamsReceivedEvent returns the canonical payload emitted when settled
// cycles are realized for a receiver.
func NewStreamsReceivedEvent(account types.AccountID, token types.TokenID, amt *big.Int, cycles, receivableCycles uint32) *types.Event {
	return &types.Event{
		Type: EventTypeStreamsReceived,
		Attributes: map[string]string{
			"account":          account.String(),
			"token":            token.String(),
			"amount":           formatAmount(amt),
			"cycles":           strconv.FormatUint(uint64(cycles), 10),
			"receivableCycles": strconv.FormatUint(uint64(receivableCycles), 10),
		},
	}
}

// NewStreamsSqueezedEvent returns the canonical payload emitted when a
// receiver realizes current-cycle funds from a single sender early.
func NewStreamsSqueezedEvent(account types.AccountID, token types.TokenID, sender types.AccountID, amt *big.Int) *types.Event {
	return &types.Event{
		Type: EventTypeStreamsSqueezed,
		Attributes: map[string]string{
			"account": account.String(),
			"token":   token.String(),
			"sender":  sender.String(),
			"amount":  formatAmount(amt),
		},
	}
}
