package drips

import (
	"encoding/hex"
	"math/big"
	"strconv"

	"dripsledger/core/types"
)

const (
	EventTypeDriverRegistered = "drips.driver_registered"
	EventTypeDriverUpdated    = "drips.driver_updated"
	EventTypeGiven            = "drips.given"
	EventTypeAccountMetadata  = "drips.account_metadata"
)

type hubEvent struct {
	evt *types.Event
}

func (e hubEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e hubEvent) Event() *types.Event { return e.evt }

func formatAmount(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

// NewDriverRegisteredEvent reports a newly assigned driver id.
func NewDriverRegisteredEvent(driverID uint32, addr [20]byte) *types.Event {
	return &types.Event{
		Type: EventTypeDriverRegistered,
		Attributes: map[string]string{
			"driverId": strconv.FormatUint(uint64(driverID), 10),
			"address":  "0x" + hex.EncodeToString(addr[:]),
		},
	}
}

// NewDriverUpdatedEvent reports a driver id handover.
func NewDriverUpdatedEvent(driverID uint32, oldAddr, newAddr [20]byte) *types.Event {
	return &types.Event{
		Type: EventTypeDriverUpdated,
		Attributes: map[string]string{
			"driverId":   strconv.FormatUint(uint64(driverID), 10),
			"oldAddress": "0x" + hex.EncodeToString(oldAddr[:]),
			"newAddress": "0x" + hex.EncodeToString(newAddr[:]),
		},
	}
}

// NewGivenEvent reports a direct deposit into a receiver's splittable
// balance.
func NewGivenEvent(account, receiver types.AccountID, token types.TokenID, amt *big.Int) *types.Event {
	return &types.Event{
		Type: EventTypeGiven,
		Attributes: map[string]string{
			"account":  account.String(),
			"receiver": receiver.String(),
			"token":    token.String(),
			"amount":   formatAmount(amt),
		},
	}
}

// NewAccountMetadataEvent publishes account metadata for off-chain indexers.
func NewAccountMetadataEvent(account types.AccountID, entries []MetadataEntry) *types.Event {
	attrs := map[string]string{
		"account": account.String(),
		"entries": strconv.Itoa(len(entries)),
	}
	for i, entry := range entries {
		prefix := "entry." + strconv.Itoa(i) + "."
		attrs[prefix+"key"] = entry.Key
		attrs[prefix+"value"] = entry.Value
	}
	return &types.Event{Type: EventTypeAccountMetadata, Attributes: attrs}
}
