package rpc

import (
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"

	"dripsledger/core/types"
	"dripsledger/native/splits"
	"dripsledger/native/streams"
)

// StreamReceiverJSON is the wire form of one stream receiver entry.
type StreamReceiverJSON struct {
	AccountID string `json:"accountId"`
	StreamID  uint32 `json:"streamId"`
	AmtPerSec string `json:"amtPerSec"`
	Start     uint32 `json:"start"`
	Duration  uint32 `json:"duration"`
}

// SplitsReceiverJSON is the wire form of one splits receiver entry.
type SplitsReceiverJSON struct {
	AccountID string `json:"accountId"`
	Weight    uint32 `json:"weight"`
}

// MetadataEntryJSON is the wire form of one account metadata pair.
type MetadataEntryJSON struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// decString formats a big integer as a decimal string, treating nil as zero.
func decString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

// parseAmount decodes a decimal string into a big integer. Amount strings keep
// full precision across JSON clients that would otherwise truncate to float64.
func parseAmount(raw string) (*big.Int, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, fmt.Errorf("amount required")
	}
	v, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount %q", raw)
	}
	return v, nil
}

// parseSignedAmount decodes a decimal string that may carry a sign. An empty
// string is zero, letting balance-preserving calls omit the field.
func parseSignedAmount(raw string) (*big.Int, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return big.NewInt(0), nil
	}
	v, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount %q", raw)
	}
	return v, nil
}

// parseAddress decodes a 0x-prefixed 20-byte hex driver address.
func parseAddress(raw string) ([20]byte, error) {
	var addr [20]byte
	trimmed := strings.TrimPrefix(strings.TrimSpace(raw), "0x")
	decoded, err := hex.DecodeString(trimmed)
	if err != nil {
		return addr, fmt.Errorf("invalid address %q: %w", raw, err)
	}
	if len(decoded) != len(addr) {
		return addr, fmt.Errorf("invalid address length %d", len(decoded))
	}
	copy(addr[:], decoded)
	return addr, nil
}

func formatAddress(addr [20]byte) string {
	return "0x" + hex.EncodeToString(addr[:])
}

func decodeStreamReceivers(entries []StreamReceiverJSON) ([]streams.StreamReceiver, error) {
	if len(entries) == 0 {
		return nil, nil
	}
	receivers := make([]streams.StreamReceiver, len(entries))
	for i, entry := range entries {
		account, err := types.ParseAccountID(entry.AccountID)
		if err != nil {
			return nil, fmt.Errorf("receiver %d: %w", i, err)
		}
		amtPerSec, err := parseAmount(entry.AmtPerSec)
		if err != nil {
			return nil, fmt.Errorf("receiver %d: %w", i, err)
		}
		receivers[i] = streams.StreamReceiver{
			AccountID: account,
			Config: streams.StreamConfig{
				StreamID:  entry.StreamID,
				AmtPerSec: amtPerSec,
				Start:     entry.Start,
				Duration:  entry.Duration,
			},
		}
	}
	return receivers, nil
}

func decodeSplitsReceivers(entries []SplitsReceiverJSON) ([]splits.SplitsReceiver, error) {
	if len(entries) == 0 {
		return nil, nil
	}
	receivers := make([]splits.SplitsReceiver, len(entries))
	for i, entry := range entries {
		account, err := types.ParseAccountID(entry.AccountID)
		if err != nil {
			return nil, fmt.Errorf("receiver %d: %w", i, err)
		}
		receivers[i] = splits.SplitsReceiver{AccountID: account, Weight: entry.Weight}
	}
	return receivers, nil
}
