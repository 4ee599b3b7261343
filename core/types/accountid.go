package types

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"strings"
)

// AccountID identifies a single ledger account. The Driver field names the
// driver contract that owns the account and is the sole authority allowed to
// mutate it; Sub is an opaque 224-bit payload chosen by that driver (an
// address, an NFT id, a repository hash).
type AccountID struct {
	Driver uint32
	Sub    [28]byte
}

// NewAccountID builds an account identifier from a driver id and payload.
func NewAccountID(driver uint32, sub [28]byte) AccountID {
	return AccountID{Driver: driver, Sub: sub}
}

// Bytes returns the canonical 32-byte encoding: the driver id in the top four
// bytes (big endian) followed by the payload. This reproduces the
// driverId<<224|driverData wire layout expected by external tooling.
func (id AccountID) Bytes() [32]byte {
	var buf [32]byte
	binary.BigEndian.PutUint32(buf[:4], id.Driver)
	copy(buf[4:], id.Sub[:])
	return buf
}

// AccountIDFromBytes decodes the canonical 32-byte encoding.
func AccountIDFromBytes(buf [32]byte) AccountID {
	id := AccountID{Driver: binary.BigEndian.Uint32(buf[:4])}
	copy(id.Sub[:], buf[4:])
	return id
}

// String renders the account id as 0x-prefixed hex of its canonical encoding.
func (id AccountID) String() string {
	buf := id.Bytes()
	return "0x" + hex.EncodeToString(buf[:])
}

// ParseAccountID decodes a 0x-prefixed or bare 64-character hex account id.
func ParseAccountID(s string) (AccountID, error) {
	trimmed := strings.TrimPrefix(strings.TrimSpace(s), "0x")
	raw, err := hex.DecodeString(trimmed)
	if err != nil {
		return AccountID{}, fmt.Errorf("invalid account id %q: %w", s, err)
	}
	if len(raw) != 32 {
		return AccountID{}, fmt.Errorf("invalid account id length: %d", len(raw))
	}
	var buf [32]byte
	copy(buf[:], raw)
	return AccountIDFromBytes(buf), nil
}
