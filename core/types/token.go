package types

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// TokenID is the 20-byte address of the ERC-20 contract a ledger entry is
// denominated in. Tokens are never commingled; every balance in the system is
// tracked per (account, token) pair.
type TokenID [20]byte

// String renders the token address as 0x-prefixed hex.
func (t TokenID) String() string {
	return "0x" + hex.EncodeToString(t[:])
}

// ParseTokenID decodes a 0x-prefixed or bare 40-character hex token address.
func ParseTokenID(s string) (TokenID, error) {
	trimmed := strings.TrimPrefix(strings.TrimSpace(s), "0x")
	raw, err := hex.DecodeString(trimmed)
	if err != nil {
		return TokenID{}, fmt.Errorf("invalid token address %q: %w", s, err)
	}
	if len(raw) != 20 {
		return TokenID{}, fmt.Errorf("invalid token address length: %d", len(raw))
	}
	var t TokenID
	copy(t[:], raw)
	return t, nil
}
