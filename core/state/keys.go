package state

import (
	"encoding/binary"

	"dripsledger/core/types"
)

var (
	streamsStatePrefix   = []byte("streams/state/")
	streamsDeltaPrefix   = []byte("streams/delta/")
	streamsSqueezePrefix = []byte("streams/squeeze/")
	splitsHashPrefix     = []byte("splits/hash/")
	splitsBalancePrefix  = []byte("splits/balance/")
	driverAddressPrefix  = []byte("drips/driver/")
	driverCountKey       = []byte("drips/driver-count")
	cycleSecsKey         = []byte("drips/cycle-secs")
	totalBalancePrefix   = []byte("drips/total/")
)

// All key pieces are fixed width, so plain concatenation is unambiguous.

func accountTokenKey(prefix []byte, account types.AccountID, token types.TokenID) []byte {
	acct := account.Bytes()
	buf := make([]byte, 0, len(prefix)+len(acct)+len(token))
	buf = append(buf, prefix...)
	buf = append(buf, acct[:]...)
	buf = append(buf, token[:]...)
	return buf
}

func streamsStateKey(account types.AccountID, token types.TokenID) []byte {
	return accountTokenKey(streamsStatePrefix, account, token)
}

func streamsDeltaKey(account types.AccountID, token types.TokenID, cycle uint32) []byte {
	buf := accountTokenKey(streamsDeltaPrefix, account, token)
	var cycleBuf [4]byte
	binary.BigEndian.PutUint32(cycleBuf[:], cycle)
	return append(buf, cycleBuf[:]...)
}

func streamsSqueezeKey(account types.AccountID, token types.TokenID, sender types.AccountID) []byte {
	buf := accountTokenKey(streamsSqueezePrefix, account, token)
	senderBytes := sender.Bytes()
	return append(buf, senderBytes[:]...)
}

func splitsHashKey(account types.AccountID) []byte {
	acct := account.Bytes()
	buf := make([]byte, 0, len(splitsHashPrefix)+len(acct))
	buf = append(buf, splitsHashPrefix...)
	return append(buf, acct[:]...)
}

func splitsBalanceKey(account types.AccountID, token types.TokenID) []byte {
	return accountTokenKey(splitsBalancePrefix, account, token)
}

func driverAddressKey(driverID uint32) []byte {
	buf := make([]byte, len(driverAddressPrefix)+4)
	copy(buf, driverAddressPrefix)
	binary.BigEndian.PutUint32(buf[len(driverAddressPrefix):], driverID)
	return buf
}

func totalBalanceKey(token types.TokenID) []byte {
	buf := make([]byte, 0, len(totalBalancePrefix)+len(token))
	buf = append(buf, totalBalancePrefix...)
	return append(buf, token[:]...)
}
