package streams

import (
	"errors"
	"math/big"
	"testing"
)

func TestValidateReceiversOrdering(t *testing.T) {
	a := testReceiver(1, 0x01, StreamConfig{AmtPerSec: unitRate(1)})
	b := testReceiver(1, 0x02, StreamConfig{AmtPerSec: unitRate(1)})

	if err := ValidateReceivers([]StreamReceiver{a, b}); err != nil {
		t.Fatalf("sorted list rejected: %v", err)
	}
	if err := ValidateReceivers([]StreamReceiver{b, a}); !errors.Is(err, ErrInvalidReceiverList) {
		t.Fatalf("unsorted list accepted: %v", err)
	}
	if err := ValidateReceivers([]StreamReceiver{a, a}); !errors.Is(err, ErrInvalidReceiverList) {
		t.Fatalf("duplicate entry accepted: %v", err)
	}

	// Same account twice is fine when the configs differ and are ordered.
	a2 := a
	a2.Config.StreamID = 7
	if err := ValidateReceivers([]StreamReceiver{a, a2}); err != nil {
		t.Fatalf("same account with distinct configs rejected: %v", err)
	}
}

func TestValidateReceiversBounds(t *testing.T) {
	var list []StreamReceiver
	for i := 0; i <= MaxStreamsReceivers; i++ {
		cfg := StreamConfig{StreamID: uint32(i), AmtPerSec: unitRate(1)}
		list = append(list, testReceiver(1, 0x01, cfg))
	}
	if err := ValidateReceivers(list); !errors.Is(err, ErrInvalidReceiverList) {
		t.Fatalf("oversized list accepted: %v", err)
	}
	if err := ValidateReceivers(list[:MaxStreamsReceivers]); err != nil {
		t.Fatalf("list at the limit rejected: %v", err)
	}

	zeroRate := testReceiver(1, 0x01, StreamConfig{AmtPerSec: big.NewInt(0)})
	if err := ValidateReceivers([]StreamReceiver{zeroRate}); !errors.Is(err, ErrInvalidReceiverList) {
		t.Fatalf("zero rate accepted: %v", err)
	}
	hugeRate := testReceiver(1, 0x01, StreamConfig{AmtPerSec: new(big.Int).Lsh(big.NewInt(1), 160)})
	if err := ValidateReceivers([]StreamReceiver{hugeRate}); !errors.Is(err, ErrInvalidReceiverList) {
		t.Fatalf("rate above 160 bits accepted: %v", err)
	}
}

func TestHashReceiversCommitment(t *testing.T) {
	if got := HashReceivers(nil); got != ([32]byte{}) {
		t.Fatalf("empty list must hash to the zero value, got %x", got)
	}

	a := testReceiver(1, 0x01, StreamConfig{AmtPerSec: unitRate(1)})
	b := testReceiver(1, 0x02, StreamConfig{AmtPerSec: unitRate(2)})

	h1 := HashReceivers([]StreamReceiver{a, b})
	h2 := HashReceivers([]StreamReceiver{a, b})
	if h1 != h2 {
		t.Fatal("hash is not deterministic")
	}
	if h1 == HashReceivers([]StreamReceiver{b, a}) {
		t.Fatal("hash must be order sensitive")
	}
	if h1 == HashReceivers([]StreamReceiver{a}) {
		t.Fatal("hash must cover every entry")
	}

	changed := b
	changed.Config.Duration = 100
	if h1 == HashReceivers([]StreamReceiver{a, changed}) {
		t.Fatal("hash must cover the full config")
	}
}

func TestStreamConfigPackedRoundTrip(t *testing.T) {
	cfg := StreamConfig{
		StreamID:  42,
		AmtPerSec: big.NewInt(1_234_567_890_123),
		Start:     1_700_000_000,
		Duration:  604800,
	}
	got := unpackStreamConfig(cfg.packed())
	if got.StreamID != cfg.StreamID || got.Start != cfg.Start || got.Duration != cfg.Duration {
		t.Fatalf("round trip mismatch: %+v != %+v", got, cfg)
	}
	if got.AmtPerSec.Cmp(cfg.AmtPerSec) != 0 {
		t.Fatalf("rate mismatch: %s != %s", got.AmtPerSec, cfg.AmtPerSec)
	}
}

func TestAccountStreamsClone(t *testing.T) {
	entry := &AccountStreams{Balance: big.NewInt(100), LastUpdate: 5, MaxEnd: 50, NextReceivableCycle: 2}
	clone := entry.Clone()
	clone.Balance.SetInt64(7)
	clone.NextReceivableCycle = 9
	if entry.Balance.Int64() != 100 || entry.NextReceivableCycle != 2 {
		t.Fatal("clone shares state with the original")
	}
}
