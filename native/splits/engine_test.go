package splits

import (
	"errors"
	"math/big"
	"math/rand"
	"testing"

	"dripsledger/core/types"
)

type mockState struct {
	hashes   map[string][32]byte
	balances map[string]*Balance
}

func newMockState() *mockState {
	return &mockState{
		hashes:   make(map[string][32]byte),
		balances: make(map[string]*Balance),
	}
}

func balanceKey(account types.AccountID, token types.TokenID) string {
	return account.String() + "/" + token.String()
}

func (m *mockState) SplitsHashGet(account types.AccountID) ([32]byte, error) {
	return m.hashes[account.String()], nil
}

func (m *mockState) SplitsHashPut(account types.AccountID, hash [32]byte) error {
	m.hashes[account.String()] = hash
	return nil
}

func (m *mockState) SplitsBalanceGet(account types.AccountID, token types.TokenID) (*Balance, bool, error) {
	balance, ok := m.balances[balanceKey(account, token)]
	if !ok {
		return nil, false, nil
	}
	return balance.Clone(), true, nil
}

func (m *mockState) SplitsBalancePut(account types.AccountID, token types.TokenID, balance *Balance) error {
	m.balances[balanceKey(account, token)] = balance.Clone()
	return nil
}

func testAccount(driver uint32, fill byte) types.AccountID {
	var sub [28]byte
	for i := range sub {
		sub[i] = fill
	}
	return types.NewAccountID(driver, sub)
}

func testToken(fill byte) types.TokenID {
	var token types.TokenID
	for i := range token {
		token[i] = fill
	}
	return token
}

func newTestEngine() (*Engine, *mockState) {
	engine := NewEngine()
	state := newMockState()
	engine.SetState(state)
	return engine, state
}

func TestSetSplitsValidation(t *testing.T) {
	engine, _ := newTestEngine()
	account := testAccount(1, 0xAA)
	r1 := testAccount(1, 0x01)
	r2 := testAccount(1, 0x02)

	cases := []struct {
		name      string
		receivers []SplitsReceiver
	}{
		{"zero weight", []SplitsReceiver{{AccountID: r1, Weight: 0}}},
		{"unsorted", []SplitsReceiver{{AccountID: r2, Weight: 1}, {AccountID: r1, Weight: 1}}},
		{"duplicate", []SplitsReceiver{{AccountID: r1, Weight: 1}, {AccountID: r1, Weight: 1}}},
		{"weights above total", []SplitsReceiver{{AccountID: r1, Weight: TotalWeight}, {AccountID: r2, Weight: 1}}},
	}
	for _, tc := range cases {
		if err := engine.SetSplits(account, tc.receivers); !errors.Is(err, ErrInvalidSplitsReceivers) {
			t.Fatalf("%s: expected ErrInvalidSplitsReceivers, got %v", tc.name, err)
		}
	}

	valid := []SplitsReceiver{{AccountID: r1, Weight: 300_000}, {AccountID: r2, Weight: 700_000}}
	if err := engine.SetSplits(account, valid); err != nil {
		t.Fatalf("valid configuration rejected: %v", err)
	}
}

func TestSetSplitsRejectsOversizedList(t *testing.T) {
	engine, _ := newTestEngine()
	account := testAccount(1, 0xAA)

	var receivers []SplitsReceiver
	for i := 0; i <= MaxSplitsReceivers; i++ {
		var sub [28]byte
		sub[26] = byte(i >> 8)
		sub[27] = byte(i)
		receivers = append(receivers, SplitsReceiver{AccountID: types.NewAccountID(1, sub), Weight: 1})
	}
	if err := engine.SetSplits(account, receivers); !errors.Is(err, ErrInvalidSplitsReceivers) {
		t.Fatalf("oversized list accepted: %v", err)
	}
	if err := engine.SetSplits(account, receivers[:MaxSplitsReceivers]); err != nil {
		t.Fatalf("list at the limit rejected: %v", err)
	}
}

func TestSplitRequiresCurrentReceivers(t *testing.T) {
	engine, _ := newTestEngine()
	account := testAccount(1, 0xAA)
	token := testToken(0x01)
	configured := []SplitsReceiver{{AccountID: testAccount(1, 0x01), Weight: 100_000}}

	if err := engine.SetSplits(account, configured); err != nil {
		t.Fatalf("set splits: %v", err)
	}
	if _, _, err := engine.Split(account, token, nil); !errors.Is(err, ErrInvalidCurrentSplits) {
		t.Fatalf("expected ErrInvalidCurrentSplits, got %v", err)
	}
}

func TestSplitDistributesExactly(t *testing.T) {
	engine, state := newTestEngine()
	account := testAccount(1, 0xAA)
	r1 := testAccount(1, 0x01)
	r2 := testAccount(1, 0x02)
	token := testToken(0x01)
	receivers := []SplitsReceiver{
		{AccountID: r1, Weight: 300_000}, // 30%
		{AccountID: r2, Weight: 200_000}, // 20%
	}

	if err := engine.SetSplits(account, receivers); err != nil {
		t.Fatalf("set splits: %v", err)
	}
	if err := engine.AddSplittable(account, token, big.NewInt(105)); err != nil {
		t.Fatalf("add splittable: %v", err)
	}

	collectable, split, err := engine.Split(account, token, receivers)
	if err != nil {
		t.Fatalf("split: %v", err)
	}
	// Cumulative-weight rounding: r1 gets 31 of 31.5, r2 gets 21 of 21.0.
	if split.Cmp(big.NewInt(52)) != 0 {
		t.Fatalf("split amount = %s, want 52", split)
	}
	if collectable.Cmp(big.NewInt(53)) != 0 {
		t.Fatalf("collectable amount = %s, want 53", collectable)
	}

	got1, _ := engine.Splittable(r1, token)
	got2, _ := engine.Splittable(r2, token)
	if got1.Cmp(big.NewInt(31)) != 0 || got2.Cmp(big.NewInt(21)) != 0 {
		t.Fatalf("receiver shares = (%s, %s), want (31, 21)", got1, got2)
	}

	balance := state.balances[balanceKey(account, token)]
	if balance.Splittable.Sign() != 0 {
		t.Fatalf("splittable after split = %s, want 0", balance.Splittable)
	}
	if balance.Collectable.Cmp(big.NewInt(53)) != 0 {
		t.Fatalf("collectable after split = %s, want 53", balance.Collectable)
	}
}

func TestSplitSelfReceiverStaysCollectable(t *testing.T) {
	engine, _ := newTestEngine()
	account := testAccount(1, 0xAA)
	token := testToken(0x01)
	receivers := []SplitsReceiver{{AccountID: account, Weight: 500_000}}

	if err := engine.SetSplits(account, receivers); err != nil {
		t.Fatalf("set splits: %v", err)
	}
	if err := engine.AddSplittable(account, token, big.NewInt(100)); err != nil {
		t.Fatalf("add splittable: %v", err)
	}

	collectable, split, err := engine.Split(account, token, receivers)
	if err != nil {
		t.Fatalf("split: %v", err)
	}
	if split.Sign() != 0 {
		t.Fatalf("split amount = %s, want 0", split)
	}
	if collectable.Cmp(big.NewInt(100)) != 0 {
		t.Fatalf("collectable amount = %s, want 100", collectable)
	}

	splittable, _ := engine.Splittable(account, token)
	if splittable.Sign() != 0 {
		t.Fatalf("self-split left splittable = %s, want 0", splittable)
	}
}

func TestSplitConservationRandomized(t *testing.T) {
	engine, _ := newTestEngine()
	token := testToken(0x01)
	rng := rand.New(rand.NewSource(42))

	for round := 0; round < 50; round++ {
		account := testAccount(1, 0xAA)
		count := 1 + rng.Intn(8)
		remaining := uint32(TotalWeight)
		var receivers []SplitsReceiver
		for i := 0; i < count && remaining > 0; i++ {
			weight := uint32(rng.Intn(int(remaining))) + 1
			remaining -= weight
			var sub [28]byte
			sub[0] = byte(round)
			sub[27] = byte(i + 1)
			receivers = append(receivers, SplitsReceiver{AccountID: types.NewAccountID(1, sub), Weight: weight})
		}
		if err := engine.SetSplits(account, receivers); err != nil {
			t.Fatalf("round %d: set splits: %v", round, err)
		}

		amount := big.NewInt(rng.Int63n(1_000_000_000) + 1)
		if err := engine.AddSplittable(account, token, amount); err != nil {
			t.Fatalf("round %d: add splittable: %v", round, err)
		}

		collectable, split, err := engine.Split(account, token, receivers)
		if err != nil {
			t.Fatalf("round %d: split: %v", round, err)
		}
		if total := new(big.Int).Add(collectable, split); total.Cmp(amount) != 0 {
			t.Fatalf("round %d: %s + %s != %s", round, collectable, split, amount)
		}

		wantCollectable, wantSplit := SplitResult(amount, account, receivers)
		if collectable.Cmp(wantCollectable) != 0 || split.Cmp(wantSplit) != 0 {
			t.Fatalf("round %d: SplitResult disagrees: (%s, %s) vs (%s, %s)",
				round, collectable, split, wantCollectable, wantSplit)
		}

		if _, err := engine.Collect(account, token); err != nil {
			t.Fatalf("round %d: collect: %v", round, err)
		}
	}
}

func TestSplitWithEmptyConfiguration(t *testing.T) {
	engine, _ := newTestEngine()
	account := testAccount(1, 0xAA)
	token := testToken(0x01)

	if err := engine.AddSplittable(account, token, big.NewInt(77)); err != nil {
		t.Fatalf("add splittable: %v", err)
	}
	collectable, split, err := engine.Split(account, token, nil)
	if err != nil {
		t.Fatalf("split: %v", err)
	}
	if split.Sign() != 0 || collectable.Cmp(big.NewInt(77)) != 0 {
		t.Fatalf("empty-config split = (%s, %s), want (77, 0)", collectable, split)
	}
}

func TestCollectDrains(t *testing.T) {
	engine, _ := newTestEngine()
	account := testAccount(1, 0xAA)
	token := testToken(0x01)

	if err := engine.AddSplittable(account, token, big.NewInt(40)); err != nil {
		t.Fatalf("add splittable: %v", err)
	}
	if _, _, err := engine.Split(account, token, nil); err != nil {
		t.Fatalf("split: %v", err)
	}

	amt, err := engine.Collect(account, token)
	if err != nil {
		t.Fatalf("collect: %v", err)
	}
	if amt.Cmp(big.NewInt(40)) != 0 {
		t.Fatalf("collected = %s, want 40", amt)
	}

	again, err := engine.Collect(account, token)
	if err != nil {
		t.Fatalf("second collect: %v", err)
	}
	if again.Sign() != 0 {
		t.Fatalf("second collect = %s, want 0", again)
	}
}

func TestHashReceiversCommitment(t *testing.T) {
	if got := HashReceivers(nil); got != ([32]byte{}) {
		t.Fatalf("empty configuration must hash to the zero value, got %x", got)
	}
	r1 := SplitsReceiver{AccountID: testAccount(1, 0x01), Weight: 100}
	r2 := SplitsReceiver{AccountID: testAccount(1, 0x02), Weight: 200}
	if HashReceivers([]SplitsReceiver{r1, r2}) == HashReceivers([]SplitsReceiver{r2, r1}) {
		t.Fatal("hash must be order sensitive")
	}
	changed := r2
	changed.Weight = 300
	if HashReceivers([]SplitsReceiver{r1, r2}) == HashReceivers([]SplitsReceiver{r1, changed}) {
		t.Fatal("hash must cover weights")
	}
}
