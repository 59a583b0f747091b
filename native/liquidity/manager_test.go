package liquidity

import (
	"errors"
	"math/big"
	"testing"
)

type mockManagerState struct {
	pool *PoolStake
}

func (m *mockManagerState) GetPoolStake() (*PoolStake, error) { return m.pool, nil }

func (m *mockManagerState) PutPoolStake(pool *PoolStake) error {
	m.pool = pool
	return nil
}

func newTestManager(backend StakingBackend) (*Manager, *mockManagerState) {
	state := &mockManagerState{}
	mgr := NewManager(backend)
	mgr.SetState(state)
	return mgr, state
}

func TestAddPendingMergesSamePeriod(t *testing.T) {
	mgr, state := newTestManager(nil)

	merged, err := mgr.AddPending(big.NewInt(100), 7, false)
	if err != nil {
		t.Fatalf("first add: %v", err)
	}
	if merged {
		t.Fatalf("first add should create a new entry")
	}

	merged, err = mgr.AddPending(big.NewInt(50), 7, false)
	if err != nil {
		t.Fatalf("second add: %v", err)
	}
	if !merged {
		t.Fatalf("second add for the same period should merge")
	}

	entry := state.pool.PendingByPeriod[7]
	if entry == nil || entry.Principal.Cmp(big.NewInt(150)) != 0 {
		t.Fatalf("expected merged principal 150, got %v", entry)
	}
	if len(state.pool.PendingPeriods) != 1 {
		t.Fatalf("expected a single FIFO slot, got %d", len(state.pool.PendingPeriods))
	}
	if state.pool.TotalPrincipal.Cmp(big.NewInt(150)) != 0 {
		t.Fatalf("expected total principal 150, got %s", state.pool.TotalPrincipal)
	}
}

func TestAddPendingTracksFeePrincipal(t *testing.T) {
	mgr, state := newTestManager(nil)

	if _, err := mgr.AddPending(big.NewInt(200), 1, false); err != nil {
		t.Fatalf("add: %v", err)
	}
	if _, err := mgr.AddPending(big.NewInt(40), 1, true); err != nil {
		t.Fatalf("fee add: %v", err)
	}

	if state.pool.FeePrincipal.Cmp(big.NewInt(40)) != 0 {
		t.Fatalf("expected fee principal 40, got %s", state.pool.FeePrincipal)
	}
	if state.pool.TotalPrincipal.Cmp(big.NewInt(240)) != 0 {
		t.Fatalf("expected total principal 240, got %s", state.pool.TotalPrincipal)
	}
}

func TestWithdrawFromPendingFIFOOrder(t *testing.T) {
	mgr, state := newTestManager(nil)
	for i, amount := range []int64{10, 20, 30} {
		if _, err := mgr.AddPending(big.NewInt(amount), uint64(i+1), false); err != nil {
			t.Fatalf("seed %d: %v", i, err)
		}
	}

	withdrawals, err := mgr.WithdrawFromPending(big.NewInt(25))
	if err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	if len(withdrawals) != 2 {
		t.Fatalf("expected 2 withdrawals, got %d", len(withdrawals))
	}
	if withdrawals[0].Period != 1 || withdrawals[0].Amount.Cmp(big.NewInt(10)) != 0 {
		t.Fatalf("expected period 1 drained fully, got %+v", withdrawals[0])
	}
	if withdrawals[1].Period != 2 || withdrawals[1].Amount.Cmp(big.NewInt(15)) != 0 {
		t.Fatalf("expected 15 from period 2, got %+v", withdrawals[1])
	}

	if _, ok := state.pool.PendingByPeriod[1]; ok {
		t.Fatalf("period 1 should be deleted")
	}
	if remaining := state.pool.PendingByPeriod[2].Principal; remaining.Cmp(big.NewInt(5)) != 0 {
		t.Fatalf("expected 5 left in period 2, got %s", remaining)
	}
	if untouched := state.pool.PendingByPeriod[3].Principal; untouched.Cmp(big.NewInt(30)) != 0 {
		t.Fatalf("period 3 must be untouched, got %s", untouched)
	}
	if state.pool.TotalPrincipal.Cmp(big.NewInt(35)) != 0 {
		t.Fatalf("expected total principal 35, got %s", state.pool.TotalPrincipal)
	}
}

func TestWithdrawFromPendingInsufficient(t *testing.T) {
	mgr, state := newTestManager(nil)
	if _, err := mgr.AddPending(big.NewInt(10), 1, false); err != nil {
		t.Fatalf("seed: %v", err)
	}

	if _, err := mgr.WithdrawFromPending(big.NewInt(11)); !errors.Is(err, ErrInsufficientPending) {
		t.Fatalf("expected ErrInsufficientPending, got %v", err)
	}
	if state.pool.PendingByPeriod[1].Principal.Cmp(big.NewInt(10)) != 0 {
		t.Fatalf("queue must be unchanged after a failed withdrawal")
	}
}

type yieldBackend struct {
	bps int64
}

func (b yieldBackend) ConvertedValue(_ uint64, principal *big.Int) *big.Int {
	value := new(big.Int).Mul(principal, big.NewInt(10_000+b.bps))
	return value.Quo(value, big.NewInt(10_000))
}

func TestConvertMaturedRespectsPeriodAndBound(t *testing.T) {
	mgr, state := newTestManager(nil)
	for i, amount := range []int64{10, 20, 30} {
		if _, err := mgr.AddPending(big.NewInt(amount), uint64(i+1), false); err != nil {
			t.Fatalf("seed %d: %v", i, err)
		}
	}

	// Period 2 has passed but only one item may convert per call.
	result, err := mgr.ConvertMatured(2, 1, false)
	if err != nil {
		t.Fatalf("convert: %v", err)
	}
	if result.Entries != 1 {
		t.Fatalf("expected a single converted entry, got %d", result.Entries)
	}
	if result.ConvertedPrincipal.Cmp(big.NewInt(10)) != 0 {
		t.Fatalf("expected principal 10 converted, got %s", result.ConvertedPrincipal)
	}
	if state.pool.Active == nil || state.pool.Active.Principal.Cmp(big.NewInt(10)) != 0 {
		t.Fatalf("expected active principal 10, got %+v", state.pool.Active)
	}

	// The remaining matured entry converts next call; period 3 stays queued.
	result, err = mgr.ConvertMatured(2, 10, false)
	if err != nil {
		t.Fatalf("second convert: %v", err)
	}
	if result.Entries != 1 || result.ConvertedPrincipal.Cmp(big.NewInt(20)) != 0 {
		t.Fatalf("expected period 2 converted, got %+v", result)
	}
	if _, ok := state.pool.PendingByPeriod[3]; !ok {
		t.Fatalf("period 3 must remain pending")
	}
	if state.pool.TotalPrincipal.Cmp(big.NewInt(60)) != 0 {
		t.Fatalf("principal must be conserved without a fee split, got %s", state.pool.TotalPrincipal)
	}
}

func TestConvertMaturedSplitsFeeSliceWithYield(t *testing.T) {
	// 10% yield on conversion; fee principal is a quarter of the pool.
	mgr, state := newTestManager(yieldBackend{bps: 1_000})
	if _, err := mgr.AddPending(big.NewInt(300), 1, false); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if _, err := mgr.AddPending(big.NewInt(100), 1, true); err != nil {
		t.Fatalf("fee seed: %v", err)
	}

	result, err := mgr.ConvertMatured(1, 0, true)
	if err != nil {
		t.Fatalf("convert: %v", err)
	}

	// Converted value 440 (400 * 1.10); fee slice is 100/400 of that.
	if result.ConvertedValue.Cmp(big.NewInt(440)) != 0 {
		t.Fatalf("expected converted value 440, got %s", result.ConvertedValue)
	}
	if result.FeeSlice.Cmp(big.NewInt(110)) != 0 {
		t.Fatalf("expected fee slice 110, got %s", result.FeeSlice)
	}
	if state.pool.FeePrincipal.Sign() != 0 {
		t.Fatalf("fee principal must be zeroed once extracted, got %s", state.pool.FeePrincipal)
	}
	// Active keeps the non-fee principal portion.
	if state.pool.Active.Principal.Cmp(big.NewInt(300)) != 0 {
		t.Fatalf("expected active principal 300, got %s", state.pool.Active.Principal)
	}
	if state.pool.TotalPrincipal.Cmp(big.NewInt(300)) != 0 {
		t.Fatalf("expected total principal 300 after extraction, got %s", state.pool.TotalPrincipal)
	}
}

func TestSplitActive(t *testing.T) {
	mgr, state := newTestManager(nil)
	if _, err := mgr.AddPending(big.NewInt(100), 1, false); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if _, err := mgr.ConvertMatured(1, 0, false); err != nil {
		t.Fatalf("convert: %v", err)
	}

	out, err := mgr.SplitActive(big.NewInt(40))
	if err != nil {
		t.Fatalf("split: %v", err)
	}
	if out.Cmp(big.NewInt(40)) != 0 {
		t.Fatalf("expected 40 split out, got %s", out)
	}
	if state.pool.Active.Principal.Cmp(big.NewInt(60)) != 0 {
		t.Fatalf("expected 60 remaining, got %s", state.pool.Active.Principal)
	}

	if _, err := mgr.SplitActive(big.NewInt(61)); !errors.Is(err, ErrNoActiveStake) {
		t.Fatalf("expected ErrNoActiveStake for oversized split, got %v", err)
	}
}

func TestSplitActiveWithoutPosition(t *testing.T) {
	mgr, _ := newTestManager(nil)
	if _, err := mgr.SplitActive(big.NewInt(1)); !errors.Is(err, ErrNoActiveStake) {
		t.Fatalf("expected ErrNoActiveStake, got %v", err)
	}
}

func TestInvariantPendingPlusActiveEqualsTotal(t *testing.T) {
	mgr, state := newTestManager(nil)
	seed := []struct {
		amount int64
		period uint64
		isFee  bool
	}{
		{100, 1, false},
		{50, 2, true},
		{70, 2, false},
		{30, 4, false},
	}
	for _, s := range seed {
		if _, err := mgr.AddPending(big.NewInt(s.amount), s.period, s.isFee); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}
	if _, err := mgr.ConvertMatured(2, 0, false); err != nil {
		t.Fatalf("convert: %v", err)
	}
	if _, err := mgr.WithdrawFromPending(big.NewInt(10)); err != nil {
		t.Fatalf("withdraw: %v", err)
	}

	sum := new(big.Int).Add(state.pool.PendingTotal(), state.pool.ActivePrincipal())
	if sum.Cmp(state.pool.TotalPrincipal) != 0 {
		t.Fatalf("invariant broken: pending+active=%s total=%s", sum, state.pool.TotalPrincipal)
	}
}
