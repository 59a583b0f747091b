package settlement

import (
	"math/big"
	"testing"
	"time"

	"fxchain/native/liquidity"
	"fxchain/native/safetypool"
)

func newStakedPool(active int64) *liquidity.PoolStake {
	pool := liquidity.NewPoolStake()
	pool.Active = &liquidity.ActivePosition{Principal: big.NewInt(active)}
	pool.TotalPrincipal = big.NewInt(active)
	return pool
}

func TestRebalanceBufferStakesExcessSeparately(t *testing.T) {
	env := newTestEnv(t)
	env.seed(func(s *ProtocolState) {
		s.ReserveBalance = big.NewInt(2_000_000)
		s.StableSupply = big.NewInt(1_000_000)
		s.Buffer = big.NewInt(100_000)
		s.FeesCollected = big.NewInt(10_000)
	})

	summary, err := env.engine.RebalanceBuffer()
	if err != nil {
		t.Fatalf("rebalance buffer: %v", err)
	}
	// Total reserve 100000, 10% target keeps 10000 liquid; the 90000 excess
	// splits into 80000 ordinary and 10000 fee-derived stake.
	if summary.Staked.Cmp(big.NewInt(80_000)) != 0 {
		t.Fatalf("expected 80000 ordinary staked, got %s", summary.Staked)
	}
	if summary.StakedFees.Cmp(big.NewInt(10_000)) != 0 {
		t.Fatalf("expected 10000 fee staked, got %s", summary.StakedFees)
	}
	state := env.state.state
	if state.Buffer.Cmp(big.NewInt(10_000)) != 0 {
		t.Fatalf("expected buffer 10000, got %s", state.Buffer)
	}
	if state.FeesCollected.Sign() != 0 {
		t.Fatalf("expected fee ledger drained, got %s", state.FeesCollected)
	}
	pool := env.liquidityState.pool
	if pool.TotalPrincipal.Cmp(big.NewInt(90_000)) != 0 {
		t.Fatalf("expected 90000 pending, got %s", pool.TotalPrincipal)
	}
	if pool.FeePrincipal.Cmp(big.NewInt(10_000)) != 0 {
		t.Fatalf("expected fee principal 10000, got %s", pool.FeePrincipal)
	}
}

func TestRebalanceBufferConvertsMaturedWithFeeSplit(t *testing.T) {
	env := newTestEnv(t)
	env.seed(func(s *ProtocolState) {
		s.ReserveBalance = big.NewInt(2_000_000)
		s.StableSupply = big.NewInt(1_000_000)
		s.Buffer = big.NewInt(100_000)
		s.FeesCollected = big.NewInt(10_000)
	})

	if _, err := env.engine.RebalanceBuffer(); err != nil {
		t.Fatalf("first pass: %v", err)
	}
	// One full activation period later the pending stake matures.
	env.advance(2 * 24 * time.Hour)

	summary, err := env.engine.RebalanceBuffer()
	if err != nil {
		t.Fatalf("second pass: %v", err)
	}
	if summary.Converted.Cmp(big.NewInt(90_000)) != 0 {
		t.Fatalf("expected 90000 converted, got %s", summary.Converted)
	}
	if summary.FeeSlice.Cmp(big.NewInt(10_000)) != 0 {
		t.Fatalf("expected fee slice 10000, got %s", summary.FeeSlice)
	}
	state := env.state.state
	if state.FeeTreasury.Cmp(big.NewInt(10_000)) != 0 {
		t.Fatalf("expected fee treasury 10000, got %s", state.FeeTreasury)
	}
	pool := env.liquidityState.pool
	if pool.ActivePrincipal().Cmp(big.NewInt(80_000)) != 0 {
		t.Fatalf("expected active principal 80000, got %s", pool.ActivePrincipal())
	}
	if pool.FeePrincipal.Sign() != 0 {
		t.Fatalf("expected fee principal zeroed, got %s", pool.FeePrincipal)
	}
}

func TestRebalanceBufferTopsUpFromTreasury(t *testing.T) {
	env := newTestEnv(t)
	env.seed(func(s *ProtocolState) {
		s.ReserveBalance = big.NewInt(2_000_000)
		s.StableSupply = big.NewInt(1_000_000)
		s.Buffer = big.NewInt(0)
		s.FeeTreasury = big.NewInt(5_000)
	})
	env.liquidityState.pool = newStakedPool(90_000)

	summary, err := env.engine.RebalanceBuffer()
	if err != nil {
		t.Fatalf("rebalance buffer: %v", err)
	}
	// Target is 10% of 90000; the treasury covers 5000 of the 9000 gap.
	if summary.BufferTopUp.Cmp(big.NewInt(5_000)) != 0 {
		t.Fatalf("expected top-up 5000, got %s", summary.BufferTopUp)
	}
	if env.state.state.Buffer.Cmp(big.NewInt(5_000)) != 0 {
		t.Fatalf("expected buffer 5000, got %s", env.state.state.Buffer)
	}
	if env.state.state.FeeTreasury.Sign() != 0 {
		t.Fatalf("expected treasury drained, got %s", env.state.state.FeeTreasury)
	}
}

func TestSettleAndConsolidateSkipsFeeSplit(t *testing.T) {
	env := newTestEnv(t)
	env.seed(func(s *ProtocolState) {
		s.ReserveBalance = big.NewInt(2_000_000)
		s.StableSupply = big.NewInt(1_000_000)
		s.Buffer = big.NewInt(100_000)
		s.FeesCollected = big.NewInt(10_000)
	})

	if _, err := env.engine.RebalanceBuffer(); err != nil {
		t.Fatalf("stake pass: %v", err)
	}
	env.advance(2 * 24 * time.Hour)

	result, err := env.engine.SettleAndConsolidate()
	if err != nil {
		t.Fatalf("consolidate: %v", err)
	}
	if result.ConvertedPrincipal.Cmp(big.NewInt(90_000)) != 0 {
		t.Fatalf("expected 90000 converted, got %s", result.ConvertedPrincipal)
	}
	if result.FeeSlice.Sign() != 0 {
		t.Fatalf("housekeeping conversion must not split fees, got %s", result.FeeSlice)
	}
	// The fee principal stays attributed for a later splitting pass.
	if env.liquidityState.pool.FeePrincipal.Cmp(big.NewInt(10_000)) != 0 {
		t.Fatalf("expected fee principal preserved, got %s", env.liquidityState.pool.FeePrincipal)
	}
}

func TestHarvestYieldRoutesThroughSafetyPool(t *testing.T) {
	env := newTestEnv(t)
	alice := makeAddr(0x01)
	keeper := makeAddr(0x02)
	if err := env.safety.Deposit(alice, big.NewInt(1_000)); err != nil {
		t.Fatalf("pool deposit: %v", err)
	}

	result, err := env.engine.HarvestYield(keeper, big.NewInt(10_000))
	if err != nil {
		t.Fatalf("harvest: %v", err)
	}
	if result.Bounty.Cmp(big.NewInt(100)) != 0 {
		t.Fatalf("expected bounty 100, got %s", result.Bounty)
	}
	if env.safetyState.pool.Obligation.Cmp(big.NewInt(9_900)) != 0 {
		t.Fatalf("expected obligation 9900, got %s", env.safetyState.pool.Obligation)
	}
	// The retained yield enters custody alongside the obligation it backs.
	if env.state.state.ReserveBalance.Cmp(big.NewInt(9_900)) != 0 {
		t.Fatalf("expected reserve 9900, got %s", env.state.state.ReserveBalance)
	}
	if env.state.state.Buffer.Cmp(big.NewInt(9_900)) != 0 {
		t.Fatalf("expected buffer 9900, got %s", env.state.state.Buffer)
	}
}

func TestHarvestWithEmptyPoolLandsInReserve(t *testing.T) {
	env := newTestEnv(t)
	keeper := makeAddr(0x02)

	result, err := env.engine.HarvestYield(keeper, big.NewInt(10_000))
	if err != nil {
		t.Fatalf("harvest: %v", err)
	}
	if result.Bounty.Sign() != 0 || result.Indexed.Sign() != 0 {
		t.Fatalf("empty pool must not index or pay, got %+v", result)
	}
	if env.state.state.ReserveBalance.Cmp(big.NewInt(10_000)) != 0 {
		t.Fatalf("expected reserve 10000, got %s", env.state.state.ReserveBalance)
	}
}

func TestHarvestCycleKeepsCollateralRatio(t *testing.T) {
	env := newTestEnv(t)
	env.seed(func(s *ProtocolState) {
		s.ReserveBalance = big.NewInt(1_200_000)
		s.StableSupply = big.NewInt(1_000_000)
		s.Buffer = big.NewInt(0)
	})
	alice := makeAddr(0x01)
	keeper := makeAddr(0x02)
	if err := env.safety.Deposit(alice, big.NewInt(10_000)); err != nil {
		t.Fatalf("pool deposit: %v", err)
	}

	before, err := env.engine.CollateralRatio()
	if err != nil {
		t.Fatalf("ratio before: %v", err)
	}
	if _, err := env.engine.HarvestYield(keeper, big.NewInt(100_000)); err != nil {
		t.Fatalf("harvest: %v", err)
	}
	afterHarvest, err := env.engine.CollateralRatio()
	if err != nil {
		t.Fatalf("ratio after harvest: %v", err)
	}
	if afterHarvest.Cmp(before) < 0 {
		t.Fatalf("harvest lowered ratio: before %s after %s", before, afterHarvest)
	}
	if env.state.state.ReserveBalance.Cmp(big.NewInt(1_299_000)) != 0 {
		t.Fatalf("expected reserve 1299000, got %s", env.state.state.ReserveBalance)
	}

	claim, err := env.engine.ClaimPoolReward(alice)
	if err != nil {
		t.Fatalf("claim pool reward: %v", err)
	}
	if claim.Payout.Cmp(big.NewInt(99_000)) != 0 {
		t.Fatalf("expected payout 99000, got %s", claim.Payout)
	}
	afterClaim, err := env.engine.CollateralRatio()
	if err != nil {
		t.Fatalf("ratio after claim: %v", err)
	}
	if afterClaim.Cmp(before) < 0 {
		t.Fatalf("claim lowered ratio: before %s after %s", before, afterClaim)
	}
	// The reward was funded by the harvested yield, not tracked principal.
	if env.state.state.ReserveBalance.Cmp(big.NewInt(1_200_000)) != 0 {
		t.Fatalf("expected reserve 1200000, got %s", env.state.state.ReserveBalance)
	}
}

func TestClaimPoolRewardPaysFromReserve(t *testing.T) {
	env := newTestEnv(t)
	env.seed(func(s *ProtocolState) {
		s.ReserveBalance = big.NewInt(2_000_000)
		s.StableSupply = big.NewInt(1_000_000)
		s.Buffer = big.NewInt(50_000)
	})
	alice := makeAddr(0x01)
	if err := env.safety.Deposit(alice, big.NewInt(1_000)); err != nil {
		t.Fatalf("pool deposit: %v", err)
	}
	if _, err := env.safety.ControllerRebalance(safetypool.ControllerCap{PoolID: "pool-main"}, big.NewInt(200), big.NewInt(100)); err != nil {
		t.Fatalf("pool rebalance: %v", err)
	}

	result, err := env.engine.ClaimPoolReward(alice)
	if err != nil {
		t.Fatalf("claim pool reward: %v", err)
	}
	if result.Payout.Cmp(big.NewInt(100)) != 0 {
		t.Fatalf("expected payout 100, got %s", result.Payout)
	}
	if env.state.state.ReserveBalance.Cmp(big.NewInt(1_999_900)) != 0 {
		t.Fatalf("expected reserve 1999900, got %s", env.state.state.ReserveBalance)
	}
	if env.state.state.Buffer.Cmp(big.NewInt(49_900)) != 0 {
		t.Fatalf("expected buffer 49900, got %s", env.state.state.Buffer)
	}
	if env.safetyState.pool.Obligation.Sign() != 0 {
		t.Fatalf("expected obligation settled, got %s", env.safetyState.pool.Obligation)
	}
}
