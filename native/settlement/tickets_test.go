package settlement

import (
	"errors"
	"math/big"
	"testing"
	"time"

	"fxchain/native/liquidity"
)

func TestRedemptionTicketConservation(t *testing.T) {
	env := newTestEnv(t)
	env.seed(func(s *ProtocolState) {
		s.ReserveBalance = big.NewInt(2_000_000)
		s.StableSupply = big.NewInt(1_000_000)
		s.Buffer = big.NewInt(500)
	})
	alice := makeAddr(0x01)

	result, err := env.engine.RedeemStable(alice, big.NewInt(1_000), false)
	if err != nil {
		t.Fatalf("redeem stable: %v", err)
	}
	if result.Ticket == nil {
		t.Fatalf("expected a ticket for the shortfall")
	}
	// immediate + ticket == payout exactly.
	sum := new(big.Int).Add(result.Immediate, result.Ticket.Amount)
	if sum.Cmp(result.Payout) != 0 {
		t.Fatalf("conservation broken: %s + %s != %s", result.Immediate, result.Ticket.Amount, result.Payout)
	}
	if result.Immediate.Cmp(big.NewInt(500)) != 0 {
		t.Fatalf("expected immediate 500, got %s", result.Immediate)
	}
	if env.state.state.Buffer.Sign() != 0 {
		t.Fatalf("expected drained buffer, got %s", env.state.state.Buffer)
	}
	if env.state.tickets[result.Ticket.ID] == nil {
		t.Fatalf("ticket not persisted")
	}
}

func TestTicketSizedToShortfallAfterFee(t *testing.T) {
	env := newTestEnv(t)
	env.seed(func(s *ProtocolState) {
		s.ReserveBalance = big.NewInt(2_000_000)
		s.StableSupply = big.NewInt(1_000_000)
		s.Buffer = big.NewInt(100)
	})
	env.liquidityState.pool = &liquidity.PoolStake{
		Active:         &liquidity.ActivePosition{Principal: big.NewInt(10_000)},
		TotalPrincipal: big.NewInt(10_000),
	}
	alice := makeAddr(0x01)

	result, err := env.engine.RedeemStable(alice, big.NewInt(1_000), false)
	if err != nil {
		t.Fatalf("redeem stable: %v", err)
	}
	ticket := result.Ticket
	// gross 1000, fee 25 bps = 2, payout 998; immediate 100 leaves 898.
	if ticket == nil || ticket.Amount.Cmp(big.NewInt(898)) != 0 {
		t.Fatalf("expected ticket amount 898, got %+v", ticket)
	}
}

func TestClaimTicketLifecycle(t *testing.T) {
	env := newTestEnv(t)
	env.seed(func(s *ProtocolState) {
		s.ReserveBalance = big.NewInt(1_250_000)
		s.StableSupply = big.NewInt(1_000_000)
		s.Buffer = big.NewInt(0)
	})
	env.liquidityState.pool = &liquidity.PoolStake{
		Active:         &liquidity.ActivePosition{Principal: big.NewInt(50_000)},
		TotalPrincipal: big.NewInt(50_000),
	}
	alice := makeAddr(0x01)

	result, err := env.engine.RedeemStable(alice, big.NewInt(10_000), false)
	if err != nil {
		t.Fatalf("redeem stable: %v", err)
	}
	if result.Immediate.Sign() != 0 || result.Ticket == nil {
		t.Fatalf("expected fully ticketed redemption, got %+v", result)
	}

	claim, err := env.engine.ClaimTicket(alice, result.Ticket.ID)
	if err != nil {
		t.Fatalf("claim ticket: %v", err)
	}
	if claim.Paid.Cmp(result.Ticket.Amount) != 0 {
		t.Fatalf("expected full payout %s, got %s", result.Ticket.Amount, claim.Paid)
	}
	if claim.Fee.Sign() != 0 {
		t.Fatalf("owner claims pay no operation fee, got %s", claim.Fee)
	}
	if env.state.tickets[result.Ticket.ID] != nil {
		t.Fatalf("ticket not destroyed on claim")
	}
	// The shortfall came out of the active position.
	pool := env.liquidityState.pool
	want := new(big.Int).Sub(big.NewInt(50_000), result.Ticket.Amount)
	if pool.Active.Principal.Cmp(want) != 0 {
		t.Fatalf("expected active principal %s, got %s", want, pool.Active.Principal)
	}

	if _, err := env.engine.ClaimTicket(alice, result.Ticket.ID); !errors.Is(err, ErrTicketNotFound) {
		t.Fatalf("expected not found on double claim, got %v", err)
	}
}

func TestClaimTicketDrainsPendingBeforeActive(t *testing.T) {
	env := newTestEnv(t)
	env.seed(func(s *ProtocolState) {
		s.ReserveBalance = big.NewInt(1_250_000)
		s.StableSupply = big.NewInt(1_000_000)
		s.Buffer = big.NewInt(0)
	})
	env.liquidityState.pool = &liquidity.PoolStake{
		Active: &liquidity.ActivePosition{Principal: big.NewInt(50_000)},
		PendingByPeriod: map[uint64]*liquidity.PendingStake{
			5: {Period: 5, Principal: big.NewInt(6_000)},
		},
		PendingPeriods: []uint64{5},
		TotalPrincipal: big.NewInt(56_000),
	}
	alice := makeAddr(0x01)

	result, err := env.engine.RedeemStable(alice, big.NewInt(10_000), false)
	if err != nil {
		t.Fatalf("redeem stable: %v", err)
	}
	if result.Ticket == nil {
		t.Fatalf("expected ticketed redemption, got %+v", result)
	}

	claim, err := env.engine.ClaimTicket(alice, result.Ticket.ID)
	if err != nil {
		t.Fatalf("claim ticket: %v", err)
	}
	if claim.Paid.Cmp(result.Ticket.Amount) != 0 {
		t.Fatalf("expected full payout %s, got %s", result.Ticket.Amount, claim.Paid)
	}

	// The pending queue covered its 6000 first; only the rest split the
	// active position.
	pool := env.liquidityState.pool
	if pool.PendingTotal().Sign() != 0 {
		t.Fatalf("expected pending queue drained, got %s", pool.PendingTotal())
	}
	wantActive := new(big.Int).Sub(big.NewInt(56_000), result.Ticket.Amount)
	if pool.Active.Principal.Cmp(wantActive) != 0 {
		t.Fatalf("expected active principal %s, got %s", wantActive, pool.Active.Principal)
	}
}

func TestDelegateClaimEarnsOperationFee(t *testing.T) {
	env := newTestEnv(t)
	env.seed(func(s *ProtocolState) {
		s.ReserveBalance = big.NewInt(1_250_000)
		s.StableSupply = big.NewInt(1_000_000)
		s.Buffer = big.NewInt(0)
		s.DelegateFee = big.NewInt(50)
	})
	env.liquidityState.pool = &liquidity.PoolStake{
		Active:         &liquidity.ActivePosition{Principal: big.NewInt(50_000)},
		TotalPrincipal: big.NewInt(50_000),
	}
	alice := makeAddr(0x01)
	keeper := makeAddr(0x02)

	result, err := env.engine.RedeemStable(alice, big.NewInt(10_000), true)
	if err != nil {
		t.Fatalf("redeem stable: %v", err)
	}
	if result.Ticket.OperationFee.Cmp(big.NewInt(50)) != 0 {
		t.Fatalf("expected ticket fee 50, got %s", result.Ticket.OperationFee)
	}

	claim, err := env.engine.ClaimTicket(keeper, result.Ticket.ID)
	if err != nil {
		t.Fatalf("delegate claim: %v", err)
	}
	if claim.Fee.Cmp(big.NewInt(50)) != 0 {
		t.Fatalf("expected operation fee 50 to the keeper, got %s", claim.Fee)
	}
	wantPaid := new(big.Int).Sub(result.Ticket.Amount, big.NewInt(50))
	if claim.Paid.Cmp(wantPaid) != 0 {
		t.Fatalf("expected owner payout %s, got %s", wantPaid, claim.Paid)
	}
}

func TestExpiredTicketClaimAndReclaim(t *testing.T) {
	env := newTestEnv(t)
	env.seed(func(s *ProtocolState) {
		s.ReserveBalance = big.NewInt(1_250_000)
		s.StableSupply = big.NewInt(1_000_000)
		s.Buffer = big.NewInt(0)
	})
	env.liquidityState.pool = &liquidity.PoolStake{
		Active:         &liquidity.ActivePosition{Principal: big.NewInt(50_000)},
		TotalPrincipal: big.NewInt(50_000),
	}
	alice := makeAddr(0x01)
	keeper := makeAddr(0x02)

	result, err := env.engine.RedeemStable(alice, big.NewInt(10_000), false)
	if err != nil {
		t.Fatalf("redeem stable: %v", err)
	}
	ticket := result.Ticket

	// Live tickets cannot be reclaimed.
	if err := env.engine.ReclaimExpiredTicket(keeper, ticket.ID); !errors.Is(err, ErrTicketNotYetExpired) {
		t.Fatalf("expected not-yet-expired, got %v", err)
	}

	reserveBefore := new(big.Int).Set(env.state.state.ReserveBalance)
	env.advance(time.Duration(env.state.state.TicketExpirationMs)*time.Millisecond + time.Second)

	if _, err := env.engine.ClaimTicket(alice, ticket.ID); !errors.Is(err, ErrTicketExpired) {
		t.Fatalf("expected expired on claim, got %v", err)
	}
	if err := env.engine.ReclaimExpiredTicket(keeper, ticket.ID); err != nil {
		t.Fatalf("reclaim: %v", err)
	}
	// Nobody is paid; the owed amount flows back into the tracked reserve.
	want := new(big.Int).Add(reserveBefore, ticket.Amount)
	if env.state.state.ReserveBalance.Cmp(want) != 0 {
		t.Fatalf("expected reserve %s, got %s", want, env.state.state.ReserveBalance)
	}
	if env.state.tickets[ticket.ID] != nil {
		t.Fatalf("ticket not destroyed on reclaim")
	}
	if err := env.engine.ReclaimExpiredTicket(keeper, ticket.ID); !errors.Is(err, ErrTicketNotFound) {
		t.Fatalf("expected not found after reclaim, got %v", err)
	}
}
