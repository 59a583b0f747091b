package safetypool

import (
	"math/big"

	"fxchain/crypto"
)

// PoolState is the aggregate owned by the safety pool: stable-token custody,
// the global shrink factor used for pro-rata loss socialisation and the
// cumulative reward index.
//
// Invariants: Scale is non-increasing, Index is non-decreasing, and a
// depositor's effective balance is scaledShares * Scale.
type PoolState struct {
	ID          string
	Custody     *big.Int
	Scale       *big.Int
	ScaledTotal *big.Int
	Index       *big.Int
	Obligation  *big.Int
}

// NewPoolState returns a fresh aggregate with Scale at 1.0 and all counters
// zeroed.
func NewPoolState(id string) *PoolState {
	return &PoolState{
		ID:          id,
		Custody:     big.NewInt(0),
		Scale:       new(big.Int).Set(scaleOne),
		ScaledTotal: big.NewInt(0),
		Index:       big.NewInt(0),
		Obligation:  big.NewInt(0),
	}
}

// Normalize defaults nil ledgers so loaded aggregates are safe to mutate.
func (s *PoolState) Normalize() {
	if s == nil {
		return
	}
	if s.Custody == nil {
		s.Custody = big.NewInt(0)
	}
	if s.Scale == nil || s.Scale.Sign() == 0 {
		s.Scale = new(big.Int).Set(scaleOne)
	}
	if s.ScaledTotal == nil {
		s.ScaledTotal = big.NewInt(0)
	}
	if s.Index == nil {
		s.Index = big.NewInt(0)
	}
	if s.Obligation == nil {
		s.Obligation = big.NewInt(0)
	}
}

// TotalBalance converts the scaled share total into the current effective
// stable-token balance of all depositors.
func (s *PoolState) TotalBalance() *big.Int {
	if s == nil || s.ScaledTotal == nil || s.Scale == nil {
		return big.NewInt(0)
	}
	balance := new(big.Int).Mul(s.ScaledTotal, s.Scale)
	return balance.Quo(balance, scaleOne)
}

// BurnCap returns the maximum burn a single controller call may execute.
func (s *PoolState) BurnCap() *big.Int {
	cap := new(big.Int).Mul(s.TotalBalance(), big.NewInt(maxBurnBps))
	return cap.Quo(cap, basisPoints)
}

// Position is a depositor record. It is created on first deposit and never
// deleted; shares may go to zero.
type Position struct {
	Owner         crypto.Address
	ScaledShares  *big.Int
	IndexSnapshot *big.Int
	PendingReward *big.Int
}

// Normalize defaults nil ledgers.
func (p *Position) Normalize() {
	if p == nil {
		return
	}
	if p.ScaledShares == nil {
		p.ScaledShares = big.NewInt(0)
	}
	if p.IndexSnapshot == nil {
		p.IndexSnapshot = big.NewInt(0)
	}
	if p.PendingReward == nil {
		p.PendingReward = big.NewInt(0)
	}
}

// EffectiveBalance converts the position's scaled shares into its current
// stable-token balance under the supplied scale.
func (p *Position) EffectiveBalance(scale *big.Int) *big.Int {
	if p == nil || p.ScaledShares == nil || scale == nil {
		return big.NewInt(0)
	}
	balance := new(big.Int).Mul(p.ScaledShares, scale)
	return balance.Quo(balance, scaleOne)
}

// ControllerCap authorises burn, reward-decrease and harvest operations. It is
// bound at issuance to a single pool instance identity.
type ControllerCap struct {
	PoolID string
}
