package liquidity

import "math/big"

// PendingStake is a queued reserve deposit waiting for its activation period
// before it can join the consolidated yield-bearing position.
type PendingStake struct {
	Period    uint64
	Principal *big.Int
}

// Clone returns a deep copy of the pending entry.
func (p *PendingStake) Clone() *PendingStake {
	if p == nil {
		return nil
	}
	clone := &PendingStake{Period: p.Period}
	if p.Principal != nil {
		clone.Principal = new(big.Int).Set(p.Principal)
	} else {
		clone.Principal = big.NewInt(0)
	}
	return clone
}

// ActivePosition is the single consolidated yield-bearing holding. Only the
// principal portion is tracked here; accrued staking rewards live in the
// backend position and must never leak into collateral accounting.
type ActivePosition struct {
	Principal *big.Int
}

// PoolStake is the aggregate owned by the liquidity manager: the pending
// queue keyed by activation period, the FIFO order of those periods, the
// optional active position and the principal ledgers.
//
// Invariant: TotalPrincipal == sum(pending principals) + active principal.
type PoolStake struct {
	Active          *ActivePosition
	PendingByPeriod map[uint64]*PendingStake
	PendingPeriods  []uint64
	TotalPrincipal  *big.Int
	FeePrincipal    *big.Int
}

// NewPoolStake returns an empty aggregate with all ledgers zeroed.
func NewPoolStake() *PoolStake {
	return &PoolStake{
		PendingByPeriod: make(map[uint64]*PendingStake),
		PendingPeriods:  []uint64{},
		TotalPrincipal:  big.NewInt(0),
		FeePrincipal:    big.NewInt(0),
	}
}

// Normalize replaces nil collections and ledgers so loaded aggregates are safe
// to mutate.
func (s *PoolStake) Normalize() {
	if s == nil {
		return
	}
	if s.PendingByPeriod == nil {
		s.PendingByPeriod = make(map[uint64]*PendingStake)
	}
	if s.PendingPeriods == nil {
		s.PendingPeriods = []uint64{}
	}
	if s.TotalPrincipal == nil {
		s.TotalPrincipal = big.NewInt(0)
	}
	if s.FeePrincipal == nil {
		s.FeePrincipal = big.NewInt(0)
	}
	if s.Active != nil && s.Active.Principal == nil {
		s.Active.Principal = big.NewInt(0)
	}
	for _, entry := range s.PendingByPeriod {
		if entry.Principal == nil {
			entry.Principal = big.NewInt(0)
		}
	}
}

// PendingTotal returns the sum of all pending principals.
func (s *PoolStake) PendingTotal() *big.Int {
	total := big.NewInt(0)
	if s == nil {
		return total
	}
	for _, entry := range s.PendingByPeriod {
		if entry.Principal != nil {
			total.Add(total, entry.Principal)
		}
	}
	return total
}

// ActivePrincipal returns the principal portion of the active position, zero
// when no position exists.
func (s *PoolStake) ActivePrincipal() *big.Int {
	if s == nil || s.Active == nil || s.Active.Principal == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(s.Active.Principal)
}

// Withdrawal records one pending entry (or partial entry) drained by a
// buffer-refill request.
type Withdrawal struct {
	Period uint64
	Amount *big.Int
}

// ConversionResult summarises one ConvertMatured batch.
type ConversionResult struct {
	Entries            int
	ConvertedPrincipal *big.Int
	ConvertedValue     *big.Int
	FeeSlice           *big.Int
	FeePrincipal       *big.Int
}
