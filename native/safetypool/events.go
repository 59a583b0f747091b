package safetypool

import (
	"math/big"

	"fxchain/core/types"
	"fxchain/crypto"
)

const (
	EventTypeDeposited  = "safetypool.deposited"
	EventTypeWithdrawn  = "safetypool.withdrawn"
	EventTypeRebalanced = "safetypool.rebalanced"
	EventTypeClaimed    = "safetypool.claimed"
	EventTypeHarvested  = "safetypool.harvested"
)

// NewDepositedEvent reports a stable-token deposit into the pool.
func NewDepositedEvent(owner crypto.Address, amount *big.Int) *types.Event {
	return &types.Event{
		Type: EventTypeDeposited,
		Attributes: map[string]string{
			"owner":  owner.String(),
			"amount": bigString(amount),
		},
	}
}

// NewWithdrawnEvent reports a stable-token withdrawal from the pool.
func NewWithdrawnEvent(owner crypto.Address, amount *big.Int) *types.Event {
	return &types.Event{
		Type: EventTypeWithdrawn,
		Attributes: map[string]string{
			"owner":  owner.String(),
			"amount": bigString(amount),
		},
	}
}

// NewRebalancedEvent reports a controller burn with the shrink factor before
// and after, the executed burn and the indexed reserve payout.
func NewRebalancedEvent(result *RebalanceResult) *types.Event {
	attrs := map[string]string{}
	if result != nil {
		attrs["burned"] = bigString(result.Burned)
		attrs["payout"] = bigString(result.Payout)
		attrs["scaleBefore"] = bigString(result.ScaleBefore)
		attrs["scaleAfter"] = bigString(result.ScaleAfter)
	}
	return &types.Event{Type: EventTypeRebalanced, Attributes: attrs}
}

// NewClaimedEvent reports an indexed reserve reward settled to a depositor.
func NewClaimedEvent(owner crypto.Address, amount *big.Int) *types.Event {
	return &types.Event{
		Type: EventTypeClaimed,
		Attributes: map[string]string{
			"owner":  owner.String(),
			"amount": bigString(amount),
		},
	}
}

// NewHarvestedEvent reports staking yield indexed to depositors.
func NewHarvestedEvent(result *HarvestResult) *types.Event {
	attrs := map[string]string{}
	if result != nil {
		attrs["bounty"] = bigString(result.Bounty)
		attrs["indexed"] = bigString(result.Indexed)
	}
	return &types.Event{Type: EventTypeHarvested, Attributes: attrs}
}

func bigString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}
