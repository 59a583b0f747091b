package settlement

import (
	"math/big"
	"strconv"

	"fxchain/core/types"
	"fxchain/crypto"
	"fxchain/native/safetypool"
)

const (
	EventTypeStableMinted        = "settlement.stable.minted"
	EventTypeLeverageMinted      = "settlement.leverage.minted"
	EventTypeStableRedeemed      = "settlement.stable.redeemed"
	EventTypeLeverageRedeemed    = "settlement.leverage.redeemed"
	EventTypePriceUpdated        = "settlement.price.updated"
	EventTypeTicketQueued        = "settlement.ticket.queued"
	EventTypeTicketClaimed       = "settlement.ticket.claimed"
	EventTypeTicketReclaimed     = "settlement.ticket.reclaimed"
	EventTypeBufferRebalanced    = "settlement.buffer.rebalanced"
	EventTypeTreasuryWithdrawn   = "settlement.treasury.withdrawn"
	EventTypeEmergencyRebalanced = "settlement.emergency.rebalanced"
)

// NewStableMintedEvent reports a stable-token mint.
func NewStableMintedEvent(caller crypto.Address, reserveIn, minted, fee *big.Int, level Level) *types.Event {
	return &types.Event{
		Type: EventTypeStableMinted,
		Attributes: map[string]string{
			"caller":    caller.String(),
			"reserveIn": bigString(reserveIn),
			"minted":    bigString(minted),
			"fee":       bigString(fee),
			"level":     level.String(),
		},
	}
}

// NewLeverageMintedEvent reports a leverage-token mint, including the virtual
// bonus applied from L1 down.
func NewLeverageMintedEvent(caller crypto.Address, reserveIn, minted, fee, bonus *big.Int, level Level) *types.Event {
	return &types.Event{
		Type: EventTypeLeverageMinted,
		Attributes: map[string]string{
			"caller":    caller.String(),
			"reserveIn": bigString(reserveIn),
			"minted":    bigString(minted),
			"fee":       bigString(fee),
			"bonus":     bigString(bonus),
			"level":     level.String(),
		},
	}
}

// NewStableRedeemedEvent reports a stable-token redemption.
func NewStableRedeemedEvent(caller crypto.Address, amount *big.Int, result *RedeemResult) *types.Event {
	return &types.Event{
		Type:       EventTypeStableRedeemed,
		Attributes: redeemAttributes(caller, amount, result),
	}
}

// NewLeverageRedeemedEvent reports a leverage-token redemption.
func NewLeverageRedeemedEvent(caller crypto.Address, amount *big.Int, result *RedeemResult) *types.Event {
	return &types.Event{
		Type:       EventTypeLeverageRedeemed,
		Attributes: redeemAttributes(caller, amount, result),
	}
}

func redeemAttributes(caller crypto.Address, amount *big.Int, result *RedeemResult) map[string]string {
	attrs := map[string]string{
		"caller": caller.String(),
		"burned": bigString(amount),
	}
	if result != nil {
		attrs["payout"] = bigString(result.Payout)
		attrs["immediate"] = bigString(result.Immediate)
		attrs["fee"] = bigString(result.Fee)
		attrs["bonus"] = bigString(result.Bonus)
		attrs["level"] = result.Level.String()
	}
	return attrs
}

// NewPriceUpdatedEvent reports an accepted oracle observation.
func NewPriceUpdatedEvent(oldPrice, newPrice *big.Int, observedAt int64) *types.Event {
	return &types.Event{
		Type: EventTypePriceUpdated,
		Attributes: map[string]string{
			"oldPrice":   bigString(oldPrice),
			"newPrice":   bigString(newPrice),
			"observedAt": strconv.FormatInt(observedAt, 10),
		},
	}
}

// NewTicketQueuedEvent reports a redemption ticket issued for a buffer
// shortfall.
func NewTicketQueuedEvent(ticket *RedemptionTicket) *types.Event {
	attrs := map[string]string{}
	if ticket != nil {
		attrs["ticket"] = ticket.ID
		attrs["owner"] = ticket.Owner.String()
		attrs["amount"] = bigString(ticket.Amount)
		attrs["expiresAt"] = strconv.FormatInt(ticket.ExpiresAt, 10)
		attrs["delegated"] = strconv.FormatBool(ticket.Delegated)
	}
	return &types.Event{Type: EventTypeTicketQueued, Attributes: attrs}
}

// NewTicketClaimedEvent reports a fulfilled redemption ticket.
func NewTicketClaimedEvent(ticket *RedemptionTicket, caller crypto.Address, claim *TicketClaim) *types.Event {
	attrs := map[string]string{
		"caller": caller.String(),
	}
	if ticket != nil {
		attrs["ticket"] = ticket.ID
		attrs["owner"] = ticket.Owner.String()
	}
	if claim != nil {
		attrs["paid"] = bigString(claim.Paid)
		attrs["operationFee"] = bigString(claim.Fee)
	}
	return &types.Event{Type: EventTypeTicketClaimed, Attributes: attrs}
}

// NewTicketReclaimedEvent reports an expired ticket reversed back into the
// tracked reserve.
func NewTicketReclaimedEvent(ticket *RedemptionTicket, caller crypto.Address) *types.Event {
	attrs := map[string]string{
		"caller": caller.String(),
	}
	if ticket != nil {
		attrs["ticket"] = ticket.ID
		attrs["owner"] = ticket.Owner.String()
		attrs["amount"] = bigString(ticket.Amount)
	}
	return &types.Event{Type: EventTypeTicketReclaimed, Attributes: attrs}
}

// NewBufferRebalancedEvent reports one keeper maintenance pass.
func NewBufferRebalancedEvent(summary *RebalanceSummary) *types.Event {
	attrs := map[string]string{}
	if summary != nil {
		attrs["staked"] = bigString(summary.Staked)
		attrs["stakedFees"] = bigString(summary.StakedFees)
		attrs["converted"] = bigString(summary.Converted)
		attrs["feeSlice"] = bigString(summary.FeeSlice)
		attrs["bufferTopUp"] = bigString(summary.BufferTopUp)
		attrs["convertedItems"] = strconv.Itoa(summary.ConvertedItems)
	}
	return &types.Event{Type: EventTypeBufferRebalanced, Attributes: attrs}
}

// NewTreasuryWithdrawnEvent reports a fee-treasury release.
func NewTreasuryWithdrawnEvent(to crypto.Address, amount *big.Int) *types.Event {
	return &types.Event{
		Type: EventTypeTreasuryWithdrawn,
		Attributes: map[string]string{
			"to":     to.String(),
			"amount": bigString(amount),
		},
	}
}

// NewEmergencyRebalancedEvent reports an L3 protocol rebalance executed
// through the safety pool.
func NewEmergencyRebalancedEvent(result *safetypool.RebalanceResult, level Level) *types.Event {
	attrs := map[string]string{
		"level": level.String(),
	}
	if result != nil {
		attrs["burned"] = bigString(result.Burned)
		attrs["payout"] = bigString(result.Payout)
	}
	return &types.Event{Type: EventTypeEmergencyRebalanced, Attributes: attrs}
}

func bigString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}
