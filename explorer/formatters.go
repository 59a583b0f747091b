package explorer

import (
	"strings"

	"fxchain/core/types"
	"fxchain/native/liquidity"
	"fxchain/native/safetypool"
	"fxchain/native/settlement"
)

// AssetLabel normalises an asset symbol for display, defaulting to the
// reserve token.
func AssetLabel(asset string) string {
	normalized := strings.ToUpper(strings.TrimSpace(asset))
	if normalized == "" {
		normalized = "RSV"
	}
	return normalized
}

// Summarize renders a one-line human label for an indexed event.
func Summarize(event *types.Event) string {
	if event == nil {
		return ""
	}
	attrs := event.Attributes
	switch event.Type {
	case settlement.EventTypeStableMinted:
		return "Minted " + attrs["minted"] + " FUSD"
	case settlement.EventTypeLeverageMinted:
		return "Minted " + attrs["minted"] + " XRS"
	case settlement.EventTypeStableRedeemed:
		return "Redeemed " + attrs["burned"] + " FUSD"
	case settlement.EventTypeLeverageRedeemed:
		return "Redeemed " + attrs["burned"] + " XRS"
	case settlement.EventTypePriceUpdated:
		return "Oracle price moved to " + attrs["newPrice"]
	case settlement.EventTypeTicketQueued:
		return "Queued ticket " + attrs["ticket"] + " for " + attrs["amount"] + " " + AssetLabel("")
	case settlement.EventTypeTicketClaimed:
		return "Claimed ticket " + attrs["ticket"]
	case settlement.EventTypeTicketReclaimed:
		return "Reclaimed expired ticket " + attrs["ticket"]
	case settlement.EventTypeBufferRebalanced:
		return "Rebalanced liquidity buffer"
	case settlement.EventTypeTreasuryWithdrawn:
		return "Withdrew " + attrs["amount"] + " " + AssetLabel("") + " from fee treasury"
	case settlement.EventTypeEmergencyRebalanced:
		return "Emergency rebalance burned " + attrs["burned"] + " FUSD"
	case safetypool.EventTypeDeposited:
		return "Deposited " + attrs["amount"] + " FUSD into safety pool"
	case safetypool.EventTypeWithdrawn:
		return "Withdrew " + attrs["amount"] + " FUSD from safety pool"
	case safetypool.EventTypeClaimed:
		return "Claimed " + attrs["amount"] + " " + AssetLabel("") + " pool reward"
	case safetypool.EventTypeHarvested:
		return "Harvested " + attrs["indexed"] + " " + AssetLabel("") + " of yield"
	case safetypool.EventTypeRebalanced:
		return "Safety pool absorbed a burn of " + attrs["burned"] + " FUSD"
	case liquidity.EventTypePendingAdded:
		return "Staked " + attrs["amount"] + " " + AssetLabel("") + " pending activation"
	case liquidity.EventTypePendingWithdrawn:
		return "Drained " + attrs["amount"] + " " + AssetLabel("") + " from the pending queue"
	case liquidity.EventTypeConverted:
		return "Converted matured stake worth " + attrs["value"]
	case liquidity.EventTypeActiveSplit:
		return "Split " + attrs["amount"] + " " + AssetLabel("") + " out of the active stake"
	default:
		return event.Type
	}
}
