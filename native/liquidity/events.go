package liquidity

import (
	"math/big"
	"strconv"

	"fxchain/core/types"
)

const (
	EventTypePendingAdded     = "liquidity.pending.added"
	EventTypePendingWithdrawn = "liquidity.pending.withdrawn"
	EventTypeConverted        = "liquidity.converted"
	EventTypeActiveSplit      = "liquidity.active.split"
)

// NewPendingAddedEvent reports a deposit queued for staking, including whether
// it merged into an existing activation-period entry.
func NewPendingAddedEvent(amount *big.Int, period uint64, isFee, merged bool) *types.Event {
	return &types.Event{
		Type: EventTypePendingAdded,
		Attributes: map[string]string{
			"amount": bigString(amount),
			"period": strconv.FormatUint(period, 10),
			"fee":    strconv.FormatBool(isFee),
			"merged": strconv.FormatBool(merged),
		},
	}
}

// NewPendingWithdrawnEvent reports principal drained from the pending queue.
func NewPendingWithdrawnEvent(amount *big.Int, entries int) *types.Event {
	return &types.Event{
		Type: EventTypePendingWithdrawn,
		Attributes: map[string]string{
			"amount":  bigString(amount),
			"entries": strconv.Itoa(entries),
		},
	}
}

// NewConvertedEvent reports a maturation batch folded into the active
// position.
func NewConvertedEvent(result *ConversionResult, currentPeriod uint64) *types.Event {
	attrs := map[string]string{
		"period": strconv.FormatUint(currentPeriod, 10),
	}
	if result != nil {
		attrs["entries"] = strconv.Itoa(result.Entries)
		attrs["principal"] = bigString(result.ConvertedPrincipal)
		attrs["value"] = bigString(result.ConvertedValue)
		attrs["feeSlice"] = bigString(result.FeeSlice)
	}
	return &types.Event{Type: EventTypeConverted, Attributes: attrs}
}

// NewActiveSplitEvent reports a partial claim extracted from the active
// position.
func NewActiveSplitEvent(amount *big.Int) *types.Event {
	return &types.Event{
		Type:       EventTypeActiveSplit,
		Attributes: map[string]string{"amount": bigString(amount)},
	}
}

func bigString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}
