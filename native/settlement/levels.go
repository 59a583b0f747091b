package settlement

import "math/big"

// Level is the discrete operational tier selected by the collateral ratio.
// Levels gate which operations are allowed and at what fee or bonus rate.
type Level uint8

const (
	// LevelNormal permits every operation at standard rates.
	LevelNormal Level = iota
	// LevelL1 blocks stable minting and waives the stable redemption fee.
	LevelL1
	// LevelL2 additionally pays a real bonus on stable redemptions.
	LevelL2
	// LevelL3 enables the protocol-side emergency rebalance.
	LevelL3
)

func (l Level) String() string {
	switch l {
	case LevelNormal:
		return "normal"
	case LevelL1:
		return "stability"
	case LevelL2:
		return "user-rebalance"
	case LevelL3:
		return "protocol-rebalance"
	default:
		return "unknown"
	}
}

// Collateral-ratio tier thresholds, E9 fixed point (1.306e9 == 130.6%).
var (
	crNormalThreshold = big.NewInt(1_306_000_000)
	crL1Threshold     = big.NewInt(1_206_000_000)
	crL2Threshold     = big.NewInt(1_144_000_000)
)

// classifyCR maps an E9-scaled collateral ratio onto a tier. A nil ratio
// means the stable supply is zero, which classifies above Normal: with no
// debt there is nothing to be under-collateralised against.
func classifyCR(cr *big.Int) Level {
	if cr == nil {
		return LevelNormal
	}
	switch {
	case cr.Cmp(crNormalThreshold) >= 0:
		return LevelNormal
	case cr.Cmp(crL1Threshold) >= 0:
		return LevelL1
	case cr.Cmp(crL2Threshold) >= 0:
		return LevelL2
	default:
		return LevelL3
	}
}

// collateralRatio computes netReserveUSD / stableUSD as an E9 fixed-point
// ratio. The safety-pool obligation is subtracted from the raw reserve
// before pricing so deferred payouts never count as backing. A nil result
// means the stable supply is zero and the ratio is unconstrained.
func collateralRatio(state *ProtocolState, obligation *big.Int) *big.Int {
	stableUSD := usdValue(state.StableSupply, state.Pf)
	if stableUSD.Sign() == 0 {
		return nil
	}
	net := usdValue(state.ReserveBalance, state.LastPrice)
	if obligation != nil && obligation.Sign() > 0 {
		net.Sub(net, usdValue(obligation, state.LastPrice))
	}
	if net.Sign() < 0 {
		net = big.NewInt(0)
	}
	cr := net.Mul(net, priceOne)
	return cr.Quo(cr, stableUSD)
}
