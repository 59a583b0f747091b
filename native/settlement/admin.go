package settlement

import (
	"math/big"

	"fxchain/crypto"
	nativecommon "fxchain/native/common"
	"fxchain/native/safetypool"
)

func (e *Engine) adminState(cap AdminCap) (*ProtocolState, error) {
	state, err := e.loadState()
	if err != nil {
		return nil, err
	}
	if err := nativecommon.CheckBinding(cap.StateID, state.ID); err != nil {
		return nil, err
	}
	return state, nil
}

// SetFeeConfig replaces the fee and bonus schedule.
func (e *Engine) SetFeeConfig(cap AdminCap, fees FeeConfig) error {
	state, err := e.adminState(cap)
	if err != nil {
		return err
	}
	for _, bps := range []uint64{
		fees.StableMintBps, fees.StableRedeemBps, fees.LeverageMintBps,
		fees.LeverageRedeemBps, fees.LeverageRedeemL1Bps,
		fees.MintBonusL1Bps, fees.MintBonusL2Bps, fees.MintBonusL3Bps,
		fees.RedeemBonusL2Bps, fees.RedeemBonusL3Bps,
	} {
		if bps > 10_000 {
			return ErrInvalidAmount
		}
	}
	state.Fees = fees
	return e.state.PutProtocolState(state)
}

// SetBufferTarget adjusts the fraction of the total reserve kept liquid.
func (e *Engine) SetBufferTarget(cap AdminCap, bps uint64) error {
	state, err := e.adminState(cap)
	if err != nil {
		return err
	}
	if bps > 10_000 {
		return ErrInvalidAmount
	}
	state.Staking.TargetBufferBps = bps
	return e.state.PutProtocolState(state)
}

// SetTicketExpiration adjusts the redemption-ticket lifetime, clamped to the
// supported bounds rather than rejected outside them.
func (e *Engine) SetTicketExpiration(cap AdminCap, ms int64) error {
	state, err := e.adminState(cap)
	if err != nil {
		return err
	}
	if ms < minTicketExpirationMs {
		ms = minTicketExpirationMs
	}
	if ms > maxTicketExpirationMs {
		ms = maxTicketExpirationMs
	}
	state.TicketExpirationMs = ms
	return e.state.PutProtocolState(state)
}

// SetDelegateFee adjusts the operation fee charged on delegate-enabled
// redemptions.
func (e *Engine) SetDelegateFee(cap AdminCap, fee *big.Int) error {
	state, err := e.adminState(cap)
	if err != nil {
		return err
	}
	if fee == nil || fee.Sign() < 0 {
		return ErrInvalidAmount
	}
	state.DelegateFee = new(big.Int).Set(fee)
	return e.state.PutProtocolState(state)
}

// SetPaused freezes or unfreezes user-facing operations.
func (e *Engine) SetPaused(cap AdminCap, paused bool) error {
	state, err := e.adminState(cap)
	if err != nil {
		return err
	}
	state.Paused = paused
	return e.state.PutProtocolState(state)
}

// WithdrawFeeTreasury releases converted fee value to the recipient.
func (e *Engine) WithdrawFeeTreasury(cap AdminCap, to crypto.Address, amount *big.Int) error {
	state, err := e.adminState(cap)
	if err != nil {
		return err
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	if amount.Cmp(state.FeeTreasury) > 0 {
		return ErrInsufficientReserve
	}
	state.FeeTreasury = new(big.Int).Sub(state.FeeTreasury, amount)
	if err := e.state.PutProtocolState(state); err != nil {
		return err
	}
	e.emit(NewTreasuryWithdrawnEvent(to, amount))
	return nil
}

// EmergencyRebalance is the L3 protocol-side recovery: it computes the
// stable-token burn needed to lift the collateral ratio back to the target,
// caps it at the safety pool's per-call burn limit, executes the pro-rata
// burn against an indexed reserve payout, and retires the burned supply.
func (e *Engine) EmergencyRebalance(cap AdminCap, targetCR *big.Int) (*EmergencyResult, error) {
	state, err := e.adminState(cap)
	if err != nil {
		return nil, err
	}
	if e.safety == nil {
		return nil, errNilState
	}
	if targetCR == nil || targetCR.Cmp(crL2Threshold) < 0 {
		return nil, ErrInvalidAmount
	}
	if state.LastPrice.Sign() <= 0 {
		return nil, ErrOracleStale
	}

	obligation, err := e.poolObligation()
	if err != nil {
		return nil, err
	}
	level := classifyCR(collateralRatio(state, obligation))
	if level != LevelL3 {
		return nil, ErrActionBlockedByLevel
	}

	netUSD := usdValue(state.ReserveBalance, state.LastPrice)
	netUSD.Sub(netUSD, usdValue(obligation, state.LastPrice))
	if netUSD.Sign() < 0 {
		netUSD = big.NewInt(0)
	}

	// Supply target that restores CR: netUSD / (nfTarget * Pf) == targetCR.
	targetUSD := new(big.Int).Mul(netUSD, priceOne)
	targetUSD.Quo(targetUSD, targetCR)
	nfTarget := tokensForUSD(targetUSD, state.Pf)

	burnNeed := new(big.Int).Sub(state.StableSupply, nfTarget)
	if burnNeed.Sign() <= 0 {
		return &EmergencyResult{Burned: big.NewInt(0), Payout: big.NewInt(0), Level: level}, nil
	}

	payout := tokensForUSD(usdValue(burnNeed, state.Pf), state.LastPrice)
	if bonus := bpsShare(payout, state.Fees.RedeemBonusL3Bps); bonus.Sign() > 0 {
		payout.Add(payout, bonus)
	}

	result, err := e.safety.ControllerRebalance(safetypool.ControllerCap{PoolID: e.poolID}, burnNeed, payout)
	if err != nil {
		return nil, err
	}

	state.StableSupply = new(big.Int).Sub(state.StableSupply, result.Burned)
	if state.StableSupply.Sign() < 0 {
		state.StableSupply = big.NewInt(0)
	}
	e.recomputePx(state)

	if err := e.state.PutProtocolState(state); err != nil {
		return nil, err
	}
	e.emit(safetypool.NewRebalancedEvent(result))
	e.emit(NewEmergencyRebalancedEvent(result, level))
	return &EmergencyResult{
		Burned: new(big.Int).Set(result.Burned),
		Payout: new(big.Int).Set(result.Payout),
		Level:  level,
	}, nil
}
