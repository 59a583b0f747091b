package settlement

import (
	"math/big"

	"fxchain/crypto"
	"fxchain/native/liquidity"
	"fxchain/native/safetypool"
)

// RebalanceBuffer is the keeper maintenance pass. Buffer above target is
// staked into the pending queue, with the fee-derived portion queued
// separately so its share can later be split out of the converted value.
// Matured pending entries are folded into the active position with the fee
// slice routed to the fee treasury, and a buffer below target is topped back
// up from that treasury. Callable by anyone.
func (e *Engine) RebalanceBuffer() (*RebalanceSummary, error) {
	state, err := e.loadState()
	if err != nil {
		return nil, err
	}
	if err := e.guardUser(state); err != nil {
		return nil, err
	}
	if e.liquidity == nil {
		return nil, errNilState
	}

	summary := &RebalanceSummary{
		Staked:      big.NewInt(0),
		StakedFees:  big.NewInt(0),
		Converted:   big.NewInt(0),
		FeeSlice:    big.NewInt(0),
		BufferTopUp: big.NewInt(0),
	}

	period := e.currentPeriod(state)
	activation := period + state.Staking.ActivationDelayPeriods
	target := e.targetBuffer(state)

	if state.Buffer.Cmp(target) > 0 {
		excess := new(big.Int).Sub(state.Buffer, target)
		feePart := new(big.Int).Set(state.FeesCollected)
		if feePart.Cmp(excess) > 0 {
			feePart = new(big.Int).Set(excess)
		}
		ordinary := new(big.Int).Sub(excess, feePart)

		// Ordinary and fee-derived deposits are staked as separate queue
		// entries so the fee-principal ledger stays exact.
		if ordinary.Sign() > 0 {
			merged, err := e.liquidity.AddPending(ordinary, activation, false)
			if err != nil {
				return nil, err
			}
			e.emit(liquidity.NewPendingAddedEvent(ordinary, activation, false, merged))
		}
		if feePart.Sign() > 0 {
			merged, err := e.liquidity.AddPending(feePart, activation, true)
			if err != nil {
				return nil, err
			}
			e.emit(liquidity.NewPendingAddedEvent(feePart, activation, true, merged))
			state.FeesCollected = new(big.Int).Sub(state.FeesCollected, feePart)
		}

		state.Buffer = new(big.Int).Sub(state.Buffer, excess)
		summary.Staked = ordinary
		summary.StakedFees = feePart
	}

	converted, err := e.liquidity.ConvertMatured(period, state.Staking.MaxConvertPerCall, true)
	if err != nil {
		return nil, err
	}
	if converted.Entries > 0 {
		state.FeeTreasury = new(big.Int).Add(state.FeeTreasury, converted.FeeSlice)
		summary.Converted = converted.ConvertedPrincipal
		summary.FeeSlice = converted.FeeSlice
		summary.ConvertedItems = converted.Entries
		e.emit(liquidity.NewConvertedEvent(converted, period))
	}

	if state.Buffer.Cmp(target) < 0 && state.FeeTreasury.Sign() > 0 {
		topUp := new(big.Int).Sub(target, state.Buffer)
		if topUp.Cmp(state.FeeTreasury) > 0 {
			topUp = new(big.Int).Set(state.FeeTreasury)
		}
		state.FeeTreasury = new(big.Int).Sub(state.FeeTreasury, topUp)
		state.Buffer = new(big.Int).Add(state.Buffer, topUp)
		summary.BufferTopUp = topUp
	}

	if err := e.state.PutProtocolState(state); err != nil {
		return nil, err
	}
	e.emit(NewBufferRebalancedEvent(summary))
	return summary, nil
}

// SettleAndConsolidate folds matured pending entries into the active position
// without the fee split, for periodic housekeeping. Callable by anyone.
func (e *Engine) SettleAndConsolidate() (*liquidity.ConversionResult, error) {
	state, err := e.loadState()
	if err != nil {
		return nil, err
	}
	if err := e.guardUser(state); err != nil {
		return nil, err
	}
	if e.liquidity == nil {
		return nil, errNilState
	}

	period := e.currentPeriod(state)
	converted, err := e.liquidity.ConvertMatured(period, state.Staking.MaxConvertPerCall, false)
	if err != nil {
		return nil, err
	}
	if converted.Entries > 0 {
		e.emit(liquidity.NewConvertedEvent(converted, period))
	}
	return converted, nil
}

// HarvestYield books freshly accrued staking yield: the keeper bounty is
// carved off for the caller and the rest enters the liquid buffer and the
// tracked reserve. With depositors the retained portion equals the new pool
// obligation, so the collateral ratio never drops on a harvest; with an empty
// pool the whole harvest lands in the reserve. Callable by anyone.
func (e *Engine) HarvestYield(caller crypto.Address, yieldAmount *big.Int) (*safetypool.HarvestResult, error) {
	state, err := e.loadState()
	if err != nil {
		return nil, err
	}
	if err := e.guardUser(state); err != nil {
		return nil, err
	}
	if e.safety == nil {
		return nil, errNilState
	}

	result, err := e.safety.Harvest(safetypool.ControllerCap{PoolID: e.poolID}, yieldAmount)
	if err != nil {
		return nil, err
	}

	retained := new(big.Int).Sub(yieldAmount, result.Bounty)
	if retained.Sign() > 0 {
		state.Buffer = new(big.Int).Add(state.Buffer, retained)
		state.ReserveBalance = new(big.Int).Add(state.ReserveBalance, retained)
		e.recomputePx(state)
		if err := e.state.PutProtocolState(state); err != nil {
			return nil, err
		}
	}
	e.emit(safetypool.NewHarvestedEvent(result))
	return result, nil
}

// ClaimPoolReward settles a safety-pool depositor's accrued reserve reward
// and pays it out of the reserve through the shared redemption flow.
func (e *Engine) ClaimPoolReward(owner crypto.Address) (*RedeemResult, error) {
	state, err := e.loadState()
	if err != nil {
		return nil, err
	}
	if err := e.guardUser(state); err != nil {
		return nil, err
	}
	if e.safety == nil {
		return nil, errNilState
	}

	owed, err := e.safety.Claim(owner)
	if err != nil {
		return nil, err
	}
	if owed.Sign() == 0 {
		return &RedeemResult{
			Payout:    big.NewInt(0),
			Immediate: big.NewInt(0),
			Fee:       big.NewInt(0),
			Bonus:     big.NewInt(0),
		}, nil
	}

	state.ReserveBalance = new(big.Int).Sub(state.ReserveBalance, owed)
	if state.ReserveBalance.Sign() < 0 {
		state.ReserveBalance = big.NewInt(0)
	}

	result, err := e.payOut(state, owner, owed, false)
	if err != nil {
		return nil, err
	}
	result.Fee = big.NewInt(0)
	result.Bonus = big.NewInt(0)
	e.recomputePx(state)

	if err := e.state.PutProtocolState(state); err != nil {
		return nil, err
	}
	e.emit(safetypool.NewClaimedEvent(owner, owed))
	if result.Ticket != nil {
		e.emit(NewTicketQueuedEvent(result.Ticket))
	}
	return result, nil
}
