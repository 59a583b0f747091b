package settlement

import "math/big"

// Quotes price a prospective operation against the current aggregate without
// mutating it. They mirror the fee, bonus and tier rules of the mutating
// paths; a quote is indicative only, since the tier can move between quote
// and execution.

// QuoteMintStable prices a stable mint for reserveIn reserve tokens.
func (e *Engine) QuoteMintStable(reserveIn *big.Int) (*MintResult, error) {
	state, level, err := e.quoteContext()
	if err != nil {
		return nil, err
	}
	if reserveIn == nil || reserveIn.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	if level != LevelNormal {
		return nil, ErrActionBlockedByLevel
	}

	fee := bpsShare(reserveIn, state.Fees.StableMintBps)
	net := new(big.Int).Sub(reserveIn, fee)
	minted := tokensForUSD(usdValue(net, state.LastPrice), state.Pf)
	return &MintResult{Minted: minted, Fee: fee, Bonus: big.NewInt(0), Level: level}, nil
}

// QuoteMintLeverage prices a leverage mint for reserveIn reserve tokens.
func (e *Engine) QuoteMintLeverage(reserveIn *big.Int) (*MintResult, error) {
	state, level, err := e.quoteContext()
	if err != nil {
		return nil, err
	}
	if reserveIn == nil || reserveIn.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}

	fee := bpsShare(reserveIn, state.Fees.LeverageMintBps)
	bonus := bpsShare(reserveIn, state.Fees.mintBonusBps(level))
	net := new(big.Int).Sub(reserveIn, fee)
	mintValue := new(big.Int).Add(net, bonus)

	px := state.Px
	if state.LeverageSupply.Sign() == 0 || px.Sign() <= 0 {
		px = state.LastPrice
	}
	minted := tokensForUSD(usdValue(mintValue, state.LastPrice), px)
	return &MintResult{Minted: minted, Fee: fee, Bonus: bonus, Level: level}, nil
}

// QuoteRedeemStable prices a stable redemption of amount tokens. The Payout
// reflects the bonus clip against current reserve headroom; whether a ticket
// would be queued depends on the buffer at execution time.
func (e *Engine) QuoteRedeemStable(amount *big.Int) (*RedeemResult, error) {
	state, level, err := e.quoteContext()
	if err != nil {
		return nil, err
	}
	if amount == nil || amount.Sign() <= 0 || amount.Cmp(state.StableSupply) > 0 {
		return nil, ErrInvalidAmount
	}
	obligation, err := e.poolObligation()
	if err != nil {
		return nil, err
	}

	gross := tokensForUSD(usdValue(amount, state.Pf), state.LastPrice)
	fee := bpsShare(gross, state.Fees.stableRedeemFeeBps(level))
	bonus := bpsShare(gross, state.Fees.redeemBonusBps(level))

	netAvailable := new(big.Int).Sub(state.ReserveBalance, obligation)
	base := new(big.Int).Sub(gross, fee)
	if base.Cmp(netAvailable) > 0 {
		return nil, ErrInsufficientReserve
	}
	if headroom := new(big.Int).Sub(netAvailable, base); bonus.Cmp(headroom) > 0 {
		bonus = headroom
	}
	if bonus.Sign() < 0 {
		bonus = big.NewInt(0)
	}
	payout := new(big.Int).Add(base, bonus)
	return &RedeemResult{
		Payout:    payout,
		Immediate: payout,
		Fee:       fee,
		Bonus:     bonus,
		Level:     level,
	}, nil
}

// QuoteRedeemLeverage prices a leverage redemption of amount tokens.
func (e *Engine) QuoteRedeemLeverage(amount *big.Int) (*RedeemResult, error) {
	state, level, err := e.quoteContext()
	if err != nil {
		return nil, err
	}
	if amount == nil || amount.Sign() <= 0 || amount.Cmp(state.LeverageSupply) > 0 {
		return nil, ErrInvalidAmount
	}
	obligation, err := e.poolObligation()
	if err != nil {
		return nil, err
	}

	gross := tokensForUSD(usdValue(amount, state.Px), state.LastPrice)
	fee := bpsShare(gross, state.Fees.leverageRedeemFeeBps(level))
	payout := new(big.Int).Sub(gross, fee)

	netAvailable := new(big.Int).Sub(state.ReserveBalance, obligation)
	if payout.Cmp(netAvailable) > 0 {
		return nil, ErrInsufficientReserve
	}
	return &RedeemResult{
		Payout:    payout,
		Immediate: payout,
		Fee:       fee,
		Bonus:     big.NewInt(0),
		Level:     level,
	}, nil
}

func (e *Engine) quoteContext() (*ProtocolState, Level, error) {
	state, err := e.loadState()
	if err != nil {
		return nil, LevelNormal, err
	}
	if state.LastPrice.Sign() <= 0 {
		return nil, LevelNormal, ErrOracleStale
	}
	obligation, err := e.poolObligation()
	if err != nil {
		return nil, LevelNormal, err
	}
	return state, classifyCR(collateralRatio(state, obligation)), nil
}
