package settlement

import (
	"math/big"
	"time"

	"github.com/google/uuid"

	"fxchain/core/types"
	"fxchain/crypto"
	nativecommon "fxchain/native/common"
	"fxchain/native/liquidity"
	"fxchain/native/safetypool"
)

const moduleName = "settlement"

// Oracle guard bounds. Both are enforced by the engine regardless of what the
// upstream feed guarantees.
const (
	maxOracleStalenessSeconds = int64(3_600)
	maxPriceStepBps           = 2_000
)

var (
	basisPoints = big.NewInt(10_000)
	// priceOne is the E9 fixed-point price unit (1e9 == $1).
	priceOne = big.NewInt(1_000_000_000)
)

type engineState interface {
	GetProtocolState() (*ProtocolState, error)
	PutProtocolState(*ProtocolState) error
	GetTicket(id string) (*RedemptionTicket, error)
	PutTicket(*RedemptionTicket) error
	DeleteTicket(id string) error
}

// EventEmitter receives one event per mutating call.
type EventEmitter interface {
	Emit(*types.Event)
}

// Engine owns the protocol-wide aggregate and orchestrates the liquidity
// manager and safety pool inside every mint, redeem, price-update and
// rebalance operation. All amounts are reserve-token base units unless named
// otherwise; prices and the collateral ratio are E9 fixed point.
type Engine struct {
	state     engineState
	liquidity *liquidity.Manager
	safety    *safetypool.Pool
	poolID    string
	pauses    nativecommon.PauseView
	emitter   EventEmitter

	now      func() time.Time
	ticketID func() string
}

// NewEngine constructs an engine wired to its two leaf components. The pool
// ID binds the controller capability the engine presents to the safety pool.
func NewEngine(manager *liquidity.Manager, pool *safetypool.Pool, poolID string) *Engine {
	return &Engine{
		liquidity: manager,
		safety:    pool,
		poolID:    poolID,
		now:       time.Now,
		ticketID:  uuid.NewString,
	}
}

// SetState wires the engine to the external persistence layer.
func (e *Engine) SetState(state engineState) { e.state = state }

func (e *Engine) SetPauses(p nativecommon.PauseView) {
	if e == nil {
		return
	}
	e.pauses = p
}

// SetEmitter wires the append-only event sink.
func (e *Engine) SetEmitter(emitter EventEmitter) {
	if e == nil {
		return
	}
	e.emitter = emitter
}

// SetClock overrides the wall clock, used by deterministic callers.
func (e *Engine) SetClock(now func() time.Time) {
	if e == nil || now == nil {
		return
	}
	e.now = now
}

// MintStable deposits reserve tokens and mints stable tokens at the fixed
// unit price against the net USD value after fees. Only permitted while the
// collateral ratio sits at the Normal tier.
func (e *Engine) MintStable(caller crypto.Address, reserveIn *big.Int) (*MintResult, error) {
	state, err := e.loadState()
	if err != nil {
		return nil, err
	}
	if err := e.guardUser(state); err != nil {
		return nil, err
	}
	if reserveIn == nil || reserveIn.Sign() <= 0 {
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
	if level != LevelNormal {
		return nil, ErrActionBlockedByLevel
	}

	fee := bpsShare(reserveIn, state.Fees.StableMintBps)
	net := new(big.Int).Sub(reserveIn, fee)
	minted := tokensForUSD(usdValue(net, state.LastPrice), state.Pf)

	state.Buffer = new(big.Int).Add(state.Buffer, reserveIn)
	state.ReserveBalance = new(big.Int).Add(state.ReserveBalance, net)
	state.FeesCollected = new(big.Int).Add(state.FeesCollected, fee)
	state.StableSupply = new(big.Int).Add(state.StableSupply, minted)
	e.recomputePx(state)

	if err := e.state.PutProtocolState(state); err != nil {
		return nil, err
	}
	e.emit(NewStableMintedEvent(caller, reserveIn, minted, fee, level))
	return &MintResult{Minted: minted, Fee: fee, Bonus: big.NewInt(0), Level: level}, nil
}

// MintLeverage deposits reserve tokens and mints leverage tokens at the
// current implied price. Permitted at every tier; from L1 downward a virtual
// bonus inflates the minting power without any real asset transfer. At zero
// leverage supply the implied price bootstraps from the last oracle price.
func (e *Engine) MintLeverage(caller crypto.Address, reserveIn *big.Int) (*MintResult, error) {
	state, err := e.loadState()
	if err != nil {
		return nil, err
	}
	if err := e.guardUser(state); err != nil {
		return nil, err
	}
	if reserveIn == nil || reserveIn.Sign() <= 0 {
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

	fee := bpsShare(reserveIn, state.Fees.LeverageMintBps)
	bonus := bpsShare(reserveIn, state.Fees.mintBonusBps(level))
	net := new(big.Int).Sub(reserveIn, fee)
	mintValue := new(big.Int).Add(net, bonus)

	if state.LeverageSupply.Sign() == 0 || state.Px.Sign() <= 0 {
		state.Px = new(big.Int).Set(state.LastPrice)
	}
	minted := tokensForUSD(usdValue(mintValue, state.LastPrice), state.Px)

	state.Buffer = new(big.Int).Add(state.Buffer, reserveIn)
	state.ReserveBalance = new(big.Int).Add(state.ReserveBalance, net)
	state.FeesCollected = new(big.Int).Add(state.FeesCollected, fee)
	state.LeverageSupply = new(big.Int).Add(state.LeverageSupply, minted)
	e.recomputePx(state)

	if err := e.state.PutProtocolState(state); err != nil {
		return nil, err
	}
	e.emit(NewLeverageMintedEvent(caller, reserveIn, minted, fee, bonus, level))
	return &MintResult{Minted: minted, Fee: fee, Bonus: bonus, Level: level}, nil
}

// RedeemStable burns stable tokens for reserve tokens. The fee is charged
// only at Normal; from L2 downward a real bonus is paid, clipped so the total
// payout never exceeds the net-available reserve. The payout routes through
// the shared redemption flow and may queue a ticket for any buffer shortfall.
func (e *Engine) RedeemStable(caller crypto.Address, amount *big.Int, delegate bool) (*RedeemResult, error) {
	state, err := e.loadState()
	if err != nil {
		return nil, err
	}
	if err := e.guardUser(state); err != nil {
		return nil, err
	}
	if amount == nil || amount.Sign() <= 0 || amount.Cmp(state.StableSupply) > 0 {
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

	gross := tokensForUSD(usdValue(amount, state.Pf), state.LastPrice)
	fee := bpsShare(gross, state.Fees.stableRedeemFeeBps(level))
	bonus := bpsShare(gross, state.Fees.redeemBonusBps(level))

	netAvailable := new(big.Int).Sub(state.ReserveBalance, obligation)
	base := new(big.Int).Sub(gross, fee)
	if base.Cmp(netAvailable) > 0 {
		return nil, ErrInsufficientReserve
	}
	// The bonus is clipped, not the whole redemption aborted, when the
	// reserve is tight.
	if headroom := new(big.Int).Sub(netAvailable, base); bonus.Cmp(headroom) > 0 {
		bonus = headroom
	}
	if bonus.Sign() < 0 {
		bonus = big.NewInt(0)
	}
	payout := new(big.Int).Add(base, bonus)

	state.StableSupply = new(big.Int).Sub(state.StableSupply, amount)
	// The fee principal stays in custody but stops counting as backing, so
	// the tracked reserve drops by the gross amount plus the bonus.
	state.ReserveBalance = new(big.Int).Sub(state.ReserveBalance, new(big.Int).Add(gross, bonus))
	if state.ReserveBalance.Sign() < 0 {
		state.ReserveBalance = big.NewInt(0)
	}
	state.FeesCollected = new(big.Int).Add(state.FeesCollected, fee)

	result, err := e.payOut(state, caller, payout, delegate)
	if err != nil {
		return nil, err
	}
	result.Fee = fee
	result.Bonus = bonus
	result.Level = level
	e.recomputePx(state)

	if err := e.state.PutProtocolState(state); err != nil {
		return nil, err
	}
	e.emit(NewStableRedeemedEvent(caller, amount, result))
	if result.Ticket != nil {
		e.emit(NewTicketQueuedEvent(result.Ticket))
	}
	return result, nil
}

// RedeemLeverage burns leverage tokens at the current implied price. The fee
// is elevated specifically at L1; no bonus is ever paid on this path.
func (e *Engine) RedeemLeverage(caller crypto.Address, amount *big.Int, delegate bool) (*RedeemResult, error) {
	state, err := e.loadState()
	if err != nil {
		return nil, err
	}
	if err := e.guardUser(state); err != nil {
		return nil, err
	}
	if amount == nil || amount.Sign() <= 0 || amount.Cmp(state.LeverageSupply) > 0 {
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

	gross := tokensForUSD(usdValue(amount, state.Px), state.LastPrice)
	fee := bpsShare(gross, state.Fees.leverageRedeemFeeBps(level))
	payout := new(big.Int).Sub(gross, fee)

	netAvailable := new(big.Int).Sub(state.ReserveBalance, obligation)
	if payout.Cmp(netAvailable) > 0 {
		return nil, ErrInsufficientReserve
	}

	state.LeverageSupply = new(big.Int).Sub(state.LeverageSupply, amount)
	state.ReserveBalance = new(big.Int).Sub(state.ReserveBalance, gross)
	if state.ReserveBalance.Sign() < 0 {
		state.ReserveBalance = big.NewInt(0)
	}
	state.FeesCollected = new(big.Int).Add(state.FeesCollected, fee)

	result, err := e.payOut(state, caller, payout, delegate)
	if err != nil {
		return nil, err
	}
	result.Fee = fee
	result.Bonus = big.NewInt(0)
	result.Level = level
	e.recomputePx(state)

	if err := e.state.PutProtocolState(state); err != nil {
		return nil, err
	}
	e.emit(NewLeverageRedeemedEvent(caller, amount, result))
	if result.Ticket != nil {
		e.emit(NewTicketQueuedEvent(result.Ticket))
	}
	return result, nil
}

// UpdatePrice records a new oracle observation after enforcing the staleness
// and maximum-relative-step guards, then recomputes the implied leverage
// price. Both guards apply regardless of direction.
func (e *Engine) UpdatePrice(newPrice *big.Int, observedAt time.Time) error {
	state, err := e.loadState()
	if err != nil {
		return err
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	if newPrice == nil || newPrice.Sign() <= 0 {
		return ErrInvalidAmount
	}

	if state.LastOracleTime > 0 {
		// The oracle clock only moves forward; accepting an out-of-order
		// observation would re-widen the staleness window.
		if observedAt.Unix() < state.LastOracleTime {
			return ErrOracleStale
		}
		if age := observedAt.Unix() - state.LastOracleTime; age > maxOracleStalenessSeconds {
			return ErrOracleStale
		}
	}
	if state.LastPrice.Sign() > 0 {
		step := new(big.Int).Sub(newPrice, state.LastPrice)
		step.Abs(step)
		step.Mul(step, basisPoints)
		bound := new(big.Int).Mul(state.LastPrice, big.NewInt(maxPriceStepBps))
		if step.Cmp(bound) > 0 {
			return ErrOracleStepTooLarge
		}
	}

	oldPrice := new(big.Int).Set(state.LastPrice)
	state.LastPrice = new(big.Int).Set(newPrice)
	state.LastOracleTime = observedAt.Unix()
	e.recomputePx(state)

	if err := e.state.PutProtocolState(state); err != nil {
		return err
	}
	e.emit(NewPriceUpdatedEvent(oldPrice, newPrice, state.LastOracleTime))
	return nil
}

// Level reports the current collateral-ratio tier.
func (e *Engine) Level() (Level, error) {
	state, err := e.loadState()
	if err != nil {
		return LevelNormal, err
	}
	obligation, err := e.poolObligation()
	if err != nil {
		return LevelNormal, err
	}
	return classifyCR(collateralRatio(state, obligation)), nil
}

// CollateralRatio reports the current E9 ratio; nil means the stable supply
// is zero and the ratio is unconstrained.
func (e *Engine) CollateralRatio() (*big.Int, error) {
	state, err := e.loadState()
	if err != nil {
		return nil, err
	}
	obligation, err := e.poolObligation()
	if err != nil {
		return nil, err
	}
	return collateralRatio(state, obligation), nil
}

// Snapshot returns a defensive copy of the protocol aggregate.
func (e *Engine) Snapshot() (*ProtocolState, error) {
	state, err := e.loadState()
	if err != nil {
		return nil, err
	}
	clone := *state
	clone.Buffer = new(big.Int).Set(state.Buffer)
	clone.ReserveBalance = new(big.Int).Set(state.ReserveBalance)
	clone.StableSupply = new(big.Int).Set(state.StableSupply)
	clone.LeverageSupply = new(big.Int).Set(state.LeverageSupply)
	clone.Pf = new(big.Int).Set(state.Pf)
	clone.Px = new(big.Int).Set(state.Px)
	clone.LastPrice = new(big.Int).Set(state.LastPrice)
	clone.FeesCollected = new(big.Int).Set(state.FeesCollected)
	clone.FeeTreasury = new(big.Int).Set(state.FeeTreasury)
	clone.DelegateFee = new(big.Int).Set(state.DelegateFee)
	return &clone, nil
}

// Health summarises protocol safety for read-side consumers: oracle
// freshness, tier position and buffer depth.
func (e *Engine) Health() (*HealthReport, error) {
	state, err := e.loadState()
	if err != nil {
		return nil, err
	}
	obligation, err := e.poolObligation()
	if err != nil {
		return nil, err
	}
	cr := collateralRatio(state, obligation)
	level := classifyCR(cr)

	report := &HealthReport{Level: level, CR: cr}
	if state.LastOracleTime == 0 || e.now().Unix()-state.LastOracleTime > maxOracleStalenessSeconds {
		report.Reasons = append(report.Reasons, HealthOracleStale)
	}
	if level == LevelL3 {
		report.Reasons = append(report.Reasons, HealthCRBelowMinimum)
	}
	if target := e.targetBuffer(state); target.Sign() > 0 {
		floor := new(big.Int).Quo(target, big.NewInt(2))
		if state.Buffer.Cmp(floor) < 0 {
			report.Reasons = append(report.Reasons, HealthReservesLow)
		}
	}
	report.Healthy = len(report.Reasons) == 0
	return report, nil
}

// payOut executes the shared redemption flow: pay what the liquid buffer can
// cover immediately and queue a ticket for the shortfall. Ticket amounts and
// the immediate payout always sum to the requested payout exactly.
func (e *Engine) payOut(state *ProtocolState, owner crypto.Address, payout *big.Int, delegate bool) (*RedeemResult, error) {
	result := &RedeemResult{
		Payout:    new(big.Int).Set(payout),
		Immediate: new(big.Int).Set(payout),
	}
	if payout.Cmp(state.Buffer) <= 0 {
		state.Buffer = new(big.Int).Sub(state.Buffer, payout)
		return result, nil
	}

	result.Immediate = new(big.Int).Set(state.Buffer)
	shortfall := new(big.Int).Sub(payout, state.Buffer)
	state.Buffer = big.NewInt(0)

	ticket := &RedemptionTicket{
		ID:           e.ticketID(),
		Owner:        owner,
		Amount:       shortfall,
		ExpiresAt:    e.now().UnixMilli() + state.TicketExpirationMs,
		OperationFee: big.NewInt(0),
		Delegated:    delegate,
	}
	if delegate {
		ticket.OperationFee = new(big.Int).Set(state.DelegateFee)
	}
	if err := e.state.PutTicket(ticket); err != nil {
		return nil, err
	}
	result.Ticket = ticket
	return result, nil
}

// recomputePx derives the implied leverage price from the reserve invariant:
// reserveUSD equals stableUSD plus leverageUSD at all times, so Px is the
// residual reserve value per leverage token, floored at zero.
func (e *Engine) recomputePx(state *ProtocolState) {
	if state.LeverageSupply.Sign() == 0 {
		return
	}
	residual := usdValue(state.ReserveBalance, state.LastPrice)
	residual.Sub(residual, usdValue(state.StableSupply, state.Pf))
	if residual.Sign() <= 0 {
		state.Px = big.NewInt(0)
		return
	}
	residual.Mul(residual, priceOne)
	state.Px = residual.Quo(residual, state.LeverageSupply)
}

func (e *Engine) guardUser(state *ProtocolState) error {
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	if state.Paused {
		return nativecommon.ErrModulePaused
	}
	return nil
}

// poolObligation reads the safety pool's deferred payout, which is
// subtracted from the raw reserve before any collateral pricing.
func (e *Engine) poolObligation() (*big.Int, error) {
	if e.safety == nil {
		return big.NewInt(0), nil
	}
	snapshot, err := e.safety.Snapshot()
	if err != nil {
		return nil, err
	}
	return snapshot.Obligation, nil
}

func (e *Engine) targetBuffer(state *ProtocolState) *big.Int {
	total := new(big.Int).Set(state.Buffer)
	if e.liquidity != nil {
		if pool, err := e.liquidity.Snapshot(); err == nil {
			total.Add(total, pool.TotalPrincipal)
		}
	}
	target := total.Mul(total, new(big.Int).SetUint64(state.Staking.TargetBufferBps))
	return target.Quo(target, basisPoints)
}

func (e *Engine) currentPeriod(state *ProtocolState) uint64 {
	if state.Staking.PeriodSeconds == 0 {
		return 0
	}
	return uint64(e.now().Unix()) / state.Staking.PeriodSeconds
}

func (e *Engine) loadState() (*ProtocolState, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	state, err := e.state.GetProtocolState()
	if err != nil {
		return nil, err
	}
	if state == nil {
		state = NewProtocolState("")
	}
	state.Normalize()
	return state, nil
}

func (e *Engine) emit(event *types.Event) {
	if e.emitter != nil && event != nil {
		e.emitter.Emit(event)
	}
}

func bpsShare(amount *big.Int, bps uint64) *big.Int {
	if amount == nil || bps == 0 {
		return big.NewInt(0)
	}
	share := new(big.Int).Mul(amount, new(big.Int).SetUint64(bps))
	return share.Quo(share, basisPoints)
}

// usdValue prices a token amount at an E9 price.
func usdValue(amount, price *big.Int) *big.Int {
	if amount == nil || price == nil {
		return big.NewInt(0)
	}
	value := new(big.Int).Mul(amount, price)
	return value.Quo(value, priceOne)
}

// tokensForUSD converts an E9-scaled USD value back into token units.
func tokensForUSD(usd, price *big.Int) *big.Int {
	if usd == nil || price == nil || price.Sign() <= 0 {
		return big.NewInt(0)
	}
	tokens := new(big.Int).Mul(usd, priceOne)
	return tokens.Quo(tokens, price)
}
