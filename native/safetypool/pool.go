package safetypool

import (
	"errors"
	"math/big"

	"fxchain/crypto"
	nativecommon "fxchain/native/common"
)

var (
	errNilState            = errors.New("safety pool: state not configured")
	errInvalidAmount       = errors.New("safety pool: amount must be positive")
	errInsufficientBalance = errors.New("safety pool: insufficient pool balance")
)

var (
	basisPoints = big.NewInt(10_000)
	// scaleOne is the fixed-point unit of the shrink factor.
	scaleOne = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)
	// indexOne is the fixed-point unit of the cumulative reward index. The
	// extra precision keeps per-scaled-share reward deltas from truncating
	// to zero on large pools.
	indexOne = new(big.Int).Exp(big.NewInt(10), big.NewInt(27), nil)
)

const (
	// maxBurnBps caps a single controller burn at half the pool.
	maxBurnBps = 5_000
	// harvestBountyBps is the keeper incentive carved out of harvested yield.
	harvestBountyBps = 100

	moduleName = "safetypool"
)

type poolState interface {
	GetPoolState() (*PoolState, error)
	PutPoolState(*PoolState) error
	GetPosition(addr crypto.Address) (*Position, error)
	PutPosition(*Position) error
}

// Pool owns deposited stable-token custody and socialises losses and rewards
// through two global scalars: the shrink factor and the reward index. It has
// no knowledge of collateral-ratio logic; burns arrive pre-computed from the
// controller.
type Pool struct {
	state  poolState
	pauses nativecommon.PauseView
}

// NewPool constructs an unwired pool.
func NewPool() *Pool { return &Pool{} }

// SetState wires the pool to the external persistence layer.
func (p *Pool) SetState(state poolState) { p.state = state }

func (p *Pool) SetPauses(v nativecommon.PauseView) {
	if p == nil {
		return
	}
	p.pauses = v
}

// Deposit converts amount into scaled shares at the current shrink factor.
// The depositor's pending reward is settled first so the snapshot reset never
// loses accrued rewards across the share-conversion boundary.
func (p *Pool) Deposit(owner crypto.Address, amount *big.Int) error {
	if p == nil || p.state == nil {
		return errNilState
	}
	if err := nativecommon.Guard(p.pauses, moduleName); err != nil {
		return err
	}
	if amount == nil || amount.Sign() <= 0 {
		return errInvalidAmount
	}

	pool, err := p.loadPool()
	if err != nil {
		return err
	}
	position, err := p.loadPosition(owner)
	if err != nil {
		return err
	}

	settle(position, pool)

	scaled := new(big.Int).Mul(amount, scaleOne)
	scaled.Quo(scaled, pool.Scale)
	if scaled.Sign() == 0 {
		scaled = big.NewInt(1)
	}

	position.ScaledShares = new(big.Int).Add(position.ScaledShares, scaled)
	pool.ScaledTotal = new(big.Int).Add(pool.ScaledTotal, scaled)
	pool.Custody = new(big.Int).Add(pool.Custody, amount)

	if err := p.state.PutPosition(position); err != nil {
		return err
	}
	return p.state.PutPoolState(pool)
}

// Withdraw releases amount back to the depositor after settling rewards and
// checking the effective balance covers the request.
func (p *Pool) Withdraw(owner crypto.Address, amount *big.Int) error {
	if p == nil || p.state == nil {
		return errNilState
	}
	if err := nativecommon.Guard(p.pauses, moduleName); err != nil {
		return err
	}
	if amount == nil || amount.Sign() <= 0 {
		return errInvalidAmount
	}

	pool, err := p.loadPool()
	if err != nil {
		return err
	}
	position, err := p.loadPosition(owner)
	if err != nil {
		return err
	}

	settle(position, pool)

	if position.EffectiveBalance(pool.Scale).Cmp(amount) < 0 {
		return errInsufficientBalance
	}

	scaled := new(big.Int).Mul(amount, scaleOne)
	scaled.Quo(scaled, pool.Scale)
	if scaled.Cmp(position.ScaledShares) > 0 {
		scaled = new(big.Int).Set(position.ScaledShares)
	}

	position.ScaledShares = new(big.Int).Sub(position.ScaledShares, scaled)
	pool.ScaledTotal = new(big.Int).Sub(pool.ScaledTotal, scaled)
	if pool.ScaledTotal.Sign() < 0 {
		pool.ScaledTotal = big.NewInt(0)
	}
	pool.Custody = new(big.Int).Sub(pool.Custody, amount)
	if pool.Custody.Sign() < 0 {
		pool.Custody = big.NewInt(0)
	}

	if err := p.state.PutPosition(position); err != nil {
		return err
	}
	return p.state.PutPoolState(pool)
}

// RebalanceResult reports the burn the pool actually executed after applying
// the per-call cap, with the shrink factor before and after for event
// emission.
type RebalanceResult struct {
	Burned      *big.Int
	Payout      *big.Int
	ScaleBefore *big.Int
	ScaleAfter  *big.Int
}

// ControllerRebalance executes a pro-rata burn of pool deposits against an
// indexed reserve payout. The burn is capped at half the current pool balance
// per call; when the request is reduced the payout shrinks by the same ratio.
// Both the loss and the reward are socialised through single scalar updates,
// never per-account loops. Reserve settlement is deferred: the payout is
// recorded as an obligation and claimed later.
func (p *Pool) ControllerRebalance(cap ControllerCap, burnRequest, payoutRequest *big.Int) (*RebalanceResult, error) {
	if p == nil || p.state == nil {
		return nil, errNilState
	}
	if err := nativecommon.Guard(p.pauses, moduleName); err != nil {
		return nil, err
	}

	pool, err := p.loadPool()
	if err != nil {
		return nil, err
	}
	if err := nativecommon.CheckBinding(cap.PoolID, pool.ID); err != nil {
		return nil, err
	}
	if burnRequest == nil || burnRequest.Sign() <= 0 || payoutRequest == nil || payoutRequest.Sign() < 0 {
		return nil, errInvalidAmount
	}

	result := &RebalanceResult{
		Burned:      big.NewInt(0),
		Payout:      big.NewInt(0),
		ScaleBefore: new(big.Int).Set(pool.Scale),
		ScaleAfter:  new(big.Int).Set(pool.Scale),
	}

	balance := pool.TotalBalance()
	if balance.Sign() == 0 || pool.ScaledTotal.Sign() == 0 {
		return result, nil
	}

	allowed := new(big.Int).Set(burnRequest)
	if burnCap := pool.BurnCap(); allowed.Cmp(burnCap) > 0 {
		allowed = burnCap
	}
	if allowed.Sign() == 0 {
		return result, nil
	}

	// Scale the payout by allowed/requested so it stays proportional to the
	// burn that actually happens.
	payout := new(big.Int).Mul(payoutRequest, allowed)
	payout.Quo(payout, burnRequest)

	if payout.Sign() > 0 {
		delta := new(big.Int).Mul(payout, indexOne)
		delta.Quo(delta, pool.ScaledTotal)
		pool.Index = new(big.Int).Add(pool.Index, delta)
		pool.Obligation = new(big.Int).Add(pool.Obligation, payout)
	}

	// scale *= (balance - burned) / balance, a single O(1) shrink that
	// reduces every depositor's effective balance pro rata.
	shrunk := new(big.Int).Mul(pool.Scale, new(big.Int).Sub(balance, allowed))
	shrunk.Quo(shrunk, balance)
	pool.Scale = shrunk

	pool.Custody = new(big.Int).Sub(pool.Custody, allowed)
	if pool.Custody.Sign() < 0 {
		pool.Custody = big.NewInt(0)
	}

	if err := p.state.PutPoolState(pool); err != nil {
		return nil, err
	}

	result.Burned = new(big.Int).Set(allowed)
	result.Payout = payout
	result.ScaleAfter = new(big.Int).Set(pool.Scale)
	return result, nil
}

// Claim settles and returns the depositor's accrued reserve reward. The
// caller is responsible for paying the returned amount out of the reserve;
// the pool only reduces its obligation ledger here.
func (p *Pool) Claim(owner crypto.Address) (*big.Int, error) {
	if p == nil || p.state == nil {
		return nil, errNilState
	}
	if err := nativecommon.Guard(p.pauses, moduleName); err != nil {
		return nil, err
	}

	pool, err := p.loadPool()
	if err != nil {
		return nil, err
	}
	position, err := p.loadPosition(owner)
	if err != nil {
		return nil, err
	}

	settle(position, pool)

	owed := new(big.Int).Set(position.PendingReward)
	if owed.Sign() == 0 {
		if err := p.state.PutPosition(position); err != nil {
			return nil, err
		}
		return owed, p.state.PutPoolState(pool)
	}

	position.PendingReward = big.NewInt(0)
	pool.Obligation = new(big.Int).Sub(pool.Obligation, owed)
	if pool.Obligation.Sign() < 0 {
		pool.Obligation = big.NewInt(0)
	}

	if err := p.state.PutPosition(position); err != nil {
		return nil, err
	}
	if err := p.state.PutPoolState(pool); err != nil {
		return nil, err
	}
	return owed, nil
}

// HarvestResult reports how harvested yield was split between the caller
// bounty and the indexed remainder.
type HarvestResult struct {
	Bounty  *big.Int
	Indexed *big.Int
}

// Harvest indexes incoming staking yield to depositors, carving out a small
// fixed bounty for the keeper that triggered it. With no depositors the
// harvest is a no-op.
func (p *Pool) Harvest(cap ControllerCap, yieldAmount *big.Int) (*HarvestResult, error) {
	if p == nil || p.state == nil {
		return nil, errNilState
	}
	if err := nativecommon.Guard(p.pauses, moduleName); err != nil {
		return nil, err
	}

	pool, err := p.loadPool()
	if err != nil {
		return nil, err
	}
	if err := nativecommon.CheckBinding(cap.PoolID, pool.ID); err != nil {
		return nil, err
	}
	if yieldAmount == nil || yieldAmount.Sign() <= 0 {
		return nil, errInvalidAmount
	}

	result := &HarvestResult{Bounty: big.NewInt(0), Indexed: big.NewInt(0)}
	if pool.ScaledTotal.Sign() == 0 {
		return result, nil
	}

	bounty := new(big.Int).Mul(yieldAmount, big.NewInt(harvestBountyBps))
	bounty.Quo(bounty, basisPoints)
	toPool := new(big.Int).Sub(yieldAmount, bounty)

	if toPool.Sign() > 0 {
		delta := new(big.Int).Mul(toPool, indexOne)
		delta.Quo(delta, pool.ScaledTotal)
		pool.Index = new(big.Int).Add(pool.Index, delta)
		pool.Obligation = new(big.Int).Add(pool.Obligation, toPool)
	}

	if err := p.state.PutPoolState(pool); err != nil {
		return nil, err
	}

	result.Bounty = bounty
	result.Indexed = toPool
	return result, nil
}

// Balance reports the depositor's current effective stable-token balance.
func (p *Pool) Balance(owner crypto.Address) (*big.Int, error) {
	if p == nil || p.state == nil {
		return nil, errNilState
	}
	pool, err := p.loadPool()
	if err != nil {
		return nil, err
	}
	position, err := p.loadPosition(owner)
	if err != nil {
		return nil, err
	}
	return position.EffectiveBalance(pool.Scale), nil
}

// PendingReward reports the depositor's accrued-but-unclaimed reserve reward
// without mutating state.
func (p *Pool) PendingReward(owner crypto.Address) (*big.Int, error) {
	if p == nil || p.state == nil {
		return nil, errNilState
	}
	pool, err := p.loadPool()
	if err != nil {
		return nil, err
	}
	position, err := p.loadPosition(owner)
	if err != nil {
		return nil, err
	}
	accrued := new(big.Int).Sub(pool.Index, position.IndexSnapshot)
	accrued.Mul(accrued, position.ScaledShares)
	accrued.Quo(accrued, indexOne)
	return accrued.Add(accrued, position.PendingReward), nil
}

// Snapshot returns a defensive copy of the pool aggregate.
func (p *Pool) Snapshot() (*PoolState, error) {
	if p == nil || p.state == nil {
		return nil, errNilState
	}
	pool, err := p.loadPool()
	if err != nil {
		return nil, err
	}
	return &PoolState{
		ID:          pool.ID,
		Custody:     new(big.Int).Set(pool.Custody),
		Scale:       new(big.Int).Set(pool.Scale),
		ScaledTotal: new(big.Int).Set(pool.ScaledTotal),
		Index:       new(big.Int).Set(pool.Index),
		Obligation:  new(big.Int).Set(pool.Obligation),
	}, nil
}

func (p *Pool) loadPool() (*PoolState, error) {
	pool, err := p.state.GetPoolState()
	if err != nil {
		return nil, err
	}
	if pool == nil {
		pool = NewPoolState("")
	}
	pool.Normalize()
	return pool, nil
}

func (p *Pool) loadPosition(owner crypto.Address) (*Position, error) {
	position, err := p.state.GetPosition(owner)
	if err != nil {
		return nil, err
	}
	if position == nil {
		position = &Position{Owner: owner}
	}
	position.Normalize()
	return position, nil
}

// settle accrues the position's pending reward from the index delta and
// resets the snapshot. Calling it twice without an index change accrues
// nothing the second time.
func settle(position *Position, pool *PoolState) {
	if position == nil || pool == nil {
		return
	}
	delta := new(big.Int).Sub(pool.Index, position.IndexSnapshot)
	if delta.Sign() > 0 && position.ScaledShares.Sign() > 0 {
		reward := new(big.Int).Mul(position.ScaledShares, delta)
		reward.Quo(reward, indexOne)
		position.PendingReward = new(big.Int).Add(position.PendingReward, reward)
	}
	position.IndexSnapshot = new(big.Int).Set(pool.Index)
}
