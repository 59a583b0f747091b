package liquidity

import (
	"errors"
	"math/big"
	"sort"

	nativecommon "fxchain/native/common"
)

var (
	errNilState      = errors.New("liquidity manager: state not configured")
	errInvalidAmount = errors.New("liquidity manager: amount must be positive")

	// ErrInsufficientPending signals that the pending queue cannot cover a
	// withdrawal request; no entry is drained in that case.
	ErrInsufficientPending = errors.New("liquidity manager: insufficient pending stake")
	// ErrNoActiveStake signals that no active position exists or it is too
	// small to honour a split request.
	ErrNoActiveStake = errors.New("liquidity manager: no active stake")
)

const moduleName = "liquidity"

type managerState interface {
	GetPoolStake() (*PoolStake, error)
	PutPoolStake(*PoolStake) error
}

// StakingBackend values a converted batch of pending principal, including the
// staking yield the batch accrued since its activation period. The identity
// valuation (value == principal) is a valid backend for yield-free staking.
type StakingBackend interface {
	ConvertedValue(period uint64, principal *big.Int) *big.Int
}

// IdentityBackend values converted principal 1:1, for deployments where yield
// is accounted elsewhere and in tests.
type IdentityBackend struct{}

func (IdentityBackend) ConvertedValue(_ uint64, principal *big.Int) *big.Int {
	if principal == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(principal)
}

// Manager owns the staked-reserve lifecycle: the pending queue keyed by
// activation period, the consolidated active position and the principal
// ledgers. It has no knowledge of prices, fees beyond the fee-principal
// subset, or the safety pool.
type Manager struct {
	state   managerState
	backend StakingBackend
	pauses  nativecommon.PauseView
}

// NewManager constructs a manager using the provided staking backend. A nil
// backend defaults to the identity valuation.
func NewManager(backend StakingBackend) *Manager {
	if backend == nil {
		backend = IdentityBackend{}
	}
	return &Manager{backend: backend}
}

// SetState wires the manager to the external persistence layer.
func (m *Manager) SetState(state managerState) { m.state = state }

func (m *Manager) SetPauses(p nativecommon.PauseView) {
	if m == nil {
		return
	}
	m.pauses = p
}

// AddPending queues amount for staking at the given activation period. When an
// entry for that period already exists the amount merges into it and the
// returned flag is true; otherwise a new entry is appended to the FIFO order.
// When isFee is set the amount is also tracked in the fee-principal ledger so
// the fee share can later be split out of the converted value.
func (m *Manager) AddPending(amount *big.Int, activationPeriod uint64, isFee bool) (bool, error) {
	if m == nil || m.state == nil {
		return false, errNilState
	}
	if err := nativecommon.Guard(m.pauses, moduleName); err != nil {
		return false, err
	}
	if amount == nil || amount.Sign() <= 0 {
		return false, errInvalidAmount
	}

	pool, err := m.loadPool()
	if err != nil {
		return false, err
	}

	merged := false
	if entry, ok := pool.PendingByPeriod[activationPeriod]; ok {
		entry.Principal = new(big.Int).Add(entry.Principal, amount)
		merged = true
	} else {
		pool.PendingByPeriod[activationPeriod] = &PendingStake{
			Period:    activationPeriod,
			Principal: new(big.Int).Set(amount),
		}
		pool.PendingPeriods = append(pool.PendingPeriods, activationPeriod)
	}

	pool.TotalPrincipal = new(big.Int).Add(pool.TotalPrincipal, amount)
	if isFee {
		pool.FeePrincipal = new(big.Int).Add(pool.FeePrincipal, amount)
	}

	return merged, m.state.PutPoolStake(pool)
}

// WithdrawFromPending drains the pending queue in FIFO order to release the
// requested principal back to the caller. Whole entries are taken first and
// the final entry is split when it holds more than needed. When the queue
// cannot cover the request nothing is drained and ErrInsufficientPending is
// returned.
func (m *Manager) WithdrawFromPending(amount *big.Int) ([]Withdrawal, error) {
	if m == nil || m.state == nil {
		return nil, errNilState
	}
	if err := nativecommon.Guard(m.pauses, moduleName); err != nil {
		return nil, err
	}
	if amount == nil || amount.Sign() <= 0 {
		return nil, errInvalidAmount
	}

	pool, err := m.loadPool()
	if err != nil {
		return nil, err
	}
	if pool.PendingTotal().Cmp(amount) < 0 {
		return nil, ErrInsufficientPending
	}

	remaining := new(big.Int).Set(amount)
	withdrawals := make([]Withdrawal, 0, len(pool.PendingPeriods))
	kept := pool.PendingPeriods[:0]

	for _, period := range pool.PendingPeriods {
		entry, ok := pool.PendingByPeriod[period]
		if !ok {
			continue
		}
		if remaining.Sign() == 0 {
			kept = append(kept, period)
			continue
		}
		if entry.Principal.Cmp(remaining) <= 0 {
			withdrawals = append(withdrawals, Withdrawal{Period: period, Amount: new(big.Int).Set(entry.Principal)})
			remaining.Sub(remaining, entry.Principal)
			delete(pool.PendingByPeriod, period)
			continue
		}
		entry.Principal = new(big.Int).Sub(entry.Principal, remaining)
		withdrawals = append(withdrawals, Withdrawal{Period: period, Amount: new(big.Int).Set(remaining)})
		remaining.SetInt64(0)
		kept = append(kept, period)
	}
	pool.PendingPeriods = append([]uint64{}, kept...)

	pool.TotalPrincipal = new(big.Int).Sub(pool.TotalPrincipal, amount)
	if pool.TotalPrincipal.Sign() < 0 {
		pool.TotalPrincipal = big.NewInt(0)
	}
	if pool.FeePrincipal.Cmp(pool.TotalPrincipal) > 0 {
		pool.FeePrincipal = new(big.Int).Set(pool.TotalPrincipal)
	}

	if err := m.state.PutPoolStake(pool); err != nil {
		return nil, err
	}
	return withdrawals, nil
}

// ConvertMatured folds every pending entry whose activation period has passed
// into the active position, bounded by maxItems per call. Each entry is valued
// through the staking backend so the converted value carries its share of
// accrued yield. With splitFee set, a fee-proportional slice of the converted
// value (feePrincipal/totalPrincipal) is carved out and the fee-principal
// ledger zeroed once extracted; the caller routes that slice to the fee
// treasury.
func (m *Manager) ConvertMatured(currentPeriod uint64, maxItems int, splitFee bool) (*ConversionResult, error) {
	if m == nil || m.state == nil {
		return nil, errNilState
	}
	if err := nativecommon.Guard(m.pauses, moduleName); err != nil {
		return nil, err
	}
	pool, err := m.loadPool()
	if err != nil {
		return nil, err
	}
	if maxItems <= 0 {
		maxItems = len(pool.PendingPeriods)
	}

	result := &ConversionResult{
		ConvertedPrincipal: big.NewInt(0),
		ConvertedValue:     big.NewInt(0),
		FeeSlice:           big.NewInt(0),
		FeePrincipal:       big.NewInt(0),
	}

	totalBefore := new(big.Int).Set(pool.TotalPrincipal)
	feeBefore := new(big.Int).Set(pool.FeePrincipal)
	if feeBefore.Cmp(totalBefore) > 0 {
		feeBefore = new(big.Int).Set(totalBefore)
	}

	kept := pool.PendingPeriods[:0]
	for _, period := range pool.PendingPeriods {
		entry, ok := pool.PendingByPeriod[period]
		if !ok {
			continue
		}
		if period > currentPeriod || result.Entries >= maxItems {
			kept = append(kept, period)
			continue
		}
		value := m.backend.ConvertedValue(period, entry.Principal)
		if value == nil || value.Cmp(entry.Principal) < 0 {
			value = new(big.Int).Set(entry.Principal)
		}
		result.Entries++
		result.ConvertedPrincipal.Add(result.ConvertedPrincipal, entry.Principal)
		result.ConvertedValue.Add(result.ConvertedValue, value)
		delete(pool.PendingByPeriod, period)
	}
	pool.PendingPeriods = append([]uint64{}, kept...)

	if result.Entries == 0 {
		return result, nil
	}

	if splitFee && feeBefore.Sign() > 0 && totalBefore.Sign() > 0 {
		result.FeeSlice = new(big.Int).Mul(result.ConvertedValue, feeBefore)
		result.FeeSlice.Quo(result.FeeSlice, totalBefore)
		result.FeePrincipal = new(big.Int).Mul(result.ConvertedPrincipal, feeBefore)
		result.FeePrincipal.Quo(result.FeePrincipal, totalBefore)
		pool.FeePrincipal = big.NewInt(0)
	}

	if pool.Active == nil {
		pool.Active = &ActivePosition{Principal: big.NewInt(0)}
	}
	activeGain := new(big.Int).Sub(result.ConvertedPrincipal, result.FeePrincipal)
	if activeGain.Sign() < 0 {
		activeGain = big.NewInt(0)
	}
	pool.Active.Principal = new(big.Int).Add(pool.Active.Principal, activeGain)

	pool.TotalPrincipal = new(big.Int).Sub(pool.TotalPrincipal, result.FeePrincipal)
	if pool.TotalPrincipal.Sign() < 0 {
		pool.TotalPrincipal = big.NewInt(0)
	}

	if err := m.state.PutPoolStake(pool); err != nil {
		return nil, err
	}
	return result, nil
}

// SplitActive extracts a partial principal claim from the active yield-bearing
// position, used to honour redemption tickets when the liquid buffer stays
// short. ErrNoActiveStake is returned when no position exists or it cannot
// cover the request.
func (m *Manager) SplitActive(amount *big.Int) (*big.Int, error) {
	if m == nil || m.state == nil {
		return nil, errNilState
	}
	if err := nativecommon.Guard(m.pauses, moduleName); err != nil {
		return nil, err
	}
	if amount == nil || amount.Sign() <= 0 {
		return nil, errInvalidAmount
	}

	pool, err := m.loadPool()
	if err != nil {
		return nil, err
	}
	if pool.Active == nil || pool.Active.Principal == nil || pool.Active.Principal.Cmp(amount) < 0 {
		return nil, ErrNoActiveStake
	}

	pool.Active.Principal = new(big.Int).Sub(pool.Active.Principal, amount)
	pool.TotalPrincipal = new(big.Int).Sub(pool.TotalPrincipal, amount)
	if pool.TotalPrincipal.Sign() < 0 {
		pool.TotalPrincipal = big.NewInt(0)
	}
	if pool.FeePrincipal.Cmp(pool.TotalPrincipal) > 0 {
		pool.FeePrincipal = new(big.Int).Set(pool.TotalPrincipal)
	}

	if err := m.state.PutPoolStake(pool); err != nil {
		return nil, err
	}
	return new(big.Int).Set(amount), nil
}

// Snapshot returns a defensive copy of the aggregate for read paths.
func (m *Manager) Snapshot() (*PoolStake, error) {
	if m == nil || m.state == nil {
		return nil, errNilState
	}
	pool, err := m.loadPool()
	if err != nil {
		return nil, err
	}
	clone := NewPoolStake()
	clone.TotalPrincipal = new(big.Int).Set(pool.TotalPrincipal)
	clone.FeePrincipal = new(big.Int).Set(pool.FeePrincipal)
	if pool.Active != nil {
		clone.Active = &ActivePosition{Principal: new(big.Int).Set(pool.Active.Principal)}
	}
	clone.PendingPeriods = append([]uint64{}, pool.PendingPeriods...)
	for period, entry := range pool.PendingByPeriod {
		clone.PendingByPeriod[period] = entry.Clone()
	}
	return clone, nil
}

func (m *Manager) loadPool() (*PoolStake, error) {
	pool, err := m.state.GetPoolStake()
	if err != nil {
		return nil, err
	}
	if pool == nil {
		pool = NewPoolStake()
	}
	pool.Normalize()
	// Keep the FIFO order canonical even if a stored aggregate was written by
	// an older build that let the list drift.
	sortPeriodsStable(pool)
	return pool, nil
}

func sortPeriodsStable(pool *PoolStake) {
	seen := make(map[uint64]bool, len(pool.PendingPeriods))
	ordered := pool.PendingPeriods[:0]
	for _, period := range pool.PendingPeriods {
		if seen[period] {
			continue
		}
		if _, ok := pool.PendingByPeriod[period]; !ok {
			continue
		}
		seen[period] = true
		ordered = append(ordered, period)
	}
	for period := range pool.PendingByPeriod {
		if !seen[period] {
			ordered = append(ordered, period)
			seen[period] = true
		}
	}
	if !sort.SliceIsSorted(ordered, func(i, j int) bool { return ordered[i] < ordered[j] }) {
		// Activation periods are assigned monotonically, so order equals
		// insertion order. Restore it for aggregates that predate that rule.
		sort.Slice(ordered, func(i, j int) bool { return ordered[i] < ordered[j] })
	}
	pool.PendingPeriods = append([]uint64{}, ordered...)
}
