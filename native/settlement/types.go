package settlement

import (
	"math/big"

	"fxchain/crypto"
)

// FeeConfig holds the per-level fee and bonus schedule in basis points.
// Stable redemptions are free from L1 down to encourage supply burning, so
// only the Normal-level stable redemption fee is configurable. Leverage
// redemptions carry an elevated fee specifically at L1 to discourage exits
// while the system needs stabilising.
type FeeConfig struct {
	StableMintBps       uint64
	StableRedeemBps     uint64
	LeverageMintBps     uint64
	LeverageRedeemBps   uint64
	LeverageRedeemL1Bps uint64

	MintBonusL1Bps uint64
	MintBonusL2Bps uint64
	MintBonusL3Bps uint64

	RedeemBonusL2Bps uint64
	RedeemBonusL3Bps uint64

	Recipient crypto.Address
}

// DefaultFeeConfig returns the launch fee schedule.
func DefaultFeeConfig() FeeConfig {
	return FeeConfig{
		StableMintBps:       25,
		StableRedeemBps:     25,
		LeverageMintBps:     25,
		LeverageRedeemBps:   50,
		LeverageRedeemL1Bps: 100,
		MintBonusL1Bps:      20,
		MintBonusL2Bps:      50,
		MintBonusL3Bps:      100,
		RedeemBonusL2Bps:    100,
		RedeemBonusL3Bps:    200,
	}
}

func (f FeeConfig) stableRedeemFeeBps(level Level) uint64 {
	if level == LevelNormal {
		return f.StableRedeemBps
	}
	return 0
}

func (f FeeConfig) leverageRedeemFeeBps(level Level) uint64 {
	if level == LevelL1 {
		return f.LeverageRedeemL1Bps
	}
	return f.LeverageRedeemBps
}

func (f FeeConfig) mintBonusBps(level Level) uint64 {
	switch level {
	case LevelL1:
		return f.MintBonusL1Bps
	case LevelL2:
		return f.MintBonusL2Bps
	case LevelL3:
		return f.MintBonusL3Bps
	default:
		return 0
	}
}

func (f FeeConfig) redeemBonusBps(level Level) uint64 {
	switch level {
	case LevelL2:
		return f.RedeemBonusL2Bps
	case LevelL3:
		return f.RedeemBonusL3Bps
	default:
		return 0
	}
}

// StakingConfig controls buffer targeting and the pending-stake pipeline.
type StakingConfig struct {
	// TargetBufferBps is the fraction of the total reserve kept liquid.
	TargetBufferBps uint64
	// ActivationDelayPeriods is how many full periods a deposit waits in the
	// pending queue before it becomes convertible.
	ActivationDelayPeriods uint64
	// PeriodSeconds is the wall-clock length of one activation period.
	PeriodSeconds uint64
	// MaxConvertPerCall bounds how many pending entries one maintenance call
	// may fold into the active position.
	MaxConvertPerCall int
	// Validator names the staking destination for the active position.
	Validator string
}

// DefaultStakingConfig returns the launch staking parameters.
func DefaultStakingConfig() StakingConfig {
	return StakingConfig{
		TargetBufferBps:        1_000,
		ActivationDelayPeriods: 1,
		PeriodSeconds:          86_400,
		MaxConvertPerCall:      16,
	}
}

// Ticket expiration bounds, milliseconds.
const (
	minTicketExpirationMs     = int64(60 * 60 * 1000)
	maxTicketExpirationMs     = int64(30 * 24 * 60 * 60 * 1000)
	defaultTicketExpirationMs = int64(7 * 24 * 60 * 60 * 1000)
)

// ProtocolState is the engine's singleton aggregate: price and supply
// counters, the liquid buffer and principal ledgers, fee configuration and
// the ticket expiration window. ReserveBalance tracks principal only and
// never includes accrued staking rewards; FeesCollected is fee principal
// still sitting in the buffer awaiting conversion, and FeeTreasury holds
// fee value already split out of converted stakes.
type ProtocolState struct {
	ID string

	Buffer         *big.Int
	ReserveBalance *big.Int
	StableSupply   *big.Int
	LeverageSupply *big.Int

	Pf             *big.Int
	Px             *big.Int
	LastPrice      *big.Int
	LastOracleTime int64

	FeesCollected *big.Int
	FeeTreasury   *big.Int

	TicketExpirationMs int64
	DelegateFee        *big.Int

	Fees    FeeConfig
	Staking StakingConfig

	Paused bool
}

// NewProtocolState returns a zeroed aggregate with default configuration and
// the fixed stable-token unit price.
func NewProtocolState(id string) *ProtocolState {
	state := &ProtocolState{
		ID:      id,
		Fees:    DefaultFeeConfig(),
		Staking: DefaultStakingConfig(),
	}
	state.Normalize()
	return state
}

// Normalize replaces nil ledgers so loaded aggregates are safe to mutate.
func (s *ProtocolState) Normalize() {
	if s == nil {
		return
	}
	if s.Buffer == nil {
		s.Buffer = big.NewInt(0)
	}
	if s.ReserveBalance == nil {
		s.ReserveBalance = big.NewInt(0)
	}
	if s.StableSupply == nil {
		s.StableSupply = big.NewInt(0)
	}
	if s.LeverageSupply == nil {
		s.LeverageSupply = big.NewInt(0)
	}
	if s.Pf == nil || s.Pf.Sign() <= 0 {
		s.Pf = new(big.Int).Set(priceOne)
	}
	if s.Px == nil {
		s.Px = big.NewInt(0)
	}
	if s.LastPrice == nil {
		s.LastPrice = big.NewInt(0)
	}
	if s.FeesCollected == nil {
		s.FeesCollected = big.NewInt(0)
	}
	if s.FeeTreasury == nil {
		s.FeeTreasury = big.NewInt(0)
	}
	if s.DelegateFee == nil {
		s.DelegateFee = big.NewInt(0)
	}
	if s.TicketExpirationMs <= 0 {
		s.TicketExpirationMs = defaultTicketExpirationMs
	}
	if s.Staking.PeriodSeconds == 0 {
		s.Staking.PeriodSeconds = DefaultStakingConfig().PeriodSeconds
	}
}

// RedemptionTicket is a deferred claim issued when the liquid buffer cannot
// cover a redemption payout in full. The amount is denominated in reserve
// tokens. OperationFee is nonzero only on delegate-enabled redemptions.
type RedemptionTicket struct {
	ID           string
	Owner        crypto.Address
	Amount       *big.Int
	ExpiresAt    int64
	OperationFee *big.Int
	Delegated    bool
}

// AdminCap is the opaque admin credential, bound at issuance to one protocol
// instance identity.
type AdminCap struct {
	StateID string
}

// MintResult reports one mint operation for event emission and callers.
type MintResult struct {
	Minted *big.Int
	Fee    *big.Int
	Bonus  *big.Int
	Level  Level
}

// RedeemResult reports one redemption: the part paid immediately from the
// buffer and the ticket covering any shortfall.
type RedeemResult struct {
	Payout    *big.Int
	Immediate *big.Int
	Fee       *big.Int
	Bonus     *big.Int
	Level     Level
	Ticket    *RedemptionTicket
}

// RebalanceSummary reports one keeper maintenance pass.
type RebalanceSummary struct {
	Staked         *big.Int
	StakedFees     *big.Int
	Converted      *big.Int
	FeeSlice       *big.Int
	BufferTopUp    *big.Int
	ConvertedItems int
}

// EmergencyResult reports one L3 protocol rebalance.
type EmergencyResult struct {
	Burned *big.Int
	Payout *big.Int
	Level  Level
}

// Health reasons reported by the protocol summary.
const (
	HealthOracleStale    = "ORACLE_STALE"
	HealthCRBelowMinimum = "CR_BELOW_MINIMUM"
	HealthReservesLow    = "RESERVES_LOW"
)

// HealthReport summarises protocol safety for read-side consumers.
type HealthReport struct {
	Level   Level
	CR      *big.Int
	Healthy bool
	Reasons []string
}
