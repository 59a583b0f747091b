package storage

import (
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/rlp"

	"fxchain/core/types"
	"fxchain/crypto"
	"fxchain/native/liquidity"
	"fxchain/native/safetypool"
	"fxchain/native/settlement"
)

// Key layout for the three durable aggregates. Tickets and safety-pool
// positions hang off their aggregate's prefix.
var (
	keyProtocolState = []byte("protocol/state")
	keyPoolStake     = []byte("liquidity/pool")
	keySafetyPool    = []byte("safetypool/state")

	prefixTicket   = "protocol/ticket/"
	prefixPosition = "safetypool/position/"
	prefixAccount  = "account/"
)

// StateStore persists the protocol aggregates as RLP records over a generic
// key-value backend. It implements the persistence interfaces of the
// settlement engine, the liquidity manager and the safety pool, so one store
// instance backs the whole deployment.
type StateStore struct {
	db Database
}

func NewStateStore(db Database) *StateStore {
	return &StateStore{db: db}
}

func (s *StateStore) get(key []byte, out interface{}) (bool, error) {
	raw, err := s.db.Get(key)
	if errors.Is(err, ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, rlp.DecodeBytes(raw, out)
}

func (s *StateStore) put(key []byte, in interface{}) error {
	raw, err := rlp.EncodeToBytes(in)
	if err != nil {
		return err
	}
	return s.db.Put(key, raw)
}

// RLP rejects signed integers, maps and unexported fields, so each aggregate
// round-trips through a stored mirror with wire-safe field types.

type storedAddress struct {
	Prefix string
	Raw    []byte
}

func encodeAddress(addr crypto.Address) storedAddress {
	return storedAddress{Prefix: string(addr.Prefix()), Raw: addr.Bytes()}
}

func (a storedAddress) decode() crypto.Address {
	if len(a.Raw) != 20 {
		return crypto.Address{}
	}
	return crypto.NewAddress(crypto.AddressPrefix(a.Prefix), a.Raw)
}

type storedFeeConfig struct {
	StableMintBps       uint64
	StableRedeemBps     uint64
	LeverageMintBps     uint64
	LeverageRedeemBps   uint64
	LeverageRedeemL1Bps uint64
	MintBonusL1Bps      uint64
	MintBonusL2Bps      uint64
	MintBonusL3Bps      uint64
	RedeemBonusL2Bps    uint64
	RedeemBonusL3Bps    uint64
	Recipient           storedAddress
}

type storedStakingConfig struct {
	TargetBufferBps        uint64
	ActivationDelayPeriods uint64
	PeriodSeconds          uint64
	MaxConvertPerCall      uint32
	Validator              string
}

type storedProtocolState struct {
	ID                 string
	Buffer             *big.Int
	ReserveBalance     *big.Int
	StableSupply       *big.Int
	LeverageSupply     *big.Int
	Pf                 *big.Int
	Px                 *big.Int
	LastPrice          *big.Int
	LastOracleTime     uint64
	FeesCollected      *big.Int
	FeeTreasury        *big.Int
	TicketExpirationMs uint64
	DelegateFee        *big.Int
	Fees               storedFeeConfig
	Staking            storedStakingConfig
	Paused             bool
}

func (s *StateStore) GetProtocolState() (*settlement.ProtocolState, error) {
	var stored storedProtocolState
	ok, err := s.get(keyProtocolState, &stored)
	if err != nil || !ok {
		return nil, err
	}
	state := &settlement.ProtocolState{
		ID:                 stored.ID,
		Buffer:             stored.Buffer,
		ReserveBalance:     stored.ReserveBalance,
		StableSupply:       stored.StableSupply,
		LeverageSupply:     stored.LeverageSupply,
		Pf:                 stored.Pf,
		Px:                 stored.Px,
		LastPrice:          stored.LastPrice,
		LastOracleTime:     int64(stored.LastOracleTime),
		FeesCollected:      stored.FeesCollected,
		FeeTreasury:        stored.FeeTreasury,
		TicketExpirationMs: int64(stored.TicketExpirationMs),
		DelegateFee:        stored.DelegateFee,
		Fees: settlement.FeeConfig{
			StableMintBps:       stored.Fees.StableMintBps,
			StableRedeemBps:     stored.Fees.StableRedeemBps,
			LeverageMintBps:     stored.Fees.LeverageMintBps,
			LeverageRedeemBps:   stored.Fees.LeverageRedeemBps,
			LeverageRedeemL1Bps: stored.Fees.LeverageRedeemL1Bps,
			MintBonusL1Bps:      stored.Fees.MintBonusL1Bps,
			MintBonusL2Bps:      stored.Fees.MintBonusL2Bps,
			MintBonusL3Bps:      stored.Fees.MintBonusL3Bps,
			RedeemBonusL2Bps:    stored.Fees.RedeemBonusL2Bps,
			RedeemBonusL3Bps:    stored.Fees.RedeemBonusL3Bps,
			Recipient:           stored.Fees.Recipient.decode(),
		},
		Staking: settlement.StakingConfig{
			TargetBufferBps:        stored.Staking.TargetBufferBps,
			ActivationDelayPeriods: stored.Staking.ActivationDelayPeriods,
			PeriodSeconds:          stored.Staking.PeriodSeconds,
			MaxConvertPerCall:      int(stored.Staking.MaxConvertPerCall),
			Validator:              stored.Staking.Validator,
		},
		Paused: stored.Paused,
	}
	state.Normalize()
	return state, nil
}

func (s *StateStore) PutProtocolState(state *settlement.ProtocolState) error {
	if state == nil {
		return nil
	}
	state.Normalize()
	stored := storedProtocolState{
		ID:                 state.ID,
		Buffer:             state.Buffer,
		ReserveBalance:     state.ReserveBalance,
		StableSupply:       state.StableSupply,
		LeverageSupply:     state.LeverageSupply,
		Pf:                 state.Pf,
		Px:                 state.Px,
		LastPrice:          state.LastPrice,
		LastOracleTime:     uint64(state.LastOracleTime),
		FeesCollected:      state.FeesCollected,
		FeeTreasury:        state.FeeTreasury,
		TicketExpirationMs: uint64(state.TicketExpirationMs),
		DelegateFee:        state.DelegateFee,
		Fees: storedFeeConfig{
			StableMintBps:       state.Fees.StableMintBps,
			StableRedeemBps:     state.Fees.StableRedeemBps,
			LeverageMintBps:     state.Fees.LeverageMintBps,
			LeverageRedeemBps:   state.Fees.LeverageRedeemBps,
			LeverageRedeemL1Bps: state.Fees.LeverageRedeemL1Bps,
			MintBonusL1Bps:      state.Fees.MintBonusL1Bps,
			MintBonusL2Bps:      state.Fees.MintBonusL2Bps,
			MintBonusL3Bps:      state.Fees.MintBonusL3Bps,
			RedeemBonusL2Bps:    state.Fees.RedeemBonusL2Bps,
			RedeemBonusL3Bps:    state.Fees.RedeemBonusL3Bps,
			Recipient:           encodeAddress(state.Fees.Recipient),
		},
		Staking: storedStakingConfig{
			TargetBufferBps:        state.Staking.TargetBufferBps,
			ActivationDelayPeriods: state.Staking.ActivationDelayPeriods,
			PeriodSeconds:          state.Staking.PeriodSeconds,
			MaxConvertPerCall:      uint32(state.Staking.MaxConvertPerCall),
			Validator:              state.Staking.Validator,
		},
		Paused: state.Paused,
	}
	return s.put(keyProtocolState, &stored)
}

type storedTicket struct {
	ID           string
	Owner        storedAddress
	Amount       *big.Int
	ExpiresAt    uint64
	OperationFee *big.Int
	Delegated    bool
}

func ticketKey(id string) []byte {
	return []byte(prefixTicket + id)
}

func (s *StateStore) GetTicket(id string) (*settlement.RedemptionTicket, error) {
	var stored storedTicket
	ok, err := s.get(ticketKey(id), &stored)
	if err != nil || !ok {
		return nil, err
	}
	return &settlement.RedemptionTicket{
		ID:           stored.ID,
		Owner:        stored.Owner.decode(),
		Amount:       stored.Amount,
		ExpiresAt:    int64(stored.ExpiresAt),
		OperationFee: stored.OperationFee,
		Delegated:    stored.Delegated,
	}, nil
}

func (s *StateStore) PutTicket(ticket *settlement.RedemptionTicket) error {
	if ticket == nil {
		return nil
	}
	stored := storedTicket{
		ID:           ticket.ID,
		Owner:        encodeAddress(ticket.Owner),
		Amount:       ticket.Amount,
		ExpiresAt:    uint64(ticket.ExpiresAt),
		OperationFee: ticket.OperationFee,
		Delegated:    ticket.Delegated,
	}
	return s.put(ticketKey(ticket.ID), &stored)
}

func (s *StateStore) DeleteTicket(id string) error {
	return s.db.Delete(ticketKey(id))
}

type storedPendingStake struct {
	Period    uint64
	Principal *big.Int
}

type storedPoolStake struct {
	HasActive       bool
	ActivePrincipal *big.Int
	Pending         []storedPendingStake
	TotalPrincipal  *big.Int
	FeePrincipal    *big.Int
}

func (s *StateStore) GetPoolStake() (*liquidity.PoolStake, error) {
	var stored storedPoolStake
	ok, err := s.get(keyPoolStake, &stored)
	if err != nil || !ok {
		return nil, err
	}
	pool := liquidity.NewPoolStake()
	pool.TotalPrincipal = stored.TotalPrincipal
	pool.FeePrincipal = stored.FeePrincipal
	if stored.HasActive {
		pool.Active = &liquidity.ActivePosition{Principal: stored.ActivePrincipal}
	}
	for _, entry := range stored.Pending {
		pool.PendingByPeriod[entry.Period] = &liquidity.PendingStake{
			Period:    entry.Period,
			Principal: entry.Principal,
		}
		pool.PendingPeriods = append(pool.PendingPeriods, entry.Period)
	}
	pool.Normalize()
	return pool, nil
}

func (s *StateStore) PutPoolStake(pool *liquidity.PoolStake) error {
	if pool == nil {
		return nil
	}
	pool.Normalize()
	stored := storedPoolStake{
		TotalPrincipal: pool.TotalPrincipal,
		FeePrincipal:   pool.FeePrincipal,
	}
	if pool.Active != nil {
		stored.HasActive = true
		stored.ActivePrincipal = pool.Active.Principal
	} else {
		stored.ActivePrincipal = big.NewInt(0)
	}
	// Pending entries are stored in FIFO order so decode reproduces it.
	for _, period := range pool.PendingPeriods {
		entry, ok := pool.PendingByPeriod[period]
		if !ok {
			continue
		}
		stored.Pending = append(stored.Pending, storedPendingStake{
			Period:    period,
			Principal: entry.Principal,
		})
	}
	return s.put(keyPoolStake, &stored)
}

type storedSafetyPool struct {
	ID          string
	Custody     *big.Int
	Scale       *big.Int
	ScaledTotal *big.Int
	Index       *big.Int
	Obligation  *big.Int
}

func (s *StateStore) GetPoolState() (*safetypool.PoolState, error) {
	var stored storedSafetyPool
	ok, err := s.get(keySafetyPool, &stored)
	if err != nil || !ok {
		return nil, err
	}
	pool := &safetypool.PoolState{
		ID:          stored.ID,
		Custody:     stored.Custody,
		Scale:       stored.Scale,
		ScaledTotal: stored.ScaledTotal,
		Index:       stored.Index,
		Obligation:  stored.Obligation,
	}
	pool.Normalize()
	return pool, nil
}

func (s *StateStore) PutPoolState(pool *safetypool.PoolState) error {
	if pool == nil {
		return nil
	}
	pool.Normalize()
	stored := storedSafetyPool{
		ID:          pool.ID,
		Custody:     pool.Custody,
		Scale:       pool.Scale,
		ScaledTotal: pool.ScaledTotal,
		Index:       pool.Index,
		Obligation:  pool.Obligation,
	}
	return s.put(keySafetyPool, &stored)
}

type storedPosition struct {
	Owner         storedAddress
	ScaledShares  *big.Int
	IndexSnapshot *big.Int
	PendingReward *big.Int
}

func positionKey(addr crypto.Address) []byte {
	return append([]byte(prefixPosition), addr.Bytes()...)
}

func (s *StateStore) GetPosition(addr crypto.Address) (*safetypool.Position, error) {
	var stored storedPosition
	ok, err := s.get(positionKey(addr), &stored)
	if err != nil || !ok {
		return nil, err
	}
	position := &safetypool.Position{
		Owner:         stored.Owner.decode(),
		ScaledShares:  stored.ScaledShares,
		IndexSnapshot: stored.IndexSnapshot,
		PendingReward: stored.PendingReward,
	}
	position.Normalize()
	return position, nil
}

func (s *StateStore) PutPosition(position *safetypool.Position) error {
	if position == nil {
		return nil
	}
	position.Normalize()
	stored := storedPosition{
		Owner:         encodeAddress(position.Owner),
		ScaledShares:  position.ScaledShares,
		IndexSnapshot: position.IndexSnapshot,
		PendingReward: position.PendingReward,
	}
	return s.put(positionKey(position.Owner), &stored)
}

type storedAccount struct {
	Nonce       uint64
	BalanceRSV  *big.Int
	BalanceFUSD *big.Int
	BalanceXRS  *big.Int
}

func accountKey(addr crypto.Address) []byte {
	return append([]byte(prefixAccount), addr.Bytes()...)
}

// GetAccount reads a per-address balance record. Unknown addresses resolve to
// an empty account rather than nil, so callers can debit and credit without a
// presence check.
func (s *StateStore) GetAccount(addr crypto.Address) (*types.Account, error) {
	var stored storedAccount
	ok, err := s.get(accountKey(addr), &stored)
	if err != nil {
		return nil, err
	}
	account := &types.Account{}
	if ok {
		account.Nonce = stored.Nonce
		account.BalanceRSV = stored.BalanceRSV
		account.BalanceFUSD = stored.BalanceFUSD
		account.BalanceXRS = stored.BalanceXRS
	}
	account.Normalize()
	return account, nil
}

func (s *StateStore) PutAccount(addr crypto.Address, account *types.Account) error {
	if account == nil {
		return nil
	}
	account.Normalize()
	stored := storedAccount{
		Nonce:       account.Nonce,
		BalanceRSV:  account.BalanceRSV,
		BalanceFUSD: account.BalanceFUSD,
		BalanceXRS:  account.BalanceXRS,
	}
	return s.put(accountKey(addr), &stored)
}
