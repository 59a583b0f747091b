package core

import (
	"log/slog"
	"math/big"
	"sync"
	"time"

	"fxchain/core/types"
	"fxchain/crypto"
	"fxchain/native/liquidity"
	"fxchain/native/safetypool"
	"fxchain/native/settlement"
	"fxchain/observability"
	"fxchain/storage"
)

// EventSink receives committed protocol events in emission order.
type EventSink interface {
	Append(*types.Event)
}

// Options configures a protocol instance.
type Options struct {
	// StateID names the protocol aggregate; admin capabilities bind to it.
	StateID string
	// PoolID names the safety pool aggregate; the engine's controller
	// capability binds to it.
	PoolID string
	// StakingBackend values converted stakes; nil means identity valuation.
	StakingBackend liquidity.StakingBackend
	// PausedModules lists engine modules frozen at startup.
	PausedModules []string
	Logger        *slog.Logger
}

type pauseSet map[string]bool

func (p pauseSet) IsPaused(module string) bool { return p[module] }

// Protocol owns the three durable aggregates behind one mutex and runs each
// top-level operation as a transaction: engine writes buffer in an overlay
// and commit only when the whole operation succeeds, so partial completion is
// never observable. Events emitted mid-operation flush to sinks on commit and
// are dropped on rollback.
type Protocol struct {
	mu      sync.Mutex
	overlay *storage.Overlay
	store   *storage.StateStore

	engine  *settlement.Engine
	manager *liquidity.Manager
	safety  *safetypool.Pool

	log     *slog.Logger
	metrics *observability.EngineMetrics

	sinks   []EventSink
	pending []*types.Event
}

// NewProtocol wires the engines over an overlay on the provided database.
func NewProtocol(db storage.Database, opts Options) *Protocol {
	overlay := storage.NewOverlay(db)
	store := storage.NewStateStore(overlay)

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	p := &Protocol{
		overlay: overlay,
		store:   store,
		log:     logger,
		metrics: observability.Engine(),
	}

	pauses := pauseSet{}
	for _, module := range opts.PausedModules {
		pauses[module] = true
	}

	p.manager = liquidity.NewManager(opts.StakingBackend)
	p.manager.SetState(store)
	p.manager.SetPauses(pauses)

	p.safety = safetypool.NewPool()
	p.safety.SetState(store)
	p.safety.SetPauses(pauses)

	p.engine = settlement.NewEngine(p.manager, p.safety, opts.PoolID)
	p.engine.SetState(store)
	p.engine.SetPauses(pauses)
	p.engine.SetEmitter(p)

	return p
}

// RegisterSink adds a committed-event consumer.
func (p *Protocol) RegisterSink(sink EventSink) {
	if p == nil || sink == nil {
		return
	}
	p.mu.Lock()
	p.sinks = append(p.sinks, sink)
	p.mu.Unlock()
}

// Emit buffers an engine event for the in-flight operation.
func (p *Protocol) Emit(event *types.Event) {
	if event == nil {
		return
	}
	p.pending = append(p.pending, event)
}

// GenesisAlloc seeds an address with reserve tokens at genesis.
type GenesisAlloc struct {
	Address crypto.Address
	Amount  *big.Int
}

// InitGenesis writes the initial protocol and safety-pool aggregates and the
// genesis balance allocations, unless state already exists.
func (p *Protocol) InitGenesis(state *settlement.ProtocolState, poolID string, allocs []GenesisAlloc) error {
	return p.do("init_genesis", func() error {
		existing, err := p.store.GetProtocolState()
		if err != nil {
			return err
		}
		if existing != nil {
			return nil
		}
		if err := p.store.PutProtocolState(state); err != nil {
			return err
		}
		if err := p.store.PutPoolState(safetypool.NewPoolState(poolID)); err != nil {
			return err
		}
		for _, alloc := range allocs {
			if err := p.credit(alloc.Address, TokenRSV, alloc.Amount); err != nil {
				return err
			}
		}
		return nil
	})
}

func (p *Protocol) do(op string, fn func() error) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	start := time.Now()
	p.pending = p.pending[:0]

	err := fn()
	if err != nil {
		p.overlay.Discard()
	} else if commitErr := p.overlay.Commit(); commitErr != nil {
		err = commitErr
	}

	if err == nil {
		for _, event := range p.pending {
			for _, sink := range p.sinks {
				sink.Append(event)
			}
		}
		p.publishCollateral()
	} else {
		p.log.Warn("protocol operation failed", "operation", op, "error", err)
	}
	p.pending = p.pending[:0]
	p.metrics.Observe(op, start, err)
	return err
}

func (p *Protocol) publishCollateral() {
	ratio, err := p.engine.CollateralRatio()
	if err != nil {
		return
	}
	level, err := p.engine.Level()
	if err != nil {
		return
	}
	p.metrics.SetCollateral(ratio, level.String())
}

// MintStable mints stable tokens against a reserve deposit.
func (p *Protocol) MintStable(caller crypto.Address, reserveIn *big.Int) (*settlement.MintResult, error) {
	var result *settlement.MintResult
	err := p.do("mint_stable", func() error {
		if err := p.debit(caller, TokenRSV, reserveIn); err != nil {
			return err
		}
		var innerErr error
		if result, innerErr = p.engine.MintStable(caller, reserveIn); innerErr != nil {
			return innerErr
		}
		return p.credit(caller, TokenFUSD, result.Minted)
	})
	return result, err
}

// MintLeverage mints leverage tokens against a reserve deposit.
func (p *Protocol) MintLeverage(caller crypto.Address, reserveIn *big.Int) (*settlement.MintResult, error) {
	var result *settlement.MintResult
	err := p.do("mint_leverage", func() error {
		if err := p.debit(caller, TokenRSV, reserveIn); err != nil {
			return err
		}
		var innerErr error
		if result, innerErr = p.engine.MintLeverage(caller, reserveIn); innerErr != nil {
			return innerErr
		}
		return p.credit(caller, TokenXRS, result.Minted)
	})
	return result, err
}

// RedeemStable burns stable tokens for reserve.
func (p *Protocol) RedeemStable(caller crypto.Address, amount *big.Int, delegate bool) (*settlement.RedeemResult, error) {
	var result *settlement.RedeemResult
	err := p.do("redeem_stable", func() error {
		if err := p.debit(caller, TokenFUSD, amount); err != nil {
			return err
		}
		var innerErr error
		if result, innerErr = p.engine.RedeemStable(caller, amount, delegate); innerErr != nil {
			return innerErr
		}
		return p.credit(caller, TokenRSV, result.Immediate)
	})
	return result, err
}

// RedeemLeverage burns leverage tokens for reserve.
func (p *Protocol) RedeemLeverage(caller crypto.Address, amount *big.Int, delegate bool) (*settlement.RedeemResult, error) {
	var result *settlement.RedeemResult
	err := p.do("redeem_leverage", func() error {
		if err := p.debit(caller, TokenXRS, amount); err != nil {
			return err
		}
		var innerErr error
		if result, innerErr = p.engine.RedeemLeverage(caller, amount, delegate); innerErr != nil {
			return innerErr
		}
		return p.credit(caller, TokenRSV, result.Immediate)
	})
	return result, err
}

// UpdatePrice records a new oracle observation.
func (p *Protocol) UpdatePrice(priceE9 *big.Int, observedAt time.Time) error {
	return p.do("update_price", func() error {
		return p.engine.UpdatePrice(priceE9, observedAt)
	})
}

// ClaimTicket fulfils a queued redemption ticket.
func (p *Protocol) ClaimTicket(caller crypto.Address, ticketID string) (*settlement.TicketClaim, error) {
	var claim *settlement.TicketClaim
	err := p.do("claim_ticket", func() error {
		ticket, err := p.store.GetTicket(ticketID)
		if err != nil {
			return err
		}
		var innerErr error
		if claim, innerErr = p.engine.ClaimTicket(caller, ticketID); innerErr != nil {
			return innerErr
		}
		if err := p.credit(ticket.Owner, TokenRSV, claim.Paid); err != nil {
			return err
		}
		return p.credit(caller, TokenRSV, claim.Fee)
	})
	return claim, err
}

// ReclaimExpiredTicket reverses an expired ticket into the tracked reserve.
func (p *Protocol) ReclaimExpiredTicket(caller crypto.Address, ticketID string) error {
	return p.do("reclaim_ticket", func() error {
		return p.engine.ReclaimExpiredTicket(caller, ticketID)
	})
}

// RebalanceBuffer runs the keeper maintenance pass.
func (p *Protocol) RebalanceBuffer() (*settlement.RebalanceSummary, error) {
	var summary *settlement.RebalanceSummary
	err := p.do("rebalance_buffer", func() error {
		var innerErr error
		summary, innerErr = p.engine.RebalanceBuffer()
		return innerErr
	})
	return summary, err
}

// SettleAndConsolidate folds matured pending stake without the fee split.
func (p *Protocol) SettleAndConsolidate() (*liquidity.ConversionResult, error) {
	var result *liquidity.ConversionResult
	err := p.do("settle_consolidate", func() error {
		var innerErr error
		result, innerErr = p.engine.SettleAndConsolidate()
		return innerErr
	})
	return result, err
}

// HarvestYield books staking yield into the reserve, indexes it to
// safety-pool depositors and pays the keeper bounty to the caller.
func (p *Protocol) HarvestYield(caller crypto.Address, amount *big.Int) (*safetypool.HarvestResult, error) {
	var result *safetypool.HarvestResult
	err := p.do("harvest_yield", func() error {
		var innerErr error
		if result, innerErr = p.engine.HarvestYield(caller, amount); innerErr != nil {
			return innerErr
		}
		return p.credit(caller, TokenRSV, result.Bounty)
	})
	return result, err
}

// ClaimPoolReward settles and pays a safety-pool depositor's reserve reward.
func (p *Protocol) ClaimPoolReward(owner crypto.Address) (*settlement.RedeemResult, error) {
	var result *settlement.RedeemResult
	err := p.do("claim_pool_reward", func() error {
		var innerErr error
		if result, innerErr = p.engine.ClaimPoolReward(owner); innerErr != nil {
			return innerErr
		}
		return p.credit(owner, TokenRSV, result.Immediate)
	})
	return result, err
}

// PoolDeposit adds stable tokens to the safety pool.
func (p *Protocol) PoolDeposit(owner crypto.Address, amount *big.Int) error {
	return p.do("pool_deposit", func() error {
		if err := p.debit(owner, TokenFUSD, amount); err != nil {
			return err
		}
		if err := p.safety.Deposit(owner, amount); err != nil {
			return err
		}
		p.Emit(safetypool.NewDepositedEvent(owner, amount))
		return nil
	})
}

// PoolWithdraw releases stable tokens from the safety pool.
func (p *Protocol) PoolWithdraw(owner crypto.Address, amount *big.Int) error {
	return p.do("pool_withdraw", func() error {
		if err := p.safety.Withdraw(owner, amount); err != nil {
			return err
		}
		if err := p.credit(owner, TokenFUSD, amount); err != nil {
			return err
		}
		p.Emit(safetypool.NewWithdrawnEvent(owner, amount))
		return nil
	})
}

// Admin surfaces. Each passes the capability through to the engine.

func (p *Protocol) SetFeeConfig(cap settlement.AdminCap, fees settlement.FeeConfig) error {
	return p.do("set_fee_config", func() error { return p.engine.SetFeeConfig(cap, fees) })
}

func (p *Protocol) SetBufferTarget(cap settlement.AdminCap, bps uint64) error {
	return p.do("set_buffer_target", func() error { return p.engine.SetBufferTarget(cap, bps) })
}

func (p *Protocol) SetTicketExpiration(cap settlement.AdminCap, ms int64) error {
	return p.do("set_ticket_expiration", func() error { return p.engine.SetTicketExpiration(cap, ms) })
}

func (p *Protocol) SetDelegateFee(cap settlement.AdminCap, fee *big.Int) error {
	return p.do("set_delegate_fee", func() error { return p.engine.SetDelegateFee(cap, fee) })
}

func (p *Protocol) SetPaused(cap settlement.AdminCap, paused bool) error {
	return p.do("set_paused", func() error { return p.engine.SetPaused(cap, paused) })
}

func (p *Protocol) WithdrawFeeTreasury(cap settlement.AdminCap, to crypto.Address, amount *big.Int) error {
	return p.do("withdraw_fee_treasury", func() error {
		if err := p.engine.WithdrawFeeTreasury(cap, to, amount); err != nil {
			return err
		}
		return p.credit(to, TokenRSV, amount)
	})
}

func (p *Protocol) EmergencyRebalance(cap settlement.AdminCap, targetCR *big.Int) (*settlement.EmergencyResult, error) {
	var result *settlement.EmergencyResult
	err := p.do("emergency_rebalance", func() error {
		var innerErr error
		result, innerErr = p.engine.EmergencyRebalance(cap, targetCR)
		return innerErr
	})
	return result, err
}

// Read side. Queries hold the same mutex so they never observe a half-applied
// operation.

func (p *Protocol) Snapshot() (*settlement.ProtocolState, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.engine.Snapshot()
}

func (p *Protocol) Health() (*settlement.HealthReport, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.engine.Health()
}

func (p *Protocol) CollateralRatio() (*big.Int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.engine.CollateralRatio()
}

func (p *Protocol) Level() (settlement.Level, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.engine.Level()
}

func (p *Protocol) Ticket(id string) (*settlement.RedemptionTicket, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.store.GetTicket(id)
}

func (p *Protocol) QuoteMintStable(amount *big.Int) (*settlement.MintResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.engine.QuoteMintStable(amount)
}

func (p *Protocol) QuoteMintLeverage(amount *big.Int) (*settlement.MintResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.engine.QuoteMintLeverage(amount)
}

func (p *Protocol) QuoteRedeemStable(amount *big.Int) (*settlement.RedeemResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.engine.QuoteRedeemStable(amount)
}

func (p *Protocol) QuoteRedeemLeverage(amount *big.Int) (*settlement.RedeemResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.engine.QuoteRedeemLeverage(amount)
}

func (p *Protocol) LiquiditySnapshot() (*liquidity.PoolStake, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.manager.Snapshot()
}

func (p *Protocol) PoolBalance(owner crypto.Address) (*big.Int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.safety.Balance(owner)
}

func (p *Protocol) PoolPendingReward(owner crypto.Address) (*big.Int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.safety.PendingReward(owner)
}
