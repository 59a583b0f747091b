package storage

import (
	"math/big"
	"testing"

	"fxchain/crypto"
	"fxchain/native/liquidity"
	"fxchain/native/safetypool"
	"fxchain/native/settlement"
)

func testAddr(suffix byte) crypto.Address {
	raw := make([]byte, 20)
	raw[19] = suffix
	return crypto.NewAddress(crypto.FXPrefix, raw)
}

// Engines wired to a StateStore must observe their own writes across a store
// reopen, including optional fields like the active position and tickets.
func TestStateStoreBacksEnginesDurably(t *testing.T) {
	db := NewMemDB()
	store := NewStateStore(db)

	manager := liquidity.NewManager(nil)
	manager.SetState(store)
	if _, err := manager.AddPending(big.NewInt(5_000), 7, true); err != nil {
		t.Fatalf("add pending: %v", err)
	}
	if _, err := manager.ConvertMatured(7, 0, false); err != nil {
		t.Fatalf("convert: %v", err)
	}

	pool := safetypool.NewPool()
	pool.SetState(store)
	alice := testAddr(0x01)
	if err := pool.Deposit(alice, big.NewInt(1_000)); err != nil {
		t.Fatalf("deposit: %v", err)
	}

	state := settlement.NewProtocolState("proto-durable")
	state.ReserveBalance = big.NewInt(2_000_000)
	state.StableSupply = big.NewInt(1_000_000)
	state.LastPrice = big.NewInt(1_000_000_000)
	state.LastOracleTime = 1_700_000_000
	if err := store.PutProtocolState(state); err != nil {
		t.Fatalf("put protocol state: %v", err)
	}
	ticket := &settlement.RedemptionTicket{
		ID:           "ticket-1",
		Owner:        alice,
		Amount:       big.NewInt(500),
		ExpiresAt:    1_700_000_999,
		OperationFee: big.NewInt(10),
		Delegated:    true,
	}
	if err := store.PutTicket(ticket); err != nil {
		t.Fatalf("put ticket: %v", err)
	}

	reopened := NewStateStore(db)

	loadedPool, err := reopened.GetPoolStake()
	if err != nil {
		t.Fatalf("get pool stake: %v", err)
	}
	if loadedPool.ActivePrincipal().Cmp(big.NewInt(5_000)) != 0 {
		t.Fatalf("expected active principal 5000, got %s", loadedPool.ActivePrincipal())
	}
	if loadedPool.FeePrincipal.Cmp(big.NewInt(5_000)) != 0 {
		t.Fatalf("expected fee principal 5000, got %s", loadedPool.FeePrincipal)
	}

	loadedSafety, err := reopened.GetPoolState()
	if err != nil {
		t.Fatalf("get safety pool: %v", err)
	}
	if loadedSafety.Custody.Cmp(big.NewInt(1_000)) != 0 {
		t.Fatalf("expected custody 1000, got %s", loadedSafety.Custody)
	}
	position, err := reopened.GetPosition(alice)
	if err != nil {
		t.Fatalf("get position: %v", err)
	}
	if position == nil || position.ScaledShares.Sign() == 0 {
		t.Fatalf("expected stored position, got %+v", position)
	}
	if position.Owner.String() != alice.String() {
		t.Fatalf("owner mismatch: %s vs %s", position.Owner, alice)
	}

	loadedState, err := reopened.GetProtocolState()
	if err != nil {
		t.Fatalf("get protocol state: %v", err)
	}
	if loadedState.ID != "proto-durable" {
		t.Fatalf("unexpected state ID %q", loadedState.ID)
	}
	if loadedState.ReserveBalance.Cmp(big.NewInt(2_000_000)) != 0 {
		t.Fatalf("expected reserve 2000000, got %s", loadedState.ReserveBalance)
	}
	if loadedState.LastOracleTime != 1_700_000_000 {
		t.Fatalf("expected oracle time preserved, got %d", loadedState.LastOracleTime)
	}
	if loadedState.Fees.StableMintBps != settlement.DefaultFeeConfig().StableMintBps {
		t.Fatalf("fee config lost: %+v", loadedState.Fees)
	}

	loadedTicket, err := reopened.GetTicket("ticket-1")
	if err != nil {
		t.Fatalf("get ticket: %v", err)
	}
	if loadedTicket == nil || !loadedTicket.Delegated || loadedTicket.Amount.Cmp(big.NewInt(500)) != 0 {
		t.Fatalf("ticket mismatch: %+v", loadedTicket)
	}

	if err := reopened.DeleteTicket("ticket-1"); err != nil {
		t.Fatalf("delete ticket: %v", err)
	}
	gone, err := reopened.GetTicket("ticket-1")
	if err != nil {
		t.Fatalf("get deleted ticket: %v", err)
	}
	if gone != nil {
		t.Fatalf("expected nil after delete, got %+v", gone)
	}
}

func TestStateStoreMissingAggregatesReadNil(t *testing.T) {
	store := NewStateStore(NewMemDB())

	if state, err := store.GetProtocolState(); err != nil || state != nil {
		t.Fatalf("expected nil fresh protocol state, got %+v, %v", state, err)
	}
	if pool, err := store.GetPoolStake(); err != nil || pool != nil {
		t.Fatalf("expected nil fresh pool stake, got %+v, %v", pool, err)
	}
	if pool, err := store.GetPoolState(); err != nil || pool != nil {
		t.Fatalf("expected nil fresh safety pool, got %+v, %v", pool, err)
	}
	if position, err := store.GetPosition(testAddr(0x01)); err != nil || position != nil {
		t.Fatalf("expected nil fresh position, got %+v, %v", position, err)
	}
}

func TestStateStoreAccountRoundTrip(t *testing.T) {
	db := NewMemDB()
	store := NewStateStore(db)
	addr := testAddr(0x42)

	fresh, err := store.GetAccount(addr)
	if err != nil {
		t.Fatalf("get fresh account: %v", err)
	}
	if fresh.BalanceRSV.Sign() != 0 || fresh.BalanceFUSD.Sign() != 0 || fresh.BalanceXRS.Sign() != 0 {
		t.Fatalf("fresh account not zeroed: %+v", fresh)
	}

	fresh.Nonce = 7
	fresh.BalanceRSV = big.NewInt(1_000_000)
	fresh.BalanceFUSD = big.NewInt(250)
	if err := store.PutAccount(addr, fresh); err != nil {
		t.Fatalf("put account: %v", err)
	}

	reloaded, err := NewStateStore(db).GetAccount(addr)
	if err != nil {
		t.Fatalf("reload account: %v", err)
	}
	if reloaded.Nonce != 7 {
		t.Fatalf("nonce = %d, want 7", reloaded.Nonce)
	}
	if reloaded.BalanceRSV.Cmp(big.NewInt(1_000_000)) != 0 {
		t.Fatalf("balanceRSV = %s", reloaded.BalanceRSV)
	}
	if reloaded.BalanceFUSD.Cmp(big.NewInt(250)) != 0 {
		t.Fatalf("balanceFUSD = %s", reloaded.BalanceFUSD)
	}
	if reloaded.BalanceXRS.Sign() != 0 {
		t.Fatalf("balanceXRS = %s", reloaded.BalanceXRS)
	}
}
