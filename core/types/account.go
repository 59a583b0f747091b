package types

import "math/big"

// Account tracks the token balances carried by a single address. RSV is the
// staked reserve asset, FUSD the pegged stable token and XRS the leverage
// token.
type Account struct {
	Nonce       uint64   `json:"nonce"`
	BalanceRSV  *big.Int `json:"balanceRSV"`
	BalanceFUSD *big.Int `json:"balanceFUSD"`
	BalanceXRS  *big.Int `json:"balanceXRS"`
}

// Normalize replaces nil balance fields with zero values so callers can do
// arithmetic without nil checks.
func (a *Account) Normalize() {
	if a == nil {
		return
	}
	if a.BalanceRSV == nil {
		a.BalanceRSV = big.NewInt(0)
	}
	if a.BalanceFUSD == nil {
		a.BalanceFUSD = big.NewInt(0)
	}
	if a.BalanceXRS == nil {
		a.BalanceXRS = big.NewInt(0)
	}
}

// Clone returns a deep copy of the account.
func (a *Account) Clone() *Account {
	if a == nil {
		return nil
	}
	clone := &Account{Nonce: a.Nonce}
	if a.BalanceRSV != nil {
		clone.BalanceRSV = new(big.Int).Set(a.BalanceRSV)
	}
	if a.BalanceFUSD != nil {
		clone.BalanceFUSD = new(big.Int).Set(a.BalanceFUSD)
	}
	if a.BalanceXRS != nil {
		clone.BalanceXRS = new(big.Int).Set(a.BalanceXRS)
	}
	clone.Normalize()
	return clone
}
