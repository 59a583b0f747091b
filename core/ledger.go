package core

import (
	"errors"
	"math/big"

	"fxchain/core/types"
	"fxchain/crypto"
)

// ErrInsufficientFunds rejects an operation whose caller does not hold the
// tokens it spends.
var ErrInsufficientFunds = errors.New("core: insufficient funds")

// Token names the three balances an account carries.
type Token uint8

const (
	TokenRSV Token = iota
	TokenFUSD
	TokenXRS
)

func balanceOf(account *types.Account, token Token) *big.Int {
	switch token {
	case TokenFUSD:
		return account.BalanceFUSD
	case TokenXRS:
		return account.BalanceXRS
	default:
		return account.BalanceRSV
	}
}

func setBalance(account *types.Account, token Token, value *big.Int) {
	switch token {
	case TokenFUSD:
		account.BalanceFUSD = value
	case TokenXRS:
		account.BalanceXRS = value
	default:
		account.BalanceRSV = value
	}
}

// debit spends amount of token from addr, failing before any engine state is
// touched when the balance does not cover it.
func (p *Protocol) debit(addr crypto.Address, token Token, amount *big.Int) error {
	if amount == nil || amount.Sign() == 0 {
		return nil
	}
	account, err := p.store.GetAccount(addr)
	if err != nil {
		return err
	}
	balance := balanceOf(account, token)
	if balance.Cmp(amount) < 0 {
		return ErrInsufficientFunds
	}
	setBalance(account, token, new(big.Int).Sub(balance, amount))
	account.Nonce++
	return p.store.PutAccount(addr, account)
}

func (p *Protocol) credit(addr crypto.Address, token Token, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return nil
	}
	account, err := p.store.GetAccount(addr)
	if err != nil {
		return err
	}
	setBalance(account, token, new(big.Int).Add(balanceOf(account, token), amount))
	return p.store.PutAccount(addr, account)
}

// Account returns a copy of the balance record for addr.
func (p *Protocol) Account(addr crypto.Address) (*types.Account, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	account, err := p.store.GetAccount(addr)
	if err != nil {
		return nil, err
	}
	return account.Clone(), nil
}
