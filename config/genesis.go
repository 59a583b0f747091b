package config

import (
	"fmt"
	"math/big"
	"os"

	"gopkg.in/yaml.v3"

	"fxchain/core"
	"fxchain/crypto"
	"fxchain/native/settlement"
)

// GenesisAccount seeds one address with reserve tokens.
type GenesisAccount struct {
	Address   string `yaml:"address"`
	AmountRSV string `yaml:"amountRSV"`
}

// Genesis is the YAML document describing the initial protocol aggregate.
type Genesis struct {
	StateID            string           `yaml:"stateId"`
	PoolID             string           `yaml:"poolId"`
	InitialPriceE9     string           `yaml:"initialPriceE9"`
	TargetBufferBps    uint64           `yaml:"targetBufferBps"`
	TicketExpirationMs int64            `yaml:"ticketExpirationMs"`
	Alloc              []GenesisAccount `yaml:"alloc"`
}

// LoadGenesis reads and parses a genesis document. A missing path yields an
// empty document, which initialises an unfunded default state.
func LoadGenesis(path string) (*Genesis, error) {
	if path == "" {
		return &Genesis{}, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	genesis := &Genesis{}
	if err := yaml.Unmarshal(raw, genesis); err != nil {
		return nil, fmt.Errorf("genesis %s: %w", path, err)
	}
	return genesis, nil
}

// ProtocolState builds the initial settlement aggregate from the document.
func (g *Genesis) ProtocolState(defaultID string) (*settlement.ProtocolState, error) {
	id := g.StateID
	if id == "" {
		id = defaultID
	}
	state := settlement.NewProtocolState(id)
	if g.InitialPriceE9 != "" {
		price, ok := new(big.Int).SetString(g.InitialPriceE9, 10)
		if !ok || price.Sign() <= 0 {
			return nil, fmt.Errorf("genesis: invalid initialPriceE9 %q", g.InitialPriceE9)
		}
		state.LastPrice = price
	}
	if g.TargetBufferBps > 0 {
		state.Staking.TargetBufferBps = g.TargetBufferBps
	}
	if g.TicketExpirationMs > 0 {
		state.TicketExpirationMs = g.TicketExpirationMs
	}
	return state, nil
}

// Allocations decodes the balance seeds into ledger allocations.
func (g *Genesis) Allocations() ([]core.GenesisAlloc, error) {
	allocs := make([]core.GenesisAlloc, 0, len(g.Alloc))
	for _, entry := range g.Alloc {
		addr, err := crypto.DecodeAddress(entry.Address)
		if err != nil {
			return nil, fmt.Errorf("genesis: address %q: %w", entry.Address, err)
		}
		amount, ok := new(big.Int).SetString(entry.AmountRSV, 10)
		if !ok || amount.Sign() < 0 {
			return nil, fmt.Errorf("genesis: invalid amountRSV %q", entry.AmountRSV)
		}
		allocs = append(allocs, core.GenesisAlloc{Address: addr, Amount: amount})
	}
	return allocs, nil
}
