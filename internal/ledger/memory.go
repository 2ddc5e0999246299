package ledger

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/Mohsinsiddi/w3ico/internal/amount"
	"github.com/ethereum/go-ethereum/common"
)

// Memory is an in-process fungible balance book. The sum of all balances
// always equals TotalSupply.
type Memory struct {
	mu       sync.RWMutex
	name     string
	symbol   string
	decimals uint8
	supply   amount.Amount
	balances map[common.Address]amount.Amount
}

// NewMemory creates an empty ledger with 18 decimals.
func NewMemory(name, symbol string) *Memory {
	return &Memory{
		name:     name,
		symbol:   symbol,
		decimals: amount.Decimals,
		balances: make(map[common.Address]amount.Amount),
	}
}

// NewMemoryFromSnapshot restores a ledger. It fails if the balances do not
// add up to the recorded total supply.
func NewMemoryFromSnapshot(s Snapshot) (*Memory, error) {
	m := NewMemory(s.Name, s.Symbol)
	if s.Decimals != 0 {
		m.decimals = s.Decimals
	}
	sum := amount.Zero()
	for _, b := range s.Balances {
		var err error
		if sum, err = sum.Add(b.Amount); err != nil {
			return nil, fmt.Errorf("ledger %s: %w", s.Symbol, err)
		}
		if !b.Amount.IsZero() {
			m.balances[b.Address] = b.Amount
		}
	}
	if !sum.Eq(s.TotalSupply) {
		return nil, fmt.Errorf("ledger %s: balances sum to %s, total supply is %s", s.Symbol, sum, s.TotalSupply)
	}
	m.supply = s.TotalSupply
	return m, nil
}

func (m *Memory) Name() string   { return m.name }
func (m *Memory) Symbol() string { return m.symbol }

// Mint creates value out of nothing and credits it to account.
func (m *Memory) Mint(account common.Address, value amount.Amount) error {
	if account == (common.Address{}) {
		return ErrZeroAddress
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	supply, err := m.supply.Add(value)
	if err != nil {
		return fmt.Errorf("mint %s: %w", m.symbol, err)
	}
	bal, err := m.balances[account].Add(value)
	if err != nil {
		return fmt.Errorf("mint %s: %w", m.symbol, err)
	}
	m.supply = supply
	m.balances[account] = bal
	log.Debugf("%s: minted %s to %s", m.symbol, value.Format(), account.Hex())
	return nil
}

// BalanceOf returns the balance of account; unknown accounts hold zero.
func (m *Memory) BalanceOf(_ context.Context, account common.Address) (amount.Amount, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.balances[account], nil
}

// Transfer moves value from one account to another.
func (m *Memory) Transfer(_ context.Context, from, to common.Address, value amount.Amount) error {
	if to == (common.Address{}) {
		return ErrZeroAddress
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	src := m.balances[from]
	if src.Lt(value) {
		return fmt.Errorf("%w: %s holds %s %s, needs %s", ErrInsufficientBalance, from.Hex(), src.Format(), m.symbol, value.Format())
	}
	if value.IsZero() || from == to {
		return nil
	}
	src, _ = src.Sub(value)
	dst, err := m.balances[to].Add(value)
	if err != nil {
		return fmt.Errorf("transfer %s: %w", m.symbol, err)
	}
	m.set(from, src)
	m.set(to, dst)
	log.Debugf("%s: %s -> %s %s", m.symbol, from.Hex(), to.Hex(), value.Format())
	return nil
}

func (m *Memory) set(account common.Address, v amount.Amount) {
	if v.IsZero() {
		delete(m.balances, account)
		return
	}
	m.balances[account] = v
}

// TotalSupply is the sum of all balances.
func (m *Memory) TotalSupply() amount.Amount {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.supply
}

// Holders lists non-zero balances sorted by address.
func (m *Memory) Holders() []Balance {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.holders()
}

func (m *Memory) holders() []Balance {
	out := make([]Balance, 0, len(m.balances))
	for a, v := range m.balances {
		out = append(out, Balance{Address: a, Amount: v})
	}
	sort.Slice(out, func(i, j int) bool {
		return bytes.Compare(out[i].Address[:], out[j].Address[:]) < 0
	})
	return out
}

// Snapshot captures the ledger for persistence.
func (m *Memory) Snapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return Snapshot{
		Name:        m.name,
		Symbol:      m.symbol,
		Decimals:    m.decimals,
		TotalSupply: m.supply,
		Balances:    m.holders(),
	}
}
