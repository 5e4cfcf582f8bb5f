package strategy

import (
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	ethmath "github.com/ethereum/go-ethereum/common/math"
)

// UnlimitedAllowance is the sentinel allowance that is never decremented.
var UnlimitedAllowance = new(big.Int).Set(ethmath.MaxBig256)

// MemoryLedger is a ShareLedger backed by in-process maps. It is the
// reference implementation used by the daemon and the package tests.
type MemoryLedger struct {
	mu         sync.RWMutex
	total      *big.Int
	balances   map[common.Address]*big.Int
	allowances map[common.Address]map[common.Address]*big.Int
}

// NewMemoryLedger constructs an empty share ledger.
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{
		total:      big.NewInt(0),
		balances:   make(map[common.Address]*big.Int),
		allowances: make(map[common.Address]map[common.Address]*big.Int),
	}
}

// TotalShares reports the outstanding share supply.
func (l *MemoryLedger) TotalShares() *big.Int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return new(big.Int).Set(l.total)
}

// BalanceOf reports the owner's share balance.
func (l *MemoryLedger) BalanceOf(owner common.Address) *big.Int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if balance, ok := l.balances[owner]; ok {
		return new(big.Int).Set(balance)
	}
	return big.NewInt(0)
}

// Allowance reports how many of owner's shares the spender may move.
func (l *MemoryLedger) Allowance(owner, spender common.Address) *big.Int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if spenders, ok := l.allowances[owner]; ok {
		if allowance, ok := spenders[spender]; ok {
			return new(big.Int).Set(allowance)
		}
	}
	return big.NewInt(0)
}

// SetAllowance replaces the spender's allowance on owner's shares.
func (l *MemoryLedger) SetAllowance(owner, spender common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return errInvalidAmount
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	spenders, ok := l.allowances[owner]
	if !ok {
		spenders = make(map[common.Address]*big.Int)
		l.allowances[owner] = spenders
	}
	spenders[spender] = new(big.Int).Set(amount)
	return nil
}

// Mint credits amount shares to the recipient and grows the supply.
func (l *MemoryLedger) Mint(to common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return errInvalidAmount
	}
	if amount.Sign() == 0 {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	balance, ok := l.balances[to]
	if !ok {
		balance = big.NewInt(0)
	}
	l.balances[to] = new(big.Int).Add(balance, amount)
	l.total = new(big.Int).Add(l.total, amount)
	return nil
}

// Burn debits amount shares from the owner and shrinks the supply.
func (l *MemoryLedger) Burn(from common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return errInvalidAmount
	}
	if amount.Sign() == 0 {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	balance, ok := l.balances[from]
	if !ok || balance.Cmp(amount) < 0 {
		return ErrInsufficientShares
	}
	l.balances[from] = new(big.Int).Sub(balance, amount)
	l.total = new(big.Int).Sub(l.total, amount)
	return nil
}
