package strategy

import (
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

func makeAddress(b byte) common.Address {
	var addr common.Address
	addr[common.AddressLength-1] = b
	return addr
}

var (
	baseAsset  = makeAddress(0xA0)
	debtAsset  = makeAddress(0xB0)
	vaultAddr  = makeAddress(0x01)
	keeperAddr = makeAddress(0x02)

	errBoom = errors.New("boom")
)

// mockMarket is a semi-functional lending market: one collateral and one
// debt asset, both valued 1:1 against the reference unit so value and token
// amounts coincide.
type mockMarket struct {
	receipt   *big.Int
	debtUnits *big.Int
	reserves  map[common.Address]ReserveStatus

	supplies    []*big.Int
	withdrawals []*big.Int
	borrows     []*big.Int
	repays      []*big.Int

	failSupply   error
	failWithdraw error
	failBorrow   error
	failRepay    error

	onWithdraw func()
}

func newMockMarket() *mockMarket {
	return &mockMarket{
		receipt:   big.NewInt(0),
		debtUnits: big.NewInt(0),
		reserves: map[common.Address]ReserveStatus{
			baseAsset: {Active: true, CollateralEligible: true, MaxLTV: big.NewInt(900_000)},
			debtAsset: {Active: true, Borrowable: true},
		},
	}
}

func (m *mockMarket) Supply(asset common.Address, amount *big.Int) error {
	if m.failSupply != nil {
		return m.failSupply
	}
	m.receipt = new(big.Int).Add(m.receipt, amount)
	m.supplies = append(m.supplies, new(big.Int).Set(amount))
	return nil
}

func (m *mockMarket) Withdraw(asset common.Address, amount *big.Int, to common.Address) error {
	if m.onWithdraw != nil {
		m.onWithdraw()
	}
	if m.failWithdraw != nil {
		return m.failWithdraw
	}
	m.receipt = new(big.Int).Sub(m.receipt, amount)
	m.withdrawals = append(m.withdrawals, new(big.Int).Set(amount))
	return nil
}

func (m *mockMarket) Borrow(asset common.Address, amount *big.Int, to common.Address) error {
	if m.failBorrow != nil {
		return m.failBorrow
	}
	m.debtUnits = new(big.Int).Add(m.debtUnits, amount)
	m.borrows = append(m.borrows, new(big.Int).Set(amount))
	return nil
}

func (m *mockMarket) Repay(asset common.Address, amount *big.Int) error {
	if m.failRepay != nil {
		return m.failRepay
	}
	m.debtUnits = new(big.Int).Sub(m.debtUnits, amount)
	m.repays = append(m.repays, new(big.Int).Set(amount))
	return nil
}

func (m *mockMarket) AccountPosition() (*big.Int, *big.Int, error) {
	return new(big.Int).Set(m.receipt), new(big.Int).Set(m.debtUnits), nil
}

func (m *mockMarket) DebtBalance(asset common.Address) (*big.Int, error) {
	return new(big.Int).Set(m.debtUnits), nil
}

func (m *mockMarket) CollateralBalance(owner common.Address) (*big.Int, error) {
	return new(big.Int).Set(m.receipt), nil
}

func (m *mockMarket) ReserveStatus(asset common.Address) (ReserveStatus, error) {
	status, ok := m.reserves[asset]
	if !ok {
		return ReserveStatus{}, errBoom
	}
	return status, nil
}

type bankCall struct {
	asset   common.Address
	account common.Address
	amount  *big.Int
}

type mockBank struct {
	pulls    []bankCall
	pushes   []bankCall
	idle     map[common.Address]*big.Int
	failPull error
	failPush error
}

func newMockBank() *mockBank {
	return &mockBank{idle: make(map[common.Address]*big.Int)}
}

func (b *mockBank) Pull(asset, from common.Address, amount *big.Int) error {
	if b.failPull != nil {
		return b.failPull
	}
	b.pulls = append(b.pulls, bankCall{asset: asset, account: from, amount: new(big.Int).Set(amount)})
	return nil
}

func (b *mockBank) Push(asset, to common.Address, amount *big.Int) error {
	if b.failPush != nil {
		return b.failPush
	}
	b.pushes = append(b.pushes, bankCall{asset: asset, account: to, amount: new(big.Int).Set(amount)})
	return nil
}

func (b *mockBank) Balance(asset, owner common.Address) (*big.Int, error) {
	if balance, ok := b.idle[asset]; ok {
		return new(big.Int).Set(balance), nil
	}
	return big.NewInt(0), nil
}

type mockOracle struct {
	prices  map[common.Address]*big.Int
	failure error
}

func newMockOracle() *mockOracle {
	return &mockOracle{prices: map[common.Address]*big.Int{
		baseAsset: new(big.Int).Set(PriceScale),
		debtAsset: new(big.Int).Set(PriceScale),
	}}
}

func (o *mockOracle) Price(asset common.Address) (*big.Int, error) {
	if o.failure != nil {
		return nil, o.failure
	}
	price, ok := o.prices[asset]
	if !ok {
		return nil, errBoom
	}
	return new(big.Int).Set(price), nil
}

// flakyLedger wraps MemoryLedger with a mint failure injection point.
type flakyLedger struct {
	*MemoryLedger
	failMint error
}

func (l *flakyLedger) Mint(to common.Address, amount *big.Int) error {
	if l.failMint != nil {
		return l.failMint
	}
	return l.MemoryLedger.Mint(to, amount)
}

type withdrawCall struct {
	amount *big.Int
	asset  common.Address
}

type mockTarget struct {
	tracked      *big.Int
	deposits     []*big.Int
	withdrawals  []withdrawCall
	haircut      *big.Int
	failDeposit  error
	failWithdraw error
}

func newMockTarget() *mockTarget {
	return &mockTarget{tracked: big.NewInt(0), haircut: big.NewInt(0)}
}

func (t *mockTarget) Deposit(amount *big.Int) error {
	if t.failDeposit != nil {
		return t.failDeposit
	}
	t.tracked = new(big.Int).Add(t.tracked, amount)
	t.deposits = append(t.deposits, new(big.Int).Set(amount))
	return nil
}

func (t *mockTarget) Withdraw(amount *big.Int, redeemAsset common.Address) (*big.Int, error) {
	if t.failWithdraw != nil {
		return nil, t.failWithdraw
	}
	actual := new(big.Int).Set(amount)
	if actual.Cmp(t.tracked) > 0 {
		actual = new(big.Int).Set(t.tracked)
	}
	actual.Sub(actual, t.haircut)
	if actual.Sign() < 0 {
		actual = big.NewInt(0)
	}
	t.tracked = new(big.Int).Sub(t.tracked, actual)
	t.withdrawals = append(t.withdrawals, withdrawCall{amount: new(big.Int).Set(amount), asset: redeemAsset})
	return actual, nil
}

func (t *mockTarget) TargetBalance() (*big.Int, error) {
	return new(big.Int).Set(t.tracked), nil
}
