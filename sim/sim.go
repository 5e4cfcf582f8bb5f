// Package sim provides deterministic in-process implementations of the
// strategy's external collaborators: a token bank, a price oracle, a lending
// market and a secondary yield vault. The daemon wires these when no live
// protocol endpoints are configured, and they double as integration fixtures.
package sim

import (
	"errors"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"loopvault/strategy"
)

// ProtocolAccount derives a stable address for an internal protocol account
// such as the market's liquidity pool or the yield target's treasury.
func ProtocolAccount(label string) common.Address {
	return common.BytesToAddress(crypto.Keccak256([]byte("loopvault/sim/" + label))[12:])
}

var (
	errUnknownAsset          = errors.New("sim: unknown asset")
	errInsufficientBalance   = errors.New("sim: insufficient balance")
	errInsufficientLiquidity = errors.New("sim: insufficient liquidity")
	errInvalidAmount         = errors.New("sim: amount must be positive")
)

// Bank tracks raw token balances per asset and account. The strategy account
// is fixed at construction so the AssetBank Pull/Push surface stays anchored
// to it.
type Bank struct {
	mu       sync.Mutex
	vault    common.Address
	balances map[common.Address]map[common.Address]*big.Int
}

// NewBank constructs an empty bank anchored to the vault account.
func NewBank(vault common.Address) *Bank {
	return &Bank{
		vault:    vault,
		balances: make(map[common.Address]map[common.Address]*big.Int),
	}
}

// Credit seeds an account balance, used to fund test users and market
// liquidity.
func (b *Bank) Credit(asset, owner common.Address, amount *big.Int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.credit(asset, owner, amount)
}

func (b *Bank) credit(asset, owner common.Address, amount *big.Int) {
	owners, ok := b.balances[asset]
	if !ok {
		owners = make(map[common.Address]*big.Int)
		b.balances[asset] = owners
	}
	balance, ok := owners[owner]
	if !ok {
		balance = big.NewInt(0)
	}
	owners[owner] = new(big.Int).Add(balance, amount)
}

func (b *Bank) debit(asset, owner common.Address, amount *big.Int) error {
	owners, ok := b.balances[asset]
	if !ok {
		return errInsufficientBalance
	}
	balance, ok := owners[owner]
	if !ok || balance.Cmp(amount) < 0 {
		return errInsufficientBalance
	}
	owners[owner] = new(big.Int).Sub(balance, amount)
	return nil
}

// Transfer moves tokens between arbitrary accounts.
func (b *Bank) Transfer(asset, from, to common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return errInvalidAmount
	}
	if amount.Sign() == 0 {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.debit(asset, from, amount); err != nil {
		return err
	}
	b.credit(asset, to, amount)
	return nil
}

// Pull implements strategy.AssetBank.
func (b *Bank) Pull(asset, from common.Address, amount *big.Int) error {
	return b.Transfer(asset, from, b.vault, amount)
}

// Push implements strategy.AssetBank.
func (b *Bank) Push(asset, to common.Address, amount *big.Int) error {
	return b.Transfer(asset, b.vault, to, amount)
}

// Balance implements strategy.AssetBank.
func (b *Bank) Balance(asset, owner common.Address) (*big.Int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if owners, ok := b.balances[asset]; ok {
		if balance, ok := owners[owner]; ok {
			return new(big.Int).Set(balance), nil
		}
	}
	return big.NewInt(0), nil
}

// Oracle serves fixed prices that tests and the daemon may move at will.
// Prices are reference units per asset in strategy.PriceScale units.
type Oracle struct {
	mu     sync.RWMutex
	prices map[common.Address]*big.Int
}

// NewOracle constructs an oracle with no prices set.
func NewOracle() *Oracle {
	return &Oracle{prices: make(map[common.Address]*big.Int)}
}

// SetPrice installs or replaces an asset price.
func (o *Oracle) SetPrice(asset common.Address, price *big.Int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.prices[asset] = new(big.Int).Set(price)
}

// Price implements strategy.PriceOracle.
func (o *Oracle) Price(asset common.Address) (*big.Int, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	price, ok := o.prices[asset]
	if !ok {
		return nil, errUnknownAsset
	}
	return new(big.Int).Set(price), nil
}

// Market is a single-account lending market: the strategy supplies one
// collateral asset and borrows one debt asset against it. Values are derived
// from the oracle on demand, mirroring the read-through position model.
type Market struct {
	mu         sync.Mutex
	self       common.Address
	account    common.Address
	bank       *Bank
	oracle     *Oracle
	collateral map[common.Address]*big.Int
	debt       map[common.Address]*big.Int
	reserves   map[common.Address]strategy.ReserveStatus
}

// NewMarket constructs a market holding its own liquidity account. The
// account parameter names the strategy whose position the market tracks.
func NewMarket(self, account common.Address, bank *Bank, oracle *Oracle) *Market {
	return &Market{
		self:       self,
		account:    account,
		bank:       bank,
		oracle:     oracle,
		collateral: make(map[common.Address]*big.Int),
		debt:       make(map[common.Address]*big.Int),
		reserves:   make(map[common.Address]strategy.ReserveStatus),
	}
}

// SetReserve configures the eligibility flags for an asset.
func (m *Market) SetReserve(asset common.Address, status strategy.ReserveStatus) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reserves[asset] = status
}

// AccrueInterest grows the collateral receipt balance by bps basis points,
// simulating supply-side interest between rebalances.
func (m *Market) AccrueInterest(asset common.Address, bps int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	balance, ok := m.collateral[asset]
	if !ok || balance.Sign() == 0 {
		return
	}
	interest := new(big.Int).Mul(balance, big.NewInt(bps))
	interest.Quo(interest, big.NewInt(10_000))
	m.collateral[asset] = new(big.Int).Add(balance, interest)
}

// Supply implements strategy.LendingMarket.
func (m *Market) Supply(asset common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return errInvalidAmount
	}
	if err := m.bank.Transfer(asset, m.account, m.self, amount); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	balance, ok := m.collateral[asset]
	if !ok {
		balance = big.NewInt(0)
	}
	m.collateral[asset] = new(big.Int).Add(balance, amount)
	return nil
}

// Withdraw implements strategy.LendingMarket.
func (m *Market) Withdraw(asset common.Address, amount *big.Int, to common.Address) error {
	if amount == nil || amount.Sign() <= 0 {
		return errInvalidAmount
	}
	m.mu.Lock()
	balance, ok := m.collateral[asset]
	if !ok || balance.Cmp(amount) < 0 {
		m.mu.Unlock()
		return errInsufficientLiquidity
	}
	m.collateral[asset] = new(big.Int).Sub(balance, amount)
	m.mu.Unlock()
	if err := m.bank.Transfer(asset, m.self, to, amount); err != nil {
		m.mu.Lock()
		m.collateral[asset] = new(big.Int).Add(m.collateral[asset], amount)
		m.mu.Unlock()
		return err
	}
	return nil
}

// Borrow implements strategy.LendingMarket.
func (m *Market) Borrow(asset common.Address, amount *big.Int, to common.Address) error {
	if amount == nil || amount.Sign() <= 0 {
		return errInvalidAmount
	}
	if err := m.bank.Transfer(asset, m.self, to, amount); err != nil {
		return errInsufficientLiquidity
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	debt, ok := m.debt[asset]
	if !ok {
		debt = big.NewInt(0)
	}
	m.debt[asset] = new(big.Int).Add(debt, amount)
	return nil
}

// Repay implements strategy.LendingMarket. Repaying more than the
// outstanding debt clamps to the debt.
func (m *Market) Repay(asset common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return errInvalidAmount
	}
	if err := m.bank.Transfer(asset, m.account, m.self, amount); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	debt, ok := m.debt[asset]
	if !ok {
		debt = big.NewInt(0)
	}
	if amount.Cmp(debt) > 0 {
		amount = debt
	}
	m.debt[asset] = new(big.Int).Sub(debt, amount)
	return nil
}

// AccountPosition implements strategy.LendingMarket: token balances are
// valued through the oracle into the reference unit.
func (m *Market) AccountPosition() (*big.Int, *big.Int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	collateralValue := big.NewInt(0)
	for asset, units := range m.collateral {
		value, err := m.value(asset, units)
		if err != nil {
			return nil, nil, err
		}
		collateralValue.Add(collateralValue, value)
	}
	debtValue := big.NewInt(0)
	for asset, units := range m.debt {
		value, err := m.value(asset, units)
		if err != nil {
			return nil, nil, err
		}
		debtValue.Add(debtValue, value)
	}
	return collateralValue, debtValue, nil
}

func (m *Market) value(asset common.Address, units *big.Int) (*big.Int, error) {
	if units == nil || units.Sign() == 0 {
		return big.NewInt(0), nil
	}
	price, err := m.oracle.Price(asset)
	if err != nil {
		return nil, err
	}
	value := new(big.Int).Mul(units, price)
	return value.Quo(value, strategy.PriceScale), nil
}

// DebtBalance implements strategy.LendingMarket.
func (m *Market) DebtBalance(asset common.Address) (*big.Int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if debt, ok := m.debt[asset]; ok {
		return new(big.Int).Set(debt), nil
	}
	return big.NewInt(0), nil
}

// CollateralBalance implements strategy.LendingMarket. The sim tracks a
// single strategy account, so any other owner reads zero.
func (m *Market) CollateralBalance(owner common.Address) (*big.Int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if owner != m.account {
		return big.NewInt(0), nil
	}
	total := big.NewInt(0)
	for _, units := range m.collateral {
		total.Add(total, units)
	}
	return total, nil
}

// ReserveStatus implements strategy.LendingMarket.
func (m *Market) ReserveStatus(asset common.Address) (strategy.ReserveStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	status, ok := m.reserves[asset]
	if !ok {
		return strategy.ReserveStatus{}, errUnknownAsset
	}
	return status, nil
}

// YieldVault is the secondary yield source. It tracks how much of the
// borrowed asset the strategy is owed; yield is injected via AccrueYield so
// scenarios stay deterministic.
type YieldVault struct {
	mu        sync.Mutex
	self      common.Address
	account   common.Address
	asset     common.Address
	bank      *Bank
	oracle    *Oracle
	baseAsset common.Address
	tracked   *big.Int
}

// NewYieldVault constructs a yield vault for the borrowed asset. Redemptions
// into baseAsset are converted at oracle prices.
func NewYieldVault(self, account, asset, baseAsset common.Address, bank *Bank, oracle *Oracle) *YieldVault {
	return &YieldVault{
		self:      self,
		account:   account,
		asset:     asset,
		baseAsset: baseAsset,
		bank:      bank,
		oracle:    oracle,
		tracked:   big.NewInt(0),
	}
}

// AccrueYield grows the tracked position without moving tokens, simulating
// yield earned inside the target.
func (y *YieldVault) AccrueYield(amount *big.Int) {
	y.mu.Lock()
	defer y.mu.Unlock()
	y.tracked = new(big.Int).Add(y.tracked, amount)
	y.bank.Credit(y.asset, y.self, amount)
}

// Deposit implements strategy.YieldTarget.
func (y *YieldVault) Deposit(amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return errInvalidAmount
	}
	if err := y.bank.Transfer(y.asset, y.account, y.self, amount); err != nil {
		return err
	}
	y.mu.Lock()
	defer y.mu.Unlock()
	y.tracked = new(big.Int).Add(y.tracked, amount)
	return nil
}

// Withdraw implements strategy.YieldTarget. Redeeming into the borrowed
// asset pays out directly; redeeming into the base asset converts the value
// at oracle prices, modelling the swap the live adapter would perform.
func (y *YieldVault) Withdraw(amount *big.Int, redeemAsset common.Address) (*big.Int, error) {
	if amount == nil || amount.Sign() <= 0 {
		return nil, errInvalidAmount
	}
	y.mu.Lock()
	defer y.mu.Unlock()
	actual := new(big.Int).Set(amount)
	if actual.Cmp(y.tracked) > 0 {
		actual = new(big.Int).Set(y.tracked)
	}
	if actual.Sign() == 0 {
		return big.NewInt(0), nil
	}
	if redeemAsset == y.asset {
		if err := y.bank.Transfer(y.asset, y.self, y.account, actual); err != nil {
			return nil, err
		}
		y.tracked = new(big.Int).Sub(y.tracked, actual)
		return actual, nil
	}
	assetPrice, err := y.oracle.Price(y.asset)
	if err != nil {
		return nil, err
	}
	redeemPrice, err := y.oracle.Price(redeemAsset)
	if err != nil {
		return nil, err
	}
	if redeemPrice.Sign() == 0 {
		return nil, errUnknownAsset
	}
	proceeds := new(big.Int).Mul(actual, assetPrice)
	proceeds.Quo(proceeds, redeemPrice)
	// The sim mints the converted asset rather than routing through a swap
	// venue; the redeemed borrowed-asset units leave the pool either way.
	if err := y.bank.debitSelfAndMint(y.asset, redeemAsset, y.self, y.account, actual, proceeds); err != nil {
		return nil, err
	}
	y.tracked = new(big.Int).Sub(y.tracked, actual)
	return proceeds, nil
}

// TargetBalance implements strategy.YieldTarget.
func (y *YieldVault) TargetBalance() (*big.Int, error) {
	y.mu.Lock()
	defer y.mu.Unlock()
	return new(big.Int).Set(y.tracked), nil
}

// debitSelfAndMint burns from units of fromAsset held by from and credits to
// with minted toAsset units, as a single balanced swap step.
func (b *Bank) debitSelfAndMint(fromAsset, toAsset, from, to common.Address, fromUnits, toUnits *big.Int) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.debit(fromAsset, from, fromUnits); err != nil {
		return err
	}
	b.credit(toAsset, to, toUnits)
	return nil
}
