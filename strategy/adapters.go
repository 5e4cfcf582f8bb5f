package strategy

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// ReserveStatus describes how the lending market currently treats an asset.
// MaxLTV is expressed in RatioScale units.
type ReserveStatus struct {
	Active             bool
	CollateralEligible bool
	Borrowable         bool
	MaxLTV             *big.Int
}

// LendingMarket is the external money market the strategy supplies collateral
// to and borrows against. Position values are reported in a common reference
// unit; amounts are raw token units.
type LendingMarket interface {
	// Supply deposits amount of asset as collateral for the strategy account.
	Supply(asset common.Address, amount *big.Int) error
	// Withdraw releases amount of collateral asset to the recipient.
	Withdraw(asset common.Address, amount *big.Int, to common.Address) error
	// Borrow draws amount of asset against the strategy's collateral.
	Borrow(asset common.Address, amount *big.Int, to common.Address) error
	// Repay returns amount of the borrowed asset to the market.
	Repay(asset common.Address, amount *big.Int) error
	// AccountPosition reports the strategy's collateral and debt totals in
	// the reference unit.
	AccountPosition() (collateralValue, debtValue *big.Int, err error)
	// DebtBalance reports the outstanding debt for asset in token units.
	DebtBalance(asset common.Address) (*big.Int, error)
	// CollateralBalance reports the owner's yield-bearing collateral receipt
	// balance. This accrues market interest and backs the vault share price.
	CollateralBalance(owner common.Address) (*big.Int, error)
	// ReserveStatus reports eligibility flags for asset.
	ReserveStatus(asset common.Address) (ReserveStatus, error)
}

// PriceOracle resolves an asset price in reference units, scaled by
// PriceScale. Implementations are untrusted: callers must treat a zero price
// or an error as fatal to the operation in flight.
type PriceOracle interface {
	Price(asset common.Address) (*big.Int, error)
}

// YieldTarget is the secondary vault the borrowed asset is parked in while
// the position is open.
type YieldTarget interface {
	// Deposit places amount of the borrowed asset into the target.
	Deposit(amount *big.Int) error
	// Withdraw redeems amount of the tracked position, converting the
	// proceeds into redeemAsset. The actual amount received is returned and
	// may differ from the request by rounding.
	Withdraw(amount *big.Int, redeemAsset common.Address) (*big.Int, error)
	// TargetBalance reports the total amount owed to the strategy in
	// borrowed-asset units, including accrued yield.
	TargetBalance() (*big.Int, error)
}

// ShareLedger stores vault share balances and spending allowances. The
// accounting engine owns all share arithmetic and call ordering; the ledger
// only holds balances.
type ShareLedger interface {
	TotalShares() *big.Int
	BalanceOf(owner common.Address) *big.Int
	Allowance(owner, spender common.Address) *big.Int
	SetAllowance(owner, spender common.Address, amount *big.Int) error
	Mint(to common.Address, amount *big.Int) error
	Burn(from common.Address, amount *big.Int) error
}

// AssetBank moves underlying tokens between accounts. Transfer mechanics and
// token allowance bookkeeping live behind this boundary.
type AssetBank interface {
	// Pull transfers amount of asset from the account into the strategy.
	Pull(asset common.Address, from common.Address, amount *big.Int) error
	// Push transfers amount of asset from the strategy to the recipient.
	Push(asset common.Address, to common.Address, amount *big.Int) error
	// Balance reports the owner's raw token balance for asset.
	Balance(asset common.Address, owner common.Address) (*big.Int, error)
}
