package strategy

import (
	"fmt"
	"log/slog"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"loopvault/observability"
)

// Vault is the proportional-share accounting engine over a single base asset.
// Deposited assets are immediately supplied to the lending market, so the
// share price is backed by the market's yield-bearing collateral receipt
// balance rather than a raw token balance.
type Vault struct {
	market LendingMarket
	ledger ShareLedger
	bank   AssetBank
	asset  common.Address
	self   common.Address
	logger *slog.Logger
}

// NewVault wires the accounting engine to its collaborators. The self address
// identifies the strategy account inside the lending market and asset bank.
func NewVault(market LendingMarket, ledger ShareLedger, bank AssetBank, asset, self common.Address, logger *slog.Logger) (*Vault, error) {
	if market == nil || ledger == nil || bank == nil {
		return nil, errNilAdapter
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Vault{
		market: market,
		ledger: ledger,
		bank:   bank,
		asset:  asset,
		self:   self,
		logger: logger.With("component", "vault"),
	}, nil
}

// Asset returns the base asset the vault accounts in.
func (v *Vault) Asset() common.Address { return v.asset }

// Ledger exposes the share ledger for read-side callers.
func (v *Vault) Ledger() ShareLedger { return v.ledger }

// TotalAssets reports the managed asset total: the yield-bearing collateral
// receipt balance held at the lending market. Collateral accrues market
// interest continuously, so this figure drifts upward between operations.
func (v *Vault) TotalAssets() (*big.Int, error) {
	return v.market.CollateralBalance(v.self)
}

// ConvertToShares previews the shares minted for an asset amount at the
// current share price, rounding down.
func (v *Vault) ConvertToShares(assets *big.Int) (*big.Int, error) {
	totalAssets, err := v.TotalAssets()
	if err != nil {
		return nil, err
	}
	return v.sharesForAssets(assets, totalAssets, false), nil
}

// ConvertToAssets previews the assets released for a share amount at the
// current share price, rounding down.
func (v *Vault) ConvertToAssets(shares *big.Int) (*big.Int, error) {
	totalAssets, err := v.TotalAssets()
	if err != nil {
		return nil, err
	}
	return v.assetsForShares(shares, totalAssets, false), nil
}

// Deposit pulls assets from the caller, supplies them to the lending market
// and mints shares to the receiver at the pre-operation share price, rounding
// down. The external pull and supply complete before any shares exist so a
// reentrant callback can never observe unbacked shares.
func (v *Vault) Deposit(caller, receiver common.Address, assets *big.Int) (*big.Int, error) {
	if assets == nil || assets.Sign() <= 0 {
		return nil, ErrZeroShares
	}
	totalAssets, err := v.TotalAssets()
	if err != nil {
		return nil, err
	}
	shares := v.sharesForAssets(assets, totalAssets, false)
	if shares.Sign() == 0 {
		return nil, ErrZeroShares
	}
	if err := v.enterAndMint(caller, receiver, assets, shares); err != nil {
		return nil, err
	}
	observability.VaultMetrics().RecordOp("deposit", "ok")
	v.logger.Info("deposit", "caller", caller.Hex(), "receiver", receiver.Hex(), "assets", assets.String(), "shares", shares.String())
	return shares, nil
}

// Mint is the share-denominated inverse of Deposit: the required asset amount
// is computed rounding up so the vault never mints underpriced shares.
func (v *Vault) Mint(caller, receiver common.Address, shares *big.Int) (*big.Int, error) {
	if shares == nil || shares.Sign() <= 0 {
		return nil, ErrZeroShares
	}
	totalAssets, err := v.TotalAssets()
	if err != nil {
		return nil, err
	}
	assets := v.assetsForShares(shares, totalAssets, true)
	if assets.Sign() == 0 {
		return nil, ErrZeroAssets
	}
	if err := v.enterAndMint(caller, receiver, assets, shares); err != nil {
		return nil, err
	}
	observability.VaultMetrics().RecordOp("mint", "ok")
	v.logger.Info("mint", "caller", caller.Hex(), "receiver", receiver.Hex(), "assets", assets.String(), "shares", shares.String())
	return assets, nil
}

// Withdraw releases an exact asset amount to the receiver, burning shares
// from the owner rounding up. The burn happens before the lending market is
// called: a reentrant withdrawal attempt finds the shares already gone.
func (v *Vault) Withdraw(caller, receiver, owner common.Address, assets *big.Int) (*big.Int, error) {
	if assets == nil || assets.Sign() <= 0 {
		return nil, ErrZeroAssets
	}
	totalAssets, err := v.TotalAssets()
	if err != nil {
		return nil, err
	}
	shares := v.sharesForAssets(assets, totalAssets, true)
	if shares.Sign() == 0 {
		return nil, ErrZeroShares
	}
	if err := v.burnAndExit(caller, receiver, owner, assets, shares); err != nil {
		return nil, err
	}
	observability.VaultMetrics().RecordOp("withdraw", "ok")
	v.logger.Info("withdraw", "caller", caller.Hex(), "owner", owner.Hex(), "assets", assets.String(), "shares", shares.String())
	return shares, nil
}

// Redeem burns an exact share amount and releases assets rounding down.
func (v *Vault) Redeem(caller, receiver, owner common.Address, shares *big.Int) (*big.Int, error) {
	if shares == nil || shares.Sign() <= 0 {
		return nil, ErrZeroShares
	}
	totalAssets, err := v.TotalAssets()
	if err != nil {
		return nil, err
	}
	assets := v.assetsForShares(shares, totalAssets, false)
	if assets.Sign() == 0 {
		return nil, ErrZeroAssets
	}
	if err := v.burnAndExit(caller, receiver, owner, assets, shares); err != nil {
		return nil, err
	}
	observability.VaultMetrics().RecordOp("redeem", "ok")
	v.logger.Info("redeem", "caller", caller.Hex(), "owner", owner.Hex(), "assets", assets.String(), "shares", shares.String())
	return assets, nil
}

// enterAndMint performs the deposit-side ordering: pull assets, supply them
// as collateral, then mint. A failure at any step unwinds the earlier ones so
// no partial deposit persists.
func (v *Vault) enterAndMint(caller, receiver common.Address, assets, shares *big.Int) error {
	if err := v.bank.Pull(v.asset, caller, assets); err != nil {
		return fmt.Errorf("pull assets: %w", err)
	}
	if err := v.market.Supply(v.asset, assets); err != nil {
		if pushErr := v.bank.Push(v.asset, caller, assets); pushErr != nil {
			return fmt.Errorf("supply collateral: %w (rollback push failed: %v)", err, pushErr)
		}
		return fmt.Errorf("supply collateral: %w", err)
	}
	if err := v.ledger.Mint(receiver, shares); err != nil {
		if withdrawErr := v.market.Withdraw(v.asset, assets, v.self); withdrawErr != nil {
			return fmt.Errorf("mint shares: %w (rollback withdraw failed: %v)", err, withdrawErr)
		}
		if pushErr := v.bank.Push(v.asset, caller, assets); pushErr != nil {
			return fmt.Errorf("mint shares: %w (rollback push failed: %v)", err, pushErr)
		}
		return fmt.Errorf("mint shares: %w", err)
	}
	return nil
}

// burnAndExit performs the withdrawal-side ordering: spend allowance, burn
// shares, then call the lending market and pay the receiver. Ledger effects
// are rolled back if an external call fails so the operation is all-or-nothing.
func (v *Vault) burnAndExit(caller, receiver, owner common.Address, assets, shares *big.Int) error {
	restoreAllowance, err := v.spendAllowance(caller, owner, shares)
	if err != nil {
		return err
	}
	if err := v.ledger.Burn(owner, shares); err != nil {
		restoreAllowance()
		return err
	}
	if err := v.market.Withdraw(v.asset, assets, v.self); err != nil {
		if mintErr := v.ledger.Mint(owner, shares); mintErr != nil {
			return fmt.Errorf("withdraw collateral: %w (rollback mint failed: %v)", err, mintErr)
		}
		restoreAllowance()
		return fmt.Errorf("withdraw collateral: %w", err)
	}
	if err := v.bank.Push(v.asset, receiver, assets); err != nil {
		if supplyErr := v.market.Supply(v.asset, assets); supplyErr != nil {
			return fmt.Errorf("push assets: %w (rollback supply failed: %v)", err, supplyErr)
		}
		if mintErr := v.ledger.Mint(owner, shares); mintErr != nil {
			return fmt.Errorf("push assets: %w (rollback mint failed: %v)", err, mintErr)
		}
		restoreAllowance()
		return fmt.Errorf("push assets: %w", err)
	}
	return nil
}

// spendAllowance consumes the caller's allowance on owner's shares and
// returns a closure that undoes the decrement. The unlimited sentinel is
// never decremented.
func (v *Vault) spendAllowance(caller, owner common.Address, shares *big.Int) (func(), error) {
	if caller == owner {
		return func() {}, nil
	}
	allowance := v.ledger.Allowance(owner, caller)
	if allowance.Cmp(UnlimitedAllowance) == 0 {
		return func() {}, nil
	}
	if allowance.Cmp(shares) < 0 {
		return nil, ErrInsufficientAllowance
	}
	remaining := new(big.Int).Sub(allowance, shares)
	if err := v.ledger.SetAllowance(owner, caller, remaining); err != nil {
		return nil, err
	}
	return func() {
		if err := v.ledger.SetAllowance(owner, caller, allowance); err != nil {
			v.logger.Error("allowance rollback failed", "owner", owner.Hex(), "spender", caller.Hex(), "err", err)
		}
	}, nil
}

func (v *Vault) sharesForAssets(assets, totalAssets *big.Int, roundUp bool) *big.Int {
	totalShares := v.ledger.TotalShares()
	if totalShares.Sign() == 0 {
		return new(big.Int).Set(assets)
	}
	if roundUp {
		return mulDivUp(assets, totalShares, totalAssets)
	}
	return mulDivDown(assets, totalShares, totalAssets)
}

func (v *Vault) assetsForShares(shares, totalAssets *big.Int, roundUp bool) *big.Int {
	totalShares := v.ledger.TotalShares()
	if totalShares.Sign() == 0 {
		return new(big.Int).Set(shares)
	}
	if roundUp {
		return mulDivUp(shares, totalAssets, totalShares)
	}
	return mulDivDown(shares, totalAssets, totalShares)
}
