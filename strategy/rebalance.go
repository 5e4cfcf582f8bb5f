package strategy

import (
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"loopvault/observability"
)

const (
	stateSettled uint32 = iota
	stateRebalancing
)

// Rebalancer recenters the position's loan-to-value ratio toward the
// configured target and harvests yield-source profit. It owns no position
// state of its own: collateral and debt are re-read from the lending market
// on every pass so the view can never go stale.
type Rebalancer struct {
	market    LendingMarket
	oracle    PriceOracle
	target    YieldTarget
	bank      AssetBank
	rewards   *RewardMinter
	params    Params
	baseAsset common.Address
	debtAsset common.Address
	self      common.Address

	state    uint32
	mu       sync.Mutex
	lastRun  time.Time
	clockNow func() time.Time

	logger *slog.Logger
}

// NewRebalancer validates the parameters, verifies the one-time reserve
// preconditions against the lending market and returns a controller in the
// settled state. Either check failing is fatal to construction.
func NewRebalancer(market LendingMarket, oracle PriceOracle, target YieldTarget, bank AssetBank, rewards *RewardMinter, params Params, baseAsset, debtAsset, self common.Address, logger *slog.Logger) (*Rebalancer, error) {
	if market == nil || oracle == nil || target == nil || bank == nil {
		return nil, errNilAdapter
	}
	if err := params.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	r := &Rebalancer{
		market:    market,
		oracle:    oracle,
		target:    target,
		bank:      bank,
		rewards:   rewards,
		params:    params,
		baseAsset: baseAsset,
		debtAsset: debtAsset,
		self:      self,
		clockNow:  time.Now,
		logger:    logger.With("component", "rebalancer"),
	}
	if err := r.checkReserves(); err != nil {
		return nil, err
	}
	r.lastRun = r.clockNow()
	return r, nil
}

// checkReserves verifies the collateral asset is active and eligible with
// headroom above the strategy's upper bound, and that the borrowed asset is
// active and borrowable. Run once at construction.
func (r *Rebalancer) checkReserves() error {
	status, err := r.market.ReserveStatus(r.baseAsset)
	if err != nil {
		return fmt.Errorf("collateral reserve status: %w", err)
	}
	if !status.Active || !status.CollateralEligible {
		return fmt.Errorf("%w: collateral asset %s inactive or not collateral-eligible", ErrReserveIneligible, r.baseAsset.Hex())
	}
	if status.MaxLTV == nil || status.MaxLTV.Cmp(r.params.upperBoundLTV()) < 0 {
		return fmt.Errorf("%w: market max LTV below configured upper bound", ErrReserveIneligible)
	}
	status, err = r.market.ReserveStatus(r.debtAsset)
	if err != nil {
		return fmt.Errorf("borrow reserve status: %w", err)
	}
	if !status.Active || !status.Borrowable {
		return fmt.Errorf("%w: borrow asset %s inactive or not borrowable", ErrReserveIneligible, r.debtAsset.Hex())
	}
	return nil
}

// Position reads the current collateral and debt totals from the lending
// market, in reference units.
func (r *Rebalancer) Position() (collateralValue, debtValue *big.Int, err error) {
	collateralValue, debtValue, err = r.market.AccountPosition()
	if err != nil {
		return nil, nil, fmt.Errorf("account position: %w", err)
	}
	r.publishPosition(collateralValue, debtValue)
	return collateralValue, debtValue, nil
}

// CurrentLTV reports debt/collateral in RatioScale units, rounded up.
// Fails with ErrZeroCollateral when no position exists.
func (r *Rebalancer) CurrentLTV() (*big.Int, error) {
	collateralValue, debtValue, err := r.Position()
	if err != nil {
		return nil, err
	}
	return ltvRatio(collateralValue, debtValue)
}

// LastRebalance returns the timestamp of the last successful rebalance.
func (r *Rebalancer) LastRebalance() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastRun
}

// IsRebalanceDue reports whether a rebalance should run: the interval has
// elapsed, or the LTV has escaped its band. An empty position is never due;
// sitting exactly on a bound is inside the band.
func (r *Rebalancer) IsRebalanceDue() (bool, error) {
	collateralValue, debtValue, err := r.Position()
	if err != nil {
		return false, err
	}
	if collateralValue == nil || collateralValue.Sign() == 0 {
		return false, nil
	}
	if r.clockNow().Sub(r.LastRebalance()) > r.params.RebalanceInterval {
		return true, nil
	}
	ltv, err := ltvRatio(collateralValue, debtValue)
	if err != nil {
		return false, err
	}
	if ltv.Cmp(r.params.lowerBoundLTV()) < 0 || ltv.Cmp(r.params.upperBoundLTV()) > 0 {
		return true, nil
	}
	return false, nil
}

// Rebalance harvests yield-source profit, recenters the LTV toward the
// target and mints the keeper reward to the caller. The controller moves
// Settled -> Rebalancing -> Settled; a nested call while external adapter
// calls are in flight is rejected with ErrRebalanceInProgress. The timestamp
// advances only after every external call has succeeded, so a failed run
// leaves the previous schedule intact for the keeper to retry.
func (r *Rebalancer) Rebalance(caller common.Address) error {
	if !atomic.CompareAndSwapUint32(&r.state, stateSettled, stateRebalancing) {
		return ErrRebalanceInProgress
	}
	defer atomic.StoreUint32(&r.state, stateSettled)

	started := r.clockNow()
	err := r.rebalanceLocked(caller)
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	observability.VaultMetrics().RecordRebalance(outcome, r.clockNow().Sub(started))
	return err
}

func (r *Rebalancer) rebalanceLocked(caller common.Address) error {
	due, err := r.IsRebalanceDue()
	if err != nil {
		return err
	}
	if !due {
		return ErrRebalanceNotDue
	}

	harvested, err := r.harvest()
	if err != nil {
		return fmt.Errorf("harvest: %w", err)
	}
	newLtv, err := r.recenter()
	if err != nil {
		return fmt.Errorf("recenter: %w", err)
	}

	now := r.clockNow()
	r.mu.Lock()
	r.lastRun = now
	r.mu.Unlock()

	reward := big.NewInt(0)
	if r.rewards != nil {
		// The position changes are already committed at this point, so a
		// failed fee mint forfeits the reward instead of failing the run.
		if reward, err = r.rewards.Accrue(caller); err != nil {
			r.logger.Error("reward accrual failed", "caller", caller.Hex(), "err", err)
			reward = big.NewInt(0)
		}
	}

	r.logger.Info("rebalance complete",
		"caller", caller.Hex(),
		"harvested", harvested.String(),
		"new_ltv", newLtv.String(),
		"reward_shares", reward.String())
	return nil
}

// harvest realises yield-source profit. When the target vault tracks more of
// the borrowed asset than the strategy owes, the surplus is withdrawn into
// the base asset and supplied as additional collateral. Any idle base-asset
// balance left over from an interrupted prior run is swept in as well.
func (r *Rebalancer) harvest() (*big.Int, error) {
	targetBalance, err := r.target.TargetBalance()
	if err != nil {
		return nil, fmt.Errorf("target balance: %w", err)
	}
	debtBalance, err := r.market.DebtBalance(r.debtAsset)
	if err != nil {
		return nil, fmt.Errorf("debt balance: %w", err)
	}

	harvested := big.NewInt(0)
	if targetBalance != nil && debtBalance != nil && targetBalance.Cmp(debtBalance) > 0 {
		surplus := new(big.Int).Sub(targetBalance, debtBalance)
		if _, err := r.target.Withdraw(surplus, r.baseAsset); err != nil {
			return nil, fmt.Errorf("withdraw surplus: %w", err)
		}
		harvested = surplus
	}

	idle, err := r.bank.Balance(r.baseAsset, r.self)
	if err != nil {
		return nil, fmt.Errorf("idle balance: %w", err)
	}
	if idle.Sign() > 0 {
		if err := r.market.Supply(r.baseAsset, idle); err != nil {
			return nil, fmt.Errorf("supply proceeds: %w", err)
		}
	}

	if harvested.Sign() > 0 {
		amount, _ := new(big.Float).SetInt(harvested).Float64()
		observability.VaultMetrics().AddHarvested(amount)
		r.logger.Info("harvest", "surplus", harvested.String(), "supplied", idle.String())
	}
	return harvested, nil
}

// recenter moves the debt level a configured fraction of the way toward the
// target LTV, clamped to the safety band, and returns the LTV it steered to.
func (r *Rebalancer) recenter() (*big.Int, error) {
	collateralValue, debtValue, err := r.Position()
	if err != nil {
		return nil, err
	}
	ltv, err := ltvRatio(collateralValue, debtValue)
	if err != nil {
		return nil, err
	}

	speed := r.params.recenteringSpeed()
	keep := new(big.Int).Sub(RatioScale, speed)
	estimated := new(big.Int).Add(
		mulDivDown(ltv, keep, RatioScale),
		mulDivDown(r.params.targetLTV(), speed, RatioScale),
	)
	newLtv := clampRatio(estimated, r.params.lowerBoundLTV(), r.params.upperBoundLTV())
	newDebtValue := mulDivDown(collateralValue, newLtv, RatioScale)

	price, err := r.oracle.Price(r.debtAsset)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrOraclePrice, err)
	}
	if price == nil || price.Sign() <= 0 {
		return nil, ErrOraclePrice
	}

	switch newDebtValue.Cmp(debtValue) {
	case +1:
		deltaValue := new(big.Int).Sub(newDebtValue, debtValue)
		amount := mulDivDown(deltaValue, PriceScale, price)
		if amount.Sign() == 0 {
			break
		}
		if err := r.market.Borrow(r.debtAsset, amount, r.self); err != nil {
			return nil, fmt.Errorf("borrow: %w", err)
		}
		if err := r.target.Deposit(amount); err != nil {
			if repayErr := r.market.Repay(r.debtAsset, amount); repayErr != nil {
				return nil, fmt.Errorf("target deposit: %w (rollback repay failed: %v)", err, repayErr)
			}
			return nil, fmt.Errorf("target deposit: %w", err)
		}
		r.logger.Info("recenter borrow", "ltv", ltv.String(), "new_ltv", newLtv.String(), "amount", amount.String())
	case -1:
		deltaValue := new(big.Int).Sub(debtValue, newDebtValue)
		amount := mulDivDown(deltaValue, PriceScale, price)
		if amount.Sign() == 0 {
			break
		}
		actual, err := r.target.Withdraw(amount, r.debtAsset)
		if err != nil {
			return nil, fmt.Errorf("target withdraw: %w", err)
		}
		if actual == nil || actual.Sign() == 0 {
			break
		}
		// Repay with what was actually redeemed, not the request, to
		// absorb rounding inside the yield target.
		if err := r.market.Repay(r.debtAsset, actual); err != nil {
			if depositErr := r.target.Deposit(actual); depositErr != nil {
				return nil, fmt.Errorf("repay: %w (rollback deposit failed: %v)", err, depositErr)
			}
			return nil, fmt.Errorf("repay: %w", err)
		}
		r.logger.Info("recenter repay", "ltv", ltv.String(), "new_ltv", newLtv.String(), "requested", amount.String(), "actual", actual.String())
	}

	if collateralValue, debtValue, err = r.market.AccountPosition(); err == nil {
		r.publishPosition(collateralValue, debtValue)
	}
	return newLtv, nil
}

func (r *Rebalancer) publishPosition(collateralValue, debtValue *big.Int) {
	if collateralValue == nil || debtValue == nil {
		return
	}
	collateral, _ := new(big.Float).SetInt(collateralValue).Float64()
	debt, _ := new(big.Float).SetInt(debtValue).Float64()
	ltv := 0.0
	if collateral > 0 {
		ltv = debt / collateral
	}
	observability.VaultMetrics().SetPosition(ltv, collateral, debt)
}
