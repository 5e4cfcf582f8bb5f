package strategy

import (
	"errors"
	"math/big"
	"testing"
	"time"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newTestRebalancer(t *testing.T, market *mockMarket, oracle *mockOracle, target *mockTarget, bank *mockBank, ledger *MemoryLedger) (*Rebalancer, *fakeClock) {
	t.Helper()
	params := validParams()
	rewards := NewRewardMinter(ledger, params.AnnualFeeRate, params.RebalanceInterval)
	r, err := NewRebalancer(market, oracle, target, bank, rewards, params, baseAsset, debtAsset, vaultAddr, nil)
	if err != nil {
		t.Fatalf("construct rebalancer: %v", err)
	}
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	r.clockNow = clock.Now
	r.lastRun = clock.now
	return r, clock
}

func TestReserveCheckRejectsIneligibleCollateral(t *testing.T) {
	market := newMockMarket()
	market.reserves[baseAsset] = ReserveStatus{Active: true, CollateralEligible: false, MaxLTV: big.NewInt(900_000)}
	params := validParams()
	_, err := NewRebalancer(market, newMockOracle(), newMockTarget(), newMockBank(), nil, params, baseAsset, debtAsset, vaultAddr, nil)
	if !errors.Is(err, ErrReserveIneligible) {
		t.Fatalf("expected ErrReserveIneligible, got %v", err)
	}
}

func TestReserveCheckRejectsLowMaxLTV(t *testing.T) {
	market := newMockMarket()
	market.reserves[baseAsset] = ReserveStatus{Active: true, CollateralEligible: true, MaxLTV: big.NewInt(650_000)}
	_, err := NewRebalancer(market, newMockOracle(), newMockTarget(), newMockBank(), nil, validParams(), baseAsset, debtAsset, vaultAddr, nil)
	if !errors.Is(err, ErrReserveIneligible) {
		t.Fatalf("expected ErrReserveIneligible for low max LTV, got %v", err)
	}
}

func TestReserveCheckRejectsNonBorrowableDebtAsset(t *testing.T) {
	market := newMockMarket()
	market.reserves[debtAsset] = ReserveStatus{Active: true, Borrowable: false}
	_, err := NewRebalancer(market, newMockOracle(), newMockTarget(), newMockBank(), nil, validParams(), baseAsset, debtAsset, vaultAddr, nil)
	if !errors.Is(err, ErrReserveIneligible) {
		t.Fatalf("expected ErrReserveIneligible for non-borrowable asset, got %v", err)
	}
}

func TestIsRebalanceDueBoundaryIsInsideBand(t *testing.T) {
	market := newMockMarket()
	market.receipt = big.NewInt(1000)
	market.debtUnits = big.NewInt(500) // exactly the lower bound
	r, _ := newTestRebalancer(t, market, newMockOracle(), newMockTarget(), newMockBank(), NewMemoryLedger())

	for i := 0; i < 3; i++ {
		due, err := r.IsRebalanceDue()
		if err != nil {
			t.Fatalf("due check %d: %v", i, err)
		}
		if due {
			t.Fatalf("expected boundary LTV to be inside the band on check %d", i)
		}
	}
}

func TestIsRebalanceDueBelowLowerBound(t *testing.T) {
	market := newMockMarket()
	market.receipt = big.NewInt(1000)
	market.debtUnits = big.NewInt(490)
	r, _ := newTestRebalancer(t, market, newMockOracle(), newMockTarget(), newMockBank(), NewMemoryLedger())

	due, err := r.IsRebalanceDue()
	if err != nil {
		t.Fatalf("due check: %v", err)
	}
	if !due {
		t.Fatalf("expected LTV 0.49 to be due")
	}
}

func TestIsRebalanceDueAboveUpperBound(t *testing.T) {
	market := newMockMarket()
	market.receipt = big.NewInt(1000)
	market.debtUnits = big.NewInt(710)
	r, _ := newTestRebalancer(t, market, newMockOracle(), newMockTarget(), newMockBank(), NewMemoryLedger())

	due, err := r.IsRebalanceDue()
	if err != nil {
		t.Fatalf("due check: %v", err)
	}
	if !due {
		t.Fatalf("expected LTV 0.71 to be due")
	}
}

func TestIsRebalanceDueAfterInterval(t *testing.T) {
	market := newMockMarket()
	market.receipt = big.NewInt(1000)
	market.debtUnits = big.NewInt(600) // at target, inside band
	r, clock := newTestRebalancer(t, market, newMockOracle(), newMockTarget(), newMockBank(), NewMemoryLedger())

	due, err := r.IsRebalanceDue()
	if err != nil {
		t.Fatalf("due check: %v", err)
	}
	if due {
		t.Fatalf("expected in-band fresh position to not be due")
	}

	clock.Advance(24*time.Hour + time.Second)
	due, err = r.IsRebalanceDue()
	if err != nil {
		t.Fatalf("due check after interval: %v", err)
	}
	if !due {
		t.Fatalf("expected elapsed interval to make rebalance due")
	}
}

func TestIsRebalanceDueEmptyPosition(t *testing.T) {
	market := newMockMarket()
	r, clock := newTestRebalancer(t, market, newMockOracle(), newMockTarget(), newMockBank(), NewMemoryLedger())

	clock.Advance(48 * time.Hour)
	due, err := r.IsRebalanceDue()
	if err != nil {
		t.Fatalf("due check: %v", err)
	}
	if due {
		t.Fatalf("expected empty position to never be due")
	}
}

func TestRebalanceRejectedWhenNotDue(t *testing.T) {
	market := newMockMarket()
	market.receipt = big.NewInt(1000)
	market.debtUnits = big.NewInt(600)
	r, _ := newTestRebalancer(t, market, newMockOracle(), newMockTarget(), newMockBank(), NewMemoryLedger())

	if err := r.Rebalance(keeperAddr); !errors.Is(err, ErrRebalanceNotDue) {
		t.Fatalf("expected ErrRebalanceNotDue, got %v", err)
	}
}

func TestRebalanceGuardRejectsNestedCall(t *testing.T) {
	market := newMockMarket()
	market.receipt = big.NewInt(1000)
	market.debtUnits = big.NewInt(490)
	r, _ := newTestRebalancer(t, market, newMockOracle(), newMockTarget(), newMockBank(), NewMemoryLedger())

	r.state = stateRebalancing
	if err := r.Rebalance(keeperAddr); !errors.Is(err, ErrRebalanceInProgress) {
		t.Fatalf("expected ErrRebalanceInProgress, got %v", err)
	}
	r.state = stateSettled
	if err := r.Rebalance(keeperAddr); err != nil {
		t.Fatalf("expected settled controller to rebalance, got %v", err)
	}
}

func TestRecenterBorrowsTowardTarget(t *testing.T) {
	market := newMockMarket()
	market.receipt = big.NewInt(1000)
	market.debtUnits = big.NewInt(490)
	target := newMockTarget()
	r, clock := newTestRebalancer(t, market, newMockOracle(), target, newMockBank(), NewMemoryLedger())

	before := clock.now
	clock.Advance(time.Hour)
	if err := r.Rebalance(keeperAddr); err != nil {
		t.Fatalf("rebalance: %v", err)
	}

	// 0.49*0.8 + 0.60*0.2 = 0.512 -> new debt 512, borrow delta 22.
	if len(market.borrows) != 1 || market.borrows[0].Cmp(big.NewInt(22)) != 0 {
		t.Fatalf("expected single borrow of 22, got %+v", market.borrows)
	}
	if len(target.deposits) != 1 || target.deposits[0].Cmp(big.NewInt(22)) != 0 {
		t.Fatalf("expected borrowed amount deposited into target, got %+v", target.deposits)
	}
	if !r.LastRebalance().After(before) {
		t.Fatalf("expected timestamp to advance")
	}

	ltv, err := r.CurrentLTV()
	if err != nil {
		t.Fatalf("current ltv: %v", err)
	}
	if ltv.Cmp(big.NewInt(500_000)) < 0 || ltv.Cmp(big.NewInt(700_000)) > 0 {
		t.Fatalf("expected post-rebalance LTV inside band, got %s", ltv)
	}
}

func TestRecenterRepaysWithActualRedeemedAmount(t *testing.T) {
	market := newMockMarket()
	market.receipt = big.NewInt(1000)
	market.debtUnits = big.NewInt(710)
	target := newMockTarget()
	target.tracked = big.NewInt(710)
	target.haircut = big.NewInt(1)
	r, _ := newTestRebalancer(t, market, newMockOracle(), target, newMockBank(), NewMemoryLedger())

	if err := r.Rebalance(keeperAddr); err != nil {
		t.Fatalf("rebalance: %v", err)
	}

	// 0.71*0.8 + 0.60*0.2 = 0.688 -> new debt 688, requested repay 22, the
	// target redeems one unit short and the repayment uses the actual 21.
	if len(target.withdrawals) != 1 || target.withdrawals[0].amount.Cmp(big.NewInt(22)) != 0 {
		t.Fatalf("expected withdrawal request of 22, got %+v", target.withdrawals)
	}
	if target.withdrawals[0].asset != debtAsset {
		t.Fatalf("expected redemption in the borrowed asset")
	}
	if len(market.repays) != 1 || market.repays[0].Cmp(big.NewInt(21)) != 0 {
		t.Fatalf("expected repay of actual 21, got %+v", market.repays)
	}
}

func TestRebalanceAbortsOnOracleFailure(t *testing.T) {
	market := newMockMarket()
	market.receipt = big.NewInt(1000)
	market.debtUnits = big.NewInt(490)
	oracle := newMockOracle()
	oracle.failure = errBoom
	r, _ := newTestRebalancer(t, market, oracle, newMockTarget(), newMockBank(), NewMemoryLedger())

	before := r.LastRebalance()
	if err := r.Rebalance(keeperAddr); !errors.Is(err, ErrOraclePrice) {
		t.Fatalf("expected ErrOraclePrice, got %v", err)
	}
	if len(market.borrows) != 0 || len(market.repays) != 0 {
		t.Fatalf("expected no debt movement after oracle failure")
	}
	if !r.LastRebalance().Equal(before) {
		t.Fatalf("expected timestamp unchanged after failed rebalance")
	}
}

func TestRebalanceAbortsOnZeroPrice(t *testing.T) {
	market := newMockMarket()
	market.receipt = big.NewInt(1000)
	market.debtUnits = big.NewInt(490)
	oracle := newMockOracle()
	oracle.prices[debtAsset] = big.NewInt(0)
	r, _ := newTestRebalancer(t, market, oracle, newMockTarget(), newMockBank(), NewMemoryLedger())

	if err := r.Rebalance(keeperAddr); !errors.Is(err, ErrOraclePrice) {
		t.Fatalf("expected ErrOraclePrice for zero price, got %v", err)
	}
}

func TestHarvestRealisesSurplus(t *testing.T) {
	market := newMockMarket()
	market.receipt = big.NewInt(1000)
	market.debtUnits = big.NewInt(900)
	target := newMockTarget()
	target.tracked = big.NewInt(1000)
	bank := newMockBank()
	bank.idle[baseAsset] = big.NewInt(100) // surplus proceeds land here
	r, _ := newTestRebalancer(t, market, newMockOracle(), target, bank, NewMemoryLedger())

	harvested, err := r.harvest()
	if err != nil {
		t.Fatalf("harvest: %v", err)
	}
	if harvested.Cmp(big.NewInt(100)) != 0 {
		t.Fatalf("expected surplus 100, got %s", harvested)
	}
	if len(target.withdrawals) != 1 || target.withdrawals[0].asset != baseAsset {
		t.Fatalf("expected surplus redeemed into base asset, got %+v", target.withdrawals)
	}
	if len(market.supplies) != 1 || market.supplies[0].Cmp(big.NewInt(100)) != 0 {
		t.Fatalf("expected proceeds supplied as collateral, got %+v", market.supplies)
	}
}

func TestHarvestNoopWithoutProfit(t *testing.T) {
	market := newMockMarket()
	market.receipt = big.NewInt(1000)
	market.debtUnits = big.NewInt(1000)
	target := newMockTarget()
	target.tracked = big.NewInt(900)
	r, _ := newTestRebalancer(t, market, newMockOracle(), target, newMockBank(), NewMemoryLedger())

	harvested, err := r.harvest()
	if err != nil {
		t.Fatalf("harvest: %v", err)
	}
	if harvested.Sign() != 0 {
		t.Fatalf("expected no harvest, got %s", harvested)
	}
	if len(target.withdrawals) != 0 || len(market.supplies) != 0 {
		t.Fatalf("expected harvest to be a no-op")
	}
}

func TestRebalanceSucceedsWhenRewardMintFails(t *testing.T) {
	market := newMockMarket()
	market.receipt = big.NewInt(1_000_000)
	market.debtUnits = big.NewInt(490_000)
	ledger := &flakyLedger{MemoryLedger: NewMemoryLedger()}
	if err := ledger.Mint(makeAddress(0x11), big.NewInt(1_000_000)); err != nil {
		t.Fatalf("seed shares: %v", err)
	}
	ledger.failMint = errBoom

	params := validParams()
	rewards := NewRewardMinter(ledger, params.AnnualFeeRate, params.RebalanceInterval)
	r, err := NewRebalancer(market, newMockOracle(), newMockTarget(), newMockBank(), rewards, params, baseAsset, debtAsset, vaultAddr, nil)
	if err != nil {
		t.Fatalf("construct rebalancer: %v", err)
	}

	before := r.LastRebalance()
	if err := r.Rebalance(keeperAddr); err != nil {
		t.Fatalf("expected committed rebalance to succeed past a failed fee mint, got %v", err)
	}
	if len(market.borrows) != 1 {
		t.Fatalf("expected the recenter leg to commit, got %+v", market.borrows)
	}
	if r.LastRebalance().Before(before) {
		t.Fatalf("expected timestamp to advance")
	}
	if reward := ledger.BalanceOf(keeperAddr); reward.Sign() != 0 {
		t.Fatalf("expected forfeited reward, got %s shares", reward)
	}
}

func TestRebalanceMintsKeeperReward(t *testing.T) {
	market := newMockMarket()
	market.receipt = big.NewInt(1_000_000)
	market.debtUnits = big.NewInt(490_000)
	ledger := NewMemoryLedger()
	if err := ledger.Mint(makeAddress(0x11), big.NewInt(1_000_000)); err != nil {
		t.Fatalf("seed shares: %v", err)
	}
	r, _ := newTestRebalancer(t, market, newMockOracle(), newMockTarget(), newMockBank(), ledger)

	if err := r.Rebalance(keeperAddr); err != nil {
		t.Fatalf("rebalance: %v", err)
	}

	// 2%/year over a 1-day interval on 1e6 shares mints 54 shares.
	reward := ledger.BalanceOf(keeperAddr)
	if reward.Cmp(big.NewInt(54)) != 0 {
		t.Fatalf("expected keeper reward of 54 shares, got %s", reward)
	}
}
