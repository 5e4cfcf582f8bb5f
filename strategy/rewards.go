package strategy

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"loopvault/observability"
)

const oneYear = 365 * 24 * time.Hour

// RewardMinter accrues the management fee. The fee is time-proportional: each
// rebalance covers one interval, so the per-call rate is the annual rate
// scaled by interval/year. Reward shares are minted to the caller that
// triggered the rebalance with no backing assets added, diluting every
// existing holder proportionally.
type RewardMinter struct {
	ledger        ShareLedger
	annualFeeRate *big.Int
	interval      time.Duration
}

// NewRewardMinter wires the fee accrual to the share ledger. A nil or zero
// annual rate disables minting.
func NewRewardMinter(ledger ShareLedger, annualFeeRate *big.Int, interval time.Duration) *RewardMinter {
	rate := big.NewInt(0)
	if annualFeeRate != nil {
		rate = new(big.Int).Set(annualFeeRate)
	}
	return &RewardMinter{ledger: ledger, annualFeeRate: rate, interval: interval}
}

// FeeRate returns the per-rebalance fee rate in FeeScale units, rounded down.
func (m *RewardMinter) FeeRate() *big.Int {
	if m == nil || m.annualFeeRate.Sign() == 0 || m.interval <= 0 {
		return big.NewInt(0)
	}
	return mulDivDown(m.annualFeeRate, big.NewInt(int64(m.interval)), big.NewInt(int64(oneYear)))
}

// Accrue mints the reward shares for one covered interval to the recipient
// and returns the minted amount. Rounding down means small supplies can
// legitimately accrue zero; that is not an error.
func (m *RewardMinter) Accrue(recipient common.Address) (*big.Int, error) {
	if m == nil || m.ledger == nil {
		return nil, errNilAdapter
	}
	feeRate := m.FeeRate()
	if feeRate.Sign() == 0 {
		return big.NewInt(0), nil
	}
	rewardShares := mulDivDown(m.ledger.TotalShares(), feeRate, FeeScale)
	if rewardShares.Sign() == 0 {
		return big.NewInt(0), nil
	}
	if err := m.ledger.Mint(recipient, rewardShares); err != nil {
		return nil, err
	}
	reward, _ := new(big.Float).SetInt(rewardShares).Float64()
	observability.VaultMetrics().AddRewardShares(reward)
	return rewardShares, nil
}
