package strategy

import (
	"errors"
	"fmt"
	"math/big"
	"time"
)

var errInvalidParams = errors.New("strategy: invalid parameters")

// Params groups the immutable risk configuration for the strategy. LTV ratios
// and the recentering speed are expressed in RatioScale units; the annual fee
// rate uses FeeScale.
type Params struct {
	// TargetLTV is the loan-to-value ratio the controller converges toward.
	TargetLTV uint64
	// LowerBoundLTV and UpperBoundLTV bracket the band within which the
	// position is left alone between intervals.
	LowerBoundLTV uint64
	UpperBoundLTV uint64
	// RecenteringSpeed is the fraction of the gap between current and target
	// LTV closed per rebalance.
	RecenteringSpeed uint64
	// RebalanceInterval is the maximum age of a position before a rebalance
	// becomes due regardless of LTV.
	RebalanceInterval time.Duration
	// AnnualFeeRate is the management fee accrued per year of coverage,
	// minted as shares to the rebalance caller.
	AnnualFeeRate *big.Int
}

// Validate checks the parameter relationships required before the strategy
// may be constructed. A violation is a fatal configuration error.
func (p Params) Validate() error {
	scale := RatioScale.Uint64()
	if p.LowerBoundLTV == 0 || p.LowerBoundLTV >= p.TargetLTV {
		return fmt.Errorf("%w: lower bound %d must satisfy 0 < lower < target %d", errInvalidParams, p.LowerBoundLTV, p.TargetLTV)
	}
	if p.TargetLTV >= p.UpperBoundLTV {
		return fmt.Errorf("%w: target %d must be below upper bound %d", errInvalidParams, p.TargetLTV, p.UpperBoundLTV)
	}
	if p.UpperBoundLTV >= scale {
		return fmt.Errorf("%w: upper bound %d must be below %d", errInvalidParams, p.UpperBoundLTV, scale)
	}
	if p.RecenteringSpeed == 0 || p.RecenteringSpeed >= scale {
		return fmt.Errorf("%w: recentering speed %d must be inside (0, %d)", errInvalidParams, p.RecenteringSpeed, scale)
	}
	if p.RebalanceInterval <= 0 {
		return fmt.Errorf("%w: rebalance interval must be positive", errInvalidParams)
	}
	if p.AnnualFeeRate != nil {
		if p.AnnualFeeRate.Sign() < 0 {
			return fmt.Errorf("%w: annual fee rate must not be negative", errInvalidParams)
		}
		if p.AnnualFeeRate.Cmp(FeeScale) > 0 {
			return fmt.Errorf("%w: annual fee rate must not exceed %s", errInvalidParams, FeeScale)
		}
	}
	return nil
}

func (p Params) targetLTV() *big.Int        { return new(big.Int).SetUint64(p.TargetLTV) }
func (p Params) lowerBoundLTV() *big.Int    { return new(big.Int).SetUint64(p.LowerBoundLTV) }
func (p Params) upperBoundLTV() *big.Int    { return new(big.Int).SetUint64(p.UpperBoundLTV) }
func (p Params) recenteringSpeed() *big.Int { return new(big.Int).SetUint64(p.RecenteringSpeed) }
