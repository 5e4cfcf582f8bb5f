package strategy

import "math/big"

var (
	// RatioScale is the fixed-point base for LTV ratios and the recentering
	// speed: 1_000_000 represents 100%.
	RatioScale = big.NewInt(1_000_000)

	// FeeScale is the fixed-point base for fee rates, expressed as parts per
	// 1e18 to match on-chain wad precision.
	FeeScale = mustBigInt("1000000000000000000")

	// PriceScale is the fixed-point base for oracle prices: a price of
	// 1e18 means one asset unit is worth exactly one reference unit.
	PriceScale = mustBigInt("1000000000000000000")
)

func mustBigInt(value string) *big.Int {
	v, ok := new(big.Int).SetString(value, 10)
	if !ok {
		panic("invalid big integer constant")
	}
	return v
}

// mulDivDown computes a*b/den rounding toward zero. Nil or non-positive
// denominators yield zero rather than panicking so callers can surface their
// own domain errors.
func mulDivDown(a, b, den *big.Int) *big.Int {
	if a == nil || b == nil || den == nil || den.Sign() <= 0 {
		return big.NewInt(0)
	}
	product := new(big.Int).Mul(a, b)
	return product.Quo(product, den)
}

// mulDivUp computes a*b/den rounding away from zero for positive inputs.
func mulDivUp(a, b, den *big.Int) *big.Int {
	if a == nil || b == nil || den == nil || den.Sign() <= 0 {
		return big.NewInt(0)
	}
	product := new(big.Int).Mul(a, b)
	product.Add(product, new(big.Int).Sub(den, big.NewInt(1)))
	return product.Quo(product, den)
}

// ltvRatio computes debt/collateral in RatioScale units, rounding up so the
// reported ratio never understates leverage.
func ltvRatio(collateralValue, debtValue *big.Int) (*big.Int, error) {
	if collateralValue == nil || collateralValue.Sign() == 0 {
		return nil, ErrZeroCollateral
	}
	if debtValue == nil || debtValue.Sign() == 0 {
		return big.NewInt(0), nil
	}
	return mulDivUp(debtValue, RatioScale, collateralValue), nil
}

func clampRatio(value, lower, upper *big.Int) *big.Int {
	if value.Cmp(lower) < 0 {
		return new(big.Int).Set(lower)
	}
	if value.Cmp(upper) > 0 {
		return new(big.Int).Set(upper)
	}
	return new(big.Int).Set(value)
}
