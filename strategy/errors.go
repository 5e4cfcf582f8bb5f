package strategy

import "errors"

var (
	// ErrZeroShares signals that a deposit or withdrawal rounded to zero
	// shares and was rejected instead of silently minting nothing.
	ErrZeroShares = errors.New("strategy: computed shares round to zero")
	// ErrZeroAssets signals that a redemption rounded to zero assets.
	ErrZeroAssets = errors.New("strategy: computed assets round to zero")
	// ErrInsufficientAllowance is returned when a spender attempts to move
	// more owner shares than they were approved for.
	ErrInsufficientAllowance = errors.New("strategy: insufficient share allowance")
	// ErrInsufficientShares is returned when an owner holds fewer shares
	// than an operation requires.
	ErrInsufficientShares = errors.New("strategy: insufficient share balance")
	// ErrZeroCollateral is returned when an LTV computation is attempted
	// against an empty collateral position.
	ErrZeroCollateral = errors.New("strategy: collateral value is zero")
	// ErrOraclePrice is returned when the price oracle reports a zero or
	// otherwise unusable price for an asset.
	ErrOraclePrice = errors.New("strategy: oracle price unavailable")
	// ErrRebalanceNotDue is returned when a rebalance trigger fires while
	// the position is still inside its interval and LTV band.
	ErrRebalanceNotDue = errors.New("strategy: rebalance not due")
	// ErrRebalanceInProgress rejects a nested rebalance while a prior call
	// is still issuing external adapter calls.
	ErrRebalanceInProgress = errors.New("strategy: rebalance already in progress")
	// ErrReserveIneligible is returned at setup when an asset is not usable
	// for the role the strategy assigns to it.
	ErrReserveIneligible = errors.New("strategy: reserve not eligible for strategy")

	errNilAdapter    = errors.New("strategy: adapter not configured")
	errInvalidAmount = errors.New("strategy: amount must be positive")
)
