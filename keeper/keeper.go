// Package keeper runs the in-process rebalance trigger: a polling loop that
// fires the permissionless rebalance whenever the controller reports it due.
// External keepers hitting the gateway remain first-class; this loop is the
// fallback that keeps a deployment recentred on its own.
package keeper

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"loopvault/strategy"
)

// Keeper polls the rebalancer on a fixed cadence.
type Keeper struct {
	rebalancer *strategy.Rebalancer
	caller     common.Address
	interval   time.Duration
	logger     *slog.Logger
}

// New constructs a keeper that rebalances as the supplied caller address,
// which also receives the minted reward shares.
func New(rebalancer *strategy.Rebalancer, caller common.Address, interval time.Duration, logger *slog.Logger) *Keeper {
	if interval <= 0 {
		interval = time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Keeper{
		rebalancer: rebalancer,
		caller:     caller,
		interval:   interval,
		logger:     logger.With("component", "keeper"),
	}
}

// Run polls until the context is cancelled. Errors are logged and the loop
// continues; the controller carries no retry state so the next tick is a
// clean attempt.
func (k *Keeper) Run(ctx context.Context) {
	ticker := time.NewTicker(k.interval)
	defer ticker.Stop()

	k.logger.Info("keeper started", "caller", k.caller.Hex(), "poll_interval", k.interval.String())
	for {
		select {
		case <-ctx.Done():
			k.logger.Info("keeper stopped")
			return
		case <-ticker.C:
			k.tick()
		}
	}
}

func (k *Keeper) tick() {
	attempt := uuid.NewString()
	due, err := k.rebalancer.IsRebalanceDue()
	if err != nil {
		k.logger.Error("due check failed", "attempt", attempt, "err", err)
		return
	}
	if !due {
		return
	}
	k.logger.Info("rebalance due", "attempt", attempt)
	if err := k.rebalancer.Rebalance(k.caller); err != nil {
		// Another trigger may have won the race; that is not a failure.
		if errors.Is(err, strategy.ErrRebalanceInProgress) || errors.Is(err, strategy.ErrRebalanceNotDue) {
			k.logger.Info("rebalance skipped", "attempt", attempt, "reason", err)
			return
		}
		k.logger.Error("rebalance failed", "attempt", attempt, "err", err)
		return
	}
	k.logger.Info("rebalance succeeded", "attempt", attempt)
}
