package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"math/big"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"loopvault/config"
	"loopvault/gateway"
	"loopvault/gateway/middleware"
	"loopvault/keeper"
	"loopvault/observability/logging"
	"loopvault/sim"
	"loopvault/strategy"
)

func main() {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "", "path to loopvaultd config (TOML)")
	flag.Parse()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "validate config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.Setup("loopvaultd", cfg.Environment)

	params, err := cfg.StrategyParams()
	if err != nil {
		logger.Error("invalid strategy parameters", "err", err)
		os.Exit(1)
	}

	baseAsset, debtAsset, vaultAccount, keeperAccount := cfg.Addresses()

	// Wire the simulated protocol adapters. A live deployment swaps these
	// for adapters speaking to real market, oracle and yield endpoints.
	bank := sim.NewBank(vaultAccount)
	oracle := sim.NewOracle()
	oracle.SetPrice(baseAsset, new(big.Int).Set(strategy.PriceScale))
	oracle.SetPrice(debtAsset, new(big.Int).Set(strategy.PriceScale))

	marketAccount := sim.ProtocolAccount("lending-market")
	market := sim.NewMarket(marketAccount, vaultAccount, bank, oracle)
	market.SetReserve(baseAsset, strategy.ReserveStatus{
		Active:             true,
		CollateralEligible: true,
		MaxLTV:             big.NewInt(900_000),
	})
	market.SetReserve(debtAsset, strategy.ReserveStatus{
		Active:     true,
		Borrowable: true,
	})
	// Seed borrowable liquidity so the first recenter can draw debt.
	bank.Credit(debtAsset, marketAccount, strategy.FeeScale)

	targetAccount := sim.ProtocolAccount("yield-target")
	yieldTarget := sim.NewYieldVault(targetAccount, vaultAccount, debtAsset, baseAsset, bank, oracle)

	ledger := strategy.NewMemoryLedger()
	vault, err := strategy.NewVault(market, ledger, bank, baseAsset, vaultAccount, logger)
	if err != nil {
		logger.Error("construct vault", "err", err)
		os.Exit(1)
	}
	rewards := strategy.NewRewardMinter(ledger, params.AnnualFeeRate, params.RebalanceInterval)
	rebalancer, err := strategy.NewRebalancer(market, oracle, yieldTarget, bank, rewards, params, baseAsset, debtAsset, vaultAccount, logger)
	if err != nil {
		logger.Error("construct rebalancer", "err", err)
		os.Exit(1)
	}

	limiter := middleware.NewRateLimiter(map[string]middleware.RateLimit{
		gateway.RateLimitVaultOps:  {RequestsPerMinute: cfg.RateLimits.VaultOpsPerMinute, Burst: cfg.RateLimits.Burst},
		gateway.RateLimitRebalance: {RequestsPerMinute: cfg.RateLimits.RebalancePerMinute, Burst: cfg.RateLimits.Burst},
	}, logger)

	handler, err := gateway.New(gateway.Config{
		Vault:          vault,
		Rebalancer:     rebalancer,
		RateLimiter:    limiter,
		MetricsHandler: promhttp.Handler(),
		Logger:         logger,
	})
	if err != nil {
		logger.Error("construct gateway", "err", err)
		os.Exit(1)
	}

	server := &http.Server{
		Addr:              cfg.ListenAddress,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	go keeper.New(rebalancer, keeperAccount, cfg.KeeperPollInterval.Duration, logger).Run(ctx)

	go func() {
		logger.Info("gateway listening", "addr", cfg.ListenAddress)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("gateway server failed", "err", err)
			cancel()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("gateway shutdown", "err", err)
	}
}
