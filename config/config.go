// Package config loads the loopvaultd runtime configuration from TOML.
package config

import (
	"fmt"
	"math/big"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/ethereum/go-ethereum/common"

	"loopvault/strategy"
)

// Duration wraps time.Duration so interval fields can be written as "24h"
// in the TOML file.
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler for toml decoding.
func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = parsed
	return nil
}

// RateLimits configures the per-client gateway throttles.
type RateLimits struct {
	VaultOpsPerMinute  float64 `toml:"VaultOpsPerMinute"`
	RebalancePerMinute float64 `toml:"RebalancePerMinute"`
	Burst              int     `toml:"Burst"`
}

// Config captures the runtime configuration for loopvaultd. Strategy
// parameters are immutable once the daemon is up; there is no runtime
// reconfiguration surface.
type Config struct {
	ListenAddress string `toml:"ListenAddress"`
	Environment   string `toml:"Environment"`

	BaseAsset     string `toml:"BaseAsset"`
	DebtAsset     string `toml:"DebtAsset"`
	VaultAccount  string `toml:"VaultAccount"`
	KeeperAccount string `toml:"KeeperAccount"`

	// LTV ratios and the recentering speed in parts per million:
	// 600_000 is 60%.
	TargetLTV        uint64 `toml:"TargetLTV"`
	LowerBoundLTV    uint64 `toml:"LowerBoundLTV"`
	UpperBoundLTV    uint64 `toml:"UpperBoundLTV"`
	RecenteringSpeed uint64 `toml:"RecenteringSpeed"`

	RebalanceInterval  Duration `toml:"RebalanceInterval"`
	KeeperPollInterval Duration `toml:"KeeperPollInterval"`

	// AnnualFeeRate in parts per 1e18, as a decimal string:
	// "20000000000000000" is 2% per year.
	AnnualFeeRate string `toml:"AnnualFeeRate"`

	RateLimits RateLimits `toml:"ratelimits"`
}

// Default returns the configuration used when no file is supplied.
func Default() *Config {
	return &Config{
		ListenAddress:      "0.0.0.0:8654",
		Environment:        "dev",
		TargetLTV:          600_000,
		LowerBoundLTV:      500_000,
		UpperBoundLTV:      700_000,
		RecenteringSpeed:   200_000,
		RebalanceInterval:  Duration{24 * time.Hour},
		KeeperPollInterval: Duration{30 * time.Second},
		AnnualFeeRate:      "20000000000000000",
		RateLimits: RateLimits{
			VaultOpsPerMinute:  120,
			RebalancePerMinute: 6,
			Burst:              3,
		},
	}
}

// Load decodes the file at path over the defaults. Unknown keys are rejected
// so typos fail loudly instead of silently running with defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	meta, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, fmt.Errorf("decode config %s: %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("config %s: unknown key %q", path, undecoded[0].String())
	}
	return cfg, nil
}

// Validate checks structural fields. Strategy parameter relationships are
// validated again by strategy.Params at construction.
func (c *Config) Validate() error {
	if c.ListenAddress == "" {
		return fmt.Errorf("config: listen address required")
	}
	for name, raw := range map[string]string{
		"BaseAsset":     c.BaseAsset,
		"DebtAsset":     c.DebtAsset,
		"VaultAccount":  c.VaultAccount,
		"KeeperAccount": c.KeeperAccount,
	} {
		if !common.IsHexAddress(raw) {
			return fmt.Errorf("config: %s %q is not a hex address", name, raw)
		}
	}
	if c.KeeperPollInterval.Duration <= 0 {
		return fmt.Errorf("config: keeper poll interval must be positive")
	}
	if _, err := c.feeRate(); err != nil {
		return err
	}
	return nil
}

func (c *Config) feeRate() (*big.Int, error) {
	if c.AnnualFeeRate == "" {
		return big.NewInt(0), nil
	}
	rate, ok := new(big.Int).SetString(c.AnnualFeeRate, 10)
	if !ok || rate.Sign() < 0 {
		return nil, fmt.Errorf("config: annual fee rate %q is not a non-negative integer", c.AnnualFeeRate)
	}
	return rate, nil
}

// StrategyParams converts the configured ratios into strategy parameters.
func (c *Config) StrategyParams() (strategy.Params, error) {
	rate, err := c.feeRate()
	if err != nil {
		return strategy.Params{}, err
	}
	params := strategy.Params{
		TargetLTV:         c.TargetLTV,
		LowerBoundLTV:     c.LowerBoundLTV,
		UpperBoundLTV:     c.UpperBoundLTV,
		RecenteringSpeed:  c.RecenteringSpeed,
		RebalanceInterval: c.RebalanceInterval.Duration,
		AnnualFeeRate:     rate,
	}
	if err := params.Validate(); err != nil {
		return strategy.Params{}, err
	}
	return params, nil
}

// Addresses returns the parsed account and asset addresses.
func (c *Config) Addresses() (base, debt, vault, keeper common.Address) {
	return common.HexToAddress(c.BaseAsset),
		common.HexToAddress(c.DebtAsset),
		common.HexToAddress(c.VaultAccount),
		common.HexToAddress(c.KeeperAccount)
}
