package config

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/ethereum/go-ethereum/common"
)

// Config is the engine parameter file loaded at daemon start. Markets and
// pools declared here are listed and configured before the first request is
// served; risk fractions are decimal strings ("0.75") converted to
// 1e18-mantissa integers, caps and speeds are plain integer strings in
// underlying base units.
type Config struct {
	Engine  EngineConfig   `toml:"engine"`
	Markets []MarketConfig `toml:"markets"`
	Pools   []PoolConfig   `toml:"pools"`
}

type EngineConfig struct {
	Admin            string `toml:"admin"`
	FlashLoanFee     string `toml:"flash_loan_fee"`
	ProtocolFeeShare string `toml:"protocol_fee_share"`
	FeeCollector     string `toml:"fee_collector"`
}

type MarketConfig struct {
	Address              string `toml:"address"`
	CollateralFactor     string `toml:"collateral_factor"`
	LiquidationThreshold string `toml:"liquidation_threshold"`
	LiquidationIncentive string `toml:"liquidation_incentive"`
	SupplyCap            string `toml:"supply_cap"`
	BorrowCap            string `toml:"borrow_cap"`
	BorrowAllowed        bool   `toml:"borrow_allowed"`
	FlashLoansEnabled    bool   `toml:"flash_loans_enabled"`
	SupplySpeed          string `toml:"supply_speed"`
	BorrowSpeed          string `toml:"borrow_speed"`
}

type PoolConfig struct {
	Label                 string             `toml:"label"`
	AllowCorePoolFallback bool               `toml:"allow_core_pool_fallback"`
	Markets               []PoolMarketConfig `toml:"markets"`
}

type PoolMarketConfig struct {
	Address              string `toml:"address"`
	CollateralFactor     string `toml:"collateral_factor"`
	LiquidationThreshold string `toml:"liquidation_threshold"`
	LiquidationIncentive string `toml:"liquidation_incentive"`
	BorrowAllowed        bool   `toml:"borrow_allowed"`
}

// Load reads and validates the parameter file. Unknown keys are rejected so a
// typo never silently disables a limit.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	meta, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, err
	}
	for _, undecoded := range meta.Undecoded() {
		key := strings.TrimSpace(undecoded.String())
		if key == "" {
			continue
		}
		return nil, fmt.Errorf("config: unknown key %q", key)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// AdminAddress returns the parsed engine administrator address.
func (cfg *Config) AdminAddress() (common.Address, error) {
	if cfg == nil {
		return common.Address{}, fmt.Errorf("config: nil config")
	}
	return parseAddress(cfg.Engine.Admin)
}

// Validate checks addresses, fraction syntax, and the per-market invariants
// before any of the file is applied.
func (cfg *Config) Validate() error {
	if cfg == nil {
		return fmt.Errorf("config: nil config")
	}
	if _, err := parseAddress(cfg.Engine.Admin); err != nil {
		return fmt.Errorf("engine.admin: %w", err)
	}
	if cfg.Engine.FlashLoanFee != "" {
		fee, err := parseFraction(cfg.Engine.FlashLoanFee)
		if err != nil {
			return fmt.Errorf("engine.flash_loan_fee: %w", err)
		}
		if fee.Cmp(mantissaOne) >= 0 {
			return fmt.Errorf("engine.flash_loan_fee: must be below 1")
		}
	}
	if cfg.Engine.ProtocolFeeShare != "" {
		share, err := parseFraction(cfg.Engine.ProtocolFeeShare)
		if err != nil {
			return fmt.Errorf("engine.protocol_fee_share: %w", err)
		}
		if share.Cmp(mantissaOne) > 0 {
			return fmt.Errorf("engine.protocol_fee_share: must not exceed 1")
		}
	}
	if cfg.Engine.FeeCollector != "" {
		if _, err := parseAddress(cfg.Engine.FeeCollector); err != nil {
			return fmt.Errorf("engine.fee_collector: %w", err)
		}
	}
	seen := make(map[common.Address]struct{}, len(cfg.Markets))
	for i, market := range cfg.Markets {
		addr, err := parseAddress(market.Address)
		if err != nil {
			return fmt.Errorf("markets[%d].address: %w", i, err)
		}
		if _, dup := seen[addr]; dup {
			return fmt.Errorf("markets[%d]: duplicate address %s", i, addr.Hex())
		}
		seen[addr] = struct{}{}
		if err := validateRiskFractions(market.CollateralFactor, market.LiquidationThreshold, market.LiquidationIncentive); err != nil {
			return fmt.Errorf("markets[%d]: %w", i, err)
		}
		for _, field := range []struct{ name, value string }{
			{"supply_cap", market.SupplyCap},
			{"borrow_cap", market.BorrowCap},
			{"supply_speed", market.SupplySpeed},
			{"borrow_speed", market.BorrowSpeed},
		} {
			if field.value == "" {
				continue
			}
			if _, err := parseAmount(field.value); err != nil {
				return fmt.Errorf("markets[%d].%s: %w", i, field.name, err)
			}
		}
	}
	labels := make(map[string]struct{}, len(cfg.Pools))
	for i, pool := range cfg.Pools {
		label := strings.TrimSpace(pool.Label)
		if label == "" {
			return fmt.Errorf("pools[%d]: label must not be blank", i)
		}
		if _, dup := labels[label]; dup {
			return fmt.Errorf("pools[%d]: duplicate label %q", i, label)
		}
		labels[label] = struct{}{}
		for j, member := range pool.Markets {
			addr, err := parseAddress(member.Address)
			if err != nil {
				return fmt.Errorf("pools[%d].markets[%d].address: %w", i, j, err)
			}
			if _, listed := seen[addr]; !listed {
				return fmt.Errorf("pools[%d].markets[%d]: market %s not declared", i, j, addr.Hex())
			}
			if err := validateRiskFractions(member.CollateralFactor, member.LiquidationThreshold, member.LiquidationIncentive); err != nil {
				return fmt.Errorf("pools[%d].markets[%d]: %w", i, j, err)
			}
		}
	}
	return nil
}

func validateRiskFractions(factor, threshold, incentive string) error {
	cf, err := parseFraction(orZero(factor))
	if err != nil {
		return fmt.Errorf("collateral_factor: %w", err)
	}
	lt, err := parseFraction(orZero(threshold))
	if err != nil {
		return fmt.Errorf("liquidation_threshold: %w", err)
	}
	if cf.Cmp(mantissaOne) > 0 || lt.Cmp(mantissaOne) > 0 {
		return fmt.Errorf("risk fractions must not exceed 1")
	}
	if lt.Cmp(cf) < 0 {
		return fmt.Errorf("liquidation_threshold below collateral_factor")
	}
	if incentive != "" {
		inc, err := parseFraction(incentive)
		if err != nil {
			return fmt.Errorf("liquidation_incentive: %w", err)
		}
		if inc.Cmp(mantissaOne) < 0 {
			return fmt.Errorf("liquidation_incentive must be at least 1")
		}
	}
	return nil
}

func orZero(value string) string {
	if strings.TrimSpace(value) == "" {
		return "0"
	}
	return value
}

const fractionDecimals = 18

var mantissaOne = new(big.Int).Exp(big.NewInt(10), big.NewInt(fractionDecimals), nil)

// parseFraction converts a non-negative decimal string such as "0.75" or
// "1.1" into a 1e18-mantissa integer.
func parseFraction(value string) (*big.Int, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" || strings.HasPrefix(trimmed, "-") {
		return nil, fmt.Errorf("invalid fraction %q", value)
	}
	whole := trimmed
	frac := ""
	if dot := strings.IndexByte(trimmed, '.'); dot >= 0 {
		whole, frac = trimmed[:dot], trimmed[dot+1:]
	}
	if whole == "" {
		whole = "0"
	}
	if len(frac) > fractionDecimals {
		return nil, fmt.Errorf("fraction %q exceeds %d decimals", value, fractionDecimals)
	}
	digits := whole + frac + strings.Repeat("0", fractionDecimals-len(frac))
	parsed, ok := new(big.Int).SetString(digits, 10)
	if !ok {
		return nil, fmt.Errorf("invalid fraction %q", value)
	}
	return parsed, nil
}

// parseAmount converts a non-negative integer string in base units.
func parseAmount(value string) (*big.Int, error) {
	trimmed := strings.TrimSpace(value)
	parsed, ok := new(big.Int).SetString(trimmed, 10)
	if !ok || parsed.Sign() < 0 {
		return nil, fmt.Errorf("invalid amount %q", value)
	}
	return parsed, nil
}

func parseAddress(value string) (common.Address, error) {
	trimmed := strings.TrimSpace(value)
	if !common.IsHexAddress(trimmed) {
		return common.Address{}, fmt.Errorf("invalid address %q", value)
	}
	return common.HexToAddress(trimmed), nil
}
