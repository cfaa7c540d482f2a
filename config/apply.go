package config

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"crosslend/risk"
)

// AccountingResolver supplies the accounting handle for each configured
// market address.
type AccountingResolver func(market common.Address) (risk.MarketAccounting, error)

// Apply lists and configures every market and pool declared in the file on a
// freshly constructed engine. The admin declared in the file performs all
// privileged calls, so Apply must run before any access-control module
// replaces the admin fallback.
func (cfg *Config) Apply(engine *risk.Engine, resolve AccountingResolver) error {
	if engine == nil {
		return fmt.Errorf("config: nil engine")
	}
	if resolve == nil {
		return fmt.Errorf("config: nil accounting resolver")
	}
	admin, err := parseAddress(cfg.Engine.Admin)
	if err != nil {
		return fmt.Errorf("engine.admin: %w", err)
	}
	if err := applyEngineSettings(engine, admin, cfg.Engine); err != nil {
		return err
	}
	for _, market := range cfg.Markets {
		if err := applyMarket(engine, admin, resolve, market); err != nil {
			return err
		}
	}
	for _, pool := range cfg.Pools {
		if err := applyPool(engine, admin, pool); err != nil {
			return err
		}
	}
	return nil
}

func applyEngineSettings(engine *risk.Engine, admin common.Address, settings EngineConfig) error {
	if settings.FlashLoanFee != "" {
		fee, err := parseFraction(settings.FlashLoanFee)
		if err != nil {
			return err
		}
		if err := setIgnoringNoOp(engine.SetFlashLoanFee(admin, fee)); err != nil {
			return fmt.Errorf("engine.flash_loan_fee: %w", err)
		}
	}
	if settings.ProtocolFeeShare != "" {
		share, err := parseFraction(settings.ProtocolFeeShare)
		if err != nil {
			return err
		}
		if err := setIgnoringNoOp(engine.SetProtocolFeeShare(admin, share)); err != nil {
			return fmt.Errorf("engine.protocol_fee_share: %w", err)
		}
	}
	if settings.FeeCollector != "" {
		collector, err := parseAddress(settings.FeeCollector)
		if err != nil {
			return err
		}
		if err := setIgnoringNoOp(engine.SetFeeCollector(admin, collector)); err != nil {
			return fmt.Errorf("engine.fee_collector: %w", err)
		}
	}
	return nil
}

func applyMarket(engine *risk.Engine, admin common.Address, resolve AccountingResolver, market MarketConfig) error {
	addr, err := parseAddress(market.Address)
	if err != nil {
		return err
	}
	accounting, err := resolve(addr)
	if err != nil {
		return fmt.Errorf("market %s: %w", addr.Hex(), err)
	}
	if err := engine.ListMarket(admin, addr, accounting); err != nil {
		return fmt.Errorf("market %s: %w", addr.Hex(), err)
	}
	steps := []struct {
		value string
		apply func(*big.Int) error
	}{
		{orZero(market.LiquidationThreshold), func(v *big.Int) error { return engine.SetLiquidationThreshold(admin, addr, v) }},
		{orZero(market.CollateralFactor), func(v *big.Int) error { return engine.SetCollateralFactor(admin, addr, v) }},
	}
	for _, step := range steps {
		v, err := parseFraction(step.value)
		if err != nil {
			return fmt.Errorf("market %s: %w", addr.Hex(), err)
		}
		if err := setIgnoringNoOp(step.apply(v)); err != nil {
			return fmt.Errorf("market %s: %w", addr.Hex(), err)
		}
	}
	if market.LiquidationIncentive != "" {
		incentive, err := parseFraction(market.LiquidationIncentive)
		if err != nil {
			return fmt.Errorf("market %s: %w", addr.Hex(), err)
		}
		if err := setIgnoringNoOp(engine.SetLiquidationIncentive(admin, addr, incentive)); err != nil {
			return fmt.Errorf("market %s: %w", addr.Hex(), err)
		}
	}
	caps := []struct {
		value string
		apply func(*big.Int) error
	}{
		{market.SupplyCap, func(v *big.Int) error { return engine.SetSupplyCap(admin, addr, v) }},
		{market.BorrowCap, func(v *big.Int) error { return engine.SetBorrowCap(admin, addr, v) }},
	}
	for _, cap := range caps {
		if cap.value == "" {
			continue
		}
		v, err := parseAmount(cap.value)
		if err != nil {
			return fmt.Errorf("market %s: %w", addr.Hex(), err)
		}
		if err := setIgnoringNoOp(cap.apply(v)); err != nil {
			return fmt.Errorf("market %s: %w", addr.Hex(), err)
		}
	}
	if !market.BorrowAllowed {
		if err := setIgnoringNoOp(engine.SetBorrowAllowed(admin, addr, false)); err != nil {
			return fmt.Errorf("market %s: %w", addr.Hex(), err)
		}
	}
	if market.FlashLoansEnabled {
		if err := setIgnoringNoOp(engine.SetFlashLoanEnabled(admin, addr, true)); err != nil {
			return fmt.Errorf("market %s: %w", addr.Hex(), err)
		}
	}
	supplySpeed, err := parseAmount(orZero(market.SupplySpeed))
	if err != nil {
		return fmt.Errorf("market %s: %w", addr.Hex(), err)
	}
	borrowSpeed, err := parseAmount(orZero(market.BorrowSpeed))
	if err != nil {
		return fmt.Errorf("market %s: %w", addr.Hex(), err)
	}
	if supplySpeed.Sign() > 0 || borrowSpeed.Sign() > 0 {
		err := engine.SetRewardSpeeds(admin, []common.Address{addr}, []*big.Int{supplySpeed}, []*big.Int{borrowSpeed})
		if err := setIgnoringNoOp(err); err != nil {
			return fmt.Errorf("market %s: %w", addr.Hex(), err)
		}
	}
	return nil
}

func applyPool(engine *risk.Engine, admin common.Address, pool PoolConfig) error {
	id, err := engine.CreatePool(admin, pool.Label)
	if err != nil {
		return fmt.Errorf("pool %q: %w", pool.Label, err)
	}
	if pool.AllowCorePoolFallback {
		if err := setIgnoringNoOp(engine.SetAllowCorePoolFallback(admin, id, true)); err != nil {
			return fmt.Errorf("pool %q: %w", pool.Label, err)
		}
	}
	for _, member := range pool.Markets {
		addr, err := parseAddress(member.Address)
		if err != nil {
			return fmt.Errorf("pool %q: %w", pool.Label, err)
		}
		if err := engine.AddPoolMarkets(admin, []uint64{id}, []common.Address{addr}); err != nil {
			return fmt.Errorf("pool %q market %s: %w", pool.Label, addr.Hex(), err)
		}
		cf, err := parseFraction(orZero(member.CollateralFactor))
		if err != nil {
			return fmt.Errorf("pool %q market %s: %w", pool.Label, addr.Hex(), err)
		}
		lt, err := parseFraction(orZero(member.LiquidationThreshold))
		if err != nil {
			return fmt.Errorf("pool %q market %s: %w", pool.Label, addr.Hex(), err)
		}
		incentive := mantissaOne
		if member.LiquidationIncentive != "" {
			incentive, err = parseFraction(member.LiquidationIncentive)
			if err != nil {
				return fmt.Errorf("pool %q market %s: %w", pool.Label, addr.Hex(), err)
			}
		}
		params := risk.PoolMarket{
			CollateralFactor:     cf,
			LiquidationThreshold: lt,
			LiquidationIncentive: incentive,
			BorrowAllowed:        member.BorrowAllowed,
		}
		if err := engine.SetPoolMarketRiskParams(admin, id, addr, params); err != nil {
			return fmt.Errorf("pool %q market %s: %w", pool.Label, addr.Hex(), err)
		}
	}
	return nil
}

// setIgnoringNoOp treats the engine's no-op rejection as success; declaring a
// default value in the file is not a configuration error.
func setIgnoringNoOp(err error) error {
	if errors.Is(err, risk.ErrNoOpUpdate) {
		return nil
	}
	return err
}
