package risk

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"crosslend/core/events"
)

// unlistActions are the flows that must all be paused before a market can be
// unlisted.
var unlistActions = []Action{
	ActionMint, ActionRedeem, ActionBorrow, ActionRepay,
	ActionSeize, ActionLiquidate, ActionTransfer, ActionEnter, ActionExit,
}

// ListMarket admits a market into the registry. The candidate must expose a
// working accounting surface; listing initialises both reward indices to the
// fixed starting constant and places the market in the core pool. Risk
// parameters start at zero credit and must be configured afterwards.
func (e *Engine) ListMarket(caller, market common.Address, accounting MarketAccounting) error {
	if err := e.authorize(caller, "listMarket"); err != nil {
		return err
	}
	if market == (common.Address{}) {
		return ErrZeroAddress
	}
	existing, err := e.state.GetMarket(market)
	if err != nil {
		return err
	}
	if existing != nil && existing.Listed {
		return ErrAlreadyListed
	}
	if accounting == nil || accounting.ExchangeRateStored() == nil {
		return ErrNotAMarket
	}
	block := e.blockNumber()
	m := &Market{
		Address:       market,
		Listed:        true,
		PoolID:        CorePoolID,
		BorrowAllowed: true,
		SupplyReward:  RewardState{Index: new(big.Int).Set(rewardInitialIndex), Block: block},
		BorrowReward:  RewardState{Index: new(big.Int).Set(rewardInitialIndex), Block: block},
	}
	m.ensureDefaults()
	if err := e.state.PutMarket(m); err != nil {
		return err
	}
	core, err := e.state.GetPool(CorePoolID)
	if err != nil {
		return err
	}
	if core == nil {
		return ErrPoolDoesNotExist
	}
	core.Markets = append(core.Markets, market)
	if err := e.state.PutPool(core); err != nil {
		return err
	}
	e.accounting[market] = accounting
	e.emit(events.MarketListed{Market: market, PoolID: CorePoolID})
	return nil
}

// UnlistMarket logically removes a market. Every risk action for the market
// must already be paused; the market is then purged from every account's
// membership list and its collateral factor zeroed so no credit survives.
// The market struct itself is never removed, only delisted.
func (e *Engine) UnlistMarket(caller, market common.Address) error {
	if err := e.authorize(caller, "unlistMarket"); err != nil {
		return err
	}
	m, err := e.listedMarket(market)
	if err != nil {
		return err
	}
	for _, action := range unlistActions {
		if !m.ActionPaused(action) {
			return fmt.Errorf("action %s still live: %w", action, ErrActionsNotPaused)
		}
	}
	accounts, err := e.state.PositionAddresses()
	if err != nil {
		return err
	}
	for _, addr := range accounts {
		pos, err := e.state.GetPosition(addr)
		if err != nil {
			return err
		}
		if pos == nil || !pos.member(market) {
			continue
		}
		pos.removeMembership(market)
		if err := e.state.PutPosition(pos); err != nil {
			return err
		}
	}
	m.Listed = false
	m.CollateralFactor = big.NewInt(0)
	if err := e.state.PutMarket(m); err != nil {
		return err
	}
	e.emit(events.MarketUnlisted{Market: market})
	return nil
}

// SetCollateralFactor updates a market's core collateral factor. The new
// value must stay within [0, 1] and below the liquidation threshold; a no-op
// update is rejected so configuration drift stays visible.
func (e *Engine) SetCollateralFactor(caller, market common.Address, factor *big.Int) error {
	if err := e.authorize(caller, "setCollateralFactor"); err != nil {
		return err
	}
	m, err := e.listedMarket(market)
	if err != nil {
		return err
	}
	if factor == nil || factor.Sign() < 0 || factor.Cmp(expScale) > 0 {
		return ErrInvalidParameter
	}
	if factor.Cmp(m.LiquidationThreshold) > 0 {
		return fmt.Errorf("collateral factor above liquidation threshold: %w", ErrInvalidParameter)
	}
	if factor.Cmp(m.CollateralFactor) == 0 {
		return ErrNoOpUpdate
	}
	old := m.CollateralFactor
	m.CollateralFactor = new(big.Int).Set(factor)
	if err := e.state.PutMarket(m); err != nil {
		return err
	}
	e.emit(events.MarketParamsUpdated{Market: market, Param: "collateralFactor", OldValue: old, NewValue: m.CollateralFactor})
	return nil
}

// SetLiquidationThreshold updates the threshold above which positions become
// liquidatable. It may never fall below the collateral factor.
func (e *Engine) SetLiquidationThreshold(caller, market common.Address, threshold *big.Int) error {
	if err := e.authorize(caller, "setLiquidationThreshold"); err != nil {
		return err
	}
	m, err := e.listedMarket(market)
	if err != nil {
		return err
	}
	if threshold == nil || threshold.Sign() < 0 || threshold.Cmp(expScale) > 0 {
		return ErrInvalidParameter
	}
	if threshold.Cmp(m.CollateralFactor) < 0 {
		return fmt.Errorf("liquidation threshold below collateral factor: %w", ErrInvalidParameter)
	}
	if threshold.Cmp(m.LiquidationThreshold) == 0 {
		return ErrNoOpUpdate
	}
	old := m.LiquidationThreshold
	m.LiquidationThreshold = new(big.Int).Set(threshold)
	if err := e.state.PutMarket(m); err != nil {
		return err
	}
	e.emit(events.MarketParamsUpdated{Market: market, Param: "liquidationThreshold", OldValue: old, NewValue: m.LiquidationThreshold})
	return nil
}

// SetLiquidationIncentive updates the liquidator bonus multiplier, always a
// fraction >= 1.
func (e *Engine) SetLiquidationIncentive(caller, market common.Address, incentive *big.Int) error {
	if err := e.authorize(caller, "setLiquidationIncentive"); err != nil {
		return err
	}
	m, err := e.listedMarket(market)
	if err != nil {
		return err
	}
	if incentive == nil || incentive.Cmp(expScale) < 0 {
		return ErrInvalidParameter
	}
	if incentive.Cmp(m.LiquidationIncentive) == 0 {
		return ErrNoOpUpdate
	}
	old := m.LiquidationIncentive
	m.LiquidationIncentive = new(big.Int).Set(incentive)
	if err := e.state.PutMarket(m); err != nil {
		return err
	}
	e.emit(events.MarketParamsUpdated{Market: market, Param: "liquidationIncentive", OldValue: old, NewValue: m.LiquidationIncentive})
	return nil
}

// SetBorrowAllowed toggles the core-pool borrow permission for a market.
func (e *Engine) SetBorrowAllowed(caller, market common.Address, allowed bool) error {
	if err := e.authorize(caller, "setBorrowAllowed"); err != nil {
		return err
	}
	m, err := e.listedMarket(market)
	if err != nil {
		return err
	}
	if m.BorrowAllowed == allowed {
		return ErrNoOpUpdate
	}
	m.BorrowAllowed = allowed
	return e.state.PutMarket(m)
}

// SetFlashLoanEnabled toggles flash-loan participation for a market.
func (e *Engine) SetFlashLoanEnabled(caller, market common.Address, enabled bool) error {
	if err := e.authorize(caller, "setFlashLoanEnabled"); err != nil {
		return err
	}
	m, err := e.listedMarket(market)
	if err != nil {
		return err
	}
	if m.FlashLoanEnabled == enabled {
		return ErrNoOpUpdate
	}
	m.FlashLoanEnabled = enabled
	return e.state.PutMarket(m)
}
