package risk

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"crosslend/core/events"
)

// CreatePool creates a new isolated risk pool and returns its sequential
// identifier. Pools start active with an empty market list.
func (e *Engine) CreatePool(caller common.Address, label string) (uint64, error) {
	if err := e.authorize(caller, "createPool"); err != nil {
		return 0, err
	}
	label = strings.TrimSpace(label)
	if label == "" {
		return 0, ErrEmptyPoolLabel
	}
	id, err := e.state.NextPoolID()
	if err != nil {
		return 0, err
	}
	pool := &Pool{ID: id, Label: label, Active: true}
	if err := e.state.PutPool(pool); err != nil {
		return 0, err
	}
	e.emit(events.PoolCreated{PoolID: id, Label: label})
	return id, nil
}

// AddPoolMarkets appends each market to the paired pool's market list with
// zeroed risk overrides; credit in the pool stays at zero until
// SetPoolMarketRiskParams configures the membership. The whole batch is
// validated before anything is applied.
func (e *Engine) AddPoolMarkets(caller common.Address, poolIDs []uint64, markets []common.Address) error {
	if err := e.authorize(caller, "addPoolMarkets"); err != nil {
		return err
	}
	if len(poolIDs) != len(markets) {
		return ErrArrayLengthMismatch
	}
	seen := make(map[poolMarketKey]struct{}, len(poolIDs))
	pools := make(map[uint64]*Pool, len(poolIDs))
	for i, poolID := range poolIDs {
		market := markets[i]
		if poolID == CorePoolID {
			return ErrInvalidOperationForCorePool
		}
		pool, ok := pools[poolID]
		if !ok {
			var err error
			pool, err = e.state.GetPool(poolID)
			if err != nil {
				return err
			}
			if pool == nil {
				return fmt.Errorf("pool %d: %w", poolID, ErrPoolDoesNotExist)
			}
			pools[poolID] = pool
		}
		m, err := e.state.GetMarket(market)
		if err != nil {
			return err
		}
		if m == nil || !m.Listed {
			return fmt.Errorf("market %s: %w", market.Hex(), ErrMarketNotListedInCorePool)
		}
		key := poolMarketKey{poolID: poolID, market: market}
		if _, dup := seen[key]; dup {
			return fmt.Errorf("market %s in pool %d: %w", market.Hex(), poolID, ErrMarketAlreadyInPool)
		}
		existing, err := e.state.GetPoolMarket(poolID, market)
		if err != nil {
			return err
		}
		if existing != nil {
			return fmt.Errorf("market %s in pool %d: %w", market.Hex(), poolID, ErrMarketAlreadyInPool)
		}
		seen[key] = struct{}{}
	}
	for i, poolID := range poolIDs {
		market := markets[i]
		pm := &PoolMarket{}
		pm.ensureDefaults()
		if err := e.state.PutPoolMarket(poolID, market, pm); err != nil {
			return err
		}
		pool := pools[poolID]
		pool.Markets = append(pool.Markets, market)
		if err := e.state.PutPool(pool); err != nil {
			return err
		}
		e.emit(events.PoolMarketAdded{PoolID: poolID, Market: market})
	}
	return nil
}

// RemovePoolMarket deletes a membership entry. A subsequent AddPoolMarkets
// for the same pair restores the membership with zeroed overrides; the
// previous risk parameters are deliberately not preserved and must be
// reconfigured.
func (e *Engine) RemovePoolMarket(caller common.Address, poolID uint64, market common.Address) error {
	if err := e.authorize(caller, "removePoolMarket"); err != nil {
		return err
	}
	if poolID == CorePoolID {
		return ErrInvalidOperationForCorePool
	}
	pool, err := e.state.GetPool(poolID)
	if err != nil {
		return err
	}
	if pool == nil {
		return ErrPoolDoesNotExist
	}
	pm, err := e.state.GetPoolMarket(poolID, market)
	if err != nil {
		return err
	}
	if pm == nil {
		return ErrPoolMarketNotFound
	}
	if err := e.state.DeletePoolMarket(poolID, market); err != nil {
		return err
	}
	for i, addr := range pool.Markets {
		if addr == market {
			pool.Markets = append(pool.Markets[:i], pool.Markets[i+1:]...)
			break
		}
	}
	if len(pool.Markets) == 0 {
		pool.Markets = nil
	}
	if err := e.state.PutPool(pool); err != nil {
		return err
	}
	e.emit(events.PoolMarketRemoved{PoolID: poolID, Market: market})
	return nil
}

// SetPoolActive toggles a pool's activity flag. Setting the current value is
// a silent no-op with no event; the core pool can never be deactivated.
func (e *Engine) SetPoolActive(caller common.Address, poolID uint64, active bool) error {
	if err := e.authorize(caller, "setPoolActive"); err != nil {
		return err
	}
	if poolID == CorePoolID {
		return ErrInvalidOperationForCorePool
	}
	pool, err := e.state.GetPool(poolID)
	if err != nil {
		return err
	}
	if pool == nil {
		return ErrPoolDoesNotExist
	}
	if pool.Active == active {
		return nil
	}
	pool.Active = active
	if err := e.state.PutPool(pool); err != nil {
		return err
	}
	e.emit(events.PoolUpdated{PoolID: poolID, Field: "active", Value: active})
	return nil
}

// SetAllowCorePoolFallback toggles whether risk lookups for markets absent
// from the pool inherit core-pool parameters (true) or resolve to zero
// credit (false).
func (e *Engine) SetAllowCorePoolFallback(caller common.Address, poolID uint64, allow bool) error {
	if err := e.authorize(caller, "setAllowCorePoolFallback"); err != nil {
		return err
	}
	if poolID == CorePoolID {
		return ErrInvalidOperationForCorePool
	}
	pool, err := e.state.GetPool(poolID)
	if err != nil {
		return err
	}
	if pool == nil {
		return ErrPoolDoesNotExist
	}
	if pool.AllowCorePoolFallback == allow {
		return ErrNoOpUpdate
	}
	pool.AllowCorePoolFallback = allow
	if err := e.state.PutPool(pool); err != nil {
		return err
	}
	e.emit(events.PoolUpdated{PoolID: poolID, Field: "allowCorePoolFallback", Value: allow})
	return nil
}

// SetPoolMarketRiskParams configures the risk overrides of an existing pool
// membership. The override obeys the same invariants as core parameters:
// threshold >= collateral factor, both within [0, 1], incentive >= 1.
func (e *Engine) SetPoolMarketRiskParams(caller common.Address, poolID uint64, market common.Address, params PoolMarket) error {
	if err := e.authorize(caller, "setPoolMarketRiskParams"); err != nil {
		return err
	}
	if poolID == CorePoolID {
		return ErrInvalidOperationForCorePool
	}
	pm, err := e.state.GetPoolMarket(poolID, market)
	if err != nil {
		return err
	}
	if pm == nil {
		return ErrPoolMarketNotFound
	}
	cf := params.CollateralFactor
	lt := params.LiquidationThreshold
	inc := params.LiquidationIncentive
	if cf == nil || lt == nil || inc == nil {
		return ErrInvalidParameter
	}
	if cf.Sign() < 0 || cf.Cmp(expScale) > 0 || lt.Sign() < 0 || lt.Cmp(expScale) > 0 {
		return ErrInvalidParameter
	}
	if lt.Cmp(cf) < 0 {
		return fmt.Errorf("liquidation threshold below collateral factor: %w", ErrInvalidParameter)
	}
	if inc.Cmp(expScale) < 0 {
		return ErrInvalidParameter
	}
	pm.CollateralFactor = new(big.Int).Set(cf)
	pm.LiquidationThreshold = new(big.Int).Set(lt)
	pm.LiquidationIncentive = new(big.Int).Set(inc)
	pm.BorrowAllowed = params.BorrowAllowed
	return e.state.PutPoolMarket(poolID, market, pm)
}

// EnterPool switches the account's active pool. The destination must exist
// and be active, and every market the account currently borrows must remain
// borrowable under the destination pool's effective parameters.
func (e *Engine) EnterPool(account common.Address, poolID uint64) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	pool, err := e.state.GetPool(poolID)
	if err != nil {
		return err
	}
	if pool == nil {
		return ErrPoolDoesNotExist
	}
	if poolID != CorePoolID && !pool.Active {
		return ErrPoolNotActive
	}
	pos, err := e.ensurePosition(account)
	if err != nil {
		return err
	}
	if pos.PoolID == poolID {
		return ErrAlreadyInSelectedPool
	}
	for _, marketAddr := range pos.Memberships {
		acct, err := e.accountingFor(marketAddr)
		if err != nil {
			return err
		}
		borrowed := acct.BorrowBalanceStored(account)
		if borrowed == nil || borrowed.Sign() == 0 {
			continue
		}
		m, err := e.listedMarket(marketAddr)
		if err != nil {
			return err
		}
		var override *PoolMarket
		if poolID != CorePoolID {
			override, err = e.state.GetPoolMarket(poolID, marketAddr)
			if err != nil {
				return err
			}
			if override != nil {
				override.ensureDefaults()
			}
		}
		params := resolveRiskParams(m, pool, override)
		if !params.BorrowAllowed {
			return fmt.Errorf("market %s: %w", marketAddr.Hex(), ErrIncompatibleBorrowedAssets)
		}
	}
	pos.PoolID = poolID
	if err := e.state.PutPosition(pos); err != nil {
		return err
	}
	e.emit(events.PoolEntered{Account: account, PoolID: poolID})
	return nil
}
