package risk

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"crosslend/core/events"
)

type forcedLiquidationKey struct {
	liquidator common.Address
	market     common.Address
}

// Engine is the orchestrating entry point market modules call into before
// mutating their own ledgers. One engine instance owns all registry, pool,
// and account state; no singletons exist, so tests run independent engines
// side by side.
//
// The engine serialises nothing internally: one state-mutating call is
// single-threaded and atomic (checks complete before mutations apply), and
// concurrent mutating use belongs to a serialised caller. External calls
// (oracle, flash-loan receiver) are treated as re-entrant, which is why caps,
// pauses, and balances are re-read on every entry instead of cached across a
// call boundary.
type Engine struct {
	state      engineState
	oracle     PriceOracle
	access     AccessControl
	treasury   RewardTreasury
	emitter    events.Emitter
	admin      common.Address
	accounting map[common.Address]MarketAccounting

	stablecoinController common.Address

	forcedLiquidators map[forcedLiquidationKey]bool

	flashAllowList map[common.Address]bool
	flashDelegates map[common.Address]map[common.Address]bool
	// flashLoanFee and protocolFeeShare are 1e18-mantissa fractions.
	flashLoanFee     *big.Int
	protocolFeeShare *big.Int
	feeCollector     common.Address

	blockFn func() uint64
}

// NewEngine constructs a risk engine administered by the given principal.
func NewEngine(admin common.Address) *Engine {
	return &Engine{
		admin:             admin,
		emitter:           events.NoopEmitter{},
		accounting:        make(map[common.Address]MarketAccounting),
		forcedLiquidators: make(map[forcedLiquidationKey]bool),
		flashAllowList:    make(map[common.Address]bool),
		flashDelegates:    make(map[common.Address]map[common.Address]bool),
		flashLoanFee:      big.NewInt(0),
		protocolFeeShare:  big.NewInt(0),
		blockFn:           func() uint64 { return 0 },
	}
}

// SetState wires the engine to its keyed stores.
func (e *Engine) SetState(state engineState) {
	if e == nil {
		return
	}
	e.state = state
}

// SetOracle wires the price oracle consulted by liquidity and liquidation
// computations.
func (e *Engine) SetOracle(oracle PriceOracle) {
	if e == nil {
		return
	}
	e.oracle = oracle
}

// SetAccessControl wires the fine-grained permission module. Passing nil
// restores the admin-only fallback.
func (e *Engine) SetAccessControl(access AccessControl) {
	if e == nil {
		return
	}
	e.access = access
}

// SetRewardTreasury wires the reward token source used by claims.
func (e *Engine) SetRewardTreasury(treasury RewardTreasury) {
	if e == nil {
		return
	}
	e.treasury = treasury
}

// SetEmitter configures the event emitter. Passing nil resets it to a no-op
// implementation.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if e == nil {
		return
	}
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// SetBlockNumberFunc overrides the block height source used by lazy reward
// accrual. Nil restores a constant-zero source.
func (e *Engine) SetBlockNumberFunc(fn func() uint64) {
	if e == nil {
		return
	}
	if fn == nil {
		e.blockFn = func() uint64 { return 0 }
		return
	}
	e.blockFn = fn
}

// SetStablecoinController registers the protocol stablecoin controller. The
// controller is exempt from the borrowed-side listed check in
// LiquidateBorrowAllowed; its accounting handle supplies borrow balances.
func (e *Engine) SetStablecoinController(caller, controller common.Address, accounting MarketAccounting) error {
	if err := e.authorize(caller, "setStablecoinController"); err != nil {
		return err
	}
	if controller == (common.Address{}) {
		return ErrZeroAddress
	}
	if accounting == nil {
		return ErrNotAMarket
	}
	e.stablecoinController = controller
	e.accounting[controller] = accounting
	return nil
}

// SetForcedLiquidation toggles the market-wide forced liquidation flag.
func (e *Engine) SetForcedLiquidation(caller, market common.Address, enabled bool) error {
	if err := e.authorize(caller, "setForcedLiquidation"); err != nil {
		return err
	}
	m, err := e.listedMarket(market)
	if err != nil {
		return err
	}
	if m.ForcedLiquidationEnabled == enabled {
		return ErrNoOpUpdate
	}
	m.ForcedLiquidationEnabled = enabled
	return e.state.PutMarket(m)
}

// SetForcedLiquidationForUser toggles forced liquidation for one (liquidator,
// market) pair.
func (e *Engine) SetForcedLiquidationForUser(caller, liquidator, market common.Address, enabled bool) error {
	if err := e.authorize(caller, "setForcedLiquidationForUser"); err != nil {
		return err
	}
	if liquidator == (common.Address{}) {
		return ErrZeroAddress
	}
	if market != e.stablecoinController {
		if _, err := e.listedMarket(market); err != nil {
			return err
		}
	}
	key := forcedLiquidationKey{liquidator: liquidator, market: market}
	if e.forcedLiquidators[key] == enabled {
		return ErrNoOpUpdate
	}
	if enabled {
		e.forcedLiquidators[key] = true
	} else {
		delete(e.forcedLiquidators, key)
	}
	return nil
}

func (e *Engine) authorize(caller common.Address, signature string) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if e.access != nil {
		if e.access.IsAllowedToCall(caller, signature) {
			return nil
		}
		return fmt.Errorf("%s: %w", signature, ErrAccessDenied)
	}
	if caller == e.admin && caller != (common.Address{}) {
		return nil
	}
	return fmt.Errorf("%s: %w", signature, ErrAccessDenied)
}

func (e *Engine) blockNumber() uint64 {
	if e == nil || e.blockFn == nil {
		return 0
	}
	return e.blockFn()
}

func (e *Engine) emit(event events.Event) {
	if e == nil || e.emitter == nil {
		return
	}
	e.emitter.Emit(event)
}

// listedMarket loads a market and requires it to be listed.
func (e *Engine) listedMarket(addr common.Address) (*Market, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	m, err := e.state.GetMarket(addr)
	if err != nil {
		return nil, err
	}
	if m == nil || !m.Listed {
		return nil, ErrMarketNotListed
	}
	m.ensureDefaults()
	return m, nil
}

// accountingFor resolves the registered accounting handle for a market.
func (e *Engine) accountingFor(addr common.Address) (MarketAccounting, error) {
	acct, ok := e.accounting[addr]
	if !ok || acct == nil {
		return nil, ErrMarketNotListed
	}
	return acct, nil
}

// ensurePosition loads or creates the account position.
func (e *Engine) ensurePosition(account common.Address) (*AccountPosition, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	pos, err := e.state.GetPosition(account)
	if err != nil {
		return nil, err
	}
	if pos == nil {
		pos = &AccountPosition{Address: account, PoolID: CorePoolID}
	}
	pos.ensureDefaults()
	return pos, nil
}

// effectiveParams resolves the risk parameters for a market as seen by the
// account's active pool.
func (e *Engine) effectiveParams(pos *AccountPosition, m *Market) (RiskParams, error) {
	pool, err := e.state.GetPool(pos.PoolID)
	if err != nil {
		return RiskParams{}, err
	}
	if pool == nil {
		return RiskParams{}, ErrPoolDoesNotExist
	}
	var override *PoolMarket
	if pool.ID != CorePoolID {
		override, err = e.state.GetPoolMarket(pool.ID, m.Address)
		if err != nil {
			return RiskParams{}, err
		}
		if override != nil {
			override.ensureDefaults()
		}
	}
	return resolveRiskParams(m, pool, override), nil
}

func (e *Engine) checkPaused(m *Market, action Action) error {
	if m.ActionPaused(action) {
		return fmt.Errorf("%s %s: %w", action, m.Address.Hex(), ErrActionPaused)
	}
	return nil
}

// EnterMarkets adds the account to the membership list of each market. The
// whole batch is validated before any membership is applied; entering a
// market twice is a silent no-op for that market.
func (e *Engine) EnterMarkets(account common.Address, markets []common.Address) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	loaded := make([]*Market, 0, len(markets))
	for _, addr := range markets {
		m, err := e.listedMarket(addr)
		if err != nil {
			return err
		}
		if err := e.checkPaused(m, ActionEnter); err != nil {
			return err
		}
		loaded = append(loaded, m)
	}
	pos, err := e.ensurePosition(account)
	if err != nil {
		return err
	}
	for _, m := range loaded {
		if pos.member(m.Address) {
			continue
		}
		pos.Memberships = append(pos.Memberships, m.Address)
		e.emit(events.MarketEntered{Account: account, Market: m.Address})
	}
	return e.state.PutPosition(pos)
}

// ExitMarket removes the account from a market's membership list. The exit
// requires a zero borrow balance in that market and the remaining collateral
// set to cover all outstanding borrows. Exiting a market the account never
// entered is a no-op, which makes an enter/exit round trip idempotent.
func (e *Engine) ExitMarket(account, market common.Address) error {
	m, err := e.listedMarket(market)
	if err != nil {
		return err
	}
	if err := e.checkPaused(m, ActionExit); err != nil {
		return err
	}
	pos, err := e.ensurePosition(account)
	if err != nil {
		return err
	}
	if !pos.member(market) {
		return nil
	}
	acct, err := e.accountingFor(market)
	if err != nil {
		return err
	}
	if borrowed := acct.BorrowBalanceStored(account); borrowed != nil && borrowed.Sign() > 0 {
		return ErrNonzeroBorrowBalance
	}
	tokens := acct.BalanceOf(account)
	if tokens != nil && tokens.Sign() > 0 {
		_, shortfall, err := e.hypotheticalLiquidity(account, market, tokens, big.NewInt(0), weightCollateralFactor)
		if err != nil {
			return err
		}
		if shortfall.Sign() > 0 {
			return ErrInsufficientLiquidity
		}
	}
	pos.removeMembership(market)
	e.emit(events.MarketExited{Account: account, Market: market})
	return e.state.PutPosition(pos)
}

// MintAllowed is consulted by a market before crediting freshly minted
// supply. It enforces the pause flag and the supply cap, then accrues
// supply-side rewards for the minter.
func (e *Engine) MintAllowed(market, minter common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	m, err := e.listedMarket(market)
	if err != nil {
		return err
	}
	if err := e.checkPaused(m, ActionMint); err != nil {
		return err
	}
	acct, err := e.accountingFor(market)
	if err != nil {
		return err
	}
	if err := e.checkSupplyCap(m, acct, amount); err != nil {
		return err
	}
	e.updateSupplyIndex(m, acct)
	if err := e.distributeSupplierReward(m, acct, minter); err != nil {
		return err
	}
	return e.state.PutMarket(m)
}

// RedeemAllowed is consulted before a supplier withdraws. Members must keep
// their remaining collateral above their borrows; accounts outside the
// market carry no credit from it, so their redemption is unconstrained.
func (e *Engine) RedeemAllowed(market, redeemer common.Address, redeemTokens *big.Int) error {
	if redeemTokens == nil || redeemTokens.Sign() <= 0 {
		return ErrInvalidAmount
	}
	m, err := e.listedMarket(market)
	if err != nil {
		return err
	}
	if err := e.checkPaused(m, ActionRedeem); err != nil {
		return err
	}
	acct, err := e.accountingFor(market)
	if err != nil {
		return err
	}
	pos, err := e.ensurePosition(redeemer)
	if err != nil {
		return err
	}
	if pos.member(market) {
		_, shortfall, err := e.hypotheticalLiquidity(redeemer, market, redeemTokens, big.NewInt(0), weightCollateralFactor)
		if err != nil {
			return err
		}
		if shortfall.Sign() > 0 {
			return ErrInsufficientLiquidity
		}
	}
	e.updateSupplyIndex(m, acct)
	if err := e.distributeSupplierReward(m, acct, redeemer); err != nil {
		return err
	}
	return e.state.PutMarket(m)
}

// borrowChecks runs every gate for a borrow without touching state: the
// pause flag, the pool-level borrow permission, the price feed, the borrow
// cap, and the borrower's collateral coverage. The liquidity overlay counts
// the requested borrow even before the membership exists, so a denied borrow
// leaves the position untouched.
func (e *Engine) borrowChecks(market, borrower common.Address, amount *big.Int) (*Market, MarketAccounting, *AccountPosition, error) {
	if amount == nil || amount.Sign() <= 0 {
		return nil, nil, nil, ErrInvalidAmount
	}
	m, err := e.listedMarket(market)
	if err != nil {
		return nil, nil, nil, err
	}
	if err := e.checkPaused(m, ActionBorrow); err != nil {
		return nil, nil, nil, err
	}
	acct, err := e.accountingFor(market)
	if err != nil {
		return nil, nil, nil, err
	}
	pos, err := e.ensurePosition(borrower)
	if err != nil {
		return nil, nil, nil, err
	}
	params, err := e.effectiveParams(pos, m)
	if err != nil {
		return nil, nil, nil, err
	}
	if !params.BorrowAllowed {
		return nil, nil, nil, ErrBorrowNotAllowed
	}
	if price := e.price(market); price == nil {
		return nil, nil, nil, ErrPriceError
	}
	if err := e.checkBorrowCap(m, acct, amount); err != nil {
		return nil, nil, nil, err
	}
	_, shortfall, err := e.hypotheticalLiquidity(borrower, market, big.NewInt(0), amount, weightCollateralFactor)
	if err != nil {
		return nil, nil, nil, err
	}
	if shortfall.Sign() > 0 {
		return nil, nil, nil, ErrInsufficientLiquidity
	}
	return m, acct, pos, nil
}

// BorrowAllowed is consulted before a market disburses a borrow. All checks
// complete before any state changes; only an allowed borrow enters the
// market on the borrower's behalf and settles rewards.
func (e *Engine) BorrowAllowed(market, borrower common.Address, amount *big.Int) error {
	m, acct, pos, err := e.borrowChecks(market, borrower, amount)
	if err != nil {
		return err
	}
	if !pos.member(market) {
		pos.Memberships = append(pos.Memberships, market)
		if err := e.state.PutPosition(pos); err != nil {
			return err
		}
		e.emit(events.MarketEntered{Account: borrower, Market: market})
	}
	e.updateBorrowIndex(m, acct)
	if err := e.distributeBorrowerReward(m, acct, borrower); err != nil {
		return err
	}
	return e.state.PutMarket(m)
}

// RepayBorrowAllowed is consulted before a repayment is credited.
func (e *Engine) RepayBorrowAllowed(market, payer, borrower common.Address) error {
	m, err := e.listedMarket(market)
	if err != nil {
		return err
	}
	if err := e.checkPaused(m, ActionRepay); err != nil {
		return err
	}
	acct, err := e.accountingFor(market)
	if err != nil {
		return err
	}
	e.updateBorrowIndex(m, acct)
	if err := e.distributeBorrowerReward(m, acct, borrower); err != nil {
		return err
	}
	return e.state.PutMarket(m)
}

// SeizeAllowed is consulted by the collateral market before transferring
// seized tokens to a liquidator. The borrowed side may be the stablecoin
// controller, which is exempt from the listed check.
func (e *Engine) SeizeAllowed(collateralMarket, borrowedMarket, liquidator, borrower common.Address) error {
	cm, err := e.listedMarket(collateralMarket)
	if err != nil {
		return err
	}
	if err := e.checkPaused(cm, ActionSeize); err != nil {
		return err
	}
	if borrowedMarket != e.stablecoinController {
		if _, err := e.listedMarket(borrowedMarket); err != nil {
			return err
		}
	}
	acct, err := e.accountingFor(collateralMarket)
	if err != nil {
		return err
	}
	e.updateSupplyIndex(cm, acct)
	if err := e.distributeSupplierReward(cm, acct, borrower); err != nil {
		return err
	}
	if err := e.distributeSupplierReward(cm, acct, liquidator); err != nil {
		return err
	}
	return e.state.PutMarket(cm)
}

// TransferAllowed is consulted before market tokens move between accounts.
// The source account is held to the same collateral coverage rule as a
// redemption of the transferred tokens.
func (e *Engine) TransferAllowed(market, src, dst common.Address, tokens *big.Int) error {
	if tokens == nil || tokens.Sign() <= 0 {
		return ErrInvalidAmount
	}
	m, err := e.listedMarket(market)
	if err != nil {
		return err
	}
	if err := e.checkPaused(m, ActionTransfer); err != nil {
		return err
	}
	acct, err := e.accountingFor(market)
	if err != nil {
		return err
	}
	pos, err := e.ensurePosition(src)
	if err != nil {
		return err
	}
	if pos.member(market) {
		_, shortfall, err := e.hypotheticalLiquidity(src, market, tokens, big.NewInt(0), weightCollateralFactor)
		if err != nil {
			return err
		}
		if shortfall.Sign() > 0 {
			return ErrInsufficientLiquidity
		}
	}
	e.updateSupplyIndex(m, acct)
	if err := e.distributeSupplierReward(m, acct, src); err != nil {
		return err
	}
	if err := e.distributeSupplierReward(m, acct, dst); err != nil {
		return err
	}
	return e.state.PutMarket(m)
}

// price consults the oracle, normalising nil and zero to nil.
func (e *Engine) price(market common.Address) *big.Int {
	if e.oracle == nil {
		return nil
	}
	p := e.oracle.GetUnderlyingPrice(market)
	if p == nil || p.Sign() <= 0 {
		return nil
	}
	return p
}

// Market returns a listed market's risk state for the query surface.
func (e *Engine) Market(addr common.Address) (*Market, error) {
	return e.listedMarket(addr)
}

// Markets returns every listed market in listing order.
func (e *Engine) Markets() ([]*Market, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	addrs, err := e.state.MarketAddresses()
	if err != nil {
		return nil, err
	}
	out := make([]*Market, 0, len(addrs))
	for _, addr := range addrs {
		m, err := e.state.GetMarket(addr)
		if err != nil {
			return nil, err
		}
		if m != nil && m.Listed {
			m.ensureDefaults()
			out = append(out, m)
		}
	}
	return out, nil
}

// Pool returns a pool by identifier.
func (e *Engine) Pool(id uint64) (*Pool, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	pool, err := e.state.GetPool(id)
	if err != nil {
		return nil, err
	}
	if pool == nil {
		return nil, ErrPoolDoesNotExist
	}
	return pool, nil
}

// Pools returns every pool in creation order, the core pool first.
func (e *Engine) Pools() ([]*Pool, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	ids, err := e.state.PoolIDs()
	if err != nil {
		return nil, err
	}
	out := make([]*Pool, 0, len(ids))
	for _, id := range ids {
		pool, err := e.state.GetPool(id)
		if err != nil {
			return nil, err
		}
		if pool != nil {
			out = append(out, pool)
		}
	}
	return out, nil
}

// Position returns the account's position, creating nothing.
func (e *Engine) Position(account common.Address) (*AccountPosition, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	pos, err := e.state.GetPosition(account)
	if err != nil {
		return nil, err
	}
	if pos == nil {
		pos = &AccountPosition{Address: account, PoolID: CorePoolID}
	}
	pos.ensureDefaults()
	return pos, nil
}
