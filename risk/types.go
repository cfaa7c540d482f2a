package risk

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Action enumerates the risk-affecting flows that can be paused per market.
type Action uint8

const (
	ActionMint Action = iota
	ActionRedeem
	ActionBorrow
	ActionRepay
	ActionSeize
	ActionLiquidate
	ActionTransfer
	ActionEnter
	ActionExit
	ActionFlashLoan
	actionCount
)

var actionNames = [...]string{
	ActionMint:      "mint",
	ActionRedeem:    "redeem",
	ActionBorrow:    "borrow",
	ActionRepay:     "repay",
	ActionSeize:     "seize",
	ActionLiquidate: "liquidate",
	ActionTransfer:  "transfer",
	ActionEnter:     "enter",
	ActionExit:      "exit",
	ActionFlashLoan: "flashloan",
}

// String renders the stable lowercase action name.
func (a Action) String() string {
	if int(a) < len(actionNames) {
		return actionNames[a]
	}
	return "unknown"
}

// Valid reports whether the action sits inside the pause bitmap range.
func (a Action) Valid() bool { return a < actionCount }

// Market captures the engine-side risk state of a listed market. Balance and
// rate accounting stays with the market's own module; the engine only stores
// the knobs it needs to issue allow/deny decisions. Fractions are
// 1e18-mantissa big integers.
type Market struct {
	Address common.Address
	Listed  bool
	// CollateralFactor is the share of supplied value usable as borrowing
	// power. Invariant: 0 <= CollateralFactor <= LiquidationThreshold <= 1.
	CollateralFactor *big.Int
	// LiquidationThreshold is the share above which a position becomes
	// eligible for liquidation.
	LiquidationThreshold *big.Int
	// LiquidationIncentive is the bonus multiplier paid to liquidators,
	// always >= 1.
	LiquidationIncentive *big.Int
	// PoolID identifies the owning pool; listed markets start in the core
	// pool (id 0).
	PoolID        uint64
	BorrowAllowed bool
	// SupplyCap and BorrowCap are expressed in underlying units. A zero cap
	// closes the market to the respective flow.
	SupplyCap *big.Int
	BorrowCap *big.Int
	// FlashLoanEnabled gates participation in flash loans.
	FlashLoanEnabled bool
	// ForcedLiquidationEnabled lifts the shortfall requirement for every
	// liquidator of this market.
	ForcedLiquidationEnabled bool

	// paused is the per-action pause bitmap.
	paused uint16

	// Reward accrual state per side plus the current distribution speeds in
	// reward tokens per block.
	SupplyReward RewardState
	BorrowReward RewardState
	SupplySpeed  *big.Int
	BorrowSpeed  *big.Int
}

// ensureDefaults populates nil big.Int fields so lookups stay total.
func (m *Market) ensureDefaults() {
	if m.CollateralFactor == nil {
		m.CollateralFactor = big.NewInt(0)
	}
	if m.LiquidationThreshold == nil {
		m.LiquidationThreshold = big.NewInt(0)
	}
	if m.LiquidationIncentive == nil || m.LiquidationIncentive.Sign() == 0 {
		m.LiquidationIncentive = new(big.Int).Set(expScale)
	}
	if m.SupplyCap == nil {
		m.SupplyCap = big.NewInt(0)
	}
	if m.BorrowCap == nil {
		m.BorrowCap = big.NewInt(0)
	}
	if m.SupplySpeed == nil {
		m.SupplySpeed = big.NewInt(0)
	}
	if m.BorrowSpeed == nil {
		m.BorrowSpeed = big.NewInt(0)
	}
	m.SupplyReward.ensureDefaults()
	m.BorrowReward.ensureDefaults()
}

// ActionPaused reports whether the action is paused for the market.
func (m *Market) ActionPaused(a Action) bool {
	if !a.Valid() {
		return false
	}
	return m.paused&(1<<uint(a)) != 0
}

// PausedActions lists the actions currently paused for the market in enum
// order.
func (m *Market) PausedActions() []Action {
	var out []Action
	for a := Action(0); a < actionCount; a++ {
		if m.ActionPaused(a) {
			out = append(out, a)
		}
	}
	return out
}

func (m *Market) setActionPaused(a Action, paused bool) {
	if !a.Valid() {
		return
	}
	if paused {
		m.paused |= 1 << uint(a)
	} else {
		m.paused &^= 1 << uint(a)
	}
}

// RewardState is the lazily-updated accumulator for one reward side of a
// market. Index is a 1e36-mantissa monotone value; Block records the height
// of the last refresh.
type RewardState struct {
	Index *big.Int
	Block uint64
}

func (s *RewardState) ensureDefaults() {
	if s.Index == nil || s.Index.Sign() == 0 {
		s.Index = new(big.Int).Set(rewardInitialIndex)
	}
}

// accrueIndex advances a reward state to the given block. The delta is
// speed*(block-state.Block) distributed over total; an empty market or a zero
// speed only advances the block stamp, which is what stalls accrual without
// retroactive credit when a speed is re-enabled later.
func accrueIndex(state RewardState, block uint64, speed, total *big.Int) RewardState {
	next := RewardState{Index: state.Index, Block: state.Block}
	if next.Index == nil {
		next.Index = new(big.Int).Set(rewardInitialIndex)
	}
	if block <= next.Block {
		return next
	}
	delta := new(big.Int).SetUint64(block - next.Block)
	if speed != nil && speed.Sign() > 0 && total != nil && total.Sign() > 0 {
		accrued := new(big.Int).Mul(speed, delta)
		next.Index = new(big.Int).Add(next.Index, fraction(accrued, total))
	}
	next.Block = block
	return next
}

// Pool is an isolated risk configuration accounts can opt into. The core pool
// (id 0) is a protected singleton whose parameters are the markets' own.
type Pool struct {
	ID     uint64
	Label  string
	Active bool
	// AllowCorePoolFallback makes risk lookups for markets absent from this
	// pool inherit the core pool's parameters instead of resolving to zero.
	AllowCorePoolFallback bool
	// Markets lists the explicit memberships in insertion order.
	Markets []common.Address
}

// PoolMarket is a pool's override of a market's risk parameters.
type PoolMarket struct {
	CollateralFactor     *big.Int
	LiquidationThreshold *big.Int
	LiquidationIncentive *big.Int
	BorrowAllowed        bool
}

func (pm *PoolMarket) ensureDefaults() {
	if pm.CollateralFactor == nil {
		pm.CollateralFactor = big.NewInt(0)
	}
	if pm.LiquidationThreshold == nil {
		pm.LiquidationThreshold = big.NewInt(0)
	}
	if pm.LiquidationIncentive == nil || pm.LiquidationIncentive.Sign() == 0 {
		pm.LiquidationIncentive = new(big.Int).Set(expScale)
	}
}

// RiskParams is a resolved effective parameter set for one (account pool,
// market) pair.
type RiskParams struct {
	CollateralFactor     *big.Int
	LiquidationThreshold *big.Int
	LiquidationIncentive *big.Int
	BorrowAllowed        bool
}

// resolveRiskParams resolves the effective parameters for a market as seen
// from a pool: explicit membership wins, then the core-pool fallback, else
// the market carries zero credit in that pool. The function is pure; callers
// pass the override (or nil) they loaded for (pool, market).
func resolveRiskParams(market *Market, pool *Pool, override *PoolMarket) RiskParams {
	coreParams := RiskParams{
		CollateralFactor:     market.CollateralFactor,
		LiquidationThreshold: market.LiquidationThreshold,
		LiquidationIncentive: market.LiquidationIncentive,
		BorrowAllowed:        market.BorrowAllowed,
	}
	if pool == nil || pool.ID == CorePoolID {
		return coreParams
	}
	if override != nil && pool.Active {
		return RiskParams{
			CollateralFactor:     override.CollateralFactor,
			LiquidationThreshold: override.LiquidationThreshold,
			LiquidationIncentive: override.LiquidationIncentive,
			BorrowAllowed:        override.BorrowAllowed,
		}
	}
	if pool.AllowCorePoolFallback {
		return coreParams
	}
	return RiskParams{
		CollateralFactor:     big.NewInt(0),
		LiquidationThreshold: big.NewInt(0),
		LiquidationIncentive: new(big.Int).Set(expScale),
		BorrowAllowed:        false,
	}
}

// AccountPosition tracks an account's entered markets, active pool, and
// reward bookkeeping.
type AccountPosition struct {
	Address common.Address
	PoolID  uint64
	// Memberships preserves market entry order with no duplicates.
	Memberships []common.Address
	// SupplierIndex and BorrowerIndex snapshot the per-market reward
	// indices at the account's last interaction.
	SupplierIndex map[common.Address]*big.Int
	BorrowerIndex map[common.Address]*big.Int
	// Accrued is the claimable reward balance.
	Accrued *big.Int
}

func (p *AccountPosition) ensureDefaults() {
	if p.SupplierIndex == nil {
		p.SupplierIndex = make(map[common.Address]*big.Int)
	}
	if p.BorrowerIndex == nil {
		p.BorrowerIndex = make(map[common.Address]*big.Int)
	}
	if p.Accrued == nil {
		p.Accrued = big.NewInt(0)
	}
}

// member reports whether the account has entered the market.
func (p *AccountPosition) member(market common.Address) bool {
	for _, m := range p.Memberships {
		if m == market {
			return true
		}
	}
	return false
}

func (p *AccountPosition) removeMembership(market common.Address) bool {
	for i, m := range p.Memberships {
		if m == market {
			p.Memberships = append(p.Memberships[:i], p.Memberships[i+1:]...)
			if len(p.Memberships) == 0 {
				p.Memberships = nil
			}
			return true
		}
	}
	return false
}
