package events

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

const (
	// TypeMarketListed marks the admission of a market into the risk engine.
	TypeMarketListed = "risk.market.listed"
	// TypeMarketUnlisted marks the logical removal of a market.
	TypeMarketUnlisted = "risk.market.unlisted"
	// TypeMarketParamsUpdated marks a change to a market's risk parameters.
	TypeMarketParamsUpdated = "risk.market.params"
	// TypeMarketCapUpdated marks a change to a market's supply or borrow cap.
	TypeMarketCapUpdated = "risk.market.cap"
	// TypeActionsPaused marks a pause-flag change for a (market, action) pair.
	TypeActionsPaused = "risk.market.pause"
	// TypePoolCreated marks the creation of an isolated risk pool.
	TypePoolCreated = "risk.pool.created"
	// TypePoolUpdated marks an activity or fallback toggle on a pool.
	TypePoolUpdated = "risk.pool.updated"
	// TypePoolMarketAdded marks a market joining a pool.
	TypePoolMarketAdded = "risk.pool.market_added"
	// TypePoolMarketRemoved marks a market leaving a pool.
	TypePoolMarketRemoved = "risk.pool.market_removed"
	// TypePoolEntered marks an account switching its active pool.
	TypePoolEntered = "risk.pool.entered"
	// TypeMarketEntered marks an account entering a market.
	TypeMarketEntered = "risk.account.entered"
	// TypeMarketExited marks an account exiting a market.
	TypeMarketExited = "risk.account.exited"
	// TypeRewardSpeedsUpdated marks a change to a market's reward speeds.
	TypeRewardSpeedsUpdated = "risk.reward.speeds"
	// TypeRewardsClaimed marks a successful reward claim.
	TypeRewardsClaimed = "risk.reward.claimed"
	// TypeFlashLoanExecuted marks a completed multi-asset flash loan.
	TypeFlashLoanExecuted = "risk.flashloan.executed"
)

// MarketListed records the admission of a market.
type MarketListed struct {
	Market common.Address
	PoolID uint64
}

// EventType satisfies the events.Event interface.
func (MarketListed) EventType() string { return TypeMarketListed }

// MarketUnlisted records the logical removal of a market after all of its
// risk actions were paused.
type MarketUnlisted struct {
	Market common.Address
}

func (MarketUnlisted) EventType() string { return TypeMarketUnlisted }

// MarketParamsUpdated records a change to one of the per-market risk
// fractions. Param is one of "collateralFactor", "liquidationThreshold" or
// "liquidationIncentive"; the values are 1e18-mantissa fractions.
type MarketParamsUpdated struct {
	Market   common.Address
	Param    string
	OldValue *big.Int
	NewValue *big.Int
}

func (MarketParamsUpdated) EventType() string { return TypeMarketParamsUpdated }

// MarketCapUpdated records a supply or borrow cap change. Cap is expressed in
// underlying units; a zero cap closes the market to the named flow.
type MarketCapUpdated struct {
	Market common.Address
	Cap    string
	OldCap *big.Int
	NewCap *big.Int
}

func (MarketCapUpdated) EventType() string { return TypeMarketCapUpdated }

// ActionsPaused records a pause-flag transition for a single (market, action)
// pair.
type ActionsPaused struct {
	Market common.Address
	Action string
	Paused bool
}

func (ActionsPaused) EventType() string { return TypeActionsPaused }

// PoolCreated records the creation of an isolated risk pool.
type PoolCreated struct {
	PoolID uint64
	Label  string
}

func (PoolCreated) EventType() string { return TypePoolCreated }

// PoolUpdated records an activity or core-fallback toggle. Field names the
// flag that changed.
type PoolUpdated struct {
	PoolID uint64
	Field  string
	Value  bool
}

func (PoolUpdated) EventType() string { return TypePoolUpdated }

// PoolMarketAdded records a market joining a pool with zeroed overrides.
type PoolMarketAdded struct {
	PoolID uint64
	Market common.Address
}

func (PoolMarketAdded) EventType() string { return TypePoolMarketAdded }

// PoolMarketRemoved records a membership removal.
type PoolMarketRemoved struct {
	PoolID uint64
	Market common.Address
}

func (PoolMarketRemoved) EventType() string { return TypePoolMarketRemoved }

// PoolEntered records an account switching its active risk pool.
type PoolEntered struct {
	Account common.Address
	PoolID  uint64
}

func (PoolEntered) EventType() string { return TypePoolEntered }

// MarketEntered records an account joining a market's membership list.
type MarketEntered struct {
	Account common.Address
	Market  common.Address
}

func (MarketEntered) EventType() string { return TypeMarketEntered }

// MarketExited records an account leaving a market's membership list.
type MarketExited struct {
	Account common.Address
	Market  common.Address
}

func (MarketExited) EventType() string { return TypeMarketExited }

// RewardSpeedsUpdated records new supply/borrow reward speeds for a market,
// expressed in reward tokens per block.
type RewardSpeedsUpdated struct {
	Market      common.Address
	SupplySpeed *big.Int
	BorrowSpeed *big.Int
}

func (RewardSpeedsUpdated) EventType() string { return TypeRewardSpeedsUpdated }

// RewardsClaimed records a successful transfer of accrued rewards.
type RewardsClaimed struct {
	Account common.Address
	Amount  *big.Int
}

func (RewardsClaimed) EventType() string { return TypeRewardsClaimed }

// FlashLoanExecuted records a completed flash loan across one or more
// markets. TotalFees is the sum of per-market fees actually collected.
type FlashLoanExecuted struct {
	Initiator common.Address
	OnBehalf  common.Address
	Markets   []common.Address
	Amounts   []*big.Int
	TotalFees *big.Int
}

func (FlashLoanExecuted) EventType() string { return TypeFlashLoanExecuted }
