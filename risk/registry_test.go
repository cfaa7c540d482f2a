package risk

import (
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"crosslend/core/events"
)

func TestListMarketInitialisesRewardState(t *testing.T) {
	engine, _, emitter := newTestEngine(t)
	engine.SetBlockNumberFunc(func() uint64 { return 42 })
	market := makeAddress(0x01)

	if err := engine.ListMarket(testAdmin, market, newMockAccounting()); err != nil {
		t.Fatalf("list: %v", err)
	}
	m, err := engine.Market(market)
	if err != nil {
		t.Fatalf("market: %v", err)
	}
	if m.SupplyReward.Index.Cmp(rewardInitialIndex) != 0 || m.BorrowReward.Index.Cmp(rewardInitialIndex) != 0 {
		t.Fatalf("expected initial reward indices")
	}
	if m.SupplyReward.Block != 42 || m.BorrowReward.Block != 42 {
		t.Fatalf("expected reward blocks stamped at listing height")
	}
	if m.PoolID != CorePoolID {
		t.Fatalf("expected market in core pool, got %d", m.PoolID)
	}
	if m.CollateralFactor.Sign() != 0 {
		t.Fatalf("expected zero collateral factor at listing")
	}
	core, err := engine.Pool(CorePoolID)
	if err != nil {
		t.Fatalf("core pool: %v", err)
	}
	if len(core.Markets) != 1 || core.Markets[0] != market {
		t.Fatalf("expected market in core pool list, got %v", core.Markets)
	}
	if got := len(emitter.typed(events.TypeMarketListed)); got != 1 {
		t.Fatalf("expected 1 listing event, got %d", got)
	}
}

func TestListMarketRejectsDoubleListing(t *testing.T) {
	engine, _, _ := newTestEngine(t)
	market := makeAddress(0x01)

	if err := engine.ListMarket(testAdmin, market, newMockAccounting()); err != nil {
		t.Fatalf("list: %v", err)
	}
	if err := engine.ListMarket(testAdmin, market, newMockAccounting()); !errors.Is(err, ErrAlreadyListed) {
		t.Fatalf("expected ErrAlreadyListed, got %v", err)
	}
}

func TestListMarketRequiresAccounting(t *testing.T) {
	engine, _, _ := newTestEngine(t)

	if err := engine.ListMarket(testAdmin, makeAddress(0x01), nil); !errors.Is(err, ErrNotAMarket) {
		t.Fatalf("expected ErrNotAMarket, got %v", err)
	}
	broken := newMockAccounting()
	broken.exchangeRate = nil
	if err := engine.ListMarket(testAdmin, makeAddress(0x02), broken); !errors.Is(err, ErrNotAMarket) {
		t.Fatalf("expected ErrNotAMarket for nil exchange rate, got %v", err)
	}
}

func TestUnlistRequiresAllActionsPaused(t *testing.T) {
	engine, oracle, _ := newTestEngine(t)
	market := makeAddress(0x01)
	listTestMarket(t, engine, oracle, market)
	account := makeAddress(0x02)
	if err := engine.EnterMarkets(account, []common.Address{market}); err != nil {
		t.Fatalf("enter: %v", err)
	}

	if err := engine.UnlistMarket(testAdmin, market); !errors.Is(err, ErrActionsNotPaused) {
		t.Fatalf("expected ErrActionsNotPaused, got %v", err)
	}

	if err := engine.SetActionsPaused(testAdmin, []common.Address{market}, unlistActions, true); err != nil {
		t.Fatalf("pause all: %v", err)
	}
	if err := engine.UnlistMarket(testAdmin, market); err != nil {
		t.Fatalf("unlist: %v", err)
	}
	if _, err := engine.Market(market); !errors.Is(err, ErrMarketNotListed) {
		t.Fatalf("expected delisted market, got %v", err)
	}
	pos, err := engine.Position(account)
	if err != nil {
		t.Fatalf("position: %v", err)
	}
	if pos.member(market) {
		t.Fatalf("expected membership purged on unlist")
	}
}

func TestSetCollateralFactorBounds(t *testing.T) {
	engine, _, _ := newTestEngine(t)
	market := makeAddress(0x01)
	if err := engine.ListMarket(testAdmin, market, newMockAccounting()); err != nil {
		t.Fatalf("list: %v", err)
	}

	// The threshold is still zero, so any positive factor breaches it.
	if err := engine.SetCollateralFactor(testAdmin, market, pct(50)); !errors.Is(err, ErrInvalidParameter) {
		t.Fatalf("expected ErrInvalidParameter above threshold, got %v", err)
	}
	if err := engine.SetLiquidationThreshold(testAdmin, market, pct(80)); err != nil {
		t.Fatalf("set threshold: %v", err)
	}
	if err := engine.SetCollateralFactor(testAdmin, market, pct(50)); err != nil {
		t.Fatalf("set factor: %v", err)
	}
	over := new(big.Int).Add(expScale, big.NewInt(1))
	if err := engine.SetCollateralFactor(testAdmin, market, over); !errors.Is(err, ErrInvalidParameter) {
		t.Fatalf("expected ErrInvalidParameter above one, got %v", err)
	}
	if err := engine.SetCollateralFactor(testAdmin, market, pct(50)); !errors.Is(err, ErrNoOpUpdate) {
		t.Fatalf("expected ErrNoOpUpdate, got %v", err)
	}
	// Lowering the threshold below the factor must fail too.
	if err := engine.SetLiquidationThreshold(testAdmin, market, pct(40)); !errors.Is(err, ErrInvalidParameter) {
		t.Fatalf("expected ErrInvalidParameter below factor, got %v", err)
	}
}

func TestSetLiquidationIncentiveFloor(t *testing.T) {
	engine, _, _ := newTestEngine(t)
	market := makeAddress(0x01)
	if err := engine.ListMarket(testAdmin, market, newMockAccounting()); err != nil {
		t.Fatalf("list: %v", err)
	}

	if err := engine.SetLiquidationIncentive(testAdmin, market, pct(90)); !errors.Is(err, ErrInvalidParameter) {
		t.Fatalf("expected ErrInvalidParameter below one, got %v", err)
	}
	if err := engine.SetLiquidationIncentive(testAdmin, market, pct(110)); err != nil {
		t.Fatalf("set incentive: %v", err)
	}
	if err := engine.SetLiquidationIncentive(testAdmin, market, pct(110)); !errors.Is(err, ErrNoOpUpdate) {
		t.Fatalf("expected ErrNoOpUpdate, got %v", err)
	}
}

func TestMarketParamEventsCarryOldAndNew(t *testing.T) {
	engine, _, emitter := newTestEngine(t)
	market := makeAddress(0x01)
	if err := engine.ListMarket(testAdmin, market, newMockAccounting()); err != nil {
		t.Fatalf("list: %v", err)
	}
	if err := engine.SetLiquidationThreshold(testAdmin, market, pct(80)); err != nil {
		t.Fatalf("set threshold: %v", err)
	}

	updates := emitter.typed(events.TypeMarketParamsUpdated)
	if len(updates) != 1 {
		t.Fatalf("expected a single params event, got %d", len(updates))
	}
	evt := updates[0].(events.MarketParamsUpdated)
	if evt.Param != "liquidationThreshold" {
		t.Fatalf("unexpected param name %q", evt.Param)
	}
	if evt.OldValue.Sign() != 0 || evt.NewValue.Cmp(pct(80)) != 0 {
		t.Fatalf("unexpected values: old %s new %s", evt.OldValue, evt.NewValue)
	}
}
