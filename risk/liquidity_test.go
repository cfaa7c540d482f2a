package risk

import (
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

func TestAccountLiquidityWeighsCollateralFactor(t *testing.T) {
	engine, oracle, _ := newTestEngine(t)
	market := makeAddress(0x01)
	acct := listTestMarket(t, engine, oracle, market)
	account := makeAddress(0x02)

	acct.setBalance(account, units(100))
	if err := engine.EnterMarkets(account, []common.Address{market}); err != nil {
		t.Fatalf("enter: %v", err)
	}

	liquidity, shortfall, err := engine.GetAccountLiquidity(account)
	if err != nil {
		t.Fatalf("liquidity: %v", err)
	}
	// 100 units at unit price, collateral factor 0.75.
	if liquidity.Cmp(units(75)) != 0 {
		t.Fatalf("expected liquidity 75, got %s", liquidity)
	}
	if shortfall.Sign() != 0 {
		t.Fatalf("expected zero shortfall, got %s", shortfall)
	}
}

func TestAccountLiquidityIgnoresUnenteredMarkets(t *testing.T) {
	engine, oracle, _ := newTestEngine(t)
	market := makeAddress(0x01)
	acct := listTestMarket(t, engine, oracle, market)
	account := makeAddress(0x02)

	acct.setBalance(account, units(100))
	liquidity, shortfall, err := engine.GetAccountLiquidity(account)
	if err != nil {
		t.Fatalf("liquidity: %v", err)
	}
	if liquidity.Sign() != 0 || shortfall.Sign() != 0 {
		t.Fatalf("expected zero liquidity outside entered markets, got %s / %s", liquidity, shortfall)
	}
}

func TestHypotheticalLiquidityProjectsBorrow(t *testing.T) {
	engine, oracle, _ := newTestEngine(t)
	market := makeAddress(0x01)
	acct := listTestMarket(t, engine, oracle, market)
	account := makeAddress(0x02)

	acct.setBalance(account, units(100))
	if err := engine.EnterMarkets(account, []common.Address{market}); err != nil {
		t.Fatalf("enter: %v", err)
	}

	liquidity, shortfall, err := engine.GetHypotheticalAccountLiquidity(account, market, big.NewInt(0), units(50))
	if err != nil {
		t.Fatalf("hypothetical: %v", err)
	}
	if liquidity.Cmp(units(25)) != 0 || shortfall.Sign() != 0 {
		t.Fatalf("expected 25 spare after 50 borrow, got %s / %s", liquidity, shortfall)
	}

	liquidity, shortfall, err = engine.GetHypotheticalAccountLiquidity(account, market, big.NewInt(0), units(80))
	if err != nil {
		t.Fatalf("hypothetical: %v", err)
	}
	if liquidity.Sign() != 0 || shortfall.Cmp(units(5)) != 0 {
		t.Fatalf("expected shortfall 5 after 80 borrow, got %s / %s", liquidity, shortfall)
	}

	// Redeeming collateral shrinks the weighted collateral side.
	liquidity, _, err = engine.GetHypotheticalAccountLiquidity(account, market, units(40), big.NewInt(0))
	if err != nil {
		t.Fatalf("hypothetical: %v", err)
	}
	if liquidity.Cmp(units(45)) != 0 {
		t.Fatalf("expected 45 spare after redeeming 40 tokens, got %s", liquidity)
	}
}

func TestHypotheticalLiquidityCountsUnenteredBorrow(t *testing.T) {
	engine, oracle, _ := newTestEngine(t)
	collateral := makeAddress(0x01)
	borrowed := makeAddress(0x02)
	acct := listTestMarket(t, engine, oracle, collateral)
	listTestMarket(t, engine, oracle, borrowed)
	account := makeAddress(0x03)

	acct.setBalance(account, units(100))
	if err := engine.EnterMarkets(account, []common.Address{collateral}); err != nil {
		t.Fatalf("enter: %v", err)
	}

	// The projected borrow counts even though the account never entered the
	// borrowed market.
	liquidity, shortfall, err := engine.GetHypotheticalAccountLiquidity(account, borrowed, big.NewInt(0), units(50))
	if err != nil {
		t.Fatalf("hypothetical: %v", err)
	}
	if liquidity.Cmp(units(25)) != 0 || shortfall.Sign() != 0 {
		t.Fatalf("expected 25 spare after 50 borrow, got %s / %s", liquidity, shortfall)
	}

	liquidity, shortfall, err = engine.GetHypotheticalAccountLiquidity(account, borrowed, big.NewInt(0), units(80))
	if err != nil {
		t.Fatalf("hypothetical: %v", err)
	}
	if liquidity.Sign() != 0 || shortfall.Cmp(units(5)) != 0 {
		t.Fatalf("expected shortfall 5 after 80 borrow, got %s / %s", liquidity, shortfall)
	}
}

func TestLiquidityZeroPriceIsError(t *testing.T) {
	engine, oracle, _ := newTestEngine(t)
	market := makeAddress(0x01)
	acct := listTestMarket(t, engine, oracle, market)
	account := makeAddress(0x02)

	acct.setBalance(account, units(100))
	if err := engine.EnterMarkets(account, []common.Address{market}); err != nil {
		t.Fatalf("enter: %v", err)
	}
	oracle.prices[market] = big.NewInt(0)

	_, _, err := engine.GetAccountLiquidity(account)
	if !errors.Is(err, ErrPriceError) {
		t.Fatalf("expected ErrPriceError, got %v", err)
	}
}

// A position between the collateral factor and the liquidation threshold can
// neither borrow more nor be liquidated.
func TestBandBetweenFactorAndThreshold(t *testing.T) {
	engine, oracle, _ := newTestEngine(t)
	collateral := makeAddress(0x01)
	borrowed := makeAddress(0x02)
	collateralAcct := listTestMarket(t, engine, oracle, collateral)
	borrowedAcct := listTestMarket(t, engine, oracle, borrowed)
	account := makeAddress(0x03)
	liquidator := makeAddress(0x04)

	collateralAcct.setBalance(account, units(100))
	if err := engine.EnterMarkets(account, []common.Address{collateral, borrowed}); err != nil {
		t.Fatalf("enter: %v", err)
	}
	// 77 borrowed sits above the 0.75 factor but under the 0.80 threshold.
	borrowedAcct.setBorrow(account, units(77))

	if err := engine.BorrowAllowed(borrowed, account, units(1)); !errors.Is(err, ErrInsufficientLiquidity) {
		t.Fatalf("expected ErrInsufficientLiquidity, got %v", err)
	}
	err := engine.LiquidateBorrowAllowed(borrowed, collateral, liquidator, account, units(1))
	if !errors.Is(err, ErrInsufficientShortfall) {
		t.Fatalf("expected ErrInsufficientShortfall, got %v", err)
	}
}

// The e-mode scenario: a pool without fallback zeroes both weights for
// markets it does not carry.
func TestPoolWithoutFallbackZeroesCredit(t *testing.T) {
	engine, oracle, _ := newTestEngine(t)
	market := makeAddress(0x01)
	acct := listTestMarket(t, engine, oracle, market)
	account := makeAddress(0x02)
	poolID, err := engine.CreatePool(testAdmin, "stable")
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	acct.setBalance(account, units(100))
	if err := engine.EnterMarkets(account, []common.Address{market}); err != nil {
		t.Fatalf("enter: %v", err)
	}
	if err := engine.EnterPool(account, poolID); err != nil {
		t.Fatalf("enter pool: %v", err)
	}

	liquidity, _, err := engine.GetAccountLiquidity(account)
	if err != nil {
		t.Fatalf("liquidity: %v", err)
	}
	if liquidity.Sign() != 0 {
		t.Fatalf("expected zero liquidity in pool without fallback, got %s", liquidity)
	}

	if err := engine.SetAllowCorePoolFallback(testAdmin, poolID, true); err != nil {
		t.Fatalf("set fallback: %v", err)
	}
	liquidity, _, err = engine.GetAccountLiquidity(account)
	if err != nil {
		t.Fatalf("liquidity: %v", err)
	}
	if liquidity.Cmp(units(75)) != 0 {
		t.Fatalf("expected core credit through fallback, got %s", liquidity)
	}
}
