package risk

import (
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"crosslend/core/events"
)

func TestAccrueIndexAdvancesProportionally(t *testing.T) {
	state := RewardState{Index: new(big.Int).Set(rewardInitialIndex), Block: 10}

	next := accrueIndex(state, 20, big.NewInt(100), big.NewInt(500))
	if next.Block != 20 {
		t.Fatalf("expected block 20, got %d", next.Block)
	}
	// 100 per block over 10 blocks across 500 units = 2 per unit.
	expected := new(big.Int).Add(rewardInitialIndex, fraction(big.NewInt(1000), big.NewInt(500)))
	if next.Index.Cmp(expected) != 0 {
		t.Fatalf("unexpected index: got %s want %s", next.Index, expected)
	}
}

func TestAccrueIndexStallsWithoutSpeedOrSupply(t *testing.T) {
	state := RewardState{Index: new(big.Int).Set(rewardInitialIndex), Block: 10}

	next := accrueIndex(state, 20, big.NewInt(0), big.NewInt(500))
	if next.Index.Cmp(rewardInitialIndex) != 0 || next.Block != 20 {
		t.Fatalf("zero speed should only stamp the block, got index %s block %d", next.Index, next.Block)
	}
	next = accrueIndex(state, 20, big.NewInt(100), big.NewInt(0))
	if next.Index.Cmp(rewardInitialIndex) != 0 || next.Block != 20 {
		t.Fatalf("empty market should only stamp the block, got index %s block %d", next.Index, next.Block)
	}
	// A stale height never rolls the state back.
	next = accrueIndex(RewardState{Index: rewardInitialIndex, Block: 30}, 20, big.NewInt(100), big.NewInt(500))
	if next.Block != 30 || next.Index.Cmp(rewardInitialIndex) != 0 {
		t.Fatalf("stale height must not change state, got index %s block %d", next.Index, next.Block)
	}
}

func TestSupplierRewardAccrual(t *testing.T) {
	engine, oracle, _ := newTestEngine(t)
	block := uint64(0)
	engine.SetBlockNumberFunc(func() uint64 { return block })
	market := makeAddress(0x01)
	acct := listTestMarket(t, engine, oracle, market)
	supplier := makeAddress(0x02)

	acct.setBalance(supplier, big.NewInt(100))
	speeds := []*big.Int{big.NewInt(100)}
	if err := engine.SetRewardSpeeds(testAdmin, []common.Address{market}, speeds, []*big.Int{big.NewInt(0)}); err != nil {
		t.Fatalf("set speeds: %v", err)
	}

	block = 10
	if err := engine.MintAllowed(market, supplier, units(1)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	pos, err := engine.Position(supplier)
	if err != nil {
		t.Fatalf("position: %v", err)
	}
	// Sole supplier earns the full emission: 100 per block over 10 blocks.
	if pos.Accrued.Cmp(big.NewInt(1000)) != 0 {
		t.Fatalf("expected 1000 accrued, got %s", pos.Accrued)
	}

	// A second touch at the same height accrues nothing further.
	if err := engine.MintAllowed(market, supplier, units(1)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	pos, err = engine.Position(supplier)
	if err != nil {
		t.Fatalf("position: %v", err)
	}
	if pos.Accrued.Cmp(big.NewInt(1000)) != 0 {
		t.Fatalf("expected accrual unchanged at same height, got %s", pos.Accrued)
	}
}

func TestSetRewardSpeedsValidation(t *testing.T) {
	engine, oracle, _ := newTestEngine(t)
	market := makeAddress(0x01)
	listTestMarket(t, engine, oracle, market)

	err := engine.SetRewardSpeeds(testAdmin, []common.Address{market}, []*big.Int{big.NewInt(1)}, nil)
	if !errors.Is(err, ErrArrayLengthMismatch) {
		t.Fatalf("expected ErrArrayLengthMismatch, got %v", err)
	}
	err = engine.SetRewardSpeeds(testAdmin, []common.Address{market}, []*big.Int{big.NewInt(0)}, []*big.Int{big.NewInt(0)})
	if !errors.Is(err, ErrNoOpUpdate) {
		t.Fatalf("expected ErrNoOpUpdate, got %v", err)
	}
	err = engine.SetRewardSpeeds(testAdmin, []common.Address{market}, []*big.Int{big.NewInt(-1)}, []*big.Int{big.NewInt(0)})
	if !errors.Is(err, ErrInvalidParameter) {
		t.Fatalf("expected ErrInvalidParameter, got %v", err)
	}
}

func TestClaimRewards(t *testing.T) {
	engine, oracle, emitter := newTestEngine(t)
	block := uint64(0)
	engine.SetBlockNumberFunc(func() uint64 { return block })
	treasury := newMockTreasury()
	engine.SetRewardTreasury(treasury)
	market := makeAddress(0x01)
	acct := listTestMarket(t, engine, oracle, market)
	supplier := makeAddress(0x02)

	acct.setBalance(supplier, big.NewInt(100))
	if err := engine.EnterMarkets(supplier, []common.Address{market}); err != nil {
		t.Fatalf("enter: %v", err)
	}
	if err := engine.SetRewardSpeeds(testAdmin, []common.Address{market}, []*big.Int{big.NewInt(100)}, []*big.Int{big.NewInt(0)}); err != nil {
		t.Fatalf("set speeds: %v", err)
	}
	block = 10

	claimed, err := engine.ClaimRewards(supplier, nil)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if claimed.Cmp(big.NewInt(1000)) != 0 {
		t.Fatalf("expected 1000 claimed, got %s", claimed)
	}
	if paid := treasury.transfers[supplier]; paid == nil || paid.Cmp(big.NewInt(1000)) != 0 {
		t.Fatalf("expected treasury transfer of 1000, got %s", paid)
	}
	pos, err := engine.Position(supplier)
	if err != nil {
		t.Fatalf("position: %v", err)
	}
	if pos.Accrued.Sign() != 0 {
		t.Fatalf("expected accrued reset after claim, got %s", pos.Accrued)
	}
	if got := len(emitter.typed(events.TypeRewardsClaimed)); got != 1 {
		t.Fatalf("expected 1 claim event, got %d", got)
	}

	// Nothing accrued since the claim; a repeat claim stays a no-op.
	claimed, err = engine.ClaimRewards(supplier, nil)
	if err != nil {
		t.Fatalf("repeat claim: %v", err)
	}
	if claimed.Sign() != 0 {
		t.Fatalf("expected zero claim, got %s", claimed)
	}
}

func TestClaimRewardsTreasuryFailure(t *testing.T) {
	engine, oracle, _ := newTestEngine(t)
	block := uint64(0)
	engine.SetBlockNumberFunc(func() uint64 { return block })
	treasury := newMockTreasury()
	treasury.err = errors.New("float exhausted")
	engine.SetRewardTreasury(treasury)
	market := makeAddress(0x01)
	acct := listTestMarket(t, engine, oracle, market)
	supplier := makeAddress(0x02)

	acct.setBalance(supplier, big.NewInt(100))
	if err := engine.EnterMarkets(supplier, []common.Address{market}); err != nil {
		t.Fatalf("enter: %v", err)
	}
	if err := engine.SetRewardSpeeds(testAdmin, []common.Address{market}, []*big.Int{big.NewInt(100)}, []*big.Int{big.NewInt(0)}); err != nil {
		t.Fatalf("set speeds: %v", err)
	}
	block = 10

	_, err := engine.ClaimRewards(supplier, nil)
	if !errors.Is(err, ErrInsufficientRewardFloat) {
		t.Fatalf("expected ErrInsufficientRewardFloat, got %v", err)
	}
	// The failed transfer must not burn the accrued balance.
	pos, posErr := engine.Position(supplier)
	if posErr != nil {
		t.Fatalf("position: %v", posErr)
	}
	if pos.Accrued.Cmp(big.NewInt(1000)) != 0 {
		t.Fatalf("expected accrued preserved on failure, got %s", pos.Accrued)
	}
}

func TestBorrowerRewardAccrual(t *testing.T) {
	engine, oracle, _ := newTestEngine(t)
	block := uint64(0)
	engine.SetBlockNumberFunc(func() uint64 { return block })
	market := makeAddress(0x01)
	acct := listTestMarket(t, engine, oracle, market)
	borrower := makeAddress(0x02)

	acct.setBorrow(borrower, big.NewInt(200))
	if err := engine.SetRewardSpeeds(testAdmin, []common.Address{market}, []*big.Int{big.NewInt(0)}, []*big.Int{big.NewInt(50)}); err != nil {
		t.Fatalf("set speeds: %v", err)
	}

	block = 4
	if err := engine.RepayBorrowAllowed(market, borrower, borrower); err != nil {
		t.Fatalf("repay: %v", err)
	}
	pos, err := engine.Position(borrower)
	if err != nil {
		t.Fatalf("position: %v", err)
	}
	// Sole borrower earns the full emission: 50 per block over 4 blocks.
	if pos.Accrued.Cmp(big.NewInt(200)) != 0 {
		t.Fatalf("expected 200 accrued, got %s", pos.Accrued)
	}
}
